package events

import (
	"path/filepath"
	"testing"

	"github.com/olenive/petrivelte/config"
	"github.com/olenive/petrivelte/reconcile"
	"github.com/olenive/petrivelte/store"
)

func testDB(t *testing.T) *store.DB {
	t.Helper()
	db, err := store.Open(&config.DatabaseConfig{
		Driver: "sqlite",
		SQLite: config.SQLiteConfig{Path: filepath.Join(t.TempDir(), "test.db")},
	})
	if err != nil {
		t.Fatalf("open test db: %v", err)
	}
	t.Cleanup(func() { db.Close() })
	return db
}

func TestCommitAppliesStateAndStagesEvents(t *testing.T) {
	db := testDB(t)
	pub := NewPublisher(db, "events")

	w := &store.Worker{Name: "w", Status: store.WorkerReady, Owner: "alice"}
	db.CreateWorker(w)
	n := &store.Net{Name: "n", WorkerID: &w.ID, LoadState: store.NetLoaded, Owner: "alice"}
	db.CreateNet(n)

	updates, err := reconcile.Apply(db, reconcile.SetWorkerStatus{
		WorkerID: w.ID, Status: store.WorkerError, Detail: store.DetailUnreachable,
	})
	if err != nil {
		t.Fatalf("reconcile: %v", err)
	}

	batch, err := pub.Commit(updates)
	if err != nil {
		t.Fatalf("commit: %v", err)
	}

	// State applied.
	gotW, _ := db.GetWorker(w.ID)
	if gotW.Status != store.WorkerError {
		t.Errorf("worker status = %q, want error", gotW.Status)
	}
	gotN, _ := db.GetNet(n.ID)
	if gotN.LoadState != store.NetUnloaded {
		t.Errorf("net load state = %q, want unloaded", gotN.LoadState)
	}

	// One event per changed entity, worker first.
	if len(batch) != 2 {
		t.Fatalf("batch = %d events, want 2", len(batch))
	}
	if batch[0].Type != TypeWorkerStateChanged || batch[0].StatusDetail != store.DetailUnreachable {
		t.Errorf("first event = %#v", batch[0])
	}
	if batch[1].Type != TypeNetStateChanged || batch[1].NetID != n.ID || batch[1].LoadState != store.NetUnloaded {
		t.Errorf("second event = %#v", batch[1])
	}
	for i, evt := range batch {
		if evt.Owner != "alice" {
			t.Errorf("event %d owner = %q, want alice", i, evt.Owner)
		}
	}

	// Events visible to the drainer only as committed outbox rows.
	pending, _ := db.ListPendingEvents(10)
	if len(pending) != 2 {
		t.Fatalf("outbox rows = %d, want 2", len(pending))
	}
}

func TestCommitCoalescesNetEvents(t *testing.T) {
	db := testDB(t)
	pub := NewPublisher(db, "events")

	w := &store.Worker{Name: "w", Status: store.WorkerReady, Owner: "alice"}
	db.CreateWorker(w)
	n := &store.Net{Name: "n", WorkerID: &w.ID, LoadState: store.NetLoaded, Owner: "alice"}
	db.CreateNet(n)

	updates, err := reconcile.Apply(db, reconcile.DeleteWorker{WorkerID: w.ID})
	if err != nil {
		t.Fatalf("reconcile: %v", err)
	}

	batch, err := pub.Commit(updates)
	if err != nil {
		t.Fatalf("commit: %v", err)
	}

	// Unassign + unload of the same net coalesce into one net event,
	// followed by the worker deletion.
	if len(batch) != 2 {
		t.Fatalf("batch = %d events, want 2: %#v", len(batch), batch)
	}
	if batch[0].Type != TypeNetStateChanged || batch[0].LoadState != store.NetUnloaded {
		t.Errorf("first event = %#v", batch[0])
	}
	if batch[1].Type != TypeWorkerDeleted || batch[1].WorkerID != w.ID {
		t.Errorf("second event = %#v", batch[1])
	}

	if _, err := db.GetWorker(w.ID); err == nil {
		t.Error("worker row should be gone")
	}
	gotN, err := db.GetNet(n.ID)
	if err != nil {
		t.Fatalf("net should survive: %v", err)
	}
	if gotN.WorkerID != nil {
		t.Errorf("net still assigned to %s", *gotN.WorkerID)
	}
}

func TestCommitAbortLeavesNothing(t *testing.T) {
	db := testDB(t)
	pub := NewPublisher(db, "events")

	w := &store.Worker{Name: "w", Status: store.WorkerReady, Owner: "alice"}
	db.CreateWorker(w)

	// A cascade referencing a missing entity must abort atomically.
	updates := []reconcile.Update{
		reconcile.WorkerStatusUpdate{WorkerID: w.ID, Status: store.WorkerError, Detail: store.DetailUnreachable},
		reconcile.NetLoadStateUpdate{NetID: "no-such-net", LoadState: store.NetUnloaded},
	}

	if _, err := pub.Commit(updates); err == nil {
		t.Fatal("expected commit failure")
	}

	gotW, _ := db.GetWorker(w.ID)
	if gotW.Status != store.WorkerReady {
		t.Errorf("worker status = %q, want ready after rollback", gotW.Status)
	}
	pending, _ := db.ListPendingEvents(10)
	if len(pending) != 0 {
		t.Errorf("outbox rows = %d, want 0 after rollback", len(pending))
	}
}

func TestCommitEmptyCascade(t *testing.T) {
	db := testDB(t)
	pub := NewPublisher(db, "events")

	called := false
	pub.OnCommit(func([]Event) { called = true })

	batch, err := pub.Commit(nil)
	if err != nil {
		t.Fatalf("commit: %v", err)
	}
	if batch != nil {
		t.Errorf("batch = %#v, want nil", batch)
	}
	if called {
		t.Error("onCommit must not fire for an empty cascade")
	}
}

func TestOnCommitHook(t *testing.T) {
	db := testDB(t)
	pub := NewPublisher(db, "events")

	w := &store.Worker{Name: "w", Status: store.WorkerPending, Owner: "alice"}
	db.CreateWorker(w)

	var got []Event
	pub.OnCommit(func(batch []Event) { got = batch })

	updates, _ := reconcile.Apply(db, reconcile.SetWorkerStatus{WorkerID: w.ID, Status: store.WorkerProvisioning})
	if _, err := pub.Commit(updates); err != nil {
		t.Fatalf("commit: %v", err)
	}
	if len(got) != 1 || got[0].Status != store.WorkerProvisioning {
		t.Errorf("hook batch = %#v", got)
	}
}
