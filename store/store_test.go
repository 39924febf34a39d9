package store

import (
	"path/filepath"
	"testing"

	"github.com/olenive/petrivelte/config"
)

// testDB creates a temporary SQLite database for testing.
func testDB(t *testing.T) *DB {
	t.Helper()
	dbPath := filepath.Join(t.TempDir(), "test.db")

	db, err := Open(&config.DatabaseConfig{
		Driver: "sqlite",
		SQLite: config.SQLiteConfig{Path: dbPath},
	})
	if err != nil {
		t.Fatalf("open test db: %v", err)
	}
	t.Cleanup(func() { db.Close() })
	return db
}

// --- Worker tests ---

func TestWorkerCRUD(t *testing.T) {
	db := testDB(t)

	w := &Worker{Name: "crunch-1", Category: CategoryPersistent, Owner: "alice"}
	if err := db.CreateWorker(w); err != nil {
		t.Fatalf("create: %v", err)
	}
	if w.ID == "" {
		t.Fatal("ID should be assigned")
	}
	if w.Status != WorkerPending {
		t.Errorf("Status = %q, want %q", w.Status, WorkerPending)
	}

	got, err := db.GetWorker(w.ID)
	if err != nil {
		t.Fatalf("get: %v", err)
	}
	if got.Name != "crunch-1" {
		t.Errorf("Name = %q, want %q", got.Name, "crunch-1")
	}
	if got.Category != CategoryPersistent {
		t.Errorf("Category = %q, want %q", got.Category, CategoryPersistent)
	}
	if got.Owner != "alice" {
		t.Errorf("Owner = %q, want %q", got.Owner, "alice")
	}
	if got.CreatedAt.IsZero() {
		t.Error("CreatedAt should be set")
	}
}

func TestWorkerDefaults(t *testing.T) {
	db := testDB(t)

	w := &Worker{Name: "bare", Owner: "alice"}
	if err := db.CreateWorker(w); err != nil {
		t.Fatalf("create: %v", err)
	}
	if w.Category != CategoryEphemeral {
		t.Errorf("Category = %q, want %q", w.Category, CategoryEphemeral)
	}
	if w.Status != WorkerPending {
		t.Errorf("Status = %q, want %q", w.Status, WorkerPending)
	}
}

func TestListWorkersByOwner(t *testing.T) {
	db := testDB(t)

	for _, tc := range []struct{ name, owner string }{
		{"a1", "alice"}, {"a2", "alice"}, {"b1", "bob"},
	} {
		if err := db.CreateWorker(&Worker{Name: tc.name, Owner: tc.owner}); err != nil {
			t.Fatalf("create %s: %v", tc.name, err)
		}
	}

	alice, err := db.ListWorkers("alice")
	if err != nil {
		t.Fatalf("list alice: %v", err)
	}
	if len(alice) != 2 {
		t.Errorf("alice has %d workers, want 2", len(alice))
	}

	all, err := db.ListWorkers("")
	if err != nil {
		t.Fatalf("list all: %v", err)
	}
	if len(all) != 3 {
		t.Errorf("all = %d workers, want 3", len(all))
	}
}

func TestListWorkersByStatus(t *testing.T) {
	db := testDB(t)

	ready := &Worker{Name: "r1", Status: WorkerReady, Owner: "alice"}
	pending := &Worker{Name: "p1", Owner: "alice"}
	db.CreateWorker(ready)
	db.CreateWorker(pending)

	got, err := db.ListWorkersByStatus(WorkerReady)
	if err != nil {
		t.Fatalf("list: %v", err)
	}
	if len(got) != 1 || got[0].ID != ready.ID {
		t.Errorf("want exactly the ready worker, got %d rows", len(got))
	}
}

func TestSetWorkerStatusTx(t *testing.T) {
	db := testDB(t)

	w := &Worker{Name: "w", Owner: "alice"}
	db.CreateWorker(w)

	err := db.WithTx(func(tx *Tx) error {
		return tx.SetWorkerStatus(w.ID, WorkerError, DetailUnreachable)
	})
	if err != nil {
		t.Fatalf("set status: %v", err)
	}

	got, _ := db.GetWorker(w.ID)
	if got.Status != WorkerError {
		t.Errorf("Status = %q, want %q", got.Status, WorkerError)
	}
	if got.StatusDetail != DetailUnreachable {
		t.Errorf("StatusDetail = %q, want %q", got.StatusDetail, DetailUnreachable)
	}
}

func TestSetWorkerStatusMissingWorkerAbortsTx(t *testing.T) {
	db := testDB(t)

	w := &Worker{Name: "w", Owner: "alice"}
	db.CreateWorker(w)

	err := db.WithTx(func(tx *Tx) error {
		if err := tx.SetWorkerStatus(w.ID, WorkerError, ""); err != nil {
			return err
		}
		return tx.SetWorkerStatus("no-such-id", WorkerError, "")
	})
	if err == nil {
		t.Fatal("expected error for missing worker")
	}

	// The first update must have rolled back with the second.
	got, _ := db.GetWorker(w.ID)
	if got.Status != WorkerPending {
		t.Errorf("Status = %q, want %q after rollback", got.Status, WorkerPending)
	}
}

// --- Net tests ---

func TestNetCRUD(t *testing.T) {
	db := testDB(t)

	n := &Net{Name: "pipeline", Definition: `{"places":[]}`, Owner: "alice"}
	if err := db.CreateNet(n); err != nil {
		t.Fatalf("create: %v", err)
	}
	if n.ID == "" {
		t.Fatal("ID should be assigned")
	}
	if n.LoadState != NetUnloaded {
		t.Errorf("LoadState = %q, want %q", n.LoadState, NetUnloaded)
	}

	got, err := db.GetNet(n.ID)
	if err != nil {
		t.Fatalf("get: %v", err)
	}
	if got.Name != "pipeline" {
		t.Errorf("Name = %q, want %q", got.Name, "pipeline")
	}
	if got.Definition != `{"places":[]}` {
		t.Errorf("Definition = %q", got.Definition)
	}
	if got.WorkerID != nil {
		t.Errorf("WorkerID = %v, want nil", *got.WorkerID)
	}
}

func TestNetAssignment(t *testing.T) {
	db := testDB(t)

	w := &Worker{Name: "w", Owner: "alice"}
	db.CreateWorker(w)
	n := &Net{Name: "n", Owner: "alice"}
	db.CreateNet(n)

	err := db.WithTx(func(tx *Tx) error {
		return tx.SetNetWorker(n.ID, &w.ID)
	})
	if err != nil {
		t.Fatalf("assign: %v", err)
	}

	got, _ := db.GetNet(n.ID)
	if got.WorkerID == nil || *got.WorkerID != w.ID {
		t.Fatalf("WorkerID = %v, want %s", got.WorkerID, w.ID)
	}

	byWorker, err := db.ListNetsByWorker(w.ID)
	if err != nil {
		t.Fatalf("list by worker: %v", err)
	}
	if len(byWorker) != 1 || byWorker[0].ID != n.ID {
		t.Errorf("ListNetsByWorker = %d rows", len(byWorker))
	}

	// Unassign
	err = db.WithTx(func(tx *Tx) error {
		return tx.SetNetWorker(n.ID, nil)
	})
	if err != nil {
		t.Fatalf("unassign: %v", err)
	}
	got, _ = db.GetNet(n.ID)
	if got.WorkerID != nil {
		t.Errorf("WorkerID = %v, want nil", *got.WorkerID)
	}
}

func TestDeleteNetTx(t *testing.T) {
	db := testDB(t)

	n := &Net{Name: "n", Owner: "alice"}
	db.CreateNet(n)

	err := db.WithTx(func(tx *Tx) error {
		return tx.DeleteNet(n.ID)
	})
	if err != nil {
		t.Fatalf("delete: %v", err)
	}
	if _, err := db.GetNet(n.ID); err == nil {
		t.Error("net should be gone")
	}

	err = db.WithTx(func(tx *Tx) error {
		return tx.DeleteNet(n.ID)
	})
	if err == nil {
		t.Error("deleting a missing net should fail")
	}
}

// --- Outbox tests ---

func TestOutboxLifecycle(t *testing.T) {
	db := testDB(t)

	err := db.WithTx(func(tx *Tx) error {
		if err := tx.EnqueueEvent("events", []byte(`{"a":1}`), "worker_state_changed", "alice"); err != nil {
			return err
		}
		return tx.EnqueueEvent("events", []byte(`{"b":2}`), "net_state_changed", "alice")
	})
	if err != nil {
		t.Fatalf("enqueue: %v", err)
	}

	pending, err := db.ListPendingEvents(10)
	if err != nil {
		t.Fatalf("list pending: %v", err)
	}
	if len(pending) != 2 {
		t.Fatalf("pending = %d, want 2", len(pending))
	}
	if string(pending[0].Payload) != `{"a":1}` {
		t.Errorf("first payload = %s, want commit order preserved", pending[0].Payload)
	}

	if err := db.AckEvent(pending[0].ID); err != nil {
		t.Fatalf("ack: %v", err)
	}
	pending, _ = db.ListPendingEvents(10)
	if len(pending) != 1 {
		t.Fatalf("pending after ack = %d, want 1", len(pending))
	}

	if err := db.IncrementEventRetries(pending[0].ID); err != nil {
		t.Fatalf("retry: %v", err)
	}
	pending, _ = db.ListPendingEvents(10)
	if pending[0].Retries != 1 {
		t.Errorf("Retries = %d, want 1", pending[0].Retries)
	}
}

func TestOutboxRollsBackWithState(t *testing.T) {
	db := testDB(t)

	w := &Worker{Name: "w", Owner: "alice"}
	db.CreateWorker(w)

	err := db.WithTx(func(tx *Tx) error {
		if err := tx.EnqueueEvent("events", []byte(`{}`), "worker_state_changed", "alice"); err != nil {
			return err
		}
		return tx.SetWorkerStatus("missing", WorkerError, "")
	})
	if err == nil {
		t.Fatal("expected tx failure")
	}

	pending, _ := db.ListPendingEvents(10)
	if len(pending) != 0 {
		t.Errorf("pending = %d, want 0 after rollback", len(pending))
	}
}

// --- User tests ---

func TestUsers(t *testing.T) {
	db := testDB(t)

	exists, err := db.UserExists()
	if err != nil {
		t.Fatalf("exists: %v", err)
	}
	if exists {
		t.Fatal("fresh db should have no users")
	}

	if err := db.CreateUser("alice", "hash"); err != nil {
		t.Fatalf("create: %v", err)
	}
	u, err := db.GetUser("alice")
	if err != nil {
		t.Fatalf("get: %v", err)
	}
	if u.PasswordHash != "hash" {
		t.Errorf("PasswordHash = %q", u.PasswordHash)
	}

	exists, _ = db.UserExists()
	if !exists {
		t.Error("UserExists should be true")
	}
}
