package reconcile

import (
	"fmt"
	"testing"

	"github.com/olenive/petrivelte/store"
)

// fakeSnapshot is an in-memory Snapshot for exercising the rules without a
// database.
type fakeSnapshot struct {
	workers map[string]*store.Worker
	nets    map[string]*store.Net
}

func newFakeSnapshot() *fakeSnapshot {
	return &fakeSnapshot{
		workers: make(map[string]*store.Worker),
		nets:    make(map[string]*store.Net),
	}
}

func (s *fakeSnapshot) GetWorker(id string) (*store.Worker, error) {
	w, ok := s.workers[id]
	if !ok {
		return nil, fmt.Errorf("worker %s not found", id)
	}
	return w, nil
}

func (s *fakeSnapshot) GetNet(id string) (*store.Net, error) {
	n, ok := s.nets[id]
	if !ok {
		return nil, fmt.Errorf("net %s not found", id)
	}
	return n, nil
}

func (s *fakeSnapshot) ListNetsByWorker(workerID string) ([]*store.Net, error) {
	var out []*store.Net
	for _, n := range s.nets {
		if n.WorkerID != nil && *n.WorkerID == workerID {
			out = append(out, n)
		}
	}
	return out, nil
}

func (s *fakeSnapshot) addWorker(id, status, category string) *store.Worker {
	w := &store.Worker{ID: id, Name: id, Status: status, Category: category, Owner: "alice"}
	s.workers[id] = w
	return w
}

func (s *fakeSnapshot) addNet(id, loadState string, workerID *string) *store.Net {
	n := &store.Net{ID: id, Name: id, LoadState: loadState, WorkerID: workerID, Owner: "alice"}
	s.nets[id] = n
	return n
}

func TestWorkerFailureUnloadsAssignedNets(t *testing.T) {
	snap := newFakeSnapshot()
	snap.addWorker("w1", store.WorkerReady, store.CategoryEphemeral)
	snap.addNet("n1", store.NetLoaded, ptr("w1"))
	snap.addNet("n2", store.NetUnloaded, ptr("w1"))

	updates, err := Apply(snap, SetWorkerStatus{WorkerID: "w1", Status: store.WorkerError, Detail: store.DetailUnreachable})
	if err != nil {
		t.Fatalf("apply: %v", err)
	}

	// One status update plus one unload for the loaded net; n2 is already
	// unloaded and must not produce an update.
	if len(updates) != 2 {
		t.Fatalf("updates = %d, want 2: %#v", len(updates), updates)
	}
	ws, ok := updates[0].(WorkerStatusUpdate)
	if !ok || ws.Status != store.WorkerError || ws.Detail != store.DetailUnreachable {
		t.Errorf("first update = %#v", updates[0])
	}
	nl, ok := updates[1].(NetLoadStateUpdate)
	if !ok || nl.NetID != "n1" || nl.LoadState != store.NetUnloaded {
		t.Errorf("second update = %#v", updates[1])
	}
}

func TestReassignForcesUnload(t *testing.T) {
	snap := newFakeSnapshot()
	snap.addWorker("w1", store.WorkerReady, store.CategoryEphemeral)
	snap.addWorker("w2", store.WorkerReady, store.CategoryEphemeral)
	snap.addNet("n1", store.NetLoaded, ptr("w1"))

	updates, err := Apply(snap, AssignNet{NetID: "n1", WorkerID: ptr("w2")})
	if err != nil {
		t.Fatalf("apply: %v", err)
	}
	if len(updates) != 2 {
		t.Fatalf("updates = %d, want 2", len(updates))
	}
	na, ok := updates[0].(NetAssignUpdate)
	if !ok || na.WorkerID == nil || *na.WorkerID != "w2" {
		t.Errorf("assign update = %#v", updates[0])
	}
	nl, ok := updates[1].(NetLoadStateUpdate)
	if !ok || nl.LoadState != store.NetUnloaded {
		t.Errorf("load state update = %#v", updates[1])
	}
}

func TestDeleteWorkerCascade(t *testing.T) {
	snap := newFakeSnapshot()
	snap.addWorker("w1", store.WorkerReady, store.CategoryEphemeral)
	snap.addNet("n1", store.NetLoaded, ptr("w1"))

	updates, err := Apply(snap, DeleteWorker{WorkerID: "w1"})
	if err != nil {
		t.Fatalf("apply: %v", err)
	}
	// Unassign + unload the net, then delete the worker.
	if len(updates) != 3 {
		t.Fatalf("updates = %d, want 3: %#v", len(updates), updates)
	}
	if na, ok := updates[0].(NetAssignUpdate); !ok || na.WorkerID != nil {
		t.Errorf("first update = %#v, want unassign", updates[0])
	}
	if nl, ok := updates[1].(NetLoadStateUpdate); !ok || nl.LoadState != store.NetUnloaded {
		t.Errorf("second update = %#v, want unload", updates[1])
	}
	if wd, ok := updates[2].(WorkerDeleteUpdate); !ok || wd.WorkerID != "w1" {
		t.Errorf("last update = %#v, want worker delete", updates[2])
	}
}

func TestDeleteNetCascade(t *testing.T) {
	snap := newFakeSnapshot()
	snap.addWorker("w1", store.WorkerReady, store.CategoryEphemeral)
	snap.addNet("n1", store.NetLoaded, ptr("w1"))
	snap.addNet("n2", store.NetUnloaded, nil)

	updates, err := Apply(snap, DeleteNet{NetID: "n1"})
	if err != nil {
		t.Fatalf("apply: %v", err)
	}
	if len(updates) != 3 {
		t.Fatalf("updates = %d, want 3: %#v", len(updates), updates)
	}
	if _, ok := updates[2].(NetDeleteUpdate); !ok {
		t.Errorf("last update = %#v, want net delete", updates[2])
	}

	// Unassigned net deletes without a cascade.
	updates, err = Apply(snap, DeleteNet{NetID: "n2"})
	if err != nil {
		t.Fatalf("apply n2: %v", err)
	}
	if len(updates) != 1 {
		t.Fatalf("updates = %d, want 1", len(updates))
	}
}

func TestSameStatusIsNoOp(t *testing.T) {
	snap := newFakeSnapshot()
	snap.addWorker("w1", store.WorkerReady, store.CategoryEphemeral)

	updates, err := Apply(snap, SetWorkerStatus{WorkerID: "w1", Status: store.WorkerReady})
	if err != nil {
		t.Fatalf("apply: %v", err)
	}
	if len(updates) != 0 {
		t.Errorf("updates = %d, want 0", len(updates))
	}
}

func TestErrorDetailChangeIsRealUpdate(t *testing.T) {
	snap := newFakeSnapshot()
	w := snap.addWorker("w1", store.WorkerError, store.CategoryEphemeral)
	w.StatusDetail = store.DetailUnreachable

	// Same detail: no-op.
	updates, err := Apply(snap, SetWorkerStatus{WorkerID: "w1", Status: store.WorkerError, Detail: store.DetailUnreachable})
	if err != nil {
		t.Fatalf("apply same detail: %v", err)
	}
	if len(updates) != 0 {
		t.Errorf("same detail: updates = %d, want 0", len(updates))
	}

	// Re-diagnosis: one real update.
	updates, err = Apply(snap, SetWorkerStatus{WorkerID: "w1", Status: store.WorkerError, Detail: store.DetailMachineDestroyed})
	if err != nil {
		t.Fatalf("apply new detail: %v", err)
	}
	if len(updates) != 1 {
		t.Fatalf("new detail: updates = %d, want 1", len(updates))
	}
	ws := updates[0].(WorkerStatusUpdate)
	if ws.Detail != store.DetailMachineDestroyed {
		t.Errorf("Detail = %q", ws.Detail)
	}
}

func TestInvalidWorkerTransitions(t *testing.T) {
	cases := []struct {
		name     string
		from     string
		to       string
		category string
	}{
		{"pending to ready skips provisioning", store.WorkerPending, store.WorkerReady, store.CategoryEphemeral},
		{"pending to stopped", store.WorkerPending, store.WorkerStopped, store.CategoryPersistent},
		{"provisioning to stopped", store.WorkerProvisioning, store.WorkerStopped, store.CategoryPersistent},
		{"stop ephemeral", store.WorkerReady, store.WorkerStopped, store.CategoryEphemeral},
		{"error to stopped", store.WorkerError, store.WorkerStopped, store.CategoryPersistent},
		{"unknown status", store.WorkerReady, "exploded", store.CategoryEphemeral},
	}
	for _, tc := range cases {
		t.Run(tc.name, func(t *testing.T) {
			snap := newFakeSnapshot()
			snap.addWorker("w1", tc.from, tc.category)

			_, err := Apply(snap, SetWorkerStatus{WorkerID: "w1", Status: tc.to})
			if !IsInvalidTransition(err) {
				t.Errorf("err = %v, want invalid transition", err)
			}
		})
	}
}

func TestStopPersistentWorker(t *testing.T) {
	snap := newFakeSnapshot()
	snap.addWorker("w1", store.WorkerReady, store.CategoryPersistent)
	snap.addNet("n1", store.NetLoaded, ptr("w1"))

	updates, err := Apply(snap, SetWorkerStatus{WorkerID: "w1", Status: store.WorkerStopped})
	if err != nil {
		t.Fatalf("apply: %v", err)
	}
	// Stop leaves ready, so the loaded net unloads too.
	if len(updates) != 2 {
		t.Fatalf("updates = %d, want 2", len(updates))
	}
}

func TestLoadRequiresReadyWorker(t *testing.T) {
	snap := newFakeSnapshot()
	snap.addWorker("w1", store.WorkerProvisioning, store.CategoryEphemeral)
	snap.addNet("n1", store.NetUnloaded, ptr("w1"))
	snap.addNet("n2", store.NetUnloaded, nil)

	_, err := Apply(snap, SetNetLoadState{NetID: "n1", LoadState: store.NetLoaded})
	if !IsInvalidTransition(err) {
		t.Errorf("load on non-ready worker: err = %v, want invalid transition", err)
	}

	_, err = Apply(snap, SetNetLoadState{NetID: "n2", LoadState: store.NetLoaded})
	if !IsInvalidTransition(err) {
		t.Errorf("load on unassigned net: err = %v, want invalid transition", err)
	}

	snap.workers["w1"].Status = store.WorkerReady
	updates, err := Apply(snap, SetNetLoadState{NetID: "n1", LoadState: store.NetLoaded})
	if err != nil {
		t.Fatalf("load on ready worker: %v", err)
	}
	if len(updates) != 1 {
		t.Fatalf("updates = %d, want 1", len(updates))
	}
}

func TestUnloadAlwaysLegal(t *testing.T) {
	snap := newFakeSnapshot()
	snap.addNet("n1", store.NetError, nil)

	updates, err := Apply(snap, SetNetLoadState{NetID: "n1", LoadState: store.NetUnloaded})
	if err != nil {
		t.Fatalf("apply: %v", err)
	}
	if len(updates) != 1 {
		t.Fatalf("updates = %d, want 1", len(updates))
	}
}

func TestAssignIdempotence(t *testing.T) {
	snap := newFakeSnapshot()
	snap.addNet("n1", store.NetUnloaded, nil)

	first, err := Apply(snap, AssignNet{NetID: "n1", WorkerID: nil})
	if err != nil {
		t.Fatalf("first apply: %v", err)
	}
	second, err := Apply(snap, AssignNet{NetID: "n1", WorkerID: nil})
	if err != nil {
		t.Fatalf("second apply: %v", err)
	}
	// Both produce the same terminal state: unassigned, unloaded.
	if len(first) != len(second) {
		t.Errorf("first = %d updates, second = %d", len(first), len(second))
	}
}

func TestAssignToMissingWorkerFails(t *testing.T) {
	snap := newFakeSnapshot()
	snap.addNet("n1", store.NetUnloaded, nil)

	_, err := Apply(snap, AssignNet{NetID: "n1", WorkerID: ptr("ghost")})
	if err == nil {
		t.Fatal("expected error for missing target worker")
	}
}

func TestErrorRecoveryTransitions(t *testing.T) {
	for _, to := range []string{store.WorkerPending, store.WorkerProvisioning, store.WorkerReady} {
		snap := newFakeSnapshot()
		snap.addWorker("w1", store.WorkerError, store.CategoryEphemeral)

		updates, err := Apply(snap, SetWorkerStatus{WorkerID: "w1", Status: to})
		if err != nil {
			t.Errorf("error -> %s: %v", to, err)
			continue
		}
		if len(updates) != 1 {
			t.Errorf("error -> %s: updates = %d, want 1", to, len(updates))
		}
	}
}

func ptr(s string) *string { return &s }
