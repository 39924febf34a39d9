package reconcile

import (
	"fmt"

	"github.com/olenive/petrivelte/store"
)

// workerTransitions is the legal target set per current status. Requests for
// the current status itself are handled as no-ops before this table applies.
var workerTransitions = map[string][]string{
	store.WorkerPending:      {store.WorkerProvisioning, store.WorkerError},
	store.WorkerProvisioning: {store.WorkerReady, store.WorkerError},
	store.WorkerReady:        {store.WorkerStopped, store.WorkerError},
	store.WorkerStopped:      {store.WorkerProvisioning, store.WorkerReady, store.WorkerError},
	store.WorkerError:        {store.WorkerPending, store.WorkerProvisioning, store.WorkerReady},
}

// Apply computes the full cascade of atomic updates required to satisfy the
// given intent while keeping every invariant true. It is a pure function of
// the snapshot and the intent; it performs no writes.
func Apply(snap Snapshot, intent Intent) ([]Update, error) {
	switch it := intent.(type) {
	case SetWorkerStatus:
		return applyWorkerStatus(snap, it)
	case AssignNet:
		return applyAssignNet(snap, it)
	case DeleteWorker:
		return applyDeleteWorker(snap, it)
	case SetNetLoadState:
		return applyNetLoadState(snap, it)
	case DeleteNet:
		return applyDeleteNet(snap, it)
	default:
		return nil, fmt.Errorf("reconcile: unknown intent type %T", intent)
	}
}

func applyWorkerStatus(snap Snapshot, it SetWorkerStatus) ([]Update, error) {
	w, err := snap.GetWorker(it.WorkerID)
	if err != nil {
		return nil, fmt.Errorf("reconcile: worker %s: %w", it.WorkerID, err)
	}
	if !store.ValidWorkerStatus(it.Status) {
		return nil, &InvalidTransitionError{Entity: "worker", ID: w.ID, From: w.Status, To: it.Status, Reason: "unknown status"}
	}

	if w.Status == it.Status {
		if w.StatusDetail == it.Detail {
			// No-op requests (e.g. ready -> ready) are accepted, not rejected.
			return nil, nil
		}
		// Same status, changed detail: a re-diagnosis, e.g. unreachable -> machine_destroyed.
		return []Update{WorkerStatusUpdate{WorkerID: w.ID, Status: it.Status, Detail: it.Detail}}, nil
	}

	if !contains(workerTransitions[w.Status], it.Status) {
		return nil, &InvalidTransitionError{Entity: "worker", ID: w.ID, From: w.Status, To: it.Status}
	}
	if it.Status == store.WorkerStopped && w.Category != store.CategoryPersistent {
		return nil, &InvalidTransitionError{
			Entity: "worker", ID: w.ID, From: w.Status, To: it.Status,
			Reason: "only persistent workers can be stopped",
		}
	}

	updates := []Update{WorkerStatusUpdate{WorkerID: w.ID, Status: it.Status, Detail: it.Detail}}

	// Leaving ready: every assigned net must end up unloaded. Nets already
	// unloaded are left alone so they produce no event.
	if w.Status == store.WorkerReady && it.Status != store.WorkerReady {
		nets, err := snap.ListNetsByWorker(w.ID)
		if err != nil {
			return nil, fmt.Errorf("reconcile: nets of worker %s: %w", w.ID, err)
		}
		for _, n := range nets {
			if n.LoadState != store.NetUnloaded {
				updates = append(updates, NetLoadStateUpdate{NetID: n.ID, LoadState: store.NetUnloaded})
			}
		}
	}
	return updates, nil
}

func applyAssignNet(snap Snapshot, it AssignNet) ([]Update, error) {
	n, err := snap.GetNet(it.NetID)
	if err != nil {
		return nil, fmt.Errorf("reconcile: net %s: %w", it.NetID, err)
	}
	if it.WorkerID != nil {
		if _, err := snap.GetWorker(*it.WorkerID); err != nil {
			return nil, fmt.Errorf("reconcile: target worker %s: %w", *it.WorkerID, err)
		}
	}
	// Reassignment always forces unloaded, even when the net is already
	// unloaded, so repeated assigns are idempotent by construction.
	return []Update{
		NetAssignUpdate{NetID: n.ID, WorkerID: it.WorkerID},
		NetLoadStateUpdate{NetID: n.ID, LoadState: store.NetUnloaded},
	}, nil
}

func applyDeleteWorker(snap Snapshot, it DeleteWorker) ([]Update, error) {
	w, err := snap.GetWorker(it.WorkerID)
	if err != nil {
		return nil, fmt.Errorf("reconcile: worker %s: %w", it.WorkerID, err)
	}
	nets, err := snap.ListNetsByWorker(w.ID)
	if err != nil {
		return nil, fmt.Errorf("reconcile: nets of worker %s: %w", w.ID, err)
	}
	var updates []Update
	for _, n := range nets {
		updates = append(updates,
			NetAssignUpdate{NetID: n.ID, WorkerID: nil},
			NetLoadStateUpdate{NetID: n.ID, LoadState: store.NetUnloaded},
		)
	}
	updates = append(updates, WorkerDeleteUpdate{WorkerID: w.ID})
	return updates, nil
}

func applyNetLoadState(snap Snapshot, it SetNetLoadState) ([]Update, error) {
	n, err := snap.GetNet(it.NetID)
	if err != nil {
		return nil, fmt.Errorf("reconcile: net %s: %w", it.NetID, err)
	}
	if !store.ValidLoadState(it.LoadState) {
		return nil, &InvalidTransitionError{Entity: "net", ID: n.ID, From: n.LoadState, To: it.LoadState, Reason: "unknown load state"}
	}
	if n.LoadState == it.LoadState {
		return nil, nil
	}

	switch it.LoadState {
	case store.NetLoaded, store.NetError:
		if n.WorkerID == nil {
			return nil, &InvalidTransitionError{
				Entity: "net", ID: n.ID, From: n.LoadState, To: it.LoadState,
				Reason: "net is not assigned to a worker",
			}
		}
		if it.LoadState == store.NetLoaded {
			w, err := snap.GetWorker(*n.WorkerID)
			if err != nil {
				return nil, fmt.Errorf("reconcile: worker %s: %w", *n.WorkerID, err)
			}
			if w.Status != store.WorkerReady {
				return nil, &InvalidTransitionError{
					Entity: "net", ID: n.ID, From: n.LoadState, To: it.LoadState,
					Reason: fmt.Sprintf("worker %s is %s, not ready", w.ID, w.Status),
				}
			}
		}
	case store.NetUnloaded:
		// Always legal.
	}
	return []Update{NetLoadStateUpdate{NetID: n.ID, LoadState: it.LoadState}}, nil
}

func applyDeleteNet(snap Snapshot, it DeleteNet) ([]Update, error) {
	n, err := snap.GetNet(it.NetID)
	if err != nil {
		return nil, fmt.Errorf("reconcile: net %s: %w", it.NetID, err)
	}
	var updates []Update
	if n.WorkerID != nil {
		updates = append(updates,
			NetAssignUpdate{NetID: n.ID, WorkerID: nil},
			NetLoadStateUpdate{NetID: n.ID, LoadState: store.NetUnloaded},
		)
	}
	updates = append(updates, NetDeleteUpdate{NetID: n.ID})
	return updates, nil
}

func contains(list []string, s string) bool {
	for _, v := range list {
		if v == s {
			return true
		}
	}
	return false
}
