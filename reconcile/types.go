package reconcile

import (
	"errors"
	"fmt"

	"github.com/olenive/petrivelte/store"
)

// Snapshot is the read-only view of the state store the rules evaluate
// against. *store.DB satisfies it; tests use an in-memory fake.
type Snapshot interface {
	GetWorker(id string) (*store.Worker, error)
	GetNet(id string) (*store.Net, error)
	ListNetsByWorker(workerID string) ([]*store.Net, error)
}

// Intent is a requested state transition. Every code path that changes a
// worker's status or a net's assignment expresses the change as an Intent
// and routes it through Apply, so cascading updates can never be forgotten.
type Intent interface {
	intent()
}

type SetWorkerStatus struct {
	WorkerID string
	Status   string
	Detail   string
}

type AssignNet struct {
	NetID string
	// WorkerID is the target worker, or nil to unassign.
	WorkerID *string
}

type DeleteWorker struct {
	WorkerID string
}

type SetNetLoadState struct {
	NetID     string
	LoadState string
}

type DeleteNet struct {
	NetID string
}

func (SetWorkerStatus) intent()  {}
func (AssignNet) intent()        {}
func (DeleteWorker) intent()     {}
func (SetNetLoadState) intent()  {}
func (DeleteNet) intent()        {}

// Update is one atomic field update in a cascade. The caller applies the
// whole list inside a single storage transaction.
type Update interface {
	update()
}

type WorkerStatusUpdate struct {
	WorkerID string
	Status   string
	Detail   string
}

type NetLoadStateUpdate struct {
	NetID     string
	LoadState string
}

type NetAssignUpdate struct {
	NetID    string
	WorkerID *string
}

type WorkerDeleteUpdate struct {
	WorkerID string
}

type NetDeleteUpdate struct {
	NetID string
}

func (WorkerStatusUpdate) update()  {}
func (NetLoadStateUpdate) update()  {}
func (NetAssignUpdate) update()     {}
func (WorkerDeleteUpdate) update()  {}
func (NetDeleteUpdate) update()     {}

// InvalidTransitionError rejects a transition not present in the worker or
// net state tables. No state changes and no events result.
type InvalidTransitionError struct {
	Entity string
	ID     string
	From   string
	To     string
	Reason string
}

func (e *InvalidTransitionError) Error() string {
	if e.Reason != "" {
		return fmt.Sprintf("invalid %s transition %s -> %s for %s: %s", e.Entity, e.From, e.To, e.ID, e.Reason)
	}
	return fmt.Sprintf("invalid %s transition %s -> %s for %s", e.Entity, e.From, e.To, e.ID)
}

// IsInvalidTransition reports whether err is an InvalidTransitionError.
func IsInvalidTransition(err error) bool {
	var it *InvalidTransitionError
	return errors.As(err, &it)
}
