package events

import (
	"fmt"

	"github.com/olenive/petrivelte/reconcile"
	"github.com/olenive/petrivelte/store"
)

// Publisher applies a reconciliation cascade to the store and stages one
// event per changed entity in the same transaction. Events become visible to
// the drainer (and so to observers) only after that transaction commits; an
// aborted transaction leaves no partial cascade and no events.
type Publisher struct {
	db       *store.DB
	topic    string
	onCommit func(batch []Event)
}

func NewPublisher(db *store.DB, topic string) *Publisher {
	return &Publisher{db: db, topic: topic}
}

// OnCommit registers a hook invoked after each successful commit with the
// staged batch. Used to nudge the outbox drainer and refresh the live cache.
func (p *Publisher) OnCommit(fn func(batch []Event)) {
	p.onCommit = fn
}

// Commit applies every update inside one transaction and returns the staged
// events. A cascade touching N entities yields one event per entity.
func (p *Publisher) Commit(updates []reconcile.Update) ([]Event, error) {
	if len(updates) == 0 {
		return nil, nil
	}

	batch, err := p.stageEvents(updates)
	if err != nil {
		return nil, err
	}

	err = p.db.WithTx(func(tx *store.Tx) error {
		for _, u := range updates {
			if err := applyUpdate(tx, u); err != nil {
				return err
			}
		}
		for _, evt := range batch {
			payload, err := evt.Encode()
			if err != nil {
				return fmt.Errorf("encode event: %w", err)
			}
			if err := tx.EnqueueEvent(p.topic, payload, evt.Type, evt.Owner); err != nil {
				return fmt.Errorf("stage event: %w", err)
			}
		}
		return nil
	})
	if err != nil {
		return nil, err
	}

	if p.onCommit != nil {
		p.onCommit(batch)
	}
	return batch, nil
}

func applyUpdate(tx *store.Tx, u reconcile.Update) error {
	switch up := u.(type) {
	case reconcile.WorkerStatusUpdate:
		return tx.SetWorkerStatus(up.WorkerID, up.Status, up.Detail)
	case reconcile.NetLoadStateUpdate:
		return tx.SetNetLoadState(up.NetID, up.LoadState)
	case reconcile.NetAssignUpdate:
		return tx.SetNetWorker(up.NetID, up.WorkerID)
	case reconcile.WorkerDeleteUpdate:
		return tx.DeleteWorker(up.WorkerID)
	case reconcile.NetDeleteUpdate:
		return tx.DeleteNet(up.NetID)
	default:
		return fmt.Errorf("unknown update type %T", u)
	}
}

// stageEvents derives the event batch from a cascade. Multiple updates to
// the same net (unassign + unload) coalesce into a single net event; the
// batch preserves cascade order otherwise.
func (p *Publisher) stageEvents(updates []reconcile.Update) ([]Event, error) {
	owners := map[string]string{}
	workerOwner := func(id string) (string, error) {
		if o, ok := owners["w:"+id]; ok {
			return o, nil
		}
		w, err := p.db.GetWorker(id)
		if err != nil {
			return "", fmt.Errorf("stage events: worker %s: %w", id, err)
		}
		owners["w:"+id] = w.Owner
		return w.Owner, nil
	}
	netOwner := func(id string) (string, error) {
		if o, ok := owners["n:"+id]; ok {
			return o, nil
		}
		n, err := p.db.GetNet(id)
		if err != nil {
			return "", fmt.Errorf("stage events: net %s: %w", id, err)
		}
		owners["n:"+id] = n.Owner
		return n.Owner, nil
	}

	var batch []Event
	netEvent := map[string]int{} // net id -> index into batch

	stageNet := func(netID string) (*Event, error) {
		if i, ok := netEvent[netID]; ok {
			return &batch[i], nil
		}
		owner, err := netOwner(netID)
		if err != nil {
			return nil, err
		}
		batch = append(batch, Event{Type: TypeNetStateChanged, NetID: netID, LoadState: store.NetUnloaded, Owner: owner})
		netEvent[netID] = len(batch) - 1
		return &batch[len(batch)-1], nil
	}

	for _, u := range updates {
		switch up := u.(type) {
		case reconcile.WorkerStatusUpdate:
			owner, err := workerOwner(up.WorkerID)
			if err != nil {
				return nil, err
			}
			batch = append(batch, Event{
				Type:         TypeWorkerStateChanged,
				WorkerID:     up.WorkerID,
				Status:       up.Status,
				StatusDetail: up.Detail,
				Owner:        owner,
			})
		case reconcile.WorkerDeleteUpdate:
			owner, err := workerOwner(up.WorkerID)
			if err != nil {
				return nil, err
			}
			batch = append(batch, Event{Type: TypeWorkerDeleted, WorkerID: up.WorkerID, Owner: owner})
		case reconcile.NetLoadStateUpdate:
			evt, err := stageNet(up.NetID)
			if err != nil {
				return nil, err
			}
			evt.LoadState = up.LoadState
		case reconcile.NetAssignUpdate:
			if _, err := stageNet(up.NetID); err != nil {
				return nil, err
			}
		case reconcile.NetDeleteUpdate:
			owner, err := netOwner(up.NetID)
			if err != nil {
				return nil, err
			}
			batch = append(batch, Event{Type: TypeNetDeleted, NetID: up.NetID, Owner: owner})
		}
	}
	return batch, nil
}
