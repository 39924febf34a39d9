// Package livestate keeps a write-through cache of worker and net records in
// Redis so the read endpoints do not hit SQL for every poll. SQL stays
// authoritative; Redis is refreshed from committed state, never written ahead
// of it.
package livestate

import (
	"context"
	"log"

	"github.com/olenive/petrivelte/events"
	"github.com/olenive/petrivelte/store"
)

type Manager struct {
	db    *store.DB
	redis *RedisStore
}

func NewManager(db *store.DB, redis *RedisStore) *Manager {
	return &Manager{db: db, redis: redis}
}

// SyncFromSQL rebuilds the whole cache from SQL. Called on startup so a
// stale or empty Redis never serves wrong state.
func (m *Manager) SyncFromSQL() error {
	ctx := context.Background()
	m.redis.FlushAll(ctx)

	workers, err := m.db.ListWorkers("")
	if err != nil {
		return err
	}
	for _, w := range workers {
		if err := m.redis.SetWorker(ctx, w); err != nil {
			log.Printf("livestate: sync worker %s: %v", w.ID, err)
		}
	}

	nets, err := m.db.ListNets("")
	if err != nil {
		return err
	}
	for _, n := range nets {
		if err := m.redis.SetNet(ctx, n); err != nil {
			log.Printf("livestate: sync net %s: %v", n.ID, err)
		}
	}

	log.Printf("livestate: synced %d workers and %d nets to redis", len(workers), len(nets))
	return nil
}

// ApplyEvents refreshes the cache for every entity a committed batch of
// events touched. Runs after the SQL transaction commits, so re-reading SQL
// here always sees the new state.
func (m *Manager) ApplyEvents(batch []events.Event) {
	ctx := context.Background()
	for _, evt := range batch {
		switch evt.Type {
		case events.TypeWorkerDeleted:
			if err := m.redis.RemoveWorker(ctx, evt.WorkerID, evt.Owner); err != nil {
				log.Printf("livestate: remove worker %s: %v", evt.WorkerID, err)
			}
		case events.TypeNetDeleted:
			if err := m.redis.RemoveNet(ctx, evt.NetID, evt.Owner); err != nil {
				log.Printf("livestate: remove net %s: %v", evt.NetID, err)
			}
		case events.TypeWorkerStateChanged:
			m.refreshWorker(ctx, evt.WorkerID)
		case events.TypeNetStateChanged:
			m.refreshNet(ctx, evt.NetID)
		}
	}
}

// GetWorkers returns the owner's workers, Redis first with SQL fallback.
func (m *Manager) GetWorkers(owner string) ([]*store.Worker, error) {
	ctx := context.Background()

	ids, err := m.redis.WorkerIDs(ctx, owner)
	if err == nil && len(ids) > 0 {
		workers := make([]*store.Worker, 0, len(ids))
		for _, id := range ids {
			w, err := m.redis.GetWorker(ctx, id)
			if err != nil || w == nil {
				return m.db.ListWorkers(owner)
			}
			workers = append(workers, w)
		}
		return workers, nil
	}

	return m.db.ListWorkers(owner)
}

// GetNets returns the owner's nets, Redis first with SQL fallback.
func (m *Manager) GetNets(owner string) ([]*store.Net, error) {
	ctx := context.Background()

	ids, err := m.redis.NetIDs(ctx, owner)
	if err == nil && len(ids) > 0 {
		nets := make([]*store.Net, 0, len(ids))
		for _, id := range ids {
			n, err := m.redis.GetNet(ctx, id)
			if err != nil || n == nil {
				return m.db.ListNets(owner)
			}
			nets = append(nets, n)
		}
		return nets, nil
	}

	return m.db.ListNets(owner)
}

func (m *Manager) refreshWorker(ctx context.Context, workerID string) {
	w, err := m.db.GetWorker(workerID)
	if err != nil {
		log.Printf("livestate: refresh worker %s: %v", workerID, err)
		return
	}
	if err := m.redis.SetWorker(ctx, w); err != nil {
		log.Printf("livestate: cache worker %s: %v", workerID, err)
	}
}

func (m *Manager) refreshNet(ctx context.Context, netID string) {
	n, err := m.db.GetNet(netID)
	if err != nil {
		log.Printf("livestate: refresh net %s: %v", netID, err)
		return
	}
	if err := m.redis.SetNet(ctx, n); err != nil {
		log.Printf("livestate: cache net %s: %v", netID, err)
	}
}
