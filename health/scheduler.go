// Package health runs the periodic reconciliation loop that keeps worker
// and net records consistent with the external machines actually backing
// them.
package health

import (
	"context"
	"log"
	"sync"
	"time"

	"github.com/jonboulle/clockwork"
	"golang.org/x/sync/errgroup"

	"github.com/olenive/petrivelte/compute"
	"github.com/olenive/petrivelte/config"
	"github.com/olenive/petrivelte/events"
	"github.com/olenive/petrivelte/reconcile"
	"github.com/olenive/petrivelte/store"
)

// Scheduler probes every ready worker on a fixed interval and feeds any
// discrepancy through the reconciliation rules and the publisher. Probes run
// concurrently under a hard parallelism cap so the loop can never fan out
// unboundedly against the provider API.
type Scheduler struct {
	db           *store.DB
	adapter      compute.Adapter
	pub          *events.Publisher
	interval     time.Duration
	probeTimeout time.Duration
	parallelism  int
	clock        clockwork.Clock

	cancel   context.CancelFunc
	stopOnce sync.Once
	stopCh   chan struct{}
	doneCh   chan struct{}
}

// NewScheduler builds a scheduler. A nil clock means the real clock; tests
// inject a fake one.
func NewScheduler(db *store.DB, adapter compute.Adapter, pub *events.Publisher, cfg config.HealthConfig, clock clockwork.Clock) *Scheduler {
	if clock == nil {
		clock = clockwork.NewRealClock()
	}
	if cfg.Parallelism <= 0 {
		cfg.Parallelism = 20
	}
	return &Scheduler{
		db:           db,
		adapter:      adapter,
		pub:          pub,
		interval:     cfg.Interval,
		probeTimeout: cfg.ProbeTimeout,
		parallelism:  cfg.Parallelism,
		clock:        clock,
		stopCh:       make(chan struct{}),
		doneCh:       make(chan struct{}),
	}
}

func (s *Scheduler) Start() {
	ctx, cancel := context.WithCancel(context.Background())
	s.cancel = cancel
	go s.run(ctx)
}

// Stop cancels the loop and waits for it to exit. In-flight probes are
// abandoned; results arriving after cancellation are discarded, leaving a
// mid-check worker as-is for the next cycle after restart.
func (s *Scheduler) Stop() {
	s.stopOnce.Do(func() {
		if s.cancel != nil {
			s.cancel()
		}
		close(s.stopCh)
		<-s.doneCh
	})
}

func (s *Scheduler) run(ctx context.Context) {
	defer close(s.doneCh)
	ticker := s.clock.NewTicker(s.interval)
	defer ticker.Stop()

	for {
		select {
		case <-s.stopCh:
			return
		case <-ticker.Chan():
			s.RunOnce(ctx)
		}
	}
}

// RunOnce checks every ready worker. Each worker's result is handled
// independently; one failure never aborts or delays the others.
func (s *Scheduler) RunOnce(ctx context.Context) {
	workers, err := s.db.ListWorkersByStatus(store.WorkerReady)
	if err != nil {
		log.Printf("health: list ready workers: %v", err)
		return
	}

	g := new(errgroup.Group)
	g.SetLimit(s.parallelism)
	for _, w := range workers {
		w := w
		g.Go(func() error {
			s.checkOne(ctx, w)
			return nil
		})
	}
	g.Wait()
}

// CheckWorker runs the same per-worker check as the periodic loop for an
// on-demand probe. It returns the refreshed worker record.
func (s *Scheduler) CheckWorker(ctx context.Context, workerID string) (*store.Worker, error) {
	w, err := s.db.GetWorker(workerID)
	if err != nil {
		return nil, err
	}
	if w.MachineID == "" {
		return w, nil
	}
	s.checkOne(ctx, w)
	return s.db.GetWorker(workerID)
}

func (s *Scheduler) checkOne(ctx context.Context, w *store.Worker) {
	probeCtx, cancel := context.WithTimeout(ctx, s.probeTimeout)
	report, err := s.adapter.HealthCheck(probeCtx, w.MachineID)
	cancel()

	if ctx.Err() != nil {
		// Shutting down: discard the result, the next cycle re-checks.
		return
	}

	if err != nil {
		detail := store.DetailUnreachable
		if compute.IsNotFound(err) {
			detail = store.DetailMachineDestroyed
		}
		log.Printf("health: worker %s probe failed: %v", w.ID, err)
		s.applyIntent(reconcile.SetWorkerStatus{WorkerID: w.ID, Status: store.WorkerError, Detail: detail})
		return
	}

	// A reachable machine clears an unreachable diagnosis.
	if w.Status == store.WorkerError && w.StatusDetail == store.DetailUnreachable {
		s.applyIntent(reconcile.SetWorkerStatus{WorkerID: w.ID, Status: store.WorkerReady})
	}

	s.reconcileLoadStates(w, report)
}

// reconcileLoadStates corrects the store where the provider's report
// disagrees. The machine is authoritative for what is actually loaded, and
// corrections only ever move loaded -> unloaded.
func (s *Scheduler) reconcileLoadStates(w *store.Worker, report *compute.HealthReport) {
	nets, err := s.db.ListNetsByWorker(w.ID)
	if err != nil {
		log.Printf("health: nets of worker %s: %v", w.ID, err)
		return
	}
	reported := make(map[string]bool, len(report.LoadedNets))
	for _, id := range report.LoadedNets {
		reported[id] = true
	}
	for _, n := range nets {
		if n.LoadState == store.NetLoaded && !reported[n.ID] {
			s.applyIntent(reconcile.SetNetLoadState{NetID: n.ID, LoadState: store.NetUnloaded})
		}
	}
}

func (s *Scheduler) applyIntent(intent reconcile.Intent) {
	updates, err := reconcile.Apply(s.db, intent)
	if err != nil {
		log.Printf("health: reconcile %T: %v", intent, err)
		return
	}
	if len(updates) == 0 {
		return
	}
	if _, err := s.pub.Commit(updates); err != nil {
		log.Printf("health: commit %T: %v", intent, err)
	}
}
