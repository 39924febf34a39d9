package client

import (
	"context"
	"log"
	"sync"
	"time"

	"github.com/jonboulle/clockwork"

	"github.com/olenive/petrivelte/events"
	"github.com/olenive/petrivelte/store"
)

const (
	defaultDebounce = 500 * time.Millisecond
	defaultPoll     = 30 * time.Second
)

// StateCache holds the client's local view of its workers and nets. Pushed
// events trigger a debounced refresh; a slow poll catches anything the
// stream missed. A hidden client stops polling entirely and resyncs the
// moment it becomes visible again.
type StateCache struct {
	api   *API
	clock clockwork.Clock

	debounce time.Duration
	poll     time.Duration

	mu       sync.Mutex
	workers  map[string]*store.Worker
	nets     map[string]*store.Net
	visible  bool
	onChange func()

	trigger chan struct{}
	wake    chan struct{}

	stopOnce sync.Once
	stopCh   chan struct{}
	doneCh   chan struct{}
}

func NewStateCache(api *API, clock clockwork.Clock) *StateCache {
	if clock == nil {
		clock = clockwork.NewRealClock()
	}
	return &StateCache{
		api:      api,
		clock:    clock,
		debounce: defaultDebounce,
		poll:     defaultPoll,
		workers:  make(map[string]*store.Worker),
		nets:     make(map[string]*store.Net),
		visible:  true,
		trigger:  make(chan struct{}, 1),
		wake:     make(chan struct{}, 1),
		stopCh:   make(chan struct{}),
		doneCh:   make(chan struct{}),
	}
}

// OnChange registers a callback invoked after every refresh that completed
// successfully. UI layers hang their re-render off it.
func (c *StateCache) OnChange(fn func()) {
	c.mu.Lock()
	c.onChange = fn
	c.mu.Unlock()
}

func (c *StateCache) Start() {
	go c.run()
}

func (c *StateCache) Stop() {
	c.stopOnce.Do(func() {
		close(c.stopCh)
		<-c.doneCh
	})
}

// HandleEvent coalesces a pushed event into the debounce window. A burst of
// cascade events produces a single refresh shortly after the last one.
func (c *StateCache) HandleEvent(events.Event) {
	select {
	case c.trigger <- struct{}{}:
	default:
	}
}

// SetVisible flips visibility gating. Going hidden stops the poll loop;
// becoming visible refreshes immediately to cover whatever happened while
// hidden.
func (c *StateCache) SetVisible(visible bool) {
	c.mu.Lock()
	was := c.visible
	c.visible = visible
	c.mu.Unlock()
	if visible && !was {
		select {
		case c.wake <- struct{}{}:
		default:
		}
	}
}

func (c *StateCache) isVisible() bool {
	c.mu.Lock()
	defer c.mu.Unlock()
	return c.visible
}

func (c *StateCache) run() {
	defer close(c.doneCh)

	poll := c.clock.NewTicker(c.poll)
	defer poll.Stop()

	var debounce clockwork.Timer
	var debounceCh <-chan time.Time

	for {
		select {
		case <-c.stopCh:
			return
		case <-c.trigger:
			if !c.isVisible() {
				// Becoming visible refreshes anyway; nothing to arm.
				continue
			}
			if debounce == nil {
				debounce = c.clock.NewTimer(c.debounce)
				debounceCh = debounce.Chan()
			} else {
				debounce.Reset(c.debounce)
			}
		case <-debounceCh:
			debounce = nil
			debounceCh = nil
			c.Refresh()
		case <-c.wake:
			c.Refresh()
		case <-poll.Chan():
			// The refresh runs on this goroutine, so a poll can never
			// overlap an in-flight refresh.
			if c.isVisible() && debounceCh == nil {
				c.Refresh()
			}
		}
	}
}

// Refresh replaces the cached view with the server's. On failure the stale
// view is kept; the next poll or event retries.
func (c *StateCache) Refresh() {
	ctx, cancel := context.WithTimeout(context.Background(), 10*time.Second)
	defer cancel()

	workers, err := c.api.ListWorkers(ctx)
	if err != nil {
		log.Printf("cache: refresh workers: %v", err)
		return
	}
	nets, err := c.api.ListNets(ctx)
	if err != nil {
		log.Printf("cache: refresh nets: %v", err)
		return
	}

	c.mu.Lock()
	c.workers = make(map[string]*store.Worker, len(workers))
	for _, w := range workers {
		c.workers[w.ID] = w
	}
	c.nets = make(map[string]*store.Net, len(nets))
	for _, n := range nets {
		c.nets[n.ID] = n
	}
	fn := c.onChange
	c.mu.Unlock()

	if fn != nil {
		fn()
	}
}

func (c *StateCache) Worker(id string) (*store.Worker, bool) {
	c.mu.Lock()
	defer c.mu.Unlock()
	w, ok := c.workers[id]
	return w, ok
}

func (c *StateCache) Net(id string) (*store.Net, bool) {
	c.mu.Lock()
	defer c.mu.Unlock()
	n, ok := c.nets[id]
	return n, ok
}

func (c *StateCache) Workers() []*store.Worker {
	c.mu.Lock()
	defer c.mu.Unlock()
	out := make([]*store.Worker, 0, len(c.workers))
	for _, w := range c.workers {
		out = append(out, w)
	}
	return out
}

func (c *StateCache) Nets() []*store.Net {
	c.mu.Lock()
	defer c.mu.Unlock()
	out := make([]*store.Net, 0, len(c.nets))
	for _, n := range c.nets {
		out = append(out, n)
	}
	return out
}

// VerifyWorker refetches a worker right before an action and repairs the
// cache. If the live status disagrees with the cached one, the caller gets
// a StaleStateError carrying the corrected record and should re-render
// instead of acting.
func (c *StateCache) VerifyWorker(ctx context.Context, id string) (*store.Worker, error) {
	fresh, err := c.api.GetWorker(ctx, id)
	if err != nil {
		return nil, err
	}
	c.mu.Lock()
	cached := c.workers[id]
	c.workers[id] = fresh
	c.mu.Unlock()

	if cached != nil && cached.Status != fresh.Status {
		return fresh, &StaleStateError{Worker: fresh}
	}
	return fresh, nil
}

// VerifyNet is the net-side twin of VerifyWorker, keyed on load state.
func (c *StateCache) VerifyNet(ctx context.Context, id string) (*store.Net, error) {
	fresh, err := c.api.GetNet(ctx, id)
	if err != nil {
		return nil, err
	}
	c.mu.Lock()
	cached := c.nets[id]
	c.nets[id] = fresh
	c.mu.Unlock()

	if cached != nil && cached.LoadState != fresh.LoadState {
		return fresh, &StaleStateError{Net: fresh}
	}
	return fresh, nil
}
