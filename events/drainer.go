package events

import (
	"log"
	"sync"
	"time"

	"github.com/olenive/petrivelte/store"
)

// Transport publishes a committed event to the durable event channel.
type Transport interface {
	Publish(topic string, payload []byte) error
}

// Drainer periodically publishes committed outbox events to the event
// channel. Kick triggers an immediate drain after a commit so push latency
// is not bounded by the interval.
type Drainer struct {
	db        *store.DB
	transport Transport
	interval  time.Duration

	kickCh   chan struct{}
	stopOnce sync.Once
	stopCh   chan struct{}
}

func NewDrainer(db *store.DB, transport Transport, interval time.Duration) *Drainer {
	return &Drainer{
		db:        db,
		transport: transport,
		interval:  interval,
		kickCh:    make(chan struct{}, 1),
		stopCh:    make(chan struct{}),
	}
}

func (d *Drainer) Start() {
	go d.run()
}

func (d *Drainer) Stop() {
	d.stopOnce.Do(func() { close(d.stopCh) })
}

// Kick requests an immediate drain. Safe to call from any goroutine; a
// pending kick is coalesced.
func (d *Drainer) Kick() {
	select {
	case d.kickCh <- struct{}{}:
	default:
	}
}

func (d *Drainer) run() {
	ticker := time.NewTicker(d.interval)
	defer ticker.Stop()

	for {
		select {
		case <-d.stopCh:
			return
		case <-d.kickCh:
			d.Drain()
		case <-ticker.C:
			d.Drain()
		}
	}
}

// Drain publishes all pending events in commit order.
func (d *Drainer) Drain() {
	msgs, err := d.db.ListPendingEvents(100)
	if err != nil {
		log.Printf("outbox: list pending: %v", err)
		return
	}
	for _, msg := range msgs {
		if err := d.transport.Publish(msg.Topic, msg.Payload); err != nil {
			log.Printf("outbox: publish to %s failed: %v", msg.Topic, err)
			if err := d.db.IncrementEventRetries(msg.ID); err != nil {
				log.Printf("outbox: record retry for event %d: %v", msg.ID, err)
			}
			continue
		}
		if err := d.db.AckEvent(msg.ID); err != nil {
			log.Printf("outbox: ack event %d: %v", msg.ID, err)
		}
	}
}
