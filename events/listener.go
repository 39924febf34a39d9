package events

import (
	"log"
	"sync"
)

// Subscriber is the underlying event channel. The listener registers exactly
// one handler with it for the life of the process.
type Subscriber interface {
	Subscribe(topic string, handler func(topic string, payload []byte)) error
}

// Queue is one observer's bounded event queue, keyed by identity.
type Queue struct {
	identity string
	ch       chan Event
}

// Events returns the receive side of the queue. The channel is closed when
// the queue is unsubscribed or the listener stops.
func (q *Queue) Events() <-chan Event { return q.ch }

func (q *Queue) Identity() string { return q.identity }

// Listener fans events from the single shared channel subscription out to
// per-observer queues. It is the only component holding a subscription to
// the event channel, however many observers are connected.
type Listener struct {
	mu        sync.RWMutex
	queues    map[*Queue]struct{}
	queueSize int
	stopped   bool
}

func NewListener(queueSize int) *Listener {
	if queueSize <= 0 {
		queueSize = 64
	}
	return &Listener{
		queues:    make(map[*Queue]struct{}),
		queueSize: queueSize,
	}
}

// Start registers the listener's handler as the one subscription to the
// event channel.
func (l *Listener) Start(sub Subscriber, topic string) error {
	return sub.Subscribe(topic, l.HandleRaw)
}

// Stop closes every queue. Further events are discarded.
func (l *Listener) Stop() {
	l.mu.Lock()
	defer l.mu.Unlock()
	if l.stopped {
		return
	}
	l.stopped = true
	for q := range l.queues {
		close(q.ch)
		delete(l.queues, q)
	}
}

// Subscribe registers a bounded queue for the given identity.
func (l *Listener) Subscribe(identity string) *Queue {
	q := &Queue{identity: identity, ch: make(chan Event, l.queueSize)}
	l.mu.Lock()
	if !l.stopped {
		l.queues[q] = struct{}{}
	} else {
		close(q.ch)
	}
	l.mu.Unlock()
	return q
}

func (l *Listener) Unsubscribe(q *Queue) {
	l.mu.Lock()
	defer l.mu.Unlock()
	if _, ok := l.queues[q]; !ok {
		return
	}
	delete(l.queues, q)
	close(q.ch)
}

func (l *Listener) QueueCount() int {
	l.mu.RLock()
	defer l.mu.RUnlock()
	return len(l.queues)
}

// HandleRaw decodes a wire payload and dispatches it. Registered as the
// channel subscription handler.
func (l *Listener) HandleRaw(_ string, payload []byte) {
	evt, err := Decode(payload)
	if err != nil {
		log.Printf("listener: decode event: %v", err)
		return
	}
	l.Dispatch(evt)
}

// Dispatch enqueues a copy of the event into every queue whose identity
// matches the event's owner. A full queue drops its oldest unread event
// rather than blocking the shared stream or tearing the observer down;
// the observer recovers via its next poll or pre-action check.
func (l *Listener) Dispatch(evt Event) {
	l.mu.RLock()
	defer l.mu.RUnlock()
	for q := range l.queues {
		if q.identity != evt.Owner {
			continue
		}
		select {
		case q.ch <- evt:
		default:
			select {
			case <-q.ch:
			default:
			}
			select {
			case q.ch <- evt:
			default:
			}
		}
	}
}
