package client

import (
	"context"
	"io"
	"log"
	"time"

	"github.com/cenkalti/backoff/v4"

	"github.com/olenive/petrivelte/events"
)

// Stream consumes the SSE event stream and feeds decoded events into the
// cache. Dropped connections reconnect with exponential backoff; the
// server's single-stream-per-identity rule means a reconnect simply
// supersedes the dead stream.
type Stream struct {
	api   *API
	cache *StateCache
}

func NewStream(api *API, cache *StateCache) *Stream {
	return &Stream{api: api, cache: cache}
}

// Run blocks until ctx is cancelled, reconnecting as needed. A successful
// connection resets the backoff.
func (s *Stream) Run(ctx context.Context) {
	bo := backoff.NewExponentialBackOff()
	bo.MaxElapsedTime = 0

	for {
		if ctx.Err() != nil {
			return
		}
		err := s.consume(ctx)
		if ctx.Err() != nil {
			return
		}
		if err != nil {
			log.Printf("stream: %v", err)
		} else {
			// The stream was up and then closed cleanly; start the
			// backoff over for the reconnect.
			bo.Reset()
		}

		select {
		case <-ctx.Done():
			return
		case <-time.After(bo.NextBackOff()):
		}
	}
}

func (s *Stream) consume(ctx context.Context) error {
	body, err := s.api.OpenEvents(ctx)
	if err != nil {
		return err
	}
	defer body.Close()

	// The cache may have missed events while disconnected.
	s.cache.HandleEvent(events.Event{})

	reader := NewSSEReader(body)
	for {
		data, err := reader.Next()
		if err == io.EOF {
			return nil
		}
		if err != nil {
			return err
		}
		evt, err := events.Decode([]byte(data))
		if err != nil {
			log.Printf("stream: decode event: %v", err)
			continue
		}
		s.cache.HandleEvent(evt)
	}
}
