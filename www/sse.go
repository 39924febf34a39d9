package www

import (
	"context"
	"fmt"
	"log"
	"net/http"
	"time"
)

// activeStream is one registered stream's registry token; release compares
// against it so a superseded handler's teardown cannot evict its successor.
type activeStream struct {
	cancel context.CancelFunc
}

// registerStream records an identity's active stream and cancels any stream
// it already had. One stream per identity: a reconnect (new tab, network
// flap) supersedes the old connection instead of stacking up duplicates.
func (h *Handlers) registerStream(identity string) (context.Context, func()) {
	h.streamMu.Lock()
	defer h.streamMu.Unlock()

	if prev, ok := h.streams[identity]; ok {
		prev.cancel()
	}
	ctx, cancel := context.WithCancel(context.Background())
	st := &activeStream{cancel: cancel}
	h.streams[identity] = st

	release := func() {
		h.streamMu.Lock()
		defer h.streamMu.Unlock()
		// A newer stream may have replaced the entry; only remove our own.
		if h.streams[identity] == st {
			delete(h.streams, identity)
		}
		cancel()
	}
	return ctx, release
}

// handleEvents serves the per-identity SSE stream. Events come from the
// shared listener's bounded queue for this identity; a periodic comment
// frame keeps idle connections from being reaped by proxies.
func (h *Handlers) handleEvents(w http.ResponseWriter, r *http.Request) {
	identity := h.identity(r)
	if identity == "" {
		jsonError(w, http.StatusUnauthorized, "unauthenticated")
		return
	}

	flusher, ok := w.(http.Flusher)
	if !ok {
		jsonError(w, http.StatusInternalServerError, "streaming_unsupported")
		return
	}

	streamCtx, release := h.registerStream(identity)
	defer release()

	queue := h.listener.Subscribe(identity)
	defer h.listener.Unsubscribe(queue)

	w.Header().Set("Content-Type", "text/event-stream")
	w.Header().Set("Cache-Control", "no-cache")
	w.Header().Set("Connection", "keep-alive")
	w.WriteHeader(http.StatusOK)
	flusher.Flush()

	keepaliveInterval := h.keepalive
	if keepaliveInterval <= 0 {
		keepaliveInterval = 30 * time.Second
	}
	keepalive := time.NewTicker(keepaliveInterval)
	defer keepalive.Stop()

	for {
		select {
		case <-r.Context().Done():
			return
		case <-streamCtx.Done():
			// Superseded by a newer stream for this identity.
			return
		case evt, open := <-queue.Events():
			if !open {
				return
			}
			data, err := evt.ObserverJSON()
			if err != nil {
				log.Printf("sse: encode event: %v", err)
				continue
			}
			if _, err := fmt.Fprintf(w, "data: %s\n\n", data); err != nil {
				log.Printf("sse: write to %s: %v", identity, err)
				return
			}
			flusher.Flush()
		case <-keepalive.C:
			if _, err := fmt.Fprint(w, ": keepalive\n\n"); err != nil {
				return
			}
			flusher.Flush()
		}
	}
}
