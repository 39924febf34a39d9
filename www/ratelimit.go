package www

import (
	"net/http"
	"sync"
	"time"

	"golang.org/x/time/rate"
)

// readLimiter enforces the per-identity budget on the list endpoints. The
// SSE stream and action endpoints are not limited; polling is what the
// budget exists to keep honest.
type readLimiter struct {
	mu       sync.Mutex
	limiters map[string]*rate.Limiter
	perMin   int
}

func newReadLimiter(perMinute int) *readLimiter {
	if perMinute <= 0 {
		perMinute = 30
	}
	return &readLimiter{
		limiters: make(map[string]*rate.Limiter),
		perMin:   perMinute,
	}
}

func (rl *readLimiter) limiterFor(identity string) *rate.Limiter {
	rl.mu.Lock()
	defer rl.mu.Unlock()
	lim, ok := rl.limiters[identity]
	if !ok {
		lim = rate.NewLimiter(rate.Every(time.Minute/time.Duration(rl.perMin)), rl.perMin)
		rl.limiters[identity] = lim
	}
	return lim
}

func (rl *readLimiter) allow(identity string) bool {
	return rl.limiterFor(identity).Allow()
}

func (h *Handlers) limitReads(next http.Handler) http.Handler {
	return http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		identity := h.identity(r)
		if !h.limiter.allow(identity) {
			jsonError(w, http.StatusTooManyRequests, "rate_limited")
			return
		}
		next.ServeHTTP(w, r)
	})
}
