// Package www serves the JSON API and the per-identity event stream.
package www

import (
	"net/http"
	"sync"
	"time"

	"github.com/go-chi/chi/v5"
	"github.com/go-chi/chi/v5/middleware"
	"github.com/gorilla/sessions"

	"github.com/olenive/petrivelte/compute"
	"github.com/olenive/petrivelte/config"
	"github.com/olenive/petrivelte/events"
	"github.com/olenive/petrivelte/health"
	"github.com/olenive/petrivelte/livestate"
	"github.com/olenive/petrivelte/store"
)

type Handlers struct {
	db       *store.DB
	live     *livestate.Manager
	pub      *events.Publisher
	listener *events.Listener
	health   *health.Scheduler
	adapter  compute.Adapter
	sessions *sessions.CookieStore
	limiter  *readLimiter

	keepalive time.Duration

	streamMu sync.Mutex
	streams  map[string]*activeStream
}

type Deps struct {
	DB       *store.DB
	Live     *livestate.Manager
	Pub      *events.Publisher
	Listener *events.Listener
	Health   *health.Scheduler
	Adapter  compute.Adapter
}

func NewRouter(cfg *config.Config, deps Deps) http.Handler {
	h := &Handlers{
		db:        deps.DB,
		live:      deps.Live,
		pub:       deps.Pub,
		listener:  deps.Listener,
		health:    deps.Health,
		adapter:   deps.Adapter,
		sessions:  newSessionStore(cfg.Web.SessionSecret),
		limiter:   newReadLimiter(cfg.Web.ReadRequestsPerMinute),
		keepalive: cfg.Events.Keepalive,
		streams:   make(map[string]*activeStream),
	}

	h.ensureDefaultUser(deps.DB)

	r := chi.NewRouter()
	r.Use(middleware.Recoverer)

	r.Get("/api/health", h.apiHealthz)
	r.Post("/login", h.handleLogin)
	r.Post("/logout", h.handleLogout)

	r.Group(func(r chi.Router) {
		r.Use(h.requireAuth)

		// SSE stream; one per identity.
		r.Get("/events", h.handleEvents)

		r.Route("/api/workers", func(r chi.Router) {
			// Polled reads carry the per-identity budget.
			r.With(h.limitReads).Get("/", h.apiListWorkers)
			r.Post("/", h.apiCreateWorker)
			r.Get("/{id}", h.apiGetWorker)
			r.Delete("/{id}", h.apiDestroyWorker)
			r.Post("/{id}/provision", h.apiProvisionWorker)
			r.Post("/{id}/start", h.apiStartWorker)
			r.Post("/{id}/stop", h.apiStopWorker)
			r.Post("/{id}/health-check", h.apiCheckWorker)
		})

		r.Route("/api/nets", func(r chi.Router) {
			r.With(h.limitReads).Get("/", h.apiListNets)
			r.Post("/", h.apiCreateNet)
			r.Get("/{id}", h.apiGetNet)
			r.Delete("/{id}", h.apiDeleteNet)
			r.Post("/{id}/assign", h.apiAssignNet)
			r.Post("/{id}/load", h.apiLoadNet)
			r.Post("/{id}/unload", h.apiUnloadNet)
		})
	})

	return r
}

func (h *Handlers) apiHealthz(w http.ResponseWriter, r *http.Request) {
	writeJSON(w, http.StatusOK, map[string]string{"status": "ok"})
}
