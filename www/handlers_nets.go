package www

import (
	"encoding/json"
	"net/http"

	"github.com/go-chi/chi/v5"

	"github.com/olenive/petrivelte/reconcile"
	"github.com/olenive/petrivelte/store"
)

func (h *Handlers) getOwnedNet(r *http.Request, id string) (*store.Net, bool) {
	n, err := h.db.GetNet(id)
	if err != nil || n.Owner != h.identity(r) {
		return nil, false
	}
	return n, true
}

func (h *Handlers) apiListNets(w http.ResponseWriter, r *http.Request) {
	nets, err := h.live.GetNets(h.identity(r))
	if err != nil {
		jsonError(w, http.StatusInternalServerError, "storage_error")
		return
	}
	if nets == nil {
		nets = []*store.Net{}
	}
	writeJSON(w, http.StatusOK, nets)
}

func (h *Handlers) apiGetNet(w http.ResponseWriter, r *http.Request) {
	net, ok := h.getOwnedNet(r, chi.URLParam(r, "id"))
	if !ok {
		jsonError(w, http.StatusNotFound, "not_found")
		return
	}
	writeJSON(w, http.StatusOK, net)
}

func (h *Handlers) apiCreateNet(w http.ResponseWriter, r *http.Request) {
	var req struct {
		Name       string          `json:"name"`
		Definition json.RawMessage `json:"definition"`
	}
	if err := decodeJSON(r, &req); err != nil || req.Name == "" {
		jsonError(w, http.StatusBadRequest, "bad_request")
		return
	}
	if len(req.Definition) > 0 && !json.Valid(req.Definition) {
		jsonError(w, http.StatusBadRequest, "invalid_definition")
		return
	}

	net := &store.Net{
		Name:       req.Name,
		Definition: string(req.Definition),
		Owner:      h.identity(r),
	}
	if err := h.db.CreateNet(net); err != nil {
		jsonError(w, http.StatusInternalServerError, "storage_error")
		return
	}
	if _, err := h.pub.Commit([]reconcile.Update{
		reconcile.NetLoadStateUpdate{NetID: net.ID, LoadState: net.LoadState},
	}); err != nil {
		jsonError(w, http.StatusInternalServerError, "storage_error")
		return
	}
	writeJSON(w, http.StatusCreated, net)
}

// checkExpectedLoadState is the optimistic-concurrency guard for net actions,
// mirroring checkExpectedStatus on workers.
func (h *Handlers) checkExpectedLoadState(w http.ResponseWriter, r *http.Request, net *store.Net) bool {
	var req struct {
		ExpectedLoadState string `json:"expected_load_state"`
	}
	if err := decodeJSON(r, &req); err != nil || req.ExpectedLoadState == "" {
		return true
	}
	if req.ExpectedLoadState != net.LoadState {
		writeJSON(w, http.StatusConflict, map[string]any{
			"error": "stale_state",
			"net":   net,
		})
		return false
	}
	return true
}

func (h *Handlers) rejectNetTransition(w http.ResponseWriter, net *store.Net, err error) {
	if reconcile.IsInvalidTransition(err) {
		writeJSON(w, http.StatusConflict, map[string]any{
			"error":  "invalid_transition",
			"detail": err.Error(),
			"net":    net,
		})
		return
	}
	jsonError(w, http.StatusInternalServerError, "storage_error")
}

func (h *Handlers) apiAssignNet(w http.ResponseWriter, r *http.Request) {
	net, ok := h.getOwnedNet(r, chi.URLParam(r, "id"))
	if !ok {
		jsonError(w, http.StatusNotFound, "not_found")
		return
	}

	var req struct {
		WorkerID *string `json:"worker_id"`
	}
	if err := decodeJSON(r, &req); err != nil {
		jsonError(w, http.StatusBadRequest, "bad_request")
		return
	}
	if req.WorkerID != nil {
		// The target must exist and belong to the same identity.
		if _, ok := h.getOwnedWorker(r, *req.WorkerID); !ok {
			jsonError(w, http.StatusNotFound, "worker_not_found")
			return
		}
	}

	if err := h.commitIntent(reconcile.AssignNet{NetID: net.ID, WorkerID: req.WorkerID}); err != nil {
		h.rejectNetTransition(w, net, err)
		return
	}
	net, _ = h.db.GetNet(net.ID)
	writeJSON(w, http.StatusOK, net)
}

func (h *Handlers) apiLoadNet(w http.ResponseWriter, r *http.Request) {
	h.setNetLoadState(w, r, store.NetLoaded)
}

func (h *Handlers) apiUnloadNet(w http.ResponseWriter, r *http.Request) {
	h.setNetLoadState(w, r, store.NetUnloaded)
}

func (h *Handlers) setNetLoadState(w http.ResponseWriter, r *http.Request, state string) {
	net, ok := h.getOwnedNet(r, chi.URLParam(r, "id"))
	if !ok {
		jsonError(w, http.StatusNotFound, "not_found")
		return
	}
	if !h.checkExpectedLoadState(w, r, net) {
		return
	}

	if err := h.commitIntent(reconcile.SetNetLoadState{NetID: net.ID, LoadState: state}); err != nil {
		h.rejectNetTransition(w, net, err)
		return
	}
	net, _ = h.db.GetNet(net.ID)
	writeJSON(w, http.StatusOK, net)
}

func (h *Handlers) apiDeleteNet(w http.ResponseWriter, r *http.Request) {
	net, ok := h.getOwnedNet(r, chi.URLParam(r, "id"))
	if !ok {
		jsonError(w, http.StatusNotFound, "not_found")
		return
	}
	if !h.checkExpectedLoadState(w, r, net) {
		return
	}

	if err := h.commitIntent(reconcile.DeleteNet{NetID: net.ID}); err != nil {
		h.rejectNetTransition(w, net, err)
		return
	}
	writeJSON(w, http.StatusOK, map[string]string{"status": "deleted"})
}
