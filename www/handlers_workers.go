package www

import (
	"context"
	"log"
	"net/http"
	"time"

	"github.com/go-chi/chi/v5"

	"github.com/olenive/petrivelte/compute"
	"github.com/olenive/petrivelte/reconcile"
	"github.com/olenive/petrivelte/store"
)

// getOwnedWorker fetches a worker and enforces ownership. A worker owned by
// someone else reads as not-found so identities cannot probe each other's
// fleets.
func (h *Handlers) getOwnedWorker(r *http.Request, id string) (*store.Worker, bool) {
	w, err := h.db.GetWorker(id)
	if err != nil || w.Owner != h.identity(r) {
		return nil, false
	}
	return w, true
}

// commitIntent runs a requested transition through the reconciliation rules
// and commits the cascade. Returns the invalid-transition error unchanged so
// handlers can render it.
func (h *Handlers) commitIntent(intent reconcile.Intent) error {
	updates, err := reconcile.Apply(h.db, intent)
	if err != nil {
		return err
	}
	if len(updates) == 0 {
		return nil
	}
	_, err = h.pub.Commit(updates)
	return err
}

func (h *Handlers) apiListWorkers(w http.ResponseWriter, r *http.Request) {
	workers, err := h.live.GetWorkers(h.identity(r))
	if err != nil {
		jsonError(w, http.StatusInternalServerError, "storage_error")
		return
	}
	if workers == nil {
		workers = []*store.Worker{}
	}
	writeJSON(w, http.StatusOK, workers)
}

func (h *Handlers) apiGetWorker(w http.ResponseWriter, r *http.Request) {
	worker, ok := h.getOwnedWorker(r, chi.URLParam(r, "id"))
	if !ok {
		jsonError(w, http.StatusNotFound, "not_found")
		return
	}
	writeJSON(w, http.StatusOK, worker)
}

func (h *Handlers) apiCreateWorker(w http.ResponseWriter, r *http.Request) {
	var req struct {
		Name     string `json:"name"`
		Category string `json:"category"`
	}
	if err := decodeJSON(r, &req); err != nil || req.Name == "" {
		jsonError(w, http.StatusBadRequest, "bad_request")
		return
	}
	if req.Category != "" && !store.ValidWorkerCategory(req.Category) {
		jsonError(w, http.StatusBadRequest, "invalid_category")
		return
	}

	worker := &store.Worker{
		Name:     req.Name,
		Category: req.Category,
		Owner:    h.identity(r),
	}
	if err := h.db.CreateWorker(worker); err != nil {
		jsonError(w, http.StatusInternalServerError, "storage_error")
		return
	}
	// Announce the new worker through the same transactional path as every
	// other state change.
	if _, err := h.pub.Commit([]reconcile.Update{
		reconcile.WorkerStatusUpdate{WorkerID: worker.ID, Status: worker.Status},
	}); err != nil {
		log.Printf("www: announce worker %s: %v", worker.ID, err)
	}
	writeJSON(w, http.StatusCreated, worker)
}

// checkExpectedStatus applies the optional optimistic-concurrency guard. A
// caller that includes expected_status asserts what it believes the worker's
// state is; a mismatch means its cache is stale, so the request is rejected
// with the corrected record inline.
func (h *Handlers) checkExpectedStatus(w http.ResponseWriter, r *http.Request, worker *store.Worker) bool {
	var req struct {
		ExpectedStatus string `json:"expected_status"`
	}
	if err := decodeJSON(r, &req); err != nil || req.ExpectedStatus == "" {
		return true
	}
	if req.ExpectedStatus != worker.Status {
		writeJSON(w, http.StatusConflict, map[string]any{
			"error":  "stale_state",
			"worker": worker,
		})
		return false
	}
	return true
}

func (h *Handlers) rejectTransition(w http.ResponseWriter, worker *store.Worker, err error) {
	if reconcile.IsInvalidTransition(err) {
		writeJSON(w, http.StatusConflict, map[string]any{
			"error":  "invalid_transition",
			"detail": err.Error(),
			"worker": worker,
		})
		return
	}
	jsonError(w, http.StatusInternalServerError, "storage_error")
}

func (h *Handlers) apiProvisionWorker(w http.ResponseWriter, r *http.Request) {
	worker, ok := h.getOwnedWorker(r, chi.URLParam(r, "id"))
	if !ok {
		jsonError(w, http.StatusNotFound, "not_found")
		return
	}
	if !h.checkExpectedStatus(w, r, worker) {
		return
	}

	if err := h.commitIntent(reconcile.SetWorkerStatus{WorkerID: worker.ID, Status: store.WorkerProvisioning}); err != nil {
		h.rejectTransition(w, worker, err)
		return
	}
	go h.provisionWorker(worker.ID)

	worker, _ = h.db.GetWorker(worker.ID)
	writeJSON(w, http.StatusAccepted, worker)
}

// provisionWorker drives the slow provider call off the request path. The
// worker sits in provisioning until the machine exists; the result lands as
// a normal committed transition either way.
func (h *Handlers) provisionWorker(workerID string) {
	ctx, cancel := context.WithTimeout(context.Background(), 2*time.Minute)
	defer cancel()

	machineID, err := h.adapter.Provision(ctx, workerID)
	if err != nil {
		log.Printf("www: provision worker %s: %v", workerID, err)
		if err := h.commitIntent(reconcile.SetWorkerStatus{
			WorkerID: workerID, Status: store.WorkerError, Detail: store.DetailProvisionFailed,
		}); err != nil {
			log.Printf("www: record provision failure for %s: %v", workerID, err)
		}
		return
	}
	if err := h.db.SetWorkerMachineID(workerID, machineID); err != nil {
		log.Printf("www: record machine id for %s: %v", workerID, err)
	}
	if err := h.commitIntent(reconcile.SetWorkerStatus{WorkerID: workerID, Status: store.WorkerReady}); err != nil {
		log.Printf("www: mark worker %s ready: %v", workerID, err)
	}
}

func (h *Handlers) apiStartWorker(w http.ResponseWriter, r *http.Request) {
	worker, ok := h.getOwnedWorker(r, chi.URLParam(r, "id"))
	if !ok {
		jsonError(w, http.StatusNotFound, "not_found")
		return
	}
	if !h.checkExpectedStatus(w, r, worker) {
		return
	}

	if err := h.commitIntent(reconcile.SetWorkerStatus{WorkerID: worker.ID, Status: store.WorkerProvisioning}); err != nil {
		h.rejectTransition(w, worker, err)
		return
	}
	go h.startWorker(worker.ID, worker.MachineID)

	worker, _ = h.db.GetWorker(worker.ID)
	writeJSON(w, http.StatusAccepted, worker)
}

func (h *Handlers) startWorker(workerID, machineID string) {
	ctx, cancel := context.WithTimeout(context.Background(), 2*time.Minute)
	defer cancel()

	if err := h.adapter.Start(ctx, machineID); err != nil {
		log.Printf("www: start worker %s: %v", workerID, err)
		detail := store.DetailUnreachable
		if compute.IsNotFound(err) {
			detail = store.DetailMachineDestroyed
		}
		if err := h.commitIntent(reconcile.SetWorkerStatus{
			WorkerID: workerID, Status: store.WorkerError, Detail: detail,
		}); err != nil {
			log.Printf("www: record start failure for %s: %v", workerID, err)
		}
		return
	}
	if err := h.commitIntent(reconcile.SetWorkerStatus{WorkerID: workerID, Status: store.WorkerReady}); err != nil {
		log.Printf("www: mark worker %s ready: %v", workerID, err)
	}
}

func (h *Handlers) apiStopWorker(w http.ResponseWriter, r *http.Request) {
	worker, ok := h.getOwnedWorker(r, chi.URLParam(r, "id"))
	if !ok {
		jsonError(w, http.StatusNotFound, "not_found")
		return
	}
	if !h.checkExpectedStatus(w, r, worker) {
		return
	}

	err := h.commitIntent(reconcile.SetWorkerStatus{WorkerID: worker.ID, Status: store.WorkerStopped})
	if err != nil {
		h.rejectTransition(w, worker, err)
		return
	}
	go h.stopMachine(worker.ID, worker.MachineID)

	worker, _ = h.db.GetWorker(worker.ID)
	writeJSON(w, http.StatusOK, worker)
}

func (h *Handlers) stopMachine(workerID, machineID string) {
	if machineID == "" {
		return
	}
	ctx, cancel := context.WithTimeout(context.Background(), 30*time.Second)
	defer cancel()

	if err := h.adapter.Stop(ctx, machineID); err != nil && !compute.IsNotFound(err) {
		log.Printf("www: stop machine %s for worker %s: %v", machineID, workerID, err)
		if err := h.commitIntent(reconcile.SetWorkerStatus{
			WorkerID: workerID, Status: store.WorkerError, Detail: store.DetailUnreachable,
		}); err != nil {
			log.Printf("www: record stop failure for %s: %v", workerID, err)
		}
	}
}

func (h *Handlers) apiDestroyWorker(w http.ResponseWriter, r *http.Request) {
	worker, ok := h.getOwnedWorker(r, chi.URLParam(r, "id"))
	if !ok {
		jsonError(w, http.StatusNotFound, "not_found")
		return
	}
	if !h.checkExpectedStatus(w, r, worker) {
		return
	}

	// The machine is torn down before the record: a destroy that cannot
	// reach the provider must not leave an orphaned machine behind a
	// deleted row. Already-gone machines count as success.
	if worker.MachineID != "" {
		ctx, cancel := context.WithTimeout(r.Context(), 30*time.Second)
		err := h.adapter.Destroy(ctx, worker.MachineID)
		cancel()
		if err != nil {
			log.Printf("www: destroy machine %s for worker %s: %v", worker.MachineID, worker.ID, err)
			if err := h.commitIntent(reconcile.SetWorkerStatus{
				WorkerID: worker.ID, Status: store.WorkerError, Detail: store.DetailUnreachable,
			}); err != nil {
				log.Printf("www: record destroy failure for %s: %v", worker.ID, err)
			}
			jsonError(w, http.StatusBadGateway, "compute_unreachable")
			return
		}
	}

	if err := h.commitIntent(reconcile.DeleteWorker{WorkerID: worker.ID}); err != nil {
		h.rejectTransition(w, worker, err)
		return
	}
	writeJSON(w, http.StatusOK, map[string]string{"status": "deleted"})
}

// apiCheckWorker triggers an immediate health probe instead of waiting for
// the next scheduled cycle.
func (h *Handlers) apiCheckWorker(w http.ResponseWriter, r *http.Request) {
	worker, ok := h.getOwnedWorker(r, chi.URLParam(r, "id"))
	if !ok {
		jsonError(w, http.StatusNotFound, "not_found")
		return
	}
	refreshed, err := h.health.CheckWorker(r.Context(), worker.ID)
	if err != nil {
		jsonError(w, http.StatusInternalServerError, "storage_error")
		return
	}
	writeJSON(w, http.StatusOK, refreshed)
}
