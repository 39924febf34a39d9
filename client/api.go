// Package client is the Go consumer of the control-plane API: a session
// HTTP client, an SSE stream reader, and a local state cache that stays
// current from pushed events with polling as a backstop.
package client

import (
	"bytes"
	"context"
	"encoding/json"
	"errors"
	"fmt"
	"io"
	"net/http"
	"net/http/cookiejar"

	"github.com/olenive/petrivelte/store"
)

// ErrRateLimited is returned when the server rejects a read under the
// per-identity budget. Callers should back off to the event stream instead
// of retrying the poll.
var ErrRateLimited = errors.New("rate limited")

// StaleStateError reports that the server rejected an action because the
// caller's view of the entity was out of date. The corrected record rides
// along so the caller can repair its cache without another round trip.
type StaleStateError struct {
	Worker *store.Worker
	Net    *store.Net
	Detail string
}

func (e *StaleStateError) Error() string {
	switch {
	case e.Worker != nil:
		return fmt.Sprintf("stale state: worker %s is %s", e.Worker.ID, e.Worker.Status)
	case e.Net != nil:
		return fmt.Sprintf("stale state: net %s is %s", e.Net.ID, e.Net.LoadState)
	}
	return "stale state: " + e.Detail
}

func IsStaleState(err error) bool {
	var se *StaleStateError
	return errors.As(err, &se)
}

type API struct {
	baseURL    string
	httpClient *http.Client
}

func NewAPI(baseURL string) (*API, error) {
	jar, err := cookiejar.New(nil)
	if err != nil {
		return nil, err
	}
	return &API{
		baseURL:    baseURL,
		httpClient: &http.Client{Jar: jar},
	}, nil
}

func (a *API) Login(ctx context.Context, username, password string) error {
	body := map[string]string{"username": username, "password": password}
	return a.do(ctx, http.MethodPost, "/login", body, nil)
}

func (a *API) ListWorkers(ctx context.Context) ([]*store.Worker, error) {
	var workers []*store.Worker
	if err := a.do(ctx, http.MethodGet, "/api/workers", nil, &workers); err != nil {
		return nil, err
	}
	return workers, nil
}

func (a *API) GetWorker(ctx context.Context, id string) (*store.Worker, error) {
	var w store.Worker
	if err := a.do(ctx, http.MethodGet, "/api/workers/"+id, nil, &w); err != nil {
		return nil, err
	}
	return &w, nil
}

func (a *API) ListNets(ctx context.Context) ([]*store.Net, error) {
	var nets []*store.Net
	if err := a.do(ctx, http.MethodGet, "/api/nets", nil, &nets); err != nil {
		return nil, err
	}
	return nets, nil
}

func (a *API) GetNet(ctx context.Context, id string) (*store.Net, error) {
	var n store.Net
	if err := a.do(ctx, http.MethodGet, "/api/nets/"+id, nil, &n); err != nil {
		return nil, err
	}
	return &n, nil
}

// WorkerAction posts one of the worker action endpoints (provision, start,
// stop, health-check). expectedStatus, when non-empty, arms the server-side
// stale check.
func (a *API) WorkerAction(ctx context.Context, id, action, expectedStatus string) (*store.Worker, error) {
	var body any
	if expectedStatus != "" {
		body = map[string]string{"expected_status": expectedStatus}
	}
	var w store.Worker
	if err := a.do(ctx, http.MethodPost, "/api/workers/"+id+"/"+action, body, &w); err != nil {
		return nil, err
	}
	return &w, nil
}

func (a *API) DestroyWorker(ctx context.Context, id, expectedStatus string) error {
	var body any
	if expectedStatus != "" {
		body = map[string]string{"expected_status": expectedStatus}
	}
	return a.do(ctx, http.MethodDelete, "/api/workers/"+id, body, nil)
}

func (a *API) AssignNet(ctx context.Context, id string, workerID *string) (*store.Net, error) {
	body := map[string]*string{"worker_id": workerID}
	var n store.Net
	if err := a.do(ctx, http.MethodPost, "/api/nets/"+id+"/assign", body, &n); err != nil {
		return nil, err
	}
	return &n, nil
}

// NetAction posts load or unload. expectedLoadState, when non-empty, arms
// the server-side stale check.
func (a *API) NetAction(ctx context.Context, id, action, expectedLoadState string) (*store.Net, error) {
	var body any
	if expectedLoadState != "" {
		body = map[string]string{"expected_load_state": expectedLoadState}
	}
	var n store.Net
	if err := a.do(ctx, http.MethodPost, "/api/nets/"+id+"/"+action, body, &n); err != nil {
		return nil, err
	}
	return &n, nil
}

func (a *API) DeleteNet(ctx context.Context, id, expectedLoadState string) error {
	var body any
	if expectedLoadState != "" {
		body = map[string]string{"expected_load_state": expectedLoadState}
	}
	return a.do(ctx, http.MethodDelete, "/api/nets/"+id, body, nil)
}

// OpenEvents opens the SSE stream. The caller owns the returned body and
// must close it.
func (a *API) OpenEvents(ctx context.Context) (io.ReadCloser, error) {
	req, err := http.NewRequestWithContext(ctx, http.MethodGet, a.baseURL+"/events", nil)
	if err != nil {
		return nil, err
	}
	req.Header.Set("Accept", "text/event-stream")
	resp, err := a.httpClient.Do(req)
	if err != nil {
		return nil, err
	}
	if resp.StatusCode != http.StatusOK {
		resp.Body.Close()
		return nil, fmt.Errorf("events stream: HTTP %d", resp.StatusCode)
	}
	return resp.Body, nil
}

func (a *API) do(ctx context.Context, method, path string, body, result any) error {
	var bodyReader io.Reader
	if body != nil {
		data, err := json.Marshal(body)
		if err != nil {
			return err
		}
		bodyReader = bytes.NewReader(data)
	}
	req, err := http.NewRequestWithContext(ctx, method, a.baseURL+path, bodyReader)
	if err != nil {
		return err
	}
	if body != nil {
		req.Header.Set("Content-Type", "application/json")
	}

	resp, err := a.httpClient.Do(req)
	if err != nil {
		return err
	}
	defer resp.Body.Close()

	data, err := io.ReadAll(resp.Body)
	if err != nil {
		return err
	}

	switch {
	case resp.StatusCode == http.StatusTooManyRequests:
		return ErrRateLimited
	case resp.StatusCode == http.StatusConflict:
		return decodeConflict(data)
	case resp.StatusCode >= 400:
		var apiErr struct {
			Error string `json:"error"`
		}
		if json.Unmarshal(data, &apiErr) == nil && apiErr.Error != "" {
			return fmt.Errorf("%s %s: %s", method, path, apiErr.Error)
		}
		return fmt.Errorf("%s %s: HTTP %d", method, path, resp.StatusCode)
	}

	if result != nil {
		return json.Unmarshal(data, result)
	}
	return nil
}

// decodeConflict turns a 409 body into a StaleStateError carrying whichever
// corrected entity the server sent back.
func decodeConflict(data []byte) error {
	var conflict struct {
		Error  string        `json:"error"`
		Detail string        `json:"detail"`
		Worker *store.Worker `json:"worker"`
		Net    *store.Net    `json:"net"`
	}
	if err := json.Unmarshal(data, &conflict); err != nil {
		return fmt.Errorf("conflict: %s", string(data))
	}
	return &StaleStateError{Worker: conflict.Worker, Net: conflict.Net, Detail: conflict.Detail}
}
