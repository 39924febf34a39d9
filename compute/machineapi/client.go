// Package machineapi implements the compute adapter against a generic
// machine-manager HTTP API.
package machineapi

import (
	"bytes"
	"context"
	"encoding/json"
	"errors"
	"fmt"
	"io"
	"net/http"
	"time"

	"github.com/olenive/petrivelte/compute"
)

type Client struct {
	baseURL    string
	httpClient *http.Client
}

func New(baseURL string, timeout time.Duration) *Client {
	return &Client{
		baseURL: baseURL,
		httpClient: &http.Client{
			Timeout: timeout,
		},
	}
}

func (c *Client) Name() string { return "machineapi" }

func (c *Client) Provision(ctx context.Context, workerID string) (string, error) {
	var result struct {
		MachineID string `json:"machine_id"`
	}
	body := map[string]string{"worker_id": workerID}
	if err := c.do(ctx, http.MethodPost, "/machines", body, &result); err != nil {
		return "", err
	}
	if result.MachineID == "" {
		return "", compute.Transientf("provision %s: empty machine id", workerID)
	}
	return result.MachineID, nil
}

func (c *Client) Start(ctx context.Context, machineID string) error {
	return c.do(ctx, http.MethodPost, "/machines/"+machineID+"/start", nil, nil)
}

func (c *Client) Stop(ctx context.Context, machineID string) error {
	return c.do(ctx, http.MethodPost, "/machines/"+machineID+"/stop", nil, nil)
}

func (c *Client) Destroy(ctx context.Context, machineID string) error {
	err := c.do(ctx, http.MethodDelete, "/machines/"+machineID, nil, nil)
	if compute.IsNotFound(err) {
		// Already gone: destroy is idempotent.
		return nil
	}
	return err
}

func (c *Client) HealthCheck(ctx context.Context, machineID string) (*compute.HealthReport, error) {
	var report compute.HealthReport
	if err := c.do(ctx, http.MethodGet, "/machines/"+machineID+"/health", nil, &report); err != nil {
		return nil, err
	}
	return &report, nil
}

func (c *Client) do(ctx context.Context, method, path string, body any, result any) error {
	var bodyReader io.Reader
	if body != nil {
		data, err := json.Marshal(body)
		if err != nil {
			return fmt.Errorf("machineapi marshal: %w", err)
		}
		bodyReader = bytes.NewReader(data)
	}
	req, err := http.NewRequestWithContext(ctx, method, c.baseURL+path, bodyReader)
	if err != nil {
		return fmt.Errorf("machineapi %s %s: %w", method, path, err)
	}
	if body != nil {
		req.Header.Set("Content-Type", "application/json")
	}

	resp, err := c.httpClient.Do(req)
	if err != nil {
		if errors.Is(err, context.DeadlineExceeded) || errors.Is(err, context.Canceled) {
			return compute.Unreachablef("machineapi %s %s: %v", method, path, err)
		}
		// Connection refused, DNS failure, timeout: the provider is unreachable.
		return compute.Unreachablef("machineapi %s %s: %v", method, path, err)
	}
	defer resp.Body.Close()

	data, err := io.ReadAll(resp.Body)
	if err != nil {
		return compute.Unreachablef("machineapi read body: %v", err)
	}

	switch {
	case resp.StatusCode == http.StatusNotFound:
		return compute.NotFoundf("machineapi %s %s", method, path)
	case resp.StatusCode >= 500:
		return compute.Transientf("machineapi HTTP %d: %s", resp.StatusCode, string(data))
	case resp.StatusCode >= 400:
		return fmt.Errorf("machineapi HTTP %d: %s", resp.StatusCode, string(data))
	}

	if result != nil {
		if err := json.Unmarshal(data, result); err != nil {
			return fmt.Errorf("machineapi decode: %w", err)
		}
	}
	return nil
}
