// Package client is the Go client for the burrow HTTP API, used by the
// CLI subcommands and usable as a library.
package client

import (
	"bytes"
	"context"
	"encoding/json"
	"fmt"
	"io"
	"net/http"
	"net/url"
	"time"

	"github.com/burrowvirt/burrow/pkg/types"
)

// Client talks to a burrow daemon over HTTP.
type Client struct {
	baseURL string
	http    *http.Client
}

// New creates a Client for the daemon at addr (host:port or URL).
func New(addr string) *Client {
	base := addr
	if u, err := url.Parse(addr); err != nil || u.Scheme == "" {
		base = "http://" + addr
	}
	return &Client{
		baseURL: base,
		http:    &http.Client{Timeout: 30 * time.Second},
	}
}

// CreateVMRequest mirrors the API's VM creation body.
type CreateVMRequest struct {
	Name    string          `json:"name"`
	Memory  string          `json:"memory"`
	VCPUs   int             `json:"vcpus"`
	Devices []*types.Device `json:"devices,omitempty"`
}

// SubmitResponse mirrors the API's request submission response.
type SubmitResponse struct {
	VMID string            `json:"vm_id"`
	Kind types.RequestKind `json:"kind"`
	Ops  []*types.MicroOp  `json:"ops"`
}

// CreateVM registers a new VM record.
func (c *Client) CreateVM(ctx context.Context, req *CreateVMRequest) (*types.VM, error) {
	var vm types.VM
	if err := c.do(ctx, http.MethodPost, "/v1/vms", req, &vm); err != nil {
		return nil, err
	}
	return &vm, nil
}

// GetVM fetches a VM by ID or name.
func (c *Client) GetVM(ctx context.Context, idOrName string) (*types.VM, error) {
	var vm types.VM
	if err := c.do(ctx, http.MethodGet, "/v1/vms/"+url.PathEscape(idOrName), nil, &vm); err != nil {
		return nil, err
	}
	return &vm, nil
}

// ListVMs fetches all VM records.
func (c *Client) ListVMs(ctx context.Context) ([]*types.VM, error) {
	var vms []*types.VM
	if err := c.do(ctx, http.MethodGet, "/v1/vms", nil, &vms); err != nil {
		return nil, err
	}
	return vms, nil
}

// DeleteVM removes a VM record and its op history.
func (c *Client) DeleteVM(ctx context.Context, idOrName string) error {
	return c.do(ctx, http.MethodDelete, "/v1/vms/"+url.PathEscape(idOrName), nil, nil)
}

// SubmitRequest submits a lifecycle request for a VM.
func (c *Client) SubmitRequest(ctx context.Context, idOrName string, kind types.RequestKind, params map[string]string) (*SubmitResponse, error) {
	body := map[string]any{"kind": kind}
	if len(params) > 0 {
		body["params"] = params
	}
	var resp SubmitResponse
	path := "/v1/vms/" + url.PathEscape(idOrName) + "/requests"
	if err := c.do(ctx, http.MethodPost, path, body, &resp); err != nil {
		return nil, err
	}
	return &resp, nil
}

// ListOps fetches the micro-op history of a VM, oldest first.
func (c *Client) ListOps(ctx context.Context, idOrName string) ([]*types.MicroOp, error) {
	var ops []*types.MicroOp
	path := "/v1/vms/" + url.PathEscape(idOrName) + "/ops"
	if err := c.do(ctx, http.MethodGet, path, nil, &ops); err != nil {
		return nil, err
	}
	return ops, nil
}

// Health checks daemon liveness.
func (c *Client) Health(ctx context.Context) error {
	return c.do(ctx, http.MethodGet, "/healthz", nil, nil)
}

func (c *Client) do(ctx context.Context, method, path string, body, out any) error {
	var rdr io.Reader
	if body != nil {
		buf, err := json.Marshal(body)
		if err != nil {
			return fmt.Errorf("encode request: %w", err)
		}
		rdr = bytes.NewReader(buf)
	}

	req, err := http.NewRequestWithContext(ctx, method, c.baseURL+path, rdr)
	if err != nil {
		return err
	}
	if body != nil {
		req.Header.Set("Content-Type", "application/json")
	}

	resp, err := c.http.Do(req)
	if err != nil {
		return fmt.Errorf("%s %s: %w", method, path, err)
	}
	defer resp.Body.Close()

	if resp.StatusCode >= 400 {
		var apiErr struct {
			Error string `json:"error"`
		}
		if derr := json.NewDecoder(resp.Body).Decode(&apiErr); derr == nil && apiErr.Error != "" {
			return fmt.Errorf("%s %s: %s (HTTP %d)", method, path, apiErr.Error, resp.StatusCode)
		}
		return fmt.Errorf("%s %s: HTTP %d", method, path, resp.StatusCode)
	}

	if out == nil {
		return nil
	}
	if err := json.NewDecoder(resp.Body).Decode(out); err != nil {
		return fmt.Errorf("decode response: %w", err)
	}
	return nil
}
