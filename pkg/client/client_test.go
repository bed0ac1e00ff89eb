package client

import (
	"context"
	"encoding/json"
	"net/http"
	"net/http/httptest"
	"testing"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"github.com/burrowvirt/burrow/pkg/types"
)

func TestCreateAndGetVM(t *testing.T) {
	srv := httptest.NewServer(http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		switch {
		case r.Method == http.MethodPost && r.URL.Path == "/v1/vms":
			var req CreateVMRequest
			require.NoError(t, json.NewDecoder(r.Body).Decode(&req))
			assert.Equal(t, "web", req.Name)
			w.WriteHeader(http.StatusCreated)
			json.NewEncoder(w).Encode(types.VM{ID: "vm-1", Name: req.Name, State: types.VMStateDefined})
		case r.Method == http.MethodGet && r.URL.Path == "/v1/vms/vm-1":
			json.NewEncoder(w).Encode(types.VM{ID: "vm-1", Name: "web"})
		default:
			w.WriteHeader(http.StatusNotFound)
			json.NewEncoder(w).Encode(map[string]string{"error": "not found"})
		}
	}))
	defer srv.Close()

	c := New(srv.URL)
	ctx := context.Background()

	vm, err := c.CreateVM(ctx, &CreateVMRequest{Name: "web", Memory: "1GiB"})
	require.NoError(t, err)
	assert.Equal(t, "vm-1", vm.ID)

	got, err := c.GetVM(ctx, "vm-1")
	require.NoError(t, err)
	assert.Equal(t, "web", got.Name)

	_, err = c.GetVM(ctx, "ghost")
	require.Error(t, err)
	assert.Contains(t, err.Error(), "not found")
}

func TestSubmitRequest(t *testing.T) {
	srv := httptest.NewServer(http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		require.Equal(t, "/v1/vms/web/requests", r.URL.Path)
		var body struct {
			Kind   types.RequestKind `json:"kind"`
			Params map[string]string `json:"params"`
		}
		require.NoError(t, json.NewDecoder(r.Body).Decode(&body))
		assert.Equal(t, types.RequestMigrate, body.Kind)
		assert.Equal(t, "host-b", body.Params["destination"])

		w.WriteHeader(http.StatusAccepted)
		json.NewEncoder(w).Encode(SubmitResponse{
			VMID: "vm-1",
			Kind: body.Kind,
			Ops:  []*types.MicroOp{{ID: "op-1", Kind: types.OpPause}},
		})
	}))
	defer srv.Close()

	resp, err := New(srv.URL).SubmitRequest(context.Background(), "web",
		types.RequestMigrate, map[string]string{"destination": "host-b"})
	require.NoError(t, err)
	assert.Equal(t, "vm-1", resp.VMID)
	require.Len(t, resp.Ops, 1)
}

func TestAddrWithoutScheme(t *testing.T) {
	c := New("127.0.0.1:7600")
	assert.Equal(t, "http://127.0.0.1:7600", c.baseURL)
}
