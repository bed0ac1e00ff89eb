// Package api serves the HTTP ingress for lifecycle requests. It owns
// VM records and request admission; everything after admission — the
// split into micro-ops, queueing, execution — happens behind the
// Submitter interface.
package api

import (
	"context"
	"encoding/json"
	"errors"
	"fmt"
	"net/http"
	"strconv"
	"time"

	"github.com/docker/go-units"
	"github.com/google/uuid"
	"github.com/rs/zerolog"

	"github.com/burrowvirt/burrow/pkg/events"
	"github.com/burrowvirt/burrow/pkg/log"
	"github.com/burrowvirt/burrow/pkg/metrics"
	"github.com/burrowvirt/burrow/pkg/storage"
	"github.com/burrowvirt/burrow/pkg/types"
)

// Submitter accepts an admitted lifecycle request for a VM and returns
// the micro-ops enqueued for it. The daemon implements it on top of the
// splitter and dispatcher.
type Submitter interface {
	Submit(vm *types.VM, kind types.RequestKind, params map[string]string) ([]*types.MicroOp, error)
}

// Server is the HTTP API server.
type Server struct {
	store     storage.Store
	submitter Submitter
	broker    *events.Broker
	mux       *http.ServeMux
	logger    zerolog.Logger

	httpServer *http.Server
}

// NewServer creates the API server and registers its routes.
func NewServer(store storage.Store, submitter Submitter, broker *events.Broker) *Server {
	s := &Server{
		store:     store,
		submitter: submitter,
		broker:    broker,
		mux:       http.NewServeMux(),
		logger:    log.WithComponent("api"),
	}

	s.mux.HandleFunc("GET /healthz", s.handleHealth)
	s.mux.HandleFunc("POST /v1/vms", s.handleCreateVM)
	s.mux.HandleFunc("GET /v1/vms", s.handleListVMs)
	s.mux.HandleFunc("GET /v1/vms/{id}", s.handleGetVM)
	s.mux.HandleFunc("DELETE /v1/vms/{id}", s.handleDeleteVM)
	s.mux.HandleFunc("POST /v1/vms/{id}/requests", s.handleSubmitRequest)
	s.mux.HandleFunc("GET /v1/vms/{id}/ops", s.handleListOps)

	return s
}

// Handler returns the server's handler with logging and metrics applied.
func (s *Server) Handler() http.Handler {
	return s.instrument(s.mux)
}

// Start serves the API on addr until Shutdown is called.
func (s *Server) Start(addr string) error {
	s.httpServer = &http.Server{
		Addr:         addr,
		Handler:      s.Handler(),
		ReadTimeout:  5 * time.Second,
		WriteTimeout: 30 * time.Second,
		IdleTimeout:  60 * time.Second,
	}
	s.logger.Info().Str("addr", addr).Msg("API server listening")
	err := s.httpServer.ListenAndServe()
	if errors.Is(err, http.ErrServerClosed) {
		return nil
	}
	return err
}

// Shutdown stops the HTTP server gracefully.
func (s *Server) Shutdown(ctx context.Context) error {
	if s.httpServer == nil {
		return nil
	}
	return s.httpServer.Shutdown(ctx)
}

type statusRecorder struct {
	http.ResponseWriter
	status int
}

func (r *statusRecorder) WriteHeader(code int) {
	r.status = code
	r.ResponseWriter.WriteHeader(code)
}

func (s *Server) instrument(next http.Handler) http.Handler {
	return http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		rec := &statusRecorder{ResponseWriter: w, status: http.StatusOK}
		start := time.Now()
		next.ServeHTTP(rec, r)

		metrics.APIRequestsTotal.WithLabelValues(r.Method, strconv.Itoa(rec.status)).Inc()
		s.logger.Debug().
			Str("method", r.Method).
			Str("path", r.URL.Path).
			Int("status", rec.status).
			Dur("duration", time.Since(start)).
			Msg("request handled")
	})
}

// CreateVMRequest is the body of POST /v1/vms. Memory accepts human
// sizes ("2GiB", "512m"); bare numbers are bytes.
type CreateVMRequest struct {
	Name    string          `json:"name"`
	Memory  string          `json:"memory"`
	VCPUs   int             `json:"vcpus"`
	Devices []*types.Device `json:"devices,omitempty"`
}

// SubmitRequest is the body of POST /v1/vms/{id}/requests.
type SubmitRequest struct {
	Kind   types.RequestKind `json:"kind"`
	Params map[string]string `json:"params,omitempty"`
}

// SubmitResponse reports the micro-ops enqueued for a request.
type SubmitResponse struct {
	VMID string            `json:"vm_id"`
	Kind types.RequestKind `json:"kind"`
	Ops  []*types.MicroOp  `json:"ops"`
}

type errorResponse struct {
	Error string `json:"error"`
}

func (s *Server) handleHealth(w http.ResponseWriter, r *http.Request) {
	writeJSON(w, http.StatusOK, map[string]string{"status": "healthy"})
}

func (s *Server) handleCreateVM(w http.ResponseWriter, r *http.Request) {
	var req CreateVMRequest
	if err := json.NewDecoder(r.Body).Decode(&req); err != nil {
		writeError(w, http.StatusBadRequest, fmt.Sprintf("invalid request body: %v", err))
		return
	}
	if req.Name == "" {
		writeError(w, http.StatusBadRequest, "name is required")
		return
	}

	memBytes, err := units.RAMInBytes(req.Memory)
	if err != nil || memBytes <= 0 {
		writeError(w, http.StatusBadRequest, fmt.Sprintf("invalid memory size %q", req.Memory))
		return
	}
	vcpus := req.VCPUs
	if vcpus <= 0 {
		vcpus = 1
	}
	for _, dev := range req.Devices {
		if dev.Type != types.DeviceDisk && dev.Type != types.DeviceNIC {
			writeError(w, http.StatusBadRequest, fmt.Sprintf("unknown device type %q", dev.Type))
			return
		}
	}

	if _, err := s.store.GetVMByName(req.Name); err == nil {
		writeError(w, http.StatusConflict, fmt.Sprintf("VM %q already exists", req.Name))
		return
	}

	now := time.Now()
	vm := &types.VM{
		ID:        uuid.New().String(),
		Name:      req.Name,
		MemoryKiB: uint64(memBytes) / 1024,
		VCPUs:     vcpus,
		Devices:   req.Devices,
		State:     types.VMStateDefined,
		CreatedAt: now,
		UpdatedAt: now,
	}
	if err := s.store.CreateVM(vm); err != nil {
		writeError(w, http.StatusInternalServerError, fmt.Sprintf("create VM: %v", err))
		return
	}

	s.broker.Publish(events.EventVMCreated, fmt.Sprintf("VM %s created", vm.Name),
		map[string]string{"vm_id": vm.ID})
	s.logger.Info().Str("vm_id", vm.ID).Str("name", vm.Name).
		Uint64("memory_kib", vm.MemoryKiB).Int("vcpus", vm.VCPUs).Msg("VM created")

	writeJSON(w, http.StatusCreated, vm)
}

func (s *Server) handleListVMs(w http.ResponseWriter, r *http.Request) {
	vms, err := s.store.ListVMs()
	if err != nil {
		writeError(w, http.StatusInternalServerError, fmt.Sprintf("list VMs: %v", err))
		return
	}
	writeJSON(w, http.StatusOK, vms)
}

func (s *Server) handleGetVM(w http.ResponseWriter, r *http.Request) {
	vm, ok := s.lookupVM(w, r.PathValue("id"))
	if !ok {
		return
	}
	writeJSON(w, http.StatusOK, vm)
}

func (s *Server) handleDeleteVM(w http.ResponseWriter, r *http.Request) {
	vm, ok := s.lookupVM(w, r.PathValue("id"))
	if !ok {
		return
	}
	switch vm.State {
	case types.VMStateRunning, types.VMStatePaused, types.VMStateBuilding:
		writeError(w, http.StatusConflict,
			fmt.Sprintf("VM %s is %s; stop it before deleting", vm.Name, vm.State))
		return
	}

	if err := s.store.DeleteMicroOpsByVM(vm.ID); err != nil {
		writeError(w, http.StatusInternalServerError, fmt.Sprintf("delete op history: %v", err))
		return
	}
	if err := s.store.DeleteVM(vm.ID); err != nil {
		writeError(w, http.StatusInternalServerError, fmt.Sprintf("delete VM: %v", err))
		return
	}

	s.broker.Publish(events.EventVMDeleted, fmt.Sprintf("VM %s deleted", vm.Name),
		map[string]string{"vm_id": vm.ID})
	w.WriteHeader(http.StatusNoContent)
}

func (s *Server) handleSubmitRequest(w http.ResponseWriter, r *http.Request) {
	vm, ok := s.lookupVM(w, r.PathValue("id"))
	if !ok {
		return
	}

	var req SubmitRequest
	if err := json.NewDecoder(r.Body).Decode(&req); err != nil {
		writeError(w, http.StatusBadRequest, fmt.Sprintf("invalid request body: %v", err))
		return
	}

	// A new start is the operator's way out of the error state: clear it
	// before the ops are enqueued so the executor accepts them.
	if req.Kind == types.RequestStart && vm.State == types.VMStateError {
		vm.State = types.VMStateDefined
		vm.LastError = ""
		vm.Retries = 0
	}
	vm.LastRequest = req.Kind
	vm.UpdatedAt = time.Now()
	if err := s.store.UpdateVM(vm); err != nil {
		writeError(w, http.StatusInternalServerError, fmt.Sprintf("update VM: %v", err))
		return
	}

	ops, err := s.submitter.Submit(vm, req.Kind, req.Params)
	if err != nil {
		writeError(w, http.StatusBadRequest, err.Error())
		return
	}

	s.logger.Info().Str("vm_id", vm.ID).Str("kind", string(req.Kind)).
		Int("ops", len(ops)).Msg("lifecycle request accepted")

	writeJSON(w, http.StatusAccepted, SubmitResponse{VMID: vm.ID, Kind: req.Kind, Ops: ops})
}

func (s *Server) handleListOps(w http.ResponseWriter, r *http.Request) {
	vm, ok := s.lookupVM(w, r.PathValue("id"))
	if !ok {
		return
	}
	ops, err := s.store.ListMicroOpsByVM(vm.ID)
	if err != nil {
		writeError(w, http.StatusInternalServerError, fmt.Sprintf("list ops: %v", err))
		return
	}
	writeJSON(w, http.StatusOK, ops)
}

// lookupVM resolves a path ID to a VM, trying the ID first and the name
// second. Writes the error response itself on failure.
func (s *Server) lookupVM(w http.ResponseWriter, id string) (*types.VM, bool) {
	vm, err := s.store.GetVM(id)
	if errors.Is(err, types.ErrVMNotFound) {
		vm, err = s.store.GetVMByName(id)
	}
	if errors.Is(err, types.ErrVMNotFound) {
		writeError(w, http.StatusNotFound, fmt.Sprintf("VM %q not found", id))
		return nil, false
	}
	if err != nil {
		writeError(w, http.StatusInternalServerError, err.Error())
		return nil, false
	}
	return vm, true
}

func writeJSON(w http.ResponseWriter, status int, v any) {
	w.Header().Set("Content-Type", "application/json")
	w.WriteHeader(status)
	_ = json.NewEncoder(w).Encode(v)
}

func writeError(w http.ResponseWriter, status int, msg string) {
	writeJSON(w, status, errorResponse{Error: msg})
}
