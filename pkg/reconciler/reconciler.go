// Package reconciler retries failed VM starts. Memory pressure is
// transient: a start that failed because the host was out of memory or
// had no placement may well succeed once other VMs are torn down, so the
// reconciler periodically re-submits such starts up to a retry budget.
package reconciler

import (
	"time"

	"github.com/rs/zerolog"

	"github.com/burrowvirt/burrow/pkg/log"
	"github.com/burrowvirt/burrow/pkg/metrics"
	"github.com/burrowvirt/burrow/pkg/storage"
	"github.com/burrowvirt/burrow/pkg/types"
)

// Submitter re-submits a lifecycle request. Satisfied by the daemon's
// request path, same as the API server's.
type Submitter interface {
	Submit(vm *types.VM, kind types.RequestKind, params map[string]string) ([]*types.MicroOp, error)
}

// Reconciler periodically retries recoverable start failures and keeps
// the per-state VM gauge fresh.
type Reconciler struct {
	store      storage.Store
	submitter  Submitter
	interval   time.Duration
	maxRetries int
	stopCh     chan struct{}
	logger     zerolog.Logger
}

// New creates a Reconciler ticking at the given interval. maxRetries
// bounds the automatic retries per VM; manual start requests reset the
// counter.
func New(store storage.Store, submitter Submitter, interval time.Duration, maxRetries int) *Reconciler {
	return &Reconciler{
		store:      store,
		submitter:  submitter,
		interval:   interval,
		maxRetries: maxRetries,
		stopCh:     make(chan struct{}),
		logger:     log.WithComponent("reconciler"),
	}
}

// Start begins the reconciliation loop.
func (r *Reconciler) Start() {
	go r.run()
}

// Stop stops the reconciliation loop.
func (r *Reconciler) Stop() {
	close(r.stopCh)
}

func (r *Reconciler) run() {
	ticker := time.NewTicker(r.interval)
	defer ticker.Stop()

	for {
		select {
		case <-ticker.C:
			r.Reconcile()
		case <-r.stopCh:
			return
		}
	}
}

// Reconcile performs one cycle: refresh the VM state gauge and retry
// eligible failed starts. Exported so tests and the daemon can run a
// cycle on demand.
func (r *Reconciler) Reconcile() {
	vms, err := r.store.ListVMs()
	if err != nil {
		r.logger.Error().Err(err).Msg("list VMs")
		return
	}

	counts := make(map[types.VMState]int)
	for _, vm := range vms {
		counts[vm.State]++
	}
	for _, state := range []types.VMState{
		types.VMStateDefined, types.VMStateBuilding, types.VMStateRunning,
		types.VMStatePaused, types.VMStateHalted, types.VMStateError,
	} {
		metrics.VMsTotal.WithLabelValues(string(state)).Set(float64(counts[state]))
	}

	for _, vm := range vms {
		if !r.eligible(vm) {
			continue
		}
		r.retry(vm)
	}
}

// eligible selects VMs whose last start failed for a transient reason
// and that still have retry budget.
func (r *Reconciler) eligible(vm *types.VM) bool {
	return vm.State == types.VMStateError &&
		vm.LastRequest == types.RequestStart &&
		vm.Retries < r.maxRetries &&
		types.RecoverableMessage(vm.LastError)
}

func (r *Reconciler) retry(vm *types.VM) {
	vm.State = types.VMStateDefined
	vm.LastError = ""
	vm.Retries++
	if err := r.store.UpdateVM(vm); err != nil {
		r.logger.Error().Err(err).Str("vm_id", vm.ID).Msg("persist retry state")
		return
	}

	if _, err := r.submitter.Submit(vm, types.RequestStart, nil); err != nil {
		r.logger.Error().Err(err).Str("vm_id", vm.ID).Msg("re-submit start")
		return
	}

	r.logger.Info().
		Str("vm_id", vm.ID).
		Str("name", vm.Name).
		Int("retry", vm.Retries).
		Int("max_retries", r.maxRetries).
		Msg("retrying failed start")
}
