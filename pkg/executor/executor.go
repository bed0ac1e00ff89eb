// Package executor runs individual micro-ops against a hypervisor
// backend. The build step is where scheduling meets memory reality: it
// waits for free memory, asks the placement advisor for a decision, and
// applies the retry policy for the lazy-scrubbing race.
package executor

import (
	"context"
	"fmt"

	"github.com/rs/zerolog"

	"github.com/burrowvirt/burrow/pkg/log"
	"github.com/burrowvirt/burrow/pkg/memwait"
	"github.com/burrowvirt/burrow/pkg/metrics"
	"github.com/burrowvirt/burrow/pkg/numa"
	"github.com/burrowvirt/burrow/pkg/oracle"
	"github.com/burrowvirt/burrow/pkg/splitter"
	"github.com/burrowvirt/burrow/pkg/storage"
	"github.com/burrowvirt/burrow/pkg/types"
)

// Config holds executor tunables.
type Config struct {
	// MemoryOverheadKiB is added to the VM memory when computing the
	// required host free memory for a build.
	MemoryOverheadKiB uint64
	// Strict fails a build with ErrPlacementUnavailable instead of
	// falling back to round-robin allocation when no placement fits.
	Strict bool
}

// Executor implements sched.Executor against a Backend.
type Executor struct {
	store   storage.Store
	backend Backend
	oracle  oracle.Oracle
	waiter  *memwait.Waiter
	advisor *numa.Advisor
	cfg     Config
	logger  zerolog.Logger
}

// New creates an Executor.
func New(store storage.Store, backend Backend, o oracle.Oracle, waiter *memwait.Waiter, advisor *numa.Advisor, cfg Config) *Executor {
	return &Executor{
		store:   store,
		backend: backend,
		oracle:  o,
		waiter:  waiter,
		advisor: advisor,
		cfg:     cfg,
		logger:  log.WithComponent("executor"),
	}
}

// Execute runs one micro-op to its terminal state. A failure poisons the
// VM record (State=Error) so queued follow-up ops for the same VM fail
// fast instead of acting on a domain that was never built; other VMs are
// unaffected. Submitting a new lifecycle request clears the error state.
func (e *Executor) Execute(ctx context.Context, op *types.MicroOp) error {
	vm, err := e.store.GetVM(op.VMID)
	if err != nil {
		return fmt.Errorf("load VM %s: %w", op.VMID, err)
	}

	if vm.State == types.VMStateError && constructive(op.Kind) {
		return fmt.Errorf("VM %s in error state (%s), not running %s", vm.ID, vm.LastError, op.Kind)
	}

	if err := e.run(ctx, op, vm); err != nil {
		vm.State = types.VMStateError
		vm.LastError = err.Error()
		if uerr := e.store.UpdateVM(vm); uerr != nil {
			e.logger.Error().Err(uerr).Str("vm_id", vm.ID).Msg("failed to persist VM error state")
		}
		return err
	}
	if err := e.store.UpdateVM(vm); err != nil {
		return fmt.Errorf("persist VM %s: %w", vm.ID, err)
	}
	return nil
}

func (e *Executor) run(ctx context.Context, op *types.MicroOp, vm *types.VM) error {
	switch op.Kind {
	case types.OpCreate:
		if err := e.backend.CreateDomain(ctx, vm); err != nil {
			return fmt.Errorf("create domain: %w", err)
		}
		vm.State = types.VMStateBuilding
		return nil

	case types.OpBuild:
		return e.build(ctx, vm)

	case types.OpAttachDevice:
		dev := &types.Device{
			Type:     types.DeviceType(op.Params[splitter.ParamDeviceType]),
			Backend:  op.Params[splitter.ParamDeviceBackend],
			Frontend: op.Params[splitter.ParamDeviceFrontend],
		}
		if err := e.backend.AttachDevice(ctx, vm, dev); err != nil {
			return fmt.Errorf("attach %s %s: %w", dev.Type, dev.Frontend, err)
		}
		return nil

	case types.OpUnpause:
		if err := e.backend.Unpause(ctx, vm); err != nil {
			return fmt.Errorf("unpause: %w", err)
		}
		vm.State = types.VMStateRunning
		vm.LastError = ""
		vm.Retries = 0
		return nil

	case types.OpPause:
		if err := e.backend.Pause(ctx, vm); err != nil {
			return fmt.Errorf("pause: %w", err)
		}
		vm.State = types.VMStatePaused
		return nil

	case types.OpShutdown:
		if err := e.backend.Shutdown(ctx, vm); err != nil {
			return fmt.Errorf("shutdown: %w", err)
		}
		vm.State = types.VMStateHalted
		return nil

	case types.OpDestroy:
		if err := e.backend.Destroy(ctx, vm); err != nil {
			return fmt.Errorf("destroy: %w", err)
		}
		vm.State = types.VMStateHalted
		vm.Placement = nil
		return nil

	case types.OpTransfer:
		dest := op.Params[splitter.ParamDestination]
		if err := e.backend.Transfer(ctx, vm, dest); err != nil {
			return fmt.Errorf("transfer to %s: %w", dest, err)
		}
		return nil

	default:
		return fmt.Errorf("unknown micro-op kind %q", op.Kind)
	}
}

// build implements the memory-sensitive step of a VM start.
//
// The host-wide free figure can lag actual availability because the
// hypervisor scrubs deallocated memory lazily: a placement attempt right
// after a teardown may see too little free memory even though it becomes
// sufficient moments later. The policy below is the retry hook for that
// race — retry placement once, and only when the free reading moved.
func (e *Executor) build(ctx context.Context, vm *types.VM) error {
	required := vm.MemoryKiB + e.cfg.MemoryOverheadKiB

	timer := metrics.NewTimer()
	if err := e.waiter.WaitHost(ctx, required); err != nil {
		timer.ObserveDuration(metrics.MemoryWaitSeconds)
		return fmt.Errorf("wait for %d KiB host free: %w", required, err)
	}
	timer.ObserveDuration(metrics.MemoryWaitSeconds)

	snap, err := e.oracle.HostMemory(ctx)
	if err != nil {
		return fmt.Errorf("query host memory: %w", err)
	}
	table, err := e.oracle.NodeTable(ctx)
	if err != nil {
		return fmt.Errorf("query node table: %w", err)
	}

	dec := e.advisor.Place(vm.MemoryKiB, vm.VCPUs, table)
	if dec == nil {
		dec, err = e.retryPlacement(ctx, vm, snap.FreeKiB)
		if err != nil {
			return err
		}
	}
	if dec == nil {
		if e.cfg.Strict {
			metrics.PlacementDecisions.WithLabelValues("unavailable").Inc()
			return fmt.Errorf("no NUMA node or same-socket pair fits %d KiB: %w",
				vm.MemoryKiB, types.ErrPlacementUnavailable)
		}
		metrics.PlacementDecisions.WithLabelValues("fallback").Inc()
		e.logger.Warn().
			Str("vm_id", vm.ID).
			Uint64("mem_kib", vm.MemoryKiB).
			Msg("no placement fits, falling back to round-robin allocation")
		dec = &types.PlacementDecision{RoundRobin: true}
	} else {
		if len(dec.Nodes) == 1 {
			metrics.PlacementDecisions.WithLabelValues("single").Inc()
		} else {
			metrics.PlacementDecisions.WithLabelValues("pair").Inc()
		}
	}

	if err := e.backend.PopulateMemory(ctx, vm, dec); err != nil {
		return fmt.Errorf("populate %d KiB: %v: %w", vm.MemoryKiB, err, types.ErrAllocationFailed)
	}

	vm.Placement = dec
	return nil
}

// retryPlacement re-reads the oracle and tries placement exactly once
// more, but only if the host free-memory reading has changed since the
// failed attempt — an unchanged reading means the scrubber has produced
// nothing new and a second attempt would see the same table.
func (e *Executor) retryPlacement(ctx context.Context, vm *types.VM, prevFreeKiB uint64) (*types.PlacementDecision, error) {
	cur, err := e.oracle.HostMemory(ctx)
	if err != nil {
		return nil, fmt.Errorf("query host memory: %w", err)
	}
	if cur.FreeKiB == prevFreeKiB {
		return nil, nil
	}

	metrics.PlacementRetries.Inc()
	e.logger.Debug().
		Str("vm_id", vm.ID).
		Uint64("prev_free_kib", prevFreeKiB).
		Uint64("free_kib", cur.FreeKiB).
		Msg("free memory moved, retrying placement")

	table, err := e.oracle.NodeTable(ctx)
	if err != nil {
		return nil, fmt.Errorf("query node table: %w", err)
	}
	return e.advisor.Place(vm.MemoryKiB, vm.VCPUs, table), nil
}

// constructive reports whether an op builds toward a running VM, as
// opposed to tearing one down. Teardown ops stay runnable in the error
// state so a stop request can always clean up.
func constructive(kind types.MicroOpKind) bool {
	switch kind {
	case types.OpCreate, types.OpBuild, types.OpAttachDevice, types.OpUnpause, types.OpTransfer:
		return true
	}
	return false
}
