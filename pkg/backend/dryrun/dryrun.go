// Package dryrun is a hypervisor backend that performs no real work. It
// records every call and optionally injects failures, which makes it both
// the --dry-run mode of the daemon and the backend used by scheduler and
// executor tests.
package dryrun

import (
	"context"
	"fmt"
	"sync"

	"github.com/rs/zerolog"

	"github.com/burrowvirt/burrow/pkg/log"
	"github.com/burrowvirt/burrow/pkg/types"
)

// Call is one recorded backend invocation.
type Call struct {
	Op   string // method name: create, populate, attach, unpause, ...
	VMID string
	Arg  string // device frontend, destination, or placement summary
}

// Backend records calls instead of touching a hypervisor.
type Backend struct {
	mu    sync.Mutex
	calls []Call

	// Fail maps a method name to an error injected on every call of that
	// method. Zero value injects nothing.
	Fail map[string]error

	logger zerolog.Logger
}

// New creates a recording backend.
func New() *Backend {
	return &Backend{logger: log.WithComponent("dryrun")}
}

// Calls returns a copy of the recorded call list.
func (b *Backend) Calls() []Call {
	b.mu.Lock()
	defer b.mu.Unlock()
	out := make([]Call, len(b.calls))
	copy(out, b.calls)
	return out
}

// CallsFor returns the recorded method names for one VM, in order.
func (b *Backend) CallsFor(vmID string) []string {
	b.mu.Lock()
	defer b.mu.Unlock()
	var out []string
	for _, c := range b.calls {
		if c.VMID == vmID {
			out = append(out, c.Op)
		}
	}
	return out
}

func (b *Backend) record(op, vmID, arg string) error {
	b.mu.Lock()
	err := b.Fail[op]
	if err == nil {
		b.calls = append(b.calls, Call{Op: op, VMID: vmID, Arg: arg})
	}
	b.mu.Unlock()

	ev := b.logger.Info().Str("vm_id", vmID)
	if arg != "" {
		ev = ev.Str("arg", arg)
	}
	if err != nil {
		ev.Err(err).Msgf("dry-run %s (injected failure)", op)
		return err
	}
	ev.Msgf("dry-run %s", op)
	return nil
}

func (b *Backend) CreateDomain(ctx context.Context, vm *types.VM) error {
	return b.record("create", vm.ID, "")
}

func (b *Backend) PopulateMemory(ctx context.Context, vm *types.VM, dec *types.PlacementDecision) error {
	arg := "round-robin"
	if dec != nil && !dec.RoundRobin {
		arg = fmt.Sprintf("nodes=%v", dec.Nodes)
	}
	return b.record("populate", vm.ID, arg)
}

func (b *Backend) AttachDevice(ctx context.Context, vm *types.VM, dev *types.Device) error {
	return b.record("attach", vm.ID, dev.Frontend)
}

func (b *Backend) Unpause(ctx context.Context, vm *types.VM) error {
	return b.record("unpause", vm.ID, "")
}

func (b *Backend) Pause(ctx context.Context, vm *types.VM) error {
	return b.record("pause", vm.ID, "")
}

func (b *Backend) Shutdown(ctx context.Context, vm *types.VM) error {
	return b.record("shutdown", vm.ID, "")
}

func (b *Backend) Destroy(ctx context.Context, vm *types.VM) error {
	return b.record("destroy", vm.ID, "")
}

func (b *Backend) Transfer(ctx context.Context, vm *types.VM, destination string) error {
	return b.record("transfer", vm.ID, destination)
}
