package executor

import (
	"context"

	"github.com/burrowvirt/burrow/pkg/types"
)

// Backend performs the actual hypervisor operations for micro-ops. It is
// a collaborator, not part of the scheduler: implementations may shell
// out to a toolstack (backend/xl) or record calls in memory
// (backend/dryrun). Calls return success or failure, never partial
// results.
type Backend interface {
	// CreateDomain creates the paused, empty domain for a VM.
	CreateDomain(ctx context.Context, vm *types.VM) error

	// PopulateMemory performs the hypervisor memory allocation for the
	// decided placement. A round-robin decision means no NUMA affinity.
	PopulateMemory(ctx context.Context, vm *types.VM, dec *types.PlacementDecision) error

	AttachDevice(ctx context.Context, vm *types.VM, dev *types.Device) error
	Unpause(ctx context.Context, vm *types.VM) error
	Pause(ctx context.Context, vm *types.VM) error
	Shutdown(ctx context.Context, vm *types.VM) error
	Destroy(ctx context.Context, vm *types.VM) error

	// Transfer moves a paused VM's state to another host.
	Transfer(ctx context.Context, vm *types.VM, destination string) error
}
