package storage

import (
	"github.com/burrowvirt/burrow/pkg/types"
)

// Store persists scheduler state: VM records and micro-op history.
type Store interface {
	// VMs
	CreateVM(vm *types.VM) error
	GetVM(id string) (*types.VM, error)
	GetVMByName(name string) (*types.VM, error)
	ListVMs() ([]*types.VM, error)
	UpdateVM(vm *types.VM) error
	DeleteVM(id string) error

	// Micro-ops. SaveMicroOp upserts, so the dispatcher can persist every
	// state transition under the same call.
	SaveMicroOp(op *types.MicroOp) error
	GetMicroOp(id string) (*types.MicroOp, error)
	ListMicroOpsByVM(vmID string) ([]*types.MicroOp, error)
	DeleteMicroOpsByVM(vmID string) error

	// Utility
	Close() error
}
