// Package splitter translates high-level lifecycle requests into ordered
// micro-op lists. The mapping is purely structural: request kind in,
// fixed op sequence out, one attach-device op per configured device. All
// memory and NUMA logic lives downstream in the executor.
package splitter

import (
	"fmt"
	"strconv"

	"github.com/google/uuid"

	"github.com/burrowvirt/burrow/pkg/types"
)

// Param keys carried by micro-ops. Ops must be self-contained: a worker
// executes them from the queue without access to the original request.
const (
	ParamDeviceType     = "device_type"
	ParamDeviceBackend  = "device_backend"
	ParamDeviceFrontend = "device_frontend"
	ParamDeviceIndex    = "device_index"
	ParamDestination    = "destination"
)

// Split maps a lifecycle request onto the micro-op sequence for vm, in
// execution order. The caller enqueues the whole result onto the VM's
// queue in one call to preserve ordering.
func Split(vm *types.VM, kind types.RequestKind, params map[string]string) ([]*types.MicroOp, error) {
	switch kind {
	case types.RequestStart:
		return startOps(vm), nil

	case types.RequestStop:
		return ops(vm, types.OpShutdown, types.OpDestroy), nil

	case types.RequestReboot:
		return append(ops(vm, types.OpShutdown, types.OpDestroy), startOps(vm)...), nil

	case types.RequestMigrate:
		dest := params[ParamDestination]
		if dest == "" {
			return nil, fmt.Errorf("migrate request for VM %s missing destination", vm.ID)
		}
		seq := ops(vm, types.OpPause)
		transfer := newOp(vm, types.OpTransfer)
		transfer.Params[ParamDestination] = dest
		seq = append(seq, transfer)
		return append(seq, ops(vm, types.OpDestroy)...), nil

	default:
		return nil, fmt.Errorf("unknown lifecycle request kind %q", kind)
	}
}

func startOps(vm *types.VM) []*types.MicroOp {
	seq := ops(vm, types.OpCreate, types.OpBuild)
	for i, dev := range vm.Devices {
		attach := newOp(vm, types.OpAttachDevice)
		attach.Params[ParamDeviceType] = string(dev.Type)
		attach.Params[ParamDeviceBackend] = dev.Backend
		attach.Params[ParamDeviceFrontend] = dev.Frontend
		attach.Params[ParamDeviceIndex] = strconv.Itoa(i)
		seq = append(seq, attach)
	}
	return append(seq, ops(vm, types.OpUnpause)...)
}

func ops(vm *types.VM, kinds ...types.MicroOpKind) []*types.MicroOp {
	out := make([]*types.MicroOp, 0, len(kinds))
	for _, k := range kinds {
		out = append(out, newOp(vm, k))
	}
	return out
}

func newOp(vm *types.VM, kind types.MicroOpKind) *types.MicroOp {
	return &types.MicroOp{
		ID:     uuid.New().String(),
		VMID:   vm.ID,
		Kind:   kind,
		Params: make(map[string]string),
	}
}
