package splitter

import (
	"testing"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"github.com/burrowvirt/burrow/pkg/types"
)

func kinds(ops []*types.MicroOp) []types.MicroOpKind {
	out := make([]types.MicroOpKind, 0, len(ops))
	for _, op := range ops {
		out = append(out, op.Kind)
	}
	return out
}

func testVM() *types.VM {
	return &types.VM{
		ID:        "vm-1",
		Name:      "web",
		MemoryKiB: 1024 * 1024,
		VCPUs:     2,
		Devices: []*types.Device{
			{Type: types.DeviceDisk, Backend: "/srv/images/web.img", Frontend: "xvda"},
			{Type: types.DeviceNIC, Backend: "xenbr0", Frontend: "eth0"},
		},
	}
}

func TestSplitStart(t *testing.T) {
	ops, err := Split(testVM(), types.RequestStart, nil)
	require.NoError(t, err)

	assert.Equal(t, []types.MicroOpKind{
		types.OpCreate,
		types.OpBuild,
		types.OpAttachDevice,
		types.OpAttachDevice,
		types.OpUnpause,
	}, kinds(ops))

	// Attach ops are self-contained.
	disk := ops[2]
	assert.Equal(t, "disk", disk.Params[ParamDeviceType])
	assert.Equal(t, "/srv/images/web.img", disk.Params[ParamDeviceBackend])
	assert.Equal(t, "xvda", disk.Params[ParamDeviceFrontend])
	nic := ops[3]
	assert.Equal(t, "nic", nic.Params[ParamDeviceType])
	assert.Equal(t, "xenbr0", nic.Params[ParamDeviceBackend])

	for _, op := range ops {
		assert.Equal(t, "vm-1", op.VMID)
		assert.NotEmpty(t, op.ID)
	}
}

func TestSplitStartNoDevices(t *testing.T) {
	vm := testVM()
	vm.Devices = nil

	ops, err := Split(vm, types.RequestStart, nil)
	require.NoError(t, err)
	assert.Equal(t, []types.MicroOpKind{types.OpCreate, types.OpBuild, types.OpUnpause}, kinds(ops))
}

func TestSplitStop(t *testing.T) {
	ops, err := Split(testVM(), types.RequestStop, nil)
	require.NoError(t, err)
	assert.Equal(t, []types.MicroOpKind{types.OpShutdown, types.OpDestroy}, kinds(ops))
}

func TestSplitReboot(t *testing.T) {
	ops, err := Split(testVM(), types.RequestReboot, nil)
	require.NoError(t, err)
	assert.Equal(t, []types.MicroOpKind{
		types.OpShutdown,
		types.OpDestroy,
		types.OpCreate,
		types.OpBuild,
		types.OpAttachDevice,
		types.OpAttachDevice,
		types.OpUnpause,
	}, kinds(ops))
}

func TestSplitMigrate(t *testing.T) {
	ops, err := Split(testVM(), types.RequestMigrate, map[string]string{ParamDestination: "host-b"})
	require.NoError(t, err)
	assert.Equal(t, []types.MicroOpKind{types.OpPause, types.OpTransfer, types.OpDestroy}, kinds(ops))
	assert.Equal(t, "host-b", ops[1].Params[ParamDestination])
}

func TestSplitMigrateMissingDestination(t *testing.T) {
	_, err := Split(testVM(), types.RequestMigrate, nil)
	assert.Error(t, err)
}

func TestSplitUnknownKind(t *testing.T) {
	_, err := Split(testVM(), types.RequestKind("defragment"), nil)
	assert.Error(t, err)
}

func TestSplitUniqueOpIDs(t *testing.T) {
	ops, err := Split(testVM(), types.RequestReboot, nil)
	require.NoError(t, err)

	seen := make(map[string]bool)
	for _, op := range ops {
		assert.False(t, seen[op.ID], "duplicate op ID %s", op.ID)
		seen[op.ID] = true
	}
}
