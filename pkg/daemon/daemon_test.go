package daemon

import (
	"context"
	"testing"
	"time"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"github.com/burrowvirt/burrow/pkg/config"
	"github.com/burrowvirt/burrow/pkg/types"
)

func testDaemon(t *testing.T) *Daemon {
	t.Helper()
	cfg, err := config.Load("")
	require.NoError(t, err)
	cfg.DataDir = t.TempDir()
	cfg.DryRun = true
	cfg.Workers = 2
	cfg.ReconcileInterval = 0

	d, err := New(context.Background(), cfg)
	require.NoError(t, err)

	d.broker.Start()
	d.dispatcher.Start(context.Background())
	t.Cleanup(func() {
		d.dispatcher.Stop()
		d.broker.Stop()
		d.store.Close()
		_ = d.flock.Release()
	})
	return d
}

func defineVM(t *testing.T, d *Daemon, id, name string) *types.VM {
	t.Helper()
	vm := &types.VM{
		ID:        id,
		Name:      name,
		MemoryKiB: 1024 * 1024,
		VCPUs:     2,
		State:     types.VMStateDefined,
		Devices: []*types.Device{
			{Type: types.DeviceDisk, Backend: "/srv/images/" + name + ".img", Frontend: "xvda"},
		},
	}
	require.NoError(t, d.store.CreateVM(vm))
	return vm
}

func TestSubmitStartRunsToCompletion(t *testing.T) {
	d := testDaemon(t)
	vm := defineVM(t, d, "vm-1", "web")

	ops, err := d.Submit(vm, types.RequestStart, nil)
	require.NoError(t, err)
	require.Len(t, ops, 4) // create, build, attach, unpause

	drainCtx, cancel := context.WithTimeout(context.Background(), 5*time.Second)
	defer cancel()
	require.NoError(t, d.dispatcher.Drain(drainCtx))

	got, err := d.store.GetVM("vm-1")
	require.NoError(t, err)
	assert.Equal(t, types.VMStateRunning, got.State)
	require.NotNil(t, got.Placement)

	history, err := d.store.ListMicroOpsByVM("vm-1")
	require.NoError(t, err)
	require.Len(t, history, 4)
	for _, op := range history {
		assert.Equal(t, types.OpStateCompleted, op.State, "op %s", op.Kind)
		assert.False(t, op.StartedAt.IsZero())
		assert.False(t, op.FinishedAt.IsZero())
	}
}

func TestSubmitStopAfterStart(t *testing.T) {
	d := testDaemon(t)
	vm := defineVM(t, d, "vm-1", "web")

	_, err := d.Submit(vm, types.RequestStart, nil)
	require.NoError(t, err)
	_, err = d.Submit(vm, types.RequestStop, nil)
	require.NoError(t, err)

	drainCtx, cancel := context.WithTimeout(context.Background(), 5*time.Second)
	defer cancel()
	require.NoError(t, d.dispatcher.Drain(drainCtx))

	got, err := d.store.GetVM("vm-1")
	require.NoError(t, err)
	assert.Equal(t, types.VMStateHalted, got.State)
	assert.Nil(t, got.Placement)
}

func TestSubmitPersistsOpsBeforeDispatch(t *testing.T) {
	d := testDaemon(t)
	vm := defineVM(t, d, "vm-1", "web")

	ops, err := d.Submit(vm, types.RequestStop, nil)
	require.NoError(t, err)

	for _, op := range ops {
		stored, gerr := d.store.GetMicroOp(op.ID)
		require.NoError(t, gerr)
		assert.Equal(t, op.Kind, stored.Kind)
	}
}

func TestSubmitInvalidRequestEnqueuesNothing(t *testing.T) {
	d := testDaemon(t)
	vm := defineVM(t, d, "vm-1", "web")

	_, err := d.Submit(vm, types.RequestMigrate, nil)
	require.Error(t, err)
	assert.Zero(t, d.dispatcher.QueueDepth())

	history, err := d.store.ListMicroOpsByVM("vm-1")
	require.NoError(t, err)
	assert.Empty(t, history)
}
