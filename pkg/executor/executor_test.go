package executor

import (
	"context"
	"errors"
	"sync"
	"testing"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"github.com/burrowvirt/burrow/pkg/backend/dryrun"
	"github.com/burrowvirt/burrow/pkg/memwait"
	"github.com/burrowvirt/burrow/pkg/numa"
	"github.com/burrowvirt/burrow/pkg/oracle"
	"github.com/burrowvirt/burrow/pkg/splitter"
	"github.com/burrowvirt/burrow/pkg/types"
)

// memStore is an in-memory storage.Store for executor tests.
type memStore struct {
	mu  sync.Mutex
	vms map[string]*types.VM
	ops map[string]*types.MicroOp
}

func newMemStore() *memStore {
	return &memStore{vms: make(map[string]*types.VM), ops: make(map[string]*types.MicroOp)}
}

func (s *memStore) CreateVM(vm *types.VM) error { return s.UpdateVM(vm) }

func (s *memStore) GetVM(id string) (*types.VM, error) {
	s.mu.Lock()
	defer s.mu.Unlock()
	vm, ok := s.vms[id]
	if !ok {
		return nil, types.ErrVMNotFound
	}
	cp := *vm
	return &cp, nil
}

func (s *memStore) GetVMByName(name string) (*types.VM, error) {
	s.mu.Lock()
	defer s.mu.Unlock()
	for _, vm := range s.vms {
		if vm.Name == name {
			cp := *vm
			return &cp, nil
		}
	}
	return nil, types.ErrVMNotFound
}

func (s *memStore) ListVMs() ([]*types.VM, error) {
	s.mu.Lock()
	defer s.mu.Unlock()
	out := make([]*types.VM, 0, len(s.vms))
	for _, vm := range s.vms {
		cp := *vm
		out = append(out, &cp)
	}
	return out, nil
}

func (s *memStore) UpdateVM(vm *types.VM) error {
	s.mu.Lock()
	defer s.mu.Unlock()
	cp := *vm
	s.vms[vm.ID] = &cp
	return nil
}

func (s *memStore) DeleteVM(id string) error {
	s.mu.Lock()
	defer s.mu.Unlock()
	delete(s.vms, id)
	return nil
}

func (s *memStore) SaveMicroOp(op *types.MicroOp) error {
	s.mu.Lock()
	defer s.mu.Unlock()
	cp := *op
	s.ops[op.ID] = &cp
	return nil
}

func (s *memStore) GetMicroOp(id string) (*types.MicroOp, error) {
	s.mu.Lock()
	defer s.mu.Unlock()
	op, ok := s.ops[id]
	if !ok {
		return nil, errors.New("micro-op not found")
	}
	cp := *op
	return &cp, nil
}

func (s *memStore) ListMicroOpsByVM(vmID string) ([]*types.MicroOp, error) {
	s.mu.Lock()
	defer s.mu.Unlock()
	var out []*types.MicroOp
	for _, op := range s.ops {
		if op.VMID == vmID {
			cp := *op
			out = append(out, &cp)
		}
	}
	return out, nil
}

func (s *memStore) DeleteMicroOpsByVM(vmID string) error {
	s.mu.Lock()
	defer s.mu.Unlock()
	for id, op := range s.ops {
		if op.VMID == vmID {
			delete(s.ops, id)
		}
	}
	return nil
}

func (s *memStore) Close() error { return nil }

const testMemKiB = 4_000_000

func buildVM() *types.VM {
	return &types.VM{ID: "vm-1", Name: "web", MemoryKiB: testMemKiB, VCPUs: 2, State: types.VMStateBuilding}
}

// noFitTable has four small nodes; no node and no pair can hold testMemKiB.
func noFitTable() types.NodeTable {
	return nodeTable(1_500_000, 1_500_000, 1_500_000, 1_500_000)
}

func nodeTable(free ...uint64) types.NodeTable {
	dist := [][]int{
		{10, 12, 21, 21},
		{12, 10, 21, 21},
		{21, 21, 10, 12},
		{21, 21, 12, 10},
	}
	t := types.NodeTable{}
	for i, f := range free {
		t.Nodes = append(t.Nodes, &types.NUMANode{ID: i, FreeKiB: f, Distances: dist[i]})
	}
	return t
}

func newTestExecutor(t *testing.T, o oracle.Oracle, cfg Config) (*Executor, *memStore, *dryrun.Backend) {
	t.Helper()
	store := newMemStore()
	be := dryrun.New()
	ex := New(store, be, o, memwait.New(o, 2), numa.New(0), cfg)
	return ex, store, be
}

func buildOp() *types.MicroOp {
	return &types.MicroOp{ID: "op-build", VMID: "vm-1", Kind: types.OpBuild}
}

func TestBuildRetriesOnceWhenFreeReadingChanged(t *testing.T) {
	o := oracle.NewScript(
		[]types.HostMemory{
			{FreeKiB: 6_000_000, ScrubKiB: 0},       // waiter poll: threshold met
			{FreeKiB: 4_500_000, ScrubKiB: 500_000}, // snapshot before placement
			{FreeKiB: 5_000_000, ScrubKiB: 0},       // changed reading: retry allowed
		},
		[]types.NodeTable{
			noFitTable(),
			nodeTable(4_000_000, 1_000_000, 1_000_000, 1_000_000),
		},
	)
	ex, store, be := newTestExecutor(t, o, Config{})

	require.NoError(t, store.CreateVM(buildVM()))
	require.NoError(t, ex.Execute(context.Background(), buildOp()))

	vm, err := store.GetVM("vm-1")
	require.NoError(t, err)
	require.NotNil(t, vm.Placement)
	assert.Equal(t, []int{0}, vm.Placement.Nodes)
	assert.False(t, vm.Placement.RoundRobin)

	// One wait poll, one snapshot, one retry check. Never more.
	assert.Equal(t, 3, o.HostCalls)

	calls := be.Calls()
	require.Len(t, calls, 1)
	assert.Equal(t, "populate", calls[0].Op)
	assert.Equal(t, "nodes=[0]", calls[0].Arg)
}

func TestBuildFallsBackWhenFreeReadingUnchanged(t *testing.T) {
	o := oracle.NewScript(
		[]types.HostMemory{
			{FreeKiB: 6_000_000, ScrubKiB: 0},
			{FreeKiB: 4_500_000, ScrubKiB: 500_000},
			{FreeKiB: 4_500_000, ScrubKiB: 500_000}, // unchanged: no second attempt
		},
		[]types.NodeTable{noFitTable()},
	)
	ex, store, be := newTestExecutor(t, o, Config{})

	require.NoError(t, store.CreateVM(buildVM()))
	require.NoError(t, ex.Execute(context.Background(), buildOp()))

	vm, err := store.GetVM("vm-1")
	require.NoError(t, err)
	require.NotNil(t, vm.Placement)
	assert.True(t, vm.Placement.RoundRobin)
	assert.Empty(t, vm.Placement.Nodes)
	assert.Equal(t, 3, o.HostCalls)

	calls := be.Calls()
	require.Len(t, calls, 1)
	assert.Equal(t, "round-robin", calls[0].Arg)
}

func TestBuildStrictFailsWithoutPlacement(t *testing.T) {
	o := oracle.NewScript(
		[]types.HostMemory{
			{FreeKiB: 6_000_000, ScrubKiB: 0},
			{FreeKiB: 4_500_000, ScrubKiB: 500_000},
		},
		[]types.NodeTable{noFitTable()},
	)
	ex, store, be := newTestExecutor(t, o, Config{Strict: true})

	require.NoError(t, store.CreateVM(buildVM()))
	err := ex.Execute(context.Background(), buildOp())
	require.Error(t, err)
	assert.True(t, errors.Is(err, types.ErrPlacementUnavailable))
	assert.Empty(t, be.Calls())

	vm, gerr := store.GetVM("vm-1")
	require.NoError(t, gerr)
	assert.Equal(t, types.VMStateError, vm.State)
	assert.NotEmpty(t, vm.LastError)
}

func TestBuildOutOfMemoryFailsImmediately(t *testing.T) {
	// Nothing pending scrub: waiting cannot help.
	o := oracle.NewScript(
		[]types.HostMemory{{FreeKiB: 1_000, ScrubKiB: 0}},
		nil,
	)
	ex, store, be := newTestExecutor(t, o, Config{})

	require.NoError(t, store.CreateVM(buildVM()))
	err := ex.Execute(context.Background(), buildOp())
	require.Error(t, err)
	assert.True(t, errors.Is(err, types.ErrOutOfMemory))
	assert.Equal(t, 1, o.HostCalls)
	assert.Empty(t, be.Calls())
}

func TestBuildOverheadRaisesRequirement(t *testing.T) {
	// Free covers the VM but not VM+overhead, and scrub is zero.
	o := oracle.NewScript(
		[]types.HostMemory{{FreeKiB: testMemKiB + 1_000, ScrubKiB: 0}},
		nil,
	)
	ex, store, _ := newTestExecutor(t, o, Config{MemoryOverheadKiB: 10_240})

	require.NoError(t, store.CreateVM(buildVM()))
	err := ex.Execute(context.Background(), buildOp())
	assert.True(t, errors.Is(err, types.ErrOutOfMemory))
}

func TestBuildWrapsAllocationFailure(t *testing.T) {
	o := oracle.NewScript(
		[]types.HostMemory{
			{FreeKiB: 6_000_000, ScrubKiB: 0},
			{FreeKiB: 6_000_000, ScrubKiB: 0},
		},
		[]types.NodeTable{nodeTable(4_000_000, 1_000_000, 1_000_000, 1_000_000)},
	)
	ex, store, be := newTestExecutor(t, o, Config{})
	be.Fail = map[string]error{"populate": errors.New("xl: cannot allocate")}

	require.NoError(t, store.CreateVM(buildVM()))
	err := ex.Execute(context.Background(), buildOp())
	require.Error(t, err)
	assert.True(t, errors.Is(err, types.ErrAllocationFailed))

	vm, gerr := store.GetVM("vm-1")
	require.NoError(t, gerr)
	assert.Equal(t, types.VMStateError, vm.State)
	assert.Nil(t, vm.Placement)
}

func TestErrorStateFailsConstructiveOps(t *testing.T) {
	o := oracle.NewScript([]types.HostMemory{{FreeKiB: 6_000_000}}, nil)
	ex, store, be := newTestExecutor(t, o, Config{})

	vm := buildVM()
	vm.State = types.VMStateError
	vm.LastError = "populate 4000000 KiB: allocation failed"
	require.NoError(t, store.CreateVM(vm))

	err := ex.Execute(context.Background(), &types.MicroOp{ID: "op-c", VMID: "vm-1", Kind: types.OpCreate})
	require.Error(t, err)
	assert.Empty(t, be.Calls())
}

func TestErrorStateStillAllowsTeardown(t *testing.T) {
	o := oracle.NewScript([]types.HostMemory{{FreeKiB: 6_000_000}}, nil)
	ex, store, be := newTestExecutor(t, o, Config{})

	vm := buildVM()
	vm.State = types.VMStateError
	require.NoError(t, store.CreateVM(vm))

	require.NoError(t, ex.Execute(context.Background(), &types.MicroOp{ID: "op-d", VMID: "vm-1", Kind: types.OpDestroy}))

	got, err := store.GetVM("vm-1")
	require.NoError(t, err)
	assert.Equal(t, types.VMStateHalted, got.State)
	assert.Equal(t, []string{"destroy"}, be.CallsFor("vm-1"))
}

func TestStartSequenceEndsRunning(t *testing.T) {
	o := oracle.NewScript(
		[]types.HostMemory{
			{FreeKiB: 6_000_000, ScrubKiB: 0},
			{FreeKiB: 6_000_000, ScrubKiB: 0},
		},
		[]types.NodeTable{nodeTable(5_000_000, 1_000_000, 1_000_000, 1_000_000)},
	)
	ex, store, be := newTestExecutor(t, o, Config{})

	vm := buildVM()
	vm.State = types.VMStateDefined
	vm.Devices = []*types.Device{
		{Type: types.DeviceDisk, Backend: "/srv/images/web.img", Frontend: "xvda"},
	}
	require.NoError(t, store.CreateVM(vm))

	ops, err := splitter.Split(vm, types.RequestStart, nil)
	require.NoError(t, err)
	for _, op := range ops {
		require.NoError(t, ex.Execute(context.Background(), op), "op %s", op.Kind)
	}

	got, err := store.GetVM("vm-1")
	require.NoError(t, err)
	assert.Equal(t, types.VMStateRunning, got.State)
	assert.Empty(t, got.LastError)
	require.NotNil(t, got.Placement)
	assert.Equal(t, []int{0}, got.Placement.Nodes)

	assert.Equal(t, []string{"create", "populate", "attach", "unpause"}, be.CallsFor("vm-1"))
}

func TestUnknownVMFails(t *testing.T) {
	o := oracle.NewScript([]types.HostMemory{{FreeKiB: 1}}, nil)
	ex, _, _ := newTestExecutor(t, o, Config{})

	err := ex.Execute(context.Background(), &types.MicroOp{ID: "op-x", VMID: "ghost", Kind: types.OpCreate})
	assert.True(t, errors.Is(err, types.ErrVMNotFound))
}
