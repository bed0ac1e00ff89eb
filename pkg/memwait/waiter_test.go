package memwait

import (
	"context"
	"errors"
	"testing"
	"time"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"github.com/burrowvirt/burrow/pkg/oracle"
	"github.com/burrowvirt/burrow/pkg/types"
)

// instant replaces the waiter's sleep with a counter so tests never
// depend on real timing.
func instant(w *Waiter) *int {
	sleeps := 0
	w.sleep = func(ctx context.Context, d time.Duration) error {
		sleeps++
		return ctx.Err()
	}
	return &sleeps
}

func TestWaitHostSucceedsWhenScrubCompletes(t *testing.T) {
	o := oracle.NewScript([]types.HostMemory{
		{FreeKiB: 500, ScrubKiB: 2000},
		{FreeKiB: 500, ScrubKiB: 1000},
		{FreeKiB: 1500, ScrubKiB: 0},
	}, nil)

	w := New(o, DefaultMaxWait)
	sleeps := instant(w)

	err := w.WaitHost(t.Context(), 1000)
	require.NoError(t, err)
	assert.LessOrEqual(t, o.HostCalls, 3, "must succeed within 3 polls")
	assert.Equal(t, 2, *sleeps)
}

func TestWaitHostImmediateSuccess(t *testing.T) {
	o := oracle.NewScript([]types.HostMemory{{FreeKiB: 4096, ScrubKiB: 0}}, nil)

	w := New(o, DefaultMaxWait)
	sleeps := instant(w)

	require.NoError(t, w.WaitHost(t.Context(), 1000))
	assert.Equal(t, 1, o.HostCalls)
	assert.Equal(t, 0, *sleeps)
}

func TestWaitHostFailsImmediatelyOnZeroScrub(t *testing.T) {
	o := oracle.NewScript([]types.HostMemory{{FreeKiB: 500, ScrubKiB: 0}}, nil)

	w := New(o, DefaultMaxWait)
	sleeps := instant(w)

	err := w.WaitHost(t.Context(), 1000)
	require.Error(t, err)
	assert.True(t, errors.Is(err, types.ErrOutOfMemory))
	assert.Equal(t, 1, o.HostCalls, "no further polling after scrub hits zero")
	assert.Equal(t, 0, *sleeps, "no sleeping after scrub hits zero")
}

func TestWaitHostTimesOutAtMaxWait(t *testing.T) {
	o := oracle.NewScript([]types.HostMemory{{FreeKiB: 500, ScrubKiB: 100}}, nil)

	const maxWait = 8
	w := New(o, maxWait)
	sleeps := instant(w)

	err := w.WaitHost(t.Context(), 1000)
	require.Error(t, err)
	assert.True(t, errors.Is(err, types.ErrOutOfMemory))
	assert.Equal(t, maxWait, *sleeps, "fails exactly at max wait")
	assert.Equal(t, maxWait+1, o.HostCalls)
}

func TestWaitHostDefaultMaxWait(t *testing.T) {
	w := New(oracle.NewScript([]types.HostMemory{{FreeKiB: 0, ScrubKiB: 1}}, nil), 0)
	assert.Equal(t, DefaultMaxWait, w.maxWait)
}

func TestWaitHostContextCancelled(t *testing.T) {
	o := oracle.NewScript([]types.HostMemory{{FreeKiB: 500, ScrubKiB: 100}}, nil)

	w := New(o, DefaultMaxWait)
	instant(w)

	ctx, cancel := context.WithCancel(context.Background())
	cancel()

	err := w.WaitHost(ctx, 1000)
	assert.True(t, errors.Is(err, context.Canceled))
}

func TestWaitNodeSucceeds(t *testing.T) {
	tables := []types.NodeTable{
		{Nodes: []*types.NUMANode{{ID: 0, FreeKiB: 500}}},
		{Nodes: []*types.NUMANode{{ID: 0, FreeKiB: 800}}},
		{Nodes: []*types.NUMANode{{ID: 0, FreeKiB: 1200}}},
	}
	o := oracle.NewScript(nil, tables)

	w := New(o, DefaultMaxWait)
	instant(w)

	require.NoError(t, w.WaitNode(t.Context(), 0, 1000))
}

func TestWaitNodeStallDetection(t *testing.T) {
	// Free memory unchanged between two consecutive polls: abort early,
	// well before max wait.
	tables := []types.NodeTable{
		{Nodes: []*types.NUMANode{{ID: 0, FreeKiB: 500}}},
		{Nodes: []*types.NUMANode{{ID: 0, FreeKiB: 500}}},
	}
	o := oracle.NewScript(nil, tables)

	w := New(o, DefaultMaxWait)
	sleeps := instant(w)

	err := w.WaitNode(t.Context(), 0, 1000)
	require.Error(t, err)
	assert.True(t, errors.Is(err, types.ErrOutOfMemory))
	assert.Equal(t, 1, *sleeps)
}

func TestWaitNodeUnknownNode(t *testing.T) {
	tables := []types.NodeTable{
		{Nodes: []*types.NUMANode{{ID: 0, FreeKiB: 500}}},
	}
	w := New(oracle.NewScript(nil, tables), DefaultMaxWait)
	instant(w)

	err := w.WaitNode(t.Context(), 7, 100)
	assert.Error(t, err)
}

func TestPowerOfTwoLogCadence(t *testing.T) {
	assert.False(t, isPowerOfTwo(0))
	assert.True(t, isPowerOfTwo(1))
	assert.True(t, isPowerOfTwo(2))
	assert.False(t, isPowerOfTwo(3))
	assert.True(t, isPowerOfTwo(4))
	assert.False(t, isPowerOfTwo(63))
	assert.True(t, isPowerOfTwo(64))
}
