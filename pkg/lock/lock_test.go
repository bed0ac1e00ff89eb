package lock

import (
	"context"
	"path/filepath"
	"testing"
	"time"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
)

func TestAcquireRelease(t *testing.T) {
	path := filepath.Join(t.TempDir(), "burrow.lock")
	l := New(path)

	require.NoError(t, l.Acquire(context.Background()))
	require.NoError(t, l.Release())

	// Re-acquirable after release.
	require.NoError(t, l.Acquire(context.Background()))
	require.NoError(t, l.Release())
}

func TestAcquireBlocksUntilCancelled(t *testing.T) {
	path := filepath.Join(t.TempDir(), "burrow.lock")
	holder := New(path)
	require.NoError(t, holder.Acquire(context.Background()))
	defer holder.Release()

	ctx, cancel := context.WithTimeout(context.Background(), 300*time.Millisecond)
	defer cancel()

	err := New(path).Acquire(ctx)
	assert.Error(t, err)
}
