// Package memwait polls the memory oracle until a free-memory threshold is
// met. The hypervisor scrubs deallocated memory lazily, so free memory can
// keep growing for a while after a VM teardown; the waiter is the only
// component allowed to block on that.
package memwait

import (
	"context"
	"fmt"
	"time"

	"github.com/rs/zerolog"

	"github.com/burrowvirt/burrow/pkg/log"
	"github.com/burrowvirt/burrow/pkg/oracle"
	"github.com/burrowvirt/burrow/pkg/types"
)

// DefaultMaxWait is the default bound on a memory wait, in seconds.
const DefaultMaxWait = 64

// Waiter waits for host-wide or node-local free memory. It polls once per
// second and never holds any lock while sleeping, so it only ever suspends
// the one micro-op it runs inside.
type Waiter struct {
	oracle  oracle.Oracle
	maxWait int // seconds

	// sleep is replaceable in tests; the default sleeps for d or until
	// the context is cancelled.
	sleep func(ctx context.Context, d time.Duration) error

	logger zerolog.Logger
}

// New creates a Waiter bounded by maxWait seconds. maxWait <= 0 selects
// DefaultMaxWait.
func New(o oracle.Oracle, maxWait int) *Waiter {
	if maxWait <= 0 {
		maxWait = DefaultMaxWait
	}
	return &Waiter{
		oracle:  o,
		maxWait: maxWait,
		sleep:   sleepCtx,
		logger:  log.WithComponent("memwait"),
	}
}

// WaitHost blocks until the host-wide free memory reaches requiredKiB.
// It fails with ErrOutOfMemory immediately when pending scrub is zero
// (free memory will never increase without intervention) and after maxWait
// seconds otherwise. A progress log is emitted at power-of-two wait times
// to bound log volume on long waits.
func (w *Waiter) WaitHost(ctx context.Context, requiredKiB uint64) error {
	for elapsed := 0; ; elapsed++ {
		snap, err := w.oracle.HostMemory(ctx)
		if err != nil {
			return fmt.Errorf("query host memory: %w", err)
		}
		if snap.FreeKiB >= requiredKiB {
			if elapsed > 0 {
				w.logger.Info().
					Int("waited_s", elapsed).
					Uint64("free_kib", snap.FreeKiB).
					Msg("free memory threshold reached")
			}
			return nil
		}
		if snap.ScrubKiB == 0 {
			return fmt.Errorf("%d KiB free, %d KiB required, nothing left to scrub: %w",
				snap.FreeKiB, requiredKiB, types.ErrOutOfMemory)
		}
		if elapsed >= w.maxWait {
			return fmt.Errorf("%d KiB free after %ds, %d KiB required: %w",
				snap.FreeKiB, elapsed, requiredKiB, types.ErrOutOfMemory)
		}
		if isPowerOfTwo(elapsed) {
			w.logger.Info().
				Int("waited_s", elapsed).
				Uint64("free_kib", snap.FreeKiB).
				Uint64("scrub_kib", snap.ScrubKiB).
				Uint64("required_kib", requiredKiB).
				Msg("waiting for free memory")
		}
		if err := w.sleep(ctx, time.Second); err != nil {
			return err
		}
	}
}

// WaitNode blocks until the given NUMA node has requiredKiB free. Same
// cadence and logging as WaitHost, but the failure test is different:
// instead of the scrub counter it compares consecutive per-node readings
// and gives up as soon as node-local free memory stops moving, since the
// scrubber does not report per-node progress.
func (w *Waiter) WaitNode(ctx context.Context, nodeID int, requiredKiB uint64) error {
	var prev uint64
	first := true

	for elapsed := 0; ; elapsed++ {
		table, err := w.oracle.NodeTable(ctx)
		if err != nil {
			return fmt.Errorf("query node table: %w", err)
		}
		node := table.Node(nodeID)
		if node == nil {
			return fmt.Errorf("node %d not in topology", nodeID)
		}
		if node.FreeKiB >= requiredKiB {
			return nil
		}
		if !first && node.FreeKiB == prev {
			return fmt.Errorf("node %d free memory stalled at %d KiB, %d KiB required: %w",
				nodeID, node.FreeKiB, requiredKiB, types.ErrOutOfMemory)
		}
		prev, first = node.FreeKiB, false

		if elapsed >= w.maxWait {
			return fmt.Errorf("node %d has %d KiB free after %ds, %d KiB required: %w",
				nodeID, node.FreeKiB, elapsed, requiredKiB, types.ErrOutOfMemory)
		}
		if isPowerOfTwo(elapsed) {
			w.logger.Info().
				Int("node", nodeID).
				Int("waited_s", elapsed).
				Uint64("free_kib", node.FreeKiB).
				Uint64("required_kib", requiredKiB).
				Msg("waiting for node-local free memory")
		}
		if err := w.sleep(ctx, time.Second); err != nil {
			return err
		}
	}
}

func sleepCtx(ctx context.Context, d time.Duration) error {
	t := time.NewTimer(d)
	defer t.Stop()
	select {
	case <-t.C:
		return nil
	case <-ctx.Done():
		return ctx.Err()
	}
}

func isPowerOfTwo(n int) bool {
	return n > 0 && n&(n-1) == 0
}
