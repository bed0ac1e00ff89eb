// Package numa chooses NUMA placements for VM memory and vCPUs.
//
// The advisor is deterministic given a node table and never waits for
// memory: blocking until the requirement can be met is the memory waiter's
// job and must happen before placement is attempted. A nil decision means
// no single node and no acceptable same-socket pair fits; callers decide
// between retrying and the round-robin fallback.
package numa

import (
	"github.com/rs/zerolog"

	"github.com/burrowvirt/burrow/pkg/log"
	"github.com/burrowvirt/burrow/pkg/types"
)

// DefaultSameSocketDelta is the default bound on the distance increase
// over local access for a node pair to count as same-socket. In ACPI SLIT
// terms a local access costs 10, a same-socket remote access 11-14, and a
// cross-socket access 21 or more; the remote-access penalty within a
// socket is roughly a tenth of the cross-socket penalty, which is why
// cross-socket pairs are never worth splitting a VM across.
const DefaultSameSocketDelta = 4

// Advisor computes placement decisions from node table snapshots.
type Advisor struct {
	sameSocketDelta int
	logger          zerolog.Logger
}

// New creates an Advisor. delta <= 0 selects DefaultSameSocketDelta.
func New(delta int) *Advisor {
	if delta <= 0 {
		delta = DefaultSameSocketDelta
	}
	return &Advisor{
		sameSocketDelta: delta,
		logger:          log.WithComponent("numa"),
	}
}

// Place selects the node or node pair for a VM needing memKiB of memory
// and vcpus virtual CPUs. Preference order:
//
//  1. a single node with enough free memory (no cross-node traffic at
//     all); among candidates, the one with the most free memory, ties
//     broken by lower node ID;
//  2. a same-socket pair whose combined free memory suffices, minimizing
//     the pair's round-trip distance, ties broken by lower node IDs.
//
// Cross-socket pairs are rejected outright. Returns nil when nothing
// fits. The chosen nodes double as the soft vCPU affinity set.
func (a *Advisor) Place(memKiB uint64, vcpus int, table *types.NodeTable) *types.PlacementDecision {
	if table == nil || len(table.Nodes) == 0 {
		return nil
	}

	if best := bestSingle(memKiB, table); best != nil {
		a.logger.Debug().
			Int("node", best.ID).
			Uint64("mem_kib", memKiB).
			Int("vcpus", vcpus).
			Msg("placed on single node")
		return &types.PlacementDecision{Nodes: []int{best.ID}}
	}

	if pair := a.bestPair(memKiB, table); pair != nil {
		a.logger.Debug().
			Ints("nodes", pair).
			Uint64("mem_kib", memKiB).
			Msg("placed on same-socket pair")
		return &types.PlacementDecision{Nodes: pair}
	}

	a.logger.Debug().Uint64("mem_kib", memKiB).Msg("no placement fits")
	return nil
}

func bestSingle(memKiB uint64, table *types.NodeTable) *types.NUMANode {
	var best *types.NUMANode
	for _, n := range table.Nodes {
		if n.FreeKiB < memKiB {
			continue
		}
		if best == nil || n.FreeKiB > best.FreeKiB ||
			(n.FreeKiB == best.FreeKiB && n.ID < best.ID) {
			best = n
		}
	}
	return best
}

func (a *Advisor) bestPair(memKiB uint64, table *types.NodeTable) []int {
	var (
		best     []int
		bestCost int
	)
	for i, x := range table.Nodes {
		for _, y := range table.Nodes[i+1:] {
			if x.FreeKiB+y.FreeKiB < memKiB {
				continue
			}
			if !a.sameSocket(x, y) {
				continue
			}
			cost := x.DistanceTo(y.ID) + y.DistanceTo(x.ID)
			lo, hi := x.ID, y.ID
			if lo > hi {
				lo, hi = hi, lo
			}
			if best == nil || cost < bestCost ||
				(cost == bestCost && (lo < best[0] || (lo == best[0] && hi < best[1]))) {
				best, bestCost = []int{lo, hi}, cost
			}
		}
	}
	return best
}

// sameSocket treats a pair as same-socket when both directions cost at
// most the local distance plus the configured delta. Missing distance
// data disqualifies the pair rather than guessing.
func (a *Advisor) sameSocket(x, y *types.NUMANode) bool {
	dxy, dyx := x.DistanceTo(y.ID), y.DistanceTo(x.ID)
	lx, ly := x.DistanceTo(x.ID), y.DistanceTo(y.ID)
	if dxy < 0 || dyx < 0 || lx < 0 || ly < 0 {
		return false
	}
	return dxy-lx <= a.sameSocketDelta && dyx-ly <= a.sameSocketDelta
}
