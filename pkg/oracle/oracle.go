package oracle

import (
	"context"

	"github.com/burrowvirt/burrow/pkg/types"
)

// Oracle answers read-only memory and topology queries against the
// hypervisor. Implementations must tolerate being called once per second
// for the full duration of a memory wait. Snapshots are transient; callers
// must not cache them across placement attempts.
type Oracle interface {
	// HostMemory returns the host-wide free and pending-scrub memory.
	HostMemory(ctx context.Context) (*types.HostMemory, error)

	// NodeTable returns the per-node free memory and distance matrix.
	NodeTable(ctx context.Context) (*types.NodeTable, error)
}

// Static is an Oracle returning fixed snapshots. It backs dry-run mode,
// where no hypervisor is available to query.
type Static struct {
	Host  types.HostMemory
	Table types.NodeTable
}

func (s *Static) HostMemory(ctx context.Context) (*types.HostMemory, error) {
	h := s.Host
	return &h, nil
}

func (s *Static) NodeTable(ctx context.Context) (*types.NodeTable, error) {
	t := s.Table
	return &t, nil
}
