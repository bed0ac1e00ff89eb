package oracle

import (
	"context"
	"sync"

	"github.com/burrowvirt/burrow/pkg/types"
)

// Script is an Oracle that replays predetermined snapshot sequences. Each
// query consumes the next entry; the last entry is sticky once the script
// runs out. The lazy-scrubbing race is inherently timing-dependent, so
// tests drive the waiter and executor with scripted sequences instead of
// real hypervisor timing.
type Script struct {
	mu        sync.Mutex
	host      []types.HostMemory
	tables    []types.NodeTable
	hostIdx   int
	tableIdx  int
	HostCalls int
}

// NewScript creates a Script oracle from snapshot sequences. Either slice
// may be empty if the corresponding query is never made.
func NewScript(host []types.HostMemory, tables []types.NodeTable) *Script {
	return &Script{host: host, tables: tables}
}

func (s *Script) HostMemory(ctx context.Context) (*types.HostMemory, error) {
	s.mu.Lock()
	defer s.mu.Unlock()

	s.HostCalls++
	h := s.host[s.hostIdx]
	if s.hostIdx < len(s.host)-1 {
		s.hostIdx++
	}
	return &h, nil
}

func (s *Script) NodeTable(ctx context.Context) (*types.NodeTable, error) {
	s.mu.Lock()
	defer s.mu.Unlock()

	t := s.tables[s.tableIdx]
	if s.tableIdx < len(s.tables)-1 {
		s.tableIdx++
	}
	return &t, nil
}
