package types

import (
	"time"
)

// VM represents a virtual machine managed by the scheduler
type VM struct {
	ID          string             `json:"id"`
	Name        string             `json:"name"`
	MemoryKiB   uint64             `json:"memory_kib"`
	VCPUs       int                `json:"vcpus"`
	Devices     []*Device          `json:"devices,omitempty"`
	State       VMState            `json:"state"`
	Placement   *PlacementDecision `json:"placement,omitempty"` // decision from the most recent build
	LastRequest RequestKind        `json:"last_request,omitempty"`
	LastError   string             `json:"last_error,omitempty"`
	Retries     int                `json:"retries,omitempty"` // start retries performed by the reconciler
	CreatedAt   time.Time          `json:"created_at"`
	UpdatedAt   time.Time          `json:"updated_at"`
}

// VMState represents the lifecycle state of a VM
type VMState string

const (
	VMStateDefined  VMState = "defined"  // record exists, no domain
	VMStateBuilding VMState = "building" // micro-ops in flight
	VMStateRunning  VMState = "running"
	VMStatePaused   VMState = "paused"
	VMStateHalted   VMState = "halted"
	VMStateError    VMState = "error"
)

// Device is a virtual device attached to a VM
type Device struct {
	Type     DeviceType `json:"type" yaml:"type"`
	Backend  string     `json:"backend" yaml:"backend"`   // host-side resource (image path, bridge name)
	Frontend string     `json:"frontend" yaml:"frontend"` // guest-visible name (xvda, eth0)
}

// DeviceType defines the kind of virtual device
type DeviceType string

const (
	DeviceDisk DeviceType = "disk"
	DeviceNIC  DeviceType = "nic"
)

// RequestKind is a high-level lifecycle request accepted by the ingress.
// The request splitter translates each kind into an ordered list of micro-ops.
type RequestKind string

const (
	RequestStart   RequestKind = "start"
	RequestStop    RequestKind = "stop"
	RequestReboot  RequestKind = "reboot"
	RequestMigrate RequestKind = "migrate"
)

// MicroOp is one atomic step of a VM lifecycle operation. The payload
// (Kind, VMID, Params) is immutable once enqueued; only the execution
// bookkeeping fields change, and only the dispatcher changes them.
type MicroOp struct {
	ID     string            `json:"id"`
	VMID   string            `json:"vm_id"`
	Kind   MicroOpKind       `json:"kind"`
	Params map[string]string `json:"params,omitempty"`

	State      MicroOpState `json:"state"`
	EnqueuedAt time.Time    `json:"enqueued_at"`
	StartedAt  time.Time    `json:"started_at,omitempty"`
	FinishedAt time.Time    `json:"finished_at,omitempty"`
	Error      string       `json:"error,omitempty"`
}

// MicroOpKind defines the operation a micro-op performs
type MicroOpKind string

const (
	OpCreate       MicroOpKind = "create"
	OpBuild        MicroOpKind = "build"
	OpAttachDevice MicroOpKind = "attach-device"
	OpUnpause      MicroOpKind = "unpause"
	OpPause        MicroOpKind = "pause"
	OpShutdown     MicroOpKind = "shutdown"
	OpDestroy      MicroOpKind = "destroy"
	OpTransfer     MicroOpKind = "transfer"
)

// MicroOpState is the execution state of a micro-op. Every op moves
// Pending -> Running -> {Completed, Failed}; no transition skips Running.
type MicroOpState string

const (
	OpStatePending   MicroOpState = "pending"
	OpStateRunning   MicroOpState = "running"
	OpStateCompleted MicroOpState = "completed"
	OpStateFailed    MicroOpState = "failed"
)

// Terminal reports whether the state is a terminal one.
func (s MicroOpState) Terminal() bool {
	return s == OpStateCompleted || s == OpStateFailed
}

// HostMemory is a point-in-time snapshot of host-wide memory read from the
// hypervisor. ScrubKiB is memory freed but not yet scrubbed; while it is
// non-zero, FreeKiB can still grow without intervention.
type HostMemory struct {
	FreeKiB  uint64
	ScrubKiB uint64
}

// NUMANode describes one NUMA node of the host. Distances is the SLIT row
// for this node, indexed by node ID; Distances[ID] is the local distance.
type NUMANode struct {
	ID        int
	FreeKiB   uint64
	Distances []int
}

// DistanceTo returns the access distance from this node to the given node,
// or -1 when the topology does not report one.
func (n *NUMANode) DistanceTo(id int) int {
	if id < 0 || id >= len(n.Distances) {
		return -1
	}
	return n.Distances[id]
}

// NodeTable is a snapshot of all NUMA nodes, refreshed per placement attempt.
type NodeTable struct {
	Nodes []*NUMANode
}

// Node returns the node with the given ID, or nil.
func (t *NodeTable) Node(id int) *NUMANode {
	for _, n := range t.Nodes {
		if n.ID == id {
			return n
		}
	}
	return nil
}

// PlacementDecision is the outcome of a placement attempt: either a set of
// NUMA nodes (memory spread across them, soft vCPU affinity to them) or a
// round-robin fallback with no affinity. Once made it is final for that
// build attempt.
type PlacementDecision struct {
	Nodes      []int `json:"nodes,omitempty"`
	RoundRobin bool  `json:"round_robin,omitempty"`
}
