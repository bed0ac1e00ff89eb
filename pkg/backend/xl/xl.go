// Package xl drives VM lifecycle operations through the Xen xl toolstack
// binary. Every operation shells out to one xl subcommand; there is no
// long-lived connection to the hypervisor.
package xl

import (
	"context"
	"fmt"
	"os"
	"os/exec"
	"path/filepath"
	"strconv"
	"strings"

	"github.com/rs/zerolog"

	"github.com/burrowvirt/burrow/pkg/log"
	"github.com/burrowvirt/burrow/pkg/types"
)

// Backend runs xl subcommands for lifecycle micro-ops. Domains are
// created paused and empty; memory population and device attachment are
// separate steps so the scheduler can interleave them with waits.
type Backend struct {
	binary string
	runDir string // domain config files are rendered here

	// run executes one command and returns its combined output. Tests
	// replace it to capture argv without a hypervisor.
	run func(ctx context.Context, name string, args ...string) ([]byte, error)

	logger zerolog.Logger
}

// New creates a Backend invoking the given xl binary. Domain config
// files are written under runDir.
func New(binary, runDir string) *Backend {
	if binary == "" {
		binary = "xl"
	}
	return &Backend{
		binary: binary,
		runDir: runDir,
		run:    runCmd,
		logger: log.WithComponent("xl"),
	}
}

func runCmd(ctx context.Context, name string, args ...string) ([]byte, error) {
	return exec.CommandContext(ctx, name, args...).CombinedOutput()
}

func (b *Backend) xl(ctx context.Context, args ...string) error {
	out, err := b.run(ctx, b.binary, args...)
	if err != nil {
		return fmt.Errorf("%s %s: %v: %s", b.binary, strings.Join(args, " "), err, strings.TrimSpace(string(out)))
	}
	b.logger.Debug().Strs("args", args).Msg("xl command succeeded")
	return nil
}

// CreateDomain renders a domain config and creates the domain paused,
// with a 0 MiB target so no memory is committed before the build step.
func (b *Backend) CreateDomain(ctx context.Context, vm *types.VM) error {
	path := filepath.Join(b.runDir, vm.Name+".cfg")
	if err := os.MkdirAll(b.runDir, 0o755); err != nil {
		return fmt.Errorf("create run dir: %w", err)
	}
	if err := os.WriteFile(path, []byte(domainConfig(vm)), 0o644); err != nil {
		return fmt.Errorf("write domain config: %w", err)
	}
	return b.xl(ctx, "create", "-p", path)
}

// domainConfig renders the xl config for a VM. Devices are omitted on
// purpose: they are attached by their own micro-ops after the build.
func domainConfig(vm *types.VM) string {
	var sb strings.Builder
	fmt.Fprintf(&sb, "name = %q\n", vm.Name)
	fmt.Fprintf(&sb, "type = \"pvh\"\n")
	fmt.Fprintf(&sb, "memory = %d\n", vm.MemoryKiB/1024)
	fmt.Fprintf(&sb, "vcpus = %d\n", vm.VCPUs)
	return sb.String()
}

// PopulateMemory raises the domain's memory target to its full size and,
// when the decision names nodes, pins the vCPUs softly to them. A
// round-robin decision sets the target with no affinity and lets Xen
// stripe the allocation.
func (b *Backend) PopulateMemory(ctx context.Context, vm *types.VM, dec *types.PlacementDecision) error {
	if dec != nil && !dec.RoundRobin && len(dec.Nodes) > 0 {
		if err := b.xl(ctx, "vcpu-pin", vm.Name, "all", "-", nodeSpec(dec.Nodes)); err != nil {
			return err
		}
	}
	return b.xl(ctx, "mem-set", vm.Name, strconv.FormatUint(vm.MemoryKiB/1024, 10))
}

func nodeSpec(nodes []int) string {
	parts := make([]string, 0, len(nodes))
	for _, n := range nodes {
		parts = append(parts, "node:"+strconv.Itoa(n))
	}
	return strings.Join(parts, ",")
}

func (b *Backend) AttachDevice(ctx context.Context, vm *types.VM, dev *types.Device) error {
	switch dev.Type {
	case types.DeviceDisk:
		spec := fmt.Sprintf("format=raw,vdev=%s,access=rw,target=%s", dev.Frontend, dev.Backend)
		return b.xl(ctx, "block-attach", vm.Name, spec)
	case types.DeviceNIC:
		return b.xl(ctx, "network-attach", vm.Name, "bridge="+dev.Backend)
	default:
		return fmt.Errorf("unknown device type %q", dev.Type)
	}
}

func (b *Backend) Unpause(ctx context.Context, vm *types.VM) error {
	return b.xl(ctx, "unpause", vm.Name)
}

func (b *Backend) Pause(ctx context.Context, vm *types.VM) error {
	return b.xl(ctx, "pause", vm.Name)
}

// Shutdown asks the guest to shut down and waits for it to comply.
func (b *Backend) Shutdown(ctx context.Context, vm *types.VM) error {
	return b.xl(ctx, "shutdown", "-w", vm.Name)
}

func (b *Backend) Destroy(ctx context.Context, vm *types.VM) error {
	return b.xl(ctx, "destroy", vm.Name)
}

func (b *Backend) Transfer(ctx context.Context, vm *types.VM, destination string) error {
	return b.xl(ctx, "migrate", vm.Name, destination)
}
