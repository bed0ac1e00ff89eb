package oracle

import (
	"bufio"
	"bytes"
	"context"
	"fmt"
	"os"
	"os/exec"
	"path/filepath"
	"strconv"
	"strings"

	"github.com/burrowvirt/burrow/pkg/types"
)

const sysNodeDir = "/sys/devices/system/node"

// XL is an Oracle that shells out to the xl toolstack. Memory figures in
// xl output are MiB; all values are converted to KiB.
//
// Example `xl info -n` excerpt:
//
//	total_memory           : 32768
//	free_memory            : 14272
//	scrub_memory           : 512
//	numa_info              :
//	node:    memsize    memfree    distances
//	   0:     16384       8192      10,21
//	   1:     16384       6080      21,10
type XL struct {
	// Binary is the xl executable, "xl" by default.
	Binary string
	// SysDir overrides the sysfs node directory for distance lookups;
	// tests point it at a fixture tree.
	SysDir string
}

// NewXL creates an XL oracle using the given executable name.
func NewXL(binary string) *XL {
	if binary == "" {
		binary = "xl"
	}
	return &XL{Binary: binary, SysDir: sysNodeDir}
}

func (x *XL) info(ctx context.Context) ([]byte, error) {
	out, err := exec.CommandContext(ctx, x.Binary, "info", "-n").Output()
	if err != nil {
		return nil, fmt.Errorf("%s info -n: %w", x.Binary, err)
	}
	return out, nil
}

func (x *XL) HostMemory(ctx context.Context) (*types.HostMemory, error) {
	out, err := x.info(ctx)
	if err != nil {
		return nil, err
	}
	return parseHostMemory(out)
}

func (x *XL) NodeTable(ctx context.Context) (*types.NodeTable, error) {
	out, err := x.info(ctx)
	if err != nil {
		return nil, err
	}
	table, err := parseNodeTable(out)
	if err != nil {
		return nil, err
	}
	// Older toolstacks omit the distances column; sysfs has the SLIT.
	for _, n := range table.Nodes {
		if len(n.Distances) == 0 {
			n.Distances, err = x.sysfsDistances(n.ID)
			if err != nil {
				return nil, err
			}
		}
	}
	return table, nil
}

func parseHostMemory(out []byte) (*types.HostMemory, error) {
	var snap types.HostMemory
	seenFree := false

	sc := bufio.NewScanner(bytes.NewReader(out))
	for sc.Scan() {
		key, val, ok := splitInfoLine(sc.Text())
		if !ok {
			continue
		}
		switch key {
		case "free_memory":
			mib, err := strconv.ParseUint(val, 10, 64)
			if err != nil {
				return nil, fmt.Errorf("parse free_memory %q: %w", val, err)
			}
			snap.FreeKiB = mib * 1024
			seenFree = true
		case "scrub_memory":
			mib, err := strconv.ParseUint(val, 10, 64)
			if err != nil {
				return nil, fmt.Errorf("parse scrub_memory %q: %w", val, err)
			}
			snap.ScrubKiB = mib * 1024
		case "outstanding_claims":
			// Claimed-but-unpopulated memory behaves like pending scrub:
			// it will return to the free pool without intervention.
			mib, err := strconv.ParseUint(val, 10, 64)
			if err != nil {
				return nil, fmt.Errorf("parse outstanding_claims %q: %w", val, err)
			}
			snap.ScrubKiB += mib * 1024
		}
	}
	if !seenFree {
		return nil, fmt.Errorf("xl info output missing free_memory")
	}
	return &snap, nil
}

func parseNodeTable(out []byte) (*types.NodeTable, error) {
	table := &types.NodeTable{}
	inNuma := false

	sc := bufio.NewScanner(bytes.NewReader(out))
	for sc.Scan() {
		line := sc.Text()
		if strings.HasPrefix(line, "numa_info") {
			inNuma = true
			continue
		}
		if !inNuma {
			continue
		}
		fields := strings.Fields(line)
		if len(fields) == 0 || fields[0] == "node:" {
			continue
		}
		id, err := strconv.Atoi(strings.TrimSuffix(fields[0], ":"))
		if err != nil {
			// End of the numa_info table.
			break
		}
		if len(fields) < 3 {
			return nil, fmt.Errorf("short numa_info row %q", line)
		}
		freeMiB, err := strconv.ParseUint(fields[2], 10, 64)
		if err != nil {
			return nil, fmt.Errorf("parse node %d memfree %q: %w", id, fields[2], err)
		}
		node := &types.NUMANode{ID: id, FreeKiB: freeMiB * 1024}
		if len(fields) >= 4 {
			node.Distances, err = parseDistances(fields[3])
			if err != nil {
				return nil, fmt.Errorf("parse node %d distances: %w", id, err)
			}
		}
		table.Nodes = append(table.Nodes, node)
	}
	if len(table.Nodes) == 0 {
		return nil, fmt.Errorf("xl info output missing numa_info table")
	}
	return table, nil
}

func parseDistances(s string) ([]int, error) {
	parts := strings.Split(s, ",")
	dists := make([]int, 0, len(parts))
	for _, p := range parts {
		d, err := strconv.Atoi(strings.TrimSpace(p))
		if err != nil {
			return nil, err
		}
		dists = append(dists, d)
	}
	return dists, nil
}

// sysfsDistances reads /sys/devices/system/node/node<id>/distance, a
// space-separated SLIT row.
func (x *XL) sysfsDistances(id int) ([]int, error) {
	path := filepath.Join(x.SysDir, fmt.Sprintf("node%d", id), "distance")
	data, err := os.ReadFile(path)
	if err != nil {
		return nil, fmt.Errorf("read %s: %w", path, err)
	}
	fields := strings.Fields(string(data))
	dists := make([]int, 0, len(fields))
	for _, f := range fields {
		d, err := strconv.Atoi(f)
		if err != nil {
			return nil, fmt.Errorf("parse %s: %w", path, err)
		}
		dists = append(dists, d)
	}
	return dists, nil
}

func splitInfoLine(line string) (key, val string, ok bool) {
	k, v, found := strings.Cut(line, ":")
	if !found {
		return "", "", false
	}
	return strings.TrimSpace(k), strings.TrimSpace(v), true
}
