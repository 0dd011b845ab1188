// Package direct implements "sanguardctl direct <action>": operations
// on a lockspace or resource's on-disk layout that read/write storage
// directly through pkg/wire and internal/directio, without going
// through a running sanguardd. Intended for recovery and debugging —
// formatting a fresh resource, inspecting a leader/dblock after a
// crash, or force-clearing a stuck lease.
package direct

import (
	"context"
	"strconv"
	"strings"
	"time"

	"github.com/spf13/cobra"

	"github.com/sanguard/sanguard/internal/directio"
	"github.com/sanguard/sanguard/pkg/faults"
	"github.com/sanguard/sanguard/pkg/paxos"
)

// Cmd is the "direct" command group, added to the root command.
var Cmd = &cobra.Command{
	Use:   "direct",
	Short: "Operate directly on a lockspace or resource's on-disk layout, without a running sanguardd",
}

// diskArg parses one --disk path[:offset] flag value.
type diskArg struct {
	path   string
	offset int64
}

func parseDiskArgs(specs []string) ([]diskArg, error) {
	out := make([]diskArg, 0, len(specs))
	for _, s := range specs {
		parts := strings.SplitN(s, ":", 2)
		d := diskArg{path: parts[0]}
		if len(parts) == 2 {
			off, err := strconv.ParseInt(parts[1], 10, 64)
			if err != nil {
				return nil, err
			}
			d.offset = off
		}
		out = append(out, d)
	}
	return out, nil
}

func openDisks(specs []diskArg, sectorSize uint32) ([]paxos.Disk, []directio.Device, error) {
	disks := make([]paxos.Disk, 0, len(specs))
	devices := make([]directio.Device, 0, len(specs))
	for _, s := range specs {
		dev, err := directio.Open(s.path, sectorSize)
		if err != nil {
			return nil, devices, err
		}
		devices = append(devices, dev)
		disks = append(disks, paxos.Disk{Device: dev, Offset: s.offset})
	}
	return disks, devices, nil
}

func closeAll(devices []directio.Device) {
	for _, d := range devices {
		_ = d.Close()
	}
}

// recoveryLiveness treats every owner as dead immediately: direct mode
// has no lockspace registry to ask, so acquiring against an owner the
// caller already knows to be gone is the only supported use (pair with
// --force when the owner might still be genuinely alive).
type recoveryLiveness struct{}

func (recoveryLiveness) IsAlive(ctx context.Context, spaceName string, ownerID, ownerGeneration uint64, leaderChanged func() (bool, error)) (bool, error) {
	return false, nil
}

func newEngine() *paxos.Engine {
	return &paxos.Engine{Liveness: recoveryLiveness{}}
}

func ioTimeoutFlag(seconds float64) time.Duration {
	return time.Duration(seconds * float64(time.Second))
}

func exitCode(err error) int {
	if err == nil {
		return 0
	}
	return int(faults.CodeOf(err))
}
