package direct

import (
	"context"
	"fmt"

	"github.com/spf13/cobra"

	"github.com/sanguard/sanguard/cmd/sanguardctl/cmdutil"
	"github.com/sanguard/sanguard/internal/cli/output"
	"github.com/sanguard/sanguard/pkg/paxos"
)

var (
	acqResource    string
	acqSpaceName   string
	acqDisks       []string
	acqSectorSize  uint32
	acqAlignSize   uint32
	acqIOTimeout   float64
	acqNumHosts    uint32
	acqHostID      uint64
	acqHostGen     uint64
	acqAcquireLver uint64
	acqForce       bool
)

var acquireCmd = &cobra.Command{
	Use:   "acquire",
	Short: "Run the Disk Paxos acquire protocol directly against a resource's disks",
	Long: `acquire drives the same two-phase ballot sanguardd's ACQUIRE command
would, but talks to the disks directly: use it for recovery when
sanguardd itself cannot be brought up on this host (e.g. the control
socket's owning daemon crashed and left a stale lease behind).

--force skips the liveness gate entirely; only pass it once you have
independently confirmed the current owner is dead.`,
	RunE: func(cmd *cobra.Command, args []string) error {
		diskArgs, err := parseDiskArgs(acqDisks)
		if err != nil {
			return err
		}
		disks, devices, err := openDisks(diskArgs, acqSectorSize)
		defer closeAll(devices)
		if err != nil {
			return err
		}

		var flags paxos.TokenFlags
		if acqForce {
			flags |= paxos.FlagForce
		}
		tok := &paxos.Token{
			ResourceName: acqResource,
			SpaceName:    acqSpaceName,
			Disks:        disks,
			SectorSize:   acqSectorSize,
			AlignSize:    acqAlignSize,
			IOTimeout:    ioTimeoutFlag(acqIOTimeout),
			HostID:       acqHostID,
			HostGen:      acqHostGen,
			Flags:        flags,
		}

		engine := newEngine()
		ctx := context.Background()
		result, err := engine.Acquire(ctx, tok, acqAcquireLver, acqNumHosts)
		if err != nil {
			return err
		}

		format, err := cmdutil.GetOutputFormatParsed()
		if err != nil {
			return err
		}
		switch format {
		case output.FormatJSON:
			return output.PrintJSON(cmd.OutOrStdout(), result)
		case output.FormatYAML:
			return output.PrintYAML(cmd.OutOrStdout(), result)
		default:
			cmdutil.PrintSuccess(fmt.Sprintf("acquired %q at lver %d", acqResource, result.Leader.Lver))
			return nil
		}
	},
}

func init() {
	acquireCmd.Flags().StringVar(&acqResource, "resource", "", "Resource name")
	acquireCmd.Flags().StringVar(&acqSpaceName, "space", "", "Lockspace this resource belongs to")
	acquireCmd.Flags().StringArrayVar(&acqDisks, "disk", nil, "Backing disk as path[:offset] (repeatable)")
	acquireCmd.Flags().Uint32Var(&acqSectorSize, "sector-size", 512, "Sector size (512 or 4096)")
	acquireCmd.Flags().Uint32Var(&acqAlignSize, "align-size", 1<<20, "Per-host area alignment in bytes")
	acquireCmd.Flags().Float64Var(&acqIOTimeout, "io-timeout", 10, "I/O timeout in seconds")
	acquireCmd.Flags().Uint32Var(&acqNumHosts, "num-hosts", 0, "Resource's configured host count")
	acquireCmd.Flags().Uint64Var(&acqHostID, "host-id", 0, "This host's id")
	acquireCmd.Flags().Uint64Var(&acqHostGen, "host-gen", 0, "This host's lockspace generation")
	acquireCmd.Flags().Uint64Var(&acqAcquireLver, "lver", 0, "Expected current lver, 0 for any")
	acquireCmd.Flags().BoolVar(&acqForce, "force", false, "Skip the liveness gate and steal the lease")
	_ = acquireCmd.MarkFlagRequired("resource")
	_ = acquireCmd.MarkFlagRequired("space")
	_ = acquireCmd.MarkFlagRequired("disk")
	_ = acquireCmd.MarkFlagRequired("num-hosts")
	_ = acquireCmd.MarkFlagRequired("host-id")

	Cmd.AddCommand(acquireCmd)
}
