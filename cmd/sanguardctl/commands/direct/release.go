package direct

import (
	"context"
	"fmt"

	"github.com/spf13/cobra"

	"github.com/sanguard/sanguard/cmd/sanguardctl/cmdutil"
	"github.com/sanguard/sanguard/pkg/paxos"
	"github.com/sanguard/sanguard/pkg/wire"
)

var (
	relResource   string
	relSpaceName  string
	relDisks      []string
	relSectorSize uint32
	relAlignSize  uint32
	relIOTimeout  float64
	relNumHosts   uint32
	relHostID     uint64
	relHostGen    uint64
	relLver       uint64
)

var releaseCmd = &cobra.Command{
	Use:   "release",
	Short: "Release a resource lease directly against its disks (RELEASE)",
	Long: `release clears the current leader's timestamp when this host is the
owner named by --host-id/--host-gen at --lver, the same four-case
check sanguardd's RELEASE performs.`,
	RunE: func(cmd *cobra.Command, args []string) error {
		diskArgs, err := parseDiskArgs(relDisks)
		if err != nil {
			return err
		}
		disks, devices, err := openDisks(diskArgs, relSectorSize)
		defer closeAll(devices)
		if err != nil {
			return err
		}

		tok := &paxos.Token{
			ResourceName: relResource,
			SpaceName:    relSpaceName,
			Disks:        disks,
			SectorSize:   relSectorSize,
			AlignSize:    relAlignSize,
			IOTimeout:    ioTimeoutFlag(relIOTimeout),
			HostID:       relHostID,
			HostGen:      relHostGen,
		}

		engine := newEngine()
		ctx := context.Background()
		last := &wire.Leader{Lver: relLver}

		if _, err := engine.Release(ctx, tok, last, relNumHosts); err != nil {
			return err
		}
		cmdutil.PrintSuccess(fmt.Sprintf("released %q", relResource))
		return nil
	},
}

func init() {
	releaseCmd.Flags().StringVar(&relResource, "resource", "", "Resource name")
	releaseCmd.Flags().StringVar(&relSpaceName, "space", "", "Lockspace this resource belongs to")
	releaseCmd.Flags().StringArrayVar(&relDisks, "disk", nil, "Backing disk as path[:offset] (repeatable)")
	releaseCmd.Flags().Uint32Var(&relSectorSize, "sector-size", 512, "Sector size (512 or 4096)")
	releaseCmd.Flags().Uint32Var(&relAlignSize, "align-size", 1<<20, "Per-host area alignment in bytes")
	releaseCmd.Flags().Float64Var(&relIOTimeout, "io-timeout", 10, "I/O timeout in seconds")
	releaseCmd.Flags().Uint32Var(&relNumHosts, "num-hosts", 0, "Resource's configured host count")
	releaseCmd.Flags().Uint64Var(&relHostID, "host-id", 0, "This host's id")
	releaseCmd.Flags().Uint64Var(&relHostGen, "host-gen", 0, "This host's lockspace generation")
	releaseCmd.Flags().Uint64Var(&relLver, "lver", 0, "lver this host acquired the lease at")
	_ = releaseCmd.MarkFlagRequired("resource")
	_ = releaseCmd.MarkFlagRequired("space")
	_ = releaseCmd.MarkFlagRequired("disk")
	_ = releaseCmd.MarkFlagRequired("num-hosts")
	_ = releaseCmd.MarkFlagRequired("host-id")
	_ = releaseCmd.MarkFlagRequired("lver")

	Cmd.AddCommand(releaseCmd)
}
