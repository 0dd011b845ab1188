package direct

import (
	"context"
	"fmt"

	"github.com/spf13/cobra"

	"github.com/sanguard/sanguard/cmd/sanguardctl/cmdutil"
	"github.com/sanguard/sanguard/pkg/paxos"
)

var (
	initResource   string
	initSpaceName  string
	initDisks      []string
	initSectorSize uint32
	initAlignSize  uint32
	initIOTimeout  float64
	initNumHosts   uint32
	initClear      bool
)

var initCmd = &cobra.Command{
	Use:   "init",
	Short: "Format a resource's on-disk Paxos layout (INIT)",
	Long: `init writes a fresh leader block, a zeroed request record and zeroed
dblocks across a resource's disks. sanguardd does not run this format
step itself.

It does not check what the disks already hold: an existing leader is
overwritten. With --clear the leader is written with the clear magic
instead of the Paxos disk magic.`,
	RunE: func(cmd *cobra.Command, args []string) error {
		diskArgs, err := parseDiskArgs(initDisks)
		if err != nil {
			return err
		}
		disks, devices, err := openDisks(diskArgs, initSectorSize)
		defer closeAll(devices)
		if err != nil {
			return err
		}

		tok := &paxos.Token{
			ResourceName: initResource,
			SpaceName:    initSpaceName,
			Disks:        disks,
			SectorSize:   initSectorSize,
			AlignSize:    initAlignSize,
			IOTimeout:    ioTimeoutFlag(initIOTimeout),
		}

		engine := newEngine()
		ctx := context.Background()
		if err := engine.Init(ctx, tok, initNumHosts, initClear); err != nil {
			return err
		}
		cmdutil.PrintSuccess(fmt.Sprintf("initialized resource %q across %d disk(s)", initResource, len(disks)))
		return nil
	},
}

func init() {
	initCmd.Flags().StringVar(&initResource, "resource", "", "Resource name")
	initCmd.Flags().StringVar(&initSpaceName, "space", "", "Lockspace this resource belongs to")
	initCmd.Flags().StringArrayVar(&initDisks, "disk", nil, "Backing disk as path[:offset] (repeatable)")
	initCmd.Flags().Uint32Var(&initSectorSize, "sector-size", 512, "Sector size (512 or 4096)")
	initCmd.Flags().Uint32Var(&initAlignSize, "align-size", 1<<20, "Per-host area alignment in bytes")
	initCmd.Flags().Float64Var(&initIOTimeout, "io-timeout", 10, "I/O timeout in seconds")
	initCmd.Flags().Uint32Var(&initNumHosts, "num-hosts", 0, "Host count to format the lease area for")
	initCmd.Flags().BoolVar(&initClear, "clear", false, "Write the leader with the clear magic instead of the Paxos disk magic")
	_ = initCmd.MarkFlagRequired("resource")
	_ = initCmd.MarkFlagRequired("space")
	_ = initCmd.MarkFlagRequired("disk")
	_ = initCmd.MarkFlagRequired("num-hosts")

	Cmd.AddCommand(initCmd)
}
