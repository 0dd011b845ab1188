package direct

import (
	"context"

	"github.com/spf13/cobra"

	"github.com/sanguard/sanguard/cmd/sanguardctl/cmdutil"
	"github.com/sanguard/sanguard/internal/cli/output"
	"github.com/sanguard/sanguard/pkg/paxos"
)

var (
	readResource   string
	readSpaceName  string
	readDisks      []string
	readSectorSize uint32
	readIOTimeout  float64
	readNumHosts   uint32
	readMajority   bool
)

var readCmd = &cobra.Command{
	Use:   "read",
	Short: "Read a resource's current leader block",
	Long: `read prints the leader block sanguardd's INQUIRE would show for a
resource, without going through the daemon. By default it reads the
first disk only; --majority reads every disk and returns the value a
majority agrees on, the same check Acquire performs before writing.`,
	RunE: func(cmd *cobra.Command, args []string) error {
		diskArgs, err := parseDiskArgs(readDisks)
		if err != nil {
			return err
		}
		disks, devices, err := openDisks(diskArgs, readSectorSize)
		defer closeAll(devices)
		if err != nil {
			return err
		}

		tok := &paxos.Token{
			ResourceName: readResource,
			SpaceName:    readSpaceName,
			Disks:        disks,
			SectorSize:   readSectorSize,
			IOTimeout:    ioTimeoutFlag(readIOTimeout),
		}

		engine := newEngine()
		ctx := context.Background()

		var leader any
		if readMajority {
			leader, err = engine.LeaderRead(ctx, tok, readNumHosts)
		} else {
			leader, err = engine.ReadResource(ctx, tok)
		}
		if err != nil {
			return err
		}

		format, err := cmdutil.GetOutputFormatParsed()
		if err != nil {
			return err
		}
		switch format {
		case output.FormatYAML:
			return output.PrintYAML(cmd.OutOrStdout(), leader)
		default:
			return output.PrintJSON(cmd.OutOrStdout(), leader)
		}
	},
}

func init() {
	readCmd.Flags().StringVar(&readResource, "resource", "", "Resource name")
	readCmd.Flags().StringVar(&readSpaceName, "space", "", "Lockspace this resource belongs to")
	readCmd.Flags().StringArrayVar(&readDisks, "disk", nil, "Backing disk as path[:offset] (repeatable)")
	readCmd.Flags().Uint32Var(&readSectorSize, "sector-size", 512, "Sector size (512 or 4096)")
	readCmd.Flags().Float64Var(&readIOTimeout, "io-timeout", 10, "I/O timeout in seconds")
	readCmd.Flags().Uint32Var(&readNumHosts, "num-hosts", 0, "Resource's configured host count (required with --majority)")
	readCmd.Flags().BoolVar(&readMajority, "majority", false, "Read a majority of disks instead of just the first")
	_ = readCmd.MarkFlagRequired("resource")
	_ = readCmd.MarkFlagRequired("space")
	_ = readCmd.MarkFlagRequired("disk")

	Cmd.AddCommand(readCmd)
}
