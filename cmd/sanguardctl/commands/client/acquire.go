package client

import (
	"fmt"
	"strconv"
	"strings"

	"github.com/spf13/cobra"

	"github.com/sanguard/sanguard/cmd/sanguardctl/cmdutil"
	"github.com/sanguard/sanguard/internal/cli/output"
	"github.com/sanguard/sanguard/pkg/orchestrator"
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
	acqShared      bool
	acqForce       bool
)

var acquireCmd = &cobra.Command{
	Use:   "acquire",
	Short: "Acquire a resource lease (ACQUIRE)",
	Long: `Acquire registers the resource's disk layout (if not already known to
the daemon) and acquires a lease on it in one round trip.

--disk may be repeated; each one is "path[:offset]".`,
	RunE: func(cmd *cobra.Command, args []string) error {
		disks, err := parseDisks(acqDisks, acqSectorSize)
		if err != nil {
			return err
		}

		conn, err := dial()
		if err != nil {
			return err
		}
		defer conn.Close()

		req := orchestrator.AcquireRequest{
			Resource:    acqResource,
			SpaceName:   acqSpaceName,
			Disks:       disks,
			SectorSize:  acqSectorSize,
			AlignSize:   acqAlignSize,
			IOTimeout:   acqIOTimeout,
			NumHosts:    acqNumHosts,
			HostID:      acqHostID,
			HostGen:     acqHostGen,
			AcquireLver: acqAcquireLver,
			Shared:      acqShared,
			Force:       acqForce,
		}
		var resp orchestrator.AcquireResponse
		if err := conn.Call(orchestrator.CmdAcquire, 0, 0, 0, req, &resp); err != nil {
			return err
		}

		format, err := cmdutil.GetOutputFormatParsed()
		if err != nil {
			return err
		}
		switch format {
		case output.FormatJSON:
			return output.PrintJSON(cmd.OutOrStdout(), resp)
		case output.FormatYAML:
			return output.PrintYAML(cmd.OutOrStdout(), resp)
		default:
			cmdutil.PrintSuccess(fmt.Sprintf("acquired %q (token %s)", resp.Resource, resp.TokenID))
			return nil
		}
	},
}

func parseDisks(specs []string, defaultSectorSize uint32) ([]orchestrator.DiskSpec, error) {
	if len(specs) == 0 {
		return nil, fmt.Errorf("at least one --disk is required")
	}
	out := make([]orchestrator.DiskSpec, 0, len(specs))
	for _, s := range specs {
		parts := strings.SplitN(s, ":", 2)
		d := orchestrator.DiskSpec{Path: parts[0], SectorSize: defaultSectorSize}
		if len(parts) == 2 {
			off, err := strconv.ParseInt(parts[1], 10, 64)
			if err != nil {
				return nil, fmt.Errorf("invalid offset in --disk %q: %w", s, err)
			}
			d.Offset = off
		}
		out = append(out, d)
	}
	return out, nil
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
	acquireCmd.Flags().BoolVar(&acqShared, "shared", false, "Acquire in shared mode")
	acquireCmd.Flags().BoolVar(&acqForce, "force", false, "Skip the liveness gate and steal the lease")
	_ = acquireCmd.MarkFlagRequired("resource")
	_ = acquireCmd.MarkFlagRequired("space")
	_ = acquireCmd.MarkFlagRequired("num-hosts")
	_ = acquireCmd.MarkFlagRequired("host-id")

	Cmd.AddCommand(acquireCmd)
}
