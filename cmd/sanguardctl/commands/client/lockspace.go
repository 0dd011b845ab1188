package client

import (
	"fmt"

	"github.com/spf13/cobra"

	"github.com/sanguard/sanguard/cmd/sanguardctl/cmdutil"
	"github.com/sanguard/sanguard/pkg/orchestrator"
)

var (
	addName       string
	addHostID     uint64
	addMaxHosts   uint32
	addPath       string
	addOffset     int64
	addSectorSize uint32
	addIOTimeout  float64
)

var addLockspaceCmd = &cobra.Command{
	Use:   "add-lockspace",
	Short: "Join a lockspace (ADD_LOCKSPACE)",
	RunE: func(cmd *cobra.Command, args []string) error {
		conn, err := dial()
		if err != nil {
			return err
		}
		defer conn.Close()

		req := orchestrator.AddLockspaceRequest{
			Name:       addName,
			HostID:     addHostID,
			MaxHosts:   addMaxHosts,
			Path:       addPath,
			Offset:     addOffset,
			SectorSize: addSectorSize,
			IOTimeout:  addIOTimeout,
		}
		if err := conn.Call(orchestrator.CmdAddLockspace, 0, 0, 0, req, nil); err != nil {
			return err
		}
		cmdutil.PrintSuccess(fmt.Sprintf("joined lockspace %q as host %d", addName, addHostID))
		return nil
	},
}

var remName string

var remLockspaceCmd = &cobra.Command{
	Use:   "rem-lockspace",
	Short: "Leave a lockspace (REM_LOCKSPACE)",
	RunE: func(cmd *cobra.Command, args []string) error {
		conn, err := dial()
		if err != nil {
			return err
		}
		defer conn.Close()

		req := orchestrator.RemLockspaceRequest{Name: remName}
		if err := conn.Call(orchestrator.CmdRemLockspace, 0, 0, 0, req, nil); err != nil {
			return err
		}
		cmdutil.PrintSuccess(fmt.Sprintf("left lockspace %q", remName))
		return nil
	},
}

func init() {
	addLockspaceCmd.Flags().StringVar(&addName, "name", "", "Lockspace name")
	addLockspaceCmd.Flags().Uint64Var(&addHostID, "host-id", 0, "This host's id in the lockspace (1-based)")
	addLockspaceCmd.Flags().Uint32Var(&addMaxHosts, "max-hosts", 0, "Maximum number of hosts the lockspace supports")
	addLockspaceCmd.Flags().StringVar(&addPath, "path", "", "Backing block device/file path")
	addLockspaceCmd.Flags().Int64Var(&addOffset, "offset", 0, "Byte offset of the lockspace area on path")
	addLockspaceCmd.Flags().Uint32Var(&addSectorSize, "sector-size", 512, "Sector size (512 or 4096)")
	addLockspaceCmd.Flags().Float64Var(&addIOTimeout, "io-timeout", 10, "Delta-lease io_timeout in seconds")
	_ = addLockspaceCmd.MarkFlagRequired("name")
	_ = addLockspaceCmd.MarkFlagRequired("host-id")
	_ = addLockspaceCmd.MarkFlagRequired("path")

	remLockspaceCmd.Flags().StringVar(&remName, "name", "", "Lockspace name")
	_ = remLockspaceCmd.MarkFlagRequired("name")

	Cmd.AddCommand(addLockspaceCmd)
	Cmd.AddCommand(remLockspaceCmd)
}
