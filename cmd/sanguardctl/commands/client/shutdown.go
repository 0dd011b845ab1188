package client

import (
	"github.com/spf13/cobra"

	"github.com/sanguard/sanguard/cmd/sanguardctl/cmdutil"
	"github.com/sanguard/sanguard/pkg/orchestrator"
)

var shutdownCmd = &cobra.Command{
	Use:   "shutdown",
	Short: "Ask sanguardd to shut down gracefully (SHUTDOWN)",
	RunE: func(cmd *cobra.Command, args []string) error {
		conn, err := dial()
		if err != nil {
			return err
		}
		defer conn.Close()

		if err := conn.Call(orchestrator.CmdShutdown, 0, 0, orchestrator.SelfPid, nil, nil); err != nil {
			return err
		}
		cmdutil.PrintSuccess("shutdown requested")
		return nil
	},
}

func init() {
	Cmd.AddCommand(shutdownCmd)
}
