package client

import (
	"fmt"

	"github.com/spf13/cobra"

	"github.com/sanguard/sanguard/cmd/sanguardctl/cmdutil"
	"github.com/sanguard/sanguard/pkg/orchestrator"
)

var (
	relResource string
	relTokenID  string
	relAll      bool
)

var releaseCmd = &cobra.Command{
	Use:   "release",
	Short: "Release a held resource lease (RELEASE)",
	RunE: func(cmd *cobra.Command, args []string) error {
		conn, err := dial()
		if err != nil {
			return err
		}
		defer conn.Close()

		if relAll {
			if err := conn.Call(orchestrator.CmdRelease, orchestrator.CmdFlagRelAll, 0, 0, nil, nil); err != nil {
				return err
			}
			cmdutil.PrintSuccess("released every token held by this connection")
			return nil
		}

		req := orchestrator.ReleaseRequest{Resource: relResource, TokenID: relTokenID}
		if err := conn.Call(orchestrator.CmdRelease, 0, 0, 0, req, nil); err != nil {
			return err
		}
		cmdutil.PrintSuccess(fmt.Sprintf("released %q", relResource))
		return nil
	},
}

func init() {
	releaseCmd.Flags().StringVar(&relResource, "resource", "", "Resource name")
	releaseCmd.Flags().StringVar(&relTokenID, "token-id", "", "Specific token id to release (default: any token held for --resource)")
	releaseCmd.Flags().BoolVar(&relAll, "all", false, "Release every token this connection holds")

	Cmd.AddCommand(releaseCmd)
}
