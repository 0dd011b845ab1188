package client

import (
	"fmt"
	"os"

	"github.com/spf13/cobra"

	"github.com/sanguard/sanguard/cmd/sanguardctl/cmdutil"
	"github.com/sanguard/sanguard/internal/cli/output"
	"github.com/sanguard/sanguard/pkg/orchestrator"
)

var statusCmd = &cobra.Command{
	Use:   "status",
	Short: "Show every joined lockspace and every token this client's daemon connection holds",
	RunE: func(cmd *cobra.Command, args []string) error {
		conn, err := dial()
		if err != nil {
			return err
		}
		defer conn.Close()

		var resp orchestrator.StatusResponse
		if err := conn.Call(orchestrator.CmdStatus, 0, 0, 0, nil, &resp); err != nil {
			return err
		}

		spaces := output.NewTableData("NAME", "HOST_ID", "STATE", "GENERATION", "KILLING_PIDS")
		for _, sp := range resp.Lockspaces {
			spaces.AddRow(sp.Name, fmt.Sprintf("%d", sp.HostID), sp.State, fmt.Sprintf("%d", sp.Generation), fmt.Sprintf("%v", sp.KillingPids))
		}
		tokens := output.NewTableData("TOKEN_ID", "RESOURCE", "CLIENT_PID", "CREATED_AT")
		for _, tok := range resp.Tokens {
			tokens.AddRow(tok.TokenID, tok.Resource, fmt.Sprintf("%d", tok.ClientPid), tok.CreatedAtRFC)
		}

		format, err := cmdutil.GetOutputFormatParsed()
		if err != nil {
			return err
		}
		switch format {
		case output.FormatJSON:
			return output.PrintJSON(os.Stdout, resp)
		case output.FormatYAML:
			return output.PrintYAML(os.Stdout, resp)
		default:
			fmt.Println("Lockspaces:")
			if len(resp.Lockspaces) == 0 {
				fmt.Println("  (none)")
			} else {
				_ = output.PrintTable(os.Stdout, spaces)
			}
			fmt.Println("\nTokens:")
			if len(resp.Tokens) == 0 {
				fmt.Println("  (none)")
			} else {
				_ = output.PrintTable(os.Stdout, tokens)
			}
			return nil
		}
	},
}

func init() {
	Cmd.AddCommand(statusCmd)
}
