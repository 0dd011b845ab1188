package client

import (
	"fmt"
	"os"

	"github.com/spf13/cobra"

	"github.com/sanguard/sanguard/cmd/sanguardctl/cmdutil"
	"github.com/sanguard/sanguard/internal/cli/output"
	"github.com/sanguard/sanguard/pkg/orchestrator"
)

var inqResource string

var inquireCmd = &cobra.Command{
	Use:   "inquire",
	Short: "List tokens this connection holds (INQUIRE)",
	RunE: func(cmd *cobra.Command, args []string) error {
		conn, err := dial()
		if err != nil {
			return err
		}
		defer conn.Close()

		req := orchestrator.InquireRequest{Resource: inqResource}
		var resp []orchestrator.TokenStatus
		if err := conn.Call(orchestrator.CmdInquire, 0, 0, 0, req, &resp); err != nil {
			return err
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
			if len(resp) == 0 {
				fmt.Println("(no tokens held)")
				return nil
			}
			table := output.NewTableData("TOKEN_ID", "RESOURCE", "CLIENT_PID", "CREATED_AT")
			for _, tok := range resp {
				table.AddRow(tok.TokenID, tok.Resource, fmt.Sprintf("%d", tok.ClientPid), tok.CreatedAtRFC)
			}
			return output.PrintTable(os.Stdout, table)
		}
	},
}

func init() {
	inquireCmd.Flags().StringVar(&inqResource, "resource", "", "Limit to one resource (default: every resource this connection holds)")
	Cmd.AddCommand(inquireCmd)
}
