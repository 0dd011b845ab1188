package client

import (
	"fmt"
	"os"

	"github.com/spf13/cobra"

	"github.com/sanguard/sanguard/cmd/sanguardctl/cmdutil"
	"github.com/sanguard/sanguard/internal/cli/output"
	"github.com/sanguard/sanguard/pkg/orchestrator"
)

var logDumpLines int32

var logDumpCmd = &cobra.Command{
	Use:   "log-dump",
	Short: "Print the daemon's recent structured log lines (LOG_DUMP)",
	RunE: func(cmd *cobra.Command, args []string) error {
		conn, err := dial()
		if err != nil {
			return err
		}
		defer conn.Close()

		var resp orchestrator.LogDumpResponse
		if err := conn.Call(orchestrator.CmdLogDump, 0, logDumpLines, 0, nil, &resp); err != nil {
			return err
		}

		format, err := cmdutil.GetOutputFormatParsed()
		if err != nil {
			return err
		}
		if format == output.FormatJSON {
			return output.PrintJSON(os.Stdout, resp)
		}
		if format == output.FormatYAML {
			return output.PrintYAML(os.Stdout, resp)
		}
		for _, line := range resp.Lines {
			fmt.Println(line)
		}
		return nil
	},
}

func init() {
	logDumpCmd.Flags().Int32VarP(&logDumpLines, "lines", "n", 100, "Number of recent log lines to fetch")
	Cmd.AddCommand(logDumpCmd)
}
