// Package cmdutil provides shared utilities for sanguardctl commands:
// global flag state, output formatting, and the control-socket client
// every "client <action>" subcommand dials through.
package cmdutil

import (
	"fmt"
	"io"
	"os"

	"github.com/sanguard/sanguard/internal/cli/output"
)

// Flags stores global flag values accessible by subcommands.
var Flags = &GlobalFlags{}

// GlobalFlags holds the global flag values.
type GlobalFlags struct {
	SocketPath string
	ConfigFile string
	Output     string
	NoColor    bool
}

// GetOutputFormatParsed returns the parsed output format.
func GetOutputFormatParsed() (output.Format, error) {
	return output.ParseFormat(Flags.Output)
}

// IsColorDisabled returns whether color output is disabled.
func IsColorDisabled() bool {
	return Flags.NoColor
}

// PrintOutput prints data in the configured format. For table format it
// falls back to emptyMsg when isEmpty, otherwise renders tableRenderer.
func PrintOutput(w io.Writer, data any, isEmpty bool, emptyMsg string, tableRenderer output.TableRenderer) error {
	format, err := GetOutputFormatParsed()
	if err != nil {
		return err
	}
	switch format {
	case output.FormatJSON:
		return output.PrintJSON(w, data)
	case output.FormatYAML:
		return output.PrintYAML(w, data)
	default:
		if isEmpty {
			_, _ = fmt.Fprintln(w, emptyMsg)
			return nil
		}
		return output.PrintTable(w, tableRenderer)
	}
}

// PrintSuccess prints a success message when the output format is table;
// JSON/YAML callers already got their result printed via PrintOutput.
func PrintSuccess(msg string) {
	format, err := GetOutputFormatParsed()
	if err != nil || format != output.FormatTable {
		return
	}
	output.NewPrinter(os.Stdout, format, !IsColorDisabled()).Success(msg)
}
