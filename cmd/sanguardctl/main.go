// Command sanguardctl is the control client for sanguardd: it issues
// control-socket commands against a running daemon, and operates
// directly on lockspace/resource on-disk layouts for recovery and
// debugging when no daemon is running.
package main

import (
	"fmt"
	"os"

	"github.com/sanguard/sanguard/cmd/sanguardctl/commands"
)

var (
	version = "dev"
	commit  = "none"
	date    = "unknown"
)

func main() {
	commands.Version = version
	commands.Commit = commit
	commands.Date = date

	if err := commands.Execute(); err != nil {
		fmt.Fprintf(os.Stderr, "Error: %v\n", err)
		os.Exit(1)
	}
}
