// Command sanguardd is the lease-manager daemon: it joins configured
// lockspaces, serves the control socket, and fences local lease holders
// when a lockspace can no longer renew.
package main

import (
	"fmt"
	"os"

	"github.com/sanguard/sanguard/cmd/sanguardd/commands"
)

// Build-time variables injected via ldflags.
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
