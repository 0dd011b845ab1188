// Package client implements "sanguardctl client <action>": every
// operation that talks to a running sanguardd over its control socket.
package client

import (
	"github.com/spf13/cobra"

	"github.com/sanguard/sanguard/cmd/sanguardctl/cmdutil"
)

// Cmd is the "client" command group, added to the root command.
var Cmd = &cobra.Command{
	Use:   "client",
	Short: "Commands that talk to a running sanguardd over its control socket",
}

func dial() (*cmdutil.Conn, error) {
	return cmdutil.Dial(cmdutil.Flags.SocketPath)
}
