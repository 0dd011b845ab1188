// Package commands implements the CLI commands for the sanguardctl
// client: control-socket operations that talk to a running sanguardd
// ("client <action>"), direct on-disk operations that don't
// ("direct <action>"), and local config management.
package commands

import (
	"os"

	"github.com/spf13/cobra"

	clientcmd "github.com/sanguard/sanguard/cmd/sanguardctl/commands/client"
	configcmd "github.com/sanguard/sanguard/cmd/sanguardctl/commands/config"
	directcmd "github.com/sanguard/sanguard/cmd/sanguardctl/commands/direct"
	"github.com/sanguard/sanguard/cmd/sanguardctl/cmdutil"
)

var (
	// Version information injected at build time.
	Version = "dev"
	Commit  = "none"
	Date    = "unknown"
)

var rootCmd = &cobra.Command{
	Use:   "sanguardctl",
	Short: "sanguardctl - control client for the sanguard lease manager",
	Long: `sanguardctl talks to a running sanguardd over its control socket
("client <action>") and, for recovery and debugging, operates directly
on a lockspace or resource's on-disk layout without a running daemon
("direct <action>").

Use "sanguardctl [command] --help" for more information about a command.`,
	SilenceUsage:  true,
	SilenceErrors: true,
	PersistentPreRun: func(cmd *cobra.Command, args []string) {
		cmdutil.Flags.SocketPath, _ = cmd.Flags().GetString("socket")
		cmdutil.Flags.ConfigFile, _ = cmd.Flags().GetString("config")
		cmdutil.Flags.Output, _ = cmd.Flags().GetString("output")
		cmdutil.Flags.NoColor, _ = cmd.Flags().GetBool("no-color")
	},
}

// Execute adds all child commands to the root command and runs it.
func Execute() error {
	return rootCmd.Execute()
}

func init() {
	rootCmd.PersistentFlags().String("socket", "/var/run/sanlock/sanguard.sock", "Control socket path")
	rootCmd.PersistentFlags().String("config", "", "Config file (default: $XDG_CONFIG_HOME/sanguard/config.yaml)")
	rootCmd.PersistentFlags().StringP("output", "o", "table", "Output format (table|json|yaml)")
	rootCmd.PersistentFlags().Bool("no-color", false, "Disable colored output")

	rootCmd.AddCommand(clientcmd.Cmd)
	rootCmd.AddCommand(directcmd.Cmd)
	rootCmd.AddCommand(configcmd.Cmd)
	rootCmd.AddCommand(versionCmd)
	rootCmd.AddCommand(completionCmd)

	rootCmd.CompletionOptions.DisableDefaultCmd = true
}

// PrintErr prints an error message to stderr.
func PrintErr(format string, args ...any) {
	rootCmd.PrintErrf(format+"\n", args...)
}

// Exit prints an error and exits with code 1.
func Exit(format string, args ...any) {
	PrintErr(format, args...)
	os.Exit(1)
}
