// Package config implements "sanguardctl config <action>": local
// management of the static configuration file sanguardd reads at
// startup. Unlike "client" and "direct", these commands never touch a
// disk lease or a control socket.
package config

import (
	"fmt"
	"os"

	"github.com/spf13/cobra"

	"github.com/sanguard/sanguard/cmd/sanguardctl/cmdutil"
	"github.com/sanguard/sanguard/internal/cli/output"
	"github.com/sanguard/sanguard/pkg/config"
)

// Cmd is the "config" command group, added to the root command.
var Cmd = &cobra.Command{
	Use:   "config",
	Short: "Manage the local sanguardd configuration file",
}

var initForce bool

var initCmd = &cobra.Command{
	Use:   "init",
	Short: "Write a default configuration file",
	Long: `init writes a fully-defaulted configuration file (no lockspaces or
resources — those are site-specific) to the resolved config path, the
file sanguardd start and MustLoad expect to find.`,
	RunE: func(cmd *cobra.Command, args []string) error {
		path := cmdutil.Flags.ConfigFile
		if path == "" {
			path = config.GetDefaultConfigPath()
		}
		if !initForce {
			if _, err := os.Stat(path); err == nil {
				return fmt.Errorf("configuration file already exists at %s (use --force to overwrite)", path)
			}
		}
		if err := config.SaveConfig(config.GetDefaultConfig(), path); err != nil {
			return err
		}
		cmdutil.PrintSuccess(fmt.Sprintf("wrote default configuration to %s", path))
		return nil
	},
}

var showCmd = &cobra.Command{
	Use:   "show",
	Short: "Print the resolved configuration (file, env, and defaults merged)",
	RunE: func(cmd *cobra.Command, args []string) error {
		cfg, err := config.MustLoad(cmdutil.Flags.ConfigFile)
		if err != nil {
			return err
		}

		format, err := cmdutil.GetOutputFormatParsed()
		if err != nil {
			return err
		}
		switch format {
		case output.FormatJSON:
			return output.PrintJSON(cmd.OutOrStdout(), cfg)
		default:
			return output.PrintYAML(cmd.OutOrStdout(), cfg)
		}
	},
}

var validateCmd = &cobra.Command{
	Use:   "validate",
	Short: "Load and validate a configuration file without starting the daemon",
	RunE: func(cmd *cobra.Command, args []string) error {
		cfg, err := config.MustLoad(cmdutil.Flags.ConfigFile)
		if err != nil {
			return err
		}
		if err := config.Validate(cfg); err != nil {
			return err
		}
		cmdutil.PrintSuccess("configuration is valid")
		return nil
	},
}

func init() {
	initCmd.Flags().BoolVar(&initForce, "force", false, "Overwrite an existing configuration file")
	Cmd.AddCommand(initCmd)
	Cmd.AddCommand(showCmd)
	Cmd.AddCommand(validateCmd)
}
