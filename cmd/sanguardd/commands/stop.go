package commands

import (
	"fmt"
	"os"
	"strconv"
	"strings"
	"syscall"

	"github.com/spf13/cobra"
)

var (
	stopPidFile string
	stopForce   bool
)

var stopCmd = &cobra.Command{
	Use:   "stop",
	Short: "Stop the sanguardd daemon",
	Long: `Stop a running sanguardd daemon.

By default, sends a graceful shutdown signal, which marks every joined
lockspace for cooperative shutdown and drains in-flight clients. Use
--force for immediate termination.

Examples:
  # Stop the daemon (uses default PID file)
  sanguardd stop

  # Stop using a custom PID file
  sanguardd stop --pid-file /var/run/sanguardd.pid

  # Force stop
  sanguardd stop --force`,
	RunE: runStop,
}

func init() {
	stopCmd.Flags().StringVar(&stopPidFile, "pid-file", "", "Path to PID file (default: $XDG_STATE_HOME/sanguard/sanguardd.pid)")
	stopCmd.Flags().BoolVarP(&stopForce, "force", "f", false, "Force kill instead of graceful shutdown")
}

func runStop(cmd *cobra.Command, args []string) error {
	pidPath := stopPidFile
	if pidPath == "" {
		pidPath = GetDefaultPidFile()
	}

	pidData, err := os.ReadFile(pidPath)
	if err != nil {
		if os.IsNotExist(err) {
			return fmt.Errorf("PID file not found: %s\n\nIs sanguardd running?", pidPath)
		}
		return fmt.Errorf("failed to read PID file: %w", err)
	}

	pid, err := strconv.Atoi(strings.TrimSpace(string(pidData)))
	if err != nil {
		return fmt.Errorf("invalid PID in file: %s", string(pidData))
	}

	process, err := os.FindProcess(pid)
	if err != nil {
		return fmt.Errorf("failed to find process %d: %w", pid, err)
	}

	sig, name := syscall.SIGTERM, "SIGTERM"
	if stopForce {
		sig, name = syscall.SIGKILL, "SIGKILL"
	}
	fmt.Printf("Sending %s to process %d...\n", name, pid)

	if err := process.Signal(sig); err != nil {
		if err == os.ErrProcessDone {
			fmt.Println("sanguardd already stopped")
			_ = os.Remove(pidPath)
			return nil
		}
		return fmt.Errorf("failed to send signal: %w", err)
	}

	if stopForce {
		fmt.Println("sanguardd terminated")
	} else {
		fmt.Println("Shutdown signal sent. sanguardd will stop gracefully.")
	}

	return nil
}
