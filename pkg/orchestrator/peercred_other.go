//go:build !linux

package orchestrator

import (
	"fmt"
	"net"
)

// peerPID has no SO_PEERCRED-equivalent wired up on non-Linux platforms;
// sanguardd only ships for Linux hosts (the watchdog/mmap path in
// pkg/lockspace is Linux-only too), so this is a clear failure rather
// than a silent guess.
func peerPID(conn net.Conn) (int, error) {
	return 0, fmt.Errorf("peer credential lookup not supported on this platform")
}
