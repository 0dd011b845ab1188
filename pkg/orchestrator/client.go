package orchestrator

import (
	"net"
	"sync"
	"time"
)

// client is one registered connection: its pid (read from socket
// credentials on REGISTER), a per-client lock serializing commands so at
// most one long-running command is ever in flight for this client, and
// the liveness flags the kill-escalation tick reads.
//
// Lock ordering: a client's mu is always a leaf — never held while the
// daemon takes its spacesMu or a lockspace's own mutex.
type client struct {
	mu sync.Mutex

	conn net.Conn
	pid  int

	registeredAt time.Time

	cmdActive bool // one long-running command (ACQUIRE/RELEASE/INQUIRE) in flight

	pidDead  bool // set once the connection closed or the process is gone
	killing  int  // SIGTERM/SIGKILL escalations sent to this pid so far
}

func newClient(conn net.Conn, pid int) *client {
	return &client{conn: conn, pid: pid, registeredAt: time.Now()}
}

// beginCmd reports whether a command may start now, marking cmdActive if
// so. Commands dispatched inline (REGISTER/STATUS/LOG_DUMP/SHUTDOWN)
// don't call this; only ACQUIRE/RELEASE/INQUIRE do.
func (c *client) beginCmd() bool {
	c.mu.Lock()
	defer c.mu.Unlock()
	if c.cmdActive {
		return false
	}
	c.cmdActive = true
	return true
}

func (c *client) endCmd() {
	c.mu.Lock()
	c.cmdActive = false
	c.mu.Unlock()
}

func (c *client) markDead() {
	c.mu.Lock()
	c.pidDead = true
	c.mu.Unlock()
}

func (c *client) isDead() bool {
	c.mu.Lock()
	defer c.mu.Unlock()
	return c.pidDead
}

func (c *client) isCmdActive() bool {
	c.mu.Lock()
	defer c.mu.Unlock()
	return c.cmdActive
}

func (c *client) bumpKilling() int {
	c.mu.Lock()
	defer c.mu.Unlock()
	c.killing++
	return c.killing
}
