package orchestrator

import (
	"context"
	"fmt"
	"net"
	"os"
	"sync"
	"time"

	"github.com/sanguard/sanguard/internal/directio"
	"github.com/sanguard/sanguard/internal/logger"
	"github.com/sanguard/sanguard/pkg/config"
	"github.com/sanguard/sanguard/pkg/lockspace"
	"github.com/sanguard/sanguard/pkg/metrics"
	"github.com/sanguard/sanguard/pkg/paxos"
	"github.com/sanguard/sanguard/pkg/token"
)

// Daemon is C7: the control-socket event loop tying together the
// lockspace registry (C5) and the token manager (C6). One Daemon exists
// per sanguardd process.
//
// Unlike a single-threaded poll() loop, this rendering uses one
// goroutine per connection plus a ticker goroutine for
// kill-escalation; the documented invariants (per-client cmd_active
// serialization, spacesMutex/space.mutex/client.mutex ordering,
// never holding a lock while writing to a client socket) are preserved
// exactly, just expressed with goroutines and mutexes instead of a
// single poll() dispatch table.
type Daemon struct {
	cfg *config.Config

	registry *lockspace.Registry
	tokens   *token.Manager
	paxos    *paxos.Engine

	openDevice func(path string, sectorSize uint32) (directio.Device, error)

	mu      sync.Mutex
	clients map[*client]struct{}
	byPid   map[int]*client

	killEscalationWait time.Duration
	tickInterval       time.Duration
	escalationLimit    int
	escalations        map[string]int

	listener net.Listener
	wg       sync.WaitGroup

	stopCh chan struct{}
	stopOnce sync.Once
}

// New builds a Daemon from static configuration. It does not start
// listening or join any lockspaces; call Run for that.
func New(cfg *config.Config) *Daemon {
	registry := lockspace.NewRegistry()
	engine := &paxos.Engine{Liveness: registry}

	d := &Daemon{
		cfg:      cfg,
		registry: registry,
		paxos:    engine,
		tokens:   token.NewManager(engine, 4),
		openDevice: func(path string, sectorSize uint32) (directio.Device, error) {
			return directio.Open(path, sectorSize)
		},
		clients:            make(map[*client]struct{}),
		byPid:               make(map[int]*client),
		killEscalationWait:  cfg.Timing.KillEscalationWait,
		tickInterval:        cfg.Timing.OrchestratorTick,
		escalationLimit:     3, // SPEC_FULL.md Open Question 1: force-remove after the third escalation
		escalations:         make(map[string]int),
		stopCh:              make(chan struct{}),
	}
	return d
}

// JoinConfigured joins every lockspace and registers every resource
// named in the daemon's static configuration, the startup-time
// equivalent of a client issuing ADD_LOCKSPACE for each one.
func (d *Daemon) JoinConfigured(ctx context.Context) error {
	for _, ls := range d.cfg.Lockspaces {
		if err := d.addLockspace(ctx, AddLockspaceRequest{
			Name:       ls.Name,
			HostID:     ls.HostID,
			MaxHosts:   ls.MaxHosts,
			Path:       ls.Path,
			Offset:     ls.Offset,
			SectorSize: uint32(ls.SectorSize.Uint64()),
			IOTimeout:  ls.IOTimeout.Seconds(),
		}); err != nil {
			return fmt.Errorf("joining lockspace %q: %w", ls.Name, err)
		}
	}
	for _, r := range d.cfg.Resources {
		disks := make([]token.DiskSpec, 0, len(r.Disks))
		for _, dk := range r.Disks {
			disks = append(disks, token.DiskSpec{Path: dk.Path, Offset: dk.Offset, SectorSize: uint32(r.SectorSize.Uint64())})
		}
		rcfg := token.ResourceConfig{
			Name:       r.Name,
			SpaceName:  r.SpaceName,
			Disks:      disks,
			SectorSize: uint32(r.SectorSize.Uint64()),
			AlignSize:  uint32(r.AlignSize.Uint64()),
			IOTimeout:  r.IOTimeout,
			NumHosts:   r.NumHosts,
		}
		if err := d.tokens.AddResource(rcfg); err != nil {
			return fmt.Errorf("adding resource %q: %w", r.Name, err)
		}
		if err := d.tokens.OpenDisks(r.Name); err != nil {
			return fmt.Errorf("opening disks for resource %q: %w", r.Name, err)
		}
	}
	return nil
}

// Run listens on the configured control socket and serves connections
// until ctx is cancelled. It also drives the kill-escalation tick.
func (d *Daemon) Run(ctx context.Context) error {
	if err := os.RemoveAll(d.cfg.Socket.Path); err != nil && !os.IsNotExist(err) {
		return fmt.Errorf("clearing stale control socket: %w", err)
	}
	ln, err := net.Listen("unix", d.cfg.Socket.Path)
	if err != nil {
		return fmt.Errorf("listening on control socket: %w", err)
	}
	d.listener = ln
	logger.InfoCtx(ctx, "control socket listening", "path", d.cfg.Socket.Path)

	d.wg.Add(1)
	go d.tickLoop(ctx)

	go func() {
		<-ctx.Done()
		_ = ln.Close()
	}()

	for {
		conn, err := ln.Accept()
		if err != nil {
			select {
			case <-ctx.Done():
				d.wg.Wait()
				_ = os.RemoveAll(d.cfg.Socket.Path)
				return nil
			default:
				return fmt.Errorf("accept: %w", err)
			}
		}
		d.wg.Add(1)
		go d.serveConn(ctx, conn)
	}
}

// Shutdown marks every joined lockspace for cooperative shutdown and
// stops the kill-escalation tick. It returns without waiting; Run waits
// for the connection handlers once its context is cancelled.
func (d *Daemon) Shutdown() {
	d.stopOnce.Do(func() {
		for _, sp := range d.registry.List() {
			sp.RequestShutdown()
		}
		close(d.stopCh)
	})
}

func (d *Daemon) addClient(c *client) {
	d.mu.Lock()
	d.clients[c] = struct{}{}
	d.mu.Unlock()
}

func (d *Daemon) registerClient(c *client, pid int) {
	d.mu.Lock()
	c.pid = pid
	d.byPid[pid] = c
	d.mu.Unlock()
	metrics.ActiveLockspaces.Set(float64(len(d.registry.List())))
}

func (d *Daemon) removeClient(c *client) {
	d.mu.Lock()
	delete(d.clients, c)
	if c.pid != 0 {
		delete(d.byPid, c.pid)
	}
	d.mu.Unlock()
}

// clientsSnapshot returns every currently-registered client, for STATUS
// and the kill-escalation tick.
func (d *Daemon) clientsSnapshot() []*client {
	d.mu.Lock()
	defer d.mu.Unlock()
	out := make([]*client, 0, len(d.clients))
	for c := range d.clients {
		out = append(out, c)
	}
	return out
}
