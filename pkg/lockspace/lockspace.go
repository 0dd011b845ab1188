// Package lockspace implements C5: the per-lockspace renewal thread
// that integrates the delta-lease engine (pkg/delta) with a hardware
// watchdog and publishes host liveness for the Disk Paxos engine
// (pkg/paxos) to consult.
package lockspace

import (
	"context"
	"fmt"
	"os"
	"sync"
	"time"

	"golang.org/x/sys/unix"

	"github.com/sanguard/sanguard/internal/directio"
	"github.com/sanguard/sanguard/internal/logger"
	"github.com/sanguard/sanguard/pkg/delta"
	"github.com/sanguard/sanguard/pkg/faults"
	"github.com/sanguard/sanguard/pkg/metrics"
)

// watchdogPageSize is the size of the mmap'd flag file registered with
// the watchdog multiplexer. One page is far more than the single
// freshness byte this file carries, but mmap requires page granularity.
const watchdogPageSize = 4096

// RenewalOutcome is one entry in a Space's RenewalHistory ring buffer
// (the "ring buffer of recent renewal outcomes" named in ).
type RenewalOutcome struct {
	At                time.Time
	OK                bool
	ObservedTimestamp uint64
}

// RenewalHistory is a fixed-capacity ring buffer of RenewalOutcome,
// filled by the renewal loop and read back through Space.History. The
// STATUS reply does not include it, and WARN/FAIL state is derived from
// the time since the last successful renewal, not from this buffer.
type RenewalHistory struct {
	mu   sync.Mutex
	buf  []RenewalOutcome
	next int
	full bool
}

func NewRenewalHistory(capacity int) *RenewalHistory {
	return &RenewalHistory{buf: make([]RenewalOutcome, capacity)}
}

func (h *RenewalHistory) Push(o RenewalOutcome) {
	h.mu.Lock()
	defer h.mu.Unlock()
	h.buf[h.next] = o
	h.next = (h.next + 1) % len(h.buf)
	if h.next == 0 {
		h.full = true
	}
}

// Recent returns outcomes oldest-first.
func (h *RenewalHistory) Recent() []RenewalOutcome {
	h.mu.Lock()
	defer h.mu.Unlock()
	if !h.full {
		out := make([]RenewalOutcome, h.next)
		copy(out, h.buf[:h.next])
		return out
	}
	out := make([]RenewalOutcome, len(h.buf))
	copy(out, h.buf[h.next:])
	copy(out[len(h.buf)-h.next:], h.buf[:h.next])
	return out
}

// State is a lockspace's renewal health.
type State int

const (
	StateJoining State = iota
	StateHealthy
	StateWarn
	StateFail
)

func (s State) String() string {
	switch s {
	case StateJoining:
		return "joining"
	case StateHealthy:
		return "healthy"
	case StateWarn:
		return "warn"
	case StateFail:
		return "fail"
	default:
		return "unknown"
	}
}

// HostStatus is one entry of a space's host-status table: the last
// delta-lease record observed for a slot, when it was last read, and
// when it was last seen to advance.
type HostStatus struct {
	HostID    uint64
	OwnerGen  uint64
	Timestamp uint64
	LastRead  time.Time
	LastLive  time.Time
	IOTimeout time.Duration
}

// Space is one named lockspace: identifier, renewal state, lifecycle
// flags and host-status table.
type Space struct {
	mu sync.Mutex

	Name      string
	HostID    uint64
	Generation uint64
	IOTimeout time.Duration
	MaxHosts  uint32

	engine  *delta.Engine
	history *RenewalHistory

	identity delta.Identity
	state    State

	hostStatus map[uint64]*HostStatus

	KillingPids     bool
	ExternalRemove  bool
	ExternalShutdown bool
	ThreadStop      bool

	watchdogPath string
	watchdogFile *os.File
	watchdogMap  []byte

	stopCh chan struct{}
	doneCh chan struct{}
}

// Config describes how to stand up a Space.
type Config struct {
	Name         string
	HostID       uint64
	MaxHosts     uint32
	IOTimeout    time.Duration
	Device       directio.Device
	Offset       int64
	SectorSize   uint32
	WatchdogDir  string
	HistorySize  int
}

// KillNotifier lets the orchestrator (C7) learn when a space transitions
// to FAIL so it can start SIGTERM/SIGKILL escalation of local holders,
// without lockspace importing the orchestrator package.
type KillNotifier interface {
	NotifyKillPids(spaceName string)
}

// New creates a Space. It does not start the renewal goroutine; call
// Run for that (typically from Registry.Add).
func New(cfg Config) *Space {
	return &Space{
		Name:       cfg.Name,
		HostID:     cfg.HostID,
		MaxHosts:   cfg.MaxHosts,
		IOTimeout:  cfg.IOTimeout,
		engine: &delta.Engine{
			Device:      cfg.Device,
			SpaceOffset: cfg.Offset,
			SpaceName:   cfg.Name,
			SectorSize:  cfg.SectorSize,
			IOTimeout:   cfg.IOTimeout,
		},
		history:      NewRenewalHistory(max(cfg.HistorySize, 32)),
		hostStatus:   make(map[uint64]*HostStatus),
		watchdogPath: watchdogFilePath(cfg.WatchdogDir, cfg.Name),
		stopCh:       make(chan struct{}),
		doneCh:       make(chan struct{}),
	}
}

func max(a, b int) int {
	if a > b {
		return a
	}
	return b
}

func watchdogFilePath(dir, name string) string {
	if dir == "" {
		return ""
	}
	return dir + "/" + name
}

// RequestShutdown marks the space for cooperative shutdown: the
// orchestrator calls this when external_shutdown is set, causing the
// next tick to begin SIGTERM/SIGKILL escalation of local holders.
func (s *Space) RequestShutdown() {
	s.mu.Lock()
	s.ExternalShutdown = true
	s.KillingPids = true
	s.mu.Unlock()
}

// RequestRemove marks the space for removal (REM_LOCKSPACE), same
// escalation path as RequestShutdown but distinguished for status
// reporting.
func (s *Space) RequestRemove() {
	s.mu.Lock()
	s.ExternalRemove = true
	s.KillingPids = true
	s.mu.Unlock()
}

// Killing reports whether this space has entered the killing_pids state,
// synchronized the same way every other field read of Space is (never
// read the exported bool fields directly from outside the package).
func (s *Space) Killing() bool {
	s.mu.Lock()
	defer s.mu.Unlock()
	return s.KillingPids
}

// Flags returns a snapshot of the space's lifecycle flags, for STATUS.
func (s *Space) Flags() (killingPids, externalRemove, externalShutdown bool) {
	s.mu.Lock()
	defer s.mu.Unlock()
	return s.KillingPids, s.ExternalRemove, s.ExternalShutdown
}

// State returns the space's current renewal health.
func (s *Space) State() State {
	s.mu.Lock()
	defer s.mu.Unlock()
	return s.state
}

func (s *Space) setState(st State) {
	s.mu.Lock()
	s.state = st
	s.mu.Unlock()
}

// History exposes the renewal ring buffer for status reporting.
func (s *Space) History() *RenewalHistory { return s.history }

// Identity returns this host's current (owner_id, owner_generation) in
// this space.
func (s *Space) Identity() delta.Identity {
	s.mu.Lock()
	defer s.mu.Unlock()
	return s.identity
}

// registerWatchdog opens (creating if needed) and mmaps the per-space
// watchdog flag file, the way the watchdog multiplexer (wdmd) expects a
// registrant to: the mapping's mere existence, kept fresh by repeated
// writes, is wdmd's signal to keep petting the hardware watchdog for
// this host. Grounded on the teacher's wal/mmap.go PROT_READ|
// PROT_WRITE/MAP_SHARED mapping of its own persistence file.
func (s *Space) registerWatchdog() {
	if s.watchdogPath == "" {
		return
	}
	f, err := os.OpenFile(s.watchdogPath, os.O_RDWR|os.O_CREATE, 0644)
	if err != nil {
		return
	}
	if err := f.Truncate(watchdogPageSize); err != nil {
		f.Close()
		return
	}
	data, err := unix.Mmap(int(f.Fd()), 0, watchdogPageSize, unix.PROT_READ|unix.PROT_WRITE, unix.MAP_SHARED)
	if err != nil {
		f.Close()
		return
	}
	s.watchdogFile = f
	s.watchdogMap = data
}

// feedWatchdog stamps the current time into the mapped flag page and
// msyncs it, refreshing the freshness wdmd checks for this lockspace.
func (s *Space) feedWatchdog() {
	if s.watchdogMap == nil {
		s.registerWatchdog()
		if s.watchdogMap == nil {
			return
		}
	}
	now := uint64(time.Now().Unix())
	for i := 0; i < 8; i++ {
		s.watchdogMap[i] = byte(now >> (8 * i))
	}
	unix.Msync(s.watchdogMap, unix.MS_ASYNC)
}

// removeWatchdog unmaps and deletes the flag file, causing wdmd to stop
// petting the hardware watchdog for this host.
func (s *Space) removeWatchdog() {
	if s.watchdogMap != nil {
		unix.Munmap(s.watchdogMap)
		s.watchdogMap = nil
	}
	if s.watchdogFile != nil {
		s.watchdogFile.Close()
		s.watchdogFile = nil
	}
	if s.watchdogPath != "" {
		os.Remove(s.watchdogPath)
	}
}

// Join performs the slow startup delta acquire and registers the
// watchdog file.
func (s *Space) Join(ctx context.Context, deadMargin time.Duration) error {
	id, err := s.engine.Acquire(ctx, s.HostID, deadMargin)
	if err != nil {
		metrics.DeltaAcquireTotal.WithLabelValues(s.Name, "fail").Inc()
		return err
	}
	metrics.DeltaAcquireTotal.WithLabelValues(s.Name, "ok").Inc()

	s.mu.Lock()
	s.identity = *id
	s.Generation = id.OwnerGeneration
	s.mu.Unlock()

	s.feedWatchdog()
	s.setState(StateHealthy)
	return nil
}

// Run drives the renewal loop until Stop is called or KillingPids is
// set and all dependent pids are gone (the orchestrator calls Stop once
// that condition is observed).
func (s *Space) Run(ctx context.Context, notifier KillNotifier) {
	defer close(s.doneCh)

	ticker := time.NewTicker(delta.RenewalPeriod(s.IOTimeout))
	defer ticker.Stop()

	var lastSuccess time.Time = time.Now()

	for {
		select {
		case <-s.stopCh:
			s.release(ctx)
			return
		case <-ctx.Done():
			return
		case <-ticker.C:
			newID, err := s.engine.Renew(ctx, s.HostID, s.Identity(), true)
			if err != nil {
				metrics.DeltaRenewTotal.WithLabelValues(s.Name, "fail").Inc()
				s.history.Push(RenewalOutcome{At: time.Now(), OK: false})
				since := time.Since(lastSuccess)
				logger.WarnCtx(ctx, "delta renewal failed", "space", s.Name, "since_last_ok", since.String())
				if since >= delta.RenewalFail(s.IOTimeout) {
					s.setState(StateFail)
					s.removeWatchdog()
					s.mu.Lock()
					s.KillingPids = true
					s.mu.Unlock()
					if notifier != nil {
						notifier.NotifyKillPids(s.Name)
					}
				} else if since >= delta.RenewalWarn(s.IOTimeout) {
					s.setState(StateWarn)
				}
				continue
			}

			metrics.DeltaRenewTotal.WithLabelValues(s.Name, "ok").Inc()
			s.mu.Lock()
			s.identity = newID
			s.mu.Unlock()
			s.history.Push(RenewalOutcome{At: time.Now(), OK: true, ObservedTimestamp: newID.Timestamp})
			lastSuccess = time.Now()
			s.feedWatchdog()
			s.setState(StateHealthy)
		}
	}
}

// Stop asks the renewal loop to exit and release the delta lease.
func (s *Space) Stop() {
	s.mu.Lock()
	if s.ThreadStop {
		s.mu.Unlock()
		return
	}
	s.ThreadStop = true
	s.mu.Unlock()
	close(s.stopCh)
	<-s.doneCh
}

func (s *Space) release(ctx context.Context) {
	id := s.Identity()
	if err := s.engine.Release(ctx, s.HostID, id); err != nil {
		logger.WarnCtx(ctx, "delta release failed", "space", s.Name, "error", err.Error())
	}
	s.removeWatchdog()
}

// RefreshHostStatus opportunistically reads a peer slot and updates the
// host-status table; correctness does not depend on this — C4's
// owner-liveness check performs its own reads.
func (s *Space) RefreshHostStatus(ctx context.Context, hostID uint64) error {
	rec, err := s.engine.Read(ctx, hostID)
	if err != nil {
		return err
	}
	s.mu.Lock()
	defer s.mu.Unlock()
	hs, ok := s.hostStatus[hostID]
	if !ok {
		hs = &HostStatus{HostID: hostID}
		s.hostStatus[hostID] = hs
	}
	now := time.Now()
	if rec.Timestamp != hs.Timestamp || rec.OwnerGeneration != hs.OwnerGen {
		hs.LastLive = now
	}
	hs.OwnerGen = rec.OwnerGeneration
	hs.Timestamp = rec.Timestamp
	hs.LastRead = now
	hs.IOTimeout = s.IOTimeout
	return nil
}

// HostStatusOf returns a snapshot of hostID's last-observed status.
func (s *Space) HostStatusOf(hostID uint64) (HostStatus, bool) {
	s.mu.Lock()
	defer s.mu.Unlock()
	hs, ok := s.hostStatus[hostID]
	if !ok {
		return HostStatus{}, false
	}
	return *hs, true
}

// IsAlive implements paxos.LivenessChecker: given the owner
// named by a resource's leader, decide whether that host is still alive
// in this space by delta-reading its slot until its timestamp advances,
// it is observed dead, or host_dead_seconds elapses.
func (s *Space) IsAlive(ctx context.Context, _ string, ownerID, ownerGeneration uint64, leaderChanged func() (bool, error)) (bool, error) {
	waitStart := time.Now()
	hs, _ := s.HostStatusOf(ownerID)
	lastTimestamp := hs.Timestamp
	lastLive := hs.LastLive

	for {
		rec, err := s.engine.Read(ctx, ownerID)
		if err != nil {
			return false, err
		}
		if rec.Timestamp == 0 {
			return false, nil
		}
		if rec.OwnerID != ownerID || rec.OwnerGeneration != ownerGeneration {
			return false, nil
		}
		if rec.Timestamp != lastTimestamp {
			return true, nil
		}
		if cur, ok := s.HostStatusOf(ownerID); ok && !cur.LastLive.Before(lastLive) && cur.LastLive.After(lastLive) {
			return true, nil
		}
		if time.Since(waitStart) > delta.HostDeadSeconds(s.IOTimeout, delta.SafetyMargin) {
			return false, nil
		}
		if leaderChanged != nil {
			changed, err := leaderChanged()
			if err != nil {
				return false, err
			}
			if changed {
				return false, faults.New(faults.AcquireIDLive, "leader changed during liveness wait")
			}
		}
		time.Sleep(time.Second)
	}
}

// Registry tracks all lockspaces this daemon currently holds. spaces_mutex
// guards the map, held briefly and never while doing I/O.
type Registry struct {
	mu     sync.Mutex
	spaces map[string]*Space
}

func NewRegistry() *Registry {
	return &Registry{spaces: make(map[string]*Space)}
}

// Add registers and starts a new Space, serialized against Remove of
// the same name under spaces_mutex so the two never race the existence
// check (Open Question 2, resolved in DESIGN.md).
func (r *Registry) Add(ctx context.Context, sp *Space, notifier KillNotifier) error {
	r.mu.Lock()
	if _, exists := r.spaces[sp.Name]; exists {
		r.mu.Unlock()
		return faults.New(faults.EBusy, fmt.Sprintf("lockspace %q already added", sp.Name))
	}
	r.spaces[sp.Name] = sp
	r.mu.Unlock()

	if err := sp.Join(ctx, delta.SafetyMargin); err != nil {
		r.mu.Lock()
		delete(r.spaces, sp.Name)
		r.mu.Unlock()
		return err
	}
	go sp.Run(ctx, notifier)
	return nil
}

// Remove stops and unregisters a Space by name.
func (r *Registry) Remove(name string) error {
	r.mu.Lock()
	sp, ok := r.spaces[name]
	if !ok {
		r.mu.Unlock()
		return faults.New(faults.ENoEnt, name)
	}
	delete(r.spaces, name)
	r.mu.Unlock()

	sp.Stop()
	return nil
}

// Get returns a registered Space by name, implementing the "via the C5
// registry" lookup paxos's liveness check needs.
func (r *Registry) Get(name string) (*Space, bool) {
	r.mu.Lock()
	defer r.mu.Unlock()
	sp, ok := r.spaces[name]
	return sp, ok
}

// List returns a snapshot of all registered spaces, for STATUS.
func (r *Registry) List() []*Space {
	r.mu.Lock()
	defer r.mu.Unlock()
	out := make([]*Space, 0, len(r.spaces))
	for _, sp := range r.spaces {
		out = append(out, sp)
	}
	return out
}

// IsAlive implements paxos.LivenessChecker by dispatching to the named
// space's own IsAlive, looking it up via the registry.
func (r *Registry) IsAlive(ctx context.Context, spaceName string, ownerID, ownerGeneration uint64, leaderChanged func() (bool, error)) (bool, error) {
	sp, ok := r.Get(spaceName)
	if !ok {
		return false, faults.New(faults.AcquireLockspace, spaceName)
	}
	return sp.IsAlive(ctx, spaceName, ownerID, ownerGeneration, leaderChanged)
}
