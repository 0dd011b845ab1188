// Package token implements C6, the token manager: resource registration,
// per-client token bookkeeping, and the acquire/release surface the
// orchestrator (pkg/orchestrator) drives on behalf of registered
// clients. Grounded on the teacher's pkg/metadata/lock package, which
// keeps an equivalent per-handle lock-state table guarded by a single
// mutex plus a background worker for deferred cleanup.
package token

import (
	"context"
	"fmt"
	"sync"
	"time"

	"github.com/google/uuid"

	"github.com/sanguard/sanguard/internal/directio"
	"github.com/sanguard/sanguard/internal/logger"
	"github.com/sanguard/sanguard/pkg/faults"
	"github.com/sanguard/sanguard/pkg/metrics"
	"github.com/sanguard/sanguard/pkg/paxos"
)

// DiskSpec names one backing block device for a resource, before it has
// been opened.
type DiskSpec struct {
	Path       string
	Offset     int64
	SectorSize uint32
}

// ResourceConfig is what add_resource registers: the resource's name,
// lockspace, disk layout and default timing, prior to any client
// acquiring it.
type ResourceConfig struct {
	Name       string
	SpaceName  string
	Disks      []DiskSpec
	SectorSize uint32
	AlignSize  uint32
	IOTimeout  time.Duration
	NumHosts   uint32
}

type resourceEntry struct {
	cfg       ResourceConfig
	disks     []paxos.Disk // nil until open_disks
	openCount int
}

// Token is one local holder's stake in one resource lease, wrapping
// the paxos package's wire-level Token with the orchestrator-visible
// identity (client pid, token id) that owns it.
type Token struct {
	ID           string
	ResourceName string
	ClientPid    int
	CreatedAt    time.Time

	inner *paxos.Token
}

// Manager is C6: the token table plus the resource registry it draws
// disks from. One Manager exists per daemon process.
type Manager struct {
	mu sync.Mutex

	engine *paxos.Engine

	// openDisk opens one disk spec into a directio.Device. Defaults to
	// directio.Open; tests override it to hand back a FakeDevice.
	openDisk func(spec DiskSpec) (directio.Device, error)

	resources map[string]*resourceEntry
	tokens    map[string]*Token            // by token id
	byClient  map[int]map[string]*Token     // clientPid -> resourceName -> token

	asyncQueue chan func()
	wg         sync.WaitGroup
}

// NewManager constructs a Manager bound to the given Disk Paxos engine,
// starting asyncWorkers background goroutines to drain
// release_token_async requests so client-death cleanup never blocks the
// orchestrator's event loop on I/O.
func NewManager(engine *paxos.Engine, asyncWorkers int) *Manager {
	if asyncWorkers <= 0 {
		asyncWorkers = 4
	}
	m := &Manager{
		engine: engine,
		openDisk: func(spec DiskSpec) (directio.Device, error) {
			return directio.Open(spec.Path, spec.SectorSize)
		},
		resources:  make(map[string]*resourceEntry),
		tokens:     make(map[string]*Token),
		byClient:   make(map[int]map[string]*Token),
		asyncQueue: make(chan func(), 256),
	}
	for i := 0; i < asyncWorkers; i++ {
		m.wg.Add(1)
		go m.asyncWorker()
	}
	return m
}

func (m *Manager) asyncWorker() {
	defer m.wg.Done()
	for fn := range m.asyncQueue {
		fn()
	}
}

// Close stops accepting async work and waits for in-flight async
// releases to finish.
func (m *Manager) Close() {
	close(m.asyncQueue)
	m.wg.Wait()
}

// AddResource registers a resource's disk layout so tokens can later be
// acquired against it. The disks are not opened yet;
// call OpenDisks before the first Acquire.
func (m *Manager) AddResource(cfg ResourceConfig) error {
	m.mu.Lock()
	defer m.mu.Unlock()
	if _, exists := m.resources[cfg.Name]; exists {
		return faults.New(faults.EBusy, fmt.Sprintf("resource %q already added", cfg.Name))
	}
	m.resources[cfg.Name] = &resourceEntry{cfg: cfg}
	return nil
}

// DelResource unregisters a resource. It refuses while any token is
// still outstanding against it.
func (m *Manager) DelResource(name string) error {
	m.mu.Lock()
	defer m.mu.Unlock()
	entry, ok := m.resources[name]
	if !ok {
		return faults.New(faults.ENoEnt, name)
	}
	for _, tok := range m.tokens {
		if tok.ResourceName == name {
			return faults.New(faults.EBusy, fmt.Sprintf("resource %q has outstanding tokens", name))
		}
	}
	if entry.disks != nil {
		m.closeDisksLocked(entry)
	}
	delete(m.resources, name)
	return nil
}

// OpenDisks opens the block devices backing a resource, direct I/O where
// available, and caches the resulting paxos.Disk set.
// Safe to call more than once; each call is reference-counted against
// CloseDisks.
func (m *Manager) OpenDisks(name string) error {
	m.mu.Lock()
	defer m.mu.Unlock()
	entry, ok := m.resources[name]
	if !ok {
		return faults.New(faults.ENoEnt, name)
	}
	if entry.disks != nil {
		entry.openCount++
		return nil
	}
	disks := make([]paxos.Disk, 0, len(entry.cfg.Disks))
	for _, spec := range entry.cfg.Disks {
		dev, err := m.openDisk(spec)
		if err != nil {
			for _, d := range disks {
				d.Device.Close()
			}
			return err
		}
		disks = append(disks, paxos.Disk{Device: dev, Offset: spec.Offset})
	}
	entry.disks = disks
	entry.openCount = 1
	return nil
}

// CloseDisks releases one reference on a resource's open disks, closing
// the underlying file descriptors once the last reference drops.
func (m *Manager) CloseDisks(name string) error {
	m.mu.Lock()
	defer m.mu.Unlock()
	entry, ok := m.resources[name]
	if !ok {
		return faults.New(faults.ENoEnt, name)
	}
	m.closeDisksLocked(entry)
	return nil
}

func (m *Manager) closeDisksLocked(entry *resourceEntry) {
	if entry.disks == nil {
		return
	}
	entry.openCount--
	if entry.openCount > 0 {
		return
	}
	for _, d := range entry.disks {
		d.Device.Close()
	}
	entry.disks = nil
}

// AcquireToken attempts to become owner of the named resource on behalf
// of clientPid, rejecting a second concurrent acquisition of the same
// (client, resource) pair. On success it returns a Token the caller must
// eventually pass to ReleaseToken or ReleaseTokenAsync.
func (m *Manager) AcquireToken(ctx context.Context, clientPid int, resourceName string, hostID, hostGen uint64, acquireLver uint64, flags paxos.TokenFlags) (*Token, error) {
	m.mu.Lock()
	entry, ok := m.resources[resourceName]
	if !ok {
		m.mu.Unlock()
		return nil, faults.New(faults.ENoEnt, resourceName)
	}
	if entry.disks == nil {
		m.mu.Unlock()
		return nil, faults.New(faults.AcquireIDDisk, "disks not open for "+resourceName)
	}
	if byRes, ok := m.byClient[clientPid]; ok {
		if _, held := byRes[resourceName]; held {
			m.mu.Unlock()
			return nil, faults.New(faults.EBusy, "client already holds a token for this resource")
		}
	}
	cfg := entry.cfg
	disks := entry.disks
	m.mu.Unlock()

	start := time.Now()
	innerTok := &paxos.Token{
		ResourceName: resourceName,
		SpaceName:    cfg.SpaceName,
		Disks:        disks,
		SectorSize:   cfg.SectorSize,
		AlignSize:    cfg.AlignSize,
		IOTimeout:    cfg.IOTimeout,
		HostID:       hostID,
		HostGen:      hostGen,
		Flags:        flags,
	}

	result, err := m.engine.Acquire(ctx, innerTok, acquireLver, cfg.NumHosts)
	metrics.TokenAcquireDuration.WithLabelValues(resourceName).Observe(time.Since(start).Seconds())
	if err != nil {
		metrics.PaxosAcquireTotal.WithLabelValues(resourceName, metrics.OutcomeFail).Inc()
		return nil, err
	}
	metrics.PaxosAcquireTotal.WithLabelValues(resourceName, metrics.OutcomeOK).Inc()

	tok := &Token{
		ID:           uuid.NewString(),
		ResourceName: resourceName,
		ClientPid:    clientPid,
		CreatedAt:    time.Now(),
		inner:        innerTok,
	}
	innerTok.LastLeader = result.Leader
	innerTok.LastDBlock = result.DBlock

	m.mu.Lock()
	m.tokens[tok.ID] = tok
	if m.byClient[clientPid] == nil {
		m.byClient[clientPid] = make(map[string]*Token)
	}
	m.byClient[clientPid][resourceName] = tok
	m.mu.Unlock()
	metrics.ActiveTokens.Inc()

	return tok, nil
}

// ReleaseToken releases a held token synchronously.
func (m *Manager) ReleaseToken(ctx context.Context, tokenID string) error {
	m.mu.Lock()
	tok, ok := m.tokens[tokenID]
	m.mu.Unlock()
	if !ok {
		return faults.New(faults.ENoEnt, tokenID)
	}
	return m.releaseOne(ctx, tok)
}

// ReleaseTokenAsync enqueues a release to run on a background worker,
// used on client death so the orchestrator's event loop never blocks on
// the release's disk I/O.
func (m *Manager) ReleaseTokenAsync(tokenID string) {
	m.mu.Lock()
	tok, ok := m.tokens[tokenID]
	m.mu.Unlock()
	if !ok {
		return
	}
	m.asyncQueue <- func() {
		ctx := context.Background()
		if err := m.releaseOne(ctx, tok); err != nil {
			logger.WarnCtx(ctx, "async token release failed", logger.TokenID(tokenID), logger.Err(err))
		}
	}
}

// ReleaseAllForClient releases every token held by clientPid, used on
// pid death when no acquire worker is mid-flight for that client.
func (m *Manager) ReleaseAllForClient(clientPid int, async bool) {
	m.mu.Lock()
	byRes := m.byClient[clientPid]
	ids := make([]string, 0, len(byRes))
	for _, tok := range byRes {
		ids = append(ids, tok.ID)
	}
	m.mu.Unlock()

	for _, id := range ids {
		if async {
			m.ReleaseTokenAsync(id)
		} else {
			_ = m.ReleaseToken(context.Background(), id)
		}
	}
}

func (m *Manager) releaseOne(ctx context.Context, tok *Token) error {
	start := time.Now()
	newLeader, err := m.engine.Release(ctx, tok.inner, tok.inner.LastLeader, m.numHostsOf(tok.ResourceName))
	metrics.TokenReleaseDuration.WithLabelValues(tok.ResourceName).Observe(time.Since(start).Seconds())
	if err != nil {
		return err
	}
	tok.inner.LastLeader = newLeader

	m.mu.Lock()
	delete(m.tokens, tok.ID)
	if byRes, ok := m.byClient[tok.ClientPid]; ok {
		delete(byRes, tok.ResourceName)
		if len(byRes) == 0 {
			delete(m.byClient, tok.ClientPid)
		}
	}
	m.mu.Unlock()
	metrics.ActiveTokens.Dec()
	return nil
}

func (m *Manager) numHostsOf(resourceName string) uint32 {
	m.mu.Lock()
	defer m.mu.Unlock()
	if entry, ok := m.resources[resourceName]; ok {
		return entry.cfg.NumHosts
	}
	return 0
}

// TokensOf returns a snapshot of the tokens currently held by clientPid,
// for STATUS reporting and pid-death cleanup decisions.
func (m *Manager) TokensOf(clientPid int) []*Token {
	m.mu.Lock()
	defer m.mu.Unlock()
	byRes, ok := m.byClient[clientPid]
	if !ok {
		return nil
	}
	out := make([]*Token, 0, len(byRes))
	for _, tok := range byRes {
		out = append(out, tok)
	}
	return out
}

// Get returns a token by id, for INQUIRE.
func (m *Manager) Get(tokenID string) (*Token, bool) {
	m.mu.Lock()
	defer m.mu.Unlock()
	tok, ok := m.tokens[tokenID]
	return tok, ok
}

// ClientsInSpace returns the set of client pids currently holding at
// least one token against a resource in spaceName, so the orchestrator's
// kill-escalation tick knows who to SIGTERM/SIGKILL when that
// lockspace enters killing_pids.
func (m *Manager) ClientsInSpace(spaceName string) []int {
	m.mu.Lock()
	defer m.mu.Unlock()
	seen := make(map[int]struct{})
	for _, tok := range m.tokens {
		entry, ok := m.resources[tok.ResourceName]
		if !ok || entry.cfg.SpaceName != spaceName {
			continue
		}
		seen[tok.ClientPid] = struct{}{}
	}
	out := make([]int, 0, len(seen))
	for pid := range seen {
		out = append(out, pid)
	}
	return out
}
