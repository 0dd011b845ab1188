// Package paxos implements C4, the Disk Paxos resource-lease engine
// (Gafni & Lamport), over num_hosts+2 sectors per disk across 1..K
// disks, requiring a majority of disks for any read or write phase.
package paxos

import (
	"context"
	"math/rand"
	"time"

	"github.com/sanguard/sanguard/internal/directio"
	"github.com/sanguard/sanguard/pkg/faults"
	"github.com/sanguard/sanguard/pkg/wire"
)

// Disk is one of a resource's 1..K backing block devices.
type Disk struct {
	Device directio.Device
	Offset int64
}

// TokenFlags are the state flags carried by a Token across its
// lifetime.
type TokenFlags uint32

const (
	FlagRetractPaxos TokenFlags = 1 << iota
	FlagWriteDblockMblockSh
	FlagCheckExists
	// FlagShared marks the token as holding the lease in shared mode;
	// exclusive is the default.
	FlagShared
	// FlagForce skips the ownership gate's liveness check.
	FlagForce
	// FlagOwnerNowait makes a live-owner observation return
	// ACQUIRE_OWNED_RETRY instead of ACQUIRE_IDLIVE.
	FlagOwnerNowait
)

// Token is the in-memory handle for one local holder's stake in one
// resource lease.
type Token struct {
	ResourceName string
	SpaceName    string
	Disks        []Disk
	SectorSize   uint32
	AlignSize    uint32
	IOTimeout    time.Duration
	HostID       uint64
	HostGen      uint64

	LastLeader *wire.Leader
	LastDBlock *wire.DBlock

	Flags TokenFlags
}

// LivenessChecker is implemented by pkg/lockspace: given an owner's
// identity as named by a resource's leader, decide whether that host is
// still alive in its lockspace. Injected rather than imported directly
// so paxos does not depend on lockspace (which itself depends on
// paxos's sibling package delta).
type LivenessChecker interface {
	// IsAlive runs the owner-liveness loop for ownerID in
	// spaceName, given the generation/timestamp last observed in the
	// leader, and a callback to detect that the paxos leader changed
	// underneath the wait (which should abort the wait and signal the
	// caller to restart the whole acquire).
	IsAlive(ctx context.Context, spaceName string, ownerID, ownerGeneration uint64, leaderChanged func() (bool, error)) (alive bool, err error)
}

// Engine runs the Disk Paxos algorithm for one resource.
type Engine struct {
	Liveness LivenessChecker
	Now      func() uint64
	Sleep    func(time.Duration)
	Rand     func() float64
}

func (e *Engine) now() uint64 {
	if e.Now != nil {
		return e.Now()
	}
	return uint64(time.Now().Unix())
}

func (e *Engine) sleep(d time.Duration) {
	if e.Sleep != nil {
		e.Sleep(d)
		return
	}
	time.Sleep(d)
}

func (e *Engine) rnd() float64 {
	if e.Rand != nil {
		return e.Rand()
	}
	return rand.Float64()
}

func majority(n int) int { return n/2 + 1 }

type diskView struct {
	disk       Disk
	leader     *wire.Leader
	dblocks    map[uint64]*wire.DBlock    // by host_id
	modeblocks map[uint64]*wire.ModeBlock // by host_id
	err        error
}

// readArea reads the whole lease area (leader + dblocks for 1..num_hosts)
// from every disk, returning the per-disk views. Paxos requires only a
// majority to succeed, so callers inspect len(successful) >= majority.
func (e *Engine) readArea(ctx context.Context, tok *Token, numHosts uint32) []diskView {
	views := make([]diskView, len(tok.Disks))
	for i, d := range tok.Disks {
		v := diskView{disk: d, dblocks: map[uint64]*wire.DBlock{}, modeblocks: map[uint64]*wire.ModeBlock{}}
		areaSectors := 2 + int(numHosts)
		buf, err := directio.ReadIOBuf(ctx, d.Device, d.Offset, areaSectors, tok.IOTimeout)
		if err != nil {
			v.err = err
			views[i] = v
			continue
		}
		sec := int(tok.SectorSize)
		leader, err := wire.DecodeLeader(buf[0:sec], tok.SpaceName, tok.ResourceName, true)
		if err != nil {
			v.err = err
			views[i] = v
			continue
		}
		v.leader = leader
		for h := uint64(1); h <= uint64(numHosts); h++ {
			off := int(1+h) * sec
			if off+wire.DBlockSize > len(buf) {
				continue
			}
			db, err := wire.DecodeDBlock(buf[off : off+sec])
			if err != nil {
				continue
			}
			v.dblocks[h] = db
			mbOff := off + wire.ModeBlockOffset
			if mbOff+wire.ModeBlockSize <= len(buf) {
				if mb, err := wire.DecodeModeBlock(buf[mbOff : mbOff+wire.ModeBlockSize]); err == nil {
					v.modeblocks[h] = mb
				}
			}
		}
		views[i] = v
	}
	return views
}

func successfulViews(views []diskView) []diskView {
	out := make([]diskView, 0, len(views))
	for _, v := range views {
		if v.err == nil {
			out = append(out, v)
		}
	}
	return out
}

// majorityLeader picks the leader value that a majority of successful
// views agree on (by Lver+OwnerID+OwnerGeneration+Timestamp).
func majorityLeader(views []diskView) (*wire.Leader, error) {
	type key struct {
		lver, owner, gen, ts uint64
	}
	counts := map[key]int{}
	samples := map[key]*wire.Leader{}
	for _, v := range views {
		k := key{v.leader.Lver, v.leader.OwnerID, v.leader.OwnerGeneration, v.leader.Timestamp}
		counts[k]++
		samples[k] = v.leader
	}
	need := majority(len(views))
	for k, c := range counts {
		if c >= need {
			return samples[k], nil
		}
	}
	return nil, faults.New(faults.LeaderDiff, "no majority-agreed leader")
}

func maxMbal(views []diskView, numHosts uint32) (max uint64, slot uint64) {
	for h := uint64(1); h <= uint64(numHosts); h++ {
		for _, v := range views {
			if db, ok := v.dblocks[h]; ok && db.Mbal > max {
				max = db.Mbal
				slot = h
			}
		}
	}
	return
}

// ReadResource reads the leader of disk[0] and returns caller-visible
// identity.
func (e *Engine) ReadResource(ctx context.Context, tok *Token) (*wire.Leader, error) {
	if len(tok.Disks) == 0 {
		return nil, faults.New(faults.ENoEnt, "no disks configured")
	}
	buf, err := directio.ReadIOBuf(ctx, tok.Disks[0].Device, tok.Disks[0].Offset, 1, tok.IOTimeout)
	if err != nil {
		return nil, err
	}
	return wire.DecodeLeader(buf, tok.SpaceName, tok.ResourceName, true)
}

// LeaderRead reads the leader from a majority of disks and returns the
// copy that a majority agrees on.
func (e *Engine) LeaderRead(ctx context.Context, tok *Token, numHosts uint32) (*wire.Leader, error) {
	views := successfulViews(e.readArea(ctx, tok, numHosts))
	if len(views) < majority(len(tok.Disks)) {
		return nil, faults.New(faults.LeaderRead, "no majority of disks reachable")
	}
	return majorityLeader(views)
}

// AcquireResult is the outcome of Acquire.
type AcquireResult struct {
	Leader *wire.Leader
	DBlock *wire.DBlock
	Code   faults.Code // OK, AcquireOther, AcquireOwned, etc.
}

// Acquire attempts to become owner of the resource named by tok.
// acquireLver, if non-zero, pins the expected current lver
// (ACQUIRE_LVER if it doesn't match). newNumHosts resizes the lease
// area's host count.
func (e *Engine) Acquire(ctx context.Context, tok *Token, acquireLver uint64, newNumHosts uint32) (*AcquireResult, error) {
	for {
		result, restart, err := e.acquireOnce(ctx, tok, acquireLver, newNumHosts)
		if err != nil {
			return nil, err
		}
		if restart {
			continue
		}
		return result, nil
	}
}

func (e *Engine) acquireOnce(ctx context.Context, tok *Token, acquireLver uint64, numHosts uint32) (*AcquireResult, bool, error) {
	// 1. Read phase.
	views := e.readArea(ctx, tok, numHosts)
	ok := successfulViews(views)
	if len(ok) < majority(len(tok.Disks)) {
		return nil, false, faults.New(faults.DBlockRead, "no majority of disks reachable")
	}
	curLeader, err := majorityLeader(ok)
	if err != nil {
		return nil, false, err
	}
	maxMb, _ := maxMbal(ok, numHosts)

	// 2. Ownership gate.
	shared := tok.Flags&FlagShared != 0
	if tok.Flags&FlagForce == 0 {
		if acquireLver != 0 && curLeader.Lver != acquireLver {
			return nil, false, faults.New(faults.AcquireLver, "")
		}
		selfOwned := curLeader.Timestamp != 0 && curLeader.OwnerID == tok.HostID
		blocked := curLeader.Timestamp != 0 && !selfOwned
		if shared && blocked && curLeader.Flags&wire.LeaderFlagShortHold != 0 {
			// A SHORT_HOLD hint lets a shared acquirer proceed
			// immediately without waiting on the exclusive holder's
			// liveness: the holder is expected to release shortly.
			blocked = false
		}
		if blocked {
			leaderChanged := func() (bool, error) {
				fresh, err := e.LeaderRead(ctx, tok, numHosts)
				if err != nil {
					return false, err
				}
				return fresh.Lver != curLeader.Lver, nil
			}
			alive, err := e.Liveness.IsAlive(ctx, tok.SpaceName, curLeader.OwnerID, curLeader.OwnerGeneration, leaderChanged)
			if err != nil {
				if faults.Is(err, faults.AcquireIDLive) {
					// leaderChanged fired mid-wait: restart the whole
					// acquire against whatever the leader is now,
					// rather than failing outright.
					return nil, true, nil
				}
				return nil, false, err
			}
			if alive {
				if tok.Flags&FlagOwnerNowait != 0 {
					return nil, false, faults.New(faults.AcquireOwnedRetry, "")
				}
				return nil, false, faults.New(faults.AcquireIDLive, "")
			}
			// Observed dead: leader may have changed during the wait.
			fresh, err := e.LeaderRead(ctx, tok, numHosts)
			if err != nil {
				return nil, false, err
			}
			if fresh.Lver != curLeader.Lver {
				return nil, true, nil // restart from step 1
			}
		}
	}

	if shared {
		return e.acquireShared(ctx, tok, curLeader, numHosts)
	}

	// 3. Ballot.
	nextLver := curLeader.Lver + 1
	ourMbal := tok.HostID
	if maxMb != 0 {
		ourMbal = ((maxMb / uint64(numHosts)) + 1) * uint64(numHosts)
		ourMbal += tok.HostID
	}

	for {
		// 4. Phase 1: write our dblock to a majority, re-read.
		db1 := &wire.DBlock{Mbal: ourMbal, Lver: nextLver}
		if err := e.writeDBlockMajority(ctx, tok, db1, nil); err != nil {
			tok.Flags |= FlagRetractPaxos
			return nil, false, err
		}

		views2 := e.readArea(ctx, tok, numHosts)
		ok2 := successfulViews(views2)
		if len(ok2) < majority(len(tok.Disks)) {
			tok.Flags |= FlagRetractPaxos
			return nil, false, faults.New(faults.DBlockWrite, "no majority of disks reachable in phase 1")
		}

		if abort, retryBal := phase1Abort(ok2, nextLver, ourMbal, numHosts); abort {
			if retryBal {
				e.sleep(time.Duration(e.rnd() * float64(time.Second)))
				ourMbal += uint64(numHosts)
				continue
			}
			return nil, false, faults.New(faults.DBlockLver, "")
		}

		chosenOwner, chosenGen, chosenTS, haveChosen := pickChosenValue(ok2, numHosts, nextLver)
		if !haveChosen {
			chosenOwner, chosenGen, chosenTS = tok.HostID, tok.HostGen, e.now()
		}

		// 5. Phase 2.
		db2 := &wire.DBlock{Mbal: ourMbal, Bal: ourMbal, Lver: nextLver, Inp: chosenOwner, Inp2: chosenGen, Inp3: chosenTS}
		if err := e.writeDBlockMajority(ctx, tok, db2, nil); err != nil {
			tok.Flags |= FlagRetractPaxos
			return nil, false, err
		}

		views3 := e.readArea(ctx, tok, numHosts)
		ok3 := successfulViews(views3)
		if len(ok3) < majority(len(tok.Disks)) {
			tok.Flags |= FlagRetractPaxos
			return nil, false, faults.New(faults.DBlockWrite, "no majority of disks reachable in phase 2")
		}
		if abort, retryBal := phase1Abort(ok3, nextLver, ourMbal, numHosts); abort {
			if retryBal {
				e.sleep(time.Duration(e.rnd() * float64(time.Second)))
				ourMbal += uint64(numHosts)
				continue
			}
			return nil, false, faults.New(faults.DBlockLver, "")
		}

		// 6. Commit.
		newLeader := *curLeader
		newLeader.Lver = nextLver
		newLeader.OwnerID = chosenOwner
		newLeader.OwnerGeneration = chosenGen
		newLeader.Timestamp = chosenTS
		newLeader.WriteID = tok.HostID
		newLeader.WriteGeneration = tok.HostGen
		newLeader.WriteTimestamp = e.now()

		if err := e.writeLeaderMajority(ctx, tok, &newLeader); err != nil {
			tok.Flags |= FlagRetractPaxos
			return nil, false, err
		}

		tok.LastLeader = &newLeader
		tok.LastDBlock = db2

		// 7. Report.
		code := faults.OK
		if chosenOwner != tok.HostID {
			code = faults.AcquireOther
		}
		return &AcquireResult{Leader: &newLeader, DBlock: db2, Code: code}, false, nil
	}
}

// phase1Abort implements the abort rules shared by Phase 1 and Phase 2:
// a peer dblock with a higher lver aborts outright; a peer dblock with a
// higher mbal at the same lver aborts with a retry (new ballot number).
func phase1Abort(views []diskView, lver, ourMbal uint64, numHosts uint32) (abort, retry bool) {
	for h := uint64(1); h <= uint64(numHosts); h++ {
		for _, v := range views {
			db, ok := v.dblocks[h]
			if !ok || db.Empty() {
				continue
			}
			if db.Lver > lver {
				return true, false
			}
			if db.Lver == lver && db.Mbal > ourMbal {
				return true, true
			}
		}
	}
	return false, false
}

// pickChosenValue selects, among peer dblocks participating in this
// lver's round (db.Lver == lver) with non-zero Inp, the one with the
// largest Bal. Dblocks from an earlier, already-committed lver are a
// different Paxos instance's accepted value, not this round's — they
// must NOT be resurrected here, or a lease could never change owner
// once first acquired (a dead owner's stale accepted value would be
// proposed forever). A dblock at this lver can only exist if another
// host is racing the same round (contention) or crashed after Phase 2
// of this exact round (split commit), both legitimate recoveries.
func pickChosenValue(views []diskView, numHosts uint32, lver uint64) (owner, gen, ts uint64, found bool) {
	var bestBal uint64
	for h := uint64(1); h <= uint64(numHosts); h++ {
		for _, v := range views {
			db, ok := v.dblocks[h]
			if !ok || db.Empty() || db.Inp == 0 || db.Lver != lver {
				continue
			}
			if !found || db.Bal > bestBal {
				bestBal = db.Bal
				owner, gen, ts = db.Inp, db.Inp2, db.Inp3
				found = true
			}
		}
	}
	return
}

// writeDBlockMajority writes db to a majority of disks at tok's
// per-host sector. mb, if non-nil, is encoded into the same sector's
// mode-block region. If mb is nil and tok carries
// FlagWriteDblockMblockSh (the SHARED->EXCLUSIVE upgrade marker), the
// mode block currently on disk is read back and carried forward
// unchanged so the upgrade's ballot write doesn't erase the SHARED hint
// it is replacing.
func (e *Engine) writeDBlockMajority(ctx context.Context, tok *Token, db *wire.DBlock, mb *wire.ModeBlock) error {
	need := majority(len(tok.Disks))
	ok := 0
	for _, d := range tok.Disks {
		buf := directio.AlignedBuffer(int(tok.SectorSize), tok.SectorSize)
		off := wire.DBlockOffset(d.Offset, tok.HostID, tok.SectorSize)
		switch {
		case mb != nil:
			mb.Encode(buf[wire.ModeBlockOffset:])
		case tok.Flags&FlagWriteDblockMblockSh != 0:
			if cur, err := directio.ReadIOBuf(ctx, d.Device, off, 1, tok.IOTimeout); err == nil {
				copy(buf[wire.ModeBlockOffset:wire.ModeBlockOffset+wire.ModeBlockSize], cur[wire.ModeBlockOffset:wire.ModeBlockOffset+wire.ModeBlockSize])
			}
		}
		db.Encode(buf)
		if err := directio.WriteIOBuf(ctx, d.Device, off, buf, tok.IOTimeout); err == nil {
			ok++
		}
	}
	if ok < need {
		return faults.New(faults.DBlockWrite, "dblock write did not reach majority")
	}
	return nil
}

// acquireShared grants a SHARED lease. Unlike the exclusive path, no
// Paxos ballot runs: any number of hosts may hold a resource shared at
// once, so there is nothing to contend over beyond the ownership gate
// already evaluated by the caller. Each shared holder stamps its own
// dblock/mode-block slot with the SHARED flag and its host_generation.
// The leader itself is only touched the first time the resource moves
// off FREE, by whichever shared acquirer gets there first — later
// shared acquirers against an already-held leader leave it completely
// alone, so write_id keeps naming the host that actually owns the
// leader transition rather than whichever shared holder acquired most
// recently (which would otherwise make every other shared holder's
// release defer to it as "somebody else is the writer" and never free
// the lease).
func (e *Engine) acquireShared(ctx context.Context, tok *Token, curLeader *wire.Leader, numHosts uint32) (*AcquireResult, bool, error) {
	db := &wire.DBlock{Lver: curLeader.Lver, Inp: tok.HostID, Inp2: tok.HostGen, Inp3: e.now()}
	mb := &wire.ModeBlock{Flags: wire.ModeFlagShared, Generation: tok.HostGen}
	if err := e.writeDBlockMajority(ctx, tok, db, mb); err != nil {
		tok.Flags |= FlagRetractPaxos
		return nil, false, err
	}

	newLeader := *curLeader
	if curLeader.Timestamp == 0 {
		newLeader.Lver = curLeader.Lver + 1
		newLeader.OwnerID = tok.HostID
		newLeader.OwnerGeneration = tok.HostGen
		newLeader.Timestamp = e.now()
		newLeader.WriteID = tok.HostID
		newLeader.WriteGeneration = tok.HostGen
		newLeader.WriteTimestamp = e.now()

		if err := e.writeLeaderMajority(ctx, tok, &newLeader); err != nil {
			tok.Flags |= FlagRetractPaxos
			return nil, false, err
		}
	}

	tok.LastLeader = &newLeader
	tok.LastDBlock = db

	code := faults.OK
	if newLeader.OwnerID != tok.HostID {
		code = faults.AcquireOther
	}
	return &AcquireResult{Leader: &newLeader, DBlock: db, Code: code}, false, nil
}

// otherShared reports whether any host other than selfHostID still
// carries a SHARED mode-block entry among views.
func otherShared(views []diskView, numHosts uint32, selfHostID uint64) bool {
	for h := uint64(1); h <= uint64(numHosts); h++ {
		if h == selfHostID {
			continue
		}
		for _, v := range views {
			if mb, ok := v.modeblocks[h]; ok && mb.Flags&wire.ModeFlagShared != 0 {
				return true
			}
		}
	}
	return false
}

func (e *Engine) writeLeaderMajority(ctx context.Context, tok *Token, l *wire.Leader) error {
	need := majority(len(tok.Disks))
	ok := 0
	for _, d := range tok.Disks {
		buf := directio.AlignedBuffer(int(tok.SectorSize), tok.SectorSize)
		l.Encode(buf)
		if err := directio.WriteIOBuf(ctx, d.Device, d.Offset, buf, tok.IOTimeout); err == nil {
			ok++
		}
	}
	if ok < need {
		return faults.New(faults.LeaderWrite, "leader write did not reach majority")
	}
	return nil
}

// Release marks the lease free, covering all four release cases
// (another host wrote the current leader, stale lver, already free,
// and not the owner).
func (e *Engine) Release(ctx context.Context, tok *Token, last *wire.Leader, numHosts uint32) (*wire.Leader, error) {
	if tok.Flags&FlagShared != 0 {
		return e.releaseShared(ctx, tok, numHosts)
	}

	fresh, err := e.LeaderRead(ctx, tok, numHosts)
	if err != nil {
		return nil, err
	}

	// Case 1: somebody else is the writer of the current leader; do not
	// clobber it. The caller is expected to have already cleared its
	// dblock's RELEASED flag before calling Release.
	if fresh.WriteID != tok.HostID {
		return fresh, nil
	}

	if tok.Flags&FlagRetractPaxos == 0 {
		if fresh.Lver != last.Lver {
			return nil, faults.New(faults.ReleaseLver, "")
		}
		if fresh.Timestamp == 0 {
			return nil, faults.New(faults.ReleaseOwner, "")
		}
		if fresh.OwnerID != tok.HostID || fresh.OwnerGeneration != tok.HostGen {
			return nil, faults.New(faults.ReleaseOwner, "")
		}
	}

	newLeader := *fresh
	newLeader.Timestamp = 0
	newLeader.Flags &^= wire.LeaderFlagShortHold
	newLeader.WriteID = tok.HostID
	newLeader.WriteGeneration = tok.HostGen
	newLeader.WriteTimestamp = e.now()

	if err := e.writeLeaderMajority(ctx, tok, &newLeader); err != nil {
		return nil, err
	}
	return &newLeader, nil
}

// releaseShared clears this host's own dblock/mode-block slot. It only
// frees the leader if this host was also the leader's writer (i.e. it
// was the shared holder that last touched the leader, typically the
// one that took it off FREE) and no other host's mode block still
// claims a SHARED stake; otherwise other hosts may still hold the
// lease and the leader must be left alone.
func (e *Engine) releaseShared(ctx context.Context, tok *Token, numHosts uint32) (*wire.Leader, error) {
	views := e.readArea(ctx, tok, numHosts)
	ok := successfulViews(views)
	if len(ok) < majority(len(tok.Disks)) {
		return nil, faults.New(faults.DBlockWrite, "no majority of disks reachable releasing shared lease")
	}
	fresh, err := majorityLeader(ok)
	if err != nil {
		return nil, err
	}

	clearDB := &wire.DBlock{Lver: fresh.Lver}
	clearMB := &wire.ModeBlock{}
	if err := e.writeDBlockMajority(ctx, tok, clearDB, clearMB); err != nil {
		return nil, err
	}

	if fresh.WriteID != tok.HostID || fresh.Timestamp == 0 {
		return fresh, nil
	}
	if otherShared(ok, numHosts, tok.HostID) {
		return fresh, nil
	}

	newLeader := *fresh
	newLeader.Timestamp = 0
	newLeader.Flags &^= wire.LeaderFlagShortHold
	newLeader.WriteID = tok.HostID
	newLeader.WriteGeneration = tok.HostGen
	newLeader.WriteTimestamp = e.now()

	if err := e.writeLeaderMajority(ctx, tok, &newLeader); err != nil {
		return nil, err
	}
	return &newLeader, nil
}

// Init formats the lease area: a leader (magic depends on writeClear),
// a zeroed request record, and zeroed dblocks, written in one aligned
// buffer per disk.
func (e *Engine) Init(ctx context.Context, tok *Token, numHosts uint32, writeClear bool) error {
	magic := wire.PaxosDiskMagic
	if writeClear {
		magic = wire.PaxosDiskClear
	}
	areaSectors := 2 + int(numHosts)
	sec := int(tok.SectorSize)

	for _, d := range tok.Disks {
		buf := directio.AlignedBuffer(areaSectors*sec, tok.SectorSize)

		l := &wire.Leader{
			Magic:      magic,
			Version:    wire.Version(),
			SectorSize: tok.SectorSize,
			NumHosts:   numHosts,
			MaxHosts:   numHosts,
			Timestamp:  0,
			SpaceName:  tok.SpaceName,
			ResourceName: tok.ResourceName,
		}
		l.Encode(buf[0:sec])

		req := &wire.RequestRecord{}
		req.Encode(buf[sec : 2*sec])

		for h := 1; h <= int(numHosts); h++ {
			off := (1 + h) * sec
			db := &wire.DBlock{}
			db.Encode(buf[off : off+sec])
		}

		if err := directio.WriteIOBuf(ctx, d.Device, d.Offset, buf, tok.IOTimeout); err != nil {
			return err
		}
	}
	return nil
}
