package paxos

import (
	"context"
	"testing"
	"time"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"github.com/sanguard/sanguard/internal/directio"
	"github.com/sanguard/sanguard/pkg/faults"
	"github.com/sanguard/sanguard/pkg/wire"
)

// alwaysDead is a LivenessChecker stub reporting every owner dead
// immediately, for tests that want acquire to proceed past the
// ownership gate without modeling delta-lease timing.
type alwaysDead struct{}

func (alwaysDead) IsAlive(ctx context.Context, spaceName string, ownerID, ownerGeneration uint64, leaderChanged func() (bool, error)) (bool, error) {
	return false, nil
}

// alwaysAlive reports every owner alive, for exercising ACQUIRE_IDLIVE.
type alwaysAlive struct{}

func (alwaysAlive) IsAlive(ctx context.Context, spaceName string, ownerID, ownerGeneration uint64, leaderChanged func() (bool, error)) (bool, error) {
	return true, nil
}

func newEngine(liveness LivenessChecker) *Engine {
	var now uint64 = 1000
	return &Engine{
		Liveness: liveness,
		Now:      func() uint64 { now++; return now },
		Sleep:    func(time.Duration) {},
		Rand:     func() float64 { return 0 },
	}
}

func newDisks(t *testing.T, n int, sectorSize uint32, numHosts uint32) ([]Disk, []*directio.FakeDevice) {
	t.Helper()
	areaSectors := 2 + int(numHosts)
	disks := make([]Disk, n)
	devs := make([]*directio.FakeDevice, n)
	for i := 0; i < n; i++ {
		dev := directio.NewFakeDevice(areaSectors*int(sectorSize), sectorSize)
		devs[i] = dev
		disks[i] = Disk{Device: dev, Offset: 0}
	}
	return disks, devs
}

func initToken(t *testing.T, e *Engine, disks []Disk, hostID uint64, numHosts uint32) *Token {
	t.Helper()
	tok := &Token{
		ResourceName: "res0",
		SpaceName:    "space0",
		Disks:        disks,
		SectorSize:   512,
		IOTimeout:    100 * time.Millisecond,
		HostID:       hostID,
		HostGen:      1,
	}
	require.NoError(t, e.Init(context.Background(), tok, numHosts, false))
	return tok
}

func TestSingleHostInitAcquireRelease(t *testing.T) {
	e := newEngine(alwaysDead{})
	disks, _ := newDisks(t, 1, 512, 2)
	tok := initToken(t, e, disks, 1, 2)
	ctx := context.Background()

	result, err := e.Acquire(ctx, tok, 0, 2)
	require.NoError(t, err)
	assert.Equal(t, faults.OK, result.Code)
	assert.Equal(t, uint64(1), result.Leader.OwnerID)
	assert.Equal(t, uint64(1), result.Leader.Lver)

	leader, err := e.Release(ctx, tok, result.Leader, 2)
	require.NoError(t, err)
	assert.Equal(t, uint64(0), leader.Timestamp)
	assert.Equal(t, uint64(1), leader.Lver)
}

func TestContentionBothAliveOneWinsOneOwned(t *testing.T) {
	e1 := newEngine(alwaysAlive{})
	e2 := newEngine(alwaysAlive{})
	disks, _ := newDisks(t, 1, 512, 2)
	tok1 := initToken(t, e1, disks, 1, 2)
	tok2 := &Token{
		ResourceName: tok1.ResourceName,
		SpaceName:    tok1.SpaceName,
		Disks:        disks,
		SectorSize:   512,
		IOTimeout:    100 * time.Millisecond,
		HostID:       2,
		HostGen:      1,
	}
	ctx := context.Background()

	r1, err1 := e1.Acquire(ctx, tok1, 0, 2)
	r2, err2 := e2.Acquire(ctx, tok2, 0, 2)

	// Exactly one of the two acquires wins ownership outright (OK); the
	// other, running after it here, finds a live owner in the leader and
	// is refused at the ownership gate with ACQUIRE_IDLIVE.
	oks := 0
	for _, r := range []*AcquireResult{r1, r2} {
		if r != nil && r.Code == faults.OK {
			oks++
		}
	}
	assert.Equal(t, 1, oks, "err1=%v err2=%v r1=%+v r2=%+v", err1, err2, r1, r2)
}

func TestOwnerDeathAllowsSteal(t *testing.T) {
	e1 := newEngine(alwaysDead{})
	disks, _ := newDisks(t, 1, 512, 2)
	tok1 := initToken(t, e1, disks, 1, 2)
	ctx := context.Background()

	r1, err := e1.Acquire(ctx, tok1, 0, 2)
	require.NoError(t, err)
	assert.Equal(t, uint64(1), r1.Leader.Lver)

	// Host 2 probes: owner is host 1, but the liveness checker (wired
	// to alwaysDead here, standing in for "host 1 stopped renewing
	// delta and host_dead_seconds elapsed") reports it dead, so the
	// ballot proceeds and host 2 wins lver 2.
	e2 := newEngine(alwaysDead{})
	tok2 := &Token{
		ResourceName: tok1.ResourceName,
		SpaceName:    tok1.SpaceName,
		Disks:        disks,
		SectorSize:   512,
		IOTimeout:    100 * time.Millisecond,
		HostID:       2,
		HostGen:      1,
	}
	r2, err := e2.Acquire(ctx, tok2, 0, 2)
	require.NoError(t, err)
	assert.Equal(t, faults.OK, r2.Code)
	assert.Equal(t, uint64(2), r2.Leader.OwnerID)
	assert.Equal(t, uint64(2), r2.Leader.Lver)
}

func TestAcquireReturnsIDLiveWhenOwnerAlive(t *testing.T) {
	e1 := newEngine(alwaysDead{})
	disks, _ := newDisks(t, 1, 512, 2)
	tok1 := initToken(t, e1, disks, 1, 2)
	ctx := context.Background()

	_, err := e1.Acquire(ctx, tok1, 0, 2)
	require.NoError(t, err)

	e2 := newEngine(alwaysAlive{})
	tok2 := &Token{
		ResourceName: tok1.ResourceName,
		SpaceName:    tok1.SpaceName,
		Disks:        disks,
		SectorSize:   512,
		IOTimeout:    100 * time.Millisecond,
		HostID:       2,
		HostGen:      1,
	}
	_, err = e2.Acquire(ctx, tok2, 0, 2)
	require.Error(t, err)
	assert.True(t, faults.Is(err, faults.AcquireIDLive))
}

func TestAcquireOwnerNowaitReturnsRetry(t *testing.T) {
	e1 := newEngine(alwaysDead{})
	disks, _ := newDisks(t, 1, 512, 2)
	tok1 := initToken(t, e1, disks, 1, 2)
	ctx := context.Background()

	_, err := e1.Acquire(ctx, tok1, 0, 2)
	require.NoError(t, err)

	e2 := newEngine(alwaysAlive{})
	tok2 := &Token{
		ResourceName: tok1.ResourceName,
		SpaceName:    tok1.SpaceName,
		Disks:        disks,
		SectorSize:   512,
		IOTimeout:    100 * time.Millisecond,
		HostID:       2,
		HostGen:      1,
		Flags:        FlagOwnerNowait,
	}
	_, err = e2.Acquire(ctx, tok2, 0, 2)
	require.Error(t, err)
	assert.True(t, faults.Is(err, faults.AcquireOwnedRetry))
}

func TestAcquireLverMismatchRejected(t *testing.T) {
	e := newEngine(alwaysDead{})
	disks, _ := newDisks(t, 1, 512, 2)
	tok := initToken(t, e, disks, 1, 2)
	ctx := context.Background()

	_, err := e.Acquire(ctx, tok, 99, 2)
	require.Error(t, err)
	assert.True(t, faults.Is(err, faults.AcquireLver))
}

func TestMajorityLoss(t *testing.T) {
	e := newEngine(alwaysDead{})
	disks, devs := newDisks(t, 3, 512, 2)
	tok := initToken(t, e, disks, 1, 2)
	ctx := context.Background()

	// 2 of 3 disks become unreachable during the ballot.
	devs[1].FailWrites = true
	devs[2].FailWrites = true

	_, err := e.Acquire(ctx, tok, 0, 2)
	require.Error(t, err)
	assert.True(t, faults.Is(err, faults.DBlockWrite))
	assert.NotZero(t, tok.Flags&FlagRetractPaxos)
}

func TestReacquireAfterReleaseChangesOwner(t *testing.T) {
	// A released lease must be acquirable by a different host afterward;
	// the first owner's old accepted dblock value must not resurface at
	// the new lver (regression test for the lver-scoped pickChosenValue
	// fix).
	e1 := newEngine(alwaysDead{})
	disks, _ := newDisks(t, 1, 512, 2)
	tok1 := initToken(t, e1, disks, 1, 2)
	ctx := context.Background()

	r1, err := e1.Acquire(ctx, tok1, 0, 2)
	require.NoError(t, err)
	_, err = e1.Release(ctx, tok1, r1.Leader, 2)
	require.NoError(t, err)

	e2 := newEngine(alwaysDead{})
	tok2 := &Token{
		ResourceName: tok1.ResourceName,
		SpaceName:    tok1.SpaceName,
		Disks:        disks,
		SectorSize:   512,
		IOTimeout:    100 * time.Millisecond,
		HostID:       2,
		HostGen:      1,
	}
	r2, err := e2.Acquire(ctx, tok2, 0, 2)
	require.NoError(t, err)
	assert.Equal(t, faults.OK, r2.Code)
	assert.Equal(t, uint64(2), r2.Leader.OwnerID)
	assert.Equal(t, r1.Leader.Lver+1, r2.Leader.Lver)
}

func TestSplitCommitRecoversCrashedHostsValue(t *testing.T) {
	// Host 1 completes Phase 2 for lver=N with inp=1 then "crashes"
	// before the leader write: simulated here by calling the engine's
	// internals directly isn't available, so we drive it by writing
	// host 1's dblock by hand at the lver host 2 is about to ballot for.
	e1 := newEngine(alwaysDead{})
	disks, devs := newDisks(t, 1, 512, 2)
	tok1 := initToken(t, e1, disks, 1, 2)
	ctx := context.Background()

	// Manually place host 1's accepted (but uncommitted) value at
	// lver=1: leader still shows FREE/lver=0, but host 1's dblock
	// carries bal=1, inp=1 at lver=1 as Phase 2 would have left it.
	db := &wire.DBlock{Mbal: 1, Bal: 1, Inp: 1, Inp2: 1, Inp3: 555, Lver: 1}
	buf := make([]byte, tok1.SectorSize)
	db.Encode(buf)
	off := wire.DBlockOffset(disks[0].Offset, 1, tok1.SectorSize)
	require.NoError(t, devs[0].WriteAt(ctx, buf, off, tok1.IOTimeout))

	e2 := newEngine(alwaysDead{})
	tok2 := &Token{
		ResourceName: tok1.ResourceName,
		SpaceName:    tok1.SpaceName,
		Disks:        disks,
		SectorSize:   512,
		IOTimeout:    100 * time.Millisecond,
		HostID:       2,
		HostGen:      1,
	}
	r2, err := e2.Acquire(ctx, tok2, 0, 2)
	require.NoError(t, err)
	// Host 2 must re-propagate host 1's accepted value rather than its
	// own, and is reported ACQUIRE_OTHER since the committed owner is
	// not itself.
	assert.Equal(t, faults.AcquireOther, r2.Code)
	assert.Equal(t, uint64(1), r2.Leader.OwnerID)
	assert.Equal(t, uint64(1), r2.Leader.Lver)
}

func TestReleaseRejectsStaleLver(t *testing.T) {
	e := newEngine(alwaysDead{})
	disks, _ := newDisks(t, 1, 512, 2)
	tok := initToken(t, e, disks, 1, 2)
	ctx := context.Background()

	result, err := e.Acquire(ctx, tok, 0, 2)
	require.NoError(t, err)

	stale := *result.Leader
	stale.Lver = result.Leader.Lver + 5
	_, err = e.Release(ctx, tok, &stale, 2)
	require.Error(t, err)
	assert.True(t, faults.Is(err, faults.ReleaseLver))
}

func TestReleaseAlreadyFreeRejected(t *testing.T) {
	e := newEngine(alwaysDead{})
	disks, _ := newDisks(t, 1, 512, 2)
	tok := initToken(t, e, disks, 1, 2)
	ctx := context.Background()

	result, err := e.Acquire(ctx, tok, 0, 2)
	require.NoError(t, err)
	_, err = e.Release(ctx, tok, result.Leader, 2)
	require.NoError(t, err)

	_, err = e.Release(ctx, tok, result.Leader, 2)
	require.Error(t, err)
	assert.True(t, faults.Is(err, faults.ReleaseOwner))
}

func TestReadResourceAndLeaderRead(t *testing.T) {
	e := newEngine(alwaysDead{})
	disks, _ := newDisks(t, 1, 512, 2)
	tok := initToken(t, e, disks, 1, 2)
	ctx := context.Background()

	res, err := e.ReadResource(ctx, tok)
	require.NoError(t, err)
	assert.Equal(t, wire.PaxosDiskMagic, res.Magic)

	leader, err := e.LeaderRead(ctx, tok, 2)
	require.NoError(t, err)
	assert.Equal(t, uint64(0), leader.Timestamp)
}

func TestInitWriteClearUsesClearMagic(t *testing.T) {
	e := newEngine(alwaysDead{})
	disks, _ := newDisks(t, 1, 512, 2)
	tok := &Token{
		ResourceName: "res0",
		SpaceName:    "space0",
		Disks:        disks,
		SectorSize:   512,
		IOTimeout:    100 * time.Millisecond,
		HostID:       1,
		HostGen:      1,
	}
	require.NoError(t, e.Init(context.Background(), tok, 2, true))

	res, err := e.ReadResource(context.Background(), tok)
	require.NoError(t, err)
	assert.Equal(t, wire.PaxosDiskClear, res.Magic)
}

func TestSharedAcquiresOnFreeResourceBothSucceed(t *testing.T) {
	e1 := newEngine(alwaysDead{})
	disks, _ := newDisks(t, 1, 512, 2)
	tok1 := initToken(t, e1, disks, 1, 2)
	tok1.Flags = FlagShared
	ctx := context.Background()

	r1, err := e1.Acquire(ctx, tok1, 0, 2)
	require.NoError(t, err)
	assert.Equal(t, faults.OK, r1.Code)

	e2 := newEngine(alwaysDead{})
	tok2 := &Token{
		ResourceName: tok1.ResourceName,
		SpaceName:    tok1.SpaceName,
		Disks:        disks,
		SectorSize:   512,
		IOTimeout:    100 * time.Millisecond,
		HostID:       2,
		HostGen:      1,
		Flags:        FlagShared,
	}
	r2, err := e2.Acquire(ctx, tok2, 0, 2)
	require.NoError(t, err)
	assert.Equal(t, faults.AcquireOther, r2.Code, "second shared holder observes the first as leader owner, not itself")

	// Both hosts now hold a SHARED stake; releasing the second must not
	// free the leader out from under the first.
	leader, err := e2.Release(ctx, tok2, r2.Leader, 2)
	require.NoError(t, err)
	assert.NotEqual(t, uint64(0), leader.Timestamp, "leader must stay held while host 1's shared stake remains")

	leader, err = e1.Release(ctx, tok1, r1.Leader, 2)
	require.NoError(t, err)
	assert.Equal(t, uint64(0), leader.Timestamp, "last shared holder releasing frees the leader")
}

func TestSharedAcquireBlockedByExclusiveOwnerWithoutShortHold(t *testing.T) {
	e1 := newEngine(alwaysAlive{})
	disks, _ := newDisks(t, 1, 512, 2)
	tok1 := initToken(t, e1, disks, 1, 2)
	ctx := context.Background()

	_, err := e1.Acquire(ctx, tok1, 0, 2)
	require.NoError(t, err)

	e2 := newEngine(alwaysAlive{})
	tok2 := &Token{
		ResourceName: tok1.ResourceName,
		SpaceName:    tok1.SpaceName,
		Disks:        disks,
		SectorSize:   512,
		IOTimeout:    100 * time.Millisecond,
		HostID:       2,
		HostGen:      1,
		Flags:        FlagShared,
	}
	_, err = e2.Acquire(ctx, tok2, 0, 2)
	require.Error(t, err)
	assert.True(t, faults.Is(err, faults.AcquireIDLive))
}

func TestSharedAcquireAllowedWhenShortHoldSet(t *testing.T) {
	e1 := newEngine(alwaysAlive{})
	disks, _ := newDisks(t, 1, 512, 2)
	tok1 := initToken(t, e1, disks, 1, 2)
	ctx := context.Background()

	r1, err := e1.Acquire(ctx, tok1, 0, 2)
	require.NoError(t, err)

	held := *r1.Leader
	held.Flags |= wire.LeaderFlagShortHold
	buf := make([]byte, tok1.SectorSize)
	held.Encode(buf)
	require.NoError(t, disks[0].Device.WriteAt(ctx, buf, disks[0].Offset, tok1.IOTimeout))

	e2 := newEngine(alwaysAlive{})
	tok2 := &Token{
		ResourceName: tok1.ResourceName,
		SpaceName:    tok1.SpaceName,
		Disks:        disks,
		SectorSize:   512,
		IOTimeout:    100 * time.Millisecond,
		HostID:       2,
		HostGen:      1,
		Flags:        FlagShared,
	}
	r2, err := e2.Acquire(ctx, tok2, 0, 2)
	require.NoError(t, err, "SHORT_HOLD must let a shared acquirer proceed without waiting on the exclusive owner's liveness")
	assert.Equal(t, faults.AcquireOther, r2.Code)
}

// leaderChangeOnce drives a concurrent ballot to completion the first
// time it is asked about liveness, then reports leaderChanged()'s
// verdict on whatever acquireOnce does with that — exercising the
// "leader changed mid-wait" branch exactly once, since a second call
// (after the caller restarts) sees a leader that is no longer moving.
type leaderChangeOnce struct {
	calls  *int
	mutate func()
}

func (l leaderChangeOnce) IsAlive(ctx context.Context, spaceName string, ownerID, ownerGeneration uint64, leaderChanged func() (bool, error)) (bool, error) {
	*l.calls++
	if *l.calls == 1 {
		l.mutate()
	}
	changed, err := leaderChanged()
	if err != nil {
		return false, err
	}
	if changed {
		return false, faults.New(faults.AcquireIDLive, "leader changed during liveness wait")
	}
	return false, nil
}

func TestAcquireRestartsWhenLeaderChangesDuringLivenessWait(t *testing.T) {
	disks, _ := newDisks(t, 1, 512, 3)
	bootstrap := newEngine(alwaysDead{})
	tok1 := initToken(t, bootstrap, disks, 1, 3)
	ctx := context.Background()

	r1, err := bootstrap.Acquire(ctx, tok1, 0, 3)
	require.NoError(t, err)

	e2 := newEngine(alwaysDead{})
	tok2 := &Token{
		ResourceName: tok1.ResourceName,
		SpaceName:    tok1.SpaceName,
		Disks:        disks,
		SectorSize:   512,
		IOTimeout:    100 * time.Millisecond,
		HostID:       2,
		HostGen:      1,
	}

	// Host 3's first liveness probe on host 1 triggers host 2 winning a
	// ballot against host 1 (simulating it completing concurrently),
	// which leaderChanged must notice so acquireOnce restarts instead
	// of failing outright with ACQUIRE_IDLIVE.
	calls := 0
	e3 := newEngine(leaderChangeOnce{
		calls: &calls,
		mutate: func() {
			r2, err := e2.Acquire(ctx, tok2, 0, 3)
			require.NoError(t, err)
			assert.Equal(t, r1.Leader.Lver+1, r2.Leader.Lver)
		},
	})
	tok3 := &Token{
		ResourceName: tok1.ResourceName,
		SpaceName:    tok1.SpaceName,
		Disks:        disks,
		SectorSize:   512,
		IOTimeout:    100 * time.Millisecond,
		HostID:       3,
		HostGen:      1,
	}
	r3, err := e3.Acquire(ctx, tok3, 0, 3)
	require.NoError(t, err, "a leader change mid-wait must restart the acquire, not fail it")
	assert.GreaterOrEqual(t, calls, 2, "the acquire must restart and re-probe liveness against the new leader")
	assert.Equal(t, faults.OK, r3.Code)
	assert.Equal(t, uint64(3), r3.Leader.OwnerID, "host 3 wins the restarted acquire once host 1's old leader is gone and nothing else contends")
}
