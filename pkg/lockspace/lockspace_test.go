package lockspace

import (
	"context"
	"os"
	"path/filepath"
	"testing"
	"time"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"github.com/sanguard/sanguard/internal/directio"
)

func testSpace(t *testing.T, name string, hostID uint64, ioTimeout time.Duration) (*Space, *directio.FakeDevice) {
	t.Helper()
	dev := directio.NewFakeDevice(64*512, 512)
	dir := t.TempDir()
	sp := New(Config{
		Name:        name,
		HostID:      hostID,
		MaxHosts:    4,
		IOTimeout:   ioTimeout,
		Device:      dev,
		SectorSize:  512,
		WatchdogDir: dir,
	})
	return sp, dev
}

func TestJoinEstablishesIdentityAndWatchdogFile(t *testing.T) {
	sp, _ := testSpace(t, "space0", 1, time.Millisecond)
	ctx := context.Background()

	require.NoError(t, sp.Join(ctx, time.Millisecond))
	id := sp.Identity()
	assert.Equal(t, uint64(1), id.OwnerID)
	assert.Equal(t, uint64(1), id.OwnerGeneration)
	assert.Equal(t, StateHealthy, sp.State())

	_, err := os.Stat(sp.watchdogPath)
	assert.NoError(t, err, "watchdog file should exist after a successful Join")
}

func TestRunRenewsOnTickerAndUpdatesHistory(t *testing.T) {
	sp, _ := testSpace(t, "space0", 1, 5*time.Millisecond)
	ctx := context.Background()
	require.NoError(t, sp.Join(ctx, time.Millisecond))

	go sp.Run(ctx, nil)
	defer sp.Stop()

	require.Eventually(t, func() bool {
		return len(sp.History().Recent()) > 0
	}, time.Second, 5*time.Millisecond)

	recent := sp.History().Recent()
	assert.True(t, recent[len(recent)-1].OK)
	assert.Equal(t, StateHealthy, sp.State())
}

func TestRunTransitionsToFailAndRemovesWatchdogFile(t *testing.T) {
	sp, dev := testSpace(t, "space0", 1, time.Millisecond)
	ctx := context.Background()
	require.NoError(t, sp.Join(ctx, time.Millisecond))

	dev.Unreachable = true

	notified := make(chan string, 1)
	notifier := notifyFunc(func(name string) { notified <- name })

	go sp.Run(ctx, notifier)
	defer sp.Stop()

	select {
	case name := <-notified:
		assert.Equal(t, "space0", name)
	case <-time.After(2 * time.Second):
		t.Fatal("expected NotifyKillPids to fire once renewal fails past host_id_renewal_fail")
	}

	assert.Equal(t, StateFail, sp.State())
	killing, _, _ := sp.Flags()
	assert.True(t, killing)

	_, err := os.Stat(sp.watchdogPath)
	assert.True(t, os.IsNotExist(err), "watchdog file must be removed on FAIL so wdmd stops petting the hardware watchdog")
}

type notifyFunc func(string)

func (f notifyFunc) NotifyKillPids(name string) { f(name) }

func TestStopReleasesDeltaLease(t *testing.T) {
	sp, _ := testSpace(t, "space0", 1, time.Millisecond)
	ctx := context.Background()
	require.NoError(t, sp.Join(ctx, time.Millisecond))

	go sp.Run(ctx, nil)
	sp.Stop()

	rec, err := sp.engine.Read(ctx, 1)
	require.NoError(t, err)
	assert.Equal(t, uint64(0), rec.Timestamp)
}

func TestRenewalHistoryWrapsAtCapacity(t *testing.T) {
	h := NewRenewalHistory(3)
	for i := 0; i < 5; i++ {
		h.Push(RenewalOutcome{At: time.Now(), OK: i%2 == 0, ObservedTimestamp: uint64(i)})
	}
	recent := h.Recent()
	require.Len(t, recent, 3)
	// Only the 3 most recent pushes (indices 2,3,4) should remain, oldest first.
	assert.Equal(t, uint64(2), recent[0].ObservedTimestamp)
	assert.Equal(t, uint64(3), recent[1].ObservedTimestamp)
	assert.Equal(t, uint64(4), recent[2].ObservedTimestamp)
}

func TestIsAliveDetectsFreeSlotAsDead(t *testing.T) {
	sp, _ := testSpace(t, "space0", 1, time.Millisecond)
	ctx := context.Background()
	// Slot 2 was never acquired, so its delta record is all-zero (FREE).
	alive, err := sp.IsAlive(ctx, "space0", 2, 1, nil)
	require.NoError(t, err)
	assert.False(t, alive)
}

func TestIsAliveDetectsAdvancingTimestampAsLive(t *testing.T) {
	sp, _ := testSpace(t, "space0", 1, time.Millisecond)
	ctx := context.Background()
	require.NoError(t, sp.Join(ctx, time.Millisecond))

	id := sp.Identity()
	// Seed host status with a stale timestamp so IsAlive must notice the
	// live record's timestamp has since advanced.
	sp.mu.Lock()
	sp.hostStatus[1] = &HostStatus{HostID: 1, Timestamp: id.Timestamp - 1}
	sp.mu.Unlock()

	alive, err := sp.IsAlive(ctx, "space0", 1, id.OwnerGeneration, nil)
	require.NoError(t, err)
	assert.True(t, alive)
}

func TestRegistryAddRejectsDuplicateName(t *testing.T) {
	reg := NewRegistry()
	sp1, _ := testSpace(t, "dup", 1, time.Millisecond)
	sp2, _ := testSpace(t, "dup", 1, time.Millisecond)
	ctx := context.Background()

	require.NoError(t, reg.Add(ctx, sp1, nil))
	defer reg.Remove("dup")

	err := reg.Add(ctx, sp2, nil)
	require.Error(t, err)
}

func TestRegistryRemoveStopsAndUnregisters(t *testing.T) {
	reg := NewRegistry()
	sp, _ := testSpace(t, "space0", 1, time.Millisecond)
	ctx := context.Background()
	require.NoError(t, reg.Add(ctx, sp, nil))

	require.NoError(t, reg.Remove("space0"))
	_, ok := reg.Get("space0")
	assert.False(t, ok)
}

func TestRefreshHostStatusTracksLastLive(t *testing.T) {
	sp, _ := testSpace(t, "space0", 1, time.Millisecond)
	ctx := context.Background()
	require.NoError(t, sp.Join(ctx, time.Millisecond))

	require.NoError(t, sp.RefreshHostStatus(ctx, 1))
	hs, ok := sp.HostStatusOf(1)
	require.True(t, ok)
	assert.Equal(t, sp.Identity().Timestamp, hs.Timestamp)
	assert.False(t, hs.LastLive.IsZero())
}

func TestWatchdogFilePathEmptyWhenDirEmpty(t *testing.T) {
	assert.Equal(t, "", watchdogFilePath("", "space0"))
	assert.Equal(t, filepath.Join("/run/wdmd", "space0"), watchdogFilePath("/run/wdmd", "space0"))
}
