package delta

import (
	"context"
	"testing"
	"time"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"github.com/sanguard/sanguard/internal/directio"
	"github.com/sanguard/sanguard/pkg/faults"
)

func newTestEngine(dev *directio.FakeDevice) *Engine {
	var now uint64 = 1000
	return &Engine{
		Device:      dev,
		SpaceOffset: 0,
		SpaceName:   "space0",
		SectorSize:  512,
		IOTimeout:   100 * time.Millisecond,
		Now:         func() uint64 { now++; return now },
		Sleep:       func(time.Duration) {}, // no real sleeping in tests
	}
}

func TestAcquireFreeSlot(t *testing.T) {
	dev := directio.NewFakeDevice(16*512, 512)
	e := newTestEngine(dev)

	id, err := e.Acquire(context.Background(), 1, time.Millisecond)
	require.NoError(t, err)
	assert.Equal(t, uint64(1), id.OwnerID)
	assert.Equal(t, uint64(1), id.OwnerGeneration)
}

func TestAcquireBumpsGenerationOnReacquire(t *testing.T) {
	dev := directio.NewFakeDevice(16*512, 512)
	e := newTestEngine(dev)
	ctx := context.Background()

	id1, err := e.Acquire(ctx, 1, time.Millisecond)
	require.NoError(t, err)
	require.NoError(t, e.Release(ctx, 1, *id1))

	id2, err := e.Acquire(ctx, 1, time.Millisecond)
	require.NoError(t, err)
	assert.Equal(t, id1.OwnerGeneration+1, id2.OwnerGeneration)
}

func TestAcquireFailsIfSlotChangesDuringWait(t *testing.T) {
	dev := directio.NewFakeDevice(16*512, 512)
	ctx := context.Background()

	// Simulate a peer writing the slot during our sleep window by
	// racing the FakeDevice directly between reads: Acquire's Sleep hook
	// is the natural point to inject the race.
	racing := newTestEngine(dev)
	injected := false
	racing.Sleep = func(time.Duration) {
		if !injected {
			injected = true
			other := newTestEngine(dev)
			_, err := other.Acquire(context.Background(), 1, time.Millisecond)
			require.NoError(t, err)
		}
	}

	_, err := racing.Acquire(ctx, 1, time.Millisecond)
	require.Error(t, err)
	assert.True(t, faults.Is(err, faults.AcquireIDLive))
}

func TestRenewSucceedsForCurrentOwner(t *testing.T) {
	dev := directio.NewFakeDevice(16*512, 512)
	e := newTestEngine(dev)
	ctx := context.Background()

	id, err := e.Acquire(ctx, 1, time.Millisecond)
	require.NoError(t, err)

	newID, err := e.Renew(ctx, 1, *id, true)
	require.NoError(t, err)
	assert.Equal(t, id.OwnerID, newID.OwnerID)
	assert.Equal(t, id.OwnerGeneration, newID.OwnerGeneration)
	assert.Greater(t, newID.Timestamp, id.Timestamp)
}

func TestRenewFailsAfterLosingOwnership(t *testing.T) {
	dev := directio.NewFakeDevice(16*512, 512)
	e := newTestEngine(dev)
	ctx := context.Background()

	id, err := e.Acquire(ctx, 1, time.Millisecond)
	require.NoError(t, err)
	require.NoError(t, e.Release(ctx, 1, *id))

	other := newTestEngine(dev)
	_, err = other.Acquire(ctx, 1, time.Millisecond)
	require.NoError(t, err)

	_, err = e.Renew(ctx, 1, *id, true)
	require.Error(t, err)
}

func TestReleaseSetsTimestampFree(t *testing.T) {
	dev := directio.NewFakeDevice(16*512, 512)
	e := newTestEngine(dev)
	ctx := context.Background()

	id, err := e.Acquire(ctx, 1, time.Millisecond)
	require.NoError(t, err)
	require.NoError(t, e.Release(ctx, 1, *id))

	rec, err := e.Read(ctx, 1)
	require.NoError(t, err)
	assert.Equal(t, uint64(0), rec.Timestamp)
	assert.Equal(t, id.OwnerID, rec.OwnerID)
	assert.Equal(t, id.OwnerGeneration, rec.OwnerGeneration)
}

func TestTimingConstantsDerivation(t *testing.T) {
	T := 10 * time.Second
	assert.Equal(t, T, RenewalPeriod(T))
	assert.Equal(t, 80*time.Second, RenewalWarn(T))
	assert.Equal(t, 400*time.Second, RenewalFail(T))
	assert.Equal(t, 800*time.Second, HostIDTimeout(T))
	assert.Equal(t, 800*time.Second+SafetyMargin, HostDeadSeconds(T, SafetyMargin))
}

func TestAcquireSurfacesIOTimeout(t *testing.T) {
	dev := directio.NewFakeDevice(16*512, 512)
	dev.Unreachable = true
	e := newTestEngine(dev)

	_, err := e.Acquire(context.Background(), 1, time.Millisecond)
	require.Error(t, err)
	assert.True(t, faults.Is(err, faults.AIOTimeout))
}
