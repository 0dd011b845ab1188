package token

import (
	"context"
	"testing"
	"time"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"github.com/sanguard/sanguard/internal/directio"
	"github.com/sanguard/sanguard/pkg/faults"
	"github.com/sanguard/sanguard/pkg/paxos"
)

type fakeLiveness struct{}

func (fakeLiveness) IsAlive(ctx context.Context, spaceName string, ownerID, ownerGeneration uint64, leaderChanged func() (bool, error)) (bool, error) {
	return false, nil
}

func newTestManager(t *testing.T) (*Manager, *directio.FakeDevice) {
	t.Helper()
	dev := directio.NewFakeDevice(64*4096, 4096)
	engine := &paxos.Engine{Liveness: fakeLiveness{}}
	mgr := NewManager(engine, 2)
	mgr.openDisk = func(spec DiskSpec) (directio.Device, error) {
		return dev, nil
	}
	return mgr, dev
}

func initResource(t *testing.T, mgr *Manager, dev *directio.FakeDevice, name string, numHosts uint32) {
	t.Helper()
	// Each resource gets its own lease area on the shared fake device.
	off := int64(len(mgr.resources)) * int64(2+numHosts) * 4096
	cfg := ResourceConfig{
		Name:       name,
		SpaceName:  "space0",
		Disks:      []DiskSpec{{Path: "fake0", Offset: off, SectorSize: 4096}},
		SectorSize: 4096,
		AlignSize:  4096,
		IOTimeout:  time.Second,
		NumHosts:   numHosts,
	}
	require.NoError(t, mgr.AddResource(cfg))
	require.NoError(t, mgr.OpenDisks(name))

	tok := &paxos.Token{
		ResourceName: name,
		SpaceName:    "space0",
		Disks:        []paxos.Disk{{Device: dev, Offset: off}},
		SectorSize:   4096,
		IOTimeout:    time.Second,
		HostID:       1,
	}
	require.NoError(t, mgr.engine.Init(context.Background(), tok, numHosts, false))
}

func TestAcquireReleaseToken(t *testing.T) {
	mgr, dev := newTestManager(t)
	initResource(t, mgr, dev, "res0", 2)

	ctx := context.Background()
	tok, err := mgr.AcquireToken(ctx, 1234, "res0", 1, 1, 0, 0)
	require.NoError(t, err)
	require.NotNil(t, tok)
	assert.Equal(t, "res0", tok.ResourceName)
	assert.NotEmpty(t, tok.ID)

	got, ok := mgr.Get(tok.ID)
	require.True(t, ok)
	assert.Equal(t, tok.ID, got.ID)

	require.NoError(t, mgr.ReleaseToken(ctx, tok.ID))
	_, ok = mgr.Get(tok.ID)
	assert.False(t, ok)
}

func TestAcquireTokenRejectsDuplicateClientResource(t *testing.T) {
	mgr, dev := newTestManager(t)
	initResource(t, mgr, dev, "res0", 2)

	ctx := context.Background()
	_, err := mgr.AcquireToken(ctx, 1234, "res0", 1, 1, 0, 0)
	require.NoError(t, err)

	_, err = mgr.AcquireToken(ctx, 1234, "res0", 1, 1, 0, 0)
	require.Error(t, err)
	assert.True(t, faults.Is(err, faults.EBusy))
}

func TestAcquireTokenUnknownResource(t *testing.T) {
	mgr, _ := newTestManager(t)
	_, err := mgr.AcquireToken(context.Background(), 1, "missing", 1, 1, 0, 0)
	require.Error(t, err)
	assert.True(t, faults.Is(err, faults.ENoEnt))
}

func TestAcquireTokenRequiresOpenDisks(t *testing.T) {
	mgr, dev := newTestManager(t)
	_ = dev
	require.NoError(t, mgr.AddResource(ResourceConfig{
		Name:       "res0",
		SpaceName:  "space0",
		Disks:      []DiskSpec{{Path: "fake0", Offset: 0, SectorSize: 4096}},
		SectorSize: 4096,
		IOTimeout:  time.Second,
		NumHosts:   2,
	}))

	_, err := mgr.AcquireToken(context.Background(), 1, "res0", 1, 1, 0, 0)
	require.Error(t, err)
	assert.True(t, faults.Is(err, faults.AcquireIDDisk))
}

func TestReleaseTokenAsync(t *testing.T) {
	mgr, dev := newTestManager(t)
	initResource(t, mgr, dev, "res0", 2)

	ctx := context.Background()
	tok, err := mgr.AcquireToken(ctx, 1234, "res0", 1, 1, 0, 0)
	require.NoError(t, err)

	mgr.ReleaseTokenAsync(tok.ID)

	require.Eventually(t, func() bool {
		_, ok := mgr.Get(tok.ID)
		return !ok
	}, time.Second, 10*time.Millisecond)

	mgr.Close()
}

func TestReleaseAllForClient(t *testing.T) {
	mgr, dev := newTestManager(t)
	initResource(t, mgr, dev, "res0", 2)
	initResource(t, mgr, dev, "res1", 2)

	ctx := context.Background()
	_, err := mgr.AcquireToken(ctx, 1234, "res0", 1, 1, 0, 0)
	require.NoError(t, err)
	_, err = mgr.AcquireToken(ctx, 1234, "res1", 1, 1, 0, 0)
	require.NoError(t, err)

	assert.Len(t, mgr.TokensOf(1234), 2)

	mgr.ReleaseAllForClient(1234, false)
	assert.Len(t, mgr.TokensOf(1234), 0)
}

func TestDelResourceRefusesWithOutstandingTokens(t *testing.T) {
	mgr, dev := newTestManager(t)
	initResource(t, mgr, dev, "res0", 2)

	ctx := context.Background()
	_, err := mgr.AcquireToken(ctx, 1234, "res0", 1, 1, 0, 0)
	require.NoError(t, err)

	err = mgr.DelResource("res0")
	require.Error(t, err)
	assert.True(t, faults.Is(err, faults.EBusy))
}
