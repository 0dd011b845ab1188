// Package delta implements C3, the delta-lease renewal engine: acquire,
// renew, release and read of a single host's slot sector in a
// lockspace. It does not schedule itself — pkg/lockspace drives it on a
// timer and reacts to its outcomes.
package delta

import (
	"context"
	"time"

	"github.com/sanguard/sanguard/internal/directio"
	"github.com/sanguard/sanguard/pkg/faults"
	"github.com/sanguard/sanguard/pkg/wire"
)

// Timing constants derived from a per-lockspace io_timeout T:
// host_id_renewal = T, host_id_renewal_warn = 8T, host_id_renewal_fail =
// 40T, host_id_timeout = 80T.
func RenewalPeriod(ioTimeout time.Duration) time.Duration { return ioTimeout }
func RenewalWarn(ioTimeout time.Duration) time.Duration   { return 8 * ioTimeout }
func RenewalFail(ioTimeout time.Duration) time.Duration   { return 40 * ioTimeout }
func HostIDTimeout(ioTimeout time.Duration) time.Duration { return 80 * ioTimeout }
func HostDeadSeconds(ioTimeout time.Duration, margin time.Duration) time.Duration {
	return HostIDTimeout(ioTimeout) + margin
}

// SafetyMargin is the default margin added to host_id_timeout to derive
// host_dead_seconds when the caller has no stronger opinion.
const SafetyMargin = 2 * time.Second

// Engine operates on one (space_name, host_id) slot on one device.
type Engine struct {
	Device      directio.Device
	SpaceOffset int64
	SpaceName   string
	SectorSize  uint32
	IOTimeout   time.Duration

	// Now returns the current monotime seconds; overridable in tests.
	Now func() uint64
	// Sleep is the engine's sleep primitive; overridable in tests so
	// acquire's host_dead_seconds wait doesn't actually block test runs.
	Sleep func(time.Duration)
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

func (e *Engine) offset(hostID uint64) int64 {
	return wire.HostSlotOffset(e.SpaceOffset, hostID, e.SectorSize)
}

func (e *Engine) readSector(ctx context.Context, hostID uint64) (*wire.DeltaRecord, error) {
	buf, err := directio.ReadIOBuf(ctx, e.Device, e.offset(hostID), 1, e.IOTimeout)
	if err != nil {
		return nil, err
	}
	// A slot that was never written reads back as all zeros: report it
	// as a FREE record with no owner rather than a bad magic.
	empty := true
	for _, b := range buf[:wire.DeltaRecordSize] {
		if b != 0 {
			empty = false
			break
		}
	}
	if empty {
		return &wire.DeltaRecord{}, nil
	}
	return wire.DecodeDeltaRecord(buf)
}

func (e *Engine) writeSector(ctx context.Context, hostID uint64, rec *wire.DeltaRecord) error {
	buf := directio.AlignedBuffer(int(e.SectorSize), e.SectorSize)
	rec.Magic = wire.DeltaDiskMagic
	rec.Version = wire.Version()
	rec.SpaceName = e.SpaceName
	rec.ResourceName = e.SpaceName
	rec.Encode(buf)
	return directio.WriteIOBuf(ctx, e.Device, e.offset(hostID), buf, e.IOTimeout)
}

// Read returns the decoded delta record for any slot, used by Paxos to
// probe owner liveness.
func (e *Engine) Read(ctx context.Context, hostID uint64) (*wire.DeltaRecord, error) {
	return e.readSector(ctx, hostID)
}

// Identity is the (owner_id, owner_generation) pair a successful
// Acquire/Renew establishes for this host.
type Identity struct {
	OwnerID         uint64
	OwnerGeneration uint64
	Timestamp       uint64
}

// Acquire takes ownership of hostID's slot If the slot
// currently names a different live owner the caller should have already
// established deadness via the owner-liveness check; Acquire
// itself only performs the steal-detection double read described in the
// spec, which also catches a peer racing the same slot.
func (e *Engine) Acquire(ctx context.Context, hostID uint64, deadMargin time.Duration) (*Identity, error) {
	rec, err := e.readSector(ctx, hostID)
	if err != nil {
		return nil, err
	}

	prevOwner, prevGen, prevTS := rec.OwnerID, rec.OwnerGeneration, rec.Timestamp

	e.sleep(HostDeadSeconds(e.IOTimeout, deadMargin))

	rec2, err := e.readSector(ctx, hostID)
	if err != nil {
		return nil, err
	}
	if rec2.OwnerID != prevOwner || rec2.OwnerGeneration != prevGen || rec2.Timestamp != prevTS {
		return nil, faults.New(faults.AcquireIDLive, "slot changed during acquire wait")
	}

	gen := prevGen + 1
	if prevTS == 0 && prevOwner == 0 && prevGen == 0 {
		gen = 1
	}
	now := e.now()
	want := wire.DeltaRecord{OwnerID: hostID, OwnerGeneration: gen, Timestamp: now}
	if err := e.writeSector(ctx, hostID, &want); err != nil {
		return nil, err
	}

	e.sleep(2 * e.IOTimeout)

	rec3, err := e.readSector(ctx, hostID)
	if err != nil {
		return nil, err
	}
	if rec3.OwnerID != hostID || rec3.OwnerGeneration != gen || rec3.Timestamp != now {
		return nil, faults.New(faults.AcquireOwned, "lost race for slot after write")
	}

	return &Identity{OwnerID: hostID, OwnerGeneration: gen, Timestamp: now}, nil
}

// Renew writes a fresh timestamp for an already-held identity, per
//  It fails if the sector no longer carries what we last wrote.
func (e *Engine) Renew(ctx context.Context, hostID uint64, id Identity, confirmRead bool) (Identity, error) {
	rec, err := e.readSector(ctx, hostID)
	if err != nil {
		return id, err
	}
	if rec.OwnerID != id.OwnerID || rec.OwnerGeneration != id.OwnerGeneration || rec.Timestamp != id.Timestamp {
		return id, faults.New(faults.AcquireOwned, "lost ownership before renew")
	}

	now := e.now()
	want := wire.DeltaRecord{OwnerID: id.OwnerID, OwnerGeneration: id.OwnerGeneration, Timestamp: now}
	if err := e.writeSector(ctx, hostID, &want); err != nil {
		return id, err
	}

	newID := Identity{OwnerID: id.OwnerID, OwnerGeneration: id.OwnerGeneration, Timestamp: now}
	if !confirmRead {
		return newID, nil
	}

	rec2, err := e.readSector(ctx, hostID)
	if err != nil {
		return id, err
	}
	if rec2.Timestamp != now {
		return id, faults.New(faults.AcquireOwned, "renewal did not survive confirming read")
	}
	return newID, nil
}

// Release writes timestamp=FREE retaining owner_id/generation, per
// 
func (e *Engine) Release(ctx context.Context, hostID uint64, id Identity) error {
	want := wire.DeltaRecord{OwnerID: id.OwnerID, OwnerGeneration: id.OwnerGeneration, Timestamp: 0}
	return e.writeSector(ctx, hostID, &want)
}
