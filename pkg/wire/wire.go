// Package wire implements sanguard's on-disk codec: byte-exact,
// little-endian encode/decode of the leader, dblock, mode-block, delta
// and request records that make up a lockspace or resource lease area.
//
// Every record type except the mode block (which carries no checksum
// field) stores CRC32C (Castagnoli) over its own encoded
// bytes with the checksum field itself zeroed, seeded with an initial
// value of ^1 per the on-disk format's historical convention. Because
// encoding always produces little-endian bytes regardless of host
// byte order, the "byte-swap before checksum" rule falls out for free:
// the bytes checksummed are always the canonical on-disk form.
package wire

import (
	"encoding/binary"
	"hash/crc32"

	"github.com/sanguard/sanguard/pkg/faults"
)

// Magic and version constants of the on-disk layout.
const (
	PaxosDiskMagic uint32 = 0x06152010
	PaxosDiskClear uint32 = 0x11292011
	DeltaDiskMagic uint32 = 0x06152011

	// WireMajor/WireMinor compose the version field: upper 16 bits
	// major, lower 16 bits minor.
	WireMajor uint16 = 1
	WireMinor uint16 = 0
)

// Version packs WireMajor/WireMinor into the on-disk version field.
func Version() uint32 {
	return uint32(WireMajor)<<16 | uint32(WireMinor)
}

// NameSize is the fixed width of a space_name/resource_name field.
const NameSize = 48

// Leader flag bits.
const (
	LeaderFlagShortHold uint32 = 1 << 0
)

// DBlock flag bits.
const (
	DBlockFlagReleased uint32 = 1 << 0
)

// ModeBlock flag bits.
const (
	ModeFlagShared uint32 = 1 << 0
)

var castagnoli = crc32.MakeTable(crc32.Castagnoli)

func checksum(b []byte) uint32 {
	return crc32.Update(^uint32(1), castagnoli, b)
}

func putName(b []byte, s string) {
	clear(b)
	n := copy(b, s)
	_ = n
}

func getName(b []byte) string {
	i := 0
	for i < len(b) && b[i] != 0 {
		i++
	}
	return string(b[:i])
}

// Leader is sector 0 of a resource lease area.
type Leader struct {
	Magic           uint32
	Version         uint32
	SectorSize      uint32
	NumHosts        uint32
	MaxHosts        uint32
	OwnerID         uint64
	OwnerGeneration uint64
	Lver            uint64
	Timestamp       uint64 // FREE (0) means unlocked
	SpaceName       string
	ResourceName    string
	WriteID         uint64
	WriteGeneration uint64
	WriteTimestamp  uint64
	Flags           uint32
	Checksum        uint32
}

// LeaderSize is the fixed encoded size of a Leader, always <= a valid
// sector size (512 minimum).
const LeaderSize = 4 + 4 + 4 + 4 + 4 + 8 + 8 + 8 + 8 + NameSize + NameSize + 8 + 8 + 8 + 4 + 4

// Encode writes the little-endian, CRC-stamped form of l into buf, which
// must be at least LeaderSize bytes.
func (l *Leader) Encode(buf []byte) {
	le := binary.LittleEndian
	o := 0
	le.PutUint32(buf[o:], l.Magic)
	o += 4
	le.PutUint32(buf[o:], l.Version)
	o += 4
	le.PutUint32(buf[o:], l.SectorSize)
	o += 4
	le.PutUint32(buf[o:], l.NumHosts)
	o += 4
	le.PutUint32(buf[o:], l.MaxHosts)
	o += 4
	le.PutUint64(buf[o:], l.OwnerID)
	o += 8
	le.PutUint64(buf[o:], l.OwnerGeneration)
	o += 8
	le.PutUint64(buf[o:], l.Lver)
	o += 8
	le.PutUint64(buf[o:], l.Timestamp)
	o += 8
	putName(buf[o:o+NameSize], l.SpaceName)
	o += NameSize
	putName(buf[o:o+NameSize], l.ResourceName)
	o += NameSize
	le.PutUint64(buf[o:], l.WriteID)
	o += 8
	le.PutUint64(buf[o:], l.WriteGeneration)
	o += 8
	le.PutUint64(buf[o:], l.WriteTimestamp)
	o += 8
	le.PutUint32(buf[o:], l.Flags)
	o += 4
	// checksum field zeroed while summing
	le.PutUint32(buf[o:], 0)
	sum := checksum(buf[:o+4])
	l.Checksum = sum
	le.PutUint32(buf[o:], sum)
}

// DecodeLeader validates and decodes a Leader from buf, checking magic,
// version, lockspace name, resource name and checksum in that order.
func DecodeLeader(buf []byte, wantSpace, wantResource string, checkNames bool) (*Leader, error) {
	if len(buf) < LeaderSize {
		return nil, faults.New(faults.LeaderRead, "short buffer")
	}
	le := binary.LittleEndian
	l := &Leader{}
	o := 0
	l.Magic = le.Uint32(buf[o:])
	o += 4
	if l.Magic != PaxosDiskMagic && l.Magic != PaxosDiskClear {
		return nil, faults.New(faults.LeaderMagic, "")
	}
	l.Version = le.Uint32(buf[o:])
	o += 4
	if l.Version>>16 != uint32(WireMajor) {
		return nil, faults.New(faults.LeaderVersion, "")
	}
	l.SectorSize = le.Uint32(buf[o:])
	o += 4
	l.NumHosts = le.Uint32(buf[o:])
	o += 4
	l.MaxHosts = le.Uint32(buf[o:])
	o += 4
	if l.NumHosts == 0 || l.NumHosts > l.MaxHosts {
		return nil, faults.New(faults.LeaderNumHosts, "")
	}
	l.OwnerID = le.Uint64(buf[o:])
	o += 8
	l.OwnerGeneration = le.Uint64(buf[o:])
	o += 8
	l.Lver = le.Uint64(buf[o:])
	o += 8
	l.Timestamp = le.Uint64(buf[o:])
	o += 8
	l.SpaceName = getName(buf[o : o+NameSize])
	o += NameSize
	l.ResourceName = getName(buf[o : o+NameSize])
	o += NameSize
	if checkNames {
		if wantSpace != "" && l.SpaceName != wantSpace {
			return nil, faults.New(faults.LeaderLockspace, l.SpaceName)
		}
		if wantResource != "" && l.ResourceName != wantResource {
			return nil, faults.New(faults.LeaderResource, l.ResourceName)
		}
	}
	l.WriteID = le.Uint64(buf[o:])
	o += 8
	l.WriteGeneration = le.Uint64(buf[o:])
	o += 8
	l.WriteTimestamp = le.Uint64(buf[o:])
	o += 8
	l.Flags = le.Uint32(buf[o:])
	o += 4
	l.Checksum = le.Uint32(buf[o:])

	verify := make([]byte, o+4)
	copy(verify, buf[:o+4])
	le.PutUint32(verify[o:], 0)
	if checksum(verify) != l.Checksum {
		return nil, faults.New(faults.LeaderChecksum, "")
	}
	return l, nil
}

// DBlock is a per-host ballot block co-located with the resource's
// leader area.
type DBlock struct {
	Mbal     uint64
	Bal      uint64
	Inp      uint64 // proposed owner_id
	Inp2     uint64 // proposed owner_generation
	Inp3     uint64 // proposed acquisition time
	Lver     uint64
	Flags    uint32
	Checksum uint32
}

// DBlockSize is the fixed encoded size of a DBlock.
const DBlockSize = 8*6 + 4 + 4

// Empty reports whether d represents "no participation" (all zero).
func (d *DBlock) Empty() bool {
	return d.Mbal == 0 && d.Bal == 0 && d.Inp == 0 && d.Inp2 == 0 && d.Inp3 == 0 && d.Lver == 0 && d.Flags == 0
}

func (d *DBlock) Encode(buf []byte) {
	le := binary.LittleEndian
	o := 0
	le.PutUint64(buf[o:], d.Mbal)
	o += 8
	le.PutUint64(buf[o:], d.Bal)
	o += 8
	le.PutUint64(buf[o:], d.Inp)
	o += 8
	le.PutUint64(buf[o:], d.Inp2)
	o += 8
	le.PutUint64(buf[o:], d.Inp3)
	o += 8
	le.PutUint64(buf[o:], d.Lver)
	o += 8
	le.PutUint32(buf[o:], d.Flags)
	o += 4
	le.PutUint32(buf[o:], 0)
	sum := checksum(buf[:o+4])
	d.Checksum = sum
	le.PutUint32(buf[o:], sum)
}

func DecodeDBlock(buf []byte) (*DBlock, error) {
	if len(buf) < DBlockSize {
		return nil, faults.New(faults.DBlockRead, "short buffer")
	}
	le := binary.LittleEndian
	d := &DBlock{}
	o := 0
	d.Mbal = le.Uint64(buf[o:])
	o += 8
	d.Bal = le.Uint64(buf[o:])
	o += 8
	d.Inp = le.Uint64(buf[o:])
	o += 8
	d.Inp2 = le.Uint64(buf[o:])
	o += 8
	d.Inp3 = le.Uint64(buf[o:])
	o += 8
	d.Lver = le.Uint64(buf[o:])
	o += 8
	d.Flags = le.Uint32(buf[o:])
	o += 4
	d.Checksum = le.Uint32(buf[o:])

	if d.Empty() {
		return d, nil
	}

	verify := make([]byte, o+4)
	copy(verify, buf[:o+4])
	le.PutUint32(verify[o:], 0)
	if checksum(verify) != d.Checksum {
		return nil, faults.New(faults.DBlockChecksum, "")
	}
	return d, nil
}

// ModeBlock is the per-host shared/exclusive hint co-located with a
// DBlock.
type ModeBlock struct {
	Flags      uint32
	Generation uint64
}

const ModeBlockSize = 4 + 8

// ModeBlockOffset is the mode block's fixed byte offset within the same
// sector as its dblock.
const ModeBlockOffset = DBlockSize

func (m *ModeBlock) Encode(buf []byte) {
	le := binary.LittleEndian
	le.PutUint32(buf[0:], m.Flags)
	le.PutUint64(buf[4:], m.Generation)
}

func DecodeModeBlock(buf []byte) (*ModeBlock, error) {
	if len(buf) < ModeBlockSize {
		return nil, faults.New(faults.DBlockRead, "short mode block buffer")
	}
	le := binary.LittleEndian
	return &ModeBlock{
		Flags:      le.Uint32(buf[0:]),
		Generation: le.Uint64(buf[4:]),
	}, nil
}

// DeltaRecord is the single-sector per-host-slot delta lease.
type DeltaRecord struct {
	Magic           uint32
	Version         uint32
	OwnerID         uint64
	OwnerGeneration uint64
	Timestamp       uint64 // monotime seconds; 0 = FREE
	ResourceName    string // == lockspace name
	SpaceName       string
	IOTimeout       uint32
	Checksum        uint32
}

const DeltaRecordSize = 4 + 4 + 8 + 8 + 8 + NameSize + NameSize + 4 + 4

func (d *DeltaRecord) Encode(buf []byte) {
	le := binary.LittleEndian
	o := 0
	le.PutUint32(buf[o:], d.Magic)
	o += 4
	le.PutUint32(buf[o:], d.Version)
	o += 4
	le.PutUint64(buf[o:], d.OwnerID)
	o += 8
	le.PutUint64(buf[o:], d.OwnerGeneration)
	o += 8
	le.PutUint64(buf[o:], d.Timestamp)
	o += 8
	putName(buf[o:o+NameSize], d.ResourceName)
	o += NameSize
	putName(buf[o:o+NameSize], d.SpaceName)
	o += NameSize
	le.PutUint32(buf[o:], d.IOTimeout)
	o += 4
	le.PutUint32(buf[o:], 0)
	sum := checksum(buf[:o+4])
	d.Checksum = sum
	le.PutUint32(buf[o:], sum)
}

func DecodeDeltaRecord(buf []byte) (*DeltaRecord, error) {
	if len(buf) < DeltaRecordSize {
		return nil, faults.New(faults.LeaderRead, "short delta buffer")
	}
	le := binary.LittleEndian
	d := &DeltaRecord{}
	o := 0
	d.Magic = le.Uint32(buf[o:])
	o += 4
	if d.Magic != DeltaDiskMagic {
		return nil, faults.New(faults.LeaderMagic, "delta")
	}
	d.Version = le.Uint32(buf[o:])
	o += 4
	d.OwnerID = le.Uint64(buf[o:])
	o += 8
	d.OwnerGeneration = le.Uint64(buf[o:])
	o += 8
	d.Timestamp = le.Uint64(buf[o:])
	o += 8
	d.ResourceName = getName(buf[o : o+NameSize])
	o += NameSize
	d.SpaceName = getName(buf[o : o+NameSize])
	o += NameSize
	d.IOTimeout = le.Uint32(buf[o:])
	o += 4
	d.Checksum = le.Uint32(buf[o:])

	verify := make([]byte, o+4)
	copy(verify, buf[:o+4])
	le.PutUint32(verify[o:], 0)
	if checksum(verify) != d.Checksum {
		return nil, faults.New(faults.LeaderChecksum, "delta checksum")
	}
	return d, nil
}

// RequestRecord occupies sector 1 of a resource lease area. Its only
// documented role is reserving the slot; sanguard writes it zeroed
// when formatting the area and does not otherwise read or update it.
type RequestRecord struct {
	Magic    uint32
	Version  uint32
	NextLver uint64
	Checksum uint32
}

const RequestRecordSize = 4 + 4 + 8 + 4

func (r *RequestRecord) Encode(buf []byte) {
	le := binary.LittleEndian
	o := 0
	le.PutUint32(buf[o:], r.Magic)
	o += 4
	le.PutUint32(buf[o:], r.Version)
	o += 4
	le.PutUint64(buf[o:], r.NextLver)
	o += 8
	le.PutUint32(buf[o:], 0)
	sum := checksum(buf[:o+4])
	r.Checksum = sum
	le.PutUint32(buf[o:], sum)
}

func DecodeRequestRecord(buf []byte) (*RequestRecord, error) {
	if len(buf) < RequestRecordSize {
		return nil, faults.New(faults.LeaderRead, "short request buffer")
	}
	le := binary.LittleEndian
	r := &RequestRecord{}
	o := 0
	r.Magic = le.Uint32(buf[o:])
	o += 4
	r.Version = le.Uint32(buf[o:])
	o += 4
	r.NextLver = le.Uint64(buf[o:])
	o += 8
	r.Checksum = le.Uint32(buf[o:])

	verify := make([]byte, o+4)
	copy(verify, buf[:o+4])
	le.PutUint32(verify[o:], 0)
	if checksum(verify) != r.Checksum {
		return nil, faults.New(faults.LeaderChecksum, "request checksum")
	}
	return r, nil
}

// HostSlotOffset returns the byte offset of host_id's delta lease sector
// within a lockspace: space.offset + (host_id-1)*sector_size.
func HostSlotOffset(spaceOffset int64, hostID uint64, sectorSize uint32) int64 {
	return spaceOffset + int64(hostID-1)*int64(sectorSize)
}

// DBlockOffset returns the byte offset of host_id's ballot block within
// a resource lease area: resource.offset + (1+host_id)*sector_size
// (slot 0 is the leader, slot 1 is the request record).
func DBlockOffset(resourceOffset int64, hostID uint64, sectorSize uint32) int64 {
	return resourceOffset + int64(1+hostID)*int64(sectorSize)
}
