package wire

import (
	"testing"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"github.com/sanguard/sanguard/pkg/faults"
)

func TestLeaderRoundTrip(t *testing.T) {
	l := &Leader{
		Magic:           PaxosDiskMagic,
		Version:         Version(),
		SectorSize:      512,
		NumHosts:        4,
		MaxHosts:        8,
		OwnerID:         2,
		OwnerGeneration: 3,
		Lver:            7,
		Timestamp:       123456,
		SpaceName:       "myspace",
		ResourceName:    "myresource",
		WriteID:         2,
		WriteGeneration: 3,
		WriteTimestamp:  123450,
		Flags:           LeaderFlagShortHold,
	}
	buf := make([]byte, LeaderSize)
	l.Encode(buf)

	got, err := DecodeLeader(buf, "myspace", "myresource", true)
	require.NoError(t, err)
	assert.Equal(t, l.OwnerID, got.OwnerID)
	assert.Equal(t, l.OwnerGeneration, got.OwnerGeneration)
	assert.Equal(t, l.Lver, got.Lver)
	assert.Equal(t, l.Timestamp, got.Timestamp)
	assert.Equal(t, l.SpaceName, got.SpaceName)
	assert.Equal(t, l.ResourceName, got.ResourceName)
	assert.Equal(t, l.Flags, got.Flags)
	assert.Equal(t, l.Checksum, got.Checksum)
}

func TestLeaderDecodeRejectsBadMagic(t *testing.T) {
	l := &Leader{Magic: 0xdeadbeef, Version: Version(), SectorSize: 512, NumHosts: 1, MaxHosts: 1}
	buf := make([]byte, LeaderSize)
	l.Encode(buf)

	_, err := DecodeLeader(buf, "", "", false)
	require.Error(t, err)
	assert.True(t, faults.Is(err, faults.LeaderMagic))
}

func TestLeaderDecodeRejectsWrongVersion(t *testing.T) {
	l := &Leader{Magic: PaxosDiskMagic, Version: uint32(99) << 16, SectorSize: 512, NumHosts: 1, MaxHosts: 1}
	buf := make([]byte, LeaderSize)
	l.Encode(buf)

	_, err := DecodeLeader(buf, "", "", false)
	require.Error(t, err)
	assert.True(t, faults.Is(err, faults.LeaderVersion))
}

func TestLeaderDecodeRejectsBadNumHosts(t *testing.T) {
	l := &Leader{Magic: PaxosDiskMagic, Version: Version(), SectorSize: 512, NumHosts: 10, MaxHosts: 4}
	buf := make([]byte, LeaderSize)
	l.Encode(buf)

	_, err := DecodeLeader(buf, "", "", false)
	require.Error(t, err)
	assert.True(t, faults.Is(err, faults.LeaderNumHosts))
}

func TestLeaderDecodeRejectsNameMismatch(t *testing.T) {
	l := &Leader{Magic: PaxosDiskMagic, Version: Version(), SectorSize: 512, NumHosts: 1, MaxHosts: 1, SpaceName: "a", ResourceName: "b"}
	buf := make([]byte, LeaderSize)
	l.Encode(buf)

	_, err := DecodeLeader(buf, "other", "", true)
	require.Error(t, err)
	assert.True(t, faults.Is(err, faults.LeaderLockspace))

	_, err = DecodeLeader(buf, "a", "other", true)
	require.Error(t, err)
	assert.True(t, faults.Is(err, faults.LeaderResource))
}

func TestLeaderDecodeRejectsCorruptedChecksum(t *testing.T) {
	l := &Leader{Magic: PaxosDiskMagic, Version: Version(), SectorSize: 512, NumHosts: 1, MaxHosts: 1}
	buf := make([]byte, LeaderSize)
	l.Encode(buf)
	buf[10] ^= 0xff

	_, err := DecodeLeader(buf, "", "", false)
	require.Error(t, err)
	assert.True(t, faults.Is(err, faults.LeaderChecksum))
}

func TestDBlockRoundTrip(t *testing.T) {
	d := &DBlock{Mbal: 5, Bal: 5, Inp: 1, Inp2: 2, Inp3: 99, Lver: 3, Flags: DBlockFlagReleased}
	buf := make([]byte, DBlockSize)
	d.Encode(buf)

	got, err := DecodeDBlock(buf)
	require.NoError(t, err)
	assert.Equal(t, d.Mbal, got.Mbal)
	assert.Equal(t, d.Bal, got.Bal)
	assert.Equal(t, d.Inp, got.Inp)
	assert.Equal(t, d.Inp2, got.Inp2)
	assert.Equal(t, d.Inp3, got.Inp3)
	assert.Equal(t, d.Lver, got.Lver)
	assert.Equal(t, d.Flags, got.Flags)
	assert.False(t, got.Empty())
}

func TestDBlockEmptyIsZeroValue(t *testing.T) {
	d := &DBlock{}
	buf := make([]byte, DBlockSize)
	// Zeroed dblocks represent "no participation" and must decode
	// successfully even though their checksum field is also zero.
	got, err := DecodeDBlock(buf)
	require.NoError(t, err)
	assert.True(t, got.Empty())
	_ = d
}

func TestDBlockDecodeRejectsCorruptedChecksum(t *testing.T) {
	d := &DBlock{Mbal: 5, Lver: 1}
	buf := make([]byte, DBlockSize)
	d.Encode(buf)
	buf[0] ^= 0xff

	_, err := DecodeDBlock(buf)
	require.Error(t, err)
	assert.True(t, faults.Is(err, faults.DBlockChecksum))
}

func TestModeBlockRoundTrip(t *testing.T) {
	m := &ModeBlock{Flags: ModeFlagShared, Generation: 42}
	buf := make([]byte, ModeBlockSize)
	m.Encode(buf)

	got, err := DecodeModeBlock(buf)
	require.NoError(t, err)
	assert.Equal(t, m.Flags, got.Flags)
	assert.Equal(t, m.Generation, got.Generation)
}

func TestDeltaRecordRoundTrip(t *testing.T) {
	d := &DeltaRecord{
		Magic:           DeltaDiskMagic,
		Version:         Version(),
		OwnerID:         3,
		OwnerGeneration: 4,
		Timestamp:       555,
		ResourceName:    "space1",
		SpaceName:       "space1",
		IOTimeout:       10,
	}
	buf := make([]byte, DeltaRecordSize)
	d.Encode(buf)

	got, err := DecodeDeltaRecord(buf)
	require.NoError(t, err)
	assert.Equal(t, d.OwnerID, got.OwnerID)
	assert.Equal(t, d.OwnerGeneration, got.OwnerGeneration)
	assert.Equal(t, d.Timestamp, got.Timestamp)
	assert.Equal(t, d.SpaceName, got.SpaceName)
	assert.Equal(t, d.IOTimeout, got.IOTimeout)
}

func TestDeltaRecordDecodeRejectsBadMagic(t *testing.T) {
	d := &DeltaRecord{Magic: 0x1, Version: Version()}
	buf := make([]byte, DeltaRecordSize)
	d.Encode(buf)

	_, err := DecodeDeltaRecord(buf)
	require.Error(t, err)
	assert.True(t, faults.Is(err, faults.LeaderMagic))
}

func TestRequestRecordRoundTrip(t *testing.T) {
	r := &RequestRecord{Magic: 1, Version: Version(), NextLver: 9}
	buf := make([]byte, RequestRecordSize)
	r.Encode(buf)

	got, err := DecodeRequestRecord(buf)
	require.NoError(t, err)
	assert.Equal(t, r.NextLver, got.NextLver)
}

func TestHostSlotOffset(t *testing.T) {
	assert.Equal(t, int64(1000), HostSlotOffset(1000, 1, 512))
	assert.Equal(t, int64(1512), HostSlotOffset(1000, 2, 512))
	assert.Equal(t, int64(2024), HostSlotOffset(1000, 3, 512))
}

func TestDBlockOffset(t *testing.T) {
	// slot 0 leader, slot 1 request record, host 1's dblock at slot 2.
	assert.Equal(t, int64(2000+2*512), DBlockOffset(2000, 1, 512))
	assert.Equal(t, int64(2000+3*512), DBlockOffset(2000, 2, 512))
}

func TestChecksumComputedOverEncodedLittleEndianBytes(t *testing.T) {
	// Two leaders differing only in a field's native byte order would,
	// if checksummed before encoding, disagree across architectures.
	// Here both are encoded (little-endian) before checksumming, so
	// identical logical values always yield identical on-disk bytes
	// and checksums regardless of host endianness.
	a := &Leader{Magic: PaxosDiskMagic, Version: Version(), SectorSize: 512, NumHosts: 1, MaxHosts: 1, Lver: 0x0102030405060708}
	b := &Leader{Magic: PaxosDiskMagic, Version: Version(), SectorSize: 512, NumHosts: 1, MaxHosts: 1, Lver: 0x0102030405060708}
	bufA := make([]byte, LeaderSize)
	bufB := make([]byte, LeaderSize)
	a.Encode(bufA)
	b.Encode(bufB)
	assert.Equal(t, bufA, bufB)
	assert.Equal(t, a.Checksum, b.Checksum)
}
