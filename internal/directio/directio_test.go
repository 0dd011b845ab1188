package directio

import (
	"context"
	"testing"
	"time"
	"unsafe"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"github.com/sanguard/sanguard/pkg/faults"
)

func TestAlignedBufferIsSectorAligned(t *testing.T) {
	buf := AlignedBuffer(4096, 512)
	require.Len(t, buf, 4096)
	addr := uintptr(unsafe.Pointer(&buf[0]))
	assert.Zero(t, addr%512)
}

func TestFakeDeviceReadWriteRoundTrip(t *testing.T) {
	dev := NewFakeDevice(4096, 512)
	ctx := context.Background()

	buf := AlignedBuffer(512, 512)
	for i := range buf {
		buf[i] = byte(i)
	}
	require.NoError(t, dev.WriteAt(ctx, buf, 512, time.Second))

	out := AlignedBuffer(512, 512)
	require.NoError(t, dev.ReadAt(ctx, out, 512, time.Second))
	assert.Equal(t, buf, out)
}

func TestFakeDeviceUnreachableReturnsAIOTimeout(t *testing.T) {
	dev := NewFakeDevice(4096, 512)
	dev.Unreachable = true
	ctx := context.Background()

	buf := AlignedBuffer(512, 512)
	err := dev.ReadAt(ctx, buf, 0, time.Millisecond)
	require.Error(t, err)
	assert.True(t, faults.Is(err, faults.AIOTimeout))
}

func TestFakeDeviceFailWritesOnlyAffectsWrites(t *testing.T) {
	dev := NewFakeDevice(4096, 512)
	dev.FailWrites = true
	ctx := context.Background()

	buf := AlignedBuffer(512, 512)
	require.NoError(t, dev.ReadAt(ctx, buf, 0, time.Millisecond))

	err := dev.WriteAt(ctx, buf, 0, time.Millisecond)
	require.Error(t, err)
	assert.True(t, faults.Is(err, faults.AIOTimeout))
}

func TestReadWriteIOBufMultiSector(t *testing.T) {
	dev := NewFakeDevice(4096, 512)
	ctx := context.Background()

	buf := AlignedBuffer(3*512, 512)
	for i := range buf {
		buf[i] = byte(i % 7)
	}
	require.NoError(t, WriteIOBuf(ctx, dev, 0, buf, time.Second))

	out, err := ReadIOBuf(ctx, dev, 0, 3, time.Second)
	require.NoError(t, err)
	assert.Equal(t, buf, out)
}

func TestOpenRejectsUnsupportedSectorSize(t *testing.T) {
	_, err := Open("/dev/null", 1024)
	require.Error(t, err)
}
