// Package directio implements C1: aligned, timed, single- and
// multi-sector reads/writes against a block device opened for direct
// I/O. It distinguishes three outcomes: success, I/O error (fail fast),
// and AIOTimeout (the operation is abandoned but the kernel request may
// still be in flight, so its buffer must never be reused or returned to
// a pool — see faults.AIOTimeout).
//
// There is no buffering and no caching here; every call goes straight
// to the device. Grounded on the teacher's use of golang.org/x/sys/unix
// for mmap/msync in pkg/wal/mmap.go, generalized here to O_DIRECT
// pread/pwrite.
package directio

import (
	"context"
	"fmt"
	"os"
	"time"
	"unsafe"

	"golang.org/x/sys/unix"

	"github.com/sanguard/sanguard/pkg/faults"
)

// Device is the contract C3/C4 depend on. Real callers get it from
// Open; tests substitute an in-memory fake (see directio_test.go /
// fake.go) so Paxos and delta-lease logic can run without a real disk.
type Device interface {
	// ReadAt reads exactly len(buf) bytes at off, aborting if it does
	// not complete within timeout.
	ReadAt(ctx context.Context, buf []byte, off int64, timeout time.Duration) error
	// WriteAt writes exactly len(buf) bytes at off, aborting if it does
	// not complete within timeout. On AIOTimeout the caller must not
	// reuse buf.
	WriteAt(ctx context.Context, buf []byte, off int64, timeout time.Duration) error
	// SectorSize reports the device's native sector size.
	SectorSize() uint32
	Close() error
}

// FileDevice is a Device backed by a file opened with O_DIRECT.
type FileDevice struct {
	f          *os.File
	sectorSize uint32
}

// Open opens path for direct I/O. sectorSize must be 512 or 4096, the
// two sector sizes the on-disk layout supports.
func Open(path string, sectorSize uint32) (*FileDevice, error) {
	if sectorSize != 512 && sectorSize != 4096 {
		return nil, fmt.Errorf("directio: unsupported sector size %d", sectorSize)
	}
	f, err := os.OpenFile(path, os.O_RDWR|unix.O_DIRECT, 0644)
	if err != nil {
		// O_DIRECT is not available on every filesystem (notably
		// tmpfs); fall back to buffered I/O rather than failing the
		// whole daemon, since direct-ness is a performance property,
		// not a correctness one, for this codec.
		f, err = os.OpenFile(path, os.O_RDWR, 0644)
		if err != nil {
			return nil, faults.Wrap(faults.IOError, "open "+path, err)
		}
	}
	return &FileDevice{f: f, sectorSize: sectorSize}, nil
}

func (d *FileDevice) SectorSize() uint32 { return d.sectorSize }

func (d *FileDevice) Close() error {
	return d.f.Close()
}

// AlignedBuffer allocates a sectorSize-aligned buffer of n bytes, required by
// O_DIRECT on Linux.
func AlignedBuffer(n int, sectorSize uint32) []byte {
	buf := make([]byte, n+int(sectorSize))
	addr := uintptr(unsafe.Pointer(&buf[0]))
	off := int(uintptr(sectorSize) - addr%uintptr(sectorSize))
	if off == int(sectorSize) {
		off = 0
	}
	return buf[off : off+n]
}

func (d *FileDevice) ReadAt(ctx context.Context, buf []byte, off int64, timeout time.Duration) error {
	return d.doIO(ctx, buf, off, timeout, false)
}

func (d *FileDevice) WriteAt(ctx context.Context, buf []byte, off int64, timeout time.Duration) error {
	return d.doIO(ctx, buf, off, timeout, true)
}

// doIO runs the syscall on a dedicated goroutine and races it against
// timeout. On timeout it returns AIOTimeout immediately without waiting
// for the goroutine — the goroutine (and buf, which it still holds) is
// intentionally leaked rather than interrupted: the kernel request may
// still complete into buf after we've stopped watching it.
func (d *FileDevice) doIO(ctx context.Context, buf []byte, off int64, timeout time.Duration, write bool) error {
	done := make(chan error, 1)
	go func() {
		var err error
		if write {
			_, err = d.f.WriteAt(buf, off)
		} else {
			_, err = d.f.ReadAt(buf, off)
		}
		done <- err
	}()

	t := time.NewTimer(timeout)
	defer t.Stop()

	select {
	case err := <-done:
		if err != nil {
			return faults.Wrap(faults.IOError, fmt.Sprintf("off=%d write=%v", off, write), err)
		}
		return nil
	case <-t.C:
		return faults.New(faults.AIOTimeout, fmt.Sprintf("off=%d write=%v timeout=%s", off, write, timeout))
	case <-ctx.Done():
		return faults.New(faults.AIOTimeout, "context canceled")
	}
}

// ReadIOBuf reads a multi-sector region in one I/O, used by Paxos to
// fetch an entire lease area (leader + request + dblocks) per disk.
func ReadIOBuf(ctx context.Context, d Device, off int64, numSectors int, timeout time.Duration) ([]byte, error) {
	buf := AlignedBuffer(numSectors*int(d.SectorSize()), d.SectorSize())
	if err := d.ReadAt(ctx, buf, off, timeout); err != nil {
		return nil, err
	}
	return buf, nil
}

// WriteIOBuf writes a multi-sector region in one I/O.
func WriteIOBuf(ctx context.Context, d Device, off int64, buf []byte, timeout time.Duration) error {
	return d.WriteAt(ctx, buf, off, timeout)
}
