package directio

import (
	"context"
	"fmt"
	"sync"
	"time"

	"github.com/sanguard/sanguard/pkg/faults"
)

// FakeDevice is an in-memory Device used by pkg/delta, pkg/paxos and
// pkg/lockspace tests to exercise the engines without a real block
// device. It supports deterministic fault injection so scenarios like
// "2 of 3 disks become unreachable" are reproducible.
type FakeDevice struct {
	mu         sync.Mutex
	data       []byte
	sectorSize uint32

	// Unreachable makes every ReadAt/WriteAt return AIOTimeout,
	// simulating a disk that has dropped off the bus.
	Unreachable bool
	// FailWrites makes only WriteAt return AIOTimeout, for scenarios
	// where a disk drops off the bus mid-ballot after an earlier read
	// already succeeded against it.
	FailWrites bool
	// Latency, if non-zero, is slept before completing each op —
	// useful for racing against a short timeout in tests.
	Latency time.Duration
}

func NewFakeDevice(size int, sectorSize uint32) *FakeDevice {
	return &FakeDevice{
		data:       make([]byte, size),
		sectorSize: sectorSize,
	}
}

func (f *FakeDevice) SectorSize() uint32 { return f.sectorSize }
func (f *FakeDevice) Close() error       { return nil }

func (f *FakeDevice) ReadAt(ctx context.Context, buf []byte, off int64, timeout time.Duration) error {
	return f.do(ctx, buf, off, timeout, false)
}

func (f *FakeDevice) WriteAt(ctx context.Context, buf []byte, off int64, timeout time.Duration) error {
	return f.do(ctx, buf, off, timeout, true)
}

func (f *FakeDevice) do(ctx context.Context, buf []byte, off int64, timeout time.Duration, write bool) error {
	f.mu.Lock()
	unreachable := f.Unreachable || (write && f.FailWrites)
	latency := f.Latency
	f.mu.Unlock()

	if latency > 0 {
		select {
		case <-time.After(latency):
		case <-time.After(timeout):
			return timeoutFault(off, write, timeout)
		}
	}

	if unreachable {
		return timeoutFault(off, write, timeout)
	}

	f.mu.Lock()
	defer f.mu.Unlock()
	if int(off)+len(buf) > len(f.data) {
		return timeoutFault(off, write, timeout)
	}
	if write {
		copy(f.data[off:], buf)
	} else {
		copy(buf, f.data[off:off+int64(len(buf))])
	}
	return nil
}

func timeoutFault(off int64, write bool, timeout time.Duration) error {
	return faults.New(faults.AIOTimeout, fmt.Sprintf("fake device unreachable off=%d write=%v timeout=%s", off, write, timeout))
}
