// Package faults defines the closed error-code taxonomy shared by every
// engine in sanguard: direct I/O, the on-disk codec, the delta-lease
// engine, the Disk Paxos engine, the lockspace thread and the
// orchestrator. Engines never log-and-swallow; they return a *Fault so
// callers (and ultimately the control-socket wire layer) can map it to a
// stable numeric code without string matching.
package faults

import "fmt"

// Code is a closed enum of outcomes an engine call can report. Codes are
// grouped the way the taxonomy is grouped: I/O, Consistency, Policy,
// Local and Fatal.
type Code int

const (
	OK Code = iota

	// I/O
	AIOTimeout
	IOError

	// Consistency (on-disk codec / decode validation)
	LeaderMagic
	LeaderVersion
	LeaderLockspace
	LeaderResource
	LeaderNumHosts
	LeaderChecksum
	LeaderDiff
	LeaderRead
	LeaderWrite
	DBlockChecksum
	DBlockRead
	DBlockWrite
	DBlockLver
	DBlockMbal

	// Policy (expected acquire/release outcomes, not faults)
	AcquireLver
	AcquireIDLive
	AcquireOwned
	AcquireOther
	AcquireOwnedRetry
	AcquireLockspace
	AcquireIDDisk
	ReleaseLver
	ReleaseOwner

	// Local
	EBusy
	ENoSpc
	E2Big
	ENoMem
	ENoEnt
	EPerm
)

var names = map[Code]string{
	OK:                "OK",
	AIOTimeout:        "AIO_TIMEOUT",
	IOError:           "IO_ERROR",
	LeaderMagic:       "LEADER_MAGIC",
	LeaderVersion:     "LEADER_VERSION",
	LeaderLockspace:   "LEADER_LOCKSPACE",
	LeaderResource:    "LEADER_RESOURCE",
	LeaderNumHosts:    "LEADER_NUMHOSTS",
	LeaderChecksum:    "LEADER_CHECKSUM",
	LeaderDiff:        "LEADER_DIFF",
	LeaderRead:        "LEADER_READ",
	LeaderWrite:       "LEADER_WRITE",
	DBlockChecksum:    "DBLOCK_CHECKSUM",
	DBlockRead:        "DBLOCK_READ",
	DBlockWrite:       "DBLOCK_WRITE",
	DBlockLver:        "DBLOCK_LVER",
	DBlockMbal:        "DBLOCK_MBAL",
	AcquireLver:       "ACQUIRE_LVER",
	AcquireIDLive:     "ACQUIRE_IDLIVE",
	AcquireOwned:      "ACQUIRE_OWNED",
	AcquireOther:      "ACQUIRE_OTHER",
	AcquireOwnedRetry: "ACQUIRE_OWNED_RETRY",
	AcquireLockspace:  "ACQUIRE_LOCKSPACE",
	AcquireIDDisk:     "ACQUIRE_IDDISK",
	ReleaseLver:       "RELEASE_LVER",
	ReleaseOwner:      "RELEASE_OWNER",
	EBusy:             "EBUSY",
	ENoSpc:            "ENOSPC",
	E2Big:             "E2BIG",
	ENoMem:            "ENOMEM",
	ENoEnt:            "ENOENT",
	EPerm:             "EPERM",
}

func (c Code) String() string {
	if n, ok := names[c]; ok {
		return n
	}
	return fmt.Sprintf("CODE(%d)", int(c))
}

// Class buckets a Code into the taxonomy's four top-level groups, used by
// the orchestrator to decide whether an outcome is a fault worth logging
// at warn/error or an expected policy result.
type Class int

const (
	ClassNone Class = iota
	ClassIO
	ClassConsistency
	ClassPolicy
	ClassLocal
)

func (c Code) Class() Class {
	switch {
	case c == OK:
		return ClassNone
	case c == AIOTimeout || c == IOError:
		return ClassIO
	case c >= LeaderMagic && c <= DBlockMbal:
		return ClassConsistency
	case c >= AcquireLver && c <= ReleaseOwner:
		return ClassPolicy
	case c >= EBusy && c <= EPerm:
		return ClassLocal
	default:
		return ClassNone
	}
}

// Fault is the error type every engine in sanguard returns. It carries a
// closed Code plus an optional wrapped cause (e.g. the underlying
// syscall error for IOError) and free-form context for logs.
type Fault struct {
	Code    Code
	Context string
	Cause   error
}

func (f *Fault) Error() string {
	if f == nil {
		return "<nil fault>"
	}
	if f.Context != "" {
		if f.Cause != nil {
			return fmt.Sprintf("%s: %s: %v", f.Code, f.Context, f.Cause)
		}
		return fmt.Sprintf("%s: %s", f.Code, f.Context)
	}
	if f.Cause != nil {
		return fmt.Sprintf("%s: %v", f.Code, f.Cause)
	}
	return f.Code.String()
}

func (f *Fault) Unwrap() error {
	if f == nil {
		return nil
	}
	return f.Cause
}

// New builds a Fault with no wrapped cause.
func New(code Code, context string) *Fault {
	return &Fault{Code: code, Context: context}
}

// Wrap builds a Fault around an existing error, typically a syscall or
// I/O error surfaced from internal/directio.
func Wrap(code Code, context string, cause error) *Fault {
	return &Fault{Code: code, Context: context, Cause: cause}
}

// Is reports whether err is a *Fault with the given code. Safe to call
// with any error, including nil.
func Is(err error, code Code) bool {
	f, ok := err.(*Fault)
	return ok && f != nil && f.Code == code
}

// CodeOf extracts the Code from err, returning OK for a nil error and
// IOError for any error that isn't a *Fault (e.g. a raw syscall error
// that escaped translation — treated conservatively as an I/O fault
// rather than silently reporting success).
func CodeOf(err error) Code {
	if err == nil {
		return OK
	}
	if f, ok := err.(*Fault); ok {
		return f.Code
	}
	return IOError
}
