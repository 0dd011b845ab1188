package logger

import (
	"fmt"
	"log/slog"
)

// Standard field keys for structured logging across the lockspace,
// Paxos, token and orchestrator packages. Use these keys consistently
// so log aggregation and querying stay uniform across the daemon.
const (
	// ========================================================================
	// Distributed Tracing
	// ========================================================================
	KeyTraceID = "trace_id"
	KeySpanID  = "span_id"

	// ========================================================================
	// Lockspace / Delta lease
	// ========================================================================
	KeyLockspace  = "lockspace"
	KeyHostID     = "host_id"
	KeyGeneration = "generation"
	KeyTimestamp  = "timestamp"
	KeyState      = "state"

	// ========================================================================
	// Resource / Paxos
	// ========================================================================
	KeyResource = "resource"
	KeyLver     = "lver"
	KeyMbal     = "mbal"
	KeyBal      = "bal"
	KeyDiskIdx  = "disk_idx"
	KeyOwnerID  = "owner_id"

	// ========================================================================
	// Token / Client
	// ========================================================================
	KeyTokenID   = "token_id"
	KeyClientPid = "client_pid"
	KeyOwnerName = "owner_name"

	// ========================================================================
	// Operation Metadata
	// ========================================================================
	KeyDurationMs = "duration_ms"
	KeyError      = "error"
	KeyErrorCode  = "error_code"
	KeyOperation  = "operation"
	KeyAttempt    = "attempt"

	// ========================================================================
	// Watchdog / Kill escalation
	// ========================================================================
	KeySignal    = "signal"
	KeyEscalation = "escalation"
)

// ----------------------------------------------------------------------------
// Field constructors for type safety
// ----------------------------------------------------------------------------

func TraceID(id string) slog.Attr { return slog.String(KeyTraceID, id) }
func SpanID(id string) slog.Attr  { return slog.String(KeySpanID, id) }

func Lockspace(name string) slog.Attr  { return slog.String(KeyLockspace, name) }
func HostID(id uint64) slog.Attr       { return slog.Uint64(KeyHostID, id) }
func Generation(gen uint64) slog.Attr  { return slog.Uint64(KeyGeneration, gen) }
func Timestamp(ts uint64) slog.Attr    { return slog.Uint64(KeyTimestamp, ts) }
func State(s string) slog.Attr         { return slog.String(KeyState, s) }

func Resource(name string) slog.Attr { return slog.String(KeyResource, name) }
func Lver(v uint64) slog.Attr        { return slog.Uint64(KeyLver, v) }
func Mbal(v uint64) slog.Attr        { return slog.Uint64(KeyMbal, v) }
func Bal(v uint64) slog.Attr         { return slog.Uint64(KeyBal, v) }
func DiskIdx(i int) slog.Attr        { return slog.Int(KeyDiskIdx, i) }
func OwnerID(id uint64) slog.Attr    { return slog.Uint64(KeyOwnerID, id) }

func TokenID(id string) slog.Attr     { return slog.String(KeyTokenID, id) }
func ClientPid(pid int) slog.Attr     { return slog.Int(KeyClientPid, pid) }
func OwnerName(name string) slog.Attr { return slog.String(KeyOwnerName, name) }

func DurationMs(ms float64) slog.Attr { return slog.Float64(KeyDurationMs, ms) }

func Err(err error) slog.Attr {
	if err == nil {
		return slog.Attr{}
	}
	return slog.String(KeyError, err.Error())
}

func ErrorCode(code int) slog.Attr { return slog.Int(KeyErrorCode, code) }
func Operation(op string) slog.Attr { return slog.String(KeyOperation, op) }
func Attempt(n int) slog.Attr       { return slog.Int(KeyAttempt, n) }

func Signal(sig string) slog.Attr      { return slog.String(KeySignal, sig) }
func Escalation(n int) slog.Attr       { return slog.Int(KeyEscalation, n) }

// HandleHex formats an opaque token identifier as hex, mirroring the
// teacher's handle-formatting convention for binary identifiers.
func HandleHex(h []byte) slog.Attr {
	return slog.String(KeyTokenID, fmt.Sprintf("%x", h))
}
