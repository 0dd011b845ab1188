package telemetry

import (
	"context"

	"go.opentelemetry.io/otel/attribute"
	"go.opentelemetry.io/otel/trace"
)

// Attribute keys for lockspace, resource and token operations. These
// follow OpenTelemetry semantic-convention naming (dotted, lowercase)
// the way the teacher's own attribute set does.
const (
	AttrLockspace  = "lockspace.name"
	AttrHostID     = "lockspace.host_id"
	AttrGeneration = "lockspace.generation"
	AttrIOTimeout  = "lockspace.io_timeout_seconds"

	AttrResource = "resource.name"
	AttrLver     = "resource.lver"
	AttrMbal     = "resource.mbal"
	AttrBal      = "resource.bal"
	AttrDiskIdx  = "resource.disk_index"
	AttrOwnerID  = "resource.owner_id"

	AttrTokenID   = "token.id"
	AttrClientPid = "client.pid"

	AttrOutcome = "outcome"
)

// Span names for the phases of an acquire/renew/release, matching the
// component names used throughout spec-derived docs so a trace reads
// the same way the design does: delta renewal, then (if contended)
// Paxos read/phase1/phase2/commit.
const (
	SpanDeltaAcquire = "delta.acquire"
	SpanDeltaRenew   = "delta.renew"
	SpanDeltaRelease = "delta.release"

	SpanPaxosAcquire  = "paxos.acquire"
	SpanPaxosReadArea = "paxos.read_area"
	SpanPaxosPhase1   = "paxos.phase1"
	SpanPaxosPhase2   = "paxos.phase2"
	SpanPaxosCommit   = "paxos.commit"
	SpanPaxosRelease  = "paxos.release"
	SpanPaxosInit     = "paxos.init"

	SpanTokenAcquire = "token.acquire"
	SpanTokenRelease = "token.release"

	SpanOrchestratorDispatch = "orchestrator.dispatch"
)

func Lockspace(name string) attribute.KeyValue  { return attribute.String(AttrLockspace, name) }
func HostID(id uint64) attribute.KeyValue       { return attribute.Int64(AttrHostID, int64(id)) }
func Generation(gen uint64) attribute.KeyValue  { return attribute.Int64(AttrGeneration, int64(gen)) }
func IOTimeoutSeconds(s float64) attribute.KeyValue {
	return attribute.Float64(AttrIOTimeout, s)
}

func Resource(name string) attribute.KeyValue { return attribute.String(AttrResource, name) }
func Lver(v uint64) attribute.KeyValue        { return attribute.Int64(AttrLver, int64(v)) }
func Mbal(v uint64) attribute.KeyValue        { return attribute.Int64(AttrMbal, int64(v)) }
func Bal(v uint64) attribute.KeyValue         { return attribute.Int64(AttrBal, int64(v)) }
func DiskIdx(i int) attribute.KeyValue        { return attribute.Int(AttrDiskIdx, i) }
func OwnerID(id uint64) attribute.KeyValue    { return attribute.Int64(AttrOwnerID, int64(id)) }

func TokenID(id string) attribute.KeyValue { return attribute.String(AttrTokenID, id) }
func ClientPid(pid int) attribute.KeyValue { return attribute.Int(AttrClientPid, pid) }

func Outcome(code string) attribute.KeyValue { return attribute.String(AttrOutcome, code) }

// StartDeltaSpan starts a span for a delta-lease operation (acquire,
// renew, release) against a given lockspace/host_id.
func StartDeltaSpan(ctx context.Context, op string, spaceName string, hostID uint64, attrs ...attribute.KeyValue) (context.Context, trace.Span) {
	allAttrs := append([]attribute.KeyValue{Lockspace(spaceName), HostID(hostID)}, attrs...)
	return StartSpan(ctx, "delta."+op, trace.WithAttributes(allAttrs...))
}

// StartPaxosSpan starts a span for one phase of a Disk Paxos operation
// against a given resource.
func StartPaxosSpan(ctx context.Context, op string, resourceName string, attrs ...attribute.KeyValue) (context.Context, trace.Span) {
	allAttrs := append([]attribute.KeyValue{Resource(resourceName)}, attrs...)
	return StartSpan(ctx, "paxos."+op, trace.WithAttributes(allAttrs...))
}

// StartTokenSpan starts a span for a token-manager operation.
func StartTokenSpan(ctx context.Context, op string, resourceName string, attrs ...attribute.KeyValue) (context.Context, trace.Span) {
	allAttrs := append([]attribute.KeyValue{Resource(resourceName)}, attrs...)
	return StartSpan(ctx, "token."+op, trace.WithAttributes(allAttrs...))
}
