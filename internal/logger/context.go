package logger

import (
	"context"
	"time"
)

// contextKey is a private type for context keys to avoid collisions
type contextKey struct{}

// logContextKey is the key for LogContext in context.Context
var logContextKey = contextKey{}

// LogContext holds request-scoped logging context for a command worker
// or renewal tick: which lockspace/resource it concerns, which local
// client (pid) requested it, and the distributed trace it belongs to.
type LogContext struct {
	TraceID      string // OpenTelemetry trace ID
	SpanID       string // OpenTelemetry span ID
	Lockspace    string // lockspace name this operation concerns
	Resource     string // resource name this operation concerns
	HostID       uint64 // this host's slot in the lockspace, if known
	ClientPid    int    // pid of the registered client driving this op
	TokenID      string // token identifier, once a token exists
	StartTime    time.Time
}

// WithContext returns a new context with the given LogContext
func WithContext(ctx context.Context, lc *LogContext) context.Context {
	return context.WithValue(ctx, logContextKey, lc)
}

// FromContext retrieves the LogContext from context, or nil if not present
func FromContext(ctx context.Context) *LogContext {
	if ctx == nil {
		return nil
	}
	lc, _ := ctx.Value(logContextKey).(*LogContext)
	return lc
}

// NewLogContext creates a new LogContext for a client-driven operation.
func NewLogContext(clientPid int) *LogContext {
	return &LogContext{
		ClientPid: clientPid,
		StartTime: time.Now(),
	}
}

// Clone creates a copy of the LogContext
func (lc *LogContext) Clone() *LogContext {
	if lc == nil {
		return nil
	}
	return &LogContext{
		TraceID:   lc.TraceID,
		SpanID:    lc.SpanID,
		Lockspace: lc.Lockspace,
		Resource:  lc.Resource,
		HostID:    lc.HostID,
		ClientPid: lc.ClientPid,
		TokenID:   lc.TokenID,
		StartTime: lc.StartTime,
	}
}

// WithLockspace returns a copy with the lockspace name set
func (lc *LogContext) WithLockspace(name string) *LogContext {
	clone := lc.Clone()
	if clone != nil {
		clone.Lockspace = name
	}
	return clone
}

// WithResource returns a copy with the resource name set
func (lc *LogContext) WithResource(name string) *LogContext {
	clone := lc.Clone()
	if clone != nil {
		clone.Resource = name
	}
	return clone
}

// WithToken returns a copy with the token id set
func (lc *LogContext) WithToken(id string) *LogContext {
	clone := lc.Clone()
	if clone != nil {
		clone.TokenID = id
	}
	return clone
}

// WithTrace returns a copy with trace info set
func (lc *LogContext) WithTrace(traceID, spanID string) *LogContext {
	clone := lc.Clone()
	if clone != nil {
		clone.TraceID = traceID
		clone.SpanID = spanID
	}
	return clone
}

// DurationMs returns the duration since StartTime in milliseconds
func (lc *LogContext) DurationMs() float64 {
	if lc == nil || lc.StartTime.IsZero() {
		return 0
	}
	return float64(time.Since(lc.StartTime).Microseconds()) / 1000.0
}
