// Package metrics exposes Prometheus counters/gauges/histograms for
// sanguard's delta-lease renewal, Disk Paxos ballots, token
// acquire/release latency and the orchestrator's SIGTERM/SIGKILL
// escalation path. Grounded on the teacher's
// pkg/metadata/lock/metrics.go label-constant + CounterVec style,
// generalized to this daemon's domain.
package metrics

import (
	"net/http"

	"github.com/prometheus/client_golang/prometheus"
	"github.com/prometheus/client_golang/prometheus/promauto"
	"github.com/prometheus/client_golang/prometheus/promhttp"
)

// Label constants.
const (
	LabelSpace    = "space"
	LabelResource = "resource"
	LabelOutcome  = "outcome"
	LabelReason   = "reason"
)

// Outcome constants shared across counters.
const (
	OutcomeOK   = "ok"
	OutcomeFail = "fail"
)

var (
	DeltaAcquireTotal = promauto.NewCounterVec(prometheus.CounterOpts{
		Namespace: "sanguard",
		Subsystem: "delta",
		Name:      "acquire_total",
		Help:      "Delta-lease slot acquisitions by outcome.",
	}, []string{LabelSpace, LabelOutcome})

	DeltaRenewTotal = promauto.NewCounterVec(prometheus.CounterOpts{
		Namespace: "sanguard",
		Subsystem: "delta",
		Name:      "renew_total",
		Help:      "Delta-lease renewal attempts by outcome.",
	}, []string{LabelSpace, LabelOutcome})

	PaxosBallotRestartsTotal = promauto.NewCounterVec(prometheus.CounterOpts{
		Namespace: "sanguard",
		Subsystem: "paxos",
		Name:      "ballot_restarts_total",
		Help:      "Disk Paxos ballot restarts (DBLOCK_LVER/DBLOCK_MBAL aborts).",
	}, []string{LabelResource, LabelReason})

	PaxosAcquireTotal = promauto.NewCounterVec(prometheus.CounterOpts{
		Namespace: "sanguard",
		Subsystem: "paxos",
		Name:      "acquire_total",
		Help:      "Disk Paxos resource acquisitions by outcome.",
	}, []string{LabelResource, LabelOutcome})

	TokenAcquireDuration = promauto.NewHistogramVec(prometheus.HistogramOpts{
		Namespace: "sanguard",
		Subsystem: "token",
		Name:      "acquire_duration_seconds",
		Help:      "Latency of token acquire operations.",
		Buckets:   prometheus.DefBuckets,
	}, []string{LabelResource})

	TokenReleaseDuration = promauto.NewHistogramVec(prometheus.HistogramOpts{
		Namespace: "sanguard",
		Subsystem: "token",
		Name:      "release_duration_seconds",
		Help:      "Latency of token release operations.",
		Buckets:   prometheus.DefBuckets,
	}, []string{LabelResource})

	OrchestratorEscalationsTotal = promauto.NewCounterVec(prometheus.CounterOpts{
		Namespace: "sanguard",
		Subsystem: "orchestrator",
		Name:      "kill_escalations_total",
		Help:      "SIGTERM/SIGKILL escalations issued against lease holders in a failing lockspace.",
	}, []string{LabelSpace, "signal"})

	ActiveLockspaces = promauto.NewGauge(prometheus.GaugeOpts{
		Namespace: "sanguard",
		Name:      "active_lockspaces",
		Help:      "Number of lockspaces currently registered.",
	})

	ActiveTokens = promauto.NewGauge(prometheus.GaugeOpts{
		Namespace: "sanguard",
		Name:      "active_tokens",
		Help:      "Number of resource-lease tokens currently held by local clients.",
	})
)

// Handler returns the /metrics HTTP handler. net/http's default mux is
// enough for this single route — no router dependency is pulled in for
// it (see DESIGN.md for why go-chi has no home here).
func Handler() http.Handler {
	return promhttp.Handler()
}
