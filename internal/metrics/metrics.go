// Package metrics exposes the orchestrator's cycle-level counters as
// Prometheus metrics, replacing the teacher's hand-rolled
// endpoint-count map with the ecosystem's standard instrumentation
// library.
package metrics

import (
	"github.com/prometheus/client_golang/prometheus"

	"github.com/mattermost/merge-queue-orchestrator/internal/domain"
)

var (
	CandidatesProcessed = prometheus.NewCounterVec(prometheus.CounterOpts{
		Namespace: "merge_queue",
		Name:      "candidates_processed_total",
		Help:      "Total candidates processed by the merge pipeline, labelled by terminal outcome bucket.",
	}, []string{"bucket"})

	ApprovalVerdicts = prometheus.NewCounterVec(prometheus.CounterOpts{
		Namespace: "merge_queue",
		Name:      "approval_verdicts_total",
		Help:      "Total approval controller verdicts, labelled by verdict.",
	}, []string{"verdict"})

	CyclesRun = prometheus.NewCounter(prometheus.CounterOpts{
		Namespace: "merge_queue",
		Name:      "cycles_run_total",
		Help:      "Total merge queue cycles started (including ones that exit early).",
	})

	LockContention = prometheus.NewCounter(prometheus.CounterOpts{
		Namespace: "merge_queue",
		Name:      "lock_contention_total",
		Help:      "Total cycle starts that found a lock already held for the originator.",
	})

	PlatformAPIErrors = prometheus.NewCounterVec(prometheus.CounterOpts{
		Namespace: "merge_queue",
		Name:      "platform_api_errors_total",
		Help:      "Total platform adapter call failures, labelled by operation.",
	}, []string{"operation"})
)

// Registry is the orchestrator's dedicated Prometheus registry, kept
// separate from the default global registry so a test process never leaks
// registrations across runs.
var Registry = prometheus.NewRegistry()

func init() {
	Registry.MustRegister(CandidatesProcessed, ApprovalVerdicts, CyclesRun, LockContention, PlatformAPIErrors)
}

// RecordOutcome increments the per-bucket candidate counter.
func RecordOutcome(bucket domain.OutcomeBucket) {
	CandidatesProcessed.WithLabelValues(string(bucket)).Inc()
}

// RecordApproval increments the per-verdict approval counter.
func RecordApproval(verdict domain.ApprovalVerdict) {
	ApprovalVerdicts.WithLabelValues(string(verdict)).Inc()
}

// RecordPlatformError increments the per-operation platform error counter.
func RecordPlatformError(operation string) {
	PlatformAPIErrors.WithLabelValues(operation).Inc()
}
