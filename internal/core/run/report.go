package run

import (
	"time"

	"github.com/google/uuid"
)

// =============================================================================
// Verdicts
// =============================================================================

// Verdict is the overall outcome of a deployment run.
type Verdict string

const (
	// VerdictSuccess: every service is healthy.
	VerdictSuccess Verdict = "success"
	// VerdictPartialFailure: at least one service is healthy, but not all.
	VerdictPartialFailure Verdict = "partial_failure"
	// VerdictFailed: no service is healthy, or the run failed before any
	// service could be started.
	VerdictFailed Verdict = "failed"
)

// Evaluate maps per-service results onto the run verdict.
func Evaluate(results []ServiceResult) Verdict {
	healthy := 0
	for _, res := range results {
		if res.State == StateHealthy {
			healthy++
		}
	}
	switch {
	case healthy == len(results):
		return VerdictSuccess
	case healthy >= 1:
		return VerdictPartialFailure
	default:
		return VerdictFailed
	}
}

// =============================================================================
// Run Report
// =============================================================================

// Report is the full record of one deployment run, as journaled and as
// posted to the completion webhook.
type Report struct {
	RunID      string          `json:"run_id"`
	Stack      string          `json:"stack"`
	Verdict    Verdict         `json:"verdict"`
	Error      string          `json:"error,omitempty"` // infrastructure-level failure detail
	Services   []ServiceResult `json:"services"`
	StartedAt  time.Time       `json:"started_at"`
	FinishedAt time.Time       `json:"finished_at"`
}

// Duration returns the wall-clock duration of the run.
func (r *Report) Duration() time.Duration {
	return r.FinishedAt.Sub(r.StartedAt)
}

// NewRunID returns a fresh unique run identifier.
func NewRunID() string {
	return uuid.New().String()
}
