package converge

import (
	"math"
	"time"
)

// TerminationReason is the enumerated cause a run stopped.
type TerminationReason string

const (
	// ReasonConverged indicates the evaluation satisfied the stopping policy
	// (score reached the target, or the evaluator voted to stop)
	ReasonConverged TerminationReason = "converged"
	// ReasonEarlyStop indicates the score crossed the early-stop ceiling,
	// which bypasses the minimum-iteration floor
	ReasonEarlyStop TerminationReason = "early_stop"
	// ReasonMaxIterations indicates the loop exhausted MaxIterations
	ReasonMaxIterations TerminationReason = "max_iterations"
	// ReasonTimeout indicates the elapsed budget was exceeded before an
	// iteration could start
	ReasonTimeout TerminationReason = "timeout"
	// ReasonManualStop indicates a custom ShouldTerminate check fired, or an
	// OnError fallback produced the result
	ReasonManualStop TerminationReason = "manual_stop"
)

// Context carries read-only per-iteration metadata supplied to every phase.
// A fresh value is built for each iteration; phases must not retain it.
type Context struct {
	// Iteration is the current iteration index. Run uses 0-based indexing;
	// Stream uses 1-based counters (see Stream).
	Iteration int `json:"iteration"`

	// MaxIterations is the configured iteration ceiling for this run
	MaxIterations int `json:"max_iterations"`

	// Elapsed is the wall-clock time since the run started
	Elapsed time.Duration `json:"elapsed"`

	// Previous is the evaluation recorded by the prior iteration, or nil on
	// the first iteration
	Previous *Evaluation `json:"previous,omitempty"`
}

// Evaluation is the quality verdict produced by the Evaluate phase.
type Evaluation struct {
	// Score is the quality signal, clamped to [0,100] by the controller
	// before any comparison or recording. NaN coerces to 0.
	Score float64 `json:"score"`

	// ShouldContinue is the evaluator's vote: false means the work is done
	// regardless of score
	ShouldContinue bool `json:"should_continue"`

	// Feedback is guidance for the next refinement pass
	Feedback string `json:"feedback,omitempty"`

	// MissingInfo lists gaps the evaluator identified
	MissingInfo []string `json:"missing_info,omitempty"`

	// Metadata carries evaluator-specific extras, opaque to the engine
	Metadata map[string]any `json:"metadata,omitempty"`
}

// ActionMetadata describes the side facts of one Act invocation.
type ActionMetadata struct {
	Sources  []string      `json:"sources,omitempty"`
	Cost     float64       `json:"cost,omitempty"`
	Latency  time.Duration `json:"latency,omitempty"`
	Warnings []string      `json:"warnings,omitempty"`
}

// ActionResult is the output of one Act invocation. Data is opaque to the
// engine; Metadata feeds cost and latency accounting when present.
type ActionResult[A any] struct {
	Data     A               `json:"data"`
	Metadata *ActionMetadata `json:"metadata,omitempty"`
}

// HistoryEntry is the immutable record of one completed iteration. Exactly
// one entry is appended per iteration that ran Act and Evaluate, whether or
// not Transition ran afterward.
type HistoryEntry[A any] struct {
	Iteration  int             `json:"iteration"`
	Action     ActionResult[A] `json:"action"`
	Evaluation Evaluation      `json:"evaluation"`
	Timestamp  time.Time       `json:"timestamp"`
	Duration   time.Duration   `json:"duration"`
}

// Result captures the outcome of a completed run.
type Result[R, A any] struct {
	// RunID uniquely identifies this run; the same ID appears on every event
	// the run emitted
	RunID string `json:"run_id"`

	// Value is whatever Finalize (or OnError) produced
	Value R `json:"value"`

	// Iterations is the number of iterations that executed Act and Evaluate
	Iterations int `json:"iterations"`

	// FinalScore is the last recorded evaluation's score, or 0 if no
	// iteration ran
	FinalScore float64 `json:"final_score"`

	// Converged reports whether FinalScore reached the configured target
	Converged bool `json:"converged"`

	// Reason is why the run stopped
	Reason TerminationReason `json:"reason"`

	// TotalCost is the sum of recorded action costs (absent metadata counts
	// as zero)
	TotalCost float64 `json:"total_cost"`

	// TotalLatency is the sum of recorded action latencies
	TotalLatency time.Duration `json:"total_latency"`

	// Elapsed is the wall-clock duration of the whole run
	Elapsed time.Duration `json:"elapsed"`

	// History holds one entry per completed iteration
	History []HistoryEntry[A] `json:"history"`
}

// ClampScore forces a score into [0,100]. NaN coerces to 0 rather than
// propagating into threshold comparisons (which it would always fail);
// infinities clamp to the nearest bound.
func ClampScore(s float64) float64 {
	if math.IsNaN(s) {
		return 0
	}
	if s < 0 {
		return 0
	}
	if s > 100 {
		return 100
	}
	return s
}

// TotalCost sums the recorded action costs across a history slice. Entries
// without metadata contribute zero.
func TotalCost[A any](history []HistoryEntry[A]) float64 {
	var total float64
	for _, entry := range history {
		if entry.Action.Metadata != nil {
			total += entry.Action.Metadata.Cost
		}
	}
	return total
}

// TotalLatency sums the recorded action latencies across a history slice.
func TotalLatency[A any](history []HistoryEntry[A]) time.Duration {
	var total time.Duration
	for _, entry := range history {
		if entry.Action.Metadata != nil {
			total += entry.Action.Metadata.Latency
		}
	}
	return total
}
