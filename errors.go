package converge

import "fmt"

// ConfigValidationError reports a rejected configuration. Construction and
// updates validate before any phase runs; a failed update leaves the prior
// config untouched.
type ConfigValidationError struct {
	// Field names the offending option in its config-surface spelling
	// (e.g. "minIterations")
	Field string
	// Reason describes the violated invariant
	Reason string
}

func (e *ConfigValidationError) Error() string {
	return fmt.Sprintf("invalid config: %s: %s", e.Field, e.Reason)
}

// PhaseError wraps any error returned by a phase function or the custom
// ShouldTerminate check. It records which phase failed and at which
// iteration, and unwraps to the underlying cause.
type PhaseError struct {
	// Phase names the failing callback: "initialize", "act", "evaluate",
	// "transition", "finalize", "shouldTerminate" or "run" (loop-level
	// failures such as context cancellation)
	Phase string
	// Iteration is the 0-based iteration index, or -1 when the failure
	// happened before the first iteration
	Iteration int
	// Err is the original error from the callback
	Err error
}

func (e *PhaseError) Error() string {
	if e.Iteration < 0 {
		return fmt.Sprintf("%s phase failed: %v", e.Phase, e.Err)
	}
	return fmt.Sprintf("%s phase failed at iteration %d: %v", e.Phase, e.Iteration, e.Err)
}

func (e *PhaseError) Unwrap() error {
	return e.Err
}

// phaseErr normalizes a callback error into a *PhaseError, leaving errors
// that are already phase errors untouched.
func phaseErr(phase string, iteration int, err error) *PhaseError {
	if pe, ok := err.(*PhaseError); ok {
		return pe
	}
	return &PhaseError{Phase: phase, Iteration: iteration, Err: err}
}
