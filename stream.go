package converge

import (
	"context"
	"iter"
	"time"
)

// Snapshot is one intermediate view of a streaming run: the state after the
// iteration's transition (when it ran), the iteration's action and
// evaluation, and the convergence/timeout flags.
type Snapshot[S, A any] struct {
	// Iteration is the 1-based iteration counter
	Iteration int `json:"iteration"`

	// State is the loop state after this iteration
	State S `json:"state"`

	// Action is the iteration's action result (zero-valued on a timeout
	// snapshot)
	Action ActionResult[A] `json:"action"`

	// Evaluation is the iteration's evaluation (zero-valued on a timeout
	// snapshot)
	Evaluation Evaluation `json:"evaluation"`

	// Converged reports whether this iteration satisfied the streaming
	// convergence rule
	Converged bool `json:"converged"`

	// TimedOut marks the final snapshot of a run whose elapsed budget was
	// exceeded before this iteration could start
	TimedOut bool `json:"timed_out"`

	// Context is the iteration context the phases saw
	Context Context `json:"context"`
}

// Stream runs the streaming variant of the loop, yielding a Snapshot
// immediately after each iteration completes. The returned sequence is
// finite and restartable: ranging over it again re-runs the phases from
// Initialize.
//
// The streaming policy differs from Run on purpose and the two are separate
// contracts: iteration counters are 1-based, convergence follows the simpler
// streamConverged rule, and the transition always runs unless the iteration
// converged — there is no AlwaysRunTransition-style exception and no
// last-iteration skip. When the timeout budget is exceeded before an
// iteration starts, one final snapshot with TimedOut=true is yielded for the
// aborted slot.
//
// A phase failure yields a zero snapshot together with the normalized
// *PhaseError and ends the sequence; Stream has no OnError fallback.
func (c *Controller[I, S, A, R]) Stream(ctx context.Context, input I) iter.Seq2[Snapshot[S, A], error] {
	return func(yield func(Snapshot[S, A], error) bool) {
		cfg := c.Config()
		start := time.Now()

		state, err := c.phases.Initialize(ctx, input)
		if err != nil {
			yield(Snapshot[S, A]{}, phaseErr("initialize", -1, err))
			return
		}

		var prevEval *Evaluation
		for i := 1; i <= cfg.MaxIterations; i++ {
			ic := Context{
				Iteration:     i,
				MaxIterations: cfg.MaxIterations,
				Elapsed:       time.Since(start),
				Previous:      prevEval,
			}

			if cfg.Timeout > 0 && time.Since(start) >= cfg.Timeout {
				yield(Snapshot[S, A]{Iteration: i, State: state, TimedOut: true, Context: ic}, nil)
				return
			}
			if err := ctx.Err(); err != nil {
				yield(Snapshot[S, A]{}, phaseErr("stream", i, err))
				return
			}
			if cfg.Limiter != nil {
				if err := cfg.Limiter.Wait(ctx); err != nil {
					yield(Snapshot[S, A]{}, phaseErr("stream", i, err))
					return
				}
			}

			action, err := c.phases.Act(ctx, state, ic)
			if err != nil {
				yield(Snapshot[S, A]{}, phaseErr("act", i, err))
				return
			}

			eval, err := c.phases.Evaluate(ctx, state, action, ic)
			if err != nil {
				yield(Snapshot[S, A]{}, phaseErr("evaluate", i, err))
				return
			}
			eval.Score = ClampScore(eval.Score)

			converged := streamConverged(eval, i, cfg)
			if !converged {
				next, err := c.phases.Transition(ctx, state, action, eval, ic)
				if err != nil {
					yield(Snapshot[S, A]{}, phaseErr("transition", i, err))
					return
				}
				state = next
			}

			snap := Snapshot[S, A]{
				Iteration:  i,
				State:      state,
				Action:     action,
				Evaluation: eval,
				Converged:  converged,
				Context:    ic,
			}
			if !yield(snap, nil) {
				return
			}

			ev := eval
			prevEval = &ev
			if converged {
				return
			}
		}
	}
}

// CollectStream drains a streaming run into a slice, stopping at the first
// error. It restores the eager-materialization shape for callers that want
// the whole sequence at once.
func CollectStream[S, A any](seq iter.Seq2[Snapshot[S, A], error]) ([]Snapshot[S, A], error) {
	var out []Snapshot[S, A]
	for snap, err := range seq {
		if err != nil {
			return out, err
		}
		out = append(out, snap)
	}
	return out, nil
}
