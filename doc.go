// Package converge provides a control engine for convergent iteration: it
// drives a user-defined act → evaluate → transition cycle until a quality
// score crosses a configured threshold, a safety limit is hit, or a custom
// check stops the run.
//
// The engine is built for multi-step, imprecise operations (agentic LLM
// calls, generated-artifact refinement) whose quality is only knowable after
// execution and that should be retried and refined automatically rather than
// by the caller. The controller owns iteration mechanics (sequencing,
// termination precedence, history, cost accounting, timeout polling) while
// delegating all domain judgment to five caller-supplied phase functions.
//
// Example usage:
//
//	ctrl, err := converge.New(converge.Phases[string, draft, string, string]{
//	    Initialize: newDraft,
//	    Act:        refineDraft,
//	    Evaluate:   scoreDraft,
//	    Transition: adoptDraft,
//	    Finalize:   finalText,
//	}, converge.WithMaxIterations(8), converge.WithTargetScore(85))
//	if err != nil {
//	    return err
//	}
//	result, err := ctrl.Run(ctx, "summarize the incident report")
//
// Termination is decided by five competing criteria with strict precedence:
// a custom ShouldTerminate check, the early-stop score, the evaluator's
// should-continue verdict, the target score (gated by the minimum-iteration
// floor), and finally exhaustion of MaxIterations. A cooperative timeout is
// polled at iteration boundaries only; a long-running phase is never
// preempted mid-flight.
//
// Controller.Stream is the streaming variant: it yields a Snapshot after
// every iteration through an iter.Seq2 instead of producing a single Result.
// It intentionally carries its own, slightly simpler convergence policy (see
// the Stream documentation); the two policies are independent contracts.
package converge
