package converge

// decideTermination applies the five stopping criteria in strict precedence
// order and returns whether the loop should stop after this iteration, and
// why. iteration is 0-based. manualStop is the result of the caller's
// ShouldTerminate check, which always wins: the caller knows best.
//
// Precedence:
//  1. manual stop (custom check fired)
//  2. early stop (score crossed the safety-valve ceiling; ignores the
//     minimum-iteration floor)
//  3. evaluator voted to stop (shouldContinue=false)
//  4. target score reached, once past the minimum-iteration floor (or when
//     the floor is waived via skipMinIterations)
//
// Exhaustion of MaxIterations is not decided here; the controller records
// ReasonMaxIterations when the loop runs out without a stop decision.
func decideTermination(eval Evaluation, iteration int, cfg Config, manualStop bool) (bool, TerminationReason) {
	if manualStop {
		return true, ReasonManualStop
	}
	if eval.Score >= cfg.EarlyStopScore {
		return true, ReasonEarlyStop
	}
	if !eval.ShouldContinue {
		return true, ReasonConverged
	}
	if eval.Score >= cfg.TargetScore && (iteration >= cfg.MinIterations-1 || cfg.SkipMinIterations) {
		return true, ReasonConverged
	}
	return false, ""
}

// runTransition is the transition gate: by default the transition following
// the terminating iteration, or the final permitted iteration, is skipped —
// the state handed to Finalize then reflects every transition except the
// very last one, while the last action and evaluation still appear in
// history. alwaysRun removes that exception uniformly.
func runTransition(terminating, lastIteration, alwaysRun bool) bool {
	return !((terminating || lastIteration) && !alwaysRun)
}

// streamConverged is the streaming controller's convergence rule. It is
// intentionally simpler than decideTermination and uses 1-based iteration
// counters: converge when the target score is reached past the floor (or
// with the floor waived), or when the evaluator votes to stop past the
// floor. The two policies are distinct contracts; do not fold one into the
// other.
func streamConverged(eval Evaluation, iteration int, cfg Config) bool {
	if cfg.SkipMinIterations && eval.Score >= cfg.TargetScore {
		return true
	}
	if eval.Score >= cfg.TargetScore && iteration >= cfg.MinIterations {
		return true
	}
	if !eval.ShouldContinue && iteration >= cfg.MinIterations {
		return true
	}
	return false
}
