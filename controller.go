package converge

import (
	"context"
	"fmt"
	"sync"
	"time"

	"github.com/google/uuid"
)

// Phases bundles the five user-supplied phase functions plus the two
// optional hooks. All five core phases are required; the engine treats their
// internals as opaque and only enforces the call contract.
//
// Every phase receives the caller's context.Context and may fail; a returned
// error stops the run through the error-recovery path. Phases are awaited
// strictly in sequence — no two phases ever run concurrently within one run.
type Phases[I, S, A, R any] struct {
	// Initialize produces the initial state from the run input.
	Initialize func(ctx context.Context, input I) (S, error)

	// Act performs one unit of work against the current state.
	Act func(ctx context.Context, state S, ic Context) (ActionResult[A], error)

	// Evaluate scores the action's outcome.
	Evaluate func(ctx context.Context, state S, action ActionResult[A], ic Context) (Evaluation, error)

	// Transition folds the action and evaluation into a replacement state.
	// The returned value replaces the old state outright; the engine never
	// mutates state in place.
	Transition func(ctx context.Context, state S, action ActionResult[A], eval Evaluation, ic Context) (S, error)

	// Finalize produces the run's result value from the final state and the
	// accumulated history.
	Finalize func(ctx context.Context, state S, history []HistoryEntry[A]) (R, error)

	// ShouldTerminate is an optional custom stop check consulted before any
	// built-in criterion. Returning true stops the run with ReasonManualStop.
	ShouldTerminate func(ctx context.Context, state S, eval Evaluation, ic Context) (bool, error)

	// OnError is an optional fallback invoked when any phase fails. It
	// receives the normalized error, the last known state (nil if Initialize
	// failed) and a context reflecting the iterations completed so far. Its
	// return value becomes the Result's Value with ReasonManualStop. When
	// unset, the run rethrows the error to the caller.
	OnError func(ctx context.Context, runErr error, state *S, ic Context) (R, error)
}

func (p Phases[I, S, A, R]) validate() error {
	missing := ""
	switch {
	case p.Initialize == nil:
		missing = "Initialize"
	case p.Act == nil:
		missing = "Act"
	case p.Evaluate == nil:
		missing = "Evaluate"
	case p.Transition == nil:
		missing = "Transition"
	case p.Finalize == nil:
		missing = "Finalize"
	}
	if missing != "" {
		return fmt.Errorf("phase %s is required", missing)
	}
	return nil
}

// Controller drives the convergent-iteration loop over caller-supplied
// phases. The type parameters are the run input (I), the loop state (S), the
// action data (A) and the final result value (R).
//
// A controller is safe for concurrent configuration access, but a single Run
// is strictly sequential; run the same controller from multiple goroutines
// only if the phase functions themselves tolerate it.
type Controller[I, S, A, R any] struct {
	mu     sync.Mutex
	cfg    Config
	phases Phases[I, S, A, R]
	bus    *bus
}

// New builds a controller from phases and options applied over the
// documented defaults. It fails with a ConfigValidationError when the
// resolved config violates an invariant, or a plain error when a required
// phase is missing.
func New[I, S, A, R any](phases Phases[I, S, A, R], opts ...Option) (*Controller[I, S, A, R], error) {
	if err := phases.validate(); err != nil {
		return nil, err
	}
	cfg, err := resolveConfig(DefaultConfig(), opts...)
	if err != nil {
		return nil, err
	}
	return &Controller[I, S, A, R]{cfg: cfg, phases: phases, bus: &bus{}}, nil
}

// Config returns a snapshot of the current configuration. Mutating the
// returned value has no effect on the controller.
func (c *Controller[I, S, A, R]) Config() Config {
	c.mu.Lock()
	defer c.mu.Unlock()
	return c.cfg
}

// UpdateConfig applies options to the current configuration atomically: on
// validation failure the live config is unchanged.
func (c *Controller[I, S, A, R]) UpdateConfig(opts ...Option) error {
	c.mu.Lock()
	defer c.mu.Unlock()
	cfg, err := resolveConfig(c.cfg, opts...)
	if err != nil {
		return err
	}
	c.cfg = cfg
	return nil
}

// ResetConfig restores the documented defaults.
func (c *Controller[I, S, A, R]) ResetConfig() {
	c.mu.Lock()
	defer c.mu.Unlock()
	c.cfg = DefaultConfig()
}

// WithConfig derives a sibling controller sharing this controller's phase
// callbacks, with opts applied over the current configuration. The sibling
// starts with an empty subscriber list; the receiver is not modified.
func (c *Controller[I, S, A, R]) WithConfig(opts ...Option) (*Controller[I, S, A, R], error) {
	cfg, err := resolveConfig(c.Config(), opts...)
	if err != nil {
		return nil, err
	}
	return &Controller[I, S, A, R]{cfg: cfg, phases: c.phases, bus: &bus{}}, nil
}

// Subscribe registers a lifecycle listener and returns its unsubscribe
// function. Unsubscribing twice is a no-op.
func (c *Controller[I, S, A, R]) Subscribe(fn Listener) func() {
	return c.bus.subscribe(fn)
}

// emitter binds the run identity to the bus so the loop body can emit
// one-liners.
type emitter struct {
	bus   *bus
	runID string
	log   Logger
}

func (e emitter) emit(typ EventType, iteration int, payload any) {
	e.bus.emit(Event{
		Type:      typ,
		RunID:     e.runID,
		Time:      time.Now(),
		Iteration: iteration,
		Payload:   payload,
	}, e.log)
}

// Run executes one full loop: initialize → (act → evaluate → record →
// [transition]) × N → finalize. The configuration is snapshotted at entry
// and immutable for the duration of the run.
//
// On a phase failure the error event is emitted and, if OnError is
// configured, its return value becomes the Result with ReasonManualStop;
// otherwise the normalized *PhaseError is returned and no Result is
// produced.
func (c *Controller[I, S, A, R]) Run(ctx context.Context, input I) (*Result[R, A], error) {
	cfg := c.Config()
	log := cfg.logger()
	em := emitter{bus: c.bus, runID: uuid.NewString(), log: log}
	start := time.Now()

	var history []HistoryEntry[A]
	var prevEval *Evaluation

	state, err := c.phases.Initialize(ctx, input)
	if err != nil {
		return c.failRun(ctx, cfg, em, start, phaseErr("initialize", -1, err), nil, history, nil)
	}
	em.emit(EventStart, 0, StartPayload{Input: input})
	if cfg.Verbose {
		log.Logf("converge: run %s started (max=%d target=%.1f)", em.runID, cfg.MaxIterations, cfg.TargetScore)
	}

	var reason TerminationReason
	for i := 0; i < cfg.MaxIterations; i++ {
		// Timeout is polled before starting the iteration's action; an
		// aborted slot emits no iteration_start.
		if cfg.Timeout > 0 && time.Since(start) >= cfg.Timeout {
			reason = ReasonTimeout
			break
		}
		if err := ctx.Err(); err != nil {
			return c.failRun(ctx, cfg, em, start, phaseErr("run", i, err), &state, history, prevEval)
		}
		if cfg.Limiter != nil {
			if err := cfg.Limiter.Wait(ctx); err != nil {
				return c.failRun(ctx, cfg, em, start, phaseErr("run", i, err), &state, history, prevEval)
			}
		}

		em.emit(EventIterationStart, i, nil)
		ic := Context{
			Iteration:     i,
			MaxIterations: cfg.MaxIterations,
			Elapsed:       time.Since(start),
			Previous:      prevEval,
		}
		iterStart := time.Now()

		action, err := c.phases.Act(ctx, state, ic)
		if err != nil {
			return c.failRun(ctx, cfg, em, start, phaseErr("act", i, err), &state, history, prevEval)
		}
		em.emit(EventActionComplete, i, ActionCompletePayload{Result: action})

		eval, err := c.phases.Evaluate(ctx, state, action, ic)
		if err != nil {
			return c.failRun(ctx, cfg, em, start, phaseErr("evaluate", i, err), &state, history, prevEval)
		}
		eval.Score = ClampScore(eval.Score)
		em.emit(EventEvaluationComplete, i, EvaluationCompletePayload{Evaluation: eval})

		entry := HistoryEntry[A]{
			Iteration:  i,
			Action:     action,
			Evaluation: eval,
			Timestamp:  time.Now(),
			Duration:   time.Since(iterStart),
		}
		history = append(history, entry)
		em.emit(EventIterationComplete, i, IterationCompletePayload{Entry: entry})
		if cfg.Verbose {
			log.Logf("converge: run %s iteration %d/%d score=%.1f continue=%t",
				em.runID, i+1, cfg.MaxIterations, eval.Score, eval.ShouldContinue)
		}

		manualStop := false
		if c.phases.ShouldTerminate != nil {
			manualStop, err = c.phases.ShouldTerminate(ctx, state, eval, ic)
			if err != nil {
				return c.failRun(ctx, cfg, em, start, phaseErr("shouldTerminate", i, err), &state, history, prevEval)
			}
		}
		terminating, stopReason := decideTermination(eval, i, cfg, manualStop)

		if runTransition(terminating, i == cfg.MaxIterations-1, cfg.AlwaysRunTransition) {
			next, err := c.phases.Transition(ctx, state, action, eval, ic)
			if err != nil {
				return c.failRun(ctx, cfg, em, start, phaseErr("transition", i, err), &state, history, prevEval)
			}
			state = next
			em.emit(EventTransitionComplete, i, TransitionCompletePayload{State: state})
		}

		ev := eval
		prevEval = &ev

		if terminating {
			reason = stopReason
			em.emit(EventConverged, i, ConvergedPayload{Score: eval.Score, Reason: stopReason})
			break
		}
	}
	if reason == "" {
		reason = ReasonMaxIterations
	}

	value, err := c.phases.Finalize(ctx, state, history)
	if err != nil {
		return c.failRun(ctx, cfg, em, start, phaseErr("finalize", len(history)-1, err), &state, history, prevEval)
	}

	res := newResult[R, A](em.runID, value, history, reason, cfg, time.Since(start))
	em.emit(EventComplete, res.Iterations, CompletePayload{Result: res})
	if cfg.Verbose {
		log.Logf("converge: run %s finished reason=%s iterations=%d score=%.1f cost=%.4f",
			em.runID, res.Reason, res.Iterations, res.FinalScore, res.TotalCost)
	}
	return res, nil
}

// failRun is the single recovery point for phase failures: it emits the
// error event, logs, and either delegates to OnError or rethrows.
func (c *Controller[I, S, A, R]) failRun(
	ctx context.Context,
	cfg Config,
	em emitter,
	start time.Time,
	perr *PhaseError,
	state *S,
	history []HistoryEntry[A],
	prevEval *Evaluation,
) (*Result[R, A], error) {
	em.log.Errorf("converge: run %s failed: %v", em.runID, perr)

	var stateBox any
	if state != nil {
		stateBox = *state
	}
	em.emit(EventError, max(perr.Iteration, 0), ErrorPayload{Err: perr, State: stateBox})

	if c.phases.OnError == nil {
		return nil, perr
	}

	ic := Context{
		Iteration:     len(history),
		MaxIterations: cfg.MaxIterations,
		Elapsed:       time.Since(start),
		Previous:      prevEval,
	}
	value, err := c.phases.OnError(ctx, perr, state, ic)
	if err != nil {
		return nil, fmt.Errorf("onError fallback failed: %w (original: %w)", err, perr)
	}

	res := newResult[R, A](em.runID, value, history, ReasonManualStop, cfg, time.Since(start))
	res.Converged = false
	return res, nil
}

// newResult assembles a Result from the collected history.
func newResult[R, A any](
	runID string,
	value R,
	history []HistoryEntry[A],
	reason TerminationReason,
	cfg Config,
	elapsed time.Duration,
) *Result[R, A] {
	finalScore := 0.0
	if n := len(history); n > 0 {
		finalScore = history[n-1].Evaluation.Score
	}
	return &Result[R, A]{
		RunID:        runID,
		Value:        value,
		Iterations:   len(history),
		FinalScore:   finalScore,
		Converged:    finalScore >= cfg.TargetScore,
		Reason:       reason,
		TotalCost:    TotalCost(history),
		TotalLatency: TotalLatency(history),
		Elapsed:      elapsed,
		History:      history,
	}
}
