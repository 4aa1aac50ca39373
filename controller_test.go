package converge

import (
	"context"
	"errors"
	"fmt"
	"testing"
	"time"
)

// finalReport is what the scripted Finalize produces: the transitions the
// state accumulated plus the history length, so tests can check the
// transition-skip rule against the recorded iterations.
type finalReport struct {
	transitions []int
	entries     int
}

// script drives deterministic phases: one Evaluation (and optional cost) per
// iteration, with the last entry repeating if the loop runs longer.
type script struct {
	evals []Evaluation
	costs []float64

	initErr       error
	actErr        error
	actErrAt      int
	evalErr       error
	evalErrAt     int
	finalizeErr   error
	initDelay     time.Duration
	actDelay      time.Duration
	actCalls      int
	initCalls     int
	evaluateCalls int
}

func (s *script) eval(i int) Evaluation {
	if len(s.evals) == 0 {
		return Evaluation{Score: 0, ShouldContinue: true}
	}
	if i >= len(s.evals) {
		return s.evals[len(s.evals)-1]
	}
	return s.evals[i]
}

func (s *script) phases() Phases[string, []int, string, finalReport] {
	return Phases[string, []int, string, finalReport]{
		Initialize: func(ctx context.Context, input string) ([]int, error) {
			s.initCalls++
			if s.initDelay > 0 {
				time.Sleep(s.initDelay)
			}
			if s.initErr != nil {
				return nil, s.initErr
			}
			return []int{}, nil
		},
		Act: func(ctx context.Context, state []int, ic Context) (ActionResult[string], error) {
			s.actCalls++
			if s.actDelay > 0 {
				time.Sleep(s.actDelay)
			}
			if s.actErr != nil && ic.Iteration == s.actErrAt {
				return ActionResult[string]{}, s.actErr
			}
			res := ActionResult[string]{Data: fmt.Sprintf("act-%d", ic.Iteration)}
			if ic.Iteration < len(s.costs) {
				res.Metadata = &ActionMetadata{Cost: s.costs[ic.Iteration], Latency: time.Millisecond}
			}
			return res, nil
		},
		Evaluate: func(ctx context.Context, state []int, action ActionResult[string], ic Context) (Evaluation, error) {
			s.evaluateCalls++
			if s.evalErr != nil && ic.Iteration == s.evalErrAt {
				return Evaluation{}, s.evalErr
			}
			return s.eval(ic.Iteration), nil
		},
		Transition: func(ctx context.Context, state []int, action ActionResult[string], eval Evaluation, ic Context) ([]int, error) {
			next := make([]int, len(state), len(state)+1)
			copy(next, state)
			return append(next, ic.Iteration), nil
		},
		Finalize: func(ctx context.Context, state []int, history []HistoryEntry[string]) (finalReport, error) {
			if s.finalizeErr != nil {
				return finalReport{}, s.finalizeErr
			}
			return finalReport{transitions: state, entries: len(history)}, nil
		},
	}
}

func mustController(t *testing.T, s *script, opts ...Option) *Controller[string, []int, string, finalReport] {
	t.Helper()
	ctrl, err := New(s.phases(), opts...)
	if err != nil {
		t.Fatalf("New failed: %v", err)
	}
	return ctrl
}

func TestRun_ConvergesAtTarget(t *testing.T) {
	s := &script{evals: []Evaluation{
		{Score: 50, ShouldContinue: true},
		{Score: 80, ShouldContinue: true},
	}}
	ctrl := mustController(t, s, WithMaxIterations(10), WithTargetScore(70))

	res, err := ctrl.Run(context.Background(), "input")
	if err != nil {
		t.Fatalf("Run failed: %v", err)
	}
	if res.Reason != ReasonConverged {
		t.Errorf("expected reason converged, got %s", res.Reason)
	}
	if res.Iterations != 2 {
		t.Errorf("expected 2 iterations, got %d", res.Iterations)
	}
	if res.FinalScore != 80 {
		t.Errorf("expected final score 80, got %v", res.FinalScore)
	}
	if !res.Converged {
		t.Error("expected converged=true")
	}
	if len(res.History) != 2 {
		t.Errorf("expected 2 history entries, got %d", len(res.History))
	}
}

func TestRun_EarlyStopBeatsTarget(t *testing.T) {
	s := &script{evals: []Evaluation{{Score: 100, ShouldContinue: true}}}
	ctrl := mustController(t, s,
		WithMaxIterations(10),
		WithTargetScore(70),
		WithEarlyStopScore(95),
		WithMinIterations(5),
	)

	res, err := ctrl.Run(context.Background(), "input")
	if err != nil {
		t.Fatalf("Run failed: %v", err)
	}
	// Early stop ignores the minimum-iteration floor entirely.
	if res.Reason != ReasonEarlyStop {
		t.Errorf("expected reason early_stop, got %s", res.Reason)
	}
	if res.Iterations != 1 {
		t.Errorf("expected 1 iteration, got %d", res.Iterations)
	}
}

func TestRun_MinIterationsFloor(t *testing.T) {
	s := &script{evals: []Evaluation{{Score: 90, ShouldContinue: true}}}
	ctrl := mustController(t, s,
		WithMaxIterations(10),
		WithTargetScore(70),
		WithEarlyStopScore(101),
		WithMinIterations(3),
	)

	res, err := ctrl.Run(context.Background(), "input")
	if err != nil {
		t.Fatalf("Run failed: %v", err)
	}
	if res.Iterations != 3 {
		t.Errorf("expected floor to force 3 iterations, got %d", res.Iterations)
	}
	if res.Reason != ReasonConverged {
		t.Errorf("expected reason converged, got %s", res.Reason)
	}
}

func TestRun_SkipMinIterationsWaivesFloor(t *testing.T) {
	s := &script{evals: []Evaluation{{Score: 90, ShouldContinue: true}}}
	ctrl := mustController(t, s,
		WithMaxIterations(10),
		WithTargetScore(70),
		WithEarlyStopScore(101),
		WithMinIterations(3),
		WithSkipMinIterations(true),
	)

	res, err := ctrl.Run(context.Background(), "input")
	if err != nil {
		t.Fatalf("Run failed: %v", err)
	}
	if res.Iterations != 1 {
		t.Errorf("expected floor waived after 1 iteration, got %d", res.Iterations)
	}
}

func TestRun_ShouldContinueFalseConverges(t *testing.T) {
	s := &script{evals: []Evaluation{{Score: 10, ShouldContinue: false}}}
	ctrl := mustController(t, s, WithMaxIterations(10), WithMinIterations(5))

	res, err := ctrl.Run(context.Background(), "input")
	if err != nil {
		t.Fatalf("Run failed: %v", err)
	}
	// The evaluator's stop vote is not gated by the minimum-iteration floor.
	if res.Reason != ReasonConverged {
		t.Errorf("expected reason converged, got %s", res.Reason)
	}
	if res.Iterations != 1 {
		t.Errorf("expected 1 iteration, got %d", res.Iterations)
	}
	if res.Converged {
		t.Error("expected converged=false (score 10 below target)")
	}
}

func TestRun_ManualStopWinsOverEverything(t *testing.T) {
	s := &script{evals: []Evaluation{{Score: 100, ShouldContinue: false}}}
	phases := s.phases()
	phases.ShouldTerminate = func(ctx context.Context, state []int, eval Evaluation, ic Context) (bool, error) {
		return true, nil
	}
	ctrl, err := New(phases, WithMaxIterations(10))
	if err != nil {
		t.Fatalf("New failed: %v", err)
	}

	res, err := ctrl.Run(context.Background(), "input")
	if err != nil {
		t.Fatalf("Run failed: %v", err)
	}
	if res.Reason != ReasonManualStop {
		t.Errorf("expected reason manual_stop, got %s", res.Reason)
	}
}

func TestRun_MaxIterationsExhausted(t *testing.T) {
	s := &script{evals: []Evaluation{{Score: 10, ShouldContinue: true}}}
	ctrl := mustController(t, s, WithMaxIterations(4))

	res, err := ctrl.Run(context.Background(), "input")
	if err != nil {
		t.Fatalf("Run failed: %v", err)
	}
	if res.Reason != ReasonMaxIterations {
		t.Errorf("expected reason max_iterations, got %s", res.Reason)
	}
	if res.Iterations != 4 {
		t.Errorf("expected 4 iterations, got %d", res.Iterations)
	}
	if res.Converged {
		t.Error("expected converged=false")
	}
}

func TestRun_TransitionSkippedOnTermination(t *testing.T) {
	s := &script{evals: []Evaluation{
		{Score: 50, ShouldContinue: true},
		{Score: 50, ShouldContinue: true},
		{Score: 80, ShouldContinue: true},
	}}
	ctrl := mustController(t, s, WithMaxIterations(10), WithTargetScore(70))

	res, err := ctrl.Run(context.Background(), "input")
	if err != nil {
		t.Fatalf("Run failed: %v", err)
	}
	// Converged at index 2: the state reflects transitions 0 and 1 only,
	// while iteration 2's action/evaluation still landed in history.
	if res.Iterations != 3 {
		t.Fatalf("expected 3 iterations, got %d", res.Iterations)
	}
	want := []int{0, 1}
	if len(res.Value.transitions) != len(want) {
		t.Fatalf("expected transitions %v, got %v", want, res.Value.transitions)
	}
	for i, v := range want {
		if res.Value.transitions[i] != v {
			t.Fatalf("expected transitions %v, got %v", want, res.Value.transitions)
		}
	}
	if res.Value.entries != 3 {
		t.Errorf("expected finalize to see 3 history entries, got %d", res.Value.entries)
	}
}

func TestRun_AlwaysRunTransition(t *testing.T) {
	s := &script{evals: []Evaluation{
		{Score: 50, ShouldContinue: true},
		{Score: 80, ShouldContinue: true},
	}}
	ctrl := mustController(t, s,
		WithMaxIterations(10),
		WithTargetScore(70),
		WithAlwaysRunTransition(true),
	)

	res, err := ctrl.Run(context.Background(), "input")
	if err != nil {
		t.Fatalf("Run failed: %v", err)
	}
	if len(res.Value.transitions) != 2 {
		t.Errorf("expected transition to run on terminating iteration, got %v", res.Value.transitions)
	}
}

func TestRun_TransitionSkippedOnLastPermittedIteration(t *testing.T) {
	s := &script{evals: []Evaluation{{Score: 10, ShouldContinue: true}}}
	ctrl := mustController(t, s, WithMaxIterations(3))

	res, err := ctrl.Run(context.Background(), "input")
	if err != nil {
		t.Fatalf("Run failed: %v", err)
	}
	// Exhaustion: transitions ran after iterations 0 and 1 but not 2.
	if len(res.Value.transitions) != 2 {
		t.Errorf("expected 2 transitions, got %v", res.Value.transitions)
	}
}

func TestRun_TotalCostSumsHistory(t *testing.T) {
	s := &script{
		evals: []Evaluation{{Score: 10, ShouldContinue: true}},
		costs: []float64{0.25, 0.5}, // third iteration has no metadata
	}
	ctrl := mustController(t, s, WithMaxIterations(3))

	res, err := ctrl.Run(context.Background(), "input")
	if err != nil {
		t.Fatalf("Run failed: %v", err)
	}
	if res.TotalCost != 0.75 {
		t.Errorf("expected total cost 0.75, got %v", res.TotalCost)
	}
	if res.TotalLatency != 2*time.Millisecond {
		t.Errorf("expected total latency 2ms, got %v", res.TotalLatency)
	}
}

func TestRun_TimeoutBeforeFirstIteration(t *testing.T) {
	s := &script{
		evals:     []Evaluation{{Score: 10, ShouldContinue: true}},
		initDelay: 50 * time.Millisecond,
	}
	ctrl := mustController(t, s, WithMaxIterations(5), WithTimeout(10*time.Millisecond))

	res, err := ctrl.Run(context.Background(), "input")
	if err != nil {
		t.Fatalf("Run failed: %v", err)
	}
	if res.Reason != ReasonTimeout {
		t.Errorf("expected reason timeout, got %s", res.Reason)
	}
	if res.Iterations != 0 {
		t.Errorf("expected 0 iterations, got %d", res.Iterations)
	}
	if res.FinalScore != 0 {
		t.Errorf("expected final score 0, got %v", res.FinalScore)
	}
}

func TestRun_TimeoutAfterCompletedIteration(t *testing.T) {
	s := &script{
		evals:    []Evaluation{{Score: 10, ShouldContinue: true}},
		actDelay: 50 * time.Millisecond,
	}
	ctrl := mustController(t, s, WithMaxIterations(5), WithTimeout(20*time.Millisecond))

	res, err := ctrl.Run(context.Background(), "input")
	if err != nil {
		t.Fatalf("Run failed: %v", err)
	}
	if res.Reason != ReasonTimeout {
		t.Errorf("expected reason timeout, got %s", res.Reason)
	}
	// The in-flight iteration is never preempted; it completes and is
	// recorded before the next boundary check fires.
	if res.Iterations != 1 {
		t.Errorf("expected 1 iteration, got %d", res.Iterations)
	}
}

func TestRun_PhaseErrorRethrownWithoutOnError(t *testing.T) {
	cause := errors.New("act exploded")
	s := &script{
		evals:    []Evaluation{{Score: 10, ShouldContinue: true}},
		actErr:   cause,
		actErrAt: 1,
	}
	ctrl := mustController(t, s, WithMaxIterations(5))

	res, err := ctrl.Run(context.Background(), "input")
	if res != nil {
		t.Fatal("expected no result on rethrow")
	}
	var perr *PhaseError
	if !errors.As(err, &perr) {
		t.Fatalf("expected *PhaseError, got %T: %v", err, err)
	}
	if perr.Phase != "act" || perr.Iteration != 1 {
		t.Errorf("expected act failure at iteration 1, got %s at %d", perr.Phase, perr.Iteration)
	}
	if !errors.Is(err, cause) {
		t.Error("expected error chain to reach the original cause")
	}
}

func TestRun_OnErrorFallbackProducesResult(t *testing.T) {
	cause := errors.New("evaluate exploded")
	s := &script{
		evals:     []Evaluation{{Score: 40, ShouldContinue: true}},
		costs:     []float64{1.0},
		evalErr:   cause,
		evalErrAt: 1,
	}
	phases := s.phases()
	var seenState *[]int
	phases.OnError = func(ctx context.Context, runErr error, state *[]int, ic Context) (finalReport, error) {
		seenState = state
		if !errors.Is(runErr, cause) {
			t.Errorf("fallback did not receive original cause: %v", runErr)
		}
		if ic.Iteration != 1 {
			t.Errorf("expected fallback context iteration 1, got %d", ic.Iteration)
		}
		return finalReport{transitions: []int{-1}}, nil
	}
	ctrl, err := New(phases, WithMaxIterations(5), WithTargetScore(70))
	if err != nil {
		t.Fatalf("New failed: %v", err)
	}

	res, err := ctrl.Run(context.Background(), "input")
	if err != nil {
		t.Fatalf("expected fallback to absorb the failure, got %v", err)
	}
	if res.Reason != ReasonManualStop {
		t.Errorf("expected reason manual_stop, got %s", res.Reason)
	}
	if res.Converged {
		t.Error("expected converged=false")
	}
	if res.Iterations != 1 {
		t.Errorf("expected 1 completed iteration before failure, got %d", res.Iterations)
	}
	if res.TotalCost != 1.0 {
		t.Errorf("expected cost from partial history, got %v", res.TotalCost)
	}
	if seenState == nil {
		t.Error("expected fallback to receive the last known state")
	}
}

func TestRun_OnErrorReceivesNilStateFromInitialize(t *testing.T) {
	s := &script{initErr: errors.New("bad input")}
	phases := s.phases()
	var gotNil bool
	phases.OnError = func(ctx context.Context, runErr error, state *[]int, ic Context) (finalReport, error) {
		gotNil = state == nil
		return finalReport{}, nil
	}
	ctrl, err := New(phases)
	if err != nil {
		t.Fatalf("New failed: %v", err)
	}

	res, err := ctrl.Run(context.Background(), "input")
	if err != nil {
		t.Fatalf("Run failed: %v", err)
	}
	if !gotNil {
		t.Error("expected nil state when initialize fails")
	}
	if res.Iterations != 0 {
		t.Errorf("expected 0 iterations, got %d", res.Iterations)
	}
}

func TestRun_PanickingListenerDoesNotAbort(t *testing.T) {
	s := &script{evals: []Evaluation{{Score: 90, ShouldContinue: true}}}
	ctrl := mustController(t, s, WithLogger(discardLogger{}))

	ctrl.Subscribe(func(ev Event) {
		panic("listener bug")
	})
	var sawComplete bool
	ctrl.Subscribe(func(ev Event) {
		if ev.Type == EventComplete {
			sawComplete = true
		}
	})

	res, err := ctrl.Run(context.Background(), "input")
	if err != nil {
		t.Fatalf("Run failed despite listener panic: %v", err)
	}
	if !sawComplete {
		t.Error("expected later listener to still receive complete")
	}
	if res == nil {
		t.Fatal("expected a result")
	}
}

func TestRun_EventOrdering(t *testing.T) {
	s := &script{evals: []Evaluation{
		{Score: 50, ShouldContinue: true},
		{Score: 80, ShouldContinue: true},
	}}
	ctrl := mustController(t, s, WithMaxIterations(10), WithTargetScore(70))

	var got []EventType
	var runID string
	ctrl.Subscribe(func(ev Event) {
		got = append(got, ev.Type)
		if runID == "" {
			runID = ev.RunID
		} else if ev.RunID != runID {
			t.Errorf("run ID changed mid-run: %s vs %s", runID, ev.RunID)
		}
	})

	if _, err := ctrl.Run(context.Background(), "input"); err != nil {
		t.Fatalf("Run failed: %v", err)
	}

	want := []EventType{
		EventStart,
		EventIterationStart, EventActionComplete, EventEvaluationComplete, EventIterationComplete, EventTransitionComplete,
		EventIterationStart, EventActionComplete, EventEvaluationComplete, EventIterationComplete,
		EventConverged,
		EventComplete,
	}
	if len(got) != len(want) {
		t.Fatalf("expected %d events, got %d: %v", len(want), len(got), got)
	}
	for i := range want {
		if got[i] != want[i] {
			t.Fatalf("event %d: expected %s, got %s (full: %v)", i, want[i], got[i], got)
		}
	}
	if runID == "" {
		t.Error("expected a run ID on events")
	}
}

func TestRun_ContextPreviousEvaluation(t *testing.T) {
	s := &script{evals: []Evaluation{
		{Score: 30, ShouldContinue: true},
		{Score: 60, ShouldContinue: true},
	}}
	phases := s.phases()
	var previous []*Evaluation
	base := phases.Act
	phases.Act = func(ctx context.Context, state []int, ic Context) (ActionResult[string], error) {
		previous = append(previous, ic.Previous)
		return base(ctx, state, ic)
	}
	ctrl, err := New(phases, WithMaxIterations(2))
	if err != nil {
		t.Fatalf("New failed: %v", err)
	}

	if _, err := ctrl.Run(context.Background(), "input"); err != nil {
		t.Fatalf("Run failed: %v", err)
	}
	if len(previous) != 2 {
		t.Fatalf("expected 2 act calls, got %d", len(previous))
	}
	if previous[0] != nil {
		t.Error("first iteration should see no previous evaluation")
	}
	if previous[1] == nil || previous[1].Score != 30 {
		t.Errorf("second iteration should see the first evaluation, got %+v", previous[1])
	}
}

// discardLogger silences expected error output in tests.
type discardLogger struct{}

func (discardLogger) Logf(string, ...any)   {}
func (discardLogger) Errorf(string, ...any) {}
