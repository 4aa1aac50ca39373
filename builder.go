package converge

import "context"

// Builder is a fluent convenience over New: set phases and options with
// chained calls, then Build. It adds no semantics of its own.
//
//	ctrl, err := converge.NewBuilder[string, draft, string, string]().
//	    OnInitialize(newDraft).
//	    OnAct(refineDraft).
//	    OnEvaluate(scoreDraft).
//	    OnTransition(adoptDraft).
//	    OnFinalize(finalText).
//	    Configure(converge.WithMaxIterations(8)).
//	    Build()
type Builder[I, S, A, R any] struct {
	phases Phases[I, S, A, R]
	opts   []Option
}

// NewBuilder returns an empty builder.
func NewBuilder[I, S, A, R any]() *Builder[I, S, A, R] {
	return &Builder[I, S, A, R]{}
}

// OnInitialize sets the Initialize phase.
func (b *Builder[I, S, A, R]) OnInitialize(fn func(ctx context.Context, input I) (S, error)) *Builder[I, S, A, R] {
	b.phases.Initialize = fn
	return b
}

// OnAct sets the Act phase.
func (b *Builder[I, S, A, R]) OnAct(fn func(ctx context.Context, state S, ic Context) (ActionResult[A], error)) *Builder[I, S, A, R] {
	b.phases.Act = fn
	return b
}

// OnEvaluate sets the Evaluate phase.
func (b *Builder[I, S, A, R]) OnEvaluate(fn func(ctx context.Context, state S, action ActionResult[A], ic Context) (Evaluation, error)) *Builder[I, S, A, R] {
	b.phases.Evaluate = fn
	return b
}

// OnTransition sets the Transition phase.
func (b *Builder[I, S, A, R]) OnTransition(fn func(ctx context.Context, state S, action ActionResult[A], eval Evaluation, ic Context) (S, error)) *Builder[I, S, A, R] {
	b.phases.Transition = fn
	return b
}

// OnFinalize sets the Finalize phase.
func (b *Builder[I, S, A, R]) OnFinalize(fn func(ctx context.Context, state S, history []HistoryEntry[A]) (R, error)) *Builder[I, S, A, R] {
	b.phases.Finalize = fn
	return b
}

// StopWhen sets the optional custom termination check.
func (b *Builder[I, S, A, R]) StopWhen(fn func(ctx context.Context, state S, eval Evaluation, ic Context) (bool, error)) *Builder[I, S, A, R] {
	b.phases.ShouldTerminate = fn
	return b
}

// HandleError sets the optional OnError fallback.
func (b *Builder[I, S, A, R]) HandleError(fn func(ctx context.Context, runErr error, state *S, ic Context) (R, error)) *Builder[I, S, A, R] {
	b.phases.OnError = fn
	return b
}

// Configure appends config options; later options win.
func (b *Builder[I, S, A, R]) Configure(opts ...Option) *Builder[I, S, A, R] {
	b.opts = append(b.opts, opts...)
	return b
}

// Build constructs the controller, validating phases and config.
func (b *Builder[I, S, A, R]) Build() (*Controller[I, S, A, R], error) {
	return New(b.phases, b.opts...)
}
