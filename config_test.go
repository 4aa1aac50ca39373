package converge

import (
	"context"
	"errors"
	"testing"
	"time"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
)

func newTestController(t *testing.T, opts ...Option) *Controller[string, []int, string, finalReport] {
	t.Helper()
	s := &script{evals: []Evaluation{{Score: 50, ShouldContinue: true}}}
	ctrl, err := New(s.phases(), opts...)
	require.NoError(t, err)
	return ctrl
}

func TestDefaultConfig(t *testing.T) {
	cfg := DefaultConfig()
	assert.Equal(t, 5, cfg.MaxIterations)
	assert.Equal(t, 70.0, cfg.TargetScore)
	assert.Equal(t, 95.0, cfg.EarlyStopScore)
	assert.Equal(t, 1, cfg.MinIterations)
	assert.Equal(t, time.Duration(0), cfg.Timeout)
	assert.False(t, cfg.Verbose)
	assert.False(t, cfg.AlwaysRunTransition)
	assert.False(t, cfg.SkipMinIterations)
	assert.Nil(t, cfg.Logger)
	assert.Nil(t, cfg.Limiter)
}

func TestConfigValidation(t *testing.T) {
	tests := []struct {
		name  string
		opts  []Option
		field string
	}{
		{"zero max iterations", []Option{WithMaxIterations(0)}, "maxIterations"},
		{"negative max iterations", []Option{WithMaxIterations(-3)}, "maxIterations"},
		{"zero min iterations", []Option{WithMinIterations(0)}, "minIterations"},
		{"min above max", []Option{WithMaxIterations(3), WithMinIterations(4)}, "minIterations"},
		{"negative timeout", []Option{WithTimeout(-time.Second)}, "timeout"},
	}
	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			_, err := New((&script{}).phases(), tt.opts...)
			var verr *ConfigValidationError
			require.ErrorAs(t, err, &verr)
			assert.Equal(t, tt.field, verr.Field)
		})
	}
}

func TestNew_MissingPhase(t *testing.T) {
	phases := (&script{}).phases()
	phases.Evaluate = nil
	_, err := New(phases)
	require.Error(t, err)
	assert.Contains(t, err.Error(), "Evaluate")
}

func TestUpdateConfig_Atomic(t *testing.T) {
	ctrl := newTestController(t, WithMaxIterations(8), WithTargetScore(60))
	before := ctrl.Config()

	err := ctrl.UpdateConfig(WithMinIterations(20))
	var verr *ConfigValidationError
	require.ErrorAs(t, err, &verr)

	// The failed update must leave the live config untouched.
	assert.Equal(t, before, ctrl.Config())

	require.NoError(t, ctrl.UpdateConfig(WithMinIterations(4)))
	assert.Equal(t, 4, ctrl.Config().MinIterations)
	assert.Equal(t, 8, ctrl.Config().MaxIterations)
}

func TestConfig_DefensiveCopy(t *testing.T) {
	ctrl := newTestController(t)
	cfg := ctrl.Config()
	cfg.MaxIterations = 999
	assert.Equal(t, 5, ctrl.Config().MaxIterations)
}

func TestResetConfig_RestoresDocumentedDefaults(t *testing.T) {
	ctrl := newTestController(t,
		WithMaxIterations(42),
		WithTargetScore(10),
		WithEarlyStopScore(11),
		WithMinIterations(2),
		WithTimeout(time.Minute),
		WithVerbose(true),
		WithAlwaysRunTransition(true),
		WithSkipMinIterations(true),
	)
	ctrl.ResetConfig()
	assert.Equal(t, DefaultConfig(), ctrl.Config())
}

func TestWithConfig_DerivesSibling(t *testing.T) {
	ctrl := newTestController(t, WithMaxIterations(7))

	sibling, err := ctrl.WithConfig(WithTargetScore(90))
	require.NoError(t, err)

	// Overrides apply to the sibling only; the original is unchanged.
	assert.Equal(t, 7, sibling.Config().MaxIterations)
	assert.Equal(t, 90.0, sibling.Config().TargetScore)
	assert.Equal(t, 70.0, ctrl.Config().TargetScore)

	// The sibling shares phase callbacks and actually runs.
	res, err := sibling.Run(context.Background(), "input")
	require.NoError(t, err)
	assert.Equal(t, ReasonMaxIterations, res.Reason)

	_, err = ctrl.WithConfig(WithMinIterations(100))
	var verr *ConfigValidationError
	require.ErrorAs(t, err, &verr)
}

func TestWithConfig_SubscribersNotShared(t *testing.T) {
	ctrl := newTestController(t)
	fired := false
	ctrl.Subscribe(func(Event) { fired = true })

	sibling, err := ctrl.WithConfig()
	require.NoError(t, err)
	_, err = sibling.Run(context.Background(), "input")
	require.NoError(t, err)
	assert.False(t, fired, "sibling runs must not notify the parent's subscribers")
}

func TestConfigValidationError_Message(t *testing.T) {
	err := &ConfigValidationError{Field: "minIterations", Reason: "must not exceed maxIterations"}
	assert.Equal(t, "invalid config: minIterations: must not exceed maxIterations", err.Error())
	assert.False(t, errors.As(err, new(*PhaseError)))
}
