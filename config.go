package converge

import (
	"time"

	"golang.org/x/time/rate"
)

// Config controls loop behavior. A controller holds exactly one Config at a
// time and replaces it wholesale on update or reset; individual fields are
// never mutated in place, which keeps validation atomic.
type Config struct {
	// MaxIterations is the hard iteration ceiling. Must be > 0.
	MaxIterations int `json:"max_iterations" yaml:"max_iterations"`

	// TargetScore is the score at which the loop may converge, subject to
	// the minimum-iteration floor
	TargetScore float64 `json:"target_score" yaml:"target_score"`

	// EarlyStopScore is the safety-valve score that terminates immediately,
	// independent of the minimum-iteration floor
	EarlyStopScore float64 `json:"early_stop_score" yaml:"early_stop_score"`

	// MinIterations is the minimum number of refinement passes before a
	// target-score convergence is honored. Must be >= 1 and <= MaxIterations.
	MinIterations int `json:"min_iterations" yaml:"min_iterations"`

	// Timeout bounds the whole run. Zero means no timeout. Enforcement is
	// cooperative: the budget is polled at iteration boundaries only.
	Timeout time.Duration `json:"timeout,omitempty" yaml:"timeout,omitempty"`

	// Verbose enables per-iteration progress logging through Logger
	Verbose bool `json:"verbose" yaml:"verbose"`

	// AlwaysRunTransition disables the default rule that skips the
	// transition after the terminating (or final permitted) iteration
	AlwaysRunTransition bool `json:"always_run_transition" yaml:"always_run_transition"`

	// SkipMinIterations waives the minimum-iteration floor for target-score
	// convergence, prioritizing cost over extra refinement passes
	SkipMinIterations bool `json:"skip_min_iterations" yaml:"skip_min_iterations"`

	// Logger receives verbose progress lines and error reports. When unset,
	// a slog-backed default is used wherever a sink is required.
	Logger Logger `json:"-" yaml:"-"`

	// Limiter optionally paces iterations; when set, the controller waits on
	// it before starting each Act call. Useful to keep LLM-backed phases
	// inside a provider rate limit.
	Limiter *rate.Limiter `json:"-" yaml:"-"`
}

// DefaultConfig returns the documented default configuration.
func DefaultConfig() Config {
	return Config{
		MaxIterations:       5,
		TargetScore:         70,
		EarlyStopScore:      95,
		MinIterations:       1,
		Timeout:             0,
		Verbose:             false,
		AlwaysRunTransition: false,
		SkipMinIterations:   false,
	}
}

// Validate checks the config invariants.
func (c Config) Validate() error {
	if c.MaxIterations <= 0 {
		return &ConfigValidationError{Field: "maxIterations", Reason: "must be greater than 0"}
	}
	if c.MinIterations < 1 {
		return &ConfigValidationError{Field: "minIterations", Reason: "must be at least 1"}
	}
	if c.MinIterations > c.MaxIterations {
		return &ConfigValidationError{
			Field:  "minIterations",
			Reason: "must not exceed maxIterations",
		}
	}
	if c.Timeout < 0 {
		return &ConfigValidationError{Field: "timeout", Reason: "must not be negative"}
	}
	return nil
}

// logger returns the configured logger or the slog-backed default.
func (c Config) logger() Logger {
	if c.Logger != nil {
		return c.Logger
	}
	return NewSlogLogger(nil)
}

// Option mutates a Config during resolve, update or derive. Options are the
// partial-config surface: unset fields keep their prior values.
type Option func(*Config)

// WithMaxIterations sets the iteration ceiling.
func WithMaxIterations(n int) Option {
	return func(c *Config) { c.MaxIterations = n }
}

// WithTargetScore sets the convergence target.
func WithTargetScore(score float64) Option {
	return func(c *Config) { c.TargetScore = score }
}

// WithEarlyStopScore sets the early-stop ceiling.
func WithEarlyStopScore(score float64) Option {
	return func(c *Config) { c.EarlyStopScore = score }
}

// WithMinIterations sets the minimum-iteration floor.
func WithMinIterations(n int) Option {
	return func(c *Config) { c.MinIterations = n }
}

// WithTimeout sets the cooperative run timeout. Zero disables it.
func WithTimeout(d time.Duration) Option {
	return func(c *Config) { c.Timeout = d }
}

// WithVerbose toggles per-iteration progress logging.
func WithVerbose(v bool) Option {
	return func(c *Config) { c.Verbose = v }
}

// WithAlwaysRunTransition toggles the transition-skip exception.
func WithAlwaysRunTransition(v bool) Option {
	return func(c *Config) { c.AlwaysRunTransition = v }
}

// WithSkipMinIterations waives the minimum-iteration floor.
func WithSkipMinIterations(v bool) Option {
	return func(c *Config) { c.SkipMinIterations = v }
}

// WithLogger sets the logging sink.
func WithLogger(l Logger) Option {
	return func(c *Config) { c.Logger = l }
}

// WithLimiter sets an iteration pacer.
func WithLimiter(l *rate.Limiter) Option {
	return func(c *Config) { c.Limiter = l }
}

// resolveConfig applies options on top of base and validates the outcome.
// The base value is never modified, so callers get validate-then-swap
// atomicity for free.
func resolveConfig(base Config, opts ...Option) (Config, error) {
	cfg := base
	for _, opt := range opts {
		opt(&cfg)
	}
	if err := cfg.Validate(); err != nil {
		return Config{}, err
	}
	return cfg, nil
}
