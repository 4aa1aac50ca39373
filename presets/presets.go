// Package presets provides named, pre-validated configuration bundles for
// the converge engine, plus YAML loading of user-defined preset files. A
// preset is a convenience layer over the config options: it adds no
// semantics the options don't already have.
package presets

import (
	"fmt"
	"io"
	"os"
	"time"

	"gopkg.in/yaml.v3"

	"github.com/loopwise/converge"
)

// Duration wraps time.Duration so YAML files can spell timeouts the
// human-readable way ("90s", "2m"). Plain integers decode as nanoseconds.
type Duration time.Duration

func (d *Duration) UnmarshalYAML(value *yaml.Node) error {
	var s string
	if err := value.Decode(&s); err == nil {
		parsed, err := time.ParseDuration(s)
		if err != nil {
			return fmt.Errorf("invalid duration %q: %w", s, err)
		}
		*d = Duration(parsed)
		return nil
	}
	var n int64
	if err := value.Decode(&n); err != nil {
		return fmt.Errorf("invalid duration value: %w", err)
	}
	*d = Duration(n)
	return nil
}

func (d Duration) MarshalYAML() (any, error) {
	return time.Duration(d).String(), nil
}

// Preset is a named bundle of config values.
type Preset struct {
	Name                string   `yaml:"name"`
	Description         string   `yaml:"description,omitempty"`
	MaxIterations       int      `yaml:"max_iterations"`
	TargetScore         float64  `yaml:"target_score"`
	EarlyStopScore      float64  `yaml:"early_stop_score"`
	MinIterations       int      `yaml:"min_iterations"`
	Timeout             Duration `yaml:"timeout,omitempty"`
	AlwaysRunTransition bool     `yaml:"always_run_transition"`
	SkipMinIterations   bool     `yaml:"skip_min_iterations"`
	Verbose             bool     `yaml:"verbose"`
}

// Options expands the preset into config options.
func (p Preset) Options() []converge.Option {
	opts := []converge.Option{
		converge.WithMaxIterations(p.MaxIterations),
		converge.WithTargetScore(p.TargetScore),
		converge.WithEarlyStopScore(p.EarlyStopScore),
		converge.WithMinIterations(p.MinIterations),
		converge.WithAlwaysRunTransition(p.AlwaysRunTransition),
		converge.WithSkipMinIterations(p.SkipMinIterations),
		converge.WithVerbose(p.Verbose),
	}
	if p.Timeout > 0 {
		opts = append(opts, converge.WithTimeout(time.Duration(p.Timeout)))
	}
	return opts
}

// Validate applies the preset over the engine defaults and checks the
// config invariants, so a bad preset is caught at load rather than at run.
func (p Preset) Validate() error {
	if p.Name == "" {
		return fmt.Errorf("preset has no name")
	}
	cfg := converge.DefaultConfig()
	for _, opt := range p.Options() {
		opt(&cfg)
	}
	if err := cfg.Validate(); err != nil {
		return fmt.Errorf("preset %q: %w", p.Name, err)
	}
	return nil
}

// Builtin presets. Quick trades refinement depth for latency, Balanced
// mirrors the engine defaults, Thorough forces extra passes with a high
// target, Budget stops as soon as the target is plausible.
func Builtin() []Preset {
	return []Preset{
		{
			Name:           "quick",
			Description:    "few passes, stop at the first acceptable score",
			MaxIterations:  3,
			TargetScore:    60,
			EarlyStopScore: 90,
			MinIterations:  1,
		},
		{
			Name:           "balanced",
			Description:    "engine defaults",
			MaxIterations:  5,
			TargetScore:    70,
			EarlyStopScore: 95,
			MinIterations:  1,
		},
		{
			Name:           "thorough",
			Description:    "high bar with a refinement floor",
			MaxIterations:  10,
			TargetScore:    85,
			EarlyStopScore: 97,
			MinIterations:  3,
		},
		{
			Name:              "budget",
			Description:       "minimize passes, waive the refinement floor",
			MaxIterations:     4,
			TargetScore:       70,
			EarlyStopScore:    90,
			MinIterations:     2,
			SkipMinIterations: true,
		},
	}
}

// Get returns a builtin preset by name.
func Get(name string) (Preset, bool) {
	for _, p := range Builtin() {
		if p.Name == name {
			return p, true
		}
	}
	return Preset{}, false
}

// file is the on-disk shape of a preset bundle.
type file struct {
	Presets []Preset `yaml:"presets"`
}

// Load reads a YAML preset bundle. Every preset is validated; duplicate
// names are rejected.
func Load(r io.Reader) ([]Preset, error) {
	var f file
	dec := yaml.NewDecoder(r)
	dec.KnownFields(true)
	if err := dec.Decode(&f); err != nil {
		return nil, fmt.Errorf("failed to parse presets: %w", err)
	}
	seen := make(map[string]bool, len(f.Presets))
	for _, p := range f.Presets {
		if err := p.Validate(); err != nil {
			return nil, err
		}
		if seen[p.Name] {
			return nil, fmt.Errorf("duplicate preset %q", p.Name)
		}
		seen[p.Name] = true
	}
	return f.Presets, nil
}

// LoadFile reads a YAML preset bundle from disk.
func LoadFile(path string) ([]Preset, error) {
	f, err := os.Open(path)
	if err != nil {
		return nil, fmt.Errorf("failed to open presets file: %w", err)
	}
	defer f.Close()
	return Load(f)
}
