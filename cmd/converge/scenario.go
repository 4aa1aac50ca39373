package main

import (
	"fmt"
	"io"
	"os"

	"gopkg.in/yaml.v3"

	"github.com/loopwise/converge/claude"
)

// Scenario is a YAML run description: which preset to use and which
// refinement tasks to drive through the engine.
type Scenario struct {
	Preset string `yaml:"preset,omitempty"`
	Tasks  []struct {
		Name   string   `yaml:"name"`
		Prompt string   `yaml:"prompt"`
		Rubric []string `yaml:"rubric,omitempty"`
	} `yaml:"tasks"`
}

func loadScenario(r io.Reader) (*Scenario, error) {
	var s Scenario
	dec := yaml.NewDecoder(r)
	dec.KnownFields(true)
	if err := dec.Decode(&s); err != nil {
		return nil, fmt.Errorf("failed to parse scenario: %w", err)
	}
	if len(s.Tasks) == 0 {
		return nil, fmt.Errorf("scenario has no tasks")
	}
	seen := make(map[string]bool, len(s.Tasks))
	for i, task := range s.Tasks {
		if task.Name == "" {
			return nil, fmt.Errorf("task %d has no name", i)
		}
		if task.Prompt == "" {
			return nil, fmt.Errorf("task %q has no prompt", task.Name)
		}
		if seen[task.Name] {
			return nil, fmt.Errorf("duplicate task %q", task.Name)
		}
		seen[task.Name] = true
	}
	return &s, nil
}

func loadScenarioFile(path string) (*Scenario, error) {
	f, err := os.Open(path)
	if err != nil {
		return nil, fmt.Errorf("failed to open scenario: %w", err)
	}
	defer f.Close()
	return loadScenario(f)
}

func (s *Scenario) task(i int) claude.Task {
	return claude.Task{
		Prompt: s.Tasks[i].Prompt,
		Rubric: s.Tasks[i].Rubric,
	}
}
