package claude

import (
	"encoding/json"
	"fmt"
	"regexp"
	"strings"

	"github.com/loopwise/converge"
)

// Model JSON arrives wrapped in code fences, with trailing commas, or
// buried in prose. The parser strips each in turn before giving up.
var (
	codeFenceRegex     = regexp.MustCompile("(?s)`{3}(?:json)?\\s*\\n?([\\s\\S]*?)\\n?`{3}")
	trailingCommaRegex = regexp.MustCompile(`,(\s*[}\]])`)
	objectRegex        = regexp.MustCompile(`(?s)\{[\s\S]*\}`)
)

type grade struct {
	Score          float64  `json:"score"`
	ShouldContinue bool     `json:"should_continue"`
	Feedback       string   `json:"feedback"`
	MissingInfo    []string `json:"missing_info"`
}

// parseEvaluation extracts a grade from a model response.
func parseEvaluation(text string) (converge.Evaluation, error) {
	trimmed := strings.TrimSpace(text)
	if trimmed == "" {
		return converge.Evaluation{}, fmt.Errorf("empty grading response")
	}

	candidates := []string{trimmed}
	if m := codeFenceRegex.FindStringSubmatch(trimmed); m != nil {
		candidates = append(candidates, strings.TrimSpace(m[1]))
	}
	candidates = append(candidates, trailingCommaRegex.ReplaceAllString(trimmed, "$1"))
	if m := objectRegex.FindString(trimmed); m != "" {
		candidates = append(candidates, m, trailingCommaRegex.ReplaceAllString(m, "$1"))
	}

	var lastErr error
	for _, candidate := range candidates {
		var g grade
		if err := json.Unmarshal([]byte(candidate), &g); err != nil {
			lastErr = err
			continue
		}
		return converge.Evaluation{
			Score:          converge.ClampScore(g.Score),
			ShouldContinue: g.ShouldContinue,
			Feedback:       g.Feedback,
			MissingInfo:    g.MissingInfo,
		}, nil
	}
	return converge.Evaluation{}, fmt.Errorf("no parseable JSON in grading response: %w", lastErr)
}
