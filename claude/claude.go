// Package claude adapts the Anthropic API to the converge engine: it
// supplies a full phase set that drafts text, grades it against a rubric,
// and revises it until the engine decides the score is good enough.
package claude

import (
	"context"
	"fmt"
	"os"
	"strings"
	"time"

	"github.com/anthropics/anthropic-sdk-go"
	"github.com/anthropics/anthropic-sdk-go/option"
	"golang.org/x/sync/semaphore"

	"github.com/loopwise/converge"
	"github.com/loopwise/converge/retry"
)

const (
	// ModelSonnet is the high-end model for drafting and revision.
	ModelSonnet = "claude-sonnet-4-5-20250929"

	// ModelHaiku is the cost-efficient model for grading.
	ModelHaiku = "claude-3-5-haiku-20241022"
)

// Task describes what to write and how to judge it.
type Task struct {
	Prompt string   `json:"prompt"`
	Rubric []string `json:"rubric"`
}

// Draft is the evolving state of a refinement run.
type Draft struct {
	Text     string `json:"text"`
	Revision int    `json:"revision"`
}

// reply is a single model response with its token usage.
type reply struct {
	text         string
	inputTokens  int64
	outputTokens int64
}

// caller is the narrow slice of the Anthropic API the refiner needs.
// Tests substitute a scripted implementation.
type caller interface {
	complete(ctx context.Context, model string, maxTokens int64, prompt string) (reply, error)
}

type anthropicCaller struct {
	client *anthropic.Client
}

func (a *anthropicCaller) complete(ctx context.Context, model string, maxTokens int64, prompt string) (reply, error) {
	resp, err := a.client.Messages.New(ctx, anthropic.MessageNewParams{
		Model:     anthropic.Model(model),
		MaxTokens: maxTokens,
		Messages: []anthropic.MessageParam{
			anthropic.NewUserMessage(anthropic.NewTextBlock(prompt)),
		},
	})
	if err != nil {
		return reply{}, err
	}
	var text strings.Builder
	for _, block := range resp.Content {
		if block.Type == "text" {
			text.WriteString(block.Text)
		}
	}
	return reply{
		text:         text.String(),
		inputTokens:  resp.Usage.InputTokens,
		outputTokens: resp.Usage.OutputTokens,
	}, nil
}

// Config holds refiner configuration.
type Config struct {
	APIKey        string       // if empty, reads ANTHROPIC_API_KEY
	Model         string       // drafting/revision model (default ModelSonnet)
	GradingModel  string       // grading model (default ModelHaiku)
	MaxTokens     int64        // per-response cap (default 4096)
	Retry         retry.Config // API retry behavior
	MaxConcurrent int          // concurrent API calls, 0 = unlimited
	Rates         Rates        // token pricing for cost metadata
	Logger        converge.Logger
}

// Refiner drives draft/grade/revise calls against the Anthropic API.
type Refiner struct {
	caller       caller
	model        string
	gradingModel string
	maxTokens    int64
	retry        retry.Config
	sem          *semaphore.Weighted
	rates        Rates
	log          converge.Logger
}

// NewRefiner creates a refiner backed by the Anthropic API.
func NewRefiner(cfg Config) (*Refiner, error) {
	apiKey := cfg.APIKey
	if apiKey == "" {
		apiKey = os.Getenv("ANTHROPIC_API_KEY")
		if apiKey == "" {
			return nil, fmt.Errorf("ANTHROPIC_API_KEY not set")
		}
	}
	client := anthropic.NewClient(option.WithAPIKey(apiKey))
	return newRefiner(&anthropicCaller{client: &client}, cfg), nil
}

func newRefiner(c caller, cfg Config) *Refiner {
	model := cfg.Model
	if model == "" {
		model = ModelSonnet
	}
	gradingModel := cfg.GradingModel
	if gradingModel == "" {
		gradingModel = ModelHaiku
	}
	maxTokens := cfg.MaxTokens
	if maxTokens == 0 {
		maxTokens = 4096
	}
	retryCfg := cfg.Retry
	if retryCfg.MaxRetries == 0 {
		retryCfg = retry.DefaultConfig()
	}
	rates := cfg.Rates
	if rates == (Rates{}) {
		rates = DefaultRates()
	}
	var sem *semaphore.Weighted
	if cfg.MaxConcurrent > 0 {
		sem = semaphore.NewWeighted(int64(cfg.MaxConcurrent))
	}
	log := cfg.Logger
	if log == nil {
		log = converge.NewSlogLogger(nil)
	}
	return &Refiner{
		caller:       c,
		model:        model,
		gradingModel: gradingModel,
		maxTokens:    maxTokens,
		retry:        retryCfg,
		sem:          sem,
		rates:        rates,
		log:          log,
	}
}

// call runs one API request under the concurrency limit and retry policy.
func (r *Refiner) call(ctx context.Context, operation, model, prompt string) (reply, time.Duration, error) {
	if r.sem != nil {
		if err := r.sem.Acquire(ctx, 1); err != nil {
			return reply{}, 0, fmt.Errorf("failed to acquire concurrency slot for %s: %w", operation, err)
		}
		defer r.sem.Release(1)
	}
	start := time.Now()
	resp, err := retry.Do(ctx, r.retry, operation, func(attemptCtx context.Context) (reply, error) {
		return r.caller.complete(attemptCtx, model, r.maxTokens, prompt)
	})
	return resp, time.Since(start), err
}

// Phases returns a full phase set for the converge engine. The action data
// is the revised draft text; the draft state advances only when the engine
// runs the transition.
func (r *Refiner) Phases() converge.Phases[Task, *Draft, string, *Draft] {
	return converge.Phases[Task, *Draft, string, *Draft]{
		Initialize: r.initialize,
		Act:        r.act,
		Evaluate:   r.evaluate,
		Transition: r.transition,
		Finalize:   r.finalize,
	}
}

func (r *Refiner) initialize(ctx context.Context, task Task) (*Draft, error) {
	resp, _, err := r.call(ctx, "draft", r.model, draftPrompt(task))
	if err != nil {
		return nil, fmt.Errorf("initial draft failed: %w", err)
	}
	return &Draft{Text: resp.text}, nil
}

func (r *Refiner) act(ctx context.Context, draft *Draft, ic converge.Context) (converge.ActionResult[string], error) {
	prompt := revisePrompt(draft, ic.Previous)
	resp, latency, err := r.call(ctx, "revise", r.model, prompt)
	if err != nil {
		return converge.ActionResult[string]{}, fmt.Errorf("revision failed: %w", err)
	}
	return converge.ActionResult[string]{
		Data: resp.text,
		Metadata: &converge.ActionMetadata{
			Cost:    r.rates.Cost(resp.inputTokens, resp.outputTokens),
			Latency: latency,
		},
	}, nil
}

func (r *Refiner) evaluate(ctx context.Context, draft *Draft, action converge.ActionResult[string], ic converge.Context) (converge.Evaluation, error) {
	prompt := gradePrompt(action.Data)
	resp, _, err := r.call(ctx, "grade", r.gradingModel, prompt)
	if err != nil {
		return converge.Evaluation{}, fmt.Errorf("grading failed: %w", err)
	}
	eval, err := parseEvaluation(resp.text)
	if err != nil {
		return converge.Evaluation{}, fmt.Errorf("grading response unusable: %w", err)
	}
	r.log.Logf("graded revision %d: score=%.1f continue=%v", ic.Iteration+1, eval.Score, eval.ShouldContinue)
	return eval, nil
}

func (r *Refiner) transition(ctx context.Context, draft *Draft, action converge.ActionResult[string], eval converge.Evaluation, ic converge.Context) (*Draft, error) {
	return &Draft{Text: action.Data, Revision: draft.Revision + 1}, nil
}

func (r *Refiner) finalize(ctx context.Context, draft *Draft, history []converge.HistoryEntry[string]) (*Draft, error) {
	return draft, nil
}

func draftPrompt(task Task) string {
	var b strings.Builder
	b.WriteString("Write a first draft for the following request.\n\nRequest:\n")
	b.WriteString(task.Prompt)
	b.WriteString("\n\nIt will be judged against this rubric:\n")
	for _, item := range task.Rubric {
		fmt.Fprintf(&b, "- %s\n", item)
	}
	b.WriteString("\nReturn only the draft text, no commentary.")
	return b.String()
}

func revisePrompt(draft *Draft, prev *converge.Evaluation) string {
	var b strings.Builder
	b.WriteString("Revise the draft below.\n\nDraft:\n")
	b.WriteString(draft.Text)
	if prev != nil {
		fmt.Fprintf(&b, "\n\nPrevious score: %.0f/100\nFeedback:\n%s\n", prev.Score, prev.Feedback)
		for _, missing := range prev.MissingInfo {
			fmt.Fprintf(&b, "Missing: %s\n", missing)
		}
	}
	b.WriteString("\nReturn only the revised draft, no commentary.")
	return b.String()
}

func gradePrompt(text string) string {
	return fmt.Sprintf(`You are grading a draft. Score it from 0 to 100 and decide whether
another revision pass would meaningfully improve it.

Draft:
%s

Respond with JSON only:
{"score": <0-100>, "should_continue": <bool>, "feedback": "<what to improve>", "missing_info": ["<gaps>"]}`, text)
}
