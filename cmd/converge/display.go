package main

import (
	"fmt"

	"github.com/fatih/color"

	"github.com/loopwise/converge"
)

// newEventPrinter returns a listener that renders engine events for the
// terminal, one line per event, prefixed with the task name.
func newEventPrinter(task string, verbose bool) converge.Listener {
	cyan := color.New(color.FgCyan).SprintFunc()
	green := color.New(color.FgGreen, color.Bold).SprintFunc()
	yellow := color.New(color.FgYellow).SprintFunc()
	red := color.New(color.FgRed).SprintFunc()
	gray := color.New(color.FgHiBlack).SprintFunc()

	return func(e converge.Event) {
		timestamp := e.Time.Format("15:04:05")
		prefix := fmt.Sprintf("%s [%s] %s", getEventEmoji(e.Type), timestamp, cyan(task))

		switch e.Type {
		case converge.EventStart:
			fmt.Printf("%s run %s started\n", prefix, gray(e.RunID))
		case converge.EventIterationStart:
			if verbose {
				fmt.Printf("%s iteration %d\n", prefix, e.Iteration+1)
			}
		case converge.EventEvaluationComplete:
			if p, ok := e.Payload.(converge.EvaluationCompletePayload); ok {
				fmt.Printf("%s iteration %d scored %s\n",
					prefix, e.Iteration+1, yellow(fmt.Sprintf("%.1f", p.Evaluation.Score)))
				if verbose && p.Evaluation.Feedback != "" {
					fmt.Printf("  %s\n", gray(p.Evaluation.Feedback))
				}
			}
		case converge.EventTransitionComplete:
			if verbose {
				fmt.Printf("%s iteration %d transitioned\n", prefix, e.Iteration+1)
			}
		case converge.EventConverged:
			if p, ok := e.Payload.(converge.ConvergedPayload); ok {
				fmt.Printf("%s %s at %.1f (%s)\n", prefix, green("converged"), p.Score, p.Reason)
			}
		case converge.EventComplete:
			fmt.Printf("%s run finished\n", prefix)
		case converge.EventError:
			if p, ok := e.Payload.(converge.ErrorPayload); ok {
				fmt.Printf("%s %s: %v\n", prefix, red("error"), p.Err)
			}
		}
	}
}

func getEventEmoji(t converge.EventType) string {
	switch t {
	case converge.EventStart:
		return "🚀"
	case converge.EventIterationStart:
		return "🔁"
	case converge.EventActionComplete:
		return "🔧"
	case converge.EventEvaluationComplete:
		return "🔍"
	case converge.EventTransitionComplete:
		return "📝"
	case converge.EventConverged:
		return "✅"
	case converge.EventComplete:
		return "🏁"
	case converge.EventError:
		return "❌"
	default:
		return "•"
	}
}
