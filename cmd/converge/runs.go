package main

import (
	"fmt"
	"time"

	"github.com/fatih/color"
	"github.com/spf13/cobra"

	"github.com/loopwise/converge/runlog"
)

var runsEventsID string

var runsCmd = &cobra.Command{
	Use:   "runs <db>",
	Short: "Inspect recorded runs",
	Long:  `List run summaries from a run log database, or replay one run's event stream.`,
	Args:  cobra.ExactArgs(1),
	RunE: func(cmd *cobra.Command, args []string) error {
		rec, err := runlog.Open(args[0], nil)
		if err != nil {
			return err
		}
		defer rec.Close()

		if runsEventsID != "" {
			return showEvents(cmd, rec)
		}
		return showRuns(cmd, rec)
	},
}

func showRuns(cmd *cobra.Command, rec *runlog.Recorder) error {
	runs, err := rec.Runs(cmd.Context())
	if err != nil {
		return err
	}
	if len(runs) == 0 {
		fmt.Println(color.New(color.FgHiBlack).Sprint("No recorded runs"))
		return nil
	}

	green := color.New(color.FgGreen).SprintFunc()
	yellow := color.New(color.FgYellow).SprintFunc()
	gray := color.New(color.FgHiBlack).SprintFunc()

	for _, r := range runs {
		status := yellow(string(r.Reason))
		if r.Converged {
			status = green(string(r.Reason))
		}
		fmt.Printf("%s  %s\n", r.RunID, status)
		fmt.Printf("  %s\n", gray(fmt.Sprintf("score=%.1f iterations=%d cost=$%.4f elapsed=%v recorded=%s",
			r.FinalScore, r.Iterations, r.TotalCost, r.Elapsed.Round(time.Millisecond),
			r.RecordedAt.Local().Format("2006-01-02 15:04:05"))))
	}
	return nil
}

func showEvents(cmd *cobra.Command, rec *runlog.Recorder) error {
	events, err := rec.Events(cmd.Context(), runsEventsID)
	if err != nil {
		return err
	}
	if len(events) == 0 {
		return fmt.Errorf("no events for run %s", runsEventsID)
	}

	magenta := color.New(color.FgMagenta).SprintFunc()
	gray := color.New(color.FgHiBlack).SprintFunc()
	for _, e := range events {
		fmt.Printf("%s [%s] %s iteration=%d\n",
			getEventEmoji(e.Type),
			e.EmittedAt.Local().Format("15:04:05"),
			magenta(string(e.Type)), e.Iteration)
		if len(e.Payload) > 0 && string(e.Payload) != "{}" && string(e.Payload) != "null" {
			fmt.Printf("  %s\n", gray(string(e.Payload)))
		}
	}
	return nil
}

func init() {
	runsCmd.Flags().StringVar(&runsEventsID, "events", "", "Show the event stream for this run ID")
	rootCmd.AddCommand(runsCmd)
}
