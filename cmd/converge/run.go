package main

import (
	"context"
	"fmt"
	"os"
	"time"

	"github.com/fatih/color"
	"github.com/spf13/cobra"
	"golang.org/x/sync/errgroup"

	"github.com/loopwise/converge"
	"github.com/loopwise/converge/claude"
	"github.com/loopwise/converge/presets"
	"github.com/loopwise/converge/runlog"
)

var (
	runPresetName  string
	runPresetsFile string
	runStream      bool
	runRecordPath  string
	runVerbose     bool
	runParallel    int
)

var runCmd = &cobra.Command{
	Use:   "run <scenario.yaml>",
	Short: "Run a refinement scenario",
	Long: `Run every task in a scenario file through the convergence engine,
refining drafts against their rubrics until the quality target is met.`,
	Args: cobra.ExactArgs(1),
	RunE: func(cmd *cobra.Command, args []string) error {
		ctx := cmd.Context()

		scenario, err := loadScenarioFile(args[0])
		if err != nil {
			return err
		}

		opts, err := resolveOptions(scenario)
		if err != nil {
			return err
		}
		if runVerbose {
			opts = append(opts, converge.WithVerbose(true))
		}

		refiner, err := claude.NewRefiner(claude.Config{})
		if err != nil {
			return err
		}

		var recorder *runlog.Recorder
		if runRecordPath != "" {
			recorder, err = runlog.Open(runRecordPath, nil)
			if err != nil {
				return err
			}
			defer recorder.Close()
		}

		g, gctx := errgroup.WithContext(ctx)
		if runParallel > 0 {
			g.SetLimit(runParallel)
		}
		for i := range scenario.Tasks {
			g.Go(func() error {
				return runTask(gctx, scenario, i, refiner, opts, recorder)
			})
		}
		return g.Wait()
	},
}

// resolveOptions turns the scenario's preset (flag takes precedence) into
// engine options.
func resolveOptions(scenario *Scenario) ([]converge.Option, error) {
	name := scenario.Preset
	if runPresetName != "" {
		name = runPresetName
	}
	if name == "" {
		return nil, nil
	}

	if runPresetsFile != "" {
		loaded, err := presets.LoadFile(runPresetsFile)
		if err != nil {
			return nil, err
		}
		for _, p := range loaded {
			if p.Name == name {
				return p.Options(), nil
			}
		}
	}
	if p, ok := presets.Get(name); ok {
		return p.Options(), nil
	}
	return nil, fmt.Errorf("unknown preset %q", name)
}

func runTask(ctx context.Context, scenario *Scenario, i int, refiner *claude.Refiner, opts []converge.Option, recorder *runlog.Recorder) error {
	name := scenario.Tasks[i].Name

	ctrl, err := converge.New(refiner.Phases(), opts...)
	if err != nil {
		return err
	}

	if runStream {
		return streamTask(ctx, ctrl, scenario.task(i), name)
	}

	ctrl.Subscribe(newEventPrinter(name, runVerbose))
	if recorder != nil {
		ctrl.Subscribe(recorder.Listener())
	}

	res, err := ctrl.Run(ctx, scenario.task(i))
	if err != nil {
		return fmt.Errorf("task %q failed: %w", name, err)
	}
	if recorder != nil {
		if err := runlog.Record(ctx, recorder, res); err != nil {
			fmt.Fprintf(os.Stderr, "warning: %v\n", err)
		}
	}
	printSummary(name, res)
	return nil
}

func streamTask(ctx context.Context, ctrl *converge.Controller[claude.Task, *claude.Draft, string, *claude.Draft], task claude.Task, name string) error {
	cyan := color.New(color.FgCyan).SprintFunc()
	green := color.New(color.FgGreen, color.Bold).SprintFunc()

	for snap, err := range ctrl.Stream(ctx, task) {
		if err != nil {
			return fmt.Errorf("task %q failed: %w", name, err)
		}
		if snap.TimedOut {
			fmt.Printf("⏱  %s timed out at iteration %d\n", cyan(name), snap.Iteration)
			return nil
		}
		fmt.Printf("🔁 %s iteration %d scored %.1f\n", cyan(name), snap.Iteration, snap.Evaluation.Score)
		if snap.Converged {
			fmt.Printf("✅ %s %s at %.1f\n", cyan(name), green("converged"), snap.Evaluation.Score)
		}
	}
	return nil
}

func printSummary(name string, res *converge.Result[*claude.Draft, string]) {
	bold := color.New(color.Bold).SprintFunc()
	status := color.New(color.FgYellow).Sprint("exhausted")
	if res.Converged {
		status = color.New(color.FgGreen).Sprint("converged")
	}
	fmt.Printf("\n%s %s: score=%.1f iterations=%d cost=$%.4f elapsed=%v\n",
		bold(name), status, res.FinalScore, res.Iterations, res.TotalCost, res.Elapsed.Round(10*time.Millisecond))
}

func init() {
	runCmd.Flags().StringVar(&runPresetName, "preset", "", "Preset name (overrides the scenario's preset)")
	runCmd.Flags().StringVar(&runPresetsFile, "presets-file", "", "YAML file with additional presets")
	runCmd.Flags().BoolVar(&runStream, "stream", false, "Stream per-iteration snapshots instead of events")
	runCmd.Flags().StringVar(&runRecordPath, "record", "", "Record runs to a SQLite database at this path")
	runCmd.Flags().BoolVarP(&runVerbose, "verbose", "v", false, "Verbose output")
	runCmd.Flags().IntVar(&runParallel, "parallel", 0, "Max concurrent tasks (0 = unlimited)")
	rootCmd.AddCommand(runCmd)
}
