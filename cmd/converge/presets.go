package main

import (
	"fmt"
	"time"

	"github.com/fatih/color"
	"github.com/spf13/cobra"

	"github.com/loopwise/converge/presets"
)

var presetsFile string

var presetsCmd = &cobra.Command{
	Use:   "presets",
	Short: "List available presets",
	RunE: func(cmd *cobra.Command, args []string) error {
		list := presets.Builtin()
		if presetsFile != "" {
			loaded, err := presets.LoadFile(presetsFile)
			if err != nil {
				return err
			}
			list = append(list, loaded...)
		}

		cyan := color.New(color.FgCyan, color.Bold).SprintFunc()
		gray := color.New(color.FgHiBlack).SprintFunc()

		for _, p := range list {
			fmt.Printf("%s", cyan(p.Name))
			if p.Description != "" {
				fmt.Printf("  %s", gray(p.Description))
			}
			fmt.Println()
			fmt.Printf("  iterations: %d-%d  target: %.0f  early stop: %.0f",
				p.MinIterations, p.MaxIterations, p.TargetScore, p.EarlyStopScore)
			if p.Timeout > 0 {
				fmt.Printf("  timeout: %v", time.Duration(p.Timeout))
			}
			if p.SkipMinIterations {
				fmt.Printf("  (floor waived)")
			}
			fmt.Println()
		}
		return nil
	},
}

func init() {
	presetsCmd.Flags().StringVar(&presetsFile, "file", "", "YAML file with additional presets")
	rootCmd.AddCommand(presetsCmd)
}
