// Command converge runs refinement scenarios against the convergence
// engine and inspects recorded runs.
package main

import (
	"fmt"
	"os"

	"github.com/spf13/cobra"
)

var rootCmd = &cobra.Command{
	Use:   "converge",
	Short: "Iterative refinement engine",
	Long: `converge drives act/evaluate/transition loops until a quality score
crosses its target. Scenarios are YAML files describing refinement tasks;
runs can be streamed, recorded to SQLite, and replayed.`,
}

func main() {
	if err := rootCmd.Execute(); err != nil {
		fmt.Fprintf(os.Stderr, "Error: %v\n", err)
		os.Exit(1)
	}
}
