// Command foldwarden predicts protein structures under a safety
// supervisor and turns the results into research reports.
package main

import (
	"fmt"
	"os"

	"foldwarden/internal/apperrors"
)

func main() {
	if err := rootCmd.Execute(); err != nil {
		fmt.Fprintf(os.Stderr, "Error: %v\n", err)
		os.Exit(apperrors.ExitCode(err))
	}
}
