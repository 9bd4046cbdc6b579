// Eiro — autonomous incident response orchestration for IT operations teams.
package main

import (
	"fmt"
	"os"

	"github.com/joho/godotenv"

	"github.com/spf13/cobra"
)

var rootCmd = &cobra.Command{
	Use:   "eiro",
	Short: "Eiro — autonomous incident response orchestration.",
	Long: `Eiro runs reported IT incidents through a staged response pipeline:
triage, investigation, resolution, and communication, each handled by a
specialized LLM agent with access to diagnostics, a knowledge base, and
a notification service. Completed runs can be scored by an LLM judge.`,
	RunE:          runServe, // Default to server mode.
	SilenceUsage:  true,
	SilenceErrors: true,
}

func init() {
	rootCmd.AddCommand(serveCmd, handleCmd, versionCmd)
	_ = godotenv.Load()
}

func main() {
	if err := rootCmd.Execute(); err != nil {
		fmt.Fprintf(os.Stderr, "fatal: %v\n", err)
		os.Exit(1)
	}
}
