package main

import (
	"context"
	"errors"
	"fmt"
	"log/slog"
	"os"
	"sort"
	"strings"
	"time"

	"github.com/spf13/cobra"

	goutils "github.com/jkaninda/go-utils"

	"github.com/jkaninda/eiro/internal/config"
	"github.com/jkaninda/eiro/internal/incident"
	"github.com/jkaninda/eiro/internal/pipeline"
)

// Exit codes for the handle command.
const (
	ExitSuccess    = 0
	ExitRunAborted = 1
	ExitBadInput   = 2
)

var (
	handleConfigPath  string
	handleTitle       string
	handleDescription string
	handleReporter    string
	handleSeverity    string
	handleEvaluate    bool
	handleTimeout     int
)

var handleCmd = &cobra.Command{
	Use:   "handle",
	Short: "Run one incident through the response pipeline",
	Long: `Report an incident and drive it through triage, investigation,
resolution, and communication in a single run, printing the resolution
plan and (optionally) per-stage evaluation scores.

Examples:
  eiro handle -t "Database Connection Timeout" -d "Users report intermittent timeouts" --severity high
  eiro handle -t "API errors" -d "5xx spike on checkout" --reporter ops@example.com --evaluate`,
	RunE: runHandle,
}

func init() {
	handleCmd.Flags().StringVar(&handleConfigPath, "config", config.DefaultConfigPath(), "path to config file")
	handleCmd.Flags().StringVarP(&handleTitle, "title", "t", "", "incident title (required)")
	handleCmd.Flags().StringVarP(&handleDescription, "description", "d", "", "incident description (required)")
	handleCmd.Flags().StringVar(&handleReporter, "reporter", "", "reporter identity")
	handleCmd.Flags().StringVar(&handleSeverity, "severity", "medium", "severity: low, medium, high, critical")
	handleCmd.Flags().BoolVar(&handleEvaluate, "evaluate", false, "score each stage with the LLM judge")
	handleCmd.Flags().IntVar(&handleTimeout, "timeout", 600, "overall timeout in seconds")

	_ = handleCmd.MarkFlagRequired("title")
	_ = handleCmd.MarkFlagRequired("description")
}

func runHandle(_ *cobra.Command, _ []string) error {
	logger := slog.New(slog.NewJSONHandler(os.Stderr, &slog.HandlerOptions{
		Level: slog.LevelWarn,
	}))

	cfg, err := loadConfig(goutils.Env("EIRO_CONFIG", handleConfigPath))
	if err != nil {
		return err
	}

	sc, err := initShared(cfg, logger)
	if err != nil {
		return err
	}
	defer sc.Cleanup()

	ctx, cancel := context.WithTimeout(context.Background(), time.Duration(handleTimeout)*time.Second)
	defer cancel()

	result, err := sc.Orchestrator.HandleIncident(ctx, &pipeline.Request{
		Title:       handleTitle,
		Description: handleDescription,
		Reporter:    handleReporter,
		Severity:    incidentSeverity(handleSeverity),
		Evaluate:    handleEvaluate || cfg.Pipeline.EvaluationEnabled,
	})
	if err != nil {
		var runErr *pipeline.RunError
		if errors.As(err, &runErr) {
			fmt.Fprintf(os.Stderr, "Error: run for %s aborted at %s stage (incident left in state %s): %v\n",
				runErr.IncidentID, runErr.Stage, runErr.LastState, runErr.Err)
			os.Exit(ExitRunAborted)
		}
		fmt.Fprintf(os.Stderr, "Error: %v\n", err)
		os.Exit(ExitBadInput)
	}

	printResult(result)
	return nil
}

// incidentSeverity normalizes the flag value. Unknown values pass
// through so validation reports them.
func incidentSeverity(s string) incident.Severity {
	return incident.Severity(strings.ToLower(strings.TrimSpace(s)))
}

func printResult(r *pipeline.Result) {
	fmt.Printf("Incident:    %s\n", r.IncidentID)
	fmt.Printf("Final state: %s\n", r.FinalState)
	if r.RootCause != "" {
		fmt.Printf("Root cause:  %s\n", r.RootCause)
	}
	if len(r.Degraded) > 0 {
		stages := make([]string, len(r.Degraded))
		for i, s := range r.Degraded {
			stages[i] = string(s)
		}
		fmt.Printf("Degraded:    %s\n", strings.Join(stages, ", "))
	}

	if r.Resolution != nil {
		fmt.Println("\nResolution plan:")
		for i, step := range r.Resolution.Steps {
			fmt.Printf("  %d. %s\n", i+1, step)
		}
		if len(r.Resolution.Verification) > 0 {
			fmt.Println("Verification:")
			for _, v := range r.Resolution.Verification {
				fmt.Printf("  - %s\n", v)
			}
		}
		if r.Resolution.Summary != "" {
			fmt.Printf("Summary: %s\n", r.Resolution.Summary)
		}
	}

	if len(r.Evaluation) > 0 {
		fmt.Println("\nEvaluation:")
		for _, ev := range r.Evaluation {
			fmt.Printf("  %-14s %.1f (%s)\n", ev.Stage, ev.Aggregate, ev.Recommendation)

			criteria := make([]string, 0, len(ev.Scores))
			for name := range ev.Scores {
				criteria = append(criteria, name)
			}
			sort.Strings(criteria)
			for _, name := range criteria {
				fmt.Printf("    %-14s %d/10\n", name, ev.Scores[name])
			}
		}
	}
}
