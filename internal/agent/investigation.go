package agent

import (
	"context"
	"encoding/json"
	"fmt"
	"io"
	"log/slog"
	"strings"
	"time"

	"github.com/jkaninda/eiro/internal/llm"
	"github.com/jkaninda/eiro/internal/tools/diagnostics"
	"github.com/jkaninda/eiro/internal/tools/knowledge"
)

// Investigation determines the root cause using the diagnostics
// provider and the knowledge base before asking the model.
type Investigation struct {
	provider  llm.Provider
	diag      *diagnostics.Provider
	kb        *knowledge.Base
	maxTokens int
	logger    *slog.Logger
}

// NewInvestigation creates the investigation stage agent.
func NewInvestigation(provider llm.Provider, diag *diagnostics.Provider, kb *knowledge.Base, maxTokens int, logger *slog.Logger) *Investigation {
	if logger == nil {
		logger = slog.New(slog.NewTextHandler(io.Discard, nil))
	}
	return &Investigation{provider: provider, diag: diag, kb: kb, maxTokens: maxTokens, logger: logger}
}

func (a *Investigation) Stage() Stage { return StageInvestigation }

// Run gathers diagnostics and knowledge base matches, then asks the
// model for a root cause. A failed or unparseable model response
// degrades to the highest-confidence diagnostic cause.
func (a *Investigation) Run(ctx context.Context, in *Context) (*Result, error) {
	start := time.Now()
	health, err := a.diag.CheckHealth(ctx, "")
	recordTool(in.Span, "diagnostics.check_health",
		map[string]string{"component": "all"},
		fmt.Sprintf("%d components", len(health)), start, err)
	if err != nil {
		a.logger.WarnContext(ctx, "health check failed",
			slog.String("incident_id", in.IncidentID), slog.Any("error", err))
	}

	start = time.Now()
	diagnosis, err := a.diag.Diagnose(ctx, in.Description)
	recordTool(in.Span, "diagnostics.diagnose",
		map[string]string{"description": in.Description},
		diagnosisSummary(diagnosis), start, err)
	if err != nil {
		a.logger.WarnContext(ctx, "diagnose failed",
			slog.String("incident_id", in.IncidentID), slog.Any("error", err))
	}

	start = time.Now()
	articles, err := a.kb.Search(ctx, in.Description, string(in.Category))
	recordTool(in.Span, "knowledge.search",
		map[string]string{"query": in.Description, "category": string(in.Category)},
		fmt.Sprintf("%d articles", len(articles)), start, err)
	if err != nil {
		a.logger.WarnContext(ctx, "knowledge search failed",
			slog.String("incident_id", in.IncidentID), slog.Any("error", err))
	}
	if len(articles) > 2 {
		articles = articles[:2]
	}

	prompt := a.buildPrompt(in, health, diagnosis, articles)

	resp, err := a.provider.SendMessage(ctx, &llm.Request{
		SystemPrompt: investigationSystemPrompt,
		Messages:     []llm.Message{{Role: llm.RoleUser, Content: prompt}},
		MaxTokens:    a.maxTokens,
	})
	if err != nil {
		a.logger.WarnContext(ctx, "investigation model call failed, using diagnostic fallback",
			slog.String("incident_id", in.IncidentID), slog.Any("error", err))
		return &Result{
			Stage:         StageInvestigation,
			Degraded:      true,
			Investigation: fallbackInvestigation(diagnosis),
		}, nil
	}

	result := &Result{
		Stage:      StageInvestigation,
		Analysis:   resp.Content,
		TokensUsed: resp.Usage.InputTokens + resp.Usage.OutputTokens,
	}

	if inv, ok := parseInvestigation(resp.Content); ok {
		result.Investigation = inv
		a.logger.InfoContext(ctx, "investigation complete",
			slog.String("incident_id", in.IncidentID),
			slog.String("root_cause", inv.RootCause))
		return result, nil
	}

	result.Degraded = true
	result.Investigation = fallbackInvestigation(diagnosis)
	a.logger.WarnContext(ctx, "investigation output did not parse, degraded to diagnostic fallback",
		slog.String("incident_id", in.IncidentID),
		slog.String("root_cause", result.Investigation.RootCause))
	return result, nil
}

func (a *Investigation) buildPrompt(in *Context, health []diagnostics.Component, diagnosis *diagnostics.Diagnosis, articles []knowledge.Result) string {
	var b strings.Builder
	fmt.Fprintf(&b, "Incident: %s\n", in.Title)
	fmt.Fprintf(&b, "Description: %s\n", in.Description)
	fmt.Fprintf(&b, "Category: %s\n", in.Category)
	fmt.Fprintf(&b, "Priority: %s\n\n", in.Priority)

	writeSection := func(name string, v any) {
		raw, err := json.MarshalIndent(v, "", "  ")
		if err != nil || v == nil {
			fmt.Fprintf(&b, "%s: none\n\n", name)
			return
		}
		fmt.Fprintf(&b, "%s:\n%s\n\n", name, raw)
	}
	writeSection("System Health", health)
	writeSection("Diagnostic Results", diagnosis)
	if len(articles) > 0 {
		writeSection("Knowledge Base Matches", articles)
	} else {
		b.WriteString("Knowledge Base Matches: none\n")
	}
	return b.String()
}

// parseInvestigation decodes the expected JSON schema.
func parseInvestigation(text string) (*InvestigationResult, bool) {
	raw, ok := llm.ExtractJSON(text)
	if !ok {
		return nil, false
	}
	var inv InvestigationResult
	if err := json.Unmarshal(raw, &inv); err != nil {
		return nil, false
	}
	if strings.TrimSpace(inv.RootCause) == "" {
		return nil, false
	}
	return &inv, true
}

func diagnosisSummary(d *diagnostics.Diagnosis) string {
	if d == nil {
		return "no diagnosis"
	}
	return fmt.Sprintf("%d probable causes, %d suggested actions", len(d.Causes), len(d.Actions))
}

// fallbackInvestigation builds a degraded result from the diagnostic
// causes alone: the top-confidence cause becomes the root cause.
func fallbackInvestigation(diagnosis *diagnostics.Diagnosis) *InvestigationResult {
	inv := &InvestigationResult{
		RootCause: "undetermined",
		Approach:  "escalate for manual investigation",
	}
	if diagnosis == nil || len(diagnosis.Causes) == 0 {
		return inv
	}
	inv.RootCause = diagnosis.Causes[0].Description
	for _, c := range diagnosis.Causes {
		inv.Evidence = append(inv.Evidence,
			fmt.Sprintf("%s (confidence %.2f)", c.Description, c.Confidence))
	}
	if len(diagnosis.Actions) > 0 {
		inv.Approach = diagnosis.Actions[0]
	}
	return inv
}

var _ Agent = (*Investigation)(nil)
