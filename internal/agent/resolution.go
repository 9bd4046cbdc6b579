package agent

import (
	"context"
	"encoding/json"
	"fmt"
	"io"
	"log/slog"
	"strings"
	"time"

	"github.com/jkaninda/eiro/internal/incident"
	"github.com/jkaninda/eiro/internal/llm"
	"github.com/jkaninda/eiro/internal/tools/knowledge"
)

// Resolution turns a root cause into a remediation plan, consulting
// the knowledge base for matching runbook articles first.
type Resolution struct {
	provider  llm.Provider
	kb        *knowledge.Base
	maxTokens int
	logger    *slog.Logger
}

// NewResolution creates the resolution stage agent.
func NewResolution(provider llm.Provider, kb *knowledge.Base, maxTokens int, logger *slog.Logger) *Resolution {
	if logger == nil {
		logger = slog.New(slog.NewTextHandler(io.Discard, nil))
	}
	return &Resolution{provider: provider, kb: kb, maxTokens: maxTokens, logger: logger}
}

func (a *Resolution) Stage() Stage { return StageResolution }

// Run produces the remediation plan. A failed or unparseable model
// response degrades to a minimal default plan built around the root
// cause, so the incident can still be resolved and closed.
func (a *Resolution) Run(ctx context.Context, in *Context) (*Result, error) {
	start := time.Now()
	articles, err := a.kb.Search(ctx, in.RootCause, string(in.Category))
	recordTool(in.Span, "knowledge.search",
		map[string]string{"query": in.RootCause, "category": string(in.Category)},
		fmt.Sprintf("%d articles", len(articles)), start, err)
	if err != nil {
		a.logger.WarnContext(ctx, "knowledge search failed",
			slog.String("incident_id", in.IncidentID), slog.Any("error", err))
	}
	if len(articles) > 2 {
		articles = articles[:2]
	}

	prompt := a.buildPrompt(in, articles)

	resp, err := a.provider.SendMessage(ctx, &llm.Request{
		SystemPrompt: resolutionSystemPrompt,
		Messages:     []llm.Message{{Role: llm.RoleUser, Content: prompt}},
		MaxTokens:    a.maxTokens,
	})
	if err != nil {
		a.logger.WarnContext(ctx, "resolution model call failed, using default plan",
			slog.String("incident_id", in.IncidentID), slog.Any("error", err))
		return &Result{
			Stage:      StageResolution,
			Degraded:   true,
			Resolution: &ResolutionResult{Plan: defaultPlan(in.RootCause)},
		}, nil
	}

	result := &Result{
		Stage:      StageResolution,
		Analysis:   resp.Content,
		TokensUsed: resp.Usage.InputTokens + resp.Usage.OutputTokens,
	}

	if plan, ok := parsePlan(resp.Content); ok {
		result.Resolution = &ResolutionResult{Plan: plan}
		a.logger.InfoContext(ctx, "resolution complete",
			slog.String("incident_id", in.IncidentID),
			slog.Int("steps", len(plan.Steps)))
		return result, nil
	}

	result.Degraded = true
	result.Resolution = &ResolutionResult{Plan: defaultPlan(in.RootCause)}
	a.logger.WarnContext(ctx, "resolution output did not parse, degraded to default plan",
		slog.String("incident_id", in.IncidentID))
	return result, nil
}

func (a *Resolution) buildPrompt(in *Context, articles []knowledge.Result) string {
	var b strings.Builder
	fmt.Fprintf(&b, "Incident: %s\n", in.Title)
	fmt.Fprintf(&b, "Category: %s\n", in.Category)
	fmt.Fprintf(&b, "Root Cause: %s\n\n", in.RootCause)
	if len(articles) > 0 {
		raw, err := json.MarshalIndent(articles, "", "  ")
		if err == nil {
			fmt.Fprintf(&b, "Relevant Knowledge Base Articles:\n%s\n", raw)
		}
	}
	return b.String()
}

// parsePlan decodes the plan schema; a plan with no steps is not a plan.
func parsePlan(text string) (*incident.Plan, bool) {
	raw, ok := llm.ExtractJSON(text)
	if !ok {
		return nil, false
	}
	var p incident.Plan
	if err := json.Unmarshal(raw, &p); err != nil {
		return nil, false
	}
	if len(p.Steps) == 0 {
		return nil, false
	}
	return &p, true
}

// defaultPlan is the documented degraded output for this stage.
func defaultPlan(rootCause string) *incident.Plan {
	if strings.TrimSpace(rootCause) == "" {
		rootCause = "the reported symptoms"
	}
	return &incident.Plan{
		Steps: []string{
			"Review diagnostic findings for " + rootCause,
			"Apply the standard remediation runbook for the affected component",
			"Escalate to the on-call engineer if symptoms persist",
		},
		Verification: []string{"Confirm error rates and response times return to baseline"},
		Prevention:   []string{"Add or tune monitoring alerts for early detection of a recurrence"},
		Summary:      "Default remediation plan applied for: " + rootCause,
	}
}

var _ Agent = (*Resolution)(nil)
