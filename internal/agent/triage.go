package agent

import (
	"context"
	"encoding/json"
	"fmt"
	"io"
	"log/slog"
	"strings"

	"github.com/jkaninda/eiro/internal/incident"
	"github.com/jkaninda/eiro/internal/llm"
)

// Triage classifies incoming incidents: priority, category, rationale.
type Triage struct {
	provider  llm.Provider
	maxTokens int
	logger    *slog.Logger
}

// NewTriage creates the triage stage agent.
func NewTriage(provider llm.Provider, maxTokens int, logger *slog.Logger) *Triage {
	if logger == nil {
		logger = slog.New(slog.NewTextHandler(io.Discard, nil))
	}
	return &Triage{provider: provider, maxTokens: maxTokens, logger: logger}
}

func (a *Triage) Stage() Stage { return StageTriage }

// Run classifies the incident. Unparseable or failed model output
// degrades to keyword extraction over whatever text came back, and to
// priority=medium, category=other when that finds nothing.
func (a *Triage) Run(ctx context.Context, in *Context) (*Result, error) {
	prompt := a.buildPrompt(in)

	resp, err := a.provider.SendMessage(ctx, &llm.Request{
		SystemPrompt: triageSystemPrompt,
		Messages:     []llm.Message{{Role: llm.RoleUser, Content: prompt}},
		MaxTokens:    a.maxTokens,
	})
	if err != nil {
		a.logger.WarnContext(ctx, "triage model call failed, using defaults",
			slog.String("incident_id", in.IncidentID), slog.Any("error", err))
		return &Result{
			Stage:    StageTriage,
			Degraded: true,
			Triage: &TriageResult{
				Priority:  incident.PriorityMedium,
				Category:  incident.CategoryOther,
				Rationale: "classification unavailable, defaults applied",
			},
		}, nil
	}

	result := &Result{
		Stage:      StageTriage,
		Analysis:   resp.Content,
		TokensUsed: resp.Usage.InputTokens + resp.Usage.OutputTokens,
	}

	if tr, ok := parseTriage(resp.Content); ok {
		result.Triage = tr
		a.logger.InfoContext(ctx, "triage complete",
			slog.String("incident_id", in.IncidentID),
			slog.String("priority", string(tr.Priority)),
			slog.String("category", string(tr.Category)))
		return result, nil
	}

	// Schema parse failed; fall back to keyword extraction.
	result.Degraded = true
	result.Triage = &TriageResult{
		Priority:  fallbackPriority(resp.Content),
		Category:  fallbackCategory(resp.Content),
		Rationale: "classification extracted from unstructured output",
	}
	a.logger.WarnContext(ctx, "triage output did not parse, degraded to keyword extraction",
		slog.String("incident_id", in.IncidentID),
		slog.String("priority", string(result.Triage.Priority)),
		slog.String("category", string(result.Triage.Category)))
	return result, nil
}

func (a *Triage) buildPrompt(in *Context) string {
	var b strings.Builder
	b.WriteString("Incident Details:\n")
	fmt.Fprintf(&b, "Title: %s\n", in.Title)
	fmt.Fprintf(&b, "Description: %s\n", in.Description)
	fmt.Fprintf(&b, "Severity: %s\n", in.Severity)
	fmt.Fprintf(&b, "Reporter: %s\n", in.Reporter)
	return b.String()
}

// parseTriage decodes the expected JSON schema and validates the enums.
func parseTriage(text string) (*TriageResult, bool) {
	raw, ok := llm.ExtractJSON(text)
	if !ok {
		return nil, false
	}
	var tr TriageResult
	if err := json.Unmarshal(raw, &tr); err != nil {
		return nil, false
	}
	if !incident.ValidPriority(tr.Priority) || !incident.ValidCategory(tr.Category) {
		return nil, false
	}
	return &tr, true
}

var _ Agent = (*Triage)(nil)
