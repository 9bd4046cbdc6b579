package agent

import (
	"context"
	"fmt"
	"io"
	"log/slog"
	"strings"
	"time"

	"github.com/jkaninda/eiro/internal/llm"
	"github.com/jkaninda/eiro/internal/tools/notify"
)

// Communication writes and sends a stakeholder update for each state
// the incident enters. Delivery is best effort: a failed send is
// logged and reported in the result, never escalated.
type Communication struct {
	provider  llm.Provider
	notifier  *notify.Service
	maxTokens int
	logger    *slog.Logger
}

// NewCommunication creates the communication stage agent.
func NewCommunication(provider llm.Provider, notifier *notify.Service, maxTokens int, logger *slog.Logger) *Communication {
	if logger == nil {
		logger = slog.New(slog.NewTextHandler(io.Discard, nil))
	}
	return &Communication{provider: provider, notifier: notifier, maxTokens: maxTokens, logger: logger}
}

func (a *Communication) Stage() Stage { return StageCommunication }

// Run generates the update text and sends it to the reporter. A failed
// model call degrades to a templated message built from the change
// summary; the notification still goes out.
func (a *Communication) Run(ctx context.Context, in *Context) (*Result, error) {
	fallbackSubject := fmt.Sprintf("Incident Update - %s", strings.ToUpper(string(in.State)))

	result := &Result{Stage: StageCommunication}
	var subject, body string

	resp, err := a.provider.SendMessage(ctx, &llm.Request{
		SystemPrompt: communicationSystemPrompt,
		Messages:     []llm.Message{{Role: llm.RoleUser, Content: a.buildPrompt(in)}},
		MaxTokens:    a.maxTokens,
	})
	if err != nil {
		a.logger.WarnContext(ctx, "communication model call failed, using templated update",
			slog.String("incident_id", in.IncidentID), slog.Any("error", err))
		result.Degraded = true
		subject = fallbackSubject
		body = a.templatedBody(in)
	} else {
		result.Analysis = resp.Content
		result.TokensUsed = resp.Usage.InputTokens + resp.Usage.OutputTokens
		subject = extractSubject(resp.Content, fallbackSubject)
		body = strings.TrimSpace(resp.Content)
		if body == "" {
			result.Degraded = true
			subject = fallbackSubject
			body = a.templatedBody(in)
		}
	}

	comm := &CommunicationResult{
		Recipient: in.Reporter,
		Subject:   subject,
		Body:      body,
	}
	result.Communication = comm

	start := time.Now()
	receipt, err := a.notifier.Send(ctx, &notify.Message{
		Recipient:      in.Reporter,
		Subject:        subject,
		Body:           body,
		Priority:       notify.FromIncidentPriority(in.Priority),
		IdempotencyKey: fmt.Sprintf("%s/%s/1", in.IncidentID, in.State),
	})
	var receiptID string
	if receipt != nil {
		receiptID = receipt.ID
	}
	recordTool(in.Span, "notify.send",
		map[string]string{"recipient": in.Reporter, "subject": subject},
		receiptID, start, err)
	if err != nil {
		a.logger.WarnContext(ctx, "notification delivery failed",
			slog.String("incident_id", in.IncidentID),
			slog.String("recipient", in.Reporter),
			slog.Any("error", err))
		return result, nil
	}
	comm.ReceiptID = receipt.ID

	a.logger.InfoContext(ctx, "communication sent",
		slog.String("incident_id", in.IncidentID),
		slog.String("state", string(in.State)),
		slog.String("receipt_id", receipt.ID))
	return result, nil
}

func (a *Communication) buildPrompt(in *Context) string {
	var b strings.Builder
	fmt.Fprintf(&b, "Incident: %s\n", in.Title)
	fmt.Fprintf(&b, "Current Stage: %s\n", in.State)
	fmt.Fprintf(&b, "Priority: %s\n", in.Priority)
	fmt.Fprintf(&b, "Reporter: %s\n\n", in.Reporter)
	fmt.Fprintf(&b, "What changed: %s\n", in.ChangeSummary)
	if in.Plan != nil {
		fmt.Fprintf(&b, "\nResolution Plan: %s\n", in.Plan.Summary)
		for i, step := range in.Plan.Steps {
			fmt.Fprintf(&b, "%d. %s\n", i+1, step)
		}
	}
	return b.String()
}

func (a *Communication) templatedBody(in *Context) string {
	summary := in.ChangeSummary
	if summary == "" {
		summary = "The incident has moved to the next stage of processing."
	}
	body := fmt.Sprintf("Incident %q is now %s. %s", in.Title, in.State, summary)
	if in.Plan != nil && in.Plan.Summary != "" {
		body += " Planned remediation: " + in.Plan.Summary + "."
	}
	return body + " Further updates will follow as work progresses."
}

var _ Agent = (*Communication)(nil)
