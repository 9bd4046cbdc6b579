package agent

import (
	"context"
	"errors"
	"io"
	"log/slog"
	"strings"
	"testing"

	"github.com/jkaninda/eiro/internal/incident"
	"github.com/jkaninda/eiro/internal/llm"
	"github.com/jkaninda/eiro/internal/observability"
	"github.com/jkaninda/eiro/internal/tools/diagnostics"
	"github.com/jkaninda/eiro/internal/tools/knowledge"
	"github.com/jkaninda/eiro/internal/tools/notify"
)

func discardLogger() *slog.Logger {
	return slog.New(slog.NewTextHandler(io.Discard, nil))
}

type stubProvider struct {
	reply string
	err   error
	last  *llm.Request
}

func (s *stubProvider) SendMessage(_ context.Context, req *llm.Request) (*llm.Response, error) {
	s.last = req
	if s.err != nil {
		return nil, s.err
	}
	return &llm.Response{
		Content:    s.reply,
		Usage:      llm.Usage{InputTokens: 10, OutputTokens: 20},
		StopReason: "end_turn",
	}, nil
}

func (s *stubProvider) Name() string { return "stub" }

func TestTriageParsesStructuredOutput(t *testing.T) {
	p := &stubProvider{reply: `{"priority": "high", "category": "connectivity", "rationale": "widespread timeouts"}`}
	a := NewTriage(p, 1024, discardLogger())

	res, err := a.Run(context.Background(), &Context{
		IncidentID:  "INC-0001",
		Title:       "Database Connection Timeout",
		Description: "Users are experiencing database connection timeouts.",
		Severity:    incident.SeverityHigh,
		Reporter:    "ops-team@company.com",
	})
	if err != nil {
		t.Fatalf("Run failed: %v", err)
	}
	if res.Degraded {
		t.Fatal("valid output marked degraded")
	}
	if res.Triage.Priority != incident.PriorityHigh {
		t.Errorf("priority = %q, want high", res.Triage.Priority)
	}
	if res.Triage.Category != incident.CategoryConnectivity {
		t.Errorf("category = %q, want connectivity", res.Triage.Category)
	}
	if res.TokensUsed != 30 {
		t.Errorf("tokens = %d, want 30", res.TokensUsed)
	}
	if p.last.SystemPrompt != triageSystemPrompt {
		t.Error("system prompt not sent")
	}
}

func TestTriageDegradesToKeywordExtraction(t *testing.T) {
	p := &stubProvider{reply: "This is a critical connectivity problem affecting all users."}
	a := NewTriage(p, 1024, discardLogger())

	res, err := a.Run(context.Background(), &Context{IncidentID: "INC-0001"})
	if err != nil {
		t.Fatalf("Run failed: %v", err)
	}
	if !res.Degraded {
		t.Fatal("unparseable output not marked degraded")
	}
	if res.Triage.Priority != incident.PriorityCritical {
		t.Errorf("priority = %q, want critical from keywords", res.Triage.Priority)
	}
	if res.Triage.Category != incident.CategoryConnectivity {
		t.Errorf("category = %q, want connectivity from keywords", res.Triage.Category)
	}
}

func TestTriageDegradesToDefaultsOnProviderError(t *testing.T) {
	p := &stubProvider{err: errors.New("upstream unavailable")}
	a := NewTriage(p, 1024, discardLogger())

	res, err := a.Run(context.Background(), &Context{IncidentID: "INC-0001"})
	if err != nil {
		t.Fatalf("provider failure must degrade, not fail: %v", err)
	}
	if !res.Degraded {
		t.Fatal("not marked degraded")
	}
	if res.Triage.Priority != incident.PriorityMedium || res.Triage.Category != incident.CategoryOther {
		t.Errorf("defaults = %q/%q, want medium/other", res.Triage.Priority, res.Triage.Category)
	}
}

func TestTriageRejectsInvalidEnumValues(t *testing.T) {
	p := &stubProvider{reply: `{"priority": "urgent", "category": "connectivity", "rationale": "x"}`}
	a := NewTriage(p, 1024, discardLogger())

	res, err := a.Run(context.Background(), &Context{IncidentID: "INC-0001"})
	if err != nil {
		t.Fatalf("Run failed: %v", err)
	}
	if !res.Degraded {
		t.Fatal("invalid enum value must degrade")
	}
}

func TestInvestigationAttachesToolCallsToSpan(t *testing.T) {
	p := &stubProvider{reply: `{"root_cause": "connection pool exhaustion", "evidence": ["db degraded"], "approach": "increase pool size"}`}
	diag := diagnostics.NewProvider(discardLogger())
	a := NewInvestigation(p, diag, knowledge.NewBase(), 1024, discardLogger())

	rec := observability.NewRecorder(context.Background(), "INC-0001", nil)
	span := rec.StartSpan("investigation")

	res, err := a.Run(context.Background(), &Context{
		IncidentID:  "INC-0001",
		Title:       "Database Connection Timeout",
		Description: "database connection timeouts",
		Category:    incident.CategoryConnectivity,
		Span:        span,
	})
	if err != nil {
		t.Fatalf("Run failed: %v", err)
	}
	if res.Degraded {
		t.Fatal("valid output marked degraded")
	}
	if res.Investigation.RootCause != "connection pool exhaustion" {
		t.Errorf("root cause = %q", res.Investigation.RootCause)
	}

	span.End(observability.SpanOK, nil)
	trace := rec.Finish()
	if len(trace.Spans) != 1 {
		t.Fatalf("spans = %d, want 1", len(trace.Spans))
	}
	calls := trace.Spans[0].ToolCalls
	want := []string{"diagnostics.check_health", "diagnostics.diagnose", "knowledge.search"}
	if len(calls) != len(want) {
		t.Fatalf("tool calls = %d, want %d", len(calls), len(want))
	}
	for i, name := range want {
		if calls[i].Tool != name {
			t.Errorf("tool call %d = %q, want %q", i, calls[i].Tool, name)
		}
		if calls[i].Status != "ok" {
			t.Errorf("tool call %q status = %q", name, calls[i].Status)
		}
		if calls[i].Result == "" {
			t.Errorf("tool call %q has no result summary", name)
		}
	}
	if calls[2].Arguments["query"] != "database connection timeouts" {
		t.Errorf("search arguments not recorded: %+v", calls[2].Arguments)
	}
	if calls[2].Arguments["category"] != "connectivity" {
		t.Errorf("search category not recorded: %+v", calls[2].Arguments)
	}
}

func TestInvestigationDegradedFallbackUsesTopDiagnosticCause(t *testing.T) {
	p := &stubProvider{err: errors.New("timeout")}
	diag := diagnostics.NewProvider(discardLogger())
	if err := diag.SetStatus("database", diagnostics.StatusDegraded); err != nil {
		t.Fatalf("SetStatus failed: %v", err)
	}
	a := NewInvestigation(p, diag, knowledge.NewBase(), 1024, discardLogger())

	res, err := a.Run(context.Background(), &Context{
		IncidentID:  "INC-0001",
		Description: "database connection timeouts",
	})
	if err != nil {
		t.Fatalf("Run failed: %v", err)
	}
	if !res.Degraded {
		t.Fatal("not marked degraded")
	}
	if !strings.Contains(res.Investigation.RootCause, "connection pool") {
		t.Errorf("fallback root cause = %q, want the pool exhaustion cause", res.Investigation.RootCause)
	}
}

func TestResolutionParsesPlan(t *testing.T) {
	p := &stubProvider{reply: `{"steps": ["Increase connection pool size", "Restart the pooler"], "verification": ["Error rate back to baseline"], "prevention": ["Alert on pool saturation"], "summary": "Pool resized"}`}
	a := NewResolution(p, knowledge.NewBase(), 1024, discardLogger())

	res, err := a.Run(context.Background(), &Context{
		IncidentID: "INC-0001",
		RootCause:  "connection pool exhaustion",
		Category:   incident.CategoryConnectivity,
	})
	if err != nil {
		t.Fatalf("Run failed: %v", err)
	}
	if res.Degraded {
		t.Fatal("valid plan marked degraded")
	}
	plan := res.Resolution.Plan
	if len(plan.Steps) != 2 || plan.Steps[0] != "Increase connection pool size" {
		t.Errorf("unexpected steps: %v", plan.Steps)
	}
	if plan.Summary != "Pool resized" {
		t.Errorf("summary = %q", plan.Summary)
	}
}

func TestResolutionDegradedPlanStillResolves(t *testing.T) {
	p := &stubProvider{reply: "I think you should look at the database."}
	a := NewResolution(p, knowledge.NewBase(), 1024, discardLogger())

	res, err := a.Run(context.Background(), &Context{
		IncidentID: "INC-0001",
		RootCause:  "connection pool exhaustion",
	})
	if err != nil {
		t.Fatalf("Run failed: %v", err)
	}
	if !res.Degraded {
		t.Fatal("not marked degraded")
	}
	plan := res.Resolution.Plan
	if plan == nil || len(plan.Steps) == 0 {
		t.Fatal("degraded result must still carry a plan")
	}
	if !strings.Contains(plan.Steps[0], "connection pool exhaustion") {
		t.Errorf("default plan does not reference the root cause: %v", plan.Steps)
	}
}

func TestCommunicationSendsNotification(t *testing.T) {
	p := &stubProvider{reply: "Subject: Database incident triaged\n\nThe incident has been classified as high priority. Investigation starts now."}
	svc := notify.NewService(notify.NewSimulatedSender(discardLogger()), nil, discardLogger())
	a := NewCommunication(p, svc, 1024, discardLogger())

	res, err := a.Run(context.Background(), &Context{
		IncidentID: "INC-0001",
		Title:      "Database Connection Timeout",
		Reporter:   "ops-team@company.com",
		Priority:   incident.PriorityHigh,
		State:      incident.StateTriaged,
	})
	if err != nil {
		t.Fatalf("Run failed: %v", err)
	}
	if res.Communication.Subject != "Database incident triaged" {
		t.Errorf("subject = %q", res.Communication.Subject)
	}
	if res.Communication.ReceiptID == "" {
		t.Error("no receipt recorded")
	}
	receipts := svc.Receipts("ops-team@company.com")
	if len(receipts) != 1 {
		t.Fatalf("receipts = %d, want 1", len(receipts))
	}
	if receipts[0].Priority != notify.PriorityHigh {
		t.Errorf("notification priority = %q, want high", receipts[0].Priority)
	}
}

type failingSender struct{}

func (failingSender) Send(context.Context, *notify.Message) error {
	return errors.New("channel down")
}

func TestCommunicationDeliveryFailureIsNonFatal(t *testing.T) {
	p := &stubProvider{reply: "Subject: Update\n\nStatus update."}
	svc := notify.NewService(failingSender{}, nil, discardLogger())
	a := NewCommunication(p, svc, 1024, discardLogger())

	rec := observability.NewRecorder(context.Background(), "INC-0001", nil)
	span := rec.StartSpan("communication")

	res, err := a.Run(context.Background(), &Context{
		IncidentID: "INC-0001",
		Reporter:   "ops-team@company.com",
		State:      incident.StateTriaged,
		Span:       span,
	})
	if err != nil {
		t.Fatalf("delivery failure must not fail the stage: %v", err)
	}
	if res.Communication.ReceiptID != "" {
		t.Error("receipt recorded despite failed delivery")
	}

	span.End(observability.SpanOK, nil)
	calls := rec.Finish().Spans[0].ToolCalls
	if len(calls) != 1 || calls[0].Tool != "notify.send" {
		t.Fatalf("send not recorded: %+v", calls)
	}
	if calls[0].Status != "error" || calls[0].Err == "" {
		t.Errorf("failed send recorded as %q with error %q", calls[0].Status, calls[0].Err)
	}
	if calls[0].Arguments["recipient"] != "ops-team@company.com" {
		t.Errorf("send arguments not recorded: %+v", calls[0].Arguments)
	}
}

func TestCommunicationRendersResolutionPlan(t *testing.T) {
	p := &stubProvider{reply: "Subject: Incident resolved\n\nThe remediation plan is ready."}
	svc := notify.NewService(notify.NewSimulatedSender(discardLogger()), nil, discardLogger())
	a := NewCommunication(p, svc, 1024, discardLogger())

	plan := &incident.Plan{
		Steps:   []string{"Increase connection pool size", "Restart the pooler"},
		Summary: "Pool exhaustion remediation",
	}
	if _, err := a.Run(context.Background(), &Context{
		IncidentID:    "INC-0001",
		Title:         "Database Connection Timeout",
		Reporter:      "ops-team@company.com",
		Priority:      incident.PriorityHigh,
		Plan:          plan,
		State:         incident.StateResolved,
		ChangeSummary: "Resolution plan prepared with 2 steps.",
	}); err != nil {
		t.Fatalf("Run failed: %v", err)
	}

	prompt := p.last.Messages[0].Content
	if !strings.Contains(prompt, "Pool exhaustion remediation") {
		t.Errorf("plan summary missing from prompt:\n%s", prompt)
	}
	if !strings.Contains(prompt, "1. Increase connection pool size") {
		t.Errorf("plan steps missing from prompt:\n%s", prompt)
	}
}

func TestCommunicationTemplatedBodyIncludesPlan(t *testing.T) {
	p := &stubProvider{err: errors.New("upstream unavailable")}
	svc := notify.NewService(notify.NewSimulatedSender(discardLogger()), nil, discardLogger())
	a := NewCommunication(p, svc, 1024, discardLogger())

	res, err := a.Run(context.Background(), &Context{
		IncidentID:    "INC-0001",
		Title:         "Database Connection Timeout",
		Reporter:      "ops-team@company.com",
		Plan:          &incident.Plan{Summary: "Pool exhaustion remediation"},
		State:         incident.StateResolved,
		ChangeSummary: "Resolution plan prepared.",
	})
	if err != nil {
		t.Fatalf("Run failed: %v", err)
	}
	if !res.Degraded {
		t.Fatal("not marked degraded")
	}
	if !strings.Contains(res.Communication.Body, "Pool exhaustion remediation") {
		t.Errorf("templated body omits the plan: %q", res.Communication.Body)
	}
}

func TestCommunicationDegradesToTemplate(t *testing.T) {
	p := &stubProvider{err: errors.New("upstream unavailable")}
	svc := notify.NewService(notify.NewSimulatedSender(discardLogger()), nil, discardLogger())
	a := NewCommunication(p, svc, 1024, discardLogger())

	res, err := a.Run(context.Background(), &Context{
		IncidentID:    "INC-0001",
		Title:         "Database Connection Timeout",
		Reporter:      "ops-team@company.com",
		State:         incident.StateInvestigated,
		ChangeSummary: "Root cause identified.",
	})
	if err != nil {
		t.Fatalf("Run failed: %v", err)
	}
	if !res.Degraded {
		t.Fatal("not marked degraded")
	}
	if res.Communication.Subject != "Incident Update - INVESTIGATED" {
		t.Errorf("subject = %q", res.Communication.Subject)
	}
	if res.Communication.ReceiptID == "" {
		t.Error("templated update was not sent")
	}
}

func TestExtractSubject(t *testing.T) {
	got := extractSubject("Intro line\nSubject: All clear\nBody", "fallback")
	if got != "All clear" {
		t.Errorf("subject = %q", got)
	}
	if got := extractSubject("no subject anywhere", "fallback"); got != "fallback" {
		t.Errorf("fallback subject = %q", got)
	}
}
