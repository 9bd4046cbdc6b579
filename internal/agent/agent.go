// Package agent contains the four pipeline stage agents. Each agent
// consults its tools, invokes the model, and returns a structured
// result. Agents never write the incident record themselves; commits
// are the orchestrator's job.
package agent

import (
	"context"
	"time"

	"github.com/jkaninda/eiro/internal/incident"
	"github.com/jkaninda/eiro/internal/observability"
)

// Stage identifies one pipeline stage.
type Stage string

const (
	StageTriage        Stage = "triage"
	StageInvestigation Stage = "investigation"
	StageResolution    Stage = "resolution"
	StageCommunication Stage = "communication"
)

// Context is the narrowed projection of the session a stage is allowed
// to read. The orchestrator populates only the fields the stage needs;
// nothing past triage sees the raw incident record.
type Context struct {
	IncidentID  string
	Title       string
	Description string
	Reporter    string
	Severity    incident.Severity

	// Set by triage, readable by later stages.
	Priority incident.Priority
	Category incident.Category

	// Set by investigation, readable by resolution.
	RootCause string

	// Set by resolution, readable by communication.
	Plan *incident.Plan

	// Communication only: the state just entered and what changed.
	State         incident.State
	ChangeSummary string

	// Span is the open trace span for this stage invocation. Tool
	// calls issued by the agent attach here.
	Span *observability.ActiveSpan
}

// TriageResult is the classification produced by the triage stage.
type TriageResult struct {
	Priority  incident.Priority `json:"priority"`
	Category  incident.Category `json:"category"`
	Rationale string            `json:"rationale"`
}

// InvestigationResult is the root cause analysis.
type InvestigationResult struct {
	RootCause string   `json:"root_cause"`
	Evidence  []string `json:"evidence"`
	Approach  string   `json:"approach"`
}

// ResolutionResult carries the remediation plan.
type ResolutionResult struct {
	Plan *incident.Plan `json:"plan"`
}

// CommunicationResult records the stakeholder update that was sent.
type CommunicationResult struct {
	Recipient string `json:"recipient"`
	Subject   string `json:"subject"`
	Body      string `json:"body"`
	ReceiptID string `json:"receipt_id,omitempty"`
}

// Result is the structured output of one stage run. Exactly one of the
// stage-specific fields is set, matching Stage. Degraded marks results
// built from documented defaults because the model output could not be
// parsed; degraded results are visible in history but never fatal.
type Result struct {
	Stage      Stage
	Degraded   bool
	Analysis   string
	TokensUsed int

	Triage        *TriageResult
	Investigation *InvestigationResult
	Resolution    *ResolutionResult
	Communication *CommunicationResult
}

// Agent is one pipeline stage. Run blocks until the stage's tool calls
// and model invocation complete; it absorbs parse failures into a
// degraded Result and returns an error only for conditions fatal to
// the run.
type Agent interface {
	Stage() Stage
	Run(ctx context.Context, in *Context) (*Result, error)
}

// recordTool attaches a tool invocation to the stage span, if any. On
// success result summarizes the outcome; on failure the error message
// is recorded instead.
func recordTool(span *observability.ActiveSpan, tool string, args map[string]string, result string, start time.Time, err error) {
	if span == nil {
		return
	}
	call := observability.ToolCall{
		Tool:      tool,
		Status:    "ok",
		Arguments: args,
		Result:    result,
		Duration:  time.Since(start),
	}
	if err != nil {
		call.Status = "error"
		call.Result = ""
		call.Err = err.Error()
	}
	span.AddToolCall(call)
}
