// Package pipeline drives the incident lifecycle: it runs the stage
// agents in their fixed order, commits each result to the incident
// store, advances the session state machine, sends the communication
// update for every transition, and optionally scores stage outputs
// with the judge once the run completes.
package pipeline

import (
	"context"
	"errors"
	"fmt"
	"io"
	"log/slog"
	"sync"
	"time"

	"github.com/jkaninda/eiro/internal/agent"
	"github.com/jkaninda/eiro/internal/incident"
	"github.com/jkaninda/eiro/internal/judge"
	"github.com/jkaninda/eiro/internal/observability"
	"github.com/jkaninda/eiro/internal/session"
	"github.com/jkaninda/eiro/internal/tools/incidentdb"
)

// ErrRunInProgress is returned when an incident already has an active
// run; one run holds an incident exclusively.
var ErrRunInProgress = errors.New("incident run already in progress")

// defaultStageTimeout bounds each stage's model and tool calls.
const defaultStageTimeout = 60 * time.Second

// Request is one incoming incident report.
type Request struct {
	Title       string            `json:"title"`
	Description string            `json:"description"`
	Reporter    string            `json:"reporter"`
	Severity    incident.Severity `json:"severity"`
	Evaluate    bool              `json:"evaluate"`
}

// Result is a completed run: how far the pipeline got and what it
// produced along the way.
type Result struct {
	IncidentID string                    `json:"incident_id"`
	FinalState incident.State            `json:"final_state"`
	RootCause  string                    `json:"root_cause,omitempty"`
	Resolution *incident.Plan            `json:"resolution,omitempty"`
	Degraded   []agent.Stage             `json:"degraded,omitempty"`
	Evaluation []*judge.EvaluationResult `json:"evaluation,omitempty"`
	Trace      *observability.Trace      `json:"trace,omitempty"`
}

// RunError is the structured failure surfaced when a run aborts. The
// incident stays in its last committed state.
type RunError struct {
	IncidentID string
	Stage      agent.Stage
	LastState  incident.State
	Err        error
}

func (e *RunError) Error() string {
	return fmt.Sprintf("run for %s aborted at %s stage (state %s): %v",
		e.IncidentID, e.Stage, e.LastState, e.Err)
}

func (e *RunError) Unwrap() error { return e.Err }

// Stages holds the four agents in pipeline order.
type Stages struct {
	Triage        agent.Agent
	Investigation agent.Agent
	Resolution    agent.Agent
	Communication agent.Agent
}

// Orchestrator owns the pipeline. One instance serves many runs, but
// never two concurrent runs for the same incident.
type Orchestrator struct {
	incidents    *incidentdb.Store
	sessions     *session.Manager
	stages       Stages
	judge        *judge.Judge
	metrics      *observability.MetricsCollector
	tracer       *observability.TracerSetup
	traces       observability.TraceStore
	stageTimeout time.Duration
	logger       *slog.Logger

	mu     sync.Mutex
	active map[string]struct{}
}

// New creates an orchestrator with the core components. Observability
// and evaluation attach through the With methods.
func New(incidents *incidentdb.Store, sessions *session.Manager, stages Stages, logger *slog.Logger) *Orchestrator {
	if logger == nil {
		logger = slog.New(slog.NewTextHandler(io.Discard, nil))
	}
	return &Orchestrator{
		incidents:    incidents,
		sessions:     sessions,
		stages:       stages,
		stageTimeout: defaultStageTimeout,
		logger:       logger,
		active:       make(map[string]struct{}),
	}
}

// WithJudge attaches the evaluation subsystem. Nil disables it.
func (o *Orchestrator) WithJudge(j *judge.Judge) *Orchestrator {
	o.judge = j
	return o
}

// WithObservability attaches metrics, tracing, and trace persistence.
// All three are nil-safe.
func (o *Orchestrator) WithObservability(m *observability.MetricsCollector, t *observability.TracerSetup, traces observability.TraceStore) *Orchestrator {
	o.metrics = m
	o.tracer = t
	o.traces = traces
	return o
}

// WithStageTimeout overrides the per-stage deadline.
func (o *Orchestrator) WithStageTimeout(d time.Duration) *Orchestrator {
	if d > 0 {
		o.stageTimeout = d
	}
	return o
}

// HandleIncident is the main entry point: create the incident record
// and drive it through the full lifecycle.
func (o *Orchestrator) HandleIncident(ctx context.Context, req *Request) (*Result, error) {
	created, err := o.incidents.Create(ctx, &incident.Incident{
		Title:       req.Title,
		Description: req.Description,
		Reporter:    req.Reporter,
		Severity:    req.Severity,
	})
	if err != nil {
		return nil, err
	}
	return o.Run(ctx, created.ID, req.Evaluate)
}

// Run processes an existing incident in the created state through to
// closure. A second concurrent Run on the same incident id fails with
// ErrRunInProgress.
func (o *Orchestrator) Run(ctx context.Context, incidentID string, evaluate bool) (*Result, error) {
	if !o.acquire(incidentID) {
		return nil, fmt.Errorf("incident %s: %w", incidentID, ErrRunInProgress)
	}
	defer o.release(incidentID)

	inc, err := o.incidents.Get(ctx, incidentID)
	if err != nil {
		return nil, err
	}
	if inc.State != incident.StateCreated {
		return nil, fmt.Errorf("incident %s is %s, runs start from %s",
			incidentID, inc.State, incident.StateCreated)
	}
	if o.sessions.Get(incidentID) == nil {
		if _, err := o.sessions.Create(incidentID); err != nil {
			return nil, err
		}
	}

	rec := observability.NewRecorder(ctx, incidentID, o.tracer)
	runCtx := rec.Context()
	start := time.Now()
	if o.metrics != nil {
		o.metrics.ActiveRuns.Inc()
	}
	o.logger.InfoContext(ctx, "incident run started",
		slog.String("incident_id", incidentID),
		slog.String("severity", string(inc.Severity)))

	result, runErr := o.execute(runCtx, rec, inc, evaluate)

	trace := rec.Finish()
	o.recordToolMetrics(trace)
	if o.traces != nil {
		if err := o.traces.SaveTrace(ctx, trace); err != nil {
			o.logger.WarnContext(ctx, "persisting run trace failed",
				slog.String("incident_id", incidentID), slog.Any("error", err))
		}
	}

	outcome := "success"
	if runErr != nil {
		outcome = "error"
	}
	if o.metrics != nil {
		o.metrics.ActiveRuns.Dec()
		o.metrics.RunsTotal.WithLabelValues(outcome).Inc()
		o.metrics.RunDuration.WithLabelValues(outcome).Observe(time.Since(start).Seconds())
	}
	if runErr != nil {
		o.logger.ErrorContext(ctx, "incident run aborted",
			slog.String("incident_id", incidentID), slog.Any("error", runErr))
		return nil, runErr
	}

	result.Trace = trace
	o.logger.InfoContext(ctx, "incident run completed",
		slog.String("incident_id", incidentID),
		slog.String("final_state", string(result.FinalState)),
		slog.Duration("elapsed", time.Since(start)))
	return result, nil
}

// step is one reasoning stage plus the commit that follows it.
type step struct {
	ag     agent.Agent
	next   incident.State
	patch  func(*agent.Result) incidentdb.Patch
	change func(*agent.Result) string
}

func (o *Orchestrator) execute(ctx context.Context, rec *observability.Recorder, inc *incident.Incident, evaluate bool) (*Result, *RunError) {
	steps := []step{
		{
			ag:   o.stages.Triage,
			next: incident.StateTriaged,
			patch: func(r *agent.Result) incidentdb.Patch {
				return incidentdb.Patch{Priority: &r.Triage.Priority, Category: &r.Triage.Category}
			},
			change: func(r *agent.Result) string {
				return fmt.Sprintf("Incident classified as %s priority, %s category.",
					r.Triage.Priority, r.Triage.Category)
			},
		},
		{
			ag:   o.stages.Investigation,
			next: incident.StateInvestigated,
			patch: func(r *agent.Result) incidentdb.Patch {
				return incidentdb.Patch{RootCause: &r.Investigation.RootCause}
			},
			change: func(r *agent.Result) string {
				return "Root cause identified: " + r.Investigation.RootCause
			},
		},
		{
			ag:   o.stages.Resolution,
			next: incident.StateResolved,
			patch: func(r *agent.Result) incidentdb.Patch {
				return incidentdb.Patch{Resolution: r.Resolution.Plan}
			},
			change: func(r *agent.Result) string {
				return fmt.Sprintf("Resolution plan prepared with %d steps.",
					len(r.Resolution.Plan.Steps))
			},
		},
	}

	result := &Result{IncidentID: inc.ID, FinalState: inc.State}
	var stageResults []*agent.Result

	for _, st := range steps {
		stage := st.ag.Stage()

		// Cancellation takes effect between stages only; a started
		// stage always finishes its commit-or-abort cycle.
		if err := ctx.Err(); err != nil {
			return nil, o.abort(inc.ID, stage, result.FinalState, err)
		}

		res, runErr := o.runStage(ctx, rec, st, inc, result)
		if runErr != nil {
			return nil, runErr
		}
		stageResults = append(stageResults, res)
		if res.Degraded {
			result.Degraded = append(result.Degraded, stage)
		}
		result.FinalState = st.next

		switch stage {
		case agent.StageTriage:
			inc.Priority = res.Triage.Priority
			inc.Category = res.Triage.Category
		case agent.StageInvestigation:
			inc.RootCause = res.Investigation.RootCause
			result.RootCause = res.Investigation.RootCause
		case agent.StageResolution:
			inc.Resolution = res.Resolution.Plan
			result.Resolution = res.Resolution.Plan
		}

		o.communicate(ctx, rec, inc, st.next, st.change(res))
	}

	if err := ctx.Err(); err != nil {
		return nil, o.abort(inc.ID, agent.Stage("close"), result.FinalState, err)
	}
	if runErr := o.closeIncident(ctx, inc.ID, result); runErr != nil {
		return nil, runErr
	}

	if evaluate && o.judge != nil {
		result.Evaluation = o.evaluateStages(ctx, stageResults)
	}
	return result, nil
}

// runStage runs one reasoning stage and commits its result: incident
// patch, state transition, history entry, span closure.
func (o *Orchestrator) runStage(ctx context.Context, rec *observability.Recorder, st step, inc *incident.Incident, result *Result) (*agent.Result, *RunError) {
	stage := st.ag.Stage()
	span := rec.StartSpan(string(stage))
	span.SetAttr("incident.id", inc.ID)
	start := time.Now()

	stageCtx, cancel := context.WithTimeout(ctx, o.stageTimeout)
	res, err := st.ag.Run(stageCtx, o.projection(stage, inc, span))
	cancel()
	if err != nil {
		span.End(observability.SpanError, err)
		o.recordStage(stage, "error", time.Since(start))
		o.recordFailure(ctx, inc.ID, stage, err)
		return nil, o.abort(inc.ID, stage, result.FinalState, err)
	}

	patch := st.patch(res)
	if _, err := o.incidents.Update(ctx, inc.ID, patch); err != nil {
		span.End(observability.SpanError, err)
		o.recordStage(stage, "error", time.Since(start))
		o.recordFailure(ctx, inc.ID, stage, err)
		return nil, o.abort(inc.ID, stage, result.FinalState, err)
	}
	if _, err := o.incidents.Transition(ctx, inc.ID, st.next); err != nil {
		span.End(observability.SpanError, err)
		o.recordStage(stage, "error", time.Since(start))
		o.recordFailure(ctx, inc.ID, stage, err)
		return nil, o.abort(inc.ID, stage, result.FinalState, err)
	}
	if err := o.sessions.Transition(inc.ID, st.next); err != nil {
		span.End(observability.SpanError, err)
		o.recordStage(stage, "error", time.Since(start))
		o.recordFailure(ctx, inc.ID, stage, err)
		return nil, o.abort(inc.ID, stage, result.FinalState, err)
	}

	entry := session.Entry{
		Stage:  string(stage),
		Action: string(stage) + " complete",
		Payload: map[string]string{
			"state": string(st.next),
		},
	}
	if err := o.sessions.Append(inc.ID, entry); err != nil {
		o.logger.WarnContext(ctx, "appending history failed",
			slog.String("incident_id", inc.ID), slog.Any("error", err))
	}
	if res.Degraded {
		degradedEntry := session.Entry{
			Stage:    string(stage),
			Action:   "degraded default applied",
			Degraded: true,
		}
		if err := o.sessions.Append(inc.ID, degradedEntry); err != nil {
			o.logger.WarnContext(ctx, "appending history failed",
				slog.String("incident_id", inc.ID), slog.Any("error", err))
		}
	}

	status := observability.SpanOK
	stageStatus := "ok"
	if res.Degraded {
		status = observability.SpanDegraded
		stageStatus = "degraded"
	}
	span.End(status, nil)
	o.recordStage(stage, stageStatus, time.Since(start))
	return res, nil
}

// projection builds the narrowed context each stage is allowed to
// read. Nothing past triage sees the raw description again except
// investigation, which diagnoses from it.
func (o *Orchestrator) projection(stage agent.Stage, inc *incident.Incident, span *observability.ActiveSpan) *agent.Context {
	in := &agent.Context{IncidentID: inc.ID, Span: span}
	switch stage {
	case agent.StageTriage:
		in.Title = inc.Title
		in.Description = inc.Description
		in.Reporter = inc.Reporter
		in.Severity = inc.Severity
	case agent.StageInvestigation:
		in.Title = inc.Title
		in.Description = inc.Description
		in.Priority = inc.Priority
		in.Category = inc.Category
	case agent.StageResolution:
		in.Title = inc.Title
		in.Category = inc.Category
		in.RootCause = inc.RootCause
	}
	return in
}

// communicate sends the stakeholder update for a committed transition.
// Failures are logged and absorbed; communication is best effort and
// never appends to the incident history.
func (o *Orchestrator) communicate(ctx context.Context, rec *observability.Recorder, inc *incident.Incident, state incident.State, summary string) {
	span := rec.StartSpan(string(agent.StageCommunication))
	span.SetAttr("incident.id", inc.ID)
	span.SetAttr("incident.state", string(state))
	start := time.Now()

	commCtx, cancel := context.WithTimeout(ctx, o.stageTimeout)
	res, err := o.stages.Communication.Run(commCtx, &agent.Context{
		IncidentID:    inc.ID,
		Title:         inc.Title,
		Reporter:      inc.Reporter,
		Priority:      inc.Priority,
		Plan:          inc.Resolution,
		State:         state,
		ChangeSummary: summary,
		Span:          span,
	})
	cancel()
	if err != nil {
		span.End(observability.SpanError, err)
		o.recordStage(agent.StageCommunication, "error", time.Since(start))
		o.logger.WarnContext(ctx, "communication stage failed",
			slog.String("incident_id", inc.ID),
			slog.String("state", string(state)),
			slog.Any("error", err))
		return
	}
	status := observability.SpanOK
	stageStatus := "ok"
	if res.Degraded {
		status = observability.SpanDegraded
		stageStatus = "degraded"
	}
	span.End(status, nil)
	o.recordStage(agent.StageCommunication, stageStatus, time.Since(start))
}

// closeIncident performs the final bookkeeping transition. No
// communication goes out for closure.
func (o *Orchestrator) closeIncident(ctx context.Context, incidentID string, result *Result) *RunError {
	if _, err := o.incidents.Transition(ctx, incidentID, incident.StateClosed); err != nil {
		o.recordFailure(ctx, incidentID, "close", err)
		return o.abort(incidentID, "close", result.FinalState, err)
	}
	if err := o.sessions.Transition(incidentID, incident.StateClosed); err != nil {
		o.recordFailure(ctx, incidentID, "close", err)
		return o.abort(incidentID, "close", result.FinalState, err)
	}
	entry := session.Entry{
		Stage:   "orchestrator",
		Action:  "incident closed",
		Payload: map[string]string{"state": string(incident.StateClosed)},
	}
	if err := o.sessions.Append(incidentID, entry); err != nil {
		o.logger.WarnContext(ctx, "appending history failed",
			slog.String("incident_id", incidentID), slog.Any("error", err))
	}
	result.FinalState = incident.StateClosed
	return nil
}

// evaluateStages scores each reasoning stage's output. Judge failures
// are absorbed: a stage that cannot be scored is skipped with a warn.
func (o *Orchestrator) evaluateStages(ctx context.Context, results []*agent.Result) []*judge.EvaluationResult {
	tasks := map[agent.Stage]string{
		agent.StageTriage:        "Classify and prioritize the incident",
		agent.StageInvestigation: "Investigate the root cause using diagnostic tools",
		agent.StageResolution:    "Produce a remediation plan",
	}

	var evals []*judge.EvaluationResult
	for _, res := range results {
		output := res.Analysis
		if output == "" {
			output = "(degraded default output)"
		}
		ev, err := o.judge.Evaluate(ctx, string(res.Stage), tasks[res.Stage], output)
		if err != nil {
			o.logger.WarnContext(ctx, "stage evaluation failed",
				slog.String("stage", string(res.Stage)), slog.Any("error", err))
			continue
		}
		evals = append(evals, ev)
		if o.metrics != nil {
			o.metrics.EvaluationsTotal.WithLabelValues(ev.Recommendation).Inc()
			o.metrics.EvaluationScore.WithLabelValues(ev.Recommendation).Observe(ev.Aggregate)
		}
	}
	return evals
}

// abort wraps a fatal error with the failing stage and the last
// committed state.
func (o *Orchestrator) abort(incidentID string, stage agent.Stage, lastState incident.State, err error) *RunError {
	return &RunError{
		IncidentID: incidentID,
		Stage:      stage,
		LastState:  lastState,
		Err:        err,
	}
}

// recordFailure appends the abort to history so the failed run stays
// visible on the session.
func (o *Orchestrator) recordFailure(ctx context.Context, incidentID string, stage agent.Stage, cause error) {
	entry := session.Entry{
		Stage:   string(stage),
		Action:  "run aborted",
		Payload: map[string]string{"error": cause.Error()},
	}
	if err := o.sessions.Append(incidentID, entry); err != nil {
		o.logger.WarnContext(ctx, "appending failure history failed",
			slog.String("incident_id", incidentID), slog.Any("error", err))
	}
}

func (o *Orchestrator) recordStage(stage agent.Stage, status string, elapsed time.Duration) {
	if o.metrics == nil {
		return
	}
	o.metrics.StagesTotal.WithLabelValues(string(stage), status).Inc()
	o.metrics.StageDuration.WithLabelValues(string(stage)).Observe(elapsed.Seconds())
}

// recordToolMetrics replays the trace's tool call records into the
// metrics collector after the run finishes.
func (o *Orchestrator) recordToolMetrics(trace *observability.Trace) {
	if o.metrics == nil || trace == nil {
		return
	}
	for _, span := range trace.Spans {
		for _, call := range span.ToolCalls {
			o.metrics.ToolCallsTotal.WithLabelValues(call.Tool, call.Status).Inc()
			o.metrics.ToolCallDuration.WithLabelValues(call.Tool).Observe(call.Duration.Seconds())
		}
	}
}

func (o *Orchestrator) acquire(incidentID string) bool {
	o.mu.Lock()
	defer o.mu.Unlock()
	if _, held := o.active[incidentID]; held {
		return false
	}
	o.active[incidentID] = struct{}{}
	return true
}

func (o *Orchestrator) release(incidentID string) {
	o.mu.Lock()
	defer o.mu.Unlock()
	delete(o.active, incidentID)
}
