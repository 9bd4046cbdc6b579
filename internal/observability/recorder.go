package observability

import (
	"context"
	"sync"
	"time"

	"github.com/google/uuid"
	"go.opentelemetry.io/otel/attribute"
	"go.opentelemetry.io/otel/codes"
	"go.opentelemetry.io/otel/trace"
)

// SpanStatus is the terminal status of a recorded span.
type SpanStatus string

const (
	SpanOK       SpanStatus = "ok"
	SpanDegraded SpanStatus = "degraded"
	SpanError    SpanStatus = "error"
)

// ToolCall is one tool invocation recorded under a stage span. Result
// holds a short outcome summary on success; Err holds the error message
// on failure.
type ToolCall struct {
	Tool       string            `json:"tool"`
	Status     string            `json:"status"` // "ok" or "error"
	Arguments  map[string]string `json:"arguments,omitempty"`
	Result     string            `json:"result,omitempty"`
	Err        string            `json:"error,omitempty"`
	Duration   time.Duration     `json:"duration"`
	RecordedAt time.Time         `json:"recorded_at"`
}

// Span is one stage invocation inside a run trace. Exactly one span is
// recorded per stage invocation, and spans are always closed, including
// on failure.
type Span struct {
	ID        string            `json:"id"`
	Name      string            `json:"name"`
	Status    SpanStatus        `json:"status"`
	Attrs     map[string]string `json:"attrs,omitempty"`
	ToolCalls []ToolCall        `json:"tool_calls,omitempty"`
	StartedAt time.Time         `json:"started_at"`
	EndedAt   time.Time         `json:"ended_at"`
}

// Trace is the complete record of one incident run.
type Trace struct {
	ID         string    `json:"id"`
	IncidentID string    `json:"incident_id"`
	Spans      []Span    `json:"spans"`
	StartedAt  time.Time `json:"started_at"`
	EndedAt    time.Time `json:"ended_at"`
}

// TraceStore persists completed run traces. Nil means traces are
// discarded after the run returns them.
type TraceStore interface {
	SaveTrace(ctx context.Context, t *Trace) error
}

// Recorder builds one Trace per incident run, mirroring each span to
// OpenTelemetry when a tracer is configured. The recorder is the source
// of truth consumed by the judge; OTel export is best effort.
type Recorder struct {
	tracer *TracerSetup

	mu    sync.Mutex
	trace *Trace
	root  trace.Span
	ctx   context.Context
}

// NewRecorder starts a trace for one incident run.
func NewRecorder(ctx context.Context, incidentID string, tracer *TracerSetup) *Recorder {
	r := &Recorder{
		tracer: tracer,
		trace: &Trace{
			ID:         uuid.NewString(),
			IncidentID: incidentID,
			StartedAt:  time.Now().UTC(),
		},
		ctx: ctx,
	}
	if tracer != nil {
		r.ctx, r.root = tracer.Tracer().Start(ctx, "incident.run",
			trace.WithAttributes(attribute.String("incident.id", incidentID)))
	}
	return r
}

// ActiveSpan is an open stage span. End must be called exactly once.
type ActiveSpan struct {
	rec  *Recorder
	span Span
	otel trace.Span
	done bool
}

// StartSpan opens a span for one stage invocation.
func (r *Recorder) StartSpan(name string) *ActiveSpan {
	as := &ActiveSpan{
		rec: r,
		span: Span{
			ID:        uuid.NewString(),
			Name:      name,
			StartedAt: time.Now().UTC(),
		},
	}
	if r.tracer != nil {
		_, as.otel = r.tracer.Tracer().Start(r.ctx, name)
	}
	return as
}

// SetAttr records a key/value attribute on the span.
func (s *ActiveSpan) SetAttr(key, value string) {
	if s.span.Attrs == nil {
		s.span.Attrs = make(map[string]string)
	}
	s.span.Attrs[key] = value
	if s.otel != nil {
		s.otel.SetAttributes(attribute.String(key, value))
	}
}

// AddToolCall attaches a tool invocation record to this span. The
// recording timestamp is stamped here.
func (s *ActiveSpan) AddToolCall(call ToolCall) {
	call.RecordedAt = time.Now().UTC()
	s.span.ToolCalls = append(s.span.ToolCalls, call)
	if s.otel != nil {
		attrs := []attribute.KeyValue{
			attribute.String("tool.name", call.Tool),
			attribute.String("tool.status", call.Status),
			attribute.Int64("tool.duration_ms", call.Duration.Milliseconds()),
		}
		if call.Err != "" {
			attrs = append(attrs, attribute.String("tool.error", call.Err))
		}
		s.otel.AddEvent("tool.call", trace.WithAttributes(attrs...))
	}
}

// End closes the span with its terminal status and appends it to the
// trace. Calling End more than once is a no-op.
func (s *ActiveSpan) End(status SpanStatus, err error) {
	if s.done {
		return
	}
	s.done = true
	s.span.Status = status
	s.span.EndedAt = time.Now().UTC()

	if s.otel != nil {
		switch status {
		case SpanError:
			if err != nil {
				s.otel.RecordError(err)
			}
			s.otel.SetStatus(codes.Error, string(status))
		default:
			s.otel.SetStatus(codes.Ok, string(status))
		}
		s.otel.End()
	}

	s.rec.mu.Lock()
	s.rec.trace.Spans = append(s.rec.trace.Spans, s.span)
	s.rec.mu.Unlock()
}

// Finish closes the run trace and returns it.
func (r *Recorder) Finish() *Trace {
	r.mu.Lock()
	defer r.mu.Unlock()
	r.trace.EndedAt = time.Now().UTC()
	if r.root != nil {
		r.root.End()
	}
	return r.trace
}

// Context returns the context carrying the run's root OTel span.
func (r *Recorder) Context() context.Context {
	return r.ctx
}
