package gormstore

import (
	"encoding/json"
	"fmt"
	"time"

	"github.com/jkaninda/eiro/internal/incident"
	"github.com/jkaninda/eiro/internal/observability"
	"github.com/jkaninda/eiro/internal/session"
	"github.com/jkaninda/eiro/internal/tools/notify"
)

// IncidentModel is the persisted form of an incident. The resolution
// plan is stored as a JSON blob since it is only ever read back whole.
type IncidentModel struct {
	ID          string `gorm:"primaryKey"`
	Title       string
	Description string
	Reporter    string
	Severity    string
	State       string `gorm:"index"`
	Priority    string
	Category    string
	AssignedTo  string
	RootCause   string
	Resolution  string
	CreatedAt   time.Time `gorm:"autoCreateTime:false"`
	UpdatedAt   time.Time `gorm:"autoUpdateTime:false"`
	ResolvedAt  *time.Time
}

func (IncidentModel) TableName() string { return "incidents" }

func incidentToModel(inc *incident.Incident) (*IncidentModel, error) {
	m := &IncidentModel{
		ID:          inc.ID,
		Title:       inc.Title,
		Description: inc.Description,
		Reporter:    inc.Reporter,
		Severity:    string(inc.Severity),
		State:       string(inc.State),
		Priority:    string(inc.Priority),
		Category:    string(inc.Category),
		AssignedTo:  inc.AssignedTo,
		RootCause:   inc.RootCause,
		CreatedAt:   inc.CreatedAt,
		UpdatedAt:   inc.UpdatedAt,
		ResolvedAt:  inc.ResolvedAt,
	}
	if inc.Resolution != nil {
		raw, err := json.Marshal(inc.Resolution)
		if err != nil {
			return nil, fmt.Errorf("encoding resolution plan: %w", err)
		}
		m.Resolution = string(raw)
	}
	return m, nil
}

func (m *IncidentModel) toDomain() (*incident.Incident, error) {
	inc := &incident.Incident{
		ID:          m.ID,
		Title:       m.Title,
		Description: m.Description,
		Reporter:    m.Reporter,
		Severity:    incident.Severity(m.Severity),
		State:       incident.State(m.State),
		Priority:    incident.Priority(m.Priority),
		Category:    incident.Category(m.Category),
		AssignedTo:  m.AssignedTo,
		RootCause:   m.RootCause,
		CreatedAt:   m.CreatedAt,
		UpdatedAt:   m.UpdatedAt,
		ResolvedAt:  m.ResolvedAt,
	}
	if m.Resolution != "" {
		var plan incident.Plan
		if err := json.Unmarshal([]byte(m.Resolution), &plan); err != nil {
			return nil, fmt.Errorf("decoding resolution plan for %s: %w", m.ID, err)
		}
		inc.Resolution = &plan
	}
	return inc, nil
}

// SequenceModel backs the incident ID counter.
type SequenceModel struct {
	Name  string `gorm:"primaryKey"`
	Value int
}

func (SequenceModel) TableName() string { return "sequences" }

// HistoryModel is one persisted session history entry.
type HistoryModel struct {
	ID         uint   `gorm:"primaryKey;autoIncrement"`
	IncidentID string `gorm:"index"`
	Timestamp  time.Time
	Stage      string
	Action     string
	Payload    string
	Degraded   bool
}

func (HistoryModel) TableName() string { return "session_history" }

func historyToModel(incidentID string, e session.Entry) (*HistoryModel, error) {
	m := &HistoryModel{
		IncidentID: incidentID,
		Timestamp:  e.Timestamp,
		Stage:      e.Stage,
		Action:     e.Action,
		Degraded:   e.Degraded,
	}
	if len(e.Payload) > 0 {
		raw, err := json.Marshal(e.Payload)
		if err != nil {
			return nil, fmt.Errorf("encoding history payload: %w", err)
		}
		m.Payload = string(raw)
	}
	return m, nil
}

func (m *HistoryModel) toDomain() (session.Entry, error) {
	e := session.Entry{
		Timestamp: m.Timestamp,
		Stage:     m.Stage,
		Action:    m.Action,
		Degraded:  m.Degraded,
	}
	if m.Payload != "" {
		if err := json.Unmarshal([]byte(m.Payload), &e.Payload); err != nil {
			return session.Entry{}, fmt.Errorf("decoding history payload: %w", err)
		}
	}
	return e, nil
}

// TraceModel is one persisted run trace with its spans as a JSON blob.
type TraceModel struct {
	ID         string `gorm:"primaryKey"`
	IncidentID string `gorm:"index"`
	Spans      string
	StartedAt  time.Time
	EndedAt    time.Time
}

func (TraceModel) TableName() string { return "traces" }

func traceToModel(t *observability.Trace) (*TraceModel, error) {
	raw, err := json.Marshal(t.Spans)
	if err != nil {
		return nil, fmt.Errorf("encoding trace spans: %w", err)
	}
	return &TraceModel{
		ID:         t.ID,
		IncidentID: t.IncidentID,
		Spans:      string(raw),
		StartedAt:  t.StartedAt,
		EndedAt:    t.EndedAt,
	}, nil
}

func (m *TraceModel) toDomain() (*observability.Trace, error) {
	t := &observability.Trace{
		ID:         m.ID,
		IncidentID: m.IncidentID,
		StartedAt:  m.StartedAt,
		EndedAt:    m.EndedAt,
	}
	if m.Spans != "" {
		if err := json.Unmarshal([]byte(m.Spans), &t.Spans); err != nil {
			return nil, fmt.Errorf("decoding trace spans for %s: %w", m.ID, err)
		}
	}
	return t, nil
}

// ReceiptModel is one persisted notification receipt.
type ReceiptModel struct {
	ID        string `gorm:"primaryKey"`
	Recipient string `gorm:"index"`
	Subject   string
	Body      string
	Priority  string
	Status    string
	SentAt    time.Time
}

func (ReceiptModel) TableName() string { return "notification_receipts" }

func receiptToModel(r notify.Receipt) *ReceiptModel {
	return &ReceiptModel{
		ID:        r.ID,
		Recipient: r.Recipient,
		Subject:   r.Subject,
		Body:      r.Body,
		Priority:  string(r.Priority),
		Status:    r.Status,
		SentAt:    r.SentAt,
	}
}

func (m *ReceiptModel) toDomain() notify.Receipt {
	return notify.Receipt{
		ID:        m.ID,
		Recipient: m.Recipient,
		Subject:   m.Subject,
		Body:      m.Body,
		Priority:  notify.Priority(m.Priority),
		Status:    m.Status,
		SentAt:    m.SentAt,
	}
}
