// Package notify is the stakeholder notification tool. It sends
// incident communications through a pluggable sender and records a
// receipt for every delivery.
package notify

import (
	"context"
	"fmt"
	"io"
	"log/slog"
	"sync"
	"time"

	"github.com/jkaninda/eiro/internal/incident"
)

// Priority is the notification urgency, derived from the incident
// priority.
type Priority string

const (
	PriorityUrgent Priority = "urgent"
	PriorityHigh   Priority = "high"
	PriorityNormal Priority = "normal"
	PriorityLow    Priority = "low"
)

// FromIncidentPriority maps an incident priority to a notification
// priority. Unknown values map to normal.
func FromIncidentPriority(p incident.Priority) Priority {
	switch p {
	case incident.PriorityCritical:
		return PriorityUrgent
	case incident.PriorityHigh:
		return PriorityHigh
	case incident.PriorityLow:
		return PriorityLow
	default:
		return PriorityNormal
	}
}

// Message is one stakeholder communication.
type Message struct {
	Recipient string   `json:"recipient"`
	Subject   string   `json:"subject"`
	Body      string   `json:"body"`
	Priority  Priority `json:"priority"`

	// IdempotencyKey deduplicates retried sends. Empty disables
	// deduplication.
	IdempotencyKey string `json:"idempotency_key,omitempty"`
}

// Receipt records one completed delivery.
type Receipt struct {
	ID        string    `json:"id"`
	Recipient string    `json:"recipient"`
	Subject   string    `json:"subject"`
	Body      string    `json:"body"`
	Priority  Priority  `json:"priority"`
	Status    string    `json:"status"` // always "sent" for recorded receipts
	SentAt    time.Time `json:"sent_at"`
}

// DeliveryError reports a failed send attempt.
type DeliveryError struct {
	Recipient string
	Err       error
}

func (e *DeliveryError) Error() string {
	return fmt.Sprintf("delivering notification to %s: %v", e.Recipient, e.Err)
}

func (e *DeliveryError) Unwrap() error { return e.Err }

// Sender is the channel backend. The default simulated sender logs the
// message; real backends would hit email or chat APIs.
type Sender interface {
	Send(ctx context.Context, msg *Message) error
}

// ReceiptStore persists receipts beyond the service lifetime. Nil
// keeps them in memory only.
type ReceiptStore interface {
	SaveReceipt(ctx context.Context, r Receipt) error
}

// Service issues notifications and tracks receipts with sequential
// NOTIF-XXXX identifiers.
type Service struct {
	sender Sender
	store  ReceiptStore
	logger *slog.Logger

	mu       sync.Mutex
	seq      int
	receipts []Receipt
	seenKeys map[string]Receipt
}

// NewService creates a notification service. A nil sender falls back
// to the simulated sender; a nil logger discards.
func NewService(sender Sender, store ReceiptStore, logger *slog.Logger) *Service {
	if logger == nil {
		logger = slog.New(slog.NewTextHandler(io.Discard, nil))
	}
	if sender == nil {
		sender = &SimulatedSender{logger: logger}
	}
	return &Service{
		sender:   sender,
		store:    store,
		logger:   logger,
		seenKeys: make(map[string]Receipt),
	}
}

// Send delivers the message and records a receipt. Sends repeated with
// the same idempotency key return the original receipt without a
// second delivery.
func (s *Service) Send(ctx context.Context, msg *Message) (*Receipt, error) {
	if msg.Recipient == "" {
		return nil, &DeliveryError{Recipient: msg.Recipient, Err: fmt.Errorf("recipient is required")}
	}
	if msg.Priority == "" {
		msg.Priority = PriorityNormal
	}

	s.mu.Lock()
	if msg.IdempotencyKey != "" {
		if prior, ok := s.seenKeys[msg.IdempotencyKey]; ok {
			s.mu.Unlock()
			return &prior, nil
		}
	}
	s.mu.Unlock()

	if err := s.sender.Send(ctx, msg); err != nil {
		return nil, &DeliveryError{Recipient: msg.Recipient, Err: err}
	}

	s.mu.Lock()
	s.seq++
	r := Receipt{
		ID:        fmt.Sprintf("NOTIF-%04d", s.seq),
		Recipient: msg.Recipient,
		Subject:   msg.Subject,
		Body:      msg.Body,
		Priority:  msg.Priority,
		Status:    "sent",
		SentAt:    time.Now().UTC(),
	}
	s.receipts = append(s.receipts, r)
	if msg.IdempotencyKey != "" {
		s.seenKeys[msg.IdempotencyKey] = r
	}
	s.mu.Unlock()

	if s.store != nil {
		if err := s.store.SaveReceipt(ctx, r); err != nil {
			s.logger.WarnContext(ctx, "persisting notification receipt failed",
				slog.String("receipt_id", r.ID),
				slog.String("error", err.Error()),
			)
		}
	}

	s.logger.InfoContext(ctx, "notification sent",
		slog.String("receipt_id", r.ID),
		slog.String("recipient", r.Recipient),
		slog.String("priority", string(r.Priority)),
	)
	return &r, nil
}

// Receipts returns recorded receipts, optionally filtered by recipient.
func (s *Service) Receipts(recipient string) []Receipt {
	s.mu.Lock()
	defer s.mu.Unlock()
	if recipient == "" {
		out := make([]Receipt, len(s.receipts))
		copy(out, s.receipts)
		return out
	}
	var out []Receipt
	for _, r := range s.receipts {
		if r.Recipient == recipient {
			out = append(out, r)
		}
	}
	return out
}

// SimulatedSender logs deliveries instead of hitting a real channel.
type SimulatedSender struct {
	logger *slog.Logger
}

// NewSimulatedSender creates the default logging sender.
func NewSimulatedSender(logger *slog.Logger) *SimulatedSender {
	return &SimulatedSender{logger: logger}
}

func (s *SimulatedSender) Send(ctx context.Context, msg *Message) error {
	if s.logger != nil {
		s.logger.InfoContext(ctx, "simulated notification delivery",
			slog.String("recipient", msg.Recipient),
			slog.String("subject", msg.Subject),
			slog.String("priority", string(msg.Priority)),
		)
	}
	return nil
}
