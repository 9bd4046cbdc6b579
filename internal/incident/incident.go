// Package incident defines the incident domain model and its lifecycle
// state machine.
package incident

import (
	"errors"
	"fmt"
	"strings"
	"time"
)

// State is a stage in the incident lifecycle. Transitions are strictly
// forward, one step at a time.
type State string

const (
	StateCreated      State = "created"
	StateTriaged      State = "triaged"
	StateInvestigated State = "investigated"
	StateResolved     State = "resolved"
	StateClosed       State = "closed"
)

// Severity is the reporter-supplied urgency of an incident.
type Severity string

const (
	SeverityCritical Severity = "critical"
	SeverityHigh     Severity = "high"
	SeverityMedium   Severity = "medium"
	SeverityLow      Severity = "low"
)

// Priority is the triage-assigned handling priority.
type Priority string

const (
	PriorityCritical Priority = "critical"
	PriorityHigh     Priority = "high"
	PriorityMedium   Priority = "medium"
	PriorityLow      Priority = "low"
)

// Category classifies the affected area of the system.
type Category string

const (
	CategoryPerformance  Category = "performance"
	CategoryError        Category = "error"
	CategoryConnectivity Category = "connectivity"
	CategorySecurity     Category = "security"
	CategoryOther        Category = "other"
)

// ErrNotFound is returned when an incident does not exist.
var ErrNotFound = errors.New("incident not found")

// ValidationError reports a rejected incident field.
type ValidationError struct {
	Field  string
	Reason string
}

func (e *ValidationError) Error() string {
	return fmt.Sprintf("invalid incident %s: %s", e.Field, e.Reason)
}

// InvalidTransitionError reports an illegal lifecycle move. It is fatal
// to the run that triggered it.
type InvalidTransitionError struct {
	From State
	To   State
}

func (e *InvalidTransitionError) Error() string {
	return fmt.Sprintf("invalid transition from %s to %s", e.From, e.To)
}

// Incident is the central record the pipeline operates on.
type Incident struct {
	ID          string     `json:"id"`
	Title       string     `json:"title"`
	Description string     `json:"description"`
	Reporter    string     `json:"reporter,omitempty"`
	Severity    Severity   `json:"severity"`
	State       State      `json:"state"`
	Priority    Priority   `json:"priority,omitempty"`
	Category    Category   `json:"category,omitempty"`
	AssignedTo  string     `json:"assigned_to,omitempty"`
	RootCause   string     `json:"root_cause,omitempty"`
	Resolution  *Plan      `json:"resolution,omitempty"`
	CreatedAt   time.Time  `json:"created_at"`
	UpdatedAt   time.Time  `json:"updated_at"`
	ResolvedAt  *time.Time `json:"resolved_at,omitempty"`
}

// Plan is the structured remediation produced by the resolution stage.
type Plan struct {
	Steps        []string `json:"steps"`
	Verification []string `json:"verification"`
	Prevention   []string `json:"prevention"`
	Summary      string   `json:"summary"`
}

var order = map[State]int{
	StateCreated:      0,
	StateTriaged:      1,
	StateInvestigated: 2,
	StateResolved:     3,
	StateClosed:       4,
}

// Next returns the state that follows s, or empty if s is terminal.
func (s State) Next() State {
	switch s {
	case StateCreated:
		return StateTriaged
	case StateTriaged:
		return StateInvestigated
	case StateInvestigated:
		return StateResolved
	case StateResolved:
		return StateClosed
	}
	return ""
}

// Valid reports whether s is a known lifecycle state.
func (s State) Valid() bool {
	_, ok := order[s]
	return ok
}

// CanTransition reports whether moving from -> to is a legal single
// forward step. Skipping states and moving backward are both illegal,
// as is any move out of the terminal closed state.
func CanTransition(from, to State) bool {
	if !from.Valid() || !to.Valid() {
		return false
	}
	return order[to] == order[from]+1
}

// Transition moves the incident to the next state, or returns an
// InvalidTransitionError without mutating it.
func (i *Incident) Transition(to State) error {
	if !CanTransition(i.State, to) {
		return &InvalidTransitionError{From: i.State, To: to}
	}
	i.State = to
	now := time.Now().UTC()
	i.UpdatedAt = now
	if to == StateResolved {
		i.ResolvedAt = &now
	}
	return nil
}

// Validate checks the reporter-supplied fields of a new incident.
func (i *Incident) Validate() error {
	if strings.TrimSpace(i.Title) == "" {
		return &ValidationError{Field: "title", Reason: "must not be empty"}
	}
	if strings.TrimSpace(i.Description) == "" {
		return &ValidationError{Field: "description", Reason: "must not be empty"}
	}
	switch i.Severity {
	case SeverityCritical, SeverityHigh, SeverityMedium, SeverityLow:
	default:
		return &ValidationError{Field: "severity", Reason: fmt.Sprintf("unknown value %q", i.Severity)}
	}
	return nil
}

// ValidPriority reports whether p is a known priority level.
func ValidPriority(p Priority) bool {
	switch p {
	case PriorityCritical, PriorityHigh, PriorityMedium, PriorityLow:
		return true
	}
	return false
}

// ValidCategory reports whether c is a known category.
func ValidCategory(c Category) bool {
	switch c {
	case CategoryPerformance, CategoryError, CategoryConnectivity,
		CategorySecurity, CategoryOther:
		return true
	}
	return false
}

// Clone returns a deep copy so callers cannot mutate stored records.
func (i *Incident) Clone() *Incident {
	if i == nil {
		return nil
	}
	out := *i
	if i.ResolvedAt != nil {
		t := *i.ResolvedAt
		out.ResolvedAt = &t
	}
	if i.Resolution != nil {
		p := Plan{
			Steps:        append([]string(nil), i.Resolution.Steps...),
			Verification: append([]string(nil), i.Resolution.Verification...),
			Prevention:   append([]string(nil), i.Resolution.Prevention...),
			Summary:      i.Resolution.Summary,
		}
		out.Resolution = &p
	}
	return &out
}
