// Package session tracks per-incident pipeline state: the current
// lifecycle position and an append-only history of what each stage did.
package session

import (
	"fmt"
	"sync"
	"time"

	"github.com/jkaninda/eiro/internal/incident"
)

// Entry is one append-only history record. Entries are never edited or
// removed once written.
type Entry struct {
	Timestamp time.Time         `json:"timestamp"`
	Stage     string            `json:"stage"`
	Action    string            `json:"action"`
	Payload   map[string]string `json:"payload,omitempty"`
	Degraded  bool              `json:"degraded,omitempty"`
}

// HistoryStore persists session history beyond the lifetime of the
// manager. Nil means history is kept in memory only.
type HistoryStore interface {
	AppendEntry(incidentID string, e Entry) error
	Entries(incidentID string) ([]Entry, error)
}

// Session is the pipeline's working state for one incident.
type Session struct {
	IncidentID string
	State      incident.State
	History    []Entry
	StartedAt  time.Time
}

// Manager owns all live sessions, one per incident.
type Manager struct {
	mu       sync.Mutex
	sessions map[string]*Session
	store    HistoryStore
}

// NewManager returns an empty session manager. The store is optional.
func NewManager(store HistoryStore) *Manager {
	return &Manager{
		sessions: make(map[string]*Session),
		store:    store,
	}
}

// Create starts a session for an incident in the created state. It does
// not write a history entry; the first entry comes from the first stage.
func (m *Manager) Create(incidentID string) (*Session, error) {
	m.mu.Lock()
	defer m.mu.Unlock()
	if _, ok := m.sessions[incidentID]; ok {
		return nil, fmt.Errorf("session for %s already exists", incidentID)
	}
	s := &Session{
		IncidentID: incidentID,
		State:      incident.StateCreated,
		StartedAt:  time.Now().UTC(),
	}
	m.sessions[incidentID] = s
	return s, nil
}

// Get returns the session for an incident, or nil if none exists.
func (m *Manager) Get(incidentID string) *Session {
	m.mu.Lock()
	defer m.mu.Unlock()
	return m.sessions[incidentID]
}

// Append records a history entry. Timestamps are assigned here so
// entries are monotonically ordered within a session.
func (m *Manager) Append(incidentID string, e Entry) error {
	m.mu.Lock()
	defer m.mu.Unlock()
	s, ok := m.sessions[incidentID]
	if !ok {
		return fmt.Errorf("no session for %s", incidentID)
	}
	e.Timestamp = time.Now().UTC()
	if n := len(s.History); n > 0 && e.Timestamp.Before(s.History[n-1].Timestamp) {
		e.Timestamp = s.History[n-1].Timestamp
	}
	s.History = append(s.History, e)
	if m.store != nil {
		if err := m.store.AppendEntry(incidentID, e); err != nil {
			return fmt.Errorf("persist history entry: %w", err)
		}
	}
	return nil
}

// Transition advances the session to the given state, enforcing the
// incident lifecycle rules.
func (m *Manager) Transition(incidentID string, to incident.State) error {
	m.mu.Lock()
	defer m.mu.Unlock()
	s, ok := m.sessions[incidentID]
	if !ok {
		return fmt.Errorf("no session for %s", incidentID)
	}
	if !incident.CanTransition(s.State, to) {
		return &incident.InvalidTransitionError{From: s.State, To: to}
	}
	s.State = to
	return nil
}

// History returns a copy of the session's entries in append order.
func (m *Manager) History(incidentID string) []Entry {
	m.mu.Lock()
	defer m.mu.Unlock()
	s, ok := m.sessions[incidentID]
	if !ok {
		return nil
	}
	out := make([]Entry, len(s.History))
	copy(out, s.History)
	return out
}

// Close removes the session from the manager. Persisted history, if a
// store is configured, survives.
func (m *Manager) Close(incidentID string) {
	m.mu.Lock()
	defer m.mu.Unlock()
	delete(m.sessions, incidentID)
}
