package session

import (
	"errors"
	"testing"

	"github.com/jkaninda/eiro/internal/incident"
)

func TestCreateDuplicate(t *testing.T) {
	m := NewManager(nil)
	if _, err := m.Create("INC-0001"); err != nil {
		t.Fatalf("Create failed: %v", err)
	}
	if _, err := m.Create("INC-0001"); err == nil {
		t.Fatal("expected error on duplicate session")
	}
}

func TestCreateStartsEmpty(t *testing.T) {
	m := NewManager(nil)
	s, err := m.Create("INC-0001")
	if err != nil {
		t.Fatalf("Create failed: %v", err)
	}
	if s.State != incident.StateCreated {
		t.Fatalf("expected created state, got %s", s.State)
	}
	if len(s.History) != 0 {
		t.Fatalf("new session should have empty history, got %d entries", len(s.History))
	}
}

func TestAppendOrdering(t *testing.T) {
	m := NewManager(nil)
	if _, err := m.Create("INC-0001"); err != nil {
		t.Fatalf("Create failed: %v", err)
	}
	stages := []string{"triage", "investigation", "resolution"}
	for _, st := range stages {
		if err := m.Append("INC-0001", Entry{Stage: st, Action: "committed"}); err != nil {
			t.Fatalf("Append failed: %v", err)
		}
	}
	hist := m.History("INC-0001")
	if len(hist) != 3 {
		t.Fatalf("expected 3 entries, got %d", len(hist))
	}
	for i, st := range stages {
		if hist[i].Stage != st {
			t.Fatalf("entry %d: expected stage %s, got %s", i, st, hist[i].Stage)
		}
	}
	for i := 1; i < len(hist); i++ {
		if hist[i].Timestamp.Before(hist[i-1].Timestamp) {
			t.Fatalf("entry %d timestamp precedes entry %d", i, i-1)
		}
	}
}

func TestAppendUnknownSession(t *testing.T) {
	m := NewManager(nil)
	if err := m.Append("INC-0404", Entry{Stage: "triage"}); err == nil {
		t.Fatal("expected error for unknown session")
	}
}

func TestTransitionEnforcesLifecycle(t *testing.T) {
	m := NewManager(nil)
	if _, err := m.Create("INC-0001"); err != nil {
		t.Fatalf("Create failed: %v", err)
	}
	if err := m.Transition("INC-0001", incident.StateTriaged); err != nil {
		t.Fatalf("legal transition failed: %v", err)
	}
	err := m.Transition("INC-0001", incident.StateResolved)
	if err == nil {
		t.Fatal("expected error on skipped state")
	}
	var ite *incident.InvalidTransitionError
	if !errors.As(err, &ite) {
		t.Fatalf("expected InvalidTransitionError, got %T", err)
	}
	if m.Get("INC-0001").State != incident.StateTriaged {
		t.Fatal("state changed after rejected transition")
	}
}

func TestHistoryStoreReceivesEntries(t *testing.T) {
	store := &memStore{entries: map[string][]Entry{}}
	m := NewManager(store)
	if _, err := m.Create("INC-0001"); err != nil {
		t.Fatalf("Create failed: %v", err)
	}
	if err := m.Append("INC-0001", Entry{Stage: "triage", Action: "committed"}); err != nil {
		t.Fatalf("Append failed: %v", err)
	}
	got, err := store.Entries("INC-0001")
	if err != nil {
		t.Fatalf("Entries failed: %v", err)
	}
	if len(got) != 1 || got[0].Stage != "triage" {
		t.Fatalf("store did not receive entry: %+v", got)
	}
}

func TestCloseRemovesSession(t *testing.T) {
	m := NewManager(nil)
	if _, err := m.Create("INC-0001"); err != nil {
		t.Fatalf("Create failed: %v", err)
	}
	m.Close("INC-0001")
	if m.Get("INC-0001") != nil {
		t.Fatal("session still present after Close")
	}
}

type memStore struct {
	entries map[string][]Entry
}

func (s *memStore) AppendEntry(id string, e Entry) error {
	s.entries[id] = append(s.entries[id], e)
	return nil
}

func (s *memStore) Entries(id string) ([]Entry, error) {
	return s.entries[id], nil
}
