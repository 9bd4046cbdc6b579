package incidentdb

import (
	"context"
	"errors"
	"io"
	"log/slog"
	"testing"

	"github.com/jkaninda/eiro/internal/incident"
)

func discardLogger() *slog.Logger {
	return slog.New(slog.NewTextHandler(io.Discard, nil))
}

func newTestStore() *Store {
	return NewStore(nil, discardLogger())
}

func TestCreateAssignsSequentialIDs(t *testing.T) {
	s := newTestStore()
	ctx := context.Background()

	first, err := s.Create(ctx, &incident.Incident{
		Title: "db down", Description: "pool exhausted", Severity: incident.SeverityHigh,
	})
	if err != nil {
		t.Fatalf("Create failed: %v", err)
	}
	second, err := s.Create(ctx, &incident.Incident{
		Title: "slow api", Description: "latency spike", Severity: incident.SeverityMedium,
	})
	if err != nil {
		t.Fatalf("Create failed: %v", err)
	}

	if first.ID != "INC-0001" {
		t.Errorf("first ID = %q, want INC-0001", first.ID)
	}
	if second.ID != "INC-0002" {
		t.Errorf("second ID = %q, want INC-0002", second.ID)
	}
	if first.State != incident.StateCreated {
		t.Errorf("state = %q, want created", first.State)
	}
}

func TestCreateRejectsInvalid(t *testing.T) {
	s := newTestStore()
	_, err := s.Create(context.Background(), &incident.Incident{Description: "x", Severity: incident.SeverityLow})
	var ve *incident.ValidationError
	if !errors.As(err, &ve) {
		t.Fatalf("expected ValidationError, got %v", err)
	}
}

func TestGetNotFound(t *testing.T) {
	s := newTestStore()
	_, err := s.Get(context.Background(), "INC-0404")
	if !errors.Is(err, incident.ErrNotFound) {
		t.Fatalf("expected ErrNotFound, got %v", err)
	}
}

func TestUpdateMergesNeverReplaces(t *testing.T) {
	s := newTestStore()
	ctx := context.Background()

	created, err := s.Create(ctx, &incident.Incident{
		Title: "db down", Description: "pool exhausted", Severity: incident.SeverityHigh,
	})
	if err != nil {
		t.Fatalf("Create failed: %v", err)
	}

	pr := incident.PriorityHigh
	cat := incident.CategoryConnectivity
	if _, err := s.Update(ctx, created.ID, Patch{Priority: &pr, Category: &cat}); err != nil {
		t.Fatalf("Update failed: %v", err)
	}

	// Second patch touches only root cause; priority and category must survive.
	rc := "connection pool exhaustion"
	updated, err := s.Update(ctx, created.ID, Patch{RootCause: &rc})
	if err != nil {
		t.Fatalf("Update failed: %v", err)
	}

	if updated.Priority != incident.PriorityHigh {
		t.Errorf("priority cleared by partial update: %q", updated.Priority)
	}
	if updated.Category != incident.CategoryConnectivity {
		t.Errorf("category cleared by partial update: %q", updated.Category)
	}
	if updated.RootCause != rc {
		t.Errorf("root cause = %q, want %q", updated.RootCause, rc)
	}
	if updated.Title != "db down" {
		t.Errorf("title changed by update: %q", updated.Title)
	}
}

func TestUpdateRejectsUnknownPriority(t *testing.T) {
	s := newTestStore()
	ctx := context.Background()
	created, _ := s.Create(ctx, &incident.Incident{
		Title: "x", Description: "y", Severity: incident.SeverityLow,
	})

	bad := incident.Priority("urgent")
	_, err := s.Update(ctx, created.ID, Patch{Priority: &bad})
	var ve *incident.ValidationError
	if !errors.As(err, &ve) {
		t.Fatalf("expected ValidationError, got %v", err)
	}
}

func TestTransitionLifecycle(t *testing.T) {
	s := newTestStore()
	ctx := context.Background()
	created, _ := s.Create(ctx, &incident.Incident{
		Title: "x", Description: "y", Severity: incident.SeverityLow,
	})

	states := []incident.State{
		incident.StateTriaged, incident.StateInvestigated,
		incident.StateResolved, incident.StateClosed,
	}
	for _, st := range states {
		rec, err := s.Transition(ctx, created.ID, st)
		if err != nil {
			t.Fatalf("Transition to %s failed: %v", st, err)
		}
		if rec.State != st {
			t.Fatalf("state = %q, want %q", rec.State, st)
		}
	}
}

func TestTransitionSkipRejected(t *testing.T) {
	s := newTestStore()
	ctx := context.Background()
	created, _ := s.Create(ctx, &incident.Incident{
		Title: "x", Description: "y", Severity: incident.SeverityLow,
	})

	_, err := s.Transition(ctx, created.ID, incident.StateResolved)
	var ite *incident.InvalidTransitionError
	if !errors.As(err, &ite) {
		t.Fatalf("expected InvalidTransitionError, got %v", err)
	}

	// Record must be untouched.
	rec, err := s.Get(ctx, created.ID)
	if err != nil {
		t.Fatalf("Get failed: %v", err)
	}
	if rec.State != incident.StateCreated {
		t.Errorf("state mutated by rejected transition: %q", rec.State)
	}
}

func TestListNewestFirst(t *testing.T) {
	s := newTestStore()
	ctx := context.Background()
	for _, title := range []string{"a", "b", "c"} {
		if _, err := s.Create(ctx, &incident.Incident{
			Title: title, Description: "d", Severity: incident.SeverityLow,
		}); err != nil {
			t.Fatalf("Create failed: %v", err)
		}
	}
	list, err := s.List(ctx, Filter{})
	if err != nil {
		t.Fatalf("List failed: %v", err)
	}
	if len(list) != 3 {
		t.Fatalf("expected 3 incidents, got %d", len(list))
	}
	for i := 1; i < len(list); i++ {
		if list[i].CreatedAt.After(list[i-1].CreatedAt) {
			t.Errorf("list not newest first at index %d", i)
		}
	}
}

func TestListFiltersByStateAndSeverity(t *testing.T) {
	s := newTestStore()
	ctx := context.Background()

	low, err := s.Create(ctx, &incident.Incident{
		Title: "slow api", Description: "latency spike", Severity: incident.SeverityLow,
	})
	if err != nil {
		t.Fatalf("Create failed: %v", err)
	}
	if _, err := s.Create(ctx, &incident.Incident{
		Title: "db down", Description: "pool exhausted", Severity: incident.SeverityHigh,
	}); err != nil {
		t.Fatalf("Create failed: %v", err)
	}
	if _, err := s.Transition(ctx, low.ID, incident.StateTriaged); err != nil {
		t.Fatalf("Transition failed: %v", err)
	}

	bySeverity, err := s.List(ctx, Filter{Severity: incident.SeverityHigh})
	if err != nil {
		t.Fatalf("List failed: %v", err)
	}
	if len(bySeverity) != 1 || bySeverity[0].Severity != incident.SeverityHigh {
		t.Errorf("severity filter returned %+v", bySeverity)
	}

	byState, err := s.List(ctx, Filter{State: incident.StateTriaged})
	if err != nil {
		t.Fatalf("List failed: %v", err)
	}
	if len(byState) != 1 || byState[0].ID != low.ID {
		t.Errorf("state filter returned %+v", byState)
	}

	// Both fields must hold at once.
	both, err := s.List(ctx, Filter{State: incident.StateTriaged, Severity: incident.SeverityHigh})
	if err != nil {
		t.Fatalf("List failed: %v", err)
	}
	if len(both) != 0 {
		t.Errorf("combined filter returned %+v", both)
	}
}

func TestNewStoreDefaultsNilLogger(t *testing.T) {
	s := NewStore(nil, nil)
	if _, err := s.Create(context.Background(), &incident.Incident{
		Title: "x", Description: "y", Severity: incident.SeverityLow,
	}); err != nil {
		t.Fatalf("Create with nil logger failed: %v", err)
	}
}
