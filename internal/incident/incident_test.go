package incident

import (
	"errors"
	"testing"
	"time"
)

func TestTransitionForwardOnly(t *testing.T) {
	inc := &Incident{State: StateCreated}
	steps := []State{StateTriaged, StateInvestigated, StateResolved, StateClosed}
	for _, next := range steps {
		if err := inc.Transition(next); err != nil {
			t.Fatalf("Transition(%s) failed: %v", next, err)
		}
		if inc.State != next {
			t.Fatalf("expected state %s, got %s", next, inc.State)
		}
	}
}

func TestTransitionRejectsSkip(t *testing.T) {
	inc := &Incident{State: StateCreated}
	err := inc.Transition(StateInvestigated)
	if err == nil {
		t.Fatal("expected error when skipping a state")
	}
	var ite *InvalidTransitionError
	if !errors.As(err, &ite) {
		t.Fatalf("expected InvalidTransitionError, got %T", err)
	}
	if ite.From != StateCreated || ite.To != StateInvestigated {
		t.Fatalf("unexpected error fields: %+v", ite)
	}
	if inc.State != StateCreated {
		t.Fatalf("state mutated on rejected transition: %s", inc.State)
	}
}

func TestTransitionRejectsBackward(t *testing.T) {
	inc := &Incident{State: StateInvestigated}
	if err := inc.Transition(StateTriaged); err == nil {
		t.Fatal("expected error on backward transition")
	}
}

func TestTransitionTerminalState(t *testing.T) {
	inc := &Incident{State: StateClosed}
	if err := inc.Transition(StateCreated); err == nil {
		t.Fatal("expected error when leaving closed state")
	}
	if got := StateClosed.Next(); got != "" {
		t.Fatalf("Next of closed should be empty, got %s", got)
	}
}

func TestTransitionSetsResolvedAt(t *testing.T) {
	inc := &Incident{State: StateInvestigated}
	if err := inc.Transition(StateResolved); err != nil {
		t.Fatalf("Transition failed: %v", err)
	}
	if inc.ResolvedAt == nil {
		t.Fatal("ResolvedAt not set on resolved transition")
	}
	if time.Since(*inc.ResolvedAt) > time.Minute {
		t.Fatalf("ResolvedAt not recent: %v", inc.ResolvedAt)
	}
}

func TestValidate(t *testing.T) {
	tests := []struct {
		name    string
		inc     Incident
		wantErr string
	}{
		{"valid", Incident{Title: "db down", Description: "pool exhausted", Severity: SeverityHigh}, ""},
		{"empty title", Incident{Description: "x", Severity: SeverityLow}, "title"},
		{"blank title", Incident{Title: "   ", Description: "x", Severity: SeverityLow}, "title"},
		{"empty description", Incident{Title: "x", Severity: SeverityLow}, "description"},
		{"bad severity", Incident{Title: "x", Description: "y", Severity: "urgent"}, "severity"},
	}
	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			err := tt.inc.Validate()
			if tt.wantErr == "" {
				if err != nil {
					t.Fatalf("unexpected error: %v", err)
				}
				return
			}
			var ve *ValidationError
			if !errors.As(err, &ve) {
				t.Fatalf("expected ValidationError, got %v", err)
			}
			if ve.Field != tt.wantErr {
				t.Fatalf("expected field %s, got %s", tt.wantErr, ve.Field)
			}
		})
	}
}

func TestCloneIsDeep(t *testing.T) {
	now := time.Now().UTC()
	orig := &Incident{
		ID:         "INC-0001",
		State:      StateResolved,
		ResolvedAt: &now,
		Resolution: &Plan{Steps: []string{"restart"}, Summary: "done"},
	}
	cp := orig.Clone()
	cp.Resolution.Steps[0] = "changed"
	cp.Resolution.Summary = "changed"
	*cp.ResolvedAt = now.Add(time.Hour)
	if orig.Resolution.Steps[0] != "restart" || orig.Resolution.Summary != "done" {
		t.Fatal("clone shares resolution with original")
	}
	if !orig.ResolvedAt.Equal(now) {
		t.Fatal("clone shares ResolvedAt with original")
	}
}
