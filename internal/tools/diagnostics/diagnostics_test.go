package diagnostics

import (
	"context"
	"errors"
	"io"
	"log/slog"
	"testing"
)

func discardLogger() *slog.Logger {
	return slog.New(slog.NewTextHandler(io.Discard, nil))
}

func TestCheckHealthAllComponents(t *testing.T) {
	p := NewProvider(discardLogger())
	comps, err := p.CheckHealth(context.Background(), "")
	if err != nil {
		t.Fatalf("CheckHealth failed: %v", err)
	}
	if len(comps) != 5 {
		t.Fatalf("expected 5 components, got %d", len(comps))
	}
	for _, c := range comps {
		if c.Status != StatusHealthy {
			t.Errorf("component %s not healthy at start: %s", c.Name, c.Status)
		}
	}
}

func TestCheckHealthSingleComponent(t *testing.T) {
	p := NewProvider(discardLogger())
	comps, err := p.CheckHealth(context.Background(), "database")
	if err != nil {
		t.Fatalf("CheckHealth failed: %v", err)
	}
	if len(comps) != 1 || comps[0].Name != "database" {
		t.Fatalf("unexpected result: %+v", comps)
	}
	if comps[0].ResponseTimeMS != 45 {
		t.Errorf("database response time = %d, want 45", comps[0].ResponseTimeMS)
	}
}

func TestCheckHealthUnknownComponent(t *testing.T) {
	p := NewProvider(discardLogger())
	if _, err := p.CheckHealth(context.Background(), "mainframe"); !errors.Is(err, ErrUnknownComponent) {
		t.Fatalf("expected ErrUnknownComponent, got %v", err)
	}
	if _, err := p.GetMetrics(context.Background(), "mainframe"); !errors.Is(err, ErrUnknownComponent) {
		t.Fatalf("expected ErrUnknownComponent, got %v", err)
	}
}

func TestOverallStatus(t *testing.T) {
	p := NewProvider(discardLogger())
	ctx := context.Background()

	status, err := p.OverallStatus(ctx)
	if err != nil {
		t.Fatalf("OverallStatus failed: %v", err)
	}
	if status != StatusHealthy {
		t.Errorf("status = %q, want healthy", status)
	}

	if err := p.SetStatus("cache", StatusDegraded); err != nil {
		t.Fatalf("SetStatus failed: %v", err)
	}
	status, err = p.OverallStatus(ctx)
	if err != nil {
		t.Fatalf("OverallStatus failed: %v", err)
	}
	if status != StatusDegraded {
		t.Errorf("status = %q, want degraded", status)
	}
}

func TestGetMetricsDeterministic(t *testing.T) {
	p := NewProvider(discardLogger())
	ctx := context.Background()

	first, err := p.GetMetrics(ctx, "api_server")
	if err != nil {
		t.Fatalf("GetMetrics failed: %v", err)
	}
	second, err := p.GetMetrics(ctx, "api_server")
	if err != nil {
		t.Fatalf("GetMetrics failed: %v", err)
	}
	if *first != *second {
		t.Errorf("metrics not deterministic: %+v vs %+v", first, second)
	}
	if first.CPUPercent < 20 || first.CPUPercent > 80 {
		t.Errorf("cpu out of range: %d", first.CPUPercent)
	}
}

func TestDiagnoseConfidenceOrdering(t *testing.T) {
	p := NewProvider(discardLogger())
	d, err := p.Diagnose(context.Background(), "API responses are slow and timing out")
	if err != nil {
		t.Fatalf("Diagnose failed: %v", err)
	}
	if d.Summary != "Performance degradation" {
		t.Errorf("summary = %q", d.Summary)
	}
	if len(d.Causes) == 0 {
		t.Fatal("expected causes")
	}
	for i, c := range d.Causes {
		if c.Confidence < 0 || c.Confidence > 1 {
			t.Errorf("cause %d confidence out of range: %v", i, c.Confidence)
		}
		if i > 0 && c.Confidence > d.Causes[i-1].Confidence {
			t.Errorf("causes not sorted by descending confidence at %d", i)
		}
	}
}

func TestDiagnoseDegradedDatabaseBoosted(t *testing.T) {
	p := NewProvider(discardLogger())
	if err := p.SetStatus("database", StatusDegraded); err != nil {
		t.Fatalf("SetStatus failed: %v", err)
	}

	d, err := p.Diagnose(context.Background(), "users report connection errors to the service")
	if err != nil {
		t.Fatalf("Diagnose failed: %v", err)
	}
	if d.Causes[0].Description != "Database connection pool exhaustion" {
		t.Errorf("top cause = %q, want database pool exhaustion", d.Causes[0].Description)
	}
	if d.Causes[0].Confidence <= 0.5 {
		t.Errorf("degraded database should boost confidence, got %v", d.Causes[0].Confidence)
	}
}

func TestDiagnoseUnknownSymptom(t *testing.T) {
	p := NewProvider(discardLogger())
	d, err := p.Diagnose(context.Background(), "the office plants are wilting")
	if err != nil {
		t.Fatalf("Diagnose failed: %v", err)
	}
	if d.Summary != "Unknown issue" {
		t.Errorf("summary = %q, want Unknown issue", d.Summary)
	}
}
