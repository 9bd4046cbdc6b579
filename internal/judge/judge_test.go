package judge

import (
	"context"
	"errors"
	"io"
	"log/slog"
	"testing"

	"github.com/jkaninda/eiro/internal/llm"
)

func discardLogger() *slog.Logger {
	return slog.New(slog.NewTextHandler(io.Discard, nil))
}

type stubProvider struct {
	reply string
	err   error
}

func (s *stubProvider) SendMessage(context.Context, *llm.Request) (*llm.Response, error) {
	if s.err != nil {
		return nil, s.err
	}
	return &llm.Response{Content: s.reply}, nil
}

func (s *stubProvider) Name() string { return "stub" }

func TestEvaluateParsesScores(t *testing.T) {
	p := &stubProvider{reply: `{"accuracy": 9, "completeness": 8, "clarity": 9, "actionability": 7, "efficiency": 8, "strengths": "thorough", "weaknesses": "verbose"}`}
	j := New(p, 1024, discardLogger())

	res, err := j.Evaluate(context.Background(), "triage", "classify the incident", "high / connectivity")
	if err != nil {
		t.Fatalf("Evaluate failed: %v", err)
	}
	if len(res.Flagged) != 0 {
		t.Errorf("unexpected flags: %v", res.Flagged)
	}
	if res.Aggregate != 8.2 {
		t.Errorf("aggregate = %v, want 8.2", res.Aggregate)
	}
	if res.Recommendation != RecommendGood {
		t.Errorf("recommendation = %q, want good", res.Recommendation)
	}
	if res.Scores[CriterionAccuracy] != 9 {
		t.Errorf("accuracy = %d, want 9", res.Scores[CriterionAccuracy])
	}
	if res.Strengths != "thorough" {
		t.Errorf("strengths = %q", res.Strengths)
	}
}

func TestEvaluateFlagsInvalidScores(t *testing.T) {
	// Out-of-range and missing criteria both fall back to the midpoint.
	p := &stubProvider{reply: `{"accuracy": 14, "completeness": 8, "clarity": 0, "efficiency": 6}`}
	j := New(p, 1024, discardLogger())

	res, err := j.Evaluate(context.Background(), "resolution", "produce a plan", "plan text")
	if err != nil {
		t.Fatalf("Evaluate failed: %v", err)
	}
	wantFlagged := []string{CriterionAccuracy, CriterionClarity, CriterionActionability}
	if len(res.Flagged) != len(wantFlagged) {
		t.Fatalf("flagged = %v, want %v", res.Flagged, wantFlagged)
	}
	for i, name := range wantFlagged {
		if res.Flagged[i] != name {
			t.Errorf("flagged[%d] = %q, want %q", i, res.Flagged[i], name)
		}
	}
	for _, name := range wantFlagged {
		if res.Scores[name] != midpointScore {
			t.Errorf("%s = %d, want midpoint %d", name, res.Scores[name], midpointScore)
		}
	}
	// 5 + 8 + 5 + 5 + 6 = 29 -> 5.8
	if res.Aggregate != 5.8 {
		t.Errorf("aggregate = %v, want 5.8", res.Aggregate)
	}
}

func TestEvaluateUnparseableOutputDefaultsEverything(t *testing.T) {
	p := &stubProvider{reply: "The agent did a reasonable job overall."}
	j := New(p, 1024, discardLogger())

	res, err := j.Evaluate(context.Background(), "investigation", "find root cause", "analysis")
	if err != nil {
		t.Fatalf("Evaluate failed: %v", err)
	}
	if len(res.Flagged) != 5 {
		t.Fatalf("flagged = %v, want all five criteria", res.Flagged)
	}
	if res.Aggregate != 5.0 {
		t.Errorf("aggregate = %v, want 5.0", res.Aggregate)
	}
	if res.Recommendation != RecommendNeedsImprovement {
		t.Errorf("recommendation = %q, want needs_improvement", res.Recommendation)
	}
}

func TestEvaluatePropagatesProviderError(t *testing.T) {
	wantErr := errors.New("upstream unavailable")
	j := New(&stubProvider{err: wantErr}, 1024, discardLogger())

	if _, err := j.Evaluate(context.Background(), "triage", "t", "o"); !errors.Is(err, wantErr) {
		t.Fatalf("expected wrapped provider error, got %v", err)
	}
}

func TestAggregateRounding(t *testing.T) {
	scores := map[string]int{
		CriterionAccuracy:      9,
		CriterionCompleteness:  9,
		CriterionClarity:       10,
		CriterionActionability: 9,
		CriterionEfficiency:    9,
	}
	// 46 / 5 = 9.2 exactly, no float drift.
	if got := Aggregate(scores); got != 9.2 {
		t.Errorf("aggregate = %v, want 9.2", got)
	}
}

func TestRecommendationBuckets(t *testing.T) {
	tests := []struct {
		aggregate float64
		want      string
	}{
		{9.2, RecommendExcellent},
		{9.0, RecommendExcellent},
		{8.9, RecommendGood},
		{7.0, RecommendGood},
		{6.9, RecommendNeedsImprovement},
		{5.0, RecommendNeedsImprovement},
		{4.9, RecommendPoor},
		{1.0, RecommendPoor},
	}
	for _, tc := range tests {
		if got := Recommendation(tc.aggregate); got != tc.want {
			t.Errorf("Recommendation(%v) = %q, want %q", tc.aggregate, got, tc.want)
		}
	}
}
