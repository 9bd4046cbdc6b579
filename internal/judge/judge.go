// Package judge scores stage outputs with an LLM against a fixed
// rubric. Scoring is read-only: the judge never touches the incident
// or its session, it only produces evaluation records.
package judge

import (
	"context"
	"encoding/json"
	"fmt"
	"io"
	"log/slog"

	"github.com/jkaninda/eiro/internal/llm"
)

// Criteria, in rubric order.
const (
	CriterionAccuracy      = "accuracy"
	CriterionCompleteness  = "completeness"
	CriterionClarity       = "clarity"
	CriterionActionability = "actionability"
	CriterionEfficiency    = "efficiency"
)

var criteria = []string{
	CriterionAccuracy,
	CriterionCompleteness,
	CriterionClarity,
	CriterionActionability,
	CriterionEfficiency,
}

// Recommendation buckets derived from the aggregate score.
const (
	RecommendExcellent        = "excellent"
	RecommendGood             = "good"
	RecommendNeedsImprovement = "needs_improvement"
	RecommendPoor             = "poor"
)

// midpointScore substitutes for any criterion the judge fails to score
// with a valid integer in [1, 10].
const midpointScore = 5

// EvaluationResult is one scored stage output.
type EvaluationResult struct {
	Stage          string         `json:"stage"`
	Scores         map[string]int `json:"scores"`
	Aggregate      float64        `json:"aggregate"`
	Recommendation string         `json:"recommendation"`

	// Flagged lists criteria that fell back to the midpoint because
	// the judge's output for them was missing or out of range.
	Flagged []string `json:"flagged,omitempty"`

	Strengths  string `json:"strengths,omitempty"`
	Weaknesses string `json:"weaknesses,omitempty"`
}

// Judge scores stage outputs using the reasoning capability.
type Judge struct {
	provider  llm.Provider
	maxTokens int
	logger    *slog.Logger
}

// New creates a judge backed by the given provider.
func New(provider llm.Provider, maxTokens int, logger *slog.Logger) *Judge {
	if logger == nil {
		logger = slog.New(slog.NewTextHandler(io.Discard, nil))
	}
	return &Judge{provider: provider, maxTokens: maxTokens, logger: logger}
}

const systemPrompt = `You are an expert evaluator assessing an AI agent's performance in an enterprise incident response system.

Score the agent's output on each criterion from 1 (worst) to 10 (best):
1. Accuracy: was the output correct and appropriate for the task?
2. Completeness: did it address all aspects of the task?
3. Clarity: was it clear and well structured?
4. Actionability: did it provide actionable next steps?
5. Efficiency: was it concise and to the point?

Output ONLY a JSON object with this schema:
{
  "accuracy": 1-10,
  "completeness": 1-10,
  "clarity": 1-10,
  "actionability": 1-10,
  "efficiency": 1-10,
  "strengths": "What the agent did well",
  "weaknesses": "Areas for improvement"
}`

// Evaluate scores one stage's output. Judge failures are absorbed:
// any criterion without a valid score defaults to the midpoint and is
// flagged, so evaluation never aborts a completed run.
func (j *Judge) Evaluate(ctx context.Context, stage, task, output string) (*EvaluationResult, error) {
	prompt := fmt.Sprintf("Stage: %s\nTask: %s\n\nAgent Output:\n%s", stage, task, output)

	resp, err := j.provider.SendMessage(ctx, &llm.Request{
		SystemPrompt: systemPrompt,
		Messages:     []llm.Message{{Role: llm.RoleUser, Content: prompt}},
		MaxTokens:    j.maxTokens,
	})
	if err != nil {
		return nil, fmt.Errorf("judge model call for %s: %w", stage, err)
	}

	result := scoreFromOutput(stage, resp.Content)
	if len(result.Flagged) > 0 {
		j.logger.WarnContext(ctx, "judge output partially unusable, midpoint defaults applied",
			slog.String("stage", stage),
			slog.Any("flagged", result.Flagged))
	}
	j.logger.InfoContext(ctx, "stage evaluated",
		slog.String("stage", stage),
		slog.Float64("aggregate", result.Aggregate),
		slog.String("recommendation", result.Recommendation))
	return result, nil
}

// scoreFromOutput builds the deterministic part of the evaluation from
// whatever the judge produced.
func scoreFromOutput(stage, text string) *EvaluationResult {
	result := &EvaluationResult{
		Stage:  stage,
		Scores: make(map[string]int, len(criteria)),
	}

	var parsed struct {
		Accuracy      *int   `json:"accuracy"`
		Completeness  *int   `json:"completeness"`
		Clarity       *int   `json:"clarity"`
		Actionability *int   `json:"actionability"`
		Efficiency    *int   `json:"efficiency"`
		Strengths     string `json:"strengths"`
		Weaknesses    string `json:"weaknesses"`
	}
	if raw, ok := llm.ExtractJSON(text); ok {
		// Field-level failures are handled below; an outright decode
		// failure just leaves every pointer nil.
		_ = json.Unmarshal(raw, &parsed)
		result.Strengths = parsed.Strengths
		result.Weaknesses = parsed.Weaknesses
	}

	byName := map[string]*int{
		CriterionAccuracy:      parsed.Accuracy,
		CriterionCompleteness:  parsed.Completeness,
		CriterionClarity:       parsed.Clarity,
		CriterionActionability: parsed.Actionability,
		CriterionEfficiency:    parsed.Efficiency,
	}

	sum := 0
	for _, name := range criteria {
		score := byName[name]
		if score == nil || *score < 1 || *score > 10 {
			result.Scores[name] = midpointScore
			result.Flagged = append(result.Flagged, name)
			sum += midpointScore
			continue
		}
		result.Scores[name] = *score
		sum += *score
	}

	result.Aggregate = Aggregate(result.Scores)
	result.Recommendation = Recommendation(result.Aggregate)
	return result
}

// Aggregate is the mean of the five criterion scores, rounded to one
// decimal place.
func Aggregate(scores map[string]int) float64 {
	sum := 0
	for _, name := range criteria {
		sum += scores[name]
	}
	// Integer sum over five criteria: sum*2 is the mean in tenths.
	return float64(sum*2) / 10
}

// Recommendation maps an aggregate score to its bucket.
func Recommendation(aggregate float64) string {
	switch {
	case aggregate >= 9:
		return RecommendExcellent
	case aggregate >= 7:
		return RecommendGood
	case aggregate >= 5:
		return RecommendNeedsImprovement
	default:
		return RecommendPoor
	}
}
