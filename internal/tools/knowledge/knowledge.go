// Package knowledge is the knowledge base tool: keyword search and
// lookup over internal runbook articles.
package knowledge

import (
	"context"
	"fmt"
	"sort"
	"strings"
	"time"

	"github.com/jkaninda/eiro/internal/incident"
)

// Article is one knowledge base entry.
type Article struct {
	ID        string    `json:"id"`
	Title     string    `json:"title"`
	Category  string    `json:"category"`
	Content   string    `json:"content"`
	Tags      []string  `json:"tags"`
	UpdatedAt time.Time `json:"updated_at"`
}

// Result is a matched article with its normalized relevance in [0, 1].
type Result struct {
	Article
	Relevance float64 `json:"relevance"`
}

const (
	// relevanceThreshold filters out weak matches entirely.
	relevanceThreshold = 0.1
	// maxResults caps a single search.
	maxResults = 5
)

// Base serves searches over a fixed article set.
type Base struct {
	articles []Article
}

// NewBase creates a knowledge base seeded with the built-in runbook
// articles.
func NewBase() *Base {
	return &Base{articles: seedArticles()}
}

func seedArticles() []Article {
	base := time.Date(2026, time.January, 15, 0, 0, 0, 0, time.UTC)
	return []Article{
		{
			ID:        "KB-001",
			Title:     "Database Connection Timeout Resolution",
			Category:  "database",
			Content:   "If experiencing database connection timeouts, check: 1) Connection pool size, 2) Network latency, 3) Database server load. Solution: Increase pool size or add read replicas.",
			Tags:      []string{"database", "timeout", "connection", "performance"},
			UpdatedAt: base.AddDate(0, 4, 0),
		},
		{
			ID:        "KB-002",
			Title:     "API Rate Limiting Issues",
			Category:  "api",
			Content:   "API rate limiting can cause 429 errors. Check API key quotas, implement exponential backoff, or request quota increase from provider.",
			Tags:      []string{"api", "rate-limit", "429", "quota"},
			UpdatedAt: base.AddDate(0, 3, 0),
		},
		{
			ID:        "KB-003",
			Title:     "Cache Invalidation Best Practices",
			Category:  "cache",
			Content:   "When cache becomes stale, invalidate using TTL or manual invalidation. For distributed caches, use cache tags or pub/sub invalidation.",
			Tags:      []string{"cache", "invalidation", "stale-data"},
			UpdatedAt: base.AddDate(0, 2, 0),
		},
		{
			ID:        "KB-004",
			Title:     "Message Queue Backlog Resolution",
			Category:  "messaging",
			Content:   "If message queue has backlog, scale consumers, check consumer health, or increase processing capacity. Monitor queue depth metrics.",
			Tags:      []string{"queue", "backlog", "scaling", "messaging"},
			UpdatedAt: base.AddDate(0, 1, 0),
		},
		{
			ID:        "KB-005",
			Title:     "File Storage Access Denied",
			Category:  "storage",
			Content:   "Access denied errors usually indicate permission issues. Check IAM roles, file permissions, or service account credentials.",
			Tags:      []string{"storage", "permissions", "access-denied", "iam"},
			UpdatedAt: base,
		},
	}
}

// Search matches query words against title, content, and tags. Results
// below the relevance threshold are dropped. Ordering is relevance
// descending, then most recently updated, then ID ascending.
func (b *Base) Search(_ context.Context, query, category string) ([]Result, error) {
	words := strings.Fields(strings.ToLower(query))
	if len(words) == 0 {
		return nil, nil
	}

	var results []Result
	for _, a := range b.articles {
		if category != "" && a.Category != category {
			continue
		}

		// Title hits weigh 3, content 2, tags 1, for a max raw score of 6.
		score := 0
		if anyWordIn(words, strings.ToLower(a.Title)) {
			score += 3
		}
		if anyWordIn(words, strings.ToLower(a.Content)) {
			score += 2
		}
		if anyWordIn(words, strings.ToLower(strings.Join(a.Tags, " "))) {
			score++
		}

		rel := float64(score) / 6
		if rel < relevanceThreshold {
			continue
		}
		results = append(results, Result{Article: a, Relevance: rel})
	}

	sort.Slice(results, func(i, j int) bool {
		if results[i].Relevance != results[j].Relevance {
			return results[i].Relevance > results[j].Relevance
		}
		if !results[i].UpdatedAt.Equal(results[j].UpdatedAt) {
			return results[i].UpdatedAt.After(results[j].UpdatedAt)
		}
		return results[i].ID < results[j].ID
	})

	if len(results) > maxResults {
		results = results[:maxResults]
	}
	return results, nil
}

// GetArticle returns a single article by ID, or an error wrapping
// incident.ErrNotFound.
func (b *Base) GetArticle(_ context.Context, id string) (*Article, error) {
	for _, a := range b.articles {
		if a.ID == id {
			out := a
			return &out, nil
		}
	}
	return nil, fmt.Errorf("article %q: %w", id, incident.ErrNotFound)
}

// ByCategory returns all articles in a category, ID ascending.
func (b *Base) ByCategory(_ context.Context, category string) ([]Article, error) {
	var out []Article
	for _, a := range b.articles {
		if a.Category == category {
			out = append(out, a)
		}
	}
	sort.Slice(out, func(i, j int) bool { return out[i].ID < out[j].ID })
	return out, nil
}

func anyWordIn(words []string, text string) bool {
	for _, w := range words {
		if strings.Contains(text, w) {
			return true
		}
	}
	return false
}
