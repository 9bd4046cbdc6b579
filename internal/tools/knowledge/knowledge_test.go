package knowledge

import (
	"context"
	"errors"
	"testing"

	"github.com/jkaninda/eiro/internal/incident"
)

func TestSearchRelevanceOrdering(t *testing.T) {
	b := NewBase()
	results, err := b.Search(context.Background(), "database connection timeout", "")
	if err != nil {
		t.Fatalf("Search failed: %v", err)
	}
	if len(results) == 0 {
		t.Fatal("expected results")
	}
	if results[0].ID != "KB-001" {
		t.Errorf("top result = %s, want KB-001", results[0].ID)
	}
	for i := 1; i < len(results); i++ {
		if results[i].Relevance > results[i-1].Relevance {
			t.Errorf("results not sorted by descending relevance at index %d", i)
		}
	}
	for _, r := range results {
		if r.Relevance < 0 || r.Relevance > 1 {
			t.Errorf("relevance out of range for %s: %v", r.ID, r.Relevance)
		}
	}
}

func TestSearchTieBreakRecencyThenID(t *testing.T) {
	b := NewBase()
	// "resolution" hits the titles of KB-001 and KB-004 equally.
	results, err := b.Search(context.Background(), "resolution", "")
	if err != nil {
		t.Fatalf("Search failed: %v", err)
	}
	if len(results) < 2 {
		t.Fatalf("expected at least 2 results, got %d", len(results))
	}
	if results[0].Relevance == results[1].Relevance {
		if results[0].UpdatedAt.Before(results[1].UpdatedAt) {
			t.Error("tied results not ordered by recency")
		}
	}
}

func TestSearchCategoryFilter(t *testing.T) {
	b := NewBase()
	results, err := b.Search(context.Background(), "cache", "cache")
	if err != nil {
		t.Fatalf("Search failed: %v", err)
	}
	for _, r := range results {
		if r.Category != "cache" {
			t.Errorf("result %s outside category filter: %s", r.ID, r.Category)
		}
	}
}

func TestSearchNoWeakMatches(t *testing.T) {
	b := NewBase()
	results, err := b.Search(context.Background(), "zeppelin maintenance schedule", "")
	if err != nil {
		t.Fatalf("Search failed: %v", err)
	}
	if len(results) != 0 {
		t.Errorf("expected empty result set for unrelated query, got %d", len(results))
	}
}

func TestSearchEmptyQuery(t *testing.T) {
	b := NewBase()
	results, err := b.Search(context.Background(), "   ", "")
	if err != nil {
		t.Fatalf("Search failed: %v", err)
	}
	if len(results) != 0 {
		t.Errorf("expected no results for blank query, got %d", len(results))
	}
}

func TestGetArticle(t *testing.T) {
	b := NewBase()
	a, err := b.GetArticle(context.Background(), "KB-003")
	if err != nil {
		t.Fatalf("GetArticle failed: %v", err)
	}
	if a.Title != "Cache Invalidation Best Practices" {
		t.Errorf("unexpected title %q", a.Title)
	}

	if _, err := b.GetArticle(context.Background(), "KB-999"); !errors.Is(err, incident.ErrNotFound) {
		t.Fatalf("expected ErrNotFound for unknown article, got %v", err)
	}
}

func TestByCategory(t *testing.T) {
	b := NewBase()
	arts, err := b.ByCategory(context.Background(), "database")
	if err != nil {
		t.Fatalf("ByCategory failed: %v", err)
	}
	if len(arts) != 1 || arts[0].ID != "KB-001" {
		t.Fatalf("unexpected articles: %+v", arts)
	}
}
