package incidentdb

import (
	"context"
	"sort"
	"sync"

	"github.com/jkaninda/eiro/internal/incident"
)

// MemRepo is the default in-memory repository. Safe for concurrent use.
type MemRepo struct {
	mu   sync.Mutex
	seq  int
	recs map[string]*incident.Incident
}

// NewMemRepo creates an empty in-memory repository.
func NewMemRepo() *MemRepo {
	return &MemRepo{recs: make(map[string]*incident.Incident)}
}

func (r *MemRepo) NextSeq(_ context.Context) (int, error) {
	r.mu.Lock()
	defer r.mu.Unlock()
	r.seq++
	return r.seq, nil
}

func (r *MemRepo) Insert(_ context.Context, inc *incident.Incident) error {
	r.mu.Lock()
	defer r.mu.Unlock()
	r.recs[inc.ID] = inc.Clone()
	return nil
}

func (r *MemRepo) Fetch(_ context.Context, id string) (*incident.Incident, error) {
	r.mu.Lock()
	defer r.mu.Unlock()
	rec, ok := r.recs[id]
	if !ok {
		return nil, incident.ErrNotFound
	}
	return rec.Clone(), nil
}

func (r *MemRepo) Save(_ context.Context, inc *incident.Incident) error {
	r.mu.Lock()
	defer r.mu.Unlock()
	if _, ok := r.recs[inc.ID]; !ok {
		return incident.ErrNotFound
	}
	r.recs[inc.ID] = inc.Clone()
	return nil
}

func (r *MemRepo) FetchAll(_ context.Context, f Filter) ([]*incident.Incident, error) {
	r.mu.Lock()
	defer r.mu.Unlock()
	out := make([]*incident.Incident, 0, len(r.recs))
	for _, rec := range r.recs {
		if !f.Matches(rec) {
			continue
		}
		out = append(out, rec.Clone())
	}
	sort.Slice(out, func(i, j int) bool {
		if !out[i].CreatedAt.Equal(out[j].CreatedAt) {
			return out[i].CreatedAt.After(out[j].CreatedAt)
		}
		return out[i].ID > out[j].ID
	})
	return out, nil
}

var _ Repo = (*MemRepo)(nil)
