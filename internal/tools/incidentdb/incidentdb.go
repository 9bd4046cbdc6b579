// Package incidentdb is the incident record tool: typed create, read,
// update, and lifecycle operations over a pluggable repository.
package incidentdb

import (
	"context"
	"fmt"
	"io"
	"log/slog"
	"time"

	"github.com/jkaninda/eiro/internal/incident"
)

// Repo is the persistence contract the store operates on. The default
// is the in-memory repo; database-backed implementations live in the
// storage package.
type Repo interface {
	NextSeq(ctx context.Context) (int, error)
	Insert(ctx context.Context, inc *incident.Incident) error
	Fetch(ctx context.Context, id string) (*incident.Incident, error)
	Save(ctx context.Context, inc *incident.Incident) error
	FetchAll(ctx context.Context, f Filter) ([]*incident.Incident, error)
}

// Filter narrows a listing. Zero-value fields match everything.
type Filter struct {
	State    incident.State
	Severity incident.Severity
}

// Matches reports whether the incident passes the filter.
func (f Filter) Matches(inc *incident.Incident) bool {
	if f.State != "" && inc.State != f.State {
		return false
	}
	if f.Severity != "" && inc.Severity != f.Severity {
		return false
	}
	return true
}

// Patch is a partial update. Nil fields are left untouched; only
// non-nil fields overwrite the stored record.
type Patch struct {
	Priority   *incident.Priority
	Category   *incident.Category
	AssignedTo *string
	RootCause  *string
	Resolution *incident.Plan
}

// Store is the incident database tool.
type Store struct {
	repo   Repo
	logger *slog.Logger
}

// NewStore creates the incident tool over the given repository. A nil
// repo falls back to the in-memory implementation; a nil logger
// discards.
func NewStore(repo Repo, logger *slog.Logger) *Store {
	if repo == nil {
		repo = NewMemRepo()
	}
	if logger == nil {
		logger = slog.New(slog.NewTextHandler(io.Discard, nil))
	}
	return &Store{repo: repo, logger: logger}
}

// Create validates and persists a new incident, assigning a sequential
// INC-XXXX identifier and the created state.
func (s *Store) Create(ctx context.Context, inc *incident.Incident) (*incident.Incident, error) {
	if err := inc.Validate(); err != nil {
		return nil, err
	}

	seq, err := s.repo.NextSeq(ctx)
	if err != nil {
		return nil, fmt.Errorf("allocating incident id: %w", err)
	}

	now := time.Now().UTC()
	rec := inc.Clone()
	rec.ID = fmt.Sprintf("INC-%04d", seq)
	rec.State = incident.StateCreated
	rec.CreatedAt = now
	rec.UpdatedAt = now

	if err := s.repo.Insert(ctx, rec); err != nil {
		return nil, fmt.Errorf("inserting incident %s: %w", rec.ID, err)
	}

	s.logger.InfoContext(ctx, "incident created",
		slog.String("incident_id", rec.ID),
		slog.String("severity", string(rec.Severity)),
	)
	return rec.Clone(), nil
}

// Get returns a copy of the incident, or incident.ErrNotFound.
func (s *Store) Get(ctx context.Context, id string) (*incident.Incident, error) {
	rec, err := s.repo.Fetch(ctx, id)
	if err != nil {
		return nil, err
	}
	return rec.Clone(), nil
}

// Update applies a partial patch to the incident. Fields absent from
// the patch are never cleared.
func (s *Store) Update(ctx context.Context, id string, patch Patch) (*incident.Incident, error) {
	rec, err := s.repo.Fetch(ctx, id)
	if err != nil {
		return nil, err
	}

	if patch.Priority != nil {
		if !incident.ValidPriority(*patch.Priority) {
			return nil, &incident.ValidationError{Field: "priority", Reason: fmt.Sprintf("unknown value %q", *patch.Priority)}
		}
		rec.Priority = *patch.Priority
	}
	if patch.Category != nil {
		if !incident.ValidCategory(*patch.Category) {
			return nil, &incident.ValidationError{Field: "category", Reason: fmt.Sprintf("unknown value %q", *patch.Category)}
		}
		rec.Category = *patch.Category
	}
	if patch.AssignedTo != nil {
		rec.AssignedTo = *patch.AssignedTo
	}
	if patch.RootCause != nil {
		rec.RootCause = *patch.RootCause
	}
	if patch.Resolution != nil {
		rec.Resolution = patch.Resolution
	}
	rec.UpdatedAt = time.Now().UTC()

	if err := s.repo.Save(ctx, rec); err != nil {
		return nil, fmt.Errorf("saving incident %s: %w", id, err)
	}
	return rec.Clone(), nil
}

// Transition advances the incident lifecycle by one step. Illegal
// moves return incident.InvalidTransitionError and leave the record
// untouched.
func (s *Store) Transition(ctx context.Context, id string, to incident.State) (*incident.Incident, error) {
	rec, err := s.repo.Fetch(ctx, id)
	if err != nil {
		return nil, err
	}

	if err := rec.Transition(to); err != nil {
		return nil, err
	}
	if err := s.repo.Save(ctx, rec); err != nil {
		return nil, fmt.Errorf("saving incident %s: %w", id, err)
	}

	s.logger.InfoContext(ctx, "incident transitioned",
		slog.String("incident_id", id),
		slog.String("state", string(to)),
	)
	return rec.Clone(), nil
}

// List returns incidents matching the filter, newest first. The zero
// filter returns everything.
func (s *Store) List(ctx context.Context, f Filter) ([]*incident.Incident, error) {
	recs, err := s.repo.FetchAll(ctx, f)
	if err != nil {
		return nil, err
	}
	out := make([]*incident.Incident, len(recs))
	for i, r := range recs {
		out[i] = r.Clone()
	}
	return out, nil
}
