package gormstore

import (
	"context"
	"errors"
	"fmt"

	"gorm.io/gorm"
	"gorm.io/gorm/clause"

	"github.com/jkaninda/eiro/internal/incident"
	"github.com/jkaninda/eiro/internal/observability"
	"github.com/jkaninda/eiro/internal/session"
	"github.com/jkaninda/eiro/internal/tools/incidentdb"
	"github.com/jkaninda/eiro/internal/tools/notify"
)

const incidentSeqName = "incident"

// Incidents returns the incident repository backed by this store.
func (s *Store) Incidents() *IncidentRepo { return &IncidentRepo{db: s.db} }

// History returns the session history store backed by this store.
func (s *Store) History() *HistoryRepo { return &HistoryRepo{db: s.db} }

// Traces returns the trace store backed by this store.
func (s *Store) Traces() *TraceRepo { return &TraceRepo{db: s.db} }

// Receipts returns the notification receipt store backed by this store.
func (s *Store) Receipts() *ReceiptRepo { return &ReceiptRepo{db: s.db} }

// IncidentRepo persists incidents.
type IncidentRepo struct {
	db *gorm.DB
}

var _ incidentdb.Repo = (*IncidentRepo)(nil)

func (r *IncidentRepo) NextSeq(ctx context.Context) (int, error) {
	var next int
	err := r.db.WithContext(ctx).Transaction(func(tx *gorm.DB) error {
		// The insert goes first so the transaction starts as a writer
		// on SQLite, whose single-writer lock then covers the read.
		err := tx.Clauses(clause.OnConflict{DoNothing: true}).
			Create(&SequenceModel{Name: incidentSeqName}).Error
		if err != nil {
			return err
		}
		read := tx
		if tx.Dialector.Name() != "sqlite" {
			// SQLite has no FOR UPDATE.
			read = tx.Clauses(clause.Locking{Strength: "UPDATE"})
		}
		var seq SequenceModel
		if err := read.Where("name = ?", incidentSeqName).First(&seq).Error; err != nil {
			return err
		}
		next = seq.Value + 1
		return tx.Model(&SequenceModel{}).
			Where("name = ?", incidentSeqName).
			Update("value", next).Error
	})
	if err != nil {
		return 0, fmt.Errorf("advancing incident sequence: %w", err)
	}
	return next, nil
}

func (r *IncidentRepo) Insert(ctx context.Context, inc *incident.Incident) error {
	m, err := incidentToModel(inc)
	if err != nil {
		return err
	}
	if err := r.db.WithContext(ctx).Create(m).Error; err != nil {
		return fmt.Errorf("inserting incident %s: %w", inc.ID, err)
	}
	return nil
}

func (r *IncidentRepo) Fetch(ctx context.Context, id string) (*incident.Incident, error) {
	var m IncidentModel
	err := r.db.WithContext(ctx).First(&m, "id = ?", id).Error
	if errors.Is(err, gorm.ErrRecordNotFound) {
		return nil, incident.ErrNotFound
	}
	if err != nil {
		return nil, fmt.Errorf("fetching incident %s: %w", id, err)
	}
	return m.toDomain()
}

func (r *IncidentRepo) Save(ctx context.Context, inc *incident.Incident) error {
	m, err := incidentToModel(inc)
	if err != nil {
		return err
	}
	res := r.db.WithContext(ctx).Model(&IncidentModel{}).
		Where("id = ?", inc.ID).
		Select("*").Omit("id").
		Updates(m)
	if res.Error != nil {
		return fmt.Errorf("saving incident %s: %w", inc.ID, res.Error)
	}
	if res.RowsAffected == 0 {
		return incident.ErrNotFound
	}
	return nil
}

func (r *IncidentRepo) FetchAll(ctx context.Context, f incidentdb.Filter) ([]*incident.Incident, error) {
	q := r.db.WithContext(ctx)
	if f.State != "" {
		q = q.Where("state = ?", string(f.State))
	}
	if f.Severity != "" {
		q = q.Where("severity = ?", string(f.Severity))
	}
	var models []IncidentModel
	if err := q.Order("created_at desc, id desc").Find(&models).Error; err != nil {
		return nil, fmt.Errorf("listing incidents: %w", err)
	}
	out := make([]*incident.Incident, 0, len(models))
	for i := range models {
		inc, err := models[i].toDomain()
		if err != nil {
			return nil, err
		}
		out = append(out, inc)
	}
	return out, nil
}

// HistoryRepo persists session history entries.
type HistoryRepo struct {
	db *gorm.DB
}

var _ session.HistoryStore = (*HistoryRepo)(nil)

func (r *HistoryRepo) AppendEntry(incidentID string, e session.Entry) error {
	m, err := historyToModel(incidentID, e)
	if err != nil {
		return err
	}
	if err := r.db.Create(m).Error; err != nil {
		return fmt.Errorf("appending history for %s: %w", incidentID, err)
	}
	return nil
}

func (r *HistoryRepo) Entries(incidentID string) ([]session.Entry, error) {
	var models []HistoryModel
	err := r.db.Where("incident_id = ?", incidentID).Order("id").Find(&models).Error
	if err != nil {
		return nil, fmt.Errorf("loading history for %s: %w", incidentID, err)
	}
	out := make([]session.Entry, 0, len(models))
	for i := range models {
		e, err := models[i].toDomain()
		if err != nil {
			return nil, err
		}
		out = append(out, e)
	}
	return out, nil
}

// TraceRepo persists completed run traces.
type TraceRepo struct {
	db *gorm.DB
}

var _ observability.TraceStore = (*TraceRepo)(nil)

func (r *TraceRepo) SaveTrace(ctx context.Context, t *observability.Trace) error {
	m, err := traceToModel(t)
	if err != nil {
		return err
	}
	err = r.db.WithContext(ctx).Clauses(clause.OnConflict{UpdateAll: true}).Create(m).Error
	if err != nil {
		return fmt.Errorf("saving trace %s: %w", t.ID, err)
	}
	return nil
}

// TracesFor returns all persisted traces for one incident, oldest first.
func (r *TraceRepo) TracesFor(ctx context.Context, incidentID string) ([]*observability.Trace, error) {
	var models []TraceModel
	err := r.db.WithContext(ctx).
		Where("incident_id = ?", incidentID).
		Order("started_at").Find(&models).Error
	if err != nil {
		return nil, fmt.Errorf("loading traces for %s: %w", incidentID, err)
	}
	out := make([]*observability.Trace, 0, len(models))
	for i := range models {
		t, err := models[i].toDomain()
		if err != nil {
			return nil, err
		}
		out = append(out, t)
	}
	return out, nil
}

// ReceiptRepo persists notification receipts.
type ReceiptRepo struct {
	db *gorm.DB
}

var _ notify.ReceiptStore = (*ReceiptRepo)(nil)

func (r *ReceiptRepo) SaveReceipt(ctx context.Context, rec notify.Receipt) error {
	err := r.db.WithContext(ctx).Clauses(clause.OnConflict{DoNothing: true}).
		Create(receiptToModel(rec)).Error
	if err != nil {
		return fmt.Errorf("saving receipt %s: %w", rec.ID, err)
	}
	return nil
}

// ReceiptsFor returns persisted receipts for one recipient, oldest first.
func (r *ReceiptRepo) ReceiptsFor(ctx context.Context, recipient string) ([]notify.Receipt, error) {
	var models []ReceiptModel
	err := r.db.WithContext(ctx).
		Where("recipient = ?", recipient).
		Order("sent_at").Find(&models).Error
	if err != nil {
		return nil, fmt.Errorf("loading receipts for %s: %w", recipient, err)
	}
	out := make([]notify.Receipt, 0, len(models))
	for i := range models {
		out = append(out, models[i].toDomain())
	}
	return out, nil
}
