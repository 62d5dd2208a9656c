package postgres

import (
	"context"
	"time"

	"gorm.io/gorm"

	"github.com/flowforge/automation/pkg/model"
	"github.com/flowforge/automation/pkg/store"
)

type OutcomeRepository struct {
	db *gorm.DB
}

func NewOutcomeRepository(db *gorm.DB) *OutcomeRepository {
	return &OutcomeRepository{db: db}
}

var _ store.OutcomeStore = (*OutcomeRepository)(nil)

func (r *OutcomeRepository) Record(ctx context.Context, outcomes []*model.DispatchOutcome) error {
	if len(outcomes) == 0 {
		return nil
	}
	return r.db.WithContext(ctx).CreateInBatches(outcomes, 100).Error
}

func (r *OutcomeRepository) List(ctx context.Context, query store.OutcomeQuery) ([]model.DispatchOutcome, error) {
	if query.CompanyID <= 0 {
		return nil, gorm.ErrInvalidValue
	}

	dbQuery := r.db.WithContext(ctx).
		Where("company_profile_id = ?", query.CompanyID).
		Order("timestamp DESC, id DESC")

	if query.EventID > 0 {
		dbQuery = dbQuery.Where("event_id = ?", query.EventID)
	}

	if query.EventType != "" {
		dbQuery = dbQuery.Where("event_type = ?", query.EventType)
	}

	if query.Outcome != "" {
		dbQuery = dbQuery.Where("outcome = ?", query.Outcome)
	}

	if query.StartTime != nil {
		dbQuery = dbQuery.Where("timestamp >= ?", *query.StartTime)
	}

	if query.EndTime != nil {
		dbQuery = dbQuery.Where("timestamp <= ?", *query.EndTime)
	}

	if query.Limit > 0 {
		dbQuery = dbQuery.Limit(query.Limit)
	}

	var outcomes []model.DispatchOutcome
	err := dbQuery.Find(&outcomes).Error
	return outcomes, err
}

func (r *OutcomeRepository) DeleteOld(ctx context.Context, retentionDays int) error {
	cutoff := time.Now().AddDate(0, 0, -retentionDays)
	return r.db.WithContext(ctx).
		Where("created_at < ?", cutoff).
		Delete(&model.DispatchOutcome{}).Error
}

// Close is a no-op; the connection pool belongs to the Store.
func (r *OutcomeRepository) Close() error {
	return nil
}
