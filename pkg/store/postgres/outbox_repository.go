package postgres

import (
	"context"
	"time"

	"github.com/google/uuid"
	"gorm.io/gorm"
	"gorm.io/gorm/clause"

	"github.com/flowforge/automation/pkg/model"
)

// OutboxRepository stores follow-on jobs until the relay publishes them.
type OutboxRepository struct {
	db *gorm.DB
}

func NewOutboxRepository(db *gorm.DB) *OutboxRepository {
	return &OutboxRepository{db: db}
}

// Enqueue writes a pending job. A job whose dedupe key was already written
// for the tenant is dropped silently.
func (r *OutboxRepository) Enqueue(ctx context.Context, job *model.Job) error {
	return insertJob(r.db.WithContext(ctx), job)
}

// insertJob writes a job with tx so it commits or rolls back with the
// caller's other writes.
func insertJob(tx *gorm.DB, job *model.Job) error {
	if job == nil {
		return nil
	}
	if job.ID == uuid.Nil {
		job.ID = uuid.New()
	}
	if job.Status == "" {
		job.Status = model.OutboxStatusPending
	}
	return tx.Clauses(clause.OnConflict{DoNothing: true}).Create(job).Error
}

func (r *OutboxRepository) ListPending(ctx context.Context, limit int) ([]model.Job, error) {
	if limit <= 0 {
		limit = 100
	}
	var jobs []model.Job
	err := r.db.WithContext(ctx).
		Where("status = ?", model.OutboxStatusPending).
		Order("created_at ASC").
		Limit(limit).
		Find(&jobs).Error
	return jobs, err
}

func (r *OutboxRepository) MarkPublished(ctx context.Context, jobID uuid.UUID, publishedAt time.Time) error {
	updates := map[string]interface{}{
		"status":       model.OutboxStatusPublished,
		"published_at": publishedAt,
	}
	return r.db.WithContext(ctx).
		Model(&model.Job{}).
		Where("id = ?", jobID).
		Updates(updates).Error
}

func (r *OutboxRepository) MarkFailed(ctx context.Context, jobID uuid.UUID) error {
	return r.db.WithContext(ctx).
		Model(&model.Job{}).
		Where("id = ?", jobID).
		Update("status", model.OutboxStatusFailed).Error
}
