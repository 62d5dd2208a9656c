package postgres

import (
	"context"
	"time"

	"github.com/google/uuid"
	"gorm.io/gorm"
	"gorm.io/gorm/clause"

	"github.com/flowforge/automation/pkg/model"
	"github.com/flowforge/automation/pkg/store"
)

// EventRepository persists the automation event queue.
type EventRepository struct {
	db *gorm.DB
}

func NewEventRepository(db *gorm.DB) *EventRepository {
	return &EventRepository{db: db}
}

func (r *EventRepository) Create(ctx context.Context, event *model.AutomationEvent) error {
	return r.db.WithContext(ctx).Create(event).Error
}

func (r *EventRepository) Get(ctx context.Context, companyID, id int64) (*model.AutomationEvent, error) {
	var event model.AutomationEvent
	if err := first(r.db.WithContext(ctx), &event, "automation event", companyID, id); err != nil {
		return nil, err
	}
	return &event, nil
}

// ClaimDue marks up to limit due events pending under a fresh claim token
// and returns them. Rows locked by another worker are skipped.
func (r *EventRepository) ClaimDue(ctx context.Context, now time.Time, limit int) ([]*model.AutomationEvent, error) {
	if limit <= 0 {
		limit = 50
	}
	var events []*model.AutomationEvent
	err := r.db.WithContext(ctx).Transaction(func(tx *gorm.DB) error {
		err := tx.Clauses(clause.Locking{Strength: "UPDATE", Options: "SKIP LOCKED"}).
			Where("processed = ? AND pending = ? AND pending_approval = ? AND event_scheduled <= ?", false, false, false, now).
			Order("event_scheduled ASC, id ASC").
			Limit(limit).
			Find(&events).Error
		if err != nil || len(events) == 0 {
			return err
		}

		token := uuid.NewString()
		ids := make([]int64, len(events))
		for i, event := range events {
			ids[i] = event.ID
			event.Pending = true
			event.PendingSince = &now
			event.ClaimToken = &token
		}
		return tx.Model(&model.AutomationEvent{}).
			Where("id IN ?", ids).
			Updates(map[string]interface{}{
				"pending":       true,
				"pending_since": now,
				"claim_token":   token,
			}).Error
	})
	if err != nil {
		return nil, err
	}
	return events, nil
}

// Save writes the state columns of an event back after a dispatch attempt
// and drops its claim. It returns store.ErrStaleClaim when the claim was
// released or re-claimed in the meantime.
func (r *EventRepository) Save(ctx context.Context, event *model.AutomationEvent) error {
	if event.ClaimToken == nil {
		return store.ErrStaleClaim
	}
	updates := map[string]interface{}{
		"processed":       event.Processed,
		"success":         event.Success,
		"pending":         event.Pending,
		"pending_since":   event.PendingSince,
		"time_processed":  event.TimeProcessed,
		"event_scheduled": event.EventScheduled,
		"attempts":        event.Attempts,
		"last_error":      event.LastError,
		"claim_token":     nil,
	}
	result := r.db.WithContext(ctx).
		Model(&model.AutomationEvent{}).
		Where("id = ? AND company_profile_id = ? AND pending = ? AND claim_token = ?",
			event.ID, event.CompanyProfileID, true, *event.ClaimToken).
		Updates(updates)
	if result.Error != nil {
		return result.Error
	}
	if result.RowsAffected == 0 {
		return store.ErrStaleClaim
	}
	event.ClaimToken = nil
	return nil
}

// Requeue puts a failed event back in the queue. It reports false when the
// event is not in a failed state.
func (r *EventRepository) Requeue(ctx context.Context, companyID, id int64, at time.Time) (bool, error) {
	result := r.db.WithContext(ctx).
		Model(&model.AutomationEvent{}).
		Where("id = ? AND company_profile_id = ? AND processed = ? AND success = ?", id, companyID, true, false).
		Updates(map[string]interface{}{
			"processed":       false,
			"pending":         false,
			"pending_since":   nil,
			"claim_token":     nil,
			"time_processed":  nil,
			"event_scheduled": at,
			"last_error":      "",
		})
	if result.Error != nil {
		return false, result.Error
	}
	return result.RowsAffected > 0, nil
}

// ReleaseStale returns events claimed before cutoff to the queue; their
// worker is assumed dead.
func (r *EventRepository) ReleaseStale(ctx context.Context, cutoff time.Time) (int64, error) {
	result := r.db.WithContext(ctx).
		Model(&model.AutomationEvent{}).
		Where("processed = ? AND pending = ? AND pending_since < ?", false, true, cutoff).
		Updates(map[string]interface{}{
			"pending":       false,
			"pending_since": nil,
			"claim_token":   nil,
		})
	return result.RowsAffected, result.Error
}
