package store

import (
	"context"
	"errors"
	"time"

	"github.com/flowforge/automation/pkg/model"
)

// ErrStaleClaim is returned when an event is saved by a worker whose claim
// was released or taken over.
var ErrStaleClaim = errors.New("automation event claim is no longer held")

// OutcomeQuery filters the dispatch outcome log. CompanyID is required.
type OutcomeQuery struct {
	CompanyID int64
	EventID   int64
	EventType string
	Outcome   string
	StartTime *time.Time
	EndTime   *time.Time
	Limit     int
}

// OutcomeStore defines the backends for the dispatch outcome log (PostgreSQL, ClickHouse)
type OutcomeStore interface {
	// Record inserts a batch of outcomes
	Record(ctx context.Context, outcomes []*model.DispatchOutcome) error

	// List returns outcomes matching the query, newest first
	List(ctx context.Context, query OutcomeQuery) ([]model.DispatchOutcome, error)

	// DeleteOld removes outcomes older than the retention period (if the backend requires it)
	DeleteOld(ctx context.Context, retentionDays int) error

	Close() error
}
