package clickhouse

import (
	"context"
	"fmt"
	"time"

	"github.com/ClickHouse/clickhouse-go/v2"
	"github.com/ClickHouse/clickhouse-go/v2/lib/driver"
	"go.uber.org/zap"

	"github.com/flowforge/automation/pkg/config"
	"github.com/flowforge/automation/pkg/model"
	"github.com/flowforge/automation/pkg/store"
)

type OutcomeStore struct {
	conn   driver.Conn
	logger *zap.Logger
}

var _ store.OutcomeStore = (*OutcomeStore)(nil)

func NewOutcomeStore(cfg *config.ClickHouseConfig, logger *zap.Logger) (*OutcomeStore, error) {
	if len(cfg.Hosts) == 0 {
		return nil, fmt.Errorf("clickhouse hosts are not configured")
	}
	conn, err := clickhouse.Open(&clickhouse.Options{
		Addr: cfg.Hosts,
		Auth: clickhouse.Auth{
			Database: cfg.Database,
			Username: cfg.User,
			Password: cfg.Password,
		},
		Compression: &clickhouse.Compression{
			Method: clickhouse.CompressionLZ4,
		},
	})
	if err != nil {
		return nil, fmt.Errorf("failed to connect to clickhouse: %w", err)
	}

	if err := conn.Ping(context.Background()); err != nil {
		return nil, fmt.Errorf("failed to ping clickhouse: %w", err)
	}

	return &OutcomeStore{
		conn:   conn,
		logger: logger,
	}, nil
}

func (s *OutcomeStore) Record(ctx context.Context, outcomes []*model.DispatchOutcome) error {
	if len(outcomes) == 0 {
		return nil
	}

	batch, err := s.conn.PrepareBatch(ctx, "INSERT INTO dispatch_outcomes")
	if err != nil {
		return err
	}

	for _, o := range outcomes {
		err := batch.Append(
			o.EventID,
			o.CompanyProfileID,
			o.EventType,
			o.Outcome,
			o.Reason,
			int32(o.Attempt),
			o.DurationMillis,
			o.Timestamp,
			time.Now(), // created_at
		)
		if err != nil {
			return err
		}
	}

	return batch.Send()
}

func (s *OutcomeStore) List(ctx context.Context, query store.OutcomeQuery) ([]model.DispatchOutcome, error) {
	if query.CompanyID <= 0 {
		return nil, fmt.Errorf("company id is required")
	}

	queryText := "SELECT event_id, company_profile_id, event_type, outcome, reason, attempt, duration_ms, timestamp FROM dispatch_outcomes WHERE company_profile_id = ?"
	args := []interface{}{query.CompanyID}

	if query.EventID > 0 {
		queryText += " AND event_id = ?"
		args = append(args, query.EventID)
	}

	if query.EventType != "" {
		queryText += " AND event_type = ?"
		args = append(args, query.EventType)
	}

	if query.Outcome != "" {
		queryText += " AND outcome = ?"
		args = append(args, query.Outcome)
	}

	if query.StartTime != nil {
		queryText += " AND timestamp >= ?"
		args = append(args, *query.StartTime)
	}

	if query.EndTime != nil {
		queryText += " AND timestamp <= ?"
		args = append(args, *query.EndTime)
	}

	queryText += " ORDER BY timestamp DESC"

	if query.Limit > 0 {
		queryText += fmt.Sprintf(" LIMIT %d", query.Limit)
	}

	rows, err := s.conn.Query(ctx, queryText, args...)
	if err != nil {
		return nil, err
	}
	defer rows.Close()

	var outcomes []model.DispatchOutcome
	for rows.Next() {
		var (
			o       model.DispatchOutcome
			attempt int32
		)
		if err := rows.Scan(
			&o.EventID,
			&o.CompanyProfileID,
			&o.EventType,
			&o.Outcome,
			&o.Reason,
			&attempt,
			&o.DurationMillis,
			&o.Timestamp,
		); err != nil {
			return nil, err
		}
		o.Attempt = int(attempt)
		outcomes = append(outcomes, o)
	}

	return outcomes, rows.Err()
}

// DeleteOld is a no-op: the table TTL expires rows.
func (s *OutcomeStore) DeleteOld(ctx context.Context, retentionDays int) error {
	return nil
}

func (s *OutcomeStore) Close() error {
	return s.conn.Close()
}

// EnsureSchema creates the table if not exists
func (s *OutcomeStore) EnsureSchema(ctx context.Context, retentionDays int) error {
	if retentionDays <= 0 {
		retentionDays = 30
	}
	query := fmt.Sprintf(`
	CREATE TABLE IF NOT EXISTS dispatch_outcomes (
		event_id Int64,
		company_profile_id Int64,
		event_type LowCardinality(String),
		outcome LowCardinality(String),
		reason String Codec(ZSTD),
		attempt Int32,
		duration_ms Int64,
		timestamp DateTime64(3),
		created_at DateTime DEFAULT now()
	)
	ENGINE = MergeTree()
	ORDER BY (company_profile_id, timestamp, event_id)
	PARTITION BY toYYYYMMDD(created_at)
	TTL created_at + INTERVAL %d DAY
	`, retentionDays)
	return s.conn.Exec(ctx, query)
}
