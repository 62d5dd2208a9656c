// Package outcomes selects the dispatch outcome log backend.
package outcomes

import (
	"context"
	"fmt"

	"go.uber.org/zap"
	"gorm.io/gorm"

	"github.com/flowforge/automation/pkg/config"
	"github.com/flowforge/automation/pkg/store"
	"github.com/flowforge/automation/pkg/store/clickhouse"
	"github.com/flowforge/automation/pkg/store/postgres"
)

const (
	DriverPostgres   = "postgres"
	DriverClickHouse = "clickhouse"
)

// Open returns the outcome store named by logging.storage_driver.
func Open(ctx context.Context, cfg *config.Config, db *gorm.DB, logger *zap.Logger) (store.OutcomeStore, error) {
	switch cfg.Logging.StorageDriver {
	case DriverClickHouse:
		logger.Info("using clickhouse for dispatch outcomes")
		s, err := clickhouse.NewOutcomeStore(&cfg.ClickHouse, logger)
		if err != nil {
			return nil, err
		}
		if err := s.EnsureSchema(ctx, cfg.Logging.RetentionDays); err != nil {
			_ = s.Close()
			return nil, fmt.Errorf("clickhouse outcome schema: %w", err)
		}
		return s, nil
	case DriverPostgres, "":
		logger.Info("using postgres for dispatch outcomes")
		return postgres.NewOutcomeRepository(db), nil
	default:
		return nil, fmt.Errorf("unknown outcome storage driver %q", cfg.Logging.StorageDriver)
	}
}
