package postgres

import (
	"errors"
	"fmt"

	"gorm.io/driver/postgres"
	"gorm.io/gorm"
	"gorm.io/gorm/logger"

	"github.com/flowforge/automation/pkg/config"
	"github.com/flowforge/automation/pkg/model"
)

type Store struct {
	db *gorm.DB
}

func NewStore(cfg *config.DatabaseConfig) (*Store, error) {
	gormConfig := &gorm.Config{
		Logger: logger.Default.LogMode(logger.Warn),
	}

	db, err := gorm.Open(postgres.Open(cfg.DSN()), gormConfig)
	if err != nil {
		return nil, fmt.Errorf("failed to connect to database: %w", err)
	}

	sqlDB, err := db.DB()
	if err != nil {
		return nil, err
	}

	sqlDB.SetMaxOpenConns(cfg.MaxOpenConns)
	sqlDB.SetMaxIdleConns(cfg.MaxIdleConns)

	return &Store{db: db}, nil
}

// NewStoreFromDB wraps an already opened connection.
func NewStoreFromDB(db *gorm.DB) *Store {
	return &Store{db: db}
}

func (s *Store) DB() *gorm.DB {
	return s.db
}

func (s *Store) Close() error {
	sqlDB, err := s.db.DB()
	if err != nil {
		return err
	}
	return sqlDB.Close()
}

func (s *Store) AutoMigrate() error {
	return s.db.AutoMigrate(
		&model.AutomationEvent{},
		&model.Job{},
		&model.DispatchOutcome{},
		&model.CompanyProfile{},
		&model.User{},
		&model.Lead{},
		&model.LeadStatusHistory{},
		&model.LeadOwnerChange{},
		&model.Field{},
		&model.LeadFieldValue{},
		&model.NotificationPreference{},
		&model.Opportunity{},
		&model.OpportunityFieldValue{},
		&model.Account{},
		&model.Pipeline{},
		&model.DealStage{},
		&model.List{},
		&model.ListMember{},
		&model.Tag{},
		&model.ListTag{},
		&model.LeadTag{},
		&model.RSSFeedSubscription{},
		&model.Workflow{},
		&model.WorkflowStep{},
		&model.VisualWorkflow{},
		&model.WorkflowMember{},
		&model.RuleTask{},
		&model.Task{},
		&model.Email{},
		&model.SendCredit{},
		&model.VerifiedDomain{},
		&model.SMTPSettings{},
		&model.EmailVariable{},
		&model.ConversionGoal{},
		&model.ConversionHistory{},
	)
}

func notFound(what string, id int64) error {
	return fmt.Errorf("%s %d: %w", what, id, gorm.ErrRecordNotFound)
}

// first loads one tenant-scoped row by primary key.
func first(db *gorm.DB, dest interface{}, what string, companyID, id int64) error {
	err := db.Where("id = ? AND company_profile_id = ?", id, companyID).First(dest).Error
	if errors.Is(err, gorm.ErrRecordNotFound) {
		return notFound(what, id)
	}
	return err
}
