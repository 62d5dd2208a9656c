package quota

import (
	"context"
	"errors"
	"fmt"
	"time"

	"gorm.io/gorm"

	"github.com/flowforge/automation/pkg/model"
)

var ErrOverQuota = errors.New("send credits exhausted")

// Manager spends tenant send credits.
type Manager struct {
	db *gorm.DB
}

func NewManager(db *gorm.DB) *Manager {
	return &Manager{db: db}
}

func (m *Manager) Remaining(ctx context.Context, companyID int64) (*model.SendCredit, error) {
	credit := &model.SendCredit{}
	err := m.db.WithContext(ctx).
		Where("company_profile_id = ?", companyID).
		First(credit).Error
	if errors.Is(err, gorm.ErrRecordNotFound) {
		return &model.SendCredit{CompanyProfileID: companyID}, nil
	}
	if err != nil {
		return nil, fmt.Errorf("load send credits: %w", err)
	}
	return credit, nil
}

func (m *Manager) CanSend(ctx context.Context, companyID, count int64) (bool, error) {
	credit, err := m.Remaining(ctx, companyID)
	if err != nil {
		return false, err
	}
	return credit.AllowOverage || credit.SendsRemaining >= count, nil
}

// Deduct spends count credits only while the balance covers them.
func (m *Manager) Deduct(ctx context.Context, companyID, count int64) error {
	result := m.db.WithContext(ctx).
		Model(&model.SendCredit{}).
		Where("company_profile_id = ? AND (allow_overage OR sends_remaining >= ?)", companyID, count).
		Updates(map[string]interface{}{
			"sends_remaining": gorm.Expr("sends_remaining - ?", count),
			"updated_at":      time.Now(),
		})
	if result.Error != nil {
		return fmt.Errorf("deduct send credits: %w", result.Error)
	}
	if result.RowsAffected == 0 {
		return ErrOverQuota
	}
	return nil
}
