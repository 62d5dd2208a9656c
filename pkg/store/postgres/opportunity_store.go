package postgres

import (
	"context"
	"errors"
	"fmt"
	"time"

	"gorm.io/gorm"
	"gorm.io/gorm/clause"

	"github.com/flowforge/automation/pkg/dispatcher"
	"github.com/flowforge/automation/pkg/model"
)

func (s *AutomationStore) GetOpportunity(ctx context.Context, companyID, opportunityID int64) (*model.Opportunity, error) {
	var opp model.Opportunity
	if err := first(s.db.WithContext(ctx), &opp, "opportunity", companyID, opportunityID); err != nil {
		return nil, err
	}
	return &opp, nil
}

func (s *AutomationStore) LeadOpportunities(ctx context.Context, companyID, leadID int64, pipelineID *int64) ([]*model.Opportunity, error) {
	query := s.db.WithContext(ctx).
		Where("company_profile_id = ? AND is_active = ? AND is_closed = ?", companyID, true, false).
		Where("primary_lead_id = ? OR ? = ANY(contact_lead_ids)", leadID, leadID)
	if pipelineID != nil {
		query = query.Where("pipeline_id = ?", *pipelineID)
	}
	var opps []*model.Opportunity
	err := query.Order("id ASC").Find(&opps).Error
	return opps, err
}

func (s *AutomationStore) OpportunityCustomFields(ctx context.Context, companyID, opportunityID int64) (map[string]string, error) {
	var rows []customValue
	err := s.db.WithContext(ctx).
		Table("opportunity_field_values AS v").
		Select("f.system_name, v.value").
		Joins("JOIN fields f ON f.id = v.field_id AND f.company_profile_id = v.company_profile_id").
		Where("v.company_profile_id = ? AND v.opportunity_id = ? AND f.is_custom = ?", companyID, opportunityID, true).
		Scan(&rows).Error
	if err != nil {
		return nil, err
	}
	return customMap(rows), nil
}

func (s *AutomationStore) SetOpportunityColumn(ctx context.Context, companyID, opportunityID int64, field string, value interface{}) error {
	column, ok := opportunityColumns[field]
	if !ok {
		return fmt.Errorf("opportunity field %q is not a column", field)
	}
	result := s.db.WithContext(ctx).
		Model(&model.Opportunity{}).
		Where("id = ? AND company_profile_id = ?", opportunityID, companyID).
		Updates(map[string]interface{}{
			column:       value,
			"version":    gorm.Expr("version + 1"),
			"updated_at": time.Now(),
		})
	if result.Error != nil {
		return result.Error
	}
	if result.RowsAffected == 0 {
		return notFound("opportunity", opportunityID)
	}
	return nil
}

func (s *AutomationStore) SetOpportunityFieldValue(ctx context.Context, companyID, opportunityID, fieldID int64, value string) error {
	row := &model.OpportunityFieldValue{
		CompanyProfileID: companyID,
		OpportunityID:    opportunityID,
		FieldID:          fieldID,
		Value:            value,
		UpdatedAt:        time.Now(),
	}
	return s.db.WithContext(ctx).Clauses(clause.OnConflict{
		Columns:   []clause.Column{{Name: "company_profile_id"}, {Name: "opportunity_id"}, {Name: "field_id"}},
		DoUpdates: clause.AssignmentColumns([]string{"value", "updated_at"}),
	}).Create(row).Error
}

func (s *AutomationStore) AppendOpportunityFieldValue(ctx context.Context, companyID, opportunityID, fieldID int64, value string) error {
	return s.db.WithContext(ctx).Exec(`
		INSERT INTO opportunity_field_values (company_profile_id, opportunity_id, field_id, value, updated_at)
		VALUES (?, ?, ?, ?, NOW())
		ON CONFLICT (company_profile_id, opportunity_id, field_id) DO UPDATE
		SET value = CASE
				WHEN opportunity_field_values.value IS NULL OR opportunity_field_values.value = '' THEN EXCLUDED.value
				ELSE opportunity_field_values.value || ',' || EXCLUDED.value
			END,
			updated_at = NOW()
	`, companyID, opportunityID, fieldID, value).Error
}

func (s *AutomationStore) SetDealStage(ctx context.Context, companyID, opportunityID, from, to int64, followOn *model.Job) (bool, error) {
	moved := false
	err := s.db.WithContext(ctx).Transaction(func(tx *gorm.DB) error {
		result := tx.Model(&model.Opportunity{}).
			Where("id = ? AND company_profile_id = ? AND deal_stage = ?", opportunityID, companyID, from).
			Updates(map[string]interface{}{
				"deal_stage": to,
				"version":    gorm.Expr("version + 1"),
				"updated_at": time.Now(),
			})
		if result.Error != nil {
			return result.Error
		}
		if result.RowsAffected == 0 {
			return nil
		}
		moved = true
		return insertJob(tx, followOn)
	})
	if err != nil {
		return false, err
	}
	return moved, nil
}

func (s *AutomationStore) GetPipeline(ctx context.Context, companyID, pipelineID int64) (*model.Pipeline, error) {
	var pipeline model.Pipeline
	if err := first(s.db.WithContext(ctx), &pipeline, "pipeline", companyID, pipelineID); err != nil {
		return nil, err
	}
	return &pipeline, nil
}

func (s *AutomationStore) GetDealStage(ctx context.Context, companyID, stageID int64) (*model.DealStage, error) {
	var stage model.DealStage
	if err := first(s.db.WithContext(ctx), &stage, "deal stage", companyID, stageID); err != nil {
		return nil, err
	}
	return &stage, nil
}

func (s *AutomationStore) FindAccountByName(ctx context.Context, companyID int64, name string) (*model.Account, error) {
	var account model.Account
	err := s.db.WithContext(ctx).
		Where("company_profile_id = ? AND account_name = ?", companyID, name).
		First(&account).Error
	if err != nil {
		return nil, fmt.Errorf("account %q: %w", name, err)
	}
	return &account, nil
}

// UpsertAccount returns the existing account of the same name when two
// workers race to create it.
func (s *AutomationStore) UpsertAccount(ctx context.Context, account *model.Account) (*model.Account, error) {
	err := s.db.WithContext(ctx).Clauses(
		clause.OnConflict{
			Columns:   []clause.Column{{Name: "company_profile_id"}, {Name: "account_name"}},
			DoUpdates: clause.Assignments(map[string]interface{}{"account_name": gorm.Expr("EXCLUDED.account_name")}),
		},
		clause.Returning{},
	).Create(account).Error
	if err != nil {
		return nil, err
	}
	return account, nil
}

func (s *AutomationStore) CreateOpportunity(ctx context.Context, opp *model.Opportunity, changes dispatcher.LeadChanges, followOn func(*model.Opportunity) *model.Job) error {
	return s.db.WithContext(ctx).Transaction(func(tx *gorm.DB) error {
		if err := tx.Create(opp).Error; err != nil {
			return err
		}

		updates := map[string]interface{}{
			"has_opportunity": true,
			"is_contact":      true,
			"is_qualified":    true,
			"version":         gorm.Expr("version + 1"),
			"updated_at":      time.Now(),
		}
		if changes.AccountID > 0 {
			updates["account_id"] = changes.AccountID
		}
		if changes.OwnerID > 0 {
			updates["owner_id"] = changes.OwnerID
		}
		if changes.Customer {
			updates["is_customer"] = true
			updates["lead_status"] = model.LeadStatusCustomer
		} else {
			updates["lead_status"] = gorm.Expr("CASE WHEN lead_status IN (?, ?) THEN ? ELSE lead_status END",
				model.LeadStatusLead, model.LeadStatusQualified, model.LeadStatusContact)
		}
		result := tx.Model(&model.Lead{}).
			Where("id = ? AND company_profile_id = ?", changes.LeadID, opp.CompanyProfileID).
			Updates(updates)
		if result.Error != nil {
			return result.Error
		}
		if result.RowsAffected == 0 {
			return notFound("lead", changes.LeadID)
		}
		if followOn == nil {
			return nil
		}
		return insertJob(tx, followOn(opp))
	})
}

func (s *AutomationStore) AddNotificationPreference(ctx context.Context, pref *model.NotificationPreference) error {
	err := s.db.WithContext(ctx).Create(pref).Error
	if errors.Is(err, gorm.ErrDuplicatedKey) {
		return nil
	}
	return err
}
