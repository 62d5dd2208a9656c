package postgres

import (
	"context"
	"database/sql"
	"errors"
	"fmt"
	"time"

	"gorm.io/gorm"
	"gorm.io/gorm/clause"

	"github.com/flowforge/automation/pkg/dispatcher"
	"github.com/flowforge/automation/pkg/model"
)

// Standard field system names mapped to their table columns. Anything not
// listed here is stored as a custom field value.
var (
	leadColumns = map[string]string{
		"firstName":      "first_name",
		"lastName":       "last_name",
		"emailAddress":   "email_address",
		"companyName":    "company_name",
		"phoneNumber":    "phone",
		"website":        "website",
		"isUnsubscribed": "is_unsubscribed",
		"ownerID":        "owner_id",
		"campaignID":     "campaign_id",
		"personaID":      "persona_id",
		"accountID":      "account_id",
	}

	opportunityColumns = map[string]string{
		"opportunityName": "opportunity_name",
		"amount":          "amount",
		"ownerID":         "owner_id",
		"closeDate":       "close_date",
		"probability":     "probability",
		"isWon":           "is_won",
		"isClosed":        "is_closed",
		"campaignID":      "campaign_id",
		"accountID":       "account_id",
		"dealStage":       "deal_stage",
	}

	accountColumns = map[string]string{
		"accountName": "account_name",
		"ownerID":     "owner_id",
	}
)

func (s *AutomationStore) GetLead(ctx context.Context, companyID, leadID int64) (*model.Lead, error) {
	var lead model.Lead
	if err := first(s.db.WithContext(ctx), &lead, "lead", companyID, leadID); err != nil {
		return nil, err
	}
	return &lead, nil
}

func (s *AutomationStore) GetField(ctx context.Context, companyID, fieldID int64) (*model.Field, error) {
	var field model.Field
	if err := first(s.db.WithContext(ctx), &field, "field", companyID, fieldID); err != nil {
		return nil, err
	}
	return &field, nil
}

func (s *AutomationStore) FieldBySystemName(ctx context.Context, companyID int64, entity, systemName string) (*model.Field, error) {
	var field model.Field
	err := s.db.WithContext(ctx).
		Where("company_profile_id = ? AND entity = ? AND system_name = ?", companyID, entity, systemName).
		First(&field).Error
	if err != nil {
		return nil, fmt.Errorf("field %s: %w", systemName, err)
	}
	return &field, nil
}

func (s *AutomationStore) MergeFields(ctx context.Context, companyID int64) ([]*model.Field, error) {
	var fields []*model.Field
	err := s.db.WithContext(ctx).
		Where("company_profile_id = ? AND entity = ? AND is_active = ?", companyID, model.FieldEntityLead, true).
		Order("id ASC").
		Find(&fields).Error
	return fields, err
}

func (s *AutomationStore) EmailVariables(ctx context.Context, companyID int64) (map[string]string, error) {
	var rows []model.EmailVariable
	if err := s.db.WithContext(ctx).Where("company_profile_id = ?", companyID).Find(&rows).Error; err != nil {
		return nil, err
	}
	out := make(map[string]string, len(rows))
	for _, row := range rows {
		out[row.SystemName] = row.Value
	}
	return out, nil
}

// FieldValue reads a standard column or custom value as text. A custom
// field with no stored value reads as empty.
func (s *AutomationStore) FieldValue(ctx context.Context, companyID int64, field *model.Field, recordID int64) (string, error) {
	var (
		table   string
		columns map[string]string
		values  interface{}
		owner   string
	)
	switch field.Entity {
	case model.FieldEntityOpportunity:
		table, columns, values, owner = "opportunities", opportunityColumns, &model.OpportunityFieldValue{}, "opportunity_id"
	case model.FieldEntityAccount:
		table, columns = "accounts", accountColumns
	default:
		table, columns, values, owner = "leads", leadColumns, &model.LeadFieldValue{}, "lead_id"
	}

	if column, ok := columns[field.SystemName]; ok && !field.IsCustom {
		var value string
		row := s.db.WithContext(ctx).
			Table(table).
			Select(fmt.Sprintf("COALESCE(CAST(%s AS text), '')", column)).
			Where("id = ? AND company_profile_id = ?", recordID, companyID).
			Row()
		if err := row.Scan(&value); err != nil {
			if errors.Is(err, sql.ErrNoRows) {
				return "", notFound(table, recordID)
			}
			return "", err
		}
		return value, nil
	}
	if values == nil {
		return "", nil
	}

	var stored []string
	err := s.db.WithContext(ctx).
		Model(values).
		Where("company_profile_id = ? AND "+owner+" = ? AND field_id = ?", companyID, recordID, field.ID).
		Pluck("value", &stored).Error
	if err != nil || len(stored) == 0 {
		return "", err
	}
	return stored[0], nil
}

type customValue struct {
	SystemName string
	Value      string
}

func (s *AutomationStore) LeadCustomFields(ctx context.Context, companyID, leadID int64) (map[string]string, error) {
	var rows []customValue
	err := s.db.WithContext(ctx).
		Table("lead_field_values AS v").
		Select("f.system_name, v.value").
		Joins("JOIN fields f ON f.id = v.field_id AND f.company_profile_id = v.company_profile_id").
		Where("v.company_profile_id = ? AND v.lead_id = ? AND f.is_custom = ?", companyID, leadID, true).
		Scan(&rows).Error
	if err != nil {
		return nil, err
	}
	return customMap(rows), nil
}

func customMap(rows []customValue) map[string]string {
	out := make(map[string]string, len(rows))
	for _, row := range rows {
		out[row.SystemName] = row.Value
	}
	return out
}

func (s *AutomationStore) leadExists(ctx context.Context, companyID, leadID int64) error {
	var count int64
	err := s.db.WithContext(ctx).
		Model(&model.Lead{}).
		Where("id = ? AND company_profile_id = ?", leadID, companyID).
		Count(&count).Error
	if err != nil {
		return err
	}
	if count == 0 {
		return notFound("lead", leadID)
	}
	return nil
}

func (s *AutomationStore) SetLeadFieldValue(ctx context.Context, companyID, leadID int64, field *model.Field, value string) error {
	if column, ok := leadColumns[field.SystemName]; ok && !field.IsCustom {
		result := s.db.WithContext(ctx).
			Model(&model.Lead{}).
			Where("id = ? AND company_profile_id = ?", leadID, companyID).
			Updates(map[string]interface{}{
				column:       value,
				"version":    gorm.Expr("version + 1"),
				"updated_at": time.Now(),
			})
		if result.Error != nil {
			return result.Error
		}
		if result.RowsAffected == 0 {
			return notFound("lead", leadID)
		}
		return nil
	}

	if err := s.leadExists(ctx, companyID, leadID); err != nil {
		return err
	}
	row := &model.LeadFieldValue{
		CompanyProfileID: companyID,
		LeadID:           leadID,
		FieldID:          field.ID,
		Value:            value,
		UpdatedAt:        time.Now(),
	}
	return s.db.WithContext(ctx).Clauses(clause.OnConflict{
		Columns:   []clause.Column{{Name: "company_profile_id"}, {Name: "lead_id"}, {Name: "field_id"}},
		DoUpdates: clause.AssignmentColumns([]string{"value", "updated_at"}),
	}).Create(row).Error
}

// AppendLeadFieldValue adds one option to a multi-value checkbox field in a
// single statement.
func (s *AutomationStore) AppendLeadFieldValue(ctx context.Context, companyID, leadID, fieldID int64, value string) error {
	return s.db.WithContext(ctx).Exec(`
		INSERT INTO lead_field_values (company_profile_id, lead_id, field_id, value, updated_at)
		VALUES (?, ?, ?, ?, NOW())
		ON CONFLICT (company_profile_id, lead_id, field_id) DO UPDATE
		SET value = CASE
				WHEN lead_field_values.value IS NULL OR lead_field_values.value = '' THEN EXCLUDED.value
				ELSE lead_field_values.value || ',' || EXCLUDED.value
			END,
			updated_at = NOW()
	`, companyID, leadID, fieldID, value).Error
}

func (s *AutomationStore) IncrementLeadField(ctx context.Context, companyID, leadID, fieldID int64, delta float64) error {
	if err := s.leadExists(ctx, companyID, leadID); err != nil {
		return err
	}
	return s.db.WithContext(ctx).Exec(`
		INSERT INTO lead_field_values (company_profile_id, lead_id, field_id, value, updated_at)
		VALUES (?, ?, ?, CAST(? AS text), NOW())
		ON CONFLICT (company_profile_id, lead_id, field_id) DO UPDATE
		SET value = CAST(COALESCE(CAST(NULLIF(lead_field_values.value, '') AS numeric), 0) + ? AS text),
			updated_at = NOW()
	`, companyID, leadID, fieldID, delta, delta).Error
}

// UpdateLeadStatus moves the lead only while it still has the previous
// status and writes the history row in the same transaction.
func (s *AutomationStore) UpdateLeadStatus(ctx context.Context, change dispatcher.LeadStatusChange) (bool, error) {
	changed := false
	err := s.db.WithContext(ctx).Transaction(func(tx *gorm.DB) error {
		result := tx.Model(&model.Lead{}).
			Where("id = ? AND company_profile_id = ? AND lead_status = ?", change.LeadID, change.CompanyID, change.Previous).
			Updates(map[string]interface{}{
				"lead_status":  change.Status,
				"is_qualified": change.Flags.IsQualified,
				"is_contact":   change.Flags.IsContact,
				"is_customer":  change.Flags.IsCustomer,
				"version":      gorm.Expr("version + 1"),
				"updated_at":   time.Now(),
			})
		if result.Error != nil {
			return result.Error
		}
		if result.RowsAffected == 0 {
			return nil
		}
		changed = true
		return tx.Create(&model.LeadStatusHistory{
			CompanyProfileID: change.CompanyID,
			LeadID:           change.LeadID,
			WorkflowID:       change.WorkflowID,
			PreviousStatus:   change.Previous,
			NewStatus:        change.Status,
		}).Error
	})
	if err != nil {
		return false, err
	}
	return changed, nil
}

func (s *AutomationStore) MarkLeadScoreStale(ctx context.Context, companyID, leadID int64) error {
	return s.db.WithContext(ctx).
		Model(&model.Lead{}).
		Where("id = ? AND company_profile_id = ?", leadID, companyID).
		Update("score_stale", true).Error
}

// AssignLeadOwner records an owner change audit row whenever the owner moves.
func (s *AutomationStore) AssignLeadOwner(ctx context.Context, companyID, leadID, ownerID, workflowID int64, override bool) (bool, error) {
	changed := false
	err := s.db.WithContext(ctx).Transaction(func(tx *gorm.DB) error {
		var lead model.Lead
		if err := first(tx.Clauses(clause.Locking{Strength: "UPDATE"}), &lead, "lead", companyID, leadID); err != nil {
			return err
		}
		if (lead.OwnerID != 0 && !override) || lead.OwnerID == ownerID {
			return nil
		}
		result := tx.Model(&model.Lead{}).
			Where("id = ? AND company_profile_id = ? AND owner_id = ?", leadID, companyID, lead.OwnerID).
			Updates(map[string]interface{}{
				"owner_id":   ownerID,
				"version":    gorm.Expr("version + 1"),
				"updated_at": time.Now(),
			})
		if result.Error != nil || result.RowsAffected == 0 {
			return result.Error
		}
		changed = true
		return tx.Create(&model.LeadOwnerChange{
			CompanyProfileID: companyID,
			LeadID:           leadID,
			PreviousOwnerID:  lead.OwnerID,
			NewOwnerID:       ownerID,
			WorkflowID:       workflowID,
		}).Error
	})
	if err != nil {
		return false, err
	}
	return changed, nil
}

func (s *AutomationStore) AssignLeadCampaign(ctx context.Context, companyID, leadID, campaignID int64, override bool) (bool, error) {
	query := s.db.WithContext(ctx).
		Model(&model.Lead{}).
		Where("id = ? AND company_profile_id = ?", leadID, companyID)
	if !override {
		query = query.Where("campaign_id = 0")
	}
	result := query.Updates(map[string]interface{}{
		"campaign_id": campaignID,
		"version":     gorm.Expr("version + 1"),
		"updated_at":  time.Now(),
	})
	if result.Error != nil {
		return false, result.Error
	}
	if result.RowsAffected == 0 {
		return false, s.leadExists(ctx, companyID, leadID)
	}
	return true, nil
}

func (s *AutomationStore) SetLeadPersona(ctx context.Context, companyID, leadID, personaID int64) error {
	result := s.db.WithContext(ctx).
		Model(&model.Lead{}).
		Where("id = ? AND company_profile_id = ?", leadID, companyID).
		Updates(map[string]interface{}{
			"persona_id": personaID,
			"updated_at": time.Now(),
		})
	if result.Error != nil {
		return result.Error
	}
	if result.RowsAffected == 0 {
		return notFound("lead", leadID)
	}
	return nil
}

func (s *AutomationStore) AddLeadTag(ctx context.Context, companyID, leadID, tagID int64) error {
	tag := &model.LeadTag{CompanyProfileID: companyID, LeadID: leadID, TagID: tagID}
	return s.db.WithContext(ctx).Clauses(clause.OnConflict{DoNothing: true}).Create(tag).Error
}

func (s *AutomationStore) RemoveLeadTag(ctx context.Context, companyID, leadID, tagID int64) error {
	return s.db.WithContext(ctx).
		Where("company_profile_id = ? AND lead_id = ? AND tag_id = ?", companyID, leadID, tagID).
		Delete(&model.LeadTag{}).Error
}

func (s *AutomationStore) AccountLeadIDs(ctx context.Context, companyID, accountID int64) ([]int64, error) {
	var ids []int64
	err := s.db.WithContext(ctx).
		Model(&model.Lead{}).
		Where("company_profile_id = ? AND account_id = ?", companyID, accountID).
		Order("id ASC").
		Pluck("id", &ids).Error
	return ids, err
}
