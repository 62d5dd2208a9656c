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

// AutomationStore is the tenant-scoped CRM data access used by the
// dispatcher and the mail service. Every query carries the company ID.
type AutomationStore struct {
	db *gorm.DB
}

func NewAutomationStore(db *gorm.DB) *AutomationStore {
	return &AutomationStore{db: db}
}

var _ dispatcher.Store = (*AutomationStore)(nil)

func (s *AutomationStore) GetCompany(ctx context.Context, companyID int64) (*model.CompanyProfile, error) {
	var company model.CompanyProfile
	err := s.db.WithContext(ctx).First(&company, "id = ?", companyID).Error
	if errors.Is(err, gorm.ErrRecordNotFound) {
		return nil, notFound("company", companyID)
	}
	if err != nil {
		return nil, err
	}
	return &company, nil
}

func (s *AutomationStore) GetUser(ctx context.Context, companyID, userID int64) (*model.User, error) {
	var user model.User
	if err := first(s.db.WithContext(ctx), &user, "user", companyID, userID); err != nil {
		return nil, err
	}
	return &user, nil
}

func (s *AutomationStore) GetEmail(ctx context.Context, companyID, emailID int64) (*model.Email, error) {
	var email model.Email
	if err := first(s.db.WithContext(ctx), &email, "email", companyID, emailID); err != nil {
		return nil, err
	}
	return &email, nil
}

func (s *AutomationStore) GetVerifiedDomain(ctx context.Context, companyID int64, domain string) (*model.VerifiedDomain, error) {
	var verified model.VerifiedDomain
	err := s.db.WithContext(ctx).
		Where("company_profile_id = ? AND domain = ?", companyID, domain).
		First(&verified).Error
	if err != nil {
		return nil, fmt.Errorf("verified domain %s: %w", domain, err)
	}
	return &verified, nil
}

func (s *AutomationStore) GetSMTPSettings(ctx context.Context, companyID, userID int64) (*model.SMTPSettings, error) {
	var settings model.SMTPSettings
	err := s.db.WithContext(ctx).
		Where("company_profile_id = ? AND user_id = ?", companyID, userID).
		First(&settings).Error
	if err != nil {
		return nil, fmt.Errorf("smtp settings for user %d: %w", userID, err)
	}
	return &settings, nil
}

func (s *AutomationStore) GetList(ctx context.Context, companyID, listID int64) (*model.List, error) {
	var list model.List
	if err := first(s.db.WithContext(ctx), &list, "list", companyID, listID); err != nil {
		return nil, err
	}
	return &list, nil
}

func (s *AutomationStore) ListsWithTag(ctx context.Context, companyID, tagID int64) ([]*model.List, error) {
	var lists []*model.List
	err := s.db.WithContext(ctx).
		Joins("JOIN list_tags ON list_tags.list_id = lists.id AND list_tags.company_profile_id = lists.company_profile_id").
		Where("lists.company_profile_id = ? AND list_tags.tag_id = ?", companyID, tagID).
		Order("lists.id ASC").
		Find(&lists).Error
	return lists, err
}

func (s *AutomationStore) AddListMember(ctx context.Context, companyID, listID, leadID, workflowID int64) error {
	member := &model.ListMember{
		CompanyProfileID: companyID,
		ListID:           listID,
		LeadID:           leadID,
		AddedByWorkflow:  workflowID,
	}
	return s.db.WithContext(ctx).Clauses(clause.OnConflict{DoNothing: true}).Create(member).Error
}

func (s *AutomationStore) RemoveListMember(ctx context.Context, companyID, listID, leadID int64) error {
	return s.db.WithContext(ctx).
		Where("company_profile_id = ? AND list_id = ? AND lead_id = ?", companyID, listID, leadID).
		Delete(&model.ListMember{}).Error
}

func (s *AutomationStore) GetFeedSubscription(ctx context.Context, companyID, subscriptionID int64) (*model.RSSFeedSubscription, error) {
	var sub model.RSSFeedSubscription
	if err := first(s.db.WithContext(ctx), &sub, "rss feed subscription", companyID, subscriptionID); err != nil {
		return nil, err
	}
	return &sub, nil
}

func (s *AutomationStore) AdvanceFeedLastItem(ctx context.Context, companyID, subscriptionID int64, previous, next string) (bool, error) {
	now := time.Now()
	result := s.db.WithContext(ctx).
		Model(&model.RSSFeedSubscription{}).
		Where("id = ? AND company_profile_id = ? AND last_item = ?", subscriptionID, companyID, previous).
		Updates(map[string]interface{}{
			"last_item":      next,
			"last_polled_at": now,
			"updated_at":     now,
		})
	if result.Error != nil {
		return false, result.Error
	}
	return result.RowsAffected > 0, nil
}

func (s *AutomationStore) GetWorkflow(ctx context.Context, companyID, workflowID int64) (*model.Workflow, error) {
	var workflow model.Workflow
	db := s.db.WithContext(ctx).Preload("Events", func(db *gorm.DB) *gorm.DB {
		return db.Order("position ASC, id ASC")
	})
	if err := first(db, &workflow, "workflow", companyID, workflowID); err != nil {
		return nil, err
	}
	return &workflow, nil
}

func (s *AutomationStore) GetVisualWorkflow(ctx context.Context, companyID, visualWorkflowID int64) (*model.VisualWorkflow, error) {
	var visual model.VisualWorkflow
	if err := first(s.db.WithContext(ctx), &visual, "visual workflow", companyID, visualWorkflowID); err != nil {
		return nil, err
	}
	return &visual, nil
}

func (s *AutomationStore) VisualWorkflowByPrimaryGroup(ctx context.Context, companyID, actionGroupID int64) (*model.VisualWorkflow, error) {
	var visual model.VisualWorkflow
	err := s.db.WithContext(ctx).
		Where("company_profile_id = ? AND primary_action_group_id = ?", companyID, actionGroupID).
		First(&visual).Error
	if errors.Is(err, gorm.ErrRecordNotFound) {
		return nil, notFound("visual workflow with primary group", actionGroupID)
	}
	if err != nil {
		return nil, err
	}
	return &visual, nil
}

func (s *AutomationStore) ActionGroups(ctx context.Context, companyID, visualWorkflowID int64) ([]*model.Workflow, error) {
	var groups []*model.Workflow
	err := s.db.WithContext(ctx).
		Preload("Events", func(db *gorm.DB) *gorm.DB {
			return db.Order("position ASC, id ASC")
		}).
		Where("company_profile_id = ? AND visual_workflow_id = ?", companyID, visualWorkflowID).
		Order("id ASC").
		Find(&groups).Error
	return groups, err
}

// RemoveWorkflowMember deletes the membership, or keeps it flagged as
// excluded so the lead cannot re-enter.
func (s *AutomationStore) RemoveWorkflowMember(ctx context.Context, companyID, workflowID, leadID int64, exclude bool) error {
	scope := s.db.WithContext(ctx).
		Where("company_profile_id = ? AND workflow_id = ? AND lead_id = ?", companyID, workflowID, leadID)
	if !exclude {
		return scope.Delete(&model.WorkflowMember{}).Error
	}
	member := &model.WorkflowMember{
		CompanyProfileID: companyID,
		WorkflowID:       workflowID,
		LeadID:           leadID,
		Excluded:         true,
	}
	return s.db.WithContext(ctx).Clauses(clause.OnConflict{
		Columns:   []clause.Column{{Name: "company_profile_id"}, {Name: "workflow_id"}, {Name: "lead_id"}},
		DoUpdates: clause.AssignmentColumns([]string{"excluded", "updated_at"}),
	}).Create(member).Error
}

func (s *AutomationStore) GetRuleTask(ctx context.Context, companyID, taskID int64) (*model.RuleTask, error) {
	var task model.RuleTask
	if err := first(s.db.WithContext(ctx), &task, "rule task", companyID, taskID); err != nil {
		return nil, err
	}
	return &task, nil
}

func (s *AutomationStore) CreateTask(ctx context.Context, task *model.Task) error {
	return s.db.WithContext(ctx).Create(task).Error
}

func (s *AutomationStore) ConversionGoalByTask(ctx context.Context, companyID, taskID int64) (*model.ConversionGoal, error) {
	var goal model.ConversionGoal
	err := s.db.WithContext(ctx).
		Where("company_profile_id = ? AND task_id = ? AND is_active = ?", companyID, taskID, true).
		First(&goal).Error
	if errors.Is(err, gorm.ErrRecordNotFound) {
		return nil, notFound("conversion goal for task", taskID)
	}
	if err != nil {
		return nil, err
	}
	return &goal, nil
}

func (s *AutomationStore) RecordConversion(ctx context.Context, primary *model.ConversionHistory, secondaryLeadIDs []int64) error {
	return s.db.WithContext(ctx).Transaction(func(tx *gorm.DB) error {
		if err := tx.Create(primary).Error; err != nil {
			return err
		}
		if len(secondaryLeadIDs) == 0 {
			return nil
		}
		rows := make([]*model.ConversionHistory, 0, len(secondaryLeadIDs))
		for _, leadID := range secondaryLeadIDs {
			row := *primary
			row.ID = 0
			row.WhoID = leadID
			row.WhoType = model.FieldEntityLead
			row.IsSecondary = true
			rows = append(rows, &row)
		}
		return tx.CreateInBatches(rows, 100).Error
	})
}
