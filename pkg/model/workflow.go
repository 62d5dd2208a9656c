package model

import "time"

// Workflow is a standalone workflow or one action group of a visual workflow.
type Workflow struct {
	ID                   int64          `gorm:"primaryKey"`
	CompanyProfileID     int64          `gorm:"not null;index"`
	Name                 string         `gorm:"not null"`
	TestMode             bool           `gorm:"not null;default:false"`
	IsRepeatable         bool           `gorm:"not null;default:false"`
	RunOnAllLeads        bool           `gorm:"not null;default:false"`
	VisualWorkflowID     int64          `gorm:"not null;default:0;index"`
	IsPrimaryActionGroup bool           `gorm:"not null;default:false"`
	RequiredWorkflowID   int64          `gorm:"not null;default:0"`
	IsActive             bool           `gorm:"not null;default:true"`
	Events               []WorkflowStep `gorm:"foreignKey:WorkflowID"`
	CreatedAt            time.Time
	UpdatedAt            time.Time
}

// WorkflowStep is the static definition of one event inside a workflow.
type WorkflowStep struct {
	ID               int64  `gorm:"primaryKey"`
	CompanyProfileID int64  `gorm:"not null;index"`
	WorkflowID       int64  `gorm:"not null;index"`
	EventType        string `gorm:"type:varchar(64);not null"`
	Position         int    `gorm:"not null;default:0"`
	Data             JSONB  `gorm:"type:jsonb"`
}

type VisualWorkflow struct {
	ID                   int64  `gorm:"primaryKey"`
	CompanyProfileID     int64  `gorm:"not null;index"`
	Name                 string `gorm:"not null"`
	PrimaryActionGroupID int64  `gorm:"not null;default:0"`
	IsActive             bool   `gorm:"not null;default:true"`
	CreatedAt            time.Time
}

type WorkflowMember struct {
	CompanyProfileID int64 `gorm:"primaryKey"`
	WorkflowID       int64 `gorm:"primaryKey"`
	LeadID           int64 `gorm:"primaryKey"`
	Excluded         bool  `gorm:"not null;default:false"`
	CreatedAt        time.Time
	UpdatedAt        time.Time
}

// RuleTask is an automation rule evaluated by branch events.
type RuleTask struct {
	ID                 int64 `gorm:"primaryKey"`
	CompanyProfileID   int64 `gorm:"not null;index"`
	Name               string
	RequiredWorkflowID int64 `gorm:"not null;default:0"`
	Rules              JSONB `gorm:"type:jsonb"`
	VisualWorkflowID   int64 `gorm:"not null;default:0"`
}

// RuleResult is the outcome of evaluating a rule task.
type RuleResult struct {
	Trigger bool   `json:"trigger"`
	Sets    []bool `json:"sets"`
}
