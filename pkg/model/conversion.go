package model

import "time"

type ConversionGoalType string

const (
	GoalLeadField         ConversionGoalType = "LEAD_FIELD"
	GoalOpportunityField  ConversionGoalType = "OPP_FIELD"
	GoalAccountField      ConversionGoalType = "ACCOUNT_FIELD"
	GoalFormFill          ConversionGoalType = "FORM_FILL"
	GoalPipelineStage     ConversionGoalType = "PIPELINE_STAGE"
	GoalProjPipelineStage ConversionGoalType = "PROJ_PIPELINE_STAGE"
)

// SubjectType is the whoType a goal of this type must be met by.
func (t ConversionGoalType) SubjectType() (string, bool) {
	switch t {
	case GoalLeadField, GoalFormFill:
		return "lead", true
	case GoalOpportunityField, GoalPipelineStage, GoalProjPipelineStage:
		return "opportunity", true
	case GoalAccountField:
		return "account", true
	default:
		return "", false
	}
}

type ConversionGoal struct {
	ID               int64              `gorm:"primaryKey"`
	CompanyProfileID int64              `gorm:"not null;index"`
	Name             string             `gorm:"not null"`
	TaskID           int64              `gorm:"not null;index"`
	GoalType         ConversionGoalType `gorm:"type:varchar(32);not null"`
	FieldID          int64
	IsActive         bool `gorm:"not null;default:true"`
}

type ConversionHistory struct {
	ID               int64  `gorm:"primaryKey;autoIncrement"`
	CompanyProfileID int64  `gorm:"not null;index"`
	GoalID           int64  `gorm:"not null;index"`
	WhoID            int64  `gorm:"not null"`
	WhoType          string `gorm:"type:varchar(32);not null"`
	WhatType         string `gorm:"type:varchar(32)"`
	WhatID           int64
	WhatName         string
	GoalTitle        string
	PrevValue        string
	NewValue         string
	IsSecondary      bool   `gorm:"not null;default:false"`
	CreatedAt        time.Time
}
