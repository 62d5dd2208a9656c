package model

import (
	"time"

	"github.com/lib/pq"
)

type TaskType string

const (
	TaskTypeCall    TaskType = "call"
	TaskTypeEmail   TaskType = "email"
	TaskTypeMeeting TaskType = "meeting"
	TaskTypeTodo    TaskType = "todo"
)

// Task is a CRM to-do created for a user by automation.
type Task struct {
	ID               int64    `gorm:"primaryKey;autoIncrement"`
	CompanyProfileID int64    `gorm:"not null;index"`
	TaskType         TaskType `gorm:"type:varchar(32);not null"`
	Title            string   `gorm:"not null"`
	Note             string   `gorm:"type:text"`
	AssignedUserID   int64    `gorm:"not null;index"`
	AuthorID         int64    `gorm:"not null"`
	WhoID            int64    `gorm:"not null"`
	WhoType          string   `gorm:"type:varchar(32);not null;default:'lead'"`
	WhatID           int64    `gorm:"not null;default:0"`
	WhatType         string   `gorm:"type:varchar(32)"`
	WorkflowID       int64    `gorm:"not null;default:0"`
	DueDate          time.Time
	Completed        bool           `gorm:"not null;default:false"`
	EmailIDs         pq.Int64Array  `gorm:"type:bigint[]"`
	MediaURLs        pq.StringArray `gorm:"type:text[]"`
	SendInvite       bool           `gorm:"not null;default:false"`
	CreatedAt        time.Time
}
