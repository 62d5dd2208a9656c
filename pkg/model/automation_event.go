package model

import "time"

type EventState string

const (
	EventQueued    EventState = "QUEUED"
	EventPending   EventState = "PENDING"
	EventSucceeded EventState = "SUCCEEDED"
	EventFailed    EventState = "FAILED"
)

// AutomationEvent is one queued workflow action.
type AutomationEvent struct {
	ID                int64      `gorm:"primaryKey;autoIncrement" json:"id"`
	CompanyProfileID  int64      `gorm:"not null;index:idx_aeq_company" json:"companyProfileID"`
	TaskID            int64      `json:"taskID"`
	WorkflowID        *int64     `gorm:"index" json:"workflowID,omitempty"`
	OriginatingLeadID *int64     `json:"originatingLeadID,omitempty"`
	EventType         string     `gorm:"type:varchar(64);not null" json:"eventType"`
	EventScheduled    time.Time  `gorm:"not null;index:idx_aeq_due,priority:2" json:"eventScheduled"`
	TimeProcessed     *time.Time `json:"timeProcessed,omitempty"`
	Processed         bool       `gorm:"not null;default:false;index:idx_aeq_due,priority:1" json:"processed"`
	Success           bool       `gorm:"not null;default:false" json:"success"`
	Pending           bool       `gorm:"not null;default:false" json:"pending"`
	PendingSince      *time.Time `json:"pendingSince,omitempty"`
	ClaimToken        *string    `gorm:"type:varchar(36);index" json:"-"`
	PendingApproval   bool       `gorm:"not null;default:false" json:"pendingApproval"`
	Flags             int        `gorm:"not null;default:0" json:"flags"`
	TriggerData       JSONB      `gorm:"type:jsonb" json:"triggerData"`
	WorkflowEventData JSONB      `gorm:"type:jsonb" json:"workflowEventData"`
	WhoID             int64      `json:"whoID"`
	WhoType           string     `gorm:"type:varchar(32)" json:"whoType"`
	WhatID            int64      `json:"whatID"`
	WhatType          string     `gorm:"type:varchar(32)" json:"whatType"`
	Attempts          int        `gorm:"not null;default:0" json:"attempts"`
	LastError         string     `gorm:"type:text" json:"lastError,omitempty"`
	CreateTimestamp   time.Time  `gorm:"autoCreateTime" json:"createTimestamp"`
}

func (AutomationEvent) TableName() string {
	return "automation_event_queue"
}

// Event flags.
const (
	FlagSendDuplicate = 1
)

func (e *AutomationEvent) HasFlag(flag int) bool {
	return e.Flags&flag != 0
}

func (e *AutomationEvent) WorkflowIDValue() int64 {
	if e.WorkflowID == nil {
		return 0
	}
	return *e.WorkflowID
}

func (e *AutomationEvent) State() EventState {
	switch {
	case e.Processed && e.Success:
		return EventSucceeded
	case e.Processed:
		return EventFailed
	case e.Pending:
		return EventPending
	default:
		return EventQueued
	}
}

func (e *AutomationEvent) MarkSucceeded(now time.Time) {
	e.Processed = true
	e.Success = true
	e.Pending = false
	e.PendingSince = nil
	e.TimeProcessed = &now
	e.LastError = ""
}

func (e *AutomationEvent) MarkFailed(now time.Time, reason string) {
	e.Processed = true
	e.Success = false
	e.Pending = false
	e.PendingSince = nil
	e.TimeProcessed = &now
	e.LastError = reason
}

// Reschedule returns the event to the queue with a later not-before time.
func (e *AutomationEvent) Reschedule(at time.Time, reason string) {
	e.Processed = false
	e.Success = false
	e.Pending = false
	e.PendingSince = nil
	e.TimeProcessed = nil
	e.EventScheduled = at
	e.Attempts++
	e.LastError = reason
}
