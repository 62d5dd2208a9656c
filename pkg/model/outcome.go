package model

import "time"

// DispatchOutcome records one dispatch attempt of an automation event.
type DispatchOutcome struct {
	ID               uint64    `gorm:"primaryKey;autoIncrement" json:"id"`
	EventID          int64     `gorm:"not null;index:idx_outcomes_event" json:"eventID"`
	CompanyProfileID int64     `gorm:"not null;index:idx_outcomes_company_time,priority:1" json:"companyProfileID"`
	EventType        string    `gorm:"type:varchar(64);not null" json:"eventType"`
	Outcome          string    `gorm:"type:varchar(32);not null" json:"outcome"`
	Reason           string    `gorm:"type:text" json:"reason,omitempty"`
	Attempt          int       `gorm:"not null;default:0" json:"attempt"`
	DurationMillis   int64     `gorm:"not null;default:0" json:"durationMillis"`
	Timestamp        time.Time `gorm:"not null;index:idx_outcomes_company_time,priority:2" json:"timestamp"`
	CreatedAt        time.Time `gorm:"autoCreateTime" json:"createdAt"`
}

func (DispatchOutcome) TableName() string {
	return "dispatch_outcomes"
}
