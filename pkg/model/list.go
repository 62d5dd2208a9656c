package model

import "time"

type List struct {
	ID               int64  `gorm:"primaryKey"`
	CompanyProfileID int64  `gorm:"not null;index"`
	Name             string `gorm:"not null"`
	IsSystemList     bool   `gorm:"not null;default:false"`
	IsActive         bool   `gorm:"not null;default:true"`
	CreatedAt        time.Time
}

type ListMember struct {
	CompanyProfileID int64 `gorm:"primaryKey"`
	ListID           int64 `gorm:"primaryKey"`
	LeadID           int64 `gorm:"primaryKey"`
	AddedByWorkflow  int64
	CreatedAt        time.Time
}

type Tag struct {
	ID               int64  `gorm:"primaryKey"`
	CompanyProfileID int64  `gorm:"not null;index"`
	Name             string `gorm:"not null"`
}

type ListTag struct {
	CompanyProfileID int64 `gorm:"primaryKey"`
	ListID           int64 `gorm:"primaryKey"`
	TagID            int64 `gorm:"primaryKey"`
}

type LeadTag struct {
	CompanyProfileID int64 `gorm:"primaryKey"`
	LeadID           int64 `gorm:"primaryKey"`
	TagID            int64 `gorm:"primaryKey"`
	CreatedAt        time.Time
}

type RSSFeedSubscription struct {
	ID               int64  `gorm:"primaryKey"`
	CompanyProfileID int64  `gorm:"not null;index"`
	FeedURL          string `gorm:"not null"`
	ListID           int64  `gorm:"not null"`
	EmailID          int64  `gorm:"not null"`
	IsActive         bool   `gorm:"not null;default:true"`
	LastItem         string `gorm:"type:text"`
	LastPolledAt     *time.Time
	UpdatedAt        time.Time
}
