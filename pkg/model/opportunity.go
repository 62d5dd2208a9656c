package model

import (
	"strconv"
	"time"

	"github.com/lib/pq"
)

const (
	OpportunityStatusClosedWon  = "closedWon"
	OpportunityStatusClosedLost = "closedLost"
	OpportunityStatusOpen       = "open"
)

type Opportunity struct {
	ID               int64   `gorm:"primaryKey"`
	CompanyProfileID int64   `gorm:"not null;index"`
	OpportunityName  string  `gorm:"not null"`
	Amount           float64 `gorm:"not null;default:0"`
	DealStage        int64   `gorm:"not null;default:0"`
	PipelineID       int64   `gorm:"not null;default:0;index"`
	OwnerID          int64   `gorm:"not null;default:0"`
	AccountID        int64   `gorm:"not null;default:0"`
	PrimaryLeadID    int64   `gorm:"not null;default:0;index"`
	CampaignID       int64   `gorm:"not null;default:0"`
	Probability      int     `gorm:"not null;default:1"`
	IsWon            bool    `gorm:"not null;default:false"`
	IsClosed         bool    `gorm:"not null;default:false"`
	IsActive         bool    `gorm:"not null;default:true"`
	CloseDate        *time.Time
	VisualWorkflowID int64         `gorm:"not null;default:0"`
	ContactLeadIDs   pq.Int64Array `gorm:"type:bigint[]"`
	Version          int64         `gorm:"not null;default:0"`
	CreatedAt        time.Time
	UpdatedAt        time.Time
}

// PostbackRecord flattens the standard opportunity columns sent to webhooks.
func (o *Opportunity) PostbackRecord() map[string]string {
	record := map[string]string{
		"id":              strconv.FormatInt(o.ID, 10),
		"opportunityName": o.OpportunityName,
		"amount":          strconv.FormatFloat(o.Amount, 'f', -1, 64),
		"dealStageID":     strconv.FormatInt(o.DealStage, 10),
		"pipelineID":      strconv.FormatInt(o.PipelineID, 10),
		"ownerID":         strconv.FormatInt(o.OwnerID, 10),
		"accountID":       strconv.FormatInt(o.AccountID, 10),
		"primaryLeadID":   strconv.FormatInt(o.PrimaryLeadID, 10),
		"probability":     strconv.Itoa(o.Probability),
		"isWon":           boolString(o.IsWon),
		"isClosed":        boolString(o.IsClosed),
		"closeDate":       "",
	}
	if o.CloseDate != nil {
		record["closeDate"] = o.CloseDate.Format("2006-01-02 15:04:05")
	}
	return record
}

type OpportunityFieldValue struct {
	CompanyProfileID int64  `gorm:"primaryKey"`
	OpportunityID    int64  `gorm:"primaryKey"`
	FieldID          int64  `gorm:"primaryKey"`
	Value            string `gorm:"type:text"`
	UpdatedAt        time.Time
}

type Account struct {
	ID               int64  `gorm:"primaryKey;autoIncrement"`
	CompanyProfileID int64  `gorm:"not null;uniqueIndex:idx_account_name"`
	AccountName      string `gorm:"not null;uniqueIndex:idx_account_name"`
	OwnerID          int64
	CreatedAt        time.Time
}

type Pipeline struct {
	ID               int64 `gorm:"primaryKey"`
	CompanyProfileID int64 `gorm:"not null;index"`
	Name             string
	IsSales          bool `gorm:"not null;default:true"`
}

type DealStage struct {
	ID               int64 `gorm:"primaryKey"`
	CompanyProfileID int64 `gorm:"not null;index"`
	PipelineID       int64 `gorm:"not null;index"`
	Name             string
	Probability      int
}
