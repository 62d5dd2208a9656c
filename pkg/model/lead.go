package model

import (
	"strconv"
	"time"
)

const (
	LeadStatusLead      = "lead"
	LeadStatusQualified = "qualified"
	LeadStatusContact   = "contact"
	LeadStatusCustomer  = "customer"
)

// StatusFlags are the boolean columns a lead status is derived from.
type StatusFlags struct {
	IsQualified bool
	IsContact   bool
	IsCustomer  bool
}

// StatusFromName resolves a status name and its flags.
func StatusFromName(name string) (string, StatusFlags, bool) {
	switch name {
	case LeadStatusLead, "open":
		return LeadStatusLead, StatusFlags{}, true
	case LeadStatusQualified, "mql":
		return LeadStatusQualified, StatusFlags{IsQualified: true}, true
	case LeadStatusContact, "sql":
		return LeadStatusContact, StatusFlags{IsQualified: true, IsContact: true}, true
	case LeadStatusCustomer:
		return LeadStatusCustomer, StatusFlags{IsQualified: true, IsContact: true, IsCustomer: true}, true
	default:
		return "", StatusFlags{}, false
	}
}

// StatusFromFlags picks the most advanced status the flags describe.
func StatusFromFlags(flags StatusFlags) string {
	switch {
	case flags.IsCustomer:
		return LeadStatusCustomer
	case flags.IsContact:
		return LeadStatusContact
	case flags.IsQualified:
		return LeadStatusQualified
	default:
		return LeadStatusLead
	}
}

type Lead struct {
	ID               int64  `gorm:"primaryKey"`
	CompanyProfileID int64  `gorm:"not null;index"`
	FirstName        string
	LastName         string
	EmailAddress     string `gorm:"index"`
	CompanyName      string
	Phone            string
	Website          string
	OwnerID          int64  `gorm:"not null;default:0"`
	CampaignID       int64  `gorm:"not null;default:0"`
	PersonaID        int64  `gorm:"not null;default:0"`
	AccountID        int64  `gorm:"not null;default:0"`
	ReferrerLeadID   int64  `gorm:"not null;default:0"`
	LeadStatus       string `gorm:"type:varchar(32);not null;default:'lead'"`
	IsQualified      bool   `gorm:"not null;default:false"`
	IsContact        bool   `gorm:"not null;default:false"`
	IsCustomer       bool   `gorm:"not null;default:false"`
	IsUnsubscribed   bool   `gorm:"not null;default:false"`
	HasOpportunity   bool   `gorm:"not null;default:false"`
	ScoreStale       bool   `gorm:"not null;default:false"`
	Version          int64  `gorm:"not null;default:0"`
	CreatedAt        time.Time
	UpdatedAt        time.Time
}

func (l *Lead) DisplayName() string {
	return displayName(l.FirstName, l.LastName)
}

func (l *Lead) Flags() StatusFlags {
	return StatusFlags{IsQualified: l.IsQualified, IsContact: l.IsContact, IsCustomer: l.IsCustomer}
}

// PostbackRecord flattens the lead columns sent to webhooks.
func (l *Lead) PostbackRecord() map[string]string {
	return map[string]string{
		"id":             strconv.FormatInt(l.ID, 10),
		"firstName":      l.FirstName,
		"lastName":       l.LastName,
		"emailAddress":   l.EmailAddress,
		"companyName":    l.CompanyName,
		"phoneNumber":    l.Phone,
		"website":        l.Website,
		"ownerID":        strconv.FormatInt(l.OwnerID, 10),
		"accountID":      strconv.FormatInt(l.AccountID, 10),
		"isQualified":    boolString(l.IsQualified),
		"isContact":      boolString(l.IsContact),
		"isCustomer":     boolString(l.IsCustomer),
		"isUnsubscribed": boolString(l.IsUnsubscribed),
	}
}

type LeadStatusHistory struct {
	ID               int64  `gorm:"primaryKey;autoIncrement"`
	CompanyProfileID int64  `gorm:"not null;index"`
	LeadID           int64  `gorm:"not null;index"`
	WorkflowID       int64  `gorm:"not null;default:0"`
	PreviousStatus   string `gorm:"type:varchar(32)"`
	NewStatus        string `gorm:"type:varchar(32);not null"`
	CreatedAt        time.Time
}

type LeadOwnerChange struct {
	ID               int64 `gorm:"primaryKey;autoIncrement"`
	CompanyProfileID int64 `gorm:"not null;index"`
	LeadID           int64 `gorm:"not null;index"`
	PreviousOwnerID  int64
	NewOwnerID       int64
	WorkflowID       int64
	CreatedAt        time.Time
}

const (
	FieldTypeText     = "text"
	FieldTypeNumber   = "number"
	FieldTypeCheckbox = "checkbox"
	FieldTypeDatetime = "datetime"
	FieldTypeDate     = "date"
	FieldTypePicklist = "picklist"

	FieldEntityLead        = "lead"
	FieldEntityOpportunity = "opportunity"
	FieldEntityAccount     = "account"

	FieldLabelUnsubscribed = "Is Unsubscribed"
	FieldLabelGDPRConsent  = "GDPR Consent"
)

type Field struct {
	ID               int64  `gorm:"primaryKey"`
	CompanyProfileID int64  `gorm:"not null;index"`
	Label            string `gorm:"not null"`
	SystemName       string
	DataType         string `gorm:"type:varchar(32);not null;default:'text'"`
	Entity           string `gorm:"type:varchar(32);not null;default:'lead'"`
	IsCustom         bool
	IsActive         bool `gorm:"not null;default:true"`
}

func (f *Field) IsStatusFlag() bool {
	return f.SystemName == "isQualified" || f.SystemName == "isContact" || f.SystemName == "isCustomer"
}

type LeadFieldValue struct {
	CompanyProfileID int64  `gorm:"primaryKey"`
	LeadID           int64  `gorm:"primaryKey"`
	FieldID          int64  `gorm:"primaryKey"`
	Value            string `gorm:"type:text"`
	UpdatedAt        time.Time
}

type NotificationPreference struct {
	ID               int64 `gorm:"primaryKey;autoIncrement"`
	CompanyProfileID int64 `gorm:"not null;index"`
	UserID           int64 `gorm:"not null"`
	OpportunityID    int64 `gorm:"not null"`
	Enabled          bool  `gorm:"not null;default:true"`
	CreatedAt        time.Time
}

func boolString(b bool) string {
	if b {
		return "1"
	}
	return "0"
}
