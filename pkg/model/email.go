package model

import (
	"strings"
	"time"

	"github.com/lib/pq"
)

type Email struct {
	ID                 int64  `gorm:"primaryKey"`
	CompanyProfileID   int64  `gorm:"not null;index"`
	Title              string
	Subject            string
	EmailHTML          string `gorm:"type:text"`
	FromName           string
	FromEmail          string
	ReplyTo            string
	IsActive           bool           `gorm:"not null;default:true"`
	AllowDuplicateSend bool           `gorm:"not null;default:false"`
	Attachments        pq.StringArray `gorm:"type:text[]"`
	CreatedAt          time.Time
	UpdatedAt          time.Time
}

// FromDomain is the domain part of the sender address.
func (e *Email) FromDomain() string {
	return EmailDomain(e.FromEmail)
}

func EmailDomain(address string) string {
	at := strings.LastIndex(address, "@")
	if at < 0 {
		return ""
	}
	return strings.ToLower(strings.TrimSpace(address[at+1:]))
}

// SendCredit tracks sends a tenant may still spend.
type SendCredit struct {
	CompanyProfileID int64 `gorm:"primaryKey"`
	SendsRemaining   int64 `gorm:"not null;default:0"`
	AllowOverage     bool  `gorm:"not null;default:false"`
	UpdatedAt        time.Time
}

type VerifiedDomain struct {
	CompanyProfileID int64  `gorm:"primaryKey"`
	Domain           string `gorm:"primaryKey"`
	DKIMVerified     bool   `gorm:"not null;default:false"`
	Blacklisted      bool   `gorm:"not null;default:false"`
}

type SMTPSettings struct {
	CompanyProfileID int64 `gorm:"primaryKey"`
	UserID           int64 `gorm:"primaryKey"`
	Host             string
	Username         string
}

// EmailVariable is a tenant-wide merge variable.
type EmailVariable struct {
	CompanyProfileID int64  `gorm:"primaryKey"`
	SystemName       string `gorm:"primaryKey"`
	Value            string
}
