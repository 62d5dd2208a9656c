package model

import "time"

const (
	CompanyTypeAgency       = "agency"
	CompanyTypeDirectClient = "directClient"
	CompanyTypeAgencyClient = "agencyClient"

	DefaultBusinessStartHour = 8
	DefaultBusinessEndHour   = 17
)

type CompanyProfile struct {
	ID                 int64  `gorm:"primaryKey"`
	CompanyName        string `gorm:"not null"`
	ProductOffering    int    `gorm:"not null;default:1"`
	Timezone           string `gorm:"type:varchar(64);default:'UTC'"`
	SalesTimezone      string `gorm:"type:varchar(64)"`
	BusinessHoursStart *int
	BusinessHoursEnd   *int
	BusinessDays       int   `gorm:"not null;default:62"`
	ManagedBy          int64 `gorm:"not null;default:0"`
	IsReseller         bool  `gorm:"not null;default:false"`
	SendingDisabled    bool  `gorm:"not null;default:false"`
	SpamCompliant      bool  `gorm:"not null;default:false"`
	CreatedAt          time.Time
	UpdatedAt          time.Time
}

func (CompanyProfile) TableName() string {
	return "company_profiles"
}

// Location falls back to UTC for unknown zones.
func (c *CompanyProfile) Location() *time.Location {
	return loadLocation(c.Timezone)
}

func (c *CompanyProfile) SalesLocation() *time.Location {
	if c.SalesTimezone == "" {
		return c.Location()
	}
	return loadLocation(c.SalesTimezone)
}

// CompanyType classifies the tenant for send options. Self-managed
// tenants carry their own ID (or 0) in ManagedBy.
func (c *CompanyProfile) CompanyType() string {
	selfManaged := c.ManagedBy == 0 || c.ManagedBy == c.ID
	switch {
	case selfManaged && c.IsReseller:
		return CompanyTypeAgency
	case selfManaged:
		return CompanyTypeDirectClient
	default:
		return CompanyTypeAgencyClient
	}
}

func (c *CompanyProfile) BusinessHours() (start, end int) {
	start, end = DefaultBusinessStartHour, DefaultBusinessEndHour
	if c.BusinessHoursStart != nil {
		start = *c.BusinessHoursStart
	}
	if c.BusinessHoursEnd != nil {
		end = *c.BusinessHoursEnd
	}
	return start, end
}

func loadLocation(name string) *time.Location {
	if name == "" {
		return time.UTC
	}
	loc, err := time.LoadLocation(name)
	if err != nil {
		return time.UTC
	}
	return loc
}

type User struct {
	ID               int64  `gorm:"primaryKey"`
	CompanyProfileID int64  `gorm:"not null;index"`
	FirstName        string
	LastName         string
	EmailAddress     string `gorm:"not null"`
	Phone            string
	IsActive         bool `gorm:"not null;default:true"`
	CreatedAt        time.Time
}

func (u *User) DisplayName() string {
	return displayName(u.FirstName, u.LastName)
}

func displayName(first, last string) string {
	switch {
	case first == "":
		return last
	case last == "":
		return first
	default:
		return first + " " + last
	}
}
