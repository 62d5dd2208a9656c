package model

import (
	"time"

	"github.com/google/uuid"
)

const (
	OutboxStatusPending   = "pending"
	OutboxStatusPublished = "published"
	OutboxStatusFailed    = "failed"
)

const (
	JobScheduleWorkflow       = "doScheduleWorkflow"
	JobSendEmailToList        = "sendEmailToList"
	JobPostback               = "postback"
	JobChangeDealStage        = "changeDealStage"
	JobNewOpportunity         = "newOpportunity"
	JobProcessWorkflowResults = "processWorkflowResults"
)

// Job is a follow-on unit of work written to the outbox and relayed to kafka.
type Job struct {
	ID          uuid.UUID  `gorm:"type:uuid;primary_key;default:gen_random_uuid()" json:"id"`
	CompanyID   int64      `gorm:"not null;uniqueIndex:idx_jobs_dedupe,priority:1" json:"companyID"`
	JobType     string     `gorm:"type:varchar(64);not null" json:"jobType"`
	DedupeKey   *string    `gorm:"uniqueIndex:idx_jobs_dedupe,priority:2" json:"dedupeKey,omitempty"`
	Payload     JSONB      `gorm:"type:jsonb;not null" json:"payload"`
	SourceEvent int64      `gorm:"not null;default:0" json:"sourceEvent"`
	Status      string     `gorm:"not null;default:'pending';index" json:"status"`
	CreatedAt   time.Time  `gorm:"autoCreateTime;not null" json:"createdAt"`
	PublishedAt *time.Time `json:"publishedAt,omitempty"`
}

func (Job) TableName() string {
	return "automation_jobs"
}

func NewJob(companyID int64, jobType string, payload JSONB, dedupeKey string) *Job {
	job := &Job{
		ID:        uuid.New(),
		CompanyID: companyID,
		JobType:   jobType,
		Payload:   payload,
		Status:    OutboxStatusPending,
	}
	if dedupeKey != "" {
		job.DedupeKey = &dedupeKey
	}
	return job
}

// Key is the partition and dedupe key used on the transport.
func (j *Job) Key() string {
	if j.DedupeKey != nil && *j.DedupeKey != "" {
		return *j.DedupeKey
	}
	return j.ID.String()
}
