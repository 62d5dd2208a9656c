package queue

import (
	"encoding/json"
	"fmt"
	"time"

	"github.com/segmentio/kafka-go"

	"github.com/flowforge/automation/pkg/model"
)

const (
	headerJobID         = "aeq-job-id"
	headerJobType       = "aeq-job-type"
	headerJobRetryCount = "aeq-job-retry-count"
	headerJobRetryAt    = "aeq-job-retry-at"
	headerJobOrigin     = "aeq-job-origin-topic"
	headerJobDLQError   = "aeq-job-dlq-error"
)

// Message is the wire form of a follow-on job.
type Message struct {
	JobID       string      `json:"job_id"`
	JobType     string      `json:"job_type"`
	CompanyID   int64       `json:"company_id"`
	DedupeKey   string      `json:"dedupe_key,omitempty"`
	SourceEvent int64       `json:"source_event,omitempty"`
	Payload     model.JSONB `json:"payload"`
	CreatedAt   time.Time   `json:"created_at"`
}

func NewMessage(job *model.Job) Message {
	msg := Message{
		JobID:       job.ID.String(),
		JobType:     job.JobType,
		CompanyID:   job.CompanyID,
		SourceEvent: job.SourceEvent,
		Payload:     job.Payload,
		CreatedAt:   job.CreatedAt,
	}
	if job.DedupeKey != nil {
		msg.DedupeKey = *job.DedupeKey
	}
	if msg.CreatedAt.IsZero() {
		msg.CreatedAt = time.Now()
	}
	return msg
}

// Encode builds the kafka message for a job, keyed by its dedupe key so
// duplicates land on the same partition.
func Encode(job *model.Job) (kafka.Message, error) {
	payload, err := json.Marshal(NewMessage(job))
	if err != nil {
		return kafka.Message{}, fmt.Errorf("marshal job: %w", err)
	}
	return kafka.Message{
		Key:   []byte(job.Key()),
		Value: payload,
		Headers: []kafka.Header{
			{Key: headerJobID, Value: []byte(job.ID.String())},
			{Key: headerJobType, Value: []byte(job.JobType)},
		},
		Time: time.Now(),
	}, nil
}

func Decode(message kafka.Message) (*Message, error) {
	var msg Message
	if err := json.Unmarshal(message.Value, &msg); err != nil {
		return nil, fmt.Errorf("unmarshal job: %w", err)
	}
	return &msg, nil
}

// dedupeID identifies a message for the consumer deduper.
func dedupeID(message kafka.Message) string {
	if len(message.Key) > 0 {
		return string(message.Key)
	}
	return header(message, headerJobID)
}

func header(message kafka.Message, key string) string {
	for _, h := range message.Headers {
		if h.Key == key {
			return string(h.Value)
		}
	}
	return ""
}

func appendHeaders(existing []kafka.Header, headers ...kafka.Header) []kafka.Header {
	merged := make([]kafka.Header, 0, len(existing)+len(headers))
	merged = append(merged, existing...)
	merged = append(merged, headers...)
	return merged
}
