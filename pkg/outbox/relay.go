package outbox

import (
	"context"
	"encoding/json"
	"time"

	"github.com/google/uuid"
	"github.com/segmentio/kafka-go"
	"go.uber.org/zap"

	"github.com/flowforge/automation/pkg/metrics"
	"github.com/flowforge/automation/pkg/model"
	"github.com/flowforge/automation/pkg/queue"
)

type Repository interface {
	ListPending(ctx context.Context, limit int) ([]model.Job, error)
	MarkPublished(ctx context.Context, jobID uuid.UUID, publishedAt time.Time) error
	MarkFailed(ctx context.Context, jobID uuid.UUID) error
}

type Writer interface {
	WriteMessages(ctx context.Context, msgs ...kafka.Message) error
}

// Relay moves pending jobs from the outbox table onto the job topic.
type Relay struct {
	repo         Repository
	writer       Writer
	dlqWriter    Writer
	logger       *zap.Logger
	pollInterval time.Duration
	batchSize    int
	now          func() time.Time
}

type DLQMessage struct {
	Job      queue.Message `json:"job"`
	Error    string        `json:"error"`
	FailedAt time.Time     `json:"failed_at"`
}

func NewRelay(repo Repository, writer, dlqWriter Writer, logger *zap.Logger, pollInterval time.Duration, batchSize int) *Relay {
	if pollInterval <= 0 {
		pollInterval = 5 * time.Second
	}
	if batchSize <= 0 {
		batchSize = 100
	}
	if logger == nil {
		logger = zap.NewNop()
	}
	return &Relay{
		repo:         repo,
		writer:       writer,
		dlqWriter:    dlqWriter,
		logger:       logger,
		pollInterval: pollInterval,
		batchSize:    batchSize,
		now:          time.Now,
	}
}

func (r *Relay) Run(ctx context.Context) error {
	r.logger.Info("outbox relay starting",
		zap.Duration("poll_interval", r.pollInterval),
		zap.Int("batch_size", r.batchSize),
	)

	ticker := time.NewTicker(r.pollInterval)
	defer ticker.Stop()

	r.processPending(ctx)

	for {
		select {
		case <-ctx.Done():
			r.logger.Info("outbox relay shutting down")
			return ctx.Err()
		case <-ticker.C:
			r.processPending(ctx)
		}
	}
}

// processPending relays one batch and returns how many jobs left the outbox.
func (r *Relay) processPending(ctx context.Context) int {
	jobs, err := r.repo.ListPending(ctx, r.batchSize)
	if err != nil {
		r.logger.Warn("failed to list pending outbox jobs", zap.Error(err))
		return 0
	}

	relayed := 0
	for i := range jobs {
		if err := r.publishJob(ctx, &jobs[i]); err != nil {
			r.logger.Warn("failed to publish outbox job",
				zap.Error(err),
				zap.String("job_id", jobs[i].ID.String()),
				zap.String("job_type", jobs[i].JobType))
			continue
		}
		relayed++
	}
	return relayed
}

func (r *Relay) publishJob(ctx context.Context, job *model.Job) error {
	message, err := queue.Encode(job)
	if err != nil {
		return r.publishDLQ(ctx, job, err)
	}

	if err := r.writer.WriteMessages(ctx, message); err != nil {
		r.logger.Warn("failed to publish to kafka, sending to DLQ", zap.Error(err), zap.String("job_id", job.ID.String()))
		return r.publishDLQ(ctx, job, err)
	}

	if err := r.repo.MarkPublished(ctx, job.ID, r.now()); err != nil {
		return err
	}
	metrics.JobsPublished.WithLabelValues(job.JobType, model.OutboxStatusPublished).Inc()
	return nil
}

func (r *Relay) publishDLQ(ctx context.Context, job *model.Job, publishErr error) error {
	if r.dlqWriter == nil {
		return publishErr
	}
	dlq := DLQMessage{
		Job:      queue.NewMessage(job),
		Error:    publishErr.Error(),
		FailedAt: r.now(),
	}

	payload, err := json.Marshal(dlq)
	if err != nil {
		return err
	}

	kafkaMessage := kafka.Message{
		Key:   []byte(job.Key()),
		Value: payload,
		Time:  r.now(),
	}

	if err := r.dlqWriter.WriteMessages(ctx, kafkaMessage); err != nil {
		return err
	}

	if err := r.repo.MarkFailed(ctx, job.ID); err != nil {
		return err
	}
	metrics.JobsPublished.WithLabelValues(job.JobType, model.OutboxStatusFailed).Inc()
	return nil
}
