package queue

import (
	"context"
	"errors"
	"fmt"
	"math"
	"strconv"
	"sync"
	"time"

	"github.com/segmentio/kafka-go"
	"go.uber.org/zap"

	"github.com/flowforge/automation/pkg/config"
	"github.com/flowforge/automation/pkg/model"
)

const (
	defaultJobRetryLimit  = 3
	defaultJobBackoffSecs = 10
)

// ErrPermanent marks a handler failure that must go straight to the DLQ.
var ErrPermanent = errors.New("permanent job failure")

type JobHandler func(context.Context, *Message) error

type messageReader interface {
	FetchMessage(ctx context.Context) (kafka.Message, error)
	CommitMessages(ctx context.Context, msgs ...kafka.Message) error
	Close() error
}

type messageWriter interface {
	WriteMessages(ctx context.Context, msgs ...kafka.Message) error
	Close() error
}

type ConsumerConfig struct {
	Brokers    []string
	ClientID   string
	GroupID    string
	Topic      string
	RetryTopic string
	DLQTopic   string
	MaxRetries int
	// JobTypes limits handling to these types; other jobs are committed untouched.
	JobTypes []string
}

type JobQueue struct {
	writer       messageWriter
	retryWriter  messageWriter
	dlqWriter    messageWriter
	reader       messageReader
	retryReader  messageReader
	topic        string
	retryTopic   string
	dlqTopic     string
	maxRetry     int
	backoffSecs  int
	jobTypes     map[string]bool
	deduper      Deduper
	logger       *zap.Logger
	messageGroup sync.WaitGroup
}

func newWriter(brokers []string, clientID string) *kafka.Writer {
	return &kafka.Writer{
		Addr:     kafka.TCP(brokers...),
		Balancer: &kafka.Hash{},
		Transport: &kafka.Transport{
			ClientID: clientID,
		},
		RequiredAcks: kafka.RequireAll,
	}
}

func newReader(brokers []string, clientID, groupID, topic string) *kafka.Reader {
	return kafka.NewReader(kafka.ReaderConfig{
		Brokers:  brokers,
		GroupID:  groupID,
		Topic:    topic,
		MinBytes: 1,
		MaxBytes: 10e6,
		Dialer: &kafka.Dialer{
			ClientID: clientID,
		},
	})
}

// NewProducer writes jobs straight to kafka. It satisfies the dispatcher's
// job queue when the outbox is not used.
func NewProducer(cfg *config.KafkaConfig) *JobQueue {
	return &JobQueue{
		writer: newWriter(cfg.Brokers, cfg.ClientID),
		topic:  cfg.JobTopic,
	}
}

func NewConsumer(cfg ConsumerConfig, deduper Deduper, logger *zap.Logger) *JobQueue {
	q := &JobQueue{
		retryWriter: newWriter(cfg.Brokers, cfg.ClientID),
		dlqWriter:   newWriter(cfg.Brokers, cfg.ClientID),
		reader:      newReader(cfg.Brokers, cfg.ClientID, cfg.GroupID, cfg.Topic),
		topic:       cfg.Topic,
		retryTopic:  cfg.RetryTopic,
		dlqTopic:    cfg.DLQTopic,
		maxRetry:    cfg.MaxRetries,
		backoffSecs: defaultJobBackoffSecs,
		deduper:     deduper,
		logger:      logger,
	}
	if cfg.RetryTopic != "" {
		q.retryReader = newReader(cfg.Brokers, cfg.ClientID, cfg.GroupID, cfg.RetryTopic)
	}
	if q.maxRetry <= 0 {
		q.maxRetry = defaultJobRetryLimit
	}
	if len(cfg.JobTypes) > 0 {
		q.jobTypes = make(map[string]bool, len(cfg.JobTypes))
		for _, t := range cfg.JobTypes {
			q.jobTypes[t] = true
		}
	}
	if q.logger == nil {
		q.logger = zap.NewNop()
	}
	return q
}

func (q *JobQueue) Enqueue(ctx context.Context, job *model.Job) error {
	if q.writer == nil {
		return errors.New("job queue writer is not configured")
	}
	message, err := Encode(job)
	if err != nil {
		return err
	}
	message.Topic = q.topic
	return q.writer.WriteMessages(ctx, message)
}

func (q *JobQueue) Consume(ctx context.Context, handler JobHandler) error {
	if q.reader == nil {
		return errors.New("job queue reader is not configured")
	}
	if handler == nil {
		return errors.New("job handler is required")
	}

	messageCh := make(chan queuedMessage, 2)
	errCh := make(chan error, 2)

	q.messageGroup.Add(1)
	go q.consumeReader(ctx, q.reader, messageCh, errCh)

	if q.retryReader != nil && q.retryTopic != "" {
		q.messageGroup.Add(1)
		go q.consumeReader(ctx, q.retryReader, messageCh, errCh)
	}

	for {
		select {
		case <-ctx.Done():
			return ctx.Err()
		case err := <-errCh:
			return err
		case msg := <-messageCh:
			if err := q.handleMessage(ctx, msg, handler); err != nil {
				return err
			}
		}
	}
}

type queuedMessage struct {
	reader  messageReader
	message kafka.Message
}

func (q *JobQueue) consumeReader(ctx context.Context, reader messageReader, messageCh chan<- queuedMessage, errCh chan<- error) {
	defer q.messageGroup.Done()

	for {
		msg, err := reader.FetchMessage(ctx)
		if err != nil {
			if errors.Is(err, context.Canceled) || errors.Is(err, context.DeadlineExceeded) {
				return
			}
			select {
			case errCh <- err:
			case <-ctx.Done():
			}
			return
		}
		select {
		case messageCh <- queuedMessage{reader: reader, message: msg}:
		case <-ctx.Done():
			return
		}
	}
}

func (q *JobQueue) handleMessage(ctx context.Context, msg queuedMessage, handler JobHandler) error {
	if msg.message.Topic == q.retryTopic && q.retryTopic != "" {
		if retryAt := retryTime(msg.message); !retryAt.IsZero() {
			delay := time.Until(retryAt)
			if delay > 0 {
				timer := time.NewTimer(delay)
				select {
				case <-ctx.Done():
					timer.Stop()
					return ctx.Err()
				case <-timer.C:
				}
			}
		}
	}

	job, err := Decode(msg.message)
	if err != nil {
		return q.handleFailure(ctx, msg, fmt.Errorf("%w: %v", ErrPermanent, err))
	}

	if q.jobTypes != nil && !q.jobTypes[job.JobType] {
		return q.commit(ctx, msg)
	}

	id := dedupeID(msg.message)
	if q.deduper != nil && id != "" && retryAttempt(msg.message) == 0 {
		if seen, err := q.deduper.Seen(ctx, id); err == nil && seen {
			q.logger.Debug("skipping duplicate job", zap.String("job_id", job.JobID), zap.String("key", id))
			return q.commit(ctx, msg)
		}
	}

	if err := handler(ctx, job); err != nil {
		q.logger.Warn("job handler failed",
			zap.String("job_id", job.JobID),
			zap.String("job_type", job.JobType),
			zap.Error(err))
		return q.handleFailure(ctx, msg, err)
	}
	if q.deduper != nil && id != "" {
		_ = q.deduper.MarkSeen(ctx, id)
	}
	return q.commit(ctx, msg)
}

func (q *JobQueue) commit(ctx context.Context, msg queuedMessage) error {
	if err := msg.reader.CommitMessages(ctx, msg.message); err != nil {
		return fmt.Errorf("commit job offset: %w", err)
	}
	return nil
}

func (q *JobQueue) handleFailure(ctx context.Context, msg queuedMessage, handlerErr error) error {
	retryCount := retryAttempt(msg.message)

	if !errors.Is(handlerErr, ErrPermanent) && retryCount < q.maxRetry && q.retryTopic != "" {
		retryAt := time.Now().Add(calculateBackoff(q.backoffSecs, retryCount+1))
		headers := appendHeaders(withoutRetryHeaders(msg.message.Headers),
			kafka.Header{Key: headerJobRetryCount, Value: []byte(strconv.Itoa(retryCount + 1))},
			kafka.Header{Key: headerJobRetryAt, Value: []byte(retryAt.Format(time.RFC3339Nano))},
			kafka.Header{Key: headerJobOrigin, Value: []byte(msg.message.Topic)},
		)
		if err := q.publish(ctx, q.retryWriter, q.retryTopic, msg.message.Key, msg.message.Value, headers); err != nil {
			return err
		}
		return q.commit(ctx, msg)
	}

	if q.dlqTopic != "" {
		headers := appendHeaders(msg.message.Headers,
			kafka.Header{Key: headerJobOrigin, Value: []byte(msg.message.Topic)},
			kafka.Header{Key: headerJobDLQError, Value: []byte(handlerErr.Error())},
		)
		if err := q.publish(ctx, q.dlqWriter, q.dlqTopic, msg.message.Key, msg.message.Value, headers); err != nil {
			return err
		}
		return q.commit(ctx, msg)
	}

	return handlerErr
}

func calculateBackoff(baseSecs, attempt int) time.Duration {
	if attempt <= 0 {
		return 0
	}
	if baseSecs <= 0 {
		baseSecs = defaultJobBackoffSecs
	}
	delay := float64(baseSecs) * math.Pow(2, float64(attempt-1))
	return time.Duration(delay) * time.Second
}

func retryAttempt(message kafka.Message) int {
	value := header(message, headerJobRetryCount)
	if value == "" {
		return 0
	}
	count, err := strconv.Atoi(value)
	if err != nil {
		return 0
	}
	return count
}

func retryTime(message kafka.Message) time.Time {
	value := header(message, headerJobRetryAt)
	if value == "" {
		return time.Time{}
	}
	parsed, err := time.Parse(time.RFC3339Nano, value)
	if err != nil {
		return time.Time{}
	}
	return parsed
}

func withoutRetryHeaders(headers []kafka.Header) []kafka.Header {
	kept := make([]kafka.Header, 0, len(headers))
	for _, h := range headers {
		switch h.Key {
		case headerJobRetryCount, headerJobRetryAt, headerJobOrigin:
			continue
		}
		kept = append(kept, h)
	}
	return kept
}

func (q *JobQueue) publish(ctx context.Context, writer messageWriter, topic string, key, value []byte, headers []kafka.Header) error {
	if writer == nil {
		return errors.New("job queue writer is not configured")
	}
	if topic == "" {
		return errors.New("job queue topic is not configured")
	}

	message := kafka.Message{
		Topic:   topic,
		Key:     key,
		Value:   value,
		Headers: headers,
		Time:    time.Now(),
	}
	return writer.WriteMessages(ctx, message)
}

func (q *JobQueue) Close() error {
	q.messageGroup.Wait()
	for _, w := range []messageWriter{q.writer, q.retryWriter, q.dlqWriter} {
		if w == nil {
			continue
		}
		if err := w.Close(); err != nil {
			return err
		}
	}
	for _, r := range []messageReader{q.reader, q.retryReader} {
		if r == nil {
			continue
		}
		if err := r.Close(); err != nil {
			return err
		}
	}
	return nil
}
