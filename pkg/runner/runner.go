package runner

import (
	"context"
	"errors"
	"fmt"
	"math"
	"sync"
	"time"

	"go.uber.org/zap"

	"github.com/flowforge/automation/pkg/config"
	"github.com/flowforge/automation/pkg/dispatcher"
	"github.com/flowforge/automation/pkg/metrics"
	"github.com/flowforge/automation/pkg/model"
	"github.com/flowforge/automation/pkg/store"
)

const (
	defaultWorkers      = 8
	defaultPollInterval = 2 * time.Second
	defaultBatchSize    = 50
	defaultMaxRetries   = 10
	defaultRetryBase    = 10 * time.Second
	maxRetryDelay       = time.Hour

	// claims older than this belong to a dead worker
	staleAfter    = 15 * time.Minute
	staleInterval = time.Minute
	saveTimeout   = 10 * time.Second
)

// EventQueue is the persistent automation event queue.
type EventQueue interface {
	ClaimDue(ctx context.Context, now time.Time, limit int) ([]*model.AutomationEvent, error)
	Save(ctx context.Context, event *model.AutomationEvent) error
	ReleaseStale(ctx context.Context, cutoff time.Time) (int64, error)
}

type Dispatcher interface {
	Dispatch(ctx context.Context, event *model.AutomationEvent) dispatcher.Result
}

type Runner struct {
	queue        EventQueue
	dispatcher   Dispatcher
	retries      RetryTracker
	outcomes     store.OutcomeStore
	notifier     dispatcher.Notifier
	logger       *zap.Logger
	now          func() time.Time
	workers      int
	pollInterval time.Duration
	batchSize    int
	maxRetries   int
	retryBase    time.Duration
}

func New(
	queue EventQueue,
	d Dispatcher,
	retries RetryTracker,
	outcomes store.OutcomeStore,
	notifier dispatcher.Notifier,
	cfg config.RunnerConfig,
	logger *zap.Logger,
) (*Runner, error) {
	if queue == nil || d == nil || retries == nil {
		return nil, errors.New("runner requires event queue, dispatcher and retry tracker")
	}
	if logger == nil {
		logger = zap.NewNop()
	}
	r := &Runner{
		queue:        queue,
		dispatcher:   d,
		retries:      retries,
		outcomes:     outcomes,
		notifier:     notifier,
		logger:       logger,
		now:          time.Now,
		workers:      cfg.Workers,
		pollInterval: cfg.PollInterval,
		batchSize:    cfg.BatchSize,
		maxRetries:   cfg.MaxRetries,
		retryBase:    cfg.RetryBase,
	}
	if r.workers <= 0 {
		r.workers = defaultWorkers
	}
	if r.pollInterval <= 0 {
		r.pollInterval = defaultPollInterval
	}
	if r.batchSize <= 0 {
		r.batchSize = defaultBatchSize
	}
	if r.maxRetries <= 0 {
		r.maxRetries = defaultMaxRetries
	}
	if r.retryBase <= 0 {
		r.retryBase = defaultRetryBase
	}
	return r, nil
}

// Run polls the queue until ctx is cancelled, then waits for in-flight
// events to finish.
func (r *Runner) Run(ctx context.Context) error {
	r.logger.Info("event runner starting",
		zap.Int("workers", r.workers),
		zap.Duration("poll_interval", r.pollInterval),
		zap.Int("batch_size", r.batchSize),
	)

	events := make(chan *model.AutomationEvent)
	var wg sync.WaitGroup
	for i := 0; i < r.workers; i++ {
		wg.Add(1)
		go func() {
			defer wg.Done()
			for event := range events {
				if ctx.Err() != nil {
					r.release(ctx, event)
					continue
				}
				r.process(ctx, event)
			}
		}()
	}

	r.poll(ctx, events)
	close(events)
	wg.Wait()

	r.logger.Info("event runner stopped")
	return ctx.Err()
}

func (r *Runner) poll(ctx context.Context, events chan<- *model.AutomationEvent) {
	ticker := time.NewTicker(r.pollInterval)
	defer ticker.Stop()
	staleTicker := time.NewTicker(staleInterval)
	defer staleTicker.Stop()

	r.releaseStale(ctx)
	for {
		for _, event := range r.claim(ctx) {
			select {
			case events <- event:
			case <-ctx.Done():
				r.release(ctx, event)
			}
		}

		select {
		case <-ctx.Done():
			return
		case <-staleTicker.C:
			r.releaseStale(ctx)
		case <-ticker.C:
		}
	}
}

func (r *Runner) claim(ctx context.Context) []*model.AutomationEvent {
	if ctx.Err() != nil {
		return nil
	}
	events, err := r.queue.ClaimDue(ctx, r.now(), r.batchSize)
	if err != nil {
		if ctx.Err() == nil {
			r.logger.Error("failed to claim due events", zap.Error(err))
		}
		return nil
	}
	metrics.QueueDepth.Set(float64(len(events)))
	return interleaveByTenant(events)
}

func (r *Runner) releaseStale(ctx context.Context) {
	n, err := r.queue.ReleaseStale(ctx, r.now().Add(-staleAfter))
	if err != nil {
		if ctx.Err() == nil {
			r.logger.Warn("failed to release stale events", zap.Error(err))
		}
		return
	}
	if n > 0 {
		r.logger.Warn("released stale claimed events", zap.Int64("count", n))
	}
}

// release hands a claimed but unprocessed event back to the queue.
func (r *Runner) release(ctx context.Context, event *model.AutomationEvent) {
	event.Pending = false
	event.PendingSince = nil
	r.save(ctx, event)
}

func (r *Runner) process(ctx context.Context, event *model.AutomationEvent) {
	start := r.now()
	attempt := event.Attempts + 1
	res := r.dispatcher.Dispatch(ctx, event)
	now := r.now()

	switch {
	case res.Succeeded():
		event.MarkSucceeded(now)
		r.clearRetries(ctx, event)
	case res.Retryable():
		r.retry(ctx, event, res, now)
	default:
		event.MarkFailed(now, res.Reason)
		r.clearRetries(ctx, event)
	}

	r.save(ctx, event)
	r.record(ctx, event, res, attempt, now.Sub(start))
}

func (r *Runner) retry(ctx context.Context, event *model.AutomationEvent, res dispatcher.Result, now time.Time) {
	count, err := r.retries.Incr(ctx, event.ID)
	if err != nil {
		r.logger.Warn("retry tracker unavailable, using stored attempts",
			zap.Int64("event_id", event.ID), zap.Error(err))
		count = event.Attempts + 1
	}

	if count >= r.maxRetries {
		reason := fmt.Sprintf("retries exhausted after %d attempts: %s", count, res.Reason)
		event.MarkFailed(now, reason)
		r.clearRetries(ctx, event)
		metrics.RetriesExhausted.WithLabelValues(event.EventType).Inc()
		r.notifyExhausted(ctx, event, reason)
		return
	}

	delay := res.RetryAfter
	if delay <= 0 {
		delay = backoff(r.retryBase, count)
	}
	event.Reschedule(now.Add(delay), res.Reason)
	metrics.RetryCount.WithLabelValues(event.EventType).Inc()
	r.logger.Info("automation event rescheduled",
		zap.Int64("event_id", event.ID),
		zap.String("event_type", event.EventType),
		zap.Int("attempt", count),
		zap.Duration("delay", delay))
}

func backoff(base time.Duration, attempt int) time.Duration {
	if attempt < 1 {
		attempt = 1
	}
	delay := time.Duration(float64(base) * math.Pow(2, float64(attempt-1)))
	if delay <= 0 || delay > maxRetryDelay {
		return maxRetryDelay
	}
	return delay
}

func (r *Runner) clearRetries(ctx context.Context, event *model.AutomationEvent) {
	if err := r.retries.Clear(ctx, event.ID); err != nil {
		r.logger.Debug("failed to clear retry counter", zap.Int64("event_id", event.ID), zap.Error(err))
	}
}

func (r *Runner) notifyExhausted(ctx context.Context, event *model.AutomationEvent, reason string) {
	if r.notifier == nil {
		return
	}
	ctx, cancel := context.WithTimeout(context.WithoutCancel(ctx), saveTimeout)
	defer cancel()
	err := r.notifier.Notify(ctx, dispatcher.Notification{
		Kind:      dispatcher.NotifyRetriesExhausted,
		CompanyID: event.CompanyProfileID,
		EventID:   event.ID,
		EventType: event.EventType,
		Message:   reason,
	})
	if err != nil {
		r.logger.Warn("failed to notify exhausted retries", zap.Int64("event_id", event.ID), zap.Error(err))
	}
}

// save outlives shutdown so a finished dispatch is never lost.
func (r *Runner) save(ctx context.Context, event *model.AutomationEvent) {
	ctx, cancel := context.WithTimeout(context.WithoutCancel(ctx), saveTimeout)
	defer cancel()
	err := r.queue.Save(ctx, event)
	if errors.Is(err, store.ErrStaleClaim) {
		metrics.StaleSaves.Inc()
		r.logger.Warn("automation event claim lost, result discarded",
			zap.Int64("event_id", event.ID),
			zap.String("state", string(event.State())))
		return
	}
	if err != nil {
		r.logger.Error("failed to save automation event",
			zap.Int64("event_id", event.ID),
			zap.String("state", string(event.State())),
			zap.Error(err))
	}
}

func (r *Runner) record(ctx context.Context, event *model.AutomationEvent, res dispatcher.Result, attempt int, took time.Duration) {
	if r.outcomes == nil {
		return
	}
	ctx, cancel := context.WithTimeout(context.WithoutCancel(ctx), saveTimeout)
	defer cancel()
	outcome := &model.DispatchOutcome{
		EventID:          event.ID,
		CompanyProfileID: event.CompanyProfileID,
		EventType:        event.EventType,
		Outcome:          string(res.Outcome),
		Reason:           res.Reason,
		Attempt:          attempt,
		DurationMillis:   took.Milliseconds(),
		Timestamp:        r.now(),
	}
	if err := r.outcomes.Record(ctx, []*model.DispatchOutcome{outcome}); err != nil {
		r.logger.Warn("failed to record dispatch outcome", zap.Int64("event_id", event.ID), zap.Error(err))
	}
}
