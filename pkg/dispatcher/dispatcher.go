package dispatcher

import (
	"context"
	"errors"
	"fmt"
	"time"

	"github.com/osteele/liquid"
	"go.uber.org/zap"
	"gorm.io/gorm"

	"github.com/flowforge/automation/pkg/config"
	"github.com/flowforge/automation/pkg/lock"
	"github.com/flowforge/automation/pkg/mail"
	"github.com/flowforge/automation/pkg/metrics"
	"github.com/flowforge/automation/pkg/model"
)

const (
	DefaultTimeout     = 30 * time.Second
	DefaultLockTTL     = 10 * time.Minute
	DefaultMaxRunDepth = 5

	releaseTimeout = 5 * time.Second
)

type Deps struct {
	Store    Store
	Mailer   Mailer
	Jobs     JobQueue
	Locker   lock.Locker
	Notifier Notifier
	Feeds    FeedReader
	Rules    RuleEvaluator
	Metrics  metrics.Recorder
	Logger   *zap.Logger
	Clock    Clock
}

type Options struct {
	Timeout     time.Duration
	LockTTL     time.Duration
	MaxRunDepth int
	Registry    *Registry
}

// OptionsFromConfig fills unset knobs with defaults.
func OptionsFromConfig(cfg config.DispatcherConfig) Options {
	return Options{
		Timeout:     cfg.Timeout,
		LockTTL:     cfg.LockTTL,
		MaxRunDepth: cfg.MaxRunDepth,
	}
}

// Dispatcher validates queued automation events and routes them to handlers.
type Dispatcher struct {
	store    Store
	mailer   Mailer
	jobs     JobQueue
	locker   lock.Locker
	notifier Notifier
	feeds    FeedReader
	rules    RuleEvaluator
	metrics  metrics.Recorder
	logger   *zap.Logger
	now      Clock
	merge    *liquid.Engine
	registry *Registry
	opts     Options
}

func New(deps Deps, opts Options) (*Dispatcher, error) {
	if deps.Store == nil || deps.Mailer == nil || deps.Jobs == nil || deps.Locker == nil {
		return nil, errors.New("dispatcher requires store, mailer, job queue and locker")
	}
	if opts.Timeout <= 0 {
		opts.Timeout = DefaultTimeout
	}
	if opts.LockTTL <= 0 {
		opts.LockTTL = DefaultLockTTL
	}
	if opts.MaxRunDepth <= 0 {
		opts.MaxRunDepth = DefaultMaxRunDepth
	}
	if opts.Registry == nil {
		opts.Registry = NewRegistry()
	}
	if err := opts.Registry.Validate(); err != nil {
		return nil, err
	}
	if deps.Metrics == nil {
		deps.Metrics = metrics.Nop{}
	}
	if deps.Logger == nil {
		deps.Logger = zap.NewNop()
	}
	if deps.Clock == nil {
		deps.Clock = time.Now
	}

	return &Dispatcher{
		store:    deps.Store,
		mailer:   deps.Mailer,
		jobs:     deps.Jobs,
		locker:   deps.Locker,
		notifier: deps.Notifier,
		feeds:    deps.Feeds,
		rules:    deps.Rules,
		metrics:  deps.Metrics,
		logger:   deps.Logger,
		now:      deps.Clock,
		merge:    newMergeEngine(),
		registry: opts.Registry,
		opts:     opts,
	}, nil
}

// Event is the handler view of a queued automation event.
type Event struct {
	*model.AutomationEvent
	Type    EventType
	Trigger Payload
	Data    Payload
}

func newEvent(event *model.AutomationEvent, t EventType) *Event {
	trigger := Payload(event.TriggerData)
	if trigger == nil {
		trigger = Payload{}
	}
	data := Payload(event.WorkflowEventData)
	if data == nil {
		data = Payload{}
	}
	return &Event{AutomationEvent: event, Type: t, Trigger: trigger, Data: data}
}

// CompanyID resolves the tenant from the trigger context. A trigger that
// names another tenant than the queue row is rejected.
func (e *Event) CompanyID() (int64, bool) {
	co, ok := e.Trigger.ID("companyProfileID")
	if !ok {
		co = e.CompanyProfileID
	}
	if co <= 0 || (e.CompanyProfileID > 0 && co != e.CompanyProfileID) {
		return 0, false
	}
	return co, true
}

func (e *Event) LeadID() (int64, bool) {
	if id, ok := e.Trigger.ID("whoID"); ok {
		return id, true
	}
	return e.WhoID, e.WhoID > 0
}

func (e *Event) SubjectType() string {
	if t := e.Trigger.String("whoType"); t != "" {
		return t
	}
	return e.WhoType
}

// Dispatch runs one event to a classified result. It never panics on bad
// input and never mutates anything for an invalid event type.
func (d *Dispatcher) Dispatch(ctx context.Context, event *model.AutomationEvent) Result {
	if event == nil {
		return Permanent(fmt.Errorf("%w: nil event", ErrInvalidEventType))
	}
	t, ok := ParseEventType(event.EventType)
	if !ok {
		res := Permanent(fmt.Errorf("%w: %q", ErrInvalidEventType, event.EventType))
		d.logger.Warn("rejected automation event",
			zap.Int64("event_id", event.ID),
			zap.String("event_type", event.EventType),
			zap.Error(res.Err))
		d.metrics.ObserveDispatch("invalid", string(res.Outcome), 0)
		return res
	}
	handler, ok := d.registry.Lookup(t)
	if !ok {
		return Permanent(fmt.Errorf("%w: %s", ErrUnroutable, t))
	}

	ctx, cancel := context.WithTimeout(ctx, d.opts.Timeout)
	defer cancel()

	start := time.Now()
	ev := newEvent(event, t)
	res := handler(d, ctx, ev)
	if !res.Succeeded() && ctx.Err() != nil && !res.Retryable() {
		res = Retry(ctx.Err(), 0)
	}
	d.metrics.ObserveDispatch(string(t), string(res.Outcome), time.Since(start).Seconds())
	d.report(ctx, ev, res)
	return res
}

func (d *Dispatcher) report(ctx context.Context, ev *Event, res Result) {
	fields := []zap.Field{
		zap.Int64("event_id", ev.ID),
		zap.String("event_type", string(ev.Type)),
		zap.Int64("company_id", ev.CompanyProfileID),
		zap.String("outcome", string(res.Outcome)),
	}
	switch res.Outcome {
	case Completed:
		d.logger.Debug("automation event completed", fields...)
	case Skipped:
		d.logger.Info("automation event skipped", append(fields, zap.String("reason", res.Reason))...)
	case FailedRetryable:
		d.logger.Warn("automation event will be retried", append(fields, zap.Error(res.Err))...)
	case FailedPermanent:
		d.logger.Warn("automation event failed", append(fields, zap.Error(res.Err))...)
		d.notifyPolicy(ctx, ev, res.Err)
	}
}

// notifyPolicy alerts the tenant about a permanent policy rejection.
// Duplicate sends and ineligible recipients stay silent.
func (d *Dispatcher) notifyPolicy(ctx context.Context, ev *Event, err error) {
	if d.notifier == nil || errors.Is(err, ErrDuplicateSend) || mail.IsCode(err, mail.CodeNotEligible) {
		return
	}
	code, msg, ok := PolicyDetails(err)
	if !ok {
		return
	}
	ctx, cancel := context.WithTimeout(context.WithoutCancel(ctx), releaseTimeout)
	defer cancel()
	n := Notification{
		Kind:      NotifyPolicyRejected,
		CompanyID: ev.CompanyProfileID,
		EventID:   ev.ID,
		EventType: string(ev.Type),
		Code:      code,
		Message:   msg,
	}
	if err := d.notifier.Notify(ctx, n); err != nil {
		d.logger.Warn("failed to notify policy rejection", zap.Int64("event_id", ev.ID), zap.Error(err))
	}
}

// skip logs the trimmed payload and ends the event as a benign no-op.
func (d *Dispatcher) skip(ev *Event, reason string) Result {
	d.logger.Info("automation event missing data",
		zap.Int64("event_id", ev.ID),
		zap.String("event_type", string(ev.Type)),
		zap.String("reason", reason),
		zap.Any("trigger_data", ev.TriggerData),
		zap.Any("workflow_event_data", Trim(ev.WorkflowEventData)))
	return Skip(reason)
}

// reject is the hard-fail counterpart of skip.
func (d *Dispatcher) reject(ev *Event, format string, args ...interface{}) Result {
	err := malformed(format, args...)
	d.logger.Error("automation event payload is malformed",
		zap.Int64("event_id", ev.ID),
		zap.String("event_type", string(ev.Type)),
		zap.Error(err),
		zap.Any("trigger_data", ev.TriggerData),
		zap.Any("workflow_event_data", Trim(ev.WorkflowEventData)))
	return Permanent(err)
}

// nextRunDepth is the depth handed to nested work scheduled by this event.
func (d *Dispatcher) nextRunDepth(ev *Event) (int, error) {
	prior, ok := ev.Data.Int64("runDepth")
	if !ok {
		prior, _ = ev.Trigger.Int64("runDepth")
	}
	if int(prior) >= d.opts.MaxRunDepth {
		return 0, policy(PolicyMaxRunDepth, "run depth %d reached the limit of %d", prior, d.opts.MaxRunDepth)
	}
	return int(prior) + 1, nil
}

func (d *Dispatcher) newJob(ev *Event, companyID int64, jobType string, payload model.JSONB, dedupeKey string) *model.Job {
	job := model.NewJob(companyID, jobType, payload, dedupeKey)
	job.SourceEvent = ev.ID
	return job
}

func (d *Dispatcher) enqueue(ctx context.Context, ev *Event, companyID int64, jobType string, payload model.JSONB, dedupeKey string) error {
	job := d.newJob(ev, companyID, jobType, payload, dedupeKey)
	if err := d.jobs.Enqueue(ctx, job); err != nil {
		return transient(err, "enqueue %s job", jobType)
	}
	return nil
}

// withSendLock guards one lead/email send against concurrent duplicates.
// Lock service failures do not block the send.
func (d *Dispatcher) withSendLock(ctx context.Context, ev *Event, companyID, leadID, emailID int64, send func() Result) Result {
	key := lock.SendKey(companyID, leadID, emailID)
	lease, err := d.locker.Acquire(ctx, key, d.opts.LockTTL)
	switch {
	case errors.Is(err, lock.ErrHeld):
		d.metrics.DuplicateSend(string(ev.Type))
		return Permanent(fmt.Errorf("%w: duplicate single lead email send %s", ErrDuplicateSend, key))
	case err != nil:
		d.metrics.LockError()
		d.logger.Warn("duplicate send lock unavailable, sending anyway",
			zap.Int64("event_id", ev.ID),
			zap.String("key", key),
			zap.Error(err))
	default:
		defer d.release(lease)
	}
	return send()
}

func (d *Dispatcher) release(lease lock.Lease) {
	ctx, cancel := context.WithTimeout(context.Background(), releaseTimeout)
	defer cancel()
	if err := lease.Release(ctx); err != nil {
		d.logger.Warn("failed to release duplicate send lock", zap.String("key", lease.Key()), zap.Error(err))
	}
}

func isNotFound(err error) bool {
	return errors.Is(err, gorm.ErrRecordNotFound)
}

// lookupFailure classifies a failed read of a record the handler needs.
func lookupFailure(err error, what string, id int64) Result {
	if isNotFound(err) {
		return Permanent(policy(PolicyMissingRecord, "%s %d not found", what, id))
	}
	return Classify(transient(err, "load %s %d", what, id))
}

func zapEvent(ev *Event, err error) []zap.Field {
	return []zap.Field{
		zap.Int64("event_id", ev.ID),
		zap.String("event_type", string(ev.Type)),
		zap.Int64("company_id", ev.CompanyProfileID),
		zap.Error(err),
	}
}
