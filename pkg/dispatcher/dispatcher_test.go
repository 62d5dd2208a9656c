package dispatcher

import (
	"context"
	"errors"
	"fmt"
	"sync"
	"testing"
	"time"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"github.com/flowforge/automation/pkg/lock"
	"github.com/flowforge/automation/pkg/mail"
	"github.com/flowforge/automation/pkg/model"
)

func sendEmailData() model.JSONB {
	return model.JSONB{
		"email": map[string]interface{}{
			"id":               float64(testEmail),
			"companyProfileID": float64(testCompany),
		},
	}
}

func TestRegistryRoutesEveryEventType(t *testing.T) {
	r := NewRegistry()
	require.NoError(t, r.Validate())
	for _, et := range AllEventTypes {
		_, ok := r.Lookup(et)
		assert.True(t, ok, "no handler for %s", et)
	}
}

func TestNewRejectsIncompleteRegistry(t *testing.T) {
	r := &Registry{handlers: map[EventType]Handler{}}
	r.Register((*Dispatcher).sendEmail, SendEmail)

	_, err := New(Deps{
		Store:  newMemStore(),
		Mailer: &fakeMailer{},
		Jobs:   &fakeJobs{},
		Locker: lock.NewMemoryLocker(),
	}, Options{Registry: r})
	require.Error(t, err)
	assert.ErrorIs(t, err, ErrUnroutable)
	assert.Contains(t, err.Error(), string(CreateTask))
}

func TestNewRequiresCollaborators(t *testing.T) {
	_, err := New(Deps{Store: newMemStore()}, Options{})
	require.Error(t, err)
}

func TestDispatchInvalidEventType(t *testing.T) {
	f := newFixture()

	for _, name := range []string{"", "sendEmails", "DROP TABLE"} {
		ev := leadEvent(EventType(name), sendEmailData())
		res := f.d.Dispatch(context.Background(), ev)

		assert.Equal(t, FailedPermanent, res.Outcome, name)
		assert.ErrorIs(t, res.Err, ErrInvalidEventType, name)
	}
	assert.Zero(t, f.mailer.count())
	assert.Empty(t, f.jobs.jobs)
	assert.Empty(t, f.notifier.sent)

	res := f.d.Dispatch(context.Background(), nil)
	assert.ErrorIs(t, res.Err, ErrInvalidEventType)
}

func TestParseEventTypeAliases(t *testing.T) {
	for _, et := range AllEventTypes {
		parsed, ok := ParseEventType(string(et))
		require.True(t, ok, et)
		assert.Equal(t, et, parsed)
	}
	_, ok := ParseEventType("notAnEvent")
	assert.False(t, ok)
}

func TestSendEmailDelivers(t *testing.T) {
	f := newFixture()

	res := f.d.Dispatch(context.Background(), leadEvent(SendEmail, sendEmailData()))

	require.Equal(t, Completed, res.Outcome, res.Reason)
	require.Equal(t, 1, f.mailer.count())
	sent := f.mailer.sent[0]
	assert.Equal(t, testCompany, sent.CompanyID)
	assert.Equal(t, "lee@example.test", sent.Recipient.Address)
	assert.Equal(t, testEmail, sent.Message.EmailID)
	assert.False(t, sent.Options.SendDuplicate)
	assert.Equal(t, testWorkflow, sent.Options.WorkflowID)
}

func TestSendEmailRejectsForeignTenant(t *testing.T) {
	f := newFixture()
	ev := leadEvent(SendEmail, sendEmailData())
	ev.TriggerData["companyProfileID"] = float64(testCompany + 1)

	res := f.d.Dispatch(context.Background(), ev)

	assert.Equal(t, Skipped, res.Outcome)
	assert.Zero(t, f.mailer.count())
}

func TestConcurrentDuplicateSendIsDetected(t *testing.T) {
	f := newFixture()
	f.mailer.gate = make(chan struct{})
	f.mailer.entered = make(chan struct{}, 2)

	var wg sync.WaitGroup
	var first Result
	wg.Add(1)
	go func() {
		defer wg.Done()
		first = f.d.Dispatch(context.Background(), leadEvent(SendEmail, sendEmailData()))
	}()
	<-f.mailer.entered

	second := leadEvent(SendEmail, sendEmailData())
	second.ID = 2
	res := f.d.Dispatch(context.Background(), second)
	assert.Equal(t, FailedPermanent, res.Outcome)
	assert.ErrorIs(t, res.Err, ErrDuplicateSend)

	close(f.mailer.gate)
	wg.Wait()
	assert.Equal(t, Completed, first.Outcome)
	assert.Equal(t, 1, f.mailer.count())
	assert.Empty(t, f.notifier.sent, "duplicate sends are not tenant notifications")

	// The lease is released after the send, so a later send goes through.
	f.mailer.entered = nil
	third := leadEvent(SendEmail, sendEmailData())
	third.ID = 3
	res = f.d.Dispatch(context.Background(), third)
	assert.Equal(t, Completed, res.Outcome)
	assert.Equal(t, 2, f.mailer.count())
}

func TestDuplicateSendLockIsKeyedPerEmail(t *testing.T) {
	l := lock.NewMemoryLocker()
	f := newFixture(func(d *Deps, _ *Options) { d.Locker = l })
	_, err := l.Acquire(context.Background(), lock.SendKey(testCompany, testLead, testEmail+1), time.Minute)
	require.NoError(t, err)

	res := f.d.Dispatch(context.Background(), leadEvent(SendEmail, sendEmailData()))

	assert.Equal(t, Completed, res.Outcome)
	assert.False(t, l.Held(lock.SendKey(testCompany, testLead, testEmail)))
}

type brokenLocker struct{}

func (brokenLocker) Acquire(ctx context.Context, key string, ttl time.Duration) (lock.Lease, error) {
	return nil, errors.New("redis: connection refused")
}

func TestSendLockFailsOpen(t *testing.T) {
	f := newFixture(func(d *Deps, _ *Options) { d.Locker = brokenLocker{} })

	res := f.d.Dispatch(context.Background(), leadEvent(SendEmail, sendEmailData()))

	assert.Equal(t, Completed, res.Outcome)
	assert.Equal(t, 1, f.mailer.count())
}

func TestDuplicateAllowedEmailSkipsLock(t *testing.T) {
	l := lock.NewMemoryLocker()
	f := newFixture(func(d *Deps, _ *Options) { d.Locker = l })
	f.store.emails[testEmail].AllowDuplicateSend = true
	_, err := l.Acquire(context.Background(), lock.SendKey(testCompany, testLead, testEmail), time.Minute)
	require.NoError(t, err)

	res := f.d.Dispatch(context.Background(), leadEvent(SendEmail, sendEmailData()))

	assert.Equal(t, Completed, res.Outcome)
	assert.True(t, f.mailer.sent[0].Options.SendDuplicate)
}

func TestSendTimeoutIsRetryableAndReleasesLock(t *testing.T) {
	l := lock.NewMemoryLocker()
	f := newFixture(func(d *Deps, o *Options) {
		d.Locker = l
		o.Timeout = 20 * time.Millisecond
	})
	f.mailer.gate = make(chan struct{})

	res := f.d.Dispatch(context.Background(), leadEvent(SendEmail, sendEmailData()))

	assert.Equal(t, FailedRetryable, res.Outcome)
	assert.ErrorIs(t, res.Err, context.DeadlineExceeded)
	assert.False(t, l.Held(lock.SendKey(testCompany, testLead, testEmail)))
}

func TestCancelledDispatchIsRetryable(t *testing.T) {
	f := newFixture()
	f.mailer.gate = make(chan struct{})
	ctx, cancel := context.WithCancel(context.Background())
	cancel()

	res := f.d.Dispatch(ctx, leadEvent(SendEmail, sendEmailData()))

	assert.Equal(t, FailedRetryable, res.Outcome)
}

func TestInactiveEmailNotifiesTenant(t *testing.T) {
	f := newFixture()
	f.store.emails[testEmail].IsActive = false

	res := f.d.Dispatch(context.Background(), leadEvent(SendEmail, sendEmailData()))

	assert.Equal(t, FailedPermanent, res.Outcome)
	assert.ErrorIs(t, res.Err, ErrPolicyRejection)
	require.Len(t, f.notifier.sent, 1)
	assert.Equal(t, NotifyPolicyRejected, f.notifier.sent[0].Kind)
	assert.Equal(t, PolicyInactiveEmail, f.notifier.sent[0].Code)
}

func TestIneligibleRecipientIsSilent(t *testing.T) {
	f := newFixture()
	f.mailer.err = &mail.PolicyError{Code: mail.CodeNotEligible, Message: "unsubscribed"}

	res := f.d.Dispatch(context.Background(), leadEvent(SendEmail, sendEmailData()))

	assert.Equal(t, FailedPermanent, res.Outcome)
	assert.Empty(t, f.notifier.sent)
}

func TestMailTransientFailureIsRetryable(t *testing.T) {
	f := newFixture()
	f.mailer.err = fmt.Errorf("ses throttled: %w", mail.ErrTransient)

	res := f.d.Dispatch(context.Background(), leadEvent(SendEmail, sendEmailData()))

	assert.Equal(t, FailedRetryable, res.Outcome)
}

func TestClassify(t *testing.T) {
	tests := []struct {
		name string
		err  error
		want Outcome
	}{
		{"nil", nil, Completed},
		{"deadline", fmt.Errorf("send: %w", context.DeadlineExceeded), FailedRetryable},
		{"canceled", context.Canceled, FailedRetryable},
		{"transient", transient(errors.New("conn reset"), "load lead"), FailedRetryable},
		{"policy", policy(PolicyProtectedField, "nope"), FailedPermanent},
		{"malformed", malformed("missing id"), FailedPermanent},
		{"duplicate", fmt.Errorf("%w: key", ErrDuplicateSend), FailedPermanent},
		{"mail policy", fmt.Errorf("send: %w", mail.ErrPolicy), FailedPermanent},
		{"unknown", errors.New("boom"), FailedRetryable},
	}
	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			assert.Equal(t, tt.want, Classify(tt.err).Outcome)
		})
	}
	assert.True(t, errors.Is(transient(errors.New("x"), "y"), ErrTransientInfrastructure))
}

func TestRunDepthLimit(t *testing.T) {
	f := newFixture()
	f.store.workflows[301] = &model.Workflow{ID: 301, CompanyProfileID: testCompany, Name: "Child"}

	atLimit := leadEvent(AddToActionGroup, model.JSONB{"addToActionGroupID": float64(301), "runDepth": float64(DefaultMaxRunDepth)})
	res := f.d.Dispatch(context.Background(), atLimit)
	assert.Equal(t, FailedPermanent, res.Outcome)
	code, _, ok := PolicyDetails(res.Err)
	require.True(t, ok)
	assert.Equal(t, PolicyMaxRunDepth, code)
	assert.Empty(t, f.jobs.jobs)

	below := leadEvent(AddToActionGroup, model.JSONB{"addToActionGroupID": float64(301), "runDepth": float64(DefaultMaxRunDepth - 1)})
	res = f.d.Dispatch(context.Background(), below)
	require.Equal(t, Completed, res.Outcome, res.Reason)
	jobs := f.jobs.ofType(model.JobScheduleWorkflow)
	require.Len(t, jobs, 1)
	assert.Equal(t, DefaultMaxRunDepth, jobs[0].Payload["runDepth"])
	assert.Equal(t, true, jobs[0].Payload["scheduledByAutomation"])
	assert.Equal(t, int64(1), jobs[0].SourceEvent)
}

func TestRunDepthFromTriggerData(t *testing.T) {
	f := newFixture()
	f.store.workflows[301] = &model.Workflow{ID: 301, CompanyProfileID: testCompany, Name: "Child"}
	ev := leadEvent(AddToActionGroup, model.JSONB{"addToActionGroupID": float64(301)})
	ev.TriggerData["runDepth"] = float64(5)

	res := f.d.Dispatch(context.Background(), ev)

	assert.Equal(t, FailedPermanent, res.Outcome)
	assert.ErrorIs(t, res.Err, ErrPolicyRejection)
}

func TestDispatchReportsMetrics(t *testing.T) {
	rec := &recordingMetrics{}
	f := newFixture(func(d *Deps, _ *Options) { d.Metrics = rec })

	f.d.Dispatch(context.Background(), leadEvent(SendEmail, sendEmailData()))
	f.d.Dispatch(context.Background(), leadEvent("bogus", nil))

	rec.mu.Lock()
	defer rec.mu.Unlock()
	assert.Equal(t, []string{"sendEmail/completed", "invalid/failed_permanent"}, rec.dispatches)
}

type recordingMetrics struct {
	mu         sync.Mutex
	dispatches []string
	duplicates int
	lockErrors int
}

func (r *recordingMetrics) ObserveDispatch(eventType, outcome string, seconds float64) {
	r.mu.Lock()
	defer r.mu.Unlock()
	r.dispatches = append(r.dispatches, eventType+"/"+outcome)
}

func (r *recordingMetrics) DuplicateSend(eventType string) {
	r.mu.Lock()
	defer r.mu.Unlock()
	r.duplicates++
}

func (r *recordingMetrics) LockError() {
	r.mu.Lock()
	defer r.mu.Unlock()
	r.lockErrors++
}

func TestCastInt(t *testing.T) {
	tests := []struct {
		in   interface{}
		want int64
	}{
		{nil, 0},
		{"", 0},
		{"no", 0},
		{"  7 days", 7},
		{"-3", -3},
		{"0.9", 0},
		{"12abc", 12},
		{float64(2.7), 2},
		{true, 1},
		{false, 0},
		{[]interface{}{"x"}, 0},
	}
	for _, tt := range tests {
		assert.Equal(t, tt.want, castInt(tt.in), "%#v", tt.in)
	}
}
