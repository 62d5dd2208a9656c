package dispatcher

import (
	"context"
	"errors"
	"time"

	"github.com/flowforge/automation/pkg/mail"
)

type Outcome string

const (
	Completed       Outcome = "completed"
	Skipped         Outcome = "skipped"
	FailedPermanent Outcome = "failed_permanent"
	FailedRetryable Outcome = "failed_retryable"
)

// Result is the classified outcome of one dispatch.
type Result struct {
	Outcome    Outcome
	Reason     string
	Err        error
	RetryAfter time.Duration
}

func Complete() Result {
	return Result{Outcome: Completed}
}

func Skip(reason string) Result {
	return Result{Outcome: Skipped, Reason: reason}
}

func Permanent(err error) Result {
	return Result{Outcome: FailedPermanent, Reason: err.Error(), Err: err}
}

func Retry(err error, delay time.Duration) Result {
	return Result{Outcome: FailedRetryable, Reason: err.Error(), Err: err, RetryAfter: delay}
}

func (r Result) Succeeded() bool {
	return r.Outcome == Completed || r.Outcome == Skipped
}

func (r Result) Retryable() bool {
	return r.Outcome == FailedRetryable
}

// Classify maps an error onto the dispatch outcome taxonomy.
func Classify(err error) Result {
	if err == nil {
		return Complete()
	}

	var retryErr *RetryableError
	switch {
	case errors.Is(err, context.DeadlineExceeded), errors.Is(err, context.Canceled):
		return Retry(err, 0)
	case errors.As(err, &retryErr):
		return Retry(err, retryErr.Delay)
	case errors.Is(err, ErrDuplicateSend),
		errors.Is(err, ErrInvalidEventType),
		errors.Is(err, ErrMalformedPayload),
		errors.Is(err, ErrPolicyRejection),
		errors.Is(err, ErrUnroutable),
		errors.Is(err, mail.ErrPolicy):
		return Permanent(err)
	default:
		return Retry(err, 0)
	}
}
