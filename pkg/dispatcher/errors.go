package dispatcher

import (
	"errors"
	"fmt"
	"time"

	"github.com/flowforge/automation/pkg/mail"
)

var (
	ErrInvalidEventType        = errors.New("invalid event type")
	ErrMalformedPayload        = errors.New("malformed payload")
	ErrPolicyRejection         = errors.New("policy rejection")
	ErrTransientInfrastructure = errors.New("transient infrastructure failure")
	ErrDuplicateSend           = errors.New("duplicate send detected")
	ErrUnroutable              = errors.New("unreachable event route")
)

const (
	PolicyProtectedField = "PROTECTED_FIELD"
	PolicyMaxRunDepth    = "MAX_RUN_DEPTH"
	PolicyInactiveEmail  = "INACTIVE_EMAIL"
	PolicyInactiveFeed   = "INACTIVE_FEED"
	PolicyMissingRecord  = "MISSING_RECORD"
	PolicyInvalidList    = "INVALID_LIST"
	PolicyOwnerMismatch  = "LEAD_OWNER_MISMATCH"
)

// PolicyError is a tenant-visible permanent rejection.
type PolicyError struct {
	Code    string
	Message string
}

func (e *PolicyError) Error() string {
	return fmt.Sprintf("%s: %s", e.Code, e.Message)
}

func (e *PolicyError) Unwrap() error {
	return ErrPolicyRejection
}

func policy(code, format string, args ...interface{}) error {
	return &PolicyError{Code: code, Message: fmt.Sprintf(format, args...)}
}

// RetryableError carries a suggested delay for the queue consumer.
type RetryableError struct {
	Err   error
	Delay time.Duration
}

func (e *RetryableError) Error() string {
	return e.Err.Error()
}

func (e *RetryableError) Unwrap() error {
	return e.Err
}

func (e *RetryableError) Is(target error) bool {
	return target == ErrTransientInfrastructure
}

func transient(err error, format string, args ...interface{}) error {
	return &RetryableError{Err: fmt.Errorf("%s: %w", fmt.Sprintf(format, args...), err)}
}

func malformed(format string, args ...interface{}) error {
	return fmt.Errorf("%w: %s", ErrMalformedPayload, fmt.Sprintf(format, args...))
}

// PolicyDetails extracts the code and message of a policy rejection.
func PolicyDetails(err error) (string, string, bool) {
	var pe *PolicyError
	if errors.As(err, &pe) {
		return pe.Code, pe.Message, true
	}
	var me *mail.PolicyError
	if errors.As(err, &me) {
		return me.Code, me.Message, true
	}
	return "", "", false
}
