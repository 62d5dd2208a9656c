package mail

import (
	"errors"
	"fmt"
)

var (
	// ErrPolicy is the root of every permanent send rejection.
	ErrPolicy = errors.New("mail policy rejection")
	// ErrTransient marks failures worth retrying later.
	ErrTransient = errors.New("mail transient failure")
)

const (
	CodeInactiveEmail        = "INACTIVE_EMAIL"
	CodeInvalidRecipient     = "INVALID_RECIPIENT"
	CodeNotEligible          = "NOT_ELIGIBLE"
	CodeNotSpamCompliant     = "NOT_SPAM_COMPLIANT"
	CodeCannotSendFromDomain = "CANNOT_SEND_FROM_DOMAIN"
	CodeOverQuota            = "OVER_QUOTA"
	CodeDKIMNotSetUp         = "DKIM_NOT_SETUP"
	CodeSendingDisabled      = "SENDING_DISABLED"
	CodeSMTPNotConfigured    = "SMTP_NOT_CONFIGURED"
	CodeSMSNotConfigured     = "SMS_NOT_CONFIGURED"
	CodeMessageRejected      = "MESSAGE_REJECTED"
)

type PolicyError struct {
	Code    string
	Message string
}

func (e *PolicyError) Error() string {
	return fmt.Sprintf("%s: %s", e.Code, e.Message)
}

func (e *PolicyError) Unwrap() error {
	return ErrPolicy
}

func rejection(code, format string, args ...interface{}) error {
	return &PolicyError{Code: code, Message: fmt.Sprintf(format, args...)}
}

func transientErr(err error, action string) error {
	return fmt.Errorf("%w: %s: %v", ErrTransient, action, err)
}

// IsCode reports whether err is a policy rejection with the given code.
func IsCode(err error, code string) bool {
	var pe *PolicyError
	return errors.As(err, &pe) && pe.Code == code
}
