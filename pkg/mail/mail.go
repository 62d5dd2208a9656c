package mail

import (
	"context"
	"errors"
	"fmt"
	"strings"

	"go.uber.org/zap"
	"gorm.io/gorm"

	"github.com/flowforge/automation/pkg/model"
	"github.com/flowforge/automation/pkg/offering"
	"github.com/flowforge/automation/pkg/quota"
)

// Message is the rendered content of one outgoing email.
type Message struct {
	EmailID     int64
	Subject     string
	HTML        string
	Text        string
	FromName    string
	FromEmail   string
	ReplyTo     string
	Attachments []string
	Inactive    bool
}

type Recipient struct {
	LeadID       int64
	Address      string
	Name         string
	Unsubscribed bool
	Multi        bool
}

// Options are per-send decisions made by the caller.
type Options struct {
	IsFreeOffering       bool
	PrimaryOffering      int
	CompanyType          string
	SuppressAtRisk       bool
	SuppressUnengaged    bool
	SendDuplicate        bool
	SendUnsubscribed     bool
	UseCustomSMTP        bool
	RequireSpamCompliant bool
	IsSystemEmail        bool
	AuthorID             int64
	WorkflowID           int64
}

type Decision struct {
	Allowed    bool
	CustomSMTP bool
}

type SendResult struct {
	MessageID string
}

// Envelope is what a Transport puts on the wire.
type Envelope struct {
	From        string
	To          string
	ReplyTo     string
	Subject     string
	HTML        string
	Text        string
	Attachments []string
	Tags        map[string]string
}

type Transport interface {
	SendEmail(ctx context.Context, env Envelope) (string, error)
	SendText(ctx context.Context, to, body string) error
}

type CompanyReader interface {
	GetCompany(ctx context.Context, companyID int64) (*model.CompanyProfile, error)
}

type SenderSettings interface {
	GetVerifiedDomain(ctx context.Context, companyID int64, domain string) (*model.VerifiedDomain, error)
	GetSMTPSettings(ctx context.Context, companyID, userID int64) (*model.SMTPSettings, error)
}

type Credits interface {
	CanSend(ctx context.Context, companyID, count int64) (bool, error)
	Deduct(ctx context.Context, companyID, count int64) error
}

// UseCustomSMTP reports whether a tenant must send through its own SMTP server.
func UseCustomSMTP(o offering.Offering) bool {
	return o.IsCRM()
}

type Service struct {
	companies CompanyReader
	senders   SenderSettings
	credits   Credits
	transport Transport
	logger    *zap.Logger
}

func NewService(companies CompanyReader, senders SenderSettings, credits Credits, transport Transport, logger *zap.Logger) *Service {
	if logger == nil {
		logger = zap.NewNop()
	}
	return &Service{
		companies: companies,
		senders:   senders,
		credits:   credits,
		transport: transport,
		logger:    logger,
	}
}

func (s *Service) CanSend(ctx context.Context, companyID, count int64, domain string, opts Options) (Decision, error) {
	company, err := s.companies.GetCompany(ctx, companyID)
	if err != nil {
		return Decision{}, transientErr(err, "load company")
	}
	return s.canSend(ctx, company, count, domain, opts)
}

func (s *Service) canSend(ctx context.Context, company *model.CompanyProfile, count int64, domain string, opts Options) (Decision, error) {
	if company.SendingDisabled {
		return Decision{}, rejection(CodeSendingDisabled, "sending is disabled for company %d", company.ID)
	}

	custom := opts.UseCustomSMTP || UseCustomSMTP(offering.New(company.ProductOffering))
	if custom {
		if _, err := s.senders.GetSMTPSettings(ctx, company.ID, opts.AuthorID); err != nil {
			if errors.Is(err, gorm.ErrRecordNotFound) {
				return Decision{}, rejection(CodeSMTPNotConfigured, "no smtp settings for user %d", opts.AuthorID)
			}
			return Decision{}, transientErr(err, "load smtp settings")
		}
	} else if domain != "" && !opts.IsSystemEmail {
		verified, err := s.senders.GetVerifiedDomain(ctx, company.ID, domain)
		if err != nil {
			if errors.Is(err, gorm.ErrRecordNotFound) {
				return Decision{}, rejection(CodeCannotSendFromDomain, "domain %s is not verified", domain)
			}
			return Decision{}, transientErr(err, "load sending domain")
		}
		if verified.Blacklisted {
			return Decision{}, rejection(CodeCannotSendFromDomain, "domain %s is blocked", domain)
		}
		if !verified.DKIMVerified {
			return Decision{}, rejection(CodeDKIMNotSetUp, "domain %s has no dkim record", domain)
		}
	}

	if !opts.IsSystemEmail && !custom {
		ok, err := s.credits.CanSend(ctx, company.ID, count)
		if err != nil {
			return Decision{}, transientErr(err, "check send credits")
		}
		if !ok {
			return Decision{}, rejection(CodeOverQuota, "company %d cannot send %d emails", company.ID, count)
		}
	}

	return Decision{Allowed: true, CustomSMTP: custom}, nil
}

func (s *Service) Send(ctx context.Context, companyID int64, msg Message, rcpt Recipient, opts Options) (SendResult, error) {
	if msg.Inactive {
		return SendResult{}, rejection(CodeInactiveEmail, "email %d is inactive", msg.EmailID)
	}
	address := strings.TrimSpace(rcpt.Address)
	if address == "" || !strings.Contains(address, "@") {
		return SendResult{}, rejection(CodeInvalidRecipient, "invalid recipient %q", rcpt.Address)
	}
	if rcpt.Unsubscribed && !opts.SendUnsubscribed {
		return SendResult{}, rejection(CodeNotEligible, "lead %d is unsubscribed", rcpt.LeadID)
	}

	company, err := s.companies.GetCompany(ctx, companyID)
	if err != nil {
		return SendResult{}, transientErr(err, "load company")
	}
	if opts.RequireSpamCompliant && !company.SpamCompliant {
		return SendResult{}, rejection(CodeNotSpamCompliant, "company %d is not spam compliant", companyID)
	}

	decision, err := s.canSend(ctx, company, 1, model.EmailDomain(msg.FromEmail), opts)
	if err != nil {
		return SendResult{}, err
	}

	env := Envelope{
		From:        formatAddress(msg.FromName, msg.FromEmail),
		To:          formatAddress(rcpt.Name, address),
		ReplyTo:     msg.ReplyTo,
		Subject:     msg.Subject,
		HTML:        msg.HTML,
		Text:        msg.Text,
		Attachments: msg.Attachments,
		Tags: map[string]string{
			"company_id": fmt.Sprint(companyID),
			"email_id":   fmt.Sprint(msg.EmailID),
			"lead_id":    fmt.Sprint(rcpt.LeadID),
		},
	}
	messageID, err := s.transport.SendEmail(ctx, env)
	if err != nil {
		return SendResult{}, err
	}

	if !opts.IsSystemEmail && !decision.CustomSMTP {
		if err := s.credits.Deduct(ctx, companyID, 1); err != nil {
			// The message is already accepted; the balance catches up on the next send.
			s.logger.Warn("failed to deduct send credit",
				zap.Int64("company_id", companyID),
				zap.String("message_id", messageID),
				zap.Error(err))
		}
	}

	s.logger.Debug("email sent",
		zap.Int64("company_id", companyID),
		zap.Int64("email_id", msg.EmailID),
		zap.Int64("lead_id", rcpt.LeadID),
		zap.String("message_id", messageID))
	return SendResult{MessageID: messageID}, nil
}

func (s *Service) SendText(ctx context.Context, companyID int64, to, body string) error {
	company, err := s.companies.GetCompany(ctx, companyID)
	if err != nil {
		return transientErr(err, "load company")
	}
	if company.SendingDisabled {
		return rejection(CodeSendingDisabled, "sending is disabled for company %d", companyID)
	}
	if strings.TrimSpace(to) == "" {
		return rejection(CodeInvalidRecipient, "empty phone number")
	}
	return s.transport.SendText(ctx, to, body)
}

func formatAddress(name, address string) string {
	if name == "" {
		return address
	}
	return fmt.Sprintf("%s <%s>", name, address)
}

var _ Credits = (*quota.Manager)(nil)
