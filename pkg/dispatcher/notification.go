package dispatcher

import (
	"context"
	"errors"
	"fmt"
	"html"
	"strings"

	"go.uber.org/zap"

	"github.com/flowforge/automation/pkg/mail"
	"github.com/flowforge/automation/pkg/model"
	"github.com/flowforge/automation/pkg/offering"
)

const notificationFromEmail = "notifications@automation.local"

func (d *Dispatcher) sendNotification(ctx context.Context, ev *Event) Result {
	companyID, ok := ev.CompanyID()
	leadID, leadOK := ev.LeadID()
	taskID := ev.TaskID
	if taskID <= 0 {
		taskID, _ = ev.Data.ID("taskID")
	}
	if !ok || !leadOK || taskID <= 0 || len(ev.Data) == 0 || len(ev.Trigger) == 0 {
		return d.skip(ev, "notification requires task, company and lead")
	}

	lead, err := d.store.GetLead(ctx, companyID, leadID)
	if err != nil {
		if isNotFound(err) {
			return d.skip(ev, "notification lead not found")
		}
		return Classify(transient(err, "load lead %d", leadID))
	}
	company, err := d.store.GetCompany(ctx, companyID)
	if err != nil {
		return lookupFailure(err, "company", companyID)
	}
	if mail.UseCustomSMTP(offering.New(company.ProductOffering)) {
		return Skip("crm tenants send notifications through their own smtp")
	}

	if userID, ok := ev.Data.ID("user.id"); ok {
		return d.notifyUser(ctx, ev, company, lead, userID)
	}
	return d.notifyAddress(ctx, ev, company, lead)
}

func (d *Dispatcher) notifyUser(ctx context.Context, ev *Event, company *model.CompanyProfile, lead *model.Lead, userID int64) Result {
	if ev.Data.Bool("leadOwner") && lead.OwnerID > 0 {
		userID = lead.OwnerID
	}
	user, err := d.store.GetUser(ctx, company.ID, userID)
	if err != nil {
		if isNotFound(err) {
			return d.skip(ev, fmt.Sprintf("notification user %d not found", userID))
		}
		return Classify(transient(err, "load user %d", userID))
	}

	msg, err := d.notificationMessage(ctx, ev, company, lead)
	if err != nil {
		return Classify(err)
	}
	rcpt := mail.Recipient{LeadID: lead.ID, Address: user.EmailAddress, Name: user.DisplayName()}
	if _, err := d.mailer.Send(ctx, company.ID, msg, rcpt, notificationOptions(ev)); err != nil {
		if ctx.Err() != nil {
			return Retry(ctx.Err(), 0)
		}
		return Retry(transient(err, "send notification to user %d", user.ID), 0)
	}

	if ev.Data.String("via") == "text" {
		if err := d.mailer.SendText(ctx, company.ID, user.Phone, msg.Text); err != nil {
			if !errors.Is(err, mail.ErrPolicy) {
				return Retry(transient(err, "text notification to user %d", user.ID), 0)
			}
			d.logger.Warn("text notification not sent",
				zap.Int64("event_id", ev.ID),
				zap.Int64("user_id", user.ID),
				zap.Error(err))
		}
	}
	return Complete()
}

func (d *Dispatcher) notifyAddress(ctx context.Context, ev *Event, company *model.CompanyProfile, lead *model.Lead) Result {
	var address, name string
	switch {
	case ev.Data.String("leadOwner") == "on" && ev.OriginatingLeadID != nil:
		origin, err := d.store.GetLead(ctx, company.ID, *ev.OriginatingLeadID)
		if err != nil {
			if isNotFound(err) {
				return d.skip(ev, "originating lead not found")
			}
			return Classify(transient(err, "load lead %d", *ev.OriginatingLeadID))
		}
		if origin.OwnerID > 0 {
			owner, err := d.store.GetUser(ctx, company.ID, origin.OwnerID)
			if err != nil && !isNotFound(err) {
				return Classify(transient(err, "load user %d", origin.OwnerID))
			}
			if owner != nil {
				address, name = owner.EmailAddress, owner.DisplayName()
			}
		}
	case ev.Type == SendNotificationEmailToReferrer || ev.Data.Bool("toReferrer"):
		if lead.ReferrerLeadID > 0 {
			referrer, err := d.store.GetLead(ctx, company.ID, lead.ReferrerLeadID)
			if err != nil && !isNotFound(err) {
				return Classify(transient(err, "load lead %d", lead.ReferrerLeadID))
			}
			if referrer != nil {
				address, name = referrer.EmailAddress, referrer.DisplayName()
			}
		}
	default:
		address = ev.Data.String("emailAddress")
		if address == "" && ev.Data.Map("email") == nil {
			address = ev.Data.String("email")
		}
	}
	address = strings.TrimSpace(address)
	if address == "" {
		return d.skip(ev, "notification has no recipient address")
	}

	msg, err := d.notificationMessage(ctx, ev, company, lead)
	if err != nil {
		return Classify(err)
	}
	rcpt := mail.Recipient{LeadID: lead.ID, Address: address, Name: name}
	if _, err := d.mailer.Send(ctx, company.ID, msg, rcpt, notificationOptions(ev)); err != nil {
		if ctx.Err() != nil {
			return Retry(ctx.Err(), 0)
		}
		return Retry(transient(err, "send notification to %s", address), 0)
	}
	return Complete()
}

func notificationOptions(ev *Event) mail.Options {
	return mail.Options{
		IsSystemEmail:    true,
		SendDuplicate:    true,
		SendUnsubscribed: true,
		WorkflowID:       ev.WorkflowIDValue(),
	}
}

// notificationMessage renders either the tenant's custom template or the
// built-in lead summary.
func (d *Dispatcher) notificationMessage(ctx context.Context, ev *Event, company *model.CompanyProfile, lead *model.Lead) (mail.Message, error) {
	if ev.Data.Bool("useCustomNotification") {
		if id, ok := ev.Data.ID("customNotificationID"); ok {
			email, err := d.store.GetEmail(ctx, company.ID, id)
			if err != nil {
				return mail.Message{}, transient(err, "load notification template %d", id)
			}
			msg := messageFor(email)
			msg.Inactive = false
			if msg.Subject, err = d.renderMerge(ctx, company.ID, lead.ID, msg.Subject); err != nil {
				return mail.Message{}, err
			}
			if msg.HTML, err = d.renderMerge(ctx, company.ID, lead.ID, msg.HTML); err != nil {
				return mail.Message{}, err
			}
			msg.Text = msg.Subject
			return msg, nil
		}
	}

	subject := ev.Data.String("subject")
	if subject == "" {
		subject = fmt.Sprintf("Automation notification: %s", lead.DisplayName())
	}
	body := ev.Data.String("message")
	var err error
	if subject, err = d.renderMerge(ctx, company.ID, lead.ID, subject); err != nil {
		return mail.Message{}, err
	}
	if body, err = d.renderMerge(ctx, company.ID, lead.ID, body); err != nil {
		return mail.Message{}, err
	}

	var b strings.Builder
	if body != "" {
		fmt.Fprintf(&b, "<p>%s</p>", html.EscapeString(body))
	}
	fmt.Fprintf(&b, "<p>%s &lt;%s&gt;</p>", html.EscapeString(lead.DisplayName()), html.EscapeString(lead.EmailAddress))
	if lead.CompanyName != "" {
		fmt.Fprintf(&b, "<p>%s</p>", html.EscapeString(lead.CompanyName))
	}

	text := subject
	if body != "" {
		text = subject + ": " + body
	}
	return mail.Message{
		Subject:   subject,
		HTML:      b.String(),
		Text:      text,
		FromName:  company.CompanyName,
		FromEmail: notificationFromEmail,
	}, nil
}
