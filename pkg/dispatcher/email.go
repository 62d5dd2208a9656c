package dispatcher

import (
	"context"
	"errors"
	"fmt"

	"github.com/google/uuid"
	"go.uber.org/zap"

	"github.com/flowforge/automation/pkg/mail"
	"github.com/flowforge/automation/pkg/model"
	"github.com/flowforge/automation/pkg/offering"
	"github.com/flowforge/automation/pkg/rss"
)

const (
	recipientTypeList  = "list"
	recipientTypeMulti = "multi"
	whoTypeSmartMulti  = "smartMailMulti"
)

func (d *Dispatcher) sendEmail(ctx context.Context, ev *Event) Result {
	emailID, ok := ev.Data.ID("email.id")
	emailCompany, companyOK := ev.Data.ID("email.companyProfileID")
	companyID, tenantOK := ev.CompanyID()
	leadID, leadOK := ev.LeadID()
	if !ok || !companyOK || !tenantOK || !leadOK || ev.SubjectType() != "lead" {
		return d.skip(ev, "send email requires email, lead and company")
	}
	if emailCompany != companyID {
		return d.skip(ev, "email belongs to another company")
	}

	company, err := d.store.GetCompany(ctx, companyID)
	if err != nil {
		return lookupFailure(err, "company", companyID)
	}
	off := offering.New(company.ProductOffering)
	if mail.UseCustomSMTP(off) {
		return Skip("crm tenants send through their own smtp")
	}

	if ev.Type == SendEmailToReferrer || ev.Data.Bool("toReferrer") {
		lead, err := d.store.GetLead(ctx, companyID, leadID)
		if err != nil {
			if isNotFound(err) {
				return Skip("lead not found")
			}
			return Classify(transient(err, "load lead %d", leadID))
		}
		if lead.ReferrerLeadID == 0 {
			return Skip("lead has no referrer")
		}
		leadID = lead.ReferrerLeadID
	}

	email, err := d.store.GetEmail(ctx, companyID, emailID)
	if err != nil {
		// A just-saved email may not be visible yet.
		return Retry(transient(err, "load email %d", emailID), 0)
	}
	if !email.IsActive {
		return Permanent(policy(PolicyInactiveEmail, "email %d is inactive", emailID))
	}

	lead, err := d.store.GetLead(ctx, companyID, leadID)
	if err != nil {
		if isNotFound(err) {
			return Skip("lead not found")
		}
		return Classify(transient(err, "load lead %d", leadID))
	}

	testMode, err := d.workflowTestMode(ctx, companyID, ev.WorkflowIDValue())
	if err != nil {
		return Classify(err)
	}
	sendDuplicate := email.AllowDuplicateSend || testMode

	opts := d.sendOptions(company, off, ev)
	opts.SendDuplicate = sendDuplicate
	msg := messageFor(email)
	rcpt := recipientFor(lead)

	send := func() Result {
		if _, err := d.mailer.Send(ctx, companyID, msg, rcpt, opts); err != nil {
			return Classify(err)
		}
		return Complete()
	}
	if sendDuplicate {
		return send()
	}
	return d.withSendLock(ctx, ev, companyID, lead.ID, email.ID, send)
}

func (d *Dispatcher) sendOptions(company *model.CompanyProfile, off offering.Offering, ev *Event) mail.Options {
	primary, _ := off.PrimaryOffering()
	suppressUnengaged := true
	if ev.Data.Has("suppressUnengaged") {
		suppressUnengaged = ev.Data.Bool("suppressUnengaged")
	}
	authorID, _ := ev.Trigger.ID("userID")
	return mail.Options{
		IsFreeOffering:    off.IsFree(),
		PrimaryOffering:   primary,
		CompanyType:       company.CompanyType(),
		SuppressAtRisk:    ev.Data.Bool("suppressAtRisk"),
		SuppressUnengaged: suppressUnengaged,
		UseCustomSMTP:     ev.Trigger.Bool("useCustomSmtp"),
		AuthorID:          authorID,
		WorkflowID:        ev.WorkflowIDValue(),
	}
}

func (d *Dispatcher) workflowTestMode(ctx context.Context, companyID, workflowID int64) (bool, error) {
	if workflowID <= 0 {
		return false, nil
	}
	wf, err := d.store.GetWorkflow(ctx, companyID, workflowID)
	if err != nil {
		if isNotFound(err) {
			return false, nil
		}
		return false, transient(err, "load workflow %d", workflowID)
	}
	return wf.TestMode, nil
}

func messageFor(email *model.Email) mail.Message {
	return mail.Message{
		EmailID:     email.ID,
		Subject:     email.Subject,
		HTML:        email.EmailHTML,
		FromName:    email.FromName,
		FromEmail:   email.FromEmail,
		ReplyTo:     email.ReplyTo,
		Attachments: []string(email.Attachments),
		Inactive:    !email.IsActive,
	}
}

func recipientFor(lead *model.Lead) mail.Recipient {
	return mail.Recipient{
		LeadID:       lead.ID,
		Address:      lead.EmailAddress,
		Name:         lead.DisplayName(),
		Unsubscribed: lead.IsUnsubscribed,
	}
}

type oneOffEmail struct {
	ID                 FlexInt  `json:"id" validate:"required"`
	CompanyID          FlexInt  `json:"companyID"`
	Subject            string   `json:"subject" validate:"required"`
	DynamicSubject     string   `json:"dynamicSubject"`
	EmailHTML          string   `json:"emailHTML" validate:"required"`
	FromName           string   `json:"fromName" validate:"required"`
	FromEmail          string   `json:"fromEmail" validate:"required,email"`
	ReplyTo            string   `json:"replyTo"`
	AllowDuplicateSend FlexBool `json:"allowDuplicateSend"`
	Attachments        []string `json:"attachments"`
}

func (d *Dispatcher) sendOneOffEmail(ctx context.Context, ev *Event) Result {
	path := ""
	if ev.Data.Map("email") != nil {
		path = "email"
	}
	var payload oneOffEmail
	if err := ev.Data.Decode(path, &payload); err != nil {
		return d.skip(ev, err.Error())
	}

	leadID := ev.WhoID
	if leadID <= 0 {
		var ok bool
		if leadID, ok = ev.Trigger.ID("whoID"); !ok {
			return d.skip(ev, "one-off email requires a recipient")
		}
	}
	companyID, ok := ev.CompanyID()
	if !ok {
		return d.skip(ev, "one-off email requires a company")
	}
	if payload.CompanyID > 0 && int64(payload.CompanyID) != companyID {
		return d.skip(ev, "email belongs to another company")
	}

	emailID := int64(payload.ID)
	stored, err := d.store.GetEmail(ctx, companyID, emailID)
	if err != nil {
		return Retry(transient(err, "load email %d", emailID), 0)
	}
	if !stored.IsActive {
		return Retry(fmt.Errorf("email %d is not active yet", emailID), 0)
	}

	sendDuplicate := ev.HasFlag(model.FlagSendDuplicate) || bool(payload.AllowDuplicateSend) || stored.AllowDuplicateSend

	if ev.SubjectType() == whoTypeSmartMulti || ev.WhoType == whoTypeSmartMulti {
		job := model.JSONB{
			"companyID":     companyID,
			"emailID":       emailID,
			"recipientID":   leadID,
			"recipientType": recipientTypeMulti,
			"workflowID":    ev.WorkflowIDValue(),
			"sendDuplicate": sendDuplicate,
			"triggerData":   ev.TriggerData,
		}
		key := listSendKey(leadID, emailID, ev.WorkflowIDValue(), true)
		if err := d.enqueue(ctx, ev, companyID, model.JobSendEmailToList, job, key); err != nil {
			return Classify(err)
		}
		return Complete()
	}

	company, err := d.store.GetCompany(ctx, companyID)
	if err != nil {
		return lookupFailure(err, "company", companyID)
	}
	lead, err := d.store.GetLead(ctx, companyID, leadID)
	if err != nil {
		if isNotFound(err) {
			return Skip("lead not found")
		}
		return Classify(transient(err, "load lead %d", leadID))
	}

	msg := messageFor(stored)
	msg.Subject = payload.Subject
	if payload.DynamicSubject != "" {
		msg.Subject = payload.DynamicSubject
	}
	msg.HTML = payload.EmailHTML
	msg.FromName = payload.FromName
	msg.FromEmail = payload.FromEmail
	if payload.ReplyTo != "" {
		msg.ReplyTo = payload.ReplyTo
	}
	msg.Attachments = append(msg.Attachments, payload.Attachments...)
	msg.Inactive = false

	opts := d.sendOptions(company, offering.New(company.ProductOffering), ev)
	opts.SendDuplicate = sendDuplicate
	opts.SendUnsubscribed = true
	rcpt := recipientFor(lead)

	send := func() Result {
		if _, err := d.mailer.Send(ctx, companyID, msg, rcpt, opts); err != nil {
			return Classify(err)
		}
		return Complete()
	}
	if sendDuplicate {
		return send()
	}
	return d.withSendLock(ctx, ev, companyID, lead.ID, emailID, send)
}

type listSendPayload struct {
	Email struct {
		ID                 FlexInt  `json:"id" validate:"required"`
		CompanyID          FlexInt  `json:"companyID" validate:"required"`
		FromEmail          string   `json:"fromEmail" validate:"required"`
		FromName           string   `json:"fromName" validate:"required"`
		AllowDuplicateSend FlexBool `json:"allowDuplicateSend"`
	} `json:"email"`
	RecipientType string `json:"recipientType"`
}

func (d *Dispatcher) sendEmailToList(ctx context.Context, ev *Event) Result {
	var payload listSendPayload
	if err := ev.Data.Decode("", &payload); err != nil {
		return d.reject(ev, "list send: %v", err)
	}
	if !ev.Data.Has("sendDuplicate") {
		return d.reject(ev, "list send requires sendDuplicate")
	}
	whoID, ok := ev.Trigger.ID("whoID")
	if !ok {
		return d.reject(ev, "list send requires triggerData.whoID")
	}
	companyID := int64(payload.Email.CompanyID)
	if ev.CompanyProfileID > 0 && companyID != ev.CompanyProfileID {
		return d.reject(ev, "email company %d does not match event company %d", companyID, ev.CompanyProfileID)
	}

	emailID := int64(payload.Email.ID)
	email, err := d.store.GetEmail(ctx, companyID, emailID)
	if err != nil {
		return lookupFailure(err, "email", emailID)
	}
	if !email.IsActive {
		return Permanent(policy(PolicyInactiveEmail, "email %d is inactive", emailID))
	}

	testMode, err := d.workflowTestMode(ctx, companyID, ev.WorkflowIDValue())
	if err != nil {
		return Classify(err)
	}
	sendDuplicate := ev.Data.Bool("sendDuplicate") || bool(payload.Email.AllowDuplicateSend) || email.AllowDuplicateSend || testMode

	authorID, ok := ev.Data.ID("authorID")
	if !ok {
		authorID, _ = ev.Trigger.ID("authorID")
	}
	recipientID := whoID
	if items := ev.Data.Slice("recipientID"); len(items) > 0 {
		if id, ok := toInt64(items[0]); ok && id > 0 {
			recipientID = id
		}
	} else if id, ok := ev.Data.ID("recipientID"); ok {
		recipientID = id
	}
	recipientType := payload.RecipientType
	if recipientType == "" {
		recipientType = recipientTypeList
	}

	job := model.JSONB{
		"companyID":     companyID,
		"emailID":       emailID,
		"recipientID":   recipientID,
		"recipientType": recipientType,
		"workflowID":    ev.WorkflowIDValue(),
		"authorID":      authorID,
		"sendDuplicate": sendDuplicate,
		"triggerData":   ev.TriggerData,
	}
	key := listSendKey(recipientID, emailID, ev.WorkflowIDValue(), recipientType == recipientTypeMulti)
	if err := d.enqueue(ctx, ev, companyID, model.JobSendEmailToList, job, key); err != nil {
		return Classify(err)
	}
	return Complete()
}

func listSendKey(recipientID, emailID, workflowID int64, multi bool) string {
	key := fmt.Sprintf("%d:%d:%d", recipientID, emailID, workflowID)
	if multi {
		key += ":multi"
	}
	return key
}

func (d *Dispatcher) rssEmail(ctx context.Context, ev *Event) Result {
	subscriptionID, ok := ev.Data.ID("whatID")
	if !ok {
		subscriptionID, ok = ev.WhatID, ev.WhatID > 0
	}
	companyID, companyOK := ev.CompanyID()
	if !ok || !companyOK {
		return d.reject(ev, "rss email requires whatID and companyProfileID")
	}
	if d.feeds == nil {
		return Permanent(fmt.Errorf("%w: no feed reader configured", ErrUnroutable))
	}

	sub, err := d.store.GetFeedSubscription(ctx, companyID, subscriptionID)
	if err != nil {
		return lookupFailure(err, "feed subscription", subscriptionID)
	}
	if !sub.IsActive {
		return Permanent(policy(PolicyInactiveFeed, "feed subscription %d is inactive", sub.ID))
	}
	email, err := d.store.GetEmail(ctx, companyID, sub.EmailID)
	if err != nil {
		return lookupFailure(err, "email", sub.EmailID)
	}
	if !email.IsActive {
		return Permanent(policy(PolicyInactiveEmail, "email %d is inactive", email.ID))
	}
	if _, err := d.store.GetList(ctx, companyID, sub.ListID); err != nil {
		if isNotFound(err) {
			return Permanent(policy(PolicyInvalidList, "list %d of feed subscription %d not found", sub.ListID, sub.ID))
		}
		return Classify(transient(err, "load list %d", sub.ListID))
	}

	item, err := d.feeds.Latest(ctx, sub.FeedURL)
	if err != nil {
		if errors.Is(err, rss.ErrFeedUnavailable) {
			return Retry(transient(err, "read feed %s", sub.FeedURL), 0)
		}
		return Permanent(policy(PolicyInactiveFeed, "feed %s cannot be read: %v", sub.FeedURL, err))
	}
	if item == nil || item.Key() == sub.LastItem {
		return Skip("no new feed item")
	}

	job := model.JSONB{
		"companyID":     companyID,
		"emailID":       email.ID,
		"recipientID":   sub.ListID,
		"recipientType": recipientTypeList,
		"sendDuplicate": true,
		"feedItem": map[string]interface{}{
			"title": item.Title,
			"link":  item.Link,
		},
	}
	key := fmt.Sprintf("%d:%d:%s", sub.ListID, email.ID, uuid.NewSHA1(uuid.NameSpaceURL, []byte(item.Key())))
	if err := d.enqueue(ctx, ev, companyID, model.JobSendEmailToList, job, key); err != nil {
		return Classify(err)
	}

	advanced, err := d.store.AdvanceFeedLastItem(ctx, companyID, sub.ID, sub.LastItem, item.Key())
	if err != nil {
		return Retry(transient(err, "advance feed subscription %d", sub.ID), 0)
	}
	if !advanced {
		d.logger.Info("feed subscription advanced concurrently",
			zap.Int64("event_id", ev.ID),
			zap.Int64("subscription_id", sub.ID))
	}
	return Complete()
}
