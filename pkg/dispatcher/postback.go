package dispatcher

import (
	"context"
	"fmt"
	"strconv"

	"github.com/flowforge/automation/pkg/model"
)

// Postbacks never call the webhook inline. The record is flattened to
// strings and handed to the postback worker as a job.

func (d *Dispatcher) postBackLead(ctx context.Context, ev *Event) Result {
	url := ev.Data.String("url")
	companyID, companyOK := ev.CompanyID()
	leadID, leadOK := ev.Trigger.ID("whoID")
	if url == "" || !companyOK || !leadOK {
		return d.skip(ev, "lead postback requires url, company and lead")
	}
	lead, res := d.loadLead(ctx, ev, companyID, leadID)
	if res != nil {
		return *res
	}
	custom, err := d.store.LeadCustomFields(ctx, companyID, lead.ID)
	if err != nil {
		return Classify(transient(err, "load custom fields of lead %d", lead.ID))
	}

	record := lead.PostbackRecord()
	record["leadStatus"] = lead.LeadStatus
	for name, value := range custom {
		record[name] = value
	}
	record["leadID"] = strconv.FormatInt(lead.ID, 10)

	return d.queuePostback(ctx, ev, companyID, url, record, fmt.Sprintf("lead:%d:%d", lead.ID, ev.ID))
}

func (d *Dispatcher) postBackOpportunity(ctx context.Context, ev *Event) Result {
	url := ev.Data.String("url")
	companyID, companyOK := ev.CompanyID()
	if url == "" || !ev.Data.Has("oppPrimary") || !companyOK || ev.WhatID <= 0 || ev.WhatType != "opportunity" {
		return d.reject(ev, "opportunity postback requires url, oppPrimary, company and an opportunity")
	}
	opp, err := d.store.GetOpportunity(ctx, companyID, ev.WhatID)
	if err != nil {
		if isNotFound(err) {
			return d.skip(ev, fmt.Sprintf("opportunity %d not found", ev.WhatID))
		}
		return Classify(transient(err, "load opportunity %d", ev.WhatID))
	}
	custom, err := d.store.OpportunityCustomFields(ctx, companyID, opp.ID)
	if err != nil {
		return Classify(transient(err, "load custom fields of opportunity %d", opp.ID))
	}

	record := opp.PostbackRecord()
	for name, value := range custom {
		record[name] = value
	}

	if ev.Data.Bool("oppPrimary") {
		lead, err := d.store.GetLead(ctx, companyID, opp.PrimaryLeadID)
		if err != nil && !isNotFound(err) {
			return Classify(transient(err, "load lead %d", opp.PrimaryLeadID))
		}
		if lead != nil {
			record["primaryLeadFirstName"] = lead.FirstName
			record["primaryLeadLastName"] = lead.LastName
			record["primaryLeadDisplayName"] = lead.DisplayName()
			record["primaryLeadEmailAddress"] = lead.EmailAddress
		}
	} else {
		n := 0
		for _, id := range opp.ContactLeadIDs {
			lead, err := d.store.GetLead(ctx, companyID, id)
			if err != nil {
				if isNotFound(err) {
					continue
				}
				return Classify(transient(err, "load lead %d", id))
			}
			n++
			prefix := fmt.Sprintf("contactLead_%d_", n)
			record[prefix+"id"] = strconv.FormatInt(lead.ID, 10)
			record[prefix+"firstName"] = lead.FirstName
			record[prefix+"lastName"] = lead.LastName
			record[prefix+"displayName"] = lead.DisplayName()
			record[prefix+"emailAddress"] = lead.EmailAddress
		}
	}

	if opp.OwnerID > 0 {
		owner, err := d.store.GetUser(ctx, companyID, opp.OwnerID)
		if err != nil && !isNotFound(err) {
			return Classify(transient(err, "load user %d", opp.OwnerID))
		}
		if owner != nil {
			record["ownerFirstName"] = owner.FirstName
			record["ownerLastName"] = owner.LastName
			record["ownerDisplayName"] = owner.DisplayName()
			record["ownerEmailAddress"] = owner.EmailAddress
		}
	}

	return d.queuePostback(ctx, ev, companyID, url, record, fmt.Sprintf("opportunity:%d:%d", opp.ID, ev.ID))
}

func (d *Dispatcher) queuePostback(ctx context.Context, ev *Event, companyID int64, url string, record map[string]string, key string) Result {
	post := make(map[string]interface{}, len(record))
	for k, v := range record {
		post[k] = v
	}
	payload := model.JSONB{
		"isWorkflowEvent": 1,
		"url":             url,
		"post":            post,
	}
	if err := d.enqueue(ctx, ev, companyID, model.JobPostback, payload, key); err != nil {
		return Classify(err)
	}
	return Complete()
}
