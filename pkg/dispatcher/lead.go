package dispatcher

import (
	"context"
	"fmt"
	"strings"

	"github.com/flowforge/automation/pkg/model"
)

// protectedFieldChange denies re-subscribing a lead and any consent change.
func protectedFieldChange(field *model.Field, value interface{}) error {
	switch field.Label {
	case model.FieldLabelUnsubscribed:
		if castInt(value) == 0 {
			return policy(PolicyProtectedField, "automation cannot re-subscribe a lead")
		}
	case model.FieldLabelGDPRConsent:
		return policy(PolicyProtectedField, "automation cannot change GDPR consent")
	}
	return nil
}

func isProtectedLabel(label string) bool {
	return label == model.FieldLabelUnsubscribed || label == model.FieldLabelGDPRConsent
}

func (d *Dispatcher) loadLead(ctx context.Context, ev *Event, companyID, leadID int64) (*model.Lead, *Result) {
	lead, err := d.store.GetLead(ctx, companyID, leadID)
	if err == nil {
		return lead, nil
	}
	var res Result
	if isNotFound(err) {
		res = d.skip(ev, fmt.Sprintf("lead %d not found", leadID))
	} else {
		res = Classify(transient(err, "load lead %d", leadID))
	}
	return nil, &res
}

func (d *Dispatcher) loadField(ctx context.Context, ev *Event, companyID, fieldID int64) (*model.Field, *Result) {
	field, err := d.store.GetField(ctx, companyID, fieldID)
	if err == nil {
		return field, nil
	}
	var res Result
	if isNotFound(err) {
		res = d.skip(ev, fmt.Sprintf("field %d not found", fieldID))
	} else {
		res = Classify(transient(err, "load field %d", fieldID))
	}
	return nil, &res
}

func (d *Dispatcher) changeLeadField(ctx context.Context, ev *Event) Result {
	fieldID, ok := ev.Data.ID("fieldID")
	companyID, companyOK := ev.CompanyID()
	leadID, leadOK := ev.Trigger.ID("whoID")
	if !ok || !ev.Data.Has("value") || !companyOK || !leadOK {
		return d.skip(ev, "change lead field requires fieldID, value, company and lead")
	}

	field, res := d.loadField(ctx, ev, companyID, fieldID)
	if res != nil {
		return *res
	}
	raw := ev.Data.Raw("value")
	if err := protectedFieldChange(field, raw); err != nil {
		return Permanent(err)
	}

	value := stringify(raw)
	if field.DataType == model.FieldTypeDatetime {
		value = strings.ReplaceAll(value, "/", "-")
	}

	if field.IsStatusFlag() {
		lead, res := d.loadLead(ctx, ev, companyID, leadID)
		if res != nil {
			return *res
		}
		flags := lead.Flags()
		on := value != "" && (Payload{"v": raw}).Bool("v")
		switch field.SystemName {
		case "isQualified":
			flags.IsQualified = on
		case "isContact":
			flags.IsContact = on
		case "isCustomer":
			flags.IsCustomer = on
		}
		if res := d.updateStatus(ctx, ev, lead, model.StatusFromFlags(flags), flags); !res.Succeeded() {
			return res
		}
	} else {
		var err error
		if field.DataType == model.FieldTypeCheckbox && !ev.Data.Bool("override") {
			err = d.store.AppendLeadFieldValue(ctx, companyID, leadID, field.ID, value)
		} else {
			err = d.store.SetLeadFieldValue(ctx, companyID, leadID, field, value)
		}
		if err != nil {
			if isNotFound(err) {
				return d.skip(ev, fmt.Sprintf("lead %d not found", leadID))
			}
			return Classify(transient(err, "set field %d on lead %d", field.ID, leadID))
		}
	}

	if err := d.store.MarkLeadScoreStale(ctx, companyID, leadID); err != nil {
		return Classify(transient(err, "mark lead %d score stale", leadID))
	}
	return Complete()
}

// updateStatus writes a status change with history, or nothing when the
// status is already current.
func (d *Dispatcher) updateStatus(ctx context.Context, ev *Event, lead *model.Lead, status string, flags model.StatusFlags) Result {
	if status == lead.LeadStatus {
		return Complete()
	}
	changed, err := d.store.UpdateLeadStatus(ctx, LeadStatusChange{
		CompanyID:  lead.CompanyProfileID,
		LeadID:     lead.ID,
		WorkflowID: ev.WorkflowIDValue(),
		Previous:   lead.LeadStatus,
		Status:     status,
		Flags:      flags,
	})
	if err != nil {
		return Classify(transient(err, "update lead %d status", lead.ID))
	}
	if !changed {
		return Retry(transient(fmt.Errorf("lead %d left status %s", lead.ID, lead.LeadStatus), "update lead status"), 0)
	}
	return Complete()
}

func (d *Dispatcher) changeLeadStatus(ctx context.Context, ev *Event) Result {
	companyID, companyOK := ev.CompanyID()
	leadID, leadOK := ev.Trigger.ID("whoID")
	name := ev.Data.String("status")
	if name == "" || !companyOK || !leadOK {
		return d.skip(ev, "change lead status requires status, company and lead")
	}
	status, flags, ok := model.StatusFromName(name)
	if !ok {
		return d.skip(ev, fmt.Sprintf("unknown lead status %q", name))
	}
	lead, res := d.loadLead(ctx, ev, companyID, leadID)
	if res != nil {
		return *res
	}
	return d.updateStatus(ctx, ev, lead, status, flags)
}

func (d *Dispatcher) incrementCounterField(ctx context.Context, ev *Event) Result {
	return d.adjustCounter(ctx, ev, 1)
}

func (d *Dispatcher) decrementCounterField(ctx context.Context, ev *Event) Result {
	return d.adjustCounter(ctx, ev, -1)
}

func (d *Dispatcher) adjustCounter(ctx context.Context, ev *Event, sign float64) Result {
	fieldID, ok := ev.Data.ID("fieldID")
	amount, amountOK := ev.Data.Float("amount")
	companyID, companyOK := ev.CompanyID()
	leadID, leadOK := ev.Trigger.ID("whoID")
	if !ok || !amountOK || !companyOK || !leadOK {
		return d.skip(ev, "counter change requires fieldID, amount, company and lead")
	}
	field, res := d.loadField(ctx, ev, companyID, fieldID)
	if res != nil {
		return *res
	}
	if isProtectedLabel(field.Label) {
		return Permanent(policy(PolicyProtectedField, "automation cannot change %s", field.Label))
	}
	if err := d.store.IncrementLeadField(ctx, companyID, leadID, field.ID, sign*amount); err != nil {
		if isNotFound(err) {
			return d.skip(ev, fmt.Sprintf("lead %d not found", leadID))
		}
		return Classify(transient(err, "adjust field %d on lead %d", field.ID, leadID))
	}
	if err := d.store.MarkLeadScoreStale(ctx, companyID, leadID); err != nil {
		return Classify(transient(err, "mark lead %d score stale", leadID))
	}
	return Complete()
}

func (d *Dispatcher) changeLeadPersona(ctx context.Context, ev *Event) Result {
	personaID, ok := ev.Data.ID("fieldID")
	companyID, companyOK := ev.CompanyID()
	leadID, leadOK := ev.Trigger.ID("whoID")
	if !ok || !companyOK || !leadOK {
		return d.skip(ev, "change persona requires persona, company and lead")
	}
	if err := d.store.SetLeadPersona(ctx, companyID, leadID, personaID); err != nil {
		if isNotFound(err) {
			return d.skip(ev, fmt.Sprintf("lead %d not found", leadID))
		}
		return Classify(transient(err, "set persona of lead %d", leadID))
	}
	return Complete()
}

func (d *Dispatcher) assignLeadCampaign(ctx context.Context, ev *Event) Result {
	campaignID, ok := ev.Data.ID("campaign.id")
	_, workflowOK := ev.Data.ID("workflowID")
	if !workflowOK {
		workflowOK = ev.WorkflowIDValue() > 0
	}
	companyID, companyOK := ev.CompanyID()
	leadID, leadOK := ev.Trigger.ID("whoID")
	if !ok || !workflowOK || !ev.Data.Has("override") || !companyOK || !leadOK {
		return d.skip(ev, "assign campaign requires campaign, workflow, override and lead")
	}
	assigned, err := d.store.AssignLeadCampaign(ctx, companyID, leadID, campaignID, ev.Data.Bool("override"))
	if err != nil {
		if isNotFound(err) {
			return d.skip(ev, fmt.Sprintf("lead %d not found", leadID))
		}
		return Classify(transient(err, "assign campaign %d to lead %d", campaignID, leadID))
	}
	if !assigned {
		return Skip("lead already has a campaign")
	}
	return Complete()
}

func (d *Dispatcher) assignLeadOwner(ctx context.Context, ev *Event) Result {
	leadID, leadOK := ev.Trigger.ID("whoID")
	if !leadOK {
		return d.skip(ev, "assign owner requires a lead")
	}

	if ownerID, ok := ev.Data.ID("user.id"); ok {
		companyID, companyOK := ev.Data.ID("user.companyProfileID")
		if !companyOK || (ev.CompanyProfileID > 0 && companyID != ev.CompanyProfileID) {
			return d.skip(ev, "assign owner requires the user's company")
		}
		assigned, err := d.store.AssignLeadOwner(ctx, companyID, leadID, ownerID, ev.WorkflowIDValue(), ev.Data.Bool("override"))
		if err != nil {
			if isNotFound(err) {
				return d.skip(ev, fmt.Sprintf("lead %d not found", leadID))
			}
			return Classify(transient(err, "assign owner %d to lead %d", ownerID, leadID))
		}
		if !assigned {
			return Skip("lead already owned")
		}
		return Complete()
	}

	if ev.Data.String("type") == "unassignOwner" {
		companyID, ok := ev.CompanyID()
		if !ok {
			return d.skip(ev, "unassign owner requires a company")
		}
		lead, res := d.loadLead(ctx, ev, companyID, leadID)
		if res != nil {
			return *res
		}
		if lead.OwnerID == 0 {
			return Skip("lead has no owner")
		}
		if _, err := d.store.AssignLeadOwner(ctx, companyID, leadID, 0, ev.WorkflowIDValue(), true); err != nil {
			return Classify(transient(err, "unassign owner of lead %d", leadID))
		}
		return Complete()
	}

	return d.skip(ev, "assign owner requires a user or unassignOwner")
}

func (d *Dispatcher) addTagToLead(ctx context.Context, ev *Event) Result {
	return d.tagLead(ctx, ev, true)
}

func (d *Dispatcher) removeTagFromLead(ctx context.Context, ev *Event) Result {
	return d.tagLead(ctx, ev, false)
}

func (d *Dispatcher) tagLead(ctx context.Context, ev *Event, add bool) Result {
	tagID, ok := ev.Data.ID("tagID")
	companyID, companyOK := ev.CompanyID()
	leadID, leadOK := ev.Trigger.ID("whoID")
	if !ok || !companyOK || !leadOK {
		return d.skip(ev, "tag change requires tag, company and lead")
	}
	var err error
	if add {
		err = d.store.AddLeadTag(ctx, companyID, leadID, tagID)
	} else {
		err = d.store.RemoveLeadTag(ctx, companyID, leadID, tagID)
	}
	if err != nil {
		return Classify(transient(err, "tag %d on lead %d", tagID, leadID))
	}
	return Complete()
}
