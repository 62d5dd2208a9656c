package dispatcher

import (
	"context"
	"fmt"
	"strconv"
	"strings"
	"time"

	"github.com/flowforge/automation/pkg/model"
)

const (
	dateTimeLayout = "2006-01-02 15:04:05"
	dateNoonLayout = "2006-01-02 12:00:00"
)

// Fields automation never writes, and fields it refuses to blank.
var (
	skippedOpportunityFields = map[string]bool{"importLink": true, "isActive": true, "ownerEmailAddress": true}
	nonEmptyOpportunityField = map[string]bool{"ownerID": true, "opportunityName": true, "amount": true, "dealStage": true, "closeDate": true}
)

type opportunityStatus struct {
	won, closed bool
}

var opportunityStatuses = map[string]opportunityStatus{
	model.OpportunityStatusClosedWon:  {won: true, closed: true},
	model.OpportunityStatusClosedLost: {won: false, closed: true},
	model.OpportunityStatusOpen:       {won: false, closed: false},
}

// pipelineFilter reads an optional pipeline restriction. Pipeline 0 is the
// default sales pipeline.
func pipelineFilter(p Payload, key string) *int64 {
	if !p.IsSet(key) {
		return nil
	}
	id, ok := p.Int64(key)
	if !ok || id < 0 {
		return nil
	}
	return &id
}

// resolveOpportunity finds the single opportunity an event targets: the
// triggering opportunity, the event's what, or the lead's only open one.
func (d *Dispatcher) resolveOpportunity(ctx context.Context, ev *Event, companyID, leadID int64, pipeline *int64) (*model.Opportunity, error) {
	var candidate int64
	switch {
	case ev.Trigger.String("whatType") == "opportunity":
		candidate, _ = ev.Trigger.ID("whatID")
	case ev.WhatType == "opportunity" && ev.WhatID > 0:
		candidate = ev.WhatID
	}

	if candidate > 0 {
		opp, err := d.store.GetOpportunity(ctx, companyID, candidate)
		if err != nil {
			if isNotFound(err) {
				return nil, nil
			}
			return nil, transient(err, "load opportunity %d", candidate)
		}
		if pipeline != nil && opp.PipelineID != *pipeline {
			return nil, nil
		}
		return opp, nil
	}

	opps, err := d.store.LeadOpportunities(ctx, companyID, leadID, pipeline)
	if err != nil {
		return nil, transient(err, "load opportunities of lead %d", leadID)
	}
	if len(opps) != 1 {
		return nil, nil
	}
	return opps[0], nil
}

type opportunityFieldChange struct {
	field    *model.Field
	value    string
	override bool
}

func (d *Dispatcher) applyOpportunityField(ctx context.Context, ev *Event, company *model.CompanyProfile, opp *model.Opportunity, change opportunityFieldChange) Result {
	f := change.field
	value := change.value
	if skippedOpportunityFields[f.SystemName] {
		return Skip(fmt.Sprintf("automation does not change %s", f.SystemName))
	}
	if nonEmptyOpportunityField[f.SystemName] && strings.TrimSpace(value) == "" {
		return Skip(fmt.Sprintf("%s cannot be emptied", f.SystemName))
	}
	if f.DataType == model.FieldTypeDatetime {
		value = strings.ReplaceAll(value, "/", "-")
	}

	if f.DataType == model.FieldTypeCheckbox && !change.override {
		if err := d.store.AppendOpportunityFieldValue(ctx, company.ID, opp.ID, f.ID, value); err != nil {
			return Classify(transient(err, "append field %d on opportunity %d", f.ID, opp.ID))
		}
		return Complete()
	}

	if f.SystemName == "dealStage" {
		stageID, ok := toInt64(value)
		if !ok || stageID <= 0 {
			return Skip(fmt.Sprintf("invalid deal stage %q", value))
		}
		return d.moveDealStage(ctx, ev, opp, stageID)
	}

	if !f.IsCustom {
		if strings.EqualFold(value, "NOW") && (f.DataType == model.FieldTypeDate || f.DataType == model.FieldTypeDatetime) {
			layout := dateTimeLayout
			if f.DataType == model.FieldTypeDate {
				layout = dateNoonLayout
			}
			value = d.now().In(company.SalesLocation()).Format(layout)
		}
		column, err := opportunityColumnValue(f.SystemName, value, company.SalesLocation())
		if err != nil {
			return Skip(err.Error())
		}
		if err := d.store.SetOpportunityColumn(ctx, company.ID, opp.ID, f.SystemName, column); err != nil {
			return Classify(transient(err, "set %s on opportunity %d", f.SystemName, opp.ID))
		}
		return Complete()
	}

	if err := d.store.SetOpportunityFieldValue(ctx, company.ID, opp.ID, f.ID, value); err != nil {
		return Classify(transient(err, "set field %d on opportunity %d", f.ID, opp.ID))
	}
	return Complete()
}

// opportunityColumnValue converts a field value into the typed column value.
func opportunityColumnValue(systemName, value string, loc *time.Location) (interface{}, error) {
	switch systemName {
	case "opportunityName":
		return value, nil
	case "amount":
		f, err := strconv.ParseFloat(strings.TrimSpace(value), 64)
		if err != nil {
			return nil, fmt.Errorf("invalid amount %q", value)
		}
		return f, nil
	case "ownerID", "accountID", "campaignID", "probability":
		n, ok := toInt64(value)
		if !ok {
			return nil, fmt.Errorf("invalid %s %q", systemName, value)
		}
		return n, nil
	case "isWon", "isClosed":
		return (Payload{"v": value}).Bool("v"), nil
	case "closeDate":
		for _, layout := range []string{dateTimeLayout, "2006-01-02", time.RFC3339} {
			if t, err := time.ParseInLocation(layout, strings.TrimSpace(value), loc); err == nil {
				return t.UTC(), nil
			}
		}
		return nil, fmt.Errorf("invalid close date %q", value)
	default:
		return nil, fmt.Errorf("opportunity column %s is not writable", systemName)
	}
}

// moveDealStage sets the stage and publishes the stage change for
// downstream workflows. The follow-on job commits with the stage change.
func (d *Dispatcher) moveDealStage(ctx context.Context, ev *Event, opp *model.Opportunity, stageID int64) Result {
	if opp.DealStage == stageID {
		return Complete()
	}
	depth, err := d.nextRunDepth(ev)
	if err != nil {
		return Permanent(err)
	}
	payload := model.JSONB{
		"companyID":           opp.CompanyProfileID,
		"opportunityID":       opp.ID,
		"previousDealStageID": opp.DealStage,
		"dealStageID":         stageID,
		"workflowID":          ev.WorkflowIDValue(),
		"runDepth":            depth,
	}
	key := fmt.Sprintf("%d:%d:%d", opp.ID, stageID, ev.ID)
	job := d.newJob(ev, opp.CompanyProfileID, model.JobChangeDealStage, payload, key)

	moved, err := d.store.SetDealStage(ctx, opp.CompanyProfileID, opp.ID, opp.DealStage, stageID, job)
	if err != nil {
		return Classify(transient(err, "set deal stage of opportunity %d", opp.ID))
	}
	if !moved {
		return Retry(transient(fmt.Errorf("opportunity %d left stage %d", opp.ID, opp.DealStage), "set deal stage"), 0)
	}
	return Complete()
}

// opportunityTarget validates the lead subject shared by the opportunity
// handlers and loads the tenant.
func (d *Dispatcher) opportunityTarget(ctx context.Context, ev *Event) (*model.CompanyProfile, int64, *Result) {
	companyID, companyOK := ev.CompanyID()
	leadID, leadOK := ev.Trigger.ID("whoID")
	if !companyOK || !leadOK || ev.SubjectType() != "lead" {
		res := d.reject(ev, "opportunity change requires company and a lead subject")
		return nil, 0, &res
	}
	company, err := d.store.GetCompany(ctx, companyID)
	if err != nil {
		res := lookupFailure(err, "company", companyID)
		return nil, 0, &res
	}
	return company, leadID, nil
}

func (d *Dispatcher) changeOpportunityField(ctx context.Context, ev *Event) Result {
	fieldID, ok := ev.Data.ID("fieldID")
	if !ok || !ev.Data.IsSet("value") {
		return d.reject(ev, "change opportunity field requires fieldID and value")
	}
	company, leadID, res := d.opportunityTarget(ctx, ev)
	if res != nil {
		return *res
	}
	field, err := d.store.GetField(ctx, company.ID, fieldID)
	if err != nil {
		return lookupFailure(err, "field", fieldID)
	}
	opp, err := d.resolveOpportunity(ctx, ev, company.ID, leadID, pipelineFilter(ev.Data, "pipelineID"))
	if err != nil {
		return Classify(err)
	}
	if opp == nil {
		return Skip("no single opportunity to change")
	}
	return d.applyOpportunityField(ctx, ev, company, opp, opportunityFieldChange{
		field:    field,
		value:    ev.Data.String("value"),
		override: ev.Data.Bool("override"),
	})
}

func (d *Dispatcher) changeOpportunityStatus(ctx context.Context, ev *Event) Result {
	name := ev.Data.String("status")
	status, ok := opportunityStatuses[name]
	if !ok {
		return d.reject(ev, "unknown opportunity status %q", name)
	}
	company, leadID, res := d.opportunityTarget(ctx, ev)
	if res != nil {
		return *res
	}
	wonField, err := d.store.FieldBySystemName(ctx, company.ID, model.FieldEntityOpportunity, "isWon")
	if err != nil {
		return lookupFailure(err, "isWon field of company", company.ID)
	}
	closedField, err := d.store.FieldBySystemName(ctx, company.ID, model.FieldEntityOpportunity, "isClosed")
	if err != nil {
		return lookupFailure(err, "isClosed field of company", company.ID)
	}
	opp, err := d.resolveOpportunity(ctx, ev, company.ID, leadID, pipelineFilter(ev.Data, "pipelineID"))
	if err != nil {
		return Classify(err)
	}
	if opp == nil {
		return Skip("no single opportunity to change")
	}

	for _, change := range []opportunityFieldChange{
		{field: wonField, value: boolString(status.won), override: true},
		{field: closedField, value: boolString(status.closed), override: true},
	} {
		if res := d.applyOpportunityField(ctx, ev, company, opp, change); res.Outcome != Completed {
			return res
		}
	}

	if status.closed {
		closeDate := d.now().UTC()
		if err := d.store.SetOpportunityColumn(ctx, company.ID, opp.ID, "closeDate", closeDate); err != nil {
			return Classify(transient(err, "set close date of opportunity %d", opp.ID))
		}
	}
	if status.won {
		sales, err := d.isSalesPipeline(ctx, company.ID, opp.PipelineID)
		if err != nil {
			return Classify(err)
		}
		if sales {
			return d.markCustomer(ctx, ev, company.ID, leadID)
		}
	}
	return Complete()
}

func (d *Dispatcher) isSalesPipeline(ctx context.Context, companyID, pipelineID int64) (bool, error) {
	if pipelineID == 0 {
		return true, nil
	}
	pipeline, err := d.store.GetPipeline(ctx, companyID, pipelineID)
	if err != nil {
		if isNotFound(err) {
			return true, nil
		}
		return false, transient(err, "load pipeline %d", pipelineID)
	}
	return pipeline.IsSales, nil
}

func (d *Dispatcher) markCustomer(ctx context.Context, ev *Event, companyID, leadID int64) Result {
	lead, res := d.loadLead(ctx, ev, companyID, leadID)
	if res != nil {
		return *res
	}
	status, flags, _ := model.StatusFromName(model.LeadStatusCustomer)
	return d.updateStatus(ctx, ev, lead, status, flags)
}

func (d *Dispatcher) assignOpportunityOwner(ctx context.Context, ev *Event) Result {
	userID, ok := ev.Data.ID("user.id")
	if !ok {
		return d.reject(ev, "assign opportunity owner requires user.id")
	}
	company, leadID, res := d.opportunityTarget(ctx, ev)
	if res != nil {
		return *res
	}
	ownerField, err := d.store.FieldBySystemName(ctx, company.ID, model.FieldEntityOpportunity, "ownerID")
	if err != nil {
		return lookupFailure(err, "ownerID field of company", company.ID)
	}
	opp, err := d.resolveOpportunity(ctx, ev, company.ID, leadID, pipelineFilter(ev.Data, "pipelineID"))
	if err != nil {
		return Classify(err)
	}
	if opp == nil {
		return Skip("no single opportunity to change")
	}
	return d.applyOpportunityField(ctx, ev, company, opp, opportunityFieldChange{
		field:    ownerField,
		value:    strconv.FormatInt(userID, 10),
		override: true,
	})
}

func (d *Dispatcher) changeOpportunityStage(ctx context.Context, ev *Event) Result {
	stageID, ok := ev.Data.ID("opportunityDealStageID")
	pipeline := pipelineFilter(ev.Data, "pipeline")
	_, workflowOK := ev.Data.ID("workflowID")
	if !workflowOK {
		workflowOK = ev.WorkflowIDValue() > 0
	}
	if !ok || pipeline == nil || !workflowOK {
		return d.reject(ev, "change opportunity stage requires pipeline, opportunityDealStageID and workflowID")
	}
	company, leadID, res := d.opportunityTarget(ctx, ev)
	if res != nil {
		return *res
	}
	opp, err := d.resolveOpportunity(ctx, ev, company.ID, leadID, pipeline)
	if err != nil {
		return Classify(err)
	}
	if opp == nil {
		return Skip("no single opportunity in pipeline")
	}
	return d.moveDealStage(ctx, ev, opp, stageID)
}

var createOpportunityKeys = []string{
	"opportunityAmount",
	"opportunityDealStageID",
	"opportunityFallbackOwnerID",
	"opportunityProbability",
	"opportunitySecondsToClose",
	"opportunityStatus",
	"workflowID",
}

func (d *Dispatcher) createOpportunity(ctx context.Context, ev *Event) Result {
	for _, key := range createOpportunityKeys {
		if !ev.Data.Has(key) {
			return d.reject(ev, "create opportunity requires %s", key)
		}
	}
	companyID, companyOK := ev.CompanyID()
	leadID, leadOK := ev.Trigger.ID("whoID")
	if !companyOK || !leadOK {
		return d.reject(ev, "create opportunity requires company and lead")
	}
	status, ok := opportunityStatuses[ev.Data.String("opportunityStatus")]
	if !ok {
		return d.reject(ev, "unknown opportunity status %q", ev.Data.String("opportunityStatus"))
	}
	stageID, ok := ev.Data.ID("opportunityDealStageID")
	if !ok {
		return d.reject(ev, "invalid opportunityDealStageID")
	}
	workflowID, _ := ev.Data.Int64("workflowID")

	company, err := d.store.GetCompany(ctx, companyID)
	if err != nil {
		return lookupFailure(err, "company", companyID)
	}
	lead, err := d.store.GetLead(ctx, companyID, leadID)
	if err != nil {
		return lookupFailure(err, "lead", leadID)
	}
	stage, err := d.store.GetDealStage(ctx, companyID, stageID)
	if err != nil {
		return lookupFailure(err, "deal stage", stageID)
	}

	now := d.now()
	stamp := now.In(company.SalesLocation()).Format("Jan. 02, 2006 3:04PM")

	ownerID := lead.OwnerID
	if ownerID == 0 {
		ownerID, _ = ev.Data.Int64("opportunityFallbackOwnerID")
	}

	accountID, err := d.opportunityAccount(ctx, ev, company, lead, ownerID, stamp)
	if err != nil {
		return Classify(err)
	}

	visualWorkflowID, err := d.opportunityVisualWorkflow(ctx, ev, companyID)
	if err != nil {
		return Classify(err)
	}

	namePrefix := lead.CompanyName
	if namePrefix == "" && workflowID > 0 {
		wf, err := d.store.GetWorkflow(ctx, companyID, workflowID)
		if err != nil && !isNotFound(err) {
			return Classify(transient(err, "load workflow %d", workflowID))
		}
		if wf != nil {
			namePrefix = wf.Name
		}
	}
	if namePrefix == "" {
		namePrefix = "un-named"
	}

	amount, _ := ev.Data.Float("opportunityAmount")
	probability, ok := ev.Data.Int64("opportunityProbability")
	if !ok {
		probability = 1
	}
	seconds, _ := ev.Data.Int64("opportunitySecondsToClose")
	closeDate := now.Add(time.Duration(seconds) * time.Second).UTC()
	if status.closed {
		closeDate = now.UTC()
	}

	opp := &model.Opportunity{
		CompanyProfileID: companyID,
		OpportunityName:  fmt.Sprintf("%s - %s", namePrefix, stamp),
		Amount:           amount,
		DealStage:        stage.ID,
		PipelineID:       stage.PipelineID,
		OwnerID:          ownerID,
		AccountID:        accountID,
		PrimaryLeadID:    lead.ID,
		CampaignID:       lead.CampaignID,
		Probability:      int(probability),
		IsWon:            status.won,
		IsClosed:         status.closed,
		IsActive:         true,
		CloseDate:        &closeDate,
		VisualWorkflowID: visualWorkflowID,
		ContactLeadIDs:   []int64{lead.ID},
	}

	changes := LeadChanges{LeadID: lead.ID, AccountID: accountID}
	if lead.OwnerID == 0 {
		changes.OwnerID = ownerID
	}
	if status.won {
		sales, err := d.isSalesPipeline(ctx, companyID, stage.PipelineID)
		if err != nil {
			return Classify(err)
		}
		changes.Customer = sales
	}

	followOn := func(created *model.Opportunity) *model.Job {
		payload := model.JSONB{
			"companyID":     companyID,
			"opportunityID": created.ID,
			"leadID":        lead.ID,
			"workflowID":    workflowID,
			"triggerData":   ev.TriggerData,
		}
		return d.newJob(ev, companyID, model.JobNewOpportunity, payload, fmt.Sprintf("opportunity:%d", created.ID))
	}
	if err := d.store.CreateOpportunity(ctx, opp, changes, followOn); err != nil {
		return Classify(transient(err, "create opportunity for lead %d", lead.ID))
	}
	if opp.ID == 0 {
		return Retry(transient(fmt.Errorf("no id returned"), "create opportunity"), 0)
	}

	// The opportunity is committed; a retry would create a second one.
	if ownerID > 0 {
		pref := &model.NotificationPreference{CompanyProfileID: companyID, UserID: ownerID, OpportunityID: opp.ID, Enabled: true}
		if err := d.store.AddNotificationPreference(ctx, pref); err != nil {
			d.logger.Warn("failed to add opportunity notification preference", zapEvent(ev, err)...)
		}
	}
	return Complete()
}

// opportunityAccount picks the account of a new opportunity, creating one
// when the lead has none.
func (d *Dispatcher) opportunityAccount(ctx context.Context, ev *Event, company *model.CompanyProfile, lead *model.Lead, ownerID int64, stamp string) (int64, error) {
	if id, ok := ev.Data.ID("accountID"); ok {
		return id, nil
	}
	if lead.AccountID > 0 {
		return lead.AccountID, nil
	}
	if lead.CompanyName != "" {
		account, err := d.store.FindAccountByName(ctx, company.ID, lead.CompanyName)
		if err == nil {
			return account.ID, nil
		}
		if !isNotFound(err) {
			return 0, transient(err, "find account %q", lead.CompanyName)
		}
	}

	prefix := ""
	if ev.Data.String("accountSubOption") != "autoGenerate" {
		prefix = ev.Data.String("accountNamePrefix")
	}
	if prefix == "" {
		prefix = lead.CompanyName
	}
	if prefix == "" {
		prefix = "Auto-generated"
	}
	account, err := d.store.UpsertAccount(ctx, &model.Account{
		CompanyProfileID: company.ID,
		AccountName:      fmt.Sprintf("%s - %s", prefix, stamp),
		OwnerID:          ownerID,
	})
	if err != nil {
		return 0, transient(err, "upsert account")
	}
	return account.ID, nil
}

func (d *Dispatcher) opportunityVisualWorkflow(ctx context.Context, ev *Event, companyID int64) (int64, error) {
	if ev.TaskID > 0 {
		task, err := d.store.GetRuleTask(ctx, companyID, ev.TaskID)
		if err != nil && !isNotFound(err) {
			return 0, transient(err, "load task %d", ev.TaskID)
		}
		if task != nil && task.VisualWorkflowID > 0 {
			return task.VisualWorkflowID, nil
		}
	}
	if ev.WorkflowIDValue() > 0 {
		visual, err := d.store.VisualWorkflowByPrimaryGroup(ctx, companyID, ev.WorkflowIDValue())
		if err != nil && !isNotFound(err) {
			return 0, transient(err, "load visual workflow of %d", ev.WorkflowIDValue())
		}
		if visual != nil {
			return visual.ID, nil
		}
	}
	return 0, nil
}

func boolString(b bool) string {
	if b {
		return "1"
	}
	return "0"
}
