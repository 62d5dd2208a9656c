package dispatcher

import (
	"context"
	"strconv"

	"github.com/flowforge/automation/pkg/model"
)

const salesPipelineName = "Sales Pipeline"

var conversionWhatTypes = map[model.ConversionGoalType]string{
	model.GoalLeadField:         "contactField",
	model.GoalOpportunityField:  "oppField",
	model.GoalAccountField:      "accountField",
	model.GoalFormFill:          "formSubmission",
	model.GoalPipelineStage:     "pipeline",
	model.GoalProjPipelineStage: "projectPipeline",
}

func (d *Dispatcher) markConversionGoalMet(ctx context.Context, ev *Event) Result {
	companyID := ev.CompanyProfileID
	whoID, whoOK := ev.Trigger.ID("whoID")
	whoType := ev.Trigger.String("whoType")
	if companyID <= 0 || ev.TaskID <= 0 || len(ev.Trigger) == 0 || !whoOK || whoType == "" {
		return d.reject(ev, "conversion goal requires company, task and trigger subject")
	}

	goal, err := d.store.ConversionGoalByTask(ctx, companyID, ev.TaskID)
	if err != nil {
		return lookupFailure(err, "conversion goal of task", ev.TaskID)
	}
	subject, ok := goal.GoalType.SubjectType()
	if !ok || subject != whoType {
		return d.reject(ev, "conversion goal %s cannot be met by a %s", goal.GoalType, whoType)
	}
	isPipeline := goal.GoalType == model.GoalPipelineStage || goal.GoalType == model.GoalProjPipelineStage
	if isPipeline && (!ev.Trigger.IsSet("dealStageID") || !ev.Trigger.IsSet("formerDealStageID")) {
		return d.reject(ev, "pipeline conversion goal requires dealStageID and formerDealStageID")
	}

	history := &model.ConversionHistory{
		CompanyProfileID: companyID,
		GoalID:           goal.ID,
		WhoID:            whoID,
		WhoType:          whoType,
		WhatType:         conversionWhatTypes[goal.GoalType],
		GoalTitle:        goal.Name,
		CreatedAt:        d.now().UTC(),
	}
	prevValues := ev.Trigger.Map("prevValuesMap")
	var secondary []int64

	switch goal.GoalType {
	case model.GoalLeadField, model.GoalAccountField, model.GoalOpportunityField:
		fieldID := goal.FieldID
		if goal.GoalType != model.GoalOpportunityField {
			if fieldID, err = d.screenOwnerChange(ctx, ev, companyID, fieldID, prevValues); err != nil {
				return Classify(err)
			}
		}
		field, err := d.store.GetField(ctx, companyID, fieldID)
		if err != nil {
			return lookupFailure(err, "field", fieldID)
		}
		value, err := d.store.FieldValue(ctx, companyID, field, whoID)
		if err != nil && !isNotFound(err) {
			return Classify(transient(err, "load field %d of %s %d", field.ID, whoType, whoID))
		}
		history.WhatID = field.ID
		history.WhatName = field.Label
		history.NewValue = value
		history.PrevValue = prevValues.String(strconv.FormatInt(field.ID, 10))

		switch goal.GoalType {
		case model.GoalOpportunityField:
			if secondary, err = d.opportunityLeadIDs(ctx, companyID, whoID); err != nil {
				return Classify(err)
			}
		case model.GoalAccountField:
			if secondary, err = d.store.AccountLeadIDs(ctx, companyID, whoID); err != nil {
				return Classify(transient(err, "load leads of account %d", whoID))
			}
		}

	case model.GoalFormFill:
		formID, ok := ev.Trigger.ID("formID")
		if !ok {
			return d.reject(ev, "form fill conversion goal requires formID")
		}
		history.WhatID = formID
		history.WhatName = ev.Trigger.String("formName")

	case model.GoalPipelineStage, model.GoalProjPipelineStage:
		stageID, _ := ev.Trigger.ID("dealStageID")
		formerID, _ := ev.Trigger.ID("formerDealStageID")
		stage, err := d.store.GetDealStage(ctx, companyID, stageID)
		if err != nil {
			return lookupFailure(err, "deal stage", stageID)
		}
		former, err := d.store.GetDealStage(ctx, companyID, formerID)
		if err != nil && !isNotFound(err) {
			return Classify(transient(err, "load deal stage %d", formerID))
		}
		if former != nil {
			history.PrevValue = former.Name
		}
		history.NewValue = stage.Name
		history.WhatID = stage.PipelineID
		history.WhatName = salesPipelineName
		if stage.PipelineID != 0 {
			pipeline, err := d.store.GetPipeline(ctx, companyID, stage.PipelineID)
			if err != nil && !isNotFound(err) {
				return Classify(transient(err, "load pipeline %d", stage.PipelineID))
			}
			if pipeline != nil {
				history.WhatName = pipeline.Name
			}
		}
		if secondary, err = d.opportunityLeadIDs(ctx, companyID, whoID); err != nil {
			return Classify(err)
		}
	}

	if goal.GoalType != model.GoalFormFill && history.NewValue == history.PrevValue {
		return Skip("conversion value unchanged")
	}
	if err := d.store.RecordConversion(ctx, history, secondary); err != nil {
		return Classify(transient(err, "record conversion of goal %d", goal.ID))
	}
	return Complete()
}

// screenOwnerChange narrows an owner-change trigger to the owner field. An
// owner change must carry exactly the owner's previous value.
func (d *Dispatcher) screenOwnerChange(ctx context.Context, ev *Event, companyID, fieldID int64, prevValues Payload) (int64, error) {
	source := ev.Trigger.String("eventSource")
	if source != "leadOwnerChange" && source != "accountOwnerChange" {
		return fieldID, nil
	}
	if len(prevValues) != 1 {
		return 0, malformed("%s carried %d previous values", source, len(prevValues))
	}
	var key string
	for k := range prevValues {
		key = k
	}
	id, ok := toInt64(key)
	if !ok {
		return 0, malformed("%s previous value key %q is not a field", source, key)
	}
	field, err := d.store.GetField(ctx, companyID, id)
	if err != nil {
		if isNotFound(err) {
			return 0, malformed("%s previous value field %d not found", source, id)
		}
		return 0, transient(err, "load field %d", id)
	}
	if field.SystemName != "ownerID" {
		return 0, malformed("%s changed %s, not the owner", source, field.SystemName)
	}
	return field.ID, nil
}

func (d *Dispatcher) opportunityLeadIDs(ctx context.Context, companyID, opportunityID int64) ([]int64, error) {
	opp, err := d.store.GetOpportunity(ctx, companyID, opportunityID)
	if err != nil {
		if isNotFound(err) {
			return nil, nil
		}
		return nil, transient(err, "load opportunity %d", opportunityID)
	}
	ids := make([]int64, 0, len(opp.ContactLeadIDs))
	seen := map[int64]bool{}
	for _, id := range append([]int64{opp.PrimaryLeadID}, opp.ContactLeadIDs...) {
		if id > 0 && !seen[id] {
			seen[id] = true
			ids = append(ids, id)
		}
	}
	return ids, nil
}
