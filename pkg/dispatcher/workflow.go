package dispatcher

import (
	"context"
	"fmt"
	"strconv"
	"time"

	"github.com/flowforge/automation/pkg/model"
)

func (d *Dispatcher) addToActionGroup(ctx context.Context, ev *Event) Result {
	groupID, ok := ev.Data.ID("addToActionGroupID")
	companyID, companyOK := ev.CompanyID()
	leadID, leadOK := ev.Trigger.ID("whoID")
	if !ok || !companyOK || !leadOK {
		return d.reject(ev, "add to action group requires addToActionGroupID, company and lead")
	}
	depth, err := d.nextRunDepth(ev)
	if err != nil {
		return Permanent(err)
	}
	group, err := d.store.GetWorkflow(ctx, companyID, groupID)
	if err != nil {
		return lookupFailure(err, "workflow", groupID)
	}

	payload := d.schedulePayload(ev, companyID, leadID, group, depth)
	payload["scheduledByAutomation"] = true
	return d.schedule(ctx, ev, companyID, leadID, group.ID, payload)
}

func (d *Dispatcher) addToVisualWorkflow(ctx context.Context, ev *Event) Result {
	visualID, ok := ev.Data.ID("visualWorkflowID")
	companyID, companyOK := ev.CompanyID()
	leadID, leadOK := ev.Trigger.ID("whoID")
	if !ok || !companyOK || !leadOK {
		return d.reject(ev, "add to visual workflow requires visualWorkflowID, company and lead")
	}
	depth, err := d.nextRunDepth(ev)
	if err != nil {
		return Permanent(err)
	}
	visual, err := d.store.GetVisualWorkflow(ctx, companyID, visualID)
	if err != nil {
		return lookupFailure(err, "visual workflow", visualID)
	}
	if visual.PrimaryActionGroupID == 0 {
		return Permanent(policy(PolicyMissingRecord, "visual workflow %d has no primary action group", visual.ID))
	}
	group, err := d.store.GetWorkflow(ctx, companyID, visual.PrimaryActionGroupID)
	if err != nil {
		return lookupFailure(err, "action group", visual.PrimaryActionGroupID)
	}

	payload := d.schedulePayload(ev, companyID, leadID, group, depth)
	return d.schedule(ctx, ev, companyID, leadID, group.ID, payload)
}

func (d *Dispatcher) schedule(ctx context.Context, ev *Event, companyID, leadID, workflowID int64, payload model.JSONB) Result {
	key := fmt.Sprintf("%d:%d:%d", leadID, workflowID, ev.ID)
	if err := d.enqueue(ctx, ev, companyID, model.JobScheduleWorkflow, payload, key); err != nil {
		return Classify(err)
	}
	return Complete()
}

func (d *Dispatcher) schedulePayload(ev *Event, companyID, leadID int64, group *model.Workflow, depth int) model.JSONB {
	return model.JSONB{
		"companyID":      companyID,
		"listID":         nil,
		"leadID":         leadID,
		"workflowID":     group.ID,
		"isRepeatable":   group.IsRepeatable,
		"workflowEvents": scheduledSteps(ev, group.Events),
		"time":           d.now().UTC().Format(time.RFC3339),
		"limit":          nil,
		"offset":         0,
		"runDepth":       depth,
		"runOnAllLeads":  true,
		"triggerData":    ev.TriggerData,
	}
}

// scheduledSteps copies child step definitions, tagging notifications with
// their source and dropping email bodies the scheduler reloads anyway.
func scheduledSteps(ev *Event, steps []model.WorkflowStep) []map[string]interface{} {
	out := make([]map[string]interface{}, 0, len(steps))
	for _, step := range steps {
		data := step.Data.Clone()
		if data == nil {
			data = model.JSONB{}
		}
		t := EventType(step.EventType)
		switch {
		case isNotificationEvent(t):
			data["sourceWorkflowID"] = ev.WorkflowIDValue()
			data["sourceTaskID"] = ev.TaskID
		case t == SendEmail:
			if email, ok := asMap(data["email"]); ok {
				delete(email, "emailHTML")
			}
		}
		out = append(out, map[string]interface{}{
			"id":        step.ID,
			"eventType": step.EventType,
			"position":  step.Position,
			"data":      data,
		})
	}
	return out
}

func (d *Dispatcher) removeFromWorkflow(ctx context.Context, ev *Event) Result {
	companyID, companyOK := ev.CompanyID()
	workflowID, ok := ev.Data.ID("workflow.id")
	leadID, leadOK := ev.Trigger.ID("whoID")
	if !ok || !companyOK || !leadOK {
		return d.skip(ev, "remove from workflow requires workflow, company and lead")
	}
	if err := d.store.RemoveWorkflowMember(ctx, companyID, workflowID, leadID, ev.Data.Bool("exclude")); err != nil {
		return Classify(transient(err, "remove lead %d from workflow %d", leadID, workflowID))
	}

	workflow, err := d.store.GetWorkflow(ctx, companyID, workflowID)
	if err != nil {
		if isNotFound(err) {
			return Complete()
		}
		return Classify(transient(err, "load workflow %d", workflowID))
	}
	if workflow.VisualWorkflowID == 0 {
		return Complete()
	}
	groups, err := d.store.ActionGroups(ctx, companyID, workflow.VisualWorkflowID)
	if err != nil {
		return Classify(transient(err, "load action groups of %d", workflow.VisualWorkflowID))
	}
	if err := d.unwindDependents(ctx, groups, workflow.ID, leadID, 1); err != nil {
		return Classify(err)
	}
	return Complete()
}

// unwindDependents removes the lead from non-primary action groups that
// require parent, then from their dependents.
func (d *Dispatcher) unwindDependents(ctx context.Context, groups []*model.Workflow, parent, leadID int64, depth int) error {
	if depth > d.opts.MaxRunDepth {
		return nil
	}
	for _, g := range groups {
		if g.IsPrimaryActionGroup || g.RequiredWorkflowID != parent || g.ID == parent {
			continue
		}
		if err := d.store.RemoveWorkflowMember(ctx, g.CompanyProfileID, g.ID, leadID, false); err != nil {
			return transient(err, "remove lead %d from action group %d", leadID, g.ID)
		}
		if err := d.unwindDependents(ctx, groups, g.ID, leadID, depth+1); err != nil {
			return err
		}
	}
	return nil
}

func (d *Dispatcher) removeFromVisualWorkflow(ctx context.Context, ev *Event) Result {
	companyID, companyOK := ev.CompanyID()
	visualID, ok := ev.Data.ID("workflow.id")
	leadID, leadOK := ev.Trigger.ID("whoID")
	if !ok || !companyOK || !leadOK {
		return d.skip(ev, "remove from visual workflow requires workflow, company and lead")
	}
	groups, err := d.store.ActionGroups(ctx, companyID, visualID)
	if err != nil {
		return Classify(transient(err, "load action groups of %d", visualID))
	}
	visited := make(map[int64]bool)
	for _, g := range groups {
		if err := d.removeReachable(ctx, companyID, g, leadID, 1, visited); err != nil {
			return Classify(err)
		}
	}
	return Complete()
}

// removeReachable removes the lead from wf and every workflow its
// addToWorkflow steps lead into, bounded by the run depth cap.
func (d *Dispatcher) removeReachable(ctx context.Context, companyID int64, wf *model.Workflow, leadID int64, depth int, visited map[int64]bool) error {
	if visited[wf.ID] || depth > d.opts.MaxRunDepth {
		return nil
	}
	visited[wf.ID] = true
	if err := d.store.RemoveWorkflowMember(ctx, companyID, wf.ID, leadID, false); err != nil {
		return transient(err, "remove lead %d from workflow %d", leadID, wf.ID)
	}
	for _, step := range wf.Events {
		t := EventType(step.EventType)
		if t != AddToWorkflow && t != AddToActionGroup {
			continue
		}
		childID, ok := Payload(step.Data).ID("addToActionGroupID")
		if !ok || visited[childID] {
			continue
		}
		child, err := d.store.GetWorkflow(ctx, companyID, childID)
		if err != nil {
			if isNotFound(err) {
				continue
			}
			return transient(err, "load workflow %d", childID)
		}
		if err := d.removeReachable(ctx, companyID, child, leadID, depth+1, visited); err != nil {
			return err
		}
	}
	return nil
}

func (d *Dispatcher) yesNoBranch(ctx context.Context, ev *Event) Result {
	runTaskID, ok := ev.Data.ID("runTaskID")
	companyID := ev.CompanyProfileID
	if !ok || companyID <= 0 {
		return d.reject(ev, "yes/no branch requires runTaskID and companyProfileID")
	}
	if d.rules == nil {
		return Permanent(fmt.Errorf("%w: no rule evaluator configured", ErrUnroutable))
	}
	depth, err := d.nextRunDepth(ev)
	if err != nil {
		return Permanent(err)
	}
	task, err := d.store.GetRuleTask(ctx, companyID, runTaskID)
	if err != nil {
		return lookupFailure(err, "rule task", runTaskID)
	}

	// Branches never wait on a parent workflow.
	branch := *task
	branch.RequiredWorkflowID = 0

	result, err := d.rules.Evaluate(ctx, &branch, ev.TriggerData)
	if err != nil {
		if ctx.Err() != nil {
			return Retry(ctx.Err(), 0)
		}
		return Permanent(malformed("evaluate rule task %d: %v", runTaskID, err))
	}
	result.Trigger = true
	if len(result.Sets) == 0 {
		result.Sets = []bool{true}
	} else {
		result.Sets[0] = true
	}

	id := strconv.FormatInt(branch.ID, 10)
	payload := model.JSONB{
		"companyID":   companyID,
		"tasks":       map[string]interface{}{id: branch},
		"results":     map[string]interface{}{id: result},
		"triggerData": ev.TriggerData,
		"runDepth":    depth,
	}
	key := fmt.Sprintf("%d:%d", runTaskID, ev.ID)
	if err := d.enqueue(ctx, ev, companyID, model.JobProcessWorkflowResults, payload, key); err != nil {
		return Classify(err)
	}
	return Complete()
}
