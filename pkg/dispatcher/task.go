package dispatcher

import (
	"context"
	"fmt"
	"strconv"

	"github.com/flowforge/automation/pkg/model"
)

func (d *Dispatcher) createTask(ctx context.Context, ev *Event) Result {
	data := ev.Data
	sameDay := data.Bool("dueSameDay")
	_, userOK := data.ID("user.id")
	workflowID := ev.WorkflowIDValue()
	switch {
	case !userOK && !data.Bool("assignToLeadOwner"),
		!data.IsSet("taskType"),
		!data.IsSet("title"),
		!data.Has("dueSameDay"),
		sameDay && (!data.IsSet("dueInHours") || !data.IsSet("dueInMinutes")),
		!sameDay && !data.IsSet("dueInDays"),
		!data.IsSet("authorID"),
		ev.SubjectType() != "lead",
		workflowID <= 0:
		return d.reject(ev, "create task requires user, taskType, title, due window, authorID, a lead and workflowID")
	}
	companyID, companyOK := ev.CompanyID()
	leadID, leadOK := ev.Trigger.ID("whoID")
	if !companyOK || !leadOK {
		return d.reject(ev, "create task requires company and lead")
	}

	company, err := d.store.GetCompany(ctx, companyID)
	if err != nil {
		return lookupFailure(err, "company", companyID)
	}

	userID, _ := data.ID("user.id")
	if data.Bool("assignToLeadOwner") {
		lead, err := d.store.GetLead(ctx, companyID, leadID)
		if err != nil && !isNotFound(err) {
			return Classify(transient(err, "load lead %d", leadID))
		}
		if lead != nil && lead.OwnerID > 0 {
			userID = lead.OwnerID
		}
	}
	if userID <= 0 {
		return d.reject(ev, "create task has no assignee")
	}

	var whatID int64
	var whatType string
	switch {
	case ev.Trigger.String("whatType") == "opportunity" && ev.Trigger.IsSet("whatID"):
		whatID, _ = ev.Trigger.ID("whatID")
		whatType = "opp"
	case ev.WhatType == "opportunity" && ev.WhatID > 0:
		whatID, whatType = ev.WhatID, "opp"
	}

	hours, _ := data.Int64("dueInHours")
	minutes, _ := data.Int64("dueInMinutes")
	days, _ := data.Int64("dueInDays")
	start, end := company.BusinessHours()
	due := dueDate(d.now(), dueSchedule{
		SameDay:       sameDay,
		Hours:         int(hours),
		Minutes:       int(minutes),
		Days:          int(days),
		DueTime:       data.String("dueTime"),
		BusinessHours: data.Bool("dueDuringBusinessHours"),
	}, businessCalendar{
		Location: company.SalesLocation(),
		Start:    start,
		End:      end,
		Days:     company.BusinessDays,
	})

	title, err := d.renderMerge(ctx, companyID, leadID, data.String("title"))
	if err != nil {
		return Classify(err)
	}
	var note string
	if raw := data.String("note"); raw != "" {
		if note, err = d.renderMerge(ctx, companyID, leadID, raw); err != nil {
			return Classify(err)
		}
	}

	authorID, _ := data.Int64("authorID")
	task := &model.Task{
		CompanyProfileID: companyID,
		TaskType:         model.TaskType(data.String("taskType")),
		Title:            title,
		Note:             note,
		AssignedUserID:   userID,
		AuthorID:         authorID,
		WhoID:            leadID,
		WhoType:          "lead",
		WhatID:           whatID,
		WhatType:         whatType,
		WorkflowID:       workflowID,
		DueDate:          due,
		EmailIDs:         resourceIDs(data.Slice("emailResources")),
		MediaURLs:        resourceKeys(data.Slice("mediaResources")),
		SendInvite:       data.Bool("sendCalInvite"),
	}
	if err := d.store.CreateTask(ctx, task); err != nil {
		return Classify(transient(err, "create task for lead %d", leadID))
	}
	if task.ID == 0 {
		return Retry(transient(fmt.Errorf("no id returned"), "create task"), 0)
	}
	return Complete()
}

func resourceIDs(items []interface{}) []int64 {
	var ids []int64
	for _, item := range items {
		if id, ok := Payload(mapOrEmpty(item)).ID("id"); ok {
			ids = append(ids, id)
		}
	}
	return ids
}

func resourceKeys(items []interface{}) []string {
	var keys []string
	for _, item := range items {
		m := Payload(mapOrEmpty(item))
		if url := m.String("url"); url != "" {
			keys = append(keys, url)
		} else if id, ok := m.ID("id"); ok {
			keys = append(keys, strconv.FormatInt(id, 10))
		}
	}
	return keys
}

func mapOrEmpty(v interface{}) map[string]interface{} {
	if m, ok := asMap(v); ok {
		return m
	}
	return map[string]interface{}{}
}
