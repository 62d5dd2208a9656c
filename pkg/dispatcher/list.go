package dispatcher

import (
	"context"
	"fmt"

	"go.uber.org/zap"

	"github.com/flowforge/automation/pkg/model"
)

func (d *Dispatcher) addToList(ctx context.Context, ev *Event) Result {
	return d.changeListMembership(ctx, ev, true)
}

func (d *Dispatcher) removeFromList(ctx context.Context, ev *Event) Result {
	return d.changeListMembership(ctx, ev, false)
}

func (d *Dispatcher) changeListMembership(ctx context.Context, ev *Event, add bool) Result {
	listID, ok := ev.Data.ID("listID")
	companyID, companyOK := ev.CompanyID()
	leadID, leadOK := ev.Trigger.ID("whoID")
	if !ok || !companyOK || !leadOK {
		return d.skip(ev, "list change requires list, company and lead")
	}
	list, err := d.store.GetList(ctx, companyID, listID)
	if err != nil {
		if isNotFound(err) {
			return d.skip(ev, fmt.Sprintf("list %d not found", listID))
		}
		return Classify(transient(err, "load list %d", listID))
	}
	if list.IsSystemList {
		d.logger.Info("automation cannot change system list membership",
			zap.Int64("event_id", ev.ID),
			zap.Int64("list_id", list.ID))
		return Skip("system list")
	}
	if err := d.applyMembership(ctx, ev, list, leadID, add); err != nil {
		return Classify(err)
	}
	return Complete()
}

func (d *Dispatcher) addToListsWithTag(ctx context.Context, ev *Event) Result {
	return d.changeTaggedListMembership(ctx, ev, true)
}

func (d *Dispatcher) removeFromListsWithTag(ctx context.Context, ev *Event) Result {
	return d.changeTaggedListMembership(ctx, ev, false)
}

func (d *Dispatcher) changeTaggedListMembership(ctx context.Context, ev *Event, add bool) Result {
	tagID, ok := ev.Data.ID("tagID")
	companyID, companyOK := ev.CompanyID()
	leadID, leadOK := ev.Trigger.ID("whoID")
	if !ok || !companyOK || !leadOK {
		return d.skip(ev, "tagged list change requires tag, company and lead")
	}
	lists, err := d.store.ListsWithTag(ctx, companyID, tagID)
	if err != nil {
		return Classify(transient(err, "load lists with tag %d", tagID))
	}
	if len(lists) == 0 {
		return Skip(fmt.Sprintf("no lists tagged %d", tagID))
	}
	for _, list := range lists {
		if list.IsSystemList {
			continue
		}
		if err := d.applyMembership(ctx, ev, list, leadID, add); err != nil {
			return Classify(err)
		}
	}
	return Complete()
}

func (d *Dispatcher) applyMembership(ctx context.Context, ev *Event, list *model.List, leadID int64, add bool) error {
	if add {
		if err := d.store.AddListMember(ctx, list.CompanyProfileID, list.ID, leadID, ev.WorkflowIDValue()); err != nil {
			return transient(err, "add lead %d to list %d", leadID, list.ID)
		}
		return nil
	}
	if err := d.store.RemoveListMember(ctx, list.CompanyProfileID, list.ID, leadID); err != nil {
		return transient(err, "remove lead %d from list %d", leadID, list.ID)
	}
	return nil
}
