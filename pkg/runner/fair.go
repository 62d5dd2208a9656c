package runner

import "github.com/flowforge/automation/pkg/model"

// interleaveByTenant reorders a claimed batch round-robin across tenants so
// one busy tenant cannot hold every worker. Order within a tenant is kept.
func interleaveByTenant(events []*model.AutomationEvent) []*model.AutomationEvent {
	if len(events) < 2 {
		return events
	}

	var tenants []int64
	byTenant := make(map[int64][]*model.AutomationEvent)
	for _, event := range events {
		id := event.CompanyProfileID
		if _, ok := byTenant[id]; !ok {
			tenants = append(tenants, id)
		}
		byTenant[id] = append(byTenant[id], event)
	}
	if len(tenants) == 1 {
		return events
	}

	out := make([]*model.AutomationEvent, 0, len(events))
	for len(out) < len(events) {
		for _, id := range tenants {
			queue := byTenant[id]
			if len(queue) == 0 {
				continue
			}
			out = append(out, queue[0])
			byTenant[id] = queue[1:]
		}
	}
	return out
}
