package dispatcher

import (
	"context"
	"fmt"
	"sort"
	"strings"
)

// Handler executes one event type. Handlers are method expressions on
// *Dispatcher so a registry can be built before any collaborator exists.
type Handler func(d *Dispatcher, ctx context.Context, ev *Event) Result

type Registry struct {
	handlers map[EventType]Handler
}

// NewRegistry routes every enumerated event type.
func NewRegistry() *Registry {
	r := &Registry{handlers: make(map[EventType]Handler, len(AllEventTypes))}

	r.Register((*Dispatcher).sendEmail, SendEmail, SendEmailToReferrer)
	r.Register((*Dispatcher).sendOneOffEmail, SendOneOffEmail)
	r.Register((*Dispatcher).sendEmailToList, SendEmailToList)
	r.Register((*Dispatcher).rssEmail, RSSEmail)
	r.Register((*Dispatcher).sendNotification, SendNotification, SendNotificationEmail, SendNotificationEmailToReferrer)

	r.Register((*Dispatcher).addToActionGroup, AddToWorkflow, AddToActionGroup)
	r.Register((*Dispatcher).addToVisualWorkflow, AddToVisualWorkflow)
	r.Register((*Dispatcher).removeFromWorkflow, RemoveFromWorkflow, RemoveFromActionGroup)
	r.Register((*Dispatcher).removeFromVisualWorkflow, RemoveFromVisualWorkflow, RemoveFromOpportunityWorkflow)

	r.Register((*Dispatcher).assignLeadCampaign, AssignLeadCampaign)
	r.Register((*Dispatcher).assignLeadOwner, AssignLeadOwner)
	r.Register((*Dispatcher).changeLeadField, ChangeLeadField)
	r.Register((*Dispatcher).changeLeadPersona, ChangeLeadPersona)
	r.Register((*Dispatcher).incrementCounterField, IncrementCounterField)
	r.Register((*Dispatcher).decrementCounterField, DecrementCounterField)
	r.Register((*Dispatcher).changeLeadStatus, ChangeLeadStatus)
	r.Register((*Dispatcher).addToList, AddToList)
	r.Register((*Dispatcher).removeFromList, RemoveFromList)
	r.Register((*Dispatcher).addToListsWithTag, AddToListsWithTag)
	r.Register((*Dispatcher).removeFromListsWithTag, RemoveFromListsWithTag)
	r.Register((*Dispatcher).addTagToLead, AddTagToLead)
	r.Register((*Dispatcher).removeTagFromLead, RemoveTagFromLead)

	r.Register((*Dispatcher).changeOpportunityField, ChangeOpportunityField)
	r.Register((*Dispatcher).changeOpportunityStatus, ChangeOpportunityStatus)
	r.Register((*Dispatcher).assignOpportunityOwner, AssignOpportunityOwner)
	r.Register((*Dispatcher).changeOpportunityStage, ChangeOpportunityStage)
	r.Register((*Dispatcher).createOpportunity, CreateOpportunity)

	r.Register((*Dispatcher).createTask, CreateTask)
	r.Register((*Dispatcher).yesNoBranch, YesNoBranch)
	r.Register((*Dispatcher).postBackLead, PostBackLead)
	r.Register((*Dispatcher).postBackOpportunity, PostBackOpportunity)
	r.Register((*Dispatcher).markConversionGoalMet, MarkConversionGoalMet)
	r.Register((*Dispatcher).test, Test)
	r.Register((*Dispatcher).socialInvite, SocialInvite)

	return r
}

// Register binds a handler to one or more event types.
func (r *Registry) Register(h Handler, types ...EventType) {
	for _, t := range types {
		r.handlers[t] = h
	}
}

func (r *Registry) Lookup(t EventType) (Handler, bool) {
	h, ok := r.handlers[t]
	return h, ok && h != nil
}

// Validate fails when any enumerated event type has no handler.
func (r *Registry) Validate() error {
	var missing []string
	for _, t := range AllEventTypes {
		if _, ok := r.Lookup(t); !ok {
			missing = append(missing, string(t))
		}
	}
	if len(missing) == 0 {
		return nil
	}
	sort.Strings(missing)
	return fmt.Errorf("%w: no handler for %s", ErrUnroutable, strings.Join(missing, ", "))
}
