package dispatcher

// EventType is the routing tag of a queued automation event.
type EventType string

const (
	SendEmail                       EventType = "sendEmail"
	SendEmailToReferrer             EventType = "sendEmailToReferrer"
	SendOneOffEmail                 EventType = "sendOneOffEmail"
	SendEmailToList                 EventType = "sendEmailToList"
	SendNotification                EventType = "sendNotification"
	SendNotificationEmail           EventType = "sendNotificationEmail"
	SendNotificationEmailToReferrer EventType = "sendNotificationEmailToReferrer"
	AddToWorkflow                   EventType = "addToWorkflow"
	AddToActionGroup                EventType = "addToActionGroup"
	AddToVisualWorkflow             EventType = "addToVisualWorkflow"
	RemoveFromWorkflow              EventType = "removeFromWorkflow"
	RemoveFromActionGroup           EventType = "removeFromActionGroup"
	RemoveFromVisualWorkflow        EventType = "removeFromVisualWorkflow"
	RemoveFromOpportunityWorkflow   EventType = "removeFromOpportunityWorkflow"
	AssignLeadCampaign              EventType = "assignLeadCampaign"
	AssignLeadOwner                 EventType = "assignLeadOwner"
	ChangeLeadField                 EventType = "changeLeadField"
	ChangeOpportunityField          EventType = "changeOpportunityField"
	ChangeLeadPersona               EventType = "changeLeadPersona"
	IncrementCounterField           EventType = "incrementCounterField"
	DecrementCounterField           EventType = "decrementCounterField"
	AddToList                       EventType = "addToList"
	RemoveFromList                  EventType = "removeFromList"
	AddToListsWithTag               EventType = "addToListsWithTag"
	RemoveFromListsWithTag          EventType = "removeFromListsWithTag"
	ChangeLeadStatus                EventType = "changeLeadStatus"
	PostBackLead                    EventType = "postBackLead"
	SocialInvite                    EventType = "socialInvite"
	RSSEmail                        EventType = "rssEmail"
	CreateTask                      EventType = "createTask"
	ChangeOpportunityStage          EventType = "changeOpportunityStage"
	CreateOpportunity               EventType = "createOpportunity"
	ChangeOpportunityStatus         EventType = "changeOpportunityStatus"
	AssignOpportunityOwner          EventType = "assignOpportunityOwner"
	MarkConversionGoalMet           EventType = "markConversionGoalMet"
	AddTagToLead                    EventType = "addTagToLead"
	RemoveTagFromLead               EventType = "removeTagFromLead"
	Test                            EventType = "test"
	YesNoBranch                     EventType = "yesNoBranch"
	PostBackOpportunity             EventType = "postBackOpportunity"
)

// AllEventTypes is the closed set of routable event types.
var AllEventTypes = []EventType{
	SendEmail,
	SendEmailToReferrer,
	SendOneOffEmail,
	SendEmailToList,
	SendNotification,
	SendNotificationEmail,
	SendNotificationEmailToReferrer,
	AddToWorkflow,
	AddToActionGroup,
	AddToVisualWorkflow,
	RemoveFromWorkflow,
	RemoveFromActionGroup,
	RemoveFromVisualWorkflow,
	RemoveFromOpportunityWorkflow,
	AssignLeadCampaign,
	AssignLeadOwner,
	ChangeLeadField,
	ChangeOpportunityField,
	ChangeLeadPersona,
	IncrementCounterField,
	DecrementCounterField,
	AddToList,
	RemoveFromList,
	AddToListsWithTag,
	RemoveFromListsWithTag,
	ChangeLeadStatus,
	PostBackLead,
	SocialInvite,
	RSSEmail,
	CreateTask,
	ChangeOpportunityStage,
	CreateOpportunity,
	ChangeOpportunityStatus,
	AssignOpportunityOwner,
	MarkConversionGoalMet,
	AddTagToLead,
	RemoveTagFromLead,
	Test,
	YesNoBranch,
	PostBackOpportunity,
}

var validEventTypes = func() map[EventType]struct{} {
	m := make(map[EventType]struct{}, len(AllEventTypes))
	for _, t := range AllEventTypes {
		m[t] = struct{}{}
	}
	return m
}()

func ParseEventType(s string) (EventType, bool) {
	t := EventType(s)
	_, ok := validEventTypes[t]
	return t, ok
}

func IsEmailEvent(t EventType) bool {
	switch t {
	case SendEmail,
		SendEmailToReferrer,
		SendOneOffEmail,
		SendEmailToList,
		SendNotification,
		SendNotificationEmail,
		SendNotificationEmailToReferrer,
		RSSEmail:
		return true
	}
	return false
}

func isNotificationEvent(t EventType) bool {
	return t == SendNotification || t == SendNotificationEmail || t == SendNotificationEmailToReferrer
}
