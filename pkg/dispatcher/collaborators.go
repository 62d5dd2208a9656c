package dispatcher

import (
	"context"
	"time"

	"github.com/flowforge/automation/pkg/mail"
	"github.com/flowforge/automation/pkg/model"
	"github.com/flowforge/automation/pkg/rss"
)

// Store is the tenant-scoped data access the handlers need. Lookups that
// find nothing return an error wrapping gorm.ErrRecordNotFound.
type Store interface {
	CompanyStore
	LeadStore
	OpportunityStore
	ListStore
	WorkflowStore
	TaskStore
	EmailStore
	ConversionStore
}

type CompanyStore interface {
	GetCompany(ctx context.Context, companyID int64) (*model.CompanyProfile, error)
	GetUser(ctx context.Context, companyID, userID int64) (*model.User, error)
}

// LeadStatusChange is a compare-and-set on the lead's current status.
type LeadStatusChange struct {
	CompanyID  int64
	LeadID     int64
	WorkflowID int64
	Previous   string
	Status     string
	Flags      model.StatusFlags
}

// LeadChanges are written to the primary lead together with a new
// opportunity. Zero values leave the column untouched.
type LeadChanges struct {
	LeadID    int64
	AccountID int64
	OwnerID   int64
	Customer  bool
}

type LeadStore interface {
	GetLead(ctx context.Context, companyID, leadID int64) (*model.Lead, error)
	GetField(ctx context.Context, companyID, fieldID int64) (*model.Field, error)
	FieldBySystemName(ctx context.Context, companyID int64, entity, systemName string) (*model.Field, error)
	MergeFields(ctx context.Context, companyID int64) ([]*model.Field, error)
	EmailVariables(ctx context.Context, companyID int64) (map[string]string, error)
	// FieldValue reads one standard or custom field of a lead, opportunity or account.
	FieldValue(ctx context.Context, companyID int64, field *model.Field, recordID int64) (string, error)
	LeadCustomFields(ctx context.Context, companyID, leadID int64) (map[string]string, error)
	SetLeadFieldValue(ctx context.Context, companyID, leadID int64, field *model.Field, value string) error
	AppendLeadFieldValue(ctx context.Context, companyID, leadID, fieldID int64, value string) error
	IncrementLeadField(ctx context.Context, companyID, leadID, fieldID int64, delta float64) error
	// UpdateLeadStatus reports whether the status changed; history is written only then.
	UpdateLeadStatus(ctx context.Context, change LeadStatusChange) (bool, error)
	MarkLeadScoreStale(ctx context.Context, companyID, leadID int64) error
	// AssignLeadOwner without override only writes while the lead is unowned.
	AssignLeadOwner(ctx context.Context, companyID, leadID, ownerID, workflowID int64, override bool) (bool, error)
	AssignLeadCampaign(ctx context.Context, companyID, leadID, campaignID int64, override bool) (bool, error)
	SetLeadPersona(ctx context.Context, companyID, leadID, personaID int64) error
	AddLeadTag(ctx context.Context, companyID, leadID, tagID int64) error
	RemoveLeadTag(ctx context.Context, companyID, leadID, tagID int64) error
	AccountLeadIDs(ctx context.Context, companyID, accountID int64) ([]int64, error)
}

type OpportunityStore interface {
	GetOpportunity(ctx context.Context, companyID, opportunityID int64) (*model.Opportunity, error)
	// LeadOpportunities lists open opportunities of a lead, optionally in one pipeline.
	LeadOpportunities(ctx context.Context, companyID, leadID int64, pipelineID *int64) ([]*model.Opportunity, error)
	OpportunityCustomFields(ctx context.Context, companyID, opportunityID int64) (map[string]string, error)
	SetOpportunityColumn(ctx context.Context, companyID, opportunityID int64, column string, value interface{}) error
	SetOpportunityFieldValue(ctx context.Context, companyID, opportunityID, fieldID int64, value string) error
	AppendOpportunityFieldValue(ctx context.Context, companyID, opportunityID, fieldID int64, value string) error
	// SetDealStage moves the opportunity only while it is still in stage
	// from. followOn, when set, is written to the job outbox in the same
	// transaction and only when the stage moved.
	SetDealStage(ctx context.Context, companyID, opportunityID, from, to int64, followOn *model.Job) (bool, error)
	GetPipeline(ctx context.Context, companyID, pipelineID int64) (*model.Pipeline, error)
	GetDealStage(ctx context.Context, companyID, stageID int64) (*model.DealStage, error)
	FindAccountByName(ctx context.Context, companyID int64, name string) (*model.Account, error)
	UpsertAccount(ctx context.Context, account *model.Account) (*model.Account, error)
	// CreateOpportunity inserts the opportunity, updates its lead and writes
	// the job built by followOn in one transaction.
	CreateOpportunity(ctx context.Context, opp *model.Opportunity, lead LeadChanges, followOn func(*model.Opportunity) *model.Job) error
	AddNotificationPreference(ctx context.Context, pref *model.NotificationPreference) error
}

type ListStore interface {
	GetList(ctx context.Context, companyID, listID int64) (*model.List, error)
	ListsWithTag(ctx context.Context, companyID, tagID int64) ([]*model.List, error)
	AddListMember(ctx context.Context, companyID, listID, leadID, workflowID int64) error
	RemoveListMember(ctx context.Context, companyID, listID, leadID int64) error
	GetFeedSubscription(ctx context.Context, companyID, subscriptionID int64) (*model.RSSFeedSubscription, error)
	// AdvanceFeedLastItem swaps lastItem only while it still equals previous.
	AdvanceFeedLastItem(ctx context.Context, companyID, subscriptionID int64, previous, next string) (bool, error)
}

type WorkflowStore interface {
	GetWorkflow(ctx context.Context, companyID, workflowID int64) (*model.Workflow, error)
	GetVisualWorkflow(ctx context.Context, companyID, visualWorkflowID int64) (*model.VisualWorkflow, error)
	VisualWorkflowByPrimaryGroup(ctx context.Context, companyID, actionGroupID int64) (*model.VisualWorkflow, error)
	ActionGroups(ctx context.Context, companyID, visualWorkflowID int64) ([]*model.Workflow, error)
	RemoveWorkflowMember(ctx context.Context, companyID, workflowID, leadID int64, exclude bool) error
	GetRuleTask(ctx context.Context, companyID, taskID int64) (*model.RuleTask, error)
}

type TaskStore interface {
	CreateTask(ctx context.Context, task *model.Task) error
}

type EmailStore interface {
	GetEmail(ctx context.Context, companyID, emailID int64) (*model.Email, error)
}

type ConversionStore interface {
	ConversionGoalByTask(ctx context.Context, companyID, taskID int64) (*model.ConversionGoal, error)
	// RecordConversion writes the primary row and one secondary row per lead.
	RecordConversion(ctx context.Context, primary *model.ConversionHistory, secondaryLeadIDs []int64) error
}

// Mailer delivers rendered messages.
type Mailer interface {
	Send(ctx context.Context, companyID int64, msg mail.Message, rcpt mail.Recipient, opts mail.Options) (mail.SendResult, error)
	SendText(ctx context.Context, companyID int64, to, body string) error
}

// JobQueue accepts follow-on work. Enqueue with an already seen dedupe key
// is not an error.
type JobQueue interface {
	Enqueue(ctx context.Context, job *model.Job) error
}

// Notification is a tenant-visible alert about an automation event.
type Notification struct {
	Kind      string
	CompanyID int64
	EventID   int64
	EventType string
	Code      string
	Message   string
}

const (
	NotifyPolicyRejected   = "PolicyRejected"
	NotifyRetriesExhausted = "RetriesExhausted"
)

type Notifier interface {
	Notify(ctx context.Context, n Notification) error
}

type FeedReader interface {
	Latest(ctx context.Context, url string) (*rss.Item, error)
}

type RuleEvaluator interface {
	Evaluate(ctx context.Context, task *model.RuleTask, trigger model.JSONB) (model.RuleResult, error)
}

// Clock is swapped in tests.
type Clock func() time.Time
