package offering

// TableVersion changes whenever a bit value or a feature table changes.
// Every service that classifies tenants must agree on it.
const TableVersion = 7

// Offering bits. Some are mutually exclusive, some combine.
const (
	PRO                   = 1
	ESP                   = 2
	SUP                   = 4
	CRM                   = 8
	VID                   = 16
	BETA                  = 32
	CRMTierZero           = 64
	CRMTierZeroIntro      = 128
	CRMTierOne            = 256
	CRMTierTwo            = 512
	PerfectAudienceOnly   = 1024
	PerfectAudienceDirect = 2048
)

const (
	FreeMask = CRMTierZero | CRMTierZeroIntro
	CRMMask  = CRMTierZeroIntro | CRMTierZero | CRMTierOne | CRMTierTwo

	PrimaryMask = PRO |
		ESP |
		CRMTierOne |
		CRMTierTwo |
		CRMTierZero |
		CRMTierZeroIntro |
		PerfectAudienceOnly |
		PerfectAudienceDirect
)

// All is the priority order used by PrimaryOffering.
var All = []int{
	PRO,
	ESP,
	SUP,
	CRM,
	VID,
	BETA,
	CRMTierZero,
	CRMTierZeroIntro,
	CRMTierOne,
	CRMTierTwo,
	PerfectAudienceOnly,
	PerfectAudienceDirect,
}

// Feature keys.
const (
	Analytics = "analytics"
	Adwords   = "adwords"

	Content  = "content"
	Email    = "email"
	Media    = "media"
	ABTests  = "abtests"
	Pages    = "pages"
	PagesAll = "pages_all"

	Forms            = "forms"
	Webex            = "webex"
	Referrals        = "referrals"
	ProgressiveForms = "progressive_forms"
	TurnOffAutofill  = "turn_off_autofill"
	FacebookLeadAds  = "facebook_lead_ads"

	Tracking       = "tracking"
	Campaigns      = "campaigns"
	VisitorID      = "visitorid"
	VisitorIDAll   = "visitorid_all"
	VisitorIDEmail = "visitor_id_email"

	Automation      = "automation"
	AutomationAll   = "automation_all"
	Workflows       = "workflows"
	VisualWorkflows = "visual_workflows"
	Tasks           = "tasks"
	Lists           = "lists"
	Personas        = "personas"

	Sales       = "sales"
	Leads       = "leads"
	Accounts    = "accounts"
	Products    = "products"
	Pipeline    = "pipeline"
	SaveReports = "save_and_schedule_reports"

	AdvancedSearch    = "advanced_search"
	ContactManager    = "contact_manager"
	CustomFields      = "custom_fields"
	LeadScoring       = "lead_scoring"
	NotifyWhenReturns = "notify_when_returns_to_site"

	BulkEmail           = "bulk_email"
	EmailDynamicContent = "email_dynamic_content"
	EmailOpens          = "email_opens"
	EmailSyncing        = "email_syncing"
	OptimizedDelivery   = "optimized_delivery"
	EmailJobReports     = "email_job_reports"
	EmailReports        = "email_reports"

	Projects        = "projects"
	API             = "api"
	Support         = "support"
	Litmus          = "litmus"
	SocialListening = "social_listening"
	Shutterstock    = "shutterstock"
	UserTeams       = "user_teams"

	EmailSupport = "email_support"
	PhoneSupport = "phone_support"

	AdvancedSearchLimited = "advanced_search_no_save"
	BulkEmail150          = "bulk_email_150"
	BulkEmail500          = "bulk_email_500"
	BulkEmail75           = "bulk_email_75"
	ContactManager25      = "contact_manager_2.5_mil"
	CustomFields20        = "custom_fields_20"
	EmailOpens200         = "email_opens_200"
	EmailSyncingLimited   = "email_syncing_ltd"
	EmailSendToList       = "email_send_to_list"
	LeadScoringLimited    = "lead_scoring_no_custom_rules"
	PipelineLimited       = "pipeline-limited"
	RSS                   = "rss"
	ShoppingCart          = "shopping_cart"
	ECommerce             = "eCommerce"
	FromEmailEditable     = "from_email_editable"
	PersonasNoUpsell      = "personas-no-upsell"
	SalesReportNoSchedule = "sales_report_no_schedule"
	ShowDKIMVerification  = "show_dkim_verification"
	ValidateEmailDomain   = "validate_email_domain"

	UtilizationScore = "utilization_score"
)

type bitLabel struct {
	bit   int
	label string
}

// names and abbreviations keep the order presentation helpers iterate in.
var names = []bitLabel{
	{PRO, "Marketing Automation"},
	{ESP, "SharpSpring Mail"},
	{CRM, "SharpSpring CRM"},
	{SUP, "Dedicated Support"},
	{VID, "VisitorID"},
	{BETA, "Beta"},
	{CRMTierZero, "Free CRM"},
	{CRMTierZeroIntro, "Free CRM First 90 Days"},
	{CRMTierOne, "CRM Upgrade 1"},
	{CRMTierTwo, "CRM Upgrade 2"},
	{PerfectAudienceOnly, "Perfect Audience Only"},
	{PerfectAudienceDirect, "Perfect Audience Direct"},
}

var abbreviations = []bitLabel{
	{PRO, "PRO"},
	{ESP, "ESP"},
	{CRM, "CRM"},
	{SUP, "SUP"},
	{VID, "VID"},
	{BETA, "BETA"},
	{CRMTierZero, "CRM_TIER_ZERO"},
	{CRMTierZeroIntro, "CRM_TIER_ZERO_INTRO"},
	{CRMTierOne, "CRM_TIER_ONE"},
	{CRMTierTwo, "CRM_TIER_TWO"},
	{PerfectAudienceOnly, "PA_ONLY"},
	{PerfectAudienceDirect, "PA_DIRECT"},
}

// Settings holds per-feature limits. Values are int, string or []int.
type Settings map[string]interface{}

var featureSettings = map[string]Settings{
	VisitorID: {"anonymous": "invisible"},
	Automation: {
		"lists":               100,
		"tasks":               20,
		"workflows":           20,
		"multiRuleTasks":      2,
		"multiEventWorkflows": 2,
		"rulesPerTask":        5,
		"eventsPerWorkflow":   5,
		"workflowsPerTask":    1,
	},
	Pages: {
		"funnels":       5,
		"funnelsAlert":  []int{4},
		"funnelPages":   6,
		"articles":      20,
		"articlesAlert": []int{5, 15},
		"upgradeLink":   "http://sharpspring.com/business/ppc2/?utm=SSM01",
	},
}

var tierFeatures = map[int][]string{
	PRO: {
		ABTests, Accounts, AdvancedSearch, Adwords, Analytics, API, Automation,
		AutomationAll, BulkEmail, Campaigns, ContactManager, Content, CustomFields,
		Email, EmailJobReports, EmailOpens, EmailReports, EmailSupport, EmailSyncing,
		EmailSendToList, Forms, FacebookLeadAds, LeadScoring, Leads, Lists, Litmus,
		Media, NotifyWhenReturns, OptimizedDelivery, Pages, PagesAll, Personas,
		PhoneSupport, Pipeline, Products, ProgressiveForms, Referrals, Sales,
		SaveReports, Shutterstock, SocialListening, Tasks, Tracking, TurnOffAutofill,
		UserTeams, VisitorID, VisitorIDAll, VisitorIDEmail, VisualWorkflows, Webex,
		Workflows, UtilizationScore, FromEmailEditable, RSS, ShoppingCart, ECommerce,
		EmailDynamicContent, ShowDKIMVerification, ValidateEmailDomain,
	},
	ESP: {
		ABTests, AdvancedSearch, API, Automation, BulkEmail, ContactManager, Content,
		CustomFields, Email, EmailJobReports, EmailOpens, EmailReports, EmailSupport,
		EmailSyncing, EmailSendToList, Forms, LeadScoring, Lists, Litmus,
		NotifyWhenReturns, OptimizedDelivery, Pages, PhoneSupport, Pipeline,
		SaveReports, Shutterstock, SocialListening, Tasks, Tracking, UserTeams,
		VisitorID, VisitorIDEmail, VisualWorkflows, Workflows, FromEmailEditable, RSS,
		ShoppingCart, PersonasNoUpsell, ShowDKIMVerification, ValidateEmailDomain,
	},
	CRM: {
		Sales, Leads, Accounts, LeadScoringLimited, NotifyWhenReturns,
	},
	VID: {
		Tracking, Analytics, VisitorID,
	},
	SUP: {
		Support,
	},
	BETA: {
		Projects,
	},
	CRMTierZero: {
		Accounts, AdvancedSearchLimited, Analytics, API, BulkEmail75, ContactManager25,
		Content, CustomFields20, Email, EmailOpens200, EmailSyncingLimited, Forms,
		LeadScoringLimited, Leads, PipelineLimited, Products, ProgressiveForms, Sales,
		Tracking, VisitorID, EmailDynamicContent, SalesReportNoSchedule,
		SocialListening, NotifyWhenReturns,
	},
	CRMTierZeroIntro: {
		Accounts, AdvancedSearchLimited, Analytics, API, BulkEmail500, ContactManager25,
		Content, CustomFields20, Email, EmailJobReports, EmailOpens, EmailReports,
		EmailSupport, EmailSyncingLimited, Forms, LeadScoring, Leads, PipelineLimited,
		Products, ProgressiveForms, Sales, SaveReports, Tracking, UserTeams, VisitorID,
		VisitorIDAll, VisitorIDEmail, EmailDynamicContent, SocialListening,
		NotifyWhenReturns,
	},
	CRMTierOne: {
		Accounts, AdvancedSearch, Analytics, API, BulkEmail150, ContactManager25,
		Content, CustomFields20, Email, EmailJobReports, EmailOpens, EmailSupport,
		EmailSyncingLimited, Forms, LeadScoring, Leads, PipelineLimited, Products,
		ProgressiveForms, Sales, SaveReports, Tracking, UserTeams, VisitorID,
		VisitorIDAll, VisitorIDEmail, EmailDynamicContent, SocialListening,
		NotifyWhenReturns,
	},
	CRMTierTwo: {
		Accounts, AdvancedSearch, Analytics, API, BulkEmail500, ContactManager, Content,
		Email, EmailJobReports, EmailOpens, EmailReports, EmailSupport,
		EmailSyncingLimited, Forms, LeadScoring, Leads, Pipeline, Products,
		ProgressiveForms, Sales, SaveReports, Tracking, UserTeams, VisitorID,
		VisitorIDAll, VisitorIDEmail, EmailDynamicContent, SocialListening,
		NotifyWhenReturns,
	},
	PerfectAudienceOnly: {
		Tracking,
	},
	PerfectAudienceDirect: {
		Tracking,
	},
}
