package dispatcher

import (
	"context"
	"errors"
	"testing"
	"time"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"github.com/flowforge/automation/pkg/model"
)

const (
	fieldFirstName    = int64(1)
	fieldNickname     = int64(2)
	fieldUnsubscribed = int64(3)
	fieldConsent      = int64(4)
	fieldScore        = int64(5)
	fieldCustomer     = int64(6)
	fieldOppName      = int64(20)
	fieldOppWon       = int64(21)
	fieldOppClosed    = int64(22)
	fieldOppOwner     = int64(23)
	fieldOppBudget    = int64(24)
)

func withFields(f *fixture) {
	add := func(field *model.Field) {
		field.CompanyProfileID = testCompany
		field.IsActive = true
		f.store.fields[field.ID] = field
	}
	add(&model.Field{ID: fieldFirstName, Label: "First Name", SystemName: "firstName", Entity: model.FieldEntityLead})
	add(&model.Field{ID: fieldNickname, Label: "Nickname", SystemName: "nickname", Entity: model.FieldEntityLead, IsCustom: true})
	add(&model.Field{ID: fieldUnsubscribed, Label: model.FieldLabelUnsubscribed, SystemName: "isUnsubscribed", DataType: model.FieldTypeCheckbox, Entity: model.FieldEntityLead})
	add(&model.Field{ID: fieldConsent, Label: model.FieldLabelGDPRConsent, SystemName: "gdprConsent", Entity: model.FieldEntityLead})
	add(&model.Field{ID: fieldScore, Label: "Score", SystemName: "score", DataType: model.FieldTypeNumber, Entity: model.FieldEntityLead, IsCustom: true})
	add(&model.Field{ID: fieldCustomer, Label: "Is Customer", SystemName: "isCustomer", DataType: model.FieldTypeCheckbox, Entity: model.FieldEntityLead})
	add(&model.Field{ID: fieldOppName, Label: "Opportunity Name", SystemName: "opportunityName", Entity: model.FieldEntityOpportunity})
	add(&model.Field{ID: fieldOppWon, Label: "Is Won", SystemName: "isWon", DataType: model.FieldTypeCheckbox, Entity: model.FieldEntityOpportunity})
	add(&model.Field{ID: fieldOppClosed, Label: "Is Closed", SystemName: "isClosed", DataType: model.FieldTypeCheckbox, Entity: model.FieldEntityOpportunity})
	add(&model.Field{ID: fieldOppOwner, Label: "Owner", SystemName: "ownerID", Entity: model.FieldEntityOpportunity})
	add(&model.Field{ID: fieldOppBudget, Label: "Budget", SystemName: "budget", Entity: model.FieldEntityOpportunity, IsCustom: true})
}

func TestProtectedFieldsAreRejected(t *testing.T) {
	tests := []struct {
		name    string
		field   int64
		value   interface{}
		allowed bool
	}{
		{"resubscribe", fieldUnsubscribed, float64(0), false},
		{"resubscribe string", fieldUnsubscribed, "0", false},
		{"resubscribe null", fieldUnsubscribed, nil, false},
		{"resubscribe empty", fieldUnsubscribed, "", false},
		{"resubscribe false", fieldUnsubscribed, "false", false},
		{"resubscribe no", fieldUnsubscribed, "no", false},
		{"resubscribe off", fieldUnsubscribed, "off", false},
		{"resubscribe bool", fieldUnsubscribed, false, false},
		{"resubscribe fraction", fieldUnsubscribed, "0.9", false},
		{"unsubscribe string", fieldUnsubscribed, "1", true},
		{"unsubscribe bool", fieldUnsubscribed, true, true},
		{"unsubscribe", fieldUnsubscribed, float64(1), true},
		{"consent granted", fieldConsent, "1", false},
		{"consent revoked", fieldConsent, "0", false},
		{"ordinary field", fieldNickname, "Bud", true},
	}
	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			f := newFixture()
			withFields(f)

			ev := leadEvent(ChangeLeadField, model.JSONB{"fieldID": float64(tt.field), "value": tt.value, "override": true})
			res := f.d.Dispatch(context.Background(), ev)

			if tt.allowed {
				assert.Equal(t, Completed, res.Outcome, res.Reason)
				assert.Equal(t, 1, f.store.fieldWrites)
				return
			}
			assert.Equal(t, FailedPermanent, res.Outcome)
			assert.ErrorIs(t, res.Err, ErrPolicyRejection)
			assert.Zero(t, f.store.fieldWrites)
			require.Len(t, f.notifier.sent, 1)
			assert.Equal(t, PolicyProtectedField, f.notifier.sent[0].Code)
		})
	}
}

func TestCounterOnProtectedFieldIsRejected(t *testing.T) {
	f := newFixture()
	withFields(f)

	res := f.d.Dispatch(context.Background(), leadEvent(DecrementCounterField, model.JSONB{"fieldID": float64(fieldUnsubscribed), "amount": float64(1)}))

	assert.Equal(t, FailedPermanent, res.Outcome)
	assert.ErrorIs(t, res.Err, ErrPolicyRejection)
}

func TestCounterFieldAdjusts(t *testing.T) {
	f := newFixture()
	withFields(f)
	f.store.leadValues[valueKey(testLead, fieldScore)] = "10"

	res := f.d.Dispatch(context.Background(), leadEvent(IncrementCounterField, model.JSONB{"fieldID": float64(fieldScore), "amount": "2.5"}))
	require.Equal(t, Completed, res.Outcome, res.Reason)
	res = f.d.Dispatch(context.Background(), leadEvent(DecrementCounterField, model.JSONB{"fieldID": float64(fieldScore), "amount": float64(1)}))
	require.Equal(t, Completed, res.Outcome, res.Reason)

	assert.Equal(t, "11.5", f.store.leadValues[valueKey(testLead, fieldScore)])
	assert.True(t, f.store.leads[testLead].ScoreStale)
}

func TestChangeLeadFieldMissingDataSkips(t *testing.T) {
	f := newFixture()
	withFields(f)

	res := f.d.Dispatch(context.Background(), leadEvent(ChangeLeadField, model.JSONB{"fieldID": float64(fieldNickname)}))

	assert.Equal(t, Skipped, res.Outcome)
	assert.Zero(t, f.store.fieldWrites)
}

func TestCheckboxWithoutOverrideAppends(t *testing.T) {
	f := newFixture()
	withFields(f)
	f.store.fields[fieldNickname].DataType = model.FieldTypeCheckbox
	f.store.leadValues[valueKey(testLead, fieldNickname)] = "a"

	res := f.d.Dispatch(context.Background(), leadEvent(ChangeLeadField, model.JSONB{"fieldID": float64(fieldNickname), "value": "b"}))

	require.Equal(t, Completed, res.Outcome, res.Reason)
	assert.Equal(t, "a,b", f.store.leadValues[valueKey(testLead, fieldNickname)])
}

func TestStatusHistoryOnlyOnChange(t *testing.T) {
	f := newFixture()

	ev := leadEvent(ChangeLeadStatus, model.JSONB{"status": "qualified"})
	res := f.d.Dispatch(context.Background(), ev)
	require.Equal(t, Completed, res.Outcome, res.Reason)
	require.Len(t, f.store.statusHistory, 1)
	assert.Equal(t, model.LeadStatusLead, f.store.statusHistory[0].PreviousStatus)
	assert.Equal(t, model.LeadStatusQualified, f.store.statusHistory[0].NewStatus)
	assert.Equal(t, testWorkflow, f.store.statusHistory[0].WorkflowID)

	res = f.d.Dispatch(context.Background(), leadEvent(ChangeLeadStatus, model.JSONB{"status": "mql"}))
	assert.Equal(t, Completed, res.Outcome)
	assert.Len(t, f.store.statusHistory, 1)
}

func TestStatusFlagFieldRecomputesStatus(t *testing.T) {
	f := newFixture()
	withFields(f)

	res := f.d.Dispatch(context.Background(), leadEvent(ChangeLeadField, model.JSONB{"fieldID": float64(fieldCustomer), "value": "1"}))

	require.Equal(t, Completed, res.Outcome, res.Reason)
	lead := f.store.leads[testLead]
	assert.Equal(t, model.LeadStatusCustomer, lead.LeadStatus)
	assert.True(t, lead.IsCustomer)
	assert.Len(t, f.store.statusHistory, 1)
}

func TestUnknownLeadStatusSkips(t *testing.T) {
	f := newFixture()

	res := f.d.Dispatch(context.Background(), leadEvent(ChangeLeadStatus, model.JSONB{"status": "vip"}))

	assert.Equal(t, Skipped, res.Outcome)
	assert.Empty(t, f.store.statusHistory)
}

func TestAssignLeadOwnerRespectsOverride(t *testing.T) {
	f := newFixture()
	f.store.leads[testLead].OwnerID = 42
	data := model.JSONB{"user": map[string]interface{}{"id": float64(testOwner), "companyProfileID": float64(testCompany)}}

	res := f.d.Dispatch(context.Background(), leadEvent(AssignLeadOwner, data))
	assert.Equal(t, Skipped, res.Outcome)
	assert.Equal(t, int64(42), f.store.leads[testLead].OwnerID)

	data["override"] = true
	res = f.d.Dispatch(context.Background(), leadEvent(AssignLeadOwner, data))
	assert.Equal(t, Completed, res.Outcome)
	assert.Equal(t, testOwner, f.store.leads[testLead].OwnerID)
}

func TestListMembershipSkipsSystemLists(t *testing.T) {
	f := newFixture()
	f.store.lists[70] = &model.List{ID: 70, CompanyProfileID: testCompany, Name: "All"}
	f.store.lists[71] = &model.List{ID: 71, CompanyProfileID: testCompany, Name: "System", IsSystemList: true}
	f.store.listTags[5] = []int64{70, 71}

	res := f.d.Dispatch(context.Background(), leadEvent(AddToList, model.JSONB{"listID": float64(71)}))
	assert.Equal(t, Skipped, res.Outcome)

	res = f.d.Dispatch(context.Background(), leadEvent(AddToListsWithTag, model.JSONB{"tagID": float64(5)}))
	require.Equal(t, Completed, res.Outcome, res.Reason)
	assert.True(t, f.store.listMembers[valueKey(70, testLead)])
	assert.False(t, f.store.listMembers[valueKey(71, testLead)])

	res = f.d.Dispatch(context.Background(), leadEvent(RemoveFromList, model.JSONB{"listID": float64(70)}))
	require.Equal(t, Completed, res.Outcome)
	assert.Empty(t, f.store.listMembers)
}

func TestPostBackLeadQueuesStringRecord(t *testing.T) {
	f := newFixture()
	withFields(f)
	f.store.leadValues[valueKey(testLead, fieldScore)] = "42"

	res := f.d.Dispatch(context.Background(), leadEvent(PostBackLead, model.JSONB{"url": "https://hooks.example.test/lead"}))

	require.Equal(t, Completed, res.Outcome, res.Reason)
	jobs := f.jobs.ofType(model.JobPostback)
	require.Len(t, jobs, 1)
	payload := jobs[0].Payload
	assert.Equal(t, 1, payload["isWorkflowEvent"])
	assert.Equal(t, "https://hooks.example.test/lead", payload["url"])

	post, ok := payload["post"].(map[string]interface{})
	require.True(t, ok)
	for k, v := range post {
		_, isString := v.(string)
		assert.True(t, isString, "postback field %s is %T", k, v)
	}
	assert.Equal(t, "100", post["leadID"])
	assert.Equal(t, "42", post["score"])
	assert.Equal(t, "lead", post["leadStatus"])
	assert.Zero(t, f.mailer.count())
}

func TestPostBackLeadWithoutURLSkips(t *testing.T) {
	f := newFixture()

	res := f.d.Dispatch(context.Background(), leadEvent(PostBackLead, model.JSONB{}))

	assert.Equal(t, Skipped, res.Outcome)
	assert.Empty(t, f.jobs.jobs)
}

func TestPostBackOpportunityContacts(t *testing.T) {
	f := newFixture()
	withFields(f)
	f.store.leads[101] = &model.Lead{ID: 101, CompanyProfileID: testCompany, FirstName: "Cam", LastName: "Tact", EmailAddress: "cam@example.test"}
	f.store.opportunities[500] = &model.Opportunity{
		ID: 500, CompanyProfileID: testCompany, OpportunityName: "Big", Amount: 1200.5,
		PrimaryLeadID: testLead, OwnerID: testOwner, ContactLeadIDs: []int64{testLead, 101},
	}
	f.store.oppValues[valueKey(500, fieldOppBudget)] = "9000"

	ev := leadEvent(PostBackOpportunity, model.JSONB{"url": "https://hooks.example.test/opp", "oppPrimary": false})
	ev.WhatID, ev.WhatType = 500, "opportunity"
	res := f.d.Dispatch(context.Background(), ev)

	require.Equal(t, Completed, res.Outcome, res.Reason)
	jobs := f.jobs.ofType(model.JobPostback)
	require.Len(t, jobs, 1)
	post := jobs[0].Payload["post"].(map[string]interface{})
	assert.Equal(t, "1200.5", post["amount"])
	assert.Equal(t, "9000", post["budget"])
	assert.Equal(t, "Lee", post["contactLead_1_firstName"])
	assert.Equal(t, "cam@example.test", post["contactLead_2_emailAddress"])
	assert.Equal(t, "Olive Owner", post["ownerDisplayName"])
}

func TestPostBackOpportunityRequiresOpportunity(t *testing.T) {
	f := newFixture()

	res := f.d.Dispatch(context.Background(), leadEvent(PostBackOpportunity, model.JSONB{"url": "https://x.test", "oppPrimary": true}))

	assert.Equal(t, FailedPermanent, res.Outcome)
	assert.ErrorIs(t, res.Err, ErrMalformedPayload)
}

func TestRenderMerge(t *testing.T) {
	f := newFixture()
	withFields(f)
	f.store.variables["companySignature"] = "Cheers"

	out, err := f.d.renderMerge(context.Background(), testCompany, testLead,
		`Hi {$First Name}, {$Nickname!"friend"} {$companySignature} {$Unknown Thing} {{ not liquid }}`)

	require.NoError(t, err)
	assert.Equal(t, `Hi Lee, friend Cheers {$Unknown Thing} {{ not liquid }}`, out)
}

func TestRenderMergeLegacyLabel(t *testing.T) {
	f := newFixture()
	withFields(f)

	out, err := f.d.renderMerge(context.Background(), testCompany, testLead, "Dear {$firstname} &amp; co")

	require.NoError(t, err)
	assert.Equal(t, "Dear Lee & co", out)
}

func TestCreateTask(t *testing.T) {
	f := newFixture()
	withFields(f)
	data := model.JSONB{
		"user":         map[string]interface{}{"id": float64(testOwner)},
		"taskType":     "call",
		"title":        "Call {$First Name}",
		"note":         "About {$Nickname!\"the demo\"}",
		"dueSameDay":   true,
		"dueInHours":   float64(1),
		"dueInMinutes": float64(15),
		"authorID":     float64(testOwner),
		"emailResources": []interface{}{
			map[string]interface{}{"id": float64(testEmail)},
		},
		"sendCalInvite": true,
	}

	res := f.d.Dispatch(context.Background(), leadEvent(CreateTask, data))

	require.Equal(t, Completed, res.Outcome, res.Reason)
	require.Len(t, f.store.tasks, 1)
	task := f.store.tasks[0]
	assert.Equal(t, "Call Lee", task.Title)
	assert.Equal(t, "About the demo", task.Note)
	assert.Equal(t, testOwner, task.AssignedUserID)
	assert.Equal(t, testNow.Add(75*time.Minute), task.DueDate)
	assert.Equal(t, []int64{testEmail}, []int64(task.EmailIDs))
	assert.True(t, task.SendInvite)
	assert.Empty(t, task.WhatType)
}

func TestCreateTaskRequiresDueWindow(t *testing.T) {
	f := newFixture()
	data := model.JSONB{
		"user":       map[string]interface{}{"id": float64(testOwner)},
		"taskType":   "call",
		"title":      "Call",
		"dueSameDay": false,
		"authorID":   float64(testOwner),
	}

	res := f.d.Dispatch(context.Background(), leadEvent(CreateTask, data))

	assert.Equal(t, FailedPermanent, res.Outcome)
	assert.ErrorIs(t, res.Err, ErrMalformedPayload)
	assert.Empty(t, f.store.tasks)
}

func TestCreateOpportunity(t *testing.T) {
	f := newFixture()
	f.store.stages[40] = &model.DealStage{ID: 40, CompanyProfileID: testCompany, PipelineID: 0, Name: "Won"}
	data := model.JSONB{
		"opportunityAmount":          "2500",
		"opportunityDealStageID":     float64(40),
		"opportunityFallbackOwnerID": float64(testOwner),
		"opportunityProbability":     float64(90),
		"opportunitySecondsToClose":  float64(3600),
		"opportunityStatus":          model.OpportunityStatusClosedWon,
		"workflowID":                 float64(testWorkflow),
	}

	res := f.d.Dispatch(context.Background(), leadEvent(CreateOpportunity, data))

	require.Equal(t, Completed, res.Outcome, res.Reason)
	require.Len(t, f.store.opportunities, 1)
	var opp *model.Opportunity
	for _, o := range f.store.opportunities {
		opp = o
	}
	assert.Equal(t, "Lead Co - Mar. 06, 2024 3:30PM", opp.OpportunityName)
	assert.Equal(t, 2500.0, opp.Amount)
	assert.Equal(t, testOwner, opp.OwnerID)
	assert.True(t, opp.IsWon)
	assert.True(t, opp.IsClosed)
	assert.Equal(t, testNow, *opp.CloseDate)
	assert.NotZero(t, opp.AccountID)

	lead := f.store.leads[testLead]
	assert.Equal(t, testOwner, lead.OwnerID)
	assert.Equal(t, opp.AccountID, lead.AccountID)
	assert.True(t, lead.IsCustomer)
	assert.True(t, lead.HasOpportunity)

	assert.Len(t, f.jobs.ofType(model.JobNewOpportunity), 1)
	assert.Len(t, f.store.notifyPrefs, 1)
}

func TestCreateOpportunityRollsBackWhenOutboxFails(t *testing.T) {
	f := newFixture()
	f.store.stages[40] = &model.DealStage{ID: 40, CompanyProfileID: testCompany, PipelineID: 0, Name: "Open"}
	data := model.JSONB{
		"opportunityAmount":          "100",
		"opportunityDealStageID":     float64(40),
		"opportunityFallbackOwnerID": float64(testOwner),
		"opportunityProbability":     float64(20),
		"opportunitySecondsToClose":  float64(86400),
		"opportunityStatus":          model.OpportunityStatusOpen,
		"workflowID":                 float64(testWorkflow),
	}
	event := leadEvent(CreateOpportunity, data)

	f.jobs.err = errors.New("outbox unavailable")
	res := f.d.Dispatch(context.Background(), event)
	require.Equal(t, FailedRetryable, res.Outcome)
	assert.Empty(t, f.store.opportunities)
	assert.False(t, f.store.leads[testLead].HasOpportunity)

	f.jobs.err = nil
	res = f.d.Dispatch(context.Background(), event)
	require.Equal(t, Completed, res.Outcome, res.Reason)
	require.Len(t, f.store.opportunities, 1)
	jobs := f.jobs.ofType(model.JobNewOpportunity)
	require.Len(t, jobs, 1)
	for id := range f.store.opportunities {
		assert.Equal(t, id, jobs[0].Payload["opportunityID"])
	}
}

func TestCreateOpportunityRequiresAllKeys(t *testing.T) {
	f := newFixture()

	res := f.d.Dispatch(context.Background(), leadEvent(CreateOpportunity, model.JSONB{"opportunityAmount": "1"}))

	assert.Equal(t, FailedPermanent, res.Outcome)
	assert.Empty(t, f.store.opportunities)
}

func openOpportunity(f *fixture) {
	f.store.opportunities[500] = &model.Opportunity{
		ID: 500, CompanyProfileID: testCompany, OpportunityName: "Deal",
		PrimaryLeadID: testLead, DealStage: 40, IsActive: true,
	}
}

func TestChangeOpportunityStagePublishesChange(t *testing.T) {
	f := newFixture()
	openOpportunity(f)

	data := model.JSONB{"pipeline": float64(0), "opportunityDealStageID": float64(41), "workflowID": float64(testWorkflow)}
	res := f.d.Dispatch(context.Background(), leadEvent(ChangeOpportunityStage, data))

	require.Equal(t, Completed, res.Outcome, res.Reason)
	assert.Equal(t, int64(41), f.store.opportunities[500].DealStage)
	jobs := f.jobs.ofType(model.JobChangeDealStage)
	require.Len(t, jobs, 1)
	assert.Equal(t, int64(40), jobs[0].Payload["previousDealStageID"])
	assert.Equal(t, int64(41), jobs[0].Payload["dealStageID"])

	again := leadEvent(ChangeOpportunityStage, data)
	res = f.d.Dispatch(context.Background(), again)
	assert.Equal(t, Completed, res.Outcome)
	assert.Len(t, f.jobs.ofType(model.JobChangeDealStage), 1)
}

func TestChangeOpportunityStageRetryPublishesAfterOutboxFailure(t *testing.T) {
	f := newFixture()
	openOpportunity(f)
	data := model.JSONB{"pipeline": float64(0), "opportunityDealStageID": float64(41), "workflowID": float64(testWorkflow)}
	event := leadEvent(ChangeOpportunityStage, data)

	f.jobs.err = errors.New("outbox unavailable")
	res := f.d.Dispatch(context.Background(), event)
	require.Equal(t, FailedRetryable, res.Outcome)
	assert.Equal(t, int64(40), f.store.opportunities[500].DealStage)
	assert.Empty(t, f.jobs.ofType(model.JobChangeDealStage))

	f.jobs.err = nil
	res = f.d.Dispatch(context.Background(), event)
	require.Equal(t, Completed, res.Outcome, res.Reason)
	assert.Equal(t, int64(41), f.store.opportunities[500].DealStage)
	assert.Len(t, f.jobs.ofType(model.JobChangeDealStage), 1)
}

func TestChangeOpportunityStatusClosesAndWins(t *testing.T) {
	f := newFixture()
	withFields(f)
	openOpportunity(f)

	res := f.d.Dispatch(context.Background(), leadEvent(ChangeOpportunityStatus, model.JSONB{"status": model.OpportunityStatusClosedWon}))

	require.Equal(t, Completed, res.Outcome, res.Reason)
	opp := f.store.opportunities[500]
	assert.True(t, opp.IsWon)
	assert.True(t, opp.IsClosed)
	require.NotNil(t, opp.CloseDate)
	assert.Equal(t, model.LeadStatusCustomer, f.store.leads[testLead].LeadStatus)
}

func TestChangeOpportunityFieldCannotBlankName(t *testing.T) {
	f := newFixture()
	withFields(f)
	openOpportunity(f)

	res := f.d.Dispatch(context.Background(), leadEvent(ChangeOpportunityField, model.JSONB{"fieldID": float64(fieldOppName), "value": " "}))
	assert.Equal(t, Skipped, res.Outcome)

	res = f.d.Dispatch(context.Background(), leadEvent(ChangeOpportunityField, model.JSONB{"fieldID": float64(fieldOppBudget), "value": "10"}))
	require.Equal(t, Completed, res.Outcome, res.Reason)
	assert.Equal(t, "10", f.store.oppValues[valueKey(500, fieldOppBudget)])
}

func TestAmbiguousOpportunitySkips(t *testing.T) {
	f := newFixture()
	withFields(f)
	openOpportunity(f)
	f.store.opportunities[501] = &model.Opportunity{ID: 501, CompanyProfileID: testCompany, PrimaryLeadID: testLead}

	res := f.d.Dispatch(context.Background(), leadEvent(AssignOpportunityOwner, model.JSONB{"user": map[string]interface{}{"id": float64(testOwner)}}))

	assert.Equal(t, Skipped, res.Outcome)
}

func TestConversionGoalLeadField(t *testing.T) {
	f := newFixture()
	withFields(f)
	f.store.goals[1] = &model.ConversionGoal{ID: 1, CompanyProfileID: testCompany, Name: "Hot lead", TaskID: 11, GoalType: model.GoalLeadField, FieldID: fieldScore}
	f.store.leadValues[valueKey(testLead, fieldScore)] = "10"

	ev := leadEvent(MarkConversionGoalMet, nil)
	ev.TriggerData["prevValuesMap"] = map[string]interface{}{"5": "3"}
	res := f.d.Dispatch(context.Background(), ev)

	require.Equal(t, Completed, res.Outcome, res.Reason)
	require.Len(t, f.store.conversions, 1)
	hist := f.store.conversions[0]
	assert.Equal(t, "contactField", hist.WhatType)
	assert.Equal(t, "Score", hist.WhatName)
	assert.Equal(t, "3", hist.PrevValue)
	assert.Equal(t, "10", hist.NewValue)
	assert.Equal(t, "Hot lead", hist.GoalTitle)

	ev = leadEvent(MarkConversionGoalMet, nil)
	ev.TriggerData["prevValuesMap"] = map[string]interface{}{"5": "10"}
	res = f.d.Dispatch(context.Background(), ev)
	assert.Equal(t, Skipped, res.Outcome)
	assert.Len(t, f.store.conversions, 1)
}

func TestConversionGoalSubjectMismatch(t *testing.T) {
	f := newFixture()
	f.store.goals[1] = &model.ConversionGoal{ID: 1, CompanyProfileID: testCompany, TaskID: 11, GoalType: model.GoalOpportunityField}

	res := f.d.Dispatch(context.Background(), leadEvent(MarkConversionGoalMet, nil))

	assert.Equal(t, FailedPermanent, res.Outcome)
}

func TestTestEventCompletes(t *testing.T) {
	f := newFixture()

	res := f.d.Dispatch(context.Background(), leadEvent(Test, model.JSONB{"a": "abc"}))

	assert.Equal(t, Completed, res.Outcome)
	assert.Equal(t, "cba", reverse("abc"))
}

func TestTagHandlers(t *testing.T) {
	f := newFixture()
	ctx := context.Background()

	res := f.d.Dispatch(ctx, leadEvent(AddTagToLead, model.JSONB{"tagID": float64(12)}))
	assert.Equal(t, Completed, res.Outcome, res.Reason)
	assert.True(t, f.store.leadTags[valueKey(testLead, 12)])

	res = f.d.Dispatch(ctx, leadEvent(RemoveTagFromLead, model.JSONB{"tagID": float64(12)}))
	assert.Equal(t, Completed, res.Outcome, res.Reason)
	assert.False(t, f.store.leadTags[valueKey(testLead, 12)])

	res = f.d.Dispatch(ctx, leadEvent(AddTagToLead, model.JSONB{}))
	assert.Equal(t, Skipped, res.Outcome)
	assert.Empty(t, f.notifier.sent)
}

func TestAssignLeadCampaignFallsBackToEventWorkflow(t *testing.T) {
	f := newFixture()

	res := f.d.Dispatch(context.Background(), leadEvent(AssignLeadCampaign, model.JSONB{
		"campaign": map[string]interface{}{"id": float64(77)},
		"override": false,
	}))
	require.Equal(t, Completed, res.Outcome, res.Reason)
	assert.Equal(t, int64(77), f.store.leads[testLead].CampaignID)

	event := leadEvent(AssignLeadCampaign, model.JSONB{
		"campaign": map[string]interface{}{"id": float64(78)},
		"override": true,
	})
	event.WorkflowID = nil
	res = f.d.Dispatch(context.Background(), event)
	assert.Equal(t, Skipped, res.Outcome)
	assert.Equal(t, int64(77), f.store.leads[testLead].CampaignID)
}
