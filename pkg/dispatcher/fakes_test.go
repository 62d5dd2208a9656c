package dispatcher

import (
	"context"
	"fmt"
	"strconv"
	"sync"
	"time"

	"gorm.io/gorm"

	"github.com/flowforge/automation/pkg/lock"
	"github.com/flowforge/automation/pkg/mail"
	"github.com/flowforge/automation/pkg/model"
	"github.com/flowforge/automation/pkg/offering"
)

func notFound(what string, id int64) error {
	return fmt.Errorf("%s %d: %w", what, id, gorm.ErrRecordNotFound)
}

// memStore is an in-memory Store for handler tests.
type memStore struct {
	mu sync.Mutex

	companies     map[int64]*model.CompanyProfile
	users         map[int64]*model.User
	leads         map[int64]*model.Lead
	fields        map[int64]*model.Field
	leadValues    map[string]string
	opportunities map[int64]*model.Opportunity
	oppValues     map[string]string
	pipelines     map[int64]*model.Pipeline
	stages        map[int64]*model.DealStage
	accounts      map[int64]*model.Account
	lists         map[int64]*model.List
	listTags      map[int64][]int64
	listMembers   map[string]bool
	leadTags      map[string]bool
	feeds         map[int64]*model.RSSFeedSubscription
	workflows     map[int64]*model.Workflow
	visuals       map[int64]*model.VisualWorkflow
	ruleTasks     map[int64]*model.RuleTask
	emails        map[int64]*model.Email
	goals         map[int64]*model.ConversionGoal
	variables     map[string]string

	statusHistory []model.LeadStatusHistory
	removed       []int64
	tasks         []*model.Task
	conversions   []*model.ConversionHistory
	secondaries   [][]int64
	notifyPrefs   []*model.NotificationPreference
	fieldWrites   int
	nextID        int64
	outbox        *fakeJobs

	failLeads error
}

func newMemStore() *memStore {
	return &memStore{
		companies:     map[int64]*model.CompanyProfile{},
		users:         map[int64]*model.User{},
		leads:         map[int64]*model.Lead{},
		fields:        map[int64]*model.Field{},
		leadValues:    map[string]string{},
		opportunities: map[int64]*model.Opportunity{},
		oppValues:     map[string]string{},
		pipelines:     map[int64]*model.Pipeline{},
		stages:        map[int64]*model.DealStage{},
		accounts:      map[int64]*model.Account{},
		lists:         map[int64]*model.List{},
		listTags:      map[int64][]int64{},
		listMembers:   map[string]bool{},
		leadTags:      map[string]bool{},
		feeds:         map[int64]*model.RSSFeedSubscription{},
		workflows:     map[int64]*model.Workflow{},
		visuals:       map[int64]*model.VisualWorkflow{},
		ruleTasks:     map[int64]*model.RuleTask{},
		emails:        map[int64]*model.Email{},
		goals:         map[int64]*model.ConversionGoal{},
		variables:     map[string]string{},
		nextID:        1000,
	}
}

func valueKey(recordID, fieldID int64) string {
	return fmt.Sprintf("%d:%d", recordID, fieldID)
}

func (s *memStore) GetCompany(ctx context.Context, companyID int64) (*model.CompanyProfile, error) {
	s.mu.Lock()
	defer s.mu.Unlock()
	if c, ok := s.companies[companyID]; ok {
		cp := *c
		return &cp, nil
	}
	return nil, notFound("company", companyID)
}

func (s *memStore) GetUser(ctx context.Context, companyID, userID int64) (*model.User, error) {
	s.mu.Lock()
	defer s.mu.Unlock()
	if u, ok := s.users[userID]; ok && u.CompanyProfileID == companyID {
		cp := *u
		return &cp, nil
	}
	return nil, notFound("user", userID)
}

func (s *memStore) lead(companyID, leadID int64) (*model.Lead, error) {
	if s.failLeads != nil {
		return nil, s.failLeads
	}
	if l, ok := s.leads[leadID]; ok && l.CompanyProfileID == companyID {
		return l, nil
	}
	return nil, notFound("lead", leadID)
}

func (s *memStore) GetLead(ctx context.Context, companyID, leadID int64) (*model.Lead, error) {
	s.mu.Lock()
	defer s.mu.Unlock()
	l, err := s.lead(companyID, leadID)
	if err != nil {
		return nil, err
	}
	cp := *l
	return &cp, nil
}

func (s *memStore) GetField(ctx context.Context, companyID, fieldID int64) (*model.Field, error) {
	s.mu.Lock()
	defer s.mu.Unlock()
	if f, ok := s.fields[fieldID]; ok && f.CompanyProfileID == companyID {
		cp := *f
		return &cp, nil
	}
	return nil, notFound("field", fieldID)
}

func (s *memStore) FieldBySystemName(ctx context.Context, companyID int64, entity, systemName string) (*model.Field, error) {
	s.mu.Lock()
	defer s.mu.Unlock()
	for _, f := range s.fields {
		if f.CompanyProfileID == companyID && f.Entity == entity && f.SystemName == systemName {
			cp := *f
			return &cp, nil
		}
	}
	return nil, fmt.Errorf("field %s: %w", systemName, gorm.ErrRecordNotFound)
}

func (s *memStore) MergeFields(ctx context.Context, companyID int64) ([]*model.Field, error) {
	s.mu.Lock()
	defer s.mu.Unlock()
	var out []*model.Field
	for _, f := range s.fields {
		if f.CompanyProfileID == companyID && f.Entity == model.FieldEntityLead {
			cp := *f
			out = append(out, &cp)
		}
	}
	return out, nil
}

func (s *memStore) EmailVariables(ctx context.Context, companyID int64) (map[string]string, error) {
	s.mu.Lock()
	defer s.mu.Unlock()
	out := make(map[string]string, len(s.variables))
	for k, v := range s.variables {
		out[k] = v
	}
	return out, nil
}

func (s *memStore) FieldValue(ctx context.Context, companyID int64, field *model.Field, recordID int64) (string, error) {
	s.mu.Lock()
	defer s.mu.Unlock()
	switch field.Entity {
	case model.FieldEntityOpportunity:
		return s.oppValues[valueKey(recordID, field.ID)], nil
	default:
		l, err := s.lead(companyID, recordID)
		if err != nil {
			return "", err
		}
		switch field.SystemName {
		case "firstName":
			return l.FirstName, nil
		case "lastName":
			return l.LastName, nil
		case "emailAddress":
			return l.EmailAddress, nil
		case "companyName":
			return l.CompanyName, nil
		}
		return s.leadValues[valueKey(recordID, field.ID)], nil
	}
}

func (s *memStore) LeadCustomFields(ctx context.Context, companyID, leadID int64) (map[string]string, error) {
	s.mu.Lock()
	defer s.mu.Unlock()
	out := map[string]string{}
	for _, f := range s.fields {
		if f.CompanyProfileID == companyID && f.Entity == model.FieldEntityLead && f.IsCustom {
			if v, ok := s.leadValues[valueKey(leadID, f.ID)]; ok {
				out[f.SystemName] = v
			}
		}
	}
	return out, nil
}

func (s *memStore) SetLeadFieldValue(ctx context.Context, companyID, leadID int64, field *model.Field, value string) error {
	s.mu.Lock()
	defer s.mu.Unlock()
	if _, err := s.lead(companyID, leadID); err != nil {
		return err
	}
	s.fieldWrites++
	s.leadValues[valueKey(leadID, field.ID)] = value
	return nil
}

func (s *memStore) AppendLeadFieldValue(ctx context.Context, companyID, leadID, fieldID int64, value string) error {
	s.mu.Lock()
	defer s.mu.Unlock()
	s.fieldWrites++
	key := valueKey(leadID, fieldID)
	if prev := s.leadValues[key]; prev != "" {
		value = prev + "," + value
	}
	s.leadValues[key] = value
	return nil
}

func (s *memStore) IncrementLeadField(ctx context.Context, companyID, leadID, fieldID int64, delta float64) error {
	s.mu.Lock()
	defer s.mu.Unlock()
	if _, err := s.lead(companyID, leadID); err != nil {
		return err
	}
	key := valueKey(leadID, fieldID)
	current, _ := strconv.ParseFloat(s.leadValues[key], 64)
	s.leadValues[key] = strconv.FormatFloat(current+delta, 'f', -1, 64)
	return nil
}

func (s *memStore) UpdateLeadStatus(ctx context.Context, change LeadStatusChange) (bool, error) {
	s.mu.Lock()
	defer s.mu.Unlock()
	l, err := s.lead(change.CompanyID, change.LeadID)
	if err != nil {
		return false, err
	}
	if l.LeadStatus != change.Previous {
		return false, nil
	}
	l.LeadStatus = change.Status
	l.IsQualified, l.IsContact, l.IsCustomer = change.Flags.IsQualified, change.Flags.IsContact, change.Flags.IsCustomer
	s.statusHistory = append(s.statusHistory, model.LeadStatusHistory{
		CompanyProfileID: change.CompanyID,
		LeadID:           change.LeadID,
		WorkflowID:       change.WorkflowID,
		PreviousStatus:   change.Previous,
		NewStatus:        change.Status,
	})
	return true, nil
}

func (s *memStore) MarkLeadScoreStale(ctx context.Context, companyID, leadID int64) error {
	s.mu.Lock()
	defer s.mu.Unlock()
	if l, err := s.lead(companyID, leadID); err == nil {
		l.ScoreStale = true
	}
	return nil
}

func (s *memStore) AssignLeadOwner(ctx context.Context, companyID, leadID, ownerID, workflowID int64, override bool) (bool, error) {
	s.mu.Lock()
	defer s.mu.Unlock()
	l, err := s.lead(companyID, leadID)
	if err != nil {
		return false, err
	}
	if l.OwnerID != 0 && !override {
		return false, nil
	}
	l.OwnerID = ownerID
	return true, nil
}

func (s *memStore) AssignLeadCampaign(ctx context.Context, companyID, leadID, campaignID int64, override bool) (bool, error) {
	s.mu.Lock()
	defer s.mu.Unlock()
	l, err := s.lead(companyID, leadID)
	if err != nil {
		return false, err
	}
	if l.CampaignID != 0 && !override {
		return false, nil
	}
	l.CampaignID = campaignID
	return true, nil
}

func (s *memStore) SetLeadPersona(ctx context.Context, companyID, leadID, personaID int64) error {
	s.mu.Lock()
	defer s.mu.Unlock()
	l, err := s.lead(companyID, leadID)
	if err != nil {
		return err
	}
	l.PersonaID = personaID
	return nil
}

func (s *memStore) AddLeadTag(ctx context.Context, companyID, leadID, tagID int64) error {
	s.mu.Lock()
	defer s.mu.Unlock()
	s.leadTags[valueKey(leadID, tagID)] = true
	return nil
}

func (s *memStore) RemoveLeadTag(ctx context.Context, companyID, leadID, tagID int64) error {
	s.mu.Lock()
	defer s.mu.Unlock()
	delete(s.leadTags, valueKey(leadID, tagID))
	return nil
}

func (s *memStore) AccountLeadIDs(ctx context.Context, companyID, accountID int64) ([]int64, error) {
	s.mu.Lock()
	defer s.mu.Unlock()
	var ids []int64
	for _, l := range s.leads {
		if l.CompanyProfileID == companyID && l.AccountID == accountID {
			ids = append(ids, l.ID)
		}
	}
	return ids, nil
}

func (s *memStore) GetOpportunity(ctx context.Context, companyID, opportunityID int64) (*model.Opportunity, error) {
	s.mu.Lock()
	defer s.mu.Unlock()
	if o, ok := s.opportunities[opportunityID]; ok && o.CompanyProfileID == companyID {
		cp := *o
		return &cp, nil
	}
	return nil, notFound("opportunity", opportunityID)
}

func (s *memStore) LeadOpportunities(ctx context.Context, companyID, leadID int64, pipelineID *int64) ([]*model.Opportunity, error) {
	s.mu.Lock()
	defer s.mu.Unlock()
	var out []*model.Opportunity
	for _, o := range s.opportunities {
		if o.CompanyProfileID != companyID || o.PrimaryLeadID != leadID || o.IsClosed {
			continue
		}
		if pipelineID != nil && o.PipelineID != *pipelineID {
			continue
		}
		cp := *o
		out = append(out, &cp)
	}
	return out, nil
}

func (s *memStore) OpportunityCustomFields(ctx context.Context, companyID, opportunityID int64) (map[string]string, error) {
	s.mu.Lock()
	defer s.mu.Unlock()
	out := map[string]string{}
	for _, f := range s.fields {
		if f.CompanyProfileID == companyID && f.Entity == model.FieldEntityOpportunity && f.IsCustom {
			if v, ok := s.oppValues[valueKey(opportunityID, f.ID)]; ok {
				out[f.SystemName] = v
			}
		}
	}
	return out, nil
}

func (s *memStore) SetOpportunityColumn(ctx context.Context, companyID, opportunityID int64, column string, value interface{}) error {
	s.mu.Lock()
	defer s.mu.Unlock()
	o, ok := s.opportunities[opportunityID]
	if !ok {
		return notFound("opportunity", opportunityID)
	}
	switch column {
	case "isWon":
		o.IsWon = value.(bool)
	case "isClosed":
		o.IsClosed = value.(bool)
	case "ownerID":
		o.OwnerID = value.(int64)
	case "amount":
		o.Amount = value.(float64)
	case "opportunityName":
		o.OpportunityName = value.(string)
	case "closeDate":
		t := value.(time.Time)
		o.CloseDate = &t
	}
	return nil
}

func (s *memStore) SetOpportunityFieldValue(ctx context.Context, companyID, opportunityID, fieldID int64, value string) error {
	s.mu.Lock()
	defer s.mu.Unlock()
	s.oppValues[valueKey(opportunityID, fieldID)] = value
	return nil
}

func (s *memStore) AppendOpportunityFieldValue(ctx context.Context, companyID, opportunityID, fieldID int64, value string) error {
	s.mu.Lock()
	defer s.mu.Unlock()
	key := valueKey(opportunityID, fieldID)
	if prev := s.oppValues[key]; prev != "" {
		value = prev + "," + value
	}
	s.oppValues[key] = value
	return nil
}

func (s *memStore) SetDealStage(ctx context.Context, companyID, opportunityID, from, to int64, followOn *model.Job) (bool, error) {
	s.mu.Lock()
	defer s.mu.Unlock()
	o, ok := s.opportunities[opportunityID]
	if !ok {
		return false, notFound("opportunity", opportunityID)
	}
	if o.DealStage != from {
		return false, nil
	}
	if followOn != nil {
		if err := s.outbox.Enqueue(ctx, followOn); err != nil {
			return false, err
		}
	}
	o.DealStage = to
	return true, nil
}

func (s *memStore) GetPipeline(ctx context.Context, companyID, pipelineID int64) (*model.Pipeline, error) {
	s.mu.Lock()
	defer s.mu.Unlock()
	if p, ok := s.pipelines[pipelineID]; ok {
		cp := *p
		return &cp, nil
	}
	return nil, notFound("pipeline", pipelineID)
}

func (s *memStore) GetDealStage(ctx context.Context, companyID, stageID int64) (*model.DealStage, error) {
	s.mu.Lock()
	defer s.mu.Unlock()
	if st, ok := s.stages[stageID]; ok {
		cp := *st
		return &cp, nil
	}
	return nil, notFound("deal stage", stageID)
}

func (s *memStore) FindAccountByName(ctx context.Context, companyID int64, name string) (*model.Account, error) {
	s.mu.Lock()
	defer s.mu.Unlock()
	for _, a := range s.accounts {
		if a.CompanyProfileID == companyID && a.AccountName == name {
			cp := *a
			return &cp, nil
		}
	}
	return nil, fmt.Errorf("account %q: %w", name, gorm.ErrRecordNotFound)
}

func (s *memStore) UpsertAccount(ctx context.Context, account *model.Account) (*model.Account, error) {
	s.mu.Lock()
	defer s.mu.Unlock()
	for _, a := range s.accounts {
		if a.CompanyProfileID == account.CompanyProfileID && a.AccountName == account.AccountName {
			return a, nil
		}
	}
	s.nextID++
	account.ID = s.nextID
	s.accounts[account.ID] = account
	return account, nil
}

func (s *memStore) CreateOpportunity(ctx context.Context, opp *model.Opportunity, changes LeadChanges, followOn func(*model.Opportunity) *model.Job) error {
	s.mu.Lock()
	defer s.mu.Unlock()
	l, err := s.lead(opp.CompanyProfileID, changes.LeadID)
	if err != nil {
		return err
	}
	id := s.nextID + 1
	if followOn != nil {
		created := *opp
		created.ID = id
		if err := s.outbox.Enqueue(ctx, followOn(&created)); err != nil {
			return err
		}
	}
	s.nextID = id
	opp.ID = id
	cp := *opp
	s.opportunities[opp.ID] = &cp
	l.HasOpportunity = true
	l.IsContact = true
	if changes.AccountID > 0 {
		l.AccountID = changes.AccountID
	}
	if changes.OwnerID > 0 {
		l.OwnerID = changes.OwnerID
	}
	if changes.Customer {
		l.IsCustomer = true
		l.LeadStatus = model.LeadStatusCustomer
	}
	return nil
}

func (s *memStore) AddNotificationPreference(ctx context.Context, pref *model.NotificationPreference) error {
	s.mu.Lock()
	defer s.mu.Unlock()
	s.notifyPrefs = append(s.notifyPrefs, pref)
	return nil
}

func (s *memStore) GetList(ctx context.Context, companyID, listID int64) (*model.List, error) {
	s.mu.Lock()
	defer s.mu.Unlock()
	if l, ok := s.lists[listID]; ok && l.CompanyProfileID == companyID {
		cp := *l
		return &cp, nil
	}
	return nil, notFound("list", listID)
}

func (s *memStore) ListsWithTag(ctx context.Context, companyID, tagID int64) ([]*model.List, error) {
	s.mu.Lock()
	defer s.mu.Unlock()
	var out []*model.List
	for _, id := range s.listTags[tagID] {
		if l, ok := s.lists[id]; ok {
			cp := *l
			out = append(out, &cp)
		}
	}
	return out, nil
}

func (s *memStore) AddListMember(ctx context.Context, companyID, listID, leadID, workflowID int64) error {
	s.mu.Lock()
	defer s.mu.Unlock()
	s.listMembers[valueKey(listID, leadID)] = true
	return nil
}

func (s *memStore) RemoveListMember(ctx context.Context, companyID, listID, leadID int64) error {
	s.mu.Lock()
	defer s.mu.Unlock()
	delete(s.listMembers, valueKey(listID, leadID))
	return nil
}

func (s *memStore) GetFeedSubscription(ctx context.Context, companyID, subscriptionID int64) (*model.RSSFeedSubscription, error) {
	s.mu.Lock()
	defer s.mu.Unlock()
	if f, ok := s.feeds[subscriptionID]; ok {
		cp := *f
		return &cp, nil
	}
	return nil, notFound("feed subscription", subscriptionID)
}

func (s *memStore) AdvanceFeedLastItem(ctx context.Context, companyID, subscriptionID int64, previous, next string) (bool, error) {
	s.mu.Lock()
	defer s.mu.Unlock()
	f, ok := s.feeds[subscriptionID]
	if !ok || f.LastItem != previous {
		return false, nil
	}
	f.LastItem = next
	return true, nil
}

func (s *memStore) GetWorkflow(ctx context.Context, companyID, workflowID int64) (*model.Workflow, error) {
	s.mu.Lock()
	defer s.mu.Unlock()
	if w, ok := s.workflows[workflowID]; ok && w.CompanyProfileID == companyID {
		cp := *w
		return &cp, nil
	}
	return nil, notFound("workflow", workflowID)
}

func (s *memStore) GetVisualWorkflow(ctx context.Context, companyID, visualWorkflowID int64) (*model.VisualWorkflow, error) {
	s.mu.Lock()
	defer s.mu.Unlock()
	if v, ok := s.visuals[visualWorkflowID]; ok {
		cp := *v
		return &cp, nil
	}
	return nil, notFound("visual workflow", visualWorkflowID)
}

func (s *memStore) VisualWorkflowByPrimaryGroup(ctx context.Context, companyID, actionGroupID int64) (*model.VisualWorkflow, error) {
	s.mu.Lock()
	defer s.mu.Unlock()
	for _, v := range s.visuals {
		if v.PrimaryActionGroupID == actionGroupID {
			cp := *v
			return &cp, nil
		}
	}
	return nil, notFound("visual workflow of group", actionGroupID)
}

func (s *memStore) ActionGroups(ctx context.Context, companyID, visualWorkflowID int64) ([]*model.Workflow, error) {
	s.mu.Lock()
	defer s.mu.Unlock()
	var out []*model.Workflow
	for _, w := range s.workflows {
		if w.VisualWorkflowID == visualWorkflowID {
			cp := *w
			out = append(out, &cp)
		}
	}
	return out, nil
}

func (s *memStore) RemoveWorkflowMember(ctx context.Context, companyID, workflowID, leadID int64, exclude bool) error {
	s.mu.Lock()
	defer s.mu.Unlock()
	s.removed = append(s.removed, workflowID)
	return nil
}

func (s *memStore) GetRuleTask(ctx context.Context, companyID, taskID int64) (*model.RuleTask, error) {
	s.mu.Lock()
	defer s.mu.Unlock()
	if t, ok := s.ruleTasks[taskID]; ok {
		cp := *t
		return &cp, nil
	}
	return nil, notFound("rule task", taskID)
}

func (s *memStore) CreateTask(ctx context.Context, task *model.Task) error {
	s.mu.Lock()
	defer s.mu.Unlock()
	s.nextID++
	task.ID = s.nextID
	s.tasks = append(s.tasks, task)
	return nil
}

func (s *memStore) GetEmail(ctx context.Context, companyID, emailID int64) (*model.Email, error) {
	s.mu.Lock()
	defer s.mu.Unlock()
	if e, ok := s.emails[emailID]; ok && e.CompanyProfileID == companyID {
		cp := *e
		return &cp, nil
	}
	return nil, notFound("email", emailID)
}

func (s *memStore) ConversionGoalByTask(ctx context.Context, companyID, taskID int64) (*model.ConversionGoal, error) {
	s.mu.Lock()
	defer s.mu.Unlock()
	for _, g := range s.goals {
		if g.CompanyProfileID == companyID && g.TaskID == taskID {
			cp := *g
			return &cp, nil
		}
	}
	return nil, notFound("conversion goal of task", taskID)
}

func (s *memStore) RecordConversion(ctx context.Context, primary *model.ConversionHistory, secondaryLeadIDs []int64) error {
	s.mu.Lock()
	defer s.mu.Unlock()
	s.conversions = append(s.conversions, primary)
	s.secondaries = append(s.secondaries, secondaryLeadIDs)
	return nil
}

type sentMail struct {
	CompanyID int64
	Message   mail.Message
	Recipient mail.Recipient
	Options   mail.Options
}

// fakeMailer records sends. The optional gate blocks Send until closed.
type fakeMailer struct {
	mu      sync.Mutex
	sent    []sentMail
	texts   []string
	err     error
	gate    chan struct{}
	entered chan struct{}
}

func (m *fakeMailer) Send(ctx context.Context, companyID int64, msg mail.Message, rcpt mail.Recipient, opts mail.Options) (mail.SendResult, error) {
	if m.entered != nil {
		m.entered <- struct{}{}
	}
	if m.gate != nil {
		select {
		case <-m.gate:
		case <-ctx.Done():
			return mail.SendResult{}, ctx.Err()
		}
	}
	m.mu.Lock()
	defer m.mu.Unlock()
	if m.err != nil {
		return mail.SendResult{}, m.err
	}
	m.sent = append(m.sent, sentMail{CompanyID: companyID, Message: msg, Recipient: rcpt, Options: opts})
	return mail.SendResult{MessageID: fmt.Sprintf("msg-%d", len(m.sent))}, nil
}

func (m *fakeMailer) SendText(ctx context.Context, companyID int64, to, body string) error {
	m.mu.Lock()
	defer m.mu.Unlock()
	m.texts = append(m.texts, to+":"+body)
	return nil
}

func (m *fakeMailer) count() int {
	m.mu.Lock()
	defer m.mu.Unlock()
	return len(m.sent)
}

type fakeJobs struct {
	mu   sync.Mutex
	jobs []*model.Job
	err  error
}

func (q *fakeJobs) Enqueue(ctx context.Context, job *model.Job) error {
	q.mu.Lock()
	defer q.mu.Unlock()
	if q.err != nil {
		return q.err
	}
	q.jobs = append(q.jobs, job)
	return nil
}

func (q *fakeJobs) ofType(jobType string) []*model.Job {
	q.mu.Lock()
	defer q.mu.Unlock()
	var out []*model.Job
	for _, j := range q.jobs {
		if j.JobType == jobType {
			out = append(out, j)
		}
	}
	return out
}

type fakeNotifier struct {
	mu   sync.Mutex
	sent []Notification
}

func (n *fakeNotifier) Notify(ctx context.Context, note Notification) error {
	n.mu.Lock()
	defer n.mu.Unlock()
	n.sent = append(n.sent, note)
	return nil
}

// Fixture IDs.
const (
	testCompany  = int64(7)
	testLead     = int64(100)
	testEmail    = int64(55)
	testOwner    = int64(9)
	testWorkflow = int64(300)
)

var testNow = time.Date(2024, time.March, 6, 15, 30, 0, 0, time.UTC)

type fixture struct {
	store    *memStore
	mailer   *fakeMailer
	jobs     *fakeJobs
	notifier *fakeNotifier
	d        *Dispatcher
}

func newFixture(opts ...func(*Deps, *Options)) *fixture {
	store := newMemStore()
	store.companies[testCompany] = &model.CompanyProfile{
		ID:              testCompany,
		CompanyName:     "Acme",
		ProductOffering: offering.PRO,
		Timezone:        "UTC",
		BusinessDays:    62,
	}
	store.users[testOwner] = &model.User{ID: testOwner, CompanyProfileID: testCompany, FirstName: "Olive", LastName: "Owner", EmailAddress: "olive@acme.test"}
	store.leads[testLead] = &model.Lead{
		ID:               testLead,
		CompanyProfileID: testCompany,
		FirstName:        "Lee",
		LastName:         "Ard",
		EmailAddress:     "lee@example.test",
		CompanyName:      "Lead Co",
		LeadStatus:       model.LeadStatusLead,
	}
	store.emails[testEmail] = &model.Email{
		ID:               testEmail,
		CompanyProfileID: testCompany,
		Subject:          "Hello",
		EmailHTML:        "<p>hi</p>",
		FromEmail:        "news@acme.test",
		FromName:         "Acme",
		IsActive:         true,
	}
	store.workflows[testWorkflow] = &model.Workflow{ID: testWorkflow, CompanyProfileID: testCompany, Name: "Nurture", IsActive: true}

	f := &fixture{store: store, mailer: &fakeMailer{}, jobs: &fakeJobs{}, notifier: &fakeNotifier{}}
	store.outbox = f.jobs
	deps := Deps{
		Store:    store,
		Mailer:   f.mailer,
		Jobs:     f.jobs,
		Locker:   lock.NewMemoryLocker(),
		Notifier: f.notifier,
		Clock:    func() time.Time { return testNow },
	}
	options := Options{}
	for _, o := range opts {
		o(&deps, &options)
	}
	d, err := New(deps, options)
	if err != nil {
		panic(err)
	}
	f.d = d
	return f
}

func leadEvent(t EventType, data model.JSONB) *model.AutomationEvent {
	workflowID := testWorkflow
	return &model.AutomationEvent{
		ID:               1,
		CompanyProfileID: testCompany,
		TaskID:           11,
		WorkflowID:       &workflowID,
		EventType:        string(t),
		WhoID:            testLead,
		WhoType:          "lead",
		TriggerData: model.JSONB{
			"companyProfileID": float64(testCompany),
			"whoID":            float64(testLead),
			"whoType":          "lead",
		},
		WorkflowEventData: data,
	}
}
