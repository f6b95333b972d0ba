package service_test

import (
	"context"
	"errors"
	"sort"
	"strings"
	"sync"
	"time"

	"github.com/unclebandit/wa-campaign-dispatch/internal/channel"
	appErrors "github.com/unclebandit/wa-campaign-dispatch/internal/errors"
	"github.com/unclebandit/wa-campaign-dispatch/internal/model"
	"github.com/unclebandit/wa-campaign-dispatch/internal/repository"
)

// ====================== Campaigns ======================

type MockCampaignRepo struct {
	mu          sync.Mutex
	campaigns   map[int]*model.Campaign
	nextID      int
	transitions []string
	// loseClaim makes every Scheduled -> In Progress transition fail.
	loseClaim bool
	failDue   error
}

func NewMockCampaignRepo(cs ...*model.Campaign) *MockCampaignRepo {
	m := &MockCampaignRepo{campaigns: map[int]*model.Campaign{}, nextID: 100}
	for _, c := range cs {
		m.campaigns[c.ID] = c
	}
	return m
}

func (m *MockCampaignRepo) status(id int) model.CampaignStatus {
	m.mu.Lock()
	defer m.mu.Unlock()
	if c, ok := m.campaigns[id]; ok {
		return c.Status
	}
	return ""
}

func (m *MockCampaignRepo) ListCampaigns(_ context.Context, offset, limit, ownerID int, channel, status string) ([]*model.Campaign, int, error) {
	m.mu.Lock()
	defer m.mu.Unlock()

	all := []*model.Campaign{}
	for _, c := range m.campaigns {
		if ownerID > 0 && c.UserID != ownerID {
			continue
		}
		if channel != "" && string(c.ChannelType) != channel {
			continue
		}
		if status != "" && string(c.Status) != status {
			continue
		}
		cp := *c
		all = append(all, &cp)
	}
	sort.Slice(all, func(i, j int) bool { return all[i].ID > all[j].ID })

	start, end := offset, offset+limit
	if start >= len(all) {
		return []*model.Campaign{}, len(all), nil
	}
	if end > len(all) {
		end = len(all)
	}
	return all[start:end], len(all), nil
}

func (m *MockCampaignRepo) GetByID(_ context.Context, id int) (*model.Campaign, error) {
	m.mu.Lock()
	defer m.mu.Unlock()
	c, ok := m.campaigns[id]
	if !ok {
		return nil, appErrors.NewCampaignNotFound(id)
	}
	cp := *c
	return &cp, nil
}

func (m *MockCampaignRepo) Create(_ context.Context, c *model.Campaign) error {
	m.mu.Lock()
	defer m.mu.Unlock()
	m.nextID++
	c.ID = m.nextID
	c.CreatedAt = time.Now()
	cp := *c
	m.campaigns[c.ID] = &cp
	return nil
}

func (m *MockCampaignRepo) Delete(_ context.Context, id int) error {
	m.mu.Lock()
	defer m.mu.Unlock()
	c, ok := m.campaigns[id]
	if !ok {
		return appErrors.NewCampaignNotFound(id)
	}
	if c.Status == model.CampaignInProgress {
		return appErrors.ErrCampaignInFlight
	}
	delete(m.campaigns, id)
	return nil
}

func (m *MockCampaignRepo) FindDue(_ context.Context, now time.Time) ([]*model.Campaign, error) {
	if m.failDue != nil {
		return nil, m.failDue
	}
	m.mu.Lock()
	defer m.mu.Unlock()
	due := []*model.Campaign{}
	for _, c := range m.campaigns {
		if c.Status == model.CampaignScheduled && c.ScheduledAt != nil && !c.ScheduledAt.After(now) {
			cp := *c
			due = append(due, &cp)
		}
	}
	sort.Slice(due, func(i, j int) bool { return due[i].ID < due[j].ID })
	return due, nil
}

func (m *MockCampaignRepo) ListByStatus(_ context.Context, status model.CampaignStatus) ([]*model.Campaign, error) {
	m.mu.Lock()
	defer m.mu.Unlock()
	out := []*model.Campaign{}
	for _, c := range m.campaigns {
		if c.Status == status {
			cp := *c
			out = append(out, &cp)
		}
	}
	return out, nil
}

func (m *MockCampaignRepo) TransitionStatus(ctx context.Context, id int, from []model.CampaignStatus, to model.CampaignStatus) (bool, error) {
	if err := ctx.Err(); err != nil {
		return false, err
	}
	m.mu.Lock()
	defer m.mu.Unlock()
	c, ok := m.campaigns[id]
	if !ok {
		return false, nil
	}
	if m.loseClaim && to == model.CampaignInProgress {
		return false, nil
	}
	for _, f := range from {
		if c.Status == f {
			m.transitions = append(m.transitions, string(c.Status)+"->"+string(to))
			c.Status = to
			return true, nil
		}
	}
	return false, nil
}

func (m *MockCampaignRepo) ScheduleNow(_ context.Context, id int, at time.Time, from []model.CampaignStatus) (bool, error) {
	m.mu.Lock()
	defer m.mu.Unlock()
	c, ok := m.campaigns[id]
	if !ok {
		return false, nil
	}
	for _, f := range from {
		if c.Status == f {
			c.Status = model.CampaignScheduled
			c.ScheduledAt = &at
			return true, nil
		}
	}
	return false, nil
}

var _ repository.CampaignRepositoryInterface = (*MockCampaignRepo)(nil)

// ====================== Contacts, audiences, templates ======================

type MockContactRepo struct {
	contacts map[int]*model.Contact
}

func (m *MockContactRepo) GetByID(_ context.Context, id int) (*model.Contact, error) {
	return m.contacts[id], nil
}

func (m *MockContactRepo) FindByPhone(_ context.Context, digits string) (*model.Contact, error) {
	var best *model.Contact
	for _, c := range m.contacts {
		phone := channel.DigitsOnly(c.Phone)
		if len(phone) < repository.MinPhoneDigits || !strings.HasSuffix(phone, digits) {
			continue
		}
		if best == nil || c.ID > best.ID {
			best = c
		}
	}
	return best, nil
}

type MockInstanceRepo struct {
	instances map[int]*model.SenderInstance
}

func (m *MockInstanceRepo) Upsert(_ context.Context, inst *model.SenderInstance) error {
	m.instances[inst.ChatwootInboxID] = inst
	return nil
}

func (m *MockInstanceRepo) GetByInboxID(_ context.Context, inboxID int) (*model.SenderInstance, error) {
	return m.instances[inboxID], nil
}

type MockAudienceRepo struct {
	audiences map[int]*model.Audience
}

func (m *MockAudienceRepo) GetByID(_ context.Context, id int) (*model.Audience, error) {
	return m.audiences[id], nil
}

type MockTemplateRepo struct {
	templates map[int]*model.Template
}

func (m *MockTemplateRepo) GetByID(_ context.Context, id int) (*model.Template, error) {
	return m.templates[id], nil
}

// ====================== Delivery records ======================

type MockDeliveryRepo struct {
	mu      sync.Mutex
	records []*model.DeliveryRecord
	phones  map[int]string // contact id -> phone
	seq     int
	failErr error
}

func NewMockDeliveryRepo(phones map[int]string) *MockDeliveryRepo {
	if phones == nil {
		phones = map[int]string{}
	}
	return &MockDeliveryRepo{phones: phones}
}

func (m *MockDeliveryRepo) Upsert(_ context.Context, rec *model.DeliveryRecord) error {
	if m.failErr != nil {
		return m.failErr
	}
	m.mu.Lock()
	defer m.mu.Unlock()
	m.seq++
	now := time.Date(2025, 1, 1, 0, 0, m.seq, 0, time.UTC)
	for _, r := range m.records {
		if r.CampaignID == rec.CampaignID && r.ContactID == rec.ContactID {
			r.ProviderMessageID, r.Status, r.LastError, r.UpdatedAt = rec.ProviderMessageID, rec.Status, rec.LastError, now
			rec.ID, rec.CreatedAt, rec.UpdatedAt = r.ID, r.CreatedAt, now
			return nil
		}
	}
	rec.ID = m.seq
	rec.CreatedAt, rec.UpdatedAt = now, now
	cp := *rec
	m.records = append(m.records, &cp)
	return nil
}

func (m *MockDeliveryRepo) ListByProviderID(_ context.Context, id string) ([]model.DeliveryRecord, error) {
	m.mu.Lock()
	defer m.mu.Unlock()
	out := []model.DeliveryRecord{}
	for _, r := range m.records {
		if r.ProviderMessageID != nil && *r.ProviderMessageID == id {
			out = append(out, *r)
		}
	}
	return out, nil
}

func (m *MockDeliveryRepo) UpdateStatus(_ context.Context, id int, from, to model.DeliveryStatus) (bool, error) {
	m.mu.Lock()
	defer m.mu.Unlock()
	for _, r := range m.records {
		if r.ID == id && r.Status == from {
			r.Status = to
			return true, nil
		}
	}
	return false, nil
}

func (m *MockDeliveryRepo) LatestOpenByPhone(_ context.Context, digits string) (*model.DeliveryRecord, error) {
	m.mu.Lock()
	defer m.mu.Unlock()
	var best *model.DeliveryRecord
	for _, r := range m.records {
		if r.Status.IsTerminal() {
			continue
		}
		phone := channel.DigitsOnly(m.phones[r.ContactID])
		if len(phone) < repository.MinPhoneDigits || !(strings.HasSuffix(phone, digits) || strings.HasSuffix(digits, phone)) {
			continue
		}
		if best == nil || r.CreatedAt.After(best.CreatedAt) {
			best = r
		}
	}
	if best == nil {
		return nil, nil
	}
	cp := *best
	return &cp, nil
}

func (m *MockDeliveryRepo) CountByStatus(_ context.Context, campaignID int) (map[model.DeliveryStatus]int, error) {
	m.mu.Lock()
	defer m.mu.Unlock()
	out := map[model.DeliveryStatus]int{}
	for _, r := range m.records {
		if r.CampaignID == campaignID {
			out[r.Status]++
		}
	}
	return out, nil
}

func (m *MockDeliveryRepo) ListByCampaign(_ context.Context, campaignID int) ([]model.DeliveryReportRow, error) {
	m.mu.Lock()
	defer m.mu.Unlock()
	out := []model.DeliveryReportRow{}
	for _, r := range m.records {
		if r.CampaignID == campaignID {
			out = append(out, model.DeliveryReportRow{ContactID: r.ContactID, Phone: m.phones[r.ContactID], Status: r.Status})
		}
	}
	return out, nil
}

func (m *MockDeliveryRepo) byContact(campaignID, contactID int) *model.DeliveryRecord {
	m.mu.Lock()
	defer m.mu.Unlock()
	for _, r := range m.records {
		if r.CampaignID == campaignID && r.ContactID == contactID {
			cp := *r
			return &cp
		}
	}
	return nil
}

var _ repository.DeliveryRepositoryInterface = (*MockDeliveryRepo)(nil)

// ====================== Channels, pacing, notifications ======================

// MockChannel returns scripted outcomes in call order; the last one repeats.
type MockChannel struct {
	mu          sync.Mutex
	outcomes    []channel.Outcome
	calls       []channel.Destination
	contents    []channel.Content
	validateErr error
	panicOn     int // 1-based call number, 0 disables
}

func (m *MockChannel) Validate(*model.Campaign) error { return m.validateErr }

func (m *MockChannel) Send(_ context.Context, dst channel.Destination, content channel.Content) channel.Outcome {
	m.mu.Lock()
	defer m.mu.Unlock()
	m.calls = append(m.calls, dst)
	m.contents = append(m.contents, content)
	n := len(m.calls)
	if m.panicOn == n {
		panic("channel exploded")
	}
	if len(m.outcomes) == 0 {
		return channel.Outcome{Success: true}
	}
	if n > len(m.outcomes) {
		return m.outcomes[len(m.outcomes)-1]
	}
	return m.outcomes[n-1]
}

type CountingPacer struct {
	calls int
}

func (p *CountingPacer) DelayFor(model.MessageInterval) time.Duration {
	p.calls++
	return time.Second
}

type event struct {
	campaignID int
	contactID  int
	status     string
}

type RecordingNotifier struct {
	mu     sync.Mutex
	events []event
}

func (n *RecordingNotifier) CampaignStatusChanged(_ context.Context, id int, s model.CampaignStatus) {
	n.mu.Lock()
	defer n.mu.Unlock()
	n.events = append(n.events, event{campaignID: id, status: string(s)})
}

func (n *RecordingNotifier) DeliveryStatusChanged(_ context.Context, campaignID, contactID int, s model.DeliveryStatus) {
	n.mu.Lock()
	defer n.mu.Unlock()
	n.events = append(n.events, event{campaignID: campaignID, contactID: contactID, status: string(s)})
}

func (n *RecordingNotifier) campaignStatuses(id int) []string {
	n.mu.Lock()
	defer n.mu.Unlock()
	out := []string{}
	for _, e := range n.events {
		if e.campaignID == id && e.contactID == 0 {
			out = append(out, e.status)
		}
	}
	return out
}

var errDB = errors.New("db unavailable")

func intPtr(i int) *int       { return &i }
func strPtr(s string) *string { return &s }
