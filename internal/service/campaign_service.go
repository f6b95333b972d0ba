// internal/service/campaign_service.go
package service

import (
	"context"
	"strconv"
	"strings"
	"time"

	"github.com/rs/zerolog/log"

	"github.com/unclebandit/wa-campaign-dispatch/internal/auth"
	appErrors "github.com/unclebandit/wa-campaign-dispatch/internal/errors"
	"github.com/unclebandit/wa-campaign-dispatch/internal/model"
	"github.com/unclebandit/wa-campaign-dispatch/internal/notify"
	"github.com/unclebandit/wa-campaign-dispatch/internal/repository"
)

type CampaignService struct {
	CampaignRepo repository.CampaignRepositoryInterface
	ContactRepo  repository.ContactRepositoryInterface
	TemplateRepo repository.TemplateRepositoryInterface
	AudienceRepo repository.AudienceRepositoryInterface
	DeliveryRepo repository.DeliveryRepositoryInterface
	// InstanceRepo, when set, makes session campaigns reference a reported
	// sender instance.
	InstanceRepo repository.SenderInstanceRepositoryInterface
	Notifier     notify.Notifier

	// Location interprets schedule times given without an offset.
	Location *time.Location
	Now      func() time.Time
}

const (
	ScheduleManual = "manual"
	ScheduleLater  = "later"
	ScheduleNow    = "now"
)

type CreateCampaignInput struct {
	Name               string            `json:"name"`
	AudienceID         int               `json:"audience_id"`
	TemplateID         *int              `json:"template_id"`
	CustomBody         string            `json:"custom_body"`
	VariableMapping    map[string]string `json:"variable_mapping"`
	MessageInterval    string            `json:"message_interval"`
	ChannelType        string            `json:"channel_type"`
	ChannelInstanceRef string            `json:"channel_instance_ref"`
	ScheduleOption     string            `json:"schedule_option"`
	ScheduledAt        string            `json:"scheduled_at"`
}

type ReportHeader struct {
	ID           int                  `json:"id"`
	Name         string               `json:"name"`
	Status       model.CampaignStatus `json:"status"`
	ScheduledAt  *time.Time           `json:"scheduled_at,omitempty"`
	AudienceName string               `json:"audience_name"`
}

type ReportContact struct {
	Name   string               `json:"name"`
	Phone  string               `json:"phone"`
	Status model.DeliveryStatus `json:"status"`
}

type CampaignReport struct {
	Campaign ReportHeader        `json:"campaign"`
	Stats    model.DeliveryStats `json:"stats"`
	Contacts []ReportContact     `json:"contacts"`
}

var sendableStatuses = []model.CampaignStatus{model.CampaignDraft, model.CampaignScheduled}

func (s *CampaignService) now() time.Time {
	if s.Now != nil {
		return s.Now().UTC()
	}
	return time.Now().UTC()
}

func (s *CampaignService) location() *time.Location {
	if s.Location != nil {
		return s.Location
	}
	return time.UTC
}

func (s *CampaignService) notifier() notify.Notifier {
	if s.Notifier != nil {
		return s.Notifier
	}
	return notify.Nop{}
}

// ====================== Create ======================

func (s *CampaignService) CreateCampaign(ctx context.Context, p auth.Principal, in CreateCampaignInput) (*model.Campaign, error) {
	c := &model.Campaign{
		UserID:             p.UserID,
		Name:               strings.TrimSpace(in.Name),
		Status:             model.CampaignDraft,
		MessageInterval:    model.MessageInterval(strings.ToLower(strings.TrimSpace(in.MessageInterval))),
		VariableMapping:    model.StringMap(in.VariableMapping),
		ChannelType:        model.ChannelType(strings.TrimSpace(in.ChannelType)).Normalize(),
		ChannelInstanceRef: strings.TrimSpace(in.ChannelInstanceRef),
		TemplateID:         in.TemplateID,
		CustomBody:         in.CustomBody,
		AudienceID:         in.AudienceID,
	}
	if c.VariableMapping == nil {
		c.VariableMapping = model.StringMap{}
	}
	if c.MessageInterval == "" {
		c.MessageInterval = model.IntervalMedium
	}

	if err := s.validateCreate(ctx, p, c); err != nil {
		return nil, err
	}

	switch strings.ToLower(strings.TrimSpace(in.ScheduleOption)) {
	case "", ScheduleManual:
	case ScheduleLater:
		at, err := ParseScheduleTime(in.ScheduledAt, s.location())
		if err != nil {
			return nil, err
		}
		c.Status = model.CampaignScheduled
		c.ScheduledAt = &at
	case ScheduleNow:
		at := s.now()
		c.Status = model.CampaignScheduled
		c.ScheduledAt = &at
	default:
		return nil, appErrors.NewValidation("schedule_option", "must be manual, later or now")
	}

	if err := s.CampaignRepo.Create(ctx, c); err != nil {
		return nil, err
	}
	log.Info().Int("campaign_id", c.ID).Int("user_id", c.UserID).Str("status", string(c.Status)).Msg("Campaign created")
	return c, nil
}

func (s *CampaignService) validateCreate(ctx context.Context, p auth.Principal, c *model.Campaign) error {
	if c.Name == "" {
		return appErrors.NewValidation("name", "is required")
	}
	if !c.MessageInterval.Valid() {
		return appErrors.NewValidation("message_interval", "must be slow, medium or fast")
	}
	if c.TemplateID == nil && strings.TrimSpace(c.CustomBody) == "" {
		return appErrors.NewValidation("template_id", "a template or a custom body is required")
	}

	switch c.ChannelType {
	case model.ChannelOfficialTemplate:
		if c.TemplateID == nil {
			return appErrors.NewValidation("template_id", "official template channel requires a template")
		}
	case model.ChannelSessionBridge:
		if c.ChannelInstanceRef == "" {
			return appErrors.NewValidation("channel_instance_ref", "session bridge channel requires an instance")
		}
		if err := s.checkInstance(ctx, c.ChannelInstanceRef); err != nil {
			return err
		}
	default:
		return appErrors.NewValidation("channel_type", "unknown channel "+string(c.ChannelType))
	}

	if c.AudienceID <= 0 {
		return appErrors.NewValidation("audience_id", "is required")
	}
	audience, err := s.AudienceRepo.GetByID(ctx, c.AudienceID)
	if err != nil {
		return err
	}
	if audience == nil || !p.CanRead(audience.UserID) {
		return appErrors.NewValidation("audience_id", "audience not found")
	}

	if c.TemplateID != nil {
		tpl, err := s.TemplateRepo.GetByID(ctx, *c.TemplateID)
		if err != nil {
			return err
		}
		if tpl == nil {
			return appErrors.NewValidation("template_id", "template not found")
		}
	}
	return nil
}

// checkInstance resolves a session instance ref to a reported Chatwoot inbox.
// A disconnected instance is accepted since it may reconnect before the send.
func (s *CampaignService) checkInstance(ctx context.Context, ref string) error {
	if s.InstanceRepo == nil {
		return nil
	}
	inboxID, err := strconv.Atoi(ref)
	if err != nil || inboxID <= 0 {
		return appErrors.NewValidation("channel_instance_ref", "must be a Chatwoot inbox id")
	}
	inst, err := s.InstanceRepo.GetByInboxID(ctx, inboxID)
	if err != nil {
		return err
	}
	if inst == nil {
		return appErrors.NewValidation("channel_instance_ref", "unknown sender instance "+ref)
	}
	if !inst.IsConnected() {
		log.Warn().Int("inbox_id", inboxID).Str("status", inst.Status).Msg("Campaign uses a disconnected sender instance")
	}
	return nil
}

var scheduleLayouts = []string{
	"2006-01-02T15:04:05",
	"2006-01-02T15:04",
	"2006-01-02 15:04:05",
	"2006-01-02 15:04",
}

// ParseScheduleTime reads a user supplied time. Values with an explicit
// offset are taken as is; others are wall-clock time in loc.
func ParseScheduleTime(raw string, loc *time.Location) (time.Time, error) {
	raw = strings.TrimSpace(raw)
	if raw == "" {
		return time.Time{}, appErrors.NewValidation("scheduled_at", "is required when scheduling for later")
	}
	if t, err := time.Parse(time.RFC3339, raw); err == nil {
		return t.UTC(), nil
	}
	for _, layout := range scheduleLayouts {
		if t, err := time.ParseInLocation(layout, raw, loc); err == nil {
			return t.UTC(), nil
		}
	}
	return time.Time{}, appErrors.NewValidation("scheduled_at", "unrecognized time "+raw)
}

// ====================== Read ======================

// ListCampaigns fetches campaigns with pagination
func (s *CampaignService) ListCampaigns(ctx context.Context, p auth.Principal, page, pageSize int, channel, status string) ([]model.Campaign, map[string]int, error) {
	if page < 1 {
		page = 1
	}
	if pageSize < 1 {
		pageSize = 20
	}
	if pageSize > 100 {
		pageSize = 100
	}
	offset := (page - 1) * pageSize

	ptrs, total, err := s.CampaignRepo.ListCampaigns(ctx, offset, pageSize, p.OwnerFilter(), channel, status)
	if err != nil {
		return nil, nil, err
	}

	campaigns := make([]model.Campaign, len(ptrs))
	for i, c := range ptrs {
		campaigns[i] = *c
	}

	totalPages := (total + pageSize - 1) / pageSize
	pagination := map[string]int{
		"page":        page,
		"page_size":   pageSize,
		"total_count": total,
		"total_pages": totalPages,
	}

	return campaigns, pagination, nil
}

// getOwned loads a campaign and hides it from callers who may not see it.
func (s *CampaignService) getOwned(ctx context.Context, p auth.Principal, id int) (*model.Campaign, error) {
	c, err := s.CampaignRepo.GetByID(ctx, id)
	if err != nil {
		return nil, err
	}
	if c == nil || !p.CanRead(c.UserID) {
		return nil, appErrors.NewCampaignNotFound(id)
	}
	return c, nil
}

// GetCampaignDetails fetches a campaign by ID with its template and audience.
func (s *CampaignService) GetCampaignDetails(ctx context.Context, p auth.Principal, id int) (*model.Campaign, error) {
	c, err := s.getOwned(ctx, p, id)
	if err != nil {
		return nil, err
	}
	if c.TemplateID != nil {
		if c.Template, err = s.TemplateRepo.GetByID(ctx, *c.TemplateID); err != nil {
			return nil, err
		}
	}
	if c.Audience, err = s.AudienceRepo.GetByID(ctx, c.AudienceID); err != nil {
		return nil, err
	}
	return c, nil
}

// Report builds the campaign header, cumulative stats and per-contact rows.
func (s *CampaignService) Report(ctx context.Context, p auth.Principal, id int) (*CampaignReport, error) {
	c, err := s.getOwned(ctx, p, id)
	if err != nil {
		return nil, err
	}
	audience, err := s.AudienceRepo.GetByID(ctx, c.AudienceID)
	if err != nil {
		return nil, err
	}
	counts, err := s.DeliveryRepo.CountByStatus(ctx, c.ID)
	if err != nil {
		return nil, err
	}
	rows, err := s.DeliveryRepo.ListByCampaign(ctx, c.ID)
	if err != nil {
		return nil, err
	}

	report := &CampaignReport{
		Campaign: ReportHeader{ID: c.ID, Name: c.Name, Status: c.Status, ScheduledAt: c.ScheduledAt},
		Stats:    Cumulative(counts),
		Contacts: make([]ReportContact, 0, len(rows)),
	}
	// Total is the audience size, not the number of attempts.
	report.Stats.Total = 0
	if audience != nil {
		report.Campaign.AudienceName = audience.Name
		report.Stats.Total = audience.ContactCount
	}
	for _, r := range rows {
		contact := model.Contact{ID: r.ContactID, Phone: r.Phone, Data: r.Data}
		report.Contacts = append(report.Contacts, ReportContact{
			Name:   contact.DisplayName(),
			Phone:  r.Phone,
			Status: r.Status,
		})
	}
	return report, nil
}

// RenderPreview personalizes the campaign content, or overrideTemplate when
// it is not blank, for one contact of the campaign's audience.
func (s *CampaignService) RenderPreview(ctx context.Context, p auth.Principal, campaignID, contactID int, overrideTemplate *string) (string, error) {
	campaign, err := s.getOwned(ctx, p, campaignID)
	if err != nil {
		return "", err
	}

	contact, err := s.ContactRepo.GetByID(ctx, contactID)
	if err != nil {
		return "", err
	}
	if contact == nil || contact.AudienceID != campaign.AudienceID {
		return "", appErrors.NewValidation("contact_id", "contact not found in campaign audience")
	}

	var template string
	if overrideTemplate != nil && strings.TrimSpace(*overrideTemplate) != "" {
		template = *overrideTemplate
	} else {
		if campaign.TemplateID != nil {
			if campaign.Template, err = s.TemplateRepo.GetByID(ctx, *campaign.TemplateID); err != nil {
				return "", err
			}
		}
		template = campaign.ContentBody()
	}

	if strings.TrimSpace(template) == "" {
		return "", appErrors.NewValidation("template", "cannot be empty")
	}

	return Render(template, campaign.VariableMapping, contact.Data), nil
}

// ====================== Mutations ======================

// SendNow queues a Draft or Scheduled campaign for the next scheduler poll.
func (s *CampaignService) SendNow(ctx context.Context, p auth.Principal, id int) (*model.Campaign, error) {
	c, err := s.getOwned(ctx, p, id)
	if err != nil {
		return nil, err
	}
	invalid := &appErrors.ErrInvalidTransition{CampaignID: id, From: string(c.Status), To: string(model.CampaignScheduled)}
	if c.Status != model.CampaignDraft && c.Status != model.CampaignScheduled {
		return nil, invalid
	}

	at := s.now()
	ok, err := s.CampaignRepo.ScheduleNow(ctx, id, at, sendableStatuses)
	if err != nil {
		return nil, err
	}
	if !ok {
		// Claimed by the scheduler between the read and the update.
		return nil, invalid
	}
	c.Status = model.CampaignScheduled
	c.ScheduledAt = &at
	s.notifier().CampaignStatusChanged(ctx, c.ID, c.Status)
	log.Info().Int("campaign_id", id).Msg("Campaign queued for immediate send")
	return c, nil
}

func (s *CampaignService) DeleteCampaign(ctx context.Context, p auth.Principal, id int) error {
	c, err := s.getOwned(ctx, p, id)
	if err != nil {
		return err
	}
	if c.Status == model.CampaignInProgress {
		return appErrors.ErrCampaignInFlight
	}
	if err := s.CampaignRepo.Delete(ctx, id); err != nil {
		return err
	}
	log.Info().Int("campaign_id", id).Msg("Campaign deleted")
	return nil
}
