package service

import (
	"context"
	"errors"
	"fmt"
	"runtime/debug"
	"sync"
	"time"

	"github.com/robfig/cron/v3"
	"github.com/rs/zerolog"
	"github.com/rs/zerolog/log"

	"github.com/unclebandit/wa-campaign-dispatch/internal/channel"
	appErrors "github.com/unclebandit/wa-campaign-dispatch/internal/errors"
	"github.com/unclebandit/wa-campaign-dispatch/internal/logger"
	"github.com/unclebandit/wa-campaign-dispatch/internal/model"
	"github.com/unclebandit/wa-campaign-dispatch/internal/notify"
	"github.com/unclebandit/wa-campaign-dispatch/internal/pacing"
)

const (
	DefaultSchedulerSpec = "@every 1m"
	finishTimeout        = 10 * time.Second
)

// DispatchStore is the subset of the campaign repository the scheduler needs.
type DispatchStore interface {
	FindDue(ctx context.Context, now time.Time) ([]*model.Campaign, error)
	ListByStatus(ctx context.Context, status model.CampaignStatus) ([]*model.Campaign, error)
	TransitionStatus(ctx context.Context, id int, from []model.CampaignStatus, to model.CampaignStatus) (bool, error)
}

type ChannelResolver interface {
	Resolve(t model.ChannelType) (channel.Channel, error)
}

type DeliveryRecorder interface {
	RecordSubmission(ctx context.Context, campaignID, contactID int, providerMessageID string) (*model.DeliveryRecord, error)
	RecordFailure(ctx context.Context, campaignID, contactID int, reason string) (*model.DeliveryRecord, error)
}

type PacingPolicy interface {
	DelayFor(interval model.MessageInterval) time.Duration
}

// Scheduler polls for due campaigns and dispatches them one at a time.
type Scheduler struct {
	Store    DispatchStore
	Channels ChannelResolver
	Ledger   DeliveryRecorder
	Pacer    PacingPolicy
	Notifier notify.Notifier
	Spec     string
	Now      func() time.Time
	Sleep    func(ctx context.Context, d time.Duration) error

	mu     sync.Mutex
	cron   *cron.Cron
	cancel context.CancelFunc
}

func NewScheduler(store DispatchStore, channels ChannelResolver, ledger DeliveryRecorder, pacer PacingPolicy, n notify.Notifier, spec string) *Scheduler {
	if spec == "" {
		spec = DefaultSchedulerSpec
	}
	if n == nil {
		n = notify.Nop{}
	}
	if pacer == nil {
		pacer = pacing.NewPacer()
	}
	return &Scheduler{
		Store:    store,
		Channels: channels,
		Ledger:   ledger,
		Pacer:    pacer,
		Notifier: n,
		Spec:     spec,
		Now:      time.Now,
		Sleep:    pacing.Sleep,
	}
}

// Start registers the poll job and starts the cron runner. Ticks never
// overlap: a tick still running when the next one fires is skipped.
func (s *Scheduler) Start(ctx context.Context) error {
	s.mu.Lock()
	defer s.mu.Unlock()

	if s.cron != nil {
		return errors.New("scheduler already started")
	}

	runCtx, cancel := context.WithCancel(ctx)
	cl := logger.CronLogger{}
	c := cron.New(
		cron.WithLocation(time.UTC),
		cron.WithLogger(cl),
		cron.WithChain(cron.Recover(cl), cron.SkipIfStillRunning(cl)),
	)
	if _, err := c.AddFunc(s.Spec, func() { s.Tick(runCtx) }); err != nil {
		cancel()
		return fmt.Errorf("invalid scheduler spec %q: %w", s.Spec, err)
	}
	c.Start()
	s.cron = c
	s.cancel = cancel

	log.Info().Str("spec", s.Spec).Msg("Campaign scheduler started")
	return nil
}

// Stop cancels the running tick and waits for it to finish. A campaign
// interrupted mid-run still gets its terminal status.
func (s *Scheduler) Stop() {
	s.mu.Lock()
	defer s.mu.Unlock()

	if s.cron == nil {
		return
	}
	s.cancel()
	<-s.cron.Stop().Done()
	s.cron = nil
	s.cancel = nil
	log.Info().Msg("Campaign scheduler stopped")
}

// Tick runs every due campaign sequentially and returns how many were run.
func (s *Scheduler) Tick(ctx context.Context) int {
	now := s.Now().UTC()
	campaigns, err := s.Store.FindDue(ctx, now)
	if err != nil {
		log.Error().Err(err).Msg("Failed to load due campaigns")
		return 0
	}
	if len(campaigns) == 0 {
		return 0
	}
	log.Info().Int("count", len(campaigns)).Time("now", now).Msg("Found due campaigns")

	ran := 0
	for _, c := range campaigns {
		if ctx.Err() != nil {
			break
		}
		if status := s.RunCampaign(ctx, c); status != "" {
			ran++
		}
	}
	return ran
}

// RunCampaign claims and dispatches one campaign. It returns the terminal
// status written, or "" when the campaign could not be claimed.
func (s *Scheduler) RunCampaign(ctx context.Context, c *model.Campaign) (final model.CampaignStatus) {
	l := log.With().Int("campaign_id", c.ID).Str("channel", string(c.ChannelType.Normalize())).Logger()

	claimed, err := s.Store.TransitionStatus(ctx, c.ID, []model.CampaignStatus{model.CampaignScheduled}, model.CampaignInProgress)
	if err != nil {
		l.Error().Err(err).Msg("Failed to claim campaign")
		return ""
	}
	if !claimed {
		l.Info().Msg("Campaign already claimed, skipping")
		return ""
	}
	c.Status = model.CampaignInProgress
	s.Notifier.CampaignStatusChanged(ctx, c.ID, model.CampaignInProgress)
	l.Info().Str("name", c.Name).Int("contacts", len(c.Contacts)).Msg("Campaign started")

	final = model.CampaignError
	defer func() {
		if r := recover(); r != nil {
			l.Error().Interface("panic", r).Bytes("stack", debug.Stack()).Msg("Campaign run panicked")
			final = model.CampaignError
		}
		s.finish(ctx, c, final, l)
	}()

	sent, err := s.dispatch(ctx, c, l)
	if err != nil {
		var verr *appErrors.ValidationError
		if errors.As(err, &verr) {
			l.Warn().Err(err).Msg("Campaign cannot be dispatched")
		} else {
			l.Error().Err(err).Int("sent", sent).Msg("Campaign run aborted")
		}
		return model.CampaignError
	}
	l.Info().Int("sent", sent).Msg("Campaign completed")
	return model.CampaignCompleted
}

func (s *Scheduler) dispatch(ctx context.Context, c *model.Campaign, l zerolog.Logger) (int, error) {
	ch, err := s.Channels.Resolve(c.ChannelType)
	if err != nil {
		return 0, appErrors.NewValidation("channel_type", err.Error())
	}
	if !c.HasContent() {
		return 0, appErrors.NewValidation("content", "campaign has neither a template nor a custom body")
	}
	if len(c.Contacts) == 0 {
		return 0, appErrors.NewValidation("audience", "audience has no contacts")
	}
	if err := ch.Validate(c); err != nil {
		return 0, err
	}

	body := c.ContentBody()
	var templateID string
	var variables []string
	if c.Template != nil {
		templateID = c.Template.ProviderTemplateID
		variables = c.Template.Variables
		if len(variables) == 0 {
			variables = ExtractVariables(c.Template.Body)
		}
	}

	sent := 0
	for i, contact := range c.Contacts {
		if err := ctx.Err(); err != nil {
			return sent, fmt.Errorf("interrupted before contact %d: %w", contact.ID, err)
		}

		content := channel.Content{
			Text:       Render(body, c.VariableMapping, contact.Data),
			TemplateID: templateID,
			Params:     TemplateParams(variables, c.VariableMapping, contact.Data),
		}
		dst := channel.Destination{Phone: contact.Phone, InstanceRef: c.ChannelInstanceRef}

		out := ch.Send(ctx, dst, content)
		if !out.Success {
			if _, err := s.Ledger.RecordFailure(ctx, c.ID, contact.ID, out.Error); err != nil {
				l.Error().Err(err).Int("contact_id", contact.ID).Msg("Failed to record failed send")
			}
			return sent, &appErrors.ChannelError{ContactID: contact.ID, Reason: out.Error}
		}
		sent++

		if _, err := s.Ledger.RecordSubmission(ctx, c.ID, contact.ID, out.ProviderMessageID); err != nil {
			l.Error().Err(err).Int("contact_id", contact.ID).Msg("Failed to record submission")
		}
		l.Debug().Int("contact_id", contact.ID).Str("provider_message_id", out.ProviderMessageID).Msg("Message sent")

		if i < len(c.Contacts)-1 {
			if err := s.Sleep(ctx, s.Pacer.DelayFor(c.MessageInterval)); err != nil {
				return sent, fmt.Errorf("pacing interrupted after contact %d: %w", contact.ID, err)
			}
		}
	}
	return sent, nil
}

// finish writes the terminal status. On shutdown the run context is already
// cancelled, so the write gets its own bounded context.
func (s *Scheduler) finish(ctx context.Context, c *model.Campaign, status model.CampaignStatus, l zerolog.Logger) {
	wctx := ctx
	if ctx.Err() != nil {
		var cancel context.CancelFunc
		wctx, cancel = context.WithTimeout(context.WithoutCancel(ctx), finishTimeout)
		defer cancel()
	}

	ok, err := s.Store.TransitionStatus(wctx, c.ID, []model.CampaignStatus{model.CampaignInProgress}, status)
	if err != nil {
		l.Error().Err(err).Str("status", string(status)).Msg("Failed to write terminal status")
		return
	}
	if !ok {
		l.Warn().Str("status", string(status)).Msg("Campaign left In Progress by another writer")
		return
	}
	c.Status = status
	s.Notifier.CampaignStatusChanged(wctx, c.ID, status)
}

// RecoverInterrupted moves campaigns left In Progress by a previous process
// to Error. Only one scheduler instance may run.
func (s *Scheduler) RecoverInterrupted(ctx context.Context) (int, error) {
	stuck, err := s.Store.ListByStatus(ctx, model.CampaignInProgress)
	if err != nil {
		return 0, fmt.Errorf("list in-progress campaigns: %w", err)
	}
	recovered := 0
	for _, c := range stuck {
		ok, err := s.Store.TransitionStatus(ctx, c.ID, []model.CampaignStatus{model.CampaignInProgress}, model.CampaignError)
		if err != nil {
			return recovered, fmt.Errorf("recover campaign %d: %w", c.ID, err)
		}
		if ok {
			recovered++
			log.Warn().Int("campaign_id", c.ID).Msg("Interrupted campaign marked as Error")
			s.Notifier.CampaignStatusChanged(ctx, c.ID, model.CampaignError)
		}
	}
	return recovered, nil
}
