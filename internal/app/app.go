// Package app wires the repositories, channels and scheduler shared by the
// server and worker binaries.
package app

import (
	"context"
	"fmt"

	"github.com/jmoiron/sqlx"
	"github.com/rs/zerolog/log"

	"github.com/unclebandit/wa-campaign-dispatch/internal/channel"
	"github.com/unclebandit/wa-campaign-dispatch/internal/config"
	"github.com/unclebandit/wa-campaign-dispatch/internal/model"
	"github.com/unclebandit/wa-campaign-dispatch/internal/notify"
	"github.com/unclebandit/wa-campaign-dispatch/internal/pacing"
	"github.com/unclebandit/wa-campaign-dispatch/internal/queue"
	"github.com/unclebandit/wa-campaign-dispatch/internal/repository"
	"github.com/unclebandit/wa-campaign-dispatch/internal/service"
)

type Repositories struct {
	Campaigns *repository.CampaignRepository
	Contacts  *repository.ContactRepository
	Audiences *repository.AudienceRepository
	Templates *repository.TemplateRepository
	Delivery  *repository.DeliveryRepository
	Instances *repository.SenderInstanceRepository
}

func NewRepositories(db *sqlx.DB) *Repositories {
	return &Repositories{
		Campaigns: &repository.CampaignRepository{DB: db},
		Contacts:  &repository.ContactRepository{DB: db},
		Audiences: &repository.AudienceRepository{DB: db},
		Templates: &repository.TemplateRepository{DB: db},
		Delivery:  &repository.DeliveryRepository{DB: db},
		Instances: &repository.SenderInstanceRepository{DB: db},
	}
}

// NewQueue dials RabbitMQ when an AMQP url is configured and falls back to
// the in-process queue otherwise.
func NewQueue(cfg *config.Config) (queue.Queue, error) {
	if cfg.AMQPURL == "" {
		log.Info().Msg("AMQP_URL not set, using in-memory queue")
		return queue.NewInMemoryQueue(), nil
	}
	q, err := queue.NewAMQPQueue(cfg.AMQPURL)
	if err != nil {
		return nil, fmt.Errorf("failed to connect to RabbitMQ: %w", err)
	}
	log.Info().Msg("Connected to RabbitMQ")
	return q, nil
}

func NewSessionBridge(cfg *config.Config) *channel.SessionBridge {
	return channel.NewSessionBridge(channel.BridgeConfig{
		BaseURL: cfg.BridgeBaseURL,
		Secret:  cfg.BridgeSecret,
		Timeout: cfg.HTTPTimeout,
	})
}

// NewChannels builds one sender per channel type around the given bridge.
func NewChannels(cfg *config.Config, bridge *channel.SessionBridge) channel.Registry {
	return channel.Registry{
		model.ChannelOfficialTemplate: channel.NewGupshup(channel.GupshupConfig{
			BaseURL:           cfg.GupshupBaseURL,
			APIKey:            cfg.GupshupAPIKey,
			AppName:           cfg.GupshupAppName,
			SourceNumber:      cfg.GupshupSourceNumber,
			Timeout:           cfg.HTTPTimeout,
			RequestsPerSecond: cfg.GupshupRPS,
		}),
		model.ChannelSessionBridge: bridge,
	}
}

func NewCampaignService(cfg *config.Config, repos *Repositories, n notify.Notifier) *service.CampaignService {
	return &service.CampaignService{
		CampaignRepo: repos.Campaigns,
		ContactRepo:  repos.Contacts,
		TemplateRepo: repos.Templates,
		AudienceRepo: repos.Audiences,
		DeliveryRepo: repos.Delivery,
		InstanceRepo: repos.Instances,
		Notifier:     n,
		Location:     cfg.Location(),
	}
}

// StartScheduler recovers interrupted campaigns when configured and starts
// the poll loop. Call Stop on the result during shutdown.
func StartScheduler(ctx context.Context, cfg *config.Config, store service.DispatchStore, channels service.ChannelResolver, ledger *service.Ledger, n notify.Notifier) (*service.Scheduler, error) {
	s := service.NewScheduler(store, channels, ledger, pacing.NewPacer(), n, cfg.SchedulerSpec)
	if cfg.RecoverOnStart {
		recovered, err := s.RecoverInterrupted(ctx)
		if err != nil {
			return nil, err
		}
		if recovered > 0 {
			log.Warn().Int("count", recovered).Msg("Recovered interrupted campaigns")
		}
	}
	if err := s.Start(ctx); err != nil {
		return nil, err
	}
	return s, nil
}
