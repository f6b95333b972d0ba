// cmd/worker runs the campaign scheduler without the HTTP API.
package main

import (
	"context"
	"os"
	"os/signal"
	"syscall"

	"github.com/rs/zerolog/log"

	"github.com/unclebandit/wa-campaign-dispatch/internal/app"
	"github.com/unclebandit/wa-campaign-dispatch/internal/config"
	"github.com/unclebandit/wa-campaign-dispatch/internal/db"
	"github.com/unclebandit/wa-campaign-dispatch/internal/logger"
	"github.com/unclebandit/wa-campaign-dispatch/internal/notify"
	"github.com/unclebandit/wa-campaign-dispatch/internal/service"
)

func main() {
	cfg, err := config.Load()
	if err != nil {
		log.Fatal().Err(err).Msg("Invalid configuration")
	}
	logger.Init(cfg.LogLevel, cfg.LogFormat)

	ctx, stop := signal.NotifyContext(context.Background(), os.Interrupt, syscall.SIGTERM)
	defer stop()

	conn, err := db.Open(ctx, cfg.DatabaseURL)
	if err != nil {
		log.Fatal().Err(err).Msg("Database unavailable")
	}
	defer conn.Close()

	// Without a broker nobody could receive the events, so they are dropped.
	var notifier notify.Notifier = notify.Nop{}
	if cfg.AMQPURL != "" {
		q, err := app.NewQueue(cfg)
		if err != nil {
			log.Fatal().Err(err).Msg("Queue unavailable")
		}
		defer q.Close()
		notifier = notify.NewQueueNotifier(q, cfg.NotifyTopic)
	}

	repos := app.NewRepositories(conn)
	ledger := service.NewLedger(repos.Delivery, notifier)

	scheduler, err := app.StartScheduler(ctx, cfg, repos.Campaigns, app.NewChannels(cfg, app.NewSessionBridge(cfg)), ledger, notifier)
	if err != nil {
		log.Fatal().Err(err).Msg("Failed to start scheduler")
	}

	log.Info().Msg("Worker running, waiting for due campaigns...")
	<-ctx.Done()
	scheduler.Stop()
}
