// cmd/server/main.go
package main

import (
	"context"
	"errors"
	"net/http"
	"os"
	"os/signal"
	"syscall"
	"time"

	"github.com/go-chi/chi/v5"
	"github.com/go-chi/chi/v5/middleware"
	"github.com/rs/zerolog/log"

	"github.com/unclebandit/wa-campaign-dispatch/internal/app"
	"github.com/unclebandit/wa-campaign-dispatch/internal/auth"
	"github.com/unclebandit/wa-campaign-dispatch/internal/config"
	"github.com/unclebandit/wa-campaign-dispatch/internal/controller"
	"github.com/unclebandit/wa-campaign-dispatch/internal/db"
	"github.com/unclebandit/wa-campaign-dispatch/internal/handler"
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
	if cfg.AutoMigrate {
		if err := db.Migrate(ctx, conn); err != nil {
			log.Fatal().Err(err).Msg("Migration failed")
		}
	}

	q, err := app.NewQueue(cfg)
	if err != nil {
		log.Fatal().Err(err).Msg("Queue unavailable")
	}
	defer q.Close()

	hub := notify.NewHub(cfg.WSAllowedOrigins...)
	if err := hub.Attach(q, cfg.NotifyTopic); err != nil {
		log.Fatal().Err(err).Msg("Failed to attach websocket hub")
	}
	notifier := notify.NewQueueNotifier(q, cfg.NotifyTopic)

	repos := app.NewRepositories(conn)
	ledger := service.NewLedger(repos.Delivery, notifier)
	campaignService := app.NewCampaignService(cfg, repos, notifier)

	bridge := app.NewSessionBridge(cfg)

	var scheduler *service.Scheduler
	if cfg.RunScheduler {
		scheduler, err = app.StartScheduler(ctx, cfg, repos.Campaigns, app.NewChannels(cfg, bridge), ledger, notifier)
		if err != nil {
			log.Fatal().Err(err).Msg("Failed to start scheduler")
		}
	}

	campaignController := &controller.CampaignController{CampaignService: campaignService}
	webhookHandler := handler.NewWebhookHandler(ledger, cfg.WebhookDebug)
	instanceHandler := &handler.InstanceHandler{
		Instances: repos.Instances,
		Contacts:  repos.Contacts,
		Bridge:    bridge,
	}
	serviceKey := auth.RequireServiceKey(cfg.ServiceAPIKey)

	r := chi.NewRouter()
	r.Use(middleware.RequestID)
	r.Use(middleware.RealIP)
	r.Use(middleware.Recoverer)

	r.Get("/healthz", func(w http.ResponseWriter, r *http.Request) {
		if err := conn.PingContext(r.Context()); err != nil {
			http.Error(w, "database unavailable", http.StatusServiceUnavailable)
			return
		}
		w.Write([]byte("ok"))
	})
	r.Handle("/ws", hub)

	r.Route("/api", func(r chi.Router) {
		r.Use(middleware.Timeout(cfg.HTTPTimeout))

		// Campaign routes
		r.With(auth.Middleware).Route("/campaigns", campaignController.Routes)

		// Provider and bridge callbacks
		r.Post("/webhooks/gupshup-status", webhookHandler.GupshupStatus)
		r.With(serviceKey).Post("/webhooks/contact-reply", webhookHandler.ContactReply)

		// Session bridge support
		r.With(serviceKey).Post("/instances/status", instanceHandler.ReportStatus)
		r.With(serviceKey).Get("/contacts/by-phone/{phone}", instanceHandler.ContactByPhone)
		r.With(auth.Middleware).Get("/senders/baileys-online", instanceHandler.OnlineSenders)
	})

	srv := &http.Server{
		Addr:              ":" + cfg.Port,
		Handler:           r,
		ReadHeaderTimeout: 10 * time.Second,
	}

	go func() {
		log.Info().Str("addr", srv.Addr).Msg("Server running")
		if err := srv.ListenAndServe(); err != nil && !errors.Is(err, http.ErrServerClosed) {
			log.Fatal().Err(err).Msg("Server failed")
		}
	}()

	<-ctx.Done()
	log.Info().Msg("Shutting down")

	shutdownCtx, cancel := context.WithTimeout(context.Background(), 15*time.Second)
	defer cancel()
	if err := srv.Shutdown(shutdownCtx); err != nil {
		log.Error().Err(err).Msg("HTTP shutdown incomplete")
	}
	if scheduler != nil {
		scheduler.Stop()
	}
}
