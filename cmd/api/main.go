package main

import (
	"context"
	"errors"
	"log/slog"
	"net/http"
	"os"
	"os/signal"
	"syscall"
	"time"

	"voice-crm/internal/audit"
	"voice-crm/internal/auth"
	"voice-crm/internal/calls"
	"voice-crm/internal/config"
	"voice-crm/internal/crm"
	"voice-crm/internal/dispatch"
	"voice-crm/internal/httpapi"
	"voice-crm/internal/meetings"
	"voice-crm/internal/messaging"
	"voice-crm/internal/reassign"
	"voice-crm/internal/reconcile"
	"voice-crm/internal/resilient"
	"voice-crm/internal/telephony"
	"voice-crm/pkg/logger"
	"voice-crm/pkg/utils"

	"github.com/gin-gonic/gin"
	"golang.org/x/time/rate"
)

func main() {
	// Root context that cancels on shutdown
	rootCtx, stop := signal.NotifyContext(context.Background(), syscall.SIGINT, syscall.SIGTERM)
	defer stop()

	cfg, err := config.Load()
	if err != nil {
		slog.Error("config load failed", "err", err)
		os.Exit(1)
	}

	log := logger.New(cfg.App.Env)
	slog.SetDefault(log)

	if cfg.IsProduction() {
		gin.SetMode(gin.ReleaseMode)
	}

	authManager, err := auth.NewManager(cfg.Auth)
	if err != nil {
		log.Error("auth init failed", "err", err)
		os.Exit(1)
	}

	db, err := utils.OpenPostgres(rootCtx, cfg.PostgresDSN(), utils.PostgresPoolConfig{MaxOpenConns: cfg.DB.MaxOpenConns})
	if err != nil {
		log.Error("postgres init failed", "err", err)
		os.Exit(1)
	}
	defer db.Close()

	// Redis only collapses concurrent sweeps; without it every finalization may sweep.
	var sweepGate reconcile.SweepGate
	if addr := cfg.RedisAddr(); addr != "" {
		rdb, err := utils.OpenRedis(rootCtx, utils.RedisConfig{Addr: addr, Password: cfg.Redis.Password, DB: cfg.Redis.DB})
		if err != nil {
			log.Error("redis init failed", "err", err)
			os.Exit(1)
		}
		defer rdb.Close()
		sweepGate = reconcile.NewRedisSweepGate(rdb)
	} else {
		log.Warn("redis not configured; stale sweeps run without a lock")
	}

	caller := resilient.New(resilient.WithLogger(log))

	callRepo := calls.NewPostgresRepo(db)
	crmRepo := crm.NewPostgresRepo(db)
	auditSvc := audit.NewService(audit.NewPostgresRepo(db))

	msgDefaults := messaging.Defaults{
		APIKey:             cfg.Messaging.APIKey,
		GroupLinkTemplate:  cfg.Messaging.GroupLinkTemplate,
		RescheduleTemplate: cfg.Messaging.RescheduleTemplate,
		SupportNumber:      cfg.Messaging.SupportNumber,
		RescheduleMediaURL: cfg.Messaging.RescheduleMediaURL,
	}
	sender := messaging.NewHTTPSender(caller, cfg.Messaging.Endpoint, cfg.Phone.DefaultRegion)

	deps := routeDeps{
		auth: authManager,
		handlers: httpapi.Handlers{
			DB: db,
			Campaigns: dispatch.NewService(
				callRepo,
				crmRepo,
				telephony.NewHTTPCallCenter(caller, cfg.CallCenter.BaseURL),
				auditSvc,
				cfg.Phone.DefaultRegion,
			),
			Reassign: reassign.NewService(
				crmRepo,
				meetings.NewFactory(caller, meetings.Config{
					ZoomOAuthURL:    cfg.Zoom.OAuthURL,
					ZoomAPIBaseURL:  cfg.Zoom.APIBaseURL,
					CalendlyBaseURL: cfg.Calendly.BaseURL,
					PhoneRegion:     cfg.Phone.DefaultRegion,
				}),
				sender,
				msgDefaults,
				auditSvc,
			),
		},
		webhook: telephony.VoiceWebhookHandler{
			Reconciler: reconcile.NewService(callRepo, crmRepo, sender, reconcile.Options{
				Messaging: msgDefaults,
				Gate:      sweepGate,
				Region:    cfg.Phone.DefaultRegion,
			}),
			Secret: cfg.Webhook.Secret,
		},
		webhookLimiter: httpapi.NewIPRateLimiter(rate.Limit(cfg.Webhook.RatePerSecond), cfg.Webhook.Burst),
	}

	// Gin router
	r := gin.New()
	r.Use(gin.Recovery())
	r.Use(logger.Middleware(log))
	registerRoutes(r, deps)

	srv := &http.Server{
		Addr:              cfg.HTTPAddr(),
		Handler:           r,
		ReadHeaderTimeout: cfg.ReadHeaderTimeout(),
		ReadTimeout:       15 * time.Second,
		WriteTimeout:      60 * time.Second,
		IdleTimeout:       60 * time.Second,
	}

	go func() {
		log.Info("api listening", "addr", srv.Addr, "env", cfg.App.Env)
		if err := srv.ListenAndServe(); err != nil && !errors.Is(err, http.ErrServerClosed) {
			log.Error("http server failed", "err", err)
			stop()
		}
	}()

	<-rootCtx.Done()
	log.Info("shutdown initiated")

	shutdownCtx, cancel := context.WithTimeout(context.Background(), 20*time.Second)
	defer cancel()

	if err := srv.Shutdown(shutdownCtx); err != nil {
		log.Error("http shutdown failed", "err", err)
	}
}
