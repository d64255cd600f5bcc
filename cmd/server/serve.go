package main

import (
	"context"
	"errors"
	"net/http"
	"os/signal"
	"syscall"
	"time"

	"github.com/go-chi/chi/v5"
	chimw "github.com/go-chi/chi/v5/middleware"
	"github.com/prometheus/client_golang/prometheus/promhttp"
	"github.com/spf13/cobra"

	"github.com/web3-frozen/onchain-alerts/internal/dedup"
	"github.com/web3-frozen/onchain-alerts/internal/handler"
	"github.com/web3-frozen/onchain-alerts/internal/middleware"
	"github.com/web3-frozen/onchain-alerts/internal/monitor"
	"github.com/web3-frozen/onchain-alerts/internal/session"
	"github.com/web3-frozen/onchain-alerts/internal/telegram"
)

func serveCmd() *cobra.Command {
	return &cobra.Command{
		Use:   "serve",
		Short: "Run the bot, the alert scheduler and the HTTP API",
		RunE: func(cmd *cobra.Command, _ []string) error {
			ctx, stop := signal.NotifyContext(cmd.Context(), syscall.SIGINT, syscall.SIGTERM)
			defer stop()
			return serve(ctx)
		},
	}
}

func serve(ctx context.Context) error {
	cfg, logger, err := setup(ctx)
	if err != nil {
		return err
	}
	if err := cfg.RequireBot(); err != nil {
		return err
	}

	// Database
	db, err := openStore(ctx, cfg)
	if err != nil {
		return err
	}
	defer db.Close()
	logger.Info("database connected and migrated")

	// Redis: delivery ledger and dialog sessions
	rdb, err := connectRedis(cfg, logger)
	if err != nil {
		return err
	}
	defer rdb.Close()
	ledger := dedup.New(rdb, logger)
	sessions := session.New(rdb, cfg.SessionTTL)
	logger.Info("redis connected")

	data := newAnalytics(cfg)

	// Telegram bot
	api, err := telegram.NewAPI(cfg.TelegramToken)
	if err != nil {
		return err
	}
	bot := telegram.NewBot(api, db, data, sessions, logger).WithLedger(ledger)

	// Alert scheduler
	notifier := monitor.NewNotifier(bot, logger)
	scheduler := monitor.NewScheduler(db, data, notifier, logger, monitor.WithLedger(ledger))

	go bot.Run(ctx)
	scheduler.Start(cfg.AlertInterval)

	// HTTP routes
	r := chi.NewRouter()
	r.Use(chimw.RequestID)
	r.Use(middleware.Recover(logger))
	r.Use(middleware.Logger(logger))
	r.Use(middleware.Metrics())
	r.Use(middleware.CORS(cfg.FrontendOrigin))

	r.Handle("/metrics", promhttp.Handler())
	r.Get("/healthz", handler.Health())
	r.Get("/readyz", handler.Ready(db))

	r.Route("/api", func(r chi.Router) {
		r.Get("/alerts", handler.ListAlerts(db))
		r.Post("/alerts", handler.CreateAlert(db))
		r.Delete("/alerts/{id}", handler.DeleteAlert(db, ledger))
		r.Put("/alerts/{id}/enabled", handler.SetAlertEnabled(db, ledger))
		r.Get("/wallets", handler.ListWallets(db))
		r.Post("/wallets", handler.AddWallet(db))
		r.Get("/stats", handler.Stats(db))
		r.Get("/scheduler", handler.SchedulerStatus(scheduler))
		r.Post("/scheduler/run", handler.RunScheduler(scheduler))
	})

	srv := &http.Server{
		Addr:         ":" + cfg.Port,
		Handler:      r,
		ReadTimeout:  15 * time.Second,
		WriteTimeout: 2 * time.Minute,
		IdleTimeout:  60 * time.Second,
	}

	errc := make(chan error, 1)
	go func() {
		logger.Info("server starting", "port", cfg.Port)
		if err := srv.ListenAndServe(); err != nil && !errors.Is(err, http.ErrServerClosed) {
			errc <- err
		}
	}()

	select {
	case <-ctx.Done():
	case err = <-errc:
		logger.Error("server failed", "error", err)
	}

	logger.Info("shutting down gracefully")
	scheduler.Stop()
	shutdownCtx, cancel := context.WithTimeout(context.Background(), 30*time.Second)
	defer cancel()
	_ = srv.Shutdown(shutdownCtx)
	return err
}
