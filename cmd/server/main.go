package main

import (
	"context"
	"errors"
	"net/http"
	"os"
	"os/signal"
	"syscall"
	"time"

	webAdapter "client-portal/internal/adapters/web"
	"client-portal/internal/app"
	"client-portal/internal/config"
	"client-portal/internal/db"
	"client-portal/internal/logger"

	"github.com/joho/godotenv"
	"github.com/rs/zerolog/log"
)

func main() {
	_ = godotenv.Load()

	if err := logger.Setup(logger.DefaultConfig()); err != nil {
		log.Fatal().Err(err).Msg("logger")
	}

	cfg, err := config.Load()
	if err != nil {
		log.Fatal().Err(err).Msg("config")
	}
	if err := logger.Setup(cfg.GetLoggerConfig()); err != nil {
		log.Fatal().Err(err).Msg("logger")
	}

	ctx, stop := signal.NotifyContext(context.Background(), os.Interrupt, syscall.SIGTERM)
	defer stop()

	pool, err := db.NewPool(ctx, cfg.DatabaseURL)
	if err != nil {
		log.Fatal().Err(err).Msg("database")
	}
	defer pool.Close()

	if applied, err := db.Migrate(ctx, pool); err != nil {
		log.Fatal().Err(err).Msg("migrations")
	} else if len(applied) > 0 {
		log.Info().Strs("migrations", applied).Msg("migrations applied")
	}

	if !cfg.WebhookVerificationEnabled() {
		log.Warn().Msg("STRIPE_WEBHOOK_SECRET not set, webhook signatures are NOT verified")
	}

	svc, err := app.Wire(cfg, pool, logger.WithComponent("app"))
	if err != nil {
		log.Fatal().Err(err).Msg("wiring")
	}

	sweeper, err := app.StartOverdueSweep(ctx, cfg.OverdueSweepSpec, svc, logger.WithComponent("scheduler"))
	if err != nil {
		log.Fatal().Err(err).Msg("overdue sweep")
	}

	handler := webAdapter.NewHandler(svc, cfg.AllowedOrigins, cfg.JWTSecret, logger.WithComponent("http"))
	srv := &http.Server{
		Addr:              ":" + cfg.ServerPort,
		Handler:           handler,
		ReadHeaderTimeout: 10 * time.Second,
		ReadTimeout:       30 * time.Second,
		WriteTimeout:      60 * time.Second,
		IdleTimeout:       120 * time.Second,
	}

	go func() {
		log.Info().Str("addr", srv.Addr).Msg("server starting")
		if err := srv.ListenAndServe(); err != nil && !errors.Is(err, http.ErrServerClosed) {
			log.Fatal().Err(err).Msg("server")
		}
	}()

	<-ctx.Done()
	log.Info().Msg("shutting down")

	shutdownCtx, cancel := context.WithTimeout(context.Background(), 30*time.Second)
	defer cancel()
	if err := srv.Shutdown(shutdownCtx); err != nil {
		log.Error().Err(err).Msg("http shutdown")
	}
	<-sweeper.Stop().Done()
}
