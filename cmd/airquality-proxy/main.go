package main

import (
	"context"
	"os"
	"os/signal"
	"syscall"
	"time"

	"github.com/gofiber/fiber/v2"
	"github.com/gofiber/fiber/v2/middleware/logger"
	"github.com/gofiber/fiber/v2/middleware/recover"
	"github.com/gofiber/fiber/v2/middleware/requestid"
	"github.com/google/uuid"
	"github.com/rs/zerolog"
	"github.com/rs/zerolog/log"

	"github.com/i474232898/air-quality-proxy/internal/airquality"
	"github.com/i474232898/air-quality-proxy/internal/airquality/upstream"
	httpapi "github.com/i474232898/air-quality-proxy/internal/api/http"
	"github.com/i474232898/air-quality-proxy/internal/config"
	"github.com/i474232898/air-quality-proxy/internal/scheduler"
	"github.com/i474232898/air-quality-proxy/internal/store"
)

func main() {
	log.Logger = log.Output(zerolog.ConsoleWriter{Out: os.Stderr, TimeFormat: time.RFC3339})

	ctx, stop := signal.NotifyContext(context.Background(), syscall.SIGINT, syscall.SIGTERM)
	defer stop()

	// Load configuration.
	cfg, err := config.Load(ctx)
	if err != nil {
		log.Fatal().Err(err).Msg("failed to load config")
	}
	setupLogging(cfg)

	log.Info().
		Str("upstream", cfg.UpstreamBaseURL).
		Dur("cache_ttl", cfg.CacheTTL).
		Dur("worst_case_latency", cfg.WorstCaseLatency()).
		Msg("starting air quality proxy")

	// Upstream client with retries and circuit breaker.
	client := upstream.New(cfg.Upstream())

	// One cache per payload kind; readers always get deep copies.
	stations := store.NewMemoryStore[airquality.Station](cfg.CacheTTL,
		store.WithClone(airquality.Station.Clone))
	list := store.NewMemoryStore[[]airquality.StationSummary](cfg.CacheTTL,
		store.WithClone(airquality.CloneSummaries))

	service := airquality.NewService(client, stations, list)
	log.Debug().Dur("ttl", stations.TTL()).Msg("caches ready")

	// Background warmer for stale entries. A sweep may use its whole period,
	// but never less than one worst-case upstream fetch.
	sched := scheduler.New(cfg.WarmInterval, max(cfg.WarmInterval, cfg.WorstCaseLatency()), service)
	if err := sched.Start(); err != nil {
		log.Fatal().Err(err).Msg("failed to start scheduler")
	}
	defer sched.Stop()

	app := fiber.New(fiber.Config{
		AppName:               "air-quality-proxy",
		DisableStartupMessage: true,
		ReadTimeout:           10 * time.Second,
		WriteTimeout:          cfg.WorstCaseLatency() + 5*time.Second,
		ErrorHandler:          httpapi.ErrorHandler,
	})

	// Global middleware
	app.Use(requestid.New(requestid.Config{Generator: uuid.NewString}))
	app.Use(logger.New(logger.Config{
		Format: "${time} ${locals:requestid} ${status} - ${latency} ${method} ${path}\n",
	}))
	app.Use(recover.New())

	app.Get("/health", func(c *fiber.Ctx) error {
		return c.JSON(fiber.Map{
			"status":  "ok",
			"service": "air-quality-proxy",
		})
	})

	httpapi.RegisterRoutes(app, service)

	go func() {
		if err := app.Listen(":" + cfg.Port); err != nil {
			log.Error().Err(err).Msg("fiber server stopped")
		}
	}()
	log.Info().Str("port", cfg.Port).Msg("listening")

	<-ctx.Done()

	shutdownCtx, cancel := context.WithTimeout(context.Background(), 10*time.Second)
	defer cancel()

	if err := app.ShutdownWithContext(shutdownCtx); err != nil {
		log.Error().Err(err).Msg("error during shutdown")
	}
}

func setupLogging(cfg *config.AppConfig) {
	level, err := zerolog.ParseLevel(cfg.LogLevel)
	if err != nil {
		level = zerolog.InfoLevel
	}
	zerolog.SetGlobalLevel(level)

	if cfg.LogFormat == "json" {
		zerolog.TimeFieldFormat = zerolog.TimeFormatUnix
		log.Logger = zerolog.New(os.Stderr).With().Timestamp().Logger()
	}
}
