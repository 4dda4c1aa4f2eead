package config

import (
	"context"
	"fmt"
	"time"

	"github.com/go-playground/validator/v10"
	"github.com/joho/godotenv"
	"github.com/rs/zerolog/log"
	"github.com/sethvargo/go-envconfig"

	"github.com/i474232898/air-quality-proxy/internal/airquality/upstream"
)

var validate = validator.New()

type AppConfig struct {
	Port string `env:"PORT,default=8080" validate:"required,numeric"`

	UpstreamBaseURL    string        `env:"UPSTREAM_BASE_URL,default=https://api.zeroc.green/v1" validate:"required,url"`
	UpstreamTimeout    time.Duration `env:"UPSTREAM_TIMEOUT,default=20s" validate:"gt=0"`
	UpstreamMaxRetries int           `env:"UPSTREAM_MAX_RETRIES,default=2" validate:"gte=0,lte=10"`

	// Delay before retry k is BackoffBase * BackoffMultiplier^k, stretched by
	// up to BackoffJitter and capped at BackoffMax.
	BackoffBase       time.Duration `env:"UPSTREAM_BACKOFF_BASE,default=500ms" validate:"gt=0"`
	BackoffMultiplier float64       `env:"UPSTREAM_BACKOFF_MULTIPLIER,default=2" validate:"gt=1"`
	BackoffMax        time.Duration `env:"UPSTREAM_BACKOFF_MAX,default=5s" validate:"gtefield=BackoffBase"`
	BackoffJitter     float64       `env:"UPSTREAM_BACKOFF_JITTER,default=0.2" validate:"gte=0,lt=1"`

	BreakerMaxFailures uint32        `env:"BREAKER_MAX_FAILURES,default=5"`
	BreakerOpenTimeout time.Duration `env:"BREAKER_OPEN_TIMEOUT,default=30s" validate:"gt=0"`

	CacheTTL time.Duration `env:"CACHE_TTL,default=5m" validate:"gt=0"`

	// WarmInterval controls how often stale entries are refreshed in the
	// background (0 = disabled).
	WarmInterval time.Duration `env:"WARM_INTERVAL,default=0s" validate:"gte=0"`

	LogLevel  string `env:"LOG_LEVEL,default=info" validate:"oneof=trace debug info warn error"`
	LogFormat string `env:"LOG_FORMAT,default=console" validate:"oneof=console json"`
}

// Load reads configuration from the environment (and a .env file if present)
// with sensible defaults.
func Load(ctx context.Context) (*AppConfig, error) {
	if err := godotenv.Load(); err != nil {
		log.Info().Err(err).Msg("config: no .env file loaded")
	}
	return load(ctx, envconfig.OsLookuper())
}

func load(ctx context.Context, lookuper envconfig.Lookuper) (*AppConfig, error) {
	var cfg AppConfig
	if err := envconfig.ProcessWith(ctx, &envconfig.Config{
		Target:   &cfg,
		Lookuper: lookuper,
	}); err != nil {
		return nil, fmt.Errorf("failed to process config: %w", err)
	}

	if err := validate.Struct(cfg); err != nil {
		return nil, fmt.Errorf("invalid config: %w", err)
	}

	// Delays only strictly increase if the jitter cannot bridge one step.
	if cfg.BackoffMultiplier <= 1+cfg.BackoffJitter {
		return nil, fmt.Errorf("invalid config: UPSTREAM_BACKOFF_MULTIPLIER (%g) must exceed 1 + UPSTREAM_BACKOFF_JITTER (%g)",
			cfg.BackoffMultiplier, cfg.BackoffJitter)
	}

	return &cfg, nil
}

// Upstream returns the upstream client settings.
func (c *AppConfig) Upstream() upstream.Config {
	return upstream.Config{
		BaseURL: c.UpstreamBaseURL,
		Timeout: c.UpstreamTimeout,
		Backoff: upstream.BackoffConfig{
			MaxRetries: c.UpstreamMaxRetries,
			BaseDelay:  c.BackoffBase,
			Multiplier: c.BackoffMultiplier,
			MaxDelay:   c.BackoffMax,
			Jitter:     c.BackoffJitter,
		},
		BreakerMaxFailures: c.BreakerMaxFailures,
		BreakerOpenTimeout: c.BreakerOpenTimeout,
	}
}

// WorstCaseLatency is the longest a request can wait on the upstream.
func (c *AppConfig) WorstCaseLatency() time.Duration {
	return c.Upstream().WorstCaseLatency()
}
