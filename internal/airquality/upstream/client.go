package upstream

import (
	"context"
	"errors"
	"fmt"
	"math"
	"math/rand/v2"
	"net/http"
	"time"
	"unicode/utf8"

	"github.com/go-resty/resty/v2"
	"github.com/rs/zerolog/log"
	"github.com/sony/gobreaker"

	"github.com/i474232898/air-quality-proxy/internal/airquality"
)

// maxErrorBody bounds how much of a 4xx body is kept in errors.
const maxErrorBody = 512

// BackoffConfig controls exponential backoff behaviour.
type BackoffConfig struct {
	MaxRetries int
	BaseDelay  time.Duration
	Multiplier float64
	MaxDelay   time.Duration
	// Jitter stretches each delay by up to this fraction.
	Jitter float64
}

// Delay returns the wait before retry number retry (0-based). u in [0,1)
// selects the jitter.
func (b BackoffConfig) Delay(retry int, u float64) time.Duration {
	d := float64(b.BaseDelay) * math.Pow(b.Multiplier, float64(retry))
	d *= 1 + b.Jitter*u
	if b.MaxDelay > 0 && d > float64(b.MaxDelay) {
		return b.MaxDelay
	}
	return time.Duration(d)
}

// Config bundles upstream location and resilience settings.
type Config struct {
	BaseURL string
	// Timeout bounds a single attempt.
	Timeout time.Duration
	Backoff BackoffConfig

	// BreakerMaxFailures consecutive failures open the circuit; 0 disables it.
	BreakerMaxFailures uint32
	BreakerOpenTimeout time.Duration
}

// WorstCaseLatency is the longest a Fetch can take: every attempt timing out
// plus the largest possible delay between attempts.
func (c Config) WorstCaseLatency() time.Duration {
	total := time.Duration(c.Backoff.MaxRetries+1) * c.Timeout
	for i := range c.Backoff.MaxRetries {
		total += c.Backoff.Delay(i, 1)
	}
	return total
}

var (
	errServerError   = errors.New("server error")
	errUnexpected    = errors.New("unexpected status code")
	errInvalidConfig = errors.New("invalid backoff configuration")
)

// Client fetches raw payloads from the upstream provider with per-attempt
// timeouts, retries with exponential backoff, and a circuit breaker.
type Client struct {
	cfg     Config
	http    *resty.Client
	circuit *gobreaker.CircuitBreaker

	sleep  func(ctx context.Context, d time.Duration) error
	jitter func() float64
}

// New creates a Client for cfg.
func New(cfg Config) *Client {
	httpClient := resty.New().
		SetBaseURL(cfg.BaseURL).
		SetTimeout(cfg.Timeout).
		SetHeader("Accept", "application/json").
		SetLogger(restyLogger{})

	cb := gobreaker.NewCircuitBreaker(gobreaker.Settings{
		Name:        "upstream",
		MaxRequests: 1,
		Interval:    time.Minute,
		Timeout:     cfg.BreakerOpenTimeout,
		ReadyToTrip: func(counts gobreaker.Counts) bool {
			return cfg.BreakerMaxFailures > 0 && counts.ConsecutiveFailures >= cfg.BreakerMaxFailures
		},
		OnStateChange: func(name string, from, to gobreaker.State) {
			log.Warn().
				Str("breaker", name).
				Str("from", from.String()).
				Str("to", to.String()).
				Msg("upstream: circuit breaker state changed")
		},
		// Client errors mean the upstream is healthy.
		IsSuccessful: func(err error) bool {
			var statusErr *airquality.StatusError
			return err == nil || errors.As(err, &statusErr)
		},
	})

	return &Client{
		cfg:     cfg,
		http:    httpClient,
		circuit: cb,
		sleep:   sleepCtx,
		jitter:  rand.Float64,
	}
}

// Fetch GETs path relative to the base URL. Connection failures, timeouts and
// 5xx responses are retried; 4xx responses are returned at once as
// *airquality.StatusError, wrapping airquality.ErrNotFound for 404.
// Exhausted retries yield an error wrapping airquality.ErrUnavailable.
func (c *Client) Fetch(ctx context.Context, path string) ([]byte, error) {
	if c.cfg.Backoff.MaxRetries < 0 || c.cfg.Backoff.BaseDelay <= 0 {
		return nil, errInvalidConfig
	}

	var lastErr error
	attempts := 0

	for retry := 0; ; retry++ {
		if err := ctx.Err(); err != nil {
			return nil, err
		}

		attempts++
		body, err := c.attempt(ctx, path)
		if err == nil {
			return body, nil
		}

		var statusErr *airquality.StatusError
		switch {
		case errors.As(err, &statusErr):
			if statusErr.Code == http.StatusNotFound {
				return nil, fmt.Errorf("%w: %w", airquality.ErrNotFound, err)
			}
			return nil, err
		case errors.Is(err, gobreaker.ErrOpenState), errors.Is(err, gobreaker.ErrTooManyRequests):
			return nil, fmt.Errorf("%w: circuit breaker: %w", airquality.ErrUnavailable, err)
		case errors.Is(err, errUnexpected):
			return nil, fmt.Errorf("%w: %w", airquality.ErrUnavailable, err)
		case ctx.Err() != nil:
			return nil, ctx.Err()
		}

		lastErr = err
		if retry >= c.cfg.Backoff.MaxRetries {
			break
		}

		delay := c.cfg.Backoff.Delay(retry, c.jitter())
		log.Warn().
			Err(err).
			Str("path", path).
			Int("attempt", attempts).
			Dur("delay", delay).
			Msg("upstream: attempt failed; backing off")

		if err := c.sleep(ctx, delay); err != nil {
			return nil, err
		}
	}

	return nil, fmt.Errorf("%w after %d attempts: %w", airquality.ErrUnavailable, attempts, lastErr)
}

func (c *Client) attempt(ctx context.Context, path string) ([]byte, error) {
	result, err := c.circuit.Execute(func() (interface{}, error) {
		resp, err := c.http.R().SetContext(ctx).Get(path)
		if err != nil {
			return nil, err
		}

		code := resp.StatusCode()
		switch {
		case code >= 500:
			return nil, fmt.Errorf("%w: %d", errServerError, code)
		case code >= 400:
			return nil, &airquality.StatusError{Code: code, Body: truncate(resp.String(), maxErrorBody)}
		case code < 200 || code >= 300:
			return nil, fmt.Errorf("%w: %d", errUnexpected, code)
		}
		return resp.Body(), nil
	})
	if err != nil {
		return nil, err
	}

	body, ok := result.([]byte)
	if !ok {
		return nil, fmt.Errorf("unexpected result type from circuit breaker")
	}
	return body, nil
}

func sleepCtx(ctx context.Context, d time.Duration) error {
	timer := time.NewTimer(d)
	defer timer.Stop()

	select {
	case <-ctx.Done():
		return ctx.Err()
	case <-timer.C:
		return nil
	}
}

// truncate cuts s to at most n bytes without splitting a rune.
func truncate(s string, n int) string {
	if len(s) <= n {
		return s
	}
	for n > 0 && !utf8.RuneStart(s[n]) {
		n--
	}
	return s[:n]
}

// restyLogger routes resty's internal logging through zerolog.
type restyLogger struct{}

func (restyLogger) Errorf(format string, v ...interface{}) {
	log.Debug().Str("component", "resty").Msgf(format, v...)
}

func (restyLogger) Warnf(format string, v ...interface{}) {
	log.Debug().Str("component", "resty").Msgf(format, v...)
}

func (restyLogger) Debugf(format string, v ...interface{}) {
	log.Trace().Str("component", "resty").Msgf(format, v...)
}
