package airquality

import (
	"context"
	"errors"
	"fmt"
	"net/url"
	"sync"
	"time"

	"github.com/rs/zerolog/log"
	"golang.org/x/sync/errgroup"

	"github.com/i474232898/air-quality-proxy/internal/store"
)

// StationListKey is the cache key of the station list.
const StationListKey = "__stations__"

// refreshConcurrency bounds the upstream fetches one RefreshStale sweep runs
// in parallel.
const refreshConcurrency = 4

// CacheStatus tells a caller how a result was served.
type CacheStatus string

const (
	StatusHit   CacheStatus = "HIT"
	StatusMiss  CacheStatus = "MISS"
	StatusStale CacheStatus = "STALE"
)

// Result wraps a payload with the time it was fetched upstream.
// StatusStale marks a degraded answer served after a failed refresh.
type Result[T any] struct {
	Payload   T
	FetchedAt time.Time
	Status    CacheStatus
}

// Degraded reports whether the result is a stale fallback.
func (r Result[T]) Degraded() bool {
	return r.Status == StatusStale
}

// Service fronts the upstream with caching, normalization and aggregation.
type Service struct {
	upstream Upstream
	stations Cache[Station]
	list     Cache[[]StationSummary]
	now      func() time.Time

	refreshConcurrency int
}

// NewService creates a new Service.
func NewService(upstream Upstream, stations Cache[Station], list Cache[[]StationSummary]) *Service {
	return &Service{
		upstream: upstream,
		stations: stations,
		list:     list,
		now:      time.Now,

		refreshConcurrency: refreshConcurrency,
	}
}

// ListStations returns the normalized station list.
func (s *Service) ListStations(ctx context.Context) (Result[[]StationSummary], error) {
	return resolve(ctx, s, s.list, StationListKey, s.fetchStations)
}

// GetStation returns the normalized detail of one station with its 7-day
// weighted averages.
func (s *Service) GetStation(ctx context.Context, id string) (Result[Station], error) {
	return resolve(ctx, s, s.stations, id, func(ctx context.Context) (Station, error) {
		return s.fetchStation(ctx, id)
	})
}

// RefreshStale refetches every cached entry whose TTL has elapsed, running at
// most refreshConcurrency station fetches at a time. Failures leave the stale
// entry in place. Once ctx is done no further fetch is started.
func (s *Service) RefreshStale(ctx context.Context) error {
	var (
		mu   sync.Mutex
		errs []error
	)
	fail := func(err error) {
		mu.Lock()
		errs = append(errs, err)
		mu.Unlock()
	}

	if _, f := s.list.Get(StationListKey); f == store.Stale {
		if _, err := refresh(ctx, s, s.list, StationListKey, s.fetchStations); err != nil {
			fail(fmt.Errorf("station list: %w", err))
		}
	}

	var g errgroup.Group
	g.SetLimit(s.refreshConcurrency)

	for _, id := range s.stations.Keys() {
		if err := ctx.Err(); err != nil {
			fail(fmt.Errorf("refresh sweep stopped: %w", err))
			break
		}
		if _, f := s.stations.Get(id); f != store.Stale {
			continue
		}
		g.Go(func() error {
			_, err := refresh(ctx, s, s.stations, id, func(ctx context.Context) (Station, error) {
				return s.fetchStation(ctx, id)
			})
			if err != nil {
				fail(fmt.Errorf("station %s: %w", id, err))
			}
			return nil
		})
	}
	_ = g.Wait()

	return errors.Join(errs...)
}

func (s *Service) fetchStations(ctx context.Context) ([]StationSummary, error) {
	raw, err := s.upstream.Fetch(ctx, "/stations/")
	if err != nil {
		return nil, err
	}
	return NormalizeStations(raw)
}

func (s *Service) fetchStation(ctx context.Context, id string) (Station, error) {
	raw, err := s.upstream.Fetch(ctx, "/stations/"+url.PathEscape(id))
	if err != nil {
		return Station{}, err
	}
	st, err := NormalizeStation(raw, id)
	if err != nil {
		return Station{}, err
	}
	st.WeightedAverage7d = WeightedAverages(st.Metrics)
	return st, nil
}

// resolve serves key from cache when fresh, otherwise joins the refresh
// flight and falls back to the stale entry if the refresh fails.
func resolve[T any](ctx context.Context, s *Service, cache Cache[T], key string, fetch func(context.Context) (T, error)) (Result[T], error) {
	if e, f := cache.Get(key); f == store.Fresh {
		return Result[T]{Payload: e.Payload, FetchedAt: e.FetchedAt, Status: StatusHit}, nil
	}

	e, err := refresh(ctx, s, cache, key, fetch)
	if err == nil {
		return Result[T]{Payload: e.Payload, FetchedAt: e.FetchedAt, Status: StatusMiss}, nil
	}

	if errors.Is(err, ErrNotFound) || ctx.Err() != nil {
		return Result[T]{}, err
	}

	stale, f := cache.Get(key)
	if f == store.Missing {
		log.Error().Err(err).Str("key", key).Msg("proxy: refresh failed and no cached fallback exists")
		return Result[T]{}, err
	}

	status := StatusStale
	if f == store.Fresh {
		// Another flight refreshed the entry while ours was failing.
		status = StatusHit
	} else {
		log.Warn().
			Err(err).
			Str("key", key).
			Time("fetched_at", stale.FetchedAt).
			Msg("proxy: refresh failed; serving stale entry")
	}
	return Result[T]{Payload: stale.Payload, FetchedAt: stale.FetchedAt, Status: status}, nil
}

// refresh runs one coalesced fetch for key and stores its result. The
// freshness re-check inside the flight keeps a caller that raced a
// just-completed flight from fetching again.
func refresh[T any](ctx context.Context, s *Service, cache Cache[T], key string, fetch func(context.Context) (T, error)) (store.Entry[T], error) {
	return cache.Do(ctx, key, func(ctx context.Context) (store.Entry[T], error) {
		e, f := cache.Get(key)
		if f == store.Fresh {
			return e, nil
		}

		log.Debug().Str("key", key).Stringer("freshness", f).Msg("proxy: fetching from upstream")
		start := s.now()
		payload, err := fetch(ctx)
		if err != nil {
			return store.Entry[T]{}, err
		}

		log.Debug().
			Str("key", key).
			Dur("took", s.now().Sub(start)).
			Msg("proxy: refreshed cache entry")
		return cache.Put(key, payload, s.now()), nil
	})
}
