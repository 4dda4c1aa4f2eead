package store

import (
	"context"
	"fmt"
	"slices"
	"sync"
	"time"

	"golang.org/x/sync/singleflight"
)

// Freshness classifies a cache lookup.
type Freshness int

const (
	Missing Freshness = iota
	Fresh
	Stale
)

func (f Freshness) String() string {
	switch f {
	case Fresh:
		return "fresh"
	case Stale:
		return "stale"
	default:
		return "missing"
	}
}

// Entry is a last-known-good payload and the time it was fetched upstream.
type Entry[T any] struct {
	Key       string
	Payload   T
	FetchedAt time.Time
	TTL       time.Duration
}

// ExpiresAt returns the end of the entry's freshness window.
func (e Entry[T]) ExpiresAt() time.Time {
	return e.FetchedAt.Add(e.TTL)
}

// Option configures a MemoryStore.
type Option[T any] func(*MemoryStore[T])

// WithClock overrides the time source used to judge freshness.
func WithClock[T any](now func() time.Time) Option[T] {
	return func(s *MemoryStore[T]) {
		s.now = now
	}
}

// WithClone sets the function used to hand out copies of stored payloads.
func WithClone[T any](clone func(T) T) Option[T] {
	return func(s *MemoryStore[T]) {
		s.clone = clone
	}
}

// MemoryStore is a concurrency-safe TTL cache with single-flight refresh.
// Entries are replaced wholesale and never mutated in place.
type MemoryStore[T any] struct {
	mu sync.RWMutex

	// key: cache key, value: immutable entry
	data map[string]*Entry[T]

	ttl     time.Duration
	now     func() time.Time
	clone   func(T) T
	flights singleflight.Group
}

// NewMemoryStore creates an empty store whose entries stay fresh for ttl.
func NewMemoryStore[T any](ttl time.Duration, opts ...Option[T]) *MemoryStore[T] {
	s := &MemoryStore[T]{
		data:  make(map[string]*Entry[T]),
		ttl:   ttl,
		now:   time.Now,
		clone: func(v T) T { return v },
	}
	for _, opt := range opts {
		opt(s)
	}
	return s
}

// TTL returns the freshness window applied to new entries.
func (s *MemoryStore[T]) TTL() time.Duration {
	return s.ttl
}

// Get returns a copy of the entry for key and how fresh it is.
func (s *MemoryStore[T]) Get(key string) (Entry[T], Freshness) {
	s.mu.RLock()
	e, ok := s.data[key]
	s.mu.RUnlock()

	if !ok {
		return Entry[T]{}, Missing
	}
	out := s.copy(e)
	if s.now().Before(e.ExpiresAt()) {
		return out, Fresh
	}
	return out, Stale
}

// Put replaces the entry for key, stamping it as fetched at now.
func (s *MemoryStore[T]) Put(key string, payload T, now time.Time) Entry[T] {
	e := &Entry[T]{
		Key:       key,
		Payload:   s.clone(payload),
		FetchedAt: now,
		TTL:       s.ttl,
	}

	s.mu.Lock()
	s.data[key] = e
	s.mu.Unlock()

	return s.copy(e)
}

// Keys returns the stored keys in sorted order.
func (s *MemoryStore[T]) Keys() []string {
	s.mu.RLock()
	keys := make([]string, 0, len(s.data))
	for k := range s.data {
		keys = append(keys, k)
	}
	s.mu.RUnlock()

	slices.Sort(keys)
	return keys
}

// Do runs produce for key unless a call for the same key is already in
// flight, in which case it waits for and shares that call's outcome.
// produce runs on a context that ignores the caller's cancellation: a caller
// that gives up only stops waiting, the flight continues for the others.
// A caller whose ctx is already done never starts a flight.
func (s *MemoryStore[T]) Do(ctx context.Context, key string, produce func(context.Context) (Entry[T], error)) (Entry[T], error) {
	if err := ctx.Err(); err != nil {
		return Entry[T]{}, err
	}

	flightCtx := context.WithoutCancel(ctx)

	ch := s.flights.DoChan(key, func() (interface{}, error) {
		return produce(flightCtx)
	})

	select {
	case <-ctx.Done():
		return Entry[T]{}, ctx.Err()
	case res := <-ch:
		if res.Err != nil {
			return Entry[T]{}, res.Err
		}
		e, ok := res.Val.(Entry[T])
		if !ok {
			return Entry[T]{}, fmt.Errorf("unexpected flight result type %T", res.Val)
		}
		return s.copy(&e), nil
	}
}

func (s *MemoryStore[T]) copy(e *Entry[T]) Entry[T] {
	out := *e
	out.Payload = s.clone(e.Payload)
	return out
}
