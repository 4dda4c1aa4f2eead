package airquality

import (
	"context"
	"time"

	"github.com/i474232898/air-quality-proxy/internal/store"
)

// Upstream abstracts the third-party air-quality provider.
type Upstream interface {
	// Fetch returns the raw body of a successful GET on path.
	Fetch(ctx context.Context, path string) ([]byte, error)
}

// Cache is the contract the in-memory store must satisfy for one payload type.
type Cache[T any] interface {
	Get(key string) (store.Entry[T], store.Freshness)
	Put(key string, payload T, now time.Time) store.Entry[T]
	Do(ctx context.Context, key string, produce func(context.Context) (store.Entry[T], error)) (store.Entry[T], error)
	Keys() []string
}
