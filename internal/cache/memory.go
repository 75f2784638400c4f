package cache

import (
	"context"
	"errors"
	"time"

	"github.com/maypok86/otter/v2"
)

// Memory is an in-memory cache implementation using otter. Entries expire a
// fixed time after they were written.
type Memory[T any] struct {
	cache *otter.Cache[string, T]
}

var _ Cache[string] = (*Memory[string])(nil)

// NewMemory creates a new in-memory cache with the specified TTL and max size.
func NewMemory[T any](ttl time.Duration, maxSize int) (*Memory[T], error) {
	if ttl <= 0 {
		return nil, errors.New("cache TTL must be positive")
	}
	if maxSize <= 0 {
		return nil, errors.New("cache size must be positive")
	}

	cache := otter.Must(&otter.Options[string, T]{
		MaximumSize:      maxSize,
		ExpiryCalculator: otter.ExpiryWriting[string, T](ttl),
	})

	return &Memory[T]{cache: cache}, nil
}

func (m *Memory[T]) Get(_ context.Context, key string) (T, bool) {
	return m.cache.GetIfPresent(key)
}

func (m *Memory[T]) Set(_ context.Context, key string, value T) {
	m.cache.Set(key, value)
}
