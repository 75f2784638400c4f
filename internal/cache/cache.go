// Package cache holds short-lived copies of upstream responses.
package cache

import "context"

// Cache stores values by string key. Implementations are safe for concurrent
// use.
type Cache[T any] interface {
	// Get returns the value stored for key and whether it was present.
	Get(ctx context.Context, key string) (T, bool)

	// Set stores value under key, replacing any previous value.
	Set(ctx context.Context, key string, value T)
}
