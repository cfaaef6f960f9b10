// Package cache provides the two-tier ephemeris and visibility cache.
//
// Ephemeris entries live in a durable tier (BadgerDB) with a 24 hour TTL and
// survive restarts. Finished forecasts live in a session tier (an in-process
// LRU) with a one hour TTL. Every entry records when it was cached and when it
// expires; expiry is evaluated on read rather than by the store, so expired
// data remains available to the stale-fallback readers until it is swept.
package cache

import (
	"context"
	"errors"
)

// ErrNotFound is returned by a Store when the key is absent.
var ErrNotFound = errors.New("cache: key not found")

// Store is a byte-oriented key/value backend for one cache tier.
type Store interface {
	Get(ctx context.Context, key string) ([]byte, error)
	Set(ctx context.Context, key string, value []byte) error
	Delete(ctx context.Context, key string) error
	// Keys lists every key beginning with prefix.
	Keys(ctx context.Context, prefix string) ([]string, error)
}
