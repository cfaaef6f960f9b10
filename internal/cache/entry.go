package cache

import (
	"errors"
	"fmt"
	"time"

	json "github.com/goccy/go-json"
)

var errMissingExpiry = errors.New("decode cache entry: missing expires_at")

// Entry wraps a cached payload with its lifetime.
type Entry[T any] struct {
	Data      T         `json:"data"`
	CachedAt  time.Time `json:"cached_at"`
	ExpiresAt time.Time `json:"expires_at"`
}

// entryHeader decodes only the lifetime fields of a stored entry.
type entryHeader struct {
	CachedAt  time.Time `json:"cached_at"`
	ExpiresAt time.Time `json:"expires_at"`
}

func newEntry[T any](data T, now time.Time, ttl time.Duration) Entry[T] {
	return Entry[T]{Data: data, CachedAt: now, ExpiresAt: now.Add(ttl)}
}

// Expired reports whether the entry is past its expiry at now.
func (e Entry[T]) Expired(now time.Time) bool {
	return !now.Before(e.ExpiresAt)
}

func (h entryHeader) expired(now time.Time) bool {
	return !now.Before(h.ExpiresAt)
}

func encodeEntry[T any](e Entry[T]) ([]byte, error) {
	data, err := json.Marshal(e)
	if err != nil {
		return nil, fmt.Errorf("encode cache entry: %w", err)
	}
	return data, nil
}

func decodeEntry[T any](raw []byte) (Entry[T], error) {
	var e Entry[T]
	if err := json.Unmarshal(raw, &e); err != nil {
		return Entry[T]{}, fmt.Errorf("decode cache entry: %w", err)
	}
	if e.ExpiresAt.IsZero() {
		return Entry[T]{}, errMissingExpiry
	}
	return e, nil
}

func decodeHeader(raw []byte) (entryHeader, error) {
	var h entryHeader
	if err := json.Unmarshal(raw, &h); err != nil {
		return entryHeader{}, fmt.Errorf("decode cache entry header: %w", err)
	}
	if h.ExpiresAt.IsZero() {
		return entryHeader{}, errMissingExpiry
	}
	return h, nil
}
