package cache

import (
	"context"
	"errors"
	"fmt"
	"log/slog"
	"strings"
	"time"

	"github.com/couchcryptid/iso-visibility-service/internal/domain"
	"github.com/couchcryptid/iso-visibility-service/internal/observability"
	"github.com/jonboulle/clockwork"
)

// Prefix namespaces every key written by this package. ClearAll removes
// exactly the keys under it.
const Prefix = "isoviz:"

const (
	ephemerisPrefix  = Prefix + "ephem:"
	visibilityPrefix = Prefix + "vis:"

	tierEphemeris  = "ephemeris"
	tierVisibility = "visibility"
)

// TTL configures entry lifetimes per tier.
type TTL struct {
	Ephemeris  time.Duration
	Visibility time.Duration
}

// DefaultTTL is 24 hours for ephemerides and one hour for forecasts.
var DefaultTTL = TTL{Ephemeris: 24 * time.Hour, Visibility: time.Hour}

// VisibilityQuery identifies a cached forecast.
type VisibilityQuery struct {
	ObjectID    string
	Observer    domain.ObserverLocation
	PeriodStart time.Time
	Days        int
}

type ephemerisPayload struct {
	Start   time.Time                `json:"start"`
	End     time.Time                `json:"end"`
	Samples []domain.EphemerisSample `json:"samples"`
}

// visibilityPayload keeps the samples behind a forecast so an expired entry
// can still seed a stale rebuild.
type visibilityPayload struct {
	Forecast domain.VisibilityForecast `json:"forecast"`
	Samples  []domain.EphemerisSample  `json:"samples"`
}

// Cache is the two-tier cache service. Storage failures never reach callers:
// they are logged, counted, and reported as a miss.
type Cache struct {
	durable Store
	session Store
	ttl     TTL
	clock   clockwork.Clock
	logger  *slog.Logger
	metrics *observability.Metrics
}

// New creates a cache over a durable tier (ephemerides) and a session tier
// (forecasts).
func New(durable, session Store, ttl TTL, clock clockwork.Clock, logger *slog.Logger, metrics *observability.Metrics) *Cache {
	if clock == nil {
		clock = clockwork.NewRealClock()
	}
	return &Cache{
		durable: durable,
		session: session,
		ttl:     ttl,
		clock:   clock,
		logger:  logger,
		metrics: metrics,
	}
}

// EphemerisKey is the durable-tier key for one object and sample range.
func EphemerisKey(objectID string, start, end time.Time) string {
	return fmt.Sprintf("%s%s:%d:%d", ephemerisPrefix, objectID, start.Unix(), end.Unix())
}

// VisibilityKey is the session-tier key for a forecast. The observer is
// rounded to two decimals (about 1 km) and the period start to the hour.
func VisibilityKey(q VisibilityQuery) string {
	return fmt.Sprintf("%s%s:%.2f:%.2f:%d:%d",
		visibilityPrefix, q.ObjectID,
		q.Observer.Latitude, q.Observer.Longitude,
		q.PeriodStart.UTC().Truncate(time.Hour).Unix(), q.Days)
}

// GetEphemeris returns fresh samples cached for exactly this range.
// Expired or undecodable entries are deleted and reported as a miss.
func (c *Cache) GetEphemeris(ctx context.Context, objectID string, start, end time.Time) ([]domain.EphemerisSample, bool) {
	e, ok := get[ephemerisPayload](ctx, c, c.durable, tierEphemeris, EphemerisKey(objectID, start, end))
	if !ok {
		return nil, false
	}
	return e.Data.Samples, true
}

// PutEphemeris stores samples for a range, replacing any previous entry.
func (c *Cache) PutEphemeris(ctx context.Context, objectID string, start, end time.Time, samples []domain.EphemerisSample) {
	payload := ephemerisPayload{Start: start, End: end, Samples: samples}
	put(ctx, c, c.durable, tierEphemeris, EphemerisKey(objectID, start, end), newEntry(payload, c.clock.Now(), c.ttl.Ephemeris))
}

// StaleEphemeris returns cached samples for objectID that fall inside
// [start, end], from whichever stored range covers the most of it. Expiry is
// ignored and nothing is deleted. Reports false when no entry overlaps.
func (c *Cache) StaleEphemeris(ctx context.Context, objectID string, start, end time.Time) ([]domain.EphemerisSample, bool) {
	keys, err := c.durable.Keys(ctx, ephemerisPrefix+objectID+":")
	if err != nil {
		c.degraded(tierEphemeris, "scan", ephemerisPrefix+objectID, err)
		return nil, false
	}

	var (
		best       []domain.EphemerisSample
		bestCached time.Time
	)
	for _, key := range keys {
		e, ok := peek[ephemerisPayload](ctx, c, c.durable, tierEphemeris, key)
		if !ok {
			continue
		}
		overlap := samplesWithin(e.Data.Samples, start, end)
		if len(overlap) == 0 {
			continue
		}
		if len(overlap) > len(best) || (len(overlap) == len(best) && e.CachedAt.After(bestCached)) {
			best, bestCached = overlap, e.CachedAt
		}
	}
	return best, len(best) > 0
}

// GetVisibility returns a fresh cached forecast and the samples behind it.
func (c *Cache) GetVisibility(ctx context.Context, q VisibilityQuery) (*domain.VisibilityForecast, []domain.EphemerisSample, bool) {
	e, ok := get[visibilityPayload](ctx, c, c.session, tierVisibility, VisibilityKey(q))
	if !ok {
		return nil, nil, false
	}
	return &e.Data.Forecast, e.Data.Samples, true
}

// StaleVisibility returns a cached forecast and its samples regardless of
// expiry, without deleting anything.
func (c *Cache) StaleVisibility(ctx context.Context, q VisibilityQuery) (*domain.VisibilityForecast, []domain.EphemerisSample, bool) {
	e, ok := peek[visibilityPayload](ctx, c, c.session, tierVisibility, VisibilityKey(q))
	if !ok {
		return nil, nil, false
	}
	return &e.Data.Forecast, e.Data.Samples, true
}

// PutVisibility stores a finished forecast with the samples it was built from.
func (c *Cache) PutVisibility(ctx context.Context, q VisibilityQuery, f domain.VisibilityForecast, samples []domain.EphemerisSample) {
	payload := visibilityPayload{Forecast: f, Samples: samples}
	put(ctx, c, c.session, tierVisibility, VisibilityKey(q), newEntry(payload, c.clock.Now(), c.ttl.Visibility))
}

// IsStale reports whether key holds an entry past its expiry. Absent, fresh,
// and unreadable entries all report false.
func (c *Cache) IsStale(ctx context.Context, key string) bool {
	store, tier := c.storeFor(key)
	raw, err := store.Get(ctx, key)
	if err != nil {
		if !errors.Is(err, ErrNotFound) {
			c.degraded(tier, "get", key, err)
		}
		return false
	}
	h, err := decodeHeader(raw)
	if err != nil {
		return false
	}
	return h.expired(c.clock.Now())
}

// ClearAll removes every key under Prefix from both tiers.
func (c *Cache) ClearAll(ctx context.Context) (int, error) {
	return c.sweep(ctx, func([]byte) bool { return true })
}

// ClearStale removes expired and undecodable entries from both tiers.
func (c *Cache) ClearStale(ctx context.Context) (int, error) {
	now := c.clock.Now()
	removed, err := c.sweep(ctx, func(raw []byte) bool {
		h, err := decodeHeader(raw)
		return err != nil || h.expired(now)
	})
	c.metrics.CacheSweptTotal.Add(float64(removed))
	return removed, err
}

// sweep deletes the keys under Prefix whose stored value satisfies match.
func (c *Cache) sweep(ctx context.Context, match func(raw []byte) bool) (int, error) {
	var (
		removed int
		errs    []error
	)
	for _, t := range []struct {
		name  string
		store Store
	}{{tierEphemeris, c.durable}, {tierVisibility, c.session}} {
		keys, err := t.store.Keys(ctx, Prefix)
		if err != nil {
			c.degraded(t.name, "scan", Prefix, err)
			errs = append(errs, err)
			continue
		}
		for _, key := range keys {
			raw, err := t.store.Get(ctx, key)
			if errors.Is(err, ErrNotFound) {
				continue
			}
			if err != nil {
				c.degraded(t.name, "get", key, err)
				errs = append(errs, err)
				continue
			}
			if !match(raw) {
				continue
			}
			if err := t.store.Delete(ctx, key); err != nil {
				c.degraded(t.name, "delete", key, err)
				errs = append(errs, err)
				continue
			}
			removed++
		}
	}
	return removed, errors.Join(errs...)
}

func (c *Cache) storeFor(key string) (Store, string) {
	if strings.HasPrefix(key, ephemerisPrefix) {
		return c.durable, tierEphemeris
	}
	return c.session, tierVisibility
}

func (c *Cache) degraded(tier, op, key string, err error) {
	c.metrics.CacheErrors.WithLabelValues(tier, op).Inc()
	c.logger.Warn("cache degraded", "tier", tier, "op", op, "key", key, "error", err)
}

// get reads a fresh entry, deleting it when expired or corrupt.
func get[T any](ctx context.Context, c *Cache, store Store, tier, key string) (Entry[T], bool) {
	raw, err := store.Get(ctx, key)
	if err != nil {
		if !errors.Is(err, ErrNotFound) {
			c.degraded(tier, "get", key, err)
		}
		c.metrics.CacheLookups.WithLabelValues(tier, "miss").Inc()
		return Entry[T]{}, false
	}

	e, err := decodeEntry[T](raw)
	if err != nil {
		c.logger.Warn("discarding corrupt cache entry", "tier", tier, "key", key, "error", err)
		c.metrics.CacheLookups.WithLabelValues(tier, "corrupt").Inc()
		c.remove(ctx, store, tier, key)
		return Entry[T]{}, false
	}

	if e.Expired(c.clock.Now()) {
		c.logger.Debug("cache entry expired", "tier", tier, "key", key, "expired_at", e.ExpiresAt)
		c.metrics.CacheLookups.WithLabelValues(tier, "expired").Inc()
		c.remove(ctx, store, tier, key)
		return Entry[T]{}, false
	}

	c.metrics.CacheLookups.WithLabelValues(tier, "hit").Inc()
	return e, true
}

// peek reads an entry regardless of expiry and never deletes.
func peek[T any](ctx context.Context, c *Cache, store Store, tier, key string) (Entry[T], bool) {
	raw, err := store.Get(ctx, key)
	if err != nil {
		if !errors.Is(err, ErrNotFound) {
			c.degraded(tier, "get", key, err)
		}
		return Entry[T]{}, false
	}
	e, err := decodeEntry[T](raw)
	if err != nil {
		return Entry[T]{}, false
	}
	return e, true
}

func put[T any](ctx context.Context, c *Cache, store Store, tier, key string, e Entry[T]) {
	raw, err := encodeEntry(e)
	if err != nil {
		c.degraded(tier, "set", key, err)
		return
	}
	if err := store.Set(ctx, key, raw); err != nil {
		c.degraded(tier, "set", key, err)
	}
}

func (c *Cache) remove(ctx context.Context, store Store, tier, key string) {
	if err := store.Delete(ctx, key); err != nil {
		c.degraded(tier, "delete", key, err)
	}
}

func samplesWithin(samples []domain.EphemerisSample, start, end time.Time) []domain.EphemerisSample {
	var out []domain.EphemerisSample
	for _, s := range samples {
		if !s.Time.Before(start) && !s.Time.After(end) {
			out = append(out, s)
		}
	}
	return out
}
