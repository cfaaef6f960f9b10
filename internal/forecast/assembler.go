// Package forecast assembles visibility forecasts from cached or freshly
// fetched ephemerides.
package forecast

import (
	"context"
	"errors"
	"fmt"
	"log/slog"
	"time"

	"github.com/couchcryptid/iso-visibility-service/internal/cache"
	"github.com/couchcryptid/iso-visibility-service/internal/domain"
	"github.com/couchcryptid/iso-visibility-service/internal/observability"
	"github.com/couchcryptid/iso-visibility-service/internal/visibility"
	"github.com/jonboulle/clockwork"
	"golang.org/x/sync/singleflight"
)

// MaxDays bounds the forecast period.
const MaxDays = 90

// Source labels where a forecast's data came from.
const (
	SourceUpstream        = "upstream"
	SourceEphemerisCache  = "ephemeris_cache"
	SourceVisibilityCache = "visibility_cache"
	SourceStaleCache      = "stale_cache"
)

// Request is one forecast query. A zero Start means now.
type Request struct {
	ObjectID string
	Observer domain.ObserverLocation
	Start    time.Time
	Days     int
}

// Result is a forecast plus the metadata reported alongside it.
type Result struct {
	Forecast    domain.VisibilityForecast
	Object      domain.Object
	SampleCount int
	Source      string
}

// Options tune the upstream fetch.
type Options struct {
	Step         time.Duration
	FetchTimeout time.Duration
}

// Assembler runs the cache, upstream and engine steps for a forecast.
type Assembler struct {
	registry  domain.ObjectRegistry
	source    domain.EphemerisSource
	cache     *cache.Cache
	engine    *visibility.Engine
	publisher domain.WindowPublisher
	clock     clockwork.Clock
	opts      Options
	logger    *slog.Logger
	metrics   *observability.Metrics
	fetches   singleflight.Group
}

// NewAssembler wires an Assembler. publisher may be nil to disable window
// events.
func NewAssembler(
	registry domain.ObjectRegistry,
	source domain.EphemerisSource,
	c *cache.Cache,
	engine *visibility.Engine,
	publisher domain.WindowPublisher,
	clock clockwork.Clock,
	opts Options,
	logger *slog.Logger,
	metrics *observability.Metrics,
) *Assembler {
	if opts.Step <= 0 {
		opts.Step = time.Hour
	}
	if opts.FetchTimeout <= 0 {
		opts.FetchTimeout = 10 * time.Second
	}
	return &Assembler{
		registry:  registry,
		source:    source,
		cache:     c,
		engine:    engine,
		publisher: publisher,
		clock:     clock,
		opts:      opts,
		logger:    logger,
		metrics:   metrics,
	}
}

// GetForecast returns the forecast for req. The period starts at req.Start
// truncated to the hour and spans req.Days days.
//
// Errors: domain.ErrInvalidInput for a bad request, domain.ErrObjectNotFound
// or domain.ErrNoEphemeris when there is nothing to compute from, and
// domain.ErrUpstreamUnavailable when the upstream failed with no cached
// fallback.
func (a *Assembler) GetForecast(ctx context.Context, req Request) (*Result, error) {
	began := a.clock.Now()
	res, err := a.getForecast(ctx, req)
	a.metrics.ForecastDuration.Observe(a.clock.Since(began).Seconds())
	if err != nil {
		a.metrics.ForecastRequests.WithLabelValues("error").Inc()
		return nil, err
	}
	a.metrics.ForecastRequests.WithLabelValues(res.Source).Inc()
	return res, nil
}

func (a *Assembler) getForecast(ctx context.Context, req Request) (*Result, error) {
	if err := req.Observer.Validate(); err != nil {
		return nil, err
	}
	if req.Days < 1 || req.Days > MaxDays {
		return nil, fmt.Errorf("%w: days must be between 1 and %d, got %d", domain.ErrInvalidInput, MaxDays, req.Days)
	}

	obj, err := a.registry.Resolve(ctx, req.ObjectID)
	if err != nil {
		return nil, err
	}

	now := a.clock.Now().UTC()
	start := req.Start
	if start.IsZero() {
		start = now
	}
	start = start.UTC().Truncate(time.Hour)
	end := start.AddDate(0, 0, req.Days)

	q := cache.VisibilityQuery{ObjectID: obj.ID, Observer: req.Observer, PeriodStart: start, Days: req.Days}
	if !a.cache.IsStale(ctx, cache.VisibilityKey(q)) {
		if f, samples, ok := a.cache.GetVisibility(ctx, q); ok {
			return &Result{Forecast: *f, Object: obj, SampleCount: len(samples), Source: SourceVisibilityCache}, nil
		}
	}

	samples, source, err := a.samples(ctx, obj, q, start, end)
	if err != nil {
		return nil, err
	}

	f, err := a.engine.Forecast(obj.ID, samples, req.Observer, start, end, now)
	if err != nil {
		return nil, fmt.Errorf("compute forecast for %s: %w", obj.ID, err)
	}
	f.UsedStaleCache = source == SourceStaleCache

	if !f.UsedStaleCache {
		a.cache.PutVisibility(ctx, q, f, samples)
	}
	if source == SourceUpstream {
		a.publish(ctx, f)
	}

	a.logger.Info("forecast assembled",
		"object_id", obj.ID,
		"source", source,
		"samples", len(samples),
		"windows", len(f.UpcomingWindows),
		"visibility_pct", f.VisibilityPercentage,
	)
	return &Result{Forecast: f, Object: obj, SampleCount: len(samples), Source: source}, nil
}

// samples resolves ephemeris data: fresh cache, then upstream, then any
// stale entry that overlaps the period.
func (a *Assembler) samples(ctx context.Context, obj domain.Object, q cache.VisibilityQuery, start, end time.Time) ([]domain.EphemerisSample, string, error) {
	key := cache.EphemerisKey(obj.ID, start, end)
	if !a.cache.IsStale(ctx, key) {
		if samples, ok := a.cache.GetEphemeris(ctx, obj.ID, start, end); ok && len(samples) > 0 {
			return samples, SourceEphemerisCache, nil
		}
	}

	samples, fetchErr := a.fetch(ctx, key, obj, start, end)
	if fetchErr == nil && len(samples) > 0 {
		a.cache.PutEphemeris(ctx, obj.ID, start, end, samples)
		return samples, SourceUpstream, nil
	}

	if stale, ok := a.cache.StaleEphemeris(ctx, obj.ID, start, end); ok {
		a.logger.Warn("serving stale ephemeris", "object_id", obj.ID, "samples", len(stale), "error", fetchErr)
		return stale, SourceStaleCache, nil
	}
	if _, stale, ok := a.cache.StaleVisibility(ctx, q); ok && len(stale) > 0 {
		a.logger.Warn("serving samples from stale forecast", "object_id", obj.ID, "samples", len(stale), "error", fetchErr)
		return stale, SourceStaleCache, nil
	}

	switch {
	case fetchErr == nil:
		return nil, "", fmt.Errorf("%w for %s between %s and %s", domain.ErrNoEphemeris, obj.ID, start.Format(time.RFC3339), end.Format(time.RFC3339))
	case errors.Is(fetchErr, domain.ErrObjectNotFound):
		return nil, "", fmt.Errorf("%w: %w", domain.ErrNoEphemeris, fetchErr)
	case errors.Is(fetchErr, domain.ErrUpstreamUnavailable):
		return nil, "", fetchErr
	default:
		return nil, "", fmt.Errorf("%w: %w", domain.ErrUpstreamUnavailable, fetchErr)
	}
}

// fetch collapses identical concurrent upstream requests. The shared call is
// detached from any single caller's cancellation and bounded by FetchTimeout.
func (a *Assembler) fetch(ctx context.Context, key string, obj domain.Object, start, end time.Time) ([]domain.EphemerisSample, error) {
	v, err, shared := a.fetches.Do(key, func() (any, error) {
		fetchCtx, cancel := context.WithTimeout(context.WithoutCancel(ctx), a.opts.FetchTimeout)
		defer cancel()
		return a.source.FetchEphemeris(fetchCtx, obj.Designation, start, end, a.opts.Step)
	})
	if shared {
		a.logger.Debug("ephemeris fetch shared", "object_id", obj.ID)
	}
	if err != nil {
		a.logger.Warn("ephemeris fetch failed", "object_id", obj.ID, "designation", obj.Designation, "error", err)
		return nil, err
	}
	samples, _ := v.([]domain.EphemerisSample)
	return samples, nil
}

func (a *Assembler) publish(ctx context.Context, f domain.VisibilityForecast) {
	if a.publisher == nil || len(f.UpcomingWindows) == 0 {
		return
	}
	event := domain.WindowEvent{
		ObjectID:    f.ObjectID,
		Observer:    f.Observer,
		PeriodStart: f.PeriodStart,
		PeriodEnd:   f.PeriodEnd,
		Windows:     f.UpcomingWindows,
		GeneratedAt: f.GeneratedAt,
	}
	if err := a.publisher.PublishWindows(ctx, event); err != nil {
		a.metrics.WindowEvents.WithLabelValues("error").Inc()
		a.logger.Warn("window event not published", "object_id", f.ObjectID, "error", err)
		return
	}
	a.metrics.WindowEvents.WithLabelValues("published").Inc()
}
