package cache

import (
	"context"
	"errors"
	"io"
	"log/slog"
	"math"
	"testing"
	"time"

	"github.com/couchcryptid/iso-visibility-service/internal/domain"
	"github.com/couchcryptid/iso-visibility-service/internal/observability"
	"github.com/google/go-cmp/cmp"
	"github.com/jonboulle/clockwork"
	"github.com/prometheus/client_golang/prometheus/testutil"
	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
)

var (
	epoch   = time.Date(2025, 10, 30, 0, 0, 0, 0, time.UTC)
	newYork = domain.ObserverLocation{Latitude: 40.7128, Longitude: -74.0060}
)

func discardLogger() *slog.Logger {
	return slog.New(slog.NewTextHandler(io.Discard, nil))
}

func newTestCache(t *testing.T) (*Cache, *clockwork.FakeClock, *observability.Metrics) {
	t.Helper()
	durable, err := OpenBadger("")
	require.NoError(t, err)
	t.Cleanup(func() { _ = durable.Close() })

	clock := clockwork.NewFakeClockAt(epoch)
	metrics := observability.NewMetricsForTesting()
	return New(durable, NewMemoryStore(100), DefaultTTL, clock, discardLogger(), metrics), clock, metrics
}

func samplesFrom(start time.Time, hours int) []domain.EphemerisSample {
	out := make([]domain.EphemerisSample, 0, hours+1)
	for h := 0; h <= hours; h++ {
		out = append(out, domain.EphemerisSample{
			Time: start.Add(time.Duration(h) * time.Hour),
			RA:   200 + float64(h)*0.01,
			Dec:  -10,
		})
	}
	return out
}

func TestEphemeris_PutThenGet(t *testing.T) {
	c, _, metrics := newTestCache(t)
	ctx := context.Background()
	end := epoch.Add(48 * time.Hour)
	samples := samplesFrom(epoch, 48)

	c.PutEphemeris(ctx, "3i", epoch, end, samples)

	got, ok := c.GetEphemeris(ctx, "3i", epoch, end)
	require.True(t, ok)
	if diff := cmp.Diff(samples, got); diff != "" {
		t.Errorf("samples mismatch (-want +got):\n%s", diff)
	}
	assert.Equal(t, 1.0, testutil.ToFloat64(metrics.CacheLookups.WithLabelValues(tierEphemeris, "hit")))

	_, ok = c.GetEphemeris(ctx, "3i", epoch, end.Add(time.Hour))
	assert.False(t, ok, "a different range is a different entry")
}

func TestEphemeris_ExpiresAfterTTL(t *testing.T) {
	c, clock, metrics := newTestCache(t)
	ctx := context.Background()
	end := epoch.Add(24 * time.Hour)
	c.PutEphemeris(ctx, "3i", epoch, end, samplesFrom(epoch, 24))

	clock.Advance(23 * time.Hour)
	_, ok := c.GetEphemeris(ctx, "3i", epoch, end)
	require.True(t, ok)

	clock.Advance(time.Hour)
	assert.True(t, c.IsStale(ctx, EphemerisKey("3i", epoch, end)))

	_, ok = c.GetEphemeris(ctx, "3i", epoch, end)
	assert.False(t, ok)
	assert.Equal(t, 1.0, testutil.ToFloat64(metrics.CacheLookups.WithLabelValues(tierEphemeris, "expired")))

	_, err := c.durable.Get(ctx, EphemerisKey("3i", epoch, end))
	assert.ErrorIs(t, err, ErrNotFound, "expired entries are removed on read")
	assert.False(t, c.IsStale(ctx, EphemerisKey("3i", epoch, end)))
}

func TestEphemeris_PreExpiredWriteIsRemovedOnRead(t *testing.T) {
	c, _, _ := newTestCache(t)
	ctx := context.Background()
	end := epoch.Add(time.Hour)
	key := EphemerisKey("1i", epoch, end)

	stale := Entry[ephemerisPayload]{
		Data:      ephemerisPayload{Start: epoch, End: end, Samples: samplesFrom(epoch, 1)},
		CachedAt:  epoch.Add(-24 * time.Hour),
		ExpiresAt: epoch.Add(-time.Second),
	}
	raw, err := encodeEntry(stale)
	require.NoError(t, err)
	require.NoError(t, c.durable.Set(ctx, key, raw))

	_, ok := c.GetEphemeris(ctx, "1i", epoch, end)
	assert.False(t, ok)

	_, err = c.durable.Get(ctx, key)
	assert.ErrorIs(t, err, ErrNotFound)
}

func TestEphemeris_CorruptEntryIsRemoved(t *testing.T) {
	c, _, metrics := newTestCache(t)
	ctx := context.Background()
	end := epoch.Add(time.Hour)
	key := EphemerisKey("2i", epoch, end)

	require.NoError(t, c.durable.Set(ctx, key, []byte("{not json")))

	assert.False(t, c.IsStale(ctx, key))
	_, ok := c.GetEphemeris(ctx, "2i", epoch, end)
	assert.False(t, ok)
	assert.Equal(t, 1.0, testutil.ToFloat64(metrics.CacheLookups.WithLabelValues(tierEphemeris, "corrupt")))

	_, err := c.durable.Get(ctx, key)
	assert.ErrorIs(t, err, ErrNotFound)
}

func TestStaleEphemeris_OverlappingRange(t *testing.T) {
	c, clock, _ := newTestCache(t)
	ctx := context.Background()

	c.PutEphemeris(ctx, "3i", epoch, epoch.Add(10*time.Hour), samplesFrom(epoch, 10))
	c.PutEphemeris(ctx, "3i", epoch.Add(5*time.Hour), epoch.Add(30*time.Hour), samplesFrom(epoch.Add(5*time.Hour), 25))
	c.PutEphemeris(ctx, "3ix", epoch, epoch.Add(40*time.Hour), samplesFrom(epoch, 40))
	clock.Advance(48 * time.Hour)

	got, ok := c.StaleEphemeris(ctx, "3i", epoch.Add(4*time.Hour), epoch.Add(20*time.Hour))
	require.True(t, ok)
	// The second range covers hours 5..20 (16 samples), the first only 4..10.
	require.Len(t, got, 16)
	assert.Equal(t, epoch.Add(5*time.Hour), got[0].Time)
	assert.Equal(t, epoch.Add(20*time.Hour), got[len(got)-1].Time)

	_, ok = c.StaleEphemeris(ctx, "3i", epoch.Add(100*time.Hour), epoch.Add(120*time.Hour))
	assert.False(t, ok)

	// Stale reads never delete.
	assert.True(t, c.IsStale(ctx, EphemerisKey("3i", epoch, epoch.Add(10*time.Hour))))
}

func TestVisibility_RoundTripAndStale(t *testing.T) {
	c, clock, _ := newTestCache(t)
	ctx := context.Background()
	q := VisibilityQuery{ObjectID: "3i", Observer: newYork, PeriodStart: epoch.Add(20 * time.Minute), Days: 30}
	samples := samplesFrom(epoch, 3)
	forecast := domain.VisibilityForecast{
		ObjectID:      "3i",
		Observer:      newYork,
		PeriodStart:   q.PeriodStart,
		PeriodEnd:     q.PeriodStart.AddDate(0, 0, 30),
		CurrentStatus: domain.VisibilityStatus{Airmass: domain.Airmass(math.Inf(1)), Quality: domain.QualityNotVisible},
		GeneratedAt:   epoch,
	}

	c.PutVisibility(ctx, q, forecast, samples)

	// Nearby observers and a start in the same hour share the entry.
	nearby := q
	nearby.Observer = domain.ObserverLocation{Latitude: 40.7149, Longitude: -74.0089}
	nearby.PeriodStart = epoch.Add(40 * time.Minute)
	got, gotSamples, ok := c.GetVisibility(ctx, nearby)
	require.True(t, ok)
	assert.Equal(t, "3i", got.ObjectID)
	assert.Len(t, gotSamples, len(samples))

	clock.Advance(2 * time.Hour)
	assert.True(t, c.IsStale(ctx, VisibilityKey(q)))

	staleForecast, staleSamples, ok := c.StaleVisibility(ctx, q)
	require.True(t, ok)
	assert.Equal(t, "3i", staleForecast.ObjectID)
	assert.Len(t, staleSamples, len(samples))

	_, _, ok = c.GetVisibility(ctx, q)
	assert.False(t, ok)
	_, _, ok = c.StaleVisibility(ctx, q)
	assert.False(t, ok, "the expired entry was removed by the fresh read")
}

func TestVisibilityKey(t *testing.T) {
	base := VisibilityQuery{ObjectID: "1i", Observer: newYork, PeriodStart: epoch, Days: 30}

	other := base
	other.Days = 7
	assert.NotEqual(t, VisibilityKey(base), VisibilityKey(other))

	other = base
	other.Observer.Latitude = 41.0
	assert.NotEqual(t, VisibilityKey(base), VisibilityKey(other))

	assert.Equal(t, "isoviz:vis:1i:40.71:-74.01:1761782400:30", VisibilityKey(base))
}

func TestClearAll_OnlyTouchesPrefix(t *testing.T) {
	c, _, _ := newTestCache(t)
	ctx := context.Background()

	c.PutEphemeris(ctx, "1i", epoch, epoch.Add(time.Hour), samplesFrom(epoch, 1))
	c.PutVisibility(ctx, VisibilityQuery{ObjectID: "1i", Observer: newYork, PeriodStart: epoch, Days: 1}, domain.VisibilityForecast{}, nil)
	require.NoError(t, c.durable.Set(ctx, "session:abc", []byte("keep")))
	require.NoError(t, c.session.Set(ctx, "prefs:user", []byte("keep")))

	removed, err := c.ClearAll(ctx)
	require.NoError(t, err)
	assert.Equal(t, 2, removed)

	_, err = c.durable.Get(ctx, "session:abc")
	require.NoError(t, err)
	_, err = c.session.Get(ctx, "prefs:user")
	require.NoError(t, err)
	_, ok := c.GetEphemeris(ctx, "1i", epoch, epoch.Add(time.Hour))
	assert.False(t, ok)
}

func TestClearStale(t *testing.T) {
	c, clock, metrics := newTestCache(t)
	ctx := context.Background()

	c.PutVisibility(ctx, VisibilityQuery{ObjectID: "1i", Observer: newYork, PeriodStart: epoch, Days: 1}, domain.VisibilityForecast{}, nil)
	c.PutEphemeris(ctx, "1i", epoch, epoch.Add(time.Hour), samplesFrom(epoch, 1))
	require.NoError(t, c.session.Set(ctx, Prefix+"vis:garbage", []byte("nope")))

	clock.Advance(2 * time.Hour)

	removed, err := c.ClearStale(ctx)
	require.NoError(t, err)
	assert.Equal(t, 2, removed, "expired forecast and corrupt entry")
	assert.Equal(t, 2.0, testutil.ToFloat64(metrics.CacheSweptTotal))

	_, ok := c.GetEphemeris(ctx, "1i", epoch, epoch.Add(time.Hour))
	assert.True(t, ok, "ephemeris is still within its 24h TTL")
}

// --- failing store ---

type failingStore struct{ err error }

func (f failingStore) Get(context.Context, string) ([]byte, error)   { return nil, f.err }
func (f failingStore) Set(context.Context, string, []byte) error     { return f.err }
func (f failingStore) Delete(context.Context, string) error          { return f.err }
func (f failingStore) Keys(context.Context, string) ([]string, error) { return nil, f.err }

func TestCache_StoreFailuresDegradeToMiss(t *testing.T) {
	metrics := observability.NewMetricsForTesting()
	broken := failingStore{err: errors.New("disk full")}
	c := New(broken, broken, DefaultTTL, clockwork.NewFakeClockAt(epoch), discardLogger(), metrics)
	ctx := context.Background()

	assert.NotPanics(t, func() {
		c.PutEphemeris(ctx, "1i", epoch, epoch.Add(time.Hour), samplesFrom(epoch, 1))
	})
	_, ok := c.GetEphemeris(ctx, "1i", epoch, epoch.Add(time.Hour))
	assert.False(t, ok)
	_, ok = c.StaleEphemeris(ctx, "1i", epoch, epoch.Add(time.Hour))
	assert.False(t, ok)
	assert.False(t, c.IsStale(ctx, EphemerisKey("1i", epoch, epoch.Add(time.Hour))))

	_, err := c.ClearStale(ctx)
	require.Error(t, err)

	assert.Equal(t, 1.0, testutil.ToFloat64(metrics.CacheErrors.WithLabelValues(tierEphemeris, "set")))
	assert.GreaterOrEqual(t, testutil.ToFloat64(metrics.CacheErrors.WithLabelValues(tierEphemeris, "get")), 2.0)
}

func TestRunSweeper_RemovesExpiredOnTick(t *testing.T) {
	c, clock, metrics := newTestCache(t)
	ctx, cancel := context.WithCancel(context.Background())
	defer cancel()

	c.PutEphemeris(ctx, "1i", epoch, epoch.Add(time.Hour), samplesFrom(epoch, 1))
	clock.Advance(25 * time.Hour)

	done := make(chan struct{})
	go func() {
		defer close(done)
		c.RunSweeper(ctx, time.Minute)
	}()

	require.NoError(t, clock.BlockUntilContext(ctx, 1))
	clock.Advance(time.Minute)

	require.Eventually(t, func() bool {
		return testutil.ToFloat64(metrics.CacheSweptTotal) == 1
	}, time.Second, 5*time.Millisecond)

	cancel()
	<-done
}

func TestRunSweeper_DisabledInterval(t *testing.T) {
	c, _, _ := newTestCache(t)
	c.RunSweeper(context.Background(), 0)
}
