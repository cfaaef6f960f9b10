package visibility

import (
	"math"
	"testing"
	"time"

	"github.com/couchcryptid/iso-visibility-service/internal/domain"
	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
)

var (
	newYork       = domain.ObserverLocation{Latitude: 40.7128, Longitude: -74.0060}
	solstice      = time.Date(2024, 6, 21, 0, 0, 0, 0, time.UTC)
	fixedPosition = func(ra, dec float64) func(time.Time) (float64, float64) {
		return func(time.Time) (float64, float64) { return ra, dec }
	}
)

// hourlySamples builds one sample per hour in [start, start+hours].
func hourlySamples(start time.Time, hours int, pos func(time.Time) (float64, float64)) []domain.EphemerisSample {
	samples := make([]domain.EphemerisSample, 0, hours+1)
	for h := 0; h <= hours; h++ {
		at := start.Add(time.Duration(h) * time.Hour)
		ra, dec := pos(at)
		samples = append(samples, domain.EphemerisSample{Time: at, RA: ra, Dec: dec})
	}
	return samples
}

func TestClassify(t *testing.T) {
	e := NewEngine(DefaultThresholdDeg, nil)

	tests := []struct {
		name        string
		coord       domain.HorizontalCoordinate
		wantVisible bool
		want        domain.Quality
	}{
		{"below threshold", domain.HorizontalCoordinate{AltitudeDeg: 19.9, Airmass: 2.9}, false, domain.QualityNotVisible},
		{"exactly threshold", domain.HorizontalCoordinate{AltitudeDeg: 20, Airmass: 2.9}, false, domain.QualityNotVisible},
		{"below horizon", domain.HorizontalCoordinate{AltitudeDeg: -10, Airmass: math.Inf(1)}, false, domain.QualityNotVisible},
		{"excellent", domain.HorizontalCoordinate{AltitudeDeg: 70, Airmass: 1.06}, true, domain.QualityExcellent},
		{"good", domain.HorizontalCoordinate{AltitudeDeg: 35, Airmass: 1.74}, true, domain.QualityGood},
		{"fair", domain.HorizontalCoordinate{AltitudeDeg: 25, Airmass: 2.36}, true, domain.QualityFair},
		{"poor", domain.HorizontalCoordinate{AltitudeDeg: 21, Airmass: 3.2}, true, domain.QualityPoor},
	}

	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			visible, q := e.Classify(tt.coord, newYork, solstice)
			assert.Equal(t, tt.wantVisible, visible)
			assert.Equal(t, tt.want, q)
		})
	}
}

type brightSky struct {
	daytime bool
	moonUp  bool
}

func (b brightSky) IsDaytime(domain.ObserverLocation, time.Time) bool { return b.daytime }
func (b brightSky) IsMoonUp(domain.ObserverLocation, time.Time) bool  { return b.moonUp }

func TestClassify_SkyConditionsDowngrade(t *testing.T) {
	coord := domain.HorizontalCoordinate{AltitudeDeg: 70, Airmass: 1.06}

	_, q := NewEngine(DefaultThresholdDeg, brightSky{moonUp: true}).Classify(coord, newYork, solstice)
	assert.Equal(t, domain.QualityGood, q)

	_, q = NewEngine(DefaultThresholdDeg, brightSky{daytime: true}).Classify(coord, newYork, solstice)
	assert.Equal(t, domain.QualityFair, q)
}

func TestStatus_NewYorkSolstice(t *testing.T) {
	e := NewEngine(DefaultThresholdDeg, nil)

	status := e.Status(domain.EphemerisSample{Time: solstice, RA: 180, Dec: 45}, newYork)

	assert.True(t, status.IsVisible)
	assert.Equal(t, domain.QualityExcellent, status.Quality)
	assert.InDelta(t, 77.76, status.AltitudeDeg, 0.01)
	assert.Greater(t, status.ApparentAltitudeDeg, status.AltitudeDeg)
	assert.Equal(t, solstice, status.At)
}

func TestBuildWindows_TwoDays(t *testing.T) {
	e := NewEngine(DefaultThresholdDeg, nil)
	end := solstice.Add(48 * time.Hour)
	samples := hourlySamples(solstice, 48, fixedPosition(180, 45))

	windows, err := e.BuildWindows(samples, newYork, solstice, end)
	require.NoError(t, err)
	require.Len(t, windows, 3)

	at := func(h int) time.Time { return solstice.Add(time.Duration(h) * time.Hour) }

	assert.Equal(t, at(0), windows[0].Start)
	assert.Equal(t, at(5), windows[0].End)
	assert.Equal(t, at(0), windows[0].PeakTime)

	assert.Equal(t, at(17), windows[1].Start)
	assert.Equal(t, at(29), windows[1].End)
	assert.Equal(t, at(23), windows[1].PeakTime)
	assert.Equal(t, domain.QualityExcellent, windows[1].Quality)
	assert.InDelta(t, 12*3600, windows[1].DurationSeconds, 1e-9)

	assert.Equal(t, at(40), windows[2].Start)
	assert.Equal(t, at(48), windows[2].End)

	sum := Summarize(windows, e.Status(samples[0], newYork), solstice, solstice, end)
	require.NotNil(t, sum.NextSet)
	require.NotNil(t, sum.NextRise)
	assert.Equal(t, at(5), *sum.NextSet)
	assert.Equal(t, at(17), *sum.NextRise)
	assert.InDelta(t, 25.0/48*100, sum.Percentage, 1e-9)
}

func TestBuildWindows_Invariants(t *testing.T) {
	e := NewEngine(DefaultThresholdDeg, nil)
	start := time.Date(2025, 11, 3, 0, 0, 0, 0, time.UTC)
	end := start.Add(30 * 24 * time.Hour)
	drifting := func(at time.Time) (float64, float64) {
		h := at.Sub(start).Hours()
		return math.Mod(120+h*0.05, 360), -5 + h*0.02
	}
	samples := hourlySamples(start, 30*24, drifting)

	windows, err := e.BuildWindows(samples, newYork, start, end)
	require.NoError(t, err)
	require.NotEmpty(t, windows)

	for i, w := range windows {
		assert.False(t, w.End.Before(w.Start))
		assert.False(t, w.PeakTime.Before(w.Start))
		assert.False(t, w.PeakTime.After(w.End))
		assert.NotEqual(t, domain.QualityNotVisible, w.Quality)
		if i > 0 {
			assert.True(t, windows[i-1].End.Before(w.Start), "window %d overlaps its predecessor", i)
		}
	}

	sum := Summarize(windows, e.Status(samples[0], newYork), start, start, end)
	assert.GreaterOrEqual(t, sum.Percentage, 0.0)
	assert.LessOrEqual(t, sum.Percentage, 100.0)
}

func TestBuildWindows_NeverRises(t *testing.T) {
	e := NewEngine(DefaultThresholdDeg, nil)
	end := solstice.Add(30 * 24 * time.Hour)
	samples := hourlySamples(solstice, 30*24, fixedPosition(100, newYork.Latitude-90))

	windows, err := e.BuildWindows(samples, newYork, solstice, end)
	require.NoError(t, err)
	assert.Empty(t, windows)

	current := e.Status(samples[0], newYork)
	sum := Summarize(windows, current, solstice, solstice, end)
	assert.False(t, current.IsVisible)
	assert.Nil(t, sum.NextRise)
	assert.Nil(t, sum.NextSet)
	assert.Equal(t, 0.0, sum.Percentage)
}

func TestForecast_Circumpolar(t *testing.T) {
	e := NewEngine(DefaultThresholdDeg, nil)
	end := solstice.Add(30 * 24 * time.Hour)
	samples := hourlySamples(solstice, 30*24, fixedPosition(100, 80))

	f, err := e.Forecast("3i", samples, newYork, solstice, end, solstice)
	require.NoError(t, err)

	require.Len(t, f.UpcomingWindows, 1)
	assert.Equal(t, solstice, f.UpcomingWindows[0].Start)
	assert.Equal(t, end, f.UpcomingWindows[0].End)
	assert.True(t, f.CurrentStatus.IsVisible)
	assert.Nil(t, f.NextRise)
	require.NotNil(t, f.NextSet)
	assert.Equal(t, end, *f.NextSet)
	assert.InDelta(t, 100, f.VisibilityPercentage, 1e-9)
	assert.Equal(t, "3i", f.ObjectID)
}

func TestForecast_NotVisibleHasNoNextSet(t *testing.T) {
	e := NewEngine(DefaultThresholdDeg, nil)
	end := solstice.Add(48 * time.Hour)
	samples := hourlySamples(solstice, 48, fixedPosition(180, 45))

	// Hour 8 sits between the first and second windows.
	now := solstice.Add(8 * time.Hour)
	f, err := e.Forecast("1i", samples, newYork, solstice, end, now)
	require.NoError(t, err)

	assert.False(t, f.CurrentStatus.IsVisible)
	assert.Nil(t, f.NextSet)
	require.NotNil(t, f.NextRise)
	assert.Equal(t, solstice.Add(17*time.Hour), *f.NextRise)
}

func TestBuildWindows_SingleSampleWindow(t *testing.T) {
	e := NewEngine(DefaultThresholdDeg, nil)
	low := newYork.Latitude - 90
	samples := []domain.EphemerisSample{
		{Time: solstice.Add(-time.Hour), RA: 100, Dec: low},
		{Time: solstice, RA: 180, Dec: 45},
		{Time: solstice.Add(time.Hour), RA: 100, Dec: low},
	}

	windows, err := e.BuildWindows(samples, newYork, solstice.Add(-time.Hour), solstice.Add(time.Hour))
	require.NoError(t, err)

	require.Len(t, windows, 1)
	assert.Equal(t, solstice, windows[0].Start)
	assert.Equal(t, solstice, windows[0].End)
	assert.Equal(t, solstice, windows[0].PeakTime)
	assert.Equal(t, 0.0, windows[0].DurationSeconds)
}

func TestBuildWindows_UnsortedInput(t *testing.T) {
	e := NewEngine(DefaultThresholdDeg, nil)
	end := solstice.Add(48 * time.Hour)
	samples := hourlySamples(solstice, 48, fixedPosition(180, 45))

	reversed := make([]domain.EphemerisSample, len(samples))
	for i := range samples {
		reversed[len(samples)-1-i] = samples[i]
	}

	want, err := e.BuildWindows(samples, newYork, solstice, end)
	require.NoError(t, err)
	got, err := e.BuildWindows(reversed, newYork, solstice, end)
	require.NoError(t, err)
	assert.Equal(t, want, got)
	assert.Equal(t, end, reversed[0].Time, "input must not be reordered in place")
}

func TestBuildWindows_RespectsPeriod(t *testing.T) {
	e := NewEngine(DefaultThresholdDeg, nil)
	samples := hourlySamples(solstice, 48, fixedPosition(180, 45))

	windows, err := e.BuildWindows(samples, newYork, solstice.Add(10*time.Hour), solstice.Add(20*time.Hour))
	require.NoError(t, err)
	require.Len(t, windows, 1)
	assert.Equal(t, solstice.Add(17*time.Hour), windows[0].Start)
	assert.Equal(t, solstice.Add(20*time.Hour), windows[0].End)
}

func TestBuildWindows_InvalidSample(t *testing.T) {
	e := NewEngine(DefaultThresholdDeg, nil)
	samples := hourlySamples(solstice, 4, fixedPosition(180, 45))
	samples[2].Dec = math.NaN()

	_, err := e.BuildWindows(samples, newYork, solstice, solstice.Add(4*time.Hour))
	require.ErrorIs(t, err, domain.ErrInvalidInput)

	_, err = e.Forecast("1i", samples, newYork, solstice, solstice.Add(4*time.Hour), solstice)
	require.ErrorIs(t, err, domain.ErrInvalidInput)
}

func TestForecast_NoSamples(t *testing.T) {
	e := NewEngine(DefaultThresholdDeg, nil)

	_, err := e.Forecast("1i", nil, newYork, solstice, solstice.Add(time.Hour), solstice)
	require.ErrorIs(t, err, domain.ErrNoEphemeris)
}

func TestSummarize_ClampsPercentage(t *testing.T) {
	start := solstice
	end := start.Add(time.Hour)
	windows := []domain.VisibilityWindow{{Start: start.Add(-2 * time.Hour), End: end}}

	sum := Summarize(windows, domain.VisibilityStatus{}, start, start, end)
	assert.Equal(t, 100.0, sum.Percentage)

	sum = Summarize(windows, domain.VisibilityStatus{}, start, end, start)
	assert.Equal(t, 0.0, sum.Percentage)
}

func TestNearest(t *testing.T) {
	samples := hourlySamples(solstice, 3, fixedPosition(10, 10))

	got, ok := Nearest(samples, solstice.Add(80*time.Minute))
	require.True(t, ok)
	assert.Equal(t, solstice.Add(time.Hour), got.Time)

	got, ok = Nearest(samples, solstice.Add(90*time.Minute))
	require.True(t, ok)
	assert.Equal(t, solstice.Add(time.Hour), got.Time, "ties resolve to the earlier sample")

	got, ok = Nearest(samples, solstice.Add(-24*time.Hour))
	require.True(t, ok)
	assert.Equal(t, solstice, got.Time)

	_, ok = Nearest(nil, solstice)
	assert.False(t, ok)
}
