// Package visibility turns ephemeris samples into point-in-time visibility
// answers and aggregated observation windows for one observer.
package visibility

import (
	"fmt"
	"sort"
	"time"

	"github.com/couchcryptid/iso-visibility-service/internal/astro"
	"github.com/couchcryptid/iso-visibility-service/internal/domain"
)

// DefaultThresholdDeg is the minimum geometric altitude for a usable observation.
const DefaultThresholdDeg = 20.0

// Airmass ceilings for each quality tier.
const (
	excellentAirmass = 1.5
	goodAirmass      = 2.0
	fairAirmass      = 3.0
)

// Engine classifies samples and aggregates them into windows. It is stateless
// apart from its configuration and safe for concurrent use.
type Engine struct {
	thresholdDeg float64
	sky          SkyConditions
}

// NewEngine creates an engine with the given altitude threshold. A nil sky
// defaults to DarkSky.
func NewEngine(thresholdDeg float64, sky SkyConditions) *Engine {
	if sky == nil {
		sky = DarkSky{}
	}
	return &Engine{thresholdDeg: thresholdDeg, sky: sky}
}

// Classify grades a horizontal coordinate observed at t.
func (e *Engine) Classify(coord domain.HorizontalCoordinate, obs domain.ObserverLocation, t time.Time) (bool, domain.Quality) {
	if coord.AltitudeDeg <= e.thresholdDeg {
		return false, domain.QualityNotVisible
	}

	daytime := e.sky.IsDaytime(obs, t)
	moonUp := e.sky.IsMoonUp(obs, t)

	switch {
	case coord.Airmass < excellentAirmass && !daytime && !moonUp:
		return true, domain.QualityExcellent
	case coord.Airmass < goodAirmass && !daytime:
		return true, domain.QualityGood
	case coord.Airmass < fairAirmass:
		return true, domain.QualityFair
	default:
		return true, domain.QualityPoor
	}
}

// Status answers whether the object is visible at the sample's instant.
func (e *Engine) Status(s domain.EphemerisSample, obs domain.ObserverLocation) domain.VisibilityStatus {
	coord := astro.ToHorizontal(s.RA, s.Dec, obs, s.Time)
	visible, quality := e.Classify(coord, obs, s.Time)

	return domain.VisibilityStatus{
		At:                  s.Time,
		IsVisible:           visible,
		AltitudeDeg:         coord.AltitudeDeg,
		ApparentAltitudeDeg: astro.ApparentAltitude(coord.AltitudeDeg),
		AzimuthDeg:          coord.AzimuthDeg,
		Airmass:             domain.Airmass(coord.Airmass),
		Quality:             quality,
	}
}

// windowAccumulator tracks the currently open window while scanning samples.
type windowAccumulator struct {
	start     time.Time
	end       time.Time
	peakTime  time.Time
	peakCoord domain.HorizontalCoordinate
}

// BuildWindows scans samples inside [start, end] in time order and returns
// the maximal runs of visible samples. Windows are non-overlapping and
// ordered by start time. A sample with invalid coordinates fails the call.
func (e *Engine) BuildWindows(samples []domain.EphemerisSample, obs domain.ObserverLocation, start, end time.Time) ([]domain.VisibilityWindow, error) {
	var (
		windows []domain.VisibilityWindow
		open    *windowAccumulator
	)

	closeWindow := func() {
		_, quality := e.Classify(open.peakCoord, obs, open.peakTime)
		windows = append(windows, domain.VisibilityWindow{
			Start:           open.start,
			End:             open.end,
			PeakTime:        open.peakTime,
			PeakAltitudeDeg: open.peakCoord.AltitudeDeg,
			DurationSeconds: open.end.Sub(open.start).Seconds(),
			Quality:         quality,
		})
		open = nil
	}

	for _, s := range sortedByTime(samples) {
		if s.Time.Before(start) || s.Time.After(end) {
			continue
		}
		if err := s.Validate(); err != nil {
			return nil, fmt.Errorf("build windows: %w", err)
		}

		coord := astro.ToHorizontal(s.RA, s.Dec, obs, s.Time)
		if coord.AltitudeDeg <= e.thresholdDeg {
			if open != nil {
				closeWindow()
			}
			continue
		}

		if open == nil {
			open = &windowAccumulator{start: s.Time, peakTime: s.Time, peakCoord: coord}
		}
		open.end = s.Time
		if coord.AltitudeDeg > open.peakCoord.AltitudeDeg {
			open.peakTime = s.Time
			open.peakCoord = coord
		}
	}
	if open != nil {
		closeWindow()
	}

	return windows, nil
}

// Summary holds the aggregates derived from a window list.
type Summary struct {
	NextRise   *time.Time
	NextSet    *time.Time
	Percentage float64
}

// Summarize derives next rise, next set, and the share of the period spent
// visible. current is the status used for "now"; NextSet is only set while
// the object is visible.
func Summarize(windows []domain.VisibilityWindow, current domain.VisibilityStatus, now, start, end time.Time) Summary {
	var sum Summary

	for i := range windows {
		if windows[i].Start.After(now) {
			rise := windows[i].Start
			sum.NextRise = &rise
			break
		}
	}

	if current.IsVisible {
		for i := range windows {
			if windows[i].Contains(current.At) {
				set := windows[i].End
				sum.NextSet = &set
				break
			}
		}
	}

	period := end.Sub(start)
	if period <= 0 {
		return sum
	}
	var visible time.Duration
	for i := range windows {
		visible += windows[i].Duration()
	}
	pct := float64(visible) / float64(period) * 100
	sum.Percentage = min(max(pct, 0), 100)

	return sum
}

// Nearest returns the sample closest in time to t. Ties go to the earlier
// sample. It reports false for an empty series.
func Nearest(samples []domain.EphemerisSample, t time.Time) (domain.EphemerisSample, bool) {
	if len(samples) == 0 {
		return domain.EphemerisSample{}, false
	}

	best := samples[0]
	bestDiff := absDuration(best.Time.Sub(t))
	for _, s := range samples[1:] {
		d := absDuration(s.Time.Sub(t))
		if d < bestDiff || (d == bestDiff && s.Time.Before(best.Time)) {
			best, bestDiff = s, d
		}
	}
	return best, true
}

// Forecast runs the full pipeline for one observer: current status at now,
// windows over [start, end], and their summary. It fails without a partial
// result when samples are empty or any in-period sample is invalid.
func (e *Engine) Forecast(objectID string, samples []domain.EphemerisSample, obs domain.ObserverLocation, start, end, now time.Time) (domain.VisibilityForecast, error) {
	nearest, ok := Nearest(samples, now)
	if !ok {
		return domain.VisibilityForecast{}, domain.ErrNoEphemeris
	}
	if err := nearest.Validate(); err != nil {
		return domain.VisibilityForecast{}, fmt.Errorf("current status: %w", err)
	}

	windows, err := e.BuildWindows(samples, obs, start, end)
	if err != nil {
		return domain.VisibilityForecast{}, err
	}

	current := e.Status(nearest, obs)
	sum := Summarize(windows, current, now, start, end)

	if windows == nil {
		windows = []domain.VisibilityWindow{}
	}
	return domain.VisibilityForecast{
		ObjectID:             objectID,
		Observer:             obs,
		PeriodStart:          start,
		PeriodEnd:            end,
		CurrentStatus:        current,
		NextRise:             sum.NextRise,
		NextSet:              sum.NextSet,
		UpcomingWindows:      windows,
		VisibilityPercentage: sum.Percentage,
		GeneratedAt:          now,
	}, nil
}

func sortedByTime(samples []domain.EphemerisSample) []domain.EphemerisSample {
	less := func(i, j int) bool { return samples[i].Time.Before(samples[j].Time) }
	if sort.SliceIsSorted(samples, less) {
		return samples
	}
	out := make([]domain.EphemerisSample, len(samples))
	copy(out, samples)
	sort.SliceStable(out, func(i, j int) bool { return out[i].Time.Before(out[j].Time) })
	return out
}

func absDuration(d time.Duration) time.Duration {
	if d < 0 {
		return -d
	}
	return d
}
