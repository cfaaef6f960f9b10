package domain

import (
	"bytes"
	"fmt"
	"math"
	"strconv"
	"time"
)

// Object is a tracked interstellar object as known to the registry.
type Object struct {
	ID          string `json:"id"`
	Designation string `json:"designation"` // upstream lookup designation, e.g. "C/2025 N1"
	Name        string `json:"name"`
}

// EphemerisSample is the position of an object at one instant, as reported by
// the upstream ephemeris source. RA and Dec are degrees (J2000).
type EphemerisSample struct {
	Time       time.Time `json:"time"`
	RA         float64   `json:"ra"`
	Dec        float64   `json:"dec"`
	DistanceAU *float64  `json:"distance_au,omitempty"`
	Magnitude  *float64  `json:"magnitude,omitempty"`
}

// Validate rejects non-finite or out-of-range coordinates.
func (s EphemerisSample) Validate() error {
	if math.IsNaN(s.RA) || math.IsInf(s.RA, 0) || s.RA < 0 || s.RA > 360 {
		return fmt.Errorf("%w: ra %v at %s", ErrInvalidInput, s.RA, s.Time.Format(time.RFC3339))
	}
	if math.IsNaN(s.Dec) || s.Dec < -90 || s.Dec > 90 {
		return fmt.Errorf("%w: dec %v at %s", ErrInvalidInput, s.Dec, s.Time.Format(time.RFC3339))
	}
	return nil
}

// ObserverLocation is a point on Earth in geodetic degrees.
type ObserverLocation struct {
	Latitude        float64 `json:"lat"`
	Longitude       float64 `json:"lon"`
	ElevationMeters float64 `json:"elevation_m,omitempty"`
}

// Validate rejects NaN and out-of-range coordinates.
func (o ObserverLocation) Validate() error {
	if math.IsNaN(o.Latitude) || o.Latitude < -90 || o.Latitude > 90 {
		return fmt.Errorf("%w: latitude must be within [-90, 90]", ErrInvalidInput)
	}
	if math.IsNaN(o.Longitude) || o.Longitude < -180 || o.Longitude > 180 {
		return fmt.Errorf("%w: longitude must be within [-180, 180]", ErrInvalidInput)
	}
	if math.IsNaN(o.ElevationMeters) || math.IsInf(o.ElevationMeters, 0) {
		return fmt.Errorf("%w: elevation must be finite", ErrInvalidInput)
	}
	return nil
}

// HorizontalCoordinate is a position in the observer's local sky.
// Airmass is +Inf when the object is below the horizon.
type HorizontalCoordinate struct {
	AltitudeDeg float64
	AzimuthDeg  float64
	Airmass     float64
}

// Airmass marshals infinite values as JSON null.
type Airmass float64

func (a Airmass) MarshalJSON() ([]byte, error) {
	f := float64(a)
	if math.IsInf(f, 0) || math.IsNaN(f) {
		return []byte("null"), nil
	}
	return strconv.AppendFloat(nil, f, 'f', -1, 64), nil
}

func (a *Airmass) UnmarshalJSON(b []byte) error {
	if bytes.Equal(b, []byte("null")) {
		*a = Airmass(math.Inf(1))
		return nil
	}
	f, err := strconv.ParseFloat(string(b), 64)
	if err != nil {
		return fmt.Errorf("parse airmass: %w", err)
	}
	*a = Airmass(f)
	return nil
}

// Quality grades how favourable an observation is.
type Quality string

const (
	QualityExcellent  Quality = "excellent"
	QualityGood       Quality = "good"
	QualityFair       Quality = "fair"
	QualityPoor       Quality = "poor"
	QualityNotVisible Quality = "not_visible"
)

// VisibilityStatus is the point-in-time answer for one sample.
type VisibilityStatus struct {
	At                  time.Time `json:"at"`
	IsVisible           bool      `json:"is_visible"`
	AltitudeDeg         float64   `json:"altitude_deg"`
	ApparentAltitudeDeg float64   `json:"apparent_altitude_deg"`
	AzimuthDeg          float64   `json:"azimuth_deg"`
	Airmass             Airmass   `json:"airmass"`
	Quality             Quality   `json:"quality"`
}

// VisibilityWindow is a maximal run of consecutive visible samples.
type VisibilityWindow struct {
	Start           time.Time `json:"start"`
	End             time.Time `json:"end"`
	PeakTime        time.Time `json:"peak_time"`
	PeakAltitudeDeg float64   `json:"peak_altitude_deg"`
	DurationSeconds float64   `json:"duration_seconds"`
	Quality         Quality   `json:"quality"`
}

// Duration returns the window length.
func (w VisibilityWindow) Duration() time.Duration {
	return w.End.Sub(w.Start)
}

// Contains reports whether t falls inside the window, inclusive.
func (w VisibilityWindow) Contains(t time.Time) bool {
	return !t.Before(w.Start) && !t.After(w.End)
}

// VisibilityForecast is the assembled answer for one object, observer, and period.
type VisibilityForecast struct {
	ObjectID             string             `json:"object_id"`
	Observer             ObserverLocation   `json:"observer"`
	PeriodStart          time.Time          `json:"period_start"`
	PeriodEnd            time.Time          `json:"period_end"`
	CurrentStatus        VisibilityStatus   `json:"current_status"`
	NextRise             *time.Time         `json:"next_rise"`
	NextSet              *time.Time         `json:"next_set"`
	UpcomingWindows      []VisibilityWindow `json:"upcoming_windows"`
	VisibilityPercentage float64            `json:"visibility_percentage"`
	UsedStaleCache       bool               `json:"used_stale_cache"`
	GeneratedAt          time.Time          `json:"generated_at"`
}

// WindowEvent announces freshly computed observation windows to downstream
// consumers (e.g. the notification dispatcher).
type WindowEvent struct {
	ObjectID    string             `json:"object_id"`
	Observer    ObserverLocation   `json:"observer"`
	PeriodStart time.Time          `json:"period_start"`
	PeriodEnd   time.Time          `json:"period_end"`
	Windows     []VisibilityWindow `json:"windows"`
	GeneratedAt time.Time          `json:"generated_at"`
}
