// Package astro converts equatorial positions into the observer's local sky.
//
// The sidereal-time model is the low-precision linear formula (good to a few
// arcminutes over decades), which is ample for choosing observation windows.
package astro

import (
	"math"
	"time"

	"github.com/couchcryptid/iso-visibility-service/internal/domain"
)

// j2000 is the J2000.0 epoch, 2000-01-01 12:00 UTC.
var j2000 = time.Date(2000, time.January, 1, 12, 0, 0, 0, time.UTC)

// LocalSiderealTime returns LST in degrees [0, 360) for a UTC instant and an
// east-positive longitude.
func LocalSiderealTime(t time.Time, lonDeg float64) float64 {
	t = t.UTC()
	days := t.Sub(j2000).Hours() / 24
	utHours := float64(t.Hour()) + float64(t.Minute())/60 + float64(t.Second())/3600 + float64(t.Nanosecond())/3600e9

	return normalizeDegrees(100.46 + 0.985647*days + lonDeg + 15*utHours)
}

// HourAngle returns the hour angle in degrees [0, 360).
func HourAngle(lstDeg, raDeg float64) float64 {
	return normalizeDegrees(lstDeg - raDeg + 360)
}

// ToHorizontal projects an equatorial position onto the observer's sky at t.
// Azimuth is measured from north through east.
func ToHorizontal(raDeg, decDeg float64, obs domain.ObserverLocation, t time.Time) domain.HorizontalCoordinate {
	lat := degToRad(obs.Latitude)
	dec := degToRad(decDeg)
	ha := degToRad(HourAngle(LocalSiderealTime(t, obs.Longitude), raDeg))

	sinAlt := clamp(math.Sin(dec)*math.Sin(lat)+math.Cos(dec)*math.Cos(lat)*math.Cos(ha), -1, 1)
	alt := math.Asin(sinAlt)

	var az float64
	// Azimuth is undefined at the zenith and at the poles.
	if denom := math.Cos(alt) * math.Cos(lat); math.Abs(denom) > 1e-12 {
		cosAz := clamp((math.Sin(dec)-math.Sin(alt)*math.Sin(lat))/denom, -1, 1)
		az = math.Acos(cosAz)
		if math.Sin(ha) > 0 {
			az = 2*math.Pi - az
		}
	}

	altDeg := radToDeg(alt)
	return domain.HorizontalCoordinate{
		AltitudeDeg: altDeg,
		AzimuthDeg:  normalizeDegrees(radToDeg(az)),
		Airmass:     Airmass(altDeg),
	}
}

// Airmass returns the relative optical path length for a geometric altitude
// using Pickering (2002). Below the horizon it is +Inf.
func Airmass(altDeg float64) float64 {
	switch {
	case math.IsNaN(altDeg) || altDeg < 0:
		return math.Inf(1)
	case altDeg > 85:
		return 1 / math.Cos(degToRad(90-altDeg))
	default:
		return 1 / math.Sin(degToRad(altDeg+244/(165+47*math.Pow(altDeg, 1.1))))
	}
}

// ApparentAltitude lifts a geometric altitude by Bennett's refraction for
// standard pressure and temperature. Altitudes far below the horizon are
// returned unchanged.
func ApparentAltitude(altDeg float64) float64 {
	if altDeg < -1 || altDeg >= 90 {
		return altDeg
	}
	arcmin := 1 / math.Tan(degToRad(altDeg+7.31/(altDeg+4.4)))
	return math.Min(altDeg+arcmin/60, 90)
}

func normalizeDegrees(deg float64) float64 {
	deg = math.Mod(deg, 360)
	if deg < 0 {
		deg += 360
	}
	// math.Mod of a tiny negative value can round back up to 360.
	if deg >= 360 {
		deg = 0
	}
	return deg
}

func clamp(v, lo, hi float64) float64 {
	return math.Max(lo, math.Min(hi, v))
}

func degToRad(deg float64) float64 {
	return deg * math.Pi / 180
}

func radToDeg(rad float64) float64 {
	return rad * 180 / math.Pi
}
