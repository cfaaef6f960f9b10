package domain

import "errors"

// Sentinel errors shared across packages. Wrap with fmt.Errorf("...: %w", err)
// and match with errors.Is.
var (
	// ErrInvalidInput marks caller mistakes: bad coordinates, NaN values,
	// malformed periods.
	ErrInvalidInput = errors.New("invalid input")

	// ErrObjectNotFound is returned when the object id is unknown to the
	// registry or the upstream source.
	ErrObjectNotFound = errors.New("object not found")

	// ErrNoEphemeris means the upstream answered but had no samples for the
	// period and no cached fallback exists.
	ErrNoEphemeris = errors.New("no ephemeris data available")

	// ErrUpstreamUnavailable covers fetch timeouts, transport failures, and an
	// open circuit when no stale cache could stand in.
	ErrUpstreamUnavailable = errors.New("ephemeris source unavailable")
)

// IsNotFound reports whether err belongs to the not-found class.
func IsNotFound(err error) bool {
	return errors.Is(err, ErrObjectNotFound) || errors.Is(err, ErrNoEphemeris)
}
