package domain

import (
	"context"
	"time"
)

// EphemerisSource fetches position samples for an object over a time range.
// Implementations return ErrObjectNotFound when the designation is unknown
// upstream; an empty slice with a nil error means the source has no data.
type EphemerisSource interface {
	FetchEphemeris(ctx context.Context, designation string, start, end time.Time, step time.Duration) ([]EphemerisSample, error)
}

// ObjectRegistry resolves public object ids to upstream designations.
type ObjectRegistry interface {
	Resolve(ctx context.Context, id string) (Object, error)
}

// WindowPublisher announces computed observation windows.
type WindowPublisher interface {
	PublishWindows(ctx context.Context, event WindowEvent) error
}
