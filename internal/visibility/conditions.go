package visibility

import (
	"time"

	"github.com/couchcryptid/iso-visibility-service/internal/domain"
)

// SkyConditions answers whether the sky is too bright at an observer's site.
type SkyConditions interface {
	IsDaytime(obs domain.ObserverLocation, t time.Time) bool
	IsMoonUp(obs domain.ObserverLocation, t time.Time) bool
}

// DarkSky reports a permanently dark, moonless sky. Solar and lunar positions
// are not modelled yet, so quality grades depend on airmass alone.
type DarkSky struct{}

func (DarkSky) IsDaytime(domain.ObserverLocation, time.Time) bool { return false }

func (DarkSky) IsMoonUp(domain.ObserverLocation, time.Time) bool { return false }
