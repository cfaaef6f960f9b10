// Package domain models interstellar-object ephemerides and the visibility
// answers derived from them.
//
// # Data Source
//
// Positions come from the JPL Horizons observer-table API as hourly samples of
// right ascension and declination (ICRF, degrees), with geocentric distance
// (AU) and apparent magnitude when Horizons reports them. Samples are
// observer-independent; the observer's latitude and longitude are applied
// later when each sample is projected onto the local sky.
//
// # Conventions
//
// Angles are degrees throughout. Azimuth is measured from north through east
// and normalised to [0, 360). Times are UTC.
//
// Airmass:
//
//	+Inf below the horizon. JSON renders it as null.
//	The Pickering (2002) formula keeps values finite at the horizon itself.
//
// Visibility:
//
//	An object is visible when its geometric altitude exceeds the engine
//	threshold (20 degrees by default). Quality tiers are excellent, good,
//	fair, poor, and not_visible, graded from airmass.
//
// Windows:
//
//	A window is a maximal run of consecutive visible samples. Its start and
//	end are sample timestamps, so a lone visible sample yields a
//	zero-length window. Windows in one forecast never overlap.
//
// # Known approximation
//
// Daytime and moon-up checks are not modelled: the sky-conditions hook always
// reports a dark, moonless sky. Excellent ratings therefore only reflect
// airmass.
package domain
