// Package notify decides whether a user may receive a notification and keeps
// the per-day send counters that back the decision.
package notify

import (
	"context"
	"errors"
	"fmt"
	"log/slog"
	"time"

	"github.com/couchcryptid/iso-visibility-service/internal/config"
	"github.com/couchcryptid/iso-visibility-service/internal/domain"
	"github.com/couchcryptid/iso-visibility-service/internal/observability"
	"github.com/jonboulle/clockwork"
)

// Category is a kind of notification a user can opt into.
type Category string

const (
	CategoryReply             Category = "reply"
	CategoryEvidence          Category = "evidence"
	CategoryObservationWindow Category = "observation_window"
)

// ParseCategory validates a category name.
func ParseCategory(s string) (Category, error) {
	switch c := Category(s); c {
	case CategoryReply, CategoryEvidence, CategoryObservationWindow:
		return c, nil
	}
	return "", fmt.Errorf("%w: unknown notification category %q", domain.ErrInvalidInput, s)
}

// Reason explains a denied decision.
type Reason string

const (
	ReasonNoPreferences    Reason = "no_preferences"
	ReasonUnsubscribed     Reason = "unsubscribed"
	ReasonCategoryDisabled Reason = "category_disabled"
	ReasonRateLimited      Reason = "rate_limited"
)

// DefaultTier applies to users whose tier has no configured limits.
const DefaultTier = "free"

// ErrNoPreferences is returned by a Store when the user has never saved
// preferences.
var ErrNoPreferences = errors.New("notification preferences not found")

// Preferences are a user's notification settings.
type Preferences struct {
	UserID            string    `json:"user_id"`
	Tier              string    `json:"tier"`
	Unsubscribed      bool      `json:"unsubscribed"`
	Reply             bool      `json:"reply"`
	Evidence          bool      `json:"evidence"`
	ObservationWindow bool      `json:"observation_window"`
	UpdatedAt         time.Time `json:"updated_at"`
}

// Enabled reports whether the user opted into c.
func (p Preferences) Enabled(c Category) bool {
	switch c {
	case CategoryReply:
		return p.Reply
	case CategoryEvidence:
		return p.Evidence
	case CategoryObservationWindow:
		return p.ObservationWindow
	}
	return false
}

// Decision is the outcome of CanSend. Sent and Limit are populated once the
// rate check is reached.
type Decision struct {
	Allowed bool   `json:"allowed"`
	Reason  Reason `json:"reason,omitempty"`
	Sent    int    `json:"sent_today"`
	Limit   int    `json:"daily_limit"`
}

// Store persists preferences and daily counters. day is a UTC date in
// YYYY-MM-DD form.
type Store interface {
	Preferences(ctx context.Context, userID string) (Preferences, error)
	SentCount(ctx context.Context, userID string, category Category, day string) (int, error)
	IncrementSent(ctx context.Context, userID string, category Category, day string) (int, error)
}

// Policy applies preference and tier rate-limit checks.
type Policy struct {
	store   Store
	limits  map[string]config.CategoryLimits
	clock   clockwork.Clock
	logger  *slog.Logger
	metrics *observability.Metrics
}

// NewPolicy creates a Policy with the given per-tier daily limits.
func NewPolicy(store Store, limits map[string]config.CategoryLimits, clock clockwork.Clock, logger *slog.Logger, metrics *observability.Metrics) *Policy {
	return &Policy{store: store, limits: limits, clock: clock, logger: logger, metrics: metrics}
}

// CanSend evaluates, in order: preferences exist, user not unsubscribed,
// category enabled, today's count below the tier limit.
func (p *Policy) CanSend(ctx context.Context, userID string, category Category) (Decision, error) {
	if userID == "" {
		return Decision{}, fmt.Errorf("%w: user id is required", domain.ErrInvalidInput)
	}
	if _, err := ParseCategory(string(category)); err != nil {
		return Decision{}, err
	}

	prefs, err := p.store.Preferences(ctx, userID)
	if errors.Is(err, ErrNoPreferences) {
		return p.deny(category, ReasonNoPreferences, Decision{}), nil
	}
	if err != nil {
		return Decision{}, fmt.Errorf("load preferences for %s: %w", userID, err)
	}
	if prefs.Unsubscribed {
		return p.deny(category, ReasonUnsubscribed, Decision{}), nil
	}
	if !prefs.Enabled(category) {
		return p.deny(category, ReasonCategoryDisabled, Decision{}), nil
	}

	limit := p.limitFor(prefs.Tier, category)
	sent, err := p.store.SentCount(ctx, userID, category, DayKey(p.clock.Now()))
	if err != nil {
		return Decision{}, fmt.Errorf("load send count for %s: %w", userID, err)
	}
	d := Decision{Sent: sent, Limit: limit}
	if sent >= limit {
		return p.deny(category, ReasonRateLimited, d), nil
	}

	d.Allowed = true
	p.metrics.NotificationDecisions.WithLabelValues(string(category), "allowed").Inc()
	return d, nil
}

// RecordSend increments today's counter. Callers invoke it once per
// notification actually delivered.
func (p *Policy) RecordSend(ctx context.Context, userID string, category Category) (int, error) {
	if userID == "" {
		return 0, fmt.Errorf("%w: user id is required", domain.ErrInvalidInput)
	}
	if _, err := ParseCategory(string(category)); err != nil {
		return 0, err
	}

	day := DayKey(p.clock.Now())
	n, err := p.store.IncrementSent(ctx, userID, category, day)
	if err != nil {
		return 0, fmt.Errorf("record send for %s: %w", userID, err)
	}
	p.logger.Debug("notification send recorded", "user_id", userID, "category", category, "day", day, "count", n)
	return n, nil
}

func (p *Policy) deny(category Category, reason Reason, d Decision) Decision {
	d.Allowed = false
	d.Reason = reason
	p.metrics.NotificationDecisions.WithLabelValues(string(category), string(reason)).Inc()
	return d
}

func (p *Policy) limitFor(tier string, category Category) int {
	l, ok := p.limits[tier]
	if !ok {
		l = p.limits[DefaultTier]
	}
	switch category {
	case CategoryReply:
		return l.Reply
	case CategoryEvidence:
		return l.Evidence
	default:
		return l.ObservationWindow
	}
}

// DayKey is the UTC calendar day counters are bucketed by.
func DayKey(t time.Time) string {
	return t.UTC().Format(time.DateOnly)
}
