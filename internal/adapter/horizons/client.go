// Package horizons fetches observer-table ephemerides from the JPL Horizons API.
package horizons

import (
	"context"
	"errors"
	"fmt"
	"io"
	"log/slog"
	"net/http"
	"net/url"
	"strings"
	"time"

	"github.com/couchcryptid/iso-visibility-service/internal/domain"
	"github.com/couchcryptid/iso-visibility-service/internal/observability"
	"github.com/hashicorp/go-retryablehttp"
	"github.com/sony/gobreaker/v2"
)

// maxBodyBytes bounds a single response; a 90-day hourly table is ~200 KB.
const maxBodyBytes = 8 << 20

// Client implements domain.EphemerisSource against the Horizons API.
type Client struct {
	baseURL    string
	httpClient *retryablehttp.Client
	breaker    *gobreaker.CircuitBreaker[[]domain.EphemerisSample]
	metrics    *observability.Metrics
	logger     *slog.Logger
}

// NewClient creates a Horizons client. Each attempt is bounded by timeout;
// 5xx responses and transport errors are retried up to retryMax times.
func NewClient(baseURL string, timeout time.Duration, retryMax int, logger *slog.Logger, metrics *observability.Metrics) *Client {
	rc := retryablehttp.NewClient()
	rc.HTTPClient.Timeout = timeout
	rc.RetryMax = retryMax
	rc.RetryWaitMin = 250 * time.Millisecond
	rc.RetryWaitMax = 2 * time.Second
	rc.Logger = nil
	// Report the final status ourselves instead of retryablehttp's "giving up".
	rc.ErrorHandler = retryablehttp.PassthroughErrorHandler

	c := &Client{
		baseURL:    baseURL,
		httpClient: rc,
		metrics:    metrics,
		logger:     logger,
	}
	c.breaker = newBreaker(logger, metrics)
	return c
}

func newBreaker(logger *slog.Logger, metrics *observability.Metrics) *gobreaker.CircuitBreaker[[]domain.EphemerisSample] {
	return gobreaker.NewCircuitBreaker[[]domain.EphemerisSample](gobreaker.Settings{
		Name:        "horizons",
		MaxRequests: 1,
		Interval:    time.Minute,
		Timeout:     30 * time.Second,
		ReadyToTrip: func(counts gobreaker.Counts) bool {
			return counts.ConsecutiveFailures >= 5
		},
		// An unknown designation is a valid answer, not an outage.
		IsSuccessful: func(err error) bool {
			return err == nil || errors.Is(err, domain.ErrObjectNotFound)
		},
		OnStateChange: func(name string, from, to gobreaker.State) {
			logger.Warn("circuit breaker state change", "breaker", name, "from", from.String(), "to", to.String())
			if to == gobreaker.StateOpen {
				metrics.CircuitBreakerOpen.Set(1)
			} else {
				metrics.CircuitBreakerOpen.Set(0)
			}
		},
	})
}

// FetchEphemeris returns samples in [start, end] at the given step.
// Transport failures, timeouts, and an open circuit are wrapped in
// domain.ErrUpstreamUnavailable.
func (c *Client) FetchEphemeris(ctx context.Context, designation string, start, end time.Time, step time.Duration) ([]domain.EphemerisSample, error) {
	if designation == "" || !end.After(start) || step < time.Minute {
		return nil, fmt.Errorf("%w: horizons query for %q [%s, %s] step %s", domain.ErrInvalidInput, designation, start, end, step)
	}

	began := time.Now()
	samples, err := c.breaker.Execute(func() ([]domain.EphemerisSample, error) {
		return c.fetch(ctx, designation, start, end, step)
	})
	c.metrics.EphemerisFetchDuration.Observe(time.Since(began).Seconds())

	switch {
	case errors.Is(err, gobreaker.ErrOpenState), errors.Is(err, gobreaker.ErrTooManyRequests):
		c.metrics.EphemerisFetches.WithLabelValues("circuit_open").Inc()
		return nil, fmt.Errorf("%w: horizons circuit open", domain.ErrUpstreamUnavailable)
	case errors.Is(err, domain.ErrObjectNotFound):
		c.metrics.EphemerisFetches.WithLabelValues("not_found").Inc()
		return nil, err
	case err != nil:
		c.metrics.EphemerisFetches.WithLabelValues("error").Inc()
		return nil, fmt.Errorf("%w: %w", domain.ErrUpstreamUnavailable, err)
	}

	if len(samples) == 0 {
		c.metrics.EphemerisFetches.WithLabelValues("empty").Inc()
		return nil, nil
	}
	c.metrics.EphemerisFetches.WithLabelValues("success").Inc()
	c.metrics.EphemerisSamples.Observe(float64(len(samples)))
	c.logger.Debug("horizons ephemeris fetched", "designation", designation, "samples", len(samples), "duration", time.Since(began))
	return samples, nil
}

func (c *Client) fetch(ctx context.Context, designation string, start, end time.Time, step time.Duration) ([]domain.EphemerisSample, error) {
	fullURL := c.baseURL + "?" + queryParams(designation, start, end, step).Encode()

	req, err := retryablehttp.NewRequestWithContext(ctx, http.MethodGet, fullURL, nil)
	if err != nil {
		return nil, fmt.Errorf("create request: %w", err)
	}

	resp, err := c.httpClient.Do(req)
	if err != nil {
		return nil, fmt.Errorf("horizons request: %w", err)
	}
	defer resp.Body.Close()

	body, err := io.ReadAll(io.LimitReader(resp.Body, maxBodyBytes))
	if err != nil {
		return nil, fmt.Errorf("read response: %w", err)
	}

	// Horizons reports bad queries as 400 with a JSON error envelope.
	if resp.StatusCode != http.StatusOK && resp.StatusCode != http.StatusBadRequest {
		return nil, fmt.Errorf("horizons API error: status %d: %s", resp.StatusCode, truncate(body, 256))
	}

	return parseResponse(body)
}

func queryParams(designation string, start, end time.Time, step time.Duration) url.Values {
	return url.Values{
		"format":      {"json"},
		"COMMAND":     {quote(command(designation))},
		"OBJ_DATA":    {"NO"},
		"MAKE_EPHEM":  {"YES"},
		"EPHEM_TYPE":  {"OBSERVER"},
		"CENTER":      {quote("500@399")},
		"START_TIME":  {quote(formatTime(start))},
		"STOP_TIME":   {quote(formatTime(end))},
		"STEP_SIZE":   {quote(formatStep(step))},
		"QUANTITIES":  {quote("1,9,20")},
		"ANG_FORMAT":  {"DEG"},
		"CSV_FORMAT":  {"YES"},
		"TIME_DIGITS": {"MINUTES"},
	}
}

// command turns a small-body designation into a Horizons lookup. Explicit
// Horizons syntax (anything with '=' or ';') passes through unchanged.
func command(designation string) string {
	if strings.ContainsAny(designation, "=;") {
		return designation
	}
	return "DES=" + designation + ";CAP;NOFRAG"
}

func quote(s string) string {
	return "'" + s + "'"
}

func formatTime(t time.Time) string {
	return t.UTC().Format("2006-01-02 15:04")
}

func formatStep(d time.Duration) string {
	minutes := int(d.Minutes())
	if minutes >= 60 && minutes%60 == 0 {
		return fmt.Sprintf("%d h", minutes/60)
	}
	return fmt.Sprintf("%d m", minutes)
}

func truncate(b []byte, n int) string {
	if len(b) <= n {
		return string(b)
	}
	return string(b[:n]) + "..."
}
