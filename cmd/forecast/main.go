// Command forecast computes a visibility forecast for one object and observer
// against the Horizons API and prints it as JSON. Nothing is persisted unless
// -db or -cache-dir point at real paths.
//
// Usage:
//
//	go run ./cmd/forecast -object 3i -lat 40.7128 -lon -74.0060 -days 7
//	go run ./cmd/forecast -object 4i -designation "C/2031 X1" -lat 51.5 -lon 0 -start 2031-02-01
package main

import (
	"context"
	"flag"
	"fmt"
	"io"
	"log/slog"
	"os"
	"os/signal"
	"syscall"
	"time"

	"github.com/couchcryptid/iso-visibility-service/internal/adapter/horizons"
	"github.com/couchcryptid/iso-visibility-service/internal/adapter/sqlite"
	"github.com/couchcryptid/iso-visibility-service/internal/cache"
	"github.com/couchcryptid/iso-visibility-service/internal/config"
	"github.com/couchcryptid/iso-visibility-service/internal/domain"
	"github.com/couchcryptid/iso-visibility-service/internal/forecast"
	"github.com/couchcryptid/iso-visibility-service/internal/observability"
	"github.com/couchcryptid/iso-visibility-service/internal/visibility"
	json "github.com/goccy/go-json"
	"github.com/jonboulle/clockwork"
)

func main() {
	ctx, stop := signal.NotifyContext(context.Background(), syscall.SIGINT, syscall.SIGTERM)
	defer stop()
	os.Exit(run(ctx, os.Args[1:], os.Stdout, os.Stderr))
}

type options struct {
	object      string
	designation string
	lat, lon    float64
	start       string
	days        int
	threshold   float64
	horizonsURL string
	timeout     time.Duration
	dbPath      string
	cacheDir    string
	verbose     bool
}

func parseFlags(args []string, stderr io.Writer) (options, error) {
	var o options
	fs := flag.NewFlagSet("forecast", flag.ContinueOnError)
	fs.SetOutput(stderr)
	fs.StringVar(&o.object, "object", "", "object id, e.g. 3i")
	fs.StringVar(&o.designation, "designation", "", "Horizons designation; registers -object if it is unknown")
	fs.Float64Var(&o.lat, "lat", 0, "observer latitude in degrees")
	fs.Float64Var(&o.lon, "lon", 0, "observer longitude in degrees, east positive")
	fs.StringVar(&o.start, "start", "", "period start, RFC 3339 or YYYY-MM-DD (default now)")
	fs.IntVar(&o.days, "days", 30, "period length in days (1-90)")
	fs.Float64Var(&o.threshold, "threshold", visibility.DefaultThresholdDeg, "minimum altitude in degrees")
	fs.StringVar(&o.horizonsURL, "horizons-url", config.DefaultHorizonsURL, "Horizons API endpoint")
	fs.DurationVar(&o.timeout, "timeout", 30*time.Second, "upstream request timeout")
	fs.StringVar(&o.dbPath, "db", ":memory:", "SQLite registry path")
	fs.StringVar(&o.cacheDir, "cache-dir", "", "Badger cache directory (default in-memory)")
	fs.BoolVar(&o.verbose, "v", false, "log to stderr")
	if err := fs.Parse(args); err != nil {
		return o, err
	}
	if o.object == "" {
		fs.Usage()
		return o, fmt.Errorf("-object is required")
	}
	return o, nil
}

func run(ctx context.Context, args []string, stdout, stderr io.Writer) int {
	opts, err := parseFlags(args, stderr)
	if err != nil {
		fmt.Fprintln(stderr, err)
		return 2
	}

	level := slog.LevelWarn
	if opts.verbose {
		level = slog.LevelDebug
	}
	logger := slog.New(slog.NewTextHandler(stderr, &slog.HandlerOptions{Level: level}))
	metrics := observability.NewUnregisteredMetrics()

	var start time.Time
	if opts.start != "" {
		if start, err = parseStart(opts.start); err != nil {
			fmt.Fprintln(stderr, err)
			return 2
		}
	}

	store, err := sqlite.Open(ctx, opts.dbPath)
	if err != nil {
		fmt.Fprintln(stderr, err)
		return 1
	}
	defer store.Close()

	if opts.designation != "" {
		if err := store.UpsertObject(ctx, domain.Object{ID: opts.object, Designation: opts.designation}); err != nil {
			fmt.Fprintln(stderr, err)
			return 1
		}
	}

	durable, err := cache.OpenBadger(opts.cacheDir)
	if err != nil {
		fmt.Fprintln(stderr, err)
		return 1
	}
	defer durable.Close()

	clock := clockwork.NewRealClock()
	c := cache.New(durable, cache.NewMemoryStore(16), cache.DefaultTTL, clock, logger, metrics)
	assembler := forecast.NewAssembler(
		store,
		horizons.NewClient(opts.horizonsURL, opts.timeout, 2, logger, metrics),
		c,
		visibility.NewEngine(opts.threshold, visibility.DarkSky{}),
		nil, clock,
		forecast.Options{Step: time.Hour, FetchTimeout: opts.timeout},
		logger, metrics,
	)

	res, err := assembler.GetForecast(ctx, forecast.Request{
		ObjectID: opts.object,
		Observer: domain.ObserverLocation{Latitude: opts.lat, Longitude: opts.lon},
		Start:    start,
		Days:     opts.days,
	})
	if err != nil {
		fmt.Fprintln(stderr, "forecast failed:", err)
		return 1
	}

	out := struct {
		Object      domain.Object             `json:"object"`
		SampleCount int                       `json:"sample_count"`
		Source      string                    `json:"source"`
		Forecast    domain.VisibilityForecast `json:"forecast"`
	}{res.Object, res.SampleCount, res.Source, res.Forecast}

	data, err := json.MarshalIndent(out, "", "  ")
	if err != nil {
		fmt.Fprintln(stderr, err)
		return 1
	}
	fmt.Fprintln(stdout, string(data))
	return 0
}

func parseStart(v string) (time.Time, error) {
	if t, err := time.Parse(time.RFC3339, v); err == nil {
		return t.UTC(), nil
	}
	t, err := time.Parse(time.DateOnly, v)
	if err != nil {
		return time.Time{}, fmt.Errorf("invalid -start %q: want RFC 3339 or YYYY-MM-DD", v)
	}
	return t, nil
}
