package config

import (
	"errors"
	"os"
	"strconv"
	"time"

	sharedcfg "github.com/couchcryptid/storm-data-shared/config"
)

// Config holds all service settings, populated from environment variables.
type Config struct {
	HTTPAddr        string
	LogLevel        string
	LogFormat       string
	ShutdownTimeout time.Duration

	// JPL Horizons upstream.
	HorizonsURL      string
	HorizonsTimeout  time.Duration
	HorizonsRetryMax int
	EphemerisStep    time.Duration

	// Cache tiers. An empty CacheDir keeps the durable tier in memory.
	CacheDir           string
	SessionCacheSize   int
	EphemerisCacheTTL  time.Duration
	VisibilityCacheTTL time.Duration
	CacheSweepInterval time.Duration

	DatabasePath           string
	VisibilityThresholdDeg float64
	RateLimitPerMinute     int

	// Observation-window events.
	KafkaBrokers     []string
	KafkaWindowTopic string
	KafkaEnabled     bool

	NotifyLimitsFile string
	NotifyRetainDays int
}

// DefaultHorizonsURL is the public JPL Horizons API endpoint.
const DefaultHorizonsURL = "https://ssd.jpl.nasa.gov/api/horizons.api"

// Load reads configuration from environment variables, applying defaults where unset.
func Load() (*Config, error) {
	shutdownTimeout, err := sharedcfg.ParseShutdownTimeout()
	if err != nil {
		return nil, err
	}

	horizonsTimeout, err := parseDuration("HORIZONS_TIMEOUT", "10s")
	if err != nil {
		return nil, err
	}
	step, err := parseDuration("EPHEMERIS_STEP", "1h")
	if err != nil {
		return nil, err
	}
	ephemerisTTL, err := parseDuration("EPHEMERIS_CACHE_TTL", "24h")
	if err != nil {
		return nil, err
	}
	visibilityTTL, err := parseDuration("VISIBILITY_CACHE_TTL", "1h")
	if err != nil {
		return nil, err
	}
	sweepInterval, err := parseDuration("CACHE_SWEEP_INTERVAL", "15m")
	if err != nil {
		return nil, err
	}

	threshold, err := strconv.ParseFloat(sharedcfg.EnvOrDefault("VISIBILITY_THRESHOLD_DEG", "20"), 64)
	if err != nil || threshold < 0 || threshold >= 90 {
		return nil, errors.New("invalid VISIBILITY_THRESHOLD_DEG")
	}

	retryMax, err := strconv.Atoi(sharedcfg.EnvOrDefault("HORIZONS_RETRY_MAX", "2"))
	if err != nil || retryMax < 0 {
		return nil, errors.New("invalid HORIZONS_RETRY_MAX")
	}

	var brokers []string
	if v := os.Getenv("KAFKA_BROKERS"); v != "" {
		brokers = sharedcfg.ParseBrokers(v)
	}
	kafkaEnabled := len(brokers) > 0
	if v := os.Getenv("KAFKA_ENABLED"); v != "" {
		kafkaEnabled = v == "true"
	}

	sessionCacheSize, err := parsePositiveInt("SESSION_CACHE_SIZE", 1000)
	if err != nil {
		return nil, err
	}
	rateLimit, err := parsePositiveInt("RATE_LIMIT_PER_MINUTE", 60)
	if err != nil {
		return nil, err
	}
	retainDays, err := parsePositiveInt("NOTIFY_RETAIN_DAYS", 7)
	if err != nil {
		return nil, err
	}

	cacheDir := sharedcfg.EnvOrDefault("CACHE_DIR", "data/cache")
	if cacheDir == ":memory:" {
		cacheDir = ""
	}

	cfg := &Config{
		HTTPAddr:        sharedcfg.EnvOrDefault("HTTP_ADDR", ":8080"),
		LogLevel:        sharedcfg.EnvOrDefault("LOG_LEVEL", "info"),
		LogFormat:       sharedcfg.EnvOrDefault("LOG_FORMAT", "json"),
		ShutdownTimeout: shutdownTimeout,

		HorizonsURL:      sharedcfg.EnvOrDefault("HORIZONS_URL", DefaultHorizonsURL),
		HorizonsTimeout:  horizonsTimeout,
		HorizonsRetryMax: retryMax,
		EphemerisStep:    step,

		CacheDir:           cacheDir,
		SessionCacheSize:   sessionCacheSize,
		EphemerisCacheTTL:  ephemerisTTL,
		VisibilityCacheTTL: visibilityTTL,
		CacheSweepInterval: sweepInterval,

		DatabasePath:           sharedcfg.EnvOrDefault("DATABASE_PATH", "data/iso.db"),
		VisibilityThresholdDeg: threshold,
		RateLimitPerMinute:     rateLimit,

		KafkaBrokers:     brokers,
		KafkaWindowTopic: sharedcfg.EnvOrDefault("KAFKA_WINDOW_TOPIC", "observation-windows"),
		KafkaEnabled:     kafkaEnabled,

		NotifyLimitsFile: os.Getenv("NOTIFY_LIMITS_FILE"),
		NotifyRetainDays: retainDays,
	}

	if cfg.DatabasePath == "" {
		return nil, errors.New("DATABASE_PATH is required")
	}
	if cfg.KafkaEnabled && len(cfg.KafkaBrokers) == 0 {
		return nil, errors.New("KAFKA_ENABLED is true but KAFKA_BROKERS is not set")
	}
	if cfg.KafkaEnabled && cfg.KafkaWindowTopic == "" {
		return nil, errors.New("KAFKA_WINDOW_TOPIC is required")
	}

	return cfg, nil
}

func parseDuration(name, def string) (time.Duration, error) {
	d, err := time.ParseDuration(sharedcfg.EnvOrDefault(name, def))
	if err != nil || d <= 0 {
		return 0, errors.New("invalid " + name)
	}
	return d, nil
}

func parsePositiveInt(name string, def int) (int, error) {
	s := os.Getenv(name)
	if s == "" {
		return def, nil
	}
	n, err := strconv.Atoi(s)
	if err != nil || n <= 0 {
		return 0, errors.New("invalid " + name)
	}
	return n, nil
}
