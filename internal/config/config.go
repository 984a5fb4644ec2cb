package config

import (
	"errors"
	"fmt"
	"os"
	"strconv"
	"strings"
	"time"

	sharedcfg "github.com/couchcryptid/storm-data-shared/config"
)

// Config holds all service settings, populated from environment variables.
type Config struct {
	FeedURL     string
	FeedTimeout time.Duration

	PollEnabled     bool
	RefreshInterval time.Duration
	StaleAfter      time.Duration // 0 selects twice the refresh interval, negative disables

	// Filter pipeline.
	TimeRangeDays         float64
	ShowMinor             bool
	ShowMajor             bool
	ShowCatastrophic      bool
	MajorThreshold        float64
	CatastrophicThreshold float64
	BBox                  *BBox
	EventLimit            int

	// Spatial thinning. ThinningEnabled is false when THIN_TARGET and
	// THIN_CAP are both unset.
	ThinningEnabled bool
	ThinTarget      int
	ThinWarn        int
	ThinCap         int
	ThinGridDeg     float64

	BackoffBase        time.Duration
	BackoffMax         time.Duration
	BackoffJitter      time.Duration
	BackoffMaxAttempts int

	TelemetryDebounce   time.Duration
	TelemetrySampleRate float64

	KafkaEnabled   bool
	KafkaBrokers   []string
	KafkaSinkTopic string

	HTTPAddr        string
	LogLevel        string
	LogFormat       string
	ShutdownTimeout time.Duration
}

// BBox is a geographic rectangle in degrees.
type BBox struct {
	MinLat, MaxLat, MinLng, MaxLng float64
}

// Load reads configuration from environment variables, applying defaults where unset.
func Load() (*Config, error) {
	shutdownTimeout, err := sharedcfg.ParseShutdownTimeout()
	if err != nil {
		return nil, err
	}

	cfg := &Config{
		FeedURL:        sharedcfg.EnvOrDefault("FEED_URL", "https://earthquake.usgs.gov/earthquakes/feed/v1.0/summary/all_week.geojson"),
		KafkaBrokers:   sharedcfg.ParseBrokers(sharedcfg.EnvOrDefault("KAFKA_BROKERS", "localhost:9092")),
		KafkaSinkTopic: sharedcfg.EnvOrDefault("KAFKA_SINK_TOPIC", "geo-events-rendered"),
		HTTPAddr:       sharedcfg.EnvOrDefault("HTTP_ADDR", ":8080"),
		LogLevel:       sharedcfg.EnvOrDefault("LOG_LEVEL", "info"),
		LogFormat:      sharedcfg.EnvOrDefault("LOG_FORMAT", "json"),

		ShutdownTimeout: shutdownTimeout,
	}

	p := parser{}
	cfg.FeedTimeout = p.positiveDuration("FEED_TIMEOUT", "10s")
	cfg.PollEnabled = p.boolean("POLL_ENABLED", true)
	cfg.RefreshInterval = p.positiveDuration("REFRESH_INTERVAL", "5m")
	cfg.StaleAfter = p.duration("STALE_AFTER", "0s")

	cfg.TimeRangeDays = p.float("TIME_RANGE_DAYS", 7)
	cfg.ShowMinor = p.boolean("SHOW_MINOR", true)
	cfg.ShowMajor = p.boolean("SHOW_MAJOR", true)
	cfg.ShowCatastrophic = p.boolean("SHOW_CATASTROPHIC", true)
	cfg.MajorThreshold = p.float("SEVERITY_MAJOR_MIN", 5.0)
	cfg.CatastrophicThreshold = p.float("SEVERITY_CATASTROPHIC_MIN", 7.0)
	cfg.BBox = p.bbox("BBOX")
	cfg.EventLimit = p.integer("EVENT_LIMIT", 0)

	_, targetSet := os.LookupEnv("THIN_TARGET")
	_, capSet := os.LookupEnv("THIN_CAP")
	cfg.ThinningEnabled = targetSet || capSet
	cfg.ThinTarget = p.integer("THIN_TARGET", 0)
	cfg.ThinWarn = p.integer("THIN_WARN", 0)
	cfg.ThinCap = p.integer("THIN_CAP", 0)
	cfg.ThinGridDeg = p.float("THIN_GRID_DEG", 1.0)

	cfg.BackoffBase = p.positiveDuration("BACKOFF_BASE", "2s")
	cfg.BackoffMax = p.positiveDuration("BACKOFF_MAX", "2m")
	cfg.BackoffJitter = p.duration("BACKOFF_JITTER", "1s")
	cfg.BackoffMaxAttempts = p.integer("BACKOFF_MAX_ATTEMPTS", 5)

	cfg.TelemetryDebounce = p.duration("TELEMETRY_DEBOUNCE", "0s")
	cfg.TelemetrySampleRate = p.float("TELEMETRY_SAMPLE_RATE", 1)

	cfg.KafkaEnabled = p.boolean("KAFKA_ENABLED", false)

	if p.err != nil {
		return nil, p.err
	}
	if err := cfg.validate(); err != nil {
		return nil, err
	}
	return cfg, nil
}

func (c *Config) validate() error {
	if c.FeedURL == "" {
		return errors.New("FEED_URL is required")
	}
	if c.TimeRangeDays < 0 {
		return errors.New("invalid TIME_RANGE_DAYS: must not be negative")
	}
	if c.MajorThreshold >= c.CatastrophicThreshold {
		return errors.New("SEVERITY_MAJOR_MIN must be below SEVERITY_CATASTROPHIC_MIN")
	}
	if c.EventLimit < 0 {
		return errors.New("invalid EVENT_LIMIT: must not be negative")
	}
	if c.ThinCap < 0 || c.ThinTarget < 0 || c.ThinWarn < 0 {
		return errors.New("invalid thinning settings: THIN_TARGET, THIN_WARN and THIN_CAP must not be negative")
	}
	if c.BackoffJitter < 0 {
		return errors.New("invalid BACKOFF_JITTER: must not be negative")
	}
	if c.BackoffMaxAttempts < 1 {
		return errors.New("invalid BACKOFF_MAX_ATTEMPTS: must be at least 1")
	}
	if c.TelemetryDebounce < 0 {
		return errors.New("invalid TELEMETRY_DEBOUNCE: must not be negative")
	}
	if c.TelemetrySampleRate < 0 || c.TelemetrySampleRate > 1 {
		return errors.New("invalid TELEMETRY_SAMPLE_RATE: must be 0-1")
	}
	if c.KafkaEnabled {
		if len(c.KafkaBrokers) == 0 {
			return errors.New("KAFKA_BROKERS is required")
		}
		if c.KafkaSinkTopic == "" {
			return errors.New("KAFKA_SINK_TOPIC is required")
		}
	}
	return nil
}

// parser reads typed values from the environment and keeps the first error.
type parser struct {
	err error
}

func (p *parser) fail(key, want string) {
	if p.err == nil {
		p.err = fmt.Errorf("invalid %s: must be %s", key, want)
	}
}

func (p *parser) duration(key, fallback string) time.Duration {
	d, err := time.ParseDuration(sharedcfg.EnvOrDefault(key, fallback))
	if err != nil {
		p.fail(key, "a duration")
		return 0
	}
	return d
}

func (p *parser) positiveDuration(key, fallback string) time.Duration {
	d, err := time.ParseDuration(sharedcfg.EnvOrDefault(key, fallback))
	if err != nil || d <= 0 {
		p.fail(key, "a positive duration")
		return 0
	}
	return d
}

func (p *parser) integer(key string, fallback int) int {
	s := os.Getenv(key)
	if s == "" {
		return fallback
	}
	n, err := strconv.Atoi(s)
	if err != nil {
		p.fail(key, "an integer")
		return 0
	}
	return n
}

func (p *parser) float(key string, fallback float64) float64 {
	s := os.Getenv(key)
	if s == "" {
		return fallback
	}
	f, err := strconv.ParseFloat(s, 64)
	if err != nil {
		p.fail(key, "a number")
		return 0
	}
	return f
}

func (p *parser) boolean(key string, fallback bool) bool {
	s := os.Getenv(key)
	if s == "" {
		return fallback
	}
	b, err := strconv.ParseBool(s)
	if err != nil {
		p.fail(key, "true or false")
		return false
	}
	return b
}

// bbox parses "minLat,maxLat,minLng,maxLng".
func (p *parser) bbox(key string) *BBox {
	s := os.Getenv(key)
	if s == "" {
		return nil
	}
	parts := strings.Split(s, ",")
	if len(parts) != 4 {
		p.fail(key, "minLat,maxLat,minLng,maxLng")
		return nil
	}
	var v [4]float64
	for i, part := range parts {
		f, err := strconv.ParseFloat(strings.TrimSpace(part), 64)
		if err != nil {
			p.fail(key, "minLat,maxLat,minLng,maxLng")
			return nil
		}
		v[i] = f
	}
	b := &BBox{MinLat: v[0], MaxLat: v[1], MinLng: v[2], MaxLng: v[3]}
	if b.MinLat > b.MaxLat || b.MinLng > b.MaxLng {
		p.fail(key, "ordered min before max")
		return nil
	}
	return b
}
