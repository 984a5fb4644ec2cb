package config

import (
	"testing"
	"time"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
)

const defaultBroker = "localhost:9092"

func TestLoad_Defaults(t *testing.T) {
	cfg, err := Load()
	require.NoError(t, err)

	assert.Contains(t, cfg.FeedURL, "earthquake.usgs.gov")
	assert.Equal(t, 10*time.Second, cfg.FeedTimeout)
	assert.True(t, cfg.PollEnabled)
	assert.Equal(t, 5*time.Minute, cfg.RefreshInterval)
	assert.Zero(t, cfg.StaleAfter)

	assert.InDelta(t, 7.0, cfg.TimeRangeDays, 0)
	assert.True(t, cfg.ShowMinor)
	assert.True(t, cfg.ShowMajor)
	assert.True(t, cfg.ShowCatastrophic)
	assert.InDelta(t, 5.0, cfg.MajorThreshold, 0)
	assert.InDelta(t, 7.0, cfg.CatastrophicThreshold, 0)
	assert.Nil(t, cfg.BBox)
	assert.Zero(t, cfg.EventLimit)

	assert.False(t, cfg.ThinningEnabled)
	assert.InDelta(t, 1.0, cfg.ThinGridDeg, 0)

	assert.Equal(t, 2*time.Second, cfg.BackoffBase)
	assert.Equal(t, 2*time.Minute, cfg.BackoffMax)
	assert.Equal(t, time.Second, cfg.BackoffJitter)
	assert.Equal(t, 5, cfg.BackoffMaxAttempts)

	assert.Zero(t, cfg.TelemetryDebounce)
	assert.InDelta(t, 1.0, cfg.TelemetrySampleRate, 0)

	assert.False(t, cfg.KafkaEnabled)
	assert.Equal(t, []string{defaultBroker}, cfg.KafkaBrokers)
	assert.Equal(t, "geo-events-rendered", cfg.KafkaSinkTopic)
	assert.Equal(t, ":8080", cfg.HTTPAddr)
	assert.Equal(t, "info", cfg.LogLevel)
	assert.Equal(t, "json", cfg.LogFormat)
	assert.Equal(t, 10*time.Second, cfg.ShutdownTimeout)
}

func TestLoad_CustomEnv(t *testing.T) {
	t.Setenv("FEED_URL", "http://feed.local/events.geojson")
	t.Setenv("FEED_TIMEOUT", "3s")
	t.Setenv("POLL_ENABLED", "false")
	t.Setenv("REFRESH_INTERVAL", "1m")
	t.Setenv("STALE_AFTER", "-1s")
	t.Setenv("TIME_RANGE_DAYS", "1.5")
	t.Setenv("SHOW_MINOR", "false")
	t.Setenv("SEVERITY_MAJOR_MIN", "4.5")
	t.Setenv("SEVERITY_CATASTROPHIC_MIN", "6.5")
	t.Setenv("BBOX", "24.5, 49.5, -125, -66.9")
	t.Setenv("EVENT_LIMIT", "300")
	t.Setenv("THIN_TARGET", "2500")
	t.Setenv("THIN_WARN", "5000")
	t.Setenv("THIN_CAP", "10000")
	t.Setenv("THIN_GRID_DEG", "0.5")
	t.Setenv("BACKOFF_BASE", "500ms")
	t.Setenv("BACKOFF_MAX", "30s")
	t.Setenv("BACKOFF_JITTER", "0s")
	t.Setenv("BACKOFF_MAX_ATTEMPTS", "8")
	t.Setenv("TELEMETRY_DEBOUNCE", "250ms")
	t.Setenv("TELEMETRY_SAMPLE_RATE", "0.1")
	t.Setenv("KAFKA_ENABLED", "true")
	t.Setenv("KAFKA_BROKERS", "broker1:9092,broker2:9092")
	t.Setenv("KAFKA_SINK_TOPIC", "custom-sink")
	t.Setenv("HTTP_ADDR", ":9090")
	t.Setenv("LOG_LEVEL", "debug")
	t.Setenv("LOG_FORMAT", "text")
	t.Setenv("SHUTDOWN_TIMEOUT", "30s")

	cfg, err := Load()
	require.NoError(t, err)

	assert.Equal(t, "http://feed.local/events.geojson", cfg.FeedURL)
	assert.Equal(t, 3*time.Second, cfg.FeedTimeout)
	assert.False(t, cfg.PollEnabled)
	assert.Equal(t, time.Minute, cfg.RefreshInterval)
	assert.Equal(t, -time.Second, cfg.StaleAfter)
	assert.InDelta(t, 1.5, cfg.TimeRangeDays, 0)
	assert.False(t, cfg.ShowMinor)
	assert.True(t, cfg.ShowMajor)
	assert.InDelta(t, 4.5, cfg.MajorThreshold, 0)
	assert.InDelta(t, 6.5, cfg.CatastrophicThreshold, 0)
	assert.Equal(t, &BBox{MinLat: 24.5, MaxLat: 49.5, MinLng: -125, MaxLng: -66.9}, cfg.BBox)
	assert.Equal(t, 300, cfg.EventLimit)
	assert.True(t, cfg.ThinningEnabled)
	assert.Equal(t, 2500, cfg.ThinTarget)
	assert.Equal(t, 5000, cfg.ThinWarn)
	assert.Equal(t, 10000, cfg.ThinCap)
	assert.InDelta(t, 0.5, cfg.ThinGridDeg, 0)
	assert.Equal(t, 500*time.Millisecond, cfg.BackoffBase)
	assert.Equal(t, 30*time.Second, cfg.BackoffMax)
	assert.Zero(t, cfg.BackoffJitter)
	assert.Equal(t, 8, cfg.BackoffMaxAttempts)
	assert.Equal(t, 250*time.Millisecond, cfg.TelemetryDebounce)
	assert.InDelta(t, 0.1, cfg.TelemetrySampleRate, 0)
	assert.True(t, cfg.KafkaEnabled)
	assert.Equal(t, []string{"broker1:9092", "broker2:9092"}, cfg.KafkaBrokers)
	assert.Equal(t, "custom-sink", cfg.KafkaSinkTopic)
	assert.Equal(t, ":9090", cfg.HTTPAddr)
	assert.Equal(t, "debug", cfg.LogLevel)
	assert.Equal(t, "text", cfg.LogFormat)
	assert.Equal(t, 30*time.Second, cfg.ShutdownTimeout)
}

func TestLoad_ThinCapAloneEnablesThinning(t *testing.T) {
	t.Setenv("THIN_CAP", "100")
	cfg, err := Load()
	require.NoError(t, err)
	assert.True(t, cfg.ThinningEnabled)
	assert.Zero(t, cfg.ThinTarget)
}

func TestLoad_InvalidValues(t *testing.T) {
	tests := []struct {
		key, value, wantErr string
	}{
		{"SHUTDOWN_TIMEOUT", "not-a-duration", "SHUTDOWN_TIMEOUT"},
		{"SHUTDOWN_TIMEOUT", "-1s", "SHUTDOWN_TIMEOUT"},
		{"FEED_TIMEOUT", "bad", "FEED_TIMEOUT"},
		{"FEED_TIMEOUT", "0s", "FEED_TIMEOUT"},
		{"REFRESH_INTERVAL", "-5m", "REFRESH_INTERVAL"},
		{"STALE_AFTER", "soon", "STALE_AFTER"},
		{"POLL_ENABLED", "maybe", "POLL_ENABLED"},
		{"TIME_RANGE_DAYS", "-1", "TIME_RANGE_DAYS"},
		{"TIME_RANGE_DAYS", "week", "TIME_RANGE_DAYS"},
		{"SEVERITY_MAJOR_MIN", "8", "SEVERITY_MAJOR_MIN"},
		{"BBOX", "1,2,3", "BBOX"},
		{"BBOX", "10,0,0,10", "BBOX"},
		{"BBOX", "a,b,c,d", "BBOX"},
		{"EVENT_LIMIT", "-1", "EVENT_LIMIT"},
		{"THIN_CAP", "-10", "THIN_CAP"},
		{"THIN_TARGET", "many", "THIN_TARGET"},
		{"BACKOFF_JITTER", "-1s", "BACKOFF_JITTER"},
		{"BACKOFF_MAX_ATTEMPTS", "0", "BACKOFF_MAX_ATTEMPTS"},
		{"TELEMETRY_DEBOUNCE", "-1s", "TELEMETRY_DEBOUNCE"},
		{"TELEMETRY_SAMPLE_RATE", "1.5", "TELEMETRY_SAMPLE_RATE"},
	}

	for _, tt := range tests {
		t.Run(tt.key+"="+tt.value, func(t *testing.T) {
			t.Setenv(tt.key, tt.value)
			_, err := Load()
			require.Error(t, err)
			assert.Contains(t, err.Error(), tt.wantErr)
		})
	}
}

func TestLoad_KafkaEnabledWithoutBrokers(t *testing.T) {
	t.Setenv("KAFKA_ENABLED", "true")
	t.Setenv("KAFKA_BROKERS", " , ")
	_, err := Load()
	require.Error(t, err)
	assert.Contains(t, err.Error(), "KAFKA_BROKERS")
}

func TestLoad_KafkaDisabledIgnoresBrokers(t *testing.T) {
	t.Setenv("KAFKA_BROKERS", " , ")
	_, err := Load()
	require.NoError(t, err)
}
