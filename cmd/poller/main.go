package main

import (
	"context"
	"errors"
	"log/slog"
	"net/http"
	"os"
	"os/signal"
	"syscall"

	sharedobs "github.com/couchcryptid/storm-data-shared/observability"
	httpadapter "github.com/couchcryptid/storm-geo-poller/internal/adapter/http"
	kafkaadapter "github.com/couchcryptid/storm-geo-poller/internal/adapter/kafka"
	"github.com/couchcryptid/storm-geo-poller/internal/adapter/usgs"
	"github.com/couchcryptid/storm-geo-poller/internal/config"
	"github.com/couchcryptid/storm-geo-poller/internal/domain"
	"github.com/couchcryptid/storm-geo-poller/internal/observability"
	"github.com/couchcryptid/storm-geo-poller/internal/pipeline"
	"github.com/couchcryptid/storm-geo-poller/internal/poller"
)

func main() {
	cfg, err := config.Load()
	if err != nil {
		slog.Error("failed to load config", "error", err)
		os.Exit(1)
	}

	logger := sharedobs.NewLogger(cfg.LogLevel, cfg.LogFormat)
	metrics := observability.NewMetrics()

	thresholds := domain.SeverityThresholds{Major: cfg.MajorThreshold, Catastrophic: cfg.CatastrophicThreshold}
	feed := usgs.NewClient(cfg.FeedURL, cfg.FeedTimeout, thresholds, logger)

	p, err := poller.New(poller.Options{
		Enabled:             cfg.PollEnabled,
		Fetcher:             feed,
		Filter:              filterOptions(cfg, thresholds),
		Thinning:            thinningConfig(cfg),
		RefreshInterval:     cfg.RefreshInterval,
		StaleAfter:          cfg.StaleAfter,
		Backoff:             backoffConfig(cfg),
		OnTelemetry:         logTelemetry(logger),
		TelemetryDebounce:   cfg.TelemetryDebounce,
		TelemetrySampleRate: cfg.TelemetrySampleRate,
		Logger:              logger,
		Metrics:             metrics,
	})
	if err != nil {
		logger.Error("failed to create poller", "error", err)
		os.Exit(1)
	}

	ctx, stop := signal.NotifyContext(context.Background(), syscall.SIGINT, syscall.SIGTERM)
	defer stop()

	checks := readiness{p}

	// Publish render snapshots to Kafka (feature-flagged via KAFKA_ENABLED).
	var publisher *kafkaadapter.Publisher
	pipelineDone := make(chan struct{})
	if cfg.KafkaEnabled {
		publisher = kafkaadapter.NewPublisher(cfg, logger)
		sink := pipeline.New(publisher, logger, metrics)
		p.Subscribe(sink.Observe)
		checks = append(checks, sink)
		logger.Info("kafka snapshot publishing enabled", "topic", cfg.KafkaSinkTopic, "brokers", cfg.KafkaBrokers)

		go func() {
			defer close(pipelineDone)
			if err := sink.Run(ctx); err != nil {
				logger.Error("pipeline error", "error", err)
			}
		}()
	} else {
		close(pipelineDone)
		logger.Info("kafka snapshot publishing disabled")
	}

	srv := httpadapter.NewServer(cfg.HTTPAddr, checks, p, logger)

	// Start HTTP server.
	go func() {
		if err := srv.Start(); err != nil && !errors.Is(err, http.ErrServerClosed) {
			logger.Error("http server error", "error", err)
		}
	}()

	// Start polling.
	p.Start(ctx)
	logger.Info("poller started",
		"feed_url", cfg.FeedURL,
		"enabled", cfg.PollEnabled,
		"refresh_interval", cfg.RefreshInterval,
	)

	<-ctx.Done()
	logger.Info("shutting down")

	shutdownCtx, cancel := context.WithTimeout(context.Background(), cfg.ShutdownTimeout)
	defer cancel()

	if err := srv.Shutdown(shutdownCtx); err != nil {
		logger.Error("http server shutdown error", "error", err)
	}
	p.Close()
	select {
	case <-pipelineDone:
	case <-shutdownCtx.Done():
		logger.Warn("pipeline did not stop before shutdown timeout")
	}
	if publisher != nil {
		if err := publisher.Close(); err != nil {
			logger.Error("kafka publisher close error", "error", err)
		}
	}

	logger.Info("shutdown complete")
}

func filterOptions(cfg *config.Config, thresholds domain.SeverityThresholds) domain.FilterOptions {
	opts := domain.FilterOptions{
		TimeRangeDays: cfg.TimeRangeDays,
		Severity: &domain.SeverityFilter{
			ShowMinor:        cfg.ShowMinor,
			ShowMajor:        cfg.ShowMajor,
			ShowCatastrophic: cfg.ShowCatastrophic,
		},
		Thresholds: thresholds,
		Limit:      cfg.EventLimit,
	}
	if cfg.BBox != nil {
		opts.BBox = &domain.BBox{
			MinLat: cfg.BBox.MinLat,
			MaxLat: cfg.BBox.MaxLat,
			MinLng: cfg.BBox.MinLng,
			MaxLng: cfg.BBox.MaxLng,
		}
	}
	return opts
}

func thinningConfig(cfg *config.Config) *domain.ThinningConfig {
	if !cfg.ThinningEnabled {
		return nil
	}
	return &domain.ThinningConfig{
		Target:      cfg.ThinTarget,
		Warn:        cfg.ThinWarn,
		Cap:         cfg.ThinCap,
		GridSizeDeg: cfg.ThinGridDeg,
	}
}

func backoffConfig(cfg *config.Config) poller.BackoffConfig {
	jitter := cfg.BackoffJitter
	if jitter == 0 {
		// BACKOFF_JITTER=0s turns jitter off.
		jitter = -1
	}
	return poller.BackoffConfig{
		BaseDelay:   cfg.BackoffBase,
		MaxDelay:    cfg.BackoffMax,
		Jitter:      jitter,
		MaxAttempts: cfg.BackoffMaxAttempts,
	}
}

// logTelemetry writes each telemetry event as a structured log line.
func logTelemetry(logger *slog.Logger) func(poller.TelemetryEvent) {
	return func(ev poller.TelemetryEvent) {
		attrs := []any{"id", ev.ID, "kind", string(ev.Kind)}
		switch ev.Kind {
		case poller.KindFetchSuccess, poller.KindRenderUpdate:
			attrs = append(attrs, "count", ev.Count)
		case poller.KindFetchError:
			attrs = append(attrs, "error", ev.Error)
		case poller.KindRenderThinApplied:
			attrs = append(attrs, "before", ev.Before, "after", ev.After, "dropped", ev.Dropped,
				"duration_ms", ev.DurationMs, "over_warn", ev.OverWarn)
		case poller.KindBackoffScheduled:
			attrs = append(attrs, "attempt", ev.Attempt, "delay_ms", ev.DelayMs, "jitter_ms", ev.JitterMs)
		case poller.KindBackoffExhausted:
			attrs = append(attrs, "attempt", ev.Attempt)
		}
		logger.Debug("telemetry", attrs...)
	}
}

// readiness reports ready only when every checker does.
type readiness []sharedobs.ReadinessChecker

func (r readiness) CheckReadiness(ctx context.Context) error {
	for _, c := range r {
		if err := c.CheckReadiness(ctx); err != nil {
			return err
		}
	}
	return nil
}
