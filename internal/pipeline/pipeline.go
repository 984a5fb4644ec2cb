package pipeline

import (
	"context"
	"errors"
	"log/slog"
	"sync"
	"sync/atomic"
	"time"

	"github.com/couchcryptid/storm-data-shared/retry"
	"github.com/couchcryptid/storm-geo-poller/internal/domain"
	"github.com/couchcryptid/storm-geo-poller/internal/observability"
	"github.com/couchcryptid/storm-geo-poller/internal/poller"
)

// SnapshotLoader writes a rendered event set to the destination.
type SnapshotLoader interface {
	PublishSnapshot(ctx context.Context, events []domain.GeoEvent) error
}

const (
	defaultInitialBackoff = 200 * time.Millisecond
	defaultMaxBackoff     = 5 * time.Second
)

// Pipeline forwards render snapshots from the poller to a SnapshotLoader.
// At most one snapshot waits for publication; a newer snapshot replaces it.
type Pipeline struct {
	loader  SnapshotLoader
	logger  *slog.Logger
	metrics *observability.Metrics
	ready   atomic.Bool

	initialBackoff time.Duration
	maxBackoff     time.Duration

	mu       sync.Mutex
	pending  chan []domain.GeoEvent
	lastSeen time.Time
}

// New creates a Pipeline that publishes through loader.
func New(loader SnapshotLoader, logger *slog.Logger, metrics *observability.Metrics) *Pipeline {
	return &Pipeline{
		loader:         loader,
		logger:         logger,
		metrics:        metrics,
		initialBackoff: defaultInitialBackoff,
		maxBackoff:     defaultMaxBackoff,
		pending:        make(chan []domain.GeoEvent, 1),
	}
}

// WithBackoff overrides the retry delays used after a failed publish.
func (p *Pipeline) WithBackoff(initial, maxBackoff time.Duration) *Pipeline {
	p.initialBackoff = initial
	p.maxBackoff = maxBackoff
	return p
}

// CheckReadiness returns nil once at least one snapshot has been published.
func (p *Pipeline) CheckReadiness(_ context.Context) error {
	if !p.ready.Load() {
		return errors.New("no snapshot published yet")
	}
	return nil
}

// Observe is a poller subscriber. It offers the render set each time a new
// successful fetch lands and ignores every other transition.
func (p *Pipeline) Observe(st poller.State) {
	if st.Status != poller.StatusSuccess {
		return
	}
	p.mu.Lock()
	if !st.LastSuccess.After(p.lastSeen) {
		p.mu.Unlock()
		return
	}
	p.lastSeen = st.LastSuccess
	p.mu.Unlock()

	p.Offer(st.Filtered)
}

// Offer queues events for publication without blocking. A snapshot still
// waiting is discarded in favour of events.
func (p *Pipeline) Offer(events []domain.GeoEvent) {
	p.mu.Lock()
	defer p.mu.Unlock()

	select {
	case <-p.pending:
		p.metrics.SnapshotPublishes.WithLabelValues("dropped").Inc()
	default:
	}
	p.pending <- events
}

// Run publishes queued snapshots until the context is cancelled.
func (p *Pipeline) Run(ctx context.Context) error {
	p.logger.Info("snapshot pipeline started")

	for {
		select {
		case <-ctx.Done():
			p.logger.Info("snapshot pipeline stopping", "reason", ctx.Err())
			return nil
		case events := <-p.pending:
			if !p.publish(ctx, events) {
				return nil
			}
		}
	}
}

// publish loads one snapshot, retrying with backoff until it succeeds, a
// newer snapshot arrives, or ctx ends. Returns false if the pipeline should stop.
func (p *Pipeline) publish(ctx context.Context, events []domain.GeoEvent) bool {
	backoff := p.initialBackoff

	for {
		err := p.loader.PublishSnapshot(ctx, events)
		if err == nil {
			p.metrics.SnapshotPublishes.WithLabelValues("success").Inc()
			p.ready.Store(true)
			p.logger.Debug("snapshot published", "events", len(events))
			return true
		}
		if ctx.Err() != nil {
			return false
		}

		p.metrics.SnapshotPublishes.WithLabelValues("error").Inc()
		p.logger.Error("publish snapshot failed", "error", err, "events", len(events), "retry_in", backoff)

		if !retry.SleepWithContext(ctx, backoff) {
			return false
		}
		backoff = retry.NextBackoff(backoff, p.maxBackoff)

		if len(p.pending) > 0 {
			p.metrics.SnapshotPublishes.WithLabelValues("dropped").Inc()
			return true
		}
	}
}
