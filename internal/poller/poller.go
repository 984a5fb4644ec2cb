package poller

import (
	"context"
	"errors"
	"fmt"
	"log/slog"
	"math/rand/v2"
	"sync"
	"time"

	"github.com/couchcryptid/storm-geo-poller/internal/domain"
	"github.com/couchcryptid/storm-geo-poller/internal/observability"
	"github.com/google/uuid"
	"github.com/jonboulle/clockwork"
)

// DefaultRefreshInterval is the steady-state polling period.
const DefaultRefreshInterval = 5 * time.Minute

// ErrClosed is returned by Refetch after Close.
var ErrClosed = errors.New("poller closed")

// Status is the fetch lifecycle state.
type Status string

const (
	StatusIdle    Status = "idle"
	StatusLoading Status = "loading"
	StatusSuccess Status = "success"
	StatusError   Status = "error"
)

// Options configures a Poller.
type Options struct {
	Enabled bool
	Fetcher Fetcher

	Filter   domain.FilterOptions
	Thinning *domain.ThinningConfig

	RefreshInterval time.Duration // default DefaultRefreshInterval
	StaleAfter      time.Duration // default 2x RefreshInterval; negative disables
	Backoff         BackoffConfig

	OnTelemetry         func(TelemetryEvent)
	TelemetryDebounce   time.Duration
	TelemetrySampleRate float64 // in [0,1]; 0 selects 1

	Clock   clockwork.Clock
	Rand    func() float64 // jitter and sampling source, [0,1); calls are serialized
	NewID   func() string  // telemetry event ids
	Logger  *slog.Logger
	Metrics *observability.Metrics
}

// State is a point-in-time view of the poller. Filtered is shared with the
// poller and must be treated as read-only.
type State struct {
	Status      Status            `json:"status"`
	Filtered    []domain.GeoEvent `json:"filtered"`
	Err         error             `json:"-"`
	Stale       bool              `json:"stale"`
	Enabled     bool              `json:"enabled"`
	LastSuccess time.Time         `json:"lastSuccess"`
	Backoff     BackoffState      `json:"backoff"`
}

// Poller periodically fetches events, filters and thins them, and keeps the
// last good result available through failures.
type Poller struct {
	fetcher    Fetcher
	filter     domain.FilterOptions
	thinning   *domain.ThinningConfig
	refresh    time.Duration
	staleAfter time.Duration
	clock      clockwork.Clock
	logger     *slog.Logger
	metrics    *observability.Metrics
	telemetry  *emitter

	base       context.Context
	cancelBase context.CancelFunc
	wg         sync.WaitGroup

	mu          sync.Mutex
	startOnce   sync.Once
	stopWatch   func() bool
	wantEnabled bool
	enabled     bool
	closed      bool
	exec        executor
	backoff     *backoff
	status      Status
	settled     Status // last non-loading status
	filtered    []domain.GeoEvent
	err         error
	errStale    bool
	lastSuccess time.Time

	pollTimer  clockwork.Timer
	retryTimer clockwork.Timer
	timerGen   uint64
	freshTimer clockwork.Timer
	freshGen   uint64

	subs      map[int]func(State)
	nextSub   int
	seq       uint64 // last snapshot handed out for delivery
	delivered uint64 // last snapshot delivered to subscribers
}

// New validates opts and returns an idle Poller. Call Start to begin polling.
func New(opts Options) (*Poller, error) {
	if opts.Fetcher == nil {
		return nil, errors.New("poller: fetcher is required")
	}
	if opts.Metrics == nil {
		return nil, errors.New("poller: metrics are required")
	}
	if opts.TelemetrySampleRate < 0 || opts.TelemetrySampleRate > 1 {
		return nil, fmt.Errorf("poller: telemetry sample rate %v outside [0,1]", opts.TelemetrySampleRate)
	}
	if opts.Thinning != nil && opts.Thinning.Cap < 0 {
		return nil, fmt.Errorf("poller: thinning cap %d is negative", opts.Thinning.Cap)
	}

	if opts.RefreshInterval <= 0 {
		opts.RefreshInterval = DefaultRefreshInterval
	}
	if opts.StaleAfter == 0 {
		opts.StaleAfter = 2 * opts.RefreshInterval
	}
	if opts.TelemetrySampleRate == 0 {
		opts.TelemetrySampleRate = 1
	}
	if opts.Clock == nil {
		opts.Clock = clockwork.NewRealClock()
	}
	if opts.Rand == nil {
		opts.Rand = rand.Float64
	}
	random := syncRand(opts.Rand)
	if opts.NewID == nil {
		opts.NewID = uuid.NewString
	}
	if opts.Logger == nil {
		opts.Logger = slog.Default()
	}

	base, cancel := context.WithCancel(context.Background())
	p := &Poller{
		fetcher:     opts.Fetcher,
		filter:      opts.Filter,
		thinning:    opts.Thinning,
		refresh:     opts.RefreshInterval,
		staleAfter:  opts.StaleAfter,
		clock:       opts.Clock,
		logger:      opts.Logger,
		metrics:     opts.Metrics,
		telemetry:   newEmitter(opts.OnTelemetry, opts.TelemetryDebounce, opts.TelemetrySampleRate, random, opts.NewID, opts.Clock),
		base:        base,
		cancelBase:  cancel,
		wantEnabled: opts.Enabled,
		backoff:     newBackoff(opts.Backoff, random),
		status:      StatusIdle,
		settled:     StatusIdle,
		subs:        make(map[int]func(State)),
	}
	return p, nil
}

// Start begins polling if the poller was constructed enabled. The poller is
// closed when ctx is done. Start is idempotent.
func (p *Poller) Start(ctx context.Context) {
	p.startOnce.Do(func() {
		p.mu.Lock()
		if p.closed {
			p.mu.Unlock()
			return
		}
		p.stopWatch = context.AfterFunc(ctx, p.Close)
		enable := p.wantEnabled
		p.mu.Unlock()

		if enable {
			p.SetEnabled(true)
		}
	})
}

// SetEnabled toggles automatic polling. Enabling triggers an immediate fetch.
// Disabling aborts the in-flight fetch and clears every pending timer.
func (p *Poller) SetEnabled(on bool) {
	p.mu.Lock()
	if p.closed || p.enabled == on {
		p.mu.Unlock()
		return
	}
	p.enabled = on
	p.wantEnabled = on

	if on {
		p.metrics.PollerEnabled.Set(1)
		p.launchLocked()
		p.mu.Unlock()
		p.logger.Info("polling enabled", "refresh", p.refresh)
		return
	}

	p.metrics.PollerEnabled.Set(0)
	p.haltLocked()
	snapshot, seq := p.snapshotLocked()
	p.mu.Unlock()
	p.logger.Info("polling disabled")
	p.notify(snapshot, seq)
}

// Refetch fetches immediately, superseding any pending timer and aborting an
// in-flight fetch. It blocks until the new fetch resolves or ctx is done.
// Fetch failures are reported through State, not the returned error.
func (p *Poller) Refetch(ctx context.Context) error {
	p.mu.Lock()
	if p.closed {
		p.mu.Unlock()
		return ErrClosed
	}
	done := p.launchLocked()
	p.mu.Unlock()

	select {
	case <-done:
		return nil
	case <-ctx.Done():
		return ctx.Err()
	}
}

// Close aborts the in-flight fetch, stops all timers and waits for fetch
// goroutines to exit. It must not be called from a subscriber or telemetry
// callback.
func (p *Poller) Close() {
	p.mu.Lock()
	if p.closed {
		p.mu.Unlock()
		return
	}
	p.closed = true
	p.enabled = false
	p.haltLocked()
	p.stopFreshLocked()
	p.cancelBase()
	stopWatch := p.stopWatch
	p.mu.Unlock()

	if stopWatch != nil {
		stopWatch()
	}
	p.metrics.PollerEnabled.Set(0)
	p.wg.Wait()
	p.logger.Info("poller closed")
}

// State returns the current view of the poller.
func (p *Poller) State() State {
	p.mu.Lock()
	defer p.mu.Unlock()
	return p.stateLocked()
}

// Subscribe registers fn to receive state changes. fn runs on the goroutine
// that caused the change, outside the poller lock. A snapshot older than one
// already delivered is skipped. The returned function removes the
// subscription.
func (p *Poller) Subscribe(fn func(State)) func() {
	p.mu.Lock()
	id := p.nextSub
	p.nextSub++
	p.subs[id] = fn
	p.mu.Unlock()

	return func() {
		p.mu.Lock()
		delete(p.subs, id)
		p.mu.Unlock()
	}
}

// CheckReadiness reports an error until a fetch has succeeded and while the
// rendered set is stale.
func (p *Poller) CheckReadiness(_ context.Context) error {
	st := p.State()
	switch {
	case st.LastSuccess.IsZero():
		return errors.New("no successful fetch yet")
	case st.Stale:
		return fmt.Errorf("render set is stale, last success %s", st.LastSuccess.Format(time.RFC3339))
	}
	return nil
}

// launchLocked starts a fetch goroutine, superseding any pending timer or
// in-flight fetch. The returned channel closes when the fetch resolves.
func (p *Poller) launchLocked() <-chan struct{} {
	p.stopTimersLocked()
	if p.exec.inFlight() {
		p.metrics.FetchRequests.WithLabelValues("aborted").Inc()
	}
	ctx, gen := p.exec.begin(p.base)
	p.status = StatusLoading
	loading, seq := p.snapshotLocked()

	done := make(chan struct{})
	p.wg.Add(1)
	go func() {
		defer p.wg.Done()
		defer close(done)
		p.run(ctx, gen, loading, seq)
	}()
	return done
}

// haltLocked aborts the in-flight fetch and clears the poll and retry timers.
func (p *Poller) haltLocked() {
	p.stopTimersLocked()
	if p.exec.abort() {
		p.status = p.settled
		p.metrics.FetchRequests.WithLabelValues("aborted").Inc()
	}
}

func (p *Poller) run(ctx context.Context, gen uint64, loading State, seq uint64) {
	start := p.clock.Now()
	p.telemetry.emit(TelemetryEvent{Kind: KindFetchStart})
	p.notify(loading, seq)

	events, err := p.fetcher.Fetch(ctx)

	p.mu.Lock()
	if !p.exec.finish(gen) {
		p.mu.Unlock()
		p.logger.Debug("discarding superseded fetch", "error", err)
		return
	}
	if err != nil {
		p.failLocked(err, start)
		return
	}
	p.succeedLocked(events, start)
}

// succeedLocked applies a successful batch. It releases the lock.
func (p *Poller) succeedLocked(events []domain.GeoEvent, start time.Time) {
	now := p.clock.Now()
	rendered := domain.ApplyFilters(events, p.filter, now)

	var thin *domain.ThinStats
	if p.thinning != nil {
		var stats domain.ThinStats
		rendered, stats = domain.Thin(rendered, *p.thinning)
		thin = &stats
	}

	p.filtered = rendered
	p.err = nil
	p.errStale = false
	p.lastSuccess = now
	p.status = StatusSuccess
	p.settled = StatusSuccess
	p.backoff.reset()
	if p.enabled {
		p.schedulePollLocked(p.refresh)
	}
	p.armFreshLocked()
	snapshot, seq := p.snapshotLocked()
	p.mu.Unlock()

	p.metrics.FetchRequests.WithLabelValues("success").Inc()
	p.metrics.FetchDuration.Observe(now.Sub(start).Seconds())
	p.metrics.EventsFetched.Set(float64(len(events)))
	p.metrics.EventsRendered.Set(float64(len(rendered)))
	p.metrics.BackoffAttempt.Set(0)
	p.metrics.Stale.Set(0)

	p.logger.Debug("fetch succeeded", "fetched", len(events), "rendered", len(rendered))
	p.telemetry.emit(TelemetryEvent{Kind: KindFetchSuccess, Count: len(events)})

	if thin != nil {
		p.metrics.ThinDropped.Add(float64(thin.Dropped))
		p.metrics.ThinDuration.Observe(thin.Duration.Seconds())
		if thin.OverWarn {
			p.metrics.ThinWarnExceeded.Inc()
			p.logger.Warn("thinning input above warn threshold", "before", thin.Before, "warn", p.thinning.Warn)
		}
		p.telemetry.emit(TelemetryEvent{
			Kind:       KindRenderThinApplied,
			Before:     thin.Before,
			After:      thin.After,
			Dropped:    thin.Dropped,
			DurationMs: float64(thin.Duration) / float64(time.Millisecond),
			OverWarn:   thin.OverWarn,
		})
	}

	p.telemetry.emit(TelemetryEvent{Kind: KindRenderUpdate, Count: len(rendered)})
	p.notify(snapshot, seq)
}

// failLocked records a failed fetch and consults the backoff policy. It
// releases the lock.
func (p *Poller) failLocked(err error, start time.Time) {
	p.err = err
	p.errStale = true
	p.status = StatusError
	p.settled = StatusError

	decision := p.backoff.fail()
	scheduled := false
	if p.enabled && !decision.Exhausted {
		p.scheduleRetryLocked(decision.Delay + decision.Jitter)
		scheduled = true
	}
	snapshot, seq := p.snapshotLocked()
	p.mu.Unlock()

	p.metrics.FetchRequests.WithLabelValues("error").Inc()
	p.metrics.FetchDuration.Observe(p.clock.Since(start).Seconds())
	p.metrics.BackoffAttempt.Set(float64(decision.Attempt))
	p.metrics.Stale.Set(1)

	p.logger.Warn("fetch failed", "error", err, "attempt", decision.Attempt)
	p.telemetry.emit(TelemetryEvent{Kind: KindFetchError, Error: err.Error()})

	switch {
	case decision.Exhausted:
		p.metrics.BackoffExhausted.Inc()
		p.logger.Error("retry attempts exhausted, waiting for manual refetch", "attempt", decision.Attempt)
		p.telemetry.emit(TelemetryEvent{Kind: KindBackoffExhausted, Attempt: decision.Attempt})
	case scheduled:
		p.logger.Info("retry scheduled", "attempt", decision.Attempt, "delay", decision.Delay, "jitter", decision.Jitter)
		p.telemetry.emit(TelemetryEvent{
			Kind:     KindBackoffScheduled,
			Attempt:  decision.Attempt,
			DelayMs:  decision.Delay.Milliseconds(),
			JitterMs: decision.Jitter.Milliseconds(),
		})
	}

	p.notify(snapshot, seq)
}

func (p *Poller) schedulePollLocked(d time.Duration) {
	gen := p.timerGen
	p.pollTimer = p.clock.AfterFunc(d, func() { p.tick(gen) })
}

func (p *Poller) scheduleRetryLocked(d time.Duration) {
	gen := p.timerGen
	p.retryTimer = p.clock.AfterFunc(d, func() { p.tick(gen) })
}

// tick fires a scheduled fetch unless the timer was superseded.
func (p *Poller) tick(gen uint64) {
	p.mu.Lock()
	defer p.mu.Unlock()
	if p.closed || !p.enabled || gen != p.timerGen {
		return
	}
	p.launchLocked()
}

func (p *Poller) stopTimersLocked() {
	p.timerGen++
	if p.pollTimer != nil {
		p.pollTimer.Stop()
		p.pollTimer = nil
	}
	if p.retryTimer != nil {
		p.retryTimer.Stop()
		p.retryTimer = nil
	}
}

// armFreshLocked schedules a notification for when the current result
// crosses the staleness window.
func (p *Poller) armFreshLocked() {
	p.stopFreshLocked()
	if p.staleAfter <= 0 {
		return
	}
	gen := p.freshGen
	p.freshTimer = p.clock.AfterFunc(p.staleAfter, func() { p.expire(gen) })
}

func (p *Poller) stopFreshLocked() {
	p.freshGen++
	if p.freshTimer != nil {
		p.freshTimer.Stop()
		p.freshTimer = nil
	}
}

func (p *Poller) expire(gen uint64) {
	p.mu.Lock()
	if p.closed || gen != p.freshGen {
		p.mu.Unlock()
		return
	}
	p.freshTimer = nil
	snapshot, seq := p.snapshotLocked()
	p.mu.Unlock()

	p.metrics.Stale.Set(1)
	p.logger.Warn("render set is stale", "last_success", snapshot.LastSuccess)
	p.notify(snapshot, seq)
}

// snapshotLocked captures the state for delivery and numbers it so that a
// snapshot delivered late cannot overwrite a newer one.
func (p *Poller) snapshotLocked() (State, uint64) {
	p.seq++
	return p.stateLocked(), p.seq
}

func (p *Poller) stateLocked() State {
	return State{
		Status:      p.status,
		Filtered:    p.filtered,
		Err:         p.err,
		Stale:       p.isStaleLocked(),
		Enabled:     p.enabled,
		LastSuccess: p.lastSuccess,
		Backoff:     p.backoff.state(),
	}
}

func (p *Poller) isStaleLocked() bool {
	if p.errStale {
		return true
	}
	if p.lastSuccess.IsZero() || p.staleAfter <= 0 {
		return false
	}
	return p.clock.Since(p.lastSuccess) >= p.staleAfter
}

func (p *Poller) notify(st State, seq uint64) {
	p.mu.Lock()
	if seq <= p.delivered {
		p.mu.Unlock()
		return
	}
	p.delivered = seq
	subs := make([]func(State), 0, len(p.subs))
	for _, fn := range p.subs {
		subs = append(subs, fn)
	}
	p.mu.Unlock()

	for _, fn := range subs {
		fn(st)
	}
}

// syncRand serializes calls to fn, which is shared by the backoff scheduler
// and the telemetry emitter under different locks.
func syncRand(fn func() float64) func() float64 {
	var mu sync.Mutex
	return func() float64 {
		mu.Lock()
		defer mu.Unlock()
		return fn()
	}
}
