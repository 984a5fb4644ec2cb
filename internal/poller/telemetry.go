package poller

import (
	"sync"
	"time"

	"github.com/jonboulle/clockwork"
)

// TelemetryKind names a telemetry event.
type TelemetryKind string

const (
	KindFetchStart        TelemetryKind = "fetch_start"
	KindFetchSuccess      TelemetryKind = "fetch_success"
	KindFetchError        TelemetryKind = "fetch_error"
	KindRenderUpdate      TelemetryKind = "render_update"
	KindRenderThinApplied TelemetryKind = "render_thin_applied"
	KindBackoffScheduled  TelemetryKind = "backoff_scheduled"
	KindBackoffExhausted  TelemetryKind = "backoff_exhausted"
)

// TelemetryEvent is delivered to Options.OnTelemetry. Only the fields
// relevant to Kind are set.
type TelemetryEvent struct {
	ID   string        `json:"id"`
	Kind TelemetryKind `json:"kind"`
	At   time.Time     `json:"at"`

	Count int    `json:"count,omitempty"` // fetch_success, render_update
	Error string `json:"error,omitempty"` // fetch_error

	// render_thin_applied
	Before     int     `json:"before,omitempty"`
	After      int     `json:"after,omitempty"`
	Dropped    int     `json:"dropped,omitempty"`
	DurationMs float64 `json:"durationMs,omitempty"`
	OverWarn   bool    `json:"overWarn,omitempty"`

	// backoff_scheduled, backoff_exhausted
	Attempt  int   `json:"attempt,omitempty"`
	DelayMs  int64 `json:"delayMs,omitempty"`
	JitterMs int64 `json:"jitterMs,omitempty"`
}

// emitter applies per-kind debouncing and sampling before invoking the
// callback on the caller's goroutine.
type emitter struct {
	fn       func(TelemetryEvent)
	debounce time.Duration
	rate     float64
	rand     func() float64
	newID    func() string
	clock    clockwork.Clock

	mu   sync.Mutex
	last map[TelemetryKind]time.Time
}

func newEmitter(fn func(TelemetryEvent), debounce time.Duration, rate float64, rand func() float64, newID func() string, clock clockwork.Clock) *emitter {
	return &emitter{
		fn:       fn,
		debounce: debounce,
		rate:     rate,
		rand:     rand,
		newID:    newID,
		clock:    clock,
		last:     make(map[TelemetryKind]time.Time),
	}
}

// emit stamps and delivers ev unless it is debounced or sampled out.
func (e *emitter) emit(ev TelemetryEvent) bool {
	if e == nil || e.fn == nil {
		return false
	}
	now := e.clock.Now()

	e.mu.Lock()
	if last, ok := e.last[ev.Kind]; ok && e.debounce > 0 && now.Sub(last) < e.debounce {
		e.mu.Unlock()
		return false
	}
	if e.rate < 1 && e.rand() >= e.rate {
		e.mu.Unlock()
		return false
	}
	e.last[ev.Kind] = now
	e.mu.Unlock()

	ev.ID = e.newID()
	ev.At = now
	e.fn(ev)
	return true
}
