package poller

import (
	"context"

	"github.com/couchcryptid/storm-geo-poller/internal/domain"
)

// Fetcher loads the current batch of events from an upstream source.
// Implementations must return promptly once ctx is cancelled.
type Fetcher interface {
	Fetch(ctx context.Context) ([]domain.GeoEvent, error)
}

// FetcherFunc adapts a plain function to Fetcher.
type FetcherFunc func(ctx context.Context) ([]domain.GeoEvent, error)

func (f FetcherFunc) Fetch(ctx context.Context) ([]domain.GeoEvent, error) {
	return f(ctx)
}

// executor tracks the single in-flight fetch. Every begin or abort bumps the
// generation so that a superseded fetch can recognize itself on completion.
// Callers hold the poller mutex.
type executor struct {
	gen    uint64
	cancel context.CancelFunc
}

// begin cancels any in-flight fetch and returns the context and generation
// for a new one.
func (x *executor) begin(parent context.Context) (context.Context, uint64) {
	x.abort()
	ctx, cancel := context.WithCancel(parent)
	x.cancel = cancel
	return ctx, x.gen
}

// abort cancels the in-flight fetch, if any. It reports whether one was running.
func (x *executor) abort() bool {
	x.gen++
	if x.cancel == nil {
		return false
	}
	x.cancel()
	x.cancel = nil
	return true
}

// finish reports whether gen is still the current fetch and, if so, releases it.
func (x *executor) finish(gen uint64) bool {
	if gen != x.gen || x.cancel == nil {
		return false
	}
	x.cancel()
	x.cancel = nil
	return true
}

func (x *executor) inFlight() bool {
	return x.cancel != nil
}
