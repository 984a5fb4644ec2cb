package poller

import (
	"time"
)

// BackoffConfig controls automatic retries after failed fetches.
type BackoffConfig struct {
	BaseDelay   time.Duration
	MaxDelay    time.Duration
	Jitter      time.Duration // upper bound of the random addition; 0 selects the default, negative disables
	MaxAttempts int           // consecutive failures before retries stop
}

// DefaultBackoffConfig returns the retry policy used when none is configured.
func DefaultBackoffConfig() BackoffConfig {
	return BackoffConfig{
		BaseDelay:   2 * time.Second,
		MaxDelay:    2 * time.Minute,
		Jitter:      time.Second,
		MaxAttempts: 5,
	}
}

func (c BackoffConfig) withDefaults() BackoffConfig {
	d := DefaultBackoffConfig()
	if c.BaseDelay <= 0 {
		c.BaseDelay = d.BaseDelay
	}
	if c.MaxDelay <= 0 {
		c.MaxDelay = d.MaxDelay
	}
	if c.MaxDelay < c.BaseDelay {
		c.MaxDelay = c.BaseDelay
	}
	switch {
	case c.Jitter == 0:
		c.Jitter = d.Jitter
	case c.Jitter < 0:
		c.Jitter = 0
	}
	if c.MaxAttempts <= 0 {
		c.MaxAttempts = d.MaxAttempts
	}
	return c
}

// BackoffState is the retry bookkeeping exposed in State.
type BackoffState struct {
	Attempt   int           `json:"attempt"`
	NextDelay time.Duration `json:"nextDelay"`
}

type backoffDecision struct {
	Attempt   int
	Delay     time.Duration
	Jitter    time.Duration
	Exhausted bool
}

// backoff computes retry delays. Not safe for concurrent use; the poller
// mutex guards it.
type backoff struct {
	cfg     BackoffConfig
	rand    func() float64
	attempt int
	next    time.Duration
}

func newBackoff(cfg BackoffConfig, rand func() float64) *backoff {
	return &backoff{cfg: cfg.withDefaults(), rand: rand}
}

// fail records a failed fetch and decides whether to retry.
// delay = min(base * 2^attempt, max), plus up to Jitter of random noise.
func (b *backoff) fail() backoffDecision {
	exp := b.attempt
	if b.attempt < b.cfg.MaxAttempts {
		b.attempt++
	}
	if b.attempt >= b.cfg.MaxAttempts {
		b.next = 0
		return backoffDecision{Attempt: b.attempt, Exhausted: true}
	}

	delay := b.delay(exp)
	jitter := time.Duration(b.rand() * float64(b.cfg.Jitter))
	b.next = delay + jitter
	return backoffDecision{Attempt: b.attempt, Delay: delay, Jitter: jitter}
}

func (b *backoff) delay(exp int) time.Duration {
	d := b.cfg.BaseDelay
	for i := 0; i < exp; i++ {
		d *= 2
		if d >= b.cfg.MaxDelay {
			return b.cfg.MaxDelay
		}
	}
	return d
}

func (b *backoff) reset() {
	b.attempt = 0
	b.next = 0
}

func (b *backoff) state() BackoffState {
	return BackoffState{Attempt: b.attempt, NextDelay: b.next}
}
