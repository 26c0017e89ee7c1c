// Package ratelimit implements request pacing for CRM REST endpoints.
// Bitrix-style APIs enforce a per-second request budget per webhook;
// the Pacer keeps a minimum interval between physical requests so one
// client instance stays under that budget.
package ratelimit

import (
	"context"
	"sync"
	"time"

	"github.com/prometheus/client_golang/prometheus"
	"github.com/prometheus/client_golang/prometheus/promauto"
	"github.com/rs/zerolog"
)

// Prometheus metrics for request pacing.
var (
	pacerWaitsTotal = promauto.NewCounter(prometheus.CounterOpts{
		Name: "b24_pacer_waits_total",
		Help: "Total number of requests delayed by the pacer",
	})

	pacerWaitSeconds = promauto.NewHistogram(prometheus.HistogramOpts{
		Name:    "b24_pacer_wait_seconds",
		Help:    "Pacing delay applied before requests",
		Buckets: []float64{0.1, 0.25, 0.5, 1, 2, 5},
	})
)

// Pacer enforces a minimum interval between requests.
// The first call never waits; later calls block until the interval since
// the previous dispatch has elapsed. Safe for concurrent use: concurrent
// callers are serialized onto the shared schedule.
type Pacer struct {
	mu       sync.Mutex
	interval time.Duration
	next     time.Time
	logger   zerolog.Logger
}

// NewPacer creates a pacer with the given minimum interval.
// A non-positive interval disables pacing.
func NewPacer(interval time.Duration, logger zerolog.Logger) *Pacer {
	return &Pacer{
		interval: interval,
		logger:   logger,
	}
}

// Interval returns the configured minimum interval.
func (p *Pacer) Interval() time.Duration {
	return p.interval
}

// Wait blocks until the caller may dispatch the next request.
// Returns the context error if the context is cancelled while waiting.
func (p *Pacer) Wait(ctx context.Context) error {
	if p.interval <= 0 {
		return nil
	}

	p.mu.Lock()
	now := time.Now()
	var wait time.Duration
	if p.next.After(now) {
		wait = p.next.Sub(now)
		p.next = p.next.Add(p.interval)
	} else {
		p.next = now.Add(p.interval)
	}
	p.mu.Unlock()

	if wait <= 0 {
		return nil
	}

	pacerWaitsTotal.Inc()
	pacerWaitSeconds.Observe(wait.Seconds())
	p.logger.Debug().
		Dur("delay", wait).
		Msg("Rate limit pacing")

	select {
	case <-ctx.Done():
		return ctx.Err()
	case <-time.After(wait):
		return nil
	}
}
