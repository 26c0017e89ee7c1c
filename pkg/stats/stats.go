// Package stats tracks request counters for one extraction client.
// A single Tracker may be shared by concurrent executors; all updates
// are atomic.
package stats

import (
	"sync"
	"sync/atomic"
	"time"
)

// Tracker accumulates request counters over the lifetime of a client.
// The zero value is not usable; create one with NewTracker.
type Tracker struct {
	total   atomic.Int64
	success atomic.Int64
	failed  atomic.Int64
	retries atomic.Int64

	startOnce sync.Once
	start     atomic.Int64 // unix nanoseconds, set on first attempt
}

// NewTracker creates an empty tracker. The start time is recorded lazily
// when the first attempt is reported.
func NewTracker() *Tracker {
	return &Tracker{}
}

// Attempt records one physical request attempt and starts the session
// clock if it is not running yet.
func (t *Tracker) Attempt() {
	t.startOnce.Do(func() {
		t.start.Store(time.Now().UnixNano())
	})
	t.total.Add(1)
}

// Success records one logical call that ultimately succeeded.
func (t *Tracker) Success() {
	t.success.Add(1)
}

// Failure records one logical call that ultimately failed. It is called
// once per logical call, not once per attempt.
func (t *Tracker) Failure() {
	t.failed.Add(1)
}

// Retry records one retry attempt.
func (t *Tracker) Retry() {
	t.retries.Add(1)
}

// Snapshot is a point-in-time copy of the counters.
type Snapshot struct {
	TotalRequests      int64     `json:"total_requests"`
	SuccessfulRequests int64     `json:"successful_requests"`
	FailedRequests     int64     `json:"failed_requests"`
	RetryAttempts      int64     `json:"retry_attempts"`
	StartTime          time.Time `json:"start_time"`
	Elapsed            float64   `json:"elapsed_seconds"`
}

// Snapshot returns an immutable copy of the current counters.
func (t *Tracker) Snapshot() Snapshot {
	s := Snapshot{
		TotalRequests:      t.total.Load(),
		SuccessfulRequests: t.success.Load(),
		FailedRequests:     t.failed.Load(),
		RetryAttempts:      t.retries.Load(),
	}
	if ns := t.start.Load(); ns != 0 {
		s.StartTime = time.Unix(0, ns)
		s.Elapsed = time.Since(s.StartTime).Seconds()
	}
	return s
}

// SuccessRate returns the share of successful requests in percent.
// Returns 0 when no requests were made.
func (s Snapshot) SuccessRate() float64 {
	if s.TotalRequests == 0 {
		return 0
	}
	return float64(s.SuccessfulRequests) / float64(s.TotalRequests) * 100
}
