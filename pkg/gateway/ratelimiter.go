package gateway

import (
	"sync"
	"time"
)

// Limits bounds how hard one client may drive the worker.
type Limits struct {
	RequestsPerMinute int
	MaxConcurrent     int
}

// DefaultLimits apply when the configuration leaves limits unset.
var DefaultLimits = Limits{RequestsPerMinute: 120, MaxConcurrent: 8}

const (
	reasonConcurrent = "too many concurrent requests"
	reasonRate       = "rate limit exceeded"
)

// ClientRateLimiter implements sliding window rate limiting per client
type ClientRateLimiter struct {
	mu       sync.Mutex
	limits   Limits
	window   time.Duration
	requests []time.Time
	inFlight int
}

// NewClientRateLimiter creates a limiter over a one minute window.
func NewClientRateLimiter(limits Limits) *ClientRateLimiter {
	if limits.RequestsPerMinute <= 0 {
		limits.RequestsPerMinute = DefaultLimits.RequestsPerMinute
	}
	if limits.MaxConcurrent <= 0 {
		limits.MaxConcurrent = DefaultLimits.MaxConcurrent
	}
	return &ClientRateLimiter{limits: limits, window: time.Minute}
}

// CheckRequestAllowed reports whether another request fits, and why not.
func (r *ClientRateLimiter) CheckRequestAllowed() (bool, string) {
	r.mu.Lock()
	defer r.mu.Unlock()

	if r.inFlight >= r.limits.MaxConcurrent {
		return false, reasonConcurrent
	}
	r.prune(time.Now())
	if len(r.requests) >= r.limits.RequestsPerMinute {
		return false, reasonRate
	}
	return true, ""
}

// RecordRequestStart records the start of a request
func (r *ClientRateLimiter) RecordRequestStart() {
	r.mu.Lock()
	defer r.mu.Unlock()

	r.requests = append(r.requests, time.Now())
	r.inFlight++
}

// RecordRequestEnd records the end of a request
func (r *ClientRateLimiter) RecordRequestEnd() {
	r.mu.Lock()
	defer r.mu.Unlock()

	if r.inFlight > 0 {
		r.inFlight--
	}
}

// Stats returns the requests inside the window and those in flight.
func (r *ClientRateLimiter) Stats() (requests, inFlight int) {
	r.mu.Lock()
	defer r.mu.Unlock()

	r.prune(time.Now())
	return len(r.requests), r.inFlight
}

// prune drops timestamps older than the window. Timestamps are appended in
// order, so the survivors are a suffix.
func (r *ClientRateLimiter) prune(now time.Time) {
	cutoff := now.Add(-r.window)
	i := 0
	for i < len(r.requests) && !r.requests[i].After(cutoff) {
		i++
	}
	r.requests = r.requests[i:]
}
