// Package ratelimit provides a token-bucket rate limiter and a bounded
// exponential backoff helper, used to throttle and retry calls against
// vendor APIs and connection pools.
package ratelimit

import (
	"math"
	"math/rand"
	"time"
)

const windows = 1

// RateLimit is a simple token-bucket: Rate tokens are minted every
// Period, up to a buffer of Rate tokens.
type RateLimit struct {
	Period time.Duration
	Rate   uint

	// BackoffLimit bounds the number of attempts DoWithBackoff makes.
	BackoffLimit uint
	// BackoffStart is the base delay for attempt 0.
	BackoffStart time.Duration
	// BackoffCap bounds the maximum delay between attempts, so that a
	// long-running process never sleeps for an unbounded duration.
	BackoffCap time.Duration
	// Jitter is the fractional jitter applied to each computed delay,
	// e.g. 0.2 for +/-20%.
	Jitter float64

	toks   chan struct{}
	paused bool
}

func (r *RateLimit) Start() {
	r.paused = false
	if r.toks == nil {
		r.toks = make(chan struct{}, windows*r.Rate)
	}
	go func() {
		for {
			for i := uint(0); i < r.Rate; i++ {
				r.toks <- struct{}{}
			}
			time.Sleep(r.Period)
			if r.paused {
				return
			}
		}
	}()
}

func (r *RateLimit) Stop() {
	r.paused = true
}

func (r *RateLimit) TryGet() bool {
	select {
	case <-r.toks:
		return true
	default:
		return false
	}
}

func (r *RateLimit) Get() {
	<-r.toks
}

// DoWithBackoff retries f until it succeeds, is marked fatal, or
// BackoffLimit attempts have been made. Each retry is throttled by the
// token bucket and delayed by an exponentially growing, capped, jittered
// sleep.
func (r *RateLimit) DoWithBackoff(f func() (err error, fatal bool)) error {
	var err error
	var fatal bool
	for i := uint(0); i < r.BackoffLimit; i++ {
		r.Get()
		err, fatal = f()
		if err == nil || fatal {
			return err
		}
		time.Sleep(r.backoffDelay(i))
	}
	return err
}

// BackoffDelay returns the delay DoWithBackoff would sleep before
// attempt (0-indexed), for callers that manage their own retry loop
// (e.g. a durable task scheduler) but want the same backoff curve.
func (r *RateLimit) BackoffDelay(attempt uint) time.Duration {
	return r.backoffDelay(attempt)
}

func (r *RateLimit) backoffDelay(attempt uint) time.Duration {
	base := r.BackoffStart
	if base <= 0 {
		base = time.Second
	}
	cap := r.BackoffCap
	if cap <= 0 {
		cap = time.Hour
	}
	d := float64(base) * math.Pow(2, float64(attempt))
	if d > float64(cap) {
		d = float64(cap)
	}
	if r.Jitter > 0 {
		delta := d * r.Jitter
		d = d - delta + rand.Float64()*2*delta
	}
	return time.Duration(d)
}

// Default returns the policy resolved for the project's open question
// on retry behavior: 6 attempts, 30s base, 1h cap, +/-20% jitter.
func Default() RateLimit {
	return RateLimit{
		Period:       time.Second,
		Rate:         50,
		BackoffLimit: 6,
		BackoffStart: 30 * time.Second,
		BackoffCap:   time.Hour,
		Jitter:       0.2,
	}
}
