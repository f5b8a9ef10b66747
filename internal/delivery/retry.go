// internal/delivery/retry.go
package delivery

import (
	"errors"
	"math"
	"net"
	"strings"
	"time"
)

// RetryPolicy controls how failed deliveries are retried with exponential
// backoff.
type RetryPolicy struct {
	MaxAttempts  int
	InitialDelay time.Duration
	Multiplier   float64
	MaxDelay     time.Duration

	// sleep is swapped out in tests.
	sleep func(time.Duration)
}

// DefaultRetryPolicy returns 3 attempts starting at 1s, doubling up to 30s.
func DefaultRetryPolicy() *RetryPolicy {
	return &RetryPolicy{
		MaxAttempts:  3,
		InitialDelay: 1 * time.Second,
		Multiplier:   2.0,
		MaxDelay:     30 * time.Second,
	}
}

// permanentError marks a failure that must not be retried.
type permanentError struct{ err error }

func (p permanentError) Error() string { return p.err.Error() }
func (p permanentError) Unwrap() error { return p.err }

// Permanent wraps err so Execute gives up on it immediately.
func Permanent(err error) error {
	if err == nil {
		return nil
	}
	return permanentError{err: err}
}

// ShouldRetry reports whether err is transient and attempt is still within
// MaxAttempts.
func (p *RetryPolicy) ShouldRetry(err error, attempt int) bool {
	if attempt >= p.MaxAttempts {
		return false
	}
	return transient(err)
}

// transient classifies delivery errors. Unknown errors count as transient;
// auth and malformed-target failures do not.
func transient(err error) bool {
	if err == nil {
		return false
	}
	var perm permanentError
	if errors.As(err, &perm) {
		return false
	}
	var netErr net.Error
	if errors.As(err, &netErr) {
		return true
	}

	msg := strings.ToLower(err.Error())
	for _, s := range []string{"connection refused", "connection reset", "timeout", "temporary failure", "too many requests"} {
		if strings.Contains(msg, s) {
			return true
		}
	}
	for _, s := range []string{"invalid", "unauthorized", "forbidden", "chat not found"} {
		if strings.Contains(msg, s) {
			return false
		}
	}
	return true
}

// NextDelay returns the backoff before the attempt after the given one
// (1-indexed): InitialDelay * Multiplier^(attempt-1), capped at MaxDelay.
func (p *RetryPolicy) NextDelay(attempt int) time.Duration {
	delay := float64(p.InitialDelay) * math.Pow(p.Multiplier, float64(attempt-1))
	if delay > float64(p.MaxDelay) {
		return p.MaxDelay
	}
	return time.Duration(delay)
}

// Execute runs fn until it succeeds, fails permanently, or MaxAttempts is
// reached, and returns the last error.
func (p *RetryPolicy) Execute(fn func() error) error {
	sleep := p.sleep
	if sleep == nil {
		sleep = time.Sleep
	}
	var err error
	for attempt := 1; attempt <= p.MaxAttempts; attempt++ {
		if err = fn(); err == nil {
			return nil
		}
		if !p.ShouldRetry(err, attempt) {
			return err
		}
		sleep(p.NextDelay(attempt))
	}
	return err
}
