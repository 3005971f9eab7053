package transport

import (
	"context"
	"errors"
	"net/http"
	"strconv"
	"strings"
	"time"

	"github.com/desertthunder/reelsync/internal/shared"
)

// Policy bounds how often and how patiently an operation is retried.
type Policy struct {
	MaxAttempts int
	Initial     time.Duration
	// Max caps a single computed backoff. Zero means no cap.
	Max time.Duration
	// Retryable classifies an attempt. status is 0 when err is set.
	Retryable func(status int, err error) bool
}

// Outcome is the result of a single attempt.
type Outcome struct {
	Status     int
	Err        error
	RetryAfter time.Duration
}

// DefaultPolicy retries network errors and [IsRetryableStatus] codes.
func DefaultPolicy(maxAttempts int, initial time.Duration) Policy {
	if maxAttempts < 1 {
		maxAttempts = 1
	}
	return Policy{MaxAttempts: maxAttempts, Initial: initial, Retryable: DefaultRetryable}
}

// DefaultRetryable treats every error except cancellation as transient.
func DefaultRetryable(status int, err error) bool {
	if err != nil {
		return !errors.Is(err, context.Canceled)
	}
	return IsRetryableStatus(status)
}

// Backoff is the wait after the given failed attempt (1-based): Initial, 2*Initial, 4*Initial, ...
func (p Policy) Backoff(attempt int) time.Duration {
	if attempt < 1 {
		attempt = 1
	}
	d := p.Initial
	for i := 1; i < attempt; i++ {
		d *= 2
		if p.Max > 0 && d >= p.Max {
			return p.Max
		}
	}
	if p.Max > 0 && d > p.Max {
		return p.Max
	}
	return d
}

// ShouldRetry reports whether o is transient under p.
func (p Policy) ShouldRetry(o Outcome) bool {
	retryable := p.Retryable
	if retryable == nil {
		retryable = DefaultRetryable
	}
	return retryable(o.Status, o.Err)
}

// Run calls fn until it returns a non-transient outcome or MaxAttempts is spent.
//
// onRetry, when set, is called before each wait. Waiting honours ctx; a
// cancelled context ends the loop with ctx.Err() on the returned outcome.
func (p Policy) Run(
	ctx context.Context, clock shared.Clock,
	fn func(ctx context.Context, attempt int) Outcome,
	onRetry func(attempt int, o Outcome, wait time.Duration),
) (Outcome, int) {
	if clock == nil {
		clock = shared.RealClock{}
	}
	maxAttempts := max(p.MaxAttempts, 1)

	var last Outcome
	for attempt := 1; ; attempt++ {
		if err := ctx.Err(); err != nil {
			return Outcome{Status: last.Status, Err: err}, attempt - 1
		}

		last = fn(ctx, attempt)
		if !p.ShouldRetry(last) || attempt >= maxAttempts {
			return last, attempt
		}
		if err := ctx.Err(); err != nil {
			return Outcome{Status: last.Status, Err: err}, attempt
		}

		wait := p.Backoff(attempt)
		if last.RetryAfter > 0 {
			wait = last.RetryAfter
		}
		if onRetry != nil {
			onRetry(attempt, last, wait)
		}

		select {
		case <-ctx.Done():
			return Outcome{Status: last.Status, Err: ctx.Err()}, attempt
		case <-clock.After(wait):
		}
	}
}

// ParseRetryAfter reads a Retry-After header given as delay-seconds or an HTTP date.
func ParseRetryAfter(h http.Header, now time.Time) (time.Duration, bool) {
	v := strings.TrimSpace(h.Get("Retry-After"))
	if v == "" {
		return 0, false
	}
	if secs, err := strconv.Atoi(v); err == nil {
		if secs < 0 {
			return 0, false
		}
		return time.Duration(secs) * time.Second, true
	}
	if at, err := http.ParseTime(v); err == nil {
		if d := at.Sub(now); d > 0 {
			return d, true
		}
		return 0, true
	}
	return 0, false
}
