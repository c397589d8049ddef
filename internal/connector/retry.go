package connector

import (
	"context"
	"time"
)

// LogSink receives one human-readable line per adapter call and decision
// point, in call order. Polling clients have no other observability surface,
// so adapters must log every step through it.
type LogSink interface {
	Logf(format string, args ...any)
}

// NopSink discards log lines.
type NopSink struct{}

func (NopSink) Logf(string, ...any) {}

// RetryPolicy bounds the shared retry primitive: a fixed attempt count with
// the delay doubling from Base between attempts.
type RetryPolicy struct {
	MaxAttempts int
	Base        time.Duration
}

// DefaultRetryPolicy matches the adapter-wide budget: one initial call plus
// three retries.
func DefaultRetryPolicy() RetryPolicy {
	return RetryPolicy{MaxAttempts: 4, Base: 500 * time.Millisecond}
}

func (p RetryPolicy) normalize() RetryPolicy {
	if p.MaxAttempts < 1 {
		p.MaxAttempts = DefaultRetryPolicy().MaxAttempts
	}
	if p.Base <= 0 {
		p.Base = DefaultRetryPolicy().Base
	}
	return p
}

// Retry runs call under the policy, retrying only transient failures.
// Deterministic failures (any 4xx and other permanent errors) return
// immediately. Each retry emits one log line.
func Retry(ctx context.Context, sink LogSink, op string, policy RetryPolicy, call func() error) error {
	if sink == nil {
		sink = NopSink{}
	}
	policy = policy.normalize()

	delay := policy.Base
	var err error
	for attempt := 1; attempt <= policy.MaxAttempts; attempt++ {
		err = call()
		if err == nil {
			return nil
		}
		if !IsTransient(err) {
			return err
		}
		if attempt == policy.MaxAttempts {
			break
		}
		sink.Logf("retrying %s after %s (attempt %d/%d): %v", op, delay, attempt, policy.MaxAttempts, err)
		select {
		case <-ctx.Done():
			return ctx.Err()
		case <-time.After(delay):
		}
		delay *= 2
	}
	return err
}
