// Package retry runs operations with bounded exponential backoff.
package retry

import (
	"context"
	"errors"
	"fmt"
	"time"

	"github.com/cenkalti/backoff/v4"
)

// Policy bounds how often and how slowly a failing operation is retried.
type Policy struct {
	MaxRetries   int
	InitialDelay time.Duration
	MaxDelay     time.Duration
	Multiplier   float64
}

// Option tweaks a Policy.
type Option func(*Policy)

// DefaultPolicy retries three times starting at two seconds.
func DefaultPolicy() Policy {
	return Policy{
		MaxRetries:   3,
		InitialDelay: 2 * time.Second,
		MaxDelay:     30 * time.Second,
		Multiplier:   2.0,
	}
}

// NewPolicy applies options on top of DefaultPolicy.
func NewPolicy(opts ...Option) Policy {
	p := DefaultPolicy()
	for _, opt := range opts {
		opt(&p)
	}
	return p
}

func WithMaxRetries(n int) Option {
	return func(p *Policy) { p.MaxRetries = n }
}

func WithInitialDelay(d time.Duration) Option {
	return func(p *Policy) { p.InitialDelay = d }
}

func WithMaxDelay(d time.Duration) Option {
	return func(p *Policy) { p.MaxDelay = d }
}

func WithMultiplier(m float64) Option {
	return func(p *Policy) { p.Multiplier = m }
}

// NotifyFunc observes each failed attempt that will be retried.
type NotifyFunc func(attempt int, err error, wait time.Duration)

// Do runs op until it succeeds, returns a Fatal error, exhausts the policy or
// ctx is done. Fatal errors are returned as-is so IsFatal still matches.
func Do(ctx context.Context, policy Policy, op func(ctx context.Context) error, notify NotifyFunc) error {
	if policy.MaxRetries < 0 {
		policy.MaxRetries = 0
	}

	expo := backoff.NewExponentialBackOff()
	expo.InitialInterval = policy.InitialDelay
	expo.MaxInterval = policy.MaxDelay
	if policy.Multiplier > 0 {
		expo.Multiplier = policy.Multiplier
	}
	expo.RandomizationFactor = 0.1
	expo.MaxElapsedTime = 0

	b := backoff.WithContext(backoff.WithMaxRetries(expo, uint64(policy.MaxRetries)), ctx)

	attempts := 0
	var fatal error
	operation := func() error {
		attempts++
		err := op(ctx)
		if err == nil {
			return nil
		}
		if IsFatal(err) {
			fatal = err
			return backoff.Permanent(err)
		}
		return err
	}

	onRetry := func(err error, wait time.Duration) {
		if notify != nil {
			notify(attempts, err, wait)
		}
	}

	err := backoff.RetryNotify(operation, b, onRetry)
	switch {
	case err == nil:
		return nil
	case fatal != nil:
		return fatal
	case errors.Is(err, context.Canceled) || errors.Is(err, context.DeadlineExceeded):
		return fmt.Errorf("cancelled after %d attempts: %w", attempts, err)
	default:
		return &ExhaustedError{Attempts: attempts, Err: err}
	}
}

// ExhaustedError is returned when every allowed attempt failed transiently.
type ExhaustedError struct {
	Attempts int
	Err      error
}

func (e *ExhaustedError) Error() string {
	return fmt.Sprintf("gave up after %d attempts: %v", e.Attempts, e.Err)
}

func (e *ExhaustedError) Unwrap() error {
	return e.Err
}

// FatalError marks an error as terminal.
type FatalError struct {
	Err error
}

func (e *FatalError) Error() string {
	return e.Err.Error()
}

func (e *FatalError) Unwrap() error {
	return e.Err
}

// Fatal marks err as terminal so Do stops retrying.
func Fatal(err error) error {
	if err == nil {
		return nil
	}
	return &FatalError{Err: err}
}

// IsFatal reports whether err (or anything it wraps) was marked Fatal.
func IsFatal(err error) bool {
	var fatalErr *FatalError
	return errors.As(err, &fatalErr)
}
