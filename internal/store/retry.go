package store

import (
	"context"
	"errors"
	"time"
)

// Transient marks a storage error as retryable (e.g. a serialization
// conflict or a dropped connection), as opposed to a permanent error
// (e.g. a constraint violation) which must surface immediately.
type Transient struct {
	Err error
}

func (t *Transient) Error() string { return t.Err.Error() }
func (t *Transient) Unwrap() error { return t.Err }

// MarkTransient wraps err so IsTransient reports true for it.
func MarkTransient(err error) error {
	if err == nil {
		return nil
	}
	return &Transient{Err: err}
}

// IsTransient reports whether err (or something it wraps) was marked
// transient.
func IsTransient(err error) bool {
	var t *Transient
	return errors.As(err, &t)
}

// RetryConfig bounds the backoff applied to transient storage errors.
// No third-party backoff library appears anywhere in the retrieved
// corpus, so this small helper is implemented directly against the
// standard library's time package — see DESIGN.md.
type RetryConfig struct {
	MaxAttempts int
	BaseDelay   time.Duration
}

// DefaultRetryConfig is used when callers don't need a custom bound.
var DefaultRetryConfig = RetryConfig{MaxAttempts: 5, BaseDelay: 20 * time.Millisecond}

// Retry runs fn up to cfg.MaxAttempts times, doubling the delay between
// attempts, as long as fn's error is transient. A permanent error (or
// context cancellation) returns immediately.
func Retry(ctx context.Context, cfg RetryConfig, fn func() error) error {
	if cfg.MaxAttempts <= 0 {
		cfg.MaxAttempts = 1
	}
	var err error
	delay := cfg.BaseDelay
	for attempt := 0; attempt < cfg.MaxAttempts; attempt++ {
		err = fn()
		if err == nil || !IsTransient(err) {
			return err
		}
		if attempt == cfg.MaxAttempts-1 {
			break
		}
		select {
		case <-time.After(delay):
		case <-ctx.Done():
			return ctx.Err()
		}
		delay *= 2
	}
	return err
}
