package storage

import (
	"context"
	"errors"
	"time"

	"github.com/cenkalti/backoff/v5"

	"libraryhub/internal/apperr"
)

// MaxConflictRetries bounds how often a unit of work is re-run after losing a
// compare-and-swap.
const MaxConflictRetries = 6

// ErrTooManyConflicts is returned once every attempt lost its compare-and-swap.
// It wraps ErrConcurrencyConflict.
var ErrTooManyConflicts = apperr.New(apperr.Conflict, "concurrent_update",
	"The record was changed by another request. Please try again.")

// RetryOnConflict runs fn until it succeeds, fails with anything other than
// ErrConcurrencyConflict, or runs out of attempts, in which case it returns
// ErrTooManyConflicts. notify, when non-nil, is called before each retry.
func RetryOnConflict(ctx context.Context, notify func(error, time.Duration), fn func() error) error {
	op := func() (struct{}, error) {
		err := fn()
		if err == nil {
			return struct{}{}, nil
		}
		if errors.Is(err, ErrConcurrencyConflict) {
			return struct{}{}, err
		}
		return struct{}{}, backoff.Permanent(err)
	}

	b := backoff.NewExponentialBackOff()
	b.InitialInterval = 5 * time.Millisecond
	b.MaxInterval = 200 * time.Millisecond

	opts := []backoff.RetryOption{
		backoff.WithBackOff(b),
		backoff.WithMaxTries(MaxConflictRetries),
	}
	if notify != nil {
		opts = append(opts, backoff.WithNotify(notify))
	}

	_, err := backoff.Retry(ctx, op, opts...)
	if errors.Is(err, ErrConcurrencyConflict) {
		return ErrTooManyConflicts.Wrap(err)
	}
	return err
}
