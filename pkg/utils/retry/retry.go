package retry

import (
	"context"
	"errors"
	"time"

	"github.com/cenkalti/backoff/v5"
	"github.com/m-mizutani/goerr/v2"
	"github.com/m-mizutani/recall/pkg/model"
	"github.com/m-mizutani/recall/pkg/utils/logging"
)

// DefaultMaxTries is the attempt count for provider calls
const DefaultMaxTries = 3

type config struct {
	maxTries        uint
	initialInterval time.Duration
	maxInterval     time.Duration
}

type Option func(*config)

func WithMaxTries(n uint) Option {
	return func(c *config) {
		if n > 0 {
			c.maxTries = n
		}
	}
}

// WithInterval sets the first and the largest wait between attempts
func WithInterval(initial, max time.Duration) Option {
	return func(c *config) {
		c.initialInterval = initial
		c.maxInterval = max
	}
}

// Do calls fn until it succeeds, the attempt count is exhausted, or ctx is done. Context
// errors and errors tagged as config or validation are not retried.
func Do[T any](ctx context.Context, name string, fn func(ctx context.Context) (T, error), opts ...Option) (T, error) {
	cfg := config{
		maxTries:        DefaultMaxTries,
		initialInterval: 200 * time.Millisecond,
		maxInterval:     2 * time.Second,
	}
	for _, opt := range opts {
		opt(&cfg)
	}

	b := backoff.NewExponentialBackOff()
	b.InitialInterval = cfg.initialInterval
	b.MaxInterval = cfg.maxInterval

	attempt := 0
	op := func() (T, error) {
		attempt++
		v, err := fn(ctx)
		if err == nil {
			return v, nil
		}
		if !retryable(err) {
			return v, backoff.Permanent(err)
		}
		return v, err
	}

	notify := func(err error, wait time.Duration) {
		logging.From(ctx).Debug("retrying call",
			"name", name,
			"attempt", attempt,
			"wait", wait,
			"error", err)
	}

	v, err := backoff.Retry(ctx, op,
		backoff.WithBackOff(b),
		backoff.WithMaxTries(cfg.maxTries),
		backoff.WithNotify(notify),
	)
	if err != nil {
		var perm *backoff.PermanentError
		if errors.As(err, &perm) {
			err = perm.Err
		}
		return v, goerr.Wrap(err, "call failed after retry",
			goerr.V("name", name),
			goerr.V("attempts", attempt))
	}
	return v, nil
}

func retryable(err error) bool {
	if errors.Is(err, context.Canceled) || errors.Is(err, context.DeadlineExceeded) {
		return false
	}
	if goerr.HasTag(err, model.ErrTagConfig) || goerr.HasTag(err, model.ErrTagValidation) {
		return false
	}
	return true
}
