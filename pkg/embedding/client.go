package embedding

import (
	"context"

	"github.com/dgraph-io/ristretto"
	"github.com/m-mizutani/goerr/v2"
	"github.com/m-mizutani/recall/pkg/interfaces"
	"github.com/m-mizutani/recall/pkg/model"
	"github.com/m-mizutani/recall/pkg/utils/retry"
	"golang.org/x/time/rate"
)

// Client wraps a backend embedder with a rate limit, retries and a cache. It is safe for
// concurrent use.
type Client struct {
	backend  interfaces.Embedder
	limiter  *rate.Limiter
	cache    *ristretto.Cache
	maxTries uint
}

type Option func(*Client)

// WithRateLimit caps backend calls at rps with the given burst
func WithRateLimit(rps float64, burst int) Option {
	return func(c *Client) {
		if rps > 0 {
			if burst < 1 {
				burst = 1
			}
			c.limiter = rate.NewLimiter(rate.Limit(rps), burst)
		}
	}
}

// WithCache keeps up to maxMB megabytes of vectors keyed by text
func WithCache(maxMB int64) Option {
	return func(c *Client) {
		if maxMB <= 0 {
			c.cache = nil
			return
		}
		cache, err := ristretto.NewCache(&ristretto.Config{
			NumCounters: 1e5,
			MaxCost:     maxMB << 20,
			BufferItems: 64,
		})
		if err == nil {
			c.cache = cache
		}
	}
}

func WithMaxTries(n uint) Option {
	return func(c *Client) {
		c.maxTries = n
	}
}

func New(backend interfaces.Embedder, opts ...Option) (*Client, error) {
	if backend == nil {
		return nil, goerr.New("embedding backend is required", goerr.T(model.ErrTagConfig))
	}

	c := &Client{
		backend:  backend,
		maxTries: retry.DefaultMaxTries,
	}
	WithCache(32)(c)
	for _, opt := range opts {
		opt(c)
	}
	return c, nil
}

func (c *Client) Embed(ctx context.Context, text string) ([]float32, error) {
	if c.cache != nil {
		if v, ok := c.cache.Get(text); ok {
			if vec, ok := v.([]float32); ok {
				return vec, nil
			}
		}
	}

	vec, err := retry.Do(ctx, "embed", func(ctx context.Context) ([]float32, error) {
		if c.limiter != nil {
			if err := c.limiter.Wait(ctx); err != nil {
				return nil, goerr.Wrap(err, "rate limiter wait aborted")
			}
		}
		return c.backend.Embed(ctx, text)
	}, retry.WithMaxTries(c.maxTries))
	if err != nil {
		return nil, goerr.Wrap(err, "failed to embed text",
			goerr.V("length", len(text)),
			goerr.T(model.ErrTagProvider))
	}

	if c.cache != nil {
		c.cache.Set(text, vec, int64(len(vec)*4))
	}
	return vec, nil
}

func (c *Client) Dimensions() int { return c.backend.Dimensions() }

// Wait blocks until pending cache writes are visible
func (c *Client) Wait() {
	if c.cache != nil {
		c.cache.Wait()
	}
}

// Close releases the cache
func (c *Client) Close() {
	if c.cache != nil {
		c.cache.Close()
	}
}
