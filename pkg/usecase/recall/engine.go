package recall

import (
	"cmp"
	"context"
	"slices"
	"time"

	"github.com/m-mizutani/goerr/v2"
	"github.com/m-mizutani/recall/pkg/interfaces"
	"github.com/m-mizutani/recall/pkg/model"
	"github.com/m-mizutani/recall/pkg/utils/logging"
	"go.opentelemetry.io/otel"
	"go.opentelemetry.io/otel/attribute"
	"go.opentelemetry.io/otel/codes"
	"go.opentelemetry.io/otel/trace"
	"golang.org/x/sync/errgroup"
)

var tracer = otel.Tracer("github.com/m-mizutani/recall/pkg/usecase/recall")

// Config holds engine defaults. Every field must be positive.
type Config struct {
	KPerQuery      int
	KFinal         int
	MaxConcurrency int
	EmbedTimeout   time.Duration
	IndexTimeout   time.Duration
	TimeWeighting  bool
}

func DefaultConfig() Config {
	return Config{
		KPerQuery:      10,
		KFinal:         8,
		MaxConcurrency: 4,
		EmbedTimeout:   10 * time.Second,
		IndexTimeout:   10 * time.Second,
		TimeWeighting:  true,
	}
}

func (c Config) validate() error {
	checks := []struct {
		name  string
		value int64
	}{
		{"k_per_query", int64(c.KPerQuery)},
		{"k_final", int64(c.KFinal)},
		{"max_concurrency", int64(c.MaxConcurrency)},
		{"embed_timeout", int64(c.EmbedTimeout)},
		{"index_timeout", int64(c.IndexTimeout)},
	}
	for _, chk := range checks {
		if chk.value <= 0 {
			return goerr.New("retrieval setting must be positive",
				goerr.V("name", chk.name),
				goerr.V("value", chk.value),
				goerr.T(model.ErrTagConfig))
		}
	}
	return nil
}

// Engine runs expanded queries against the vector index and merges the hits into one
// ranked list
type Engine struct {
	embedder interfaces.Embedder
	index    interfaces.VectorIndex
	scorer   *Scorer
	cfg      Config
	now      func() time.Time
}

type EngineOption func(*Engine)

// WithClock replaces time.Now as the reference for recency
func WithClock(now func() time.Time) EngineOption {
	return func(e *Engine) {
		e.now = now
	}
}

func NewEngine(embedder interfaces.Embedder, index interfaces.VectorIndex, scorer *Scorer, cfg Config, opts ...EngineOption) (*Engine, error) {
	if embedder == nil || index == nil || scorer == nil {
		return nil, goerr.New("embedder, index and scorer are required", goerr.T(model.ErrTagConfig))
	}
	if err := cfg.validate(); err != nil {
		return nil, err
	}

	e := &Engine{
		embedder: embedder,
		index:    index,
		scorer:   scorer,
		cfg:      cfg,
		now:      time.Now,
	}
	for _, opt := range opts {
		opt(e)
	}
	return e, nil
}

type retrieveConfig struct {
	kPerQuery     int
	kFinal        int
	timeWeighting bool
	filter        *model.Filter
	now           time.Time
}

type RetrieveOption func(*retrieveConfig)

// WithK overrides the per-query and final result counts. Non-positive values keep the default.
func WithK(perQuery, final int) RetrieveOption {
	return func(c *retrieveConfig) {
		if perQuery > 0 {
			c.kPerQuery = perQuery
		}
		if final > 0 {
			c.kFinal = final
		}
	}
}

func WithTimeWeighting(enabled bool) RetrieveOption {
	return func(c *retrieveConfig) {
		c.timeWeighting = enabled
	}
}

func WithFilter(filter *model.Filter) RetrieveOption {
	return func(c *retrieveConfig) {
		c.filter = filter
	}
}

// WithNow fixes the reference time, which makes the ranking reproducible
func WithNow(now time.Time) RetrieveOption {
	return func(c *retrieveConfig) {
		c.now = now
	}
}

type subResult struct {
	hits []*model.Hit
	err  error
}

// Retrieve embeds and queries every RetrievalQuery concurrently, keeps the best similarity
// per memory, blends it with recency when enabled and returns at most k_final memories.
//
// Failed sub-queries are counted in the result instead of failing the call. The only error
// returned is cancellation of ctx, in which case in-flight sub-queries are abandoned.
func (e *Engine) Retrieve(ctx context.Context, queries []model.RetrievalQuery, opts ...RetrieveOption) (*model.RetrievalResult, error) {
	cfg := retrieveConfig{
		kPerQuery:     e.cfg.KPerQuery,
		kFinal:        e.cfg.KFinal,
		timeWeighting: e.cfg.TimeWeighting,
	}
	for _, opt := range opts {
		opt(&cfg)
	}
	if cfg.now.IsZero() {
		cfg.now = e.now()
	}

	ctx, span := tracer.Start(ctx, "recall.Retrieve", trace.WithAttributes(
		attribute.Int("queries", len(queries)),
		attribute.Int("k_per_query", cfg.kPerQuery),
		attribute.Int("k_final", cfg.kFinal),
		attribute.Bool("time_weighting", cfg.timeWeighting),
	))
	defer span.End()

	result := &model.RetrievalResult{
		Memories: []*model.ScoredMemory{},
		Queries:  len(queries),
	}
	if len(queries) == 0 {
		return result, nil
	}

	outcomes := make([]subResult, len(queries))
	done := make(chan struct{})
	go func() {
		defer close(done)
		var eg errgroup.Group
		eg.SetLimit(e.cfg.MaxConcurrency)
		for i, q := range queries {
			if err := ctx.Err(); err != nil {
				outcomes[i] = subResult{err: err}
				continue
			}
			eg.Go(func() error {
				outcomes[i] = e.runSubQuery(ctx, q, &cfg)
				return nil
			})
		}
		_ = eg.Wait()
	}()

	select {
	case <-ctx.Done():
	case <-done:
	}
	if err := ctx.Err(); err != nil {
		span.RecordError(err)
		span.SetStatus(codes.Error, "cancelled")
		return nil, goerr.Wrap(err, "retrieval cancelled", goerr.V("queries", len(queries)))
	}

	logger := logging.From(ctx)
	best := make(map[model.MemoryID]*model.ScoredMemory)
	for i, out := range outcomes {
		q := queries[i]
		if out.err != nil {
			result.FailedQueries++
			logger.Warn("sub-query failed", "query", q.Text, "origin", q.Origin, "error", out.err)
			continue
		}

		weight := q.Weight
		if weight <= 0 {
			weight = 1.0
		}
		for _, hit := range out.hits {
			if hit == nil || hit.Memory == nil {
				logger.Warn("skip hit without memory", "query", q.Text)
				continue
			}
			weighted := hit.Similarity * weight
			cur, ok := best[hit.Memory.ID]
			if !ok {
				best[hit.Memory.ID] = &model.ScoredMemory{
					Memory:     hit.Memory,
					Similarity: hit.Similarity,
					Weighted:   weighted,
					Queries:    []string{q.Text},
				}
				continue
			}
			cur.Queries = append(cur.Queries, q.Text)
			cur.Similarity = max(cur.Similarity, hit.Similarity)
			if weighted > cur.Weighted {
				cur.Weighted = weighted
				cur.Memory = hit.Memory
			}
		}
	}

	for _, sm := range best {
		if cfg.timeWeighting {
			sm.Score = e.scorer.Score(sm.Weighted, sm.Memory.CreatedAt, cfg.now)
		} else {
			sm.Score = sm.Weighted
		}
		result.Memories = append(result.Memories, sm)
	}

	slices.SortFunc(result.Memories, compareScored)
	if len(result.Memories) > cfg.kFinal {
		result.Memories = result.Memories[:cfg.kFinal]
	}

	span.SetAttributes(
		attribute.Int("failed_queries", result.FailedQueries),
		attribute.Int("results", len(result.Memories)),
	)
	if result.AllFailed() {
		span.SetStatus(codes.Error, "all sub-queries failed")
		logger.Warn("all sub-queries failed", "queries", len(queries))
	} else {
		logger.Debug("retrieved memories",
			"queries", len(queries),
			"failed", result.FailedQueries,
			"candidates", len(best),
			"results", len(result.Memories))
	}

	return result, nil
}

// compareScored orders by score desc, then newer created_at, then id
func compareScored(a, b *model.ScoredMemory) int {
	if c := cmp.Compare(b.Score, a.Score); c != 0 {
		return c
	}
	if c := b.Memory.CreatedAt.Compare(a.Memory.CreatedAt); c != 0 {
		return c
	}
	return cmp.Compare(a.Memory.ID, b.Memory.ID)
}

func (e *Engine) runSubQuery(ctx context.Context, q model.RetrievalQuery, cfg *retrieveConfig) subResult {
	ctx, span := tracer.Start(ctx, "recall.SubQuery", trace.WithAttributes(
		attribute.String("origin", string(q.Origin)),
	))
	defer span.End()

	vec, err := callWithTimeout(ctx, e.cfg.EmbedTimeout, func(ctx context.Context) ([]float32, error) {
		return e.embedder.Embed(ctx, q.Text)
	})
	if err != nil {
		span.RecordError(err)
		span.SetStatus(codes.Error, "embed failed")
		return subResult{err: goerr.Wrap(err, "failed to embed query", goerr.T(model.ErrTagProvider))}
	}

	hits, err := callWithTimeout(ctx, e.cfg.IndexTimeout, func(ctx context.Context) ([]*model.Hit, error) {
		return e.index.Query(ctx, vec, cfg.kPerQuery, cfg.filter)
	})
	if err != nil {
		span.RecordError(err)
		span.SetStatus(codes.Error, "index query failed")
		return subResult{err: goerr.Wrap(err, "failed to query index", goerr.T(model.ErrTagIndex))}
	}

	span.SetAttributes(attribute.Int("hits", len(hits)))
	return subResult{hits: hits}
}

// callWithTimeout runs fn under a deadline and stops waiting once the deadline passes, even
// if fn ignores its context.
func callWithTimeout[T any](ctx context.Context, d time.Duration, fn func(ctx context.Context) (T, error)) (T, error) {
	ctx, cancel := context.WithTimeout(ctx, d)
	defer cancel()

	type outcome struct {
		v   T
		err error
	}
	ch := make(chan outcome, 1)
	go func() {
		v, err := fn(ctx)
		ch <- outcome{v: v, err: err}
	}()

	select {
	case out := <-ch:
		return out.v, out.err
	case <-ctx.Done():
		var zero T
		return zero, goerr.Wrap(ctx.Err(), "call timed out", goerr.V("timeout", d))
	}
}
