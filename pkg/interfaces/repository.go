package interfaces

import (
	"context"
	"time"

	"github.com/m-mizutani/recall/pkg/model"
)

// Embedder maps text to a fixed-length vector
type Embedder interface {
	Embed(ctx context.Context, text string) ([]float32, error)
	// Dimensions returns the vector length produced by Embed
	Dimensions() int
}

// UpsertConfig is built from UpsertOption values by the index implementations
type UpsertConfig struct {
	Touch bool
}

type UpsertOption func(*UpsertConfig)

// WithTouch makes Upsert overwrite the stored created_at with the memory's CreatedAt.
// Without it an existing created_at is preserved.
func WithTouch() UpsertOption {
	return func(c *UpsertConfig) {
		c.Touch = true
	}
}

// NewUpsertConfig applies opts
func NewUpsertConfig(opts ...UpsertOption) UpsertConfig {
	var cfg UpsertConfig
	for _, opt := range opts {
		opt(&cfg)
	}
	return cfg
}

// VectorIndex is a nearest-neighbor store of memories within one namespace
type VectorIndex interface {
	// Upsert inserts or replaces memories by ID. Embedding must be set.
	Upsert(ctx context.Context, memories []*model.Memory, opts ...UpsertOption) error

	// Delete removes memories by ID. Unknown IDs are ignored.
	Delete(ctx context.Context, ids []model.MemoryID) error

	// DeleteAll removes every memory of the namespace
	DeleteAll(ctx context.Context) error

	// Query returns up to k nearest memories ordered by similarity. No match is an empty
	// slice, not an error.
	Query(ctx context.Context, vector []float32, k int, filter *model.Filter) ([]*model.Hit, error)
}

// DurableStore keeps permanent copies of core memories (preferences, facts, profile)
type DurableStore interface {
	PutPermanent(ctx context.Context, memory *model.Memory) error
	DeletePermanent(ctx context.Context, ids []model.MemoryID) error
	DeleteAllPermanent(ctx context.Context) error
	ListPermanent(ctx context.Context, since time.Time, limit int) ([]*model.Memory, error)
}
