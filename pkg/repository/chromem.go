package repository

import (
	"context"
	"encoding/json"
	"sync"
	"time"

	"github.com/m-mizutani/goerr/v2"
	"github.com/m-mizutani/recall/pkg/interfaces"
	"github.com/m-mizutani/recall/pkg/model"
	"github.com/m-mizutani/recall/pkg/utils/logging"
	chromem "github.com/philippgille/chromem-go"
)

const (
	metaCreatedAt = "created_at"
	metaSource    = "source"
	metaType      = "type"
	metaCategory  = "category"
	metaExtra     = "metadata"
)

// Chromem is a VectorIndex backed by an embedded chromem-go database. With an empty path
// everything stays in memory.
type Chromem struct {
	db        *chromem.DB
	namespace string

	mu  sync.RWMutex
	col *chromem.Collection
}

// precomputed makes chromem refuse to embed on its own; every document carries a vector.
func precomputed(ctx context.Context, text string) ([]float32, error) {
	return nil, goerr.New("embeddings must be computed before upsert")
}

// NewChromem opens the namespace collection. A non-empty path persists it on disk.
func NewChromem(path, namespace string) (*Chromem, error) {
	if namespace == "" {
		return nil, goerr.New("namespace is required", goerr.T(model.ErrTagConfig))
	}

	var db *chromem.DB
	if path == "" {
		db = chromem.NewDB()
	} else {
		var err error
		db, err = chromem.NewPersistentDB(path, false)
		if err != nil {
			return nil, goerr.Wrap(err, "failed to open chromem database",
				goerr.V("path", path),
				goerr.T(model.ErrTagConfig))
		}
	}

	col, err := db.GetOrCreateCollection(namespace, nil, precomputed)
	if err != nil {
		return nil, goerr.Wrap(err, "failed to open collection",
			goerr.V("namespace", namespace),
			goerr.T(model.ErrTagConfig))
	}

	return &Chromem{db: db, namespace: namespace, col: col}, nil
}

func (r *Chromem) collection() *chromem.Collection {
	r.mu.RLock()
	defer r.mu.RUnlock()
	return r.col
}

func (r *Chromem) Upsert(ctx context.Context, memories []*model.Memory, opts ...interfaces.UpsertOption) error {
	cfg := interfaces.NewUpsertConfig(opts...)
	col := r.collection()

	for _, mem := range memories {
		if len(mem.Embedding) == 0 {
			return goerr.New("memory has no embedding",
				goerr.V("id", mem.ID),
				goerr.T(model.ErrTagIndex))
		}

		createdAt := mem.CreatedAt
		if !cfg.Touch {
			if existing, err := col.GetByID(ctx, string(mem.ID)); err == nil {
				if t, ok := parseTime(existing.Metadata[metaCreatedAt]); ok {
					createdAt = t
				}
			}
		}

		doc, err := toDocument(mem, createdAt)
		if err != nil {
			return err
		}
		if err := col.AddDocument(ctx, doc); err != nil {
			return goerr.Wrap(err, "failed to upsert memory",
				goerr.V("id", mem.ID),
				goerr.V("namespace", r.namespace),
				goerr.T(model.ErrTagIndex))
		}
	}

	return nil
}

func (r *Chromem) Delete(ctx context.Context, ids []model.MemoryID) error {
	if len(ids) == 0 {
		return nil
	}

	keys := make([]string, len(ids))
	for i, id := range ids {
		keys[i] = string(id)
	}
	r.mu.Lock()
	defer r.mu.Unlock()
	if err := r.col.Delete(ctx, nil, nil, keys...); err != nil {
		return goerr.Wrap(err, "failed to delete memories",
			goerr.V("count", len(ids)),
			goerr.V("namespace", r.namespace),
			goerr.T(model.ErrTagIndex))
	}
	return nil
}

// DeleteAll drops the collection and creates an empty one with the same name
func (r *Chromem) DeleteAll(ctx context.Context) error {
	r.mu.Lock()
	defer r.mu.Unlock()

	if err := r.db.DeleteCollection(r.namespace); err != nil {
		return goerr.Wrap(err, "failed to drop collection",
			goerr.V("namespace", r.namespace),
			goerr.T(model.ErrTagIndex))
	}
	col, err := r.db.CreateCollection(r.namespace, nil, precomputed)
	if err != nil {
		return goerr.Wrap(err, "failed to recreate collection",
			goerr.V("namespace", r.namespace),
			goerr.T(model.ErrTagIndex))
	}
	r.col = col
	return nil
}

func (r *Chromem) Query(ctx context.Context, vector []float32, k int, filter *model.Filter) ([]*model.Hit, error) {
	// chromem rejects a limit above the collection size and caps a filtered query at the
	// number of matching documents. The read lock keeps Delete from shrinking the
	// collection between Count and QueryEmbedding.
	r.mu.RLock()
	defer r.mu.RUnlock()

	limit := min(k, r.col.Count())
	if limit <= 0 {
		return nil, nil
	}

	var where map[string]string
	if !filter.IsEmpty() {
		where = map[string]string{}
		if filter.Type != "" {
			where[metaType] = string(filter.Type)
		}
		if filter.Source != "" {
			where[metaSource] = filter.Source
		}
	}

	results, err := r.col.QueryEmbedding(ctx, vector, limit, where, nil)
	if err != nil {
		return nil, goerr.Wrap(err, "failed to query chromem",
			goerr.V("k", k),
			goerr.V("limit", limit),
			goerr.V("namespace", r.namespace),
			goerr.T(model.ErrTagIndex))
	}

	hits := make([]*model.Hit, 0, len(results))
	for _, res := range results {
		mem, err := fromResult(res)
		if err != nil {
			logging.From(ctx).Warn("skip broken chromem document", "id", res.ID, "error", err)
			continue
		}
		hits = append(hits, &model.Hit{Memory: mem, Similarity: float64(res.Similarity)})
	}
	return hits, nil
}

func toDocument(mem *model.Memory, createdAt time.Time) (chromem.Document, error) {
	meta := map[string]string{
		metaSource: mem.Source,
		metaType:   string(mem.Type),
	}
	if !createdAt.IsZero() {
		meta[metaCreatedAt] = createdAt.UTC().Format(time.RFC3339Nano)
	}
	if mem.Category != "" {
		meta[metaCategory] = mem.Category
	}
	if len(mem.Metadata) > 0 {
		raw, err := json.Marshal(mem.Metadata)
		if err != nil {
			return chromem.Document{}, goerr.Wrap(err, "failed to encode metadata",
				goerr.V("id", mem.ID),
				goerr.T(model.ErrTagValidation))
		}
		meta[metaExtra] = string(raw)
	}

	return chromem.Document{
		ID:        string(mem.ID),
		Content:   mem.Content,
		Embedding: mem.Embedding,
		Metadata:  meta,
	}, nil
}

func fromResult(res chromem.Result) (*model.Memory, error) {
	mem := &model.Memory{
		ID:        model.MemoryID(res.ID),
		Content:   res.Content,
		Embedding: res.Embedding,
		Source:    res.Metadata[metaSource],
		Type:      model.MemoryType(res.Metadata[metaType]),
		Category:  res.Metadata[metaCategory],
	}
	// An unparsable timestamp is left zero; scoring treats that as no decay.
	if t, ok := parseTime(res.Metadata[metaCreatedAt]); ok {
		mem.CreatedAt = t
	}
	if raw := res.Metadata[metaExtra]; raw != "" {
		if err := json.Unmarshal([]byte(raw), &mem.Metadata); err != nil {
			return nil, goerr.Wrap(err, "failed to decode metadata")
		}
	}
	return mem, nil
}

func parseTime(s string) (time.Time, bool) {
	if s == "" {
		return time.Time{}, false
	}
	t, err := time.Parse(time.RFC3339Nano, s)
	if err != nil {
		return time.Time{}, false
	}
	return t, true
}
