package repository

import (
	"context"
	"errors"
	"time"

	"cloud.google.com/go/firestore"
	"github.com/m-mizutani/goerr/v2"
	"github.com/m-mizutani/recall/pkg/interfaces"
	"github.com/m-mizutani/recall/pkg/model"
	"google.golang.org/api/iterator"
	"google.golang.org/grpc/codes"
	"google.golang.org/grpc/status"
)

const (
	fieldEmbedding = "embedding"
	fieldDistance  = "vector_distance"

	// Firestore transactions accept at most 500 writes.
	upsertBatchSize = 100
)

// Firestore implements VectorIndex with Firestore vector search and DurableStore with a
// second collection. The memory collection needs a vector index on the embedding field.
type Firestore struct {
	client     *firestore.Client
	memories   string
	permanents string
}

type FirestoreOption func(*Firestore)

// WithMemoryCollection sets the collection used as vector index namespace
func WithMemoryCollection(name string) FirestoreOption {
	return func(r *Firestore) {
		r.memories = name
	}
}

// WithPermanentCollection sets the collection of the durable store
func WithPermanentCollection(name string) FirestoreOption {
	return func(r *Firestore) {
		r.permanents = name
	}
}

func NewFirestore(ctx context.Context, projectID, databaseID string, opts ...FirestoreOption) (*Firestore, error) {
	if projectID == "" {
		return nil, goerr.New("project is required", goerr.T(model.ErrTagConfig))
	}
	if databaseID == "" {
		return nil, goerr.New("database is required", goerr.T(model.ErrTagConfig))
	}

	client, err := firestore.NewClientWithDatabase(ctx, projectID, databaseID)
	if err != nil {
		return nil, goerr.Wrap(err, "failed to create firestore client",
			goerr.V("project", projectID),
			goerr.V("database", databaseID),
			goerr.T(model.ErrTagConfig))
	}

	r := &Firestore{
		client:     client,
		memories:   "memories",
		permanents: "permanent_memories",
	}
	for _, opt := range opts {
		opt(r)
	}
	return r, nil
}

func (r *Firestore) Close() error {
	return r.client.Close()
}

type memoryDoc struct {
	ID        string             `firestore:"id"`
	Content   string             `firestore:"content"`
	Embedding firestore.Vector32 `firestore:"embedding"`
	CreatedAt time.Time          `firestore:"created_at"`
	UpdatedAt time.Time          `firestore:"updated_at"`
	Source    string             `firestore:"source"`
	Type      string             `firestore:"type"`
	Category  string             `firestore:"category"`
	Metadata  map[string]any     `firestore:"metadata,omitempty"`
}

func newMemoryDoc(mem *model.Memory, now time.Time) *memoryDoc {
	return &memoryDoc{
		ID:        string(mem.ID),
		Content:   mem.Content,
		Embedding: firestore.Vector32(mem.Embedding),
		CreatedAt: mem.CreatedAt,
		UpdatedAt: now,
		Source:    mem.Source,
		Type:      string(mem.Type),
		Category:  mem.Category,
		Metadata:  mem.Metadata,
	}
}

func (d *memoryDoc) toModel() *model.Memory {
	return &model.Memory{
		ID:        model.MemoryID(d.ID),
		Content:   d.Content,
		Embedding: []float32(d.Embedding),
		CreatedAt: d.CreatedAt,
		Source:    d.Source,
		Type:      model.MemoryType(d.Type),
		Category:  d.Category,
		Metadata:  d.Metadata,
	}
}

func (r *Firestore) Upsert(ctx context.Context, memories []*model.Memory, opts ...interfaces.UpsertOption) error {
	cfg := interfaces.NewUpsertConfig(opts...)
	coll := r.client.Collection(r.memories)

	for start := 0; start < len(memories); start += upsertBatchSize {
		batch := memories[start:min(start+upsertBatchSize, len(memories))]

		err := r.client.RunTransaction(ctx, func(ctx context.Context, tx *firestore.Transaction) error {
			refs := make([]*firestore.DocumentRef, len(batch))
			for i, mem := range batch {
				if len(mem.Embedding) == 0 {
					return goerr.New("memory has no embedding", goerr.V("id", mem.ID))
				}
				refs[i] = coll.Doc(string(mem.ID))
			}

			var snaps []*firestore.DocumentSnapshot
			if !cfg.Touch {
				var err error
				if snaps, err = tx.GetAll(refs); err != nil {
					return goerr.Wrap(err, "failed to read existing memories")
				}
			}

			now := time.Now()
			for i, mem := range batch {
				doc := newMemoryDoc(mem, now)
				if snaps != nil && snaps[i].Exists() {
					var prev memoryDoc
					if err := snaps[i].DataTo(&prev); err == nil && !prev.CreatedAt.IsZero() {
						doc.CreatedAt = prev.CreatedAt
					}
				}
				if err := tx.Set(refs[i], doc); err != nil {
					return goerr.Wrap(err, "failed to set memory", goerr.V("id", mem.ID))
				}
			}
			return nil
		})
		if err != nil {
			return goerr.Wrap(err, "failed to upsert memories",
				goerr.V("collection", r.memories),
				goerr.V("count", len(batch)),
				goerr.T(model.ErrTagIndex))
		}
	}

	return nil
}

func (r *Firestore) Delete(ctx context.Context, ids []model.MemoryID) error {
	coll := r.client.Collection(r.memories)
	refs := make([]*firestore.DocumentRef, len(ids))
	for i, id := range ids {
		refs[i] = coll.Doc(string(id))
	}
	if err := r.bulkDelete(ctx, refs); err != nil {
		return goerr.Wrap(err, "failed to delete memories",
			goerr.V("collection", r.memories),
			goerr.T(model.ErrTagIndex))
	}
	return nil
}

func (r *Firestore) DeleteAll(ctx context.Context) error {
	if err := r.deleteCollection(ctx, r.memories); err != nil {
		return goerr.Wrap(err, "failed to delete all memories", goerr.T(model.ErrTagIndex))
	}
	return nil
}

func (r *Firestore) Query(ctx context.Context, vector []float32, k int, filter *model.Filter) ([]*model.Hit, error) {
	if k <= 0 {
		return nil, nil
	}

	q := r.client.Collection(r.memories).Query
	if !filter.IsEmpty() {
		if filter.Type != "" {
			q = q.Where("type", "==", string(filter.Type))
		}
		if filter.Source != "" {
			q = q.Where("source", "==", filter.Source)
		}
	}

	vq := q.FindNearest(fieldEmbedding, firestore.Vector32(vector), k, firestore.DistanceMeasureCosine,
		&firestore.FindNearestOptions{DistanceResultField: fieldDistance})

	iter := vq.Documents(ctx)
	defer iter.Stop()

	var hits []*model.Hit
	for {
		snap, err := iter.Next()
		if errors.Is(err, iterator.Done) {
			break
		}
		if err != nil {
			return nil, goerr.Wrap(err, "failed to run vector query",
				goerr.V("collection", r.memories),
				goerr.V("k", k),
				goerr.T(model.ErrTagIndex))
		}

		var doc memoryDoc
		if err := snap.DataTo(&doc); err != nil {
			return nil, goerr.Wrap(err, "failed to decode memory",
				goerr.V("id", snap.Ref.ID),
				goerr.T(model.ErrTagIndex))
		}
		if doc.ID == "" {
			doc.ID = snap.Ref.ID
		}

		// Cosine distance is 1 - cosine similarity.
		distance, _ := snap.Data()[fieldDistance].(float64)
		hits = append(hits, &model.Hit{Memory: doc.toModel(), Similarity: 1 - distance})
	}

	return hits, nil
}

type permanentDoc struct {
	ID        string    `firestore:"id"`
	Content   string    `firestore:"content"`
	Type      string    `firestore:"type"`
	Category  string    `firestore:"category"`
	Tags      []string  `firestore:"tags"`
	Source    string    `firestore:"source"`
	CreatedAt time.Time `firestore:"created_at"`
	UpdatedAt time.Time `firestore:"updated_at"`
}

// PutPermanent writes a durable copy. The first created_at of the id is kept.
func (r *Firestore) PutPermanent(ctx context.Context, mem *model.Memory) error {
	ref := r.client.Collection(r.permanents).Doc(string(mem.ID))

	doc := &permanentDoc{
		ID:        string(mem.ID),
		Content:   mem.Content,
		Type:      string(mem.Type),
		Category:  mem.Category,
		Tags:      permanentTags(mem),
		Source:    mem.Source,
		CreatedAt: mem.CreatedAt,
		UpdatedAt: time.Now(),
	}

	snap, err := ref.Get(ctx)
	switch {
	case err == nil:
		var prev permanentDoc
		if err := snap.DataTo(&prev); err == nil && !prev.CreatedAt.IsZero() {
			doc.CreatedAt = prev.CreatedAt
		}
	case status.Code(err) == codes.NotFound:
	default:
		return goerr.Wrap(err, "failed to read permanent memory",
			goerr.V("id", mem.ID),
			goerr.T(model.ErrTagIndex))
	}

	if _, err := ref.Set(ctx, doc); err != nil {
		return goerr.Wrap(err, "failed to put permanent memory",
			goerr.V("id", mem.ID),
			goerr.T(model.ErrTagIndex))
	}
	return nil
}

func permanentTags(mem *model.Memory) []string {
	tags := []string{string(mem.Type)}
	if mem.Category != "" {
		tags = append(tags, mem.Category)
	}
	return tags
}

func (r *Firestore) DeletePermanent(ctx context.Context, ids []model.MemoryID) error {
	coll := r.client.Collection(r.permanents)
	refs := make([]*firestore.DocumentRef, len(ids))
	for i, id := range ids {
		refs[i] = coll.Doc(string(id))
	}
	if err := r.bulkDelete(ctx, refs); err != nil {
		return goerr.Wrap(err, "failed to delete permanent memories", goerr.T(model.ErrTagIndex))
	}
	return nil
}

func (r *Firestore) DeleteAllPermanent(ctx context.Context) error {
	if err := r.deleteCollection(ctx, r.permanents); err != nil {
		return goerr.Wrap(err, "failed to delete all permanent memories", goerr.T(model.ErrTagIndex))
	}
	return nil
}

func (r *Firestore) ListPermanent(ctx context.Context, since time.Time, limit int) ([]*model.Memory, error) {
	q := r.client.Collection(r.permanents).
		Where("created_at", ">=", since).
		OrderBy("created_at", firestore.Desc)
	if limit > 0 {
		q = q.Limit(limit)
	}

	iter := q.Documents(ctx)
	defer iter.Stop()

	var out []*model.Memory
	for {
		snap, err := iter.Next()
		if errors.Is(err, iterator.Done) {
			break
		}
		if err != nil {
			return nil, goerr.Wrap(err, "failed to list permanent memories", goerr.T(model.ErrTagIndex))
		}

		var doc permanentDoc
		if err := snap.DataTo(&doc); err != nil {
			return nil, goerr.Wrap(err, "failed to decode permanent memory",
				goerr.V("id", snap.Ref.ID),
				goerr.T(model.ErrTagIndex))
		}
		out = append(out, &model.Memory{
			ID:        model.MemoryID(doc.ID),
			Content:   doc.Content,
			Type:      model.MemoryType(doc.Type),
			Category:  doc.Category,
			Source:    doc.Source,
			CreatedAt: doc.CreatedAt,
		})
	}
	return out, nil
}

func (r *Firestore) bulkDelete(ctx context.Context, refs []*firestore.DocumentRef) error {
	if len(refs) == 0 {
		return nil
	}

	bw := r.client.BulkWriter(ctx)
	jobs := make([]*firestore.BulkWriterJob, 0, len(refs))
	for _, ref := range refs {
		job, err := bw.Delete(ref)
		if err != nil {
			bw.End()
			return goerr.Wrap(err, "failed to enqueue delete", goerr.V("id", ref.ID))
		}
		jobs = append(jobs, job)
	}
	bw.End()

	for i, job := range jobs {
		if _, err := job.Results(); err != nil && status.Code(err) != codes.NotFound {
			return goerr.Wrap(err, "failed to delete document", goerr.V("id", refs[i].ID))
		}
	}
	return nil
}

func (r *Firestore) deleteCollection(ctx context.Context, name string) error {
	iter := r.client.Collection(name).Select().Documents(ctx)
	defer iter.Stop()

	var refs []*firestore.DocumentRef
	for {
		snap, err := iter.Next()
		if errors.Is(err, iterator.Done) {
			break
		}
		if err != nil {
			return goerr.Wrap(err, "failed to list documents", goerr.V("collection", name))
		}
		refs = append(refs, snap.Ref)
	}
	return r.bulkDelete(ctx, refs)
}
