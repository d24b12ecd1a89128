package repository_test

import (
	"context"
	"math/rand"
	"os"
	"testing"
	"time"

	"github.com/m-mizutani/gt"
	"github.com/m-mizutani/recall/pkg/model"
	"github.com/m-mizutani/recall/pkg/repository"
)

func setupFirestore(t *testing.T) *repository.Firestore {
	projectID := os.Getenv("TEST_FIRESTORE_PROJECT_ID")
	databaseID := os.Getenv("TEST_FIRESTORE_DATABASE_ID")

	if projectID == "" || databaseID == "" {
		t.Skip("TEST_FIRESTORE_PROJECT_ID and TEST_FIRESTORE_DATABASE_ID must be set to run Firestore tests")
	}

	suffix := model.NewMemoryID().String()[:8]
	repo, err := repository.NewFirestore(context.Background(), projectID, databaseID,
		repository.WithMemoryCollection("test_memories_"+suffix),
		repository.WithPermanentCollection("test_permanent_"+suffix),
	)
	gt.NoError(t, err)

	t.Cleanup(func() {
		ctx := context.Background()
		_ = repo.DeleteAll(ctx)
		_ = repo.DeleteAllPermanent(ctx)
		_ = repo.Close()
	})
	return repo
}

func randomVector(rng *rand.Rand, center float32) []float32 {
	vec := make([]float32, 768)
	for i := range vec {
		vec[i] = center + float32(rng.Float64()*0.02-0.01)
	}
	return vec
}

func TestFirestoreUpsertAndQuery(t *testing.T) {
	repo := setupFirestore(t)
	ctx := context.Background()
	rng := rand.New(rand.NewSource(time.Now().UnixNano()))

	created := time.Now().Add(-24 * time.Hour).UTC().Truncate(time.Millisecond)
	mem := &model.Memory{
		ID:        model.NewMemoryID(),
		Content:   "likes quiet restaurants",
		Embedding: randomVector(rng, 0.5),
		CreatedAt: created,
		Source:    "test",
		Type:      model.MemoryTypePreference,
	}
	gt.NoError(t, repo.Upsert(ctx, []*model.Memory{mem}))

	// Re-upsert with a new timestamp must keep the original created_at
	again := mem.Copy()
	again.CreatedAt = time.Now()
	gt.NoError(t, repo.Upsert(ctx, []*model.Memory{again}))

	hits, err := repo.Query(ctx, randomVector(rng, 0.5), 3, nil)
	gt.NoError(t, err)
	gt.A(t, hits).Longer(0)
	gt.Equal(t, hits[0].Memory.ID, mem.ID)
	gt.True(t, hits[0].Memory.CreatedAt.Equal(created))
	gt.True(t, hits[0].Similarity > 0.9)

	gt.NoError(t, repo.Delete(ctx, []model.MemoryID{mem.ID}))
	hits, err = repo.Query(ctx, randomVector(rng, 0.5), 3, nil)
	gt.NoError(t, err)
	gt.A(t, hits).Length(0)
}

func TestFirestorePermanent(t *testing.T) {
	repo := setupFirestore(t)
	ctx := context.Background()

	mem := &model.Memory{
		ID:        model.NewMemoryID(),
		Content:   "User fact: lives in Tokyo",
		Type:      model.MemoryTypeFact,
		Category:  "location",
		Source:    model.SourceAutoExtracted,
		CreatedAt: time.Now().UTC(),
	}
	gt.NoError(t, repo.PutPermanent(ctx, mem))

	list, err := repo.ListPermanent(ctx, time.Now().Add(-time.Hour), 10)
	gt.NoError(t, err)
	gt.A(t, list).Length(1)
	gt.Equal(t, list[0].Content, mem.Content)

	gt.NoError(t, repo.DeletePermanent(ctx, []model.MemoryID{mem.ID}))
	list, err = repo.ListPermanent(ctx, time.Now().Add(-time.Hour), 10)
	gt.NoError(t, err)
	gt.A(t, list).Length(0)
}
