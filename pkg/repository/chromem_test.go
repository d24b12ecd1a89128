package repository_test

import (
	"context"
	"testing"
	"time"

	"github.com/m-mizutani/gt"
	"github.com/m-mizutani/recall/pkg/interfaces"
	"github.com/m-mizutani/recall/pkg/model"
	"github.com/m-mizutani/recall/pkg/repository"
)

func newMemory(id string, vec []float32, createdAt time.Time) *model.Memory {
	return &model.Memory{
		ID:        model.MemoryID(id),
		Content:   "content of " + id,
		Embedding: vec,
		CreatedAt: createdAt,
		Source:    "test",
		Type:      model.MemoryTypeNote,
	}
}

func TestChromemQueryOrder(t *testing.T) {
	ctx := context.Background()
	repo, err := repository.NewChromem("", "test")
	gt.NoError(t, err)

	now := time.Now().UTC().Truncate(time.Second)
	gt.NoError(t, repo.Upsert(ctx, []*model.Memory{
		newMemory("x", []float32{1, 0, 0}, now),
		newMemory("y", []float32{0.7, 0.7, 0}, now),
		newMemory("z", []float32{0, 0, 1}, now),
	}))

	hits, err := repo.Query(ctx, []float32{1, 0, 0}, 2, nil)
	gt.NoError(t, err)
	gt.A(t, hits).Length(2)
	gt.Equal(t, hits[0].Memory.ID, model.MemoryID("x"))
	gt.Equal(t, hits[1].Memory.ID, model.MemoryID("y"))
	gt.True(t, hits[0].Similarity > 0.99)
	gt.True(t, hits[0].Memory.CreatedAt.Equal(now))
	gt.Equal(t, hits[0].Memory.Content, "content of x")
}

func TestChromemQueryLargerThanCollection(t *testing.T) {
	ctx := context.Background()
	repo, err := repository.NewChromem("", "test")
	gt.NoError(t, err)

	hits, err := repo.Query(ctx, []float32{1, 0}, 5, nil)
	gt.NoError(t, err)
	gt.A(t, hits).Length(0)

	gt.NoError(t, repo.Upsert(ctx, []*model.Memory{newMemory("a", []float32{1, 0}, time.Now())}))
	hits, err = repo.Query(ctx, []float32{1, 0}, 5, nil)
	gt.NoError(t, err)
	gt.A(t, hits).Length(1)
}

func TestChromemFilter(t *testing.T) {
	ctx := context.Background()
	repo, err := repository.NewChromem("", "test")
	gt.NoError(t, err)

	pref := newMemory("pref", []float32{1, 0}, time.Now())
	pref.Type = model.MemoryTypePreference
	gt.NoError(t, repo.Upsert(ctx, []*model.Memory{
		pref,
		newMemory("note1", []float32{1, 0.1}, time.Now()),
		newMemory("note2", []float32{1, 0.2}, time.Now()),
	}))

	hits, err := repo.Query(ctx, []float32{1, 0}, 3, &model.Filter{Type: model.MemoryTypePreference})
	gt.NoError(t, err)
	gt.A(t, hits).Length(1)
	gt.Equal(t, hits[0].Memory.ID, model.MemoryID("pref"))

	t.Run("no matching document", func(t *testing.T) {
		hits, err := repo.Query(ctx, []float32{1, 0}, 3, &model.Filter{Type: model.MemoryTypeFact})
		gt.NoError(t, err)
		gt.A(t, hits).Length(0)
	})

	t.Run("k above matches keeps every match", func(t *testing.T) {
		hits, err := repo.Query(ctx, []float32{1, 0}, 10, &model.Filter{Type: model.MemoryTypeNote})
		gt.NoError(t, err)
		gt.A(t, hits).Length(2)
		gt.Equal(t, hits[0].Memory.ID, model.MemoryID("note1"))
	})

	t.Run("after delete", func(t *testing.T) {
		gt.NoError(t, repo.Delete(ctx, []model.MemoryID{"note2"}))
		hits, err := repo.Query(ctx, []float32{1, 0}, 3, &model.Filter{Type: model.MemoryTypeNote})
		gt.NoError(t, err)
		gt.A(t, hits).Length(1)
		gt.Equal(t, hits[0].Memory.ID, model.MemoryID("note1"))
	})
}

func TestChromemUpsertPreservesCreatedAt(t *testing.T) {
	ctx := context.Background()
	repo, err := repository.NewChromem("", "test")
	gt.NoError(t, err)

	first := time.Date(2024, 6, 11, 9, 40, 0, 0, time.UTC)
	gt.NoError(t, repo.Upsert(ctx, []*model.Memory{newMemory("a", []float32{1, 0}, first)}))

	later := first.Add(48 * time.Hour)
	replaced := newMemory("a", []float32{1, 0}, later)
	replaced.Content = "updated"
	replaced.Metadata = map[string]any{"chunk": float64(2)}
	gt.NoError(t, repo.Upsert(ctx, []*model.Memory{replaced}))

	hits, err := repo.Query(ctx, []float32{1, 0}, 1, nil)
	gt.NoError(t, err)
	gt.A(t, hits).Length(1)
	gt.Equal(t, hits[0].Memory.Content, "updated")
	gt.True(t, hits[0].Memory.CreatedAt.Equal(first))
	gt.Equal(t, hits[0].Memory.Metadata["chunk"], any(float64(2)))

	t.Run("touch overwrites created_at", func(t *testing.T) {
		gt.NoError(t, repo.Upsert(ctx, []*model.Memory{replaced}, interfaces.WithTouch()))
		hits, err := repo.Query(ctx, []float32{1, 0}, 1, nil)
		gt.NoError(t, err)
		gt.True(t, hits[0].Memory.CreatedAt.Equal(later))
	})
}

func TestChromemDelete(t *testing.T) {
	ctx := context.Background()
	repo, err := repository.NewChromem("", "test")
	gt.NoError(t, err)

	gt.NoError(t, repo.Upsert(ctx, []*model.Memory{
		newMemory("a", []float32{1, 0}, time.Now()),
		newMemory("b", []float32{0, 1}, time.Now()),
	}))

	gt.NoError(t, repo.Delete(ctx, []model.MemoryID{"a"}))
	hits, err := repo.Query(ctx, []float32{1, 0}, 2, nil)
	gt.NoError(t, err)
	gt.A(t, hits).Length(1)
	gt.Equal(t, hits[0].Memory.ID, model.MemoryID("b"))

	gt.NoError(t, repo.Delete(ctx, nil))

	gt.NoError(t, repo.DeleteAll(ctx))
	hits, err = repo.Query(ctx, []float32{1, 0}, 2, nil)
	gt.NoError(t, err)
	gt.A(t, hits).Length(0)

	// collection is usable after DeleteAll
	gt.NoError(t, repo.Upsert(ctx, []*model.Memory{newMemory("c", []float32{1, 0}, time.Now())}))
	hits, err = repo.Query(ctx, []float32{1, 0}, 2, nil)
	gt.NoError(t, err)
	gt.A(t, hits).Length(1)
}

func TestChromemRejectsMissingEmbedding(t *testing.T) {
	repo, err := repository.NewChromem("", "test")
	gt.NoError(t, err)

	err = repo.Upsert(context.Background(), []*model.Memory{newMemory("a", nil, time.Now())})
	gt.Error(t, err)
}

func TestChromemPersistent(t *testing.T) {
	ctx := context.Background()
	dir := t.TempDir()

	repo, err := repository.NewChromem(dir, "persist")
	gt.NoError(t, err)
	gt.NoError(t, repo.Upsert(ctx, []*model.Memory{newMemory("a", []float32{1, 0}, time.Now())}))

	reopened, err := repository.NewChromem(dir, "persist")
	gt.NoError(t, err)
	hits, err := reopened.Query(ctx, []float32{1, 0}, 1, nil)
	gt.NoError(t, err)
	gt.A(t, hits).Length(1)
}
