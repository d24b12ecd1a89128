package memory_test

import (
	"context"
	"sync"
	"testing"
	"time"

	"github.com/m-mizutani/goerr/v2"
	"github.com/m-mizutani/gt"
	"github.com/m-mizutani/recall/pkg/embedding"
	"github.com/m-mizutani/recall/pkg/interfaces"
	"github.com/m-mizutani/recall/pkg/model"
	"github.com/m-mizutani/recall/pkg/policy"
	"github.com/m-mizutani/recall/pkg/repository"
	"github.com/m-mizutani/recall/pkg/usecase/memory"
)

type mockDurable struct {
	mu      sync.Mutex
	stored  map[model.MemoryID]*model.Memory
	cleared bool
}

var _ interfaces.DurableStore = (*mockDurable)(nil)

func newMockDurable() *mockDurable {
	return &mockDurable{stored: map[model.MemoryID]*model.Memory{}}
}

func (m *mockDurable) PutPermanent(ctx context.Context, mem *model.Memory) error {
	m.mu.Lock()
	defer m.mu.Unlock()
	m.stored[mem.ID] = mem.Copy()
	return nil
}

func (m *mockDurable) DeletePermanent(ctx context.Context, ids []model.MemoryID) error {
	m.mu.Lock()
	defer m.mu.Unlock()
	for _, id := range ids {
		delete(m.stored, id)
	}
	return nil
}

func (m *mockDurable) DeleteAllPermanent(ctx context.Context) error {
	m.mu.Lock()
	defer m.mu.Unlock()
	m.stored = map[model.MemoryID]*model.Memory{}
	m.cleared = true
	return nil
}

func (m *mockDurable) ListPermanent(ctx context.Context, since time.Time, limit int) ([]*model.Memory, error) {
	m.mu.Lock()
	defer m.mu.Unlock()
	var out []*model.Memory
	for _, mem := range m.stored {
		out = append(out, mem)
	}
	return out, nil
}

type fixture struct {
	svc     *memory.Service
	index   *repository.Chromem
	durable *mockDurable
	emb     interfaces.Embedder
	now     time.Time
}

func setup(t *testing.T, withDurable bool) *fixture {
	t.Helper()
	ctx := context.Background()

	emb, err := embedding.NewHash(64)
	gt.NoError(t, err)
	index, err := repository.NewChromem("", "test")
	gt.NoError(t, err)
	router, err := policy.NewRouter(ctx, "")
	gt.NoError(t, err)

	f := &fixture{
		index: index,
		emb:   emb,
		now:   time.Date(2024, 5, 1, 12, 0, 0, 0, time.UTC),
	}
	opts := []memory.Option{memory.WithClock(func() time.Time { return f.now })}
	if withDurable {
		f.durable = newMockDurable()
		opts = append(opts, memory.WithDurableStore(f.durable))
	}
	f.svc, err = memory.New(emb, index, router, opts...)
	gt.NoError(t, err)
	return f
}

func (f *fixture) search(t *testing.T, text string, k int) []*model.Hit {
	t.Helper()
	vec, err := f.emb.Embed(context.Background(), text)
	gt.NoError(t, err)
	hits, err := f.index.Query(context.Background(), vec, k, nil)
	gt.NoError(t, err)
	return hits
}

func TestNewRequiresCollaborators(t *testing.T) {
	_, err := memory.New(nil, nil, nil)
	gt.Error(t, err)
	gt.True(t, goerr.HasTag(err, model.ErrTagConfig))
}

func TestStoreNormalizesAndRoutes(t *testing.T) {
	ctx := context.Background()
	f := setup(t, true)

	note := &model.Memory{Content: "meeting notes about the garden project"}
	pref := &model.Memory{Content: "the user prefers green tea", Type: model.MemoryTypePreference}

	summary, err := f.svc.Store(ctx, []*model.Memory{note, pref})
	gt.NoError(t, err)
	gt.Equal(t, summary.VectorUpserts, 2)
	gt.Equal(t, summary.DurableUpserts, 1)

	gt.True(t, note.ID != "")
	gt.True(t, note.CreatedAt.Equal(f.now))
	gt.Equal(t, note.Source, model.SourceManual)
	gt.Equal(t, note.Type, model.MemoryTypeNote)

	_, ok := f.durable.stored[pref.ID]
	gt.True(t, ok)
	_, ok = f.durable.stored[note.ID]
	gt.False(t, ok)

	hits := f.search(t, "green tea", 2)
	gt.A(t, hits).Length(2)
	gt.Equal(t, hits[0].Memory.ID, pref.ID)
}

func TestStoreRejectsEmptyContent(t *testing.T) {
	f := setup(t, false)
	_, err := f.svc.Store(context.Background(), []*model.Memory{{Content: "  "}})
	gt.Error(t, err)
	gt.True(t, goerr.HasTag(err, model.ErrTagValidation))
}

func TestStoreWithoutDurableStore(t *testing.T) {
	f := setup(t, false)
	summary, err := f.svc.Store(context.Background(), []*model.Memory{
		{Content: "allergic to peanuts", Type: model.MemoryTypeFact},
	})
	gt.NoError(t, err)
	gt.Equal(t, summary.VectorUpserts, 1)
	gt.Equal(t, summary.DurableUpserts, 0)
}

func TestStoreVectorOptOut(t *testing.T) {
	f := setup(t, true)
	summary, err := f.svc.Store(context.Background(), []*model.Memory{
		{
			Content:  "lives in Kyoto",
			Type:     model.MemoryTypeProfile,
			Metadata: map[string]any{"route_to_vector": false},
		},
	})
	gt.NoError(t, err)
	gt.Equal(t, summary.VectorUpserts, 0)
	gt.Equal(t, summary.DurableUpserts, 1)
}

func TestStoreExtractedIsIdempotent(t *testing.T) {
	ctx := context.Background()
	f := setup(t, true)

	extraction := model.NewExtraction()
	extraction.Add(&model.ExtractedItem{
		Content:  "User prefers dark roast coffee",
		Type:     model.MemoryTypePreference,
		Category: "food",
		Source:   model.SourceAutoExtracted,
	})

	_, err := f.svc.StoreExtracted(ctx, extraction)
	gt.NoError(t, err)

	first := f.now
	f.now = f.now.Add(48 * time.Hour)
	_, err = f.svc.StoreExtracted(ctx, extraction)
	gt.NoError(t, err)

	hits := f.search(t, "dark roast coffee", 5)
	gt.A(t, hits).Length(1)
	gt.Equal(t, hits[0].Memory.Source, model.SourceAutoExtracted)
	gt.Equal(t, hits[0].Memory.Category, "food")
	gt.True(t, hits[0].Memory.CreatedAt.Equal(first))
	gt.Equal(t, len(f.durable.stored), 1)
}

func TestTouchRefreshesCreatedAt(t *testing.T) {
	ctx := context.Background()
	f := setup(t, false)

	mem := &model.Memory{Content: "bike maintenance schedule"}
	_, err := f.svc.Store(ctx, []*model.Memory{mem})
	gt.NoError(t, err)

	later := f.now.Add(24 * time.Hour)
	hits := f.search(t, "bike maintenance", 1)
	gt.A(t, hits).Length(1)
	gt.NoError(t, f.svc.Touch(ctx, []*model.Memory{hits[0].Memory}, later))

	hits = f.search(t, "bike maintenance", 1)
	gt.True(t, hits[0].Memory.CreatedAt.Equal(later))
}

func TestDeleteTargets(t *testing.T) {
	ctx := context.Background()
	f := setup(t, true)

	pref := &model.Memory{Content: "prefers window seats", Type: model.MemoryTypePreference}
	_, err := f.svc.Store(ctx, []*model.Memory{pref})
	gt.NoError(t, err)

	t.Run("vector only", func(t *testing.T) {
		summary, err := f.svc.Delete(ctx, []model.MemoryID{pref.ID}, memory.TargetVector)
		gt.NoError(t, err)
		gt.Equal(t, summary.VectorDeletes, 1)
		gt.Equal(t, summary.DurableDeletes, 0)
		gt.A(t, f.search(t, "window seats", 1)).Length(0)
		gt.Equal(t, len(f.durable.stored), 1)
	})

	t.Run("all", func(t *testing.T) {
		summary, err := f.svc.Delete(ctx, []model.MemoryID{pref.ID}, memory.TargetAll)
		gt.NoError(t, err)
		gt.Equal(t, summary.DurableDeletes, 1)
		gt.Equal(t, len(f.durable.stored), 0)
	})
}

func TestDeleteDurableWithoutStore(t *testing.T) {
	f := setup(t, false)
	_, err := f.svc.Delete(context.Background(), []model.MemoryID{"x"}, memory.TargetDurable)
	gt.Error(t, err)
	gt.True(t, goerr.HasTag(err, model.ErrTagConfig))
}

func TestDeleteAll(t *testing.T) {
	ctx := context.Background()
	f := setup(t, true)

	_, err := f.svc.Store(ctx, []*model.Memory{
		{Content: "first note"},
		{Content: "prefers tea", Type: model.MemoryTypePreference},
	})
	gt.NoError(t, err)

	gt.NoError(t, f.svc.DeleteAll(ctx, memory.TargetAll))
	gt.A(t, f.search(t, "note", 5)).Length(0)
	gt.True(t, f.durable.cleared)
}

func TestParseTarget(t *testing.T) {
	target, err := memory.ParseTarget("")
	gt.NoError(t, err)
	gt.Equal(t, target, memory.TargetAll)

	target, err = memory.ParseTarget("Durable")
	gt.NoError(t, err)
	gt.Equal(t, target, memory.TargetDurable)

	_, err = memory.ParseTarget("everything")
	gt.Error(t, err)
}
