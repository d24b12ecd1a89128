package memory

import (
	"context"
	"strings"
	"time"

	"github.com/m-mizutani/goerr/v2"
	"github.com/m-mizutani/recall/pkg/interfaces"
	"github.com/m-mizutani/recall/pkg/model"
	"github.com/m-mizutani/recall/pkg/policy"
	"github.com/m-mizutani/recall/pkg/utils/logging"
	"golang.org/x/sync/errgroup"
)

// Target selects the backends affected by a delete
type Target string

const (
	TargetAll     Target = "all"
	TargetVector  Target = "vector"
	TargetDurable Target = "durable"
)

// ParseTarget converts a CLI or tool argument into a Target
func ParseTarget(s string) (Target, error) {
	switch t := Target(strings.ToLower(strings.TrimSpace(s))); t {
	case TargetAll, TargetVector, TargetDurable:
		return t, nil
	case "":
		return TargetAll, nil
	default:
		return "", goerr.New("unknown delete target",
			goerr.V("target", s),
			goerr.T(model.ErrTagValidation))
	}
}

// RouteSummary counts the writes issued by one Service call
type RouteSummary struct {
	VectorUpserts  int
	DurableUpserts int
	VectorDeletes  int
	DurableDeletes int
}

// Service writes memories to the vector index and, for core memories, to the durable store
type Service struct {
	embedder    interfaces.Embedder
	index       interfaces.VectorIndex
	durable     interfaces.DurableStore
	router      *policy.Router
	now         func() time.Time
	concurrency int
}

type Option func(*Service)

// WithDurableStore enables permanent copies of memories routed as durable
func WithDurableStore(store interfaces.DurableStore) Option {
	return func(s *Service) {
		s.durable = store
	}
}

func WithClock(now func() time.Time) Option {
	return func(s *Service) {
		s.now = now
	}
}

// WithConcurrency bounds parallel embedding calls
func WithConcurrency(n int) Option {
	return func(s *Service) {
		if n > 0 {
			s.concurrency = n
		}
	}
}

func New(embedder interfaces.Embedder, index interfaces.VectorIndex, router *policy.Router, opts ...Option) (*Service, error) {
	if embedder == nil || index == nil || router == nil {
		return nil, goerr.New("embedder, index and router are required", goerr.T(model.ErrTagConfig))
	}

	s := &Service{
		embedder:    embedder,
		index:       index,
		router:      router,
		now:         time.Now,
		concurrency: 4,
	}
	for _, opt := range opts {
		opt(s)
	}
	return s, nil
}

// HasDurableStore reports whether durable routing is active
func (s *Service) HasDurableStore() bool {
	return s.durable != nil
}

// Store normalizes, routes and writes memories. Missing IDs, timestamps and sources are
// filled in place so that the caller sees what was stored.
func (s *Service) Store(ctx context.Context, memories []*model.Memory) (*RouteSummary, error) {
	logger := logging.From(ctx)
	summary := &RouteSummary{}
	if len(memories) == 0 {
		return summary, nil
	}

	now := s.now()
	for _, mem := range memories {
		if strings.TrimSpace(mem.Content) == "" {
			return nil, goerr.Wrap(model.ErrEmptyContent, "cannot store memory", goerr.V("id", mem.ID))
		}
		if mem.ID == "" {
			mem.ID = model.NewMemoryID()
		}
		if mem.CreatedAt.IsZero() {
			mem.CreatedAt = now
		}
		if mem.Source == "" {
			mem.Source = model.SourceManual
		}
		if mem.Type == "" {
			mem.Type = model.MemoryTypeNote
		}
	}

	var toVector, toDurable []*model.Memory
	for _, mem := range memories {
		decision, err := s.router.Route(ctx, mem)
		if err != nil {
			return nil, err
		}
		if decision.Vector {
			toVector = append(toVector, mem)
		}
		if decision.Durable {
			if s.durable == nil {
				logger.Debug("durable store not configured, skip", "id", mem.ID, "type", mem.Type)
			} else {
				toDurable = append(toDurable, mem)
			}
		}
	}

	if len(toVector) > 0 {
		if err := s.embedAll(ctx, toVector); err != nil {
			return nil, err
		}
		if err := s.index.Upsert(ctx, toVector); err != nil {
			return nil, goerr.Wrap(err, "failed to upsert memories", goerr.V("count", len(toVector)))
		}
		summary.VectorUpserts = len(toVector)
	}

	for _, mem := range toDurable {
		if err := s.durable.PutPermanent(ctx, mem); err != nil {
			return nil, goerr.Wrap(err, "failed to store permanent memory", goerr.V("id", mem.ID))
		}
		summary.DurableUpserts++
	}

	logger.Info("stored memories",
		"vector", summary.VectorUpserts,
		"durable", summary.DurableUpserts)
	return summary, nil
}

// StoreExtracted stores items found by the extractor. IDs derive from type and content so
// learning the same fact twice updates the existing memory.
func (s *Service) StoreExtracted(ctx context.Context, extraction *model.Extraction) (*RouteSummary, error) {
	if extraction == nil || extraction.Total() == 0 {
		return &RouteSummary{}, nil
	}

	now := s.now()
	memories := make([]*model.Memory, 0, extraction.Total())
	for _, item := range extraction.Items {
		source := item.Source
		if source == "" {
			source = model.SourceAutoExtracted
		}
		memories = append(memories, &model.Memory{
			ID:        model.DeriveMemoryID(string(item.Type), strings.ToLower(strings.TrimSpace(item.Content))),
			Content:   item.Content,
			CreatedAt: now,
			Source:    source,
			Type:      item.Type,
			Category:  item.Category,
			Metadata:  item.Metadata,
		})
	}

	return s.Store(ctx, memories)
}

// Touch marks memories as used at the given time so that recency weighting favors them
func (s *Service) Touch(ctx context.Context, memories []*model.Memory, at time.Time) error {
	if len(memories) == 0 {
		return nil
	}

	touched := make([]*model.Memory, len(memories))
	for i, mem := range memories {
		touched[i] = mem.Copy()
		touched[i].CreatedAt = at
	}

	if err := s.embedAll(ctx, touched); err != nil {
		return err
	}
	if err := s.index.Upsert(ctx, touched, interfaces.WithTouch()); err != nil {
		return goerr.Wrap(err, "failed to touch memories", goerr.V("count", len(touched)))
	}
	return nil
}

// Delete removes memories by ID from the selected backends
func (s *Service) Delete(ctx context.Context, ids []model.MemoryID, target Target) (*RouteSummary, error) {
	summary := &RouteSummary{}
	if len(ids) == 0 {
		return summary, nil
	}
	if err := s.checkTarget(target); err != nil {
		return nil, err
	}

	if target == TargetAll || target == TargetVector {
		if err := s.index.Delete(ctx, ids); err != nil {
			return nil, goerr.Wrap(err, "failed to delete from index")
		}
		summary.VectorDeletes = len(ids)
	}
	if s.durable != nil && (target == TargetAll || target == TargetDurable) {
		if err := s.durable.DeletePermanent(ctx, ids); err != nil {
			return nil, goerr.Wrap(err, "failed to delete from durable store")
		}
		summary.DurableDeletes = len(ids)
	}

	logging.From(ctx).Info("deleted memories",
		"target", target,
		"vector", summary.VectorDeletes,
		"durable", summary.DurableDeletes)
	return summary, nil
}

// DeleteAll clears the selected backends
func (s *Service) DeleteAll(ctx context.Context, target Target) error {
	if err := s.checkTarget(target); err != nil {
		return err
	}

	if target == TargetAll || target == TargetVector {
		if err := s.index.DeleteAll(ctx); err != nil {
			return goerr.Wrap(err, "failed to clear index")
		}
	}
	if s.durable != nil && (target == TargetAll || target == TargetDurable) {
		if err := s.durable.DeleteAllPermanent(ctx); err != nil {
			return goerr.Wrap(err, "failed to clear durable store")
		}
	}

	logging.From(ctx).Info("cleared memories", "target", target)
	return nil
}

// Permanent lists durable memories created at or after since
func (s *Service) Permanent(ctx context.Context, since time.Time, limit int) ([]*model.Memory, error) {
	if s.durable == nil {
		return nil, nil
	}
	return s.durable.ListPermanent(ctx, since, limit)
}

func (s *Service) checkTarget(target Target) error {
	switch target {
	case TargetAll, TargetVector:
		return nil
	case TargetDurable:
		if s.durable == nil {
			return goerr.New("durable store is not configured", goerr.T(model.ErrTagConfig))
		}
		return nil
	default:
		return goerr.New("unknown delete target",
			goerr.V("target", target),
			goerr.T(model.ErrTagValidation))
	}
}

func (s *Service) embedAll(ctx context.Context, memories []*model.Memory) error {
	eg, ctx := errgroup.WithContext(ctx)
	eg.SetLimit(s.concurrency)

	for _, mem := range memories {
		if len(mem.Embedding) > 0 {
			continue
		}
		eg.Go(func() error {
			vec, err := s.embedder.Embed(ctx, mem.Content)
			if err != nil {
				return goerr.Wrap(err, "failed to embed memory", goerr.V("id", mem.ID))
			}
			mem.Embedding = vec
			return nil
		})
	}

	return eg.Wait()
}
