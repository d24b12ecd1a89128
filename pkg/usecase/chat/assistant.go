package chat

import (
	"bytes"
	"context"
	_ "embed"
	"fmt"
	"strings"
	"text/template"
	"time"

	"github.com/m-mizutani/goerr/v2"
	"github.com/m-mizutani/recall/pkg/adapter"
	"github.com/m-mizutani/recall/pkg/model"
	"github.com/m-mizutani/recall/pkg/usecase/learn"
	"github.com/m-mizutani/recall/pkg/usecase/memory"
	"github.com/m-mizutani/recall/pkg/usecase/recall"
	"github.com/m-mizutani/recall/pkg/utils/logging"
)

//go:embed prompt/system.md
var systemPrompt string

//go:embed prompt/answer.md
var answerPromptRaw string

var answerPromptTmpl = template.Must(template.New("answer").Parse(answerPromptRaw))

const (
	// DefaultContextBudget is the number of characters of memories placed in the prompt
	DefaultContextBudget = 8000

	contextExchanges = 3
	permanentLimit   = 20
)

// Answer is the outcome of one Ask call
type Answer struct {
	Text    string
	Queries []model.RetrievalQuery
	Result  *model.RetrievalResult

	// Learned is nil when auto-learning is off or found nothing.
	Learned *memory.RouteSummary
}

// Assistant answers questions from retrieved memories and learns from the conversation
type Assistant struct {
	generator adapter.TextGenerator
	expander  *recall.Expander
	engine    *recall.Engine
	memories  *memory.Service

	extractor *learn.Extractor
	storage   adapter.Storage
	audit     adapter.AuditLog
	touch     bool
	budget    int
	now       func() time.Time
}

type Option func(*Assistant)

// WithLearning stores preferences and facts extracted from each exchange
func WithLearning(extractor *learn.Extractor) Option {
	return func(a *Assistant) {
		a.extractor = extractor
	}
}

// WithStorage archives the session after every exchange
func WithStorage(storage adapter.Storage) Option {
	return func(a *Assistant) {
		a.storage = storage
	}
}

func WithAuditLog(audit adapter.AuditLog) Option {
	return func(a *Assistant) {
		a.audit = audit
	}
}

// WithTouch refreshes created_at of memories used in an answer
func WithTouch(enabled bool) Option {
	return func(a *Assistant) {
		a.touch = enabled
	}
}

func WithContextBudget(chars int) Option {
	return func(a *Assistant) {
		if chars > 0 {
			a.budget = chars
		}
	}
}

func WithClock(now func() time.Time) Option {
	return func(a *Assistant) {
		a.now = now
	}
}

func New(generator adapter.TextGenerator, expander *recall.Expander, engine *recall.Engine, memories *memory.Service, opts ...Option) (*Assistant, error) {
	if generator == nil || expander == nil || engine == nil || memories == nil {
		return nil, goerr.New("generator, expander, engine and memory service are required", goerr.T(model.ErrTagConfig))
	}

	a := &Assistant{
		generator: generator,
		expander:  expander,
		engine:    engine,
		memories:  memories,
		budget:    DefaultContextBudget,
		now:       time.Now,
	}
	for _, opt := range opts {
		opt(a)
	}
	return a, nil
}

// Ask answers question within sess and appends the exchange to its history. Failures of
// learning, archiving, auditing and touching are logged and do not fail the call.
func (a *Assistant) Ask(ctx context.Context, sess *Session, question string) (*Answer, error) {
	if strings.TrimSpace(question) == "" {
		return nil, model.ErrEmptyQuestion
	}
	logger := logging.From(ctx).With("session_id", sess.ID)

	queries := a.expander.Expand(ctx, question, sess.Transcript(contextExchanges))
	result, err := a.engine.Retrieve(ctx, queries)
	if err != nil {
		return nil, err
	}
	if result.AllFailed() {
		logger.Warn("every retrieval query failed, answering without memories", "queries", result.Queries)
	}

	permanent, err := a.memories.Permanent(ctx, time.Time{}, permanentLimit)
	if err != nil {
		logger.Warn("failed to list permanent memories", "error", err)
		permanent = nil
	}

	prompt, err := a.buildPrompt(sess, question, result, permanent)
	if err != nil {
		return nil, err
	}

	text, err := a.generator.GenerateText(ctx, systemPrompt, prompt)
	if err != nil {
		return nil, goerr.Wrap(err, "failed to generate answer", goerr.V("session_id", sess.ID))
	}

	now := a.now()
	sess.Append(model.Exchange{Question: question, Answer: text, CreatedAt: now})
	answer := &Answer{Text: text, Queries: queries, Result: result}

	if a.extractor != nil {
		transcript := "User: " + question + "\nAssistant: " + text
		if extraction := a.extractor.Extract(ctx, transcript); extraction.Total() > 0 {
			learned, err := a.memories.StoreExtracted(ctx, extraction)
			if err != nil {
				logger.Warn("failed to store learned memories", "error", err)
			} else {
				answer.Learned = learned
			}
		}
	}

	if a.storage != nil {
		if err := SaveSession(ctx, a.storage, sess); err != nil {
			logger.Warn("failed to archive session", "error", err)
		}
	}

	if a.audit != nil {
		ev := model.NewRetrievalEvent(sess.ID, question, queries, result, now)
		if err := a.audit.Record(ctx, ev); err != nil {
			logger.Warn("failed to record retrieval event", "error", err)
		}
	}

	if a.touch && len(result.Memories) > 0 {
		used := make([]*model.Memory, len(result.Memories))
		for i, m := range result.Memories {
			used[i] = m.Memory
		}
		if err := a.memories.Touch(ctx, used, now); err != nil {
			logger.Warn("failed to touch used memories", "error", err)
		}
	}

	logger.Debug("answered question",
		"queries", len(queries),
		"memories", len(result.Memories),
		"failed_queries", result.FailedQueries)
	return answer, nil
}

func (a *Assistant) buildPrompt(sess *Session, question string, result *model.RetrievalResult, permanent []*model.Memory) (string, error) {
	var learned, documents []*model.Memory
	seen := map[model.MemoryID]struct{}{}
	for _, m := range result.Memories {
		seen[m.Memory.ID] = struct{}{}
		if m.Memory.Type.IsCore() {
			learned = append(learned, m.Memory)
		} else {
			documents = append(documents, m.Memory)
		}
	}
	for _, m := range permanent {
		if _, ok := seen[m.ID]; !ok {
			seen[m.ID] = struct{}{}
			learned = append(learned, m)
		}
	}

	budget := a.budget
	learnedText, index := formatMemories(learned, 1, &budget)
	documentText, _ := formatMemories(documents, index, &budget)

	var buf bytes.Buffer
	if err := answerPromptTmpl.Execute(&buf, map[string]any{
		"Learned":   learnedText,
		"Documents": documentText,
		"History":   sess.Transcript(contextExchanges),
		"Question":  question,
	}); err != nil {
		return "", goerr.Wrap(err, "failed to build answer prompt")
	}
	return buf.String(), nil
}

// formatMemories renders memories numbered from start until budget runs out. It returns
// the text and the next number.
func formatMemories(memories []*model.Memory, start int, budget *int) (string, int) {
	var b strings.Builder
	i := start
	for _, m := range memories {
		entry := fmt.Sprintf("[Memory %d] (from %s) [Source: %s]\n%s\n\n", i, formatDate(m.CreatedAt), m.Source, m.Content)
		if len(entry) > *budget {
			break
		}
		*budget -= len(entry)
		b.WriteString(entry)
		i++
	}
	return strings.TrimRight(b.String(), "\n"), i
}

func formatDate(t time.Time) string {
	if t.IsZero() {
		return "unknown date"
	}
	return t.Format("2006-01-02")
}
