package model

import "time"

// QueryOrigin tells whether a retrieval query came from the user or from expansion
type QueryOrigin string

const (
	QueryOriginOriginal  QueryOrigin = "original"
	QueryOriginGenerated QueryOrigin = "generated"
)

// RetrievalQuery is one expanded query string derived from a user question
type RetrievalQuery struct {
	Text   string
	Weight float64
	Origin QueryOrigin
}

// NewRetrievalQuery returns a query with the default weight of 1.0
func NewRetrievalQuery(text string, origin QueryOrigin) RetrievalQuery {
	return RetrievalQuery{Text: text, Weight: 1.0, Origin: origin}
}

// ScoredMemory is a Memory ranked for one retrieval. It is never persisted.
type ScoredMemory struct {
	Memory *Memory

	// Similarity is the best raw hit across all queries, used for diagnostics.
	Similarity float64
	// Weighted is the best similarity after query weights. Ranking uses it.
	Weighted float64
	// Score is the blended score that drives ordering.
	Score float64
	// Queries holds the texts of the queries that returned this memory.
	Queries []string
}

// RetrievalResult is the outcome of a multi-query retrieval
type RetrievalResult struct {
	Memories      []*ScoredMemory
	Queries       int
	FailedQueries int
}

// HadFailures reports whether at least one sub-query failed
func (x *RetrievalResult) HadFailures() bool {
	return x.FailedQueries > 0
}

// AllFailed distinguishes a backend outage from "no relevant memories".
func (x *RetrievalResult) AllFailed() bool {
	return x.Queries > 0 && x.FailedQueries == x.Queries
}

// Contents returns the memory texts in rank order
func (x *RetrievalResult) Contents() []string {
	out := make([]string, 0, len(x.Memories))
	for _, m := range x.Memories {
		out = append(out, m.Memory.Content)
	}
	return out
}

// RetrievalEvent records one answered question for offline analysis of retrieval quality
type RetrievalEvent struct {
	SessionID     SessionID
	Question      string
	Queries       []string
	MemoryIDs     []MemoryID
	Similarities  []float64
	Scores        []float64
	FailedQueries int
	TotalQueries  int
	CreatedAt     time.Time
}

// NewRetrievalEvent summarizes result for question
func NewRetrievalEvent(sessionID SessionID, question string, queries []RetrievalQuery, result *RetrievalResult, now time.Time) *RetrievalEvent {
	ev := &RetrievalEvent{
		SessionID:     sessionID,
		Question:      question,
		FailedQueries: result.FailedQueries,
		TotalQueries:  result.Queries,
		CreatedAt:     now,
	}
	for _, q := range queries {
		ev.Queries = append(ev.Queries, q.Text)
	}
	for _, m := range result.Memories {
		ev.MemoryIDs = append(ev.MemoryIDs, m.Memory.ID)
		ev.Similarities = append(ev.Similarities, m.Similarity)
		ev.Scores = append(ev.Scores, m.Score)
	}
	return ev
}
