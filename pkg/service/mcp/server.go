package mcp

import (
	"context"
	"encoding/json"
	"net/http"
	"strings"
	"time"

	"github.com/m-mizutani/goerr/v2"
	"github.com/m-mizutani/recall/pkg/model"
	"github.com/m-mizutani/recall/pkg/usecase/memory"
	"github.com/m-mizutani/recall/pkg/usecase/recall"
	"github.com/m-mizutani/recall/pkg/utils/logging"
	"github.com/modelcontextprotocol/go-sdk/mcp"
)

// Server exposes memory search and storage as MCP tools
type Server struct {
	server   *mcp.Server
	expander *recall.Expander
	engine   *recall.Engine
	memories *memory.Service
}

type searchParams struct {
	Query           string `json:"query" jsonschema:"Question or keywords to look up in memory"`
	Limit           int    `json:"limit,omitempty" jsonschema:"Maximum number of memories to return"`
	Type            string `json:"type,omitempty" jsonschema:"Only return memories of this type (note, fact, preference, profile, user_core)"`
	NoTimeWeighting bool   `json:"no_time_weighting,omitempty" jsonschema:"Rank by similarity only, ignoring recency"`
}

type rememberParams struct {
	Content  string `json:"content" jsonschema:"Statement to remember"`
	Type     string `json:"type,omitempty" jsonschema:"Memory type (note, fact, preference, profile, user_core). Defaults to note"`
	Category string `json:"category,omitempty" jsonschema:"Short topic such as food or work"`
}

type forgetParams struct {
	IDs    []string `json:"ids,omitempty" jsonschema:"IDs of memories to delete"`
	All    bool     `json:"all,omitempty" jsonschema:"Delete every memory of the target"`
	Target string   `json:"target,omitempty" jsonschema:"all, vector or durable. Defaults to all"`
}

// SearchHit is one memory in the search_memories result
type SearchHit struct {
	ID         string    `json:"id"`
	Content    string    `json:"content"`
	Type       string    `json:"type"`
	Category   string    `json:"category,omitempty"`
	Source     string    `json:"source"`
	CreatedAt  time.Time `json:"created_at"`
	Similarity float64   `json:"similarity"`
	Score      float64   `json:"score"`
}

// SearchOutput is the JSON body of the search_memories result
type SearchOutput struct {
	Memories      []SearchHit `json:"memories"`
	Queries       []string    `json:"queries"`
	FailedQueries int         `json:"failed_queries"`
}

// New registers the tools. expander may be nil to search with the query as given.
func New(expander *recall.Expander, engine *recall.Engine, memories *memory.Service, version string) (*Server, error) {
	if engine == nil || memories == nil {
		return nil, goerr.New("engine and memory service are required", goerr.T(model.ErrTagConfig))
	}

	s := &Server{
		server: mcp.NewServer(&mcp.Implementation{
			Name:    "recall",
			Version: version,
		}, nil),
		expander: expander,
		engine:   engine,
		memories: memories,
	}

	mcp.AddTool(s.server, &mcp.Tool{
		Name:        "search_memories",
		Description: "Search the user's notes and learned preferences. Recent memories rank higher unless no_time_weighting is set.",
	}, s.search)

	mcp.AddTool(s.server, &mcp.Tool{
		Name:        "remember",
		Description: "Store a new memory about the user",
	}, s.remember)

	mcp.AddTool(s.server, &mcp.Tool{
		Name:        "forget",
		Description: "Delete memories by ID, or all memories of a target",
	}, s.forget)

	return s, nil
}

// ServeStdio runs the server over stdin and stdout until ctx is done
func (s *Server) ServeStdio(ctx context.Context) error {
	logging.From(ctx).Info("serving MCP over stdio")
	if err := s.server.Run(ctx, &mcp.StdioTransport{}); err != nil {
		return goerr.Wrap(err, "MCP server stopped")
	}
	return nil
}

// Handler serves the streamable HTTP transport
func (s *Server) Handler() http.Handler {
	return mcp.NewStreamableHTTPHandler(func(r *http.Request) *mcp.Server {
		return s.server
	}, nil)
}

func textResult(text string) *mcp.CallToolResult {
	return &mcp.CallToolResult{
		Content: []mcp.Content{
			&mcp.TextContent{Text: text},
		},
	}
}

func (s *Server) search(ctx context.Context, req *mcp.CallToolRequest, params *searchParams) (*mcp.CallToolResult, any, error) {
	if strings.TrimSpace(params.Query) == "" {
		return nil, nil, model.ErrEmptyQuestion
	}

	queries := []model.RetrievalQuery{model.NewRetrievalQuery(params.Query, model.QueryOriginOriginal)}
	if s.expander != nil {
		queries = s.expander.Expand(ctx, params.Query, "")
	}

	var opts []recall.RetrieveOption
	if params.Limit > 0 {
		opts = append(opts, recall.WithK(max(params.Limit, recall.DefaultConfig().KPerQuery), params.Limit))
	}
	if params.NoTimeWeighting {
		opts = append(opts, recall.WithTimeWeighting(false))
	}
	if params.Type != "" {
		t, ok := model.ParseMemoryType(params.Type)
		if !ok {
			return nil, nil, goerr.New("unknown memory type",
				goerr.V("type", params.Type),
				goerr.T(model.ErrTagValidation))
		}
		opts = append(opts, recall.WithFilter(&model.Filter{Type: t}))
	}

	result, err := s.engine.Retrieve(ctx, queries, opts...)
	if err != nil {
		return nil, nil, err
	}

	out := SearchOutput{
		Memories:      make([]SearchHit, 0, len(result.Memories)),
		FailedQueries: result.FailedQueries,
	}
	for _, q := range queries {
		out.Queries = append(out.Queries, q.Text)
	}
	for _, m := range result.Memories {
		out.Memories = append(out.Memories, SearchHit{
			ID:         m.Memory.ID.String(),
			Content:    m.Memory.Content,
			Type:       string(m.Memory.Type),
			Category:   m.Memory.Category,
			Source:     m.Memory.Source,
			CreatedAt:  m.Memory.CreatedAt,
			Similarity: m.Similarity,
			Score:      m.Score,
		})
	}

	raw, err := json.MarshalIndent(out, "", "  ")
	if err != nil {
		return nil, nil, goerr.Wrap(err, "failed to marshal search result")
	}
	return textResult(string(raw)), nil, nil
}

func (s *Server) remember(ctx context.Context, req *mcp.CallToolRequest, params *rememberParams) (*mcp.CallToolResult, any, error) {
	memType := model.MemoryTypeNote
	if params.Type != "" {
		t, ok := model.ParseMemoryType(params.Type)
		if !ok {
			return nil, nil, goerr.New("unknown memory type",
				goerr.V("type", params.Type),
				goerr.T(model.ErrTagValidation))
		}
		memType = t
	}

	mem := &model.Memory{
		Content:  params.Content,
		Type:     memType,
		Category: params.Category,
		Source:   model.SourceManual,
	}
	summary, err := s.memories.Store(ctx, []*model.Memory{mem})
	if err != nil {
		return nil, nil, err
	}

	raw, err := json.Marshal(map[string]any{
		"id":      mem.ID.String(),
		"vector":  summary.VectorUpserts > 0,
		"durable": summary.DurableUpserts > 0,
	})
	if err != nil {
		return nil, nil, goerr.Wrap(err, "failed to marshal remember result")
	}
	return textResult(string(raw)), nil, nil
}

func (s *Server) forget(ctx context.Context, req *mcp.CallToolRequest, params *forgetParams) (*mcp.CallToolResult, any, error) {
	target, err := memory.ParseTarget(params.Target)
	if err != nil {
		return nil, nil, err
	}

	if params.All {
		if err := s.memories.DeleteAll(ctx, target); err != nil {
			return nil, nil, err
		}
		return textResult("deleted all memories of target " + string(target)), nil, nil
	}

	if len(params.IDs) == 0 {
		return nil, nil, goerr.New("ids or all is required", goerr.T(model.ErrTagValidation))
	}
	ids := make([]model.MemoryID, len(params.IDs))
	for i, id := range params.IDs {
		ids[i] = model.MemoryID(id)
	}

	summary, err := s.memories.Delete(ctx, ids, target)
	if err != nil {
		return nil, nil, err
	}

	raw, err := json.Marshal(map[string]any{
		"vector_deletes":  summary.VectorDeletes,
		"durable_deletes": summary.DurableDeletes,
	})
	if err != nil {
		return nil, nil, goerr.Wrap(err, "failed to marshal forget result")
	}
	return textResult(string(raw)), nil, nil
}
