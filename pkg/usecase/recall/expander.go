package recall

import (
	"bytes"
	"context"
	_ "embed"
	"encoding/json"
	"strings"
	"text/template"

	"github.com/m-mizutani/goerr/v2"
	"github.com/m-mizutani/recall/pkg/adapter"
	"github.com/m-mizutani/recall/pkg/model"
	"github.com/m-mizutani/recall/pkg/utils/logging"
	"github.com/m-mizutani/recall/pkg/utils/retry"
	"google.golang.org/genai"
)

//go:embed prompt/expand.md
var expandPromptRaw string

var expandPromptTmpl = template.Must(template.New("expand").Parse(expandPromptRaw))

// Expander turns one question into several retrieval queries
type Expander struct {
	gemini     adapter.Gemini
	maxQueries int
}

// NewExpander returns an Expander producing at most maxQueries queries including the
// original. A nil gemini disables expansion.
func NewExpander(gemini adapter.Gemini, maxQueries int) (*Expander, error) {
	if maxQueries < 1 {
		return nil, goerr.New("max queries must be at least 1",
			goerr.V("max_queries", maxQueries),
			goerr.T(model.ErrTagConfig))
	}
	return &Expander{gemini: gemini, maxQueries: maxQueries}, nil
}

// Expand returns the original question verbatim as the first element, followed by up to
// maxQueries-1 generated queries. Generation failures fall back to the original only.
func (x *Expander) Expand(ctx context.Context, question, conversationContext string) []model.RetrievalQuery {
	queries := []model.RetrievalQuery{
		model.NewRetrievalQuery(question, model.QueryOriginOriginal),
	}
	if x.gemini == nil || x.maxQueries <= 1 || strings.TrimSpace(question) == "" {
		return queries
	}

	generated, err := x.generate(ctx, question, conversationContext)
	if err != nil {
		logging.From(ctx).Warn("query expansion failed, using original question only", "error", err)
		return queries
	}

	seen := map[string]struct{}{normalizeQuery(question): {}}
	for _, text := range generated {
		key := normalizeQuery(text)
		if key == "" {
			continue
		}
		if _, ok := seen[key]; ok {
			continue
		}
		seen[key] = struct{}{}

		queries = append(queries, model.NewRetrievalQuery(strings.TrimSpace(text), model.QueryOriginGenerated))
		if len(queries) >= x.maxQueries {
			break
		}
	}

	logging.From(ctx).Debug("expanded question", "question", question, "queries", len(queries))
	return queries
}

func (x *Expander) generate(ctx context.Context, question, conversationContext string) ([]string, error) {
	var buf bytes.Buffer
	if err := expandPromptTmpl.Execute(&buf, map[string]any{
		"Question": question,
		"Context":  conversationContext,
		"Count":    x.maxQueries - 1,
	}); err != nil {
		return nil, goerr.Wrap(err, "failed to execute expand prompt template")
	}

	thinkingBudget := int32(0)
	config := &genai.GenerateContentConfig{
		ResponseMIMEType: "application/json",
		ThinkingConfig: &genai.ThinkingConfig{
			IncludeThoughts: false,
			ThinkingBudget:  &thinkingBudget,
		},
		ResponseSchema: &genai.Schema{
			Type: genai.TypeObject,
			Properties: map[string]*genai.Schema{
				"queries": {
					Type:        genai.TypeArray,
					Description: "Alternative search queries",
					Items:       &genai.Schema{Type: genai.TypeString},
				},
			},
			Required: []string{"queries"},
		},
	}
	contents := []*genai.Content{genai.NewContentFromText(buf.String(), genai.RoleUser)}

	rawJSON, err := retry.Do(ctx, "expand", func(ctx context.Context) (string, error) {
		resp, err := x.gemini.GenerateContent(ctx, contents, config)
		if err != nil {
			return "", err
		}
		text := adapter.ResponseText(resp)
		if text == "" {
			return "", goerr.New("empty expansion response", goerr.T(model.ErrTagProvider))
		}
		return text, nil
	})
	if err != nil {
		return nil, err
	}

	var data struct {
		Queries []string `json:"queries"`
	}
	if err := json.Unmarshal([]byte(rawJSON), &data); err != nil {
		return nil, goerr.Wrap(err, "failed to unmarshal expansion JSON",
			goerr.V("json", rawJSON),
			goerr.T(model.ErrTagValidation))
	}
	return data.Queries, nil
}

// normalizeQuery lowercases and collapses whitespace for duplicate detection
func normalizeQuery(s string) string {
	return strings.ToLower(strings.Join(strings.Fields(s), " "))
}
