package learn

import (
	"bytes"
	"context"
	_ "embed"
	"encoding/json"
	"strings"
	"text/template"

	"github.com/google/jsonschema-go/jsonschema"
	"github.com/m-mizutani/goerr/v2"
	"github.com/m-mizutani/recall/pkg/adapter"
	"github.com/m-mizutani/recall/pkg/model"
	"github.com/m-mizutani/recall/pkg/utils/logging"
	"github.com/m-mizutani/recall/pkg/utils/retry"
	"google.golang.org/genai"
)

//go:embed prompt/extract.md
var extractPromptRaw string

var extractPromptTmpl = template.Must(template.New("extract").Parse(extractPromptRaw))

// candidateSchema is the only hard rule for a candidate: a non-blank string content
var candidateSchema = &jsonschema.Schema{
	Type: "object",
	Properties: map[string]*jsonschema.Schema{
		"content": {Type: "string", Pattern: `\S`},
	},
	Required: []string{"content"},
}

// fieldSchemas check optional fields one by one. A mistyped field is ignored, not fatal.
var fieldSchemas = map[string]*jsonschema.Schema{
	"type":       {Type: "string"},
	"category":   {Type: "string"},
	"context":    {Type: "string"},
	"confidence": {Type: "number"},
}

// Extractor finds preferences and facts in a finished conversation
type Extractor struct {
	gemini   adapter.Gemini
	resolved *jsonschema.Resolved
	fields   map[string]*jsonschema.Resolved
}

func NewExtractor(gemini adapter.Gemini) (*Extractor, error) {
	if gemini == nil {
		return nil, goerr.New("gemini client is required for extraction", goerr.T(model.ErrTagConfig))
	}
	resolved, err := candidateSchema.Resolve(nil)
	if err != nil {
		return nil, goerr.Wrap(err, "failed to resolve candidate schema", goerr.T(model.ErrTagConfig))
	}
	fields := make(map[string]*jsonschema.Resolved, len(fieldSchemas))
	for name, schema := range fieldSchemas {
		r, err := schema.Resolve(nil)
		if err != nil {
			return nil, goerr.Wrap(err, "failed to resolve field schema",
				goerr.V("field", name),
				goerr.T(model.ErrTagConfig))
		}
		fields[name] = r
	}
	return &Extractor{gemini: gemini, resolved: resolved, fields: fields}, nil
}

// Extract returns memory candidates found in transcript. It never fails: a provider error or
// a malformed response yields an empty extraction.
func (x *Extractor) Extract(ctx context.Context, transcript string) *model.Extraction {
	result := model.NewExtraction()
	if strings.TrimSpace(transcript) == "" {
		return result
	}
	logger := logging.From(ctx)

	candidates, err := x.generate(ctx, transcript)
	if err != nil {
		logger.Warn("extraction failed", "error", err)
		return result
	}

	seen := make(map[string]struct{})
	for _, raw := range candidates {
		if err := x.resolved.Validate(raw); err != nil {
			logger.Debug("drop invalid candidate", "error", err)
			result.Dropped++
			continue
		}

		content, _ := raw["content"].(string)
		content = strings.TrimSpace(content)
		if content == "" {
			result.Dropped++
			continue
		}

		key := dedupKey(content)
		if _, ok := seen[key]; ok {
			result.Dropped++
			continue
		}
		seen[key] = struct{}{}

		typeName, _ := x.field(ctx, raw, "type").(string)
		memType, ok := model.ParseMemoryType(typeName)
		if !ok {
			result.Coerced++
		}

		item := &model.ExtractedItem{
			Content:  content,
			Type:     memType,
			Source:   model.SourceAutoExtracted,
			Metadata: map[string]any{},
		}
		if category, ok := x.field(ctx, raw, "category").(string); ok {
			item.Category = strings.TrimSpace(category)
		}
		if conf, ok := x.field(ctx, raw, "confidence").(float64); ok {
			item.Metadata["confidence"] = conf
		}
		if c, ok := x.field(ctx, raw, "context").(string); ok && c != "" {
			item.Metadata["context"] = c
		}
		result.Add(item)
	}

	logger.Info("extracted memories",
		"items", result.Total(),
		"dropped", result.Dropped,
		"coerced", result.Coerced)
	return result
}

// field returns raw[name] when it matches its schema, nil otherwise
func (x *Extractor) field(ctx context.Context, raw map[string]any, name string) any {
	v, ok := raw[name]
	if !ok || v == nil {
		return nil
	}
	if err := x.fields[name].Validate(v); err != nil {
		logging.From(ctx).Debug("ignore mistyped field", "field", name, "error", err)
		return nil
	}
	return v
}

func (x *Extractor) generate(ctx context.Context, transcript string) ([]map[string]any, error) {
	var buf bytes.Buffer
	if err := extractPromptTmpl.Execute(&buf, map[string]any{
		"Transcript": transcript,
	}); err != nil {
		return nil, goerr.Wrap(err, "failed to execute extract prompt template")
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
				"items": {
					Type:        genai.TypeArray,
					Description: "Memories worth keeping",
					Items: &genai.Schema{
						Type: genai.TypeObject,
						Properties: map[string]*genai.Schema{
							"content": {
								Type:        genai.TypeString,
								Description: "Standalone statement about the user",
							},
							"type": {
								Type:        genai.TypeString,
								Description: "One of preference, fact, profile, user_core, note",
							},
							"category": {
								Type:        genai.TypeString,
								Description: "Short topic",
							},
							"context": {
								Type:        genai.TypeString,
								Description: "When or why this applies",
							},
							"confidence": {
								Type:        genai.TypeNumber,
								Description: "Confidence between 0 and 1",
							},
						},
						Required: []string{"content", "type"},
					},
				},
			},
			Required: []string{"items"},
		},
	}
	contents := []*genai.Content{genai.NewContentFromText(buf.String(), genai.RoleUser)}

	rawJSON, err := retry.Do(ctx, "extract", func(ctx context.Context) (string, error) {
		resp, err := x.gemini.GenerateContent(ctx, contents, config)
		if err != nil {
			return "", err
		}
		return adapter.ResponseText(resp), nil
	})
	if err != nil {
		return nil, err
	}
	if strings.TrimSpace(rawJSON) == "" {
		return nil, nil
	}

	var data struct {
		Items []map[string]any `json:"items"`
	}
	if err := json.Unmarshal([]byte(rawJSON), &data); err != nil {
		return nil, goerr.Wrap(err, "failed to unmarshal extraction JSON",
			goerr.V("json", rawJSON),
			goerr.T(model.ErrTagValidation))
	}
	return data.Items, nil
}

// dedupKey collapses case, whitespace and trailing punctuation so that near-identical
// sentences compare equal
func dedupKey(s string) string {
	s = strings.ToLower(strings.Join(strings.Fields(s), " "))
	return strings.Trim(s, " .!?,;:\"'")
}
