package adapter

import (
	"context"
	"strings"

	"github.com/anthropics/anthropic-sdk-go"
	"github.com/anthropics/anthropic-sdk-go/option"
	"github.com/m-mizutani/goerr/v2"
	"github.com/m-mizutani/recall/pkg/model"
)

const defaultClaudeModel = "claude-sonnet-4-5"

// claudeClient answers questions with the Anthropic Messages API
type claudeClient struct {
	client    *anthropic.Client
	model     string
	maxTokens int64
}

type ClaudeOption func(*claudeClient)

func WithClaudeModel(model string) ClaudeOption {
	return func(c *claudeClient) {
		if model != "" {
			c.model = model
		}
	}
}

func WithClaudeMaxTokens(n int64) ClaudeOption {
	return func(c *claudeClient) {
		if n > 0 {
			c.maxTokens = n
		}
	}
}

// NewClaude creates a TextGenerator backed by Claude
func NewClaude(apiKey string, opts ...ClaudeOption) (TextGenerator, error) {
	if apiKey == "" {
		return nil, goerr.New("anthropic api key is required", goerr.T(model.ErrTagConfig))
	}

	client := anthropic.NewClient(
		option.WithAPIKey(apiKey),
	)
	c := &claudeClient{
		client:    &client,
		model:     defaultClaudeModel,
		maxTokens: 2048,
	}
	for _, opt := range opts {
		opt(c)
	}
	return c, nil
}

func (c *claudeClient) GenerateText(ctx context.Context, system, prompt string) (string, error) {
	params := anthropic.MessageNewParams{
		Model:     anthropic.Model(c.model),
		MaxTokens: c.maxTokens,
		Messages: []anthropic.MessageParam{
			anthropic.NewUserMessage(anthropic.NewTextBlock(prompt)),
		},
	}
	if system != "" {
		params.System = []anthropic.TextBlockParam{{Text: system}}
	}

	resp, err := c.client.Messages.New(ctx, params)
	if err != nil {
		return "", goerr.Wrap(err, "failed to call claude",
			goerr.V("model", c.model),
			goerr.T(model.ErrTagProvider))
	}

	var b strings.Builder
	for _, block := range resp.Content {
		if block.Type == "text" {
			b.WriteString(block.Text)
		}
	}
	if b.Len() == 0 {
		return "", goerr.New("empty response from claude",
			goerr.V("stop_reason", resp.StopReason),
			goerr.T(model.ErrTagProvider))
	}

	return b.String(), nil
}
