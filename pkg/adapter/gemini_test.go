package adapter_test

import (
	"context"
	"os"
	"strings"
	"testing"

	"github.com/m-mizutani/gt"
	"github.com/m-mizutani/recall/pkg/adapter"
	"google.golang.org/genai"
)

func newTestGemini(t *testing.T) *adapter.GeminiClient {
	projectID := os.Getenv("TEST_GEMINI_PROJECT")
	if projectID == "" {
		t.Skip("TEST_GEMINI_PROJECT is not set")
	}

	client, err := adapter.NewGemini(context.Background(), projectID, "us-central1")
	gt.NoError(t, err)
	return client
}

func TestGenerateText(t *testing.T) {
	client := newTestGemini(t)

	resp, err := client.GenerateText(context.Background(),
		"Answer in a single word.",
		"What is the capital of France?")
	gt.NoError(t, err)
	gt.True(t, strings.Contains(strings.ToLower(resp), "paris"))
}

func TestEmbedding(t *testing.T) {
	client := newTestGemini(t)

	vec, err := client.Embedding(context.Background(), "I like quiet restaurants", 256)
	gt.NoError(t, err)
	gt.A(t, vec).Length(256)
}

func TestResponseText(t *testing.T) {
	t.Run("nil response", func(t *testing.T) {
		gt.Equal(t, adapter.ResponseText(nil), "")
	})

	t.Run("skips thought parts", func(t *testing.T) {
		resp := &genai.GenerateContentResponse{
			Candidates: []*genai.Candidate{
				{
					Content: &genai.Content{
						Parts: []*genai.Part{
							{Text: "thinking...", Thought: true},
							{Text: "hello "},
							{Text: "world"},
						},
					},
				},
			},
		}
		gt.Equal(t, adapter.ResponseText(resp), "hello world")
	})
}
