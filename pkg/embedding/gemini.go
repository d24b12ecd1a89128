package embedding

import (
	"context"

	"github.com/m-mizutani/goerr/v2"
	"github.com/m-mizutani/recall/pkg/adapter"
	"github.com/m-mizutani/recall/pkg/model"
)

// Gemini embeds text with the Gemini embedding model at a fixed dimensionality
type Gemini struct {
	client     adapter.Gemini
	dimensions int
}

// NewGemini returns an embedder producing vectors of the given length
func NewGemini(client adapter.Gemini, dimensions int) (*Gemini, error) {
	if client == nil {
		return nil, goerr.New("gemini client is required", goerr.T(model.ErrTagConfig))
	}
	if dimensions <= 0 {
		return nil, goerr.New("embedding dimension must be positive",
			goerr.V("dimensions", dimensions),
			goerr.T(model.ErrTagConfig))
	}
	return &Gemini{client: client, dimensions: dimensions}, nil
}

func (x *Gemini) Embed(ctx context.Context, text string) ([]float32, error) {
	vec, err := x.client.Embedding(ctx, text, x.dimensions)
	if err != nil {
		return nil, err
	}
	if len(vec) != x.dimensions {
		return nil, goerr.New("unexpected embedding dimension",
			goerr.V("expected", x.dimensions),
			goerr.V("actual", len(vec)),
			goerr.T(model.ErrTagProvider))
	}
	return vec, nil
}

func (x *Gemini) Dimensions() int { return x.dimensions }
