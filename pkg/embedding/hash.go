package embedding

import (
	"context"
	"hash/fnv"
	"math"
	"strings"
	"unicode"

	"github.com/m-mizutani/goerr/v2"
	"github.com/m-mizutani/recall/pkg/model"
)

// Hash is a deterministic bag-of-words embedder. Each token is hashed into a signed bucket,
// so texts sharing words get a positive cosine similarity. It needs no provider and is used
// for offline mode and tests.
type Hash struct {
	dimensions int
}

func NewHash(dimensions int) (*Hash, error) {
	if dimensions <= 0 {
		return nil, goerr.New("embedding dimension must be positive",
			goerr.V("dimensions", dimensions),
			goerr.T(model.ErrTagConfig))
	}
	return &Hash{dimensions: dimensions}, nil
}

func (x *Hash) Embed(ctx context.Context, text string) ([]float32, error) {
	tokens := strings.FieldsFunc(strings.ToLower(text), func(r rune) bool {
		return !unicode.IsLetter(r) && !unicode.IsNumber(r)
	})
	if len(tokens) == 0 {
		return nil, goerr.New("nothing to embed", goerr.T(model.ErrTagValidation))
	}

	vec := make([]float32, x.dimensions)
	for _, tok := range tokens {
		h := fnv.New64a()
		_, _ = h.Write([]byte(tok))
		sum := h.Sum64()

		idx := int(sum % uint64(x.dimensions))
		if (sum>>32)&1 == 0 {
			vec[idx] += 1
		} else {
			vec[idx] -= 1
		}
	}

	return normalize(vec), nil
}

func (x *Hash) Dimensions() int { return x.dimensions }

func normalize(vec []float32) []float32 {
	var norm float64
	for _, v := range vec {
		norm += float64(v) * float64(v)
	}
	if norm == 0 {
		return vec
	}

	norm = math.Sqrt(norm)
	for i, v := range vec {
		vec[i] = float32(float64(v) / norm)
	}
	return vec
}
