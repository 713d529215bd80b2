// Package hashenc is an offline text encoder based on feature hashing.
// It needs no model files or network and is fully deterministic, which makes
// it the encoder of choice for air-gapped runs and tests.
package hashenc

import (
	"context"
	"fmt"
	"hash/fnv"
	"math"
	"strings"
	"unicode"
)

// Encoder hashes word unigrams and bigrams into a fixed number of buckets
// and L2-normalises the result.
type Encoder struct {
	dim int
}

// New returns an encoder producing dim-length vectors.
func New(dim int) *Encoder {
	if dim <= 0 {
		dim = 384
	}
	return &Encoder{dim: dim}
}

// ModelName implements port.TextEncoder.
func (e *Encoder) ModelName() string { return fmt.Sprintf("feature-hash-%d", e.dim) }

// Dimension is the output vector length.
func (e *Encoder) Dimension() int { return e.dim }

// Embed implements port.TextEncoder.
func (e *Encoder) Embed(ctx context.Context, text string) ([]float32, error) {
	if err := ctx.Err(); err != nil {
		return nil, err
	}
	return e.encode(text), nil
}

// EmbedBatch implements port.TextEncoder.
func (e *Encoder) EmbedBatch(ctx context.Context, texts []string) ([][]float32, error) {
	out := make([][]float32, len(texts))
	for i, t := range texts {
		if err := ctx.Err(); err != nil {
			return nil, err
		}
		out[i] = e.encode(t)
	}
	return out, nil
}

func (e *Encoder) encode(text string) []float32 {
	v := make([]float32, e.dim)
	words := strings.FieldsFunc(strings.ToLower(text), func(r rune) bool {
		return !unicode.IsLetter(r) && !unicode.IsDigit(r) && r != '_'
	})
	for i, w := range words {
		e.add(v, w, 1)
		if i > 0 {
			e.add(v, words[i-1]+" "+w, 0.5)
		}
	}

	var norm float64
	for _, x := range v {
		norm += float64(x) * float64(x)
	}
	if norm == 0 {
		return v
	}
	inv := float32(1 / math.Sqrt(norm))
	for i := range v {
		v[i] *= inv
	}
	return v
}

// add uses the low bits of an FNV-1a hash for the bucket and one high bit
// for the sign, so collisions tend to cancel rather than pile up.
func (e *Encoder) add(v []float32, token string, weight float32) {
	h := fnv.New64a()
	h.Write([]byte(token))
	sum := h.Sum64()
	idx := int(sum % uint64(e.dim))
	if sum>>63 == 1 {
		weight = -weight
	}
	v[idx] += weight
}
