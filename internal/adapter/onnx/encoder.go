package onnx

import (
	"context"
	"fmt"
	"math"
	"path/filepath"
	"strings"
	"sync"
)

// Config locates the model artefacts on disk.
type Config struct {
	ModelPath   string // model.onnx
	VocabPath   string // vocab.txt
	LibraryPath string // libonnxruntime.so; empty uses the runtime default
	MaxSeqLen   int
	Threads     int
}

// Encoder implements port.TextEncoder with mean-pooled, L2-normalised
// sentence embeddings.
type Encoder struct {
	name string
	sess *session
	tok  *tokenizer

	mu sync.Mutex // a session runs one batch at a time
}

// New loads the vocabulary and opens an inference session.
func New(cfg Config) (*Encoder, error) {
	vocab, err := loadVocabulary(cfg.VocabPath)
	if err != nil {
		return nil, err
	}
	sess, err := openSession(cfg.ModelPath, cfg.LibraryPath, cfg.Threads)
	if err != nil {
		return nil, err
	}
	seq := cfg.MaxSeqLen
	if seq <= 2 {
		seq = defaultMaxSeqLen
	}
	return &Encoder{
		name: modelName(cfg.ModelPath),
		sess: sess,
		tok:  &tokenizer{vocab: vocab, maxSeqLen: seq},
	}, nil
}

func modelName(path string) string {
	dir := filepath.Base(filepath.Dir(path))
	if dir == "." || dir == string(filepath.Separator) {
		return strings.TrimSuffix(filepath.Base(path), filepath.Ext(path))
	}
	return dir
}

// ModelName returns the model directory name, e.g. all-MiniLM-L6-v2.
func (e *Encoder) ModelName() string { return e.name }

// Dimension is the hidden size of the model.
func (e *Encoder) Dimension() int { return int(e.sess.hiddenSz) }

// Embed encodes a single text.
func (e *Encoder) Embed(ctx context.Context, text string) ([]float32, error) {
	vecs, err := e.EmbedBatch(ctx, []string{text})
	if err != nil {
		return nil, err
	}
	return vecs[0], nil
}

// EmbedBatch encodes texts in one forward pass.
func (e *Encoder) EmbedBatch(ctx context.Context, texts []string) ([][]float32, error) {
	if len(texts) == 0 {
		return nil, nil
	}
	if err := ctx.Err(); err != nil {
		return nil, err
	}

	b := e.tok.encodeBatch(texts)

	e.mu.Lock()
	hidden, err := e.sess.infer(b)
	e.mu.Unlock()
	if err != nil {
		return nil, fmt.Errorf("onnx embed: %w", err)
	}

	vecs := meanPool(hidden, b.attentionMask, int(b.size), int(b.seqLen), int(e.sess.hiddenSz))
	for _, v := range vecs {
		normalize(v)
	}
	return vecs, nil
}

// Close releases the inference session.
func (e *Encoder) Close() error {
	return e.sess.close()
}

// meanPool averages token vectors where mask is 1. hidden is flat
// [batch * seq * dim].
func meanPool(hidden []float32, mask []int64, batch, seq, dim int) [][]float32 {
	out := make([][]float32, batch)
	for b := 0; b < batch; b++ {
		vec := make([]float32, dim)
		var n float32
		for s := 0; s < seq; s++ {
			if mask[b*seq+s] == 0 {
				continue
			}
			n++
			off := (b*seq + s) * dim
			for d := 0; d < dim; d++ {
				vec[d] += hidden[off+d]
			}
		}
		if n > 0 {
			for d := range vec {
				vec[d] /= n
			}
		}
		out[b] = vec
	}
	return out
}

func normalize(v []float32) {
	var sum float64
	for _, x := range v {
		sum += float64(x) * float64(x)
	}
	if sum == 0 {
		return
	}
	inv := float32(1 / math.Sqrt(sum))
	for i := range v {
		v[i] *= inv
	}
}
