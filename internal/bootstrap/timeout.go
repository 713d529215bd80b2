package bootstrap

import (
	"context"
	"time"

	"github.com/arturoeanton/go-pitwall-ollama/internal/port"
)

type timedEncoder struct {
	port.TextEncoder
	timeout time.Duration
}

// WithEncoderTimeout bounds every encoder call by d. d <= 0 returns enc as is.
func WithEncoderTimeout(enc port.TextEncoder, d time.Duration) port.TextEncoder {
	if d <= 0 {
		return enc
	}
	return &timedEncoder{TextEncoder: enc, timeout: d}
}

func (e *timedEncoder) Embed(ctx context.Context, text string) ([]float32, error) {
	ctx, cancel := context.WithTimeout(ctx, e.timeout)
	defer cancel()
	return e.TextEncoder.Embed(ctx, text)
}

func (e *timedEncoder) EmbedBatch(ctx context.Context, texts []string) ([][]float32, error) {
	ctx, cancel := context.WithTimeout(ctx, e.timeout)
	defer cancel()
	return e.TextEncoder.EmbedBatch(ctx, texts)
}

// WithReasonerTimeout bounds every Generate call by d. d <= 0 returns r as is.
func WithReasonerTimeout(r port.Reasoner, d time.Duration) port.Reasoner {
	if d <= 0 {
		return r
	}
	return port.ReasonerFunc(func(ctx context.Context, prompt string, temperature float64) (string, error) {
		ctx, cancel := context.WithTimeout(ctx, d)
		defer cancel()
		return r.Generate(ctx, prompt, temperature)
	})
}
