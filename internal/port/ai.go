package port

import "context"

// TextEncoder turns text into a fixed-length sentence embedding.
// Implementations can target Ollama, an in-process ONNX model, a gRPC
// sidecar, or anything else that returns one vector per input.
type TextEncoder interface {
	// ModelName returns the identifier of the encoder model.
	ModelName() string

	// Embed generates a vector embedding for the given text.
	Embed(ctx context.Context, text string) ([]float32, error)

	// EmbedBatch generates embeddings for multiple texts in one call.
	EmbedBatch(ctx context.Context, texts []string) ([][]float32, error)
}

// Reasoner is a prompt-to-text generative service. The answer is expected
// to contain a single JSON object, but nothing here enforces that.
type Reasoner interface {
	Generate(ctx context.Context, prompt string, temperature float64) (string, error)
}

// ReasonerFunc adapts a plain function to Reasoner.
type ReasonerFunc func(ctx context.Context, prompt string, temperature float64) (string, error)

// Generate calls f.
func (f ReasonerFunc) Generate(ctx context.Context, prompt string, temperature float64) (string, error) {
	return f(ctx, prompt, temperature)
}
