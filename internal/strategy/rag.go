package strategy

import (
	"context"
	"fmt"
	"log/slog"
	"time"

	"github.com/arturoeanton/go-pitwall-ollama/internal/domain"
	"github.com/arturoeanton/go-pitwall-ollama/internal/port"
	"github.com/arturoeanton/go-pitwall-ollama/internal/validator"
)

// Defaults for the retrieval-augmented path.
const (
	DefaultK           = 5
	DefaultTemperature = 0.1
)

// Searcher is the slice of the similarity index the reasoner needs.
type Searcher interface {
	Search(ctx context.Context, q *domain.Scenario, k int, filter *port.SearchFilter) ([]domain.SimilarScenario, error)
}

// RAGReasoner retrieves labeled neighbours and asks a language model to
// reconcile them with the hard safety rules.
type RAGReasoner struct {
	index       Searcher
	reasoner    port.Reasoner
	k           int
	temperature float64
}

// NewRAGReasoner wires a reasoner over index. Non-positive k and negative
// temperature fall back to the defaults.
func NewRAGReasoner(index Searcher, reasoner port.Reasoner, k int, temperature float64) *RAGReasoner {
	if k <= 0 {
		k = DefaultK
	}
	if temperature < 0 {
		temperature = DefaultTemperature
	}
	return &RAGReasoner{index: index, reasoner: reasoner, k: k, temperature: temperature}
}

func (r *RAGReasoner) Name() string { return "rag" }
func (r *RAGReasoner) Description() string {
	return "Retrieval-augmented reasoning over similar historical scenarios"
}

// K is the default neighbour count.
func (r *RAGReasoner) K() int { return r.k }

// Decide runs DecideK with the configured neighbour count.
func (r *RAGReasoner) Decide(ctx context.Context, s *domain.Scenario) (*domain.DecisionRecord, error) {
	return r.DecideK(ctx, s, r.k)
}

// DecideK retrieves k neighbours, prompts the model and validates its answer.
func (r *RAGReasoner) DecideK(ctx context.Context, s *domain.Scenario, k int) (*domain.DecisionRecord, error) {
	if err := validator.Check(s); err != nil {
		return nil, err
	}
	if k <= 0 {
		k = r.k
	}

	hits, err := r.index.Search(ctx, s, k, nil)
	if err != nil {
		return nil, fmt.Errorf("retrieve similar scenarios: %w", err)
	}
	if len(hits) == 0 {
		return nil, fmt.Errorf("%w for lap %d on %s tires", port.ErrRetrievalEmpty, s.Lap, s.Tires.Compound)
	}

	prompt := BuildPrompt(s, hits, k)

	start := time.Now()
	raw, err := r.reasoner.Generate(ctx, prompt, r.temperature)
	if err != nil {
		return nil, fmt.Errorf("reasoning: %w", err)
	}
	slog.Debug("reasoner answered", "scenario", s.ID, "retrieved", len(hits), "duration", time.Since(start))

	rec, err := ParseResponse(raw)
	if err != nil {
		slog.Warn("⚠️ reasoner broke the response contract", "scenario", s.ID, "error", err)
		return nil, err
	}
	rec.Retrieved = hits
	rec.NumRetrieved = len(hits)
	rec.Strategy = r.Name()
	return rec, nil
}
