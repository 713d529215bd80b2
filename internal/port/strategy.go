package port

import (
	"context"
	"sort"

	"github.com/arturoeanton/go-pitwall-ollama/internal/domain"
)

// Strategy is a pluggable pit-stop decision maker (Strategy Pattern).
// The rule engine and the retrieval-augmented reasoner both implement it.
type Strategy interface {
	// Name returns the unique name of this strategy (e.g. "rules", "rag").
	Name() string

	// Description returns a human-readable description of how the strategy decides.
	Description() string

	// Decide returns a fresh decision for the scenario.
	Decide(ctx context.Context, s *domain.Scenario) (*domain.DecisionRecord, error)
}

// StrategyEngine holds the registered strategies by name.
type StrategyEngine struct {
	strategies map[string]Strategy
}

// NewStrategyEngine creates a new engine with the given strategies.
func NewStrategyEngine(strategies ...Strategy) *StrategyEngine {
	m := make(map[string]Strategy, len(strategies))
	for _, s := range strategies {
		m[s.Name()] = s
	}
	return &StrategyEngine{strategies: m}
}

// Get returns the named strategy.
func (e *StrategyEngine) Get(name string) (Strategy, error) {
	s, ok := e.strategies[name]
	if !ok {
		return nil, ErrStrategyNotFound
	}
	return s, nil
}

// Run executes the named strategy.
func (e *StrategyEngine) Run(ctx context.Context, name string, s *domain.Scenario) (*domain.DecisionRecord, error) {
	st, err := e.Get(name)
	if err != nil {
		return nil, err
	}
	rec, err := st.Decide(ctx, s)
	if err != nil {
		return nil, err
	}
	if rec.Strategy == "" {
		rec.Strategy = st.Name()
	}
	return rec, nil
}

// RunAll executes every registered strategy, keyed by name.
// Failures are reported per strategy rather than aborting the others.
func (e *StrategyEngine) RunAll(ctx context.Context, s *domain.Scenario) (map[string]*domain.DecisionRecord, map[string]error) {
	results := make(map[string]*domain.DecisionRecord, len(e.strategies))
	errs := make(map[string]error)
	for name := range e.strategies {
		r, err := e.Run(ctx, name, s)
		if err != nil {
			errs[name] = err
			continue
		}
		results[name] = r
	}
	return results, errs
}

// AvailableStrategies returns the sorted names of all registered strategies.
func (e *StrategyEngine) AvailableStrategies() []string {
	names := make([]string, 0, len(e.strategies))
	for name := range e.strategies {
		names = append(names, name)
	}
	sort.Strings(names)
	return names
}

// Describe returns name → description for every strategy.
func (e *StrategyEngine) Describe() map[string]string {
	out := make(map[string]string, len(e.strategies))
	for name, s := range e.strategies {
		out[name] = s.Description()
	}
	return out
}
