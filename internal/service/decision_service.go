package service

import (
	"context"
	"fmt"
	"log/slog"
	"time"

	"github.com/arturoeanton/go-pitwall-ollama/internal/domain"
	"github.com/arturoeanton/go-pitwall-ollama/internal/port"
)

// DecisionStore persists decisions served to callers.
type DecisionStore interface {
	SaveDecision(ctx context.Context, scenarioID string, rec *domain.DecisionRecord) (*domain.DecisionLog, error)
	ListDecisions(ctx context.Context, limit int, strategy string) ([]domain.DecisionLog, error)
}

// KDecider is implemented by strategies whose retrieval depth can be set per call.
type KDecider interface {
	DecideK(ctx context.Context, s *domain.Scenario, k int) (*domain.DecisionRecord, error)
}

// StrategyInfo describes a registered strategy.
type StrategyInfo struct {
	Name        string `json:"name"`
	Description string `json:"description"`
}

// Comparison is the outcome of running every strategy on one scenario.
type Comparison struct {
	ScenarioID string                            `json:"scenario_id,omitempty"`
	Results    map[string]*domain.DecisionRecord `json:"results"`
	Errors     map[string]string                 `json:"errors,omitempty"`
	Agree      bool                              `json:"agree"`
}

// DecisionService runs strategies with a deadline and records what they decide.
type DecisionService struct {
	engine  *port.StrategyEngine
	store   DecisionStore
	timeout time.Duration
}

// NewDecisionService creates a decision service. store may be nil; timeout <= 0
// leaves the caller's deadline in charge.
func NewDecisionService(engine *port.StrategyEngine, store DecisionStore, timeout time.Duration) *DecisionService {
	return &DecisionService{engine: engine, store: store, timeout: timeout}
}

// ListStrategies returns the registered strategies sorted by name.
func (s *DecisionService) ListStrategies() []StrategyInfo {
	desc := s.engine.Describe()
	out := make([]StrategyInfo, 0, len(desc))
	for _, name := range s.engine.AvailableStrategies() {
		out = append(out, StrategyInfo{Name: name, Description: desc[name]})
	}
	return out
}

// Decide runs one strategy. k > 0 overrides the retrieval depth for
// strategies that support it and is ignored otherwise.
func (s *DecisionService) Decide(ctx context.Context, name string, sc *domain.Scenario, k int) (*domain.DecisionRecord, error) {
	st, err := s.engine.Get(name)
	if err != nil {
		return nil, fmt.Errorf("strategy %q: %w", name, err)
	}

	ctx, cancel := s.withTimeout(ctx)
	defer cancel()

	start := time.Now()
	var rec *domain.DecisionRecord
	if kd, ok := st.(KDecider); ok && k > 0 {
		rec, err = kd.DecideK(ctx, sc, k)
	} else {
		rec, err = st.Decide(ctx, sc)
	}
	if err != nil {
		slog.Warn("⚠️ decision failed", "strategy", name, "scenario", sc.ID, "lap", sc.Lap, "error", err)
		return nil, fmt.Errorf("run strategy %s: %w", name, err)
	}
	if rec.Strategy == "" {
		rec.Strategy = st.Name()
	}

	slog.Info("🏁 decision", "strategy", name, "scenario", sc.ID, "lap", sc.Lap,
		"decision", rec.Decision, "confidence", rec.Confidence, "duration_ms", time.Since(start).Milliseconds())
	s.persist(ctx, sc.ID, rec)
	return rec, nil
}

// Compare runs every registered strategy on the same scenario. A strategy
// failure is reported in Errors without aborting the others.
func (s *DecisionService) Compare(ctx context.Context, sc *domain.Scenario) *Comparison {
	ctx, cancel := s.withTimeout(ctx)
	defer cancel()

	results, errs := s.engine.RunAll(ctx, sc)
	cmp := &Comparison{ScenarioID: sc.ID, Results: results}
	if len(errs) > 0 {
		cmp.Errors = make(map[string]string, len(errs))
		for name, err := range errs {
			cmp.Errors[name] = err.Error()
		}
	}
	cmp.Agree = unanimous(results)

	for _, rec := range results {
		s.persist(ctx, sc.ID, rec)
	}
	slog.Info("🔀 strategies compared", "scenario", sc.ID, "lap", sc.Lap, "ok", len(results), "failed", len(errs), "agree", cmp.Agree)
	return cmp
}

// History lists persisted decisions, newest first.
func (s *DecisionService) History(ctx context.Context, limit int, strategy string) ([]domain.DecisionLog, error) {
	if s.store == nil {
		return []domain.DecisionLog{}, nil
	}
	return s.store.ListDecisions(ctx, limit, strategy)
}

func (s *DecisionService) withTimeout(ctx context.Context) (context.Context, context.CancelFunc) {
	if s.timeout <= 0 {
		return context.WithCancel(ctx)
	}
	return context.WithTimeout(ctx, s.timeout)
}

// persist is best effort: a lost log row never fails a decision.
func (s *DecisionService) persist(ctx context.Context, scenarioID string, rec *domain.DecisionRecord) {
	if s.store == nil {
		return
	}
	if _, err := s.store.SaveDecision(context.WithoutCancel(ctx), scenarioID, rec); err != nil {
		slog.Error("failed to save decision", "strategy", rec.Strategy, "error", err)
	}
}

// unanimous reports whether at least two strategies answered and all agree.
func unanimous(results map[string]*domain.DecisionRecord) bool {
	if len(results) < 2 {
		return false
	}
	var first domain.Decision
	for _, r := range results {
		if first == "" {
			first = r.Decision
			continue
		}
		if r.Decision != first {
			return false
		}
	}
	return true
}
