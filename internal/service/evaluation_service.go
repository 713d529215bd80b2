package service

import (
	"context"
	"log/slog"
	"time"

	"github.com/arturoeanton/go-pitwall-ollama/internal/domain"
	"github.com/arturoeanton/go-pitwall-ollama/internal/port"
)

// StrategyScore is one strategy's accuracy against the labeled decisions.
type StrategyScore struct {
	Total    int     `json:"total"`
	Correct  int     `json:"correct"`
	Failed   int     `json:"failed"`
	Accuracy float64 `json:"accuracy"`
}

// ScenarioOutcome is what every strategy said about one labeled scenario.
// Decisions holds "ERROR" for a strategy that failed.
type ScenarioOutcome struct {
	ID         string                     `json:"id"`
	Track      string                     `json:"track"`
	Lap        int                        `json:"lap"`
	Expected   domain.Decision            `json:"expected"`
	Decisions  map[string]domain.Decision `json:"decisions"`
	Confidence map[string]float64         `json:"confidence"`
	Errors     map[string]string          `json:"errors,omitempty"`
}

// Disagrees reports whether two or more strategies answered differently.
// Failed strategies are ignored.
func (o *ScenarioOutcome) Disagrees() bool {
	var first domain.Decision
	for name, d := range o.Decisions {
		if _, failed := o.Errors[name]; failed {
			continue
		}
		if first == "" {
			first = d
		} else if d != first {
			return true
		}
	}
	return false
}

// EvaluationReport summarises a run over labeled collections.
type EvaluationReport struct {
	Strategies    []string                  `json:"strategies"`
	Scenarios     int                       `json:"scenarios"`
	Skipped       int                       `json:"skipped"`
	Scores        map[string]*StrategyScore `json:"scores"`
	Outcomes      []ScenarioOutcome         `json:"outcomes"`
	Disagreements []ScenarioOutcome         `json:"disagreements"`
	Duration      time.Duration             `json:"duration"`
}

// Best returns the strategy with the most correct answers, "" on a tie.
func (r *EvaluationReport) Best() string {
	best, top, tie := "", -1, false
	for _, name := range r.Strategies {
		c := r.Scores[name].Correct
		switch {
		case c > top:
			best, top, tie = name, c, false
		case c == top:
			tie = true
		}
	}
	if tie {
		return ""
	}
	return best
}

// EvaluationService scores registered strategies against golden collections.
type EvaluationService struct {
	engine  *port.StrategyEngine
	timeout time.Duration
}

// NewEvaluationService creates an evaluation service. timeout bounds each
// strategy call; <= 0 means no per-call deadline.
func NewEvaluationService(engine *port.StrategyEngine, timeout time.Duration) *EvaluationService {
	return &EvaluationService{engine: engine, timeout: timeout}
}

// Evaluate runs every strategy over every labeled scenario. Unlabeled
// scenarios are skipped. Strategy failures count against accuracy and do
// not stop the run; only ctx cancellation does.
func (s *EvaluationService) Evaluate(ctx context.Context, collections []*domain.ScenarioCollection) (*EvaluationReport, error) {
	start := time.Now()
	names := s.engine.AvailableStrategies()
	report := &EvaluationReport{
		Strategies:    names,
		Scores:        make(map[string]*StrategyScore, len(names)),
		Outcomes:      []ScenarioOutcome{},
		Disagreements: []ScenarioOutcome{},
	}
	for _, name := range names {
		report.Scores[name] = &StrategyScore{}
	}

	for _, c := range collections {
		for _, sc := range c.Scenarios {
			if err := ctx.Err(); err != nil {
				return nil, err
			}
			if sc.GoldenTruth == nil || !sc.GoldenTruth.Decision.Valid() {
				report.Skipped++
				continue
			}
			if sc.Race == nil {
				race := c.Race
				sc.Race = &race
			}
			out := s.evaluateOne(ctx, names, &sc, report.Scores)
			report.Scenarios++
			report.Outcomes = append(report.Outcomes, out)
			if out.Disagrees() {
				report.Disagreements = append(report.Disagreements, out)
			}
		}
	}

	for _, score := range report.Scores {
		if score.Total > 0 {
			score.Accuracy = float64(score.Correct) / float64(score.Total)
		}
	}
	report.Duration = time.Since(start)
	slog.Info("📊 evaluation complete", "scenarios", report.Scenarios, "skipped", report.Skipped,
		"disagreements", len(report.Disagreements), "duration", report.Duration)
	return report, nil
}

func (s *EvaluationService) evaluateOne(ctx context.Context, names []string, sc *domain.Scenario, scores map[string]*StrategyScore) ScenarioOutcome {
	out := ScenarioOutcome{
		ID:         sc.ID,
		Track:      sc.Track(),
		Lap:        sc.Lap,
		Expected:   sc.GoldenTruth.Decision,
		Decisions:  make(map[string]domain.Decision, len(names)),
		Confidence: make(map[string]float64, len(names)),
	}
	for _, name := range names {
		score := scores[name]
		score.Total++

		rec, err := s.run(ctx, name, sc)
		if err != nil {
			slog.Warn("⚠️ strategy failed during evaluation", "strategy", name, "scenario", sc.ID, "error", err)
			score.Failed++
			out.Decisions[name] = "ERROR"
			if out.Errors == nil {
				out.Errors = make(map[string]string)
			}
			out.Errors[name] = err.Error()
			continue
		}
		out.Decisions[name] = rec.Decision
		out.Confidence[name] = rec.Confidence
		if rec.Decision == out.Expected {
			score.Correct++
		}
	}
	return out
}

func (s *EvaluationService) run(ctx context.Context, name string, sc *domain.Scenario) (*domain.DecisionRecord, error) {
	if s.timeout > 0 {
		var cancel context.CancelFunc
		ctx, cancel = context.WithTimeout(ctx, s.timeout)
		defer cancel()
	}
	return s.engine.Run(ctx, name, sc)
}
