// Package strategy holds the two pit-stop decision makers: a deterministic
// rule engine and a retrieval-augmented reasoner backed by a language model.
package strategy

import (
	"context"
	"fmt"
	"strings"

	"github.com/arturoeanton/go-pitwall-ollama/internal/domain"
	"github.com/arturoeanton/go-pitwall-ollama/internal/validator"
)

// Rule engine thresholds.
const (
	// FinalLapsThreshold stands in for "about three laps to go" when the
	// race length is unknown. The RAG path estimates laps remaining instead.
	FinalLapsThreshold = 58

	// SafetyCarMinTireAge is the youngest set worth changing under SC/VSC.
	SafetyCarMinTireAge = 15

	FreeWindowFirstLap = 40 // exclusive
	FreeWindowGap      = 14.0

	ExpiredTireAge = 30

	MidStintMin = 10
	MidStintMax = 25

	EndOfWindowMin = 26
	EndOfWindowMax = 29
	SafePitGap     = 10.0
)

// Rule identifiers recorded in DecisionRecord.RuleFired.
const (
	RuleIncompatibleTires = "incompatible_tires"
	RuleFinalLaps         = "final_laps"
	RuleSafetyCar         = "safety_car"
	RuleFreePitWindow     = "free_pit_window"
	RuleFreshTires        = "fresh_tires"
	RuleExpiredTires      = "expired_tires"
	RuleWeatherChanging   = "weather_changing"
	RuleMidStint          = "mid_stint"
	RuleEndOfWindow       = "end_of_window"
	RuleDefault           = "default"
)

var weatherChangeKeywords = []string{"changing", "mixed", "drizzle", "damp"}

// RuleEngine decides from a fixed priority list of race-craft rules.
// It makes no external calls.
type RuleEngine struct{}

// NewRuleEngine returns the deterministic strategy.
func NewRuleEngine() *RuleEngine { return &RuleEngine{} }

func (r *RuleEngine) Name() string { return "rules" }
func (r *RuleEngine) Description() string {
	return "Deterministic race-craft rules: tire/weather safety, final laps, safety car, tire life"
}

// Decide applies the first matching rule.
func (r *RuleEngine) Decide(_ context.Context, s *domain.Scenario) (*domain.DecisionRecord, error) {
	if err := validator.Check(s); err != nil {
		return nil, err
	}

	compound := s.Tires.Compound
	age := s.Tires.AgeLaps
	condition := s.WeatherCondition()

	if ok, warning := validator.CheckWeatherTireCompatibility(compound, condition); !ok {
		return incompatibleTires(compound, condition, warning), nil
	}

	if s.Lap >= FinalLapsThreshold {
		return record(domain.DecisionStayOut, 0.80, domain.RiskMedium, RuleFinalLaps,
			"Final laps: lap %d is past lap %d. A pit stop now costs positions that cannot be recovered before the flag.",
			s.Lap, FinalLapsThreshold), nil
	}

	if status := s.RaceState.Status; status.Neutralised() && age >= SafetyCarMinTireAge {
		return record(domain.DecisionBox, 0.90, domain.RiskLow, RuleSafetyCar,
			"%s deployed with %s tires at %d laps (>= %d). Pitting under neutralisation costs far less time.",
			status, compound, age, SafetyCarMinTireAge), nil
	}

	ahead, behind := s.GapAhead(), s.GapBehind()
	if s.Lap > FreeWindowFirstLap && s.Lap < FinalLapsThreshold && ahead > FreeWindowGap && behind > FreeWindowGap {
		return record(domain.DecisionBox, 0.80, domain.RiskLow, RuleFreePitWindow,
			"Free pit window on lap %d: %.1fs to the car ahead and %.1fs to the car behind, both over %.0fs. Stop without losing track position.",
			s.Lap, ahead, behind, FreeWindowGap), nil
	}

	if age == 0 {
		return record(domain.DecisionStayOut, 0.90, domain.RiskLow, RuleFreshTires,
			"Fresh %s tires optimal for the opening stint (0 laps). Track position is critical.",
			compound), nil
	}

	if age >= ExpiredTireAge {
		return record(domain.DecisionBox, 0.85, domain.RiskMedium, RuleExpiredTires,
			"%s tires at %d laps are past the optimal window (>= %d). Degradation critical.",
			compound, age, ExpiredTireAge), nil
	}

	for _, kw := range weatherChangeKeywords {
		if strings.Contains(condition, kw) {
			return record(domain.DecisionBox, 0.80, domain.RiskMedium, RuleWeatherChanging,
				"Weather changing to %s. A compound change is required on %s tires at %d laps.",
				condition, compound, age), nil
		}
	}

	if age >= MidStintMin && age <= MidStintMax {
		return record(domain.DecisionStayOut, 0.75, domain.RiskLow, RuleMidStint,
			"%s tires at %d laps are within the optimal window (%d-%d). Maintain strategy.",
			compound, age, MidStintMin, MidStintMax), nil
	}

	if age >= EndOfWindowMin && age <= EndOfWindowMax {
		if behind > SafePitGap {
			return record(domain.DecisionBox, 0.70, domain.RiskMedium, RuleEndOfWindow,
				"%s tires at %d laps are approaching the end of the window. A %.1fs gap to the car behind allows a safe stop.",
				compound, age, behind), nil
		}
		return record(domain.DecisionStayOut, 0.65, domain.RiskMedium, RuleEndOfWindow,
			"%s tires at %d laps are near the end of the window but the %.1fs gap behind is not enough to pit (need > %.0fs). Extend the stint.",
			compound, age, behind, SafePitGap), nil
	}

	return record(domain.DecisionStayOut, 0.70, domain.RiskMedium, RuleDefault,
		"Standard strategy for %s tires at %d laps on lap %d.",
		compound, age, s.Lap), nil
}

func incompatibleTires(compound domain.Compound, condition, warning string) *domain.DecisionRecord {
	var rec *domain.DecisionRecord
	switch {
	case compound.IsSlick() && strings.Contains(condition, "heavy_rain"):
		rec = record(domain.DecisionBox, 0.98, domain.RiskHigh, RuleIncompatibleTires,
			"%s slicks in %s. Switch to WET immediately.", compound, condition)
		rec.RecommendedCompound = domain.CompoundWet
	case compound.IsSlick():
		rec = record(domain.DecisionBox, 0.95, domain.RiskHigh, RuleIncompatibleTires,
			"%s slicks in %s. Switch to INTERMEDIATE.", compound, condition)
		rec.RecommendedCompound = domain.CompoundIntermediate
	case compound == domain.CompoundWet:
		rec = record(domain.DecisionBox, 0.95, domain.RiskHigh, RuleIncompatibleTires,
			"%s tires on a %s track will overheat. Switch to MEDIUM slicks.", compound, condition)
		rec.RecommendedCompound = domain.CompoundMedium
	default:
		rec = record(domain.DecisionBox, 0.95, domain.RiskMedium, RuleIncompatibleTires,
			"%s tires on a %s track will overheat. Switch to MEDIUM slicks.", compound, condition)
		rec.RecommendedCompound = domain.CompoundMedium
	}
	rec.Warning = warning
	return rec
}

func record(d domain.Decision, confidence float64, risk domain.RiskLevel, rule, format string, args ...any) *domain.DecisionRecord {
	return &domain.DecisionRecord{
		Decision:   d,
		Reasoning:  fmt.Sprintf(format, args...),
		Confidence: confidence,
		RiskLevel:  risk,
		RuleFired:  rule,
	}
}
