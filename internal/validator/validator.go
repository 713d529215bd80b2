// Package validator rejects physically impossible race snapshots before any
// decision logic runs.
package validator

import (
	"fmt"
	"strings"

	"github.com/arturoeanton/go-pitwall-ollama/internal/domain"
	"github.com/arturoeanton/go-pitwall-ollama/internal/port"
)

const (
	// MaxTireAge is the oldest realistic set, in laps.
	MaxTireAge = 100
	// MaxRaceLaps bounds the lap number of any race.
	MaxRaceLaps = 80
)

// Validate runs every plausibility check and collects all failures.
func Validate(s *domain.Scenario) (bool, []string) {
	var errs []string

	if c := s.Tires.Compound; c != "" && !c.Valid() {
		errs = append(errs, fmt.Sprintf("invalid tire compound %q (want one of SOFT, MEDIUM, HARD, INTERMEDIATE, WET)", c))
	}

	switch age := s.Tires.AgeLaps; {
	case age < 0:
		errs = append(errs, fmt.Sprintf("tire age cannot be negative: %d", age))
	case age > MaxTireAge:
		errs = append(errs, fmt.Sprintf("tire age %d exceeds maximum realistic age %d", age, MaxTireAge))
	}

	switch lap := s.Lap; {
	case lap < 1:
		errs = append(errs, fmt.Sprintf("lap must be positive: %d", lap))
	case lap > MaxRaceLaps:
		errs = append(errs, fmt.Sprintf("lap %d exceeds maximum race length %d", lap, MaxRaceLaps))
	}

	return len(errs) == 0, errs
}

// Check is Validate returning a *port.ValidationError on failure.
func Check(s *domain.Scenario) error {
	if ok, errs := Validate(s); !ok {
		return &port.ValidationError{ScenarioID: s.ID, Errors: errs}
	}
	return nil
}

var wetKeywords = []string{"heavy_rain", "rain", "wet"}

// CheckWeatherTireCompatibility reports whether the fitted compound suits the
// weather. It is kept out of Validate because an incompatibility is a
// decision trigger, not bad input.
func CheckWeatherTireCompatibility(compound domain.Compound, condition string) (bool, string) {
	cond := strings.ToLower(condition)

	if compound.IsSlick() {
		for _, kw := range wetKeywords {
			if strings.Contains(cond, kw) {
				return false, fmt.Sprintf("DANGER: Slick tires (%s) in %s conditions. Must change to INTERMEDIATE or WET.", compound, condition)
			}
		}
	}

	if strings.Contains(cond, "dry") {
		switch compound {
		case domain.CompoundWet:
			return false, fmt.Sprintf("CRITICAL: %s tires will overheat on dry track. Must change to slick compound.", compound)
		case domain.CompoundIntermediate:
			return false, fmt.Sprintf("WARNING: %s tires will overheat on dry track. Must change to slick compound.", compound)
		}
	}

	return true, ""
}
