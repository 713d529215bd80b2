package validator

import (
	"encoding/json"
	"fmt"
	"slices"
)

var (
	requiredRaceFields     = []string{"name", "track", "date", "total_laps", "regulation_era"}
	requiredScenarioFields = []string{"id", "name", "lap", "driver", "position", "tires", "weather", "context", "golden_truth", "test_criteria"}
	requiredTruthFields    = []string{"decision", "rationale", "confidence_level", "risk_level"}
	requiredTireFields     = []string{"compound", "age_laps"}

	validDecisions    = []string{"BOX", "STAY_OUT"}
	validLevels       = []string{"LOW", "MEDIUM", "HIGH"}
	validCompounds    = []string{"SOFT", "MEDIUM", "HARD", "INTERMEDIATE", "WET"}
	validWeatherConds = []string{"dry", "wet", "damp", "drizzle", "rain", "heavy_rain", "mixed", "changing"}
)

// ValidateCollectionJSON decodes a golden file and checks it against the
// golden-dataset schema.
func ValidateCollectionJSON(data []byte) ([]string, error) {
	var raw map[string]any
	if err := json.Unmarshal(data, &raw); err != nil {
		return nil, fmt.Errorf("decode collection: %w", err)
	}
	return ValidateCollection(raw), nil
}

// ValidateCollection checks a decoded golden file for required fields and
// enumerations. An empty result means the file is schema-valid.
func ValidateCollection(dataset map[string]any) []string {
	var errs []string

	race, ok := dataset["race"].(map[string]any)
	if !ok {
		return append(errs, "missing 'race' metadata")
	}
	for _, f := range missing(race, requiredRaceFields) {
		errs = append(errs, "race metadata missing field: "+f)
	}

	scenarios, ok := dataset["scenarios"].([]any)
	if !ok {
		return append(errs, "missing 'scenarios' array")
	}
	if len(scenarios) == 0 {
		errs = append(errs, "collection has no scenarios")
	}

	for i, item := range scenarios {
		sc, ok := item.(map[string]any)
		if !ok {
			errs = append(errs, fmt.Sprintf("[scenario_%d] not an object", i))
			continue
		}
		id, _ := sc["id"].(string)
		if id == "" {
			id = fmt.Sprintf("scenario_%d", i)
		}
		for _, f := range missing(sc, requiredScenarioFields) {
			errs = append(errs, fmt.Sprintf("[%s] missing field: %s", id, f))
		}

		if truth, ok := sc["golden_truth"].(map[string]any); ok {
			for _, f := range missing(truth, requiredTruthFields) {
				errs = append(errs, fmt.Sprintf("[%s] golden truth missing: %s", id, f))
			}
			errs = appendEnum(errs, id, "decision", truth["decision"], validDecisions)
			errs = appendEnum(errs, id, "confidence_level", truth["confidence_level"], validLevels)
			errs = appendEnum(errs, id, "risk_level", truth["risk_level"], validLevels)
		}

		if tires, ok := sc["tires"].(map[string]any); ok {
			for _, f := range missing(tires, requiredTireFields) {
				errs = append(errs, fmt.Sprintf("[%s] tires missing field: %s", id, f))
			}
			errs = appendEnum(errs, id, "compound", tires["compound"], validCompounds)
		}

		if weather, ok := sc["weather"].(map[string]any); ok {
			errs = appendEnum(errs, id, "weather condition", weather["condition"], validWeatherConds)
		}
	}
	return errs
}

func missing(obj map[string]any, fields []string) []string {
	var out []string
	for _, f := range fields {
		if _, ok := obj[f]; !ok {
			out = append(out, f)
		}
	}
	return out
}

// appendEnum records a violation when v is present and not in allowed.
func appendEnum(errs []string, id, field string, v any, allowed []string) []string {
	if v == nil {
		return errs
	}
	s, ok := v.(string)
	if !ok || !slices.Contains(allowed, s) {
		return append(errs, fmt.Sprintf("[%s] invalid %s: %v", id, field, v))
	}
	return errs
}
