package domain

import (
	"bytes"
	"encoding/json"
	"fmt"
	"strings"
)

// Compound is a tire rubber formulation class.
type Compound string

// Tire compounds, ordered from softest slick to full wet.
const (
	CompoundSoft         Compound = "SOFT"
	CompoundMedium       Compound = "MEDIUM"
	CompoundHard         Compound = "HARD"
	CompoundIntermediate Compound = "INTERMEDIATE"
	CompoundWet          Compound = "WET"
)

// Compounds lists every valid compound in ordinal order.
var Compounds = []Compound{CompoundSoft, CompoundMedium, CompoundHard, CompoundIntermediate, CompoundWet}

// Valid reports whether c is one of the five known compounds.
func (c Compound) Valid() bool {
	_, ok := c.Ordinal()
	return ok
}

// Ordinal returns the position of c in Compounds.
func (c Compound) Ordinal() (int, bool) {
	for i, known := range Compounds {
		if c == known {
			return i, true
		}
	}
	return 0, false
}

// IsSlick reports whether c is a dry-weather compound.
func (c Compound) IsSlick() bool {
	return c == CompoundSoft || c == CompoundMedium || c == CompoundHard
}

// Scenario is a race snapshot. It is created by a loader or a live caller
// and read, never modified, by the validator, embedder, index and agents.
type Scenario struct {
	ID           string          `json:"id,omitempty"`
	Name         string          `json:"name,omitempty"`
	Lap          int             `json:"lap"`
	Driver       string          `json:"driver,omitempty"`
	Position     *Position       `json:"position,omitempty"`
	Tires        Tires           `json:"tires"`
	Weather      Weather         `json:"weather"`
	RaceState    RaceState       `json:"race_state,omitzero"`
	Gaps         Gaps            `json:"gaps,omitempty"`
	Race         *RaceInfo       `json:"race,omitempty"`
	Context      *RaceContext    `json:"context,omitempty"`
	GoldenTruth  *GoldenTruth    `json:"golden_truth,omitempty"`
	TestCriteria json.RawMessage `json:"test_criteria,omitempty"`
}

// Track returns the race track name, or "" when no race metadata is attached.
func (s *Scenario) Track() string {
	if s.Race == nil {
		return ""
	}
	return s.Race.Track
}

// CurrentPosition unwraps the position, falling back to def when absent.
func (s *Scenario) CurrentPosition(def int) int {
	if s.Position == nil {
		return def
	}
	return s.Position.Current
}

// Tires describes the set currently fitted.
type Tires struct {
	Compound  Compound `json:"compound,omitempty"`
	AgeLaps   int      `json:"age_laps"`
	Condition string   `json:"condition,omitempty"`
}

// Weather describes track conditions.
type Weather struct {
	Condition           string  `json:"condition,omitempty"`
	AirTempC            float64 `json:"air_temp_c,omitempty"`
	TrackTempC          float64 `json:"track_temp_c,omitempty"`
	RainfallProbability float64 `json:"rainfall_probability,omitempty"`
}

// RaceInfo is the race a scenario belongs to.
type RaceInfo struct {
	Name          string `json:"name,omitempty"`
	Track         string `json:"track,omitempty"`
	Year          int    `json:"year,omitempty"`
	Date          string `json:"date,omitempty"`
	TotalLaps     int    `json:"total_laps,omitempty"`
	RegulationEra string `json:"regulation_era,omitempty"`
}

// RaceContext is free-text background for a scenario.
type RaceContext struct {
	Description  string `json:"description,omitempty"`
	StrategyType string `json:"strategy_type,omitempty"`
}

// GoldenTruth is the labeled decision for a historical scenario.
type GoldenTruth struct {
	Decision            Decision  `json:"decision"`
	Rationale           string    `json:"rationale,omitempty"`
	Reasoning           string    `json:"reasoning,omitempty"`
	ConfidenceLevel     string    `json:"confidence_level,omitempty"`
	RiskLevel           RiskLevel `json:"risk_level,omitempty"`
	RecommendedCompound Compound  `json:"recommended_compound,omitempty"`
}

// Explanation returns the reasoning text, preferring the long form.
func (g *GoldenTruth) Explanation() string {
	if g.Reasoning != "" {
		return g.Reasoning
	}
	return g.Rationale
}

// Position accepts either a bare integer or a {current,start} object.
type Position struct {
	Current  int
	Start    int
	Detailed bool
}

// UnmarshalJSON implements json.Unmarshaler.
func (p *Position) UnmarshalJSON(data []byte) error {
	data = bytes.TrimSpace(data)
	if len(data) > 0 && data[0] == '{' {
		var obj struct {
			Current *int `json:"current"`
			Start   int  `json:"start"`
		}
		if err := json.Unmarshal(data, &obj); err != nil {
			return fmt.Errorf("position: %w", err)
		}
		p.Current = 10
		if obj.Current != nil {
			p.Current = *obj.Current
		}
		p.Start = obj.Start
		p.Detailed = true
		return nil
	}
	var n int
	if err := json.Unmarshal(data, &n); err != nil {
		return fmt.Errorf("position: %w", err)
	}
	*p = Position{Current: n}
	return nil
}

// MarshalJSON writes the form the position was read in.
func (p Position) MarshalJSON() ([]byte, error) {
	if p.Detailed {
		return json.Marshal(map[string]int{"current": p.Current, "start": p.Start})
	}
	return json.Marshal(p.Current)
}

// Gaps maps relative-position keys (to_p1, to_p4, ...) to seconds.
type Gaps map[string]float64

// UnmarshalJSON keeps numeric entries and drops anything else, since
// recorded datasets mix in labels like "to_leader": "lapped".
func (g *Gaps) UnmarshalJSON(data []byte) error {
	var raw map[string]json.RawMessage
	if err := json.Unmarshal(data, &raw); err != nil {
		return fmt.Errorf("gaps: %w", err)
	}
	out := make(Gaps, len(raw))
	for k, v := range raw {
		var f float64
		if err := json.Unmarshal(v, &f); err == nil {
			out[k] = f
		}
	}
	*g = out
	return nil
}

// First returns the first non-zero gap among keys, in order.
func (g Gaps) First(keys ...string) float64 {
	for _, k := range keys {
		if v := g[k]; v != 0 {
			return v
		}
	}
	return 0
}

// Gap key groups used for the nearest rival ahead and behind.
var (
	GapAheadKeys  = []string{"to_p1", "to_p2", "to_p3"}
	GapBehindKeys = []string{"to_p4", "to_p5", "to_p6"}
)

// GapAhead is the best available gap to the car in front.
func (s *Scenario) GapAhead() float64 { return s.Gaps.First(GapAheadKeys...) }

// GapBehind is the best available gap to the car behind.
func (s *Scenario) GapBehind() float64 { return s.Gaps.First(GapBehindKeys...) }

// WeatherCondition returns the lower-cased weather condition.
func (s *Scenario) WeatherCondition() string {
	return strings.ToLower(strings.TrimSpace(s.Weather.Condition))
}

// ScenarioCollection is a golden file: one race and its labeled scenarios.
type ScenarioCollection struct {
	Race      RaceInfo   `json:"race"`
	Scenarios []Scenario `json:"scenarios"`
}
