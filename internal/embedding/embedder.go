// Package embedding turns race scenarios into hybrid vectors: a sentence
// embedding of a rendered description followed by explicit numeric features.
package embedding

import (
	"context"
	"fmt"
	"strings"

	"github.com/arturoeanton/go-pitwall-ollama/internal/domain"
	"github.com/arturoeanton/go-pitwall-ollama/internal/port"
)

// NumFeatures is the length of the explicit feature subvector.
const NumFeatures = 11

// Normalisation bounds for the explicit features.
const (
	MaxTireAge  = 50.0
	MaxLap      = 70.0
	MaxPosition = 20.0
	MaxGap      = 60.0

	defaultPosition = 10
)

var weatherOrdinal = map[string]float32{
	"dry":        0,
	"damp":       1,
	"drizzle":    2,
	"light_rain": 3,
	"rain":       4,
	"heavy_rain": 5,
	"wet":        6,
}

var tireConditionSeverity = map[string]float32{
	"optimal":               0.0,
	"good":                  0.2,
	"mid_stint":             0.4,
	"end_of_optimal_window": 0.6,
	"high_wear":             0.8,
	"critical_wear":         1.0,
}

const unknownTireCondition = 0.4

// ScenarioEmbedder produces vectors of length TextDim+NumFeatures.
type ScenarioEmbedder struct {
	encoder port.TextEncoder
	textDim int
}

// New returns an embedder over encoder. textDim is the encoder's output
// length; every vector the encoder returns is checked against it.
func New(encoder port.TextEncoder, textDim int) *ScenarioEmbedder {
	return &ScenarioEmbedder{encoder: encoder, textDim: textDim}
}

// Dimension is the full vector length.
func (e *ScenarioEmbedder) Dimension() int { return e.textDim + NumFeatures }

// TextDimension is the length of the sentence-embedding subvector.
func (e *ScenarioEmbedder) TextDimension() int { return e.textDim }

// ModelName names the text encoder in use.
func (e *ScenarioEmbedder) ModelName() string { return e.encoder.ModelName() }

// Embed returns the hybrid vector for s.
func (e *ScenarioEmbedder) Embed(ctx context.Context, s *domain.Scenario) ([]float32, error) {
	text, err := e.encoder.Embed(ctx, Text(s))
	if err != nil {
		return nil, fmt.Errorf("encode scenario %q: %w", s.ID, err)
	}
	return e.combine(text, s)
}

// EmbedBatch embeds many scenarios with a single encoder call. Each result
// matches what Embed returns for the same scenario.
func (e *ScenarioEmbedder) EmbedBatch(ctx context.Context, scenarios []domain.Scenario) ([][]float32, error) {
	if len(scenarios) == 0 {
		return nil, nil
	}
	texts := make([]string, len(scenarios))
	for i := range scenarios {
		texts[i] = Text(&scenarios[i])
	}
	encoded, err := e.encoder.EmbedBatch(ctx, texts)
	if err != nil {
		return nil, fmt.Errorf("encode %d scenarios: %w", len(scenarios), err)
	}
	if len(encoded) != len(scenarios) {
		return nil, fmt.Errorf("encoder returned %d vectors for %d texts", len(encoded), len(scenarios))
	}
	out := make([][]float32, len(scenarios))
	for i := range scenarios {
		v, err := e.combine(encoded[i], &scenarios[i])
		if err != nil {
			return nil, err
		}
		out[i] = v
	}
	return out, nil
}

func (e *ScenarioEmbedder) combine(text []float32, s *domain.Scenario) ([]float32, error) {
	if len(text) != e.textDim {
		return nil, fmt.Errorf("%w: encoder %s returned %d dims, want %d",
			port.ErrDimensionMismatch, e.encoder.ModelName(), len(text), e.textDim)
	}
	f := Features(s)
	v := make([]float32, 0, e.Dimension())
	v = append(v, text...)
	v = append(v, f[:]...)
	return v, nil
}

// Text renders s as the paragraph handed to the sentence encoder.
func Text(s *domain.Scenario) string {
	compound := string(s.Tires.Compound)
	if compound == "" {
		compound = "UNKNOWN"
	}
	weather := s.Weather.Condition
	if weather == "" {
		weather = "unknown"
	}

	var b strings.Builder
	fmt.Fprintf(&b, "Race situation at lap %d. ", s.Lap)
	fmt.Fprintf(&b, "Currently in position %d. ", s.CurrentPosition(0))
	fmt.Fprintf(&b, "Running on %s compound tires that are %d laps old. ", compound, s.Tires.AgeLaps)
	fmt.Fprintf(&b, "Tire condition: %s. ", s.Tires.Condition)
	fmt.Fprintf(&b, "Track conditions: %s weather.", weather)
	if s.Context != nil && s.Context.Description != "" {
		b.WriteString("\n")
		b.WriteString(s.Context.Description)
	}
	if s.RaceState.Raw != "" {
		b.WriteString("\nRace state: ")
		b.WriteString(s.RaceState.Raw)
	}
	return b.String()
}

// Features extracts the eleven normalised numeric features of s.
//
//	0 tire age        4 gap ahead       8 safety car
//	1 compound        5 gap behind      9 virtual safety car
//	2 lap             6 weather        10 tire condition
//	3 position        7 race phase
func Features(s *domain.Scenario) [NumFeatures]float32 {
	var f [NumFeatures]float32

	f[0] = clamp(float64(s.Tires.AgeLaps) / MaxTireAge)

	ord, ok := s.Tires.Compound.Ordinal()
	if !ok {
		ord, _ = domain.CompoundMedium.Ordinal()
	}
	f[1] = float32(ord) / 4

	f[2] = clamp(float64(s.Lap) / MaxLap)
	f[3] = clamp(float64(s.CurrentPosition(defaultPosition)) / MaxPosition)
	f[4] = clamp(s.GapAhead() / MaxGap)
	f[5] = clamp(s.GapBehind() / MaxGap)
	f[6] = weatherOrdinal[s.WeatherCondition()] / 6

	switch {
	case s.Lap < 15:
		f[7] = 0
	case s.Lap < 50:
		f[7] = 0.5
	default:
		f[7] = 1
	}

	if sc, vsc := s.RaceState.NeutralisationFlags(); sc {
		f[8] = 1
	} else if vsc {
		f[9] = 1
	}

	if cond := strings.ToLower(s.Tires.Condition); cond != "" {
		sev, ok := tireConditionSeverity[cond]
		if !ok {
			sev = unknownTireCondition
		}
		f[10] = sev
	}

	return f
}

func clamp(x float64) float32 {
	switch {
	case x < 0:
		return 0
	case x > 1:
		return 1
	}
	return float32(x)
}
