package embedding

import (
	"context"
	"errors"
	"math"
	"strings"
	"testing"

	"github.com/arturoeanton/go-pitwall-ollama/internal/adapter/hashenc"
	"github.com/arturoeanton/go-pitwall-ollama/internal/domain"
	"github.com/arturoeanton/go-pitwall-ollama/internal/port"
)

const testTextDim = 64

func newTestEmbedder() *ScenarioEmbedder {
	return New(hashenc.New(testTextDim), testTextDim)
}

func closeEnough(a, b float32) bool {
	return math.Abs(float64(a-b)) < 1e-6
}

func baseScenario() *domain.Scenario {
	return &domain.Scenario{
		ID:        "base",
		Lap:       30,
		Driver:    "HAM",
		Position:  &domain.Position{Current: 4},
		Tires:     domain.Tires{Compound: domain.CompoundMedium, AgeLaps: 20, Condition: "mid_stint"},
		Weather:   domain.Weather{Condition: "dry"},
		RaceState: domain.NewRaceState("racing"),
		Gaps:      domain.Gaps{"to_p3": 2.5, "to_p5": 6.0},
	}
}

func TestDimension(t *testing.T) {
	e := newTestEmbedder()
	if e.Dimension() != testTextDim+NumFeatures {
		t.Fatalf("Dimension() = %d, want %d", e.Dimension(), testTextDim+NumFeatures)
	}
	v, err := e.Embed(context.Background(), baseScenario())
	if err != nil {
		t.Fatal(err)
	}
	if len(v) != e.Dimension() {
		t.Fatalf("len(vector) = %d, want %d", len(v), e.Dimension())
	}
}

func TestEmbedIsIdempotent(t *testing.T) {
	e := newTestEmbedder()
	ctx := context.Background()
	a, err := e.Embed(ctx, baseScenario())
	if err != nil {
		t.Fatal(err)
	}
	b, err := e.Embed(ctx, baseScenario())
	if err != nil {
		t.Fatal(err)
	}
	for i := range a {
		if a[i] != b[i] {
			t.Fatalf("component %d differs: %v vs %v", i, a[i], b[i])
		}
	}
}

func TestEmbedBatchMatchesEmbed(t *testing.T) {
	e := newTestEmbedder()
	ctx := context.Background()
	second := baseScenario()
	second.Lap = 5
	second.Tires = domain.Tires{Compound: domain.CompoundWet, AgeLaps: 2}
	second.RaceState = domain.NewRaceState("vsc")
	batch := []domain.Scenario{*baseScenario(), *second}

	got, err := e.EmbedBatch(ctx, batch)
	if err != nil {
		t.Fatal(err)
	}
	if len(got) != len(batch) {
		t.Fatalf("got %d vectors, want %d", len(got), len(batch))
	}
	for i := range batch {
		want, err := e.Embed(ctx, &batch[i])
		if err != nil {
			t.Fatal(err)
		}
		for j := range want {
			if !closeEnough(got[i][j], want[j]) {
				t.Fatalf("item %d component %d: batch %v, single %v", i, j, got[i][j], want[j])
			}
		}
	}
}

func TestFeatures(t *testing.T) {
	f := Features(baseScenario())
	want := [NumFeatures]float32{
		20.0 / 50, // tire age
		1.0 / 4,   // MEDIUM
		30.0 / 70, // lap
		4.0 / 20,  // position
		2.5 / 60,  // to_p3 is the first non-zero ahead
		6.0 / 60,  // to_p5 is the first non-zero behind
		0,         // dry
		0.5,       // mid race
		0, 0,      // racing
		0.4, // mid_stint
	}
	for i := range want {
		if !closeEnough(f[i], want[i]) {
			t.Errorf("feature %d = %v, want %v", i, f[i], want[i])
		}
	}
}

func TestFeaturesClampAndDefaults(t *testing.T) {
	s := &domain.Scenario{
		Lap:     75,
		Tires:   domain.Tires{Compound: "MYSTERY", AgeLaps: 90, Condition: "feathered"},
		Weather: domain.Weather{Condition: "snow"},
		Gaps:    domain.Gaps{"to_p1": 120},
	}
	f := Features(s)
	checks := map[int]float32{
		0:  1,    // age clamped
		1:  0.25, // unknown compound is MEDIUM
		2:  1,    // lap clamped
		3:  0.5,  // absent position is P10
		4:  1,    // gap clamped
		5:  0,    // no gap behind
		6:  0,    // unknown weather is dry
		7:  1,    // late race
		10: 0.4,  // unknown tire condition
	}
	for i, want := range checks {
		if !closeEnough(f[i], want) {
			t.Errorf("feature %d = %v, want %v", i, f[i], want)
		}
	}
	for i, x := range f {
		if x < 0 || x > 1 {
			t.Errorf("feature %d = %v out of [0,1]", i, x)
		}
	}
}

func TestSafetyCarFlagsAreExclusive(t *testing.T) {
	tests := []struct {
		state  string
		sc, vc float32
	}{
		{"safety_car", 1, 0},
		{"SC", 1, 0},
		{"vsc", 0, 1},
		{"virtual_safety_car", 0, 1},
		{"Virtual Safety Car deployed", 0, 1},
		{"vsc_ending", 0, 0},
		{"safety_period", 0, 0},
		{"racing", 0, 0},
		{"", 0, 0},
	}
	for _, tt := range tests {
		t.Run(tt.state, func(t *testing.T) {
			s := baseScenario()
			s.RaceState = domain.NewRaceState(tt.state)
			f := Features(s)
			if f[8] != tt.sc || f[9] != tt.vc {
				t.Errorf("flags = (%v, %v), want (%v, %v)", f[8], f[9], tt.sc, tt.vc)
			}
		})
	}
}

func TestText(t *testing.T) {
	s := baseScenario()
	s.Context = &domain.RaceContext{Description: "Undercut threat from Norris."}
	got := Text(s)
	for _, want := range []string{
		"lap 30", "position 4", "MEDIUM compound", "20 laps old",
		"Tire condition: mid_stint", "dry weather", "Undercut threat", "Race state: racing",
	} {
		if !strings.Contains(got, want) {
			t.Errorf("text %q missing %q", got, want)
		}
	}
}

type shortEncoder struct{ hashenc.Encoder }

func (shortEncoder) Embed(context.Context, string) ([]float32, error) { return make([]float32, 3), nil }

func TestDimensionMismatch(t *testing.T) {
	e := New(&shortEncoder{}, testTextDim)
	_, err := e.Embed(context.Background(), baseScenario())
	if !errors.Is(err, port.ErrDimensionMismatch) {
		t.Fatalf("expected ErrDimensionMismatch, got %v", err)
	}
}

func sqDist(a, b []float32) float64 {
	var d float64
	for i := range a {
		x := float64(a[i] - b[i])
		d += x * x
	}
	return d
}

func TestNearbyScenariosEmbedCloser(t *testing.T) {
	e := newTestEmbedder()
	ctx := context.Background()

	a := baseScenario()
	b := baseScenario()
	b.Lap = 28
	b.Tires.AgeLaps = 18
	c := baseScenario()
	c.Lap = 1
	c.Tires = domain.Tires{Compound: domain.CompoundSoft, AgeLaps: 0, Condition: "optimal"}

	va, _ := e.Embed(ctx, a)
	vb, _ := e.Embed(ctx, b)
	vc, _ := e.Embed(ctx, c)
	if dab, dac := sqDist(va, vb), sqDist(va, vc); dab >= dac {
		t.Fatalf("expected d(A,B)=%v < d(A,C)=%v", dab, dac)
	}
}
