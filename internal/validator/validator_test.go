package validator

import (
	"errors"
	"os"
	"path/filepath"
	"strings"
	"testing"

	"github.com/arturoeanton/go-pitwall-ollama/internal/domain"
	"github.com/arturoeanton/go-pitwall-ollama/internal/port"
)

func scenario(lap int, compound domain.Compound, age int) *domain.Scenario {
	return &domain.Scenario{
		ID:    "t",
		Lap:   lap,
		Tires: domain.Tires{Compound: compound, AgeLaps: age},
	}
}

func TestValidate(t *testing.T) {
	tests := []struct {
		name     string
		s        *domain.Scenario
		wantOK   bool
		wantErrs int
		contains string
	}{
		{"valid", scenario(20, domain.CompoundMedium, 12), true, 0, ""},
		{"absent compound", scenario(20, "", 12), true, 0, ""},
		{"bad compound", scenario(20, "SUPERSOFT", 12), false, 1, "SUPERSOFT"},
		{"negative age", scenario(20, domain.CompoundHard, -1), false, 1, "-1"},
		{"age too old", scenario(20, domain.CompoundHard, 101), false, 1, "101"},
		{"age at bound", scenario(20, domain.CompoundHard, MaxTireAge), true, 0, ""},
		{"lap zero", scenario(0, domain.CompoundSoft, 1), false, 1, "lap"},
		{"lap too high", scenario(81, domain.CompoundSoft, 1), false, 1, "81"},
		{"lap at bound", scenario(MaxRaceLaps, domain.CompoundSoft, 1), true, 0, ""},
		{"collects all", scenario(-3, "SLICK", 200), false, 3, ""},
	}
	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			ok, errs := Validate(tt.s)
			if ok != tt.wantOK {
				t.Fatalf("ok = %v, want %v (errs %v)", ok, tt.wantOK, errs)
			}
			if len(errs) != tt.wantErrs {
				t.Fatalf("got %d errors %v, want %d", len(errs), errs, tt.wantErrs)
			}
			if tt.contains != "" && !strings.Contains(strings.Join(errs, " "), tt.contains) {
				t.Errorf("errors %v do not mention %q", errs, tt.contains)
			}
		})
	}
}

func TestCheckReturnsValidationError(t *testing.T) {
	err := Check(scenario(0, "X", -1))
	var ve *port.ValidationError
	if !errors.As(err, &ve) {
		t.Fatalf("expected *port.ValidationError, got %T", err)
	}
	if len(ve.Errors) != 3 {
		t.Errorf("expected 3 errors, got %v", ve.Errors)
	}
	if !errors.Is(err, port.ErrInvalidScenario) {
		t.Error("expected errors.Is(err, ErrInvalidScenario)")
	}
	if Check(scenario(10, domain.CompoundSoft, 3)) != nil {
		t.Error("valid scenario should pass Check")
	}
}

func TestCheckWeatherTireCompatibility(t *testing.T) {
	tests := []struct {
		compound  domain.Compound
		condition string
		want      bool
		warning   string
	}{
		{domain.CompoundSoft, "heavy_rain", false, "DANGER"},
		{domain.CompoundMedium, "rain", false, "INTERMEDIATE or WET"},
		{domain.CompoundHard, "wet", false, "HARD"},
		{domain.CompoundWet, "dry", false, "CRITICAL"},
		{domain.CompoundIntermediate, "dry", false, "WARNING"},
		{domain.CompoundSoft, "dry", true, ""},
		{domain.CompoundIntermediate, "rain", true, ""},
		{domain.CompoundMedium, "damp", true, ""},
		{domain.CompoundWet, "", true, ""},
	}
	for _, tt := range tests {
		t.Run(string(tt.compound)+"/"+tt.condition, func(t *testing.T) {
			ok, warning := CheckWeatherTireCompatibility(tt.compound, tt.condition)
			if ok != tt.want {
				t.Fatalf("compatible = %v, want %v", ok, tt.want)
			}
			if tt.warning == "" && warning != "" {
				t.Errorf("unexpected warning %q", warning)
			}
			if !strings.Contains(warning, tt.warning) {
				t.Errorf("warning %q does not contain %q", warning, tt.warning)
			}
		})
	}
}

func TestValidateCollectionReportsViolations(t *testing.T) {
	dataset := map[string]any{
		"race": map[string]any{"name": "Test GP", "track": "Nowhere"},
		"scenarios": []any{
			map[string]any{
				"id":           "bad_1",
				"golden_truth": map[string]any{"decision": "PIT", "risk_level": "EXTREME"},
				"tires":        map[string]any{"compound": "ULTRA"},
				"weather":      map[string]any{"condition": "snow"},
			},
		},
	}
	errs := ValidateCollection(dataset)
	joined := strings.Join(errs, "\n")
	for _, want := range []string{
		"race metadata missing field: date",
		"[bad_1] missing field: lap",
		"[bad_1] golden truth missing: rationale",
		"[bad_1] invalid decision: PIT",
		"[bad_1] invalid risk_level: EXTREME",
		"[bad_1] tires missing field: age_laps",
		"[bad_1] invalid compound: ULTRA",
		"[bad_1] invalid weather condition: snow",
	} {
		if !strings.Contains(joined, want) {
			t.Errorf("missing violation %q in:\n%s", want, joined)
		}
	}
}

func TestValidateCollectionMissingRace(t *testing.T) {
	errs := ValidateCollection(map[string]any{"scenarios": []any{}})
	if len(errs) != 1 || !strings.Contains(errs[0], "race") {
		t.Fatalf("expected a single missing race error, got %v", errs)
	}
}

func TestShippedGoldenCollectionsAreSchemaValid(t *testing.T) {
	files, err := filepath.Glob(filepath.Join("..", "..", "datasets", "golden", "*_scenarios.json"))
	if err != nil {
		t.Fatal(err)
	}
	if len(files) == 0 {
		t.Fatal("no golden collections found")
	}
	for _, f := range files {
		t.Run(filepath.Base(f), func(t *testing.T) {
			data, err := os.ReadFile(f)
			if err != nil {
				t.Fatal(err)
			}
			errs, err := ValidateCollectionJSON(data)
			if err != nil {
				t.Fatal(err)
			}
			if len(errs) != 0 {
				t.Errorf("schema violations:\n%s", strings.Join(errs, "\n"))
			}
		})
	}
}
