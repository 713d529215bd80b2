package strategy

import (
	"fmt"
	"math"
	"sort"
	"strings"

	"github.com/arturoeanton/go-pitwall-ollama/internal/domain"
)

// RacePhase is where the scenario sits within the estimated race distance.
type RacePhase string

const (
	PhaseStart     RacePhase = "START"
	PhaseEarlyRace RacePhase = "EARLY_RACE"
	PhaseMidRace   RacePhase = "MID_RACE"
	PhaseLateRace  RacePhase = "LATE_RACE"
	PhaseFinalLaps RacePhase = "FINAL_LAPS"
)

const (
	// FinalLapsWindow is the laps-remaining count at which the reasoner
	// must not pit. The rule engine uses FinalLapsThreshold instead.
	FinalLapsWindow = 3

	lateRaceWindow   = 10
	earlyRaceLastLap = 15
)

// ConsensusShare is the fraction of retrieved neighbours that must agree
// before the historical pattern is followed outright.
const ConsensusShare = 0.8

var trackLengths = map[string]int{
	"Monaco":                    78,
	"Marina Bay Street Circuit": 62,
	"Marina Bay":                62,
	"Singapore":                 62,
	"Spa":                       44,
	"Silverstone":               52,
	"Monza":                     53,
}

// EstimateRaceLength returns the race distance in laps for a known track,
// otherwise a guess based on how far the race has already run.
func EstimateRaceLength(lap int, track string) int {
	if n, ok := trackLengths[track]; ok {
		return n
	}
	switch {
	case lap >= 60:
		return 62
	case lap >= 50:
		return 60
	default:
		return 55
	}
}

// RacePhaseFor classifies lap within a race of length laps.
func RacePhaseFor(lap, length int) RacePhase {
	remaining := length - lap
	switch {
	case lap <= 1:
		return PhaseStart
	case remaining <= FinalLapsWindow:
		return PhaseFinalLaps
	case remaining <= lateRaceWindow:
		return PhaseLateRace
	case lap <= earlyRaceLastLap:
		return PhaseEarlyRace
	default:
		return PhaseMidRace
	}
}

// Consensus tallies the historical labels among retrieved neighbours.
type Consensus struct {
	Box            int
	StayOut        int
	MeanSimilarity float64
	Required       int // agreeing neighbours needed for the pattern rule
}

// Tally counts labels in hits; k is the requested neighbour count.
func Tally(hits []domain.SimilarScenario, k int) Consensus {
	c := Consensus{Required: int(math.Ceil(ConsensusShare * float64(k)))}
	if c.Required < 1 {
		c.Required = 1
	}
	var sum float64
	for i := range hits {
		switch hits[i].Label() {
		case domain.DecisionBox:
			c.Box++
		case domain.DecisionStayOut:
			c.StayOut++
		}
		sum += hits[i].Similarity
	}
	if len(hits) > 0 {
		c.MeanSimilarity = sum / float64(len(hits))
	}
	return c
}

// Pattern describes the consensus in one line.
func (c Consensus) Pattern() string {
	switch {
	case c.StayOut >= c.Required:
		return "STRONG consensus for STAY_OUT"
	case c.Box >= c.Required:
		return "STRONG consensus for BOX"
	case c.Box+c.StayOut == 0:
		return "No labelled scenarios"
	default:
		return "MIXED"
	}
}

const maxEvidenceReasoning = 150

// BuildPrompt renders the reasoning context for s and its neighbours.
func BuildPrompt(s *domain.Scenario, hits []domain.SimilarScenario, k int) string {
	length := EstimateRaceLength(s.Lap, s.Track())
	phase := RacePhaseFor(s.Lap, length)
	remaining := length - s.Lap
	cons := Tally(hits, k)

	raceState := s.RaceState.Raw
	if raceState == "" {
		raceState = "racing"
	}
	tireCondition := s.Tires.Condition
	if tireCondition == "" {
		tireCondition = "unknown"
	}
	weather := s.WeatherCondition()
	if weather == "" {
		weather = "dry"
	}
	driver := s.Driver
	if driver == "" {
		driver = "Unknown"
	}

	var b strings.Builder
	b.WriteString("You are an expert F1 race strategist. Analyze the current racing situation and recommend whether the driver should BOX (pit stop) or STAY_OUT (remain on track).\n\n")

	b.WriteString("CURRENT SITUATION:\n")
	fmt.Fprintf(&b, "Lap: %d of ~%d (estimated)\n", s.Lap, length)
	fmt.Fprintf(&b, "Race Phase: %s\n", phase)
	fmt.Fprintf(&b, "Laps Remaining: ~%d\n", remaining)
	fmt.Fprintf(&b, "Driver: %s\n", driver)
	fmt.Fprintf(&b, "Position: P%d\n", s.CurrentPosition(10))
	fmt.Fprintf(&b, "Tires: %s compound, %d laps old, condition: %s\n", s.Tires.Compound, s.Tires.AgeLaps, tireCondition)
	fmt.Fprintf(&b, "Weather: %s\n", weather)
	fmt.Fprintf(&b, "Race State: %s (%s)\n", raceState, s.RaceState.Status)
	fmt.Fprintf(&b, "Gaps: %s\n\n", formatGaps(s.Gaps))

	b.WriteString("SIMILAR HISTORICAL SCENARIOS:\n")
	for i := range hits {
		writeEvidence(&b, i+1, &hits[i])
	}

	b.WriteString("ANALYSIS OF RETRIEVED SCENARIOS:\n")
	fmt.Fprintf(&b, "- Total scenarios analyzed: %d\n", len(hits))
	fmt.Fprintf(&b, "- Average similarity: %.2f\n", cons.MeanSimilarity)
	fmt.Fprintf(&b, "- Recommendations: %d × STAY_OUT, %d × BOX\n", cons.StayOut, cons.Box)
	fmt.Fprintf(&b, "- Pattern: %s\n\n", cons.Pattern())

	b.WriteString("DECISION TREE - FOLLOW THIS EXACTLY:\n\n")
	b.WriteString("YOUR CURRENT VALUES:\n")
	fmt.Fprintf(&b, "- laps_remaining = %d\n", remaining)
	fmt.Fprintf(&b, "- race_state = %q (%s)\n", raceState, s.RaceState.Status)
	fmt.Fprintf(&b, "- tire_age = %d laps\n", s.Tires.AgeLaps)
	fmt.Fprintf(&b, "- retrieved consensus = %d STAY_OUT, %d BOX\n\n", cons.StayOut, cons.Box)

	fmt.Fprintf(&b, "STEP 1: Is laps_remaining <= %d?\n", FinalLapsWindow)
	fmt.Fprintf(&b, "  YES: Output STAY_OUT (RULE 1: Final laps). Reasoning: \"Applying RULE 1: Race ends in %d laps. Cannot recover from pit stop.\" Stop.\n", remaining)
	b.WriteString("  NO: Go to STEP 2.\n\n")

	fmt.Fprintf(&b, "STEP 2: Is the race under a SAFETY_CAR or VIRTUAL_SAFETY_CAR AND tire_age >= %d?\n", SafetyCarMinTireAge)
	fmt.Fprintf(&b, "  YES: Output BOX (RULE 2: Safety car free pit). Reasoning: \"Applying RULE 2: %s active. %d-lap tires. Free pit window.\" Stop.\n", s.RaceState.Status, s.Tires.AgeLaps)
	b.WriteString("  NO: Go to STEP 3.\n\n")

	b.WriteString("STEP 3: Is tire_age == 0?\n")
	b.WriteString("  YES: Output STAY_OUT (RULE 3: Fresh tires). Reasoning: \"Applying RULE 3: Brand new tires, plenty of life.\" Stop.\n")
	b.WriteString("  NO: Go to STEP 4.\n\n")

	fmt.Fprintf(&b, "STEP 4: Do %d or more of %d retrieved scenarios agree (>= %.0f%% consensus)?\n", cons.Required, k, ConsensusShare*100)
	fmt.Fprintf(&b, "  Check: is %d >= %d OR %d >= %d?\n", cons.StayOut, cons.Required, cons.Box, cons.Required)
	b.WriteString("  YES: Follow the consensus (RULE 4: Historical pattern). Reasoning: \"Applying RULE 4: N of K similar scenarios agree.\" Stop.\n")
	b.WriteString("  NO: Go to STEP 5.\n\n")

	b.WriteString("STEP 5: Full strategic analysis (RULE 5). Weigh tire degradation against laps remaining, gaps to competitors, the retrieved scenarios and the race context.\n\n")

	b.WriteString("CRITICAL: Your reasoning MUST start with \"Applying RULE X: ...\" to show which rule you followed.\n\n")
	b.WriteString("Respond ONLY with one JSON object in exactly this format:\n")
	b.WriteString(`{"decision": "BOX", "confidence": 0.85, "reasoning": "Applying RULE 2: SAFETY_CAR active. 20-lap tires. Free pit window.", "risk_level": "LOW"}`)
	b.WriteString("\n\n")
	b.WriteString("- decision: exactly \"BOX\" or \"STAY_OUT\"\n")
	b.WriteString("- confidence: number between 0.0 and 1.0\n")
	b.WriteString("- reasoning: starts with \"Applying RULE X: ...\" then 1-2 sentences\n")
	b.WriteString("- risk_level: \"LOW\", \"MEDIUM\" or \"HIGH\"\n")

	return b.String()
}

func writeEvidence(b *strings.Builder, n int, h *domain.SimilarScenario) {
	sc := &h.Scenario
	label := "UNKNOWN"
	reasoning := "N/A"
	if g := sc.GoldenTruth; g != nil {
		if g.Decision != "" {
			label = string(g.Decision)
		}
		if e := g.Explanation(); e != "" {
			reasoning = e
			if r := []rune(reasoning); len(r) > maxEvidenceReasoning {
				reasoning = string(r[:maxEvidenceReasoning])
			}
		}
	}
	track := sc.Track()
	if track == "" {
		track = "Unknown"
	}
	year := ""
	if sc.Race != nil && sc.Race.Year > 0 {
		year = fmt.Sprintf(" %d", sc.Race.Year)
	}

	fmt.Fprintf(b, "Historical Scenario %d (Similarity: %.2f):\n", n, h.Similarity)
	fmt.Fprintf(b, "- Race: %s%s\n", track, year)
	fmt.Fprintf(b, "- Lap %d, Position P%d\n", sc.Lap, sc.CurrentPosition(10))
	fmt.Fprintf(b, "- Tires: %s (%d laps old)\n", sc.Tires.Compound, sc.Tires.AgeLaps)
	fmt.Fprintf(b, "- Decision: %s\n", label)
	fmt.Fprintf(b, "- Reasoning: %s\n\n", reasoning)
}

func formatGaps(g domain.Gaps) string {
	if len(g) == 0 {
		return "none"
	}
	keys := make([]string, 0, len(g))
	for k := range g {
		keys = append(keys, k)
	}
	sort.Strings(keys)
	parts := make([]string, len(keys))
	for i, k := range keys {
		parts[i] = fmt.Sprintf("%s=%.1fs", k, g[k])
	}
	return strings.Join(parts, ", ")
}
