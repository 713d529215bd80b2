package domain

import "time"

// Decision is the pit-wall call.
type Decision string

const (
	DecisionBox     Decision = "BOX"
	DecisionStayOut Decision = "STAY_OUT"
)

// Valid reports whether d is BOX or STAY_OUT.
func (d Decision) Valid() bool { return d == DecisionBox || d == DecisionStayOut }

// RiskLevel grades how exposed a decision is.
type RiskLevel string

const (
	RiskLow    RiskLevel = "LOW"
	RiskMedium RiskLevel = "MEDIUM"
	RiskHigh   RiskLevel = "HIGH"
)

// Valid reports whether r is LOW, MEDIUM or HIGH.
func (r RiskLevel) Valid() bool { return r == RiskLow || r == RiskMedium || r == RiskHigh }

// DecisionRecord is the output of a strategy. A new record is built for
// every call and never changed afterwards.
type DecisionRecord struct {
	Decision            Decision          `json:"decision"`
	RecommendedCompound Compound          `json:"recommended_compound,omitempty"`
	Reasoning           string            `json:"reasoning"`
	Confidence          float64           `json:"confidence"`
	RiskLevel           RiskLevel         `json:"risk_level"`
	Warning             string            `json:"warning,omitempty"`
	Retrieved           []SimilarScenario `json:"retrieved_scenarios,omitempty"`
	NumRetrieved        int               `json:"num_retrieved,omitempty"`
	Strategy            string            `json:"strategy,omitempty"`
	RuleFired           string            `json:"rule_fired,omitempty"`
}

// SimilarScenario is one hit from the similarity index.
type SimilarScenario struct {
	ID         string        `json:"id"`
	Similarity float64       `json:"similarity"`
	Scenario   Scenario      `json:"scenario"`
	Metadata   EntryMetadata `json:"metadata"`
}

// Label returns the historical decision recorded for the hit, or "".
func (s *SimilarScenario) Label() Decision {
	if s.Scenario.GoldenTruth == nil {
		return ""
	}
	return s.Scenario.GoldenTruth.Decision
}

// EntryMetadata is the filterable summary stored next to each vector.
type EntryMetadata struct {
	Track        string   `json:"track"`
	Lap          int      `json:"lap"`
	Driver       string   `json:"driver"`
	TireCompound Compound `json:"tire_compound"`
	TireAge      int      `json:"tire_age"`
}

// MetadataFor builds the index metadata for s.
func MetadataFor(s *Scenario) EntryMetadata {
	return EntryMetadata{
		Track:        s.Track(),
		Lap:          s.Lap,
		Driver:       s.Driver,
		TireCompound: s.Tires.Compound,
		TireAge:      s.Tires.AgeLaps,
	}
}

// IndexEntry is what a similarity backend persists per id.
type IndexEntry struct {
	ID       string
	Vector   []float32
	Scenario Scenario
	Metadata EntryMetadata
}

// IndexStats summarises the contents of the similarity index.
type IndexStats struct {
	TotalScenarios int      `json:"total_scenarios"`
	Tracks         []string `json:"tracks"`
	EmbeddingDim   int      `json:"embedding_dim"`
}

// DecisionLog is a persisted decision served through the API.
type DecisionLog struct {
	ID         string          `json:"id"          db:"id"`
	ScenarioID string          `json:"scenario_id" db:"scenario_id"`
	Strategy   string          `json:"strategy"    db:"strategy"`
	Decision   Decision        `json:"decision"    db:"decision"`
	Confidence float64         `json:"confidence"  db:"confidence"`
	RiskLevel  RiskLevel       `json:"risk_level"  db:"risk_level"`
	Record     *DecisionRecord `json:"record"      db:"record"` // JSON blob
	CreatedAt  time.Time       `json:"created_at"  db:"created_at"`
}
