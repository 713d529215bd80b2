package strategy

import (
	"bytes"
	"encoding/json"
	"fmt"
	"regexp"
	"strings"

	"github.com/arturoeanton/go-pitwall-ollama/internal/domain"
	"github.com/arturoeanton/go-pitwall-ollama/internal/port"
)

var fencedJSON = regexp.MustCompile("(?s)```json\\s*(\\{.*?\\})\\s*```")

// ParseResponse extracts and validates the decision object in a model
// answer. Prose or a ```json fence around the object is tolerated; any
// missing field or out-of-range value is a *port.ReasoningContractError.
func ParseResponse(raw string) (*domain.DecisionRecord, error) {
	text := strings.TrimSpace(raw)

	var obj string
	if m := fencedJSON.FindStringSubmatch(text); m != nil {
		obj = m[1]
	} else {
		start := strings.Index(text, "{")
		end := strings.LastIndex(text, "}")
		if start < 0 || end < start {
			return nil, contractErr(raw, "no JSON object found")
		}
		obj = text[start : end+1]
	}

	var fields map[string]json.RawMessage
	dec := json.NewDecoder(bytes.NewReader([]byte(obj)))
	if err := dec.Decode(&fields); err != nil {
		return nil, contractErr(raw, "invalid JSON: %v", err)
	}
	for _, f := range []string{"decision", "confidence", "reasoning", "risk_level"} {
		if v, ok := fields[f]; !ok || string(v) == "null" {
			return nil, contractErr(raw, "missing required field: %s", f)
		}
	}

	var (
		decision   string
		confidence float64
		reasoning  string
		risk       string
	)
	if err := json.Unmarshal(fields["decision"], &decision); err != nil {
		return nil, contractErr(raw, "decision is not a string: %s", fields["decision"])
	}
	if err := json.Unmarshal(fields["confidence"], &confidence); err != nil {
		return nil, contractErr(raw, "confidence is not a number: %s", fields["confidence"])
	}
	if err := json.Unmarshal(fields["reasoning"], &reasoning); err != nil {
		return nil, contractErr(raw, "reasoning is not a string: %s", fields["reasoning"])
	}
	if err := json.Unmarshal(fields["risk_level"], &risk); err != nil {
		return nil, contractErr(raw, "risk_level is not a string: %s", fields["risk_level"])
	}

	rec := &domain.DecisionRecord{
		Decision:   domain.Decision(decision),
		Confidence: confidence,
		Reasoning:  reasoning,
		RiskLevel:  domain.RiskLevel(risk),
	}
	if !rec.Decision.Valid() {
		return nil, contractErr(raw, "invalid decision: %q", decision)
	}
	if confidence < 0 || confidence > 1 {
		return nil, contractErr(raw, "invalid confidence: %v", confidence)
	}
	if !rec.RiskLevel.Valid() {
		return nil, contractErr(raw, "invalid risk level: %q", risk)
	}
	if strings.TrimSpace(reasoning) == "" {
		return nil, contractErr(raw, "empty reasoning")
	}

	if c, ok := fields["recommended_compound"]; ok {
		var compound domain.Compound
		if json.Unmarshal(c, &compound) == nil && compound.Valid() {
			rec.RecommendedCompound = compound
		}
	}
	return rec, nil
}

func contractErr(raw, format string, args ...any) error {
	return &port.ReasoningContractError{Reason: fmt.Sprintf(format, args...), Raw: raw}
}
