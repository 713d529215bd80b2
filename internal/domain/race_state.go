package domain

import (
	"encoding/json"
	"strings"
	"unicode"
)

// RaceStatus is the race-control state a scenario was recorded under.
type RaceStatus int

const (
	RaceNormal RaceStatus = iota
	RaceSafetyCar
	RaceVirtualSafetyCar
	RaceRedFlag
)

var raceStatusNames = [...]string{"NORMAL", "SAFETY_CAR", "VIRTUAL_SAFETY_CAR", "RED_FLAG"}

func (s RaceStatus) String() string {
	if int(s) < len(raceStatusNames) {
		return raceStatusNames[s]
	}
	return "UNKNOWN"
}

// MarshalText implements encoding.TextMarshaler.
func (s RaceStatus) MarshalText() ([]byte, error) { return []byte(s.String()), nil }

// Neutralised reports whether the field is slowed by a full or virtual safety car.
func (s RaceStatus) Neutralised() bool {
	return s == RaceSafetyCar || s == RaceVirtualSafetyCar
}

// RaceState keeps the recorded free text alongside its parsed status.
// The text is classified once, when the state is constructed or decoded.
type RaceState struct {
	Raw    string
	Status RaceStatus
}

// NewRaceState classifies raw race-state text.
func NewRaceState(raw string) RaceState {
	return RaceState{Raw: raw, Status: ParseRaceStatus(raw)}
}

// ParseRaceStatus maps free text ("racing", "safety_car", "vsc", ...) onto a
// RaceStatus. Virtual safety car wins over safety car, so text naming both
// "virtual" and "safety" is VIRTUAL_SAFETY_CAR only.
func ParseRaceStatus(raw string) RaceStatus {
	s := strings.ToLower(strings.TrimSpace(raw))
	if s == "" {
		return RaceNormal
	}
	words := strings.FieldsFunc(s, func(r rune) bool {
		return !unicode.IsLetter(r) && !unicode.IsDigit(r)
	})
	has := func(w string) bool {
		for _, x := range words {
			if x == w {
				return true
			}
		}
		return false
	}

	switch {
	case has("vsc") || (has("virtual") && strings.Contains(s, "safety")):
		return RaceVirtualSafetyCar
	case has("sc") || strings.Contains(s, "safety"):
		return RaceSafetyCar
	case has("red") || strings.Contains(s, "red_flag"):
		return RaceRedFlag
	}
	return RaceNormal
}

// NeutralisationFlags classifies the recorded text strictly, for vector
// features. VSC needs the exact "vsc"/"virtual_safety_car" or both
// "virtual" and "safety"; SC needs "sc"/"safety_car" or both "safety" and
// "car". At most one flag is set. Status stays the broader match the
// rule engine keys on, so "vsc_ending" is VSC there and neither here.
func (r RaceState) NeutralisationFlags() (sc, vsc bool) {
	s := strings.ToLower(strings.TrimSpace(r.Raw))
	switch {
	case s == "vsc" || s == "virtual_safety_car":
		return false, true
	case strings.Contains(s, "virtual") && strings.Contains(s, "safety"):
		return false, true
	case s == "sc" || s == "safety_car":
		return true, false
	case strings.Contains(s, "safety") && strings.Contains(s, "car") && !strings.Contains(s, "virtual"):
		return true, false
	}
	return false, false
}

// String returns the recorded text.
func (r RaceState) String() string { return r.Raw }

// UnmarshalJSON implements json.Unmarshaler.
func (r *RaceState) UnmarshalJSON(data []byte) error {
	var raw string
	if err := json.Unmarshal(data, &raw); err != nil {
		return err
	}
	*r = NewRaceState(raw)
	return nil
}

// MarshalJSON writes the recorded text back out.
func (r RaceState) MarshalJSON() ([]byte, error) { return json.Marshal(r.Raw) }
