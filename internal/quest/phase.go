package quest

import (
	"encoding/json"
	"fmt"
)

// Phase is where the active quest is in its lifecycle. Completion and the
// reward latch live in one value so they cannot disagree after a reload.
type Phase int

const (
	PhaseNone Phase = iota
	PhaseActive
	PhaseCompletedUnrewarded
	PhaseCompletedRewarded
)

var phaseNames = map[Phase]string{
	PhaseNone:                "none",
	PhaseActive:              "active",
	PhaseCompletedUnrewarded: "completed_unrewarded",
	PhaseCompletedRewarded:   "completed_rewarded",
}

func (p Phase) String() string {
	if s, ok := phaseNames[p]; ok {
		return s
	}
	return fmt.Sprintf("Phase(%d)", int(p))
}

// Completed reports whether the target was reached, rewarded or not.
func (p Phase) Completed() bool {
	return p == PhaseCompletedUnrewarded || p == PhaseCompletedRewarded
}

func (p Phase) MarshalJSON() ([]byte, error) {
	s, ok := phaseNames[p]
	if !ok {
		return nil, fmt.Errorf("quest: unknown phase %d", int(p))
	}
	return json.Marshal(s)
}

func (p *Phase) UnmarshalJSON(b []byte) error {
	var s string
	if err := json.Unmarshal(b, &s); err != nil {
		return err
	}
	for k, v := range phaseNames {
		if v == s {
			*p = k
			return nil
		}
	}
	return fmt.Errorf("quest: unknown phase %q", s)
}
