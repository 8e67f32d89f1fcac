// File: internal/actions/actionability.go
package actions

import "fmt"

// Kind names one UI-mutating operation.
type Kind string

const (
	ActionClick        Kind = "click"
	ActionTap          Kind = "tap"
	ActionHover        Kind = "hover"
	ActionFill         Kind = "fill"
	ActionType         Kind = "type"
	ActionPress        Kind = "press"
	ActionCheck        Kind = "check"
	ActionUncheck      Kind = "uncheck"
	ActionSelectOption Kind = "selectOption"
)

// Box is an element bounding box in CSS pixels.
type Box struct {
	X      float64 `json:"x"`
	Y      float64 `json:"y"`
	Width  float64 `json:"width"`
	Height float64 `json:"height"`
}

// State is one actionability sample. It is computed fresh on every poll
// iteration; only the previous bounding box is retained across polls, for
// the stability comparison.
type State struct {
	Attached       bool `json:"attached"`
	Visible        bool `json:"visible"`
	Enabled        bool `json:"enabled"`
	Editable       bool `json:"editable"`
	ReceivesEvents bool `json:"receivesEvents"`
	// Stable is derived locally from two consecutive samples, never
	// reported by the remote side.
	Stable bool `json:"-"`
	Box    *Box `json:"box,omitempty"`
}

func (s *State) String() string {
	if s == nil {
		return "<no sample>"
	}
	return fmt.Sprintf("attached=%t visible=%t stable=%t enabled=%t editable=%t receivesEvents=%t",
		s.Attached, s.Visible, s.Stable, s.Enabled, s.Editable, s.ReceivesEvents)
}

// check names one actionability predicate.
type check int

const (
	checkVisible check = iota
	checkStable
	checkEnabled
	checkEditable
	checkReceivesEvents
)

// requirements maps each action to the probes that must pass before the
// mutating operation is dispatched. "attached" is implicit for every
// action and is the only probe force mode keeps.
var requirements = map[Kind][]check{
	ActionClick:        {checkVisible, checkStable, checkReceivesEvents},
	ActionTap:          {checkVisible, checkStable, checkReceivesEvents},
	ActionHover:        {checkVisible, checkStable, checkReceivesEvents},
	ActionFill:         {checkVisible, checkEnabled, checkEditable},
	ActionType:         {checkVisible, checkEnabled},
	ActionPress:        {checkVisible, checkEnabled},
	ActionCheck:        {checkVisible, checkEnabled},
	ActionUncheck:      {checkVisible, checkEnabled},
	ActionSelectOption: {checkEnabled},
}

// ready evaluates the action's requirements against a sample. The stability
// probe compares the current bounding box against the previous sample's:
// two consecutive bit-identical boxes are required, since a single sample
// can be mid-transition.
func ready(action Kind, st *State, prevBox *Box) bool {
	for _, c := range requirements[action] {
		switch c {
		case checkVisible:
			if !st.Visible {
				return false
			}
		case checkStable:
			st.Stable = st.Box != nil && prevBox != nil && *st.Box == *prevBox
			if !st.Stable {
				return false
			}
		case checkEnabled:
			if !st.Enabled {
				return false
			}
		case checkEditable:
			if !st.Editable {
				return false
			}
		case checkReceivesEvents:
			if !st.ReceivesEvents {
				return false
			}
		}
	}
	return true
}

// isToggle reports whether the action targets a checked state.
func isToggle(action Kind) bool {
	return action == ActionCheck || action == ActionUncheck
}
