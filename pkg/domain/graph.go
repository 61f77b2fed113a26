package domain

// Graph is a read-only snapshot of a machine's registry, suitable for export.
// States appear in registration order; edges are sorted by outcome.
type Graph struct {
	Machine string      `json:"machine" yaml:"machine"`
	Initial string      `json:"initial,omitempty" yaml:"initial,omitempty"`
	States  []StateInfo `json:"states" yaml:"states"`
}

// StateInfo describes one registered state.
type StateInfo struct {
	ID          string `json:"id" yaml:"id"`
	Name        string `json:"name,omitempty" yaml:"name,omitempty"`
	Kind        Kind   `json:"kind" yaml:"kind"`
	Timeout     string `json:"timeout,omitempty" yaml:"timeout,omitempty"`
	Default     string `json:"default,omitempty" yaml:"default,omitempty"`
	Transitions []Edge `json:"transitions,omitempty" yaml:"transitions,omitempty"`
	Child       *Graph `json:"child,omitempty" yaml:"child,omitempty"`
}

// Edge is a single outcome -> target mapping.
type Edge struct {
	Outcome string `json:"outcome" yaml:"outcome"`
	Target  string `json:"target" yaml:"target"`
}

// Find returns the state with the given id, searching sub-machines depth first.
func (g Graph) Find(id string) (StateInfo, bool) {
	for _, s := range g.States {
		if s.ID == id {
			return s, true
		}
		if s.Child != nil {
			if found, ok := s.Child.Find(id); ok {
				return found, true
			}
		}
	}
	return StateInfo{}, false
}
