package tinystate

import (
	"cmp"
	"fmt"
	"slices"

	"github.com/aretw0/tinystate/pkg/domain"
)

// Snapshot returns the registry as a graph: states in registration order,
// edges sorted by outcome, sub-machines nested under their composite.
// It does not depend on run state, so repeated calls return equal graphs.
func (m *Machine[S, O]) Snapshot() domain.Graph {
	m.regMu.RLock()
	defer m.regMu.RUnlock()

	g := domain.Graph{
		Machine: m.name,
		States:  make([]domain.StateInfo, 0, len(m.order)),
	}
	if m.hasInitial {
		g.Initial = fmt.Sprint(m.initial)
	}

	for _, id := range m.order {
		e := m.entries[id]
		info := domain.StateInfo{
			ID:   fmt.Sprint(id),
			Name: e.name,
			Kind: e.kind,
		}
		if e.kind == domain.KindCommand {
			timeout := e.timeout
			if timeout == 0 {
				timeout = m.settings.defaultTimeout
			}
			if timeout > 0 {
				info.Timeout = timeout.String()
			}
		}
		if e.hasFallback {
			info.Default = fmt.Sprint(e.fallback)
		}
		for outcome, target := range e.transitions {
			info.Transitions = append(info.Transitions, domain.Edge{
				Outcome: fmt.Sprint(outcome),
				Target:  fmt.Sprint(target),
			})
		}
		slices.SortFunc(info.Transitions, func(a, b domain.Edge) int {
			if c := cmp.Compare(a.Outcome, b.Outcome); c != 0 {
				return c
			}
			return cmp.Compare(a.Target, b.Target)
		})
		if e.child != nil {
			child := e.child.Snapshot()
			info.Child = &child
		}
		g.States = append(g.States, info)
	}
	return g
}
