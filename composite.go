package tinystate

import (
	"context"
	"fmt"
)

// runComposite drives the sub-machine of e to termination on the current
// goroutine, then publishes its result on c and runs the composite's OnExit.
// Unless OnExit requests another outcome, the sub-machine's terminal outcome
// is resolved against the composite's own transition table.
func (m *Machine[S, O]) runComposite(ctx context.Context, c *Context[S, O], e *entry[S, O], node State[S, O], a *activation[S, O]) (O, error) {
	var zero O
	childCtx := c.child(e.child, e.policy)
	start := childCtx.Params()

	m.delegate(a)
	m.logger().Debug("entering sub-machine", "run_id", c.runID, "state", e.label(), "params", e.policy.String())
	last, outcome, err := e.child.drive(ctx, childCtx, e.childInit)
	if err != nil {
		return zero, err
	}

	childCtx.mergeInto(c, e.policy, start)
	c.setLastChild(last, outcome)
	m.logger().Debug("sub-machine terminated", "run_id", c.runID, "state", e.label(), "child", e.child.labelOf(last), "outcome", fmt.Sprint(outcome))

	return m.exit(ctx, c, e, node, a, outcome)
}
