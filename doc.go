/*
Package tinystate is a hierarchical finite state machine engine driven by state lifecycle hooks.

A Machine maps caller-defined state ids to State handlers. Each handler is driven through
OnEntering, OnEnter and OnExit; a hook picks the next state by calling Context.NextState with
an outcome, which the state's transition table maps to a target.

# Concept

Three kinds of states are supported:

  - Plain states resolve their outcome from a hook, usually OnEnter.
  - Command states subscribe to a message bus and race a matching message against a timeout.
    Exactly one of OnMessage or OnTimeout runs per entry.
  - Composite states own a sub-machine. The sub-machine runs to termination, its result is
    published on the composite's Context (LastChildState, LastChildResult) and the composite's
    OnExit decides the outcome seen by the enclosing machine.

An outcome with no entry in the state's transition table (and no WithDefault target) ends the
machine that emitted it. For a sub-machine this ends the composite's child run; at the top level
it ends the run.

# Concurrency

All hooks run on the goroutine that called Run. NextState may be called from any goroutine;
bus deliveries and timers only wake the driver. Only the first NextState per active entry is
honored, a second one fails the run with domain.ErrReentrantTransition.

# Usage

	m := tinystate.New[string, string]("checkout", tinystate.WithBus(bus))

	_ = m.RegisterState("validate", tinystate.Instance[string, string](&tinystate.Funcs[string, string]{
		Enter: func(ctx context.Context, c *tinystate.Context[string, string]) error {
			return c.NextState("ok")
		},
	}), tinystate.Transitions[string, string]{"ok": "ship"})
	_ = m.RegisterState("ship", shipFactory, nil)

	m.SetInitial("validate")
	res, err := m.Start(ctx, map[string]any{"order": "A-17"})
*/
package tinystate
