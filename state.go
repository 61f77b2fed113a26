package tinystate

import (
	"context"

	"github.com/aretw0/tinystate/pkg/domain"
)

// State is the handler driven by the machine for a registered state id.
//
// OnEntering runs before the state becomes current for observers, OnEnter is
// where a plain state normally calls c.NextState, and OnExit runs once the
// requested transition is being processed. For composite states OnExit runs
// after the sub-machine terminated and is the place to pick the parent outcome.
type State[S, O comparable] interface {
	OnEntering(ctx context.Context, c *Context[S, O]) error
	OnEnter(ctx context.Context, c *Context[S, O]) error
	OnExit(ctx context.Context, c *Context[S, O]) error
}

// CommandState is a state resolved by a message/timeout race instead of OnEnter.
// Exactly one of OnMessage or OnTimeout is invoked per entry, and it must call
// c.NextState itself.
type CommandState[S, O comparable] interface {
	State[S, O]
	Filter(msg domain.Message) bool
	OnMessage(ctx context.Context, c *Context[S, O], msg domain.Message) error
	OnTimeout(ctx context.Context, c *Context[S, O]) error
}

// Factory builds the node for a state. It is called once, on first entry,
// unless the state is registered with Eager.
type Factory[S, O comparable] func() (State[S, O], error)

// Transitions maps an outcome to the target state id.
type Transitions[S, O comparable] map[O]S

// Instance returns a Factory for an already-built node.
func Instance[S, O comparable](node State[S, O]) Factory[S, O] {
	return func() (State[S, O], error) {
		return node, nil
	}
}

// Funcs adapts plain functions to State. Nil hooks are no-ops.
type Funcs[S, O comparable] struct {
	Entering func(ctx context.Context, c *Context[S, O]) error
	Enter    func(ctx context.Context, c *Context[S, O]) error
	Exit     func(ctx context.Context, c *Context[S, O]) error
}

func (f *Funcs[S, O]) OnEntering(ctx context.Context, c *Context[S, O]) error {
	if f.Entering == nil {
		return nil
	}
	return f.Entering(ctx, c)
}

func (f *Funcs[S, O]) OnEnter(ctx context.Context, c *Context[S, O]) error {
	if f.Enter == nil {
		return nil
	}
	return f.Enter(ctx, c)
}

func (f *Funcs[S, O]) OnExit(ctx context.Context, c *Context[S, O]) error {
	if f.Exit == nil {
		return nil
	}
	return f.Exit(ctx, c)
}

// CommandFuncs adapts plain functions to CommandState. A nil Accept matches every message.
type CommandFuncs[S, O comparable] struct {
	Funcs[S, O]
	Accept  func(msg domain.Message) bool
	Message func(ctx context.Context, c *Context[S, O], msg domain.Message) error
	Timeout func(ctx context.Context, c *Context[S, O]) error
}

func (f *CommandFuncs[S, O]) Filter(msg domain.Message) bool {
	return f.Accept == nil || f.Accept(msg)
}

func (f *CommandFuncs[S, O]) OnMessage(ctx context.Context, c *Context[S, O], msg domain.Message) error {
	if f.Message == nil {
		return nil
	}
	return f.Message(ctx, c, msg)
}

func (f *CommandFuncs[S, O]) OnTimeout(ctx context.Context, c *Context[S, O]) error {
	if f.Timeout == nil {
		return nil
	}
	return f.Timeout(ctx, c)
}
