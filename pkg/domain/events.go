package domain

import (
	"context"
	"time"
)

// EventType defines the category of the event.
type EventType string

const (
	EventStateEnter  EventType = "state_enter"
	EventStateExit   EventType = "state_exit"
	EventTransition  EventType = "transition"
	EventCommand     EventType = "command_resolved"
	EventHookFailure EventType = "hook_failure"
	EventRunFinished EventType = "run_finished"
)

// EventBase contains common fields for all events.
type EventBase struct {
	Timestamp time.Time `json:"timestamp"`
	Type      EventType `json:"type"`
	Machine   string    `json:"machine"`
	RunID     string    `json:"run_id"`
}

// StateEvent represents entry into or exit from a state.
type StateEvent struct {
	EventBase
	StateID string `json:"state_id"`
	Kind    Kind   `json:"kind"`
}

// TransitionEvent is emitted once a transition has been resolved, before the target is entered.
type TransitionEvent struct {
	EventBase
	From    string `json:"from"`
	To      string `json:"to"`
	Outcome string `json:"outcome"`
	Default bool   `json:"default,omitempty"` // Resolved through the state's default target
}

// CommandEvent reports which side of a command race won.
type CommandEvent struct {
	EventBase
	StateID string `json:"state_id"`
	Via     Hook   `json:"via"` // HookMessage or HookTimeout
	Topic   string `json:"topic,omitempty"`
}

// HookFailureEvent reports a failing hook and whether it was converted into an outcome.
type HookFailureEvent struct {
	EventBase
	StateID   string `json:"state_id"`
	Hook      Hook   `json:"hook"`
	Err       error  `json:"-"`
	Converted bool   `json:"converted"`
}

// RunEvent is emitted when a top-level run returns.
type RunEvent struct {
	EventBase
	StateID  string        `json:"state_id"`
	Outcome  string        `json:"outcome,omitempty"`
	Status   Status        `json:"status"`
	Duration time.Duration `json:"duration"`
	Err      error         `json:"-"`
}

// LifecycleHooks defines callbacks for engine observability.
// Callbacks run synchronously on the driver goroutine and must not block.
type LifecycleHooks struct {
	OnStateEnter  func(context.Context, *StateEvent)
	OnStateExit   func(context.Context, *StateEvent)
	OnTransition  func(context.Context, *TransitionEvent)
	OnCommand     func(context.Context, *CommandEvent)
	OnHookFailure func(context.Context, *HookFailureEvent)
	OnRunFinished func(context.Context, *RunEvent)
}

// CombineHooks fans every callback out to each of the given hook sets, in order.
func CombineHooks(sets ...LifecycleHooks) LifecycleHooks {
	var out LifecycleHooks
	for _, h := range sets {
		h := h
		out.OnStateEnter = chain(out.OnStateEnter, h.OnStateEnter)
		out.OnStateExit = chain(out.OnStateExit, h.OnStateExit)
		out.OnTransition = chain(out.OnTransition, h.OnTransition)
		out.OnCommand = chain(out.OnCommand, h.OnCommand)
		out.OnHookFailure = chain(out.OnHookFailure, h.OnHookFailure)
		out.OnRunFinished = chain(out.OnRunFinished, h.OnRunFinished)
	}
	return out
}

func chain[E any](a, b func(context.Context, E)) func(context.Context, E) {
	if a == nil {
		return b
	}
	if b == nil {
		return a
	}
	return func(ctx context.Context, e E) {
		a(ctx, e)
		b(ctx, e)
	}
}
