package tinystate

import (
	"context"
	"fmt"
	"time"

	"github.com/aretw0/tinystate/pkg/domain"
)

// invoke runs a state hook, turning a returned error or a panic into a *domain.HookError.
func (m *Machine[S, O]) invoke(ctx context.Context, c *Context[S, O], e *entry[S, O], hook domain.Hook, fn func() error) (err error) {
	defer func() {
		if r := recover(); r != nil {
			err = &domain.HookError{Machine: m.name, StateID: e.label(), Hook: hook, Err: fmt.Errorf("panic: %v", r)}
		}
	}()

	m.logger().Debug("hook", "run_id", c.runID, "state", e.label(), "hook", hook)
	if hookErr := fn(); hookErr != nil {
		return &domain.HookError{Machine: m.name, StateID: e.label(), Hook: hook, Err: hookErr}
	}
	return nil
}

// convert records a hook failure and decides what happens next: with an error
// outcome configured (and propagation off) the failure becomes that outcome,
// otherwise the failure is returned and ends the run.
func (m *Machine[S, O]) convert(ctx context.Context, c *Context[S, O], e *entry[S, O], err error) (O, error) {
	hookErr, ok := err.(*domain.HookError)
	if !ok {
		hookErr = &domain.HookError{Machine: m.name, StateID: e.label(), Err: err}
	}
	c.SetError(hookErr.Key(), hookErr.Err)

	outcome, enabled := m.errorOutcome()
	logger := m.logger().With("run_id", c.runID, "state", e.label(), "hook", hookErr.Hook)
	if enabled {
		logger.Warn("hook failed, using error outcome", "err", hookErr.Err, "outcome", fmt.Sprint(outcome))
	} else {
		logger.Error("hook failed", "err", hookErr.Err)
	}

	if h := m.settings.hooks.OnHookFailure; h != nil {
		h(ctx, &domain.HookFailureEvent{
			EventBase: m.eventBase(domain.EventHookFailure, c),
			StateID:   e.label(),
			Hook:      hookErr.Hook,
			Err:       hookErr.Err,
			Converted: enabled,
		})
	}

	if !enabled {
		var zero O
		return zero, hookErr
	}
	return outcome, nil
}

func (m *Machine[S, O]) eventBase(t domain.EventType, c *Context[S, O]) domain.EventBase {
	return domain.EventBase{
		Timestamp: time.Now(),
		Type:      t,
		Machine:   m.name,
		RunID:     c.runID,
	}
}

func (m *Machine[S, O]) emitState(ctx context.Context, c *Context[S, O], e *entry[S, O], t domain.EventType) {
	h := m.settings.hooks.OnStateEnter
	if t == domain.EventStateExit {
		h = m.settings.hooks.OnStateExit
	}
	if h == nil {
		return
	}
	h(ctx, &domain.StateEvent{
		EventBase: m.eventBase(t, c),
		StateID:   e.label(),
		Kind:      e.kind,
	})
}

func (m *Machine[S, O]) emitTransition(ctx context.Context, c *Context[S, O], e *entry[S, O], next S, outcome O, viaDefault bool) {
	to := m.labelOf(next)
	m.logger().Debug("transition", "run_id", c.runID, "from", e.label(), "to", to, "outcome", fmt.Sprint(outcome), "default", viaDefault)

	if h := m.settings.hooks.OnTransition; h != nil {
		h(ctx, &domain.TransitionEvent{
			EventBase: m.eventBase(domain.EventTransition, c),
			From:      e.label(),
			To:        to,
			Outcome:   fmt.Sprint(outcome),
			Default:   viaDefault,
		})
	}
}

func (m *Machine[S, O]) emitCommand(ctx context.Context, c *Context[S, O], e *entry[S, O], via domain.Hook, topic string) {
	m.logger().Debug("command resolved", "run_id", c.runID, "state", e.label(), "via", via, "topic", topic)

	if h := m.settings.hooks.OnCommand; h != nil {
		h(ctx, &domain.CommandEvent{
			EventBase: m.eventBase(domain.EventCommand, c),
			StateID:   e.label(),
			Via:       via,
			Topic:     topic,
		})
	}
}
