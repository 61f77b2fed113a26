package tinystate

import (
	"context"
	"errors"
	"fmt"
	"time"

	"github.com/aretw0/tinystate/pkg/domain"
	"github.com/google/uuid"
)

// Result is what a finished run reports.
type Result[S, O comparable] struct {
	// State is the last top-level state that was active.
	State S
	// Outcome is the terminal outcome. Zero when the run failed.
	Outcome O
	// History lists the top-level states entered, in order.
	History []S
	// Context is the run context. It stays inspectable after a failure.
	Context *Context[S, O]
}

// activation is one entry into a state. NextState requests are parked in its
// single slot and drained by the driver after the running hook returns.
type activation[S, O comparable] struct {
	token     uint64
	state     S
	accepting bool
	pending   bool
	outcome   O
	fault     error
	won       bool // a command callback already claimed this activation
	delegated bool // a composite's sub-machine is running
	done      chan struct{}
}

// Start runs the machine from the state set with SetInitial.
// It blocks until a terminal outcome is reached, a hook failure ends the run or
// ctx is cancelled.
func (m *Machine[S, O]) Start(ctx context.Context, params map[string]any) (Result[S, O], error) {
	m.regMu.RLock()
	initial, ok := m.initial, m.hasInitial
	m.regMu.RUnlock()
	if !ok {
		var zero S
		return Result[S, O]{}, m.configError(zero, "no initial state set", nil)
	}
	return m.Run(ctx, initial, params)
}

// Run runs the machine from initial with a copy of params as the parameter bag.
// It returns domain.ErrAlreadyStarted unless the machine is not started (see Reset).
func (m *Machine[S, O]) Run(ctx context.Context, initial S, params map[string]any) (Result[S, O], error) {
	if m.parent != nil {
		return Result[S, O]{}, m.configError(m.owner, "sub-machines run through their composite state", nil)
	}

	m.mu.Lock()
	if m.status != domain.StatusNotStarted {
		m.mu.Unlock()
		return Result[S, O]{}, domain.ErrAlreadyStarted
	}
	m.status = domain.StatusEntering
	m.mu.Unlock()

	if err := m.validate(initial); err != nil {
		m.setStatus(domain.StatusNotStarted)
		return Result[S, O]{}, err
	}

	c := newContext(m, uuid.NewString(), params)
	logger := m.logger().With("run_id", c.runID)
	logger.Info("run started", "initial", m.labelOf(initial))
	started := time.Now()

	last, outcome, err := m.drive(ctx, c, initial)
	res := Result[S, O]{State: last, History: c.History(), Context: c}

	status := domain.StatusTerminal
	switch {
	case errors.Is(err, domain.ErrCancelled):
		status = domain.StatusCancelled
		logger.Info("run cancelled", "state", m.labelOf(last))
	case err != nil:
		status = domain.StatusFailed
		logger.Error("run failed", "state", m.labelOf(last), "err", err)
	default:
		res.Outcome = outcome
		logger.Info("run finished", "state", m.labelOf(last), "outcome", fmt.Sprint(outcome), "duration", time.Since(started))
	}
	m.setStatus(status)

	if h := m.settings.hooks.OnRunFinished; h != nil {
		ev := &domain.RunEvent{
			EventBase: m.eventBase(domain.EventRunFinished, c),
			StateID:   m.labelOf(last),
			Status:    status,
			Duration:  time.Since(started),
			Err:       err,
		}
		if err == nil {
			ev.Outcome = fmt.Sprint(outcome)
		}
		h(ctx, ev)
	}
	return res, err
}

// drive is the lifecycle loop shared by top-level runs and sub-machines. It
// returns the last active state and the terminal outcome of this machine.
func (m *Machine[S, O]) drive(ctx context.Context, c *Context[S, O], start S) (S, O, error) {
	var zero O
	target := start
	first := true
	for {
		if err := ctx.Err(); err != nil {
			return target, zero, fmt.Errorf("%w: %w", domain.ErrCancelled, err)
		}

		m.regMu.RLock()
		e := m.entries[target]
		m.regMu.RUnlock()

		node, err := e.instance(m)
		if err != nil {
			return target, zero, err
		}

		a := m.activate(target)
		c.enter(target, first)
		first = false

		outcome, err := m.runState(ctx, c, e, node, a)
		m.deactivate(a)
		if err != nil {
			m.setStatus(domain.StatusFailed)
			return target, zero, err
		}

		next, ok, viaDefault := e.target(outcome)
		if !ok {
			m.setStatus(domain.StatusTerminal)
			m.logger().Debug("terminal outcome", "run_id", c.runID, "state", e.label(), "outcome", fmt.Sprint(outcome))
			return target, outcome, nil
		}
		m.emitTransition(ctx, c, e, next, outcome, viaDefault)
		target = next
	}
}

// runState takes one state through Entering, Active and Exiting and returns the
// outcome to resolve. OnExit has already run when it returns without error.
func (m *Machine[S, O]) runState(ctx context.Context, c *Context[S, O], e *entry[S, O], node State[S, O], a *activation[S, O]) (O, error) {
	var zero O
	m.emitState(ctx, c, e, domain.EventStateEnter)

	if err := m.invoke(ctx, c, e, domain.HookEntering, func() error {
		return node.OnEntering(ctx, c)
	}); err != nil {
		return m.failAndExit(ctx, c, e, node, a, err)
	}

	var wait *commandWait
	if e.kind == domain.KindCommand {
		var err error
		wait, err = m.arm(ctx, c, e, node.(CommandState[S, O]), a)
		if err != nil {
			return zero, err
		}
		defer wait.stop()
	}

	if err := m.invoke(ctx, c, e, domain.HookEnter, func() error {
		return node.OnEnter(ctx, c)
	}); err != nil {
		wait.stop()
		return m.failAndExit(ctx, c, e, node, a, err)
	}
	m.setStatus(domain.StatusActive)

	if e.kind == domain.KindComposite {
		if outcome, ok, err := m.take(a); err != nil {
			return zero, err
		} else if ok {
			// OnEnter decided without delegating to the sub-machine.
			return m.exit(ctx, c, e, node, a, outcome)
		}
		return m.runComposite(ctx, c, e, node, a)
	}

	outcome, err := m.await(ctx, c, e, node, a, wait)
	if err != nil {
		return zero, err
	}
	wait.stop()
	return m.exit(ctx, c, e, node, a, outcome)
}

// await suspends until a NextState request is parked on a. The machine lock is
// not held while waiting; triggers wake the driver through channels.
func (m *Machine[S, O]) await(ctx context.Context, c *Context[S, O], e *entry[S, O], node State[S, O], a *activation[S, O], wait *commandWait) (O, error) {
	var zero O
	for {
		outcome, ok, err := m.take(a)
		if err != nil {
			return zero, err
		}
		if ok {
			return outcome, nil
		}

		select {
		case <-ctx.Done():
			wait.stop()
			return zero, fmt.Errorf("%w: %w", domain.ErrCancelled, ctx.Err())
		case <-m.wake:
		case ev := <-m.events:
			if ev.token != a.token {
				m.logger().Debug("stale command callback dropped", "run_id", c.runID, "state", e.label())
				continue
			}
			wait.stop()
			if err := ctx.Err(); err != nil {
				return zero, fmt.Errorf("%w: %w", domain.ErrCancelled, err)
			}
			if err := m.resolveCommand(ctx, c, e, node.(CommandState[S, O]), a, ev); err != nil {
				return zero, err
			}
		}
	}
}

// exit runs OnExit. For composites OnExit may pick the outcome with NextState;
// otherwise outcome (the child's result) is used.
func (m *Machine[S, O]) exit(ctx context.Context, c *Context[S, O], e *entry[S, O], node State[S, O], a *activation[S, O], outcome O) (O, error) {
	var zero O
	m.beginExit(a, e.kind == domain.KindComposite)

	err := m.invoke(ctx, c, e, domain.HookExit, func() error {
		return node.OnExit(ctx, c)
	})
	if chosen, ok, ferr := m.take(a); ferr != nil {
		return zero, ferr
	} else if ok {
		outcome = chosen
	}
	m.close(a)
	m.emitState(ctx, c, e, domain.EventStateExit)

	if err != nil {
		converted, ferr := m.convert(ctx, c, e, err)
		if ferr != nil {
			return zero, ferr
		}
		outcome = converted
	}
	return outcome, nil
}

// failAndExit handles a failing OnEntering/OnEnter: the error either ends the
// run or becomes the error outcome, in which case the state exits normally.
func (m *Machine[S, O]) failAndExit(ctx context.Context, c *Context[S, O], e *entry[S, O], node State[S, O], a *activation[S, O], hookErr error) (O, error) {
	var zero O
	outcome, err := m.convert(ctx, c, e, hookErr)
	if err != nil {
		return zero, err
	}
	m.discard(a)
	if _, err := m.exit(ctx, c, e, node, a, outcome); err != nil {
		return zero, err
	}
	return outcome, nil
}

// activate makes target the active state of m and returns its activation.
func (m *Machine[S, O]) activate(target S) *activation[S, O] {
	m.mu.Lock()
	defer m.mu.Unlock()
	m.seq++
	a := &activation[S, O]{
		token:     m.seq,
		state:     target,
		accepting: true,
		done:      make(chan struct{}),
	}
	m.active = a
	m.current = target
	m.status = domain.StatusEntering

	// Drop a wake-up left over from the previous activation.
	select {
	case <-m.wake:
	default:
	}
	return a
}

func (m *Machine[S, O]) deactivate(a *activation[S, O]) {
	m.mu.Lock()
	defer m.mu.Unlock()
	m.closeLocked(a)
	if m.active == a {
		m.active = nil
	}
}

// request parks a NextState outcome on the active activation.
func (m *Machine[S, O]) request(outcome O) error {
	m.mu.Lock()
	defer m.mu.Unlock()

	a := m.active
	if a == nil || a.delegated || !m.status.Running() {
		return domain.ErrNotRunning
	}
	if !a.accepting || a.pending {
		a.fault = fmt.Errorf("state '%s': %w", m.labelOf(a.state), domain.ErrReentrantTransition)
		m.signal()
		return domain.ErrReentrantTransition
	}
	a.pending = true
	a.outcome = outcome
	m.signal()
	return nil
}

// override replaces whatever outcome is parked with the error outcome.
func (m *Machine[S, O]) override(a *activation[S, O], outcome O) {
	m.mu.Lock()
	defer m.mu.Unlock()
	a.pending = true
	a.outcome = outcome
}

// take drains the slot. A reentrancy fault takes precedence over the outcome.
func (m *Machine[S, O]) take(a *activation[S, O]) (O, bool, error) {
	m.mu.Lock()
	defer m.mu.Unlock()
	var zero O
	if a.fault != nil {
		return zero, false, a.fault
	}
	if !a.pending {
		return zero, false, nil
	}
	outcome := a.outcome
	a.pending = false
	a.accepting = false
	return outcome, true, nil
}

// discard empties the slot without closing it (used when a hook failure wins).
func (m *Machine[S, O]) discard(a *activation[S, O]) {
	m.mu.Lock()
	defer m.mu.Unlock()
	a.pending = false
}

// beginExit closes the slot, or reopens it for composites whose OnExit decides.
func (m *Machine[S, O]) beginExit(a *activation[S, O], decide bool) {
	m.mu.Lock()
	defer m.mu.Unlock()
	m.status = domain.StatusExiting
	a.pending = false
	a.delegated = false
	a.accepting = decide
}

// delegate hands control to the composite's sub-machine. Until the composite
// exits, NextState on its own Context returns domain.ErrNotRunning.
func (m *Machine[S, O]) delegate(a *activation[S, O]) {
	m.mu.Lock()
	defer m.mu.Unlock()
	a.pending = false
	a.accepting = false
	a.delegated = true
}

func (m *Machine[S, O]) close(a *activation[S, O]) {
	m.mu.Lock()
	defer m.mu.Unlock()
	a.accepting = false
}

// closeLocked ends the activation for late callbacks. Caller holds m.mu.
func (m *Machine[S, O]) closeLocked(a *activation[S, O]) {
	a.accepting = false
	a.won = true
	select {
	case <-a.done:
	default:
		close(a.done)
	}
}

// signal wakes the driver. Caller holds m.mu.
func (m *Machine[S, O]) signal() {
	select {
	case m.wake <- struct{}{}:
	default:
	}
}

func (m *Machine[S, O]) setStatus(s domain.Status) {
	m.mu.Lock()
	defer m.mu.Unlock()
	m.status = s
}
