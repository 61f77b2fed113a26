package tinystate

import (
	"fmt"
	"log/slog"
	"maps"
	"sync"
	"time"

	"github.com/aretw0/tinystate/internal/logging"
	"github.com/aretw0/tinystate/pkg/domain"
)

// Machine is a hierarchical state machine over caller-defined state ids (S) and
// outcomes (O). Build it with New, register states, then call Start or Run.
//
// A Machine runs one run at a time. Registration is rejected while a run is in
// progress and allowed again once it finished.
type Machine[S, O comparable] struct {
	name     string
	settings *settings[S, O]

	// Registry. Guarded by regMu; only mutated between runs.
	regMu      sync.RWMutex
	entries    map[S]*entry[S, O]
	order      []S
	initial    S
	hasInitial bool

	// Weak back-reference to the owning composite, used for bubbling and naming.
	parent *Machine[S, O]
	owner  S

	// Run state. Guarded by mu; never held while a hook runs.
	mu      sync.Mutex
	status  domain.Status
	current S
	active  *activation[S, O]
	seq     uint64
	wake    chan struct{}
	events  chan commandEvent[S, O]
}

// settings are shared by a machine and all of its sub-machines.
type settings[S, O comparable] struct {
	options
	mu            sync.RWMutex
	errorOutcome  O
	hasErrOutcome bool
}

type entry[S, O comparable] struct {
	id          S
	name        string
	kind        domain.Kind
	factory     Factory[S, O]
	transitions Transitions[S, O]
	timeout     time.Duration
	fallback    S
	hasFallback bool
	policy      ParamPolicy
	child       *Machine[S, O]
	childInit   S

	nodeMu sync.Mutex
	node   State[S, O]
}

// New creates an empty machine. The name is used in logs, events and snapshots.
func New[S, O comparable](name string, opts ...Option) *Machine[S, O] {
	s := &settings[S, O]{}
	s.logger = logging.NewNop() // Default to no-op
	for _, opt := range opts {
		opt(&s.options)
	}
	return newMachine(name, s, nil)
}

func newMachine[S, O comparable](name string, s *settings[S, O], parent *Machine[S, O]) *Machine[S, O] {
	return &Machine[S, O]{
		name:     name,
		settings: s,
		entries:  make(map[S]*entry[S, O]),
		parent:   parent,
		status:   domain.StatusNotStarted,
		wake:     make(chan struct{}, 1),
		events:   make(chan commandEvent[S, O], 4),
	}
}

// Name returns the machine name. Sub-machines are named "<parent>/<composite>".
func (m *Machine[S, O]) Name() string {
	return m.name
}

// Parent returns the machine owning this sub-machine and the composite state id.
func (m *Machine[S, O]) Parent() (*Machine[S, O], S, bool) {
	return m.parent, m.owner, m.parent != nil
}

func (m *Machine[S, O]) logger() *slog.Logger {
	return m.settings.logger.With("machine", m.name)
}

func (m *Machine[S, O]) root() *Machine[S, O] {
	r := m
	for r.parent != nil {
		r = r.parent
	}
	return r
}

// RegisterState registers a plain state.
func (m *Machine[S, O]) RegisterState(id S, factory Factory[S, O], transitions Transitions[S, O], opts ...StateOption) error {
	_, err := m.register(id, domain.KindPlain, factory, transitions, opts)
	return err
}

// RegisterCommand registers a command state. The factory must return a CommandState.
func (m *Machine[S, O]) RegisterCommand(id S, factory Factory[S, O], transitions Transitions[S, O], opts ...StateOption) error {
	_, err := m.register(id, domain.KindCommand, factory, transitions, opts)
	return err
}

// RegisterComposite registers a composite state and returns its sub-machine,
// into which the caller registers the child states. initialChild is validated
// when the machine starts, so children may be registered afterwards.
func (m *Machine[S, O]) RegisterComposite(id S, initialChild S, factory Factory[S, O], transitions Transitions[S, O], opts ...StateOption) (*Machine[S, O], error) {
	e, err := m.register(id, domain.KindComposite, factory, transitions, opts)
	if err != nil {
		return nil, err
	}
	e.childInit = initialChild
	e.child = newMachine(m.name+"/"+e.label(), m.settings, m)
	e.child.owner = id
	e.child.initial = initialChild
	e.child.hasInitial = true
	return e.child, nil
}

func (m *Machine[S, O]) register(id S, kind domain.Kind, factory Factory[S, O], transitions Transitions[S, O], opts []StateOption) (*entry[S, O], error) {
	if m.root().Status().Running() {
		return nil, domain.ErrMachineRunning
	}
	if factory == nil {
		return nil, m.configError(id, "factory is nil", nil)
	}

	cfg := stateConfig{}
	for _, opt := range opts {
		opt(&cfg)
	}

	e := &entry[S, O]{
		id:          id,
		name:        cfg.name,
		kind:        kind,
		factory:     factory,
		transitions: maps.Clone(transitions),
		timeout:     cfg.timeout,
		policy:      m.settings.params,
	}
	if e.transitions == nil {
		e.transitions = make(Transitions[S, O])
	}
	if cfg.params != nil {
		e.policy = *cfg.params
	}
	if cfg.fallback != nil {
		target, ok := cfg.fallback.(S)
		if !ok {
			return nil, m.configError(id, fmt.Sprintf("default target %v has type %T", cfg.fallback, cfg.fallback), nil)
		}
		e.fallback = target
		e.hasFallback = true
	}
	if cfg.eager {
		if _, err := e.instance(m); err != nil {
			return nil, err
		}
	}

	m.regMu.Lock()
	defer m.regMu.Unlock()
	if _, exists := m.entries[id]; exists {
		return nil, m.configError(id, "already registered", nil)
	}
	m.entries[id] = e
	m.order = append(m.order, id)
	return e, nil
}

// SetInitial sets the state Start enters.
func (m *Machine[S, O]) SetInitial(id S) {
	m.regMu.Lock()
	defer m.regMu.Unlock()
	m.initial = id
	m.hasInitial = true
}

// SetErrorOutcome enables error conversion: a failing hook is logged, recorded
// in the Context errors and turned into outcome o for the state it failed in.
// Without it (or with WithPropagateErrors) the run fails with a *domain.HookError.
// The setting is shared with every sub-machine.
func (m *Machine[S, O]) SetErrorOutcome(o O) {
	m.settings.mu.Lock()
	defer m.settings.mu.Unlock()
	m.settings.errorOutcome = o
	m.settings.hasErrOutcome = true
}

func (m *Machine[S, O]) errorOutcome() (O, bool) {
	m.settings.mu.RLock()
	defer m.settings.mu.RUnlock()
	return m.settings.errorOutcome, m.settings.hasErrOutcome && !m.settings.propagate
}

// Status returns the lifecycle status of the machine.
func (m *Machine[S, O]) Status() domain.Status {
	m.mu.Lock()
	defer m.mu.Unlock()
	return m.status
}

// Current returns the active state, if the machine has entered one.
func (m *Machine[S, O]) Current() (S, bool) {
	m.mu.Lock()
	defer m.mu.Unlock()
	return m.current, m.status != domain.StatusNotStarted
}

// Reset returns a finished machine (and its sub-machines) to the not-started status.
// Node instances are kept.
func (m *Machine[S, O]) Reset() error {
	if m.parent != nil {
		return m.configError(m.owner, "reset the top-level machine instead of a sub-machine", nil)
	}
	if m.Status().Running() {
		return domain.ErrMachineRunning
	}
	m.reset()
	return nil
}

func (m *Machine[S, O]) reset() {
	m.mu.Lock()
	var zero S
	m.status = domain.StatusNotStarted
	m.current = zero
	m.active = nil
	m.mu.Unlock()

	m.regMu.RLock()
	defer m.regMu.RUnlock()
	for _, e := range m.entries {
		if e.child != nil {
			e.child.reset()
		}
	}
}

// Validate checks that the initial state and every transition or default target
// refer to registered states, recursively through sub-machines, and that a bus is
// configured when command states exist.
func (m *Machine[S, O]) Validate() error {
	m.regMu.RLock()
	initial, ok := m.initial, m.hasInitial
	m.regMu.RUnlock()
	if !ok {
		var zero S
		return m.configError(zero, "no initial state set", nil)
	}
	return m.validate(initial)
}

func (m *Machine[S, O]) validate(initial S) error {
	m.regMu.RLock()
	defer m.regMu.RUnlock()

	if _, ok := m.entries[initial]; !ok {
		return m.configError(initial, "initial state is not registered", nil)
	}
	for _, id := range m.order {
		e := m.entries[id]
		for outcome, target := range e.transitions {
			if _, ok := m.entries[target]; !ok {
				return m.configError(id, fmt.Sprintf("transition %v targets unregistered state '%v'", outcome, target), nil)
			}
		}
		if e.hasFallback {
			if _, ok := m.entries[e.fallback]; !ok {
				return m.configError(id, fmt.Sprintf("default targets unregistered state '%v'", e.fallback), nil)
			}
		}
		if e.kind == domain.KindCommand && m.settings.bus == nil {
			return m.configError(id, "command state registered without a bus", domain.ErrNoBus)
		}
		if e.child != nil {
			if err := e.child.validate(e.childInit); err != nil {
				return err
			}
		}
	}
	return nil
}

func (m *Machine[S, O]) configError(id S, reason string, err error) *domain.ConfigurationError {
	return &domain.ConfigurationError{
		Machine: m.name,
		StateID: fmt.Sprint(id),
		Reason:  reason,
		Err:     err,
	}
}

// labelOf renders a state id for logs and errors, preferring the display name.
func (m *Machine[S, O]) labelOf(id S) string {
	m.regMu.RLock()
	e, ok := m.entries[id]
	m.regMu.RUnlock()
	if ok {
		return e.label()
	}
	return fmt.Sprint(id)
}

func (e *entry[S, O]) label() string {
	if e.name != "" {
		return e.name
	}
	return fmt.Sprint(e.id)
}

// instance returns the cached node, building it on first use.
func (e *entry[S, O]) instance(m *Machine[S, O]) (State[S, O], error) {
	e.nodeMu.Lock()
	defer e.nodeMu.Unlock()
	if e.node != nil {
		return e.node, nil
	}

	node, err := e.factory()
	if err != nil {
		return nil, &domain.HookError{Machine: m.name, StateID: e.label(), Hook: domain.HookFactory, Err: err}
	}
	if node == nil {
		return nil, m.configError(e.id, "factory returned a nil node", nil)
	}
	if e.kind == domain.KindCommand {
		if _, ok := node.(CommandState[S, O]); !ok {
			return nil, m.configError(e.id, fmt.Sprintf("command state node %T does not implement CommandState", node), nil)
		}
	}
	e.node = node
	return node, nil
}

// target resolves an outcome through the transition table, then the default.
func (e *entry[S, O]) target(outcome O) (S, bool, bool) {
	if target, ok := e.transitions[outcome]; ok {
		return target, true, false
	}
	if e.hasFallback {
		return e.fallback, true, true
	}
	var zero S
	return zero, false, false
}
