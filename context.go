package tinystate

import (
	"fmt"
	"maps"
	"sync"

	"github.com/mitchellh/mapstructure"
)

// Context is the per-run parameter bag and transition trigger threaded through
// every hook. A sub-machine gets its own Context whose NextState is bound to the
// sub-machine; Parent returns the enclosing one.
//
// Context is safe for concurrent use, so hooks may hand it to goroutines that
// call NextState later.
type Context[S, O comparable] struct {
	m      *Machine[S, O]
	parent *Context[S, O]
	runID  string
	params *paramBag
	errs   *errorBag

	mu        sync.RWMutex
	transient map[string]struct{}
	current   S
	previous  S
	hasPrev   bool
	lastChild S
	lastOut   O
	hasChild  bool
	history   []S
}

type paramBag struct {
	mu     sync.RWMutex
	values map[string]any
}

type errorBag struct {
	mu     sync.Mutex
	values map[string]error
}

func newContext[S, O comparable](m *Machine[S, O], runID string, params map[string]any) *Context[S, O] {
	values := make(map[string]any, len(params))
	maps.Copy(values, params)
	return &Context[S, O]{
		m:         m,
		runID:     runID,
		params:    &paramBag{values: values},
		errs:      &errorBag{values: make(map[string]error)},
		transient: make(map[string]struct{}),
	}
}

// child creates the Context handed to a sub-machine.
func (c *Context[S, O]) child(m *Machine[S, O], policy ParamPolicy) *Context[S, O] {
	bag := c.params
	if policy == ParamsCopy {
		bag = &paramBag{values: c.Params()}
	}
	return &Context[S, O]{
		m:         m,
		parent:    c,
		runID:     c.runID,
		params:    bag,
		errs:      c.errs,
		transient: make(map[string]struct{}),
	}
}

// RunID identifies the top-level run. It is shared by sub-machine contexts.
func (c *Context[S, O]) RunID() string {
	return c.runID
}

// Parent returns the Context of the enclosing machine, or nil at the top level.
func (c *Context[S, O]) Parent() *Context[S, O] {
	return c.parent
}

// NextState requests the transition for the active state. Only the first request
// per active entry is accepted; a second one returns domain.ErrReentrantTransition
// and fails the run.
func (c *Context[S, O]) NextState(outcome O) error {
	return c.m.request(outcome)
}

// Get returns a parameter.
func (c *Context[S, O]) Get(key string) (any, bool) {
	c.params.mu.RLock()
	defer c.params.mu.RUnlock()
	v, ok := c.params.values[key]
	return v, ok
}

// Set writes a parameter.
func (c *Context[S, O]) Set(key string, value any) {
	c.params.mu.Lock()
	c.params.values[key] = value
	c.params.mu.Unlock()

	c.mu.Lock()
	delete(c.transient, key)
	c.mu.Unlock()
}

// SetTransient writes a parameter that is not propagated to the parent machine
// when this machine terminates. At the top level it behaves like Set.
func (c *Context[S, O]) SetTransient(key string, value any) {
	c.params.mu.Lock()
	c.params.values[key] = value
	c.params.mu.Unlock()

	c.mu.Lock()
	c.transient[key] = struct{}{}
	c.mu.Unlock()
}

// Delete removes a parameter. The removal propagates like any other change.
func (c *Context[S, O]) Delete(key string) {
	c.params.mu.Lock()
	delete(c.params.values, key)
	c.params.mu.Unlock()

	c.mu.Lock()
	delete(c.transient, key)
	c.mu.Unlock()
}

// Params returns a copy of the parameters.
func (c *Context[S, O]) Params() map[string]any {
	c.params.mu.RLock()
	defer c.params.mu.RUnlock()
	return maps.Clone(c.params.values)
}

// Decode copies the parameters into out (a pointer to a struct or map) using
// mapstructure tags.
func (c *Context[S, O]) Decode(out any) error {
	if err := mapstructure.Decode(c.Params(), out); err != nil {
		return fmt.Errorf("failed to decode parameters: %w", err)
	}
	return nil
}

// SetError records an error under key. Hook failures are recorded automatically
// under "<state>.<hook>". The errors map is shared with sub-machine contexts.
func (c *Context[S, O]) SetError(key string, err error) {
	c.errs.mu.Lock()
	defer c.errs.mu.Unlock()
	c.errs.values[key] = err
}

// Errors returns a copy of the recorded errors.
func (c *Context[S, O]) Errors() map[string]error {
	c.errs.mu.Lock()
	defer c.errs.mu.Unlock()
	return maps.Clone(c.errs.values)
}

// CurrentState returns the state being entered, active or exited.
func (c *Context[S, O]) CurrentState() S {
	c.mu.RLock()
	defer c.mu.RUnlock()
	return c.current
}

// PreviousState returns the state that was active before the current one.
func (c *Context[S, O]) PreviousState() (S, bool) {
	c.mu.RLock()
	defer c.mu.RUnlock()
	return c.previous, c.hasPrev
}

// LastChildState returns the state the most recent sub-machine terminated in.
// It is set on the composite's Context just before the composite's OnExit runs.
func (c *Context[S, O]) LastChildState() (S, bool) {
	c.mu.RLock()
	defer c.mu.RUnlock()
	return c.lastChild, c.hasChild
}

// LastChildResult returns the terminal outcome of the most recent sub-machine.
func (c *Context[S, O]) LastChildResult() (O, bool) {
	c.mu.RLock()
	defer c.mu.RUnlock()
	return c.lastOut, c.hasChild
}

// History returns the states entered by this Context's machine, in order.
func (c *Context[S, O]) History() []S {
	c.mu.RLock()
	defer c.mu.RUnlock()
	out := make([]S, len(c.history))
	copy(out, c.history)
	return out
}

func (c *Context[S, O]) enter(target S, first bool) {
	c.mu.Lock()
	defer c.mu.Unlock()
	if !first {
		c.previous = c.current
		c.hasPrev = true
	}
	c.current = target
	c.history = append(c.history, target)
}

func (c *Context[S, O]) setLastChild(state S, outcome O) {
	c.mu.Lock()
	defer c.mu.Unlock()
	c.lastChild = state
	c.lastOut = outcome
	c.hasChild = true
}

// mergeInto applies the parameter propagation rule after the sub-machine owning
// c terminated. start holds the parameters present when the sub-machine was entered.
func (c *Context[S, O]) mergeInto(parent *Context[S, O], policy ParamPolicy, start map[string]any) {
	c.mu.RLock()
	transient := maps.Clone(c.transient)
	c.mu.RUnlock()

	if policy == ParamsShare {
		c.params.mu.Lock()
		for key := range transient {
			if prior, ok := start[key]; ok {
				c.params.values[key] = prior
			} else {
				delete(c.params.values, key)
			}
		}
		c.params.mu.Unlock()
		return
	}

	final := c.Params()
	parent.params.mu.Lock()
	defer parent.params.mu.Unlock()
	for key, value := range final {
		if _, skip := transient[key]; skip {
			continue
		}
		parent.params.values[key] = value
	}
	for key := range start {
		if _, kept := final[key]; !kept {
			delete(parent.params.values, key)
		}
	}
}
