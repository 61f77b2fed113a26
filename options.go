package tinystate

import (
	"log/slog"
	"time"

	"github.com/aretw0/tinystate/pkg/domain"
	"github.com/aretw0/tinystate/pkg/ports"
)

// Option defines a functional option for configuring a Machine.
// Options apply to the machine and to every sub-machine created under it.
type Option func(*options)

type options struct {
	logger         *slog.Logger
	bus            ports.Bus
	defaultTimeout time.Duration
	propagate      bool
	hooks          domain.LifecycleHooks
	params         ParamPolicy
}

// WithLogger sets a custom structured logger for the machine.
func WithLogger(logger *slog.Logger) Option {
	return func(o *options) {
		o.logger = logger
	}
}

// WithBus sets the publish/subscribe facility used by command states.
func WithBus(bus ports.Bus) Option {
	return func(o *options) {
		o.bus = bus
	}
}

// WithDefaultTimeout sets the command-state timeout used when a state has no
// WithTimeout override. Zero (the default) means command states wait for a
// message indefinitely.
func WithDefaultTimeout(d time.Duration) Option {
	return func(o *options) {
		o.defaultTimeout = d
	}
}

// WithPropagateErrors makes hook failures end the run with a *domain.HookError
// even when an error outcome is configured with SetErrorOutcome.
func WithPropagateErrors(propagate bool) Option {
	return func(o *options) {
		o.propagate = propagate
	}
}

// WithLifecycleHooks registers observability hooks.
func WithLifecycleHooks(hooks domain.LifecycleHooks) Option {
	return func(o *options) {
		o.hooks = hooks
	}
}

// WithParamPolicy sets the default parameter policy for composite states.
func WithParamPolicy(policy ParamPolicy) Option {
	return func(o *options) {
		o.params = policy
	}
}

// ParamPolicy decides how a sub-machine sees the parent's parameters.
//
// Under both policies, every key the sub-machine sets or deletes is visible to
// the parent once the sub-machine terminates, except keys written with
// Context.SetTransient. Those keep the value they had when the sub-machine was
// entered, or stay absent if they had none.
type ParamPolicy int

const (
	// ParamsCopy runs the sub-machine on a copy of the parent's parameters and
	// merges the result back on termination (deletions included).
	ParamsCopy ParamPolicy = iota
	// ParamsShare gives the sub-machine the parent's live parameter bag.
	// Transient keys are restored to their entry values on termination.
	ParamsShare
)

func (p ParamPolicy) String() string {
	if p == ParamsShare {
		return "share"
	}
	return "copy"
}

// StateOption configures a single registration.
type StateOption func(*stateConfig)

type stateConfig struct {
	name     string
	timeout  time.Duration
	fallback any
	eager    bool
	params   *ParamPolicy
}

// WithName sets a display name used in logs and in the graph snapshot.
func WithName(name string) StateOption {
	return func(c *stateConfig) {
		c.name = name
	}
}

// WithTimeout overrides the machine default timeout for a command state.
func WithTimeout(d time.Duration) StateOption {
	return func(c *stateConfig) {
		c.timeout = d
	}
}

// WithDefault sets the target used when an emitted outcome has no mapping in the
// state's transition table. It takes precedence over bubbling and termination.
// The target must have the machine's state id type.
func WithDefault[S comparable](target S) StateOption {
	return func(c *stateConfig) {
		c.fallback = target
	}
}

// Eager builds the node at registration time instead of on first entry.
func Eager() StateOption {
	return func(c *stateConfig) {
		c.eager = true
	}
}

// WithParams overrides the machine's ParamPolicy for one composite state.
func WithParams(policy ParamPolicy) StateOption {
	return func(c *stateConfig) {
		c.params = &policy
	}
}
