package domain

import (
	"errors"
	"fmt"
)

var (
	// ErrReentrantTransition is returned when NextState is called again before the
	// previously requested transition has been processed.
	ErrReentrantTransition = errors.New("next state already requested for the active state")

	// ErrAlreadyStarted is returned when Run/Start is called on a machine that is not
	// in the not-started status. Call Reset first.
	ErrAlreadyStarted = errors.New("machine already started")

	// ErrNotRunning is returned when a transition is requested on a machine without an active run.
	ErrNotRunning = errors.New("machine is not running")

	// ErrMachineRunning is returned when the registry is mutated while a run is in progress.
	ErrMachineRunning = errors.New("machine is running")

	// ErrCancelled is returned when the run context is cancelled before a terminal outcome.
	ErrCancelled = errors.New("run cancelled")

	// ErrNoBus is returned when a command state is entered and no bus was configured.
	ErrNoBus = errors.New("no message bus configured")
)

// ConfigurationError reports an invalid registry: duplicate or unknown state ids,
// a missing initial state, or a factory returning a node of the wrong kind.
type ConfigurationError struct {
	Machine string
	StateID string
	Reason  string
	Err     error
}

func (e *ConfigurationError) Error() string {
	msg := fmt.Sprintf("machine '%s': state '%s': %s", e.Machine, e.StateID, e.Reason)
	if e.Err != nil {
		msg += ": " + e.Err.Error()
	}
	return msg
}

func (e *ConfigurationError) Unwrap() error {
	return e.Err
}

// HookError wraps an error returned (or a panic raised) by a state hook.
type HookError struct {
	Machine string
	StateID string
	Hook    Hook
	Err     error
}

func (e *HookError) Error() string {
	return fmt.Sprintf("state '%s' %s failed: %v", e.StateID, e.Hook, e.Err)
}

func (e *HookError) Unwrap() error {
	return e.Err
}

// Key returns the entry name used in the context errors map ("<state>.<hook>").
func (e *HookError) Key() string {
	return e.StateID + "." + string(e.Hook)
}

// IsConfigurationError reports whether err is, or wraps, a *ConfigurationError.
func IsConfigurationError(err error) bool {
	var e *ConfigurationError
	return errors.As(err, &e)
}

// IsHookError reports whether err is, or wraps, a *HookError.
func IsHookError(err error) bool {
	var e *HookError
	return errors.As(err, &e)
}
