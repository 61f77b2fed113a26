package domain

// Kind tags a registered state with the behavior the engine applies to it.
type Kind string

const (
	KindPlain     Kind = "plain"     // Resolves its outcome from a hook (usually OnEnter)
	KindComposite Kind = "composite" // Owns a sub-machine; exits after the sub-machine terminates
	KindCommand   Kind = "command"   // Waits for a matching message or a timeout
)

// Status is the lifecycle position of a machine.
type Status string

const (
	StatusNotStarted Status = "not_started"
	StatusEntering   Status = "entering" // OnEntering/OnEnter of the target are running
	StatusActive     Status = "active"   // Waiting for a NextState request
	StatusExiting    Status = "exiting"  // OnExit of the current state is running
	StatusTerminal   Status = "terminal" // Run finished with a terminal outcome
	StatusFailed     Status = "failed"   // Run aborted with an error
	StatusCancelled  Status = "cancelled"
)

// Running reports whether a run is in progress.
func (s Status) Running() bool {
	return s == StatusEntering || s == StatusActive || s == StatusExiting
}

// Hook names a state lifecycle callback. Used in logs, events and error keys.
type Hook string

const (
	HookEntering Hook = "on_entering"
	HookEnter    Hook = "on_enter"
	HookExit     Hook = "on_exit"
	HookMessage  Hook = "on_message"
	HookTimeout  Hook = "on_timeout"
	HookFactory  Hook = "factory"
)
