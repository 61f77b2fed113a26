// Package demo contains the order workflow driven by the tinystate CLI.
//
//	validate ──ok──▶ payment ──paid──▶ ship
//	    │              │ (authorize ──approved──▶ capture)
//	    └──invalid──▶ cancel ◀──failed──┘
package demo

import (
	"context"
	"fmt"
	"sync"
	"time"

	"github.com/aretw0/tinystate"
	"github.com/aretw0/tinystate/pkg/domain"
	"github.com/aretw0/tinystate/pkg/ports"
)

// State identifies a workflow state.
type State string

// Outcome is the result a state hands to the transition table.
type Outcome string

const (
	Validate  State = "validate"
	Payment   State = "payment"
	Authorize State = "authorize"
	Capture   State = "capture"
	Ship      State = "ship"
	Cancel    State = "cancel"
)

const (
	OK        Outcome = "ok"
	Invalid   Outcome = "invalid"
	Approved  Outcome = "approved"
	Declined  Outcome = "declined"
	Expired   Outcome = "expired"
	Captured  Outcome = "captured"
	Paid      Outcome = "paid"
	Failed    Outcome = "failed"
	Shipped   Outcome = "shipped"
	Cancelled Outcome = "cancelled"
	Errored   Outcome = "error"
)

// Topics the authorize state listens on.
const (
	TopicApproved = "payment.approved"
	TopicDeclined = "payment.declined"
)

// Parameter keys written by the workflow.
const (
	KeyReason     = "reason"
	KeyCapturedAt = "captured_at"
	KeyTracking   = "tracking"
)

// Machine is the workflow machine type.
type Machine = tinystate.Machine[State, Outcome]

// Context is the workflow run context.
type Context = tinystate.Context[State, Outcome]

// Order is the run input, decoded from the run parameters.
type Order struct {
	ID     string  `mapstructure:"order_id"`
	Amount float64 `mapstructure:"amount"`
}

// Params returns the run parameters describing the order.
func (o Order) Params() map[string]any {
	return map[string]any{"order_id": o.ID, "amount": o.Amount}
}

// Decision is the payload of payment.approved and payment.declined messages.
type Decision struct {
	OrderID string `mapstructure:"order_id"`
	Reason  string `mapstructure:"reason"`
}

// Workflow builds the order machine.
type Workflow struct {
	// AwaitingPayment is called once the authorize state listens for a decision.
	// It runs on the driver goroutine and must not block.
	AwaitingPayment func(ctx context.Context, order Order)

	// Clock stamps the capture. Defaults to time.Now.
	Clock func() time.Time

	mu      sync.Mutex
	pending string // order id the authorize state is waiting for
}

// New builds the workflow with default settings.
func New(opts ...tinystate.Option) (*Machine, error) {
	return (&Workflow{}).Build(opts...)
}

// Build registers the workflow states on a new machine named "orders".
// opts must include a bus (tinystate.WithBus) for the authorize state.
func (w *Workflow) Build(opts ...tinystate.Option) (*Machine, error) {
	m := tinystate.New[State, Outcome]("orders", opts...)
	m.SetErrorOutcome(Errored)

	if err := m.RegisterState(Validate, tinystate.Instance[State, Outcome](&tinystate.Funcs[State, Outcome]{
		Enter: w.validate,
	}), tinystate.Transitions[State, Outcome]{OK: Payment, Invalid: Cancel, Errored: Cancel}); err != nil {
		return nil, err
	}

	payment, err := m.RegisterComposite(Payment, Authorize, tinystate.Instance[State, Outcome](&tinystate.Funcs[State, Outcome]{
		Exit: w.settle,
	}), tinystate.Transitions[State, Outcome]{Paid: Ship, Failed: Cancel})
	if err != nil {
		return nil, err
	}
	if err := payment.RegisterCommand(Authorize, w.authorizer, tinystate.Transitions[State, Outcome]{Approved: Capture}); err != nil {
		return nil, err
	}
	if err := payment.RegisterState(Capture, tinystate.Instance[State, Outcome](&tinystate.Funcs[State, Outcome]{
		Enter: w.capture,
	}), nil); err != nil {
		return nil, err
	}

	if err := m.RegisterState(Ship, tinystate.Instance[State, Outcome](&tinystate.Funcs[State, Outcome]{
		Enter: w.ship,
	}), nil); err != nil {
		return nil, err
	}
	if err := m.RegisterState(Cancel, tinystate.Instance[State, Outcome](&tinystate.Funcs[State, Outcome]{
		Enter: func(_ context.Context, c *Context) error { return c.NextState(Cancelled) },
	}), nil); err != nil {
		return nil, err
	}

	m.SetInitial(Validate)
	if err := m.Validate(); err != nil {
		return nil, err
	}
	return m, nil
}

func (w *Workflow) validate(_ context.Context, c *Context) error {
	var order Order
	if err := c.Decode(&order); err != nil {
		return err
	}
	switch {
	case order.ID == "":
		c.Set(KeyReason, "missing order id")
		return c.NextState(Invalid)
	case order.Amount <= 0:
		c.Set(KeyReason, fmt.Sprintf("invalid amount %.2f", order.Amount))
		return c.NextState(Invalid)
	}
	return c.NextState(OK)
}

func (w *Workflow) authorizer() (tinystate.State[State, Outcome], error) {
	return &tinystate.CommandFuncs[State, Outcome]{
		Funcs: tinystate.Funcs[State, Outcome]{
			Entering: func(_ context.Context, c *Context) error {
				var order Order
				if err := c.Decode(&order); err != nil {
					return err
				}
				w.setPending(order.ID)
				return nil
			},
			Enter: func(ctx context.Context, c *Context) error {
				if w.AwaitingPayment != nil {
					var order Order
					if err := c.Decode(&order); err != nil {
						return err
					}
					w.AwaitingPayment(ctx, order)
				}
				return nil
			},
		},
		Accept: w.accepts,
		Message: func(_ context.Context, c *Context, msg domain.Message) error {
			if msg.Topic == TopicApproved {
				return c.NextState(Approved)
			}
			var d Decision
			if err := msg.Decode(&d); err != nil {
				return err
			}
			if d.Reason == "" {
				d.Reason = "declined"
			}
			c.Set(KeyReason, d.Reason)
			return c.NextState(Declined)
		},
		Timeout: func(_ context.Context, c *Context) error {
			c.Set(KeyReason, "payment decision timed out")
			return c.NextState(Expired)
		},
	}, nil
}

// accepts matches payment decisions for the pending order. Decisions without
// an order id match any order.
func (w *Workflow) accepts(msg domain.Message) bool {
	if msg.Topic != TopicApproved && msg.Topic != TopicDeclined {
		return false
	}
	var d Decision
	if err := msg.Decode(&d); err != nil {
		return false
	}
	return d.OrderID == "" || d.OrderID == w.pendingOrder()
}

func (w *Workflow) setPending(id string) {
	w.mu.Lock()
	defer w.mu.Unlock()
	w.pending = id
}

func (w *Workflow) pendingOrder() string {
	w.mu.Lock()
	defer w.mu.Unlock()
	return w.pending
}

func (w *Workflow) capture(_ context.Context, c *Context) error {
	now := time.Now
	if w.Clock != nil {
		now = w.Clock
	}
	c.Set(KeyCapturedAt, now().UTC().Format(time.RFC3339))
	return c.NextState(Captured)
}

// settle maps the payment sub-machine result onto the parent outcome.
func (w *Workflow) settle(_ context.Context, c *Context) error {
	if res, ok := c.LastChildResult(); ok && res == Captured {
		return c.NextState(Paid)
	}
	return c.NextState(Failed)
}

func (w *Workflow) ship(_ context.Context, c *Context) error {
	var order Order
	if err := c.Decode(&order); err != nil {
		return err
	}
	c.Set(KeyTracking, "TRK-"+order.ID)
	return c.NextState(Shipped)
}

// Approve publishes an approval for order.
func Approve(ctx context.Context, bus ports.Publisher, order Order) error {
	return bus.Publish(ctx, domain.Message{
		Topic:   TopicApproved,
		Payload: map[string]any{"order_id": order.ID},
	})
}

// Decline publishes a declined decision for order.
func Decline(ctx context.Context, bus ports.Publisher, order Order, reason string) error {
	return bus.Publish(ctx, domain.Message{
		Topic:   TopicDeclined,
		Payload: map[string]any{"order_id": order.ID, "reason": reason},
	})
}
