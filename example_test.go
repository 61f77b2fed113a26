package tinystate_test

import (
	"context"
	"fmt"
	"log"
	"time"

	"github.com/aretw0/tinystate"
	"github.com/aretw0/tinystate/pkg/adapters/memory"
	"github.com/aretw0/tinystate/pkg/domain"
)

// ExampleMachine_Start shows a retry loop built from plain states.
func ExampleMachine_Start() {
	m := tinystate.New[string, string]("retry")

	attempts := 0
	must(m.RegisterState("connect", tinystate.Instance[string, string](&tinystate.Funcs[string, string]{
		Enter: func(_ context.Context, c *C) error {
			attempts++
			if attempts < 3 {
				return c.NextState("failed")
			}
			return c.NextState("connected")
		},
	}), Table{"failed": "backoff", "connected": "ready"}))
	must(m.RegisterState("backoff", tinystate.Instance[string, string](&tinystate.Funcs[string, string]{
		Enter: func(_ context.Context, c *C) error { return c.NextState("retry") },
	}), Table{"retry": "connect"}))
	must(m.RegisterState("ready", tinystate.Instance[string, string](&tinystate.Funcs[string, string]{
		Enter: func(_ context.Context, c *C) error { return c.NextState("done") },
	}), nil))
	m.SetInitial("connect")

	res, err := m.Start(context.Background(), nil)
	if err != nil {
		log.Fatal(err)
	}
	fmt.Println(res.History)
	fmt.Println(res.State, res.Outcome)
	// Output:
	// [connect backoff connect backoff connect ready]
	// ready done
}

// ExampleMachine_RegisterComposite shows a sub-machine whose result picks the parent transition.
func ExampleMachine_RegisterComposite() {
	m := tinystate.New[string, string]("checkout")

	pay, err := m.RegisterComposite("pay", "charge", tinystate.Instance[string, string](&tinystate.Funcs[string, string]{
		Exit: func(_ context.Context, c *C) error {
			if res, _ := c.LastChildResult(); res == "charged" {
				return c.NextState("paid")
			}
			return c.NextState("unpaid")
		},
	}), Table{"paid": "ship", "unpaid": "cancel"})
	if err != nil {
		log.Fatal(err)
	}
	must(pay.RegisterState("charge", tinystate.Instance[string, string](&tinystate.Funcs[string, string]{
		Enter: func(_ context.Context, c *C) error { return c.NextState("charged") },
	}), nil))
	for _, id := range []string{"ship", "cancel"} {
		must(m.RegisterState(id, tinystate.Instance[string, string](&tinystate.Funcs[string, string]{
			Enter: func(_ context.Context, c *C) error { return c.NextState("done") },
		}), nil))
	}
	m.SetInitial("pay")

	res, err := m.Start(context.Background(), nil)
	if err != nil {
		log.Fatal(err)
	}
	fmt.Println(res.History)
	// Output: [pay ship]
}

// ExampleMachine_RegisterCommand shows a command state resolved by its timeout.
func ExampleMachine_RegisterCommand() {
	bus := memory.NewBus()
	defer bus.Close()
	m := tinystate.New[string, string]("shipping", tinystate.WithBus(bus))

	must(m.RegisterCommand("await", tinystate.Instance[string, string](&tinystate.CommandFuncs[string, string]{
		Accept:  func(msg domain.Message) bool { return msg.Topic == "shipment.sent" },
		Message: func(_ context.Context, c *C, _ domain.Message) error { return c.NextState("sent") },
		Timeout: func(_ context.Context, c *C) error { return c.NextState("late") },
	}), nil, tinystate.WithTimeout(10*time.Millisecond)))
	m.SetInitial("await")

	res, err := m.Start(context.Background(), nil)
	if err != nil {
		log.Fatal(err)
	}
	fmt.Println(res.Outcome)
	// Output: late
}

func must(err error) {
	if err != nil {
		log.Fatal(err)
	}
}
