package tinystate_test

import (
	"context"
	"slices"
	"sync"

	"github.com/aretw0/tinystate"
)

type (
	C     = tinystate.Context[string, string]
	Table = tinystate.Transitions[string, string]
)

// recorder collects hook invocations in order.
type recorder struct {
	mu    sync.Mutex
	calls []string
}

func (r *recorder) add(call string) {
	r.mu.Lock()
	defer r.mu.Unlock()
	r.calls = append(r.calls, call)
}

func (r *recorder) list() []string {
	r.mu.Lock()
	defer r.mu.Unlock()
	return slices.Clone(r.calls)
}

func (r *recorder) count(call string) int {
	n := 0
	for _, c := range r.list() {
		if c == call {
			n++
		}
	}
	return n
}

// step returns a plain state that records its hooks and emits next(c) from OnEnter.
func step(rec *recorder, id string, next func(c *C) string) tinystate.Factory[string, string] {
	return tinystate.Instance[string, string](&tinystate.Funcs[string, string]{
		Entering: func(_ context.Context, _ *C) error {
			rec.add(id + ".entering")
			return nil
		},
		Enter: func(_ context.Context, c *C) error {
			rec.add(id + ".enter")
			return c.NextState(next(c))
		},
		Exit: func(_ context.Context, _ *C) error {
			rec.add(id + ".exit")
			return nil
		},
	})
}

func always(outcome string) func(*C) string {
	return func(*C) string { return outcome }
}
