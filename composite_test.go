package tinystate_test

import (
	"context"
	"errors"
	"testing"
	"time"

	"github.com/aretw0/tinystate"
	"github.com/aretw0/tinystate/pkg/domain"
	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
)

// composite returns a composite node recording its hooks. pick, when set, runs
// in OnExit and may call NextState.
func composite(rec *recorder, id string, pick func(c *C) error) tinystate.Factory[string, string] {
	return tinystate.Instance[string, string](&tinystate.Funcs[string, string]{
		Entering: func(_ context.Context, _ *C) error {
			rec.add(id + ".entering")
			return nil
		},
		Enter: func(_ context.Context, _ *C) error {
			rec.add(id + ".enter")
			return nil
		},
		Exit: func(_ context.Context, c *C) error {
			rec.add(id + ".exit")
			if pick != nil {
				return pick(c)
			}
			return nil
		},
	})
}

func TestComposite_Bubbling(t *testing.T) {
	rec := &recorder{}
	var lastState, lastResult string

	m := tinystate.New[string, string]("flow")
	pay, err := m.RegisterComposite("pay", "authorize", composite(rec, "pay", func(c *C) error {
		lastState, _ = c.LastChildState()
		lastResult, _ = c.LastChildResult()
		return nil
	}), Table{"captured": "ship"})
	require.NoError(t, err)
	assert.Equal(t, "flow/pay", pay.Name())

	require.NoError(t, pay.RegisterState("authorize", step(rec, "authorize", always("ok")), Table{"ok": "capture"}))
	require.NoError(t, pay.RegisterState("capture", step(rec, "capture", always("captured")), nil))
	require.NoError(t, m.RegisterState("ship", step(rec, "ship", always("done")), nil))

	res, err := m.Run(context.Background(), "pay", nil)
	require.NoError(t, err)

	assert.Equal(t, "capture", lastState)
	assert.Equal(t, "captured", lastResult)
	assert.Equal(t, "ship", res.State)
	assert.Equal(t, []string{"pay", "ship"}, res.History)
	assert.Equal(t, []string{
		"pay.entering", "pay.enter",
		"authorize.entering", "authorize.enter", "authorize.exit",
		"capture.entering", "capture.enter", "capture.exit",
		"pay.exit",
		"ship.entering", "ship.enter", "ship.exit",
	}, rec.list())

	parent, owner, ok := pay.Parent()
	require.True(t, ok)
	assert.Same(t, m, parent)
	assert.Equal(t, "pay", owner)
}

func TestComposite_ExitChoosesOutcome(t *testing.T) {
	rec := &recorder{}
	m := tinystate.New[string, string]("flow")
	pay, err := m.RegisterComposite("pay", "authorize", composite(rec, "pay", func(c *C) error {
		if result, _ := c.LastChildResult(); result == "declined" {
			return c.NextState("failed")
		}
		return c.NextState("paid")
	}), Table{"paid": "ship", "failed": "cancel"})
	require.NoError(t, err)

	require.NoError(t, pay.RegisterState("authorize", step(rec, "authorize", always("declined")), nil))
	require.NoError(t, m.RegisterState("ship", step(rec, "ship", always("done")), nil))
	require.NoError(t, m.RegisterState("cancel", step(rec, "cancel", always("done")), nil))

	res, err := m.Run(context.Background(), "pay", nil)
	require.NoError(t, err)
	assert.Equal(t, "cancel", res.State)
}

func TestComposite_EnterSkipsChild(t *testing.T) {
	rec := &recorder{}
	m := tinystate.New[string, string]("flow")
	pay, err := m.RegisterComposite("pay", "authorize", tinystate.Instance[string, string](&tinystate.Funcs[string, string]{
		Enter: func(_ context.Context, c *C) error {
			return c.NextState("skip")
		},
	}), Table{"skip": "ship"})
	require.NoError(t, err)

	require.NoError(t, pay.RegisterState("authorize", step(rec, "authorize", always("ok")), nil))
	require.NoError(t, m.RegisterState("ship", step(rec, "ship", always("done")), nil))

	res, err := m.Run(context.Background(), "pay", nil)
	require.NoError(t, err)
	assert.Equal(t, "ship", res.State)
	assert.Zero(t, rec.count("authorize.enter"))
}

func TestComposite_Nested(t *testing.T) {
	rec := &recorder{}
	m := tinystate.New[string, string]("root")
	outer, err := m.RegisterComposite("outer", "inner", composite(rec, "outer", nil), Table{"leaf-done": "end"})
	require.NoError(t, err)
	inner, err := outer.RegisterComposite("inner", "leaf", composite(rec, "inner", nil), nil)
	require.NoError(t, err)
	assert.Equal(t, "root/outer/inner", inner.Name())

	require.NoError(t, inner.RegisterState("leaf", step(rec, "leaf", always("leaf-done")), nil))
	require.NoError(t, m.RegisterState("end", step(rec, "end", always("done")), nil))

	res, err := m.Run(context.Background(), "outer", nil)
	require.NoError(t, err)
	assert.Equal(t, "end", res.State)
	assert.Equal(t, []string{
		"outer.entering", "outer.enter",
		"inner.entering", "inner.enter",
		"leaf.entering", "leaf.enter", "leaf.exit",
		"inner.exit",
		"outer.exit",
		"end.entering", "end.enter", "end.exit",
	}, rec.list())
}

func TestComposite_ReenteredRunsChildAgain(t *testing.T) {
	rec := &recorder{}
	round := 0
	m := tinystate.New[string, string]("flow")
	pay, err := m.RegisterComposite("pay", "authorize", composite(rec, "pay", func(c *C) error {
		round++
		if round == 1 {
			return c.NextState("retry")
		}
		return nil
	}), Table{"retry": "pay"})
	require.NoError(t, err)
	require.NoError(t, pay.RegisterState("authorize", step(rec, "authorize", always("ok")), nil))

	res, err := m.Run(context.Background(), "pay", nil)
	require.NoError(t, err)
	assert.Equal(t, "ok", res.Outcome)
	assert.Equal(t, 2, rec.count("authorize.enter"))
	assert.Equal(t, []string{"pay", "pay"}, res.History)
}

func TestComposite_ParamPolicy(t *testing.T) {
	tests := []struct {
		name          string
		policy        tinystate.ParamPolicy
		visibleDuring bool
	}{
		{name: "copy", policy: tinystate.ParamsCopy, visibleDuring: false},
		{name: "share", policy: tinystate.ParamsShare, visibleDuring: true},
	}

	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			var seenDuring bool
			m := tinystate.New[string, string]("params")
			pay, err := m.RegisterComposite("pay", "work",
				tinystate.Instance[string, string](&tinystate.Funcs[string, string]{}),
				nil, tinystate.WithParams(tt.policy))
			require.NoError(t, err)

			require.NoError(t, pay.RegisterState("work", tinystate.Instance[string, string](&tinystate.Funcs[string, string]{
				Enter: func(_ context.Context, c *C) error {
					c.Set("added", "yes")
					c.SetTransient("scratch", 42)
					c.SetTransient("owner", "child-scratch")
					c.Delete("obsolete")
					_, seenDuring = c.Parent().Get("added")
					return c.NextState("done")
				},
			}), nil))

			res, err := m.Run(context.Background(), "pay", map[string]any{"obsolete": true, "kept": 1, "owner": "parent"})
			require.NoError(t, err)

			params := res.Context.Params()
			assert.Equal(t, tt.visibleDuring, seenDuring)
			assert.Equal(t, "yes", params["added"])
			assert.Equal(t, 1, params["kept"])
			assert.NotContains(t, params, "scratch")
			assert.NotContains(t, params, "obsolete")
			assert.Equal(t, "parent", params["owner"], "transient write must not leak or drop the parent's value")
		})
	}
}

func TestComposite_NextStateWhileChildRuns(t *testing.T) {
	ready := make(chan struct{})
	result := make(chan error, 1)

	m := tinystate.New[string, string]("flow")
	pay, err := m.RegisterComposite("pay", "authorize", tinystate.Instance[string, string](&tinystate.Funcs[string, string]{
		Enter: func(_ context.Context, c *C) error {
			go func() {
				<-ready
				result <- c.NextState("skipped")
			}()
			return nil
		},
	}), nil)
	require.NoError(t, err)
	require.NoError(t, pay.RegisterState("authorize", tinystate.Instance[string, string](&tinystate.Funcs[string, string]{
		Enter: func(_ context.Context, c *C) error {
			close(ready)
			select {
			case err := <-result:
				assert.ErrorIs(t, err, domain.ErrNotRunning)
			case <-time.After(2 * time.Second):
				t.Error("NextState on the composite did not return")
			}
			return c.NextState("captured")
		},
	}), nil))

	res, err := m.Run(context.Background(), "pay", nil)
	require.NoError(t, err)
	assert.Equal(t, "captured", res.Outcome)
}

func TestComposite_ChildFailure(t *testing.T) {
	boom := errors.New("declined by issuer")
	exits := 0
	m := tinystate.New[string, string]("flow")
	pay, err := m.RegisterComposite("pay", "authorize", tinystate.Instance[string, string](&tinystate.Funcs[string, string]{
		Exit: func(_ context.Context, _ *C) error {
			exits++
			return nil
		},
	}), nil)
	require.NoError(t, err)
	require.NoError(t, pay.RegisterState("authorize", tinystate.Instance[string, string](&tinystate.Funcs[string, string]{
		Enter: func(_ context.Context, _ *C) error {
			return boom
		},
	}), nil))

	res, err := m.Run(context.Background(), "pay", nil)
	var hookErr *domain.HookError
	require.ErrorAs(t, err, &hookErr)
	assert.Equal(t, "flow/pay", hookErr.Machine)
	assert.Equal(t, "authorize", hookErr.StateID)
	assert.Equal(t, "pay", res.State)
	assert.Zero(t, exits)
}

func TestComposite_ChildErrorOutcome(t *testing.T) {
	var result string
	m := tinystate.New[string, string]("flow")
	m.SetErrorOutcome("error")
	pay, err := m.RegisterComposite("pay", "authorize", composite(&recorder{}, "pay", func(c *C) error {
		result, _ = c.LastChildResult()
		return nil
	}), Table{"error": "cancel"})
	require.NoError(t, err)
	require.NoError(t, pay.RegisterState("authorize", tinystate.Instance[string, string](&tinystate.Funcs[string, string]{
		Enter: func(_ context.Context, _ *C) error {
			return errors.New("gateway down")
		},
	}), nil))
	require.NoError(t, m.RegisterState("cancel", step(&recorder{}, "cancel", always("done")), nil))

	res, err := m.Run(context.Background(), "pay", nil)
	require.NoError(t, err)
	assert.Equal(t, "error", result)
	assert.Equal(t, "cancel", res.State)
	assert.Contains(t, res.Context.Errors(), "authorize.on_enter", "errors are shared with sub-machines")
}
