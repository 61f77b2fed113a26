package observability_test

import (
	"context"
	"errors"
	"testing"
	"time"

	"github.com/aretw0/tinystate"
	"github.com/aretw0/tinystate/pkg/adapters/memory"
	"github.com/aretw0/tinystate/pkg/domain"
	"github.com/aretw0/tinystate/pkg/observability"
	"github.com/prometheus/client_golang/prometheus"
	"github.com/prometheus/client_golang/prometheus/testutil"
	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
)

type (
	C     = tinystate.Context[string, string]
	Table = tinystate.Transitions[string, string]
)

func TestMetrics_RecordsRun(t *testing.T) {
	reg := prometheus.NewRegistry()
	metrics, err := observability.NewMetrics(reg)
	require.NoError(t, err)

	m := tinystate.New[string, string]("orders",
		tinystate.WithBus(memory.NewBus()),
		tinystate.WithLifecycleHooks(metrics.Hooks()),
	)
	require.NoError(t, m.RegisterState("start", tinystate.Instance[string, string](&tinystate.Funcs[string, string]{
		Enter: func(_ context.Context, c *C) error { return c.NextState("go") },
	}), Table{"go": "wait"}))
	require.NoError(t, m.RegisterCommand("wait", tinystate.Instance[string, string](&tinystate.CommandFuncs[string, string]{
		Accept:  func(msg domain.Message) bool { return msg.Topic == "never" },
		Timeout: func(_ context.Context, c *C) error { return c.NextState("expired") },
	}), Table{"expired": "end"}, tinystate.WithTimeout(10*time.Millisecond)))
	require.NoError(t, m.RegisterState("end", tinystate.Instance[string, string](&tinystate.Funcs[string, string]{
		Enter: func(context.Context, *C) error { return errors.New("boom") },
	}), nil))
	m.SetErrorOutcome("error")
	m.SetInitial("start")

	res, err := m.Start(context.Background(), nil)
	require.NoError(t, err)
	assert.Equal(t, "error", res.Outcome)

	assert.Equal(t, 1.0, testutil.ToFloat64(metrics.StateEntries.WithLabelValues("orders", "start", "plain")))
	assert.Equal(t, 1.0, testutil.ToFloat64(metrics.StateEntries.WithLabelValues("orders", "wait", "command")))
	assert.Equal(t, 1.0, testutil.ToFloat64(metrics.StateEntries.WithLabelValues("orders", "end", "plain")))
	assert.Equal(t, 1.0, testutil.ToFloat64(metrics.Transitions.WithLabelValues("orders", "start", "wait")))
	assert.Equal(t, 1.0, testutil.ToFloat64(metrics.Transitions.WithLabelValues("orders", "wait", "end")))
	assert.Equal(t, 1.0, testutil.ToFloat64(metrics.Commands.WithLabelValues("orders", "wait", "on_timeout")))
	assert.Equal(t, 1.0, testutil.ToFloat64(metrics.HookFailures.WithLabelValues("orders", "end", "on_enter", "true")))
	assert.Equal(t, 1.0, testutil.ToFloat64(metrics.Runs.WithLabelValues("orders", "terminal")))
	assert.Equal(t, 1, testutil.CollectAndCount(metrics.RunDuration))
}

func TestMetrics_FailedRun(t *testing.T) {
	metrics, err := observability.NewMetrics(prometheus.NewRegistry())
	require.NoError(t, err)

	m := tinystate.New[string, string]("broken", tinystate.WithLifecycleHooks(metrics.Hooks()))
	require.NoError(t, m.RegisterState("only", tinystate.Instance[string, string](&tinystate.Funcs[string, string]{
		Enter: func(context.Context, *C) error { return errors.New("boom") },
	}), nil))
	m.SetInitial("only")

	_, err = m.Start(context.Background(), nil)
	require.Error(t, err)

	assert.Equal(t, 1.0, testutil.ToFloat64(metrics.HookFailures.WithLabelValues("broken", "only", "on_enter", "false")))
	assert.Equal(t, 1.0, testutil.ToFloat64(metrics.Runs.WithLabelValues("broken", "failed")))
	assert.Equal(t, 0, testutil.CollectAndCount(metrics.Transitions))
}

func TestNewMetrics_DuplicateRegistration(t *testing.T) {
	reg := prometheus.NewRegistry()
	_, err := observability.NewMetrics(reg)
	require.NoError(t, err)

	_, err = observability.NewMetrics(reg)
	var already prometheus.AlreadyRegisteredError
	assert.ErrorAs(t, err, &already)

	assert.Panics(t, func() { observability.MustNewMetrics(reg) })
}
