package observability

import (
	"context"
	"errors"
	"strconv"

	"github.com/aretw0/tinystate/pkg/domain"
	"github.com/prometheus/client_golang/prometheus"
)

const namespace = "tinystate"

// Metrics holds the collectors fed by Hooks.
type Metrics struct {
	StateEntries *prometheus.CounterVec
	Transitions  *prometheus.CounterVec
	Commands     *prometheus.CounterVec
	HookFailures *prometheus.CounterVec
	Runs         *prometheus.CounterVec
	RunDuration  *prometheus.HistogramVec
}

// NewMetrics creates the collectors and registers them on reg.
// Registering twice on the same registerer fails with prometheus.AlreadyRegisteredError.
func NewMetrics(reg prometheus.Registerer) (*Metrics, error) {
	m := &Metrics{
		StateEntries: prometheus.NewCounterVec(
			prometheus.CounterOpts{
				Namespace: namespace,
				Name:      "state_entries_total",
				Help:      "Total number of state entries.",
			},
			[]string{"machine", "state", "kind"},
		),
		Transitions: prometheus.NewCounterVec(
			prometheus.CounterOpts{
				Namespace: namespace,
				Name:      "transitions_total",
				Help:      "Total number of resolved transitions.",
			},
			[]string{"machine", "from", "to"},
		),
		Commands: prometheus.NewCounterVec(
			prometheus.CounterOpts{
				Namespace: namespace,
				Name:      "commands_total",
				Help:      "Command states resolved, by the side that won the race.",
			},
			[]string{"machine", "state", "via"},
		),
		HookFailures: prometheus.NewCounterVec(
			prometheus.CounterOpts{
				Namespace: namespace,
				Name:      "hook_failures_total",
				Help:      "Failing state hooks, split by whether they were converted into an outcome.",
			},
			[]string{"machine", "state", "hook", "converted"},
		),
		Runs: prometheus.NewCounterVec(
			prometheus.CounterOpts{
				Namespace: namespace,
				Name:      "runs_total",
				Help:      "Finished top-level runs.",
			},
			[]string{"machine", "status"},
		),
		RunDuration: prometheus.NewHistogramVec(
			prometheus.HistogramOpts{
				Namespace: namespace,
				Name:      "run_duration_seconds",
				Help:      "Wall time of top-level runs.",
				Buckets:   []float64{.001, .01, .1, .5, 1, 5, 30, 60, 300, 1200},
			},
			[]string{"machine", "status"},
		),
	}

	var errs []error
	for _, c := range m.collectors() {
		if err := reg.Register(c); err != nil {
			errs = append(errs, err)
		}
	}
	if len(errs) > 0 {
		return nil, errors.Join(errs...)
	}
	return m, nil
}

// MustNewMetrics is NewMetrics that panics on registration failure.
func MustNewMetrics(reg prometheus.Registerer) *Metrics {
	m, err := NewMetrics(reg)
	if err != nil {
		panic(err)
	}
	return m
}

func (m *Metrics) collectors() []prometheus.Collector {
	return []prometheus.Collector{m.StateEntries, m.Transitions, m.Commands, m.HookFailures, m.Runs, m.RunDuration}
}

// Hooks returns lifecycle hooks recording engine events on the collectors.
func (m *Metrics) Hooks() domain.LifecycleHooks {
	return domain.LifecycleHooks{
		OnStateEnter: func(_ context.Context, e *domain.StateEvent) {
			m.StateEntries.WithLabelValues(e.Machine, e.StateID, string(e.Kind)).Inc()
		},
		OnTransition: func(_ context.Context, e *domain.TransitionEvent) {
			m.Transitions.WithLabelValues(e.Machine, e.From, e.To).Inc()
		},
		OnCommand: func(_ context.Context, e *domain.CommandEvent) {
			m.Commands.WithLabelValues(e.Machine, e.StateID, string(e.Via)).Inc()
		},
		OnHookFailure: func(_ context.Context, e *domain.HookFailureEvent) {
			m.HookFailures.WithLabelValues(e.Machine, e.StateID, string(e.Hook), strconv.FormatBool(e.Converted)).Inc()
		},
		OnRunFinished: func(_ context.Context, e *domain.RunEvent) {
			m.Runs.WithLabelValues(e.Machine, string(e.Status)).Inc()
			m.RunDuration.WithLabelValues(e.Machine, string(e.Status)).Observe(e.Duration.Seconds())
		},
	}
}
