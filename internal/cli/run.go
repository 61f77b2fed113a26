package cli

import (
	"context"
	"errors"
	"fmt"
	"io"
	"log/slog"
	"maps"
	"slices"
	"time"

	"github.com/aretw0/tinystate"
	"github.com/aretw0/tinystate/internal/config"
	"github.com/aretw0/tinystate/internal/demo"
	"github.com/aretw0/tinystate/internal/logging"
	"github.com/aretw0/tinystate/internal/presentation/tui"
	httpadapter "github.com/aretw0/tinystate/pkg/adapters/http"
	"github.com/aretw0/tinystate/pkg/domain"
	"github.com/aretw0/tinystate/pkg/observability"
	"github.com/aretw0/tinystate/pkg/ports"
	"github.com/muesli/termenv"
	"github.com/prometheus/client_golang/prometheus"
)

// RunOptions contains all the configuration for the run command.
type RunOptions struct {
	Config  config.Config
	Order   demo.Order
	Approve bool // Publish the payment approval as soon as the workflow waits for it
	Hold    bool // Keep serving HTTP after the run until the context is cancelled
	NoColor bool
	Out     io.Writer
	Logger  *slog.Logger
}

// Report summarizes a finished run.
type Report struct {
	RunID   string
	State   demo.State
	Outcome demo.Outcome
	History []demo.State
	Params  map[string]any
	Addr    string // HTTP address, when serving
}

// Execute runs the demo order workflow on the configured bus, printing a trace
// to opts.Out. It serves the HTTP adapter and /metrics when Config.HTTPAddr is set.
func Execute(ctx context.Context, opts RunOptions) (*Report, error) {
	logger := opts.Logger
	if logger == nil {
		logger = logging.NewNop()
	}
	out := opts.Out
	if out == nil {
		out = io.Discard
	}

	bus, closeBus, err := NewBus(ctx, opts.Config.Redis, logger)
	if err != nil {
		return nil, err
	}
	defer func() {
		if err := closeBus(); err != nil {
			logger.Warn("Bus close failed", "err", err)
		}
	}()

	reg := prometheus.NewRegistry()
	metrics, err := observability.NewMetrics(reg)
	if err != nil {
		return nil, err
	}

	var traceOpts []termenv.OutputOption
	if opts.NoColor {
		traceOpts = append(traceOpts, termenv.WithProfile(termenv.Ascii))
	}
	trace := tui.NewTrace(out, traceOpts...)
	srv := httpadapter.NewServer(bus, nil, httpadapter.WithLogger(logger))

	w := &demo.Workflow{}
	if opts.Approve {
		w.AwaitingPayment = approver(bus, logger)
	}
	m, err := w.Build(
		tinystate.WithBus(bus),
		tinystate.WithLogger(logger),
		tinystate.WithDefaultTimeout(opts.Config.DefaultTimeout),
		tinystate.WithLifecycleHooks(domain.CombineHooks(trace.Hooks(), metrics.Hooks(), srv.Hooks())),
	)
	if err != nil {
		return nil, fmt.Errorf("error building workflow: %w", err)
	}
	srv.Machine = m

	report := &Report{}
	var listener *Listener
	if opts.Config.HTTPAddr != "" {
		listener, err = Listen(opts.Config.HTTPAddr, NewRouter(srv, reg), logger)
		if err != nil {
			return nil, fmt.Errorf("error starting HTTP server: %w", err)
		}
		defer func() { _ = listener.Shutdown() }()
		report.Addr = listener.Addr().String()
		fmt.Fprintf(out, ">>> Serving on http://%s (POST /messages, GET /graph, GET /events, GET /metrics)\n", report.Addr)
	}

	res, err := m.Start(ctx, opts.Order.Params())
	if res.Context != nil {
		report.RunID = res.Context.RunID()
		report.Params = res.Context.Params()
	}
	report.State = res.State
	report.Outcome = res.Outcome
	report.History = res.History
	if err != nil {
		return report, err
	}
	printSummary(out, report)

	if listener != nil && opts.Hold {
		fmt.Fprintln(out, ">>> Run finished; serving until interrupted")
		select {
		case <-ctx.Done():
		case err, ok := <-listener.Errors():
			if ok {
				return report, err
			}
		}
	}
	return report, nil
}

// approver publishes the approval off the driver goroutine.
func approver(bus ports.Publisher, logger *slog.Logger) func(context.Context, demo.Order) {
	return func(_ context.Context, order demo.Order) {
		go func() {
			ctx, cancel := context.WithTimeout(context.Background(), 5*time.Second)
			defer cancel()
			if err := demo.Approve(ctx, bus, order); err != nil {
				logger.Error("Auto-approve failed", "order", order.ID, "err", err)
			}
		}()
	}
}

func printSummary(w io.Writer, r *Report) {
	fmt.Fprintf(w, ">>> Order finished in '%s' with '%s'\n", r.State, r.Outcome)
	for _, key := range slices.Sorted(maps.Keys(r.Params)) {
		fmt.Fprintf(w, "    %s = %v\n", key, r.Params[key])
	}
}

// IsInterrupted reports whether err only reflects a cancelled run.
func IsInterrupted(err error) bool {
	return errors.Is(err, domain.ErrCancelled) || errors.Is(err, context.Canceled)
}
