package cli

import (
	"context"
	"errors"
	"log/slog"
	"net"
	"net/http"
	"time"

	httpadapter "github.com/aretw0/tinystate/pkg/adapters/http"
	"github.com/prometheus/client_golang/prometheus"
	"github.com/prometheus/client_golang/prometheus/promhttp"
)

const shutdownTimeout = 5 * time.Second

// NewRouter mounts /metrics for gatherer next to the adapter routes.
func NewRouter(srv *httpadapter.Server, gatherer prometheus.Gatherer) http.Handler {
	r := srv.Handler()
	r.Handle("/metrics", promhttp.HandlerFor(gatherer, promhttp.HandlerOpts{}))
	return r
}

// Listener is a running HTTP server.
type Listener struct {
	srv    *http.Server
	addr   net.Addr
	errs   chan error
	logger *slog.Logger
}

// Listen starts serving handler on addr in the background.
func Listen(addr string, handler http.Handler, logger *slog.Logger) (*Listener, error) {
	ln, err := net.Listen("tcp", addr)
	if err != nil {
		return nil, err
	}

	// Event streams stop when shutdown begins so they do not hold it up.
	base, cancel := context.WithCancel(context.Background())
	srv := &http.Server{
		Handler:           handler,
		ReadHeaderTimeout: 10 * time.Second,
		BaseContext:       func(net.Listener) context.Context { return base },
	}
	srv.RegisterOnShutdown(cancel)

	l := &Listener{
		srv:    srv,
		addr:   ln.Addr(),
		errs:   make(chan error, 1),
		logger: logger,
	}
	go func() {
		if err := l.srv.Serve(ln); err != nil && !errors.Is(err, http.ErrServerClosed) {
			l.errs <- err
		}
		close(l.errs)
	}()
	logger.Info("HTTP server listening", "addr", l.addr.String())
	return l, nil
}

// Addr returns the bound address.
func (l *Listener) Addr() net.Addr {
	return l.addr
}

// Errors reports a serve failure. It is closed once the server stopped.
func (l *Listener) Errors() <-chan error {
	return l.errs
}

// Shutdown drains in-flight requests, forcing the close after a deadline.
func (l *Listener) Shutdown() error {
	ctx, cancel := context.WithTimeout(context.Background(), shutdownTimeout)
	defer cancel()

	if err := l.srv.Shutdown(ctx); err != nil {
		l.logger.Warn("Graceful shutdown did not complete", "timeout", shutdownTimeout, "err", err)
		return l.srv.Close()
	}
	l.logger.Info("HTTP server stopped")
	return nil
}
