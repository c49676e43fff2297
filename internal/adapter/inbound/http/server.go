package http

import (
	"context"
	"errors"
	"log/slog"
	"net"
	"net/http"
	"time"

	"github.com/olegmukhin/thoughtgate/internal/adapter/outbound/upstream"
	"github.com/olegmukhin/thoughtgate/internal/service"
	"github.com/prometheus/client_golang/prometheus"
	"github.com/prometheus/client_golang/prometheus/collectors"
	"github.com/prometheus/client_golang/prometheus/promhttp"
)

// ErrDrainTimeoutExceeded is returned by Start when the shutdown drain
// deadline passed with requests still in flight, so Execute's exit-code
// mapping can tell a forced shutdown apart from a clean one.
var ErrDrainTimeoutExceeded = errors.New("shutdown drain timeout exceeded with requests still in flight")

// Transport is the inbound HTTP listener: it accepts connections, tunes
// them the same way the upstream dial path does, and routes every request
// through the correlation-id, recovery, and JSON-RPC handler chain.
type Transport struct {
	addr      string
	server    *http.Server
	listener  net.Listener
	socketOpt upstream.TuneOptions
	lifecycle *service.Lifecycle
	logger    *slog.Logger
}

// NewTransport wires handler, health, and the Prometheus registry behind a
// single mux, matching the always-registered routes (/health, /metrics)
// the rest of the sidecar's diagnostics depend on.
func NewTransport(addr string, socketOpt upstream.TuneOptions, handler *Handler, lifecycle *service.Lifecycle, health *HealthChecker, metrics *Metrics, reg *prometheus.Registry, logger *slog.Logger) *Transport {
	mux := http.NewServeMux()

	if health != nil {
		mux.Handle("/health", health.Handler())
	}
	mux.Handle("/metrics", promhttp.HandlerFor(reg, promhttp.HandlerOpts{Registry: reg}))

	var chain http.Handler = handler
	chain = RecoveryMiddleware(logger, metrics)(chain)
	chain = CorrelationIDMiddleware(chain)
	mux.Handle("/", chain)

	return &Transport{
		addr:      addr,
		socketOpt: socketOpt,
		lifecycle: lifecycle,
		logger:    logger,
		server:    &http.Server{Addr: addr, Handler: mux},
	}
}

// NewRegistry builds the Prometheus registry carrying the standard Go and
// process collectors alongside ThoughtGate's own metrics.
func NewRegistry() *prometheus.Registry {
	reg := prometheus.NewRegistry()
	reg.MustRegister(
		collectors.NewGoCollector(),
		collectors.NewProcessCollector(collectors.ProcessCollectorOpts{}),
	)
	return reg
}

// Start binds the listener, tunes every accepted connection, and serves
// until ctx is cancelled. On cancellation it drives the lifecycle's
// graceful shutdown drain before closing the server.
func (t *Transport) Start(ctx context.Context) error {
	ln, err := net.Listen("tcp", t.addr)
	if err != nil {
		return err
	}
	t.listener = &tunedListener{Listener: ln, opts: t.socketOpt}

	t.lifecycle.MarkReady()

	errCh := make(chan error, 1)
	go func() {
		t.logger.Info("starting HTTP listener", "addr", t.addr)
		err := t.server.Serve(t.listener)
		if err != nil && err != http.ErrServerClosed {
			errCh <- err
		}
		close(errCh)
	}()

	select {
	case <-ctx.Done():
		return t.shutdown()
	case err := <-errCh:
		return err
	}
}

func (t *Transport) shutdown() error {
	drained := t.lifecycle.Shutdown(context.Background())
	if !drained && t.logger != nil {
		t.logger.Warn("shutdown drain timeout exceeded; forcing close with requests still in flight")
	}

	shutdownCtx, cancel := context.WithTimeout(context.Background(), 10*time.Second)
	defer cancel()
	if err := t.server.Shutdown(shutdownCtx); err != nil {
		return err
	}
	if !drained {
		return ErrDrainTimeoutExceeded
	}
	return nil
}

// tunedListener applies the same socket tuning to every accepted
// connection that the outbound dial path applies to the upstream
// connection, so both halves of the proxy carry identical low-latency
// settings.
type tunedListener struct {
	net.Listener
	opts upstream.TuneOptions
}

func (l *tunedListener) Accept() (net.Conn, error) {
	conn, err := l.Listener.Accept()
	if err != nil {
		return nil, err
	}
	if err := upstream.Tune(conn, l.opts); err != nil {
		_ = conn.Close()
		return nil, err
	}
	return conn, nil
}
