package metrics

import (
	"context"
	"errors"
	"net/http"
	"strconv"
	"time"

	"github.com/prometheus/client_golang/prometheus"
	"github.com/prometheus/client_golang/prometheus/promhttp"
	"github.com/rs/zerolog"
)

const shutdownTimeout = 5 * time.Second

// Server serves the /metrics endpoint for prometheus scrapes.
type Server struct {
	server *http.Server
	log    zerolog.Logger
}

// NewServer creates a metrics server on the given port, exposing the metrics
// of the given gatherer. Pass prometheus.DefaultGatherer when the collectors
// were registered on the default registry.
func NewServer(log zerolog.Logger, port uint, gatherer prometheus.Gatherer) *Server {
	addr := ":" + strconv.Itoa(int(port))

	mux := http.NewServeMux()
	mux.Handle("/metrics", promhttp.HandlerFor(gatherer, promhttp.HandlerOpts{}))

	return &Server{
		server: &http.Server{Addr: addr, Handler: mux},
		log:    log.With().Str("component", "metrics_server").Str("address", addr).Logger(),
	}
}

// Ready starts the server and returns a channel that closes once it is
// listening.
func (m *Server) Ready() <-chan struct{} {
	ready := make(chan struct{})
	go func() {
		close(ready)
		err := m.server.ListenAndServe()
		// ErrServerClosed is the normal shutdown path
		if err != nil && !errors.Is(err, http.ErrServerClosed) {
			m.log.Err(err).Msg("metrics server failed")
		}
	}()
	m.log.Info().Msg("metrics server started")
	return ready
}

// Done shuts the server down and returns a channel that closes once shutdown
// has completed.
func (m *Server) Done() <-chan struct{} {
	done := make(chan struct{})
	go func() {
		defer close(done)
		ctx, cancel := context.WithTimeout(context.Background(), shutdownTimeout)
		defer cancel()
		_ = m.server.Shutdown(ctx)
	}()
	return done
}
