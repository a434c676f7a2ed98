package server

import (
	"context"
	"errors"
	"log/slog"
	"net/http"
	"time"

	"github.com/go-chi/chi/v5"
	"github.com/go-chi/chi/v5/middleware"
	"github.com/gorilla/websocket"
	"github.com/prometheus/client_golang/prometheus/promhttp"

	rvmw "github.com/roomverse-dev/roomverse/pkg/middleware"
)

// Server is the presence server: it accepts WebSocket connections on
// /ws, serves health and metrics endpoints, and exposes an optional
// basic-auth admin surface.
type Server struct {
	config        *ServerConfig
	logger        *slog.Logger
	hub           *Hub
	metrics       *metrics
	metricsConfig MetricsConfig

	upgrader websocket.Upgrader

	startedAt time.Time
	reqRate   *rateCounter
}

// New creates a server from the given configuration. Zero config
// fields are filled with defaults.
func New(config *ServerConfig, logger *slog.Logger, metricOpts ...MetricsOption) *Server {
	config = config.withDefaults()
	if logger == nil {
		logger = slog.Default()
	}

	metricsConfig := resolveMetricsConfig(metricOpts...)
	m := newMetrics(metricsConfig)
	s := &Server{
		config:        config,
		logger:        logger.With("component", "server"),
		hub:           NewHub(logger, m),
		metrics:       m,
		metricsConfig: metricsConfig,
		upgrader: websocket.Upgrader{
			ReadBufferSize:  config.ReadBufferSize,
			WriteBufferSize: config.WriteBufferSize,
			CheckOrigin:     config.CheckOrigin,
		},
		reqRate: newRateCounter(),
	}
	return s
}

// Hub exposes the hub for admission control and tests.
func (s *Server) Hub() *Hub {
	return s.hub
}

// Handler builds the full HTTP routing tree.
func (s *Server) Handler() http.Handler {
	r := chi.NewRouter()
	r.Use(middleware.RequestID)
	r.Use(middleware.RealIP)
	r.Use(middleware.Recoverer)
	r.Use(s.countRequests)
	r.Use(rvmw.Metrics(
		rvmw.WithNamespace(s.metricsConfig.Namespace),
		rvmw.WithConstLabels(s.metricsConfig.ConstLabels),
		rvmw.WithRegistry(s.metricsConfig.Registry),
	))
	// WebSocket connections live for hours; a per-connection span is
	// useless. Per-event spans come from the hub.
	r.Use(rvmw.OTel(rvmw.WithFilter(func(r *http.Request) bool {
		return r.URL.Path != "/ws"
	})))

	r.Get("/ws", s.handleWS)
	r.Get("/healthz", s.handleHealthz)
	r.Handle("/metrics", promhttp.Handler())

	if s.config.AdminPassword != "" {
		r.Route("/admin", func(r chi.Router) {
			r.Use(middleware.BasicAuth("roomverse admin", map[string]string{
				"admin": s.config.AdminPassword,
			}))
			r.Post("/kick", s.handleKick)
			r.Get("/stats", s.handleStats)
		})
	}

	return r
}

// Run starts the hub and the HTTP listener and blocks until ctx is
// cancelled, then shuts down gracefully within ShutdownTimeout.
func (s *Server) Run(ctx context.Context) error {
	s.startedAt = time.Now()

	hubCtx, cancelHub := context.WithCancel(context.Background())
	defer cancelHub()
	go s.hub.Run(hubCtx)
	s.reqRate.start(s.hub.done)

	httpServer := &http.Server{
		Addr:    s.config.Address,
		Handler: s.Handler(),
	}

	errCh := make(chan error, 1)
	go func() {
		s.logger.Info("listening", "address", s.config.Address)
		errCh <- httpServer.ListenAndServe()
	}()

	select {
	case err := <-errCh:
		return err
	case <-ctx.Done():
	}

	s.logger.Info("shutting down")
	shutCtx, cancel := context.WithTimeout(context.Background(), s.config.ShutdownTimeout)
	defer cancel()
	err := httpServer.Shutdown(shutCtx)
	cancelHub()
	if err != nil && !errors.Is(err, http.ErrServerClosed) {
		return err
	}
	return nil
}

// handleWS upgrades the connection and attaches a session to the hub.
func (s *Server) handleWS(w http.ResponseWriter, r *http.Request) {
	conn, err := s.upgrader.Upgrade(w, r, nil)
	if err != nil {
		s.logger.Error("websocket upgrade failed", "error", err)
		return
	}

	sess := newSession(conn, s.hub, s.config.SessionConfig.Clone(), s.logger)
	if err := s.hub.attach(sess); err != nil {
		s.logger.Warn("rejecting connection", "error", err)
		conn.Close()
	}
}

func (s *Server) handleHealthz(w http.ResponseWriter, r *http.Request) {
	w.Header().Set("Content-Type", "text/plain; charset=utf-8")
	w.WriteHeader(http.StatusOK)
	w.Write([]byte("ok"))
}

// countRequests feeds the per-second request rate shown by /admin/stats.
func (s *Server) countRequests(next http.Handler) http.Handler {
	return http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		s.reqRate.inc()
		next.ServeHTTP(w, r)
	})
}
