package api

import (
	"context"
	"database/sql"
	"errors"
	"fmt"
	"net/http"
	"time"

	"github.com/nerrad567/gray-logic-iobridge/internal/board"
	"github.com/nerrad567/gray-logic-iobridge/internal/consumer"
	"github.com/nerrad567/gray-logic-iobridge/internal/device"
	"github.com/nerrad567/gray-logic-iobridge/internal/infrastructure/config"
	"github.com/nerrad567/gray-logic-iobridge/internal/infrastructure/logging"
	"github.com/nerrad567/gray-logic-iobridge/internal/journal"
	"github.com/nerrad567/gray-logic-iobridge/internal/telemetry"
)

// gracefulShutdownTimeout is the maximum time to wait for in-flight requests
// to complete during shutdown.
const gracefulShutdownTimeout = 10 * time.Second

// defaultQueryTimeout bounds reads of consumer-owned state when Deps leaves
// QueryTimeout unset.
const defaultQueryTimeout = 5 * time.Second

// HealthChecker is implemented by infrastructure clients reported on /health.
type HealthChecker interface {
	HealthCheck(ctx context.Context) error
}

// DBStatser exposes connection pool statistics for /metrics.
type DBStatser interface {
	Stats() sql.DBStats
}

// Deps holds the dependencies required by the API server.
type Deps struct {
	Config   config.APIConfig
	WS       config.WebSocketConfig
	Security config.SecurityConfig
	Logger   *logging.Logger

	// Loop runs reads of indicators and the diagnostic log. Required.
	Loop *consumer.Loop

	Orchestrator *device.Orchestrator // required
	Board        *board.Board         // required

	Journal   journal.Repository       // optional
	Telemetry *telemetry.Pipeline      // optional
	DB        DBStatser                // optional
	Health    map[string]HealthChecker // optional, reported by name

	// Hub, if set, is used instead of creating one, so the telemetry
	// pipeline can broadcast before the server starts.
	Hub *Hub

	QueryTimeout time.Duration
	Version      string
}

// Server is the HTTP API server for the bridge.
//
// It manages the HTTP listener, routes, middleware, and WebSocket hub.
// The server is created with New() and started with Start().
type Server struct {
	cfg          config.APIConfig
	wsCfg        config.WebSocketConfig
	secCfg       config.SecurityConfig
	logger       *logging.Logger
	loop         *consumer.Loop
	orch         *device.Orchestrator
	board        *board.Board
	journal      journal.Repository
	telemetry    *telemetry.Pipeline
	db           DBStatser
	health       map[string]HealthChecker
	queryTimeout time.Duration
	version      string
	startTime    time.Time

	hub         *Hub
	externalHub bool
	tickets     *ticketStore
	server      *http.Server
	cancel      context.CancelFunc
}

// New creates a new API server with the given dependencies.
//
// The server is not started until Start() is called.
func New(deps Deps) (*Server, error) {
	if deps.Logger == nil {
		return nil, fmt.Errorf("logger is required")
	}
	if deps.Loop == nil {
		return nil, fmt.Errorf("consumer loop is required")
	}
	if deps.Orchestrator == nil {
		return nil, fmt.Errorf("orchestrator is required")
	}
	if deps.Board == nil {
		return nil, fmt.Errorf("board is required")
	}
	if deps.QueryTimeout <= 0 {
		deps.QueryTimeout = defaultQueryTimeout
	}

	s := &Server{
		cfg:          deps.Config,
		wsCfg:        deps.WS,
		secCfg:       deps.Security,
		logger:       deps.Logger.Component("api"),
		loop:         deps.Loop,
		orch:         deps.Orchestrator,
		board:        deps.Board,
		journal:      deps.Journal,
		telemetry:    deps.Telemetry,
		db:           deps.DB,
		health:       deps.Health,
		queryTimeout: deps.QueryTimeout,
		version:      deps.Version,
		startTime:    time.Now(),
		tickets:      newTicketStore(),
	}
	if deps.Hub != nil {
		s.hub = deps.Hub
		s.externalHub = true
	} else {
		s.hub = NewHub(s.wsCfg, s.logger)
	}
	return s, nil
}

// Hub returns the WebSocket hub.
func (s *Server) Hub() *Hub {
	return s.hub
}

// Handler returns the routed handler without starting a listener.
func (s *Server) Handler() http.Handler {
	return s.buildRouter()
}

// Start begins listening for HTTP connections in a background goroutine.
// The server can be stopped with Close().
func (s *Server) Start(ctx context.Context) error {
	var srvCtx context.Context
	srvCtx, s.cancel = context.WithCancel(ctx)

	if !s.externalHub {
		go s.hub.Run(srvCtx)
	}
	go s.tickets.cleanLoop(srvCtx)

	s.server = &http.Server{
		Addr:              fmt.Sprintf("%s:%d", s.cfg.Host, s.cfg.Port),
		Handler:           s.buildRouter(),
		ReadTimeout:       time.Duration(s.cfg.Timeouts.Read) * time.Second,
		ReadHeaderTimeout: time.Duration(s.cfg.Timeouts.Read) * time.Second,
		WriteTimeout:      time.Duration(s.cfg.Timeouts.Write) * time.Second,
		IdleTimeout:       time.Duration(s.cfg.Timeouts.Idle) * time.Second,
	}

	go func() {
		var err error
		if s.cfg.TLS.Enabled {
			s.logger.Info("API server starting with TLS",
				"address", s.server.Addr,
				"cert", s.cfg.TLS.CertFile,
			)
			err = s.server.ListenAndServeTLS(s.cfg.TLS.CertFile, s.cfg.TLS.KeyFile)
		} else {
			s.logger.Info("API server starting", "address", s.server.Addr)
			err = s.server.ListenAndServe()
		}
		if err != nil && !errors.Is(err, http.ErrServerClosed) {
			s.logger.Error("API server error", "error", err)
		}
	}()

	return nil
}

// Close gracefully shuts down the API server.
//
// It waits up to 10 seconds for in-flight requests to complete,
// then forcefully closes remaining connections.
func (s *Server) Close() error {
	if s.server == nil {
		return nil
	}
	if s.cancel != nil {
		s.cancel()
	}

	ctx, cancel := context.WithTimeout(context.Background(), gracefulShutdownTimeout)
	defer cancel()

	s.logger.Info("API server shutting down")
	if err := s.server.Shutdown(ctx); err != nil {
		return fmt.Errorf("shutting down API server: %w", err)
	}
	return nil
}

// HealthCheck verifies the API server is running.
func (s *Server) HealthCheck(ctx context.Context) error {
	select {
	case <-ctx.Done():
		return fmt.Errorf("api health check: %w", ctx.Err())
	default:
	}

	if s.server == nil {
		return fmt.Errorf("api server not started")
	}
	return nil
}

// query runs fn on the consumer goroutine, bounded by the request context
// and the configured query timeout.
func (s *Server) query(ctx context.Context, fn func()) error {
	ctx, cancel := context.WithTimeout(ctx, s.queryTimeout)
	defer cancel()
	return s.loop.Query(ctx, fn)
}
