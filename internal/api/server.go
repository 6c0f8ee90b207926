package api

import (
	"context"
	"errors"
	"fmt"
	"net"
	"net/http"
	"time"

	"github.com/nerrad567/anpr-simulator/internal/barrier"
	"github.com/nerrad567/anpr-simulator/internal/cdk"
	"github.com/nerrad567/anpr-simulator/internal/device"
	"github.com/nerrad567/anpr-simulator/internal/events"
	"github.com/nerrad567/anpr-simulator/internal/generator"
	"github.com/nerrad567/anpr-simulator/internal/infrastructure/config"
	"github.com/nerrad567/anpr-simulator/internal/infrastructure/logging"
	"github.com/nerrad567/anpr-simulator/internal/journal"
	"github.com/nerrad567/anpr-simulator/internal/trigger"
)

// gracefulShutdownTimeout bounds how long Close waits for in-flight requests.
const gracefulShutdownTimeout = 10 * time.Second

// HealthChecker is implemented by optional infrastructure (MQTT, InfluxDB,
// the journal database) whose status is reported by /api/v1/health.
type HealthChecker interface {
	HealthCheck(ctx context.Context) error
}

// Deps holds the dependencies required by the API server.
type Deps struct {
	Config  config.APIConfig
	WS      config.WebSocketConfig
	Logger  *logging.Logger
	Version string

	Store       *device.Store
	Barrier     *barrier.Timer
	Triggers    *trigger.Manager
	Generator   *generator.Generator
	Broadcaster *events.Broadcaster
	Dispatcher  *cdk.Dispatcher

	// Journal is optional; /api/v1/journal answers 503 without it.
	Journal journal.Repository

	// Checks are reported by name in the health document.
	Checks map[string]HealthChecker
}

// Server is the HTTP front of the simulator: the CDK /sync endpoint, the
// /async push channel and the control API.
type Server struct {
	cfg     config.APIConfig
	wsCfg   config.WebSocketConfig
	logger  *logging.Logger
	version string

	store       *device.Store
	barrier     *barrier.Timer
	triggers    *trigger.Manager
	generator   *generator.Generator
	broadcaster *events.Broadcaster
	dispatcher  *cdk.Dispatcher
	journal     journal.Repository
	checks      map[string]HealthChecker

	server   *http.Server
	listener net.Listener
	hub      *Hub
	cancel   context.CancelFunc
}

// New creates a new API server with the given dependencies.
//
// The server is not started until Start() is called.
func New(deps Deps) (*Server, error) {
	if deps.Logger == nil {
		return nil, fmt.Errorf("logger is required")
	}
	if deps.Store == nil {
		return nil, fmt.Errorf("device store is required")
	}
	if deps.Dispatcher == nil {
		return nil, fmt.Errorf("dispatcher is required")
	}
	if deps.Broadcaster == nil {
		return nil, fmt.Errorf("broadcaster is required")
	}
	if deps.Barrier == nil {
		return nil, fmt.Errorf("barrier timer is required")
	}
	if deps.Triggers == nil {
		return nil, fmt.Errorf("trigger manager is required")
	}
	if deps.Generator == nil {
		return nil, fmt.Errorf("generator is required")
	}

	s := &Server{
		cfg:         deps.Config,
		wsCfg:       deps.WS,
		logger:      deps.Logger,
		version:     deps.Version,
		store:       deps.Store,
		barrier:     deps.Barrier,
		triggers:    deps.Triggers,
		generator:   deps.Generator,
		broadcaster: deps.Broadcaster,
		dispatcher:  deps.Dispatcher,
		journal:     deps.Journal,
		checks:      deps.Checks,
	}
	s.hub = NewHub(s.wsCfg, s.logger)
	return s, nil
}

// Handler returns the fully wired router.
func (s *Server) Handler() http.Handler {
	return s.buildRouter()
}

// Start binds the listener and serves in a background goroutine.
//
// Binding happens synchronously so a port conflict is returned here rather
// than logged later.
func (s *Server) Start(ctx context.Context) error {
	var srvCtx context.Context
	srvCtx, s.cancel = context.WithCancel(ctx)
	go s.hub.Run(srvCtx)

	s.server = &http.Server{
		Addr:              net.JoinHostPort(s.cfg.Host, fmt.Sprint(s.cfg.Port)),
		Handler:           s.buildRouter(),
		ReadTimeout:       time.Duration(s.cfg.Timeouts.Read) * time.Second,
		ReadHeaderTimeout: time.Duration(s.cfg.Timeouts.Read) * time.Second,
		WriteTimeout:      time.Duration(s.cfg.Timeouts.Write) * time.Second,
		IdleTimeout:       time.Duration(s.cfg.Timeouts.Idle) * time.Second,
	}

	ln, err := net.Listen("tcp", s.server.Addr)
	if err != nil {
		s.cancel()
		return fmt.Errorf("listening on %s: %w", s.server.Addr, err)
	}
	s.listener = ln

	go func() {
		s.logger.Info("API server listening", "address", ln.Addr().String())
		if err := s.server.Serve(ln); err != nil && !errors.Is(err, http.ErrServerClosed) {
			s.logger.Error("API server error", "error", err)
		}
	}()
	return nil
}

// Addr returns the bound address, or "" before Start.
func (s *Server) Addr() string {
	if s.listener == nil {
		return ""
	}
	return s.listener.Addr().String()
}

// Close disconnects push-channel clients and shuts the listener down,
// waiting up to 10 seconds for in-flight requests.
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

// HealthCheck reports whether the server has been started.
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
