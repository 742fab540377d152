// Package api provides the HTTP admin API and WebSocket event stream for
// Callpoint Core.
//
// It exposes provisioning token management (issue, inspect, cancel,
// delete, history), simulator fleet control, and a WebSocket feed of
// provisioning domain events to operator dashboards.
//
// The server follows the same lifecycle pattern as the other
// infrastructure components:
//
//	server, err := api.New(deps)
//	server.Start(ctx)
//	defer server.Close()
//
// Thread Safety: All methods are safe for concurrent use from multiple goroutines.
package api

import (
	"context"
	"errors"
	"fmt"
	"net/http"
	"time"

	"github.com/harbourdeck/callpoint-core/internal/infrastructure/config"
	"github.com/harbourdeck/callpoint-core/internal/infrastructure/logging"
	"github.com/harbourdeck/callpoint-core/internal/infrastructure/mqtt"
	"github.com/harbourdeck/callpoint-core/internal/provision"
	"github.com/harbourdeck/callpoint-core/internal/simulator"
)

// gracefulShutdownTimeout is the maximum time to wait for in-flight requests
// to complete during shutdown.
const gracefulShutdownTimeout = 10 * time.Second

// Deps holds the dependencies required by the API server.
type Deps struct {
	Config      config.APIConfig
	WS          config.WebSocketConfig
	Simulator   config.SimulatorConfig
	DefaultTTL  time.Duration // token lifetime when a request omits ttl_seconds
	Logger      *logging.Logger
	Coordinator *provision.Coordinator
	Fleet       *simulator.Fleet
	Transport   simulator.Transport // nil disables fleet endpoints and command relay
	Site        string
	ExternalHub *Hub // If set, the server uses this hub instead of creating its own
	Version     string
}

// Server is the HTTP admin server for Callpoint Core.
//
// It manages the HTTP listener, routes, middleware, and WebSocket hub.
// The server is created with New() and started with Start().
type Server struct {
	cfg         config.APIConfig
	wsCfg       config.WebSocketConfig
	simCfg      config.SimulatorConfig
	defaultTTL  time.Duration
	logger      *logging.Logger
	coordinator *provision.Coordinator
	fleet       *simulator.Fleet
	transport   simulator.Transport
	site        string
	version     string
	topics      mqtt.Topics
	server      *http.Server
	hub         *Hub
	externalHub bool               // true if hub was injected externally
	srvCtx      context.Context    // lifetime context for background work
	cancel      context.CancelFunc // cancels background goroutines on Close()
}

// New creates a new API server with the given dependencies.
//
// The server is not started until Start() is called.
func New(deps Deps) (*Server, error) {
	if deps.Logger == nil {
		return nil, fmt.Errorf("logger is required")
	}
	if deps.Coordinator == nil {
		return nil, fmt.Errorf("provisioning coordinator is required")
	}

	s := &Server{
		cfg:         deps.Config,
		wsCfg:       deps.WS,
		simCfg:      deps.Simulator,
		defaultTTL:  deps.DefaultTTL,
		logger:      deps.Logger.With("component", "api"),
		coordinator: deps.Coordinator,
		fleet:       deps.Fleet,
		transport:   deps.Transport,
		site:        deps.Site,
		version:     deps.Version,
	}

	// Use an externally-provided hub if available (needed when the hub is
	// wired into the coordinator's event sink before the server exists).
	if deps.ExternalHub != nil {
		s.hub = deps.ExternalHub
		s.externalHub = true
	}

	return s, nil
}

// Hub returns the server's WebSocket hub, creating it on first use. The
// hub doubles as the coordinator's event sink, so callers may need it
// before Start().
func (s *Server) Hub() *Hub {
	if s.hub == nil {
		s.hub = NewHub(s.wsCfg, s.logger)
	}
	return s.hub
}

// Start begins listening for HTTP connections.
//
// It sets up the router, starts the WebSocket hub, and launches the HTTP
// listener in a background goroutine. The server is stopped with Close().
func (s *Server) Start(ctx context.Context) error {
	// Internal context so Close() can stop background goroutines
	// independently of the parent context.
	s.srvCtx, s.cancel = context.WithCancel(ctx)

	if s.hub == nil {
		s.hub = NewHub(s.wsCfg, s.logger)
	}
	if !s.externalHub {
		go s.hub.Run(s.srvCtx)
	}

	router := s.buildRouter()

	s.server = &http.Server{
		Addr:              fmt.Sprintf("%s:%d", s.cfg.Host, s.cfg.Port),
		Handler:           router,
		ReadTimeout:       time.Duration(s.cfg.Timeouts.Read) * time.Second,
		ReadHeaderTimeout: time.Duration(s.cfg.Timeouts.Read) * time.Second,
		WriteTimeout:      time.Duration(s.cfg.Timeouts.Write) * time.Second,
		IdleTimeout:       time.Duration(s.cfg.Timeouts.Idle) * time.Second,
	}

	go func() {
		if err := s.server.ListenAndServe(); err != nil && !errors.Is(err, http.ErrServerClosed) {
			s.logger.Error("API server error", "error", err)
		}
	}()

	s.logger.Info("API server listening", "address", s.server.Addr)
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

	// Cancel background goroutines (hub, simulator loops started via API)
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

// HealthCheck verifies the API server is running and responsive.
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
