package api

import (
	"context"
	"errors"
	"fmt"
	"net/http"
	"time"

	"github.com/nerrad567/jeedom-bridge/internal/audit"
	"github.com/nerrad567/jeedom-bridge/internal/bridges/jeedom"
	"github.com/nerrad567/jeedom-bridge/internal/device"
	"github.com/nerrad567/jeedom-bridge/internal/dispatch"
	"github.com/nerrad567/jeedom-bridge/internal/infrastructure/config"
	"github.com/nerrad567/jeedom-bridge/internal/infrastructure/logging"
	"github.com/nerrad567/jeedom-bridge/internal/metrics"
)

// gracefulShutdownTimeout is the maximum time to wait for in-flight requests
// to complete during shutdown.
const gracefulShutdownTimeout = 10 * time.Second

// Bridge is the part of the Jeedom bridge the API drives.
// Satisfied by *jeedom.Bridge.
type Bridge interface {
	HandleDiscovery(payload []byte) (jeedom.Outcome, error)
	HandleEvent(topic string, payload []byte) (jeedom.Update, error)
	Dispatch(ctx context.Context, req dispatch.Request) (*dispatch.Result, error)
	ReloadOverrides() (int, error)
	Stats() jeedom.BridgeStats
}

// HealthChecker is a component reported by /health.
type HealthChecker interface {
	HealthCheck(ctx context.Context) error
}

// Deps holds the dependencies required by the API server.
type Deps struct {
	Config   config.APIConfig
	Logger   *logging.Logger
	Registry *device.Registry
	Entities *device.EntityIndex
	Bridge   Bridge
	Audit    audit.Repository         // optional: GET /dispatches returns 503 without it
	Metrics  *metrics.Metrics         // optional
	Checks   map[string]HealthChecker // optional: database, influxdb...
	Version  string
}

// Server is the HTTP API server of the bridge.
//
// It exposes registry and entity inspection, entity commands, HTTP
// ingestion of Jeedom payloads (protocol "api") and override reload.
type Server struct {
	cfg       config.APIConfig
	logger    *logging.Logger
	registry  *device.Registry
	entities  *device.EntityIndex
	bridge    Bridge
	auditRepo audit.Repository
	metrics   *metrics.Metrics
	checks    map[string]HealthChecker
	version   string
	startTime time.Time
	server    *http.Server
}

// New creates a new API server with the given dependencies.
//
// The server is not started until Start() is called.
//
// Parameters:
//   - deps: Required dependencies (logger, registry, entity index, bridge)
//
// Returns:
//   - *Server: Configured server ready to start
//   - error: If required dependencies are missing
func New(deps Deps) (*Server, error) {
	if deps.Logger == nil {
		return nil, fmt.Errorf("logger is required")
	}
	if deps.Registry == nil {
		return nil, fmt.Errorf("device registry is required")
	}
	if deps.Entities == nil {
		return nil, fmt.Errorf("entity index is required")
	}
	if deps.Bridge == nil {
		return nil, fmt.Errorf("bridge is required")
	}

	return &Server{
		cfg:       deps.Config,
		logger:    deps.Logger,
		registry:  deps.Registry,
		entities:  deps.Entities,
		bridge:    deps.Bridge,
		auditRepo: deps.Audit,
		metrics:   deps.Metrics,
		checks:    deps.Checks,
		version:   deps.Version,
		startTime: time.Now(),
	}, nil
}

// Start begins listening for HTTP connections in a background goroutine.
// The server can be stopped with Close().
func (s *Server) Start(_ context.Context) error {
	s.server = &http.Server{
		Addr:              fmt.Sprintf("%s:%d", s.cfg.Host, s.cfg.Port),
		Handler:           s.buildRouter(),
		ReadTimeout:       time.Duration(s.cfg.Timeouts.Read) * time.Second,
		ReadHeaderTimeout: time.Duration(s.cfg.Timeouts.Read) * time.Second,
		WriteTimeout:      time.Duration(s.cfg.Timeouts.Write) * time.Second,
		IdleTimeout:       time.Duration(s.cfg.Timeouts.Idle) * time.Second,
	}

	go func() {
		s.logger.Info("API server starting", "address", s.server.Addr)
		if err := s.server.ListenAndServe(); err != nil && !errors.Is(err, http.ErrServerClosed) {
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
