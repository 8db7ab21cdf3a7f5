// Jeedom Bridge - discovery and dispatch engine for Jeedom home automation
//
// The bridge listens to the Jeedom MQTT plugin (or accepts the same
// payloads over HTTP), classifies every announced equipment into typed
// entities, keeps their state in sync with value events and forwards
// entity commands back to Jeedom over JSON-RPC with an HTTP fallback.
//
// Signals:
//   - SIGINT, SIGTERM: graceful shutdown
//   - SIGHUP: reload the override document and reclassify every device
package main

import (
	"context"
	"errors"
	"fmt"
	"os"
	"os/signal"
	"syscall"

	_ "github.com/nerrad567/jeedom-bridge/migrations"

	"github.com/nerrad567/jeedom-bridge/internal/api"
	"github.com/nerrad567/jeedom-bridge/internal/audit"
	"github.com/nerrad567/jeedom-bridge/internal/bridges/jeedom"
	"github.com/nerrad567/jeedom-bridge/internal/device"
	"github.com/nerrad567/jeedom-bridge/internal/dispatch"
	"github.com/nerrad567/jeedom-bridge/internal/infrastructure/config"
	"github.com/nerrad567/jeedom-bridge/internal/infrastructure/database"
	"github.com/nerrad567/jeedom-bridge/internal/infrastructure/influxdb"
	"github.com/nerrad567/jeedom-bridge/internal/infrastructure/logging"
	"github.com/nerrad567/jeedom-bridge/internal/infrastructure/mqtt"
	"github.com/nerrad567/jeedom-bridge/internal/metrics"
	"github.com/nerrad567/jeedom-bridge/internal/overrides"
)

// Version information - set at build time via ldflags
// Example: go build -ldflags "-X main.version=1.0.0 -X main.commit=abc123"
var (
	version = "dev"     // Semantic version (e.g., "1.0.0")
	commit  = "unknown" // Git commit hash
	date    = "unknown" // Build date
)

// Default configuration file path
const defaultConfigPath = "configs/config.yaml"

func main() {
	ctx, cancel := signal.NotifyContext(context.Background(), os.Interrupt, syscall.SIGTERM)
	defer cancel()

	if err := run(ctx); err != nil {
		fmt.Fprintf(os.Stderr, "Error: %v\n", err)
		os.Exit(1)
	}
}

// run is the actual application logic, separated from main for testability.
//
// Parameters:
//   - ctx: Context for cancellation and shutdown signals
//
// Returns:
//   - error: nil on clean shutdown, or error describing failure
func run(ctx context.Context) error { //nolint:gocognit,gocyclo // linear startup sequence
	// Use default logger until config is loaded
	log := logging.Default()
	log.Info("starting Jeedom bridge",
		"version", version,
		"commit", commit,
		"build_date", date,
	)

	configPath := getConfigPath()
	cfg, err := config.Load(configPath)
	if err != nil {
		return fmt.Errorf("loading config: %w", err)
	}
	log.Info("configuration loaded", "path", configPath)

	log = logging.New(cfg.Logging, version)
	log.Info("logger initialised",
		"level", cfg.Logging.Level,
		"format", cfg.Logging.Format,
	)

	// A malformed override document is fatal at startup; a missing path
	// means no filtering.
	resolver, err := overrides.Load(cfg.Jeedom.ConfigPath)
	if err != nil {
		return fmt.Errorf("loading overrides: %w", err)
	}
	log.Info("overrides loaded",
		"path", resolver.Source(),
		"rules", resolver.RuleCount(),
	)

	db, err := database.Open(database.ConfigFrom(cfg.Database))
	if err != nil {
		return fmt.Errorf("opening database: %w", err)
	}
	defer func() {
		log.Info("closing database")
		if closeErr := db.Close(); closeErr != nil {
			log.Error("error closing database", "error", closeErr)
		}
	}()
	log.Info("database connected", "path", cfg.Database.Path)

	if migrateErr := db.Migrate(ctx); migrateErr != nil {
		return fmt.Errorf("running migrations: %w", migrateErr)
	}
	log.Info("database migrations complete")

	mqttClient, err := mqtt.Connect(cfg.MQTT)
	if err != nil {
		return fmt.Errorf("connecting to MQTT: %w", err)
	}
	defer func() {
		log.Info("disconnecting from MQTT")
		if closeErr := mqttClient.Close(); closeErr != nil {
			log.Error("error closing MQTT", "error", closeErr)
		}
	}()
	mqttClient.SetLogger(log.Component("mqtt"))
	mqttClient.SetOnConnect(func() {
		log.Info("MQTT reconnected")
	})
	mqttClient.SetOnDisconnect(func(err error) {
		log.Warn("MQTT disconnected", "error", err)
	})
	log.Info("MQTT connected",
		"broker", fmt.Sprintf("%s:%d", cfg.MQTT.Broker.Host, cfg.MQTT.Broker.Port),
		"client_id", cfg.MQTT.Broker.ClientID,
	)

	// Connect to InfluxDB (optional)
	var influxClient *influxdb.Client
	if cfg.InfluxDB.Enabled {
		influxClient, err = influxdb.Connect(cfg.InfluxDB)
		if err != nil {
			return fmt.Errorf("connecting to InfluxDB: %w", err)
		}
		defer func() {
			log.Info("closing InfluxDB connection")
			if closeErr := influxClient.Close(); closeErr != nil {
				log.Error("error closing InfluxDB", "error", closeErr)
			}
		}()
		influxClient.SetOnError(func(err error) {
			log.Error("InfluxDB write error", "error", err)
		})
		log.Info("InfluxDB connected",
			"url", cfg.InfluxDB.URL,
			"org", cfg.InfluxDB.Org,
			"bucket", cfg.InfluxDB.Bucket,
		)
	} else {
		log.Info("InfluxDB disabled")
	}

	m := metrics.New()
	registry := device.NewRegistry()
	registry.SetLogger(log.Component("registry"))
	entities := device.NewEntityIndex()
	auditRepo := audit.NewSQLiteRepository(db.DB)

	dispatchOpts := dispatch.Options{
		Entities: entities,
		Config:   &cfg.Jeedom,
		Recorder: auditRepo,
		Metrics:  m,
		Logger:   log.Component("dispatch"),
	}
	bridgeOpts := jeedom.BridgeOptions{
		Config:     cfg,
		MQTTClient: &mqttBridgeAdapter{client: mqttClient},
		Registry:   registry,
		Index:      entities,
		Resolver:   resolver,
		Store:      device.NewSQLiteDiscoveryStore(db.DB),
		Metrics:    m,
		Logger:     log.Component("jeedom"),
	}
	// Leave the interfaces nil rather than holding a nil *influxdb.Client.
	if influxClient != nil {
		dispatchOpts.Sampler = influxClient
		bridgeOpts.Sampler = influxClient
	}

	dispatcher, err := dispatch.New(dispatchOpts)
	if err != nil {
		return fmt.Errorf("creating dispatcher: %w", err)
	}
	bridgeOpts.Dispatcher = dispatcher
	log.Info("dispatcher ready",
		"jeedom", cfg.Jeedom.BaseURL(),
		"api_key", logging.RedactKey(cfg.Jeedom.APIKey),
		"jsonrpc", cfg.Jeedom.UseJSONRPC,
		"fallback", cfg.Jeedom.UseJSONRPC && cfg.Jeedom.JSONRPCFallback,
	)

	bridge, err := jeedom.NewBridge(bridgeOpts)
	if err != nil {
		return fmt.Errorf("creating Jeedom bridge: %w", err)
	}
	if err := bridge.Start(ctx); err != nil {
		return fmt.Errorf("starting Jeedom bridge: %w", err)
	}
	defer func() {
		log.Info("stopping Jeedom bridge")
		bridge.Stop()
	}()

	checks := map[string]api.HealthChecker{
		"database": db,
		"mqtt":     mqttClient,
	}
	if influxClient != nil {
		checks["influxdb"] = influxClient
	}

	if cfg.API.Enabled {
		srv, apiErr := api.New(api.Deps{
			Config:   cfg.API,
			Logger:   log.Component("api"),
			Registry: registry,
			Entities: entities,
			Bridge:   bridge,
			Audit:    auditRepo,
			Metrics:  m,
			Checks:   checks,
			Version:  version,
		})
		if apiErr != nil {
			return fmt.Errorf("creating API server: %w", apiErr)
		}
		if startErr := srv.Start(ctx); startErr != nil {
			return fmt.Errorf("starting API server: %w", startErr)
		}
		defer func() {
			if closeErr := srv.Close(); closeErr != nil {
				log.Error("error closing API server", "error", closeErr)
			}
		}()
	} else {
		log.Info("API server disabled")
	}

	if err := healthCheck(ctx, checks); err != nil {
		return fmt.Errorf("health check failed: %w", err)
	}
	log.Info("all health checks passed")

	log.Info("initialisation complete, waiting for shutdown signal")
	waitForShutdown(ctx, bridge, log)

	log.Info("shutdown signal received, cleaning up")

	// Deferred calls run in reverse order: API server, bridge, InfluxDB,
	// MQTT, database.

	log.Info("Jeedom bridge stopped")
	return nil
}

// overrideReloader is the part of the bridge SIGHUP drives.
type overrideReloader interface {
	ReloadOverrides() (int, error)
}

// waitForShutdown blocks until ctx is cancelled, reloading overrides on
// every SIGHUP. A rejected document keeps the previous one active.
func waitForShutdown(ctx context.Context, r overrideReloader, log *logging.Logger) {
	hup := make(chan os.Signal, 1)
	signal.Notify(hup, syscall.SIGHUP)
	defer signal.Stop(hup)

	for {
		select {
		case <-ctx.Done():
			return
		case <-hup:
			n, err := r.ReloadOverrides()
			if err != nil {
				log.Error("override reload failed", "error", err)
				continue
			}
			log.Info("override reload complete", "devices", n)
		}
	}
}

// getConfigPath returns the configuration file path.
// Uses JEEDOMBRIDGE_CONFIG environment variable if set, otherwise default.
func getConfigPath() string {
	if path := os.Getenv("JEEDOMBRIDGE_CONFIG"); path != "" {
		return path
	}
	return defaultConfigPath
}

// healthCheck verifies every infrastructure connection is healthy.
//
// Returns:
//   - error: All failing components joined, or nil if all healthy
func healthCheck(ctx context.Context, checks map[string]api.HealthChecker) error {
	var errs []error
	for name, check := range checks {
		if err := check.HealthCheck(ctx); err != nil {
			errs = append(errs, fmt.Errorf("%s: %w", name, err))
		}
	}
	return errors.Join(errs...)
}

// mqttBridgeAdapter adapts the infrastructure MQTT client to the Jeedom
// bridge's MQTTClient interface. The primary difference is the Subscribe
// handler signature:
//   - Infrastructure mqtt: func(topic, payload []byte) error
//   - Jeedom bridge expects: func(topic, payload []byte)
type mqttBridgeAdapter struct {
	client *mqtt.Client
}

// Publish implements jeedom.MQTTClient.
func (a *mqttBridgeAdapter) Publish(topic string, payload []byte, qos byte, retained bool) error {
	return a.client.Publish(topic, payload, qos, retained)
}

// Subscribe implements jeedom.MQTTClient.
func (a *mqttBridgeAdapter) Subscribe(topic string, qos byte, handler func(topic string, payload []byte)) error {
	return a.client.Subscribe(topic, qos, func(t string, p []byte) error {
		handler(t, p)
		return nil
	})
}

// IsConnected implements jeedom.MQTTClient.
func (a *mqttBridgeAdapter) IsConnected() bool {
	return a.client.IsConnected()
}

// Disconnect implements jeedom.MQTTClient.
// The client lifecycle belongs to run's defer chain, so this is a no-op.
func (a *mqttBridgeAdapter) Disconnect(_ uint) {}
