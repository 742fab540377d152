// Callpoint Core - Vessel Device Provisioning Service
//
// This is the main entry point for the Callpoint Core application.
// Callpoint provisions battery-powered call devices (buttons, wearables,
// repeaters) onto a vessel's MQTT network: it issues single-use QR
// tokens, answers claim handshakes with per-device broker credentials,
// tracks every token through its lifecycle, and can run fleets of
// simulated devices for load and acceptance testing.
package main

import (
	"context"
	"fmt"
	"os"
	"os/signal"
	"syscall"

	_ "github.com/harbourdeck/callpoint-core/migrations"

	"github.com/harbourdeck/callpoint-core/internal/api"
	"github.com/harbourdeck/callpoint-core/internal/audit"
	"github.com/harbourdeck/callpoint-core/internal/credentials"
	"github.com/harbourdeck/callpoint-core/internal/infrastructure/config"
	"github.com/harbourdeck/callpoint-core/internal/infrastructure/database"
	"github.com/harbourdeck/callpoint-core/internal/infrastructure/influxdb"
	"github.com/harbourdeck/callpoint-core/internal/infrastructure/logging"
	"github.com/harbourdeck/callpoint-core/internal/infrastructure/mqtt"
	"github.com/harbourdeck/callpoint-core/internal/monitor"
	"github.com/harbourdeck/callpoint-core/internal/provision"
	"github.com/harbourdeck/callpoint-core/internal/simulator"
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
	// Create a context that cancels on interrupt signals (Ctrl+C, SIGTERM)
	ctx, cancel := signal.NotifyContext(context.Background(), os.Interrupt, syscall.SIGTERM)
	defer cancel()

	if err := run(ctx); err != nil {
		fmt.Fprintf(os.Stderr, "Error: %v\n", err)
		os.Exit(1)
	}
}

// run is the actual application logic, separated from main for testability.
// Returning an error allows main to handle exit codes consistently.
func run(ctx context.Context) error {
	// Use default logger until config is loaded
	log := logging.Default()
	log.Info("starting Callpoint Core",
		"version", version,
		"commit", commit,
		"build_date", date,
	)

	// Load configuration
	configPath := getConfigPath()
	cfg, err := config.Load(configPath)
	if err != nil {
		return fmt.Errorf("loading config: %w", err)
	}
	log.Info("configuration loaded", "path", configPath)

	// Reinitialise logger with config settings
	log = logging.New(cfg.Logging, version)
	log.Info("logger initialised",
		"level", cfg.Logging.Level,
		"format", cfg.Logging.Format,
	)

	// Open database
	db, err := database.Open(database.Config{
		Path:        cfg.Database.Path,
		WALMode:     cfg.Database.WALMode,
		BusyTimeout: cfg.Database.BusyTimeout,
	})
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

	// Run migrations
	if migrateErr := db.Migrate(ctx); migrateErr != nil {
		return fmt.Errorf("running migrations: %w", migrateErr)
	}
	log.Info("database migrations complete")

	// Connect to MQTT broker
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
	log.Info("MQTT connected",
		"broker", fmt.Sprintf("%s:%d", cfg.MQTT.Broker.Host, cfg.MQTT.Broker.Port),
		"client_id", cfg.MQTT.Broker.ClientID,
	)

	mqttClient.SetLogger(log)
	mqttClient.SetOnConnect(func() {
		log.Info("MQTT reconnected")
	})
	mqttClient.SetOnDisconnect(func(err error) {
		log.Warn("MQTT disconnected", "error", err)
	})

	// Connect to InfluxDB (optional; provisioning works without it)
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
		log.Info("InfluxDB connected",
			"url", cfg.InfluxDB.URL,
			"org", cfg.InfluxDB.Org,
			"bucket", cfg.InfluxDB.Bucket,
		)

		influxClient.SetOnError(func(err error) {
			log.Error("InfluxDB write error", "error", err)
		})
	} else {
		log.Info("InfluxDB disabled")
	}

	// Repositories and credential issuer
	tokenRepo := provision.NewSQLiteRepository(db.DB)
	auditRepo := audit.NewSQLiteRepository(db.DB)
	credRepo := credentials.NewSQLiteRepository(db.DB)
	issuer := credentials.NewIssuer(credRepo)

	// WebSocket hub doubles as the coordinator's dashboard event sink,
	// so it is created before the coordinator and handed to the server.
	hub := api.NewHub(cfg.WebSocket, log)

	// Provisioning coordinator: domain events go to the dashboard hub
	// and the core event topic.
	coordinator := provision.New(provision.Config{
		Repo:      tokenRepo,
		Audit:     auditRepo,
		Issuer:    issuer,
		Transport: mqttClient,
		Events: provision.MultiSink{
			hub,
			&provision.TransportSink{Transport: mqttClient, Logger: log},
		},
		Logger:        log,
		Site:          cfg.Site.ID,
		AdvertiseHost: cfg.Provisioning.Advertise.Host,
		AdvertisePort: cfg.Provisioning.Advertise.Port,
	})
	if err := coordinator.Start(ctx); err != nil {
		return fmt.Errorf("starting provisioning coordinator: %w", err)
	}

	// Telemetry monitor: watches device traffic, confirms claimed
	// devices ACTIVE on their first telemetry, records gauges.
	var sink monitor.TelemetrySink
	if influxClient != nil {
		sink = influxClient
	}
	mon := monitor.New(mqttClient, coordinator, sink, log)
	if err := mon.Start(ctx); err != nil {
		return fmt.Errorf("starting telemetry monitor: %w", err)
	}

	// Simulator fleet, exposed over the admin API
	fleet := simulator.NewFleet(cfg.Simulator.MaxFleetSize, log)
	defer fleet.StopAll()

	// Admin API server
	apiServer, err := api.New(api.Deps{
		Config:      cfg.API,
		WS:          cfg.WebSocket,
		Simulator:   cfg.Simulator,
		DefaultTTL:  cfg.TokenTTL(),
		Logger:      log,
		Coordinator: coordinator,
		Fleet:       fleet,
		Transport:   mqttClient,
		Site:        cfg.Site.ID,
		ExternalHub: hub,
		Version:     version,
	})
	if err != nil {
		return fmt.Errorf("creating API server: %w", err)
	}
	if err := apiServer.Start(ctx); err != nil {
		return fmt.Errorf("starting API server: %w", err)
	}
	defer func() {
		if closeErr := apiServer.Close(); closeErr != nil {
			log.Error("error closing API server", "error", closeErr)
		}
	}()
	go hub.Run(ctx)

	// Verify all connections are healthy
	if err := healthCheck(ctx, db, mqttClient, influxClient); err != nil {
		return fmt.Errorf("health check failed: %w", err)
	}
	log.Info("all health checks passed")

	log.Info("initialisation complete, waiting for shutdown signal")

	// Wait for shutdown signal
	<-ctx.Done()

	log.Info("shutdown signal received, cleaning up")

	// Deferred Close() calls run in reverse order:
	// 1. API server (drains in-flight requests)
	// 2. Simulator fleet
	// 3. InfluxDB (if enabled)
	// 4. MQTT
	// 5. Database

	log.Info("Callpoint Core stopped")
	return nil
}

// getConfigPath returns the configuration file path.
// Uses CALLPOINT_CONFIG environment variable if set, otherwise default.
func getConfigPath() string {
	if path := os.Getenv("CALLPOINT_CONFIG"); path != "" {
		return path
	}
	return defaultConfigPath
}

// healthCheck verifies all infrastructure connections are healthy.
// influxClient may be nil when disabled.
func healthCheck(ctx context.Context, db *database.DB, mqttClient *mqtt.Client, influxClient *influxdb.Client) error {
	if err := db.HealthCheck(ctx); err != nil {
		return fmt.Errorf("database: %w", err)
	}

	if err := mqttClient.HealthCheck(ctx); err != nil {
		return fmt.Errorf("mqtt: %w", err)
	}

	if influxClient != nil {
		if err := influxClient.HealthCheck(ctx); err != nil {
			return fmt.Errorf("influxdb: %w", err)
		}
	}

	return nil
}
