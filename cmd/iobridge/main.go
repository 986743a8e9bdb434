// Gray Logic I/O Bridge
//
// The bridge connects a touch panel, a button ring and an LED device to a
// zone indicator board. Device readings are debounced, mapped to zones and
// delivered to a single consumer goroutine; diagnostics are logged, journalled
// and mirrored to MQTT, InfluxDB and WebSocket clients.
//
// Usage:
//
//	iobridge              run the bridge
//	iobridge token [-subject name] [-ttl 15m]
//	                      print a bearer token for the control API
//	iobridge migrate up|down|status
//	                      apply, roll back one, or list journal migrations
package main

import (
	"context"
	"errors"
	"flag"
	"fmt"
	"io"
	"os"
	"os/signal"
	"syscall"
	"time"

	"golang.org/x/sync/errgroup"

	"github.com/nerrad567/gray-logic-iobridge/internal/api"
	"github.com/nerrad567/gray-logic-iobridge/internal/board"
	"github.com/nerrad567/gray-logic-iobridge/internal/consumer"
	"github.com/nerrad567/gray-logic-iobridge/internal/device"
	"github.com/nerrad567/gray-logic-iobridge/internal/diagnostic"
	"github.com/nerrad567/gray-logic-iobridge/internal/drivers/mqttin"
	"github.com/nerrad567/gray-logic-iobridge/internal/eventqueue"
	"github.com/nerrad567/gray-logic-iobridge/internal/infrastructure/config"
	"github.com/nerrad567/gray-logic-iobridge/internal/infrastructure/database"
	"github.com/nerrad567/gray-logic-iobridge/internal/infrastructure/influxdb"
	"github.com/nerrad567/gray-logic-iobridge/internal/infrastructure/logging"
	"github.com/nerrad567/gray-logic-iobridge/internal/infrastructure/mqtt"
	"github.com/nerrad567/gray-logic-iobridge/internal/journal"
	"github.com/nerrad567/gray-logic-iobridge/internal/telemetry"
	"github.com/nerrad567/gray-logic-iobridge/migrations"
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

	var err error
	switch {
	case len(os.Args) > 1 && os.Args[1] == "token":
		err = runToken(os.Args[2:], os.Stdout)
	case len(os.Args) > 1 && os.Args[1] == "migrate":
		err = runMigrate(ctx, os.Args[2:], os.Stdout)
	default:
		err = run(ctx)
	}
	if err != nil {
		fmt.Fprintf(os.Stderr, "Error: %v\n", err)
		os.Exit(1)
	}
}

// run is the actual application logic, separated from main for testability.
// It returns nil on clean shutdown.
func run(ctx context.Context) error {
	log := logging.Default()
	log.Info("starting Gray Logic I/O Bridge",
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

	// Database and journal
	db, err := database.Open(ctx, database.Config{
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

	if migrateErr := db.Migrate(ctx, migrations.FS); migrateErr != nil {
		return fmt.Errorf("running migrations: %w", migrateErr)
	}
	log.Info("database migrations complete")
	journalRepo := journal.NewSQLiteRepository(db.DB)

	// MQTT (optional)
	var mqttClient *mqtt.Client
	if cfg.MQTT.Enabled {
		mqttClient, err = mqtt.Connect(cfg.MQTT)
		if err != nil {
			return fmt.Errorf("connecting to MQTT: %w", err)
		}
		mqttClient.SetLogger(log.Component("mqtt"))
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
		mqttClient.SetOnConnect(func() {
			log.Info("MQTT reconnected")
		})
		mqttClient.SetOnDisconnect(func(err error) {
			log.Warn("MQTT disconnected", "error", err)
		})
	} else {
		log.Info("MQTT disabled")
	}

	// InfluxDB (optional)
	var influxClient *influxdb.Client
	if cfg.InfluxDB.Enabled {
		influxClient, err = influxdb.Connect(ctx, cfg.InfluxDB, cfg.Site.ID)
		if err != nil {
			return fmt.Errorf("connecting to InfluxDB: %w", err)
		}
		defer func() {
			log.Info("closing InfluxDB connection", "write_errors", influxClient.WriteErrors())
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

	// Consumer loop, board and orchestrator
	queue := eventqueue.New()
	loop := consumer.New(queue)
	loop.SetLogger(log.Component("consumer"))

	scene, err := board.LoadScene(cfg.Scene.Path)
	if err != nil {
		return fmt.Errorf("loading scene: %w", err)
	}
	b, err := board.New(board.Config{
		Scene: scene,
		Queue: queue,
		Log:   diagnostic.NewLog(cfg.Loop.LogCapacity, nil),
	})
	if err != nil {
		return fmt.Errorf("building board: %w", err)
	}
	b.SetLogger(log.Component("board"))

	orch := device.NewOrchestrator(device.Config{Zones: b.Zones()})
	orch.SetLogger(log.Component("device"))
	orch.Diagnostics().SetLogger(log.Component("diagnostic"))

	// Telemetry fan-out. The hub exists before the API server so sessions
	// connected at startup are already observed.
	var hub *api.Hub
	if cfg.API.Enabled {
		hub = api.NewHub(cfg.WebSocket, log.Component("websocket"))
	}
	pipeline := buildPipeline(cfg, journalRepo, mqttClient, influxClient, hub, loop)
	pipeline.SetLogger(log.Component("telemetry"))
	orch.SetEdgeObserver(pipeline.ObserveEdge)
	orch.Diagnostics().SetObserver(pipeline.ObserveDiagnostic)
	log.Info("telemetry pipeline ready", "sinks", pipeline.Sinks())

	// The loop and pipeline outlive the signal context so Destroy's detach
	// diagnostics are still applied and delivered.
	runCtx, stopRun := context.WithCancel(context.Background())
	defer stopRun()
	g, gctx := errgroup.WithContext(runCtx)
	g.Go(func() error {
		return loop.Run(gctx, time.Duration(cfg.Loop.TickInterval)*time.Millisecond)
	})
	g.Go(func() error {
		return pipeline.Run(gctx)
	})
	if hub != nil {
		go hub.Run(gctx)
	}

	// Devices
	var sub mqttin.Subscriber
	if mqttClient != nil {
		sub = mqttClient
	}
	devices, err := board.BuildDevices(cfg.Devices, sub)
	if err != nil {
		stopRun()
		_ = g.Wait()
		return fmt.Errorf("building devices: %w", err)
	}
	if attachErr := b.Attach(orch, devices); attachErr != nil {
		log.Warn("some devices were not registered", "error", attachErr)
	}
	if connectErr := b.Connect(ctx); connectErr != nil {
		log.Warn("some devices were rejected", "error", connectErr)
	}
	log.Info("devices connected", "configured", len(devices), "sessions", len(orch.Sessions()))

	// API server (optional)
	if cfg.API.Enabled {
		srv, apiErr := api.New(api.Deps{
			Config:       cfg.API,
			WS:           cfg.WebSocket,
			Security:     cfg.Security,
			Logger:       log,
			Loop:         loop,
			Orchestrator: orch,
			Board:        b,
			Journal:      journalRepo,
			Telemetry:    pipeline,
			DB:           db,
			Health:       healthCheckers(db, mqttClient, influxClient),
			Hub:          hub,
			QueryTimeout: time.Duration(cfg.Loop.QueryTimeout) * time.Second,
			Version:      version,
		})
		if apiErr != nil {
			orch.Destroy()
			stopRun()
			_ = g.Wait()
			return fmt.Errorf("creating API server: %w", apiErr)
		}
		if startErr := srv.Start(gctx); startErr != nil {
			orch.Destroy()
			stopRun()
			_ = g.Wait()
			return fmt.Errorf("starting API server: %w", startErr)
		}
		defer func() {
			if closeErr := srv.Close(); closeErr != nil {
				log.Error("error closing API server", "error", closeErr)
			}
		}()
	} else {
		log.Info("API disabled")
	}

	log.Info("initialisation complete, waiting for shutdown signal")

	select {
	case <-ctx.Done():
		log.Info("shutdown signal received, cleaning up")
	case <-gctx.Done():
		log.Error("background worker stopped unexpectedly")
	}

	orch.Destroy()
	stopRun()
	runErr := g.Wait()

	// The loop has stopped; this goroutine is now the only consumer.
	if n := queue.DrainAll(); n > 0 {
		log.Debug("applied late actions", "count", n)
	}
	pipeline.Flush()

	// Deferred Close() calls run in reverse order:
	// API server, InfluxDB, MQTT, database.
	if runErr != nil {
		return fmt.Errorf("running bridge: %w", runErr)
	}
	log.Info("Gray Logic I/O Bridge stopped")
	return nil
}

// buildPipeline creates the telemetry pipeline with every enabled sink.
func buildPipeline(cfg *config.Config, repo journal.Repository, mqttClient *mqtt.Client,
	influxClient *influxdb.Client, hub *api.Hub, loop *consumer.Loop) *telemetry.Pipeline {
	var sinks []telemetry.Sink
	if cfg.Telemetry.Journal {
		sinks = append(sinks, telemetry.NewJournalSink(repo))
	}
	if cfg.Telemetry.Influx && influxClient != nil {
		sinks = append(sinks, telemetry.NewInfluxSink(influxClient))
	}
	if cfg.Telemetry.MQTTMirror && mqttClient != nil {
		sinks = append(sinks, telemetry.NewMQTTSink(mqttClient))
	}
	if hub != nil {
		sinks = append(sinks, telemetry.NewBroadcastSink(hub))
	}
	tcfg := telemetry.Config{
		LoopStats: loop.Stats,
		Retention: time.Duration(cfg.Telemetry.JournalRetentionDays) * 24 * time.Hour,
	}
	if influxClient != nil {
		tcfg.StatsInterval = influxClient.StatsInterval()
	}
	return telemetry.New(tcfg, sinks...)
}

// healthCheckers returns the enabled infrastructure clients keyed by the
// name reported on /health.
func healthCheckers(db *database.DB, mqttClient *mqtt.Client, influxClient *influxdb.Client) map[string]api.HealthChecker {
	checks := map[string]api.HealthChecker{"database": db}
	if mqttClient != nil {
		checks["mqtt"] = mqttClient
	}
	if influxClient != nil {
		checks["influxdb"] = influxClient
	}
	return checks
}

// runToken prints a signed bearer token for the control API using the
// configured JWT secret.
func runToken(args []string, out io.Writer) error {
	fs := flag.NewFlagSet("token", flag.ContinueOnError)
	fs.SetOutput(io.Discard)
	subject := fs.String("subject", "operator", "token subject")
	ttl := fs.Duration("ttl", 0, "token lifetime (default security.jwt.access_token_ttl minutes)")
	if err := fs.Parse(args); err != nil {
		return fmt.Errorf("parsing token flags: %w", err)
	}

	cfg, err := config.Load(getConfigPath())
	if err != nil {
		return fmt.Errorf("loading config: %w", err)
	}
	if cfg.Security.JWT.Secret == "" {
		return errors.New("security.jwt.secret is not set")
	}
	if *ttl <= 0 {
		*ttl = time.Duration(cfg.Security.JWT.AccessTokenTTL) * time.Minute
	}

	token, err := api.IssueToken(cfg.Security.JWT.Secret, *subject, *ttl)
	if err != nil {
		return fmt.Errorf("issuing token: %w", err)
	}
	fmt.Fprintln(out, token)
	return nil
}

// runMigrate applies, rolls back or lists migrations without starting the
// bridge.
func runMigrate(ctx context.Context, args []string, out io.Writer) error {
	if len(args) != 1 {
		return errors.New("usage: iobridge migrate up|down|status")
	}

	cfg, err := config.Load(getConfigPath())
	if err != nil {
		return fmt.Errorf("loading config: %w", err)
	}
	db, err := database.Open(ctx, database.Config{
		Path:        cfg.Database.Path,
		WALMode:     cfg.Database.WALMode,
		BusyTimeout: cfg.Database.BusyTimeout,
	})
	if err != nil {
		return fmt.Errorf("opening database: %w", err)
	}
	defer db.Close()

	switch args[0] {
	case "up":
		if err := db.Migrate(ctx, migrations.FS); err != nil {
			return fmt.Errorf("running migrations: %w", err)
		}
	case "down":
		if err := db.MigrateDown(ctx, migrations.FS); err != nil {
			return fmt.Errorf("rolling back migration: %w", err)
		}
	case "status":
	default:
		return fmt.Errorf("unknown migrate command %q (want up, down or status)", args[0])
	}

	applied, pending, err := db.MigrationStatus(ctx, migrations.FS)
	if err != nil {
		return fmt.Errorf("reading migration status: %w", err)
	}
	for _, m := range applied {
		fmt.Fprintf(out, "applied  %s  %s\n", m.Version, m.AppliedAt.Format(time.RFC3339))
	}
	for _, m := range pending {
		fmt.Fprintf(out, "pending  %s  %s\n", m.Version, m.Name)
	}
	return nil
}

// getConfigPath returns the configuration file path.
// Uses IOBRIDGE_CONFIG environment variable if set, otherwise default.
func getConfigPath() string {
	if path := os.Getenv("IOBRIDGE_CONFIG"); path != "" {
		return path
	}
	return defaultConfigPath
}
