// instrumentd hosts hardware-control instruments and the delegates that
// execute their commands.
//
// Run without arguments it is the hub: it loads the configuration, creates
// the configured instruments, supervises worker processes for process-mode
// delegates and serves the HTTP API. Run as "instrumentd delegate --name N"
// it is one of those workers, serving a single delegate over MQTT.
package main

import (
	"context"
	"errors"
	"fmt"
	"os"
	"os/signal"
	"syscall"
	"time"

	"golang.org/x/sync/errgroup"

	_ "github.com/nerrad567/gray-logic-instruments/internal/instrument/sim"
	_ "github.com/nerrad567/gray-logic-instruments/migrations"

	"github.com/nerrad567/gray-logic-instruments/internal/api"
	"github.com/nerrad567/gray-logic-instruments/internal/audit"
	"github.com/nerrad567/gray-logic-instruments/internal/auth"
	"github.com/nerrad567/gray-logic-instruments/internal/dispatch"
	"github.com/nerrad567/gray-logic-instruments/internal/dispatch/mqttlink"
	"github.com/nerrad567/gray-logic-instruments/internal/infrastructure/config"
	"github.com/nerrad567/gray-logic-instruments/internal/infrastructure/database"
	"github.com/nerrad567/gray-logic-instruments/internal/infrastructure/influxdb"
	"github.com/nerrad567/gray-logic-instruments/internal/infrastructure/logging"
	"github.com/nerrad567/gray-logic-instruments/internal/infrastructure/mqtt"
	"github.com/nerrad567/gray-logic-instruments/internal/instrument"
	"github.com/nerrad567/gray-logic-instruments/internal/process"
	"github.com/nerrad567/gray-logic-instruments/internal/snapshot"
	"github.com/nerrad567/gray-logic-instruments/internal/telemetry"
)

// Version information - set at build time via ldflags
// Example: go build -ldflags "-X main.version=1.0.0 -X main.commit=abc123"
var (
	version = "dev"
	commit  = "unknown"
	date    = "unknown"
)

// Default configuration file path
const defaultConfigPath = "configs/config.yaml"

// shutdownTimeout bounds how long instruments and delegates get to wind down.
const shutdownTimeout = 15 * time.Second

// exitError carries a process exit code out of run.
type exitError struct {
	code int
	err  error
}

func (e *exitError) Error() string { return e.err.Error() }
func (e *exitError) Unwrap() error { return e.err }

func main() {
	ctx, cancel := signal.NotifyContext(context.Background(), os.Interrupt, syscall.SIGTERM)
	defer cancel()

	var err error
	switch {
	case len(os.Args) > 1 && os.Args[1] == "delegate":
		err = runDelegate(ctx, os.Args[2:])
	case len(os.Args) > 1 && os.Args[1] == "hash-key":
		err = runHashKey(os.Args[2:], os.Stdin, os.Stdout)
	default:
		err = run(ctx)
	}
	if err != nil {
		fmt.Fprintf(os.Stderr, "Error: %v\n", err)
		var ee *exitError
		if errors.As(err, &ee) {
			os.Exit(ee.code)
		}
		os.Exit(1)
	}
}

// run is the hub, separated from main for testability.
func run(ctx context.Context) error {
	log := logging.Default()
	log.Info("starting instrumentd",
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
	if migrateErr := db.Migrate(ctx); migrateErr != nil {
		return fmt.Errorf("running migrations: %w", migrateErr)
	}
	applied, _, err := db.GetMigrationStatus(ctx)
	if err != nil {
		return fmt.Errorf("reading schema status: %w", err)
	}
	schema := ""
	if len(applied) > 0 {
		schema = applied[len(applied)-1].Version
	}
	log.Info("database ready", "path", cfg.Database.Path, "schema", schema, "migrations", len(applied))

	snapshots := snapshot.NewService(snapshot.NewSQLiteRepository(db.DB))
	snapshots.SetLogger(log.Component("snapshot"))

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
	log.Info("MQTT connected",
		"broker", fmt.Sprintf("%s:%d", cfg.MQTT.Broker.Host, cfg.MQTT.Broker.Port),
		"client_id", mqttClient.ClientID(),
	)

	recorder, closeRecorder, err := newRecorder(cfg, mqttClient, log)
	if err != nil {
		return err
	}
	defer closeRecorder()

	hub := dispatch.NewHub()
	hub.SetLogger(log.Component("dispatch"))
	hub.SetCallTimeout(cfg.GetCallTimeout())

	// Workers run under their own context so they outlive ctx long enough
	// for instruments to detach cleanly.
	workerCtx, stopWorkers := context.WithCancel(context.WithoutCancel(ctx))
	defer stopWorkers()

	supervisor, err := process.NewSupervisor(workerCtx, cfg, configPath)
	if err != nil {
		return fmt.Errorf("configuring delegate workers: %w", err)
	}
	supervisor.SetLogger(log.Component("process"))

	connector := mqttlink.NewConnector(mqttClient,
		mqttlink.WithStarter(supervisor),
		mqttlink.WithCallTimeout(cfg.GetCallTimeout()),
		mqttlink.WithAttachTimeout(cfg.GetAttachTimeout()),
		mqttlink.WithLogger(log.Component("mqttlink")),
	)
	mqttClient.SetOnDisconnect(func(err error) {
		log.Warn("MQTT disconnected", "error", err)
		connector.HandleDisconnect(err)
	})

	router := newRouter(cfg, hub, connector)
	instrument.SetDefaultConnector(router)

	instruments, err := createInstruments(ctx, cfg, router, snapshots, recorder, log)
	if err != nil {
		return err
	}
	defer func() {
		sctx, cancel := context.WithTimeout(context.WithoutCancel(ctx), shutdownTimeout)
		defer cancel()
		closeInstruments(sctx, instruments, snapshots, log)
		if err := hub.Shutdown(sctx); err != nil {
			log.Warn("delegates did not stop cleanly", "error", err)
		}
		if err := supervisor.StopAll(); err != nil {
			log.Warn("worker processes did not stop cleanly", "error", err)
		}
	}()

	if err := healthCheck(ctx, db, mqttClient); err != nil {
		return fmt.Errorf("health check failed: %w", err)
	}

	g, gctx := errgroup.WithContext(ctx)

	if cfg.API.Enabled {
		var authn *auth.Authenticator
		if cfg.API.Auth.Enabled {
			if authn, err = auth.NewAuthenticator(cfg.API.Auth); err != nil {
				return fmt.Errorf("configuring API auth: %w", err)
			}
		}
		srv, err := api.New(api.Deps{
			Config:    cfg.API,
			Logger:    log.Component("api"),
			Version:   version,
			Delegates: hub,
			Workers:   connector,
			Processes: supervisor,
			Snapshots: snapshots,
			Audit:     audit.NewSQLiteRepository(db.DB),
			Auth:      authn,
		})
		if err != nil {
			return fmt.Errorf("creating API server: %w", err)
		}
		if err := srv.Start(gctx); err != nil {
			return fmt.Errorf("starting API server: %w", err)
		}
		g.Go(func() error {
			<-gctx.Done()
			return srv.Close()
		})
	}

	g.Go(func() error {
		snapshots.Run(gctx, cfg.GetSnapshotInterval(), cfg.GetSnapshotRetention(), snapshotSources)
		return nil
	})

	log.Info("initialisation complete, waiting for shutdown signal",
		"instruments", len(instruments),
		"delegates", len(cfg.Delegates),
	)

	if err := g.Wait(); err != nil {
		return err
	}
	log.Info("instrumentd stopped")
	return nil
}

// newRouter sends process-mode delegates to the MQTT connector and
// everything else to the in-process hub.
func newRouter(cfg *config.Config, hub *dispatch.Hub, remote dispatch.Connector) *dispatch.Router {
	router := dispatch.NewRouter(hub)
	for _, d := range cfg.Delegates {
		if d.Mode == config.DelegateProcess {
			router.Route(d.Name, remote)
		}
	}
	return router
}

// newRecorder combines the InfluxDB recorder, when enabled, with the MQTT
// reading mirror. The returned function releases the InfluxDB client.
func newRecorder(cfg *config.Config, pub telemetry.Publisher, log *logging.Logger) (instrument.Recorder, func(), error) {
	mirror := telemetry.NewMQTTMirror(pub)
	mirror.SetLogger(log.Component("telemetry"))

	if !cfg.InfluxDB.Enabled {
		log.Info("InfluxDB disabled")
		return telemetry.NewFanout(mirror), func() {}, nil
	}

	influxClient, err := influxdb.Connect(cfg.InfluxDB)
	if err != nil {
		return nil, nil, fmt.Errorf("connecting to InfluxDB: %w", err)
	}
	influxClient.SetOnError(func(err error) {
		log.Error("InfluxDB write error", "error", err)
	})
	log.Info("InfluxDB connected",
		"url", cfg.InfluxDB.URL,
		"org", cfg.InfluxDB.Org,
		"bucket", cfg.InfluxDB.Bucket,
	)

	closeFn := func() {
		log.Info("closing InfluxDB connection")
		if err := influxClient.Close(); err != nil {
			log.Error("error closing InfluxDB", "error", err)
		}
	}
	return telemetry.NewFanout(influxdb.NewRecorder(influxClient), mirror), closeFn, nil
}

// createInstruments builds every configured instrument and restores its
// stored metadata. Instruments already created are closed if a later one
// fails.
func createInstruments(ctx context.Context, cfg *config.Config, conn dispatch.Connector, snapshots *snapshot.Service, recorder instrument.Recorder, log *logging.Logger) ([]*instrument.Instrument, error) {
	created := make([]*instrument.Instrument, 0, len(cfg.Instruments))
	for _, ic := range cfg.Instruments {
		inst, err := instrument.NewKind(ctx, ic.Kind, instrument.Options{
			Name:      ic.Name,
			Server:    ic.Server,
			Metadata:  ic.Metadata,
			Connector: conn,
			Logger:    log.Component("instrument"),
			Recorder:  recorder,
		})
		if err != nil {
			closeInstruments(ctx, created, nil, log)
			return nil, fmt.Errorf("creating instrument %q: %w", ic.Name, err)
		}
		if err := snapshots.Restore(ctx, inst); err != nil {
			log.Warn("restoring instrument metadata failed", "instrument", ic.Name, "error", err)
		}
		created = append(created, inst)
		log.Info("instrument ready",
			"instrument", inst.Name(),
			"kind", inst.Kind(),
			"server", inst.Server(),
		)
	}
	return created, nil
}

// closeInstruments persists metadata when snapshots is set, then closes each
// instrument.
func closeInstruments(ctx context.Context, insts []*instrument.Instrument, snapshots *snapshot.Service, log *logging.Logger) {
	for _, inst := range insts {
		if snapshots != nil {
			if err := snapshots.Persist(ctx, inst); err != nil {
				log.Warn("persisting instrument metadata failed", "instrument", inst.Name(), "error", err)
			}
		}
		if err := inst.CloseContext(ctx); err != nil {
			log.Warn("closing instrument failed", "instrument", inst.Name(), "error", err)
		}
	}
}

func snapshotSources() []snapshot.Source {
	all := instrument.All()
	srcs := make([]snapshot.Source, 0, len(all))
	for _, inst := range all {
		if !inst.Closed() {
			srcs = append(srcs, inst)
		}
	}
	return srcs
}

// getConfigPath returns the configuration file path.
// Uses INSTRUMENTS_CONFIG environment variable if set, otherwise default.
func getConfigPath() string {
	if path := os.Getenv("INSTRUMENTS_CONFIG"); path != "" {
		return path
	}
	return defaultConfigPath
}

// healthCheck verifies all infrastructure connections are healthy.
func healthCheck(ctx context.Context, db *database.DB, mqttClient *mqtt.Client) error {
	if err := db.HealthCheck(ctx); err != nil {
		return fmt.Errorf("database: %w", err)
	}
	if err := mqttClient.HealthCheck(ctx); err != nil {
		return fmt.Errorf("mqtt: %w", err)
	}
	return nil
}
