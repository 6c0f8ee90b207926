// ANPR Simulator
//
// This is the main entry point for the ANPR device emulator. It serves the
// CDK protocol over HTTP (/sync) and WebSocket (/async), keeps the emulated
// device state, and optionally mirrors events to MQTT, InfluxDB and a
// SQLite journal.
package main

import (
	"context"
	"errors"
	"fmt"
	"os"
	"os/signal"
	"syscall"
	"time"

	"github.com/nerrad567/anpr-simulator/internal/api"
	"github.com/nerrad567/anpr-simulator/internal/barrier"
	"github.com/nerrad567/anpr-simulator/internal/cdk"
	"github.com/nerrad567/anpr-simulator/internal/device"
	"github.com/nerrad567/anpr-simulator/internal/events"
	"github.com/nerrad567/anpr-simulator/internal/generator"
	"github.com/nerrad567/anpr-simulator/internal/infrastructure/config"
	"github.com/nerrad567/anpr-simulator/internal/infrastructure/database"
	"github.com/nerrad567/anpr-simulator/internal/infrastructure/influxdb"
	"github.com/nerrad567/anpr-simulator/internal/infrastructure/logging"
	"github.com/nerrad567/anpr-simulator/internal/infrastructure/mqtt"
	"github.com/nerrad567/anpr-simulator/internal/journal"
	"github.com/nerrad567/anpr-simulator/internal/relay"
	"github.com/nerrad567/anpr-simulator/internal/trigger"
	"github.com/nerrad567/anpr-simulator/migrations"
)

// Version information - set at build time via ldflags
// Example: go build -ldflags "-X main.version=1.0.0 -X main.commit=abc123"
var (
	version = "dev"
	commit  = "unknown"
	date    = "unknown"
)

// configEnv names the configuration file. Unset runs on defaults.
const configEnv = "ANPRSIM_CONFIG"

// startupCheckTimeout bounds the health checks run once everything is wired.
const startupCheckTimeout = 5 * time.Second

func main() {
	ctx, cancel := signal.NotifyContext(context.Background(), os.Interrupt, syscall.SIGTERM)
	defer cancel()

	if err := run(ctx); err != nil {
		fmt.Fprintf(os.Stderr, "Error: %v\n", err)
		os.Exit(1)
	}
}

// run loads configuration, starts the simulator and blocks until ctx is
// cancelled.
func run(ctx context.Context) error {
	log := logging.Default()
	log.Info("starting ANPR simulator",
		"version", version,
		"commit", commit,
		"build_date", date,
	)

	configPath := os.Getenv(configEnv)
	cfg, err := config.Load(configPath)
	if err != nil {
		return fmt.Errorf("loading config: %w", err)
	}
	if configPath == "" {
		log.Info("no configuration file, using defaults", "env", configEnv)
	} else {
		log.Info("configuration loaded", "path", configPath)
	}

	log = logging.New(cfg.Logging, version)

	a, err := build(ctx, cfg, log)
	if err != nil {
		return err
	}
	defer a.close()

	if err := a.start(ctx); err != nil {
		return err
	}

	log.Info("initialisation complete, waiting for shutdown signal",
		"address", a.server.Addr(),
	)
	<-ctx.Done()
	log.Info("shutdown signal received, cleaning up")
	return nil
}

// app holds every running component. Fields for disabled infrastructure
// stay nil.
type app struct {
	cfg *config.Config
	log *logging.Logger

	store       *device.Store
	broadcaster *events.Broadcaster
	barrier     *barrier.Timer
	triggers    *trigger.Manager
	generator   *generator.Generator
	dispatcher  *cdk.Dispatcher

	db     *database.DB
	mqtt   *mqtt.Client
	influx *influxdb.Client
	relay  *relay.Relay
	server *api.Server

	checks  map[string]api.HealthChecker
	closers []func()
}

// build wires the core components and connects the enabled infrastructure.
// On error everything built so far is closed.
func build(ctx context.Context, cfg *config.Config, log *logging.Logger) (_ *app, err error) {
	a := &app{
		cfg:    cfg,
		log:    log,
		checks: make(map[string]api.HealthChecker),
	}
	defer func() {
		if err != nil {
			a.close()
		}
	}()

	if err := a.buildCore(); err != nil {
		return nil, err
	}

	var sinks []relay.Sink
	if cfg.Journal.Enabled {
		sink, err := a.openJournal(ctx)
		if err != nil {
			return nil, err
		}
		sinks = append(sinks, sink)
	} else {
		log.Info("event journal disabled")
	}

	if cfg.MQTT.Enabled {
		sink, err := a.connectMQTT(ctx)
		if err != nil {
			return nil, err
		}
		sinks = append(sinks, sink)
	} else {
		log.Info("MQTT mirror disabled")
	}

	if cfg.InfluxDB.Enabled {
		sink, err := a.connectInfluxDB()
		if err != nil {
			return nil, err
		}
		sinks = append(sinks, sink)
	} else {
		log.Info("InfluxDB disabled")
	}

	a.relay, err = relay.New(a.broadcaster, sinks...)
	if err != nil {
		return nil, fmt.Errorf("creating event relay: %w", err)
	}
	a.relay.SetLogger(log.Component("relay"))
	a.closers = append(a.closers, a.relay.Stop)

	var repo journal.Repository
	if a.db != nil {
		repo = journal.NewSQLiteRepository(a.db.DB, cfg.Journal.MaxEntries)
	}

	a.server, err = api.New(api.Deps{
		Config:      cfg.API,
		WS:          cfg.WebSocket,
		Logger:      log.Component("api"),
		Version:     version,
		Store:       a.store,
		Barrier:     a.barrier,
		Triggers:    a.triggers,
		Generator:   a.generator,
		Broadcaster: a.broadcaster,
		Dispatcher:  a.dispatcher,
		Journal:     repo,
		Checks:      a.checks,
	})
	if err != nil {
		return nil, fmt.Errorf("creating API server: %w", err)
	}
	return a, nil
}

// buildCore creates the device state and everything that acts on it.
func (a *app) buildCore() error {
	cfg := a.cfg

	store, err := device.NewStore(device.Options{
		Identity: device.Identity{
			Name:            cfg.Device.Name,
			Type:            cfg.Device.Type,
			Serial:          cfg.Device.Serial,
			FirmwareVersion: cfg.Device.FirmwareVersion,
			MACAddress:      cfg.Device.MACAddress,
			IPAddress:       cfg.Device.IPAddress,
			HTTPPort:        cfg.API.Port,
		},
		Simulation: settingsFromConfig(cfg),
	})
	if err != nil {
		return fmt.Errorf("creating device state: %w", err)
	}
	store.SetLogger(a.log.Component("device"))
	a.store = store

	a.broadcaster = events.New(events.Options{
		QueueSize: cfg.WebSocket.SendBuffer,
		Overflow:  events.OverflowPolicy(cfg.WebSocket.OverflowPolicy),
	})
	a.broadcaster.SetLogger(a.log.Component("events"))
	a.closers = append(a.closers, a.broadcaster.Close)

	a.barrier = barrier.New(store, a.broadcaster)
	a.barrier.SetLogger(a.log.Component("barrier"))
	a.closers = append(a.closers, a.barrier.Close)

	a.triggers = trigger.NewManager(store, a.broadcaster, trigger.Options{
		Retention: cfg.TriggerRetention(),
	})
	a.triggers.SetLogger(a.log.Component("trigger"))
	a.triggers.StartCleanupRoutine(0)
	a.closers = append(a.closers, a.triggers.Close)

	a.generator = generator.New(store, a.triggers, a.broadcaster)
	a.generator.SetLogger(a.log.Component("generator"))
	a.closers = append(a.closers, a.generator.Close)

	a.dispatcher, err = cdk.New(cdk.Deps{
		Store:                 store,
		Barrier:               a.barrier,
		Triggers:              a.triggers,
		Broadcaster:           a.broadcaster,
		Logger:                a.log.Component("cdk"),
		DefaultTriggerTimeout: time.Duration(cfg.Triggers.DefaultTimeoutMS) * time.Millisecond,
		MaxTriggerTimeout:     time.Duration(cfg.Triggers.MaxTimeoutMS) * time.Millisecond,
	})
	if err != nil {
		return fmt.Errorf("creating command dispatcher: %w", err)
	}
	return nil
}

// settingsFromConfig maps the simulation section onto the device settings.
func settingsFromConfig(cfg *config.Config) device.Settings {
	sim := cfg.Simulation
	return device.Settings{
		SuccessRate:   sim.SuccessRate,
		ErrorRate:     sim.ErrorRate,
		Plates:        sim.Plates,
		PlatePattern:  sim.PlatePattern,
		Context:       sim.Context,
		Reliability:   sim.PlateReliability,
		BarrierOpenMS: sim.BarrierOpenMS,
		GeneratorRate: sim.GeneratorRate,
		CameraID:      cfg.Device.CameraID,
	}
}

// openJournal opens and migrates the journal database.
func (a *app) openJournal(ctx context.Context) (relay.Sink, error) {
	db, err := database.Open(database.Config{
		Path:        a.cfg.Journal.Path,
		WALMode:     true,
		BusyTimeout: a.cfg.Journal.BusyTimeout,
	})
	if err != nil {
		return nil, fmt.Errorf("opening journal database: %w", err)
	}
	a.db = db
	a.closers = append(a.closers, func() {
		a.log.Info("closing journal database")
		if closeErr := db.Close(); closeErr != nil {
			a.log.Error("error closing journal database", "error", closeErr)
		}
	})

	if err := db.Migrate(ctx, migrations.FS, migrations.Dir); err != nil {
		return nil, fmt.Errorf("running migrations: %w", err)
	}
	a.checks["journal"] = db

	path := a.cfg.Journal.Path
	if path == "" {
		path = ":memory:"
	}
	a.log.Info("event journal ready", "path", path, "max_entries", a.cfg.Journal.MaxEntries)

	return relay.JournalSink{Repo: journal.NewSQLiteRepository(db.DB, a.cfg.Journal.MaxEntries)}, nil
}

// connectMQTT connects the event mirror and serves CDK commands from the
// command topic. Commands still in flight when ctx ends are answered with
// an internal fault.
func (a *app) connectMQTT(ctx context.Context) (relay.Sink, error) {
	client, err := mqtt.Connect(a.cfg.MQTT)
	if err != nil {
		return nil, fmt.Errorf("connecting to MQTT: %w", err)
	}
	a.mqtt = client
	a.closers = append(a.closers, func() {
		a.log.Info("disconnecting from MQTT")
		if closeErr := client.Close(); closeErr != nil {
			a.log.Error("error closing MQTT", "error", closeErr)
		}
	})

	mqttLog := a.log.Component("mqtt")
	client.SetLogger(mqttLog)
	client.SetOnConnect(func() {
		mqttLog.Info("MQTT reconnected")
	})
	client.SetOnDisconnect(func(err error) {
		mqttLog.Warn("MQTT disconnected", "error", err)
	})

	origin := cdk.Origin{Channel: cdk.ChannelMQTT, Remote: a.cfg.MQTT.Broker.Host}
	err = client.ServeCommands(func(payload []byte) []byte {
		res := a.dispatcher.HandleMessage(ctx, origin, payload)
		data, err := res.Marshal()
		if err != nil {
			mqttLog.Error("encoding MQTT answer failed", "command", res.Command, "error", err)
			return nil
		}
		return data
	})
	if err != nil {
		return nil, fmt.Errorf("serving MQTT commands: %w", err)
	}
	a.checks["mqtt"] = client

	a.log.Info("MQTT connected",
		"broker", fmt.Sprintf("%s:%d", a.cfg.MQTT.Broker.Host, a.cfg.MQTT.Broker.Port),
		"client_id", a.cfg.MQTT.Broker.ClientID,
		"command_topic", client.Topics().Command(),
	)
	return relay.MirrorSink{Publisher: client}, nil
}

// connectInfluxDB connects the recognition metrics writer.
func (a *app) connectInfluxDB() (relay.Sink, error) {
	client, err := influxdb.Connect(a.cfg.InfluxDB)
	if err != nil {
		return nil, fmt.Errorf("connecting to InfluxDB: %w", err)
	}
	a.influx = client
	a.closers = append(a.closers, func() {
		a.log.Info("closing InfluxDB connection")
		if closeErr := client.Close(); closeErr != nil {
			a.log.Error("error closing InfluxDB", "error", closeErr)
		}
	})

	influxLog := a.log.Component("influxdb")
	client.SetOnError(func(err error) {
		influxLog.Error("InfluxDB write error", "error", err)
	})
	a.checks["influxdb"] = client

	a.log.Info("InfluxDB connected",
		"url", a.cfg.InfluxDB.URL,
		"org", a.cfg.InfluxDB.Org,
		"bucket", a.cfg.InfluxDB.Bucket,
	)
	return relay.MetricsSink{Writer: client}, nil
}

// start runs the background parts: relay, generator and API server.
func (a *app) start(ctx context.Context) error {
	if err := a.relay.Start(ctx); err != nil {
		return fmt.Errorf("starting event relay: %w", err)
	}

	if a.cfg.Simulation.GeneratorEnabled {
		if err := a.generator.Enable(a.cfg.Simulation.GeneratorRate); err != nil {
			return fmt.Errorf("starting generator: %w", err)
		}
		a.log.Info("automatic recognitions enabled", "rate", a.cfg.Simulation.GeneratorRate)
	}

	if err := a.server.Start(ctx); err != nil {
		return fmt.Errorf("starting API server: %w", err)
	}
	a.closers = append(a.closers, func() {
		if closeErr := a.server.Close(); closeErr != nil {
			a.log.Error("error closing API server", "error", closeErr)
		}
	})

	checkCtx, cancel := context.WithTimeout(ctx, startupCheckTimeout)
	defer cancel()
	if err := a.healthCheck(checkCtx); err != nil {
		return fmt.Errorf("health check failed: %w", err)
	}
	a.log.Info("all health checks passed")
	return nil
}

// healthCheck verifies the enabled infrastructure is reachable.
func (a *app) healthCheck(ctx context.Context) error {
	var errs []error
	if err := a.server.HealthCheck(ctx); err != nil {
		errs = append(errs, fmt.Errorf("api: %w", err))
	}
	for name, c := range a.checks {
		if err := c.HealthCheck(ctx); err != nil {
			errs = append(errs, fmt.Errorf("%s: %w", name, err))
		}
	}
	return errors.Join(errs...)
}

// close releases components in reverse order of creation. It is safe to
// call more than once.
func (a *app) close() {
	for i := len(a.closers) - 1; i >= 0; i-- {
		a.closers[i]()
	}
	a.closers = nil
	a.log.Info("ANPR simulator stopped")
}
