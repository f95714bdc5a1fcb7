package main

import (
	"context"
	"fmt"
	"time"

	"golang.org/x/sync/errgroup"

	"github.com/vwireiot/vwire-go/internal/api"
	"github.com/vwireiot/vwire-go/internal/infrastructure/config"
	"github.com/vwireiot/vwire-go/internal/infrastructure/database"
	"github.com/vwireiot/vwire-go/internal/infrastructure/influxdb"
	"github.com/vwireiot/vwire-go/internal/infrastructure/logging"
	"github.com/vwireiot/vwire-go/internal/metrics"
	"github.com/vwireiot/vwire-go/internal/store"
	"github.com/vwireiot/vwire-go/migrations"
	"github.com/vwireiot/vwire-go/vwire"
)

// run is the long-running agent. It returns nil on a clean shutdown.
func run(ctx context.Context, cfg *config.Config) error {
	log := logging.New(cfg.Logging, version)
	log.Info("starting vwire-agent",
		"version", version,
		"commit", commit,
		"build_date", date,
		"device", cfg.Device.Name,
		"token", logging.RedactToken(cfg.Device.AuthToken),
	)

	collector := metrics.New()
	opts := []vwire.Option{vwire.WithMetrics(collector)}

	// Backing services reported by GET /health.
	checks := make(map[string]api.HealthChecker)

	// Pin cache and outbox (optional)
	var pinStore *store.SQLiteStore
	if cfg.Database.Path != "" {
		db, err := database.Open(ctx, cfg.Database)
		if err != nil {
			return fmt.Errorf("opening database: %w", err)
		}
		defer func() {
			log.Info("closing database")
			if closeErr := db.Close(); closeErr != nil {
				log.Error("error closing database", "error", closeErr)
			}
		}()
		if err := db.Migrate(ctx, migrations.FS); err != nil {
			return fmt.Errorf("running migrations: %w", err)
		}
		pinStore = store.New(db)
		checks["database"] = db
		opts = append(opts, vwire.WithStore(pinStore))
		log.Info("pin store ready", "path", db.Path())
	} else {
		log.Info("persistence disabled")
	}

	client, err := newDeviceClient(cfg, log, opts...)
	if err != nil {
		return err
	}

	// Pin history (optional)
	if cfg.InfluxDB.Enabled {
		influx, err := influxdb.Connect(ctx, cfg.InfluxDB, cfg.Device.Name)
		if err != nil {
			return fmt.Errorf("connecting to InfluxDB: %w", err)
		}
		defer func() {
			log.Info("closing InfluxDB connection")
			if closeErr := influx.Close(); closeErr != nil {
				log.Error("error closing InfluxDB", "error", closeErr)
			}
		}()
		influx.SetOnError(func(err error) {
			log.Error("InfluxDB write error", "error", err)
		})
		client.Watch(influx.RecordPin)
		checks["influxdb"] = influx
		log.Info("InfluxDB connected", "url", cfg.InfluxDB.URL, "bucket", cfg.InfluxDB.Bucket)
	} else {
		log.Info("InfluxDB disabled")
	}

	client.OnConnected(func() {
		log.Info("connected to Vwire", "broker", client.Config().BrokerURL())
		if cfg.Agent.SyncOnConnect {
			// Hooks run on the MQTT callback goroutine; publish from our own.
			go func() {
				if err := client.SyncAll(); err != nil {
					log.Warn("pin sync failed", "error", err)
				}
			}()
		}
	})
	client.OnDisconnected(func(err error) {
		if err != nil {
			log.Warn("connection lost", "error", err)
		}
	})

	if err := scheduleUptime(client, cfg.Agent, collector); err != nil {
		return err
	}

	var apiServer *api.Server
	if cfg.API.Enabled {
		deps := api.Deps{
			Config:  cfg.API,
			WS:      cfg.WebSocket,
			Logger:  log,
			Device:  client,
			Metrics: collector,
			Checks:  checks,
			Version: version,
		}
		if pinStore != nil {
			deps.Outbox = pinStore
		}
		apiServer, err = api.New(deps)
		if err != nil {
			return fmt.Errorf("creating API server: %w", err)
		}
		if err := apiServer.Start(ctx); err != nil {
			return err
		}
	}

	g, gctx := errgroup.WithContext(ctx)
	g.Go(func() error {
		return client.Run(gctx)
	})
	if apiServer != nil {
		g.Go(func() error {
			<-gctx.Done()
			return apiServer.Close()
		})
	}

	log.Info("agent running, waiting for shutdown signal")
	if err := g.Wait(); err != nil {
		return fmt.Errorf("agent stopped: %w", err)
	}
	log.Info("vwire-agent stopped")
	return nil
}

// scheduleUptime publishes the agent uptime in seconds to a pin on the
// client's timer. A negative pin disables it.
func scheduleUptime(client *vwire.Client, cfg config.AgentConfig, collector *metrics.Collector) error {
	if cfg.UptimePin < 0 {
		return nil
	}
	started := time.Now()
	interval := time.Duration(cfg.UptimeInterval) * time.Second

	_, err := client.Timer().SetInterval(interval, func() {
		collector.TimerCallback()
		if !client.Connected() {
			return
		}
		//nolint:errcheck // failures are logged and counted by the client
		client.VirtualWrite(cfg.UptimePin, int(time.Since(started).Seconds()))
	})
	if err != nil {
		return fmt.Errorf("scheduling uptime pin: %w", err)
	}
	return nil
}
