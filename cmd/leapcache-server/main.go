package main

import (
	"context"
	"fmt"
	"log/slog"
	"net"
	"os"
	"strconv"
	"time"

	"github.com/oklog/ulid/v2"
	"github.com/urfave/cli/v2"

	"github.com/yndnr/leapcache-go/internal/core/service"
	"github.com/yndnr/leapcache-go/internal/infra/buildinfo"
	"github.com/yndnr/leapcache-go/internal/infra/confloader"
	"github.com/yndnr/leapcache-go/internal/infra/shutdown"
	"github.com/yndnr/leapcache-go/internal/replication"
	"github.com/yndnr/leapcache-go/internal/server/config"
	"github.com/yndnr/leapcache-go/internal/server/respserver"
	"github.com/yndnr/leapcache-go/internal/storage/aof"
	"github.com/yndnr/leapcache-go/internal/storage/skiplist"
	"github.com/yndnr/leapcache-go/internal/storage/snapshot"
	"github.com/yndnr/leapcache-go/internal/telemetry/logger"
	"github.com/yndnr/leapcache-go/internal/telemetry/metric"
)

func main() {
	app := &cli.App{
		Name:    "leapcache-server",
		Usage:   "in-memory ordered key-value server speaking RESP",
		Version: buildinfo.String(),
		Flags: []cli.Flag{
			&cli.StringFlag{
				Name:    "config",
				Aliases: []string{"c"},
				Usage:   "path to YAML configuration file",
			},
			&cli.IntFlag{
				Name:    "port",
				Aliases: []string{"p"},
				Usage:   "listening port (overrides config)",
			},
			&cli.StringFlag{
				Name:    "host",
				Aliases: []string{"H"},
				Usage:   "bind address (overrides config)",
			},
			&cli.StringFlag{
				Name:    "log-level",
				Aliases: []string{"l"},
				Usage:   "log level: debug, info, warn, error",
			},
			&cli.BoolFlag{
				Name:    "daemon",
				Aliases: []string{"d"},
				Usage:   "run as a daemon (reserved)",
			},
		},
		Action: func(c *cli.Context) error {
			return run(c)
		},
	}

	if err := app.Run(os.Args); err != nil {
		fmt.Fprintf(os.Stderr, "error: %v\n", err)
		os.Exit(1)
	}
}

func run(c *cli.Context) error {
	cfg, err := loadConfig(c)
	if err != nil {
		return fmt.Errorf("load config: %w", err)
	}

	log, logCloser, err := logger.New(logger.Config{
		Level:    cfg.Log.Level,
		Format:   cfg.Log.Format,
		FilePath: cfg.Log.File,
		Console:  cfg.Log.Console,
	})
	if err != nil {
		return fmt.Errorf("init logger: %w", err)
	}
	slog.SetDefault(log)

	runID := ulid.Make().String()
	log.Info("starting leapcache-server",
		"version", buildinfo.Version,
		"commit", buildinfo.Commit,
		"run_id", runID,
		"config", c.String("config"))

	if c.Bool("daemon") {
		log.Warn("daemon mode is reserved and has no effect")
	}

	// Storage: index, snapshots, optional AOF.
	index := skiplist.New(cfg.Storage.MaxLevel)

	snapCfg := snapshot.Config{
		Path:   cfg.Storage.DataFile,
		Logger: log,
	}
	if cfg.Storage.EnablePersistence {
		snapCfg.Interval = cfg.Storage.PersistenceInterval
	}
	snapMgr, err := snapshot.NewManager(snapCfg, index)
	if err != nil {
		return fmt.Errorf("init snapshots: %w", err)
	}

	var aofLog *aof.Log
	if cfg.Storage.EnableAOF {
		aofLog, err = aof.Open(aof.Config{
			Path:          cfg.Storage.AOFFile,
			Policy:        aof.FsyncPolicy(cfg.Storage.AOFFsync),
			FsyncInterval: cfg.Storage.AOFFsyncInterval,
		})
		if err != nil {
			// Demote to non-persistent mode rather than refusing to start.
			log.Error("aof unavailable, continuing without persistence", "error", err)
			aofLog = nil
		}
	}

	store := service.NewStore(index, aofLog, snapMgr, log)
	metrics := metric.NewRegistry()
	store.SetMetrics(metrics)

	handler := respserver.NewCommandHandler(respserver.HandlerConfig{
		RequirePass: cfg.Server.RequirePass,
		Databases:   cfg.Server.Databases,
		Port:        cfg.Server.Port,
		RateLimit:   cfg.Server.RateLimit,
	}, store, metrics, runID, log)

	// Recover state: AOF first, then the snapshot fills what the log
	// does not cover (existing keys are never overwritten).
	if cfg.Storage.EnableAOF && aofLog != nil {
		applied, skipped, err := aof.Replay(cfg.Storage.AOFFile, func(verb string, args [][]byte) error {
			return handler.ApplyRecord(verb, args, service.ModeReplay)
		}, log)
		if err != nil {
			return fmt.Errorf("aof replay: %w", err)
		}
		log.Info("aof replayed", "applied", applied, "skipped", skipped)
	}
	if err := snapMgr.Load(); err != nil {
		log.Error("snapshot load failed", "error", err)
	}

	// Replication role: follower when a master address is configured.
	replMgr := replication.NewManager(replication.Config{
		Addr:           net.JoinHostPort(cfg.Server.Host, strconv.Itoa(cfg.Replication.Port)),
		MasterAddr:     cfg.Replication.MasterAddr,
		PingInterval:   cfg.Replication.PingInterval,
		BacklogSize:    cfg.Replication.BacklogSize,
		ConnectTimeout: cfg.Replication.ConnectTimeout,
		ReconnectDelay: cfg.Replication.ReconnectDelay,
	}, func(command string) error {
		return handler.ApplyLine(command, service.ModeReplica)
	}, log)
	store.SetReplicator(replMgr)

	if err := replMgr.Start(); err != nil {
		return fmt.Errorf("start replication: %w", err)
	}

	server := respserver.New(&respserver.Config{
		Addr:           net.JoinHostPort(cfg.Server.Host, strconv.Itoa(cfg.Server.Port)),
		MaxConnections: cfg.Server.MaxConnections,
		Workers:        cfg.Server.ThreadPoolSize,
	}, handler, metrics, log)

	ctx := context.Background()
	if err := server.Start(ctx); err != nil {
		return fmt.Errorf("start server: %w", err)
	}

	// Periodic tasks: snapshot dumps through the worker pool, stats
	// refresh into the metrics gauges.
	if cfg.Storage.EnablePersistence {
		snapMgr.Start(func(job func()) { server.Pool().Submit(job) })
	}
	monitorStop := make(chan struct{})
	go runMonitor(store, metrics, monitorStop)

	// Config watcher: pick up log-level edits without a restart.
	var watcher *confloader.Watcher
	if path := c.String("config"); path != "" {
		watcher, err = confloader.NewWatcher(log)
		if err != nil {
			log.Warn("config watcher unavailable", "error", err)
		} else if err := watcher.Watch(path); err != nil {
			log.Warn("config watch failed", "path", path, "error", err)
		} else {
			watcher.OnChange(func(changed string) {
				reloadLogLevel(path, log)
			})
			watcher.StartAsync()
		}
	}

	// Shutdown hooks run in reverse order of startup.
	shutdownHandler := shutdown.NewHandler(30 * time.Second)
	shutdownHandler.OnShutdown(func(ctx context.Context) error {
		if logCloser != nil {
			return logCloser.Close()
		}
		return nil
	})
	if aofLog != nil {
		shutdownHandler.OnShutdown(func(ctx context.Context) error {
			log.Info("closing aof")
			return aofLog.Close()
		})
	}
	shutdownHandler.OnShutdown(func(ctx context.Context) error {
		log.Info("stopping snapshot task")
		snapMgr.Stop()
		if cfg.Storage.EnablePersistence {
			return snapMgr.Save()
		}
		return nil
	})
	shutdownHandler.OnShutdown(func(ctx context.Context) error {
		log.Info("stopping replication")
		replMgr.Stop()
		return nil
	})
	shutdownHandler.OnShutdown(func(ctx context.Context) error {
		log.Info("stopping resp server")
		close(monitorStop)
		if watcher != nil {
			_ = watcher.Stop()
		}
		return server.Shutdown(ctx)
	})

	log.Info("server started", "addr", net.JoinHostPort(cfg.Server.Host, strconv.Itoa(cfg.Server.Port)))
	if err := shutdownHandler.Wait(); err != nil {
		log.Error("shutdown error", "error", err)
		return err
	}

	log.Info("server stopped gracefully")
	return nil
}

// loadConfig merges defaults, the optional file, environment, and CLI
// flag overrides, in ascending priority.
func loadConfig(c *cli.Context) (*config.ServerConfig, error) {
	cfg := config.Default()

	opts := []confloader.Option{}
	if path := c.String("config"); path != "" {
		opts = append(opts, confloader.WithConfigFile(path))
	}
	loader := confloader.NewLoader(opts...)

	if err := loader.Load(cfg); err != nil {
		return nil, err
	}

	overrides := map[string]any{}
	if c.IsSet("port") {
		overrides["server.port"] = c.Int("port")
	}
	if c.IsSet("host") {
		overrides["server.host"] = c.String("host")
	}
	if c.IsSet("log-level") {
		overrides["log.level"] = c.String("log-level")
	}
	if len(overrides) > 0 {
		if err := loader.LoadMap(overrides); err != nil {
			return nil, err
		}
		if err := loader.Unmarshal(cfg); err != nil {
			return nil, err
		}
	}

	if err := config.Verify(cfg); err != nil {
		return nil, fmt.Errorf("invalid configuration: %w", err)
	}
	return cfg, nil
}

// reloadLogLevel re-reads only the log level from the config file.
func reloadLogLevel(path string, log *slog.Logger) {
	loader := confloader.NewLoader(confloader.WithConfigFile(path))
	cfg := config.Default()
	if err := loader.Load(cfg); err != nil {
		log.Warn("config reload failed", "path", path, "error", err)
		return
	}
	logger.SetLevel(cfg.Log.Level)
	log.Info("log level reloaded", "level", cfg.Log.Level)
}

// runMonitor refreshes the metrics gauges from live state.
func runMonitor(store *service.Store, metrics *metric.Registry, stop <-chan struct{}) {
	ticker := time.NewTicker(5 * time.Second)
	defer ticker.Stop()
	for {
		select {
		case <-ticker.C:
			metrics.Keys.Set(float64(store.Len()))
			rs := store.Replication().Stats()
			metrics.ReplicationOffset.Set(float64(rs.Offset))
			metrics.ReplicationFollowers.Set(float64(rs.ConnectedFollowers))
			metrics.ReplicationLag.Set(rs.AverageLag)
		case <-stop:
			return
		}
	}
}
