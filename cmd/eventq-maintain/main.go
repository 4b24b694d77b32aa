// Command eventq-maintain runs the reclaim and retention sweeps against a
// queue database.
//
// It wraps eventq.Maintainer for cron jobs and sidecar deployments where
// the consumers themselves should not run maintenance statements. With
// several replicas, pass -lock or -redis so only one performs each sweep.
package main

import (
	"context"
	"errors"
	"flag"
	"fmt"
	"net/http"
	"os"
	"os/signal"
	"syscall"
	"time"

	"github.com/redis/go-redis/v9"

	"github.com/velmie/eventq"
	"github.com/velmie/eventq/cmd/internal/clilog"
	"github.com/velmie/eventq/cmd/internal/storeconn"
	"github.com/velmie/eventq/prom"
	"github.com/velmie/eventq/redlock"
)

const (
	exitUsage = 2

	metricsReadHeaderTimeout = 5 * time.Second
)

type maintainConfig struct {
	driver          string
	dsn             string
	table           string
	checkpointTable string
	stuckThreshold  time.Duration
	retention       time.Duration
	reclaimEvery    time.Duration
	cleanupEvery    time.Duration
	lockName        string
	redisAddr       string
	metricsAddr     string
	once            bool
}

func main() {
	clilog.LoadEnv()

	var cfg maintainConfig
	var verbose bool

	flag.StringVar(&cfg.driver, "driver", clilog.EnvString("DRIVER", storeconn.DriverMySQL), "Database driver: mysql or postgres")
	flag.StringVar(&cfg.dsn, "dsn", clilog.EnvString("DSN", ""), "Database DSN")
	flag.StringVar(&cfg.table, "table", clilog.EnvString("TABLE", storeconn.DefaultTable), "Queue table name")
	flag.StringVar(&cfg.checkpointTable, "checkpoint-table", clilog.EnvString("CHECKPOINT_TABLE", storeconn.DefaultCheckpointTable), "Checkpoint table name")
	flag.DurationVar(&cfg.stuckThreshold, "stuck-threshold", clilog.EnvDuration("STUCK_THRESHOLD", 30*time.Minute), "Return claims older than this to pending")
	flag.DurationVar(&cfg.retention, "retention", clilog.EnvDuration("RETENTION", 7*24*time.Hour), "Delete completed items older than this")
	flag.DurationVar(&cfg.reclaimEvery, "reclaim-every", time.Minute, "How often to run the reclaim sweep")
	flag.DurationVar(&cfg.cleanupEvery, "cleanup-every", time.Hour, "How often to run the retention sweep")
	flag.StringVar(&cfg.lockName, "lock", "", "Database advisory lock name (empty disables locking)")
	flag.StringVar(&cfg.redisAddr, "redis", clilog.EnvString("REDIS_ADDRESS", ""), "Redis address for distributed locking instead of a database lock")
	flag.StringVar(&cfg.metricsAddr, "metrics-addr", "", "Serve Prometheus metrics on this address (empty disables)")
	flag.BoolVar(&cfg.once, "once", false, "Run one reclaim and one cleanup pass, then exit")
	flag.BoolVar(&verbose, "verbose", false, "Enable debug logging")
	flag.Parse()

	if cfg.dsn == "" {
		fmt.Fprintln(os.Stderr, "dsn is required")
		flag.Usage()
		os.Exit(exitUsage)
	}

	logger := clilog.New(verbose)
	if err := run(cfg, logger); err != nil {
		logger.Error("eventq-maintain failed", "err", err)
		os.Exit(1)
	}
}

func run(cfg maintainConfig, logger clilog.Logger) error {
	ctx, stop := signal.NotifyContext(context.Background(), os.Interrupt, syscall.SIGTERM)
	defer stop()

	conn, err := storeconn.Open(ctx, storeconn.Config{
		Driver:          cfg.driver,
		DSN:             cfg.dsn,
		Table:           cfg.table,
		CheckpointTable: cfg.checkpointTable,
	})
	if err != nil {
		return fmt.Errorf("open store: %w", err)
	}
	defer conn.Close()

	locker, err := buildLocker(conn, cfg)
	if err != nil {
		return fmt.Errorf("init locker: %w", err)
	}

	metrics := prom.NewMetrics()
	if cfg.metricsAddr != "" {
		go serveMetrics(cfg.metricsAddr, metrics, logger)
	}

	maintainer, err := eventq.NewMaintainer(conn.Store, eventq.MaintainerConfig{
		StuckThreshold:  cfg.stuckThreshold,
		Retention:       cfg.retention,
		ReclaimInterval: cfg.reclaimEvery,
		CleanupInterval: cfg.cleanupEvery,
		Locker:          locker,
		Logger:          logger,
		Metrics:         metrics,
	})
	if err != nil {
		return fmt.Errorf("init maintainer: %w", err)
	}

	if cfg.once {
		reclaimed, err := maintainer.ReclaimOnce(ctx)
		if err != nil {
			return fmt.Errorf("reclaim: %w", err)
		}
		swept, err := maintainer.CleanupOnce(ctx)
		if err != nil {
			return fmt.Errorf("cleanup: %w", err)
		}
		logger.Info("maintenance pass done", "reclaimed", reclaimed, "swept", swept)

		return nil
	}

	logger.Info("eventq-maintain running",
		"driver", cfg.driver,
		"table", cfg.table,
		"stuck_threshold", cfg.stuckThreshold,
		"retention", cfg.retention,
	)
	if err := maintainer.Run(ctx); err != nil && !errors.Is(err, context.Canceled) {
		return fmt.Errorf("run maintainer: %w", err)
	}

	return nil
}

func buildLocker(conn *storeconn.Conn, cfg maintainConfig) (eventq.Locker, error) {
	if cfg.redisAddr != "" {
		client := redis.NewClient(&redis.Options{Addr: cfg.redisAddr})

		return redlock.NewLocker(client, cfg.lockName)
	}
	if cfg.lockName == "" {
		return nil, nil
	}

	return conn.NewLocker(cfg.lockName)
}

func serveMetrics(addr string, metrics *prom.Metrics, logger clilog.Logger) {
	mux := http.NewServeMux()
	mux.Handle("/metrics", metrics.Handler())
	srv := &http.Server{
		Addr:              addr,
		Handler:           mux,
		ReadHeaderTimeout: metricsReadHeaderTimeout,
	}

	logger.Info("metrics server listening", "addr", addr)
	if err := srv.ListenAndServe(); err != nil && !errors.Is(err, http.ErrServerClosed) {
		logger.Error("metrics server failed", "err", err)
	}
}
