package main

import (
	"context"
	"errors"
	"net/http"
	"os"
	"os/signal"
	"syscall"
	"time"

	"github.com/prometheus/client_golang/prometheus/promhttp"
	"go.uber.org/zap"

	"github.com/park285/gammon-analysis-bot/internal/analysis"
	appcfg "github.com/park285/gammon-analysis-bot/internal/config"
	"github.com/park285/gammon-analysis-bot/internal/filesync"
	"github.com/park285/gammon-analysis-bot/internal/gammon/engine"
	"github.com/park285/gammon-analysis-bot/internal/jobqueue"
	"github.com/park285/gammon-analysis-bot/internal/ledger"
	"github.com/park285/gammon-analysis-bot/internal/metrics"
	"github.com/park285/gammon-analysis-bot/internal/obslog"
	"github.com/park285/gammon-analysis-bot/internal/render"
	"github.com/park285/gammon-analysis-bot/internal/worker"
)

func main() {
	if err := run(); err != nil {
		obslog.L().Error("analysis_worker_exit", zap.Error(err))
		_ = obslog.L().Sync()
		os.Exit(1)
	}
}

func run() error {
	logger, err := obslog.InitFromEnv("analysis-worker")
	if err != nil {
		return err
	}
	defer func() { _ = logger.Sync() }()

	cfg, err := appcfg.LoadWorker()
	if err != nil {
		return err
	}

	ctx, stop := signal.NotifyContext(context.Background(), syscall.SIGINT, syscall.SIGTERM)
	defer stop()

	driver := engine.NewDriver(engine.Config{
		BinaryPath:     cfg.GnubgPath,
		Args:           cfg.GnubgArgs,
		CommandTimeout: cfg.EngineCommandTimeout,
		IdleTimeout:    cfg.EngineIdleTimeout,
		ExitTimeout:    cfg.EngineExitTimeout,
	}, logger.Named("engine"))
	driver.OnTimeout = metrics.EngineTimeoutsTotal.Inc
	// 엔진이 없으면 모든 작업이 실패하므로 기동 시점에 막는다
	if err := driver.CheckBinary(); err != nil {
		return err
	}

	rdb, err := jobqueue.Connect(ctx, cfg.RedisURL)
	if err != nil {
		return err
	}
	defer rdb.Close()
	store := jobqueue.NewStore(rdb, jobqueue.Options{ResultTTL: cfg.ResultTTL}, logger.Named("jobqueue"))

	var bal ledger.Ledger = ledger.Noop{}
	if cfg.DatabaseURL != "" {
		pg, err := ledger.OpenPostgres(ctx, cfg.DatabaseURL)
		if err != nil {
			return err
		}
		defer pg.Close()
		bal = pg
	}

	pipeline := analysis.NewPipeline(
		analysis.Config{OutputDir: cfg.OutputDir, Seed: cfg.EngineSeed},
		filesync.NewWaiter(cfg.SyncAttempts, cfg.SyncDelay, logger.Named("filesync")),
		driver,
		render.NewRenderer(),
		logger.Named("analysis"),
	)
	pool := worker.NewPool(worker.Config{
		Slots:             cfg.WorkerCount,
		Queues:            cfg.WorkerQueues,
		SingleTimeout:     cfg.SingleTimeout,
		BatchTimeout:      cfg.BatchTimeout,
		HeartbeatInterval: cfg.HeartbeatEvery,
		HeartbeatTTL:      cfg.HeartbeatTTL,
		ReapInterval:      cfg.ReapInterval,
		MaxAttempts:       cfg.MaxAttempts,
		OutputDir:         cfg.OutputDir,
	}, store, pipeline, bal, logger.Named("worker"))

	mux := http.NewServeMux()
	mux.Handle("/metrics", promhttp.Handler())
	srv := &http.Server{Addr: cfg.MetricsAddr, Handler: mux, ReadHeaderTimeout: 5 * time.Second}
	go func() {
		if err := srv.ListenAndServe(); err != nil && !errors.Is(err, http.ErrServerClosed) {
			logger.Error("metrics_server_failed", zap.Error(err))
		}
	}()
	logger.Info("analysis_worker_started",
		zap.Int("slots", cfg.WorkerCount),
		zap.Strings("queues", cfg.WorkerQueues),
		zap.String("metrics", cfg.MetricsAddr),
	)

	runErr := pool.Run(ctx)

	shutdownCtx, cancel := context.WithTimeout(context.Background(), 5*time.Second)
	defer cancel()
	_ = srv.Shutdown(shutdownCtx)
	logger.Info("analysis_worker_stopped")
	return runErr
}
