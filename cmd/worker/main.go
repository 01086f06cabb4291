// Background worker entry point: consumes batch queues, executes analyses,
// and runs the cache maintenance loops.
package main

import (
	"context"
	"flag"
	"fmt"
	"os"
	"os/signal"
	"syscall"
	"time"

	"github.com/dealeredge/visibility-engine/internal/application/pipeline"
	"github.com/dealeredge/visibility-engine/internal/config"
	"github.com/dealeredge/visibility-engine/internal/domain/geo"
	"github.com/dealeredge/visibility-engine/internal/infrastructure/database/postgres"
	"github.com/dealeredge/visibility-engine/internal/infrastructure/database/postgres/repositories"
	"github.com/dealeredge/visibility-engine/internal/infrastructure/database/redis"
	"github.com/dealeredge/visibility-engine/internal/infrastructure/monitoring/logging"
	"github.com/dealeredge/visibility-engine/internal/infrastructure/monitoring/prometheus"
	httpserver "github.com/dealeredge/visibility-engine/internal/interfaces/http"
	"github.com/dealeredge/visibility-engine/internal/interfaces/http/handlers"
)

const (
	defaultConfigPath       = "configs/config.yaml"
	defaultHealthPort       = 8081
	defaultGeneratorURL     = "http://localhost:9100"
	defaultGeneratorTimeout = 2 * time.Minute
	progressBuffer          = 4096
)

func main() {
	configPath := flag.String("config", defaultConfigPath, "path to configuration file")
	healthPort := flag.Int("health-port", defaultHealthPort, "health and metrics port")
	generatorURL := flag.String("generator-url", defaultGeneratorURL, "base URL of the analysis service")
	flag.Parse()

	cfg, fromFile, err := loadConfig(*configPath)
	if err != nil {
		fmt.Fprintf(os.Stderr, "failed to load configuration: %v\n", err)
		os.Exit(1)
	}

	logger, err := logging.NewLogger(logging.LogConfig{
		Level:            cfg.Log.Level,
		Format:           cfg.Log.Format,
		OutputPaths:      cfg.Log.OutputPaths,
		ErrorOutputPaths: cfg.Log.ErrorOutputPaths,
	})
	if err != nil {
		fmt.Fprintf(os.Stderr, "failed to initialize logger: %v\n", err)
		os.Exit(1)
	}
	logger = logger.Named("worker")
	logger.Info("starting visibility engine worker",
		logging.String("generator_url", *generatorURL),
		logging.Int("health_port", *healthPort),
	)

	ctx := context.Background()

	var appMetrics *prometheus.AppMetrics
	var collector prometheus.MetricsCollector
	if cfg.Metrics.Enabled {
		collector, err = prometheus.NewMetricsCollector(prometheus.CollectorConfig{
			Namespace:            cfg.Metrics.Namespace,
			EnableProcessMetrics: true,
			EnableGoMetrics:      true,
		}, logger)
		if err != nil {
			logger.Fatal("metrics collector init failed", logging.Err(err))
		}
		appMetrics = prometheus.NewAppMetrics(collector)
	}

	pool, err := postgres.NewPool(ctx, cfg.Database, logger)
	if err != nil {
		logger.Fatal("postgres init failed", logging.Err(err))
	}
	defer pool.Close()

	jobRepo := repositories.NewJobRepo(pool, logger, cfg.Pipeline.ErrorLogLimit)
	dealerRepo := repositories.NewDealershipRepo(pool, logger)

	redisClient, err := redis.NewClient(cfg.Redis, logger)
	if err != nil {
		logger.Fatal("redis init failed", logging.Err(err))
	}
	defer redisClient.Close()

	var cacheMeter redis.Meter = redis.NopMeter{}
	if appMetrics != nil {
		cacheMeter = prometheus.NewCacheMeter(appMetrics)
	}
	cacheManager := redis.NewManager(redisClient, cfg.Cache, logger, cacheMeter)

	poolIndex := geo.NewIndex(cfg.Geo)
	if fromFile {
		config.Watch(*configPath, func(next *config.Config) {
			poolIndex.Reload(next.Geo)
			logger.Info("geographic pool table reloaded")
		})
	}

	var pipelineMeter pipeline.Meter = pipeline.NopMeter{}
	if appMetrics != nil {
		pipelineMeter = prometheus.NewPipelineMeter(appMetrics)
	}

	aggregator := pipeline.NewAggregator(progressBuffer, logger)
	generator := newHTTPGenerator(*generatorURL, defaultGeneratorTimeout, logger)
	executor := pipeline.NewExecutor(jobRepo, dealerRepo, cacheManager, poolIndex, generator,
		cfg.Pipeline, logger, pipelineMeter, aggregator.Events())

	poolSet, err := pipeline.NewPoolSet(cfg.Kafka, cfg.Pipeline, executor, logger)
	if err != nil {
		logger.Fatal("worker pool init failed", logging.Err(err))
	}

	runCtx, cancel := context.WithCancel(ctx)
	defer cancel()

	go aggregator.Run(runCtx)

	if err := poolSet.Start(runCtx); err != nil {
		logger.Fatal("worker pool start failed", logging.Err(err))
	}

	sweeper := redis.NewSweeper(cacheManager, redisClient, cfg.Cache.SweepInterval, logger)
	go sweeper.Run(runCtx)
	go flushStatsLoop(runCtx, cacheManager, cfg.Cache.StatsInterval)

	healthRouter := httpserver.NewRouter(httpserver.RouterConfig{
		Health: handlers.NewHealthHandler(map[string]handlers.Pinger{
			"postgres": pool,
			"redis":    redisClient,
		}, logger),
		Metrics:          appMetrics,
		MetricsCollector: collector,
		MetricsPath:      cfg.Metrics.Path,
		Mode:             "release",
		Logger:           logger,
	})
	healthSrv := httpserver.NewServer(config.ServerConfig{
		Port:            *healthPort,
		ReadTimeout:     cfg.Server.ReadTimeout,
		WriteTimeout:    cfg.Server.WriteTimeout,
		ShutdownTimeout: cfg.Server.ShutdownTimeout,
	}, healthRouter, logger)
	go func() {
		if err := healthSrv.Start(); err != nil {
			logger.Error("health server error", logging.Err(err))
		}
	}()

	logger.Info("worker pools started")

	quit := make(chan os.Signal, 1)
	signal.Notify(quit, syscall.SIGINT, syscall.SIGTERM)
	sig := <-quit
	logger.Info("shutting down", logging.String("signal", sig.String()))

	// Stop consuming first so in-flight batches drain, then stop the loops.
	if err := poolSet.Close(); err != nil {
		logger.Error("worker pool close error", logging.Err(err))
	}
	cancel()
	aggregator.Wait()

	if err := healthSrv.Shutdown(context.Background()); err != nil {
		logger.Error("health server shutdown error", logging.Err(err))
	}
	logger.Info("worker stopped")
}

func loadConfig(path string) (*config.Config, bool, error) {
	if _, err := os.Stat(path); err == nil {
		cfg, err := config.Load(path)
		return cfg, true, err
	}
	cfg, err := config.LoadFromEnv()
	return cfg, false, err
}

// flushStatsLoop periodically persists aggregate cache counters to redis so
// the stats endpoint reflects cluster-wide hit rates.
func flushStatsLoop(ctx context.Context, manager redis.Manager, interval time.Duration) {
	ticker := time.NewTicker(interval)
	defer ticker.Stop()

	for {
		select {
		case <-ctx.Done():
			return
		case <-ticker.C:
			manager.FlushStats(ctx)
		}
	}
}
