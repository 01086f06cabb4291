// API server entry point for the dealership visibility engine.
package main

import (
	"context"
	"flag"
	"fmt"
	"os"
	"os/signal"
	"syscall"

	"github.com/dealeredge/visibility-engine/internal/application/competitive"
	"github.com/dealeredge/visibility-engine/internal/application/pipeline"
	"github.com/dealeredge/visibility-engine/internal/config"
	"github.com/dealeredge/visibility-engine/internal/domain/geo"
	"github.com/dealeredge/visibility-engine/internal/infrastructure/database/postgres"
	"github.com/dealeredge/visibility-engine/internal/infrastructure/database/postgres/repositories"
	"github.com/dealeredge/visibility-engine/internal/infrastructure/database/redis"
	"github.com/dealeredge/visibility-engine/internal/infrastructure/messaging/kafka"
	"github.com/dealeredge/visibility-engine/internal/infrastructure/monitoring/logging"
	"github.com/dealeredge/visibility-engine/internal/infrastructure/monitoring/prometheus"
	httpserver "github.com/dealeredge/visibility-engine/internal/interfaces/http"
	"github.com/dealeredge/visibility-engine/internal/interfaces/http/handlers"
)

const defaultConfigPath = "configs/config.yaml"

func main() {
	configPath := flag.String("config", defaultConfigPath, "path to configuration file")
	port := flag.Int("port", 0, "HTTP server port (overrides config)")
	flag.Parse()

	cfg, fromFile, err := loadConfig(*configPath)
	if err != nil {
		fmt.Fprintf(os.Stderr, "failed to load configuration: %v\n", err)
		os.Exit(1)
	}
	if *port > 0 {
		cfg.Server.Port = *port
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
	logger = logger.Named("apiserver")
	logger.Info("starting visibility engine API server", logging.Int("port", cfg.Server.Port))

	ctx := context.Background()

	if cfg.Database.MigrationPath != "" {
		if err := postgres.RunMigrations(postgres.DSN(cfg.Database), cfg.Database.MigrationPath); err != nil {
			logger.Fatal("migrations failed", logging.Err(err))
		}
		logger.Info("migrations applied")
	}

	// Metrics are optional; every consumer below is nil-tolerant.
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

	ensureTopics(cfg.Kafka, logger)

	producer, err := kafka.NewProducer(cfg.Kafka, logger)
	if err != nil {
		logger.Fatal("kafka producer init failed", logging.Err(err))
	}
	defer producer.Close()

	poolIndex := geo.NewIndex(cfg.Geo)
	clusterBuilder := geo.NewBuilder(cfg.Geo, nil)
	refresher := geo.NewRefresher(clusterBuilder, dealerRepo, cfg.Geo.ClusterRefreshInterval, logger)
	if err := refresher.RefreshOnce(ctx); err != nil {
		// Competitive reports degrade until the first successful rebuild.
		logger.Warn("initial cluster build failed", logging.Err(err))
	}

	runCtx, cancel := context.WithCancel(ctx)
	defer cancel()
	go refresher.Run(runCtx)

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
	pipelineSvc := pipeline.NewService(jobRepo, dealerRepo, producer, cfg.Pipeline, logger, pipelineMeter)
	competitiveSvc := competitive.NewService(dealerRepo, cacheManager, clusterBuilder, poolIndex, cfg.Competitive, logger)

	router := httpserver.NewRouter(httpserver.RouterConfig{
		Jobs:        handlers.NewJobHandler(pipelineSvc, logger),
		Competitive: handlers.NewCompetitiveHandler(competitiveSvc, logger),
		Cache:       handlers.NewCacheHandler(cacheManager, logger),
		Health: handlers.NewHealthHandler(map[string]handlers.Pinger{
			"postgres": pool,
			"redis":    redisClient,
		}, logger),
		Metrics:          appMetrics,
		MetricsCollector: collector,
		MetricsPath:      cfg.Metrics.Path,
		Mode:             cfg.Server.Mode,
		Logger:           logger,
	})

	srv := httpserver.NewServer(cfg.Server, router, logger)
	go func() {
		if err := srv.Start(); err != nil {
			logger.Error("http server error", logging.Err(err))
		}
	}()

	quit := make(chan os.Signal, 1)
	signal.Notify(quit, syscall.SIGINT, syscall.SIGTERM)
	sig := <-quit
	logger.Info("shutting down", logging.String("signal", sig.String()))

	cancel()
	if err := srv.Shutdown(context.Background()); err != nil {
		logger.Error("http shutdown error", logging.Err(err))
	}
	logger.Info("API server stopped")
}

// loadConfig prefers the config file when present and falls back to
// environment-only configuration for containerised deployments.
func loadConfig(path string) (*config.Config, bool, error) {
	if _, err := os.Stat(path); err == nil {
		cfg, err := config.Load(path)
		return cfg, true, err
	}
	cfg, err := config.LoadFromEnv()
	return cfg, false, err
}

// ensureTopics provisions the batch queues. Provisioning failure is not
// fatal: the broker may auto-create topics or another process may have
// created them already.
func ensureTopics(cfg config.KafkaConfig, logger logging.Logger) {
	tm, err := kafka.NewTopicManager(cfg.Brokers, logger)
	if err != nil {
		logger.Warn("kafka topic manager unavailable", logging.Err(err))
		return
	}
	defer tm.Close()
	if err := tm.EnsureDefaultTopics(); err != nil {
		logger.Warn("topic provisioning failed", logging.Err(err))
	}
}
