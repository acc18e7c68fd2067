package main

import (
	"context"
	"net/http"
	"os"
	"os/signal"
	"syscall"
	"time"

	"pulse/internal/acquisition"
	chadapter "pulse/internal/adapters/clickhouse"
	"pulse/internal/adapters/config"
	"pulse/internal/adapters/errors/noop"
	"pulse/internal/adapters/errors/sentry"
	"pulse/internal/adapters/kafka"
	redisadapter "pulse/internal/adapters/redis"
	"pulse/internal/archive"
	"pulse/internal/bus/redisstream"
	"pulse/internal/cleaning"
	"pulse/internal/consumers"
	"pulse/internal/dedup"
	"pulse/internal/intake"
	"pulse/internal/metrics"
	"pulse/internal/notify"
	"pulse/internal/pipeline"
	"pulse/internal/scoring"
	"pulse/pkg/errors"
	"pulse/pkg/logger"
)

func main() {
	cfg, err := config.Load()
	if err != nil {
		panic("failed to load config: " + err.Error())
	}

	if err := logger.Init(cfg.App.LogLevel, cfg.App.Env); err != nil {
		panic("failed to init logger: " + err.Error())
	}
	defer logger.Sync()

	log := logger.Get()
	log.Infof("Starting %s in %s mode", cfg.App.Name, cfg.App.Env)

	errorTracker := initErrorTracker(cfg, log)
	logger.SetErrorTracker(errorTracker)

	metrics.Init()

	// Redis backs both the stream bus and the shared dedup filter
	redisClient, err := redisadapter.NewClient(cfg.Redis)
	if err != nil {
		log.Fatalf("Failed to connect to Redis: %v", err)
	}
	defer redisClient.Close()

	streamBus := redisstream.New(redisClient.Client(), redisstream.Config{})
	filter := dedup.NewRedisFilter(redisClient, cfg.Pipeline.DedupTTL)

	repo, cleanup := initArchiveSink(cfg, log)
	defer cleanup()

	notifier := initNotifier(cfg, log)

	// Assemble stages
	queue := intake.NewQueue(cfg.Pipeline.QueueCapacity)

	cleaners := cleaning.NewStage(
		cleaning.StageConfig{
			Workers:    cfg.Pipeline.WorkerCount,
			CleanTopic: cfg.Pipeline.CleanTopic,
		},
		queue,
		cleaning.NewChain(cleaning.DefaultSteps(cfg.Pipeline.MinTextLength)...),
		filter,
		streamBus,
	)

	archiver := consumers.NewArchiveConsumer(
		consumers.ArchiveConsumerConfig{
			Topic:         cfg.Pipeline.CleanTopic,
			SizeThreshold: cfg.Archive.SizeThreshold,
			TimeThreshold: cfg.Archive.TimeThreshold,
			ReadBatchSize: cfg.Pipeline.ReadBatchSize,
			ReadBlock:     cfg.Pipeline.ReadBlock,
			StatsInterval: cfg.Archive.StatsInterval,
		},
		streamBus,
		repo,
	)

	engine := scoring.NewEngine(scoring.Config{
		WindowCapacity: cfg.Signals.WindowCapacity,
		MinWindowSize:  cfg.Signals.MinWindowSize,
		BuyThreshold:   cfg.Signals.BuyThreshold,
		SellThreshold:  cfg.Signals.SellThreshold,
		MinConfidence:  cfg.Signals.MinConfidence,
		MaxTrackedKeys: cfg.Signals.MaxTrackedKeys,
		DefaultKey:     cfg.Signals.DefaultKey,
	}, scoring.NewLexiconScorer(), nil)

	signalStage := consumers.NewSignalConsumer(
		consumers.SignalConsumerConfig{
			Topic:         cfg.Pipeline.CleanTopic,
			ReadBatchSize: cfg.Pipeline.ReadBatchSize,
			ReadBlock:     cfg.Pipeline.ReadBlock,
		},
		streamBus,
		engine,
		notifier,
	)

	orch := pipeline.New(queue, cleaners, archiver, signalStage, cfg.Pipeline.StopTimeout)

	ctx, cancel := context.WithCancel(context.Background())
	defer cancel()

	if err := orch.Start(ctx); err != nil {
		log.Fatalf("Failed to start pipeline: %v", err)
	}

	if cfg.Metrics.Enabled {
		startMetricsServer(cfg.Metrics.Addr, log)
	}

	// Synthetic producer feeds the intake queue when enabled; in
	// production the scraper pushes through the same boundary
	if os.Getenv("PRODUCER_ENABLED") == "true" {
		gen := acquisition.NewGenerator(queue, 5)
		go func() {
			if err := gen.Run(ctx); err != nil {
				log.Errorf("Producer exited: %v", err)
			}
		}()
	}

	waitForShutdown(cancel, orch, errorTracker, log)
}

// initErrorTracker initializes error tracking (Sentry or no-op)
func initErrorTracker(cfg *config.Config, log *logger.Logger) errors.Tracker {
	if !cfg.ErrorTracking.Enabled || cfg.ErrorTracking.SentryDSN == "" {
		log.Info("Error tracking disabled")
		return noop.New()
	}

	tracker, err := sentry.New(cfg.ErrorTracking.SentryDSN, cfg.ErrorTracking.Environment)
	if err != nil {
		log.Warnf("Failed to initialize Sentry: %v", err)
		return noop.New()
	}

	log.Info("Error tracking initialized (Sentry)")
	return tracker
}

// initArchiveSink picks the archival backend. The file sink needs no
// external service; ClickHouse is opt-in via ARCHIVE_SINK=clickhouse.
func initArchiveSink(cfg *config.Config, log *logger.Logger) (archive.Repository, func()) {
	switch cfg.Archive.Sink {
	case "clickhouse":
		client, err := chadapter.NewClient(cfg.ClickHouse)
		if err != nil {
			log.Fatalf("Failed to connect to ClickHouse: %v", err)
		}
		repo, err := archive.NewClickHouseRepository(context.Background(), client)
		if err != nil {
			log.Fatalf("Failed to init ClickHouse archive: %v", err)
		}
		log.Info("Archive sink: clickhouse")
		return repo, func() { client.Close() }
	default:
		log.Infow("Archive sink: file", "base_path", cfg.Archive.BasePath)
		return archive.NewFileRepository(cfg.Archive.BasePath), func() {}
	}
}

// initNotifier picks the signal broadcast channel. Without brokers the
// signals only show up in the log.
func initNotifier(cfg *config.Config, log *logger.Logger) notify.Publisher {
	if len(cfg.Kafka.Brokers) == 0 {
		log.Info("No Kafka brokers configured, signals go to the log only")
		return notify.NewLogPublisher()
	}

	producer := kafka.NewProducer(kafka.ProducerConfig{Brokers: cfg.Kafka.Brokers})
	log.Infow("Signal notifications on Kafka", "topic", cfg.Kafka.SignalTopic)
	return notify.NewKafkaPublisher(producer, cfg.Kafka.SignalTopic)
}

// startMetricsServer exposes /metrics
func startMetricsServer(addr string, log *logger.Logger) {
	mux := http.NewServeMux()
	mux.Handle("/metrics", metrics.Handler())

	go func() {
		log.Infow("Metrics server listening", "addr", addr)
		if err := http.ListenAndServe(addr, mux); err != nil && err != http.ErrServerClosed {
			log.Errorf("Metrics server failed: %v", err)
		}
	}()
}

// waitForShutdown blocks on SIGINT/SIGTERM and stops the pipeline
func waitForShutdown(cancel context.CancelFunc, orch *pipeline.Orchestrator, errorTracker errors.Tracker, log *logger.Logger) {
	quit := make(chan os.Signal, 1)
	signal.Notify(quit, syscall.SIGINT, syscall.SIGTERM)

	<-quit
	log.Info("Shutting down...")

	if err := orch.Stop(); err != nil {
		log.Warnf("Pipeline stop: %v", err)
	}
	cancel()

	flushCtx, flushCancel := context.WithTimeout(context.Background(), 5*time.Second)
	defer flushCancel()
	if err := errorTracker.Flush(flushCtx); err != nil {
		log.Warnf("Error tracker flush failed: %v", err)
	}

	log.Info("Shutdown complete")
}
