package main

import (
	"context"
	"flag"
	"fmt"
	"log/slog"
	"os"
	"os/signal"
	"strings"
	"syscall"
	"time"

	"github.com/prometheus/client_golang/prometheus"
	"github.com/prometheus/client_golang/prometheus/collectors"

	"threatlens/internal/api"
	"threatlens/internal/config"
	"threatlens/internal/engine"
	"threatlens/internal/ingest"
	"threatlens/internal/logging"
	"threatlens/internal/metrics"
	"threatlens/internal/model"
	"threatlens/internal/notify"
	"threatlens/internal/storage"
)

var version = "dev"

func main() {
	configPath := flag.String("config", "threatlens.yaml", "path to YAML or JSON config")
	flag.Parse()

	ctx, stop := signal.NotifyContext(context.Background(), os.Interrupt, syscall.SIGTERM)
	defer stop()

	if err := run(ctx, config.ResolvePath(*configPath)); err != nil {
		fmt.Fprintln(os.Stderr, "threatlens:", err)
		os.Exit(1)
	}
}

func run(ctx context.Context, path string) error {
	cfgMgr, err := loadConfig(path)
	if err != nil {
		return err
	}
	cfg := cfgMgr.Get()
	logger, level := logging.NewLogger(cfg.LogLevel)
	logger.Info("threatlens starting", "version", version, "config", cfgMgr.Path())

	var (
		registry  *prometheus.Registry
		promStats *metrics.Collectors
	)
	if cfg.Metrics.Prometheus {
		registry = prometheus.NewRegistry()
		registry.MustRegister(collectors.NewGoCollector(), collectors.NewProcessCollector(collectors.ProcessCollectorOpts{}))
		if promStats, err = metrics.NewCollectors(registry); err != nil {
			return fmt.Errorf("metrics: %w", err)
		}
	}

	dispatcher, err := buildDispatcher(cfg.Notify, logger)
	if err != nil {
		return fmt.Errorf("notify: %w", err)
	}
	notifyDone := make(chan struct{})
	go func() {
		defer close(notifyDone)
		dispatcher.Run(ctx)
	}()

	eng, err := engine.NewEngine(cfg,
		engine.WithLogger(logger),
		engine.WithCollectors(promStats),
		engine.WithNotifier(dispatcher),
	)
	if err != nil {
		return fmt.Errorf("engine: %w", err)
	}

	persistDone := make(chan struct{})
	if cfg.Storage.Enabled {
		store, err := storage.NewStore(cfg.Storage)
		if err != nil {
			return fmt.Errorf("storage: %w", err)
		}
		if err := store.Init(ctx); err != nil {
			_ = store.Close()
			return fmt.Errorf("storage init: %w", err)
		}
		persister := storage.NewPersister(eng, store, cfg.Storage.Interval, logger)
		if cfg.Storage.LoadOnStart {
			if ok, err := persister.Restore(ctx); err != nil {
				logger.Warn("state restore failed, starting empty", "err", err)
			} else if ok {
				logger.Info("state restore complete")
			}
		}
		go func() {
			defer close(persistDone)
			defer store.Close()
			persister.Run(ctx)
		}()
		logger.Info("storage enabled", "driver", cfg.Storage.Driver, "interval", cfg.Storage.Interval)
	} else {
		close(persistDone)
		logger.Info("storage disabled")
	}

	predictions := make(chan model.Prediction, cfg.Ingest.ChannelBuffer)
	sink := ingest.NewSink(cfgMgr, predictions, logger)
	eng.Start(ctx, predictions, cfg.Ingest.Workers)

	ingest.StartREST(ctx, cfgMgr, sink, logger)
	ingest.StartTCPStream(ctx, cfgMgr, sink, logger)
	ingest.StartFileTail(ctx, cfgMgr, sink, logger)
	ingest.StartKafka(ctx, cfgMgr, sink, logger)
	if err := ingest.StartNATS(ctx, cfgMgr, sink, logger); err != nil {
		logger.Error("nats ingest failed", "err", err)
	}
	if err := ingest.StartRedis(ctx, cfgMgr, sink, logger); err != nil {
		logger.Error("redis ingest failed", "err", err)
	}

	var gatherer prometheus.Gatherer
	if registry != nil {
		gatherer = registry
	}
	api.Start(ctx, cfgMgr, eng, gatherer, logger, version)

	if cfgMgr.Path() != "" {
		err := cfgMgr.Watch(ctx, func(next *config.Config) {
			level.Set(logging.ParseLevel(next.LogLevel))
			if err := eng.UpdateConfig(next); err != nil {
				logger.Error("config reload rejected", "err", err)
				return
			}
			if err := dispatcher.UpdateConfig(next.Notify); err != nil {
				logger.Error("notify reload rejected", "err", err)
			}
			logger.Info("config reloaded")
		}, func(err error) {
			logger.Warn("config reload failed", "err", err)
		})
		if err != nil {
			logger.Warn("config watch disabled", "err", err)
		}
	}

	<-ctx.Done()
	logger.Info("shutdown signal received")
	waitCtx, cancel := context.WithTimeout(context.Background(), 10*time.Second)
	defer cancel()
	for name, done := range map[string]<-chan struct{}{"final state save": persistDone, "notify drain": notifyDone} {
		select {
		case <-done:
		case <-waitCtx.Done():
			logger.Warn(name + " timed out")
		}
	}
	logger.Info("threatlens stopped")
	return nil
}

// loadConfig reads the config file, falling back to defaults when the default
// path does not exist.
func loadConfig(path string) (*config.Manager, error) {
	mgr, err := config.NewManager(path)
	if err == nil {
		return mgr, nil
	}
	if os.IsNotExist(err) && strings.HasSuffix(path, "threatlens.yaml") {
		return config.NewStaticManager(config.DefaultConfig()), nil
	}
	return nil, fmt.Errorf("config: %w", err)
}

func buildDispatcher(cfg config.NotifyConfig, logger *slog.Logger) (*notify.Dispatcher, error) {
	var pubs []notify.Publisher
	if cfg.NATS.Enabled {
		pub, err := notify.NewNATSPublisher(cfg.NATS.URL, cfg.NATS.Subject)
		if err != nil {
			return nil, err
		}
		pubs = append(pubs, pub)
		logger.Info("nats notify enabled", "url", cfg.NATS.URL, "subject", cfg.NATS.Subject)
	}
	if cfg.Kafka.Enabled {
		pubs = append(pubs, notify.NewKafkaPublisher(cfg.Kafka.Brokers, cfg.Kafka.Topic, logger))
		logger.Info("kafka notify enabled", "brokers", cfg.Kafka.Brokers, "topic", cfg.Kafka.Topic)
	}
	return notify.NewDispatcher(cfg, logger, pubs...)
}
