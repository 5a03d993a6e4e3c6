package main

import (
	"context"
	"io"
	"log"
	"os"
	"os/signal"
	"syscall"
	"time"

	"sachet/internal/agent"
	"sachet/internal/api"
	"sachet/internal/config"
	"sachet/internal/connectivity"
	"sachet/internal/events"
	"sachet/internal/logging"
	"sachet/internal/metrics"
	"sachet/internal/notify"
	"sachet/internal/queue"
	"sachet/internal/store"
	"sachet/internal/syncer"
	"sachet/internal/upload"

	"github.com/rs/zerolog"
)

func main() {
	if err := run(); err != nil {
		log.Fatalf("Fatal error: %v", err)
	}
}

func run() error {
	cfg, logger, closer, err := loadConfigAndLogger()
	if err != nil {
		return err
	}
	if closer != nil {
		defer (func(c io.Closer) { _ = c.Close() })(closer)
	}

	metrics.Register()

	st, err := store.Open(cfg.Database.Path, &logger)
	if err != nil {
		return err
	}
	defer st.Close()

	ctx, stop := signal.NotifyContext(context.Background(), os.Interrupt, syscall.SIGTERM)
	defer stop()

	bus := events.NewBus()
	subscribeEventLogging(bus, &logger)

	if cfg.Redis.Enabled {
		redisClient := notify.NewRedisClient(cfg.Redis)
		defer redisClient.Close()
		mirror := notify.NewRedisMirror(redisClient, &logger)
		mirror.Attach(bus)
	}

	prober := connectivity.NewProber(cfg.Sync.ProbeURL, cfg.ProbeInterval(), &logger)
	go prober.Start(ctx)

	queueManager := queue.NewManager(st, prober, bus, &logger)
	uploader := upload.NewClient(cfg.Ingest.BaseURL, cfg.Ingest.APIKey, cfg.IngestTimeout(), &logger)
	engine := syncer.New(queueManager, uploader, prober, bus, &logger)

	syncAgent := agent.New(queueManager, engine, prober, bus, cfg.StartupDelay(), &logger)
	if err := syncAgent.Start(ctx); err != nil {
		return err
	}
	defer syncAgent.Stop()

	if cfg.API.Enabled {
		apiServer := api.NewHTTPServer(cfg.API, cfg.Monitoring.PrometheusEnabled, queueManager, syncAgent, prober, &logger)
		go func() {
			if err := apiServer.Start(); err != nil {
				logger.Error().Err(err).Msg("API server error")
			}
		}()
		defer func() {
			shutdownCtx, cancel := context.WithTimeout(context.Background(), 10*time.Second)
			defer cancel()
			_ = apiServer.Shutdown(shutdownCtx)
		}()
	}

	<-ctx.Done()
	logger.Info().Msg("shutting down")
	return nil
}

func loadConfigAndLogger() (*config.Config, zerolog.Logger, io.Closer, error) {
	configPath := os.Getenv("CONFIG_PATH")
	if configPath == "" {
		configPath = "configs/config.yaml"
	}

	cfg, err := config.Load(configPath)
	if err != nil {
		return nil, zerolog.Logger{}, nil, err
	}

	baseLogger, closer, err := logging.New(cfg.Logging, cfg.App)
	if err != nil {
		return nil, zerolog.Logger{}, nil, err
	}
	logger := baseLogger.With().Str("component", "agent-main").Logger()

	return cfg, logger, closer, nil
}

func subscribeEventLogging(bus *events.Bus, logger *zerolog.Logger) {
	bus.SubscribeStatus(func(event events.StatusChanged) {
		logger.Debug().Int("pending_count", event.PendingCount).Msg("queue status changed")
	})
	bus.SubscribeNotifications(func(event events.SyncNotification) {
		logger.Debug().Str("kind", event.Kind).Str("message", event.Message).Msg("sync notification")
	})
}
