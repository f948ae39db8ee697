package main

import (
	"context"
	"errors"
	"fmt"
	"net/http"
	"os"
	"os/signal"
	"syscall"
	"time"

	goredis "github.com/redis/go-redis/v9"
	"golang.org/x/sync/errgroup"

	"github.com/bnema/transcoder/config"
	"github.com/bnema/transcoder/internal/adapter/converter/ffmpeg"
	"github.com/bnema/transcoder/internal/adapter/fetcher/ytdlp"
	HTTPAdapter "github.com/bnema/transcoder/internal/adapter/http"
	"github.com/bnema/transcoder/internal/adapter/http/ratelimit"
	redisnotify "github.com/bnema/transcoder/internal/adapter/notify/redis"
	redisqueue "github.com/bnema/transcoder/internal/adapter/queue/redis"
	sqlitestore "github.com/bnema/transcoder/internal/adapter/storage/sqlite"
	"github.com/bnema/transcoder/internal/infrastructure/logger"
	"github.com/bnema/transcoder/internal/infrastructure/rediscli"
	"github.com/bnema/transcoder/internal/port"
	"github.com/bnema/transcoder/internal/queue"
	"github.com/bnema/transcoder/internal/service"
)

const (
	eventChannelPrefix = "transcoder"
	shutdownTimeout    = 30 * time.Second
)

func main() {
	if err := run(); err != nil {
		logger.Error.Printf("%v", err)
		os.Exit(1)
	}
}

func run() error {
	cfg, err := config.Load()
	if err != nil {
		return fmt.Errorf("load config: %w", err)
	}

	logger.Info.Printf("starting transcoder mode=%s worker=%s queue=%s/%s",
		cfg.Mode, cfg.WorkerID, cfg.QueueBackend, cfg.QueueName)

	if err := os.MkdirAll(cfg.StoragePath, 0o755); err != nil {
		return fmt.Errorf("create storage directory: %w", err)
	}

	store, err := sqlitestore.NewStore(cfg.DataDir)
	if err != nil {
		return fmt.Errorf("open store: %w", err)
	}
	defer func() { _ = store.Close() }()

	var rdb *goredis.Client
	if cfg.RedisURL != "" {
		rdb, err = rediscli.NewClient(cfg.RedisURL)
		if err != nil {
			return err
		}
		defer func() { _ = rdb.Close() }()
	}

	var broker queue.Broker
	switch cfg.QueueBackend {
	case config.QueueRedis:
		broker = redisqueue.NewBroker(rdb, cfg.QueueName)
	default:
		broker = sqlitestore.NewQueueBroker(store, cfg.QueueName)
	}
	transport := queue.New(broker, queue.Options{
		Consumer:     cfg.WorkerID,
		Policy:       queue.RetryPolicy{Attempts: cfg.QueueAttempts, Base: cfg.QueueBackoff},
		PollInterval: cfg.QueuePollInterval,
	})

	// With Redis, events travel over pub/sub so an API process sees what a
	// separate worker process publishes; the relay feeds them to the bus.
	bus := service.NewEventBus()
	var events port.EventPublisher = bus
	if rdb != nil {
		events = redisnotify.NewPublisher(rdb, eventChannelPrefix)
	}

	engine := ffmpeg.NewEngine(cfg.FFmpegPath, cfg.FFprobePath)
	executor := service.NewExecutor(engine, service.NewPathResolver(cfg.StoragePath, cfg.LegacyDir))
	orch := service.NewOrchestrator(service.OrchestratorDeps{
		Jobs:     store,
		Files:    store,
		Queue:    transport,
		Executor: executor,
		Fetcher:  ytdlp.NewFetcher(cfg.YtdlpPath),
		Events:   events,
		WorkerID: cfg.WorkerID,
	})

	ctx, stop := signal.NotifyContext(context.Background(), syscall.SIGINT, syscall.SIGTERM)
	defer stop()

	g, ctx := errgroup.WithContext(ctx)

	if rdb != nil && cfg.RunsAPI() {
		relay := redisnotify.NewRelay(rdb, eventChannelPrefix, bus)
		g.Go(func() error { return relay.Run(ctx) })
	}

	if cfg.RunsWorker() {
		pool := service.NewWorkerPool(transport, orch, cfg.WorkerConcurrency)
		g.Go(func() error { return pool.Run(ctx) })

		if cfg.RetentionInterval > 0 {
			retention := service.NewRetention(store, store)
			g.Go(func() error { return retention.Run(ctx, cfg.RetentionInterval) })
		}
	}

	if cfg.RunsAPI() {
		var limiter *ratelimit.SubmitLimiter
		if cfg.SubmitLimit > 0 {
			limiter = ratelimit.NewSubmitLimiter(cfg.SubmitLimit, time.Minute, time.Minute)
			defer limiter.Close()
		}

		server := HTTPAdapter.NewServer(HTTPAdapter.Deps{
			Jobs:    store,
			Files:   store,
			Service: orch,
			Events:  bus,
			Queue:   transport,
			Health: func(ctx context.Context) error {
				if err := store.Ping(ctx); err != nil {
					return fmt.Errorf("database: %w", err)
				}
				if rdb != nil {
					if err := rdb.Ping(ctx).Err(); err != nil {
						return fmt.Errorf("redis: %w", err)
					}
				}
				return nil
			},
			Limiter:  limiter,
			Storage:  cfg.StoragePath,
			BodyKB:   cfg.MaxRequestBodyKB,
			UploadMB: cfg.MaxUploadMB,
		})

		addr := fmt.Sprintf(":%d", cfg.Port)
		httpServer := &http.Server{
			Addr:              addr,
			Handler:           server,
			ReadHeaderTimeout: 10 * time.Second,
			ReadTimeout:       30 * time.Minute,
			IdleTimeout:       120 * time.Second,
		}

		g.Go(func() error {
			logger.Info.Printf("server listening on %s", addr)
			if err := httpServer.ListenAndServe(); err != nil && !errors.Is(err, http.ErrServerClosed) {
				return fmt.Errorf("http server: %w", err)
			}
			return nil
		})
		g.Go(func() error {
			<-ctx.Done()
			shutdownCtx, cancel := context.WithTimeout(context.Background(), shutdownTimeout)
			defer cancel()
			if err := httpServer.Shutdown(shutdownCtx); err != nil {
				logger.Error.Printf("http shutdown error: %v", err)
			}
			return nil
		})
	}

	err = g.Wait()
	logger.Info.Printf("shutdown complete")
	return err
}
