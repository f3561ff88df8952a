package main

import (
	"context"
	"log"
	"log/slog"
	"net/http"
	"os"
	"os/signal"
	"strings"
	"syscall"
	"time"

	"github.com/redis/go-redis/v9"

	"capture-scheduler/internal/api"
	"capture-scheduler/internal/capture"
	"capture-scheduler/internal/config"
	"capture-scheduler/internal/notify"
	"capture-scheduler/internal/ratelimit"
	"capture-scheduler/internal/reward"
	"capture-scheduler/internal/scheduler"
	"capture-scheduler/internal/storage"
	"capture-scheduler/internal/store"
	"capture-scheduler/internal/telemetry"
	"capture-scheduler/internal/users"
)

func main() {
	cfg := config.Load()
	logger := newLogger(cfg.LogLevel)

	ctx, cancel := context.WithCancel(context.Background())
	defer cancel()
	go func() {
		ch := make(chan os.Signal, 1)
		signal.Notify(ch, syscall.SIGINT, syscall.SIGTERM)
		<-ch
		cancel()
	}()

	st, err := store.New(ctx, cfg.PostgresDSN)
	if err != nil {
		log.Fatalf("connect postgres: %v", err)
	}
	defer st.Close()

	if err := st.RunMigrations(ctx); err != nil {
		log.Fatalf("migrations: %v", err)
	}

	// Storage chain: remote first when configured, local disk always last.
	var backends []storage.Backend
	if cfg.S3Bucket != "" {
		s3b, err := storage.NewS3Backend(ctx, storage.S3Options{
			Bucket:    cfg.S3Bucket,
			Region:    cfg.S3Region,
			Endpoint:  cfg.S3Endpoint,
			PathStyle: cfg.S3PathStyle,
		})
		if err != nil {
			log.Fatalf("init s3 backend: %v", err)
		}
		backends = append(backends, s3b)
	}
	backends = append(backends, storage.NewLocalBackend(cfg.LocalStorageDir))
	chain := storage.NewChain(logger, cfg.StorageTimeout, backends...)

	strategies := capture.ParseCommands(cfg.CaptureCommands, cfg.CaptureTimeout)
	source := capture.NewChain(logger, strategies...)

	directory := users.NewClient(cfg.UsersBaseURL, cfg.ClientTimeout)

	var notifier notify.Notifier = notify.Nop{}
	if cfg.NotifyWebhookURL != "" {
		notifier = notify.NewWebhook(cfg.NotifyWebhookURL, cfg.ClientTimeout, logger)
	}

	ledger := reward.NewLedger(st, cfg.RewardAmount)
	policy := capture.ValidationPolicy{
		MinBytes:  cfg.MinArtifactBytes,
		MinWidth:  cfg.MinImageWidth,
		MinHeight: cfg.MinImageHeight,
	}
	pipeline := scheduler.NewPipeline(st, source, chain, ledger, policy, logger)

	loop := scheduler.NewLoop(st, directory, notifier, pipeline,
		cfg.TickInterval, cfg.WorkerCount,
		scheduler.Policy{
			DefaultDailyCap: cfg.DefaultDailyCap,
			CapCountsFailed: cfg.DailyCapCountFailed,
		}, logger)

	redisClient := redis.NewClient(&redis.Options{
		Addr:     cfg.RedisAddr,
		Password: cfg.RedisPassword,
		DB:       cfg.RedisDB,
	})
	defer redisClient.Close()
	limiter := ratelimit.NewLimiter(redisClient, cfg.ManualRateCapacity, cfg.ManualRateRefill, 24*time.Hour)

	server := api.New(st, st, loop, chain, directory, limiter)
	httpServer := &http.Server{
		Addr:    ":" + cfg.HTTPPort,
		Handler: server.Router(),
	}

	go func() {
		if err := http.ListenAndServe(cfg.MetricsAddr, telemetry.Handler()); err != nil {
			logger.Warn("metrics server stopped", "error", err)
		}
	}()

	go func() {
		logger.Info("api listening", "port", cfg.HTTPPort)
		if err := httpServer.ListenAndServe(); err != nil && err != http.ErrServerClosed {
			log.Fatalf("listen: %v", err)
		}
	}()

	if err := loop.Run(ctx); err != nil && err != context.Canceled {
		logger.Error("scheduler loop stopped", "error", err)
	}

	shutdownCtx, cancelShutdown := context.WithTimeout(context.Background(), 5*time.Second)
	defer cancelShutdown()
	_ = httpServer.Shutdown(shutdownCtx)
}

func newLogger(level string) *slog.Logger {
	var lvl slog.Level
	switch strings.ToLower(level) {
	case "debug":
		lvl = slog.LevelDebug
	case "warn":
		lvl = slog.LevelWarn
	case "error":
		lvl = slog.LevelError
	default:
		lvl = slog.LevelInfo
	}
	return slog.New(slog.NewTextHandler(os.Stdout, &slog.HandlerOptions{Level: lvl}))
}
