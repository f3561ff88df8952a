package main

import (
	"context"
	"encoding/json"
	"flag"
	"log"
	"log/slog"
	"os"

	"capture-scheduler/internal/capture"
	"capture-scheduler/internal/config"
	"capture-scheduler/internal/models"
	"capture-scheduler/internal/reward"
	"capture-scheduler/internal/scheduler"
	"capture-scheduler/internal/storage"
	"capture-scheduler/internal/store"
)

// One-shot manual capture: creates a session for the given user, runs the
// full pipeline synchronously, and prints the outcome as JSON.
func main() {
	userID := flag.String("user", "", "user id to capture for (required)")
	flag.Parse()
	if *userID == "" {
		flag.Usage()
		os.Exit(2)
	}

	cfg := config.Load()
	logger := slog.New(slog.NewTextHandler(os.Stderr, nil))
	ctx := context.Background()

	st, err := store.New(ctx, cfg.PostgresDSN)
	if err != nil {
		log.Fatalf("connect postgres: %v", err)
	}
	defer st.Close()

	if err := st.RunMigrations(ctx); err != nil {
		log.Fatalf("migrations: %v", err)
	}

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

	source := capture.NewChain(logger, capture.ParseCommands(cfg.CaptureCommands, cfg.CaptureTimeout)...)
	ledger := reward.NewLedger(st, cfg.RewardAmount)
	policy := capture.ValidationPolicy{
		MinBytes:  cfg.MinArtifactBytes,
		MinWidth:  cfg.MinImageWidth,
		MinHeight: cfg.MinImageHeight,
	}
	pipeline := scheduler.NewPipeline(st, source, chain, ledger, policy, logger)

	sess, err := st.CreateSession(ctx, *userID, nil, models.TriggerManual)
	if err != nil {
		log.Fatalf("create session: %v", err)
	}

	out := pipeline.Run(ctx, *userID, sess.ID)

	enc := json.NewEncoder(os.Stdout)
	enc.SetIndent("", "  ")
	_ = enc.Encode(out)
	if models.IsFailure(out.Status) {
		os.Exit(1)
	}
}
