// Copyright (c) 2024 Netskope, Inc. All rights reserved.

package main

import (
	"context"
	"errors"
	"fmt"
	"io"
	"os"
	"os/signal"
	"syscall"
	"time"

	"go.uber.org/zap"

	"github.com/netSkope/segment-upload-tool/internal/config"
	"github.com/netSkope/segment-upload-tool/internal/format"
	"github.com/netSkope/segment-upload-tool/internal/inspect"
	uplog "github.com/netSkope/segment-upload-tool/internal/log"
	"github.com/netSkope/segment-upload-tool/internal/pipeline"
	"github.com/netSkope/segment-upload-tool/internal/session"
	"github.com/netSkope/segment-upload-tool/internal/source"
	"github.com/netSkope/segment-upload-tool/internal/storage"
	"github.com/netSkope/segment-upload-tool/internal/store"
	"github.com/netSkope/segment-upload-tool/internal/util"
)

const (
	exitFailed    = 1
	exitCancelled = 130
)

func main() {
	os.Exit(run())
}

func run() int {
	// Load configuration
	cfg, err := config.LoadConfig()
	if err != nil {
		fmt.Fprintf(os.Stderr, "Failed to load configuration: %v\n", err)
		return exitFailed
	}

	// Initialize logger
	logger, err := uplog.NewLogger(uplog.Options{Dir: cfg.LogDir, Name: "segment-upload", Debug: cfg.Debug})
	if err != nil {
		fmt.Fprintf(os.Stderr, "Failed to initialize logger: %v\n", err)
		return exitFailed
	}
	defer func() {
		_ = logger.Sync()
	}()

	// SIGINT/SIGTERM stop new segments; the segment in flight still completes
	ctx, stop := signal.NotifyContext(context.Background(), os.Interrupt, syscall.SIGTERM)
	defer stop()

	file, err := source.Open(cfg.File)
	if err != nil {
		logger.Error("Failed to open file", zap.String("file", cfg.File), zap.Error(err))
		return exitFailed
	}
	defer file.Close()

	logger.Info("Starting segment upload tool",
		zap.String("file", file.Name),
		zap.Int64("size", file.Size),
		zap.String("format", string(format.Of(file))),
		zap.Int("segment_size_mb", cfg.SegmentSizeMB),
		zap.String("backend", cfg.Backend))

	uploader, err := newUploader(ctx, cfg, logger)
	if err != nil {
		logger.Error("Failed to create uploader", zap.Error(err))
		return exitFailed
	}

	inspector, err := newInspector(ctx, cfg, logger)
	if err != nil {
		logger.Error("Failed to create inspection client", zap.Error(err))
		return exitFailed
	}

	var recorder pipeline.Recorder
	if cfg.LedgerEnabled() {
		ledger, err := openLedger(ctx, cfg, logger)
		if err != nil {
			// The ledger is bookkeeping only
			logger.Warn("Upload ledger unavailable, continuing without it", zap.Error(err))
		} else {
			defer ledger.Close()
			recorder = ledger
		}
	}

	driver, err := pipeline.NewDriver(pipeline.Options{
		Uploader:      uploader,
		Inspector:     inspector,
		Recorder:      recorder,
		SegmentSize:   cfg.SegmentSizeBytes(),
		AutoConvert:   cfg.AutoConvert,
		WriteManifest: cfg.WriteManifest,
		OnProgress:    statusPrinter(cfg.Quiet),
		Logger:        logger,
	})
	if err != nil {
		logger.Error("Failed to create upload driver", zap.Error(err))
		return exitFailed
	}

	start := time.Now()
	result, runErr := driver.Run(ctx, file)
	if result != nil && result.State.Terminal() {
		printSummary(os.Stdout, cfg, result, time.Since(start))
	}

	var totalFailure *pipeline.TotalFailureError
	switch {
	case errors.As(runErr, &totalFailure) && totalFailure.Aborted:
		logger.Warn("Upload cancelled before any segment was uploaded")
		return exitCancelled
	case runErr != nil:
		logger.Error("Upload failed", zap.Error(runErr))
		return exitFailed
	case result.State.Phase == session.PhaseAborted:
		logger.Warn("Upload cancelled", zap.Int("uploaded", result.State.Successful), zap.Int("total", result.State.Total))
		return exitCancelled
	}

	logger.Info("Upload completed successfully")
	return 0
}

func newUploader(ctx context.Context, cfg *config.Config, logger *zap.Logger) (storage.Uploader, error) {
	var backend storage.Uploader
	switch cfg.Backend {
	case config.BackendLocal:
		local, err := storage.NewLocalUploader(cfg.LocalDir, logger)
		if err != nil {
			return nil, err
		}
		backend = local
	default:
		util.LoadAWSCredentials(cfg.AWSAccessKeyID, cfg.AWSSecretAccessKey, cfg.AWSSessionToken)
		s3, err := storage.NewS3Uploader(ctx, storage.S3Options{
			Bucket:   cfg.S3Bucket,
			Prefix:   cfg.S3Prefix,
			Region:   cfg.AWSRegion,
			Endpoint: cfg.S3Endpoint,
		}, logger)
		if err != nil {
			return nil, err
		}
		backend = s3
	}
	return storage.NewRetrying(backend, cfg.UploadRetries, logger), nil
}

func newInspector(ctx context.Context, cfg *config.Config, logger *zap.Logger) (inspect.Inspector, error) {
	if cfg.InspectURL == "" {
		logger.Info("No inspection service configured, conversion is disabled and static tables are used")
		return inspect.Disabled{}, nil
	}

	apiKey := cfg.InspectAPIKey
	if apiKey == "" && cfg.InspectSecret != "" {
		key, err := util.ResolveSecret(ctx, "INSPECT_API_KEY", cfg.InspectSecret, cfg.InspectSecretRegion, "api_key")
		if err != nil {
			return nil, fmt.Errorf("failed to resolve inspection API key: %w", err)
		}
		apiKey = key
	}

	return inspect.NewClient(inspect.Options{
		Endpoint: cfg.InspectURL,
		APIKey:   apiKey,
		Timeout:  time.Duration(cfg.InspectTimeout) * time.Second,
		RetryMax: 2,
	}, logger), nil
}

func openLedger(ctx context.Context, cfg *config.Config, logger *zap.Logger) (*store.Ledger, error) {
	if cfg.LedgerPassword == "" && cfg.LedgerSecret != "" {
		pwd, err := util.ResolveSecret(ctx, "LEDGER_PASSWORD", cfg.LedgerSecret, cfg.LedgerSecretRegion, "password")
		if err != nil {
			return nil, fmt.Errorf("failed to resolve ledger password: %w", err)
		}
		cfg.LedgerPassword = pwd
	}

	client, err := store.NewSQLClient(ctx, cfg.GetLedgerDSN(), cfg.LedgerTimeout, "ledger")
	if err != nil {
		return nil, fmt.Errorf("failed to connect to ledger: %w", err)
	}

	ledger := store.NewLedger(client, logger)
	if err := ledger.EnsureSchema(ctx); err != nil {
		_ = ledger.Close()
		return nil, err
	}

	logger.Info("Connected to upload ledger", zap.String("host", cfg.LedgerAddress()))
	return ledger, nil
}

// statusPrinter writes status changes to stderr.
func statusPrinter(quiet bool) func(session.State) {
	if quiet {
		return nil
	}
	last := ""
	return func(s session.State) {
		if s.Status == last {
			return
		}
		last = s.Status
		fmt.Fprintf(os.Stderr, "[%3d%%] %s\n", s.Percent, s.Status)
	}
}

func printSummary(w io.Writer, cfg *config.Config, result *pipeline.Result, elapsed time.Duration) {
	st := result.State

	fmt.Fprintf(w, "\n=== Upload Summary ===\n")
	fmt.Fprintf(w, "Session ID: %s\n", st.ID)
	fmt.Fprintf(w, "File: %s\n", st.FileName)
	if result.Payload != nil && result.Payload.Name != st.FileName {
		fmt.Fprintf(w, "Uploaded as: %s (%d bytes)\n", result.Payload.Name, result.Payload.Size)
	}
	fmt.Fprintf(w, "Result: %s\n", st.Status)
	fmt.Fprintf(w, "Segments: %d total, %d uploaded, %d failed\n", st.Total, st.Successful, st.Failed)
	if st.Partial() {
		fmt.Fprintf(w, "Partial upload: %d of %d segments missing\n", st.Total-st.Successful, st.Total)
	}
	fmt.Fprintf(w, "Segment size: %d MB\n", cfg.SegmentSizeMB)
	fmt.Fprintf(w, "Elapsed: %s\n", elapsed.Round(time.Millisecond))
	if cfg.Backend == config.BackendLocal {
		fmt.Fprintf(w, "Target directory: %s\n", cfg.LocalDir)
	} else {
		fmt.Fprintf(w, "S3 bucket: %s\n", cfg.S3Bucket)
		fmt.Fprintf(w, "S3 prefix: %s/%s\n", cfg.S3Prefix, st.ID)
	}
	if result.ManifestURL != "" {
		fmt.Fprintf(w, "Manifest: %s\n", result.ManifestURL)
	}

	if len(result.Tables) > 0 {
		fmt.Fprintf(w, "\nTables:\n")
		for i, t := range result.Tables {
			fmt.Fprintf(w, "  %d. %s (estimated rows: %s)\n", i+1, t.Name, t.EstimatedRows)
		}
	} else {
		fmt.Fprintf(w, "Tables: none detected\n")
	}

	for _, warning := range st.Warnings {
		fmt.Fprintf(w, "Warning: %s\n", warning)
	}

	if cfg.Quiet {
		// Uploaded references only, one per line
		if urls := result.URLs(); len(urls) > 0 {
			fmt.Fprintf(w, "\nUploaded:\n")
			for _, u := range urls {
				fmt.Fprintf(w, "%s\n", u)
			}
		}
	} else if len(st.Segments) > 0 {
		fmt.Fprintf(w, "\nSegments:\n")
		if len(st.Segments) <= 10 {
			for _, seg := range st.Segments {
				printSegment(w, seg.Index, st)
			}
		} else {
			// Print first 5 and last 5 if more than 10
			for i := 0; i < 5; i++ {
				printSegment(w, i, st)
			}
			fmt.Fprintf(w, "  ... (%d more segments) ...\n", len(st.Segments)-10)
			for i := len(st.Segments) - 5; i < len(st.Segments); i++ {
				printSegment(w, i, st)
			}
		}
		if cfg.Backend != config.BackendLocal {
			fmt.Fprintf(w, "\nTo verify the uploaded segments:\n")
			fmt.Fprintf(w, "  aws s3 ls s3://%s/%s/%s/ --region %s\n", cfg.S3Bucket, cfg.S3Prefix, st.ID, cfg.AWSRegion)
		}
	}
	fmt.Fprintf(w, "======================\n")
}

func printSegment(w io.Writer, i int, st session.State) {
	seg := st.Segments[i]
	switch {
	case seg.URL != "":
		fmt.Fprintf(w, "  %d. %s [%s] %s\n", i+1, seg.Name, seg.Status, seg.URL)
	case seg.Err != "":
		fmt.Fprintf(w, "  %d. %s [%s] %s\n", i+1, seg.Name, seg.Status, seg.Err)
	default:
		fmt.Fprintf(w, "  %d. %s [%s]\n", i+1, seg.Name, seg.Status)
	}
}
