package main

import (
	"context"
	"errors"
	"flag"
	"fmt"
	"log/slog"
	"os"
	"os/signal"
	"strings"
	"syscall"
	"time"

	"github.com/joho/godotenv"
	"github.com/kacper-wojtaszczyk/nclimgrid-ingest/internal/adapters/ncei"
	"github.com/kacper-wojtaszczyk/nclimgrid-ingest/internal/aggregate"
	"github.com/kacper-wojtaszczyk/nclimgrid-ingest/internal/aggregate/clickhouse"
	"github.com/kacper-wojtaszczyk/nclimgrid-ingest/internal/aggregate/postgres"
	"github.com/kacper-wojtaszczyk/nclimgrid-ingest/internal/config"
	"github.com/kacper-wojtaszczyk/nclimgrid-ingest/internal/exitcode"
	"github.com/kacper-wojtaszczyk/nclimgrid-ingest/internal/ingestion"
	"github.com/kacper-wojtaszczyk/nclimgrid-ingest/internal/model"
	"github.com/kacper-wojtaszczyk/nclimgrid-ingest/internal/partition"
	"github.com/kacper-wojtaszczyk/nclimgrid-ingest/internal/retry"
	"github.com/kacper-wojtaszczyk/nclimgrid-ingest/internal/storage"
)

// destination is the object store the files are uploaded to.
type destination interface {
	partition.Store
	ingestion.ObjectStorage
}

type sinkStore interface {
	aggregate.Store
	Close() error
}

func main() {
	// Configure the global logger
	slog.SetDefault(slog.New(slog.NewJSONHandler(os.Stdout, &slog.HandlerOptions{Level: slog.LevelDebug})))

	// Parse CLI flags
	configPath := flag.String("config", "", "Path to a YAML run settings file")
	fromYear := flag.Int("from-year", 0, "First year to ingest (overrides settings)")
	toYear := flag.Int("to-year", 0, "Last year to ingest (overrides settings)")
	prefixes := flag.String("prefixes", "", "Comma-separated region prefixes to aggregate (overrides settings)")
	runIDFlag := flag.String("run-id", "", "Run identifier (UUIDv7 from orchestration); generated when empty")
	flag.Parse()

	runID := model.RunID(*runIDFlag)
	if runID == "" {
		var err error
		if runID, err = model.NewRunID(); err != nil {
			slog.Error("failed to generate run-id", "error", err)
			os.Exit(exitcode.ApplicationError)
		}
	}
	if err := runID.Validate(); err != nil {
		slog.Error("invalid run-id", "error", err)
		fmt.Fprintf(os.Stderr, "Usage: run-id must be a UUIDv7\n")
		os.Exit(exitcode.ConfigError)
	}
	slog.SetDefault(slog.Default().With("run_id", runID.String()))

	// Ensure environment variables are loaded
	err := godotenv.Load()
	if err != nil {
		slog.Warn("failed to load env vars", "error", err)
	}

	// Load configuration
	cfg, err := config.Load()
	if err != nil {
		slog.Error("failed to load config", "error", err)
		os.Exit(exitcode.ConfigError)
	}
	settings, err := config.LoadSettings(*configPath)
	if err != nil {
		slog.Error("failed to load run settings", "path", *configPath, "error", err)
		os.Exit(exitcode.ConfigError)
	}
	applyFlags(settings, *fromYear, *toYear, *prefixes)

	// Create a cancellable context (for graceful shutdown)
	ctx, cancel := signal.NotifyContext(context.Background(),
		syscall.SIGINT, syscall.SIGTERM)
	defer cancel()

	// Initialize MinIO client
	minioCfg := storage.MinIOConfig{
		Endpoint:  cfg.MinIOEndpoint,
		AccessKey: cfg.MinIOAccessKey,
		SecretKey: cfg.MinIOSecretKey,
		Bucket:    cfg.MinIOBucket,
		UseSSL:    cfg.MinIOUseSSL,
	}
	minioClient, err := storage.NewMinIOClient(ctx, minioCfg)
	if err != nil {
		slog.Error("failed to initialize minio client", "error", err)
		os.Exit(exitcode.NetworkError)
	}

	sink, err := openSink(ctx, cfg)
	if err != nil {
		slog.Error("failed to initialize aggregate sink", "driver", cfg.SinkDriver, "error", err)
		os.Exit(exitcode.NetworkError)
	}
	defer sink.Close()

	client := ncei.NewClient(cfg.NCEIBaseURL)

	stats, err := run(ctx, settings, client, minioClient, sink, storage.RootID(cfg.DestinationRoot))
	if err != nil {
		slog.Error("application error", "error", err, "stats", stats)
		sink.Close()
		os.Exit(exitCode(err))
	}

	slog.Info("shutdown complete")
}

// run wires the pipeline from settings and runs it once over the grid.
func run(
	ctx context.Context,
	settings *config.Settings,
	fetcher ingestion.Fetcher,
	dest destination,
	sink aggregate.Store,
	rootID string,
) (ingestion.Stats, error) {
	grid, err := settings.Grid(time.Now())
	if err != nil {
		return ingestion.Stats{}, fmt.Errorf("grid: %w", err)
	}
	filter, err := settings.Filter()
	if err != nil {
		return ingestion.Stats{}, fmt.Errorf("filter: %w", err)
	}
	limiter, err := settings.Limiter()
	if err != nil {
		return ingestion.Stats{}, fmt.Errorf("rate limit: %w", err)
	}

	policy := retry.API(settings.Retry.MaxRetries, settings.Retry.BaseDelay, limiter)

	svc := ingestion.NewService(ingestion.Config{
		Grid:          grid,
		SinkName:      settings.SinkName,
		Filter:        filter,
		BatchSize:     settings.Batch.Size,
		BatchDelay:    settings.Batch.Delay,
		CooldownDelay: settings.Batch.Cooldown,
	}, ingestion.Dependencies{
		Fetcher:    fetcher,
		Partitions: partition.NewManager(dest, rootID, policy),
		Uploader:   ingestion.NewUploader(dest, policy),
		Aggregator: aggregate.NewWriter(sink, policy),
	})

	slog.InfoContext(ctx, "starting ingestion",
		"from", grid.Years[0], "to", grid.Years[len(grid.Years)-1],
		"prefixes", filter.Prefixes, "limiter", limiter.String())

	return svc.Run(ctx)
}

func openSink(ctx context.Context, cfg *config.Config) (sinkStore, error) {
	switch cfg.SinkDriver {
	case config.SinkPostgres:
		store, err := postgres.Open(ctx, cfg.PostgresDSN)
		if err != nil {
			return nil, err
		}
		return store, nil
	default:
		client, err := clickhouse.NewClient(clickhouse.Config{
			Host:     cfg.ClickHouseHost,
			Port:     cfg.ClickHousePort,
			User:     cfg.ClickHouseUser,
			Password: cfg.ClickHousePassword,
		}, slog.Default())
		if err != nil {
			return nil, err
		}
		return client, nil
	}
}

func applyFlags(s *config.Settings, fromYear, toYear int, prefixes string) {
	if fromYear > 0 {
		s.FromYear = fromYear
	}
	if toYear > 0 {
		s.ToYear = toYear
	}
	if prefixes != "" {
		s.Prefixes = s.Prefixes[:0]
		for _, p := range strings.Split(prefixes, ",") {
			if p = strings.TrimSpace(p); p != "" {
				s.Prefixes = append(s.Prefixes, p)
			}
		}
	}
}

func exitCode(err error) int {
	switch {
	case errors.Is(err, retry.ErrExhausted):
		return exitcode.StorageError
	case retry.IsClientError(err):
		return exitcode.APIError
	default:
		return exitcode.ApplicationError
	}
}
