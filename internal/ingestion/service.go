package ingestion

import (
	"context"
	"errors"
	"fmt"
	"log/slog"
	"time"

	"github.com/kacper-wojtaszczyk/nclimgrid-ingest/internal/model"
	"github.com/kacper-wojtaszczyk/nclimgrid-ingest/internal/partition"
	"github.com/kacper-wojtaszczyk/nclimgrid-ingest/internal/retry"
	"github.com/kacper-wojtaszczyk/nclimgrid-ingest/internal/rowfilter"
)

// ErrNotAvailable is matched by fetch errors for files the source does not
// serve (any response other than 200).
var ErrNotAvailable = errors.New("resource not available")

// FetchResult holds a downloaded file.
type FetchResult struct {
	Content    []byte
	StatusCode int
}

// Fetcher retrieves the file of a resource key.
type Fetcher interface {
	Fetch(ctx context.Context, key model.ResourceKey) (FetchResult, error)
}

// Partitions resolves destination partitions.
type Partitions interface {
	Cached(name string) (*partition.Partition, bool)
	Resolve(ctx context.Context, name string) (*partition.Partition, error)
}

// Aggregator appends filtered rows to the aggregate sink.
type Aggregator interface {
	EnsureSink(ctx context.Context, name string, sections []string) (string, error)
	Aggregated(ctx context.Context, section, source string) (bool, error)
	AppendRows(ctx context.Context, section, source string, rows []model.Row) error
}

// Defaults for Config fields left zero.
const (
	DefaultBatchSize     = 48
	DefaultBatchDelay    = 60 * time.Second
	DefaultCooldownDelay = 60 * time.Second
	DefaultSinkName      = "VCC Climate Master Sheet"
)

// Config tunes a Service.
type Config struct {
	Grid     model.Grid
	SinkName string
	Filter   rowfilter.Filter

	// BatchSize is the number of consecutive keys processed between pauses.
	BatchSize int
	// BatchDelay is the pause between two batches.
	BatchDelay time.Duration
	// CooldownDelay is the pause after a failed batch before it is resumed.
	CooldownDelay time.Duration
}

// Dependencies are the collaborators of a Service.
type Dependencies struct {
	Fetcher    Fetcher
	Partitions Partitions
	Uploader   *Uploader
	Aggregator Aggregator
}

// Stats counts what a run did.
type Stats struct {
	Batches       int
	Uploaded      int
	AlreadyStored int
	Aggregated    int
	Rows          int
	Unavailable   int
	ParseFailures int
	Cooldowns     int
}

// Service walks the resource grid in batches: fetch, upload, filter, append.
type Service struct {
	cfg  Config
	deps Dependencies

	sleep func(ctx context.Context, d time.Duration) error
}

func NewService(cfg Config, deps Dependencies) *Service {
	if cfg.BatchSize <= 0 {
		cfg.BatchSize = DefaultBatchSize
	}
	if cfg.BatchDelay == 0 {
		cfg.BatchDelay = DefaultBatchDelay
	}
	if cfg.CooldownDelay == 0 {
		cfg.CooldownDelay = DefaultCooldownDelay
	}
	if cfg.SinkName == "" {
		cfg.SinkName = DefaultSinkName
	}
	if cfg.Filter.Column == 0 {
		cfg.Filter.Column = rowfilter.RegionCode
	}
	return &Service{cfg: cfg, deps: deps, sleep: retry.Sleep}
}

// Run processes the whole grid. A failed batch is retried from its first
// unprocessed key after a cool-down; exhausted retries and cancellation end
// the run.
func (s *Service) Run(ctx context.Context) (Stats, error) {
	var stats Stats

	if err := s.cfg.Grid.Validate(); err != nil {
		return stats, err
	}

	sections := make([]string, len(s.cfg.Grid.Types))
	for i, t := range s.cfg.Grid.Types {
		sections[i] = string(t)
	}
	if _, err := s.deps.Aggregator.EnsureSink(ctx, s.cfg.SinkName, sections); err != nil {
		return stats, fmt.Errorf("ensure sink: %w", err)
	}

	total := s.cfg.Grid.Len()
	batches := (total + s.cfg.BatchSize - 1) / s.cfg.BatchSize
	processed := make(map[model.ResourceKey]struct{}, total)

	slog.InfoContext(ctx, "ingestion started", "keys", total, "batches", batches, "batch_size", s.cfg.BatchSize)

	for b := 0; b < batches; {
		start := b * s.cfg.BatchSize
		end := min(start+s.cfg.BatchSize, total)

		if err := s.runBatch(ctx, start, end, processed, &stats); err != nil {
			if terminal(ctx, err) {
				return stats, err
			}
			stats.Cooldowns++
			slog.ErrorContext(ctx, "batch failed, cooling down",
				"batch", b+1, "delay", s.cfg.CooldownDelay, "error", err)
			if err := s.sleep(ctx, s.cfg.CooldownDelay); err != nil {
				return stats, err
			}
			continue
		}

		b++
		stats.Batches++
		slog.InfoContext(ctx, "batch complete", "processed_batches", b, "batches", batches)

		if b < batches {
			if err := s.sleep(ctx, s.cfg.BatchDelay); err != nil {
				return stats, err
			}
		}
	}

	slog.InfoContext(ctx, "ingestion complete",
		"uploaded", stats.Uploaded,
		"already_stored", stats.AlreadyStored,
		"aggregated", stats.Aggregated,
		"rows", stats.Rows,
		"unavailable", stats.Unavailable,
		"parse_failures", stats.ParseFailures,
		"cooldowns", stats.Cooldowns,
	)
	if stats.Aggregated > 0 && stats.Rows == 0 {
		slog.WarnContext(ctx, "no rows matched the region filter",
			"column", s.cfg.Filter.Column,
			"prefixes", s.cfg.Filter.Prefixes,
			"aggregated", stats.Aggregated,
		)
	}
	return stats, nil
}

func (s *Service) runBatch(ctx context.Context, start, end int, processed map[model.ResourceKey]struct{}, stats *Stats) error {
	for i := start; i < end; i++ {
		key := s.cfg.Grid.At(i)
		if _, ok := processed[key]; ok {
			continue
		}
		done, err := s.processKey(ctx, key, stats)
		if err != nil {
			return fmt.Errorf("%s: %w", key, err)
		}
		if done {
			processed[key] = struct{}{}
		}
	}
	return nil
}

// processKey reports whether key is now fully processed.
func (s *Service) processKey(ctx context.Context, key model.ResourceKey, stats *Stats) (bool, error) {
	name := key.FileName()
	section := string(key.Type)

	if p, ok := s.deps.Partitions.Cached(key.Partition()); ok && p.Index.Contains(name) {
		aggregated, err := s.deps.Aggregator.Aggregated(ctx, section, name)
		if err != nil {
			return false, err
		}
		if aggregated {
			stats.AlreadyStored++
			return true, nil
		}
	}

	result, err := s.deps.Fetcher.Fetch(ctx, key)
	if errors.Is(err, ErrNotAvailable) {
		stats.Unavailable++
		slog.WarnContext(ctx, "file not available", "file", name, "status", result.StatusCode, "error", err)
		return false, nil
	}
	if err != nil {
		return false, err
	}

	p, err := s.deps.Partitions.Resolve(ctx, key.Partition())
	if err != nil {
		return false, err
	}

	upload, err := s.deps.Uploader.Upload(ctx, name, result.Content, p)
	if err != nil {
		return false, err
	}
	if upload.Skipped {
		stats.AlreadyStored++
		aggregated, err := s.deps.Aggregator.Aggregated(ctx, section, name)
		if err != nil {
			return false, err
		}
		if aggregated {
			return true, nil
		}
	} else {
		stats.Uploaded++
	}

	rows, err := s.cfg.Filter.Apply(result.Content)
	var parseErr *rowfilter.ParseError
	if errors.As(err, &parseErr) {
		stats.ParseFailures++
		slog.ErrorContext(ctx, "failed to parse file", "file", name, "error", err)
		return false, nil
	}
	if err != nil {
		return false, err
	}

	if err := s.deps.Aggregator.AppendRows(ctx, section, name, rows); err != nil {
		return false, err
	}
	stats.Aggregated++
	stats.Rows += len(rows)
	return true, nil
}

func terminal(ctx context.Context, err error) bool {
	return ctx.Err() != nil ||
		errors.Is(err, retry.ErrExhausted) ||
		errors.Is(err, context.Canceled)
}
