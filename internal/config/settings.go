package config

import (
	"fmt"
	"os"
	"time"

	"golang.org/x/time/rate"
	"gopkg.in/yaml.v3"

	"github.com/kacper-wojtaszczyk/nclimgrid-ingest/internal/model"
	"github.com/kacper-wojtaszczyk/nclimgrid-ingest/internal/ratelimit"
	"github.com/kacper-wojtaszczyk/nclimgrid-ingest/internal/rowfilter"
)

// Settings describes what a run ingests and how it paces itself.
type Settings struct {
	// FromYear and ToYear bound the grid; ToYear 0 means the current year.
	FromYear int      `yaml:"from_year"`
	ToYear   int      `yaml:"to_year"`
	Types    []string `yaml:"types"`

	// Prefixes is the allow-list matched against FilterColumn.
	Prefixes     []string `yaml:"prefixes"`
	FilterColumn string   `yaml:"filter_column"`

	SinkName string `yaml:"sink_name"`

	Batch     BatchSettings     `yaml:"batch"`
	Retry     RetrySettings     `yaml:"retry"`
	RateLimit RateLimitSettings `yaml:"rate_limit"`
}

type BatchSettings struct {
	Size     int           `yaml:"size"`
	Delay    time.Duration `yaml:"delay"`
	Cooldown time.Duration `yaml:"cooldown"`
}

type RetrySettings struct {
	MaxRetries int           `yaml:"max_retries"`
	BaseDelay  time.Duration `yaml:"base_delay"`
}

// RateLimitSettings bounds calls to the destination and aggregate stores.
// Zero values disable the corresponding limit.
type RateLimitSettings struct {
	RequestsPerSecond float64 `yaml:"requests_per_second"`
	Burst             int     `yaml:"burst"`
	MaxConcurrency    int64   `yaml:"max_concurrency"`
}

// DefaultSettings returns the settings used when no file is given.
func DefaultSettings() *Settings {
	return &Settings{
		FromYear:     model.FirstYear,
		Types:        []string{"prcp", "tavg", "tmax", "tmin"},
		Prefixes:     []string{"VA"},
		// county names carry the state, "VA: Accomack County"; codes are FIPS
		FilterColumn: "region_name",
		SinkName:     "VCC Climate Master Sheet",
		Batch: BatchSettings{
			Size:     48,
			Delay:    60 * time.Second,
			Cooldown: 60 * time.Second,
		},
		Retry: RetrySettings{
			MaxRetries: 5,
			BaseDelay:  2 * time.Second,
		},
		RateLimit: RateLimitSettings{
			RequestsPerSecond: 5,
			Burst:             5,
			MaxConcurrency:    1,
		},
	}
}

// LoadSettings reads settings from a YAML file on top of the defaults.
// An empty path returns the defaults.
func LoadSettings(path string) (*Settings, error) {
	settings := DefaultSettings()
	if path == "" {
		return settings, nil
	}

	data, err := os.ReadFile(path)
	if err != nil {
		return nil, fmt.Errorf("read settings file: %w", err)
	}
	if err := yaml.Unmarshal(data, settings); err != nil {
		return nil, fmt.Errorf("parse settings file: %w", err)
	}
	return settings, nil
}

// Grid builds the resource grid, resolving ToYear against now.
func (s *Settings) Grid(now time.Time) (model.Grid, error) {
	to := s.ToYear
	if to == 0 {
		to = now.Year()
	}
	if s.FromYear < model.FirstYear || s.FromYear > to {
		return model.Grid{}, fmt.Errorf("invalid year range %d..%d", s.FromYear, to)
	}

	grid := model.NewGrid(s.FromYear, to)
	grid.Types = grid.Types[:0]
	for _, t := range s.Types {
		grid.Types = append(grid.Types, model.MeasurementType(t))
	}
	if err := grid.Validate(); err != nil {
		return model.Grid{}, err
	}
	return grid, nil
}

// Filter builds the row filter.
func (s *Settings) Filter() (rowfilter.Filter, error) {
	if len(s.Prefixes) == 0 {
		return rowfilter.Filter{}, fmt.Errorf("at least one region prefix is required")
	}
	col, err := rowfilter.ParseColumn(s.FilterColumn)
	if err != nil {
		return rowfilter.Filter{}, err
	}
	return rowfilter.Filter{Column: col, Prefixes: s.Prefixes}, nil
}

// Limiter builds the store API limiter.
func (s *Settings) Limiter() (*ratelimit.APILimiter, error) {
	d := ratelimit.Definition{
		Name:           "store-api",
		FillRate:       rate.Limit(s.RateLimit.RequestsPerSecond),
		BucketSize:     s.RateLimit.Burst,
		MaxConcurrency: s.RateLimit.MaxConcurrency,
	}
	if err := d.Validate(); err != nil {
		return nil, err
	}
	return ratelimit.New(d), nil
}
