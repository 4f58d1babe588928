// Package aggregate appends filtered county rows to a shared sink with one
// section per measurement type.
package aggregate

import (
	"context"
	"errors"
	"fmt"
	"log/slog"
	"sync"

	"github.com/kacper-wojtaszczyk/nclimgrid-ingest/internal/model"
	"github.com/kacper-wojtaszczyk/nclimgrid-ingest/internal/retry"
)

// Store is the aggregate store capability.
//
// AppendValues records source as aggregated for section together with the
// rows, even when rows is empty; Sources lists what has been recorded.
type Store interface {
	FindSink(ctx context.Context, name string) (id string, found bool, err error)
	CreateSink(ctx context.Context, name string) (string, error)
	AddSection(ctx context.Context, sinkID, section string, header []string) error
	AppendValues(ctx context.Context, sinkID, section, source string, rows []model.Row) error
	Sources(ctx context.Context, sinkID, section string) ([]string, error)
}

// ErrNoSink is returned when rows are written before EnsureSink.
var ErrNoSink = errors.New("aggregate sink not initialized")

// Writer appends rows to one sink and remembers which source files each
// section already holds. The per-section source set is loaded once, on first use.
type Writer struct {
	store  Store
	policy retry.Policy

	mu        sync.Mutex
	sinkID    string
	completed map[string]map[string]struct{}
}

// NewWriter creates a Writer whose store calls run under policy.
func NewWriter(store Store, policy retry.Policy) *Writer {
	return &Writer{
		store:     store,
		policy:    policy,
		completed: make(map[string]map[string]struct{}),
	}
}

// EnsureSink finds the sink called name or creates it, then makes sure it
// has one section per entry of sections, each using the canonical header.
// Sections that already exist are left untouched.
func (w *Writer) EnsureSink(ctx context.Context, name string, sections []string) (string, error) {
	type lookup struct {
		id    string
		found bool
	}
	res, err := retry.Value(ctx, w.policy, func(ctx context.Context) (lookup, error) {
		id, found, err := w.store.FindSink(ctx, name)
		return lookup{id, found}, err
	})
	if err != nil {
		return "", fmt.Errorf("find sink %q: %w", name, err)
	}

	id := res.id
	if res.found {
		slog.InfoContext(ctx, "aggregate sink exists", "sink", name, "id", id)
	} else {
		id, err = retry.Value(ctx, w.policy, func(ctx context.Context) (string, error) {
			return w.store.CreateSink(ctx, name)
		})
		if err != nil {
			return "", fmt.Errorf("create sink %q: %w", name, err)
		}
		slog.InfoContext(ctx, "aggregate sink created", "sink", name, "id", id)
	}

	// AddSection keeps existing sections, so a sink left half set up by an
	// earlier run gets its missing sections here.
	for _, section := range sections {
		err := w.policy.Do(ctx, func(ctx context.Context) error {
			return w.store.AddSection(ctx, id, section, model.Header)
		})
		if err != nil {
			return "", fmt.Errorf("add section %q: %w", section, err)
		}
	}

	w.mu.Lock()
	w.sinkID = id
	w.mu.Unlock()
	return id, nil
}

// Aggregated reports whether rows of source were already appended to section.
func (w *Writer) Aggregated(ctx context.Context, section, source string) (bool, error) {
	done, err := w.sources(ctx, section)
	if err != nil {
		return false, err
	}
	w.mu.Lock()
	defer w.mu.Unlock()
	_, ok := done[source]
	return ok, nil
}

// AppendRows appends rows of source to the end of section. It performs no
// deduplication of its own; callers invoke it once per source.
func (w *Writer) AppendRows(ctx context.Context, section, source string, rows []model.Row) error {
	sinkID, err := w.sink()
	if err != nil {
		return err
	}
	done, err := w.sources(ctx, section)
	if err != nil {
		return err
	}

	err = w.policy.Do(ctx, func(ctx context.Context) error {
		return w.store.AppendValues(ctx, sinkID, section, source, rows)
	})
	if err != nil {
		return fmt.Errorf("append %d rows of %s to %q: %w", len(rows), source, section, err)
	}

	w.mu.Lock()
	done[source] = struct{}{}
	w.mu.Unlock()

	slog.InfoContext(ctx, "rows appended", "section", section, "source", source, "rows", len(rows))
	return nil
}

func (w *Writer) sink() (string, error) {
	w.mu.Lock()
	defer w.mu.Unlock()
	if w.sinkID == "" {
		return "", ErrNoSink
	}
	return w.sinkID, nil
}

func (w *Writer) sources(ctx context.Context, section string) (map[string]struct{}, error) {
	w.mu.Lock()
	done, ok := w.completed[section]
	w.mu.Unlock()
	if ok {
		return done, nil
	}

	sinkID, err := w.sink()
	if err != nil {
		return nil, err
	}
	list, err := retry.Value(ctx, w.policy, func(ctx context.Context) ([]string, error) {
		return w.store.Sources(ctx, sinkID, section)
	})
	if err != nil {
		return nil, fmt.Errorf("load aggregated sources of %q: %w", section, err)
	}

	done = make(map[string]struct{}, len(list))
	for _, s := range list {
		done[s] = struct{}{}
	}

	w.mu.Lock()
	defer w.mu.Unlock()
	if existing, ok := w.completed[section]; ok {
		return existing, nil
	}
	w.completed[section] = done
	return done, nil
}
