package aggregate_test

import (
	"context"
	"errors"
	"testing"
	"time"

	"github.com/kacper-wojtaszczyk/nclimgrid-ingest/internal/aggregate"
	"github.com/kacper-wojtaszczyk/nclimgrid-ingest/internal/aggregate/aggregatetest"
	"github.com/kacper-wojtaszczyk/nclimgrid-ingest/internal/model"
	"github.com/kacper-wojtaszczyk/nclimgrid-ingest/internal/retry"
	"github.com/kacper-wojtaszczyk/nclimgrid-ingest/internal/storage"
)

var sections = []string{"prcp", "tavg", "tmax", "tmin"}

func newWriter(store aggregate.Store) *aggregate.Writer {
	p := retry.API(5, time.Second, nil)
	p.Sleep = func(ctx context.Context, d time.Duration) error { return nil }
	return aggregate.NewWriter(store, p)
}

func TestWriter_EnsureSink_CreatesSections(t *testing.T) {
	store := aggregatetest.NewMemory()
	w := newWriter(store)

	id, err := w.EnsureSink(context.Background(), "VCC Climate Master Sheet", sections)
	if err != nil {
		t.Fatalf("EnsureSink() error = %v", err)
	}
	if store.Calls[aggregatetest.OpSection] != len(sections) {
		t.Errorf("expected %d sections, got %d", len(sections), store.Calls[aggregatetest.OpSection])
	}
	header := store.Header(id, "tmin")
	if len(header) != len(model.Header) || header[1] != "Region Code" {
		t.Errorf("unexpected header %v", header)
	}
}

func TestWriter_EnsureSink_ReusesExisting(t *testing.T) {
	store := aggregatetest.NewMemory()
	ctx := context.Background()

	first := newWriter(store)
	id, err := first.EnsureSink(ctx, "master", sections)
	if err != nil {
		t.Fatalf("EnsureSink() error = %v", err)
	}
	if err := first.AppendRows(ctx, "prcp", "prcp-202001-cty-scaled.csv", []model.Row{{RegionCode: "VA001"}}); err != nil {
		t.Fatalf("AppendRows() error = %v", err)
	}

	if _, err := newWriter(store).EnsureSink(ctx, "master", sections); err != nil {
		t.Fatalf("second EnsureSink() error = %v", err)
	}
	if store.Calls[aggregatetest.OpCreate] != 1 {
		t.Errorf("expected one create, got %d", store.Calls[aggregatetest.OpCreate])
	}
	if rows := store.Rows(id, "prcp"); len(rows) != 1 || rows[0][1] != "VA001" {
		t.Errorf("existing section rows must survive, got %v", rows)
	}
}

func TestWriter_EnsureSink_CompletesPartialSink(t *testing.T) {
	store := aggregatetest.NewMemory()
	ctx := context.Background()

	// sink created, then setup dies after the first section
	store.Fail[aggregatetest.OpSection] = []error{nil, errors.New("connection reset")}
	if _, err := newWriter(store).EnsureSink(ctx, "master", sections); err == nil {
		t.Fatal("expected error from interrupted setup")
	}

	w := newWriter(store)
	id, err := w.EnsureSink(ctx, "master", sections)
	if err != nil {
		t.Fatalf("EnsureSink() error = %v", err)
	}
	if store.Calls[aggregatetest.OpCreate] != 1 {
		t.Errorf("expected one create, got %d", store.Calls[aggregatetest.OpCreate])
	}
	for _, s := range sections {
		if len(store.Header(id, s)) != len(model.Header) {
			t.Errorf("section %q missing after rerun", s)
		}
	}
	if err := w.AppendRows(ctx, "tmin", "tmin-202001-cty-scaled.csv", []model.Row{{RegionCode: "VA001"}}); err != nil {
		t.Fatalf("AppendRows() error = %v", err)
	}
}

func TestWriter_AppendRows(t *testing.T) {
	store := aggregatetest.NewMemory()
	w := newWriter(store)
	ctx := context.Background()

	id, err := w.EnsureSink(ctx, "master", sections)
	if err != nil {
		t.Fatalf("EnsureSink() error = %v", err)
	}

	first := []model.Row{{RegionCode: "VA001"}, {RegionCode: "VA003"}}
	second := []model.Row{{RegionCode: "VA005"}}
	if err := w.AppendRows(ctx, "prcp", "prcp-202001-cty-scaled.csv", first); err != nil {
		t.Fatalf("AppendRows() error = %v", err)
	}
	if err := w.AppendRows(ctx, "prcp", "prcp-202002-cty-scaled.csv", second); err != nil {
		t.Fatalf("AppendRows() error = %v", err)
	}

	rows := store.Rows(id, "prcp")
	if len(rows) != 3 || rows[0][1] != "VA001" || rows[2][1] != "VA005" {
		t.Fatalf("unexpected rows %v", rows)
	}

	done, err := w.Aggregated(ctx, "prcp", "prcp-202002-cty-scaled.csv")
	if err != nil || !done {
		t.Errorf("Aggregated() = %v, %v; want true", done, err)
	}
	if store.Calls[aggregatetest.OpSources] != 1 {
		t.Errorf("sources must be loaded once per section, got %d", store.Calls[aggregatetest.OpSources])
	}
}

func TestWriter_AggregatedSeededFromStore(t *testing.T) {
	store := aggregatetest.NewMemory()
	ctx := context.Background()

	prev := newWriter(store)
	if _, err := prev.EnsureSink(ctx, "master", sections); err != nil {
		t.Fatal(err)
	}
	if err := prev.AppendRows(ctx, "tavg", "tavg-195101-cty-scaled.csv", nil); err != nil {
		t.Fatal(err)
	}

	w := newWriter(store)
	if _, err := w.EnsureSink(ctx, "master", sections); err != nil {
		t.Fatal(err)
	}
	done, err := w.Aggregated(ctx, "tavg", "tavg-195101-cty-scaled.csv")
	if err != nil || !done {
		t.Errorf("Aggregated() = %v, %v; want true for a source recorded by an earlier run", done, err)
	}
	done, err = w.Aggregated(ctx, "tavg", "tavg-195102-cty-scaled.csv")
	if err != nil || done {
		t.Errorf("Aggregated() = %v, %v; want false", done, err)
	}
}

func TestWriter_AppendBeforeEnsure(t *testing.T) {
	w := newWriter(aggregatetest.NewMemory())
	err := w.AppendRows(context.Background(), "prcp", "x.csv", nil)
	if !errors.Is(err, aggregate.ErrNoSink) {
		t.Fatalf("expected ErrNoSink, got %v", err)
	}
}

func TestWriter_AppendRetriesServerErrors(t *testing.T) {
	store := aggregatetest.NewMemory()
	w := newWriter(store)
	ctx := context.Background()
	if _, err := w.EnsureSink(ctx, "master", sections); err != nil {
		t.Fatal(err)
	}

	store.Fail[aggregatetest.OpAppend] = []error{
		&storage.APIError{Op: "append", Status: 500, Err: errors.New("backend error")},
		&storage.APIError{Op: "append", Status: 500, Err: errors.New("backend error")},
	}
	if err := w.AppendRows(ctx, "tmax", "tmax-202001-cty-scaled.csv", []model.Row{{RegionCode: "VA001"}}); err != nil {
		t.Fatalf("AppendRows() error = %v", err)
	}
	if store.Calls[aggregatetest.OpAppend] != 3 {
		t.Errorf("expected 3 append attempts, got %d", store.Calls[aggregatetest.OpAppend])
	}
}

func TestWriter_AppendPermanentError(t *testing.T) {
	store := aggregatetest.NewMemory()
	w := newWriter(store)
	ctx := context.Background()
	if _, err := w.EnsureSink(ctx, "master", sections); err != nil {
		t.Fatal(err)
	}

	store.Fail[aggregatetest.OpAppend] = []error{errors.New("permission denied")}
	err := w.AppendRows(ctx, "tmax", "tmax-202001-cty-scaled.csv", []model.Row{{RegionCode: "VA001"}})
	if err == nil {
		t.Fatal("expected error")
	}
	done, _ := w.Aggregated(ctx, "tmax", "tmax-202001-cty-scaled.csv")
	if done {
		t.Error("failed append must not mark the source aggregated")
	}
}
