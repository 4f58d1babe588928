package ingestion

import (
	"context"
	"fmt"
	"net/http"
	"strings"
	"sync"
	"time"

	"github.com/kacper-wojtaszczyk/nclimgrid-ingest/internal/aggregate"
	"github.com/kacper-wojtaszczyk/nclimgrid-ingest/internal/aggregate/aggregatetest"
	"github.com/kacper-wojtaszczyk/nclimgrid-ingest/internal/model"
	"github.com/kacper-wojtaszczyk/nclimgrid-ingest/internal/partition"
	"github.com/kacper-wojtaszczyk/nclimgrid-ingest/internal/retry"
	"github.com/kacper-wojtaszczyk/nclimgrid-ingest/internal/rowfilter"
	"github.com/kacper-wojtaszczyk/nclimgrid-ingest/internal/storage"
	"github.com/kacper-wojtaszczyk/nclimgrid-ingest/internal/storage/storagetest"
)

const rootID = "nclimgrid/"

// stubFetcher serves files by name; names without content answer 404.
type stubFetcher struct {
	mu      sync.Mutex
	files   map[string][]byte
	calls   map[string]int
	missing map[string]bool
}

func newStubFetcher() *stubFetcher {
	return &stubFetcher{
		files:   make(map[string][]byte),
		calls:   make(map[string]int),
		missing: make(map[string]bool),
	}
}

func (f *stubFetcher) Fetch(ctx context.Context, key model.ResourceKey) (FetchResult, error) {
	f.mu.Lock()
	defer f.mu.Unlock()
	name := key.FileName()
	f.calls[name]++
	if f.missing[name] {
		return FetchResult{StatusCode: http.StatusNotFound}, fmt.Errorf("fetch %s: %w", name, ErrNotAvailable)
	}
	content, ok := f.files[name]
	if !ok {
		content = []byte(countyFile(key, "VA001", "NC001", "VA003"))
	}
	return FetchResult{Content: content, StatusCode: http.StatusOK}, nil
}

func (f *stubFetcher) total() int {
	f.mu.Lock()
	defer f.mu.Unlock()
	n := 0
	for _, c := range f.calls {
		n += c
	}
	return n
}

// countyFile renders a headerless county file with one row per code.
func countyFile(key model.ResourceKey, codes ...string) string {
	var b strings.Builder
	for _, code := range codes {
		fields := []string{"cty", code, code + " County", fmt.Sprint(key.Year), fmt.Sprint(key.Month), strings.ToUpper(string(key.Type))}
		for d := range model.DaysPerRow {
			fields = append(fields, fmt.Sprintf("%d.00", d))
		}
		b.WriteString(strings.Join(fields, ","))
		b.WriteString("\n")
	}
	return b.String()
}

func testPolicy() retry.Policy {
	p := retry.API(5, time.Second, nil)
	p.Sleep = func(ctx context.Context, d time.Duration) error { return nil }
	return p
}

func smallGrid() model.Grid {
	return model.Grid{
		Years:  []int{2020},
		Months: []int{1, 2},
		Types:  []model.MeasurementType{model.Precipitation, model.AverageTemperature},
	}
}

type harness struct {
	dest    *storagetest.Memory
	sink    *aggregatetest.Memory
	fetcher *stubFetcher
	sleeps  []time.Duration
}

func newHarness() *harness {
	return &harness{
		dest:    storagetest.NewMemory(),
		sink:    aggregatetest.NewMemory(),
		fetcher: newStubFetcher(),
	}
}

// service builds a fresh service over the harness stores, as a new run would.
func (h *harness) service(cfg Config) *Service {
	if cfg.Filter.Prefixes == nil {
		cfg.Filter = rowfilter.Filter{Column: rowfilter.RegionCode, Prefixes: []string{"VA"}}
	}
	policy := testPolicy()
	svc := NewService(cfg, Dependencies{
		Fetcher:    h.fetcher,
		Partitions: partition.NewManager(h.dest, rootID, policy),
		Uploader:   NewUploader(h.dest, policy),
		Aggregator: aggregate.NewWriter(h.sink, policy),
	})
	svc.sleep = func(ctx context.Context, d time.Duration) error {
		h.sleeps = append(h.sleeps, d)
		return ctx.Err()
	}
	return svc
}

func serverError() error {
	return &storage.APIError{Op: "test", Status: http.StatusInternalServerError, Err: fmt.Errorf("backend error")}
}
