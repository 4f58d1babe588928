// Package aggregatetest provides an in-memory aggregate store for tests.
package aggregatetest

import (
	"context"
	"fmt"
	"sync"

	"github.com/kacper-wojtaszczyk/nclimgrid-ingest/internal/model"
)

// Operation names used in Calls and Fail.
const (
	OpFind    = "find"
	OpCreate  = "create"
	OpSection = "section"
	OpAppend  = "append"
	OpSources = "sources"
)

type section struct {
	header  []string
	rows    [][]string
	sources []string
}

// Memory is an in-memory aggregate store keyed by sink name.
type Memory struct {
	mu    sync.Mutex
	sinks map[string]map[string]*section

	Calls map[string]int
	Fail  map[string][]error
}

// NewMemory returns an empty store.
func NewMemory() *Memory {
	return &Memory{
		sinks: make(map[string]map[string]*section),
		Calls: make(map[string]int),
		Fail:  make(map[string][]error),
	}
}

func (m *Memory) call(op string) error {
	m.Calls[op]++
	if errs := m.Fail[op]; len(errs) > 0 {
		m.Fail[op] = errs[1:]
		return errs[0]
	}
	return nil
}

// Rows returns the rows of a section in append order.
func (m *Memory) Rows(sinkID, name string) [][]string {
	m.mu.Lock()
	defer m.mu.Unlock()
	s, ok := m.sinks[sinkID][name]
	if !ok {
		return nil
	}
	return append([][]string(nil), s.rows...)
}

// Header returns the header row of a section.
func (m *Memory) Header(sinkID, name string) []string {
	m.mu.Lock()
	defer m.mu.Unlock()
	if s, ok := m.sinks[sinkID][name]; ok {
		return s.header
	}
	return nil
}

func (m *Memory) FindSink(ctx context.Context, name string) (string, bool, error) {
	m.mu.Lock()
	defer m.mu.Unlock()
	if err := m.call(OpFind); err != nil {
		return "", false, err
	}
	_, ok := m.sinks[name]
	if !ok {
		return "", false, nil
	}
	return name, true, nil
}

func (m *Memory) CreateSink(ctx context.Context, name string) (string, error) {
	m.mu.Lock()
	defer m.mu.Unlock()
	if err := m.call(OpCreate); err != nil {
		return "", err
	}
	if _, ok := m.sinks[name]; ok {
		return "", fmt.Errorf("sink %q already exists", name)
	}
	m.sinks[name] = make(map[string]*section)
	return name, nil
}

func (m *Memory) AddSection(ctx context.Context, sinkID, name string, header []string) error {
	m.mu.Lock()
	defer m.mu.Unlock()
	if err := m.call(OpSection); err != nil {
		return err
	}
	sink, ok := m.sinks[sinkID]
	if !ok {
		return fmt.Errorf("unknown sink %q", sinkID)
	}
	if _, ok := sink[name]; ok {
		return nil
	}
	sink[name] = &section{header: append([]string(nil), header...)}
	return nil
}

func (m *Memory) AppendValues(ctx context.Context, sinkID, name, source string, rows []model.Row) error {
	m.mu.Lock()
	defer m.mu.Unlock()
	if err := m.call(OpAppend); err != nil {
		return err
	}
	s, ok := m.sinks[sinkID][name]
	if !ok {
		return fmt.Errorf("unknown section %q", name)
	}
	for _, r := range rows {
		s.rows = append(s.rows, r.Values())
	}
	s.sources = append(s.sources, source)
	return nil
}

func (m *Memory) Sources(ctx context.Context, sinkID, name string) ([]string, error) {
	m.mu.Lock()
	defer m.mu.Unlock()
	if err := m.call(OpSources); err != nil {
		return nil, err
	}
	s, ok := m.sinks[sinkID][name]
	if !ok {
		return nil, fmt.Errorf("unknown section %q", name)
	}
	return append([]string(nil), s.sources...), nil
}
