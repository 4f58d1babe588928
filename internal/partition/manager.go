// Package partition resolves per-year destination containers and caches which
// files each of them already holds.
package partition

import (
	"context"
	"fmt"
	"log/slog"
	"sync"

	"golang.org/x/sync/singleflight"

	"github.com/kacper-wojtaszczyk/nclimgrid-ingest/internal/retry"
	"github.com/kacper-wojtaszczyk/nclimgrid-ingest/internal/storage"
)

// Store is the part of the destination store the manager needs.
type Store interface {
	ListChildren(ctx context.Context, parentID string, filter storage.Filter) ([]storage.Entry, error)
	CreateContainer(ctx context.Context, name, parentID string) (string, error)
}

// Partition is a resolved destination container and its file index.
type Partition struct {
	ID    string
	Name  string
	Index *Index
}

// Manager resolves partitions under one root with get-or-create semantics.
// Each partition is listed once per Manager; create one Manager per run.
//
// The index is not re-queried after seeding, so objects added to the
// destination by another writer during the run are not seen.
type Manager struct {
	store  Store
	rootID string
	policy retry.Policy

	group      singleflight.Group
	mu         sync.Mutex
	partitions map[string]*Partition
}

// NewManager creates a Manager for partitions under rootID.
func NewManager(store Store, rootID string, policy retry.Policy) *Manager {
	return &Manager{
		store:      store,
		rootID:     rootID,
		policy:     policy,
		partitions: make(map[string]*Partition),
	}
}

// Cached returns a partition already resolved by this manager without I/O.
func (m *Manager) Cached(name string) (*Partition, bool) {
	m.mu.Lock()
	defer m.mu.Unlock()
	p, ok := m.partitions[name]
	return p, ok
}

// Resolve returns the partition called name, creating it if absent.
// Concurrent calls for the same name share one lookup.
func (m *Manager) Resolve(ctx context.Context, name string) (*Partition, error) {
	if p, ok := m.Cached(name); ok {
		return p, nil
	}

	v, err, _ := m.group.Do(name, func() (any, error) {
		if p, ok := m.Cached(name); ok {
			return p, nil
		}

		id, err := m.lookupOrCreate(ctx, name)
		if err != nil {
			return nil, err
		}
		index, err := m.loadExistingFiles(ctx, id)
		if err != nil {
			return nil, err
		}

		p := &Partition{ID: id, Name: name, Index: index}
		m.mu.Lock()
		m.partitions[name] = p
		m.mu.Unlock()

		slog.InfoContext(ctx, "partition resolved", "partition", name, "id", id, "existing_files", index.Len())
		return p, nil
	})
	if err != nil {
		return nil, fmt.Errorf("resolve partition %q: %w", name, err)
	}
	return v.(*Partition), nil
}

func (m *Manager) lookupOrCreate(ctx context.Context, name string) (string, error) {
	folders, err := retry.Value(ctx, m.policy, func(ctx context.Context) ([]storage.Entry, error) {
		return m.store.ListChildren(ctx, m.rootID, storage.Filter{Name: name, ContainersOnly: true})
	})
	if err != nil {
		return "", fmt.Errorf("look up: %w", err)
	}
	if len(folders) > 0 {
		return folders[0].ID, nil
	}

	id, err := retry.Value(ctx, m.policy, func(ctx context.Context) (string, error) {
		return m.store.CreateContainer(ctx, name, m.rootID)
	})
	if err != nil {
		return "", fmt.Errorf("create: %w", err)
	}
	slog.InfoContext(ctx, "partition created", "partition", name, "id", id)
	return id, nil
}

// loadExistingFiles seeds the index of a partition from a live listing.
func (m *Manager) loadExistingFiles(ctx context.Context, partitionID string) (*Index, error) {
	entries, err := retry.Value(ctx, m.policy, func(ctx context.Context) ([]storage.Entry, error) {
		return m.store.ListChildren(ctx, partitionID, storage.Filter{})
	})
	if err != nil {
		return nil, fmt.Errorf("list existing files: %w", err)
	}

	index := NewIndex()
	for _, e := range entries {
		if !e.Container {
			index.MarkUploaded(e.Name)
		}
	}
	return index, nil
}
