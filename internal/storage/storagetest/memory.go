// Package storagetest provides an in-memory destination store for tests.
package storagetest

import (
	"context"
	"fmt"
	"io"
	"sort"
	"strings"
	"sync"

	"github.com/kacper-wojtaszczyk/nclimgrid-ingest/internal/storage"
)

// Memory is an in-memory destination store. Errors queued in Fail are
// returned (in order) by the next calls of the named operation.
type Memory struct {
	mu      sync.Mutex
	objects map[string][]byte // key -> content; container markers end in "/"
	types   map[string]string
	sizes   map[string]int64

	Calls map[string]int
	Fail  map[string][]error
}

// Operation names used in Calls and Fail.
const (
	OpList            = "list"
	OpCreateContainer = "create_container"
	OpCreateObject    = "create_object"
)

// NewMemory returns an empty store.
func NewMemory() *Memory {
	return &Memory{
		objects: make(map[string][]byte),
		types:   make(map[string]string),
		sizes:   make(map[string]int64),
		Calls:   make(map[string]int),
		Fail:    make(map[string][]error),
	}
}

// Seed adds an object (and its containers) without counting a call.
func (m *Memory) Seed(key string, content []byte) {
	m.mu.Lock()
	defer m.mu.Unlock()
	parts := strings.Split(key, "/")
	for i := 1; i < len(parts); i++ {
		m.objects[strings.Join(parts[:i], "/")+"/"] = nil
	}
	m.objects[key] = content
}

// Object returns the content stored under key.
func (m *Memory) Object(key string) ([]byte, bool) {
	m.mu.Lock()
	defer m.mu.Unlock()
	b, ok := m.objects[key]
	return b, ok
}

// Size returns the size declared when key was created.
func (m *Memory) Size(key string) int64 {
	m.mu.Lock()
	defer m.mu.Unlock()
	return m.sizes[key]
}

// Keys returns every stored key, sorted.
func (m *Memory) Keys() []string {
	m.mu.Lock()
	defer m.mu.Unlock()
	keys := make([]string, 0, len(m.objects))
	for k := range m.objects {
		keys = append(keys, k)
	}
	sort.Strings(keys)
	return keys
}

func (m *Memory) call(op string) error {
	m.Calls[op]++
	if errs := m.Fail[op]; len(errs) > 0 {
		m.Fail[op] = errs[1:]
		return errs[0]
	}
	return nil
}

func (m *Memory) ListChildren(ctx context.Context, parentID string, filter storage.Filter) ([]storage.Entry, error) {
	m.mu.Lock()
	defer m.mu.Unlock()
	if err := m.call(OpList); err != nil {
		return nil, err
	}

	var entries []storage.Entry
	for key := range m.objects {
		rel, ok := strings.CutPrefix(key, parentID)
		if !ok || rel == "" {
			continue
		}
		name, isContainer := strings.CutSuffix(rel, "/")
		if strings.Contains(name, "/") {
			continue
		}
		if filter.ContainersOnly && !isContainer {
			continue
		}
		if filter.Name != "" && filter.Name != name {
			continue
		}
		entries = append(entries, storage.Entry{ID: key, Name: name, Container: isContainer})
	}
	sort.Slice(entries, func(i, j int) bool { return entries[i].ID < entries[j].ID })
	return entries, nil
}

func (m *Memory) CreateContainer(ctx context.Context, name, parentID string) (string, error) {
	m.mu.Lock()
	defer m.mu.Unlock()
	if err := m.call(OpCreateContainer); err != nil {
		return "", err
	}
	key, err := storage.ContainerKey(parentID, name)
	if err != nil {
		return "", err
	}
	m.objects[key] = nil
	return key, nil
}

func (m *Memory) CreateObject(ctx context.Context, meta storage.ObjectMeta, content io.Reader) (storage.Object, error) {
	m.mu.Lock()
	defer m.mu.Unlock()
	if err := m.call(OpCreateObject); err != nil {
		return storage.Object{}, err
	}
	key, err := storage.ChildKey(meta.ParentID, meta.Name)
	if err != nil {
		return storage.Object{}, err
	}
	b, err := io.ReadAll(content)
	if err != nil {
		return storage.Object{}, err
	}
	if meta.Size > 0 && meta.Size != int64(len(b)) {
		return storage.Object{}, fmt.Errorf("object %s: declared size %d, read %d bytes", key, meta.Size, len(b))
	}
	m.objects[key] = b
	m.types[key] = meta.ContentType
	m.sizes[key] = meta.Size
	return storage.Object{
		ID:          key,
		Name:        meta.Name,
		ContentType: meta.ContentType,
		Link:        "memory://" + key,
	}, nil
}
