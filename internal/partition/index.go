package partition

import "sync"

// Index is the set of file names known to exist in a partition.
type Index struct {
	mu    sync.RWMutex
	names map[string]struct{}
}

// NewIndex returns an index seeded with names.
func NewIndex(names ...string) *Index {
	idx := &Index{names: make(map[string]struct{}, len(names))}
	for _, n := range names {
		idx.names[n] = struct{}{}
	}
	return idx
}

func (i *Index) Contains(name string) bool {
	i.mu.RLock()
	defer i.mu.RUnlock()
	_, ok := i.names[name]
	return ok
}

// MarkUploaded records name as present without re-querying the store.
func (i *Index) MarkUploaded(name string) {
	i.mu.Lock()
	defer i.mu.Unlock()
	i.names[name] = struct{}{}
}

func (i *Index) Len() int {
	i.mu.RLock()
	defer i.mu.RUnlock()
	return len(i.names)
}
