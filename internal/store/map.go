// Package store holds the in-memory, observable entity maps that every other
// component reads and writes.
package store

import (
	"cmp"
	"slices"
	"sync"

	"github.com/leafscan/leafscan/internal/model"
)

// ChangeKind tells observers what happened to a key.
type ChangeKind int

const (
	ChangeSet ChangeKind = iota
	ChangeDelete
)

// Change describes one write to a Map.
type Change[T model.Record] struct {
	Kind  ChangeKind
	ID    string
	Value T // zero for deletes
}

// Observer is notified after a write became visible.
type Observer[T model.Record] func(Change[T])

// Map is a keyed map of one entity type. Writes are visible to readers as
// soon as the call returns. Observers run synchronously in registration
// order and see writes in the order they were applied; an observer must not
// write to the map it observes.
type Map[T model.Record] struct {
	name      string
	writeMu   sync.Mutex // orders write+notify pairs
	mu        sync.RWMutex
	items     map[string]T
	observers map[int]Observer[T]
	nextObsID int
	obsMu     sync.RWMutex
}

// NewMap creates an empty map named after its table.
func NewMap[T model.Record](name string) *Map[T] {
	return &Map[T]{
		name:      name,
		items:     make(map[string]T),
		observers: make(map[int]Observer[T]),
	}
}

// Name returns the table name of the map.
func (m *Map[T]) Name() string { return m.name }

// Get returns the record for id.
func (m *Map[T]) Get(id string) (T, bool) {
	m.mu.RLock()
	defer m.mu.RUnlock()
	v, ok := m.items[id]
	return v, ok
}

// Set creates or replaces the record under its own id.
func (m *Map[T]) Set(rec T) {
	id := rec.RecordID()
	m.writeMu.Lock()
	defer m.writeMu.Unlock()
	m.mu.Lock()
	m.items[id] = rec
	m.mu.Unlock()
	m.notify(Change[T]{Kind: ChangeSet, ID: id, Value: rec})
}

// Delete removes id. Entities are normally soft-deleted through their status;
// hard deletes are reserved for queue bookkeeping.
func (m *Map[T]) Delete(id string) bool {
	m.writeMu.Lock()
	defer m.writeMu.Unlock()
	m.mu.Lock()
	_, ok := m.items[id]
	delete(m.items, id)
	m.mu.Unlock()
	if ok {
		m.notify(Change[T]{Kind: ChangeDelete, ID: id})
	}
	return ok
}

// Load replaces the whole content without notifying observers.
// It is used to hydrate from durable storage.
func (m *Map[T]) Load(recs []T) {
	items := make(map[string]T, len(recs))
	for _, r := range recs {
		items[r.RecordID()] = r
	}
	m.writeMu.Lock()
	defer m.writeMu.Unlock()
	m.mu.Lock()
	m.items = items
	m.mu.Unlock()
}

// Upsert sets recs without notifying observers for unchanged ids.
// It returns the number of records written.
func (m *Map[T]) Upsert(recs []T, keep func(current T) bool) int {
	var changed []T
	m.writeMu.Lock()
	defer m.writeMu.Unlock()
	m.mu.Lock()
	for _, r := range recs {
		if cur, ok := m.items[r.RecordID()]; ok && keep != nil && keep(cur) {
			continue
		}
		m.items[r.RecordID()] = r
		changed = append(changed, r)
	}
	m.mu.Unlock()
	for _, r := range changed {
		m.notify(Change[T]{Kind: ChangeSet, ID: r.RecordID(), Value: r})
	}
	return len(changed)
}

// List returns every record sorted by id.
func (m *Map[T]) List() []T {
	m.mu.RLock()
	out := make([]T, 0, len(m.items))
	for _, v := range m.items {
		out = append(out, v)
	}
	m.mu.RUnlock()
	slices.SortFunc(out, func(a, b T) int { return cmp.Compare(a.RecordID(), b.RecordID()) })
	return out
}

// Filter returns the records matching keep, sorted by id.
func (m *Map[T]) Filter(keep func(T) bool) []T {
	all := m.List()
	out := all[:0]
	for _, v := range all {
		if keep(v) {
			out = append(out, v)
		}
	}
	return out
}

// Snapshot returns a copy of the underlying map.
func (m *Map[T]) Snapshot() map[string]T {
	m.mu.RLock()
	defer m.mu.RUnlock()
	out := make(map[string]T, len(m.items))
	for k, v := range m.items {
		out[k] = v
	}
	return out
}

// Len returns the number of records.
func (m *Map[T]) Len() int {
	m.mu.RLock()
	defer m.mu.RUnlock()
	return len(m.items)
}

// Subscribe registers fn and returns a function removing it.
func (m *Map[T]) Subscribe(fn Observer[T]) (unsubscribe func()) {
	m.obsMu.Lock()
	id := m.nextObsID
	m.nextObsID++
	m.observers[id] = fn
	m.obsMu.Unlock()

	var once sync.Once
	return func() {
		once.Do(func() {
			m.obsMu.Lock()
			delete(m.observers, id)
			m.obsMu.Unlock()
		})
	}
}

func (m *Map[T]) notify(c Change[T]) {
	m.obsMu.RLock()
	ids := make([]int, 0, len(m.observers))
	for id := range m.observers {
		ids = append(ids, id)
	}
	slices.Sort(ids)
	fns := make([]Observer[T], 0, len(ids))
	for _, id := range ids {
		fns = append(fns, m.observers[id])
	}
	m.obsMu.RUnlock()

	for _, fn := range fns {
		fn(c)
	}
}
