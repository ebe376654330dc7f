// Package store provides the ordered, id-keyed in-memory collections
// the sync engine maintains for each entity type. The engine's run loop
// is the only writer; HTTP handlers and tools read snapshots
// concurrently.
package store

import (
	"github.com/google/uuid"
)

// Entity is anything a Keyed store can hold.
type Entity interface {
	Key() uuid.UUID
}

// Keyed is an ordered collection keyed by entity id. Insert order is
// most-recent-first: Merge prepends unknown ids and replaces known ids
// in place, preserving their relative position. Entries are replaced,
// never mutated, so snapshots taken earlier stay valid.
type Keyed[T Entity] struct {
	order []uuid.UUID
	byID  map[uuid.UUID]T
}

// NewKeyed returns an empty store.
func NewKeyed[T Entity]() *Keyed[T] {
	return &Keyed[T]{byID: make(map[uuid.UUID]T)}
}

// Merge inserts e or replaces the entry with the same id. New entries
// are prepended; replaced entries keep their position.
func (k *Keyed[T]) Merge(e T) {
	id := e.Key()
	if _, ok := k.byID[id]; !ok {
		k.order = append([]uuid.UUID{id}, k.order...)
	}
	k.byID[id] = e
}

// Remove deletes the entry with the given id, if present.
func (k *Keyed[T]) Remove(id uuid.UUID) {
	if _, ok := k.byID[id]; !ok {
		return
	}
	delete(k.byID, id)
	for i, existing := range k.order {
		if existing == id {
			k.order = append(k.order[:i:i], k.order[i+1:]...)
			break
		}
	}
}

// Get returns the entry with the given id.
func (k *Keyed[T]) Get(id uuid.UUID) (T, bool) {
	e, ok := k.byID[id]
	return e, ok
}

// Len returns the number of entries.
func (k *Keyed[T]) Len() int { return len(k.order) }

// Snapshot returns the entries in store order. The returned slice is
// owned by the caller; later merges do not affect it.
func (k *Keyed[T]) Snapshot() []T {
	out := make([]T, 0, len(k.order))
	for _, id := range k.order {
		out = append(out, k.byID[id])
	}
	return out
}

// Replace swaps the entire contents for the given entities, keeping
// their order. Used by full re-fetches.
func (k *Keyed[T]) Replace(entities []T) {
	k.order = k.order[:0]
	clear(k.byID)
	for _, e := range entities {
		id := e.Key()
		if _, ok := k.byID[id]; ok {
			continue
		}
		k.order = append(k.order, id)
		k.byID[id] = e
	}
}
