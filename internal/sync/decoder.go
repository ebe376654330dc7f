package sync

import (
	"encoding/json"
	"strings"

	"github.com/google/uuid"

	"github.com/neighborly/volunteerhub/internal/backend"
	"github.com/neighborly/volunteerhub/internal/store"
)

// EventKind classifies a decoded change notification.
type EventKind int

const (
	EventUnknown EventKind = iota
	EventInsert
	EventUpdate
	EventDelete
)

func (k EventKind) String() string {
	switch k {
	case EventInsert:
		return "insert"
	case EventUpdate:
		return "update"
	case EventDelete:
		return "delete"
	default:
		return "unknown"
	}
}

// Event is a normalized change notification for one entity type.
// Entity is populated for inserts and updates; PreviousID identifies
// the affected row for updates and deletes.
type Event[T store.Entity] struct {
	Kind       EventKind
	Entity     T
	PreviousID uuid.UUID
}

// Decode normalizes a raw backend notification. It fails closed: an
// unrecognized action or an undecodable payload yields EventUnknown,
// which the reconciler answers with a full re-fetch rather than a
// partial merge.
func Decode[T store.Entity](raw backend.RawEvent) Event[T] {
	switch strings.ToUpper(strings.TrimSpace(raw.Action)) {
	case "INSERT":
		entity, ok := unmarshalEntity[T](raw.New)
		if !ok {
			return Event[T]{Kind: EventUnknown}
		}
		return Event[T]{Kind: EventInsert, Entity: entity}
	case "UPDATE":
		entity, ok := unmarshalEntity[T](raw.New)
		if !ok {
			return Event[T]{Kind: EventUnknown}
		}
		prev := entity.Key()
		if old, ok := unmarshalEntity[T](raw.Old); ok {
			prev = old.Key()
		}
		return Event[T]{Kind: EventUpdate, Entity: entity, PreviousID: prev}
	case "DELETE":
		old, ok := unmarshalEntity[T](raw.Old)
		if !ok {
			return Event[T]{Kind: EventUnknown}
		}
		return Event[T]{Kind: EventDelete, Entity: old, PreviousID: old.Key()}
	default:
		return Event[T]{Kind: EventUnknown}
	}
}

func unmarshalEntity[T store.Entity](payload json.RawMessage) (T, bool) {
	var entity T
	if len(payload) == 0 {
		return entity, false
	}
	if err := json.Unmarshal(payload, &entity); err != nil {
		return entity, false
	}
	if entity.Key() == uuid.Nil {
		return entity, false
	}
	return entity, true
}
