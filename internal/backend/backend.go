// Package backend defines the interfaces the sync engine uses to talk
// to the authoritative store and its change-notification channel. The
// Postgres implementation lives in the postgres subpackage; tests use
// in-memory fakes.
package backend

import (
	"context"
	"encoding/json"
	"time"

	"github.com/google/uuid"

	"github.com/neighborly/volunteerhub/internal/models"
)

// Collection names as they appear in change notifications.
const (
	CollectionOpportunities = "opportunities"
	CollectionApplications  = "applications"
	CollectionMessages      = "messages"
)

// RawEvent is a change notification exactly as published by the
// backend, before decoding. Action is the backend's own verb; anything
// the decoder does not recognize triggers a full re-fetch downstream.
type RawEvent struct {
	Collection string          `json:"table"`
	Action     string          `json:"action"`
	New        json.RawMessage `json:"new,omitempty"`
	Old        json.RawMessage `json:"old,omitempty"`
}

// Subscription is a live change feed for one collection. Events is
// closed after Unsubscribe returns. Unsubscribe must be called exactly
// once on teardown.
type Subscription interface {
	Events() <-chan RawEvent
	Unsubscribe() error
}

// ChangeFeed opens per-collection subscriptions.
type ChangeFeed interface {
	Subscribe(ctx context.Context, collection string) (Subscription, error)
}

// Store is the authoritative query/mutation surface. Every write the
// engine issues optimistically lands here; reads back the engine's
// local view on re-fetch.
type Store interface {
	ListOpportunities(ctx context.Context) ([]models.Opportunity, error)
	// Inserts and updates take client-minted ids and timestamps; the
	// stored row matches the argument byte for byte, so nothing is
	// returned.
	InsertOpportunity(ctx context.Context, o models.Opportunity) error
	UpdateOpportunity(ctx context.Context, o models.Opportunity) error
	// DeleteOpportunity removes the opportunity and cascades to its
	// applications and messages in one transaction.
	DeleteOpportunity(ctx context.Context, id uuid.UUID) error
	// MarkExpiredTaken flips is_taken on every opportunity dated before
	// the given day and returns how many rows changed.
	MarkExpiredTaken(ctx context.Context, before time.Time) (int64, error)

	ListApplications(ctx context.Context) ([]models.Application, error)
	InsertApplication(ctx context.Context, a models.Application) error
	UpdateApplicationStatus(ctx context.Context, id uuid.UUID, status string) error

	ListMessages(ctx context.Context) ([]models.Message, error)
	InsertMessage(ctx context.Context, m models.Message) error
}
