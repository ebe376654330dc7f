package sync

import (
	"go.uber.org/zap"

	"github.com/neighborly/volunteerhub/internal/backend"
	"github.com/neighborly/volunteerhub/internal/models"
)

// applyRaw folds one raw change event into the local stores. Always
// runs on the run loop, so it observes and mutates the stores without
// racing optimistic writes. Events are idempotent: replaying one, or
// receiving the echo of a change already applied optimistically,
// leaves the stores unchanged.
func (e *Engine) applyRaw(raw backend.RawEvent) {
	switch raw.Collection {
	case backend.CollectionOpportunities:
		e.applyOpportunity(raw)
	case backend.CollectionApplications:
		e.applyApplication(raw)
	case backend.CollectionMessages:
		e.applyMessage(raw)
	default:
		e.log.Warn("event for unknown collection", zap.String("collection", raw.Collection))
	}
}

func (e *Engine) applyOpportunity(raw backend.RawEvent) {
	ev := Decode[models.Opportunity](raw)
	today := Today(e.now())

	e.mu.Lock()
	defer e.mu.Unlock()

	switch ev.Kind {
	case EventInsert:
		// The feed is unfiltered; the local set only holds what a
		// browsing volunteer may see.
		if Visible(ev.Entity, today) {
			e.opportunities.Merge(ev.Entity)
		}
	case EventUpdate:
		if !Visible(ev.Entity, today) {
			e.opportunities.Remove(ev.Entity.ID)
			return
		}
		if current, ok := e.opportunities.Get(ev.Entity.ID); ok && sameOpportunity(current, ev.Entity) {
			return
		}
		e.opportunities.Merge(ev.Entity)
	case EventDelete:
		e.opportunities.Remove(ev.Entity.ID)
	default:
		e.log.Warn("undecodable opportunity event", zap.String("action", raw.Action))
		e.refetchAsync(backend.CollectionOpportunities)
	}
}

func (e *Engine) applyApplication(raw backend.RawEvent) {
	ev := Decode[models.Application](raw)

	e.mu.Lock()

	switch ev.Kind {
	case EventInsert:
		e.applications.Merge(ev.Entity)
		e.mu.Unlock()
	case EventUpdate:
		current, known := e.applications.Get(ev.Entity.ID)
		if known && current == ev.Entity {
			// Echo of a change we already applied.
			e.mu.Unlock()
			return
		}
		e.applications.Merge(ev.Entity)
		var intents []models.NotificationIntent
		if !known || current.Status != ev.Entity.Status {
			// A status change observed from the backend is already
			// durable; a peer or another session made it. Emitting
			// here keeps the applicant informed regardless of which
			// session approved, deduplicated by the workflow.
			title := ""
			if opp, ok := e.opportunities.Get(ev.Entity.OpportunityID); ok {
				title = opp.Title
			}
			intents = e.workflow.Observed(ev.Entity, title)
		}
		e.mu.Unlock()
		e.dispatch(intents)
	case EventDelete:
		e.applications.Remove(ev.Entity.ID)
		e.workflow.Forget(ev.Entity.ID)
		e.mu.Unlock()
	default:
		e.mu.Unlock()
		e.log.Warn("undecodable application event", zap.String("action", raw.Action))
		e.refetchAsync(backend.CollectionApplications)
	}
}

func (e *Engine) applyMessage(raw backend.RawEvent) {
	ev := Decode[models.Message](raw)

	e.mu.Lock()
	defer e.mu.Unlock()

	switch ev.Kind {
	case EventInsert, EventUpdate:
		e.messages.Merge(ev.Entity)
	case EventDelete:
		e.messages.Remove(ev.Entity.ID)
	default:
		e.log.Warn("undecodable message event", zap.String("action", raw.Action))
		e.refetchAsync(backend.CollectionMessages)
	}
}

// sameOpportunity reports field equality. Opportunity carries a slice
// so == does not apply.
func sameOpportunity(a, b models.Opportunity) bool {
	if a.ID != b.ID || a.Title != b.Title || a.Description != b.Description ||
		a.Organization != b.Organization || a.Location != b.Location ||
		!a.Date.Equal(b.Date) || a.TimeSlot != b.TimeSlot || a.Category != b.Category ||
		a.ContactEmail != b.ContactEmail || a.ContactPhone != b.ContactPhone ||
		a.CreatorID != b.CreatorID || a.IsTaken != b.IsTaken {
		return false
	}
	if len(a.RequiredSkills) != len(b.RequiredSkills) {
		return false
	}
	for i := range a.RequiredSkills {
		if a.RequiredSkills[i] != b.RequiredSkills[i] {
			return false
		}
	}
	return true
}
