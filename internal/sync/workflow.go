package sync

import (
	"github.com/google/uuid"

	"github.com/neighborly/volunteerhub/internal/models"
)

// Workflow governs the application status field and the notification
// side effect tied to it. pending is the sole initial state; approved
// and rejected are terminal and immutable. Approval emits exactly one
// intent addressed to the applicant; rejection is silent. The emitted
// map keeps intent emission exactly-once per application even when the
// same transition is observed twice (optimistic apply followed by the
// echoing change event, or a replayed event).
type Workflow struct {
	emitted map[uuid.UUID]string
}

// NewWorkflow returns a workflow with no emission history.
func NewWorkflow() *Workflow {
	return &Workflow{emitted: make(map[uuid.UUID]string)}
}

// Transition proposes a status for app. It returns the application
// with the status that should now be stored, the intents to dispatch,
// and whether the stored status actually changed. Re-entering the
// current status or any transition out of a terminal state is a no-op,
// not an error, so duplicate events and double submissions are
// harmless.
func (w *Workflow) Transition(app models.Application, proposed, opportunityTitle string) (models.Application, []models.NotificationIntent, bool) {
	if !models.TerminalStatus(proposed) {
		return app, nil, false
	}
	if models.TerminalStatus(app.Status) {
		return app, nil, false
	}
	if app.Status == proposed {
		return app, nil, false
	}

	next := app
	next.Status = proposed

	var intents []models.NotificationIntent
	if proposed == models.StatusApproved && w.emitted[app.ID] != proposed {
		intents = append(intents, models.NotificationIntent{
			Recipient:        app.ApplicantEmail,
			OpportunityTitle: opportunityTitle,
			Kind:             models.NotifyApplicationApproved,
		})
	}
	return next, intents, true
}

// MarkEmitted records that intents for the given status have been
// handed to the dispatcher. Call it only after the transition is
// durable so a rolled-back mutation can emit again later.
func (w *Workflow) MarkEmitted(id uuid.UUID, status string) {
	w.emitted[id] = status
}

// Observed handles a status already made durable elsewhere, seen
// through the change feed. It emits the approval intent if this
// session has not yet emitted it for that status and records the
// emission immediately, since there is no pending write to wait on.
func (w *Workflow) Observed(app models.Application, opportunityTitle string) []models.NotificationIntent {
	if app.Status != models.StatusApproved || w.emitted[app.ID] == app.Status {
		return nil
	}
	w.emitted[app.ID] = app.Status
	return []models.NotificationIntent{{
		Recipient:        app.ApplicantEmail,
		OpportunityTitle: opportunityTitle,
		Kind:             models.NotifyApplicationApproved,
	}}
}

// Created returns the intent for a newly born pending application,
// addressed to the opportunity creator's contact address.
func (w *Workflow) Created(opp models.Opportunity) models.NotificationIntent {
	return models.NotificationIntent{
		Recipient:        opp.ContactEmail,
		OpportunityTitle: opp.Title,
		Kind:             models.NotifyNewApplication,
	}
}

// Forget drops emission history for an application, e.g. when it is
// removed from the store.
func (w *Workflow) Forget(id uuid.UUID) {
	delete(w.emitted, id)
}
