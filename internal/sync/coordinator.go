package sync

import (
	"context"
	"errors"
	"fmt"
	"strings"

	"github.com/google/uuid"
	"github.com/microcosm-cc/bluemonday"
	"go.uber.org/zap"

	"github.com/neighborly/volunteerhub/internal/models"
)

var (
	// ErrNotFound means the referenced entity is not in the local set.
	ErrNotFound = errors.New("not found")
	// ErrNotOwner means the acting user does not own the opportunity.
	ErrNotOwner = errors.New("not the opportunity owner")
	// ErrAlreadyApplied means the user already has an application for
	// the opportunity.
	ErrAlreadyApplied = errors.New("already applied to this opportunity")
	// ErrNotParticipant means the acting user is neither applicant nor
	// opportunity owner on the conversation.
	ErrNotParticipant = errors.New("not a participant in this application")
	// ErrInvalidStatus means the proposed status is not a legal
	// transition target.
	ErrInvalidStatus = errors.New("invalid status transition")
)

// User input is rendered back to other volunteers; markup is stripped
// rather than escaped.
var sanitizer = bluemonday.StrictPolicy()

func clean(s string) string {
	return strings.TrimSpace(sanitizer.Sanitize(s))
}

// CreateOpportunity applies the new opportunity locally, then writes
// it through. The id is minted here so the local copy and the stored
// row agree before the write returns. On write failure the local set
// is restored to its pre-mutation state.
func (e *Engine) CreateOpportunity(ctx context.Context, o models.Opportunity) (models.Opportunity, error) {
	o = o.Clone()
	if o.ID == uuid.Nil {
		o.ID = uuid.New()
	}
	o.Title = clean(o.Title)
	o.Description = clean(o.Description)
	o.Organization = clean(o.Organization)
	o.Location = clean(o.Location)
	for i := range o.RequiredSkills {
		o.RequiredSkills[i] = clean(o.RequiredSkills[i])
	}
	if o.Title == "" {
		return models.Opportunity{}, fmt.Errorf("title is required")
	}
	if !models.ValidCategory(o.Category) {
		return models.Opportunity{}, fmt.Errorf("unknown category %q", o.Category)
	}
	if o.CreatedAt.IsZero() {
		o.CreatedAt = e.now()
	}

	var err error
	e.do(func() {
		e.mu.Lock()
		saved := e.opportunities.Snapshot()
		if Visible(o, Today(e.now())) {
			e.opportunities.Merge(o)
		}
		e.mu.Unlock()

		if insertErr := e.backend.InsertOpportunity(ctx, o); insertErr != nil {
			e.mu.Lock()
			e.opportunities.Replace(saved)
			e.mu.Unlock()
			err = fmt.Errorf("insert opportunity: %w", insertErr)
		}
	})
	return o, err
}

// UpdateOpportunity replaces an opportunity's fields in place. Only
// the creator may update. If the update pushes the opportunity out of
// the visible set it is removed locally.
func (e *Engine) UpdateOpportunity(ctx context.Context, actor uuid.UUID, o models.Opportunity) error {
	o = o.Clone()
	o.Title = clean(o.Title)
	o.Description = clean(o.Description)
	o.Organization = clean(o.Organization)
	o.Location = clean(o.Location)
	for i := range o.RequiredSkills {
		o.RequiredSkills[i] = clean(o.RequiredSkills[i])
	}
	if o.Category != "" && !models.ValidCategory(o.Category) {
		return fmt.Errorf("unknown category %q", o.Category)
	}

	var err error
	e.do(func() {
		e.mu.Lock()
		current, ok := e.opportunities.Get(o.ID)
		if !ok {
			e.mu.Unlock()
			err = ErrNotFound
			return
		}
		if current.CreatorID != actor {
			e.mu.Unlock()
			err = ErrNotOwner
			return
		}
		o.CreatorID = current.CreatorID
		o.CreatedAt = current.CreatedAt

		saved := e.opportunities.Snapshot()
		if Visible(o, Today(e.now())) {
			e.opportunities.Merge(o)
		} else {
			e.opportunities.Remove(o.ID)
		}
		e.mu.Unlock()

		if updateErr := e.backend.UpdateOpportunity(ctx, o); updateErr != nil {
			e.mu.Lock()
			e.opportunities.Replace(saved)
			e.mu.Unlock()
			err = fmt.Errorf("update opportunity: %w", updateErr)
		}
	})
	return err
}

// DeleteOpportunity removes an opportunity and everything hanging off
// it. The cascade over applications and messages is applied locally in
// the same step that removes the opportunity, so no reader ever sees a
// dangling reference, and the backend performs the matching cascade.
func (e *Engine) DeleteOpportunity(ctx context.Context, actor uuid.UUID, id uuid.UUID) error {
	var err error
	e.do(func() {
		e.mu.Lock()
		current, ok := e.opportunities.Get(id)
		if !ok {
			e.mu.Unlock()
			err = ErrNotFound
			return
		}
		if current.CreatorID != actor {
			e.mu.Unlock()
			err = ErrNotOwner
			return
		}

		savedOpps := e.opportunities.Snapshot()
		savedApps := e.applications.Snapshot()
		savedMsgs := e.messages.Snapshot()

		e.opportunities.Remove(id)
		for _, a := range savedApps {
			if a.OpportunityID == id {
				e.applications.Remove(a.ID)
				e.workflow.Forget(a.ID)
			}
		}
		for _, m := range savedMsgs {
			if m.OpportunityID == id {
				e.messages.Remove(m.ID)
			}
		}
		e.mu.Unlock()

		if deleteErr := e.backend.DeleteOpportunity(ctx, id); deleteErr != nil {
			e.mu.Lock()
			e.opportunities.Replace(savedOpps)
			e.applications.Replace(savedApps)
			e.messages.Replace(savedMsgs)
			e.mu.Unlock()
			err = fmt.Errorf("delete opportunity: %w", deleteErr)
		}
	})
	return err
}

// CreateApplication submits an application for an opportunity. A user
// gets one application per opportunity; a repeat attempt fails before
// anything is written. On success the opportunity contact is notified.
func (e *Engine) CreateApplication(ctx context.Context, a models.Application) (models.Application, error) {
	if a.ID == uuid.Nil {
		a.ID = uuid.New()
	}
	a.ApplicantName = clean(a.ApplicantName)
	a.Message = clean(a.Message)
	a.Status = models.StatusPending
	if a.CreatedAt.IsZero() {
		a.CreatedAt = e.now()
	}

	var err error
	var intent models.NotificationIntent
	var notifyCreator bool
	e.do(func() {
		e.mu.Lock()
		opp, ok := e.opportunities.Get(a.OpportunityID)
		if !ok {
			e.mu.Unlock()
			err = ErrNotFound
			return
		}
		for _, existing := range e.applications.Snapshot() {
			if existing.OpportunityID == a.OpportunityID && existing.UserID == a.UserID {
				e.mu.Unlock()
				err = ErrAlreadyApplied
				return
			}
		}

		saved := e.applications.Snapshot()
		e.applications.Merge(a)
		e.mu.Unlock()

		if insertErr := e.backend.InsertApplication(ctx, a); insertErr != nil {
			e.mu.Lock()
			e.applications.Replace(saved)
			e.mu.Unlock()
			err = fmt.Errorf("insert application: %w", insertErr)
			return
		}
		intent = e.workflow.Created(opp)
		notifyCreator = true
	})
	if notifyCreator {
		e.dispatch([]models.NotificationIntent{intent})
	}
	return a, err
}

// ChangeApplicationStatus moves an application to approved or
// rejected. Only the opportunity creator may decide. Terminal statuses
// never change again; deciding an already-decided application is a
// silent no-op. Approval notifies the applicant exactly once, and only
// after the status is durable.
func (e *Engine) ChangeApplicationStatus(ctx context.Context, actor uuid.UUID, id uuid.UUID, proposed string) error {
	if !models.TerminalStatus(proposed) {
		return ErrInvalidStatus
	}

	var err error
	var intents []models.NotificationIntent
	e.do(func() {
		e.mu.Lock()
		app, ok := e.applications.Get(id)
		if !ok {
			e.mu.Unlock()
			err = ErrNotFound
			return
		}
		opp, ok := e.opportunities.Get(app.OpportunityID)
		if !ok {
			e.mu.Unlock()
			err = ErrNotFound
			return
		}
		if opp.CreatorID != actor {
			e.mu.Unlock()
			err = ErrNotOwner
			return
		}

		next, pending, changed := e.workflow.Transition(app, proposed, opp.Title)
		if !changed {
			e.mu.Unlock()
			return
		}

		saved := e.applications.Snapshot()
		e.applications.Merge(next)
		e.mu.Unlock()

		if updateErr := e.backend.UpdateApplicationStatus(ctx, id, proposed); updateErr != nil {
			e.mu.Lock()
			e.applications.Replace(saved)
			e.mu.Unlock()
			err = fmt.Errorf("update application status: %w", updateErr)
			return
		}
		e.workflow.MarkEmitted(id, proposed)
		intents = pending
	})
	e.dispatch(intents)
	return err
}

// SendMessage appends a message to an application's conversation. The
// sender must be the applicant or the opportunity creator; the
// receiver is the other party and is derived here, never taken from
// the caller.
func (e *Engine) SendMessage(ctx context.Context, sender uuid.UUID, applicationID uuid.UUID, content string) (models.Message, error) {
	content = clean(content)
	if content == "" {
		return models.Message{}, fmt.Errorf("message content is required")
	}

	m := models.Message{
		ID:            uuid.New(),
		ApplicationID: applicationID,
		SenderID:      sender,
		Content:       content,
		CreatedAt:     e.now(),
	}

	var err error
	e.do(func() {
		e.mu.Lock()
		app, ok := e.applications.Get(applicationID)
		if !ok {
			e.mu.Unlock()
			err = ErrNotFound
			return
		}
		opp, ok := e.opportunities.Get(app.OpportunityID)
		if !ok {
			e.mu.Unlock()
			err = ErrNotFound
			return
		}
		switch sender {
		case app.UserID:
			m.ReceiverID = opp.CreatorID
		case opp.CreatorID:
			m.ReceiverID = app.UserID
		default:
			e.mu.Unlock()
			err = ErrNotParticipant
			return
		}
		m.OpportunityID = app.OpportunityID

		saved := e.messages.Snapshot()
		e.messages.Merge(m)
		e.mu.Unlock()

		if insertErr := e.backend.InsertMessage(ctx, m); insertErr != nil {
			e.mu.Lock()
			e.messages.Replace(saved)
			e.mu.Unlock()
			err = fmt.Errorf("insert message: %w", insertErr)
		}
	})
	if err != nil {
		e.log.Debug("message rejected", zap.String("application", applicationID.String()), zap.Error(err))
		return models.Message{}, err
	}
	return m, nil
}
