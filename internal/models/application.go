package models

import (
	"time"

	"github.com/google/uuid"
)

// Application status values. Pending is the only non-terminal state.
const (
	StatusPending  = "pending"
	StatusApproved = "approved"
	StatusRejected = "rejected"
)

// TerminalStatus reports whether s is a terminal application status.
func TerminalStatus(s string) bool {
	return s == StatusApproved || s == StatusRejected
}

// Application is a user's request to participate in an Opportunity.
// Applicant contact details are carried on the row itself.
type Application struct {
	ID             uuid.UUID `json:"id"`
	OpportunityID  uuid.UUID `json:"opportunity_id"`
	UserID         uuid.UUID `json:"user_id"`
	ApplicantName  string    `json:"applicant_name"`
	ApplicantEmail string    `json:"applicant_email"`
	Phone          string    `json:"phone,omitempty"`
	Message        string    `json:"message"`
	Status         string    `json:"status"`
	CreatedAt      time.Time `json:"created_at"`
}

// Key implements store.Entity.
func (a Application) Key() uuid.UUID { return a.ID }

// Message is one entry in the conversation attached to an application.
// Messages are deleted together with their opportunity.
type Message struct {
	ID            uuid.UUID `json:"id"`
	OpportunityID uuid.UUID `json:"opportunity_id"`
	ApplicationID uuid.UUID `json:"application_id"`
	SenderID      uuid.UUID `json:"sender_id"`
	ReceiverID    uuid.UUID `json:"receiver_id"`
	Content       string    `json:"content"`
	CreatedAt     time.Time `json:"created_at"`
}

// Key implements store.Entity.
func (m Message) Key() uuid.UUID { return m.ID }
