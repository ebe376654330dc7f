package models

// NotificationIntent kinds. Rejections never produce an intent.
const (
	NotifyNewApplication      = "new_application"
	NotifyApplicationApproved = "application_approved"
)

// NotificationIntent is a one-shot instruction to send an outbound
// message. It is never persisted; the workflow produces it and the
// dispatcher consumes it.
type NotificationIntent struct {
	Recipient        string `json:"recipient"`
	OpportunityTitle string `json:"opportunity_title"`
	Kind             string `json:"kind"`
}
