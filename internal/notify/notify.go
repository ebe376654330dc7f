// Package notify delivers NotificationIntents to the outbound email
// endpoint. Delivery is best effort: a failed dispatch is logged by the
// caller and dropped, never retried, and never blocks the workflow
// that produced the intent.
package notify

import (
	"bytes"
	"context"
	"encoding/json"
	"fmt"
	"io"
	"net/http"
	"strings"
	"time"

	"github.com/neighborly/volunteerhub/internal/models"
)

// Dispatcher accepts a one-shot notification intent.
type Dispatcher interface {
	Dispatch(ctx context.Context, intent models.NotificationIntent) error
}

// Mailer posts intents as {to, subject, content} JSON to a send-email
// endpoint.
type Mailer struct {
	endpoint string
	client   *http.Client
}

// NewMailer returns a Mailer for the given endpoint. A nil client gets
// a default with a 10s timeout.
func NewMailer(endpoint string, client *http.Client) *Mailer {
	if client == nil {
		client = &http.Client{Timeout: 10 * time.Second}
	}
	return &Mailer{endpoint: strings.TrimSpace(endpoint), client: client}
}

type emailRequest struct {
	To      string `json:"to"`
	Subject string `json:"subject"`
	Content string `json:"content"`
}

func (m *Mailer) Dispatch(ctx context.Context, intent models.NotificationIntent) error {
	if m.endpoint == "" {
		return fmt.Errorf("mailer endpoint not configured")
	}
	if intent.Recipient == "" {
		return fmt.Errorf("intent has no recipient")
	}

	body, err := json.Marshal(emailRequest{
		To:      intent.Recipient,
		Subject: subjectFor(intent),
		Content: contentFor(intent),
	})
	if err != nil {
		return err
	}

	req, err := http.NewRequestWithContext(ctx, http.MethodPost, m.endpoint, bytes.NewReader(body))
	if err != nil {
		return err
	}
	req.Header.Set("Content-Type", "application/json")

	resp, err := m.client.Do(req)
	if err != nil {
		return err
	}
	defer resp.Body.Close()
	_, _ = io.Copy(io.Discard, resp.Body)

	if resp.StatusCode < 200 || resp.StatusCode > 299 {
		return fmt.Errorf("send-email endpoint returned %d", resp.StatusCode)
	}
	return nil
}

func subjectFor(intent models.NotificationIntent) string {
	switch intent.Kind {
	case models.NotifyNewApplication:
		return fmt.Sprintf("Ny søknad på %q", intent.OpportunityTitle)
	case models.NotifyApplicationApproved:
		return fmt.Sprintf("Din søknad på %q er godkjent!", intent.OpportunityTitle)
	default:
		return "Oppdatering på din søknad"
	}
}

func contentFor(intent models.NotificationIntent) string {
	switch intent.Kind {
	case models.NotifyNewApplication:
		return fmt.Sprintf("<p>Du har mottatt en ny søknad på <strong>%s</strong>.</p>", intent.OpportunityTitle)
	case models.NotifyApplicationApproved:
		return fmt.Sprintf("<p>Din søknad på <strong>%s</strong> er godkjent.</p>", intent.OpportunityTitle)
	default:
		return fmt.Sprintf("<p>Det er en oppdatering på din søknad på <strong>%s</strong>.</p>", intent.OpportunityTitle)
	}
}

// Discard is a Dispatcher that drops every intent. Used by read-only
// tools and tests.
type Discard struct{}

func (Discard) Dispatch(context.Context, models.NotificationIntent) error { return nil }
