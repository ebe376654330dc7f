package postgres

import (
	"context"
	"fmt"
	"time"

	"github.com/google/uuid"
	"github.com/jackc/pgx/v5"
	"github.com/jackc/pgx/v5/pgxpool"

	"github.com/neighborly/volunteerhub/internal/models"
)

// Store implements backend.Store on a pgx pool.
type Store struct {
	pool *pgxpool.Pool
}

func NewStore(pool *pgxpool.Pool) *Store {
	return &Store{pool: pool}
}

const opportunityCols = `id, title, description, organization, location, date,
	time_slot, category, required_skills, contact_email, contact_phone,
	creator_id, is_taken, created_at`

func scanOpportunity(row pgx.Row) (models.Opportunity, error) {
	var o models.Opportunity
	var phone *string
	err := row.Scan(
		&o.ID, &o.Title, &o.Description, &o.Organization, &o.Location, &o.Date,
		&o.TimeSlot, &o.Category, &o.RequiredSkills, &o.ContactEmail, &phone,
		&o.CreatorID, &o.IsTaken, &o.CreatedAt,
	)
	if err != nil {
		return o, err
	}
	if phone != nil {
		o.ContactPhone = *phone
	}
	return o, nil
}

func (s *Store) ListOpportunities(ctx context.Context) ([]models.Opportunity, error) {
	rows, err := s.pool.Query(ctx, fmt.Sprintf(
		"SELECT %s FROM opportunities ORDER BY created_at DESC", opportunityCols))
	if err != nil {
		return nil, fmt.Errorf("list opportunities: %w", err)
	}
	defer rows.Close()

	var out []models.Opportunity
	for rows.Next() {
		o, err := scanOpportunity(rows)
		if err != nil {
			return nil, fmt.Errorf("scan opportunity: %w", err)
		}
		out = append(out, o)
	}
	return out, rows.Err()
}

func (s *Store) InsertOpportunity(ctx context.Context, o models.Opportunity) error {
	_, err := s.pool.Exec(ctx, `
		INSERT INTO opportunities (id, title, description, organization, location,
			date, time_slot, category, required_skills, contact_email, contact_phone,
			creator_id, is_taken, created_at)
		VALUES ($1, $2, $3, $4, $5, $6, $7, $8, $9, $10, NULLIF($11, ''), $12, $13, $14)`,
		o.ID, o.Title, o.Description, o.Organization, o.Location,
		o.Date, o.TimeSlot, o.Category, o.RequiredSkills, o.ContactEmail, o.ContactPhone,
		o.CreatorID, o.IsTaken, o.CreatedAt,
	)
	if err != nil {
		return fmt.Errorf("insert opportunity: %w", err)
	}
	return nil
}

func (s *Store) UpdateOpportunity(ctx context.Context, o models.Opportunity) error {
	tag, err := s.pool.Exec(ctx, `
		UPDATE opportunities
		SET title = $2, description = $3, organization = $4, location = $5,
			date = $6, time_slot = $7, category = $8, required_skills = $9,
			contact_email = $10, contact_phone = NULLIF($11, ''), is_taken = $12
		WHERE id = $1`,
		o.ID, o.Title, o.Description, o.Organization, o.Location,
		o.Date, o.TimeSlot, o.Category, o.RequiredSkills,
		o.ContactEmail, o.ContactPhone, o.IsTaken,
	)
	if err != nil {
		return fmt.Errorf("update opportunity: %w", err)
	}
	if tag.RowsAffected() == 0 {
		return fmt.Errorf("update opportunity: %s not found", o.ID)
	}
	return nil
}

// DeleteOpportunity removes the row; foreign keys cascade to
// applications and messages, and the row triggers publish a delete
// event for every cascaded row.
func (s *Store) DeleteOpportunity(ctx context.Context, id uuid.UUID) error {
	tag, err := s.pool.Exec(ctx, "DELETE FROM opportunities WHERE id = $1", id)
	if err != nil {
		return fmt.Errorf("delete opportunity: %w", err)
	}
	if tag.RowsAffected() == 0 {
		return fmt.Errorf("delete opportunity: %s not found", id)
	}
	return nil
}

func (s *Store) MarkExpiredTaken(ctx context.Context, before time.Time) (int64, error) {
	tag, err := s.pool.Exec(ctx,
		"UPDATE opportunities SET is_taken = TRUE WHERE is_taken = FALSE AND date < $1", before)
	if err != nil {
		return 0, fmt.Errorf("mark expired taken: %w", err)
	}
	return tag.RowsAffected(), nil
}

const applicationCols = `id, opportunity_id, user_id, applicant_name,
	applicant_email, phone, message, status, created_at`

func scanApplication(row pgx.Row) (models.Application, error) {
	var a models.Application
	var phone *string
	err := row.Scan(
		&a.ID, &a.OpportunityID, &a.UserID, &a.ApplicantName,
		&a.ApplicantEmail, &phone, &a.Message, &a.Status, &a.CreatedAt,
	)
	if err != nil {
		return a, err
	}
	if phone != nil {
		a.Phone = *phone
	}
	return a, nil
}

func (s *Store) ListApplications(ctx context.Context) ([]models.Application, error) {
	rows, err := s.pool.Query(ctx, fmt.Sprintf(
		"SELECT %s FROM applications ORDER BY created_at DESC", applicationCols))
	if err != nil {
		return nil, fmt.Errorf("list applications: %w", err)
	}
	defer rows.Close()

	var out []models.Application
	for rows.Next() {
		a, err := scanApplication(rows)
		if err != nil {
			return nil, fmt.Errorf("scan application: %w", err)
		}
		out = append(out, a)
	}
	return out, rows.Err()
}

func (s *Store) InsertApplication(ctx context.Context, a models.Application) error {
	_, err := s.pool.Exec(ctx, `
		INSERT INTO applications (id, opportunity_id, user_id, applicant_name,
			applicant_email, phone, message, status, created_at)
		VALUES ($1, $2, $3, $4, $5, NULLIF($6, ''), $7, $8, $9)`,
		a.ID, a.OpportunityID, a.UserID, a.ApplicantName,
		a.ApplicantEmail, a.Phone, a.Message, a.Status, a.CreatedAt,
	)
	if err != nil {
		return fmt.Errorf("insert application: %w", err)
	}
	return nil
}

func (s *Store) UpdateApplicationStatus(ctx context.Context, id uuid.UUID, status string) error {
	tag, err := s.pool.Exec(ctx,
		"UPDATE applications SET status = $2 WHERE id = $1", id, status)
	if err != nil {
		return fmt.Errorf("update application status: %w", err)
	}
	if tag.RowsAffected() == 0 {
		return fmt.Errorf("update application status: %s not found", id)
	}
	return nil
}

const messageCols = `id, opportunity_id, application_id, sender_id,
	receiver_id, content, created_at`

func (s *Store) ListMessages(ctx context.Context) ([]models.Message, error) {
	rows, err := s.pool.Query(ctx, fmt.Sprintf(
		"SELECT %s FROM messages ORDER BY created_at DESC", messageCols))
	if err != nil {
		return nil, fmt.Errorf("list messages: %w", err)
	}
	defer rows.Close()

	var out []models.Message
	for rows.Next() {
		var m models.Message
		if err := rows.Scan(
			&m.ID, &m.OpportunityID, &m.ApplicationID, &m.SenderID,
			&m.ReceiverID, &m.Content, &m.CreatedAt,
		); err != nil {
			return nil, fmt.Errorf("scan message: %w", err)
		}
		out = append(out, m)
	}
	return out, rows.Err()
}

func (s *Store) InsertMessage(ctx context.Context, m models.Message) error {
	_, err := s.pool.Exec(ctx, `
		INSERT INTO messages (id, opportunity_id, application_id, sender_id,
			receiver_id, content, created_at)
		VALUES ($1, $2, $3, $4, $5, $6, $7)`,
		m.ID, m.OpportunityID, m.ApplicationID, m.SenderID,
		m.ReceiverID, m.Content, m.CreatedAt,
	)
	if err != nil {
		return fmt.Errorf("insert message: %w", err)
	}
	return nil
}
