package db

import (
	"context"
	"errors"
	"fmt"
	"strings"
	"time"

	"github.com/google/uuid"
	"github.com/jackc/pgx/v5"
	"github.com/jackc/pgx/v5/pgxpool"

	"github.com/gradski-asistent/backend/internal/models"
)

// TicketFilter narrows admin ticket listings.
type TicketFilter struct {
	Status string
	CityID string
	Query  string
	Limit  int
	Offset int
}

type Store struct {
	Pool *pgxpool.Pool
}

func New(ctx context.Context, databaseURL string) (*Store, error) {
	cfg, err := pgxpool.ParseConfig(databaseURL)
	if err != nil {
		return nil, err
	}
	pool, err := pgxpool.NewWithConfig(ctx, cfg)
	if err != nil {
		return nil, err
	}
	return &Store{Pool: pool}, nil
}

func (s *Store) Close() {
	s.Pool.Close()
}

func (s *Store) Ping(ctx context.Context) error {
	return s.Pool.Ping(ctx)
}

const ticketColumns = `id, city_id, conversation_id, status, needs_human, category, department, urgent, fallback_count, contact_name, contact_phone, contact_email, created_at, updated_at`

func scanTicket(row pgx.Row) (models.Ticket, error) {
	var t models.Ticket
	err := row.Scan(
		&t.ID, &t.CityID, &t.ConversationID, &t.Status, &t.NeedsHuman,
		&t.Category, &t.Department, &t.Urgent, &t.FallbackCount,
		&t.ContactName, &t.ContactPhone, &t.ContactEmail,
		&t.CreatedAt, &t.UpdatedAt,
	)
	return t, err
}

func (s *Store) Get(ctx context.Context, cityID, conversationID string) (*models.Ticket, error) {
	row := s.Pool.QueryRow(ctx,
		`SELECT `+ticketColumns+` FROM tickets WHERE city_id = $1 AND conversation_id = $2`,
		cityID, conversationID)
	t, err := scanTicket(row)
	if err != nil {
		if errors.Is(err, pgx.ErrNoRows) {
			return nil, nil
		}
		return nil, err
	}
	return &t, nil
}

// Put upserts on the (city_id, conversation_id) unique key, so a ticket can
// never be duplicated for the same conversation.
func (s *Store) Put(ctx context.Context, t models.Ticket) (models.Ticket, error) {
	now := time.Now().UTC()
	if t.ID == "" {
		t.ID = uuid.NewString()
	}
	if t.CreatedAt.IsZero() {
		t.CreatedAt = now
	}
	t.UpdatedAt = now

	row := s.Pool.QueryRow(ctx, `
		INSERT INTO tickets (`+ticketColumns+`)
		VALUES ($1,$2,$3,$4,$5,$6,$7,$8,$9,$10,$11,$12,$13,$14)
		ON CONFLICT (city_id, conversation_id) DO UPDATE SET
			status = EXCLUDED.status,
			needs_human = EXCLUDED.needs_human,
			category = EXCLUDED.category,
			department = EXCLUDED.department,
			urgent = EXCLUDED.urgent,
			fallback_count = EXCLUDED.fallback_count,
			contact_name = EXCLUDED.contact_name,
			contact_phone = EXCLUDED.contact_phone,
			contact_email = EXCLUDED.contact_email,
			updated_at = EXCLUDED.updated_at
		RETURNING `+ticketColumns,
		t.ID, t.CityID, t.ConversationID, t.Status, t.NeedsHuman,
		t.Category, t.Department, t.Urgent, t.FallbackCount,
		t.ContactName, t.ContactPhone, t.ContactEmail,
		t.CreatedAt, t.UpdatedAt)
	return scanTicket(row)
}

func (s *Store) CloseTicket(ctx context.Context, cityID, conversationID string) (models.Ticket, error) {
	row := s.Pool.QueryRow(ctx, `
		UPDATE tickets SET status = $1, updated_at = NOW()
		WHERE city_id = $2 AND conversation_id = $3
		RETURNING `+ticketColumns,
		models.TicketClosed, cityID, conversationID)
	return scanTicket(row)
}

func (s *Store) ReopenTicket(ctx context.Context, cityID, conversationID string) (models.Ticket, error) {
	row := s.Pool.QueryRow(ctx, `
		UPDATE tickets SET status = $1, needs_human = TRUE, updated_at = NOW()
		WHERE city_id = $2 AND conversation_id = $3
		RETURNING `+ticketColumns,
		models.TicketNeedsHuman, cityID, conversationID)
	return scanTicket(row)
}

func (s *Store) RecordFallback(ctx context.Context, cityID, conversationID string, at time.Time) error {
	_, err := s.Pool.Exec(ctx,
		`INSERT INTO fallback_events (city_id, conversation_id, occurred_at) VALUES ($1, $2, $3)`,
		cityID, conversationID, at)
	return err
}

// RollingFallbackCount recomputes the trailing-window count on demand.
func (s *Store) RollingFallbackCount(ctx context.Context, cityID, conversationID string, window time.Duration) (int, error) {
	var count int
	err := s.Pool.QueryRow(ctx, `
		SELECT COUNT(*) FROM fallback_events
		WHERE city_id = $1 AND conversation_id = $2 AND occurred_at > $3`,
		cityID, conversationID, time.Now().UTC().Add(-window)).Scan(&count)
	return count, err
}

func (s *Store) ListTickets(ctx context.Context, f TicketFilter) ([]models.Ticket, error) {
	if f.Limit <= 0 || f.Limit > 200 {
		f.Limit = 50
	}
	if f.Offset < 0 {
		f.Offset = 0
	}

	query := `SELECT ` + ticketColumns + ` FROM tickets`
	var args []any
	var wheres []string
	if f.Status != "" {
		args = append(args, f.Status)
		wheres = append(wheres, fmt.Sprintf("status = $%d", len(args)))
	}
	if f.CityID != "" {
		args = append(args, f.CityID)
		wheres = append(wheres, fmt.Sprintf("city_id = $%d", len(args)))
	}
	if f.Query != "" {
		args = append(args, "%"+f.Query+"%")
		wheres = append(wheres, fmt.Sprintf("(category ILIKE $%d OR department ILIKE $%d OR conversation_id ILIKE $%d)", len(args), len(args), len(args)))
	}
	if len(wheres) > 0 {
		query += " WHERE " + strings.Join(wheres, " AND ")
	}
	query += " ORDER BY updated_at DESC LIMIT $" + fmt.Sprint(len(args)+1) + " OFFSET $" + fmt.Sprint(len(args)+2)
	args = append(args, f.Limit, f.Offset)

	rows, err := s.Pool.Query(ctx, query, args...)
	if err != nil {
		return nil, err
	}
	defer rows.Close()

	var out []models.Ticket
	for rows.Next() {
		t, err := scanTicket(rows)
		if err != nil {
			return nil, err
		}
		out = append(out, t)
	}
	return out, rows.Err()
}

func (s *Store) EnsureConversation(ctx context.Context, cityID, conversationID string) (models.Conversation, error) {
	if conversationID == "" {
		conversationID = uuid.NewString()
	}
	var c models.Conversation
	err := s.Pool.QueryRow(ctx, `
		INSERT INTO conversations (id, city_id, intake_submitted, created_at)
		VALUES ($1, $2, FALSE, NOW())
		ON CONFLICT (id) DO UPDATE SET city_id = conversations.city_id
		RETURNING id, city_id, intake_submitted, created_at`,
		conversationID, cityID).Scan(&c.ID, &c.CityID, &c.IntakeSubmitted, &c.CreatedAt)
	return c, err
}

func (s *Store) MarkIntakeSubmitted(ctx context.Context, conversationID string) error {
	_, err := s.Pool.Exec(ctx,
		`UPDATE conversations SET intake_submitted = TRUE WHERE id = $1`, conversationID)
	return err
}

// AppendMessage is idempotent on the message id, so duplicate submissions of
// the same logical send collapse into one transcript entry.
func (s *Store) AppendMessage(ctx context.Context, m models.Message) error {
	if m.ID == "" {
		m.ID = uuid.NewString()
	}
	if m.CreatedAt.IsZero() {
		m.CreatedAt = time.Now().UTC()
	}
	_, err := s.Pool.Exec(ctx, `
		INSERT INTO messages (id, conversation_id, role, text, fallback, created_at)
		VALUES ($1, $2, $3, $4, $5, $6)
		ON CONFLICT (id) DO NOTHING`,
		m.ID, m.ConversationID, m.Role, m.Text, m.Fallback, m.CreatedAt)
	return err
}

func (s *Store) ListMessages(ctx context.Context, conversationID string) ([]models.Message, error) {
	rows, err := s.Pool.Query(ctx, `
		SELECT id, conversation_id, role, text, fallback, created_at
		FROM messages WHERE conversation_id = $1 ORDER BY created_at ASC, id ASC`,
		conversationID)
	if err != nil {
		return nil, err
	}
	defer rows.Close()

	var out []models.Message
	for rows.Next() {
		var m models.Message
		if err := rows.Scan(&m.ID, &m.ConversationID, &m.Role, &m.Text, &m.Fallback, &m.CreatedAt); err != nil {
			return nil, err
		}
		out = append(out, m)
	}
	return out, rows.Err()
}
