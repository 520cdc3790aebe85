package db

import (
	"context"
	"sort"
	"strings"
	"sync"
	"time"

	"github.com/google/uuid"
	"github.com/jackc/pgx/v5"

	"github.com/gradski-asistent/backend/internal/models"
)

type fallbackEvent struct {
	cityID         string
	conversationID string
	occurredAt     time.Time
}

// MemoryStore is the in-process counterpart of Store, used when
// DATABASE_URL is empty and throughout the tests. Same semantics, no
// Postgres: upsert keyed by (cityID, conversationID), idempotent message
// appends, on-demand rolling fallback counts.
type MemoryStore struct {
	mu            sync.Mutex
	tickets       map[string]models.Ticket
	conversations map[string]models.Conversation
	messages      map[string][]models.Message
	messageIDs    map[string]struct{}
	fallbacks     []fallbackEvent
	now           func() time.Time
}

func NewMemoryStore() *MemoryStore {
	return &MemoryStore{
		tickets:       map[string]models.Ticket{},
		conversations: map[string]models.Conversation{},
		messages:      map[string][]models.Message{},
		messageIDs:    map[string]struct{}{},
		now:           func() time.Time { return time.Now().UTC() },
	}
}

func ticketKey(cityID, conversationID string) string {
	return cityID + "/" + conversationID
}

func (s *MemoryStore) Ping(ctx context.Context) error { return nil }

func (s *MemoryStore) Get(ctx context.Context, cityID, conversationID string) (*models.Ticket, error) {
	s.mu.Lock()
	defer s.mu.Unlock()
	t, ok := s.tickets[ticketKey(cityID, conversationID)]
	if !ok {
		return nil, nil
	}
	return &t, nil
}

func (s *MemoryStore) Put(ctx context.Context, t models.Ticket) (models.Ticket, error) {
	s.mu.Lock()
	defer s.mu.Unlock()
	now := s.now()
	key := ticketKey(t.CityID, t.ConversationID)
	if existing, ok := s.tickets[key]; ok {
		t.ID = existing.ID
		t.CreatedAt = existing.CreatedAt
	} else {
		if t.ID == "" {
			t.ID = uuid.NewString()
		}
		if t.CreatedAt.IsZero() {
			t.CreatedAt = now
		}
	}
	t.UpdatedAt = now
	s.tickets[key] = t
	return t, nil
}

func (s *MemoryStore) CloseTicket(ctx context.Context, cityID, conversationID string) (models.Ticket, error) {
	return s.setStatus(cityID, conversationID, models.TicketClosed, false)
}

func (s *MemoryStore) ReopenTicket(ctx context.Context, cityID, conversationID string) (models.Ticket, error) {
	return s.setStatus(cityID, conversationID, models.TicketNeedsHuman, true)
}

func (s *MemoryStore) setStatus(cityID, conversationID string, status models.TicketStatus, forceNeedsHuman bool) (models.Ticket, error) {
	s.mu.Lock()
	defer s.mu.Unlock()
	key := ticketKey(cityID, conversationID)
	t, ok := s.tickets[key]
	if !ok {
		return models.Ticket{}, pgx.ErrNoRows
	}
	t.Status = status
	if forceNeedsHuman {
		t.NeedsHuman = true
	}
	t.UpdatedAt = s.now()
	s.tickets[key] = t
	return t, nil
}

func (s *MemoryStore) RecordFallback(ctx context.Context, cityID, conversationID string, at time.Time) error {
	s.mu.Lock()
	defer s.mu.Unlock()
	s.fallbacks = append(s.fallbacks, fallbackEvent{cityID, conversationID, at})
	return nil
}

func (s *MemoryStore) RollingFallbackCount(ctx context.Context, cityID, conversationID string, window time.Duration) (int, error) {
	s.mu.Lock()
	defer s.mu.Unlock()
	cutoff := s.now().Add(-window)
	count := 0
	for _, ev := range s.fallbacks {
		if ev.cityID == cityID && ev.conversationID == conversationID && ev.occurredAt.After(cutoff) {
			count++
		}
	}
	return count, nil
}

func (s *MemoryStore) ListTickets(ctx context.Context, f TicketFilter) ([]models.Ticket, error) {
	if f.Limit <= 0 || f.Limit > 200 {
		f.Limit = 50
	}
	if f.Offset < 0 {
		f.Offset = 0
	}
	s.mu.Lock()
	var out []models.Ticket
	for _, t := range s.tickets {
		if f.Status != "" && string(t.Status) != f.Status {
			continue
		}
		if f.CityID != "" && t.CityID != f.CityID {
			continue
		}
		if f.Query != "" {
			q := strings.ToLower(f.Query)
			if !strings.Contains(strings.ToLower(t.Category), q) &&
				!strings.Contains(strings.ToLower(t.Department), q) &&
				!strings.Contains(strings.ToLower(t.ConversationID), q) {
				continue
			}
		}
		out = append(out, t)
	}
	s.mu.Unlock()

	sort.Slice(out, func(i, j int) bool {
		if out[i].UpdatedAt.Equal(out[j].UpdatedAt) {
			return out[i].ID < out[j].ID
		}
		return out[i].UpdatedAt.After(out[j].UpdatedAt)
	})
	if f.Offset >= len(out) {
		return nil, nil
	}
	out = out[f.Offset:]
	if len(out) > f.Limit {
		out = out[:f.Limit]
	}
	return out, nil
}

func (s *MemoryStore) EnsureConversation(ctx context.Context, cityID, conversationID string) (models.Conversation, error) {
	s.mu.Lock()
	defer s.mu.Unlock()
	if conversationID == "" {
		conversationID = uuid.NewString()
	}
	if c, ok := s.conversations[conversationID]; ok {
		return c, nil
	}
	c := models.Conversation{
		ID:        conversationID,
		CityID:    cityID,
		CreatedAt: s.now(),
	}
	s.conversations[conversationID] = c
	return c, nil
}

func (s *MemoryStore) MarkIntakeSubmitted(ctx context.Context, conversationID string) error {
	s.mu.Lock()
	defer s.mu.Unlock()
	c, ok := s.conversations[conversationID]
	if !ok {
		return pgx.ErrNoRows
	}
	c.IntakeSubmitted = true
	s.conversations[conversationID] = c
	return nil
}

func (s *MemoryStore) AppendMessage(ctx context.Context, m models.Message) error {
	s.mu.Lock()
	defer s.mu.Unlock()
	if m.ID == "" {
		m.ID = uuid.NewString()
	}
	if _, ok := s.messageIDs[m.ID]; ok {
		return nil
	}
	if m.CreatedAt.IsZero() {
		m.CreatedAt = s.now()
	}
	s.messageIDs[m.ID] = struct{}{}
	s.messages[m.ConversationID] = append(s.messages[m.ConversationID], m)
	return nil
}

func (s *MemoryStore) ListMessages(ctx context.Context, conversationID string) ([]models.Message, error) {
	s.mu.Lock()
	defer s.mu.Unlock()
	msgs := s.messages[conversationID]
	out := make([]models.Message, len(msgs))
	copy(out, msgs)
	return out, nil
}
