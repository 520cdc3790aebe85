package escalate

import (
	"context"
	"errors"
	"sync"
	"time"

	"github.com/rs/zerolog"

	"github.com/gradski-asistent/backend/internal/chat"
	"github.com/gradski-asistent/backend/internal/models"
)

var ErrTicketNotFound = errors.New("escalate: ticket not found")

const (
	DefaultFallbackWindow    = 10 * time.Minute
	DefaultFallbackThreshold = 2
)

// TicketRepo is the persistence boundary for tickets, keyed by
// (cityID, conversationID). Put has upsert semantics: one ticket per key,
// never duplicated.
type TicketRepo interface {
	Get(ctx context.Context, cityID, conversationID string) (*models.Ticket, error)
	Put(ctx context.Context, t models.Ticket) (models.Ticket, error)
	CloseTicket(ctx context.Context, cityID, conversationID string) (models.Ticket, error)
	ReopenTicket(ctx context.Context, cityID, conversationID string) (models.Ticket, error)
	RecordFallback(ctx context.Context, cityID, conversationID string, at time.Time) error
	RollingFallbackCount(ctx context.Context, cityID, conversationID string, window time.Duration) (int, error)
}

type Config struct {
	FallbackWindow    time.Duration
	FallbackThreshold int
}

// Service drives every ticket transition. The repo is injected once at
// process start; listeners are invoked synchronously after each successful
// mutation, in subscription order.
type Service struct {
	repo      TicketRepo
	logger    zerolog.Logger
	window    time.Duration
	threshold int
	now       func() time.Time

	mu        sync.Mutex
	listeners []func(models.Ticket)
}

func NewService(repo TicketRepo, cfg Config, logger zerolog.Logger) *Service {
	if cfg.FallbackWindow <= 0 {
		cfg.FallbackWindow = DefaultFallbackWindow
	}
	if cfg.FallbackThreshold <= 0 {
		cfg.FallbackThreshold = DefaultFallbackThreshold
	}
	return &Service{
		repo:      repo,
		logger:    logger,
		window:    cfg.FallbackWindow,
		threshold: cfg.FallbackThreshold,
		now:       func() time.Time { return time.Now().UTC() },
	}
}

func (s *Service) Subscribe(fn func(models.Ticket)) {
	s.mu.Lock()
	defer s.mu.Unlock()
	s.listeners = append(s.listeners, fn)
}

func (s *Service) notify(t models.Ticket) {
	s.mu.Lock()
	listeners := make([]func(models.Ticket), len(s.listeners))
	copy(listeners, s.listeners)
	s.mu.Unlock()
	for _, fn := range listeners {
		fn(t)
	}
}

// Change is a partial ticket update. Nil pointers leave fields untouched;
// UserText, when present, feeds the categorization heuristic.
type Change struct {
	CityID         string
	ConversationID string
	UserText       string
	NeedsHuman     *bool
	Category       *string
	Department     *string
	Urgent         *bool
	ContactName    *string
	ContactPhone   *string
	ContactEmail   *string
}

func (s *Service) Upsert(ctx context.Context, ch Change) (models.Ticket, error) {
	existing, err := s.repo.Get(ctx, ch.CityID, ch.ConversationID)
	if err != nil {
		return models.Ticket{}, err
	}

	var t models.Ticket
	created := existing == nil
	if created {
		t = models.Ticket{
			CityID:         ch.CityID,
			ConversationID: ch.ConversationID,
			Status:         models.TicketNeedsHuman,
			NeedsHuman:     true,
		}
	} else {
		t = *existing
	}

	contactAdded := false
	if ch.ContactName != nil && *ch.ContactName != "" {
		t.ContactName = *ch.ContactName
		contactAdded = true
	}
	if ch.ContactPhone != nil && *ch.ContactPhone != "" {
		t.ContactPhone = *ch.ContactPhone
		contactAdded = true
	}
	if ch.ContactEmail != nil && *ch.ContactEmail != "" {
		t.ContactEmail = *ch.ContactEmail
		contactAdded = true
	}

	if ch.NeedsHuman != nil {
		t.NeedsHuman = *ch.NeedsHuman
	}
	if ch.Category != nil {
		t.Category = *ch.Category
	}
	if ch.Department != nil {
		t.Department = *ch.Department
	}
	if ch.Urgent != nil {
		t.Urgent = *ch.Urgent
	}

	if ch.UserText != "" {
		category, needsHuman := Categorize(ch.UserText)
		if category != "" {
			t.Category = category
		}
		if needsHuman {
			t.NeedsHuman = true
		}
	}

	if created {
		if t.HasContact() {
			t.Status = models.TicketContactRequested
		}
	} else if contactAdded && t.Status != models.TicketClosed {
		t.Status = models.TicketContactRequested
	}
	// Contact added on a closed ticket deliberately leaves the status
	// alone: only an explicit reopen or the fallback threshold reopens a
	// closed ticket.

	// department autofill re-runs on every upsert until it sticks
	if t.Department == "" && t.Category != "" {
		t.Department = departmentByCategory[t.Category]
	}

	out, err := s.repo.Put(ctx, t)
	if err != nil {
		return models.Ticket{}, err
	}
	s.notify(out)
	return out, nil
}

func (s *Service) Get(ctx context.Context, cityID, conversationID string) (models.Ticket, error) {
	t, err := s.repo.Get(ctx, cityID, conversationID)
	if err != nil {
		return models.Ticket{}, err
	}
	if t == nil {
		return models.Ticket{}, ErrTicketNotFound
	}
	return *t, nil
}

func (s *Service) Close(ctx context.Context, cityID, conversationID string) (models.Ticket, error) {
	t, err := s.repo.CloseTicket(ctx, cityID, conversationID)
	if err != nil {
		return models.Ticket{}, err
	}
	s.notify(t)
	return t, nil
}

func (s *Service) Reopen(ctx context.Context, cityID, conversationID string) (models.Ticket, error) {
	t, err := s.repo.ReopenTicket(ctx, cityID, conversationID)
	if err != nil {
		return models.Ticket{}, err
	}
	s.notify(t)
	return t, nil
}

func (s *Service) FallbackCount(ctx context.Context, cityID, conversationID string, window time.Duration) (int, error) {
	if window <= 0 {
		window = s.window
	}
	return s.repo.RollingFallbackCount(ctx, cityID, conversationID, window)
}

// SignalNeedsHuman is the keyword-gate path from the turn machine.
func (s *Service) SignalNeedsHuman(ctx context.Context, cityID, conversationID, userText string) error {
	needs := true
	_, err := s.Upsert(ctx, Change{
		CityID:         cityID,
		ConversationID: conversationID,
		UserText:       userText,
		NeedsHuman:     &needs,
	})
	return err
}

func (s *Service) HandleTurnCompleted(ctx context.Context, ev chat.TurnCompleted) error {
	needs := ev.Metadata.NeedsHuman
	_, err := s.Upsert(ctx, Change{
		CityID:         ev.CityID,
		ConversationID: ev.ConversationID,
		UserText:       ev.UserText,
		NeedsHuman:     &needs,
	})
	return err
}

// HandleTurnFailed records one fallback-producing turn. The rolling count is
// recomputed from the event log on demand, never kept incrementally. Hitting
// the threshold while the ticket is closed reopens it; reopening moves the
// ticket out of closed, so later fallbacks no-op here.
func (s *Service) HandleTurnFailed(ctx context.Context, ev chat.TurnFailed) error {
	if err := s.repo.RecordFallback(ctx, ev.CityID, ev.ConversationID, s.now()); err != nil {
		return err
	}

	existing, err := s.repo.Get(ctx, ev.CityID, ev.ConversationID)
	if err != nil {
		return err
	}
	if existing == nil {
		// no ticket yet: the event stays in the log and counts once a
		// ticket exists
		return nil
	}

	count, err := s.repo.RollingFallbackCount(ctx, ev.CityID, ev.ConversationID, s.window)
	if err != nil {
		return err
	}
	t := *existing
	t.FallbackCount = count
	updated, err := s.repo.Put(ctx, t)
	if err != nil {
		return err
	}

	if updated.Status == models.TicketClosed && count >= s.threshold {
		reopened, err := s.repo.ReopenTicket(ctx, ev.CityID, ev.ConversationID)
		if err != nil {
			return err
		}
		s.logger.Info().
			Str("city_id", ev.CityID).
			Str("conversation_id", ev.ConversationID).
			Int("fallback_count", count).
			Msg("ticket reopened by fallback threshold")
		s.notify(reopened)
		return nil
	}
	s.notify(updated)
	return nil
}
