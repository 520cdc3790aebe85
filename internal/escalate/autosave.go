package escalate

import (
	"context"
	"sync"
	"time"

	"github.com/rs/zerolog"

	"github.com/gradski-asistent/backend/internal/models"
)

// WorkflowUpdate is a partial edit of a ticket's operator-mutable fields.
type WorkflowUpdate struct {
	Status     *models.TicketStatus
	Department *string
	Urgent     *bool
}

// ApplyWorkflow writes an operator edit directly: operator intent wins, no
// transition rules run on this path.
func (s *Service) ApplyWorkflow(ctx context.Context, cityID, conversationID string, u WorkflowUpdate) (models.Ticket, error) {
	existing, err := s.repo.Get(ctx, cityID, conversationID)
	if err != nil {
		return models.Ticket{}, err
	}
	if existing == nil {
		return models.Ticket{}, ErrTicketNotFound
	}
	t := *existing
	mergeWorkflow(&t, u)
	out, err := s.repo.Put(ctx, t)
	if err != nil {
		return models.Ticket{}, err
	}
	s.notify(out)
	return out, nil
}

func mergeWorkflow(t *models.Ticket, u WorkflowUpdate) {
	if u.Status != nil {
		t.Status = *u.Status
	}
	if u.Department != nil {
		t.Department = *u.Department
	}
	if u.Urgent != nil {
		t.Urgent = *u.Urgent
	}
}

// coalesce merges next over prev, field-by-field last-write-wins.
func coalesce(prev *WorkflowUpdate, next WorkflowUpdate) *WorkflowUpdate {
	if prev == nil {
		out := next
		return &out
	}
	if next.Status != nil {
		prev.Status = next.Status
	}
	if next.Department != nil {
		prev.Department = next.Department
	}
	if next.Urgent != nil {
		prev.Urgent = next.Urgent
	}
	return prev
}

// Autosaver serializes concurrent operator edits per ticket: at most one
// persistence call in flight, later edits coalescing into a single pending
// update that is sent as soon as the in-flight call resolves. The local copy
// is updated optimistically before the write lands; on failure it is thrown
// away and resynchronized from the repo.
type Autosaver struct {
	service *Service
	logger  zerolog.Logger

	mu     sync.Mutex
	states map[string]*autosaveState
}

type autosaveState struct {
	inFlight bool
	pending  *WorkflowUpdate
	local    models.Ticket
}

func NewAutosaver(service *Service, logger zerolog.Logger) *Autosaver {
	return &Autosaver{
		service: service,
		logger:  logger,
		states:  map[string]*autosaveState{},
	}
}

// Apply merges u into the ticket's workflow fields and returns the
// optimistic local state immediately.
func (a *Autosaver) Apply(ctx context.Context, cityID, conversationID string, u WorkflowUpdate) (models.Ticket, error) {
	key := cityID + "/" + conversationID

	a.mu.Lock()
	st := a.states[key]
	if st == nil {
		a.mu.Unlock()
		seed, err := a.service.Get(ctx, cityID, conversationID)
		if err != nil {
			return models.Ticket{}, err
		}
		a.mu.Lock()
		if a.states[key] == nil {
			a.states[key] = &autosaveState{local: seed}
		}
		st = a.states[key]
	}

	mergeWorkflow(&st.local, u)
	if st.inFlight {
		st.pending = coalesce(st.pending, u)
		local := st.local
		a.mu.Unlock()
		return local, nil
	}
	st.inFlight = true
	local := st.local
	a.mu.Unlock()

	go a.flush(key, cityID, conversationID, u)
	return local, nil
}

func (a *Autosaver) flush(key, cityID, conversationID string, u WorkflowUpdate) {
	for {
		ctx, cancel := context.WithTimeout(context.Background(), 10*time.Second)
		_, err := a.service.ApplyWorkflow(ctx, cityID, conversationID, u)
		cancel()

		a.mu.Lock()
		st := a.states[key]
		if st == nil {
			a.mu.Unlock()
			return
		}
		if err != nil {
			a.logger.Error().Err(err).
				Str("city_id", cityID).
				Str("conversation_id", conversationID).
				Msg("ticket autosave failed")
			st.pending = nil
			st.inFlight = false
			a.mu.Unlock()
			a.resync(key, cityID, conversationID)
			return
		}
		if st.pending == nil {
			st.inFlight = false
			a.mu.Unlock()
			return
		}
		u = *st.pending
		st.pending = nil
		a.mu.Unlock()
	}
}

func (a *Autosaver) resync(key, cityID, conversationID string) {
	ctx, cancel := context.WithTimeout(context.Background(), 10*time.Second)
	defer cancel()
	t, err := a.service.Get(ctx, cityID, conversationID)
	if err != nil {
		a.logger.Error().Err(err).
			Str("city_id", cityID).
			Str("conversation_id", conversationID).
			Msg("ticket resync failed")
		a.mu.Lock()
		delete(a.states, key)
		a.mu.Unlock()
		return
	}
	a.mu.Lock()
	if st := a.states[key]; st != nil {
		st.local = t
	}
	a.mu.Unlock()
}
