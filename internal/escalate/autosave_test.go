package escalate

import (
	"context"
	"errors"
	"sync"
	"testing"
	"time"

	"github.com/rs/zerolog"

	"github.com/gradski-asistent/backend/internal/db"
	"github.com/gradski-asistent/backend/internal/models"
)

// gatedRepo wraps the memory store and lets a test hold Put calls open to
// provoke overlapping autosaves.
type gatedRepo struct {
	*db.MemoryStore

	mu       sync.Mutex
	putGate  chan struct{}
	puts     int
	failNext bool
}

func (r *gatedRepo) Put(ctx context.Context, t models.Ticket) (models.Ticket, error) {
	r.mu.Lock()
	gate := r.putGate
	fail := r.failNext
	r.failNext = false
	r.puts++
	r.mu.Unlock()

	if gate != nil {
		<-gate
	}
	if fail {
		return models.Ticket{}, errors.New("put failed")
	}
	return r.MemoryStore.Put(ctx, t)
}

func (r *gatedRepo) putCount() int {
	r.mu.Lock()
	defer r.mu.Unlock()
	return r.puts
}

func waitFor(t *testing.T, cond func() bool) {
	t.Helper()
	deadline := time.Now().Add(2 * time.Second)
	for time.Now().Before(deadline) {
		if cond() {
			return
		}
		time.Sleep(5 * time.Millisecond)
	}
	t.Fatalf("condition not met in time")
}

func TestAutosaveCoalescesConcurrentEdits(t *testing.T) {
	repo := &gatedRepo{MemoryStore: db.NewMemoryStore()}
	service := NewService(repo, Config{}, zerolog.Nop())
	saver := NewAutosaver(service, zerolog.Nop())
	ctx := context.Background()

	if _, err := service.Upsert(ctx, Change{CityID: "zagreb", ConversationID: "c1"}); err != nil {
		t.Fatalf("seed: %v", err)
	}
	seedPuts := repo.putCount()

	gate := make(chan struct{})
	repo.mu.Lock()
	repo.putGate = gate
	repo.mu.Unlock()

	// first edit goes in flight and blocks inside Put
	local, err := saver.Apply(ctx, "zagreb", "c1", WorkflowUpdate{Department: strPtr("Ured A")})
	if err != nil {
		t.Fatalf("apply 1: %v", err)
	}
	if local.Department != "Ured A" {
		t.Fatalf("optimistic local state missing first edit: %+v", local)
	}
	waitFor(t, func() bool { return repo.putCount() == seedPuts+1 })

	// two more edits while blocked: they must coalesce into one pending update
	if _, err := saver.Apply(ctx, "zagreb", "c1", WorkflowUpdate{Department: strPtr("Ured B")}); err != nil {
		t.Fatalf("apply 2: %v", err)
	}
	closed := models.TicketClosed
	local, err = saver.Apply(ctx, "zagreb", "c1", WorkflowUpdate{Status: &closed})
	if err != nil {
		t.Fatalf("apply 3: %v", err)
	}
	if local.Department != "Ured B" || local.Status != models.TicketClosed {
		t.Fatalf("optimistic local state must carry every edit: %+v", local)
	}

	repo.mu.Lock()
	repo.putGate = nil
	repo.mu.Unlock()
	close(gate)

	waitFor(t, func() bool {
		ticket, err := service.Get(context.Background(), "zagreb", "c1")
		return err == nil && ticket.Department == "Ured B" && ticket.Status == models.TicketClosed
	})
	// one in-flight write plus one coalesced write, never three
	if got := repo.putCount(); got != seedPuts+2 {
		t.Fatalf("expected %d puts, got %d", seedPuts+2, got)
	}
}

func TestAutosaveFailureResyncsLocalState(t *testing.T) {
	repo := &gatedRepo{MemoryStore: db.NewMemoryStore()}
	service := NewService(repo, Config{}, zerolog.Nop())
	saver := NewAutosaver(service, zerolog.Nop())
	ctx := context.Background()

	if _, err := service.Upsert(ctx, Change{CityID: "zagreb", ConversationID: "c1"}); err != nil {
		t.Fatalf("seed: %v", err)
	}

	repo.mu.Lock()
	repo.failNext = true
	repo.mu.Unlock()

	local, err := saver.Apply(ctx, "zagreb", "c1", WorkflowUpdate{Department: strPtr("Izgubljeni ured")})
	if err != nil {
		t.Fatalf("apply: %v", err)
	}
	if local.Department != "Izgubljeni ured" {
		t.Fatalf("optimistic state must show the edit before the write fails")
	}

	// after the failed write the local copy drops the edit and matches the repo
	waitFor(t, func() bool {
		current, err := saver.Apply(context.Background(), "zagreb", "c1", WorkflowUpdate{})
		return err == nil && current.Department == ""
	})

	ticket, err := service.Get(ctx, "zagreb", "c1")
	if err != nil {
		t.Fatalf("get: %v", err)
	}
	if ticket.Department != "" {
		t.Fatalf("failed write must not land, got %q", ticket.Department)
	}
}
