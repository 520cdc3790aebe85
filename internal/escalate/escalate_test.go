package escalate

import (
	"context"
	"testing"

	"github.com/rs/zerolog"

	"github.com/gradski-asistent/backend/internal/chat"
	"github.com/gradski-asistent/backend/internal/db"
	"github.com/gradski-asistent/backend/internal/models"
)

func newTestService(t *testing.T) (*Service, *db.MemoryStore) {
	t.Helper()
	store := db.NewMemoryStore()
	return NewService(store, Config{}, zerolog.Nop()), store
}

func strPtr(s string) *string { return &s }
func boolPtr(b bool) *bool    { return &b }

func TestUpsertCreatesWithDefaults(t *testing.T) {
	s, _ := newTestService(t)

	ticket, err := s.Upsert(context.Background(), Change{CityID: "zagreb", ConversationID: "c1"})
	if err != nil {
		t.Fatalf("upsert: %v", err)
	}
	if ticket.Status != models.TicketNeedsHuman {
		t.Fatalf("expected needs_human on creation, got %s", ticket.Status)
	}
	if !ticket.NeedsHuman {
		t.Fatalf("needsHuman must default to true on creation")
	}
	if ticket.ID == "" {
		t.Fatalf("expected generated ticket id")
	}
}

func TestUpsertCreationWithContact(t *testing.T) {
	s, _ := newTestService(t)

	ticket, err := s.Upsert(context.Background(), Change{
		CityID: "zagreb", ConversationID: "c1",
		ContactPhone: strPtr("+385911234567"),
	})
	if err != nil {
		t.Fatalf("upsert: %v", err)
	}
	if ticket.Status != models.TicketContactRequested {
		t.Fatalf("contact at creation must yield contact_requested, got %s", ticket.Status)
	}
	if !ticket.NeedsHuman {
		t.Fatalf("needsHuman must still default to true")
	}
}

func TestUpsertContactForcesContactRequested(t *testing.T) {
	s, _ := newTestService(t)
	ctx := context.Background()

	if _, err := s.Upsert(ctx, Change{CityID: "zagreb", ConversationID: "c1"}); err != nil {
		t.Fatalf("create: %v", err)
	}
	ticket, err := s.Upsert(ctx, Change{
		CityID: "zagreb", ConversationID: "c1",
		ContactEmail: strPtr("ana@example.com"),
	})
	if err != nil {
		t.Fatalf("contact upsert: %v", err)
	}
	if ticket.Status != models.TicketContactRequested {
		t.Fatalf("expected contact_requested, got %s", ticket.Status)
	}
}

func TestUpsertContactOnClosedTicketKeepsStatus(t *testing.T) {
	s, _ := newTestService(t)
	ctx := context.Background()

	if _, err := s.Upsert(ctx, Change{CityID: "zagreb", ConversationID: "c1"}); err != nil {
		t.Fatalf("create: %v", err)
	}
	if _, err := s.Close(ctx, "zagreb", "c1"); err != nil {
		t.Fatalf("close: %v", err)
	}
	ticket, err := s.Upsert(ctx, Change{
		CityID: "zagreb", ConversationID: "c1",
		ContactPhone: strPtr("+385911234567"),
	})
	if err != nil {
		t.Fatalf("contact upsert: %v", err)
	}
	if ticket.Status != models.TicketClosed {
		t.Fatalf("contact on closed ticket must not change status, got %s", ticket.Status)
	}
	if ticket.ContactPhone == "" {
		t.Fatalf("contact fields must still be saved")
	}
}

func TestUpsertDepartmentAutofill(t *testing.T) {
	s, _ := newTestService(t)
	ctx := context.Background()

	ticket, err := s.Upsert(ctx, Change{
		CityID: "zagreb", ConversationID: "c1",
		UserText: "Pukla je cijev i voda curi na ulici",
	})
	if err != nil {
		t.Fatalf("upsert: %v", err)
	}
	if ticket.Category != CategoryVoda {
		t.Fatalf("expected voda category, got %q", ticket.Category)
	}
	if ticket.Department != departmentByCategory[CategoryVoda] {
		t.Fatalf("expected autofilled department, got %q", ticket.Department)
	}

	// an explicit department sticks across later upserts
	ticket, err = s.Upsert(ctx, Change{
		CityID: "zagreb", ConversationID: "c1",
		Department: strPtr("Posebni ured"),
		UserText:   "voda i dalje curi",
	})
	if err != nil {
		t.Fatalf("second upsert: %v", err)
	}
	if ticket.Department != "Posebni ured" {
		t.Fatalf("explicit department must not be overwritten, got %q", ticket.Department)
	}
}

func TestSignalNeedsHuman(t *testing.T) {
	s, _ := newTestService(t)

	if err := s.SignalNeedsHuman(context.Background(), "zagreb", "c1", "Želim razgovarati s čovjekom"); err != nil {
		t.Fatalf("signal: %v", err)
	}
	ticket, err := s.Get(context.Background(), "zagreb", "c1")
	if err != nil {
		t.Fatalf("get: %v", err)
	}
	if !ticket.NeedsHuman {
		t.Fatalf("expected needs-human ticket")
	}
}

func TestHandleTurnFailedWithoutTicket(t *testing.T) {
	s, store := newTestService(t)
	ctx := context.Background()

	ev := chat.TurnFailed{CityID: "zagreb", ConversationID: "c1", Reason: chat.ReasonTimeout}
	if err := s.HandleTurnFailed(ctx, ev); err != nil {
		t.Fatalf("handle failed: %v", err)
	}
	if ticket, _ := store.Get(ctx, "zagreb", "c1"); ticket != nil {
		t.Fatalf("a failed turn alone must not create a ticket")
	}

	// the recorded event still counts once a ticket exists
	if _, err := s.Upsert(ctx, Change{CityID: "zagreb", ConversationID: "c1"}); err != nil {
		t.Fatalf("create: %v", err)
	}
	if err := s.HandleTurnFailed(ctx, ev); err != nil {
		t.Fatalf("handle failed: %v", err)
	}
	ticket, err := s.Get(ctx, "zagreb", "c1")
	if err != nil {
		t.Fatalf("get: %v", err)
	}
	if ticket.FallbackCount != 2 {
		t.Fatalf("expected fallback count 2, got %d", ticket.FallbackCount)
	}
}

func TestFallbackThresholdReopensClosedTicket(t *testing.T) {
	s, _ := newTestService(t)
	ctx := context.Background()

	if _, err := s.Upsert(ctx, Change{CityID: "zagreb", ConversationID: "c1"}); err != nil {
		t.Fatalf("create: %v", err)
	}
	if _, err := s.Close(ctx, "zagreb", "c1"); err != nil {
		t.Fatalf("close: %v", err)
	}

	var reopens int
	lastStatus := models.TicketClosed
	s.Subscribe(func(t models.Ticket) {
		if lastStatus == models.TicketClosed && t.Status == models.TicketNeedsHuman {
			reopens++
		}
		lastStatus = t.Status
	})

	ev := chat.TurnFailed{CityID: "zagreb", ConversationID: "c1", Reason: chat.ReasonNetwork}
	if err := s.HandleTurnFailed(ctx, ev); err != nil {
		t.Fatalf("first failure: %v", err)
	}
	ticket, _ := s.Get(ctx, "zagreb", "c1")
	if ticket.Status != models.TicketClosed {
		t.Fatalf("one failure must not reopen, got %s", ticket.Status)
	}

	if err := s.HandleTurnFailed(ctx, ev); err != nil {
		t.Fatalf("second failure: %v", err)
	}
	ticket, _ = s.Get(ctx, "zagreb", "c1")
	if ticket.Status != models.TicketNeedsHuman {
		t.Fatalf("threshold must reopen the ticket, got %s", ticket.Status)
	}
	if !ticket.NeedsHuman {
		t.Fatalf("reopen must set needsHuman")
	}
	if reopens != 1 {
		t.Fatalf("expected exactly one reopen notification, got %d", reopens)
	}

	// a third failure finds the ticket already open and does not re-fire
	if err := s.HandleTurnFailed(ctx, ev); err != nil {
		t.Fatalf("third failure: %v", err)
	}
	if reopens != 1 {
		t.Fatalf("reopen must fire once, got %d", reopens)
	}
}

func TestCloseAndReopenMissingTicket(t *testing.T) {
	s, _ := newTestService(t)

	if _, err := s.Close(context.Background(), "zagreb", "nope"); err == nil {
		t.Fatalf("closing a missing ticket must fail")
	}
	if _, err := s.Reopen(context.Background(), "zagreb", "nope"); err == nil {
		t.Fatalf("reopening a missing ticket must fail")
	}
}
