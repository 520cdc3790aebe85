package db

import (
	"context"
	"errors"
	"testing"
	"time"

	"github.com/jackc/pgx/v5"

	"github.com/gradski-asistent/backend/internal/models"
)

func TestMemoryStorePutKeepsIdentity(t *testing.T) {
	s := NewMemoryStore()
	ctx := context.Background()

	first, err := s.Put(ctx, models.Ticket{CityID: "zagreb", ConversationID: "c1", Status: models.TicketNeedsHuman})
	if err != nil {
		t.Fatalf("put: %v", err)
	}
	if first.ID == "" {
		t.Fatalf("expected generated id")
	}

	second, err := s.Put(ctx, models.Ticket{CityID: "zagreb", ConversationID: "c1", Status: models.TicketClosed})
	if err != nil {
		t.Fatalf("put: %v", err)
	}
	if second.ID != first.ID {
		t.Fatalf("upsert must keep the ticket id, got %s vs %s", second.ID, first.ID)
	}
	if !second.CreatedAt.Equal(first.CreatedAt) {
		t.Fatalf("upsert must keep created_at")
	}
	if second.Status != models.TicketClosed {
		t.Fatalf("expected updated status, got %s", second.Status)
	}
}

func TestMemoryStoreStatusOnMissingTicket(t *testing.T) {
	s := NewMemoryStore()
	if _, err := s.CloseTicket(context.Background(), "zagreb", "nope"); !errors.Is(err, pgx.ErrNoRows) {
		t.Fatalf("expected ErrNoRows, got %v", err)
	}
	if _, err := s.ReopenTicket(context.Background(), "zagreb", "nope"); !errors.Is(err, pgx.ErrNoRows) {
		t.Fatalf("expected ErrNoRows, got %v", err)
	}
}

func TestMemoryStoreRollingFallbackWindow(t *testing.T) {
	s := NewMemoryStore()
	ctx := context.Background()
	now := time.Now().UTC()

	if err := s.RecordFallback(ctx, "zagreb", "c1", now.Add(-20*time.Minute)); err != nil {
		t.Fatalf("record: %v", err)
	}
	if err := s.RecordFallback(ctx, "zagreb", "c1", now.Add(-time.Minute)); err != nil {
		t.Fatalf("record: %v", err)
	}
	if err := s.RecordFallback(ctx, "zagreb", "c2", now); err != nil {
		t.Fatalf("record: %v", err)
	}

	count, err := s.RollingFallbackCount(ctx, "zagreb", "c1", 10*time.Minute)
	if err != nil {
		t.Fatalf("count: %v", err)
	}
	if count != 1 {
		t.Fatalf("only events inside the window for this key count, got %d", count)
	}
}

func TestMemoryStoreConversationsAndMessages(t *testing.T) {
	s := NewMemoryStore()
	ctx := context.Background()

	conv, err := s.EnsureConversation(ctx, "zagreb", "")
	if err != nil {
		t.Fatalf("ensure: %v", err)
	}
	if conv.ID == "" {
		t.Fatalf("expected generated conversation id")
	}

	again, err := s.EnsureConversation(ctx, "split", conv.ID)
	if err != nil {
		t.Fatalf("ensure again: %v", err)
	}
	if again.CityID != "zagreb" {
		t.Fatalf("an existing conversation must keep its city, got %s", again.CityID)
	}

	msg := models.Message{ID: "m1", ConversationID: conv.ID, Role: "user", Text: "Pozdrav"}
	if err := s.AppendMessage(ctx, msg); err != nil {
		t.Fatalf("append: %v", err)
	}
	if err := s.AppendMessage(ctx, msg); err != nil {
		t.Fatalf("append duplicate: %v", err)
	}
	msgs, err := s.ListMessages(ctx, conv.ID)
	if err != nil {
		t.Fatalf("list: %v", err)
	}
	if len(msgs) != 1 {
		t.Fatalf("duplicate id must collapse, got %d messages", len(msgs))
	}

	if err := s.MarkIntakeSubmitted(ctx, conv.ID); err != nil {
		t.Fatalf("mark intake: %v", err)
	}
	conv, _ = s.EnsureConversation(ctx, "zagreb", conv.ID)
	if !conv.IntakeSubmitted {
		t.Fatalf("expected intake flag set")
	}
}
