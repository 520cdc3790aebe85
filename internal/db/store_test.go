package db

import (
	"context"
	"os"
	"testing"
	"time"

	"github.com/gradski-asistent/backend/internal/models"
)

func TestStoreTicketRoundTripIntegration(t *testing.T) {
	url := os.Getenv("TEST_DATABASE_URL")
	if url == "" {
		t.Skip("TEST_DATABASE_URL not set")
	}

	ctx := context.Background()
	store, err := New(ctx, url)
	if err != nil {
		t.Fatalf("db connect: %v", err)
	}
	defer store.Close()

	conversationID := "it-" + time.Now().UTC().Format("20060102150405")
	put, err := store.Put(ctx, models.Ticket{
		CityID:         "zagreb",
		ConversationID: conversationID,
		Status:         models.TicketNeedsHuman,
		NeedsHuman:     true,
		Category:       "voda",
	})
	if err != nil {
		t.Fatalf("put: %v", err)
	}

	got, err := store.Get(ctx, "zagreb", conversationID)
	if err != nil {
		t.Fatalf("get: %v", err)
	}
	if got == nil || got.ID != put.ID {
		t.Fatalf("round trip mismatch: %+v vs %+v", got, put)
	}

	if err := store.RecordFallback(ctx, "zagreb", conversationID, time.Now().UTC()); err != nil {
		t.Fatalf("record fallback: %v", err)
	}
	count, err := store.RollingFallbackCount(ctx, "zagreb", conversationID, 10*time.Minute)
	if err != nil {
		t.Fatalf("count: %v", err)
	}
	if count != 1 {
		t.Fatalf("expected 1 fallback, got %d", count)
	}
}
