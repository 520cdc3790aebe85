package chat

import (
	"context"

	"github.com/gradski-asistent/backend/internal/models"
)

type FailReason string

const (
	ReasonTimeout FailReason = "TIMEOUT"
	ReasonNetwork FailReason = "NETWORK"
	ReasonEmpty   FailReason = "EMPTY"
)

// TurnCompleted and TurnFailed are the whole contract between the turn
// machine and the escalation machine.

type TurnCompleted struct {
	CityID         string
	ConversationID string
	UserText       string
	Text           string
	Metadata       models.ConversationMetadata
}

type TurnFailed struct {
	CityID         string
	ConversationID string
	UserText       string
	Reason         FailReason
}

type Escalator interface {
	HandleTurnCompleted(ctx context.Context, ev TurnCompleted) error
	HandleTurnFailed(ctx context.Context, ev TurnFailed) error
	// SignalNeedsHuman is the keyword-gate path: synchronous, before any
	// network activity.
	SignalNeedsHuman(ctx context.Context, cityID, conversationID, userText string) error
}

// TranscriptStore persists both sides of every turn.
type TranscriptStore interface {
	EnsureConversation(ctx context.Context, cityID, conversationID string) (models.Conversation, error)
	AppendMessage(ctx context.Context, msg models.Message) error
	MarkIntakeSubmitted(ctx context.Context, conversationID string) error
}
