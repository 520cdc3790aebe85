package models

import "time"

type TicketStatus string

const (
	TicketNeedsHuman       TicketStatus = "needs_human"
	TicketContactRequested TicketStatus = "contact_requested"
	TicketClosed           TicketStatus = "closed"
)

// Ticket tracks whether and how a human must respond to a conversation.
// There is exactly one ticket per (city_id, conversation_id).
type Ticket struct {
	ID             string       `json:"id"`
	CityID         string       `json:"city_id"`
	ConversationID string       `json:"conversation_id"`
	Status         TicketStatus `json:"status"`
	NeedsHuman     bool         `json:"needs_human"`
	Category       string       `json:"category"`
	Department     string       `json:"department"`
	Urgent         bool         `json:"urgent"`
	FallbackCount  int          `json:"fallback_count"`
	ContactName    string       `json:"contact_name"`
	ContactPhone   string       `json:"contact_phone"`
	ContactEmail   string       `json:"contact_email"`
	CreatedAt      time.Time    `json:"created_at"`
	UpdatedAt      time.Time    `json:"updated_at"`
}

func (t Ticket) HasContact() bool {
	return t.ContactName != "" || t.ContactPhone != "" || t.ContactEmail != ""
}

type RetrievedDoc struct {
	Title  string  `json:"title"`
	Source string  `json:"source"`
	Score  float64 `json:"score"`
}

// ConversationMetadata is the last-known snapshot carried by meta frames,
// resolved once per completed turn.
type ConversationMetadata struct {
	Model              string         `json:"model"`
	LatencyMs          int64          `json:"latency_ms"`
	RetrievedDocsCount int            `json:"retrieved_docs_count"`
	RetrievedDocsTop3  []RetrievedDoc `json:"retrieved_docs_top3"`
	UsedFallback       bool           `json:"used_fallback"`
	NeedsHuman         bool           `json:"needs_human"`
}

type Conversation struct {
	ID              string    `json:"id"`
	CityID          string    `json:"city_id"`
	IntakeSubmitted bool      `json:"intake_submitted"`
	CreatedAt       time.Time `json:"created_at"`
}

type Message struct {
	ID             string    `json:"id"`
	ConversationID string    `json:"conversation_id"`
	Role           string    `json:"role"`
	Text           string    `json:"text"`
	Fallback       bool      `json:"fallback"`
	CreatedAt      time.Time `json:"created_at"`
}
