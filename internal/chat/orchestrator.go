package chat

import (
	"context"
	"io"
	"strings"
	"sync"
	"sync/atomic"
	"time"

	"github.com/google/uuid"
	"github.com/rs/zerolog"

	"github.com/gradski-asistent/backend/internal/assistant"
	"github.com/gradski-asistent/backend/internal/models"
)

const (
	StateIdle               = "IDLE"
	StateAwaitingFirstToken = "AWAITING_FIRST_TOKEN"
	StateStreaming          = "STREAMING"
	StateCompleted          = "COMPLETED"
	StateFailed             = "FAILED"
	StateAborted            = "ABORTED"
)

// FallbackMessage is the canned answer shown whenever a turn produces no
// usable generated text.
const FallbackMessage = "Nažalost, trenutno ne mogu odgovoriti na vaš upit. Pokušajte ponovno ili zatražite pomoć djelatnika."

const DefaultFirstTokenTimeout = 6 * time.Second

type SendRequest struct {
	CityID         string
	ConversationID string
	MessageID      string
	Text           string
}

type TurnResult struct {
	State          string
	ConversationID string
	Answer         string
	Metadata       models.ConversationMetadata
	Gated          bool
	Fallback       bool
}

// Orchestrator owns per-message turn state: the keyword gate, the
// first-token timeout, token accumulation and completion/failure/abort
// resolution. At most one turn is in flight per conversation; a newer send
// supersedes the previous one.
type Orchestrator struct {
	Streamer          assistant.Streamer
	Store             TranscriptStore
	Escalation        Escalator
	Logger            zerolog.Logger
	FirstTokenTimeout time.Duration

	mu    sync.Mutex
	turns map[string]*turnHandle
}

type turnHandle struct {
	cancel context.CancelFunc
	done   chan struct{}
}

func NewOrchestrator(streamer assistant.Streamer, store TranscriptStore, esc Escalator, logger zerolog.Logger) *Orchestrator {
	return &Orchestrator{
		Streamer:          streamer,
		Store:             store,
		Escalation:        esc,
		Logger:            logger,
		FirstTokenTimeout: DefaultFirstTokenTimeout,
		turns:             map[string]*turnHandle{},
	}
}

// Send runs one full turn. onToken receives each normalized token as it
// arrives; the accumulated answer is also returned in the result. Send only
// returns an error for pre-flight persistence failures; every other outcome
// resolves to a terminal, user-visible TurnResult.
func (o *Orchestrator) Send(ctx context.Context, req SendRequest, onToken func(token string)) (TurnResult, error) {
	if req.MessageID == "" {
		req.MessageID = uuid.NewString()
	}

	conv, err := o.Store.EnsureConversation(ctx, req.CityID, req.ConversationID)
	if err != nil {
		return TurnResult{}, err
	}

	// Supersede the previous in-flight turn for this conversation and wait
	// for it to finish writing its transcript entry, so an aborted turn's
	// text can never land after ours.
	o.mu.Lock()
	if prev := o.turns[conv.ID]; prev != nil {
		prev.cancel()
		o.mu.Unlock()
		<-prev.done
		o.mu.Lock()
	}
	turnCtx, cancel := context.WithCancel(ctx)
	handle := &turnHandle{cancel: cancel, done: make(chan struct{})}
	o.turns[conv.ID] = handle
	o.mu.Unlock()
	defer func() {
		cancel()
		o.mu.Lock()
		if o.turns[conv.ID] == handle {
			delete(o.turns, conv.ID)
		}
		o.mu.Unlock()
		close(handle.done)
	}()

	// the user text reaches the transcript on every path, gated included
	if err := o.Store.AppendMessage(ctx, models.Message{
		ID:             req.MessageID,
		ConversationID: conv.ID,
		Role:           "user",
		Text:           req.Text,
		CreatedAt:      time.Now().UTC(),
	}); err != nil {
		return TurnResult{}, err
	}

	if MatchesEscalationPhrase(req.Text) {
		if err := o.Escalation.SignalNeedsHuman(ctx, req.CityID, conv.ID, req.Text); err != nil {
			o.Logger.Error().Err(err).Str("conversation_id", conv.ID).Msg("keyword escalation failed")
		}
		return TurnResult{
			State:          StateCompleted,
			ConversationID: conv.ID,
			Gated:          true,
			Metadata:       models.ConversationMetadata{NeedsHuman: true},
		}, nil
	}

	strm, err := o.Streamer.StreamChat(turnCtx, assistant.ChatRequest{
		Message:        req.Text,
		ConversationID: conv.ID,
		MessageID:      req.MessageID,
	})
	if err != nil {
		o.Logger.Error().Err(err).Str("conversation_id", conv.ID).Msg("chat request failed")
		return o.finishFailed(ctx, req, conv, ReasonNetwork), nil
	}
	defer strm.Close()

	var lastMeta *models.ConversationMetadata
	strm.OnMeta = func(m models.ConversationMetadata) { lastMeta = &m }

	var timedOut atomic.Bool
	timeout := o.FirstTokenTimeout
	if timeout <= 0 {
		timeout = DefaultFirstTokenTimeout
	}
	timer := time.AfterFunc(timeout, func() {
		timedOut.Store(true)
		cancel()
	})
	defer timer.Stop()

	state := StateAwaitingFirstToken
	var answer strings.Builder
	var recvErr error
	for {
		tok, err := strm.Recv()
		if err != nil {
			if err != io.EOF {
				recvErr = err
			}
			break
		}
		if turnCtx.Err() != nil {
			break
		}
		if tok == "" {
			continue
		}
		if state == StateAwaitingFirstToken {
			timer.Stop()
			state = StateStreaming
		}
		tok = strings.ReplaceAll(tok, "–", "-")
		answer.WriteString(tok)
		if onToken != nil {
			onToken(tok)
		}
	}
	timer.Stop()

	switch {
	case timeoutApplies(timedOut.Load(), state):
		return o.finishFailed(ctx, req, conv, ReasonTimeout), nil
	case turnCtx.Err() != nil && !timedOut.Load():
		return o.finishAborted(req, conv), nil
	case recvErr != nil:
		o.Logger.Error().Err(recvErr).Str("conversation_id", conv.ID).Msg("stream failed")
		return o.finishFailed(ctx, req, conv, ReasonNetwork), nil
	}

	// resolved metadata priority: last meta frame, stream snapshot, empty
	meta := models.ConversationMetadata{}
	if lastMeta != nil {
		meta = *lastMeta
	} else if m, ok := strm.Meta(); ok {
		meta = m
	}

	text := strings.TrimSpace(answer.String())
	fallback := text == ""
	if fallback {
		text = FallbackMessage
	}

	if err := o.Store.AppendMessage(ctx, models.Message{
		ID:             uuid.NewString(),
		ConversationID: conv.ID,
		Role:           "assistant",
		Text:           text,
		Fallback:       fallback,
		CreatedAt:      time.Now().UTC(),
	}); err != nil {
		o.Logger.Error().Err(err).Str("conversation_id", conv.ID).Msg("transcript write failed")
	}

	if fallback {
		o.emitFailed(ctx, req, conv, ReasonEmpty)
	}
	if meta.NeedsHuman && !conv.IntakeSubmitted {
		// the intake decision happens exactly once per conversation
		if err := o.Escalation.HandleTurnCompleted(ctx, TurnCompleted{
			CityID:         req.CityID,
			ConversationID: conv.ID,
			UserText:       req.Text,
			Text:           text,
			Metadata:       meta,
		}); err != nil {
			o.Logger.Error().Err(err).Str("conversation_id", conv.ID).Msg("escalation write failed")
		} else if err := o.Store.MarkIntakeSubmitted(ctx, conv.ID); err != nil {
			o.Logger.Error().Err(err).Str("conversation_id", conv.ID).Msg("intake flag write failed")
		}
	}

	return TurnResult{
		State:          StateCompleted,
		ConversationID: conv.ID,
		Answer:         text,
		Metadata:       meta,
		Fallback:       fallback,
	}, nil
}

// timeoutApplies reports whether a fired first-token timer fails the turn.
// Only a turn that never received a token times out; a timer that loses the
// race against the first token merely chops the stream short, and the turn
// completes with whatever was accumulated.
func timeoutApplies(timedOut bool, state string) bool {
	return timedOut && state == StateAwaitingFirstToken
}

func (o *Orchestrator) finishFailed(ctx context.Context, req SendRequest, conv models.Conversation, reason FailReason) TurnResult {
	if err := o.Store.AppendMessage(ctx, models.Message{
		ID:             uuid.NewString(),
		ConversationID: conv.ID,
		Role:           "assistant",
		Text:           FallbackMessage,
		Fallback:       true,
		CreatedAt:      time.Now().UTC(),
	}); err != nil {
		o.Logger.Error().Err(err).Str("conversation_id", conv.ID).Msg("transcript write failed")
	}
	o.emitFailed(ctx, req, conv, reason)
	return TurnResult{
		State:          StateFailed,
		ConversationID: conv.ID,
		Answer:         FallbackMessage,
		Fallback:       true,
	}
}

// finishAborted writes the superseded turn's terminal transcript entry. The
// request context may already be gone, so the write gets its own deadline.
// An aborted turn never counts toward the fallback window.
func (o *Orchestrator) finishAborted(req SendRequest, conv models.Conversation) TurnResult {
	ctx, cancel := context.WithTimeout(context.Background(), 3*time.Second)
	defer cancel()
	if err := o.Store.AppendMessage(ctx, models.Message{
		ID:             uuid.NewString(),
		ConversationID: conv.ID,
		Role:           "assistant",
		Text:           FallbackMessage,
		CreatedAt:      time.Now().UTC(),
	}); err != nil {
		o.Logger.Error().Err(err).Str("conversation_id", conv.ID).Msg("transcript write failed")
	}
	return TurnResult{
		State:          StateAborted,
		ConversationID: conv.ID,
		Answer:         FallbackMessage,
	}
}

func (o *Orchestrator) emitFailed(ctx context.Context, req SendRequest, conv models.Conversation, reason FailReason) {
	if err := o.Escalation.HandleTurnFailed(ctx, TurnFailed{
		CityID:         req.CityID,
		ConversationID: conv.ID,
		UserText:       req.Text,
		Reason:         reason,
	}); err != nil {
		o.Logger.Error().Err(err).Str("conversation_id", conv.ID).Msg("escalation write failed")
	}
}
