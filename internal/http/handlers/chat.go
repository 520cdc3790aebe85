package handlers

import (
	"encoding/json"
	"net/http"
	"strconv"
	"strings"

	"github.com/gin-gonic/gin"

	"github.com/gradski-asistent/backend/internal/chat"
	"github.com/gradski-asistent/backend/internal/models"
	"github.com/gradski-asistent/backend/internal/retrieval"
)

type ChatRequest struct {
	CityID         string `json:"city_id" validate:"required"`
	ConversationID string `json:"conversation_id"`
	MessageID      string `json:"message_id"`
	Message        string `json:"message" validate:"required"`
}

type chatMetaPayload struct {
	State          string                      `json:"state"`
	ConversationID string                      `json:"conversation_id"`
	Gated          bool                        `json:"gated"`
	Fallback       bool                        `json:"fallback"`
	Metadata       models.ConversationMetadata `json:"metadata"`
}

// @Summary Citizen chat
// @Description Runs one assistant turn and streams the answer as SSE
// @Tags chat
// @Accept json
// @Produce text/event-stream
// @Param request body ChatRequest true "Chat turn"
// @Success 200 {string} string "SSE stream"
// @Failure 400 {object} map[string]any
// @Router /api/chat [post]
func (h *Handler) Chat(c *gin.Context) {
	var req ChatRequest
	if err := c.ShouldBindJSON(&req); err != nil {
		writeError(c, http.StatusBadRequest, "INVALID_REQUEST", "Invalid payload", err.Error())
		return
	}
	if err := h.Validator.Struct(req); err != nil {
		writeError(c, http.StatusBadRequest, "VALIDATION_ERROR", "Validation failed", err.Error())
		return
	}

	flusher, ok := c.Writer.(http.Flusher)
	if !ok {
		writeError(c, http.StatusInternalServerError, "STREAM_UNSUPPORTED", "Streaming not supported", nil)
		return
	}

	c.Writer.Header().Set("Content-Type", "text/event-stream")
	c.Writer.Header().Set("Cache-Control", "no-cache")
	c.Writer.Header().Set("Connection", "keep-alive")
	c.Writer.WriteHeader(http.StatusOK)

	result, err := h.Orchestrator.Send(c.Request.Context(), chat.SendRequest{
		CityID:         req.CityID,
		ConversationID: req.ConversationID,
		MessageID:      req.MessageID,
		Text:           req.Message,
	}, func(token string) {
		writeDataFrame(c.Writer, token)
		flusher.Flush()
	})
	if err != nil {
		h.Logger.Error().Err(err).Msg("chat turn failed before streaming")
		writeDataFrame(c.Writer, chat.FallbackMessage)
		flusher.Flush()
		result = chat.TurnResult{
			State:    chat.StateFailed,
			Answer:   chat.FallbackMessage,
			Fallback: true,
		}
	}

	// gated and fallback turns produce no tokens, so the canned or empty
	// answer goes out as a single frame before the meta frame
	if result.State != chat.StateCompleted || result.Gated || result.Fallback {
		if result.Answer != "" {
			writeDataFrame(c.Writer, result.Answer)
		}
	}

	payload, _ := json.Marshal(chatMetaPayload{
		State:          result.State,
		ConversationID: result.ConversationID,
		Gated:          result.Gated,
		Fallback:       result.Fallback,
		Metadata:       result.Metadata,
	})
	c.Writer.WriteString("event: meta\n")
	writeDataFrame(c.Writer, string(payload))
	c.Writer.WriteString("data: [DONE]\n\n")
	flusher.Flush()
}

// writeDataFrame emits one SSE frame, splitting embedded newlines into
// multiple data lines so they survive the wire format.
func writeDataFrame(w gin.ResponseWriter, text string) {
	for _, line := range strings.Split(text, "\n") {
		w.WriteString("data: " + line + "\n")
	}
	w.WriteString("\n")
}

// @Summary Search civic documents
// @Tags docs
// @Produce json
// @Param q query string true "Query"
// @Param limit query int false "Max results"
// @Success 200 {object} map[string]any
// @Router /api/docs/search [get]
func (h *Handler) DocsSearch(c *gin.Context) {
	q := strings.TrimSpace(c.Query("q"))
	if q == "" {
		writeError(c, http.StatusBadRequest, "VALIDATION_ERROR", "q is required", nil)
		return
	}
	limit, _ := strconv.Atoi(c.DefaultQuery("limit", "5"))
	if limit <= 0 || limit > 20 {
		limit = 5
	}

	docs, err := h.Retriever.Search(c.Request.Context(), q, limit)
	if err != nil && err != retrieval.ErrNoResults {
		writeError(c, http.StatusBadGateway, "RETRIEVAL_ERROR", "Document search failed", err.Error())
		return
	}
	if docs == nil {
		docs = []models.RetrievedDoc{}
	}
	c.JSON(http.StatusOK, gin.H{"items": docs})
}
