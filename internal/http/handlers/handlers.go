package handlers

import (
	"context"
	"errors"
	"net/http"
	"strconv"
	"time"

	"github.com/gin-gonic/gin"
	"github.com/go-playground/validator/v10"
	"github.com/jackc/pgx/v5"
	"github.com/rs/zerolog"

	"github.com/gradski-asistent/backend/internal/chat"
	"github.com/gradski-asistent/backend/internal/db"
	"github.com/gradski-asistent/backend/internal/escalate"
	"github.com/gradski-asistent/backend/internal/models"
	"github.com/gradski-asistent/backend/internal/retrieval"
)

// ReadStore is the query side of the store, satisfied by both *db.Store and
// *db.MemoryStore.
type ReadStore interface {
	Ping(ctx context.Context) error
	Get(ctx context.Context, cityID, conversationID string) (*models.Ticket, error)
	ListTickets(ctx context.Context, f db.TicketFilter) ([]models.Ticket, error)
	ListMessages(ctx context.Context, conversationID string) ([]models.Message, error)
}

type Handler struct {
	Store        ReadStore
	Orchestrator *chat.Orchestrator
	Escalation   *escalate.Service
	Autosave     *escalate.Autosaver
	Retriever    retrieval.Retriever
	Validator    *validator.Validate
	Logger       zerolog.Logger
	AdminKey     string
}

func (h *Handler) Healthz(c *gin.Context) {
	ctx, cancel := context.WithTimeout(c.Request.Context(), 3*time.Second)
	defer cancel()
	if err := h.Store.Ping(ctx); err != nil {
		writeError(c, http.StatusServiceUnavailable, "DB_UNAVAILABLE", "Database unavailable", err.Error())
		return
	}
	c.JSON(http.StatusOK, gin.H{"status": "ok"})
}

// @Summary List tickets
// @Tags tickets
// @Produce json
// @Param status query string false "Ticket status"
// @Param city_id query string false "City"
// @Param q query string false "Search in category/department/conversation"
// @Success 200 {object} map[string]any
// @Router /api/tickets [get]
func (h *Handler) TicketsList(c *gin.Context) {
	limit, _ := strconv.Atoi(c.DefaultQuery("limit", "50"))
	offset, _ := strconv.Atoi(c.DefaultQuery("offset", "0"))
	filter := db.TicketFilter{
		Status: c.Query("status"),
		CityID: c.Query("city_id"),
		Query:  c.Query("q"),
		Limit:  limit,
		Offset: offset,
	}
	items, err := h.Store.ListTickets(c.Request.Context(), filter)
	if err != nil {
		writeError(c, http.StatusInternalServerError, "DB_ERROR", "Failed to list tickets", err.Error())
		return
	}
	c.JSON(http.StatusOK, gin.H{"items": items, "limit": filter.Limit, "offset": filter.Offset})
}

func (h *Handler) TicketDetails(c *gin.Context) {
	cityID := c.Param("city")
	conversationID := c.Param("conversation")

	t, err := h.Store.Get(c.Request.Context(), cityID, conversationID)
	if err != nil {
		writeError(c, http.StatusInternalServerError, "DB_ERROR", "Failed to get ticket", err.Error())
		return
	}
	if t == nil {
		writeError(c, http.StatusNotFound, "NOT_FOUND", "Ticket not found", nil)
		return
	}
	messages, err := h.Store.ListMessages(c.Request.Context(), conversationID)
	if err != nil {
		writeError(c, http.StatusInternalServerError, "DB_ERROR", "Failed to load transcript", err.Error())
		return
	}
	c.JSON(http.StatusOK, gin.H{"ticket": t, "messages": messages})
}

type AutosaveRequest struct {
	Status     *string `json:"status" validate:"omitempty,oneof=needs_human contact_requested closed"`
	Department *string `json:"department"`
	Urgent     *bool   `json:"urgent"`
}

// TicketAutosave is the operator-edit path: the response carries the
// optimistic local state, not necessarily what has already been persisted.
func (h *Handler) TicketAutosave(c *gin.Context) {
	cityID := c.Param("city")
	conversationID := c.Param("conversation")

	var req AutosaveRequest
	if err := c.ShouldBindJSON(&req); err != nil {
		writeError(c, http.StatusBadRequest, "INVALID_REQUEST", "Invalid payload", err.Error())
		return
	}
	if err := h.Validator.Struct(req); err != nil {
		writeError(c, http.StatusBadRequest, "VALIDATION_ERROR", "Validation failed", err.Error())
		return
	}

	update := escalate.WorkflowUpdate{
		Department: req.Department,
		Urgent:     req.Urgent,
	}
	if req.Status != nil {
		status := models.TicketStatus(*req.Status)
		update.Status = &status
	}

	t, err := h.Autosave.Apply(c.Request.Context(), cityID, conversationID, update)
	if err != nil {
		if errors.Is(err, escalate.ErrTicketNotFound) {
			writeError(c, http.StatusNotFound, "NOT_FOUND", "Ticket not found", nil)
			return
		}
		writeError(c, http.StatusInternalServerError, "DB_ERROR", "Failed to apply update", err.Error())
		return
	}
	c.JSON(http.StatusOK, gin.H{"ticket": t})
}

func (h *Handler) TicketClose(c *gin.Context) {
	t, err := h.Escalation.Close(c.Request.Context(), c.Param("city"), c.Param("conversation"))
	if err != nil {
		if errors.Is(err, pgx.ErrNoRows) {
			writeError(c, http.StatusNotFound, "NOT_FOUND", "Ticket not found", nil)
			return
		}
		writeError(c, http.StatusInternalServerError, "DB_ERROR", "Failed to close ticket", err.Error())
		return
	}
	c.JSON(http.StatusOK, gin.H{"ticket": t})
}

func (h *Handler) TicketReopen(c *gin.Context) {
	t, err := h.Escalation.Reopen(c.Request.Context(), c.Param("city"), c.Param("conversation"))
	if err != nil {
		if errors.Is(err, pgx.ErrNoRows) {
			writeError(c, http.StatusNotFound, "NOT_FOUND", "Ticket not found", nil)
			return
		}
		writeError(c, http.StatusInternalServerError, "DB_ERROR", "Failed to reopen ticket", err.Error())
		return
	}
	c.JSON(http.StatusOK, gin.H{"ticket": t})
}

// TicketFallbacks probes the rolling fallback count. An explicit window query
// parameter overrides the configured one.
func (h *Handler) TicketFallbacks(c *gin.Context) {
	var window time.Duration
	if raw := c.Query("window"); raw != "" {
		parsed, err := time.ParseDuration(raw)
		if err != nil {
			writeError(c, http.StatusBadRequest, "INVALID_REQUEST", "Invalid window duration", err.Error())
			return
		}
		window = parsed
	}
	count, err := h.Escalation.FallbackCount(c.Request.Context(), c.Param("city"), c.Param("conversation"), window)
	if err != nil {
		writeError(c, http.StatusInternalServerError, "DB_ERROR", "Failed to count fallbacks", err.Error())
		return
	}
	c.JSON(http.StatusOK, gin.H{"count": count})
}

type IntakeRequest struct {
	CityID         string `json:"city_id" validate:"required"`
	ConversationID string `json:"conversation_id" validate:"required"`
	Name           string `json:"name"`
	Phone          string `json:"phone"`
	Email          string `json:"email" validate:"omitempty,email"`
}

// Intake submits citizen contact details for a conversation, creating the
// ticket if none exists yet.
func (h *Handler) Intake(c *gin.Context) {
	var req IntakeRequest
	if err := c.ShouldBindJSON(&req); err != nil {
		writeError(c, http.StatusBadRequest, "INVALID_REQUEST", "Invalid payload", err.Error())
		return
	}
	if err := h.Validator.Struct(req); err != nil {
		writeError(c, http.StatusBadRequest, "VALIDATION_ERROR", "Validation failed", err.Error())
		return
	}
	if req.Name == "" && req.Phone == "" && req.Email == "" {
		writeError(c, http.StatusBadRequest, "VALIDATION_ERROR", "At least one contact field is required", nil)
		return
	}

	t, err := h.Escalation.Upsert(c.Request.Context(), escalate.Change{
		CityID:         req.CityID,
		ConversationID: req.ConversationID,
		ContactName:    &req.Name,
		ContactPhone:   &req.Phone,
		ContactEmail:   &req.Email,
	})
	if err != nil {
		writeError(c, http.StatusInternalServerError, "DB_ERROR", "Failed to save contact", err.Error())
		return
	}
	c.JSON(http.StatusOK, gin.H{"ticket": t})
}

func writeError(c *gin.Context, status int, code string, message string, details any) {
	c.JSON(status, gin.H{
		"error": gin.H{
			"code":    code,
			"message": message,
			"details": details,
		},
	})
}
