package http

import (
	"errors"
	"net/http"
	"strconv"
	"time"

	"github.com/gin-gonic/gin"
	"github.com/rs/zerolog"

	"github.com/vovakirdan/wirecall/internal/store"
)

const maxListLimit = 200

// CallsHandlers serves call history from the call record store.
type CallsHandlers struct {
	store store.CallStore
	log   *zerolog.Logger
}

// NewCallsHandlers creates a new calls handlers instance.
func NewCallsHandlers(st store.CallStore, logger *zerolog.Logger) *CallsHandlers {
	return &CallsHandlers{
		store: st,
		log:   logger,
	}
}

// ErrorResponse represents an error response body.
type ErrorResponse struct {
	Error string `json:"error"`
}

// CallResponse represents a call in API responses.
type CallResponse struct {
	ID        string  `json:"id"`
	CallerID  string  `json:"caller_id"`
	CalleeID  string  `json:"callee_id"`
	RoomID    string  `json:"room_id"`
	Status    string  `json:"status"`
	EndReason string  `json:"end_reason,omitempty"`
	CreatedAt string  `json:"created_at"`
	UpdatedAt string  `json:"updated_at"`
	EndedAt   *string `json:"ended_at,omitempty"`
}

// callToResponse converts a store.Call to CallResponse.
func callToResponse(c *store.Call) CallResponse {
	resp := CallResponse{
		ID:        c.ID,
		CallerID:  c.CallerID,
		CalleeID:  c.CalleeID,
		RoomID:    c.RoomID,
		Status:    string(c.Status),
		EndReason: string(c.EndReason),
		CreatedAt: c.CreatedAt.Format(time.RFC3339),
		UpdatedAt: c.UpdatedAt.Format(time.RFC3339),
	}
	if c.EndedAt != nil {
		endedAt := c.EndedAt.Format(time.RFC3339)
		resp.EndedAt = &endedAt
	}
	return resp
}

// GetCall handles retrieving a call by ID.
// GET /api/calls/:id
func (h *CallsHandlers) GetCall(c *gin.Context) {
	callID := c.Param("id")
	if callID == "" {
		c.JSON(http.StatusBadRequest, ErrorResponse{Error: "call id required"})
		return
	}

	call, err := h.store.GetCall(c.Request.Context(), callID)
	if err != nil {
		if errors.Is(err, store.ErrNotFound) {
			c.JSON(http.StatusNotFound, ErrorResponse{Error: "call not found"})
			return
		}
		h.log.Error().Err(err).Str("call_id", callID).Msg("failed to get call")
		c.JSON(http.StatusInternalServerError, ErrorResponse{Error: "internal server error"})
		return
	}
	if !authenticatedAs(c, call.CallerID, call.CalleeID) {
		c.JSON(http.StatusNotFound, ErrorResponse{Error: "call not found"})
		return
	}

	c.JSON(http.StatusOK, callToResponse(call))
}

// ListParticipantCalls returns the newest calls a participant took part in.
// GET /api/participants/:identity/calls?limit=N
func (h *CallsHandlers) ListParticipantCalls(c *gin.Context) {
	identity := c.Param("identity")
	if !authenticatedAs(c, identity) {
		c.JSON(http.StatusForbidden, ErrorResponse{Error: "forbidden"})
		return
	}

	limit := 50
	if raw := c.Query("limit"); raw != "" {
		n, err := strconv.Atoi(raw)
		if err != nil || n <= 0 {
			c.JSON(http.StatusBadRequest, ErrorResponse{Error: "limit must be a positive integer"})
			return
		}
		limit = min(n, maxListLimit)
	}

	calls, err := h.store.ListCallsForParticipant(c.Request.Context(), identity, limit)
	if err != nil {
		h.log.Error().Err(err).Str("identity", identity).Msg("failed to list calls")
		c.JSON(http.StatusInternalServerError, ErrorResponse{Error: "internal server error"})
		return
	}

	resp := make([]CallResponse, 0, len(calls))
	for _, call := range calls {
		resp = append(resp, callToResponse(call))
	}
	c.JSON(http.StatusOK, resp)
}
