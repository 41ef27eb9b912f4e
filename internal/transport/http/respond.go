package http

import (
	"net/http"
	"time"

	"github.com/gin-gonic/gin"
	"github.com/rs/zerolog"

	"github.com/careline/careline-server/internal/core"
	"github.com/careline/careline-server/internal/store"
)

// ErrorResponse represents an error response body.
type ErrorResponse struct {
	Error string `json:"error"`
}

// MessageResponse represents a message in API responses.
type MessageResponse struct {
	ID             int64     `json:"id"`
	ConversationID string    `json:"conversation_id"`
	SenderID       int64     `json:"sender_id"`
	Content        string    `json:"content"`
	SentAt         time.Time `json:"sent_at"`
	Read           bool      `json:"read"`
}

// ConversationResponse represents a conversation in API responses.
type ConversationResponse struct {
	ID             string            `json:"id"`
	PatientID      int64             `json:"patient_id"`
	DoctorID       int64             `json:"doctor_id"`
	IsActive       bool              `json:"is_active"`
	LastActivityAt time.Time         `json:"last_activity_at"`
	Unread         int               `json:"unread,omitempty"`
	Messages       []MessageResponse `json:"messages,omitempty"`
}

func messageResponse(m *store.Message) MessageResponse {
	return MessageResponse{
		ID:             m.ID,
		ConversationID: m.ConversationID,
		SenderID:       m.SenderID,
		Content:        m.Content,
		SentAt:         m.SentAt,
		Read:           m.Read,
	}
}

func messageResponses(msgs []*store.Message) []MessageResponse {
	out := make([]MessageResponse, 0, len(msgs))
	for _, m := range msgs {
		out = append(out, messageResponse(m))
	}
	return out
}

// writeDomainError maps a domain error kind onto an HTTP status. Conflict is
// absorbed by the session directory and never reaches this point.
func writeDomainError(c *gin.Context, logger *zerolog.Logger, err error) {
	switch core.KindOf(err) {
	case core.KindInvalidArgument:
		c.JSON(http.StatusBadRequest, ErrorResponse{Error: err.Error()})
	case core.KindForbidden:
		c.JSON(http.StatusForbidden, ErrorResponse{Error: err.Error()})
	case core.KindNotFound:
		c.JSON(http.StatusNotFound, ErrorResponse{Error: err.Error()})
	default:
		logger.Error().Err(err).Str("path", c.Request.URL.Path).Msg("request failed")
		c.JSON(http.StatusServiceUnavailable, ErrorResponse{Error: "service unavailable"})
	}
}
