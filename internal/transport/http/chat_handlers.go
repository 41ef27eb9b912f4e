package http

import (
	"net/http"
	"strconv"

	"github.com/gin-gonic/gin"
	"github.com/rs/zerolog"

	"github.com/careline/careline-server/internal/chat"
	"github.com/careline/careline-server/internal/store"
)

// ChatHandlers provides the conversation and message endpoints.
type ChatHandlers struct {
	chat *chat.Service
	log  *zerolog.Logger
}

// NewChatHandlers creates a new chat handlers instance.
func NewChatHandlers(chatService *chat.Service, logger *zerolog.Logger) *ChatHandlers {
	return &ChatHandlers{
		chat: chatService,
		log:  logger,
	}
}

// SendMessageRequest represents the send message request body.
type SendMessageRequest struct {
	Content string `json:"content" binding:"required"`
}

// MarkReadResponse represents the mark-read acknowledgement.
type MarkReadResponse struct {
	Marked int64 `json:"marked"`
}

// ListConversations lists the caller's conversations with unread counts.
// GET /api/chat
func (h *ChatHandlers) ListConversations(c *gin.Context) {
	callerID, _, ok := caller(c)
	if !ok {
		c.JSON(http.StatusUnauthorized, ErrorResponse{Error: "unauthorized"})
		return
	}

	summaries, err := h.chat.ListConversations(c.Request.Context(), callerID)
	if err != nil {
		writeDomainError(c, h.log, err)
		return
	}

	response := make([]ConversationResponse, 0, len(summaries))
	for _, s := range summaries {
		response = append(response, conversationResponse(s.Conversation, s.Unread, nil))
	}
	c.JSON(http.StatusOK, response)
}

// OpenWithPatient opens (or creates) the doctor's conversation with a patient.
// GET /api/chat/with-patient/:patientID
func (h *ChatHandlers) OpenWithPatient(c *gin.Context) {
	callerID, role, ok := caller(c)
	if !ok {
		c.JSON(http.StatusUnauthorized, ErrorResponse{Error: "unauthorized"})
		return
	}

	patientID, err := strconv.ParseInt(c.Param("patientID"), 10, 64)
	if err != nil {
		c.JSON(http.StatusBadRequest, ErrorResponse{Error: "invalid patient id"})
		return
	}

	view, err := h.chat.OpenWithPatient(c.Request.Context(), role, callerID, patientID)
	if err != nil {
		writeDomainError(c, h.log, err)
		return
	}

	c.JSON(http.StatusOK, conversationResponse(view.Conversation, 0, view.Messages))
}

// OpenWithDoctor opens (or creates) the patient's conversation with the
// provisioned doctor.
// POST /api/chat/with-doctor
func (h *ChatHandlers) OpenWithDoctor(c *gin.Context) {
	callerID, role, ok := caller(c)
	if !ok {
		c.JSON(http.StatusUnauthorized, ErrorResponse{Error: "unauthorized"})
		return
	}

	view, err := h.chat.OpenWithDoctor(c.Request.Context(), role, callerID)
	if err != nil {
		writeDomainError(c, h.log, err)
		return
	}

	c.JSON(http.StatusOK, conversationResponse(view.Conversation, 0, view.Messages))
}

// ListMessages returns the conversation's messages in chronological order.
// GET /api/chat/:conversationID/messages?after=<id>&limit=<n>
func (h *ChatHandlers) ListMessages(c *gin.Context) {
	callerID, _, ok := caller(c)
	if !ok {
		c.JSON(http.StatusUnauthorized, ErrorResponse{Error: "unauthorized"})
		return
	}

	var afterID *int64
	if after := c.Query("after"); after != "" {
		id, err := strconv.ParseInt(after, 10, 64)
		if err != nil {
			c.JSON(http.StatusBadRequest, ErrorResponse{Error: "invalid after cursor"})
			return
		}
		afterID = &id
	}
	var limit int
	if l := c.Query("limit"); l != "" {
		n, err := strconv.Atoi(l)
		if err != nil {
			c.JSON(http.StatusBadRequest, ErrorResponse{Error: "invalid limit"})
			return
		}
		limit = n
	}

	messages, err := h.chat.ListMessages(c.Request.Context(), callerID, c.Param("conversationID"), limit, afterID)
	if err != nil {
		writeDomainError(c, h.log, err)
		return
	}

	c.JSON(http.StatusOK, messageResponses(messages))
}

// SendMessage appends a message and pushes it to the online counterpart.
// POST /api/chat/:conversationID/messages
func (h *ChatHandlers) SendMessage(c *gin.Context) {
	callerID, _, ok := caller(c)
	if !ok {
		c.JSON(http.StatusUnauthorized, ErrorResponse{Error: "unauthorized"})
		return
	}

	var req SendMessageRequest
	if err := c.ShouldBindJSON(&req); err != nil {
		c.JSON(http.StatusBadRequest, ErrorResponse{Error: "invalid request body"})
		return
	}

	msg, err := h.chat.SendMessage(c.Request.Context(), callerID, c.Param("conversationID"), req.Content)
	if err != nil {
		writeDomainError(c, h.log, err)
		return
	}

	c.JSON(http.StatusCreated, messageResponse(msg))
}

// MarkRead marks every message not sent by the caller as read.
// PUT /api/chat/:conversationID/read
func (h *ChatHandlers) MarkRead(c *gin.Context) {
	callerID, _, ok := caller(c)
	if !ok {
		c.JSON(http.StatusUnauthorized, ErrorResponse{Error: "unauthorized"})
		return
	}

	marked, err := h.chat.MarkAsRead(c.Request.Context(), callerID, c.Param("conversationID"))
	if err != nil {
		writeDomainError(c, h.log, err)
		return
	}

	c.JSON(http.StatusOK, MarkReadResponse{Marked: marked})
}

func conversationResponse(conv *store.Conversation, unread int, messages []*store.Message) ConversationResponse {
	resp := ConversationResponse{
		ID:             conv.ID,
		PatientID:      conv.PatientID,
		DoctorID:       conv.DoctorID,
		IsActive:       conv.IsActive,
		LastActivityAt: conv.LastActivityAt,
		Unread:         unread,
	}
	if messages != nil {
		resp.Messages = messageResponses(messages)
	}
	return resp
}
