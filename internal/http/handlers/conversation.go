package handlers

import (
	"encoding/json"
	"fmt"
	"net/http"
	"strconv"

	"github.com/gin-gonic/gin"
	"github.com/google/uuid"

	"github.com/sourcequill/backend/internal/http/middleware"
	"github.com/sourcequill/backend/internal/http/response"
	"github.com/sourcequill/backend/internal/services"
)

type ConversationHandler struct {
	chatService services.ChatService
}

func NewConversationHandler(chatService services.ChatService) *ConversationHandler {
	return &ConversationHandler{chatService: chatService}
}

func (ch *ConversationHandler) Create(c *gin.Context) {
	userID, ok := middleware.UserID(c)
	if !ok {
		response.RespondError(c, http.StatusUnauthorized, "unauthorized", nil)
		return
	}
	var req struct {
		Title string `json:"title"`
	}
	_ = c.ShouldBindJSON(&req)
	conv, err := ch.chatService.CreateConversation(c.Request.Context(), userID, req.Title)
	if err != nil {
		response.RespondServiceError(c, err)
		return
	}
	response.RespondCreated(c, gin.H{"conversation": conv})
}

func (ch *ConversationHandler) List(c *gin.Context) {
	userID, ok := middleware.UserID(c)
	if !ok {
		response.RespondError(c, http.StatusUnauthorized, "unauthorized", nil)
		return
	}
	convs, err := ch.chatService.ListConversations(c.Request.Context(), userID)
	if err != nil {
		response.RespondServiceError(c, err)
		return
	}
	response.RespondOK(c, gin.H{"conversations": convs})
}

func (ch *ConversationHandler) Get(c *gin.Context) {
	userID, conversationID, ok := ch.idsFromPath(c)
	if !ok {
		return
	}
	conv, err := ch.chatService.GetConversation(c.Request.Context(), userID, conversationID)
	if err != nil {
		response.RespondServiceError(c, err)
		return
	}
	response.RespondOK(c, gin.H{"conversation": conv})
}

func (ch *ConversationHandler) Delete(c *gin.Context) {
	userID, conversationID, ok := ch.idsFromPath(c)
	if !ok {
		return
	}
	if err := ch.chatService.DeleteConversation(c.Request.Context(), userID, conversationID); err != nil {
		response.RespondServiceError(c, err)
		return
	}
	response.RespondOK(c, gin.H{"ok": true})
}

func (ch *ConversationHandler) AttachSource(c *gin.Context) {
	userID, conversationID, ok := ch.idsFromPath(c)
	if !ok {
		return
	}
	var req struct {
		SourceID uuid.UUID `json:"source_id"`
	}
	if err := c.ShouldBindJSON(&req); err != nil || req.SourceID == uuid.Nil {
		response.RespondError(c, http.StatusBadRequest, "invalid_request", fmt.Errorf("source_id required"))
		return
	}
	if err := ch.chatService.AttachSource(c.Request.Context(), userID, conversationID, req.SourceID); err != nil {
		response.RespondServiceError(c, err)
		return
	}
	response.RespondOK(c, gin.H{"ok": true})
}

func (ch *ConversationHandler) ListMessages(c *gin.Context) {
	userID, conversationID, ok := ch.idsFromPath(c)
	if !ok {
		return
	}
	limit := 0
	if raw := c.Query("limit"); raw != "" {
		if n, err := strconv.Atoi(raw); err == nil && n > 0 {
			limit = n
		}
	}
	messages, err := ch.chatService.ListMessages(c.Request.Context(), userID, conversationID, limit)
	if err != nil {
		response.RespondServiceError(c, err)
		return
	}
	response.RespondOK(c, gin.H{"messages": messages})
}

// SendMessage answers the user's message. With Accept: text/event-stream the
// workflow streams stage, token, and complete events; otherwise the stored
// assistant message comes back as plain JSON.
func (ch *ConversationHandler) SendMessage(c *gin.Context) {
	userID, conversationID, ok := ch.idsFromPath(c)
	if !ok {
		return
	}
	var req struct {
		Content string `json:"content"`
	}
	if err := c.ShouldBindJSON(&req); err != nil {
		response.RespondError(c, http.StatusBadRequest, "invalid_request", err)
		return
	}

	if c.GetHeader("Accept") != "text/event-stream" {
		msg, err := ch.chatService.SendMessage(c.Request.Context(), userID, conversationID, req.Content, nil)
		if err != nil {
			response.RespondServiceError(c, err)
			return
		}
		response.RespondOK(c, gin.H{"message": msg})
		return
	}

	c.Header("Content-Type", "text/event-stream")
	c.Header("Cache-Control", "no-cache")
	c.Header("Connection", "keep-alive")
	c.Header("X-Accel-Buffering", "no")
	c.Status(http.StatusOK)

	flusher, canFlush := c.Writer.(http.Flusher)
	writeEvent := func(ev services.StreamEvent) {
		raw, err := json.Marshal(ev)
		if err != nil {
			return
		}
		fmt.Fprintf(c.Writer, "event: %s\ndata: %s\n\n", ev.Type, raw)
		if canFlush {
			flusher.Flush()
		}
	}

	if _, err := ch.chatService.SendMessage(c.Request.Context(), userID, conversationID, req.Content, writeEvent); err != nil {
		writeEvent(services.StreamEvent{Type: "error", ErrorMsg: err.Error()})
	}
}

func (ch *ConversationHandler) idsFromPath(c *gin.Context) (uuid.UUID, uuid.UUID, bool) {
	userID, ok := middleware.UserID(c)
	if !ok {
		response.RespondError(c, http.StatusUnauthorized, "unauthorized", nil)
		return uuid.Nil, uuid.Nil, false
	}
	conversationID, err := uuid.Parse(c.Param("id"))
	if err != nil {
		response.RespondError(c, http.StatusBadRequest, "invalid_conversation_id", err)
		return uuid.Nil, uuid.Nil, false
	}
	return userID, conversationID, true
}
