package handlers

import (
	"net/http"

	"github.com/gin-gonic/gin"
	"github.com/google/uuid"

	"github.com/sourcequill/backend/internal/http/middleware"
	"github.com/sourcequill/backend/internal/http/response"
	"github.com/sourcequill/backend/internal/services"
)

type QuizHandler struct {
	quizService services.QuizService
}

func NewQuizHandler(quizService services.QuizService) *QuizHandler {
	return &QuizHandler{quizService: quizService}
}

func (qh *QuizHandler) Generate(c *gin.Context) {
	userID, ok := middleware.UserID(c)
	if !ok {
		response.RespondError(c, http.StatusUnauthorized, "unauthorized", nil)
		return
	}
	var req struct {
		ConversationID uuid.UUID `json:"conversation_id"`
		Title          string    `json:"title"`
		NumQuestions   int       `json:"num_questions"`
	}
	if err := c.ShouldBindJSON(&req); err != nil {
		response.RespondError(c, http.StatusBadRequest, "invalid_request", err)
		return
	}
	result, err := qh.quizService.Generate(c.Request.Context(), userID, req.ConversationID, req.Title, req.NumQuestions)
	if err != nil {
		response.RespondServiceError(c, err)
		return
	}
	response.RespondCreated(c, result)
}

func (qh *QuizHandler) Get(c *gin.Context) {
	userID, quizID, ok := qh.idsFromPath(c)
	if !ok {
		return
	}
	result, err := qh.quizService.Get(c.Request.Context(), userID, quizID)
	if err != nil {
		response.RespondServiceError(c, err)
		return
	}
	response.RespondOK(c, result)
}

func (qh *QuizHandler) ListByConversation(c *gin.Context) {
	userID, ok := middleware.UserID(c)
	if !ok {
		response.RespondError(c, http.StatusUnauthorized, "unauthorized", nil)
		return
	}
	conversationID, err := uuid.Parse(c.Param("id"))
	if err != nil {
		response.RespondError(c, http.StatusBadRequest, "invalid_conversation_id", err)
		return
	}
	quizzes, err := qh.quizService.ListByConversation(c.Request.Context(), userID, conversationID)
	if err != nil {
		response.RespondServiceError(c, err)
		return
	}
	response.RespondOK(c, gin.H{"quizzes": quizzes})
}

func (qh *QuizHandler) SubmitAttempt(c *gin.Context) {
	userID, quizID, ok := qh.idsFromPath(c)
	if !ok {
		return
	}
	var req struct {
		Answers map[uuid.UUID]int `json:"answers"`
	}
	if err := c.ShouldBindJSON(&req); err != nil {
		response.RespondError(c, http.StatusBadRequest, "invalid_request", err)
		return
	}
	result, err := qh.quizService.SubmitAttempt(c.Request.Context(), userID, quizID, req.Answers)
	if err != nil {
		response.RespondServiceError(c, err)
		return
	}
	response.RespondOK(c, result)
}

func (qh *QuizHandler) Delete(c *gin.Context) {
	userID, quizID, ok := qh.idsFromPath(c)
	if !ok {
		return
	}
	if err := qh.quizService.Delete(c.Request.Context(), userID, quizID); err != nil {
		response.RespondServiceError(c, err)
		return
	}
	response.RespondOK(c, gin.H{"ok": true})
}

func (qh *QuizHandler) idsFromPath(c *gin.Context) (uuid.UUID, uuid.UUID, bool) {
	userID, ok := middleware.UserID(c)
	if !ok {
		response.RespondError(c, http.StatusUnauthorized, "unauthorized", nil)
		return uuid.Nil, uuid.Nil, false
	}
	quizID, err := uuid.Parse(c.Param("id"))
	if err != nil {
		response.RespondError(c, http.StatusBadRequest, "invalid_quiz_id", err)
		return uuid.Nil, uuid.Nil, false
	}
	return userID, quizID, true
}
