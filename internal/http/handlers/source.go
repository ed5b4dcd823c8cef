package handlers

import (
	"io"
	"net/http"
	"path/filepath"
	"strings"

	"github.com/gin-gonic/gin"
	"github.com/google/uuid"

	"github.com/sourcequill/backend/internal/http/middleware"
	"github.com/sourcequill/backend/internal/http/response"
	"github.com/sourcequill/backend/internal/services"
)

const maxUploadBytes = 10 << 20

type SourceHandler struct {
	sourceService services.SourceService
}

func NewSourceHandler(sourceService services.SourceService) *SourceHandler {
	return &SourceHandler{sourceService: sourceService}
}

// Upload accepts either a multipart "file" field or a JSON body with the
// extracted text already in hand.
func (sh *SourceHandler) Upload(c *gin.Context) {
	userID, ok := middleware.UserID(c)
	if !ok {
		response.RespondError(c, http.StatusUnauthorized, "unauthorized", nil)
		return
	}

	contentType := c.GetHeader("Content-Type")
	if strings.HasPrefix(contentType, "multipart/form-data") {
		sh.uploadMultipart(c, userID)
		return
	}

	var req struct {
		Name     string `json:"name"`
		FileType string `json:"file_type"`
		Text     string `json:"text"`
	}
	if err := c.ShouldBindJSON(&req); err != nil {
		response.RespondError(c, http.StatusBadRequest, "invalid_request", err)
		return
	}
	src, err := sh.sourceService.Upload(c.Request.Context(), userID, req.Name, req.FileType, req.Text)
	if err != nil {
		response.RespondServiceError(c, err)
		return
	}
	response.RespondCreated(c, gin.H{"source": src})
}

func (sh *SourceHandler) uploadMultipart(c *gin.Context, userID uuid.UUID) {
	file, header, err := c.Request.FormFile("file")
	if err != nil {
		response.RespondError(c, http.StatusBadRequest, "invalid_request", err)
		return
	}
	defer file.Close()

	raw, err := io.ReadAll(io.LimitReader(file, maxUploadBytes+1))
	if err != nil {
		response.RespondError(c, http.StatusBadRequest, "read_failed", err)
		return
	}
	if len(raw) > maxUploadBytes {
		response.RespondError(c, http.StatusRequestEntityTooLarge, "file_too_large", nil)
		return
	}

	name := header.Filename
	fileType := strings.TrimPrefix(filepath.Ext(name), ".")
	src, err := sh.sourceService.Upload(c.Request.Context(), userID, name, fileType, string(raw))
	if err != nil {
		response.RespondServiceError(c, err)
		return
	}
	response.RespondCreated(c, gin.H{"source": src})
}

// Update replaces a source's text and re-indexes it.
func (sh *SourceHandler) Update(c *gin.Context) {
	userID, ok := middleware.UserID(c)
	if !ok {
		response.RespondError(c, http.StatusUnauthorized, "unauthorized", nil)
		return
	}
	sourceID, err := uuid.Parse(c.Param("id"))
	if err != nil {
		response.RespondError(c, http.StatusBadRequest, "invalid_source_id", err)
		return
	}
	var req struct {
		Text string `json:"text"`
	}
	if err := c.ShouldBindJSON(&req); err != nil {
		response.RespondError(c, http.StatusBadRequest, "invalid_request", err)
		return
	}
	src, err := sh.sourceService.UpdateText(c.Request.Context(), userID, sourceID, req.Text)
	if err != nil {
		response.RespondServiceError(c, err)
		return
	}
	response.RespondOK(c, gin.H{"source": src})
}

func (sh *SourceHandler) List(c *gin.Context) {
	userID, ok := middleware.UserID(c)
	if !ok {
		response.RespondError(c, http.StatusUnauthorized, "unauthorized", nil)
		return
	}
	sources, err := sh.sourceService.List(c.Request.Context(), userID)
	if err != nil {
		response.RespondServiceError(c, err)
		return
	}
	response.RespondOK(c, gin.H{"sources": sources})
}

func (sh *SourceHandler) Get(c *gin.Context) {
	userID, ok := middleware.UserID(c)
	if !ok {
		response.RespondError(c, http.StatusUnauthorized, "unauthorized", nil)
		return
	}
	sourceID, err := uuid.Parse(c.Param("id"))
	if err != nil {
		response.RespondError(c, http.StatusBadRequest, "invalid_source_id", err)
		return
	}
	src, err := sh.sourceService.Get(c.Request.Context(), userID, sourceID)
	if err != nil {
		response.RespondServiceError(c, err)
		return
	}
	response.RespondOK(c, gin.H{"source": src})
}

func (sh *SourceHandler) Delete(c *gin.Context) {
	userID, ok := middleware.UserID(c)
	if !ok {
		response.RespondError(c, http.StatusUnauthorized, "unauthorized", nil)
		return
	}
	sourceID, err := uuid.Parse(c.Param("id"))
	if err != nil {
		response.RespondError(c, http.StatusBadRequest, "invalid_source_id", err)
		return
	}
	if err := sh.sourceService.Delete(c.Request.Context(), userID, sourceID); err != nil {
		response.RespondServiceError(c, err)
		return
	}
	response.RespondOK(c, gin.H{"ok": true})
}
