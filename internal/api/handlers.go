// internal/api/handlers.go
package api

import (
	"context"
	"errors"
	"io"
	"net/http"
	"time"

	"github.com/gin-gonic/gin"
	"go.uber.org/zap"

	apperrors "github.com/Corphon/BugReportConstructor/internal/errors"
	"github.com/Corphon/BugReportConstructor/internal/models"
	"github.com/Corphon/BugReportConstructor/internal/render"
	"github.com/Corphon/BugReportConstructor/internal/services"
)

// MaxDocumentBytes caps a document POST body.
const MaxDocumentBytes = 1 << 20

// Handler serves the HTTP API.
type Handler struct {
	savedBlocks   *services.DocumentService[models.SavedBlocks]
	outputFormats *services.DocumentService[models.OutputFormatsPayload]
	renderer      *services.RenderService
	hub           *DocumentHub
	response      *ResponseHelper
	logger        *zap.Logger
	startedAt     time.Time
}

// NewHandler creates a Handler.
func NewHandler(
	savedBlocks *services.DocumentService[models.SavedBlocks],
	outputFormats *services.DocumentService[models.OutputFormatsPayload],
	renderer *services.RenderService,
	hub *DocumentHub,
	logger *zap.Logger,
) *Handler {
	if logger == nil {
		logger = zap.NewNop()
	}
	return &Handler{
		savedBlocks:   savedBlocks,
		outputFormats: outputFormats,
		renderer:      renderer,
		hub:           hub,
		response:      NewResponseHelper(),
		logger:        logger,
		startedAt:     time.Now(),
	}
}

type documentStore[T any] interface {
	Get(ctx context.Context, userID string) (T, error)
	Save(ctx context.Context, userID string, body []byte) (T, error)
}

func getDocument[T any](rh *ResponseHelper, store documentStore[T]) gin.HandlerFunc {
	return func(c *gin.Context) {
		doc, err := store.Get(c.Request.Context(), CurrentUser(c))
		rh.Document(c, doc, err)
	}
}

func saveDocument[T any](rh *ResponseHelper, store documentStore[T]) gin.HandlerFunc {
	return func(c *gin.Context) {
		body, err := readBody(c)
		if err != nil {
			rh.Document(c, nil, err)
			return
		}
		doc, err := store.Save(c.Request.Context(), CurrentUser(c), body)
		rh.Document(c, doc, err)
	}
}

// GetSavedBlocks handles GET /api/saved-blocks.
func (h *Handler) GetSavedBlocks(c *gin.Context) {
	getDocument[models.SavedBlocks](h.response, h.savedBlocks)(c)
}

// SaveSavedBlocks handles POST /api/saved-blocks.
func (h *Handler) SaveSavedBlocks(c *gin.Context) {
	saveDocument[models.SavedBlocks](h.response, h.savedBlocks)(c)
}

// GetOutputFormats handles GET /api/output-formats.
func (h *Handler) GetOutputFormats(c *gin.Context) {
	getDocument[models.OutputFormatsPayload](h.response, h.outputFormats)(c)
}

// SaveOutputFormats handles POST /api/output-formats.
func (h *Handler) SaveOutputFormats(c *gin.Context) {
	saveDocument[models.OutputFormatsPayload](h.response, h.outputFormats)(c)
}

// Render handles POST /api/render.
func (h *Handler) Render(c *gin.Context) {
	var req services.RenderRequest
	if err := c.ShouldBindJSON(&req); err != nil {
		h.response.Error(c, http.StatusBadRequest, ErrorDraftInvalid, "invalid render request", err.Error())
		return
	}
	result, err := h.renderer.Render(c.Request.Context(), CurrentUser(c), req)
	if err != nil {
		h.fail(c, err)
		return
	}
	h.response.Success(c, result)
}

// Fields handles POST /api/fields.
func (h *Handler) Fields(c *gin.Context) {
	var sel services.FormatSelector
	if c.Request.ContentLength != 0 {
		if err := c.ShouldBindJSON(&sel); err != nil {
			h.response.BadRequest(c, "invalid format selector", err.Error())
			return
		}
	}
	fields, err := h.renderer.Fields(c.Request.Context(), CurrentUser(c), sel)
	if err != nil {
		h.fail(c, err)
		return
	}
	h.response.Success(c, fields)
}

// Placeholders handles GET /api/placeholders.
func (h *Handler) Placeholders(c *gin.Context) {
	h.response.Success(c, render.Placeholders)
}

// Health handles GET /health.
func (h *Handler) Health(c *gin.Context) {
	c.JSON(http.StatusOK, gin.H{
		"status": "ok",
		"uptime": time.Since(h.startedAt).Round(time.Second).String(),
	})
}

func (h *Handler) fail(c *gin.Context, err error) {
	if apperrors.IsNotFoundError(err) {
		h.response.NotFound(c, ErrorFormatNotFound, apperrors.UserMessage(err))
		return
	}
	_ = c.Error(err)
	h.response.FromError(c, err)
}

func readBody(c *gin.Context) ([]byte, error) {
	body, err := io.ReadAll(http.MaxBytesReader(c.Writer, c.Request.Body, MaxDocumentBytes))
	if err != nil {
		var tooLarge *http.MaxBytesError
		if errors.As(err, &tooLarge) {
			return nil, apperrors.NewValidationError("request body too large", err)
		}
		return nil, apperrors.NewValidationError("failed to read request body", err)
	}
	return body, nil
}
