// internal/api/response_helpers.go
package api

import (
	"errors"
	"net/http"
	"time"

	"github.com/gin-gonic/gin"

	apperrors "github.com/Corphon/BugReportConstructor/internal/errors"
)

// APIResponse is the envelope of every non-document endpoint.
type APIResponse struct {
	Success   bool        `json:"success"`
	Data      interface{} `json:"data,omitempty"`
	Error     *APIError   `json:"error,omitempty"`
	Message   string      `json:"message,omitempty"`
	Timestamp time.Time   `json:"timestamp"`
	RequestID string      `json:"request_id,omitempty"`
}

// APIError is the error part of APIResponse.
type APIError struct {
	Code    string `json:"code"`
	Message string `json:"message"`
	Details string `json:"details,omitempty"`
}

// DocumentError is the body of a failed document request. Document endpoints
// answer 200 in every case and carry failures in this body.
type DocumentError struct {
	Error string `json:"error"`
}

// ResponseHelper writes responses.
type ResponseHelper struct{}

// NewResponseHelper creates a ResponseHelper.
func NewResponseHelper() *ResponseHelper {
	return &ResponseHelper{}
}

// Success writes a 200 envelope.
func (rh *ResponseHelper) Success(c *gin.Context, data interface{}, message ...string) {
	response := &APIResponse{
		Success:   true,
		Data:      data,
		Timestamp: time.Now(),
		RequestID: rh.getRequestID(c),
	}
	if len(message) > 0 {
		response.Message = message[0]
	}
	c.JSON(http.StatusOK, response)
}

// Error writes an error envelope.
func (rh *ResponseHelper) Error(c *gin.Context, statusCode int, errorCode, message string, details ...string) {
	apiError := &APIError{Code: errorCode, Message: message}
	if len(details) > 0 {
		apiError.Details = details[0]
	}
	c.JSON(statusCode, &APIResponse{
		Success:   false,
		Error:     apiError,
		Timestamp: time.Now(),
		RequestID: rh.getRequestID(c),
	})
}

// BadRequest writes a 400 envelope.
func (rh *ResponseHelper) BadRequest(c *gin.Context, message string, details ...string) {
	rh.Error(c, http.StatusBadRequest, ErrorBadRequest, message, details...)
}

// NotFound writes a 404 envelope.
func (rh *ResponseHelper) NotFound(c *gin.Context, code, message string) {
	rh.Error(c, http.StatusNotFound, code, message)
}

// InternalError writes a 500 envelope.
func (rh *ResponseHelper) InternalError(c *gin.Context, message string) {
	rh.Error(c, http.StatusInternalServerError, ErrorInternalError, message)
}

// FromError maps an application error onto an envelope. Wrapped causes are
// not exposed.
func (rh *ResponseHelper) FromError(c *gin.Context, err error) {
	message := apperrors.UserMessage(err)
	switch apperrors.TypeOf(err) {
	case apperrors.ErrorTypeValidation, apperrors.ErrorTypeShape, apperrors.ErrorTypeMalformed:
		rh.Error(c, http.StatusBadRequest, codeOf(err, ErrorBadRequest), message)
	case apperrors.ErrorTypeNotFound:
		rh.Error(c, http.StatusNotFound, codeOf(err, ErrorNotFound), message)
	case apperrors.ErrorTypeUnauthorized:
		rh.Error(c, http.StatusUnauthorized, ErrorUnauthorized, message)
	default:
		rh.InternalError(c, message)
	}
}

// Document writes a document, or its failure, with status 200.
func (rh *ResponseHelper) Document(c *gin.Context, document interface{}, err error) {
	if err != nil {
		c.JSON(http.StatusOK, DocumentError{Error: apperrors.UserMessage(err)})
		return
	}
	c.JSON(http.StatusOK, document)
}

func (rh *ResponseHelper) getRequestID(c *gin.Context) string {
	return c.GetString(requestIDKey)
}

func codeOf(err error, fallback string) string {
	var appErr *apperrors.AppError
	if errors.As(err, &appErr) && appErr.Code != "" {
		return appErr.Code
	}
	return fallback
}
