package api

import (
	"context"
	"errors"
	"net/http"

	"github.com/gin-gonic/gin"

	"github.com/fabfab/hearings-ai/llm"
	"github.com/fabfab/hearings-ai/search"
	"github.com/fabfab/hearings-ai/understanding"
)

// Error codes returned in the envelope.
const (
	CodeUnauthenticated   = "AUTH_001"
	CodeRoleRequired      = "AUTH_002"
	CodeUnavailable       = "DOC_003"
	CodeNotIndexed        = "DOC_004"
	CodeInvalidRequest    = "REQ_001"
	CodeSearchTimeout     = "SEARCH_TIMEOUT"
	CodeSearchUnavailable = "SEARCH_UNAVAILABLE"
	CodeLLMUnavailable    = "LLM_UNAVAILABLE"
	CodeInternal          = "INTERNAL"
)

// ErrorResponse is the body of every failed request.
type ErrorResponse struct {
	Code    string         `json:"code"`
	Message string         `json:"message"`
	Details map[string]any `json:"details,omitempty"`
}

func abort(c *gin.Context, status int, code, message string, details map[string]any) {
	c.AbortWithStatusJSON(status, ErrorResponse{Code: code, Message: message, Details: details})
}

// fail maps err onto the envelope. Unexpected errors are logged and reported
// without their text.
func (s *Server) fail(c *gin.Context, err error) {
	var (
		backendErr  *search.BackendError
		providerErr *llm.ProviderError
	)
	switch {
	case errors.Is(err, search.ErrInvalidRequest):
		abort(c, http.StatusUnprocessableEntity, CodeInvalidRequest, err.Error(), nil)
	case errors.Is(err, search.ErrDocumentUnavailable):
		abort(c, http.StatusNotFound, CodeUnavailable, "Document not found or access denied", nil)
	case errors.Is(err, understanding.ErrNotIndexed):
		abort(c, http.StatusConflict, CodeNotIndexed, "Document has not been indexed yet", nil)
	case errors.Is(err, understanding.ErrLLMUnavailable):
		abort(c, http.StatusServiceUnavailable, CodeLLMUnavailable, "Document understanding is not configured", nil)
	case errors.As(err, &providerErr), errors.Is(err, llm.ErrEmptyReply):
		requestLogger(c).Error("model call failed", "error", err)
		abort(c, http.StatusServiceUnavailable, CodeLLMUnavailable, "Document understanding is temporarily unavailable", nil)
	case search.IsTimeout(err), errors.Is(err, context.DeadlineExceeded):
		requestLogger(c).Warn("search timed out", "error", err)
		abort(c, http.StatusGatewayTimeout, CodeSearchTimeout, "Search timed out, please retry", nil)
	case errors.As(err, &backendErr):
		requestLogger(c).Error("search backend failed", "kind", backendErr.Kind, "operation", backendErr.Operation, "error", err)
		abort(c, http.StatusServiceUnavailable, CodeSearchUnavailable, "Search is temporarily unavailable", map[string]any{"kind": backendErr.Kind})
	default:
		requestLogger(c).Error("request failed", "error", err)
		abort(c, http.StatusInternalServerError, CodeInternal, "Internal server error", nil)
	}
}
