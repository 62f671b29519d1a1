package handler

import (
	"context"
	"errors"
	"net/http"

	"github.com/gin-gonic/gin"
	"github.com/google/uuid"
	complianceapp "github.com/govcon/shredder/internal/application/compliance"
	shredapp "github.com/govcon/shredder/internal/application/shredding"
	"github.com/govcon/shredder/internal/domain/compliance"
	"github.com/govcon/shredder/internal/domain/shared"
	"github.com/govcon/shredder/internal/interfaces/http/dto"
	"github.com/govcon/shredder/internal/interfaces/http/middleware"
)

// unavailable maps infrastructure failures to the message a 503 carries.
var unavailable = []struct {
	target  error
	message string
}{
	{compliance.ErrClassifierUnavailable, "The classifier is unavailable"},
	{shredapp.ErrStorage, "The compliance store is unavailable"},
	{complianceapp.ErrPDFExportDisabled, "PDF export is not enabled"},
	{context.DeadlineExceeded, "The request timed out"},
}

// BaseHandler holds the response helpers shared by all handlers
type BaseHandler struct{}

// pathUUID parses a UUID path parameter, answering 400 when it is malformed
func (h *BaseHandler) pathUUID(c *gin.Context, name, label string) (uuid.UUID, bool) {
	id, err := uuid.Parse(c.Param(name))
	if err != nil {
		h.BadRequest(c, "Invalid "+label+" ID format")
		return uuid.Nil, false
	}
	return id, true
}

func (h *BaseHandler) Success(c *gin.Context, data any) {
	c.JSON(http.StatusOK, dto.NewSuccessResponse(data))
}

func (h *BaseHandler) SuccessWithMeta(c *gin.Context, data any, total int64, page, pageSize int) {
	c.JSON(http.StatusOK, dto.NewSuccessResponseWithMeta(data, total, page, pageSize))
}

// Accepted answers 202 for a run that continues in the background
func (h *BaseHandler) Accepted(c *gin.Context, data any) {
	c.JSON(http.StatusAccepted, dto.NewSuccessResponse(data))
}

func (h *BaseHandler) NoContent(c *gin.Context) {
	c.Status(http.StatusNoContent)
}

// Error writes the error envelope tagged with the request id
func (h *BaseHandler) Error(c *gin.Context, status int, code, message string) {
	c.JSON(status, dto.NewErrorResponseWithRequestID(code, message, middleware.RequestIDFrom(c)))
}

func (h *BaseHandler) BadRequest(c *gin.Context, message string) {
	h.Error(c, http.StatusBadRequest, dto.ErrCodeBadRequest, message)
}

func (h *BaseHandler) InternalError(c *gin.Context, message string) {
	h.Error(c, http.StatusInternalServerError, dto.ErrCodeInternal, message)
}

// HandleError converts service errors to HTTP responses. Domain errors keep
// their code, infrastructure outages are 503 and anything else is a 500
// without internal detail.
func (h *BaseHandler) HandleError(c *gin.Context, err error) {
	if err == nil {
		return
	}

	var domainErr *shared.DomainError
	if errors.As(err, &domainErr) {
		code := dto.NormalizeErrorCode(domainErr.Code)
		h.Error(c, dto.GetHTTPStatus(code), code, domainErr.Message)
		return
	}
	for _, u := range unavailable {
		if errors.Is(err, u.target) {
			h.Error(c, http.StatusServiceUnavailable, dto.ErrCodeUnavailable, u.message)
			return
		}
	}
	h.InternalError(c, "An unexpected error occurred")
}
