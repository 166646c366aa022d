package api

import (
	"errors"
	"net/http"

	"github.com/gin-gonic/gin"
	"go.uber.org/zap"

	"github.com/Gopher0727/RoleInvite/internal/autorole"
)

// statusFor maps engine errors to HTTP statuses; zero means unexpected.
func statusFor(err error) int {
	switch {
	case errors.Is(err, autorole.ErrInvalidKey):
		return http.StatusBadRequest
	case errors.Is(err, autorole.ErrNotFound):
		return http.StatusNotFound
	case errors.Is(err, autorole.ErrDuplicateLink), errors.Is(err, autorole.ErrUserCancelled):
		return http.StatusConflict
	case errors.Is(err, autorole.ErrHierarchyViolation):
		return http.StatusUnprocessableEntity
	case errors.Is(err, autorole.ErrPermissionLost):
		return http.StatusPreconditionFailed
	}
	return 0
}

// respondError writes err to the client. Unexpected errors are hidden from
// the moderator and written to the error report with the invocation.
func (h *Handler) respondError(c *gin.Context, err error, args ...zap.Field) {
	if status := statusFor(err); status != 0 {
		c.JSON(status, gin.H{"error": err.Error()})
		return
	}

	fields := append([]zap.Field{
		zap.String("command", c.GetString(ctxCommand)),
		zap.String("community_id", c.Param("community_id")),
		zap.String("moderator_id", c.GetString(ctxModerator)),
		zap.Error(err),
	}, args...)
	h.log.Quiet().ErrorContext(c.Request.Context(), "Exception in command", fields...)
	c.JSON(http.StatusInternalServerError, gin.H{"error": "internal error"})
}
