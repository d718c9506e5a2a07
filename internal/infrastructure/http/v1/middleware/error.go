package middleware

import (
	"net/http"

	"github.com/gin-gonic/gin"

	"storefront/internal/core/apperror"
	"storefront/internal/infrastructure/http/v1/dto"
	"storefront/pkg/logger"
)

// ErrorHandler middleware transforms errors into consistent JSON responses.
// Hides internal errors from clients while logging full details.
func ErrorHandler() gin.HandlerFunc {
	return func(c *gin.Context) {
		c.Next()

		if len(c.Errors) == 0 {
			return
		}

		err := c.Errors.Last().Err

		// If response already written by handler, do not override it.
		if c.Writer.Written() {
			return
		}

		if appErr, ok := apperror.AsAppError(err); ok {
			if appErr.Err != nil {
				logger.Error(c.Request.Context(), "request error",
					"code", appErr.Code,
					"cause", appErr.Err,
				)
			}

			status := appErr.HTTPStatus
			if status == 0 {
				status = http.StatusInternalServerError
			}
			body := dto.FromAppError(appErr)
			settleIdempotencyFailure(c, err, status, body)
			c.JSON(status, body)
			return
		}

		// Unknown error - log and return generic message
		logger.Error(c.Request.Context(), "unhandled error",
			"error", err,
		)

		body := dto.ErrorResponse{
			Code:    apperror.CodeInternal,
			Message: "Internal server error",
			Details: map[string]any{
				"request_id": c.GetString("request_id"),
			},
		}
		settleIdempotencyFailure(c, err, http.StatusInternalServerError, body)
		c.JSON(http.StatusInternalServerError, body)
	}
}
