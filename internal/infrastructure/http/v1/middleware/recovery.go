// Package middleware provides HTTP middleware components.
package middleware

import (
	"errors"
	"fmt"
	"net/http"
	"runtime/debug"

	"github.com/gin-gonic/gin"

	"storefront/internal/core/apperror"
	"storefront/internal/infrastructure/http/v1/dto"
	"storefront/pkg/logger"
)

// Recovery turns a panicking stock handler into a 500 INTERNAL_ERROR.
// The panic value and stack are logged with the route. The client sees only
// the request id, and a pending idempotency key is released.
// http.ErrAbortHandler is re-raised so net/http can drop the connection as
// the handler asked.
func Recovery() gin.HandlerFunc {
	return func(c *gin.Context) {
		defer func() {
			rec := recover()
			if rec == nil {
				return
			}
			if err, ok := rec.(error); ok && errors.Is(err, http.ErrAbortHandler) {
				panic(rec)
			}

			logger.Error(c.Request.Context(), "stock handler panicked",
				"method", c.Request.Method,
				"route", c.FullPath(),
				"panic", rec,
				"stack", string(debug.Stack()),
			)

			// A partial body cannot be replaced with an error envelope.
			if c.Writer.Written() {
				c.Abort()
				return
			}
			appErr := apperror.NewInternal(fmt.Errorf("panic on %s %s: %v", c.Request.Method, c.FullPath(), rec)).
				WithDetail("request_id", c.GetString("request_id"))
			// The panic unwound past ErrorHandler, so the envelope is written here.
			body := dto.FromAppError(appErr)
			settleIdempotencyFailure(c, appErr, http.StatusInternalServerError, body)
			c.AbortWithStatusJSON(http.StatusInternalServerError, body)
		}()
		c.Next()
	}
}
