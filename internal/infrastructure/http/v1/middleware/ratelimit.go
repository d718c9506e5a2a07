package middleware

import (
	"fmt"
	"strconv"

	"github.com/gin-gonic/gin"
	"github.com/ulule/limiter/v3"
	"github.com/ulule/limiter/v3/drivers/store/memory"

	"storefront/internal/core/apperror"
	"storefront/internal/core/tenant"
	"storefront/pkg/logger"
)

// NewRateLimiter builds an in-memory limiter from a formatted rate such as "100-M".
func NewRateLimiter(formatted string) (*limiter.Limiter, error) {
	rate, err := limiter.NewRateFromFormatted(formatted)
	if err != nil {
		return nil, fmt.Errorf("parse rate limit %q: %w", formatted, err)
	}
	return limiter.New(memory.NewStore(), rate), nil
}

// RateLimit throttles requests per tenant and actor.
// Must run after Auth so the key reflects the caller rather than the IP.
func RateLimit(instance *limiter.Limiter) gin.HandlerFunc {
	return func(c *gin.Context) {
		ctx := c.Request.Context()

		limit, err := instance.Get(ctx, rateLimitKey(c))
		if err != nil {
			// Fail open on store errors.
			logger.Warn(ctx, "rate limiter unavailable", "error", err)
			c.Next()
			return
		}

		c.Header("X-RateLimit-Limit", strconv.FormatInt(limit.Limit, 10))
		c.Header("X-RateLimit-Remaining", strconv.FormatInt(limit.Remaining, 10))
		c.Header("X-RateLimit-Reset", strconv.FormatInt(limit.Reset, 10))

		if limit.Reached {
			_ = c.Error(apperror.NewRateLimited(limit.Limit).WithDetail("reset", limit.Reset))
			c.Abort()
			return
		}
		c.Next()
	}
}

func rateLimitKey(c *gin.Context) string {
	scope, ok := tenant.FromContext(c.Request.Context())
	if !ok {
		return "ip:" + c.ClientIP()
	}
	key := "tenant:" + scope.TenantID.String()
	if scope.ActorID != nil {
		key += ":actor:" + scope.ActorID.String()
	}
	return key
}
