package middleware

import (
	"strings"

	"github.com/gin-gonic/gin"

	"storefront/internal/core/apperror"
	appctx "storefront/internal/core/context"
	"storefront/internal/core/id"
	"storefront/internal/core/tenant"
	"storefront/pkg/logger"
)

// TenantHeader names the target tenant of a privileged request.
const TenantHeader = "X-Tenant-ID"

// JWTValidator interface for token validation.
type JWTValidator interface {
	ValidateToken(tokenString string) (*appctx.UserContext, error)
}

// Auth middleware validates JWT tokens and resolves the request's tenant scope.
//
// Regular callers are bound to the tenant in their token. Privileged callers
// are not bound to any tenant unless they name one with X-Tenant-ID.
func Auth(validator JWTValidator) gin.HandlerFunc {
	return func(c *gin.Context) {
		// Extract token from Authorization header
		authHeader := c.GetHeader("Authorization")
		if authHeader == "" {
			abortUnauthorized(c, "missing authorization header")
			return
		}

		// Check Bearer prefix
		parts := strings.SplitN(authHeader, " ", 2)
		if len(parts) != 2 || !strings.EqualFold(parts[0], "bearer") {
			abortUnauthorized(c, "invalid authorization header format")
			return
		}

		user, err := validator.ValidateToken(parts[1])
		if err != nil {
			logger.Debug(c.Request.Context(), "token rejected", "error", err)
			abortUnauthorized(c, "invalid token")
			return
		}

		scope, err := resolveScope(user, c.GetHeader(TenantHeader))
		if err != nil {
			_ = c.Error(err)
			c.Abort()
			return
		}

		ctx := appctx.WithUser(c.Request.Context(), user)
		ctx = tenant.WithScope(ctx, scope)
		c.Request = c.Request.WithContext(ctx)

		// Store in gin context for easy access
		c.Set("user_id", user.UserID)

		c.Next()
	}
}

func resolveScope(user *appctx.UserContext, header string) (tenant.Scope, error) {
	actorID, err := id.ParseOptional(user.UserID)
	if err != nil {
		return tenant.Scope{}, apperror.NewUnauthorized("token carries an invalid user id")
	}

	target, err := id.ParseOptional(strings.TrimSpace(header))
	if err != nil {
		return tenant.Scope{}, apperror.NewValidation("invalid tenant id").
			WithDetail("header", TenantHeader).
			WithDetail("value", header)
	}

	if user.Privileged {
		return tenant.NewPrivilegedScope(target, actorID), nil
	}

	tokenTenant, err := id.ParseOptional(user.TenantID)
	if err != nil {
		return tenant.Scope{}, apperror.NewUnauthorized("token carries an invalid tenant id")
	}
	if tokenTenant == nil {
		// No tenant bound; the ledger rejects the call with MISSING_TENANT_CONTEXT.
		return tenant.Scope{ActorID: actorID}, nil
	}

	// Enforce tenant match: a regular caller cannot address another tenant.
	if target != nil && *target != *tokenTenant {
		return tenant.Scope{}, apperror.NewForbidden("tenant mismatch").
			WithDetail("header_tenant_id", target.String()).
			WithDetail("token_tenant_id", tokenTenant.String())
	}
	return tenant.NewScope(*tokenTenant, actorID), nil
}

func abortUnauthorized(c *gin.Context, message string) {
	_ = c.Error(apperror.NewUnauthorized(message))
	c.Abort()
}
