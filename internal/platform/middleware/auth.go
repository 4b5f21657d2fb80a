package middleware

import (
	"net/http"
	"strings"

	"github.com/gin-gonic/gin"
	"github.com/google/uuid"

	"github.com/kaajbazar/service-booking/internal/platform/auth"
)

const (
	ctxUserID = "auth.user_id"
	ctxRoles  = "auth.roles"
)

// AuthMiddleware validates the bearer token and stores the user ID and roles on the context.
func AuthMiddleware(jwtManager *auth.JWTManager) gin.HandlerFunc {
	return func(c *gin.Context) {
		header := c.GetHeader("Authorization")
		token, found := strings.CutPrefix(header, "Bearer ")
		if !found || strings.TrimSpace(token) == "" {
			c.AbortWithStatusJSON(http.StatusUnauthorized, gin.H{"success": false, "error": "missing bearer token"})
			return
		}

		claims, err := jwtManager.ValidateToken(strings.TrimSpace(token))
		if err != nil {
			c.AbortWithStatusJSON(http.StatusUnauthorized, gin.H{"success": false, "error": "invalid token"})
			return
		}

		c.Set(ctxUserID, claims.UserID)
		c.Set(ctxRoles, claims.Roles)
		c.Next()
	}
}

// RequireRole aborts with 403 unless the caller holds at least one of roles.
func RequireRole(roles ...auth.Role) gin.HandlerFunc {
	return func(c *gin.Context) {
		held, _ := GetUserRoles(c)
		for _, want := range roles {
			for _, have := range held {
				if want == have {
					c.Next()
					return
				}
			}
		}
		c.AbortWithStatusJSON(http.StatusForbidden, gin.H{"success": false, "error": "insufficient role"})
	}
}

// GetUserID returns the authenticated user ID.
func GetUserID(c *gin.Context) (uuid.UUID, bool) {
	v, ok := c.Get(ctxUserID)
	if !ok {
		return uuid.Nil, false
	}
	id, ok := v.(uuid.UUID)
	return id, ok
}

// GetUserRoles returns the authenticated user's roles.
func GetUserRoles(c *gin.Context) ([]auth.Role, bool) {
	v, ok := c.Get(ctxRoles)
	if !ok {
		return nil, false
	}
	roles, ok := v.([]auth.Role)
	return roles, ok
}
