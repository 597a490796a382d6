package middleware

import (
	"net/http"
	"strings"

	"github.com/gin-gonic/gin"

	"coalition/builder/internal/auth"
)

const (
	// ContextKeyReviewer holds the authenticated staff identity in Gin context.
	ContextKeyReviewer = "reviewer"
)

// StaffAuthMiddleware gates moderation and export routes behind a valid staff
// JWT. Credential issuance lives in the separate staff auth system.
func StaffAuthMiddleware(jwtSecret string) gin.HandlerFunc {
	return func(c *gin.Context) {
		authHeader := c.GetHeader("Authorization")
		if authHeader == "" {
			c.AbortWithStatusJSON(http.StatusUnauthorized, gin.H{"error": "Authorization header required"})
			return
		}

		parts := strings.Split(authHeader, " ")
		if len(parts) != 2 || strings.ToLower(parts[0]) != "bearer" {
			c.AbortWithStatusJSON(http.StatusUnauthorized, gin.H{"error": "Authorization header format must be Bearer {token}"})
			return
		}

		claims, err := auth.ValidateStaffToken(parts[1], jwtSecret)
		if err != nil {
			c.AbortWithStatusJSON(http.StatusUnauthorized, gin.H{"error": "Invalid or expired token"})
			return
		}
		if !claims.IsStaff {
			c.AbortWithStatusJSON(http.StatusForbidden, gin.H{"error": "Staff privileges required"})
			return
		}

		c.Set(ContextKeyReviewer, claims.Reviewer)
		c.Next()
	}
}
