package auth

import (
	"net/http"
	"strings"

	"github.com/gin-gonic/gin"
)

const (
	contextKeyUserID = "cosim_user_id"
	contextKeyOrgID  = "cosim_org_id"
	contextKeyTier   = "cosim_tier"
)

// Middleware returns a gin handler that rejects requests without a valid
// "Authorization: Bearer <token>" header and stashes the resolved claims in
// the request context for downstream handlers.
func Middleware(v *Verifier) gin.HandlerFunc {
	return func(c *gin.Context) {
		header := c.GetHeader("Authorization")
		if !strings.HasPrefix(header, "Bearer ") {
			c.AbortWithStatusJSON(http.StatusUnauthorized, gin.H{"error": "missing bearer token"})
			return
		}

		claims, err := v.Verify(strings.TrimPrefix(header, "Bearer "))
		if err != nil {
			c.AbortWithStatusJSON(http.StatusUnauthorized, gin.H{"error": "invalid token"})
			return
		}

		c.Set(contextKeyUserID, claims.Subject)
		c.Set(contextKeyOrgID, claims.OrgID)
		c.Set(contextKeyTier, claims.Tier)
		c.Next()
	}
}

// UserID returns the authenticated user ID from a gin context.
func UserID(c *gin.Context) string { return c.GetString(contextKeyUserID) }

// OrgID returns the authenticated org ID from a gin context.
func OrgID(c *gin.Context) string { return c.GetString(contextKeyOrgID) }

// Tier returns the authenticated org's tier from a gin context.
func Tier(c *gin.Context) string { return c.GetString(contextKeyTier) }
