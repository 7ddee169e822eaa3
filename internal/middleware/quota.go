package middleware

import (
	"github.com/gin-gonic/gin"

	"github.com/cosimio/cosim/internal/auth"
	"github.com/cosimio/cosim/internal/models"
	"github.com/cosimio/cosim/internal/quota"
)

// QuotaMiddleware wraps a quota.Enforcer so session-creation handlers can
// reject over-quota requests before doing any allocation work, adapted from
// the teacher's middleware/quota.go.
type QuotaMiddleware struct {
	enforcer *quota.Enforcer
}

// NewQuotaMiddleware constructs a QuotaMiddleware over an Enforcer.
func NewQuotaMiddleware(e *quota.Enforcer) *QuotaMiddleware {
	return &QuotaMiddleware{enforcer: e}
}

// Middleware stashes the enforcer into the gin context for the handler to
// call EnforceSessionCreation itself (the
// check needs the request body's requested Resources, which isn't available
// until the handler has bound it).
func (q *QuotaMiddleware) Middleware() gin.HandlerFunc {
	return func(c *gin.Context) {
		c.Set("cosim_quota_enforcer", q.enforcer)
		c.Next()
	}
}

// EnforceSessionCreation runs the admission check for the authenticated
// org/tier and the handler's already-bound Resources request, writing the
// structured {error, reason, message} body of spec §7 and returning false if
// it fails so the caller can abort before any allocation work.
func EnforceSessionCreation(c *gin.Context, e *quota.Enforcer, res models.Resources) bool {
	if err := e.CheckAdmission(c.Request.Context(), auth.OrgID(c), auth.Tier(c), res); err != nil {
		status, body := quota.Envelope(err)
		c.AbortWithStatusJSON(status, body)
		return false
	}
	return true
}
