package middleware

import (
	"context"
	"encoding/json"
	"time"

	"github.com/gin-gonic/gin"

	"github.com/cosimio/cosim/internal/auth"
	"github.com/cosimio/cosim/internal/db"
	"github.com/cosimio/cosim/internal/models"
)

// requestAuditDetail is the structured payload recorded in an AuditEvent's
// Detail column for every mutating API call, adapted from the teacher's
// middleware/auditlog.go AuditEvent struct, trimmed to the fields worth
// keeping once request/response bodies are no longer logged wholesale.
type requestAuditDetail struct {
	Method     string `json:"method"`
	Path       string `json:"path"`
	StatusCode int    `json:"status_code"`
	DurationMS int64  `json:"duration_ms"`
	IPAddress  string `json:"ip_address"`
}

// AuditLog returns a gin middleware that records one AuditEvent per request
// against the Session named by the ":id" path parameter, for every
// non-GET request. Best-effort: logging failures never fail the request.
func AuditLog(store *db.AuditStore) gin.HandlerFunc {
	return func(c *gin.Context) {
		if c.Request.Method == "GET" {
			c.Next()
			return
		}

		start := time.Now()
		c.Next()

		sessionID := c.Param("id")
		if sessionID == "" {
			return
		}

		detail, err := json.Marshal(requestAuditDetail{
			Method:     c.Request.Method,
			Path:       c.Request.URL.Path,
			StatusCode: c.Writer.Status(),
			DurationMS: time.Since(start).Milliseconds(),
			IPAddress:  c.ClientIP(),
		})
		if err != nil {
			return
		}

		event := &models.AuditEvent{
			SessionID: sessionID,
			OrgID:     auth.OrgID(c),
			Type:      models.AuditSessionStateChange,
			Detail:    string(detail),
		}
		go func() {
			ctx, cancel := context.WithTimeout(context.Background(), 5*time.Second)
			defer cancel()
			_ = store.Record(ctx, event)
		}()
	}
}
