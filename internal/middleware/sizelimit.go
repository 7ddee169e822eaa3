package middleware

import (
	"net/http"

	"github.com/gin-gonic/gin"
)

// Size caps for inbound request bodies, matching the teacher's
// middleware/sizelimit.go constants.
const (
	MaxRequestBodySize = 1 << 20   // 1 MiB: generic API requests
	MaxJSONPayloadSize = 256 << 10 // 256 KiB: control-command payloads
	MaxControlDocSize  = 64 << 10  // 64 KiB: per control-command envelope
)

// RequestSizeLimiter caps the request body at maxSize bytes.
func RequestSizeLimiter(maxSize int64) gin.HandlerFunc {
	return func(c *gin.Context) {
		c.Request.Body = http.MaxBytesReader(c.Writer, c.Request.Body, maxSize)
		c.Next()
	}
}

// JSONSizeLimiter caps request bodies at MaxJSONPayloadSize, for endpoints
// accepting Session or ControlCommand JSON bodies.
func JSONSizeLimiter() gin.HandlerFunc {
	return RequestSizeLimiter(MaxJSONPayloadSize)
}

// DefaultSizeLimiter caps request bodies at MaxRequestBodySize.
func DefaultSizeLimiter() gin.HandlerFunc {
	return RequestSizeLimiter(MaxRequestBodySize)
}
