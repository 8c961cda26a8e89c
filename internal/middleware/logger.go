package middleware

import (
	"log"
	"strings"
	"time"

	"github.com/gin-gonic/gin"
	"github.com/google/uuid"
)

// Context keys set by this package.
const (
	requestIDKey = "request_id"
	uploadIDKey  = "upload_id"
)

// RequestID injects an X-Request-ID header into the request and response. The
// id travels with enqueued uploads as their correlation id.
func RequestID() gin.HandlerFunc {
	return func(c *gin.Context) {
		requestID := c.GetHeader("X-Request-ID")
		if requestID == "" {
			requestID = uuid.New().String()
		}
		c.Set(requestIDKey, requestID)
		c.Header("X-Request-ID", requestID)
		c.Next()
	}
}

// RequestIDFrom returns the id set by RequestID, or "".
func RequestIDFrom(c *gin.Context) string {
	return c.GetString(requestIDKey)
}

// SetUploadID records the upload request a handler acted on so the access log
// line can be joined with queue and dispatch logs.
func SetUploadID(c *gin.Context, id string) {
	c.Set(uploadIDKey, id)
}

// Logger logs each HTTP request with method, path, status, latency and the
// upload it touched. Health and metrics endpoints are not logged.
func Logger(skipPaths ...string) gin.HandlerFunc {
	skip := make(map[string]bool, len(skipPaths))
	for _, p := range skipPaths {
		skip[p] = true
	}
	return func(c *gin.Context) {
		start := time.Now()
		c.Next()
		if skip[c.Request.URL.Path] {
			return
		}
		latency := time.Since(start)

		var b strings.Builder
		b.WriteString(c.Request.Method)
		b.WriteString(" ")
		b.WriteString(c.Request.URL.Path)
		if upload := c.GetString(uploadIDKey); upload != "" {
			b.WriteString(" upload=")
			b.WriteString(upload)
		}
		log.Printf("[%s] %s %d %s", RequestIDFrom(c), b.String(), c.Writer.Status(), latency)
	}
}

// Recovery recovers from panics and returns a 500 error.
func Recovery() gin.HandlerFunc {
	return gin.Recovery()
}
