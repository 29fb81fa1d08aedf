package debugapi

import (
	"log"
	"time"

	"github.com/gin-gonic/gin"
)

// hostLogger logs every request against this node's debug surface,
// prefixed with the node's own host as "[host] ...", so an operator
// tailing several nodes' logs side by side can tell them apart.
func hostLogger(selfHost string) gin.HandlerFunc {
	return func(c *gin.Context) {
		start := time.Now()
		c.Next()
		log.Printf("[%s] debugapi: %s %s | %d | %s",
			selfHost,
			c.Request.Method,
			c.Request.URL.Path,
			c.Writer.Status(),
			time.Since(start),
		)
	}
}

// hostRecovery recovers a panic in a debug-endpoint handler and replies
// with a plain-text 500. This surface is read-only introspection, not
// the client-facing KV API, so it carries none of that API's JSON
// error-body contract.
func hostRecovery(selfHost string) gin.HandlerFunc {
	return func(c *gin.Context) {
		defer func() {
			if err := recover(); err != nil {
				log.Printf("[%s] debugapi: panic recovered: %v", selfHost, err)
				c.String(500, "internal error")
				c.Abort()
			}
		}()
		c.Next()
	}
}
