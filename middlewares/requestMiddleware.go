package middlewares

import (
	"net/http"

	"github.com/gin-gonic/gin"
	"github.com/google/uuid"
	"github.com/mmdatafocus/purchase_ledger/config"
	"github.com/mmdatafocus/purchase_ledger/utils"
)

const (
	CorrelationIdHeader  = "x-correlation-id"
	IdempotencyKeyHeader = "Idempotency-Key"
)

// CorrelationMiddleware generates a correlation id once per request and
// echoes it back in the response.
func CorrelationMiddleware() gin.HandlerFunc {
	return func(c *gin.Context) {
		cid := c.GetHeader(CorrelationIdHeader)
		if cid == "" {
			cid = uuid.NewString()
		}
		c.Header(CorrelationIdHeader, cid)
		c.Request = c.Request.WithContext(utils.SetCorrelationIdInContext(c.Request.Context(), cid))
		c.Next()
	}
}

func IdempotencyMiddleware() gin.HandlerFunc {
	return func(c *gin.Context) {
		if key := c.GetHeader(IdempotencyKeyHeader); key != "" {
			if len(key) > 255 {
				c.AbortWithStatusJSON(http.StatusBadRequest, gin.H{"error": "Idempotency-Key is too long"})
				return
			}
			c.Request = c.Request.WithContext(utils.SetIdempotencyKeyInContext(c.Request.Context(), key))
		}
		c.Next()
	}
}

// ReadinessMiddleware returns 503 until the database is connected.
// /healthz always answers so the platform probe passes during startup.
func ReadinessMiddleware() gin.HandlerFunc {
	return func(c *gin.Context) {
		if c.Request.URL.Path == "/healthz" {
			c.Status(http.StatusNoContent)
			c.Abort()
			return
		}
		if config.GetDB() == nil {
			c.AbortWithStatus(http.StatusServiceUnavailable)
			return
		}
		c.Next()
	}
}
