package api

import (
	"crypto/subtle"
	"net/http"
	"strings"
	"time"

	"topup-fulfillment/pkg/utils"

	"github.com/gin-gonic/gin"
	"go.uber.org/zap"
)

const (
	InternalTokenHeader = "X-Internal-Token"
	CorrelationIDHeader = "X-Correlation-ID"

	correlationKey = "correlation_id"
)

// RequestLogger emits one structured line per request.
func RequestLogger(logger *zap.Logger) gin.HandlerFunc {
	return func(c *gin.Context) {
		start := time.Now()
		path := c.Request.URL.Path
		method := c.Request.Method

		c.Next()

		status := c.Writer.Status()
		fields := []zap.Field{
			zap.String("method", method),
			zap.String("path", path),
			zap.Int("status", status),
			zap.Duration("latency", time.Since(start)),
			zap.String("client_ip", c.ClientIP()),
		}
		if cid := c.GetString(correlationKey); cid != "" {
			fields = append(fields, zap.String("correlation_id", cid))
		}

		switch {
		case status >= 500:
			logger.Error("http_request", fields...)
		case status >= 400:
			logger.Warn("http_request", fields...)
		default:
			logger.Info("http_request", fields...)
		}
	}
}

// Correlation carries the caller's correlation id into the request context,
// generating one when the header is absent.
func Correlation() gin.HandlerFunc {
	return func(c *gin.Context) {
		cid := c.GetHeader(CorrelationIDHeader)
		if cid == "" {
			cid = utils.GenerateCorrelationID()
		}
		c.Set(correlationKey, cid)
		c.Request = c.Request.WithContext(utils.WithCorrelationID(c.Request.Context(), cid))
		c.Header(CorrelationIDHeader, cid)
		c.Next()
	}
}

// InternalAuth checks X-Internal-Token.
func InternalAuth(token string) gin.HandlerFunc {
	return func(c *gin.Context) {
		if !tokenMatches(token, c.GetHeader(InternalTokenHeader)) {
			c.AbortWithStatusJSON(http.StatusUnauthorized, gin.H{"error": "unauthorized"})
			return
		}
		c.Next()
	}
}

// AdminAuth checks a bearer token.
func AdminAuth(token string) gin.HandlerFunc {
	return func(c *gin.Context) {
		got, ok := strings.CutPrefix(c.GetHeader("Authorization"), "Bearer ")
		if !ok || !tokenMatches(token, got) {
			c.AbortWithStatusJSON(http.StatusUnauthorized, gin.H{"error": "unauthorized"})
			return
		}
		c.Next()
	}
}

func tokenMatches(want, got string) bool {
	if want == "" || got == "" {
		return false
	}
	return subtle.ConstantTimeCompare([]byte(want), []byte(got)) == 1
}
