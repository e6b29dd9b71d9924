package paas

import (
	"net/http"
	"strings"
	"time"

	"github.com/gin-gonic/gin"
	"go.uber.org/zap"
)

// WriteAuditMiddleware records every mutating control-surface request.
func WriteAuditMiddleware(p *Client, logger *zap.Logger) gin.HandlerFunc {
	if p == nil {
		return func(c *gin.Context) { c.Next() }
	}
	return func(c *gin.Context) {
		start := time.Now()
		c.Next()

		path := c.Request.URL.Path
		method := strings.ToUpper(c.Request.Method)
		if !strings.HasPrefix(path, "/api/") {
			return
		}
		if method == http.MethodGet || method == http.MethodHead || method == http.MethodOptions {
			return
		}
		status := c.Writer.Status()
		details := map[string]any{
			"method":   method,
			"path":     path,
			"route":    c.FullPath(),
			"status":   status,
			"duration": time.Since(start).String(),
		}
		if sub, ok := c.Get("auth.subject"); ok {
			details["subject"] = sub
		}
		go func() {
			entry := Entry{Action: "crmsync_http_write", Level: levelFromStatus(status), Details: details}
			if err := p.LogBestEffort(entry); err != nil && logger != nil {
				logger.Debug("paas audit log failed", zap.Error(err))
			}
		}()
	}
}

func levelFromStatus(status int) string {
	if status >= 500 {
		return LevelError
	}
	if status >= 400 {
		return LevelWarn
	}
	return LevelInfo
}
