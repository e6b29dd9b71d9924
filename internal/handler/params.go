package handler

import (
	"errors"
	"net/http"
	"strconv"
	"strings"

	"github.com/gin-gonic/gin"

	"crmsync/internal/service"
	"crmsync/internal/strategy"
	"crmsync/internal/webhook"
	"crmsync/internal/worker"
)

func intQuery(c *gin.Context, key string, def int) int {
	if val := c.Query(key); val != "" {
		if i, err := strconv.Atoi(val); err == nil {
			return i
		}
	}
	return def
}

func strQueryPtr(c *gin.Context, key string) *string {
	if val := strings.TrimSpace(c.Query(key)); val != "" {
		return &val
	}
	return nil
}

func boolQueryPtr(c *gin.Context, key string) *bool {
	if val := c.Query(key); val != "" {
		if b, err := strconv.ParseBool(val); err == nil {
			return &b
		}
	}
	return nil
}

func parseOrder(value string, allow map[string]string) string {
	key := strings.TrimSpace(strings.ToLower(value))
	if key == "" {
		return ""
	}
	return allow[key]
}

func parseUint64(v string) uint64 {
	out, err := strconv.ParseUint(strings.TrimSpace(v), 10, 64)
	if err != nil {
		return 0
	}
	return out
}

// statusFor maps service errors onto HTTP statuses.
func statusFor(err error) int {
	switch {
	case errors.Is(err, service.ErrNotFound), errors.Is(err, strategy.ErrNotFound):
		return http.StatusNotFound
	case errors.Is(err, service.ErrInvalidInput),
		errors.Is(err, service.ErrNoStrategies),
		errors.Is(err, strategy.ErrUnknownStrategy),
		errors.Is(err, webhook.ErrInvalidPayload):
		return http.StatusBadRequest
	case errors.Is(err, webhook.ErrRejected):
		return http.StatusUnauthorized
	case errors.Is(err, worker.ErrQueueFull), errors.Is(err, worker.ErrStopped):
		return http.StatusServiceUnavailable
	default:
		return http.StatusBadGateway
	}
}
