package handler

import (
	"context"
	"net/http"
	"time"

	"github.com/gin-gonic/gin"
	"gorm.io/gorm"
)

// Pinger is an optional dependency checked by /readyz, such as Redis.
type Pinger interface {
	Ping(ctx context.Context) error
}

type HealthHandler struct {
	DB    *gorm.DB
	Deps  map[string]Pinger
	Check time.Duration
}

func (h *HealthHandler) Register(r *gin.Engine) {
	r.GET("/healthz", h.health)
	r.GET("/readyz", h.ready)
}

// @Summary Health check
// @Tags health
// @Success 200 {object} map[string]string
// @Router /healthz [get]
func (h *HealthHandler) health(c *gin.Context) {
	c.JSON(http.StatusOK, gin.H{"status": "ok"})
}

// @Summary Readiness check
// @Tags health
// @Success 200 {object} map[string]string
// @Failure 503 {object} map[string]string
// @Router /readyz [get]
func (h *HealthHandler) ready(c *gin.Context) {
	timeout := h.Check
	if timeout <= 0 {
		timeout = 2 * time.Second
	}
	ctx, cancel := context.WithTimeout(c.Request.Context(), timeout)
	defer cancel()

	if h.DB == nil {
		c.JSON(http.StatusServiceUnavailable, gin.H{"status": "db_missing"})
		return
	}
	sqlDB, err := h.DB.DB()
	if err != nil {
		c.JSON(http.StatusServiceUnavailable, gin.H{"status": "db_error"})
		return
	}
	if err := sqlDB.PingContext(ctx); err != nil {
		c.JSON(http.StatusServiceUnavailable, gin.H{"status": "db_unreachable"})
		return
	}
	for name, dep := range h.Deps {
		if dep == nil {
			continue
		}
		if err := dep.Ping(ctx); err != nil {
			c.JSON(http.StatusServiceUnavailable, gin.H{"status": name + "_unreachable"})
			return
		}
	}
	c.JSON(http.StatusOK, gin.H{"status": "ready"})
}
