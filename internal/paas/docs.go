package paas

import (
	"net/http"

	"github.com/gin-gonic/gin"
)

func RegisterDocs(r *gin.Engine) {
	r.GET("/docs", func(c *gin.Context) {
		c.Header("Content-Type", "text/markdown; charset=utf-8")
		c.String(http.StatusOK, `# CRM Sync Service

Keeps the local accounts, contacts, opportunities, tasks and custom fields in
step with the CRM, and ingests CRM webhooks.

## Auth

All /api/* routes require a Bearer JWT (HS256).
Health endpoints and the CRM webhook receiver are public; webhooks are
authenticated by their HMAC signature.

## Routes

- GET /healthz
- GET /readyz
- GET /swagger/index.html
- POST /api/sync
- POST /api/sync/models/:type/:id
- GET /api/sync/status
- GET /api/sync/status/stream
- GET /api/sync/queue-counts
- GET /api/sync/runs
- GET /api/sync/runs/:id
- GET /api/sync/positions
- GET /api/sync/errors
- GET /api/sync/errors/:id
- POST /api/sync/errors/:id/archive
- POST /api/sync/errors/:id/restore
- POST /api/sync/errors/archive
- POST /api/sync/errors/restore
- POST /api/sync/errors/archive-all
- POST /api/sync/errors/restore-all
- GET /api/webhooks/subscriptions
- POST /api/webhooks/subscriptions
- POST /api/webhooks/subscriptions/:id/rotate
- POST /webhooks/crm/:subscription_id
`)
	})
}
