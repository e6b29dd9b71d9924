package handler

import (
	"context"
	"errors"
	"io"
	"net/http"

	"github.com/gin-gonic/gin"

	"crmsync/internal/models"
	"crmsync/internal/service"
	"crmsync/internal/webhook"
)

type Ingester interface {
	Ingest(ctx context.Context, d service.Delivery) (service.IngestResult, error)
}

// WebhookHandler is the CRM-facing receiver. It sits outside bearer auth;
// the HMAC signature authenticates the caller.
type WebhookHandler struct {
	Ingest       Ingester
	MaxBodyBytes int64
}

func (h *WebhookHandler) Register(r *gin.Engine) {
	r.POST("/webhooks/crm/:subscription_id", h.receive)
}

// @Summary Receive a CRM webhook delivery
// @Tags webhooks
// @Accept json
// @Param subscription_id path int true "subscription id"
// @Param X-Signature header string true "sha256=<hex> HMAC of the body"
// @Param X-Delivery-Id header string false "delivery id"
// @Success 204
// @Failure 400 {object} apiResponse
// @Failure 401 {object} apiResponse
// @Failure 404 {object} apiResponse
// @Failure 413 {object} apiResponse
// @Router /webhooks/crm/{subscription_id} [post]
func (h *WebhookHandler) receive(c *gin.Context) {
	id := parseUint64(c.Param("subscription_id"))
	if id == 0 {
		Error(c, http.StatusNotFound, "unknown subscription", nil)
		return
	}
	limit := h.MaxBodyBytes
	if limit <= 0 {
		limit = 1 << 20
	}
	body, err := io.ReadAll(http.MaxBytesReader(c.Writer, c.Request.Body, limit))
	if err != nil {
		var tooLarge *http.MaxBytesError
		if errors.As(err, &tooLarge) {
			Error(c, http.StatusRequestEntityTooLarge, "payload too large", nil)
			return
		}
		Error(c, http.StatusBadRequest, "read body failed", nil)
		return
	}
	_, err = h.Ingest.Ingest(c.Request.Context(), service.Delivery{
		SubscriptionID: id,
		Body:           body,
		Signature:      c.GetHeader(webhook.SignatureHeader),
		DeliveryID:     c.GetHeader(webhook.DeliveryHeader),
	})
	switch {
	case err == nil:
		c.Status(http.StatusNoContent)
	case errors.Is(err, service.ErrNotFound):
		Error(c, http.StatusNotFound, "unknown subscription", nil)
	case errors.Is(err, webhook.ErrRejected):
		Error(c, http.StatusUnauthorized, "signature mismatch", nil)
	case errors.Is(err, webhook.ErrInvalidPayload):
		Error(c, http.StatusBadRequest, "invalid payload", nil)
	default:
		Error(c, http.StatusInternalServerError, "ingest failed", nil)
	}
}

type SubscriptionService interface {
	List(ctx context.Context) ([]models.WebhookSubscription, error)
	Register(ctx context.Context, in service.RegisterInput) (*models.WebhookSubscription, error)
	Rotate(ctx context.Context, id uint64) (*models.WebhookSubscription, error)
}

type SubscriptionHandler struct {
	Subscriptions SubscriptionService
}

func (h *SubscriptionHandler) Register(r *gin.Engine) {
	group := r.Group("/api/webhooks/subscriptions")
	group.GET("", h.list)
	group.POST("", h.create)
	group.POST("/:id/rotate", h.rotate)
}

// @Summary List webhook subscriptions
// @Tags webhooks
// @Produce json
// @Success 200 {array} models.WebhookSubscription
// @Router /api/webhooks/subscriptions [get]
func (h *SubscriptionHandler) list(c *gin.Context) {
	items, err := h.Subscriptions.List(c.Request.Context())
	if err != nil {
		fail(c, err)
		return
	}
	Ok(c, items, map[string]any{"total": len(items)})
}

// @Summary Register a webhook subscription with the CRM
// @Tags webhooks
// @Accept json
// @Produce json
// @Param body body service.RegisterInput false "events (empty = configured defaults)"
// @Success 200 {object} models.WebhookSubscription
// @Failure 400 {object} apiResponse
// @Failure 502 {object} apiResponse
// @Router /api/webhooks/subscriptions [post]
func (h *SubscriptionHandler) create(c *gin.Context) {
	var req service.RegisterInput
	if c.Request.ContentLength > 0 {
		if err := c.ShouldBindJSON(&req); err != nil {
			Error(c, http.StatusBadRequest, "invalid body", nil)
			return
		}
	}
	item, err := h.Subscriptions.Register(c.Request.Context(), req)
	if err != nil {
		fail(c, err)
		return
	}
	Ok(c, item, nil)
}

// @Summary Rotate a subscription's signing secret
// @Tags webhooks
// @Produce json
// @Param id path int true "subscription id"
// @Success 200 {object} models.WebhookSubscription
// @Failure 404 {object} apiResponse
// @Router /api/webhooks/subscriptions/{id}/rotate [post]
func (h *SubscriptionHandler) rotate(c *gin.Context) {
	id := parseUint64(c.Param("id"))
	if id == 0 {
		Error(c, http.StatusBadRequest, "invalid id", nil)
		return
	}
	item, err := h.Subscriptions.Rotate(c.Request.Context(), id)
	if err != nil {
		fail(c, err)
		return
	}
	Ok(c, item, nil)
}
