package handler

import (
	"context"
	"net/http"
	"strings"

	"github.com/gin-gonic/gin"

	"crmsync/internal/models"
	"crmsync/internal/repository"
)

type SyncErrorService interface {
	Get(ctx context.Context, id uint64) (*models.SyncError, error)
	List(ctx context.Context, params repository.ListSyncErrorsParams) ([]models.SyncError, int64, error)
	Archive(ctx context.Context, id uint64) (*models.SyncError, error)
	ArchiveMany(ctx context.Context, ids []uint64) (int64, error)
	ArchiveAll(ctx context.Context, filter repository.SyncErrorFilter) (int64, error)
	Restore(ctx context.Context, id uint64) (*models.SyncError, error)
	RestoreMany(ctx context.Context, ids []uint64) (int64, error)
	RestoreAll(ctx context.Context, filter repository.SyncErrorFilter) (int64, error)
}

type SyncErrorHandler struct {
	Errors SyncErrorService
}

func (h *SyncErrorHandler) Register(r *gin.Engine) {
	group := r.Group("/api/sync/errors")
	group.GET("", h.list)
	group.GET("/:id", h.get)
	group.POST("/:id/archive", h.archiveOne)
	group.POST("/:id/restore", h.restoreOne)
	group.POST("/archive", h.archiveMany)
	group.POST("/restore", h.restoreMany)
	group.POST("/archive-all", h.archiveAll)
	group.POST("/restore-all", h.restoreAll)
}

// @Summary List sync errors
// @Tags errors
// @Produce json
// @Param state query string false "active|archived|resolved|all (default active)"
// @Param entity_type query string false "entity type"
// @Param strategy query string false "strategy name"
// @Param direction query string false "pull|push"
// @Param limit query int false "page size"
// @Param offset query int false "offset"
// @Param order_by query string false "last_seen_at|first_seen_at|occurrences"
// @Param asc query bool false "ascending"
// @Success 200 {array} models.SyncError
// @Router /api/sync/errors [get]
func (h *SyncErrorHandler) list(c *gin.Context) {
	if h.Errors == nil {
		Error(c, http.StatusInternalServerError, "errors unavailable", nil)
		return
	}
	limit := intQuery(c, "limit", 50)
	offset := intQuery(c, "offset", 0)
	items, total, err := h.Errors.List(c.Request.Context(), repository.ListSyncErrorsParams{
		Limit:           limit,
		Offset:          offset,
		State:           strings.ToLower(strings.TrimSpace(c.Query("state"))),
		SyncErrorFilter: filterFromQuery(c),
		OrderBy: parseOrder(c.Query("order_by"), map[string]string{
			"last_seen_at":  "last_seen_at",
			"first_seen_at": "first_seen_at",
			"occurrences":   "occurrences",
		}),
		Asc: boolQueryPtr(c, "asc"),
	})
	if err != nil {
		fail(c, err)
		return
	}
	OkPage(c, items, limit, offset, total)
}

func filterFromQuery(c *gin.Context) repository.SyncErrorFilter {
	return repository.SyncErrorFilter{
		EntityType:   strQueryPtr(c, "entity_type"),
		StrategyName: strQueryPtr(c, "strategy"),
		Direction:    strQueryPtr(c, "direction"),
	}
}

// @Summary Get one sync error
// @Tags errors
// @Produce json
// @Param id path int true "sync error id"
// @Success 200 {object} models.SyncError
// @Failure 404 {object} apiResponse
// @Router /api/sync/errors/{id} [get]
func (h *SyncErrorHandler) get(c *gin.Context) {
	id := parseUint64(c.Param("id"))
	if id == 0 {
		Error(c, http.StatusBadRequest, "invalid id", nil)
		return
	}
	item, err := h.Errors.Get(c.Request.Context(), id)
	if err != nil {
		fail(c, err)
		return
	}
	Ok(c, item, nil)
}

// @Summary Archive one sync error
// @Tags errors
// @Param id path int true "sync error id"
// @Success 200 {object} models.SyncError
// @Router /api/sync/errors/{id}/archive [post]
func (h *SyncErrorHandler) archiveOne(c *gin.Context) {
	h.one(c, h.Errors.Archive)
}

// @Summary Restore one archived sync error
// @Tags errors
// @Param id path int true "sync error id"
// @Success 200 {object} models.SyncError
// @Router /api/sync/errors/{id}/restore [post]
func (h *SyncErrorHandler) restoreOne(c *gin.Context) {
	h.one(c, h.Errors.Restore)
}

func (h *SyncErrorHandler) one(c *gin.Context, fn func(context.Context, uint64) (*models.SyncError, error)) {
	id := parseUint64(c.Param("id"))
	if id == 0 {
		Error(c, http.StatusBadRequest, "invalid id", nil)
		return
	}
	item, err := fn(c.Request.Context(), id)
	if err != nil {
		fail(c, err)
		return
	}
	Ok(c, item, nil)
}

type idsRequest struct {
	IDs []uint64 `json:"ids"`
}

// @Summary Archive sync errors by id
// @Tags errors
// @Accept json
// @Param body body idsRequest true "ids"
// @Success 200 {object} map[string]int64
// @Router /api/sync/errors/archive [post]
func (h *SyncErrorHandler) archiveMany(c *gin.Context) {
	h.many(c, h.Errors.ArchiveMany)
}

// @Summary Restore sync errors by id
// @Tags errors
// @Accept json
// @Param body body idsRequest true "ids"
// @Success 200 {object} map[string]int64
// @Router /api/sync/errors/restore [post]
func (h *SyncErrorHandler) restoreMany(c *gin.Context) {
	h.many(c, h.Errors.RestoreMany)
}

func (h *SyncErrorHandler) many(c *gin.Context, fn func(context.Context, []uint64) (int64, error)) {
	var req idsRequest
	if err := c.ShouldBindJSON(&req); err != nil {
		Error(c, http.StatusBadRequest, "invalid body", nil)
		return
	}
	n, err := fn(c.Request.Context(), req.IDs)
	if err != nil {
		fail(c, err)
		return
	}
	OkAffected(c, n)
}

type filterRequest struct {
	EntityType *string `json:"entity_type"`
	Strategy   *string `json:"strategy"`
	Direction  *string `json:"direction"`
}

// @Summary Archive every active sync error matching the filter
// @Tags errors
// @Accept json
// @Param body body filterRequest false "filter"
// @Success 200 {object} map[string]int64
// @Router /api/sync/errors/archive-all [post]
func (h *SyncErrorHandler) archiveAll(c *gin.Context) {
	h.all(c, h.Errors.ArchiveAll)
}

// @Summary Restore every archived sync error matching the filter
// @Tags errors
// @Accept json
// @Param body body filterRequest false "filter"
// @Success 200 {object} map[string]int64
// @Router /api/sync/errors/restore-all [post]
func (h *SyncErrorHandler) restoreAll(c *gin.Context) {
	h.all(c, h.Errors.RestoreAll)
}

func (h *SyncErrorHandler) all(c *gin.Context, fn func(context.Context, repository.SyncErrorFilter) (int64, error)) {
	var req filterRequest
	if c.Request.ContentLength > 0 {
		if err := c.ShouldBindJSON(&req); err != nil {
			Error(c, http.StatusBadRequest, "invalid body", nil)
			return
		}
	}
	n, err := fn(c.Request.Context(), repository.SyncErrorFilter{
		EntityType:   req.EntityType,
		StrategyName: req.Strategy,
		Direction:    req.Direction,
	})
	if err != nil {
		fail(c, err)
		return
	}
	OkAffected(c, n)
}
