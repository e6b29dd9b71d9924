package handler

import (
	"context"
	"net/http"
	"strings"

	"github.com/gin-gonic/gin"

	"crmsync/internal/models"
	"crmsync/internal/repository"
	"crmsync/internal/service"
)

type SyncService interface {
	QueueSync(ctx context.Context, sel service.Selection) (service.RunHandle, error)
	QueueModelSync(ctx context.Context, ref service.ModelRef) error
	GetDataSyncStatus(ctx context.Context) (service.DataSyncStatus, error)
	GetQueueCounts(ctx context.Context) (service.QueueCounts, error)
}

type RunService interface {
	List(ctx context.Context, params repository.ListRunsParams) ([]models.SyncAggregateRun, int64, error)
	Get(ctx context.Context, id string) (*models.SyncAggregateRun, error)
}

type PositionLister interface {
	ListCursors(ctx context.Context) ([]models.SyncCursor, error)
	ListWatermarks(ctx context.Context) ([]models.UpdateWatermark, error)
}

type SyncHandler struct {
	Sync      SyncService
	Runs      RunService
	Positions PositionLister
	Stream    StreamConfig
}

func (h *SyncHandler) Register(r *gin.Engine) {
	group := r.Group("/api/sync")
	group.POST("", h.queueSync)
	group.POST("/models/:type/:id", h.queueModelSync)
	group.GET("/status", h.status)
	group.GET("/status/stream", h.statusStream)
	group.GET("/queue-counts", h.queueCounts)
	group.GET("/runs", h.listRuns)
	group.GET("/runs/:id", h.getRun)
	group.GET("/positions", h.positions)
}

type queueSyncRequest struct {
	Strategies []string `json:"strategies"`
}

// @Summary Queue a data sync run
// @Description Starts an aggregate run, or returns the active one when a run is already in progress.
// @Tags sync
// @Accept json
// @Produce json
// @Param body body queueSyncRequest false "strategies to run (empty = all)"
// @Success 200 {object} service.RunHandle
// @Failure 400 {object} apiResponse
// @Router /api/sync [post]
func (h *SyncHandler) queueSync(c *gin.Context) {
	if h.Sync == nil {
		Error(c, http.StatusServiceUnavailable, "sync disabled", nil)
		return
	}
	var req queueSyncRequest
	if c.Request.ContentLength > 0 {
		if err := c.ShouldBindJSON(&req); err != nil {
			Error(c, http.StatusBadRequest, "invalid body", nil)
			return
		}
	}
	handle, err := h.Sync.QueueSync(c.Request.Context(), service.Selection{
		Strategies:  req.Strategies,
		TriggeredBy: service.TriggerManual,
	})
	if err != nil {
		fail(c, err)
		return
	}
	Ok(c, handle, nil)
}

// @Summary Queue a targeted push of one entity
// @Tags sync
// @Produce json
// @Param type path string true "entity type"
// @Param id path int true "local entity id"
// @Success 200 {object} map[string]any
// @Failure 404 {object} apiResponse
// @Router /api/sync/models/{type}/{id} [post]
func (h *SyncHandler) queueModelSync(c *gin.Context) {
	if h.Sync == nil {
		Error(c, http.StatusServiceUnavailable, "sync disabled", nil)
		return
	}
	entityType := strings.TrimSpace(c.Param("type"))
	id := parseUint64(c.Param("id"))
	if entityType == "" || id == 0 {
		Error(c, http.StatusBadRequest, "entity type and id required", nil)
		return
	}
	if err := h.Sync.QueueModelSync(c.Request.Context(), service.ModelRef{EntityType: entityType, ID: id}); err != nil {
		fail(c, err)
		return
	}
	Ok(c, map[string]any{"entity_type": entityType, "id": id, "queued": true}, nil)
}

// @Summary Current data sync status
// @Tags sync
// @Produce json
// @Success 200 {object} service.DataSyncStatus
// @Router /api/sync/status [get]
func (h *SyncHandler) status(c *gin.Context) {
	if h.Sync == nil {
		Error(c, http.StatusServiceUnavailable, "sync disabled", nil)
		return
	}
	st, err := h.Sync.GetDataSyncStatus(c.Request.Context())
	if err != nil {
		fail(c, err)
		return
	}
	Ok(c, st, nil)
}

// @Summary Pending entities and error counts
// @Tags sync
// @Produce json
// @Success 200 {object} service.QueueCounts
// @Router /api/sync/queue-counts [get]
func (h *SyncHandler) queueCounts(c *gin.Context) {
	if h.Sync == nil {
		Error(c, http.StatusServiceUnavailable, "sync disabled", nil)
		return
	}
	counts, err := h.Sync.GetQueueCounts(c.Request.Context())
	if err != nil {
		fail(c, err)
		return
	}
	Ok(c, counts, nil)
}

// @Summary List aggregate runs
// @Tags sync
// @Produce json
// @Param limit query int false "page size"
// @Param offset query int false "offset"
// @Param status query string false "running|completed|completed_with_errors|aborted"
// @Param triggered_by query string false "trigger"
// @Param order_by query string false "started_at|finished_at"
// @Param asc query bool false "ascending"
// @Success 200 {array} models.SyncAggregateRun
// @Router /api/sync/runs [get]
func (h *SyncHandler) listRuns(c *gin.Context) {
	if h.Runs == nil {
		Error(c, http.StatusInternalServerError, "runs unavailable", nil)
		return
	}
	limit := intQuery(c, "limit", 20)
	offset := intQuery(c, "offset", 0)
	items, total, err := h.Runs.List(c.Request.Context(), repository.ListRunsParams{
		Limit:       limit,
		Offset:      offset,
		Status:      strQueryPtr(c, "status"),
		TriggeredBy: strQueryPtr(c, "triggered_by"),
		OrderBy:     parseOrder(c.Query("order_by"), map[string]string{"started_at": "started_at", "finished_at": "finished_at"}),
		Asc:         boolQueryPtr(c, "asc"),
	})
	if err != nil {
		fail(c, err)
		return
	}
	OkPage(c, items, limit, offset, total)
}

type runView struct {
	*models.SyncAggregateRun
	Counts map[string]models.StrategyCounts `json:"counts"`
}

// @Summary Get one aggregate run
// @Tags sync
// @Produce json
// @Param id path string true "run id"
// @Success 200 {object} runView
// @Failure 404 {object} apiResponse
// @Router /api/sync/runs/{id} [get]
func (h *SyncHandler) getRun(c *gin.Context) {
	if h.Runs == nil {
		Error(c, http.StatusInternalServerError, "runs unavailable", nil)
		return
	}
	run, err := h.Runs.Get(c.Request.Context(), strings.TrimSpace(c.Param("id")))
	if err != nil {
		fail(c, err)
		return
	}
	Ok(c, runView{SyncAggregateRun: run, Counts: service.DecodeStats(run)}, nil)
}

// @Summary Pull cursors and push watermarks
// @Tags sync
// @Produce json
// @Success 200 {object} map[string]any
// @Router /api/sync/positions [get]
func (h *SyncHandler) positions(c *gin.Context) {
	if h.Positions == nil {
		Error(c, http.StatusInternalServerError, "positions unavailable", nil)
		return
	}
	cursors, err := h.Positions.ListCursors(c.Request.Context())
	if err != nil {
		fail(c, err)
		return
	}
	watermarks, err := h.Positions.ListWatermarks(c.Request.Context())
	if err != nil {
		fail(c, err)
		return
	}
	Ok(c, map[string]any{"cursors": cursors, "watermarks": watermarks}, nil)
}
