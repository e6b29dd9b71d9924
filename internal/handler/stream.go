package handler

import (
	"context"
	"net/http"
	"time"

	"github.com/gin-gonic/gin"
	"nhooyr.io/websocket"
	"nhooyr.io/websocket/wsjson"
)

type StreamConfig struct {
	Interval       time.Duration
	OriginPatterns []string
}

// @Summary Stream data sync status over a websocket
// @Description Sends the status document on connect and then on every interval until the client disconnects.
// @Tags sync
// @Router /api/sync/status/stream [get]
func (h *SyncHandler) statusStream(c *gin.Context) {
	if h.Sync == nil {
		Error(c, http.StatusServiceUnavailable, "sync disabled", nil)
		return
	}
	conn, err := websocket.Accept(c.Writer, c.Request, &websocket.AcceptOptions{
		OriginPatterns: h.Stream.OriginPatterns,
	})
	if err != nil {
		return
	}
	defer conn.CloseNow()

	interval := h.Stream.Interval
	if interval <= 0 {
		interval = 2 * time.Second
	}
	// reads only serve to notice the client going away
	ctx := conn.CloseRead(c.Request.Context())
	ticker := time.NewTicker(interval)
	defer ticker.Stop()
	for {
		if err := h.pushStatus(ctx, conn); err != nil {
			return
		}
		select {
		case <-ctx.Done():
			conn.Close(websocket.StatusNormalClosure, "")
			return
		case <-ticker.C:
		}
	}
}

func (h *SyncHandler) pushStatus(ctx context.Context, conn *websocket.Conn) error {
	st, err := h.Sync.GetDataSyncStatus(ctx)
	if err != nil {
		conn.Close(websocket.StatusInternalError, "status unavailable")
		return err
	}
	wctx, cancel := context.WithTimeout(ctx, 5*time.Second)
	defer cancel()
	return wsjson.Write(wctx, conn, st)
}
