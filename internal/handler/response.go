package handler

import (
	"net/http"

	"github.com/gin-gonic/gin"
)

// apiResponse is the envelope every control-surface route answers with.
// Code is 0 on success and the HTTP status otherwise.
type apiResponse struct {
	Code    int            `json:"code"`
	Message string         `json:"message"`
	Data    any            `json:"data,omitempty"`
	Meta    map[string]any `json:"meta,omitempty"`
}

type affectedResponse struct {
	Affected int64 `json:"affected"`
}

func Ok(c *gin.Context, data any, meta map[string]any) {
	c.JSON(http.StatusOK, apiResponse{Code: 0, Message: "ok", Data: data, Meta: meta})
}

// OkPage answers a list route; meta carries limit, offset, total and has_next.
func OkPage(c *gin.Context, items any, limit, offset int, total int64) {
	if limit < 0 {
		limit = 0
	}
	if offset < 0 {
		offset = 0
	}
	Ok(c, items, map[string]any{
		"limit":    limit,
		"offset":   offset,
		"total":    total,
		"has_next": int64(offset+limit) < total,
	})
}

// OkAffected answers the bulk archive and restore routes.
func OkAffected(c *gin.Context, n int64) {
	Ok(c, affectedResponse{Affected: n}, nil)
}

func Error(c *gin.Context, status int, message string, meta map[string]any) {
	c.JSON(status, apiResponse{Code: status, Message: message, Meta: meta})
}

func fail(c *gin.Context, err error) {
	Error(c, statusFor(err), err.Error(), nil)
}
