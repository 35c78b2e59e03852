package readings

import (
	"net/http"
	"time"

	"github.com/gin-gonic/gin"

	"github.com/mbd888/assetwatch/internal/pagination"
	"github.com/mbd888/assetwatch/internal/validation"
)

const (
	defaultListLimit = 20
	maxListLimit     = 500
)

// Handler serves the reading log over HTTP.
type Handler struct {
	store Store
}

func NewHandler(store Store) *Handler {
	return &Handler{store: store}
}

// RegisterRoutes sets up public (read-only) reading routes.
func (h *Handler) RegisterRoutes(r *gin.RouterGroup) {
	r.GET("/assets/:id/readings", h.ListReadings)
}

// ListReadings handles GET /v1/assets/:id/readings?limit=&cursor=
func (h *Handler) ListReadings(c *gin.Context) {
	assetID, ok := validation.AssetID(c)
	if !ok {
		return
	}
	limit, err := pagination.Limit(c.Query("limit"), defaultListLimit, maxListLimit)
	if err != nil {
		c.JSON(http.StatusBadRequest, gin.H{
			"error":   "invalid_limit",
			"message": err.Error(),
		})
		return
	}
	cursor, err := pagination.Decode(c.Query("cursor"))
	if err != nil {
		c.JSON(http.StatusBadRequest, gin.H{
			"error":   "invalid_cursor",
			"message": "cursor is malformed",
		})
		return
	}

	var beforeID int64
	if cursor != nil {
		beforeID = cursor.ID
	}
	list, err := h.store.Before(c.Request.Context(), assetID, beforeID, limit+1)
	if err != nil {
		c.JSON(http.StatusInternalServerError, gin.H{
			"error":   "internal_error",
			"message": "Failed to load readings",
		})
		return
	}
	list, next, hasMore := pagination.ComputePage(list, limit, func(r Reading) (time.Time, int64) {
		return r.Timestamp, r.ID
	})
	c.JSON(http.StatusOK, gin.H{
		"assetId":    assetID,
		"readings":   list,
		"count":      len(list),
		"nextCursor": next,
		"hasMore":    hasMore,
	})
}
