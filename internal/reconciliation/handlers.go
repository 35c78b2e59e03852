package reconciliation

import (
	"errors"
	"net/http"
	"time"

	"github.com/gin-gonic/gin"
)

// Handler exposes reconciliation to operators.
type Handler struct {
	timer *Timer
}

func NewHandler(timer *Timer) *Handler {
	return &Handler{timer: timer}
}

// RegisterAdminRoutes mounts the report and the manual trigger.
func (h *Handler) RegisterAdminRoutes(r *gin.RouterGroup) {
	r.GET("/admin/reconcile", h.GetLast)
	r.POST("/admin/reconcile", h.Trigger)
}

// GetLast handles GET /v1/admin/reconcile
func (h *Handler) GetLast(c *gin.Context) {
	report, at := h.timer.Last()
	if report == nil {
		c.JSON(http.StatusNotFound, gin.H{
			"error":   "not_found",
			"message": "No reconciliation has run yet",
		})
		return
	}
	c.JSON(http.StatusOK, gin.H{"finishedAt": at.Format(time.RFC3339), "report": report})
}

// Trigger handles POST /v1/admin/reconcile
func (h *Handler) Trigger(c *gin.Context) {
	report, err := h.timer.RunOnce(c.Request.Context())
	switch {
	case errors.Is(err, ErrBusy):
		c.JSON(http.StatusConflict, gin.H{"error": "reconciliation_running", "message": err.Error()})
	case err != nil:
		c.JSON(http.StatusInternalServerError, gin.H{"error": "reconciliation_failed", "message": err.Error()})
	default:
		c.JSON(http.StatusOK, report)
	}
}
