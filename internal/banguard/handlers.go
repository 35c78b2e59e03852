package banguard

import (
	"net/http"

	"github.com/ethereum/go-ethereum/common"
	"github.com/gin-gonic/gin"

	"github.com/mbd888/assetwatch/internal/validation"
)

// Handler serves eligibility lookups.
type Handler struct {
	guard *Guard
}

func NewHandler(g *Guard) *Handler {
	return &Handler{guard: g}
}

func (h *Handler) RegisterRoutes(r *gin.RouterGroup) {
	r.GET("/users/:address/eligibility", validation.AddressParamMiddleware(), h.GetEligibility)
}

// GetEligibility handles GET /v1/users/:address/eligibility
func (h *Handler) GetEligibility(c *gin.Context) {
	e := h.guard.Check(c.Request.Context(), common.HexToAddress(c.Param("address")))
	c.JSON(http.StatusOK, gin.H{
		"user":      e.User,
		"count":     e.Count,
		"eligible":  e.Eligible,
		"degraded":  e.Degraded,
		"threshold": h.guard.Threshold(),
	})
}
