package gascost

import (
	"errors"
	"net/http"
	"strings"

	"github.com/gin-gonic/gin"

	"github.com/mbd888/assetwatch/internal/oracle"
	"github.com/mbd888/assetwatch/internal/pol"
	"github.com/mbd888/assetwatch/internal/validation"
)

// Handler provides the snapshot and price endpoints.
type Handler struct {
	recorder *Recorder
	prices   oracle.PriceSource
}

func NewHandler(recorder *Recorder, prices oracle.PriceSource) *Handler {
	return &Handler{recorder: recorder, prices: prices}
}

// RegisterRoutes sets up the open snapshot and price routes.
func (h *Handler) RegisterRoutes(r *gin.RouterGroup) {
	r.GET("/price", h.GetPrice)
	r.GET("/gas-costs", h.ListSnapshots)
	r.POST("/gas-costs", h.RecordSnapshot)
}

// RegisterAdminRoutes sets up destructive routes; callers mount them behind
// admin auth.
func (h *Handler) RegisterAdminRoutes(r *gin.RouterGroup) {
	r.DELETE("/gas-costs", h.DeleteSnapshot)
	r.POST("/gas-costs/reset", h.ResetSnapshots)
}

// GetPrice handles GET /v1/price
func (h *Handler) GetPrice(c *gin.Context) {
	price, err := h.prices.CurrentPrice(c.Request.Context())
	if err != nil {
		c.JSON(http.StatusBadGateway, gin.H{
			"error":   "price_unavailable",
			"message": err.Error(),
		})
		return
	}
	c.JSON(http.StatusOK, gin.H{"price": price, "symbol": "POL", "convert": "USD"})
}

// ListSnapshots handles GET /v1/gas-costs
func (h *Handler) ListSnapshots(c *gin.Context) {
	list, err := h.recorder.Store().List(c.Request.Context())
	if err != nil {
		c.JSON(http.StatusInternalServerError, gin.H{
			"error":   "internal_error",
			"message": "Failed to list snapshots",
		})
		return
	}
	if list == nil {
		list = []*Snapshot{}
	}
	c.JSON(http.StatusOK, gin.H{"snapshots": list, "count": len(list)})
}

// RecordRequest is the body of POST /v1/gas-costs.
type RecordRequest struct {
	AssetID *uint64  `json:"assetId"`
	User    string   `json:"user"`
	CostWei string   `json:"costWei"`
	PolUSD  *float64 `json:"polUsd"`
}

// RecordSnapshot handles POST /v1/gas-costs
func (h *Handler) RecordSnapshot(c *gin.Context) {
	var req RecordRequest
	if err := c.ShouldBindJSON(&req); err != nil {
		c.JSON(http.StatusBadRequest, gin.H{
			"error":   "invalid_request",
			"message": "Invalid request body",
		})
		return
	}
	if req.AssetID == nil {
		c.JSON(http.StatusBadRequest, gin.H{
			"error":   "validation_error",
			"message": "assetId: is required",
		})
		return
	}
	if validation.Reject(c, validation.Validate(
		validation.Required("user", req.User),
		validation.ValidAddress("user", req.User),
		validation.Required("costWei", req.CostWei),
		validation.ValidWei("costWei", req.CostWei),
	)) {
		return
	}
	cost, _ := pol.ParseWei(req.CostWei)

	snap, err := h.recorder.Record(c.Request.Context(), *req.AssetID, req.User, cost, req.PolUSD)
	if err != nil {
		status := http.StatusInternalServerError
		if errors.Is(err, ErrInvalidSnapshot) {
			status = http.StatusBadRequest
		}
		c.JSON(status, gin.H{
			"error":   "record_failed",
			"message": err.Error(),
		})
		return
	}
	c.JSON(http.StatusOK, gin.H{"success": true, "snapshot": snap})
}

// DeleteSnapshot handles DELETE /v1/gas-costs?assetId=&user=&costWei=
// All three keys are required so a stale client cannot clear a newer filing.
func (h *Handler) DeleteSnapshot(c *gin.Context) {
	assetParam, user, costParam := c.Query("assetId"), c.Query("user"), c.Query("costWei")
	if assetParam == "" || user == "" || costParam == "" {
		c.JSON(http.StatusBadRequest, gin.H{
			"error":   "missing_keys",
			"message": "Missing assetId, user, or costWei in query",
		})
		return
	}
	assetID, err := validation.ParseAssetID(assetParam)
	if err != nil {
		c.JSON(http.StatusBadRequest, gin.H{
			"error":   "invalid_asset_id",
			"message": "Invalid assetId",
		})
		return
	}
	cost, ok := pol.ParseWei(costParam)
	if !ok {
		c.JSON(http.StatusBadRequest, gin.H{
			"error":   "invalid_cost",
			"message": "costWei must be a non-negative integer",
		})
		return
	}

	err = h.recorder.Store().Delete(c.Request.Context(), assetID, strings.ToLower(user), cost)
	if errors.Is(err, ErrNotFound) {
		c.JSON(http.StatusNotFound, gin.H{
			"error":   "not_found",
			"message": "No matching row found",
		})
		return
	}
	if err != nil {
		c.JSON(http.StatusInternalServerError, gin.H{
			"error":   "internal_error",
			"message": "Failed to delete snapshot",
		})
		return
	}
	c.JSON(http.StatusOK, gin.H{"success": true})
}

// ResetSnapshots handles POST /v1/gas-costs/reset
func (h *Handler) ResetSnapshots(c *gin.Context) {
	if err := h.recorder.Store().Reset(c.Request.Context()); err != nil {
		c.JSON(http.StatusInternalServerError, gin.H{
			"error":   "internal_error",
			"message": "Failed to reset snapshots",
		})
		return
	}
	c.JSON(http.StatusOK, gin.H{"success": true})
}
