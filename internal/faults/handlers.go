package faults

import (
	"errors"
	"net/http"

	"github.com/ethereum/go-ethereum/common"
	"github.com/gin-gonic/gin"

	"github.com/mbd888/assetwatch/internal/chain"
	"github.com/mbd888/assetwatch/internal/gascost"
	"github.com/mbd888/assetwatch/internal/lifecycle"
	"github.com/mbd888/assetwatch/internal/validation"
)

// Handler serves the asset and fault desk endpoints.
type Handler struct {
	desk *Desk
}

func NewHandler(d *Desk) *Handler {
	return &Handler{desk: d}
}

// RegisterRoutes sets up the open asset routes.
func (h *Handler) RegisterRoutes(r *gin.RouterGroup) {
	r.GET("/assets/:id", h.GetAsset)
	r.GET("/assets/:id/reportable", h.GetReportable)
	r.POST("/assets/:id/faults", h.RecordFiling)
}

// RegisterAdminRoutes sets up fault cancellation; callers mount it behind
// admin auth.
func (h *Handler) RegisterAdminRoutes(r *gin.RouterGroup) {
	r.POST("/assets/:id/faults/cancel", h.CancelFault)
}

// GetAsset handles GET /v1/assets/:id
func (h *Handler) GetAsset(c *gin.Context) {
	assetID, ok := validation.AssetID(c)
	if !ok {
		return
	}
	view, err := h.desk.Asset(c.Request.Context(), assetID)
	if err != nil {
		writeError(c, err)
		return
	}
	c.JSON(http.StatusOK, view)
}

// GetReportable handles GET /v1/assets/:id/reportable?user=
func (h *Handler) GetReportable(c *gin.Context) {
	assetID, ok := validation.AssetID(c)
	if !ok {
		return
	}
	user := c.Query("user")
	if !validation.IsValidEthAddress(user) {
		c.JSON(http.StatusBadRequest, gin.H{
			"error":   "invalid_address",
			"message": "user must be a 0x-prefixed 40 hex character address",
		})
		return
	}
	r, err := h.desk.Reportable(c.Request.Context(), assetID, common.HexToAddress(user))
	if err != nil {
		writeError(c, err)
		return
	}
	c.JSON(http.StatusOK, r)
}

// FilingRequest is the body of POST /v1/assets/:id/faults.
type FilingRequest struct {
	User   string `json:"user"`
	TxHash string `json:"txHash"`
}

// RecordFiling handles POST /v1/assets/:id/faults
func (h *Handler) RecordFiling(c *gin.Context) {
	assetID, ok := validation.AssetID(c)
	if !ok {
		return
	}
	var req FilingRequest
	if err := c.ShouldBindJSON(&req); err != nil {
		c.JSON(http.StatusBadRequest, gin.H{
			"error":   "invalid_request",
			"message": "Invalid request body",
		})
		return
	}
	if validation.Reject(c, validation.Validate(
		validation.Required("user", req.User),
		validation.ValidAddress("user", req.User),
		validation.Required("txHash", req.TxHash),
		validation.ValidTxHash("txHash", req.TxHash),
	)) {
		return
	}

	snap, err := h.desk.RecordFiling(c.Request.Context(), Filing{
		AssetID: assetID,
		User:    common.HexToAddress(req.User),
		TxHash:  req.TxHash,
	})
	if err != nil {
		writeError(c, err)
		return
	}
	c.JSON(http.StatusCreated, gin.H{"success": true, "snapshot": snap})
}

// CancelRequest is the body of POST /v1/assets/:id/faults/cancel.
type CancelRequest struct {
	Reason string `json:"reason"`
}

// CancelFault handles POST /v1/assets/:id/faults/cancel
func (h *Handler) CancelFault(c *gin.Context) {
	assetID, ok := validation.AssetID(c)
	if !ok {
		return
	}
	var req CancelRequest
	if err := c.ShouldBindJSON(&req); err != nil {
		c.JSON(http.StatusBadRequest, gin.H{
			"error":   "invalid_request",
			"message": "Invalid request body",
		})
		return
	}
	req.Reason = validation.SanitizeString(req.Reason, validation.MaxReasonLength)
	if validation.Reject(c, validation.Validate(
		validation.Required("reason", req.Reason),
	)) {
		return
	}

	out, err := h.desk.Cancel(c.Request.Context(), assetID, req.Reason)
	if err != nil {
		writeError(c, err)
		return
	}
	c.JSON(http.StatusOK, gin.H{"success": true, "cancellation": out})
}

func writeError(c *gin.Context, err error) {
	status, code := http.StatusBadGateway, "ledger_error"
	switch {
	case errors.Is(err, ErrNotFilingTx):
		status, code = http.StatusUnprocessableEntity, "not_a_fault_report"
	case errors.Is(err, ErrSenderMismatch):
		status, code = http.StatusForbidden, "sender_mismatch"
	case errors.Is(err, ErrAssetMismatch):
		status, code = http.StatusUnprocessableEntity, "asset_mismatch"
	case errors.Is(err, ErrFilingReverted):
		status, code = http.StatusUnprocessableEntity, "filing_reverted"
	case errors.Is(err, ErrBanned):
		status, code = http.StatusForbidden, "banned"
	case errors.Is(err, ErrReasonRequired):
		status, code = http.StatusBadRequest, "validation_error"
	case errors.Is(err, lifecycle.ErrInvalidTransition),
		chain.KindOf(err) == chain.KindInvalidTransition:
		status, code = http.StatusConflict, "invalid_transition"
	case chain.KindOf(err) == chain.KindUnauthorized:
		status, code = http.StatusForbidden, "unauthorized"
	case errors.Is(err, gascost.ErrInvalidSnapshot):
		status, code = http.StatusBadRequest, "invalid_snapshot"
	case chain.IsTransient(err):
		status, code = http.StatusServiceUnavailable, "ledger_unavailable"
	}
	body := gin.H{"error": code, "message": err.Error()}
	if reason := chain.ReasonOf(err); reason != "" {
		body["reason"] = reason
	}
	c.JSON(status, body)
}
