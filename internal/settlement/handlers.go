package settlement

import (
	"errors"
	"math/big"
	"net/http"

	"github.com/gin-gonic/gin"

	"github.com/mbd888/assetwatch/internal/chain"
	"github.com/mbd888/assetwatch/internal/pol"
	"github.com/mbd888/assetwatch/internal/validation"
)

// Handler exposes settlement to operators. Both routes are admin-only.
type Handler struct {
	engine *Engine
}

func NewHandler(e *Engine) *Handler {
	return &Handler{engine: e}
}

func (h *Handler) RegisterAdminRoutes(r *gin.RouterGroup) {
	r.GET("/assets/:id/settlement/quote", h.GetQuote)
	r.POST("/assets/:id/settlement", h.Settle)
}

// GetQuote handles GET /v1/assets/:id/settlement/quote
func (h *Handler) GetQuote(c *gin.Context) {
	assetID, ok := validation.AssetID(c)
	if !ok {
		return
	}
	q, err := h.engine.Quote(c.Request.Context(), assetID)
	if err != nil {
		writeError(c, err)
		return
	}
	resp := gin.H{
		"assetId":      q.AssetID,
		"hasSnapshot":  q.HasSnapshot,
		"user":         q.User.Hex(),
		"costWei":      q.CostWei.String(),
		"filingPrice":  q.FilingPrice,
		"currentPrice": q.CurrentPrice,
		"degraded":     q.Degraded,
		"userWei":      q.UserWei.String(),
		"userPol":      pol.Format(q.UserWei),
		"payable":      false,
	}
	if q.Record != nil {
		resp["payable"] = q.Record.Payable()
		resp["record"] = gin.H{
			"index":           q.Record.Index,
			"technician":      q.Record.Technician.Hex(),
			"readyForPayment": q.Record.ReadyForPayment,
			"isPaid":          q.Record.IsPaid,
		}
	}
	c.JSON(http.StatusOK, resp)
}

// SettleRequest is the body of POST /v1/assets/:id/settlement. Exactly one of
// the amount fields is used; TechnicianAmount is decimal POL.
type SettleRequest struct {
	TechnicianAmount    string `json:"technicianAmount"`
	TechnicianAmountWei string `json:"technicianAmountWei"`
}

// Settle handles POST /v1/assets/:id/settlement
func (h *Handler) Settle(c *gin.Context) {
	assetID, ok := validation.AssetID(c)
	if !ok {
		return
	}
	var req SettleRequest
	if err := c.ShouldBindJSON(&req); err != nil {
		c.JSON(http.StatusBadRequest, gin.H{
			"error":   "invalid_request",
			"message": "Invalid request body",
		})
		return
	}

	amount, errs := parseAmount(req)
	if validation.Reject(c, errs) {
		return
	}

	out, err := h.engine.Settle(c.Request.Context(), Request{AssetID: assetID, TechnicianAmount: amount})
	if err != nil {
		writeError(c, err)
		return
	}
	if out.AlreadySettled {
		c.JSON(http.StatusOK, gin.H{"success": true, "alreadySettled": true, "assetId": out.AssetID})
		return
	}
	c.JSON(http.StatusOK, gin.H{
		"success":         true,
		"alreadySettled":  false,
		"assetId":         out.AssetID,
		"txHash":          out.TxHash,
		"technician":      out.Technician.Hex(),
		"technicianWei":   out.TechnicianWei.String(),
		"user":            out.User.Hex(),
		"userWei":         out.UserWei.String(),
		"costWei":         out.CostWei.String(),
		"filingPrice":     out.FilingPrice,
		"currentPrice":    out.CurrentPrice,
		"degraded":        out.Degraded,
		"snapshotCleared": out.SnapshotCleared,
	})
}

func parseAmount(req SettleRequest) (*big.Int, validation.Errors) {
	if req.TechnicianAmountWei != "" {
		if errs := validation.Validate(validation.ValidWei("technicianAmountWei", req.TechnicianAmountWei)); len(errs) > 0 {
			return nil, errs
		}
		v, _ := pol.ParseWei(req.TechnicianAmountWei)
		return v, nil
	}
	if errs := validation.Validate(
		validation.Required("technicianAmount", req.TechnicianAmount),
		validation.ValidPOLAmount("technicianAmount", req.TechnicianAmount),
	); len(errs) > 0 {
		return nil, errs
	}
	v, _ := pol.Parse(req.TechnicianAmount)
	return v, nil
}

func writeError(c *gin.Context, err error) {
	status, code := http.StatusBadGateway, "ledger_error"
	switch {
	case errors.Is(err, ErrNoMaintenanceRecord):
		status, code = http.StatusNotFound, "no_maintenance_record"
	case errors.Is(err, ErrNotReadyForPayment):
		status, code = http.StatusConflict, "not_ready_for_payment"
	case errors.Is(err, ErrInvalidAmount):
		status, code = http.StatusBadRequest, "invalid_amount"
	case chain.KindOf(err) == chain.KindInvalidTransition:
		status, code = http.StatusConflict, "invalid_transition"
	case chain.KindOf(err) == chain.KindUnauthorized:
		status, code = http.StatusForbidden, "unauthorized"
	case chain.IsTransient(err):
		status, code = http.StatusServiceUnavailable, "ledger_unavailable"
	}
	body := gin.H{"error": code, "message": err.Error()}
	if reason := chain.ReasonOf(err); reason != "" {
		body["reason"] = reason
	}
	c.JSON(status, body)
}
