package mcpserver

import (
	"context"
	"fmt"
	"strings"
	"time"

	"github.com/ethereum/go-ethereum/common"
	"github.com/mark3labs/mcp-go/mcp"

	"github.com/mbd888/assetwatch/internal/apiclient"
)

// API is the subset of the assetwatch HTTP API the tools read from.
type API interface {
	Price(ctx context.Context) (*apiclient.Price, error)
	Assets(ctx context.Context) (*apiclient.AssetList, error)
	Asset(ctx context.Context, assetID uint64) (*apiclient.Asset, error)
	Readings(ctx context.Context, assetID uint64, limit int, cursor string) (*apiclient.Readings, error)
	Integrity(ctx context.Context, assetID uint64) (*apiclient.Digest, error)
	Reportable(ctx context.Context, assetID uint64, user string) (*apiclient.Reportability, error)
	Eligibility(ctx context.Context, address string) (*apiclient.Eligibility, error)
	Snapshots(ctx context.Context) (*apiclient.SnapshotList, error)
	Quote(ctx context.Context, assetID uint64) (*apiclient.Quote, error)
}

// Handlers holds the handler functions for each MCP tool.
type Handlers struct {
	api API
}

// NewHandlers creates a new Handlers instance.
func NewHandlers(api API) *Handlers {
	return &Handlers{api: api}
}

// HandleGetPrice reports the POL/USD spot price.
func (h *Handlers) HandleGetPrice(ctx context.Context, req mcp.CallToolRequest) (*mcp.CallToolResult, error) {
	p, err := h.api.Price(ctx)
	if err != nil {
		return mcp.NewToolResultError(fmt.Sprintf("Failed to get price: %v", err)), nil
	}
	return mcp.NewToolResultText(fmt.Sprintf("%s/%s: %.6f", p.Symbol, p.Convert, p.Price)), nil
}

// HandleListAssets lists monitored assets and their detection settings.
func (h *Handlers) HandleListAssets(ctx context.Context, req mcp.CallToolRequest) (*mcp.CallToolResult, error) {
	list, err := h.api.Assets(ctx)
	if err != nil {
		return mcp.NewToolResultError(fmt.Sprintf("Failed to list assets: %v", err)), nil
	}
	if len(list.Assets) == 0 {
		return mcp.NewToolResultText("No assets configured."), nil
	}

	var sb strings.Builder
	fmt.Fprintf(&sb, "Found %d asset(s):\n\n", len(list.Assets))
	for _, a := range list.Assets {
		name := a.Name
		if name == "" {
			name = "(unnamed)"
		}
		fmt.Fprintf(&sb, "#%d %s\n", a.ID, name)
		fmt.Fprintf(&sb, "   Threshold: %.1f, trigger after %d consecutive readings\n", a.Threshold, a.TriggerCount)
	}
	return mcp.NewToolResultText(sb.String()), nil
}

// HandleGetAsset reports lifecycle status and allowed actions.
func (h *Handlers) HandleGetAsset(ctx context.Context, req mcp.CallToolRequest) (*mcp.CallToolResult, error) {
	id, errResult := assetIDArg(req)
	if errResult != nil {
		return errResult, nil
	}
	a, err := h.api.Asset(ctx, id)
	if err != nil {
		return mcp.NewToolResultError(fmt.Sprintf("Failed to get asset %d: %v", id, err)), nil
	}

	var sb strings.Builder
	fmt.Fprintf(&sb, "Asset #%d\n", a.AssetID)
	fmt.Fprintf(&sb, "  Status: %s\n", a.Status)
	if len(a.AllowedActions) > 0 {
		fmt.Fprintf(&sb, "  Allowed actions: %s\n", strings.Join(a.AllowedActions, ", "))
	} else {
		sb.WriteString("  Allowed actions: none\n")
	}
	return mcp.NewToolResultText(sb.String()), nil
}

// HandleGetReadings lists recent sensor readings.
func (h *Handlers) HandleGetReadings(ctx context.Context, req mcp.CallToolRequest) (*mcp.CallToolResult, error) {
	id, errResult := assetIDArg(req)
	if errResult != nil {
		return errResult, nil
	}
	limit := req.GetInt("limit", 0)
	if limit < 0 {
		return mcp.NewToolResultError("limit must be positive"), nil
	}

	r, err := h.api.Readings(ctx, id, limit, req.GetString("cursor", ""))
	if err != nil {
		return mcp.NewToolResultError(fmt.Sprintf("Failed to get readings: %v", err)), nil
	}
	if len(r.Readings) == 0 {
		return mcp.NewToolResultText(fmt.Sprintf("No readings recorded for asset #%d.", id)), nil
	}

	var sb strings.Builder
	fmt.Fprintf(&sb, "%d reading(s) for asset #%d, newest first:\n", len(r.Readings), id)
	for _, rd := range r.Readings {
		fmt.Fprintf(&sb, "  %s  temp=%.2f  vib=%.3f\n", rd.Timestamp.UTC().Format(time.RFC3339), rd.Temperature, rd.Vibration)
	}
	if r.HasMore {
		fmt.Fprintf(&sb, "More readings available; pass cursor=%s for the next page.\n", r.NextCursor)
	}
	return mcp.NewToolResultText(sb.String()), nil
}

// HandleGetIntegrity reports the readings digest.
func (h *Handlers) HandleGetIntegrity(ctx context.Context, req mcp.CallToolRequest) (*mcp.CallToolResult, error) {
	id, errResult := assetIDArg(req)
	if errResult != nil {
		return errResult, nil
	}
	d, err := h.api.Integrity(ctx, id)
	if err != nil {
		return mcp.NewToolResultError(fmt.Sprintf("Failed to compute digest: %v", err)), nil
	}
	if d.Hash == "" {
		return mcp.NewToolResultText(fmt.Sprintf("No digest for asset #%d: %s", id, d.SkipReason)), nil
	}
	return mcp.NewToolResultText(fmt.Sprintf(
		"Asset #%d digest over %d reading(s) (window %d):\n  %s", id, d.Readings, d.Window, d.Hash)), nil
}

// HandleCheckReportable reports whether a user may file a fault on an asset.
func (h *Handlers) HandleCheckReportable(ctx context.Context, req mcp.CallToolRequest) (*mcp.CallToolResult, error) {
	id, errResult := assetIDArg(req)
	if errResult != nil {
		return errResult, nil
	}
	user, errResult := userArg(req)
	if errResult != nil {
		return errResult, nil
	}

	r, err := h.api.Reportable(ctx, id, user)
	if err != nil {
		return mcp.NewToolResultError(fmt.Sprintf("Failed to check asset %d: %v", id, err)), nil
	}

	var sb strings.Builder
	if r.Reportable {
		fmt.Fprintf(&sb, "Yes, %s may report a fault on asset #%d.\n", user, id)
	} else {
		fmt.Fprintf(&sb, "No, %s may not report a fault on asset #%d.\n", user, id)
	}
	fmt.Fprintf(&sb, "  Asset status: %s\n", r.Status)
	writeEligibility(&sb, &r.Eligibility)
	return mcp.NewToolResultText(sb.String()), nil
}

// HandleCheckEligibility reports a user's ban standing.
func (h *Handlers) HandleCheckEligibility(ctx context.Context, req mcp.CallToolRequest) (*mcp.CallToolResult, error) {
	user, errResult := userArg(req)
	if errResult != nil {
		return errResult, nil
	}
	e, err := h.api.Eligibility(ctx, user)
	if err != nil {
		return mcp.NewToolResultError(fmt.Sprintf("Failed to check eligibility: %v", err)), nil
	}

	var sb strings.Builder
	fmt.Fprintf(&sb, "Reporter %s\n", e.User)
	writeEligibility(&sb, e)
	return mcp.NewToolResultText(sb.String()), nil
}

// HandleListSnapshots lists unreimbursed filing costs.
func (h *Handlers) HandleListSnapshots(ctx context.Context, req mcp.CallToolRequest) (*mcp.CallToolResult, error) {
	list, err := h.api.Snapshots(ctx)
	if err != nil {
		return mcp.NewToolResultError(fmt.Sprintf("Failed to list snapshots: %v", err)), nil
	}
	if len(list.Snapshots) == 0 {
		return mcp.NewToolResultText("No outstanding filing costs."), nil
	}

	var sb strings.Builder
	fmt.Fprintf(&sb, "%d outstanding filing cost(s):\n\n", len(list.Snapshots))
	for _, s := range list.Snapshots {
		fmt.Fprintf(&sb, "Asset #%d reported by %s\n", s.AssetID, s.User)
		fmt.Fprintf(&sb, "   Cost: %s wei at %.6f USD/POL, filed %s\n",
			s.CostWei, s.PolUSD, time.Unix(s.Timestamp, 0).UTC().Format(time.RFC3339))
	}
	return mcp.NewToolResultText(sb.String()), nil
}

// HandleGetQuote previews a settlement.
func (h *Handlers) HandleGetQuote(ctx context.Context, req mcp.CallToolRequest) (*mcp.CallToolResult, error) {
	id, errResult := assetIDArg(req)
	if errResult != nil {
		return errResult, nil
	}
	q, err := h.api.Quote(ctx, id)
	if err != nil {
		return mcp.NewToolResultError(fmt.Sprintf("Failed to quote settlement: %v", err)), nil
	}

	var sb strings.Builder
	fmt.Fprintf(&sb, "Settlement quote for asset #%d\n", q.AssetID)
	if q.HasSnapshot {
		fmt.Fprintf(&sb, "  Reporter: %s\n", q.User)
		fmt.Fprintf(&sb, "  Filing cost: %s wei at %.6f USD/POL\n", q.CostWei, q.FilingPrice)
		fmt.Fprintf(&sb, "  Reimbursement: %s POL (%s wei) at %.6f USD/POL\n", q.UserPol, q.UserWei, q.CurrentPrice)
		if q.Degraded {
			sb.WriteString("  Note: price oracle unavailable, filing-time rate used\n")
		}
	} else {
		sb.WriteString("  No filing cost recorded; nothing to reimburse\n")
	}
	if q.Record != nil {
		fmt.Fprintf(&sb, "  Technician: %s (record %d)\n", q.Record.Technician, q.Record.Index)
	}
	if q.Payable {
		sb.WriteString("  Ready for payment\n")
	} else {
		sb.WriteString("  Not ready for payment\n")
	}
	return mcp.NewToolResultText(sb.String()), nil
}

func writeEligibility(sb *strings.Builder, e *apiclient.Eligibility) {
	fmt.Fprintf(sb, "  Cancelled reports: %d", e.Count)
	if e.Threshold > 0 {
		fmt.Fprintf(sb, " (ban at %d)", e.Threshold)
	}
	sb.WriteString("\n")
	if e.Eligible {
		sb.WriteString("  Eligible to report\n")
	} else {
		sb.WriteString("  Banned from reporting\n")
	}
	if e.Degraded {
		sb.WriteString("  Note: ledger unavailable, eligibility assumed\n")
	}
}

func assetIDArg(req mcp.CallToolRequest) (uint64, *mcp.CallToolResult) {
	id := req.GetInt("asset_id", -1)
	if id < 0 {
		return 0, mcp.NewToolResultError("asset_id is required and must be a non-negative integer")
	}
	return uint64(id), nil
}

func userArg(req mcp.CallToolRequest) (string, *mcp.CallToolResult) {
	user := strings.TrimSpace(req.GetString("user", ""))
	if user == "" {
		return "", mcp.NewToolResultError("user is required")
	}
	if !common.IsHexAddress(user) {
		return "", mcp.NewToolResultError(fmt.Sprintf("invalid address: %s", user))
	}
	return user, nil
}
