// Package apiclient is an HTTP client for the assetwatch API, shared by the
// admin CLI and the MCP tool server.
package apiclient

import (
	"bytes"
	"context"
	"encoding/json"
	"errors"
	"fmt"
	"io"
	"net/http"
	"net/url"
	"strconv"
	"time"
)

// Config holds the connection settings.
type Config struct {
	BaseURL     string // e.g. "http://localhost:8080"
	AdminSecret string // sent as X-Admin-Secret on admin calls
	Timeout     time.Duration
}

// Client talks to one assetwatch server.
type Client struct {
	cfg        Config
	httpClient *http.Client
}

func New(cfg Config) *Client {
	if cfg.Timeout <= 0 {
		cfg.Timeout = 30 * time.Second
	}
	return &Client{
		cfg:        cfg,
		httpClient: &http.Client{Timeout: cfg.Timeout},
	}
}

// APIError is a non-2xx response from the server.
type APIError struct {
	Status  int
	Code    string `json:"error"`
	Message string `json:"message"`
	Reason  string `json:"reason,omitempty"`
}

func (e *APIError) Error() string {
	msg := e.Message
	if msg == "" {
		msg = http.StatusText(e.Status)
	}
	if e.Reason != "" {
		msg += " (" + e.Reason + ")"
	}
	if e.Code != "" {
		return fmt.Sprintf("API error %d %s: %s", e.Status, e.Code, msg)
	}
	return fmt.Sprintf("API error %d: %s", e.Status, msg)
}

// StatusOf returns the HTTP status carried by an *APIError, or 0.
func StatusOf(err error) int {
	var apiErr *APIError
	if errors.As(err, &apiErr) {
		return apiErr.Status
	}
	return 0
}

// Raw performs a request and returns the undecoded body.
func (c *Client) Raw(ctx context.Context, method, path string, query url.Values, body any, admin bool) (json.RawMessage, error) {
	u, err := url.Parse(c.cfg.BaseURL + path)
	if err != nil {
		return nil, fmt.Errorf("invalid URL: %w", err)
	}
	if query != nil {
		u.RawQuery = query.Encode()
	}

	var reqBody io.Reader
	if body != nil {
		data, err := json.Marshal(body)
		if err != nil {
			return nil, fmt.Errorf("marshal request body: %w", err)
		}
		reqBody = bytes.NewReader(data)
	}

	req, err := http.NewRequestWithContext(ctx, method, u.String(), reqBody)
	if err != nil {
		return nil, fmt.Errorf("create request: %w", err)
	}
	if body != nil {
		req.Header.Set("Content-Type", "application/json")
	}
	if admin && c.cfg.AdminSecret != "" {
		req.Header.Set("X-Admin-Secret", c.cfg.AdminSecret)
	}

	resp, err := c.httpClient.Do(req)
	if err != nil {
		return nil, fmt.Errorf("request failed: %w", err)
	}
	defer func() { _ = resp.Body.Close() }()

	respBody, err := io.ReadAll(resp.Body)
	if err != nil {
		return nil, fmt.Errorf("read response: %w", err)
	}

	if resp.StatusCode >= 400 {
		apiErr := &APIError{Status: resp.StatusCode}
		if json.Unmarshal(respBody, apiErr) != nil || apiErr.Message == "" {
			apiErr.Message = string(respBody)
		}
		return nil, apiErr
	}
	return json.RawMessage(respBody), nil
}

func (c *Client) get(ctx context.Context, path string, query url.Values, admin bool, out any) error {
	raw, err := c.Raw(ctx, http.MethodGet, path, query, nil, admin)
	if err != nil {
		return err
	}
	return decode(raw, out)
}

func (c *Client) post(ctx context.Context, path string, body any, out any) error {
	raw, err := c.Raw(ctx, http.MethodPost, path, nil, body, true)
	if err != nil {
		return err
	}
	return decode(raw, out)
}

func decode(raw json.RawMessage, out any) error {
	if err := json.Unmarshal(raw, out); err != nil {
		return fmt.Errorf("decode response: %w", err)
	}
	return nil
}

func assetPath(assetID uint64, suffix string) string {
	return "/v1/assets/" + strconv.FormatUint(assetID, 10) + suffix
}

// -----------------------------------------------------------------------------
// Read-only calls
// -----------------------------------------------------------------------------

type Price struct {
	Price   float64 `json:"price"`
	Symbol  string  `json:"symbol"`
	Convert string  `json:"convert"`
}

func (c *Client) Price(ctx context.Context) (*Price, error) {
	var p Price
	if err := c.get(ctx, "/v1/price", nil, false, &p); err != nil {
		return nil, err
	}
	return &p, nil
}

type AssetSummary struct {
	ID           uint64  `json:"id"`
	Name         string  `json:"name"`
	Threshold    float64 `json:"threshold"`
	TriggerCount int     `json:"triggerCount"`
}

type AssetList struct {
	Assets []AssetSummary `json:"assets"`
	Count  int            `json:"count"`
}

func (c *Client) Assets(ctx context.Context) (*AssetList, error) {
	var l AssetList
	if err := c.get(ctx, "/v1/assets", nil, false, &l); err != nil {
		return nil, err
	}
	return &l, nil
}

type Asset struct {
	AssetID        uint64   `json:"assetId"`
	Status         string   `json:"status"`
	AllowedActions []string `json:"allowedActions"`
}

func (c *Client) Asset(ctx context.Context, assetID uint64) (*Asset, error) {
	var a Asset
	if err := c.get(ctx, assetPath(assetID, ""), nil, false, &a); err != nil {
		return nil, err
	}
	return &a, nil
}

type Reading struct {
	ID          int64     `json:"id"`
	AssetID     uint64    `json:"assetId"`
	Timestamp   time.Time `json:"timestamp"`
	Temperature float64   `json:"temperature"`
	Vibration   float64   `json:"vibration"`
}

type Readings struct {
	AssetID    uint64    `json:"assetId"`
	Readings   []Reading `json:"readings"`
	Count      int       `json:"count"`
	NextCursor string    `json:"nextCursor,omitempty"`
	HasMore    bool      `json:"hasMore"`
}

// Readings returns up to limit readings, newest first, starting after cursor.
// limit <= 0 uses the server default and an empty cursor starts at the newest.
func (c *Client) Readings(ctx context.Context, assetID uint64, limit int, cursor string) (*Readings, error) {
	q := url.Values{}
	if limit > 0 {
		q.Set("limit", strconv.Itoa(limit))
	}
	if cursor != "" {
		q.Set("cursor", cursor)
	}
	var r Readings
	if err := c.get(ctx, assetPath(assetID, "/readings"), q, false, &r); err != nil {
		return nil, err
	}
	return &r, nil
}

type Eligibility struct {
	User      string `json:"user"`
	Count     uint64 `json:"count"`
	Eligible  bool   `json:"eligible"`
	Degraded  bool   `json:"degraded"`
	Threshold uint64 `json:"threshold,omitempty"`
}

func (c *Client) Eligibility(ctx context.Context, address string) (*Eligibility, error) {
	var e Eligibility
	if err := c.get(ctx, "/v1/users/"+address+"/eligibility", nil, false, &e); err != nil {
		return nil, err
	}
	return &e, nil
}

type Reportability struct {
	AssetID     uint64      `json:"assetId"`
	Status      string      `json:"status"`
	Reportable  bool        `json:"reportable"`
	Eligibility Eligibility `json:"eligibility"`
}

func (c *Client) Reportable(ctx context.Context, assetID uint64, user string) (*Reportability, error) {
	var r Reportability
	if err := c.get(ctx, assetPath(assetID, "/reportable"), url.Values{"user": {user}}, false, &r); err != nil {
		return nil, err
	}
	return &r, nil
}

type Digest struct {
	AssetID    uint64 `json:"assetId"`
	Window     int    `json:"window"`
	Hash       string `json:"hash"`
	Readings   int    `json:"readings"`
	SkipReason string `json:"skipReason"`
}

// Integrity returns the digest over the asset's most recent readings window.
func (c *Client) Integrity(ctx context.Context, assetID uint64) (*Digest, error) {
	var d Digest
	if err := c.get(ctx, assetPath(assetID, "/integrity"), nil, false, &d); err != nil {
		return nil, err
	}
	return &d, nil
}

type Snapshot struct {
	AssetID   uint64  `json:"assetId"`
	User      string  `json:"user"`
	CostWei   string  `json:"costWei"`
	PolUSD    float64 `json:"polUsd"`
	Timestamp int64   `json:"ts"`
}

type SnapshotList struct {
	Snapshots []Snapshot `json:"snapshots"`
	Count     int        `json:"count"`
}

func (c *Client) Snapshots(ctx context.Context) (*SnapshotList, error) {
	var l SnapshotList
	if err := c.get(ctx, "/v1/gas-costs", nil, false, &l); err != nil {
		return nil, err
	}
	return &l, nil
}

type MaintenanceRecord struct {
	Index           uint64 `json:"index"`
	Technician      string `json:"technician"`
	ReadyForPayment bool   `json:"readyForPayment"`
	IsPaid          bool   `json:"isPaid"`
}

type Quote struct {
	AssetID      uint64             `json:"assetId"`
	HasSnapshot  bool               `json:"hasSnapshot"`
	User         string             `json:"user"`
	CostWei      string             `json:"costWei"`
	FilingPrice  float64            `json:"filingPrice"`
	CurrentPrice float64            `json:"currentPrice"`
	Degraded     bool               `json:"degraded"`
	UserWei      string             `json:"userWei"`
	UserPol      string             `json:"userPol"`
	Payable      bool               `json:"payable"`
	Record       *MaintenanceRecord `json:"record,omitempty"`
}

// Quote previews the settlement for an asset. Admin route.
func (c *Client) Quote(ctx context.Context, assetID uint64) (*Quote, error) {
	var q Quote
	if err := c.get(ctx, assetPath(assetID, "/settlement/quote"), nil, true, &q); err != nil {
		return nil, err
	}
	return &q, nil
}

// -----------------------------------------------------------------------------
// Admin writes
// -----------------------------------------------------------------------------

type Settlement struct {
	Success         bool    `json:"success"`
	AlreadySettled  bool    `json:"alreadySettled"`
	AssetID         uint64  `json:"assetId"`
	TxHash          string  `json:"txHash"`
	Technician      string  `json:"technician"`
	TechnicianWei   string  `json:"technicianWei"`
	User            string  `json:"user"`
	UserWei         string  `json:"userWei"`
	CostWei         string  `json:"costWei"`
	FilingPrice     float64 `json:"filingPrice"`
	CurrentPrice    float64 `json:"currentPrice"`
	Degraded        bool    `json:"degraded"`
	SnapshotCleared bool    `json:"snapshotCleared"`
}

// Settle pays the technician technicianPOL (decimal POL string) and any
// reimbursement due.
func (c *Client) Settle(ctx context.Context, assetID uint64, technicianPOL string) (*Settlement, error) {
	var s Settlement
	body := map[string]string{"technicianAmount": technicianPOL}
	if err := c.post(ctx, assetPath(assetID, "/settlement"), body, &s); err != nil {
		return nil, err
	}
	return &s, nil
}

type Cancellation struct {
	AssetID         uint64 `json:"assetId"`
	TxHash          string `json:"txHash"`
	Reason          string `json:"reason"`
	Reporter        string `json:"reporter,omitempty"`
	SnapshotCleared bool   `json:"snapshotCleared"`
}

// CancelFault withdraws the pending fault on an asset as a false report.
func (c *Client) CancelFault(ctx context.Context, assetID uint64, reason string) (*Cancellation, error) {
	var out struct {
		Cancellation Cancellation `json:"cancellation"`
	}
	if err := c.post(ctx, assetPath(assetID, "/faults/cancel"), map[string]string{"reason": reason}, &out); err != nil {
		return nil, err
	}
	return &out.Cancellation, nil
}
