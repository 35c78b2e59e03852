// Package gascost records what a user paid in gas to file a fault report,
// together with the POL/USD rate at filing time, so settlement can reimburse
// the same fiat value later.
package gascost

import (
	"context"
	"encoding/json"
	"errors"
	"fmt"
	"math/big"
	"strings"
)

var (
	ErrNotFound        = errors.New("gascost: snapshot not found")
	ErrInvalidSnapshot = errors.New("gascost: invalid snapshot")
)

// UnknownPrice marks a snapshot whose rate could not be fetched at filing
// time. Settlement reimburses such filings at face value.
const UnknownPrice = -1.0

// Snapshot is the live cost record for an asset. There is at most one per
// asset; a later filing replaces it.
type Snapshot struct {
	AssetID   uint64
	User      string // lower-case 0x address
	CostWei   *big.Int
	PolUSD    float64
	Timestamp int64 // unix seconds
}

// PriceKnown reports whether the snapshot carries a usable filing-time rate.
func (s *Snapshot) PriceKnown() bool {
	return s.PolUSD > 0
}

type snapshotJSON struct {
	AssetID   uint64  `json:"assetId"`
	User      string  `json:"user"`
	CostWei   string  `json:"costWei"`
	PolUSD    float64 `json:"polUsd"`
	Timestamp int64   `json:"ts"`
}

// MarshalJSON renders costWei as a decimal string; it can exceed 2^53.
func (s Snapshot) MarshalJSON() ([]byte, error) {
	cost := "0"
	if s.CostWei != nil {
		cost = s.CostWei.String()
	}
	return json.Marshal(snapshotJSON{
		AssetID:   s.AssetID,
		User:      s.User,
		CostWei:   cost,
		PolUSD:    s.PolUSD,
		Timestamp: s.Timestamp,
	})
}

func (s *Snapshot) UnmarshalJSON(b []byte) error {
	var raw snapshotJSON
	if err := json.Unmarshal(b, &raw); err != nil {
		return err
	}
	cost, ok := new(big.Int).SetString(raw.CostWei, 10)
	if !ok {
		return fmt.Errorf("%w: costWei %q", ErrInvalidSnapshot, raw.CostWei)
	}
	*s = Snapshot{
		AssetID:   raw.AssetID,
		User:      raw.User,
		CostWei:   cost,
		PolUSD:    raw.PolUSD,
		Timestamp: raw.Timestamp,
	}
	return nil
}

// Store persists cost snapshots.
//
// Delete removes the snapshot only if all three keys still match, so a
// settlement never clears a newer filing that replaced the one it paid.
// It returns ErrNotFound when nothing matched.
type Store interface {
	Upsert(ctx context.Context, s *Snapshot) error
	Get(ctx context.Context, assetID uint64) (*Snapshot, error)
	Delete(ctx context.Context, assetID uint64, user string, costWei *big.Int) error
	List(ctx context.Context) ([]*Snapshot, error)
	Reset(ctx context.Context) error
}

// normalized validates s and returns a copy with the user address in
// canonical form. s itself is left untouched.
func normalized(s *Snapshot) (*Snapshot, error) {
	if s == nil {
		return nil, ErrInvalidSnapshot
	}
	if s.User == "" {
		return nil, fmt.Errorf("%w: user is required", ErrInvalidSnapshot)
	}
	if s.CostWei == nil || s.CostWei.Sign() < 0 {
		return nil, fmt.Errorf("%w: costWei must be a non-negative integer", ErrInvalidSnapshot)
	}
	if s.CostWei.BitLen() > 256 {
		return nil, fmt.Errorf("%w: costWei exceeds 256 bits", ErrInvalidSnapshot)
	}
	cp := clone(s)
	cp.User = normalizeUser(s.User)
	return cp, nil
}

func normalizeUser(u string) string {
	return strings.ToLower(strings.TrimSpace(u))
}

func clone(s *Snapshot) *Snapshot {
	cp := *s
	if s.CostWei != nil {
		cp.CostWei = new(big.Int).Set(s.CostWei)
	}
	return &cp
}
