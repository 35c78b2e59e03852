// Package pol converts between POL amounts and wei.
//
// POL uses 18 decimal places. Ledger amounts are big.Int wei
// (1 POL = 10^18 wei); fiat math happens in float64 and is quantized
// back to wei by truncation toward zero.
package pol

import (
	"math"
	"math/big"
	"strings"

	"github.com/shopspring/decimal"
)

const Decimals = 18

// OneToken is 1 POL in wei.
var OneToken = new(big.Int).Exp(big.NewInt(10), big.NewInt(Decimals), nil)

// Parse converts a decimal POL string (e.g. "1.5") to wei.
// Returns (nil, false) on invalid or negative input. Digits past the
// 18th decimal are truncated.
func Parse(s string) (*big.Int, bool) {
	s = strings.TrimSpace(s)
	if s == "" {
		return big.NewInt(0), true
	}
	if strings.HasPrefix(s, "-") || strings.ContainsAny(s, "eE") {
		return nil, false
	}
	d, err := decimal.NewFromString(s)
	if err != nil {
		return nil, false
	}
	return d.Shift(Decimals).Truncate(0).BigInt(), true
}

// Format renders wei as a POL string with exactly 18 decimal places.
func Format(wei *big.Int) string {
	if wei == nil {
		return decimal.Zero.StringFixed(Decimals)
	}
	return decimal.NewFromBigInt(wei, -Decimals).StringFixed(Decimals)
}

// ToFloat converts wei to a float64 POL amount. Precision loss is
// acceptable here: the result feeds fiat display math only.
func ToFloat(wei *big.Int) float64 {
	if wei == nil {
		return 0
	}
	return decimal.NewFromBigInt(wei, -Decimals).InexactFloat64()
}

// FromFloat quantizes a POL amount to wei, truncating toward zero.
// Non-finite and non-positive inputs yield 0.
func FromFloat(amount float64) *big.Int {
	if math.IsNaN(amount) || math.IsInf(amount, 0) || amount <= 0 {
		return big.NewInt(0)
	}
	return decimal.NewFromFloat(amount).Shift(Decimals).Truncate(0).BigInt()
}

// ParseWei parses a base-10 integer wei string.
func ParseWei(s string) (*big.Int, bool) {
	s = strings.TrimSpace(s)
	if s == "" || strings.HasPrefix(s, "-") {
		return nil, false
	}
	return new(big.Int).SetString(s, 10)
}
