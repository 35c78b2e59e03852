package pol

import (
	"math"
	"math/big"
	"testing"
)

func TestParse_ValidAmounts(t *testing.T) {
	tests := []struct {
		name     string
		input    string
		expected string
	}{
		{"one token", "1", "1000000000000000000"},
		{"half", "0.5", "500000000000000000"},
		{"smallest unit", "0.000000000000000001", "1"},
		{"truncates past 18 decimals", "0.0000000000000000019", "1"},
		{"leading zeros", "007.25", "7250000000000000000"},
		{"empty is zero", "", "0"},
	}

	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			got, ok := Parse(tt.input)
			if !ok {
				t.Fatalf("Parse(%q) returned ok=false", tt.input)
			}
			if got.String() != tt.expected {
				t.Errorf("Parse(%q) = %s, want %s", tt.input, got, tt.expected)
			}
		})
	}
}

func TestParse_Invalid(t *testing.T) {
	for _, in := range []string{"-1", "abc", "1.2.3", "1e18"} {
		if _, ok := Parse(in); ok {
			t.Errorf("Parse(%q) should fail", in)
		}
	}
}

func TestFormat(t *testing.T) {
	if got := Format(OneToken); got != "1.000000000000000000" {
		t.Errorf("Format(1e18) = %s", got)
	}
	if got := Format(big.NewInt(1)); got != "0.000000000000000001" {
		t.Errorf("Format(1) = %s", got)
	}
	if got := Format(nil); got != "0.000000000000000000" {
		t.Errorf("Format(nil) = %s", got)
	}
}

func TestFromFloat_Truncates(t *testing.T) {
	tests := []struct {
		in   float64
		want string
	}{
		{2, "2000000000000000000"},
		{0.5, "500000000000000000"},
		{1.0000000000000002, "1000000000000000200"},
		{0, "0"},
		{-1, "0"},
		{math.NaN(), "0"},
		{math.Inf(1), "0"},
	}
	for _, tt := range tests {
		if got := FromFloat(tt.in); got.String() != tt.want {
			t.Errorf("FromFloat(%v) = %s, want %s", tt.in, got, tt.want)
		}
	}
}

func TestToFloat(t *testing.T) {
	if got := ToFloat(OneToken); got != 1 {
		t.Errorf("ToFloat(1e18) = %v", got)
	}
	if got := ToFloat(nil); got != 0 {
		t.Errorf("ToFloat(nil) = %v", got)
	}
}

func TestParseWei(t *testing.T) {
	v, ok := ParseWei("1000000000000000000")
	if !ok || v.Cmp(OneToken) != 0 {
		t.Fatalf("ParseWei = %v, %v", v, ok)
	}
	if _, ok := ParseWei("-5"); ok {
		t.Error("negative wei should fail")
	}
	if _, ok := ParseWei("1.5"); ok {
		t.Error("fractional wei should fail")
	}
}
