package web3

import (
	"errors"
	"math/big"
	"testing"
)

func TestParseUnitsExact(t *testing.T) {
	cases := []struct {
		in       string
		decimals uint8
		want     string
	}{
		{"1", 18, "1000000000000000000"},
		{"1.5", 6, "1500000"},
		{"0.000001", 6, "1"},
		{".25", 2, "25"},
		{"7.", 0, "7"},
		{"1000.000000", 6, "1000000000"},
		{"123456789012345678901234567890", 18, "123456789012345678901234567890000000000000000000"},
	}
	for _, tc := range cases {
		got, err := ParseUnits(tc.in, tc.decimals)
		if err != nil {
			t.Fatalf("ParseUnits(%q, %d): %v", tc.in, tc.decimals, err)
		}
		if got.String() != tc.want {
			t.Fatalf("ParseUnits(%q, %d) = %s, want %s", tc.in, tc.decimals, got, tc.want)
		}
	}
}

func TestParseUnitsRejects(t *testing.T) {
	cases := []struct {
		in   string
		want error
	}{
		{"", ErrEmptyAmount},
		{"-1", ErrNotPositive},
		{"0", ErrNotPositive},
		{"0.000", ErrNotPositive},
		{"1e18", ErrMalformed},
		{"1,000", ErrMalformed},
		{".", ErrMalformed},
		{"0x10", ErrMalformed},
		{"0.0000001", ErrExcessDecimals},
	}
	for _, tc := range cases {
		_, err := ParseUnits(tc.in, 6)
		if !errors.Is(err, tc.want) {
			t.Fatalf("ParseUnits(%q) error = %v, want %v", tc.in, err, tc.want)
		}
	}
}

func TestFormatUnits(t *testing.T) {
	cases := []struct {
		raw      string
		decimals uint8
		want     string
	}{
		{"1000000000", 6, "1000.0"},
		{"1500000", 6, "1.5"},
		{"1", 18, "0.000000000000000001"},
		{"0", 18, "0.0"},
		{"42", 0, "42.0"},
		{"-2500", 3, "-2.5"},
	}
	for _, tc := range cases {
		v, _ := new(big.Int).SetString(tc.raw, 10)
		if got := FormatUnits(v, tc.decimals); got != tc.want {
			t.Fatalf("FormatUnits(%s, %d) = %q, want %q", tc.raw, tc.decimals, got, tc.want)
		}
	}
}

func TestBalanceFormattedUSDC(t *testing.T) {
	usdc, ok := MustTokenRegistry(DefaultTokens()...).Lookup("usdc")
	if !ok {
		t.Fatal("USDC missing from defaults")
	}
	b := Balance{Token: usdc, Raw: big.NewInt(1_000_000_000)}
	if got := b.Formatted(); got != "1000.0 USDC" {
		t.Fatalf("unexpected rendering %q", got)
	}
}

func TestMinimumOut(t *testing.T) {
	if got := MinimumOut(big.NewInt(1_000_000), 50); got.Int64() != 995_000 {
		t.Fatalf("50 bps of 1e6 should leave 995000, got %s", got)
	}
	if got := MinimumOut(big.NewInt(999), 1); got.Int64() != 998 {
		t.Fatalf("expected rounding down, got %s", got)
	}
	if got := MinimumOut(big.NewInt(5), 20_000); got.Sign() != 0 {
		t.Fatalf("bps above 10000 clamps to zero output, got %s", got)
	}
}
