package web3

import (
	"errors"
	"fmt"
	"math/big"
	"strings"
)

var (
	ErrEmptyAmount    = errors.New("amount is empty")
	ErrMalformed      = errors.New("amount is not a plain decimal number")
	ErrNotPositive    = errors.New("amount must be greater than zero")
	ErrExcessDecimals = errors.New("amount has more fractional digits than the token supports")
)

// ParseUnits converts a human decimal string such as "1.5" into base units
// for a token with the given number of decimals. The conversion is exact:
// signs, exponents and precision beyond the token's decimals are rejected.
func ParseUnits(s string, decimals uint8) (*big.Int, error) {
	s = strings.TrimSpace(s)
	if s == "" {
		return nil, ErrEmptyAmount
	}
	if strings.HasPrefix(s, "-") {
		return nil, ErrNotPositive
	}
	whole, frac, _ := strings.Cut(s, ".")
	if !digitsOnly(whole) || !digitsOnly(frac) || (whole == "" && frac == "") {
		return nil, fmt.Errorf("%w: %q", ErrMalformed, s)
	}
	frac = strings.TrimRight(frac, "0")
	if len(frac) > int(decimals) {
		return nil, fmt.Errorf("%w (%d)", ErrExcessDecimals, decimals)
	}
	digits := whole + frac + strings.Repeat("0", int(decimals)-len(frac))
	v, ok := new(big.Int).SetString(digits, 10)
	if !ok {
		return nil, fmt.Errorf("%w: %q", ErrMalformed, s)
	}
	if v.Sign() <= 0 {
		return nil, ErrNotPositive
	}
	return v, nil
}

func digitsOnly(s string) bool {
	for _, r := range s {
		if r < '0' || r > '9' {
			return false
		}
	}
	return true
}

// FormatUnits renders base units as a decimal string. Trailing zeros of the
// fractional part are trimmed but at least one fractional digit is kept, so
// 1000000000 with 6 decimals renders as "1000.0".
func FormatUnits(v *big.Int, decimals uint8) string {
	if v == nil {
		v = new(big.Int)
	}
	neg := v.Sign() < 0
	abs := new(big.Int).Abs(v)
	digits := abs.String()
	if decimals > 0 {
		if pad := int(decimals) + 1 - len(digits); pad > 0 {
			digits = strings.Repeat("0", pad) + digits
		}
	}
	cut := len(digits) - int(decimals)
	whole, frac := digits[:cut], strings.TrimRight(digits[cut:], "0")
	if frac == "" {
		frac = "0"
	}
	out := whole + "." + frac
	if neg {
		out = "-" + out
	}
	return out
}

// FormatAmount renders base units followed by the token symbol.
func FormatAmount(v *big.Int, tok Token) string {
	return FormatUnits(v, tok.Decimals) + " " + tok.Symbol
}
