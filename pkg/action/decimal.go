package action

import (
	"errors"
	"fmt"
	"math"
	"strconv"
	"strings"

	"github.com/shopspring/decimal"
)

// MaxPriceDecimals is the decimal budget for perp prices, shared with szDecimals.
const MaxPriceDecimals = 6

// PriceSigFigs is the number of significant figures a non-integer price may carry.
const PriceSigFigs = 5

var errNegative = errors.New("must not be negative")

// NormalizeDecimal canonicalizes a non-negative decimal string: trailing zeros
// are dropped and exponents expanded, so "1.50" and "15e-1" both give "1.5".
func NormalizeDecimal(s string) (string, error) {
	s = strings.TrimSpace(s)
	if s == "" {
		return "", errors.New("empty decimal")
	}
	d, err := decimal.NewFromString(s)
	if err != nil {
		return "", fmt.Errorf("invalid decimal %q", s)
	}
	if d.IsNegative() {
		return "", fmt.Errorf("%q %w", s, errNegative)
	}
	return d.String(), nil
}

// FloatToWire renders a float with at most 8 decimals, refusing values that
// would change by the rounding.
func FloatToWire(x float64) (string, error) {
	if math.IsNaN(x) || math.IsInf(x, 0) {
		return "", fmt.Errorf("float_to_wire: non-finite value %v", x)
	}
	rounded := strconv.FormatFloat(x, 'f', 8, 64)
	parsed, err := strconv.ParseFloat(rounded, 64)
	if err != nil {
		return "", err
	}
	if math.Abs(parsed-x) >= 1e-12 {
		return "", fmt.Errorf("float_to_wire causes rounding: %v", x)
	}
	if strings.HasPrefix(rounded, "-0") && parsed == 0 {
		parsed = 0
	}
	return decimal.NewFromFloat(parsed).String(), nil
}

// RoundSize truncates toward the lot size implied by szDecimals.
func RoundSize(sz decimal.Decimal, szDecimals int32) decimal.Decimal {
	return sz.RoundFloor(szDecimals)
}

// RoundPrice rounds a perp price to PriceSigFigs significant figures and at
// most MaxPriceDecimals-szDecimals decimals. Integer prices pass through.
func RoundPrice(px decimal.Decimal, szDecimals int32) decimal.Decimal {
	if px.IsInteger() {
		return px
	}
	places := sigFigPlaces(px, PriceSigFigs)
	if maxPlaces := MaxPriceDecimals - szDecimals; places > maxPlaces {
		places = maxPlaces
	}
	if places < 0 {
		places = 0
	}
	return px.Round(places)
}

// sigFigPlaces is the number of decimal places that keeps sig significant digits of d.
func sigFigPlaces(d decimal.Decimal, sig int32) int32 {
	abs := d.Abs()
	if abs.IsZero() {
		return 0
	}
	digits := int32(len(abs.Coefficient().String()))
	msd := digits + abs.Exponent() - 1
	return sig - 1 - msd
}
