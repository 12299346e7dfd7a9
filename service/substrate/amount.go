package substrate

import (
	"fmt"
	"math"
	"math/big"
	"strconv"
	"strings"
)

// DefaultDecimals is the number of decimal places of the reference asset
// (1 DOT = 10^10 Planck).
const DefaultDecimals = 10

// ScaleAmount converts a whole-token amount to the chain's smallest unit.
// The amount is taken in its shortest decimal form and the fraction is
// truncated to decimals digits, so the result is always rounded down.
// Amounts that are not positive, not finite, or smaller than one unit are
// rejected with ErrInvalidAmount.
func ScaleAmount(amount float64, decimals int) (*big.Int, error) {
	if math.IsNaN(amount) || math.IsInf(amount, 0) {
		return nil, fmt.Errorf("%w: %v is not a finite number", ErrInvalidAmount, amount)
	}
	if amount <= 0 {
		return nil, fmt.Errorf("%w: amount must be greater than zero, got %v", ErrInvalidAmount, amount)
	}
	if decimals < 0 {
		return nil, fmt.Errorf("%w: negative decimals %d", ErrInvalidAmount, decimals)
	}

	s := strconv.FormatFloat(amount, 'f', -1, 64)
	whole, frac, _ := strings.Cut(s, ".")

	if len(frac) < decimals {
		frac += strings.Repeat("0", decimals-len(frac))
	} else {
		frac = frac[:decimals]
	}

	combined := strings.TrimLeft(whole+frac, "0")
	if combined == "" {
		return nil, fmt.Errorf("%w: %v is below the smallest unit (10^-%d)", ErrInvalidAmount, amount, decimals)
	}

	result, ok := new(big.Int).SetString(combined, 10)
	if !ok {
		return nil, fmt.Errorf("%w: cannot scale %q", ErrInvalidAmount, s)
	}
	return result, nil
}

// FormatPlanck renders a smallest-unit value as a decimal token amount,
// e.g. 12345678901 with 10 decimals -> "1.2345678901".
func FormatPlanck(planck *big.Int, decimals int) string {
	if planck == nil {
		return "0"
	}

	str := planck.String()
	negative := strings.HasPrefix(str, "-")
	str = strings.TrimPrefix(str, "-")

	if len(str) <= decimals {
		str = strings.Repeat("0", decimals-len(str)+1) + str
	}

	insertPos := len(str) - decimals
	whole := str[:insertPos]
	frac := strings.TrimRight(str[insertPos:], "0")

	result := whole
	if frac != "" {
		result = whole + "." + frac
	}
	if negative {
		result = "-" + result
	}
	return result
}
