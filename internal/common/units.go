package common

import (
	"fmt"
	"math/big"
	"strings"
)

const (
	// EtherDecimals is the number of decimals of the default native
	// currency (wei per ether).
	EtherDecimals = 18
)

// FormatUnits converts an integer amount in base units to a decimal string
// without float precision loss.
// Example: FormatUnits(1500000000000000000, 18) = "1.5"
func FormatUnits(value *big.Int, decimals uint8) string {
	if value == nil {
		return "0"
	}

	s := value.String()
	neg := strings.HasPrefix(s, "-")
	if neg {
		s = s[1:]
	}

	// Pad with leading zeros if needed
	for len(s) <= int(decimals) {
		s = "0" + s
	}

	// Insert decimal point and strip trailing zeros
	pos := len(s) - int(decimals)
	whole, frac := s[:pos], s[pos:]
	frac = strings.TrimRight(frac, "0")

	out := whole
	if frac != "" {
		out = whole + "." + frac
	}
	if neg {
		out = "-" + out
	}
	return out
}

// ParseUnits converts a decimal string to an integer amount in base units
// without float precision loss.
// Example: ParseUnits("1.5", 18) = 1500000000000000000
func ParseUnits(s string, decimals uint8) (*big.Int, error) {
	s = strings.TrimSpace(s)
	if s == "" {
		return nil, fmt.Errorf("empty amount")
	}

	parts := strings.Split(s, ".")
	if len(parts) > 2 {
		return nil, fmt.Errorf("invalid amount format: %q", s)
	}

	whole := parts[0]
	frac := ""
	if len(parts) == 2 {
		frac = parts[1]
	}
	if len(frac) > int(decimals) {
		return nil, fmt.Errorf("too many decimal places: %q", s)
	}
	// Right-pad the fractional part to the full precision
	frac += strings.Repeat("0", int(decimals)-len(frac))

	value, ok := new(big.Int).SetString(whole+frac, 10)
	if !ok {
		return nil, fmt.Errorf("invalid amount: %q", s)
	}
	return value, nil
}
