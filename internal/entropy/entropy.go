// Package entropy estimates how random a salt looks. It is a coarse
// quality gate for client-generated salts, not a cryptographic guarantee.
package entropy

import (
	"errors"
	"math"
	"math/big"
	"strings"
)

var (
	ErrInvalidDigit = errors.New("entropy: invalid digit")
	ErrTooWide      = errors.New("entropy: input wider than bit width")
)

// Shannon returns the Shannon entropy of a string of '0' and '1' characters
// after left-padding it with zeros to width bits. The result is in [0, 1].
// A width of zero or less measures the string at its own length.
func Shannon(bits string, width int) (float64, error) {
	if width <= 0 {
		width = len(bits)
	}
	if len(bits) > width {
		return 0, ErrTooWide
	}
	if width == 0 {
		return 0, nil
	}

	ones := 0
	for i := 0; i < len(bits); i++ {
		switch bits[i] {
		case '1':
			ones++
		case '0':
		default:
			return 0, ErrInvalidDigit
		}
	}

	n := float64(width)
	h := 0.0
	for _, count := range [2]int{width - ones, ones} {
		// 0·log(0) is taken as 0
		if count == 0 {
			continue
		}
		p := float64(count) / n
		h -= p * (math.Log(p) / math.Ln2)
	}
	return h, nil
}

// ShannonHex expands a hexadecimal string into its binary representation
// (without leading zeros) and measures it with Shannon.
func ShannonHex(hex string, width int) (float64, error) {
	hex = strings.TrimSpace(hex)
	if hex == "" {
		return 0, ErrInvalidDigit
	}
	v, ok := new(big.Int).SetString(hex, 16)
	if !ok || v.Sign() < 0 {
		return 0, ErrInvalidDigit
	}
	return Shannon(v.Text(2), width)
}
