package auth

import (
	"encoding/json"
	"errors"
	"math"
	"strconv"
	"strings"
)

var (
	ErrNotInteger = errors.New("claim is not an integer")
	ErrOutOfRange = errors.New("claim is out of int64 range")
)

// 2^63 as a float64; float64(math.MaxInt64) rounds up to it.
const twoTo63 = float64(1 << 63)

// Claims is the decoded claim set of an envelope. Numbers decoded by Verify
// are json.Number.
type Claims map[string]any

// String returns claim key when it is a non-empty string.
func (c Claims) String(key string) (string, bool) {
	s, ok := c[key].(string)
	if !ok || s == "" {
		return "", false
	}
	return s, true
}

// Int returns claim key as an integer. JSON numbers with no fractional part
// and decimal strings are accepted. Integers beyond the int64 range saturate
// to math.MaxInt64 or math.MinInt64. A missing claim reports present=false.
func (c Claims) Int(key string) (v int64, present bool, err error) {
	v, present, _, err = c.integer(key)
	return v, present, err
}

// Nonce returns the iat claim, treating a missing one as 0. A nonce outside
// the int64 range is an error rather than a saturated value.
func (c Claims) Nonce() (int64, error) {
	v, _, saturated, err := c.integer("iat")
	if err != nil {
		return 0, err
	}
	if saturated {
		return 0, ErrOutOfRange
	}
	return v, nil
}

func (c Claims) integer(key string) (v int64, present, saturated bool, err error) {
	raw, ok := c[key]
	if !ok || raw == nil {
		return 0, false, false, nil
	}
	switch n := raw.(type) {
	case json.Number:
		v, saturated, err = numberToInt(string(n))
	case float64:
		v, saturated, err = floatToInt(n)
	case int64:
		v = n
	case int:
		v = int64(n)
	case string:
		v, saturated, err = numberToInt(strings.TrimSpace(n))
	default:
		err = ErrNotInteger
	}
	if err != nil {
		return 0, true, false, err
	}
	return v, true, saturated, nil
}

func numberToInt(s string) (int64, bool, error) {
	if v, err := strconv.ParseInt(s, 10, 64); err == nil {
		return v, false, nil
	}
	f, err := strconv.ParseFloat(s, 64)
	if err != nil {
		// ParseFloat reports overflow with ±Inf and ErrRange
		if !errors.Is(err, strconv.ErrRange) || !math.IsInf(f, 0) {
			return 0, false, ErrNotInteger
		}
	}
	return floatToInt(f)
}

func floatToInt(f float64) (int64, bool, error) {
	switch {
	case math.IsNaN(f):
		return 0, false, ErrNotInteger
	case f >= twoTo63:
		return math.MaxInt64, true, nil
	case f < -twoTo63:
		return math.MinInt64, true, nil
	case f != math.Trunc(f):
		return 0, false, ErrNotInteger
	}
	return int64(f), false, nil
}
