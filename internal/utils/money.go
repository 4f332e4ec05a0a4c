package utils

import (
	"encoding/json"
	"math"
	"strconv"
	"strings"

	"github.com/shopspring/decimal"
)

// ToMoney coerces a loosely typed price into a non-negative amount rounded to
// two decimals. Strings may carry currency symbols or spaces; every
// rune other than a digit, '.' or '-' is dropped before parsing.
//
// Rounding is half away from zero on the decimal representation, so
// ToMoney(3.005) == 3.01. Unparseable input and negative results yield 0.
func ToMoney(v any) float64 {
	d, ok := toDecimal(v)
	if !ok {
		return 0
	}
	f, _ := d.Round(2).Float64()
	if f <= 0 {
		return 0
	}
	return f
}

// Clamp coerces v to a number and constrains it to [min, max]. A value that
// cannot be parsed yields min.
func Clamp(v any, min, max float64) float64 {
	f, ok := toFloat(v)
	if !ok {
		return min
	}
	if f < min {
		return min
	}
	if f > max {
		return max
	}
	return f
}

func toDecimal(v any) (decimal.Decimal, bool) {
	switch x := v.(type) {
	case string:
		s := stripMoney(x)
		if s == "" {
			return decimal.Zero, false
		}
		d, err := decimal.NewFromString(s)
		if err != nil {
			f, perr := strconv.ParseFloat(s, 64)
			if perr != nil {
				return decimal.Zero, false
			}
			return decimal.NewFromFloat(f), true
		}
		return d, true
	case json.Number:
		return toDecimal(x.String())
	default:
		f, ok := toFloat(v)
		if !ok || math.IsInf(f, 0) {
			return decimal.Zero, false
		}
		return decimal.NewFromFloat(f), true
	}
}

func toFloat(v any) (float64, bool) {
	var f float64
	switch x := v.(type) {
	case float64:
		f = x
	case float32:
		f = float64(x)
	case int:
		f = float64(x)
	case int8:
		f = float64(x)
	case int16:
		f = float64(x)
	case int32:
		f = float64(x)
	case int64:
		f = float64(x)
	case uint:
		f = float64(x)
	case uint8:
		f = float64(x)
	case uint16:
		f = float64(x)
	case uint32:
		f = float64(x)
	case uint64:
		f = float64(x)
	case json.Number:
		p, err := x.Float64()
		if err != nil {
			return 0, false
		}
		f = p
	case string:
		p, err := strconv.ParseFloat(strings.TrimSpace(x), 64)
		if err != nil {
			return 0, false
		}
		f = p
	default:
		return 0, false
	}
	if math.IsNaN(f) {
		return 0, false
	}
	return f, true
}

// stripMoney keeps only digits, '.' and '-'.
func stripMoney(s string) string {
	var b strings.Builder
	b.Grow(len(s))
	for _, r := range s {
		if (r >= '0' && r <= '9') || r == '.' || r == '-' {
			b.WriteRune(r)
		}
	}
	return b.String()
}
