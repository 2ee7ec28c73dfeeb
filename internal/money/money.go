// Package money holds the fixed-point helpers shared by settlement, loyalty
// and reporting. Every helper rounds its result to cents so callers round
// after each arithmetic step instead of once at the end.
package money

import (
	"fmt"
	"strings"

	"github.com/shopspring/decimal"
)

var (
	Zero    = decimal.Zero
	hundred = decimal.NewFromInt(100)
	half    = decimal.NewFromFloat(0.5)
)

// Round rounds to 2 decimal places, half away from zero.
func Round(d decimal.Decimal) decimal.Decimal {
	return d.Round(2)
}

// Times returns Round(amount * qty).
func Times(amount decimal.Decimal, qty int) decimal.Decimal {
	return Round(amount.Mul(decimal.NewFromInt(int64(qty))))
}

// ApplyRate returns Round(amount * ratePercent / 100).
func ApplyRate(amount decimal.Decimal, ratePercent decimal.Decimal) decimal.Decimal {
	return Round(amount.Mul(ratePercent).Div(hundred))
}

// Sum adds the values and rounds the aggregate.
func Sum(values ...decimal.Decimal) decimal.Decimal {
	total := decimal.Zero
	for _, v := range values {
		total = total.Add(v)
	}
	return Round(total)
}

// NormalizeRate keeps a percentage rate at 2 decimal places.
func NormalizeRate(rate decimal.Decimal) decimal.Decimal {
	return rate.Round(2)
}

// Percent returns part/whole*100 rounded to 2 places, zero when whole is zero.
func Percent(part decimal.Decimal, whole decimal.Decimal) decimal.Decimal {
	if whole.IsZero() {
		return decimal.Zero
	}
	return part.Mul(hundred).DivRound(whole, 2)
}

func Min(a decimal.Decimal, b decimal.Decimal) decimal.Decimal {
	if a.LessThan(b) {
		return a
	}
	return b
}

func Max(a decimal.Decimal, b decimal.Decimal) decimal.Decimal {
	if a.GreaterThan(b) {
		return a
	}
	return b
}

// Parse reads a decimal amount, used at configuration boundaries.
func Parse(raw string) (decimal.Decimal, error) {
	d, err := decimal.NewFromString(strings.TrimSpace(raw))
	if err != nil {
		return decimal.Zero, fmt.Errorf("parse amount %q: %w", raw, err)
	}
	return d, nil
}

// PointsRounding selects how fractional loyalty points are turned into whole points.
type PointsRounding int

const (
	PointsDown PointsRounding = iota
	PointsUp
	PointsNearest
)

func ParsePointsRounding(raw string) (PointsRounding, error) {
	switch strings.ToLower(strings.TrimSpace(raw)) {
	case "", "down", "floor":
		return PointsDown, nil
	case "up", "ceil", "ceiling":
		return PointsUp, nil
	case "nearest", "round":
		return PointsNearest, nil
	default:
		return PointsDown, fmt.Errorf("unknown points rounding %q", raw)
	}
}

func (r PointsRounding) String() string {
	switch r {
	case PointsUp:
		return "up"
	case PointsNearest:
		return "nearest"
	default:
		return "down"
	}
}

// RoundPoints converts a fractional point amount to whole points.
// Nearest rounds halves up.
func RoundPoints(policy PointsRounding, points decimal.Decimal) int64 {
	switch policy {
	case PointsUp:
		return points.Ceil().IntPart()
	case PointsNearest:
		return points.Add(half).Floor().IntPart()
	default:
		return points.Floor().IntPart()
	}
}
