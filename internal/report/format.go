package report

import (
	"fmt"
	"math"

	"github.com/shopspring/decimal"
)

func formatNumber(n float64) string {
	if n == 0 {
		return "0"
	}
	abs := math.Abs(n)
	switch {
	case abs >= 1_000_000:
		return fmt.Sprintf("%.1fM", n/1_000_000)
	case abs >= 10_000:
		return fmt.Sprintf("%.1fK", n/1_000)
	case abs == math.Floor(abs):
		return fmt.Sprintf("%.0f", n)
	default:
		return fmt.Sprintf("%.2f", n)
	}
}

func formatCount[T ~int | ~int64](n T) string {
	return formatNumber(float64(n))
}

func formatUSD(d decimal.Decimal) string {
	if d.IsZero() {
		return "-"
	}
	if d.GreaterThanOrEqual(decimal.NewFromInt(1000)) {
		return "$" + d.StringFixed(0)
	}
	return "$" + d.StringFixed(2)
}

func formatPercent(p float64) string {
	return fmt.Sprintf("%.1f%%", p)
}

// formatSigned renders net line changes with an explicit sign.
func formatSigned(n int64) string {
	if n > 0 {
		return "+" + formatCount(n)
	}
	return formatCount(n)
}
