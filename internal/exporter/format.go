package exporter

import (
	"fmt"

	"github.com/shopspring/decimal"
)

// formatDecimal formats a monetary value with exactly 2 decimal places so
// values like 13.4 appear as 13.40 in CSV output.
func formatDecimal(d decimal.Decimal) string {
	return d.StringFixed(2)
}

// formatDecimalPtr formats an optional decimal; absent values become an
// empty cell rather than a zero.
func formatDecimalPtr(d *decimal.Decimal) string {
	if d == nil {
		return ""
	}
	return d.String()
}

// formatFloat formats a float64 value for CSV output with exactly 2 decimal places
func formatFloat(f float64) string {
	return fmt.Sprintf("%.2f", f)
}

// formatFloatPtr formats an optional float, with 4 decimal places for scores.
func formatFloatPtr(f *float64) string {
	if f == nil {
		return ""
	}
	return fmt.Sprintf("%.4f", *f)
}

// formatInt formats an int64 value for CSV output
func formatInt(i int64) string {
	return fmt.Sprintf("%d", i)
}

// formatBool formats a boolean value for CSV output
func formatBool(b bool) string {
	if b {
		return "true"
	}
	return "false"
}
