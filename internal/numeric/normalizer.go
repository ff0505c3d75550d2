// Package numeric parses locale-ambiguous numeric literals from statement
// text into canonical decimal values. Swiss statements group thousands with
// apostrophes, German layouts use dots, Anglo layouts use commas; the
// normalizer resolves all three without per-institution branching.
package numeric

import (
	"strings"

	"github.com/shopspring/decimal"
)

// Window bounds the plausible magnitude of an amount. Literals outside the
// window are rejected so page numbers and percentages are not mistaken for
// market values.
type Window struct {
	Min decimal.Decimal
	Max decimal.Decimal
}

// Contains reports whether v falls inside the window (inclusive).
func (w Window) Contains(v decimal.Decimal) bool {
	return v.GreaterThanOrEqual(w.Min) && v.LessThanOrEqual(w.Max)
}

// Normalizer parses numeric literals and filters them through a
// plausibility window.
type Normalizer struct {
	window Window
}

// NewNormalizer returns a Normalizer with the given plausibility window.
func NewNormalizer(w Window) *Normalizer {
	return &Normalizer{window: w}
}

// Normalize parses the literal and rejects values outside the plausibility
// window. The boolean is false for unparseable input and for implausible
// values; callers can distinguish "not found" from "found zero".
func (n *Normalizer) Normalize(literal string) (decimal.Decimal, bool) {
	v, ok := Parse(literal)
	if !ok {
		return decimal.Zero, false
	}
	if !n.window.Contains(v) {
		return decimal.Zero, false
	}
	return v, true
}

// Parse converts a numeric literal to a decimal value without any
// plausibility filtering. Separator rules, in priority order:
//
//  1. Apostrophe grouping (1'234'567.89): apostrophes are stripped and a
//     remaining dot is the decimal point.
//  2. Both dot and comma present: the last-occurring separator is the
//     decimal point, the other one groups thousands.
//  3. A single separator kind: repeated occurrences always group; a single
//     occurrence followed by exactly three digits is treated as grouping,
//     otherwise as the decimal point.
//  4. Plain digit strings parse directly.
//
// Non-numeric input returns ok=false, never a coerced zero.
func Parse(literal string) (decimal.Decimal, bool) {
	s := strings.TrimSpace(literal)
	if s == "" {
		return decimal.Zero, false
	}

	neg := false
	switch {
	case strings.HasPrefix(s, "-"):
		neg = true
		s = s[1:]
	case strings.HasPrefix(s, "+"):
		s = s[1:]
	case strings.HasPrefix(s, "(") && strings.HasSuffix(s, ")"):
		// Accounting negatives.
		neg = true
		s = s[1 : len(s)-1]
	}
	s = strings.TrimSpace(s)

	// Thin and regular spaces inside a literal are grouping noise.
	s = strings.ReplaceAll(s, " ", "")
	s = strings.ReplaceAll(s, " ", "")
	s = strings.ReplaceAll(s, " ", "")

	if hasApostrophe(s) {
		s = stripApostrophes(s)
	} else {
		s = resolveSeparators(s)
	}

	if s == "" || !digitsAndAtMostOneDot(s) {
		return decimal.Zero, false
	}

	v, err := decimal.NewFromString(s)
	if err != nil {
		return decimal.Zero, false
	}
	if neg {
		v = v.Neg()
	}
	return v, true
}

func hasApostrophe(s string) bool {
	return strings.ContainsAny(s, "'’")
}

// stripApostrophes removes apostrophe grouping; a comma left over is a
// decimal point in apostrophe locales (1'234,50 appears on some statements).
func stripApostrophes(s string) string {
	s = strings.ReplaceAll(s, "'", "")
	s = strings.ReplaceAll(s, "’", "")
	if strings.Contains(s, ",") && !strings.Contains(s, ".") {
		s = strings.Replace(s, ",", ".", 1)
	}
	return s
}

// resolveSeparators rewrites dot/comma usage to a canonical single decimal
// point per the rules documented on Parse.
func resolveSeparators(s string) string {
	lastDot := strings.LastIndex(s, ".")
	lastComma := strings.LastIndex(s, ",")

	switch {
	case lastDot >= 0 && lastComma >= 0:
		if lastDot > lastComma {
			s = strings.ReplaceAll(s, ",", "")
		} else {
			s = strings.ReplaceAll(s, ".", "")
			s = strings.Replace(s, ",", ".", 1)
		}
	case lastComma >= 0:
		if strings.Count(s, ",") > 1 || isGroupingPosition(s, lastComma) {
			s = strings.ReplaceAll(s, ",", "")
		} else {
			s = strings.Replace(s, ",", ".", 1)
		}
	case lastDot >= 0:
		if strings.Count(s, ".") > 1 || isGroupingPosition(s, lastDot) {
			s = strings.ReplaceAll(s, ".", "")
		}
	}
	return s
}

// isGroupingPosition reports whether the separator at index i is followed
// by exactly three digits, the signature of a thousands group.
func isGroupingPosition(s string, i int) bool {
	tail := s[i+1:]
	if len(tail) != 3 {
		return false
	}
	for _, r := range tail {
		if r < '0' || r > '9' {
			return false
		}
	}
	return true
}

func digitsAndAtMostOneDot(s string) bool {
	dots := 0
	for _, r := range s {
		switch {
		case r == '.':
			dots++
			if dots > 1 {
				return false
			}
		case r < '0' || r > '9':
			return false
		}
	}
	// A bare "." is not a number.
	return len(s) > dots
}

// FormatApostrophe renders a decimal with apostrophe thousands grouping,
// the style used on Swiss statements and in exported reports. The result
// round-trips through Parse exactly.
func FormatApostrophe(v decimal.Decimal) string {
	s := v.String()
	neg := strings.HasPrefix(s, "-")
	if neg {
		s = s[1:]
	}
	intPart := s
	fracPart := ""
	if i := strings.Index(s, "."); i >= 0 {
		intPart, fracPart = s[:i], s[i+1:]
	}

	var groups []string
	for len(intPart) > 3 {
		groups = append([]string{intPart[len(intPart)-3:]}, groups...)
		intPart = intPart[:len(intPart)-3]
	}
	groups = append([]string{intPart}, groups...)

	out := strings.Join(groups, "'")
	if fracPart != "" {
		out += "." + fracPart
	}
	if neg {
		out = "-" + out
	}
	return out
}
