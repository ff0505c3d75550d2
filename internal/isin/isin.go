// Package isin validates ISIN security identifiers: a two-letter country
// prefix, nine alphanumeric characters, and a final mod-10 check digit.
package isin

import (
	"regexp"

	"portex/pkg/contracts/domain"
)

// Length is the fixed length of an ISIN.
const Length = 12

// pattern matches identifier-shaped substrings in free text. Case matters:
// ISINs are upper-case, and matching lower-case noise would flood the
// window strategy with false anchors.
var pattern = regexp.MustCompile(`\b[A-Z]{2}[A-Z0-9]{9}[0-9]\b`)

// Validate runs both validation stages and reports the resulting tier.
// Format-valid-but-unverified and verified are distinct confidence tiers;
// downstream scoring must not conflate them.
func Validate(s string) domain.IdentifierStatus {
	if !FormatValid(s) {
		return domain.IdentifierInvalid
	}
	if !ChecksumValid(s) {
		return domain.IdentifierFormatValid
	}
	return domain.IdentifierVerified
}

// FormatValid checks stage one: exactly [A-Z]{2}, nine alphanumerics, one
// digit.
func FormatValid(s string) bool {
	if len(s) != Length {
		return false
	}
	for i := 0; i < 2; i++ {
		if s[i] < 'A' || s[i] > 'Z' {
			return false
		}
	}
	for i := 2; i < 11; i++ {
		c := s[i]
		if !(c >= 'A' && c <= 'Z') && !(c >= '0' && c <= '9') {
			return false
		}
	}
	last := s[11]
	return last >= '0' && last <= '9'
}

// ChecksumValid checks stage two: the Luhn mod-10 checksum over the digit
// expansion of the first eleven characters (A=10 … Z=35, digits as
// themselves), doubling every second digit counting from the right.
func ChecksumValid(s string) bool {
	if len(s) != Length {
		return false
	}

	// Expand the body to its digit string.
	var digits []int
	for i := 0; i < Length-1; i++ {
		c := s[i]
		switch {
		case c >= '0' && c <= '9':
			digits = append(digits, int(c-'0'))
		case c >= 'A' && c <= 'Z':
			v := int(c-'A') + 10
			digits = append(digits, v/10, v%10)
		default:
			return false
		}
	}

	total := 0
	double := true // rightmost digit of the body is doubled
	for i := len(digits) - 1; i >= 0; i-- {
		d := digits[i]
		if double {
			d *= 2
			if d > 9 {
				d -= 9
			}
		}
		total += d
		double = !double
	}

	check := (10 - total%10) % 10
	return check == int(s[11]-'0')
}

// CountryCode returns the two-letter prefix of a format-valid identifier.
func CountryCode(s string) string {
	if len(s) < 2 {
		return ""
	}
	return s[:2]
}

// Match is one identifier-shaped substring found in raw text.
type Match struct {
	Value string
	Index int
}

// Find scans text for all identifier-shaped substrings, regardless of
// checksum validity. The window strategy anchors its context windows on
// these matches and grades them afterwards.
func Find(text string) []Match {
	locs := pattern.FindAllStringIndex(text, -1)
	if locs == nil {
		return nil
	}
	out := make([]Match, 0, len(locs))
	for _, loc := range locs {
		out = append(out, Match{Value: text[loc[0]:loc[1]], Index: loc[0]})
	}
	return out
}
