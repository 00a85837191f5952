// Package isin validates ISO 6166 International Securities Identification
// Numbers and derives deterministic grouping keys for holdings that never
// resolve to one.
package isin

import (
	"crypto/sha1"
	"encoding/hex"
	"regexp"
	"strings"
)

var pattern = regexp.MustCompile(`^[A-Z]{2}[A-Z0-9]{9}[0-9]$`)

// Valid reports whether s is a syntactically valid ISIN. It does not verify
// the ISO 6166 check digit.
func Valid(s string) bool {
	return pattern.MatchString(s)
}

// Normalize upper-cases and trims a candidate ISIN for comparison/storage.
func Normalize(s string) string {
	return strings.ToUpper(strings.TrimSpace(s))
}

// GroupKey returns the deterministic aggregation key for a holding that has
// no resolved ISIN: UNRESOLVED:{ticker}:{hash10(ticker|name)}. The same
// ticker+name pair always yields the same key, so identical unresolved
// constituents across multiple ETFs collapse into one aggregation group.
func GroupKey(ticker, name string) string {
	t := strings.TrimSpace(ticker)
	n := strings.TrimSpace(name)
	sum := sha1.Sum([]byte(t + "|" + n))
	return "UNRESOLVED:" + t + ":" + hex.EncodeToString(sum[:])[:10]
}

// CashKey returns the canonical group key for a cash holding denominated in
// the given currency, so cash positions inside different ETFs aggregate
// together instead of by parent ETF.
func CashKey(currency string) string {
	c := strings.ToUpper(strings.TrimSpace(currency))
	if c == "" {
		c = "USD"
	}
	return "CASH_" + c
}
