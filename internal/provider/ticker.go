package provider

import (
	"strings"
)

// exchangeSuffix maps an exchange name to its Yahoo-Finance ticker suffix.
var exchangeSuffix = map[string]string{
	"NASDAQ":   "",
	"NYSE":     "",
	"XETRA":    ".DE",
	"LSE":      ".L",
	"EURONEXT_PARIS":     ".PA",
	"EURONEXT_AMSTERDAM": ".AS",
	"EURONEXT_BRUSSELS":  ".BR",
	"EURONEXT_LISBON":    ".LS",
	"SIX":      ".SW",
	"HKEX":     ".HK",
	"TSX":      ".TO",
	"ASX":      ".AX",
}

// ToYahooTicker maps a raw provider ticker + exchange to a Yahoo-compatible
// ticker; the caller keeps the raw provider ticker alongside the mapped
// form. HKEX tickers are zero-padded to 4 digits, matching Yahoo's
// convention (e.g. "700" -> "0700.HK").
func ToYahooTicker(rawTicker, exchange string) string {
	suffix, ok := exchangeSuffix[strings.ToUpper(exchange)]
	if !ok {
		return rawTicker
	}

	ticker := rawTicker
	if strings.EqualFold(exchange, "HKEX") {
		ticker = padHKEXTicker(ticker)
	}

	return ticker + suffix
}

func padHKEXTicker(ticker string) string {
	digitsOnly := true
	for _, r := range ticker {
		if r < '0' || r > '9' {
			digitsOnly = false
			break
		}
	}
	if !digitsOnly || len(ticker) >= 4 {
		return ticker
	}
	return strings.Repeat("0", 4-len(ticker)) + ticker
}
