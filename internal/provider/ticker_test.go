package provider

import (
	"testing"

	"github.com/stretchr/testify/assert"
)

func TestToYahooTickerAppliesExchangeSuffix(t *testing.T) {
	cases := []struct {
		ticker, exchange, want string
	}{
		{"AAPL", "NASDAQ", "AAPL"},
		{"SAP", "XETRA", "SAP.DE"},
		{"VOD", "LSE", "VOD.L"},
		{"AIR", "EURONEXT_PARIS", "AIR.PA"},
		{"NESN", "SIX", "NESN.SW"},
		{"RY", "TSX", "RY.TO"},
		{"BHP", "ASX", "BHP.AX"},
	}
	for _, c := range cases {
		assert.Equal(t, c.want, ToYahooTicker(c.ticker, c.exchange))
	}
}

func TestToYahooTickerPadsHKEXTicker(t *testing.T) {
	assert.Equal(t, "0700.HK", ToYahooTicker("700", "HKEX"))
	assert.Equal(t, "1299.HK", ToYahooTicker("1299", "HKEX"))
}

func TestToYahooTickerUnknownExchangeReturnsRawTicker(t *testing.T) {
	assert.Equal(t, "XYZ", ToYahooTicker("XYZ", "MOONEX"))
}
