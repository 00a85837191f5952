package normalize

import (
	"testing"

	"github.com/stretchr/testify/assert"
)

func TestParseNumberGermanFormat(t *testing.T) {
	v, ok := ParseNumber("1.234,56")
	assert.True(t, ok)
	assert.InDelta(t, 1234.56, v, 0.001)
}

func TestParseNumberUSFormat(t *testing.T) {
	v, ok := ParseNumber("1,234.56")
	assert.True(t, ok)
	assert.InDelta(t, 1234.56, v, 0.001)
}

func TestParseNumberPlainDecimalComma(t *testing.T) {
	v, ok := ParseNumber("5,21")
	assert.True(t, ok)
	assert.InDelta(t, 5.21, v, 0.001)
}

func TestParseNumberThousandsComma(t *testing.T) {
	v, ok := ParseNumber("1,234")
	assert.True(t, ok)
	assert.InDelta(t, 1234, v, 0.001)
}

func TestParseNumberPercentSign(t *testing.T) {
	v, ok := ParseNumber("5.5%")
	assert.True(t, ok)
	assert.InDelta(t, 5.5, v, 0.001)
}

func TestParseNumberCurrencySymbolAndSpaces(t *testing.T) {
	v, ok := ParseNumber("€ 1 234,50")
	assert.True(t, ok)
	assert.InDelta(t, 1234.50, v, 0.001)
}

func TestParseNumberBlankTokensAreUnparseable(t *testing.T) {
	for _, tok := range []string{"-", "N/A", "n/a", "", "None", "nan"} {
		_, ok := ParseNumber(tok)
		assert.False(t, ok, "expected %q to be unparseable", tok)
	}
}
