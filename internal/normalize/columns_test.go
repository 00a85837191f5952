package normalize

import (
	"testing"

	"github.com/stretchr/testify/assert"
)

func TestMapColumnsRecognizesVariants(t *testing.T) {
	mapping := mapColumns([]string{"Issuer", "ISIN-Code", "Gewichtung", "Bloomberg Ticker"})
	assert.Equal(t, "name", mapping["Issuer"])
	assert.Equal(t, "isin", mapping["ISIN-Code"])
	assert.Equal(t, "weight_percentage", mapping["Gewichtung"])
	assert.Equal(t, "ticker", mapping["Bloomberg Ticker"])
}

func TestMapColumnsUnknownColumnIsOmitted(t *testing.T) {
	mapping := mapColumns([]string{"Some Random Column"})
	_, ok := mapping["Some Random Column"]
	assert.False(t, ok)
}

func TestCleanColumnNameNormalizesWhitespaceAndCase(t *testing.T) {
	assert.Equal(t, "security name", cleanColumnName(" Security\nName\r"))
}
