// Package normalize turns a provider's raw holdings table (arbitrary
// column names, mixed number formats, footer rows) into the canonical
// {name, isin?, ticker?, exchange?, weight_percentage, sector?, country?,
// currency?} shape the resolver and aggregator consume.
package normalize

import "strings"

// columnAliases maps each canonical field to the provider-specific header
// variants that should be recognized as it.
var columnAliases = map[string][]string{
	"weight_percentage": {
		"weight_percentage", "weight", "% of holdings", "% of fund",
		"portfolio weight", "portfolio %", "allocation", "weighting",
		"gewichtung", "anteil", "poids", "% net assets", "net assets (%)",
		"market value (%)", "% market value",
	},
	"name": {
		"name", "security name", "issuer", "issuer name", "holding name",
		"company", "company name", "bezeichnung", "titel", "security",
		"constituent name", "instrument name",
	},
	"isin": {
		"isin", "isin code", "isin-code", "security isin", "constituent isin",
	},
	"ticker": {
		"ticker", "symbol", "exchange ticker", "bloomberg ticker",
		"trading symbol", "ticker symbol",
	},
	"exchange": {
		"exchange", "listing exchange", "primary exchange", "market",
		"trading venue", "mic", "börse", "handelsplatz",
	},
	"sector": {
		"sector", "industry", "gics sector", "industry sector", "branche", "sektor",
	},
	"country": {
		"country", "country of risk", "country of domicile", "location", "land", "pays",
	},
	"currency": {
		"currency", "ccy", "local currency", "währung", "devise",
	},
}

// canonicalFieldOrder fixes deterministic iteration order for mapColumns;
// earlier fields win when a header could alias more than one.
var canonicalFieldOrder = []string{
	"weight_percentage", "name", "isin", "ticker", "exchange", "sector", "country", "currency",
}

// cleanColumnName lower-cases, trims, and strips embedded newlines so
// alias matching sees one canonical spelling.
func cleanColumnName(col string) string {
	col = strings.ReplaceAll(col, "\n", " ")
	col = strings.ReplaceAll(col, "\r", "")
	return strings.ToLower(strings.TrimSpace(col))
}

// mapColumns builds a provider-column -> canonical-field mapping. Each raw
// column maps to the first canonical field whose alias list contains it
// exactly, or as a substring, scanned in canonicalFieldOrder.
func mapColumns(rawColumns []string) map[string]string {
	mapping := make(map[string]string)
	assigned := make(map[string]bool)

	for _, field := range canonicalFieldOrder {
		for _, variant := range columnAliases[field] {
			for _, col := range rawColumns {
				if assigned[col] {
					continue
				}
				cleaned := cleanColumnName(col)
				if cleaned == variant || strings.Contains(cleaned, variant) {
					mapping[col] = field
					assigned[col] = true
					break
				}
			}
		}
	}

	return mapping
}
