package normalize

import (
	"regexp"
	"strings"

	"github.com/rs/zerolog/log"

	"github.com/skeptomenos/portfolio-prism/internal/cache"
	"github.com/skeptomenos/portfolio-prism/internal/isin"
)

// Row is one holding after column mapping, number parsing, and cleanup,
// the canonical shape the resolver and aggregator consume.
type Row struct {
	Name             string
	ISIN             string
	Ticker           string
	Exchange         string
	WeightPercentage float64
	Sector           string
	Country          string
	Currency         string
}

// Table is a normalized holdings table for one ETF.
type Table struct {
	Rows []Row
}

// footerPatterns match rows that are totals/summaries rather than actual
// constituents.
var footerPatterns = []*regexp.Regexp{
	regexp.MustCompile(`^total`),
	regexp.MustCompile(`^sum`),
	regexp.MustCompile(`^cash`),
	regexp.MustCompile(`^other`),
	regexp.MustCompile(`^residual`),
	regexp.MustCompile(`^margin`),
	regexp.MustCompile(`^accrued`),
}

// Normalize converts a provider's raw holdings table into canonical Rows,
// applying column mapping, number parsing, decimal-vs-percentage scaling,
// negative-weight clamping, footer-row pruning, and ISIN validation, in
// that order.
func Normalize(raw cache.RawHoldings, sourceProvider string) Table {
	if raw.Len() == 0 {
		log.Warn().Str("provider", sourceProvider).Msg("empty holdings table provided to normalizer")
		return Table{}
	}

	colMap := mapColumns(raw.Columns)

	type parsedRow struct {
		fields map[string]string
		weight float64
		hasW   bool
	}

	parsed := make([]parsedRow, 0, len(raw.Rows))
	for _, rowData := range raw.Rows {
		fields := make(map[string]string)
		for col, val := range rowData {
			field, ok := colMap[col]
			if !ok {
				continue
			}
			fields[field] = val
		}

		pr := parsedRow{fields: fields}
		if wstr, ok := fields["weight_percentage"]; ok {
			if w, ok := ParseNumber(wstr); ok {
				pr.weight = w
				pr.hasW = true
			}
		}
		parsed = append(parsed, pr)
	}

	maxWeight, total := 0.0, 0.0
	for _, p := range parsed {
		if !p.hasW {
			continue
		}
		if p.weight > maxWeight {
			maxWeight = p.weight
		}
		total += p.weight
	}

	// If max(weights) <= 1 and sum(weights) <= 2, the table is using
	// decimal fractions rather than percentages. Scale up.
	scale := 1.0
	if maxWeight <= 1 && total <= 2 && total > 0 {
		scale = 100
		log.Debug().Str("provider", sourceProvider).Float64("sum", total).Msg("decimal weights detected, scaling to percentage")
	}

	var rows []Row
	for _, p := range parsed {
		if !p.hasW {
			continue
		}
		weight := p.weight * scale
		if weight < 0 {
			weight = 0
		}
		if weight == 0 {
			continue
		}

		name := cleanString(p.fields["name"])
		if isFooterRow(name) {
			continue
		}

		row := Row{
			Name:             name,
			ISIN:             validateISIN(p.fields["isin"]),
			Ticker:           cleanString(p.fields["ticker"]),
			Exchange:         cleanString(p.fields["exchange"]),
			WeightPercentage: weight,
			Sector:           cleanString(p.fields["sector"]),
			Country:          cleanString(p.fields["country"]),
			Currency:         cleanString(p.fields["currency"]),
		}
		rows = append(rows, row)
	}

	return Table{Rows: rows}
}

var collapseSpaceRe = regexp.MustCompile(`\s+`)
var blankStringTokens = map[string]bool{"nan": true, "none": true, "n/a": true, "-": true, "": true}

func cleanString(v string) string {
	v = strings.TrimSpace(v)
	v = collapseSpaceRe.ReplaceAllString(v, " ")
	if blankStringTokens[strings.ToLower(v)] {
		return ""
	}
	return v
}

func isFooterRow(name string) bool {
	lowered := strings.ToLower(name)
	for _, re := range footerPatterns {
		if re.MatchString(lowered) {
			return true
		}
	}
	return false
}

func validateISIN(v string) string {
	v = strings.ToUpper(strings.TrimSpace(v))
	if v == "" {
		return ""
	}
	if !isin.Valid(v) {
		return ""
	}
	return v
}
