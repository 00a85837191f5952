package loader

import (
	"context"
	"encoding/csv"
	"fmt"
	"io"
	"os"
	"strconv"
	"strings"

	"github.com/skeptomenos/portfolio-prism/internal/model"
)

// CSVPositionSource implements PositionSource by reading a flat position
// list from a CSV file, the concrete feeder the CLI uses in place of the
// out-of-scope desktop shell's sync daemon. Columns:
// isin,name,quantity,unit_price,cost_basis,asset_class,currency,symbol.
type CSVPositionSource struct {
	Path string
}

// NewCSVPositionSource returns a PositionSource reading positions from path.
func NewCSVPositionSource(path string) *CSVPositionSource {
	return &CSVPositionSource{Path: path}
}

var positionColumns = []string{"isin", "name", "quantity", "unit_price", "cost_basis", "asset_class", "currency", "symbol"}

// ListPositions ignores portfolioID: a CSV file holds exactly one
// portfolio's positions. The parameter is kept so CSVPositionSource
// satisfies PositionSource alongside sources that do multiplex by ID.
func (s *CSVPositionSource) ListPositions(ctx context.Context, portfolioID string) ([]model.Position, error) {
	f, err := os.Open(s.Path)
	if err != nil {
		return nil, fmt.Errorf("open position csv %s: %w", s.Path, err)
	}
	defer f.Close()

	reader := csv.NewReader(f)
	reader.FieldsPerRecord = -1

	header, err := reader.Read()
	if err != nil {
		return nil, fmt.Errorf("read position csv header: %w", err)
	}
	colIdx := make(map[string]int, len(header))
	for i, col := range header {
		colIdx[strings.ToLower(strings.TrimSpace(col))] = i
	}
	for _, required := range []string{"isin", "name", "quantity", "unit_price"} {
		if _, ok := colIdx[required]; !ok {
			return nil, fmt.Errorf("position csv %s missing required column %q", s.Path, required)
		}
	}

	get := func(record []string, col string) string {
		idx, ok := colIdx[col]
		if !ok || idx >= len(record) {
			return ""
		}
		return strings.TrimSpace(record[idx])
	}

	var positions []model.Position
	for {
		record, err := reader.Read()
		if err == io.EOF {
			break
		}
		if err != nil {
			return nil, fmt.Errorf("read position csv row: %w", err)
		}

		qty, _ := strconv.ParseFloat(get(record, "quantity"), 64)
		price, _ := strconv.ParseFloat(get(record, "unit_price"), 64)

		p := model.Position{
			ISIN:       get(record, "isin"),
			Name:       get(record, "name"),
			Quantity:   qty,
			UnitPrice:  price,
			AssetClass: model.AssetClass(get(record, "asset_class")),
			Currency:   get(record, "currency"),
			Symbol:     get(record, "symbol"),
		}
		if cb := get(record, "cost_basis"); cb != "" {
			if v, err := strconv.ParseFloat(cb, 64); err == nil {
				p.CostBasis = &v
			}
		}
		if p.AssetClass == "" {
			p.AssetClass = model.AssetUnknown
		}
		positions = append(positions, p)
	}
	return positions, nil
}
