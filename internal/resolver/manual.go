package resolver

import (
	"encoding/json"
	"fmt"
	"os"
	"strings"

	"github.com/skeptomenos/portfolio-prism/internal/isin"
)

// ManualOverrides is a user-edited ticker -> ISIN map, priority step 2 in the
// resolver cascade. It is loaded once and never mutated by the resolver
// itself; only a human editing the file changes it.
type ManualOverrides map[string]string

// LoadManualOverrides reads a JSON object of {"TICKER": "ISIN"} pairs. A
// missing file yields an empty map, not an error.
func LoadManualOverrides(path string) (ManualOverrides, error) {
	data, err := os.ReadFile(path)
	if os.IsNotExist(err) {
		return ManualOverrides{}, nil
	}
	if err != nil {
		return nil, fmt.Errorf("read manual overrides: %w", err)
	}

	var raw map[string]string
	if err := json.Unmarshal(data, &raw); err != nil {
		return nil, fmt.Errorf("parse manual overrides: %w", err)
	}

	overrides := make(ManualOverrides, len(raw))
	for ticker, candidate := range raw {
		candidate = isin.Normalize(candidate)
		if isin.Valid(candidate) {
			overrides[strings.ToUpper(strings.TrimSpace(ticker))] = candidate
		}
	}
	return overrides, nil
}

// Lookup returns the manually overridden ISIN for ticker, if any.
func (m ManualOverrides) Lookup(ticker string) (string, bool) {
	v, ok := m[strings.ToUpper(strings.TrimSpace(ticker))]
	return v, ok
}
