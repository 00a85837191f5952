package resolver

import (
	"fmt"
	"sort"
	"strings"
)

type pendingEntry struct {
	isin   string
	ticker string
	name   string
	source string
}

// Stats is a running tally of resolution outcomes, broken down by detail
// (the cascade step that produced each result).
type Stats struct {
	Total      int
	Resolved   int
	Unresolved int
	Skipped    int
	BySource   map[string]int

	pending []pendingEntry
}

// String renders a human-readable summary for the CLI health subcommand.
func (s Stats) String() string {
	if s.Total == 0 {
		return "No resolutions performed."
	}

	pct := func(n int) float64 { return 100 * float64(n) / float64(s.Total) }

	var b strings.Builder
	fmt.Fprintln(&b, "=== Resolution Summary ===")
	fmt.Fprintf(&b, "Total processed: %d\n", s.Total)
	fmt.Fprintf(&b, "Resolved:        %d (%.1f%%)\n", s.Resolved, pct(s.Resolved))
	fmt.Fprintf(&b, "Unresolved:      %d (%.1f%%)\n", s.Unresolved, pct(s.Unresolved))
	fmt.Fprintf(&b, "Skipped (Tier2): %d (%.1f%%)\n", s.Skipped, pct(s.Skipped))
	fmt.Fprintln(&b)
	fmt.Fprintln(&b, "By source:")

	type kv struct {
		key   string
		count int
	}
	sources := make([]kv, 0, len(s.BySource))
	for k, v := range s.BySource {
		sources = append(sources, kv{k, v})
	}
	sort.Slice(sources, func(i, j int) bool { return sources[i].count > sources[j].count })
	for _, s := range sources {
		fmt.Fprintf(&b, "  - %s: %d\n", s.key, s.count)
	}

	return b.String()
}
