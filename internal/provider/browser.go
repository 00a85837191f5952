package provider

import (
	"bytes"
	"context"
	"fmt"
	"os/exec"

	"github.com/skeptomenos/portfolio-prism/internal/cache"
)

// BrowserAdapter shells out to an external headless-browser capture tool
// (e.g. a Playwright/Puppeteer driver script) for issuers whose holdings
// page has no stable direct-download URL and must be navigated, cookie
// modals dismissed, and a download link followed. Each fetch runs the
// capture tool once as a child process with the ISIN as its last argument
// and parses the CSV it writes to stdout.
type BrowserAdapter struct {
	name string
	bin  string
	args []string
}

// NewBrowserAdapter builds a BrowserAdapter. bin is invoked as
// `bin args... isin`, and is expected to print the captured holdings CSV
// on stdout.
func NewBrowserAdapter(name, bin string, args ...string) *BrowserAdapter {
	return &BrowserAdapter{name: name, bin: bin, args: args}
}

func (a *BrowserAdapter) Name() string { return a.name }

func (a *BrowserAdapter) FetchHoldings(ctx context.Context, isin string) (cache.RawHoldings, bool, error) {
	if a.bin == "" {
		return cache.RawHoldings{}, false, nil
	}

	cmd := exec.CommandContext(ctx, a.bin, append(a.args, isin)...)
	var stdout, stderr bytes.Buffer
	cmd.Stdout = &stdout
	cmd.Stderr = &stderr

	if err := cmd.Run(); err != nil {
		return cache.RawHoldings{}, false, fmt.Errorf("%s: browser capture for %s: %w: %s", a.name, isin, err, stderr.String())
	}

	holdings, err := cache.ParseCSV(&stdout)
	if err != nil {
		return cache.RawHoldings{}, false, fmt.Errorf("%s: parse captured holdings for %s: %w", a.name, isin, err)
	}
	return holdings, true, nil
}
