package enrich

import (
	"context"
	"encoding/json"
	"fmt"
	"net/http"
	"net/url"

	"github.com/skeptomenos/portfolio-prism/internal/hive"
	"github.com/skeptomenos/portfolio-prism/internal/model"
)

// APICascade implements APISource as the last-resort per-ISIN metadata
// path: Finnhub's company-profile endpoint (keyed by ISIN directly, unlike
// the resolver's ticker-keyed lookup) first, falling back to a Yahoo
// Finance symbol search + quote-summary pair when Finnhub has no record or
// no API key is configured.
type APICascade struct {
	HTTP         *http.Client
	FinnhubKey   string
	FinnhubBase  string
	YFinanceBase string
}

// NewAPICascade builds a cascade against the standard Finnhub/Yahoo
// endpoints.
func NewAPICascade(httpClient *http.Client, finnhubKey string) *APICascade {
	return &APICascade{
		HTTP:         httpClient,
		FinnhubKey:   finnhubKey,
		FinnhubBase:  "https://finnhub.io/api/v1",
		YFinanceBase: "https://query1.finance.yahoo.com",
	}
}

type finnhubProfileByISIN struct {
	Country         string `json:"country"`
	FinnhubIndustry string `json:"finnhubIndustry"`
}

// CompanyMetadata tries Finnhub then YFinance, returning the first hit.
func (c *APICascade) CompanyMetadata(ctx context.Context, isinVal string) (hive.Metadata, bool, error) {
	if m, ok, err := c.finnhub(ctx, isinVal); err != nil {
		return hive.Metadata{}, false, err
	} else if ok {
		return m, true, nil
	}
	return c.yfinance(ctx, isinVal)
}

func (c *APICascade) finnhub(ctx context.Context, isinVal string) (hive.Metadata, bool, error) {
	if c.FinnhubKey == "" {
		return hive.Metadata{}, false, nil
	}
	reqURL := c.FinnhubBase + "/stock/profile2?" + url.Values{"isin": {isinVal}}.Encode()
	req, err := http.NewRequestWithContext(ctx, http.MethodGet, reqURL, nil)
	if err != nil {
		return hive.Metadata{}, false, err
	}
	req.Header.Set("X-Finnhub-Token", c.FinnhubKey)

	resp, err := c.client().Do(req)
	if err != nil {
		return hive.Metadata{}, false, fmt.Errorf("finnhub profile: %w", err)
	}
	defer resp.Body.Close()
	if resp.StatusCode != http.StatusOK {
		return hive.Metadata{}, false, nil
	}

	var profile finnhubProfileByISIN
	if err := json.NewDecoder(resp.Body).Decode(&profile); err != nil {
		return hive.Metadata{}, false, fmt.Errorf("finnhub decode: %w", err)
	}
	if profile.Country == "" && profile.FinnhubIndustry == "" {
		return hive.Metadata{}, false, nil
	}
	return hive.Metadata{
		Sector:     orUnknown(profile.FinnhubIndustry),
		Geography:  orUnknown(profile.Country),
		AssetClass: "Equity",
	}, true, nil
}

type yfinanceSearch struct {
	Quotes []struct {
		Symbol string `json:"symbol"`
	} `json:"quotes"`
}

type yfinanceSummary struct {
	QuoteSummary struct {
		Result []struct {
			SummaryProfile struct {
				Sector  string `json:"sector"`
				Country string `json:"country"`
			} `json:"summaryProfile"`
		} `json:"result"`
	} `json:"quoteSummary"`
}

func (c *APICascade) yfinance(ctx context.Context, isinVal string) (hive.Metadata, bool, error) {
	searchURL := c.YFinanceBase + "/v1/finance/search?" + url.Values{"q": {isinVal}}.Encode()
	var search yfinanceSearch
	if err := c.getJSON(ctx, searchURL, &search); err != nil {
		return hive.Metadata{}, false, fmt.Errorf("yfinance search: %w", err)
	}
	if len(search.Quotes) == 0 {
		return hive.Metadata{}, false, nil
	}

	summaryURL := c.YFinanceBase + "/v10/finance/quoteSummary/" + url.PathEscape(search.Quotes[0].Symbol) +
		"?" + url.Values{"modules": {"summaryProfile"}}.Encode()
	var summary yfinanceSummary
	if err := c.getJSON(ctx, summaryURL, &summary); err != nil {
		return hive.Metadata{}, false, fmt.Errorf("yfinance summary: %w", err)
	}
	if len(summary.QuoteSummary.Result) == 0 {
		return hive.Metadata{}, false, nil
	}
	profile := summary.QuoteSummary.Result[0].SummaryProfile
	if profile.Sector == "" && profile.Country == "" {
		return hive.Metadata{}, false, nil
	}
	return hive.Metadata{
		Sector:     orUnknown(profile.Sector),
		Geography:  orUnknown(profile.Country),
		AssetClass: "Equity",
	}, true, nil
}

func (c *APICascade) getJSON(ctx context.Context, rawURL string, out any) error {
	req, err := http.NewRequestWithContext(ctx, http.MethodGet, rawURL, nil)
	if err != nil {
		return err
	}
	resp, err := c.client().Do(req)
	if err != nil {
		return err
	}
	defer resp.Body.Close()
	if resp.StatusCode != http.StatusOK {
		return fmt.Errorf("unexpected status %d", resp.StatusCode)
	}
	return json.NewDecoder(resp.Body).Decode(out)
}

func (c *APICascade) client() *http.Client {
	if c.HTTP != nil {
		return c.HTTP
	}
	return http.DefaultClient
}

func orUnknown(v string) string {
	if v == "" {
		return model.DefaultSector
	}
	return v
}
