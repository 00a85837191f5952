package resolver

import (
	"context"
	"encoding/json"
	"fmt"
	"net/http"
	"net/url"

	"github.com/skeptomenos/portfolio-prism/internal/isin"
)

// WikidataClient searches Wikidata for an entity's ISIN property (P946).
type WikidataClient interface {
	SearchISIN(ctx context.Context, name, ticker string) (string, bool, error)
}

// FinnhubClient looks up a ticker's company profile for its ISIN.
type FinnhubClient interface {
	CompanyISIN(ctx context.Context, ticker string) (string, bool, error)
}

// YFinanceClient looks up a ticker's ISIN via the Yahoo Finance quote API.
type YFinanceClient interface {
	TickerISIN(ctx context.Context, ticker string) (string, bool, error)
}

// HTTPWikidataClient implements WikidataClient against the public Wikidata
// API: wbsearchentities to find candidate entities, then wbgetentities to
// read each one's P946 claim.
type HTTPWikidataClient struct {
	HTTP    *http.Client
	BaseURL string
}

// NewHTTPWikidataClient builds a client against the standard Wikidata
// endpoint.
func NewHTTPWikidataClient(httpClient *http.Client) *HTTPWikidataClient {
	return &HTTPWikidataClient{HTTP: httpClient, BaseURL: "https://www.wikidata.org/w/api.php"}
}

type wikidataSearchResponse struct {
	Search []struct {
		ID string `json:"id"`
	} `json:"search"`
}

type wikidataEntityResponse struct {
	Entities map[string]struct {
		Claims map[string][]struct {
			Mainsnak struct {
				Datavalue struct {
					Value string `json:"value"`
				} `json:"datavalue"`
			} `json:"mainsnak"`
		} `json:"claims"`
	} `json:"entities"`
}

// SearchISIN searches for name, then inspects up to 3 candidate entities for
// a valid P946 ISIN claim, returning the first match.
func (c *HTTPWikidataClient) SearchISIN(ctx context.Context, name, ticker string) (string, bool, error) {
	if name == "" {
		return "", false, nil
	}

	searchURL := c.BaseURL + "?" + url.Values{
		"action":   {"wbsearchentities"},
		"search":   {name},
		"language": {"en"},
		"format":   {"json"},
		"limit":    {"3"},
	}.Encode()

	var search wikidataSearchResponse
	if err := c.getJSON(ctx, searchURL, &search); err != nil {
		return "", false, fmt.Errorf("wikidata search: %w", err)
	}

	for _, result := range search.Search {
		entityURL := c.BaseURL + "?" + url.Values{
			"action": {"wbgetentities"},
			"ids":    {result.ID},
			"props":  {"claims"},
			"format": {"json"},
		}.Encode()

		var entities wikidataEntityResponse
		if err := c.getJSON(ctx, entityURL, &entities); err != nil {
			continue
		}
		entity, ok := entities.Entities[result.ID]
		if !ok {
			continue
		}
		claims, ok := entity.Claims["P946"]
		if !ok || len(claims) == 0 {
			continue
		}
		candidate := isin.Normalize(claims[0].Mainsnak.Datavalue.Value)
		if isin.Valid(candidate) {
			return candidate, true, nil
		}
	}

	return "", false, nil
}

func (c *HTTPWikidataClient) getJSON(ctx context.Context, rawURL string, out any) error {
	req, err := http.NewRequestWithContext(ctx, http.MethodGet, rawURL, nil)
	if err != nil {
		return err
	}
	resp, err := c.httpClient().Do(req)
	if err != nil {
		return err
	}
	defer resp.Body.Close()
	if resp.StatusCode != http.StatusOK {
		return fmt.Errorf("unexpected status %d", resp.StatusCode)
	}
	return json.NewDecoder(resp.Body).Decode(out)
}

func (c *HTTPWikidataClient) httpClient() *http.Client {
	if c.HTTP != nil {
		return c.HTTP
	}
	return http.DefaultClient
}

// HTTPFinnhubClient implements FinnhubClient against Finnhub's
// /stock/profile2 endpoint.
type HTTPFinnhubClient struct {
	HTTP    *http.Client
	BaseURL string
	APIKey  string
}

// NewHTTPFinnhubClient builds a client against the standard Finnhub API
// endpoint.
func NewHTTPFinnhubClient(httpClient *http.Client, apiKey string) *HTTPFinnhubClient {
	return &HTTPFinnhubClient{HTTP: httpClient, BaseURL: "https://finnhub.io/api/v1", APIKey: apiKey}
}

type finnhubProfile struct {
	ISIN string `json:"isin"`
}

// CompanyISIN fetches the company profile for ticker and extracts its ISIN.
func (c *HTTPFinnhubClient) CompanyISIN(ctx context.Context, ticker string) (string, bool, error) {
	if ticker == "" || c.APIKey == "" {
		return "", false, nil
	}

	reqURL := c.BaseURL + "/stock/profile2?" + url.Values{"symbol": {ticker}}.Encode()
	req, err := http.NewRequestWithContext(ctx, http.MethodGet, reqURL, nil)
	if err != nil {
		return "", false, err
	}
	req.Header.Set("X-Finnhub-Token", c.APIKey)

	client := c.HTTP
	if client == nil {
		client = http.DefaultClient
	}
	resp, err := client.Do(req)
	if err != nil {
		return "", false, fmt.Errorf("finnhub request: %w", err)
	}
	defer resp.Body.Close()
	if resp.StatusCode != http.StatusOK {
		return "", false, nil
	}

	var profile finnhubProfile
	if err := json.NewDecoder(resp.Body).Decode(&profile); err != nil {
		return "", false, fmt.Errorf("finnhub decode: %w", err)
	}
	candidate := isin.Normalize(profile.ISIN)
	if isin.Valid(candidate) {
		return candidate, true, nil
	}
	return "", false, nil
}

// HTTPYFinanceClient implements YFinanceClient against the unauthenticated
// Yahoo Finance quote-summary endpoint, trying at most two ticker variants.
type HTTPYFinanceClient struct {
	HTTP    *http.Client
	BaseURL string
}

// NewHTTPYFinanceClient builds a client against the standard Yahoo Finance
// quote endpoint.
func NewHTTPYFinanceClient(httpClient *http.Client) *HTTPYFinanceClient {
	return &HTTPYFinanceClient{HTTP: httpClient, BaseURL: "https://query1.finance.yahoo.com/v10/finance/quoteSummary"}
}

type yfinanceQuoteSummary struct {
	QuoteSummary struct {
		Result []struct {
			SummaryProfile struct {
				ISIN string `json:"isin"`
			} `json:"summaryProfile"`
		} `json:"result"`
	} `json:"quoteSummary"`
}

// TickerISIN tries ticker and one upper-cased variant, stopping at the first
// that yields an ISIN. YFinance frequently has no ISIN field at all; that
// is not an error, just an unresolved result.
func (c *HTTPYFinanceClient) TickerISIN(ctx context.Context, ticker string) (string, bool, error) {
	if ticker == "" {
		return "", false, nil
	}

	client := c.HTTP
	if client == nil {
		client = http.DefaultClient
	}

	variants := uniqueNonEmpty(ticker, isin.Normalize(ticker))
	for _, variant := range variants {
		reqURL := c.BaseURL + "/" + url.PathEscape(variant) + "?" + url.Values{"modules": {"summaryProfile"}}.Encode()
		req, err := http.NewRequestWithContext(ctx, http.MethodGet, reqURL, nil)
		if err != nil {
			return "", false, err
		}
		resp, err := client.Do(req)
		if err != nil {
			continue
		}
		var body yfinanceQuoteSummary
		decodeErr := json.NewDecoder(resp.Body).Decode(&body)
		resp.Body.Close()
		if decodeErr != nil || resp.StatusCode != http.StatusOK {
			continue
		}
		if len(body.QuoteSummary.Result) == 0 {
			continue
		}
		candidate := isin.Normalize(body.QuoteSummary.Result[0].SummaryProfile.ISIN)
		if isin.Valid(candidate) {
			return candidate, true, nil
		}
	}
	return "", false, nil
}

func uniqueNonEmpty(values ...string) []string {
	seen := make(map[string]bool, len(values))
	out := make([]string, 0, len(values))
	for _, v := range values {
		if v == "" || seen[v] {
			continue
		}
		seen[v] = true
		out = append(out, v)
	}
	return out
}
