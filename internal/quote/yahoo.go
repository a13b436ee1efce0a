// Package quote fetches market quotes from the Yahoo Finance chart API and
// memoizes them for a fixed window.
package quote

import (
	"context"
	"encoding/json"
	"errors"
	"fmt"
	"net/http"
	"net/url"
	"strings"
	"time"

	"github.com/shopspring/decimal"
	"github.com/sony/gobreaker"

	"github.com/tradedesk/portfolio-engine/internal/model"
)

var (
	// ErrUnavailable is returned for symbols the provider is known not to carry.
	ErrUnavailable = errors.New("quote: symbol not available from provider")

	// ErrSymbolNotFound is returned when the provider answers 404.
	ErrSymbolNotFound = errors.New("quote: symbol not found")

	// ErrNoData is returned when the response lacks price or previous close.
	ErrNoData = errors.New("quote: no data in response")

	// ErrUpstream is returned for non-2xx responses other than 404.
	ErrUpstream = errors.New("quote: upstream error")
)

// DefaultAliases remaps local tickers to provider tickers. A nil entry marks
// a symbol the provider does not carry (resolved to null without a request).
func DefaultAliases() map[string]*string {
	hindunilvr := "HINDUNILVR"
	mm := "M&M"
	return map[string]*string{
		"HUL":      &hindunilvr,
		"M&M":      &mm,
		"SGBMAY29": nil, // sovereign gold bonds are not listed on Yahoo
	}
}

// YahooConfig configures a YahooClient.
type YahooConfig struct {
	BaseURL        string        // default: https://query1.finance.yahoo.com
	UserAgent      string        // sent on every request
	Timeout        time.Duration // per request; default 5s
	ExchangeSuffix string        // appended to plain symbols, e.g. ".NS"
	Aliases        map[string]*string

	// Breaker is optional; build it with NewBreaker.
	Breaker *gobreaker.CircuitBreaker
}

// YahooClient resolves one symbol at a time against the chart endpoint.
type YahooClient struct {
	baseURL    string
	userAgent  string
	suffix     string
	aliases    map[string]*string
	breaker    *gobreaker.CircuitBreaker
	httpClient *http.Client
}

const defaultBaseURL = "https://query1.finance.yahoo.com"

// NewYahooClient creates a client from cfg, filling defaults.
func NewYahooClient(cfg YahooConfig) *YahooClient {
	if cfg.BaseURL == "" {
		cfg.BaseURL = defaultBaseURL
	}
	if cfg.Timeout <= 0 {
		cfg.Timeout = 5 * time.Second
	}
	if cfg.Aliases == nil {
		cfg.Aliases = DefaultAliases()
	}
	return &YahooClient{
		baseURL:    strings.TrimRight(cfg.BaseURL, "/"),
		userAgent:  cfg.UserAgent,
		suffix:     cfg.ExchangeSuffix,
		aliases:    cfg.Aliases,
		breaker:    cfg.Breaker,
		httpClient: &http.Client{Timeout: cfg.Timeout},
	}
}

// ProviderSymbol maps a local symbol to the provider's ticker. ok is false
// when the symbol is known to be unavailable.
func (c *YahooClient) ProviderSymbol(symbol string) (ticker string, ok bool) {
	mapped := symbol
	if alias, found := c.aliases[symbol]; found {
		if alias == nil {
			return "", false
		}
		mapped = *alias
	}
	// Indices (^NSEI) and suffixed tickers (RELIANCE.NS) go out as-is.
	if strings.HasPrefix(mapped, "^") || c.suffix == "" || strings.Contains(mapped, ".") {
		return mapped, true
	}
	return mapped + c.suffix, true
}

// chartResponse is the subset of /v8/finance/chart we read.
type chartResponse struct {
	Chart struct {
		Result []struct {
			Meta *struct {
				RegularMarketPrice   *decimal.Decimal `json:"regularMarketPrice"`
				ChartPreviousClose   *decimal.Decimal `json:"chartPreviousClose"`
				RegularMarketDayHigh *decimal.Decimal `json:"regularMarketDayHigh"`
				RegularMarketDayLow  *decimal.Decimal `json:"regularMarketDayLow"`
				RegularMarketVolume  *int64           `json:"regularMarketVolume"`
			} `json:"meta"`
			Indicators struct {
				Quote []struct {
					Open []*decimal.Decimal `json:"open"`
				} `json:"quote"`
			} `json:"indicators"`
		} `json:"result"`
	} `json:"chart"`
}

// Fetch returns the current quote for symbol.
func (c *YahooClient) Fetch(ctx context.Context, symbol string) (*model.Quote, error) {
	ticker, ok := c.ProviderSymbol(symbol)
	if !ok {
		return nil, fmt.Errorf("%w: %s", ErrUnavailable, symbol)
	}

	if c.breaker == nil {
		return c.fetch(ctx, symbol, ticker)
	}

	v, err := c.breaker.Execute(func() (interface{}, error) {
		return c.fetch(ctx, symbol, ticker)
	})
	if rejected(err) {
		return nil, fmt.Errorf("%w: %s: %v", ErrCircuitOpen, symbol, err)
	}
	if err != nil {
		return nil, err
	}
	return v.(*model.Quote), nil
}

// countsAsFailure reports whether err says the provider itself is unhealthy.
func countsAsFailure(err error) bool {
	switch {
	case errors.Is(err, ErrSymbolNotFound), errors.Is(err, ErrNoData), errors.Is(err, context.Canceled):
		return false
	}
	return true
}

func (c *YahooClient) fetch(ctx context.Context, symbol, ticker string) (*model.Quote, error) {
	addr := fmt.Sprintf("%s/v8/finance/chart/%s?interval=1d&range=1d", c.baseURL, url.PathEscape(ticker))

	req, err := http.NewRequestWithContext(ctx, http.MethodGet, addr, nil)
	if err != nil {
		return nil, err
	}
	if c.userAgent != "" {
		req.Header.Set("User-Agent", c.userAgent)
	}
	req.Header.Set("Accept", "application/json")

	resp, err := c.httpClient.Do(req)
	if err != nil {
		return nil, fmt.Errorf("get %s: %w", ticker, err)
	}
	defer resp.Body.Close()

	if resp.StatusCode == http.StatusNotFound {
		return nil, fmt.Errorf("%w: %s", ErrSymbolNotFound, ticker)
	}
	if resp.StatusCode < 200 || resp.StatusCode >= 300 {
		return nil, fmt.Errorf("%w: %s returned %s", ErrUpstream, ticker, resp.Status)
	}

	var body chartResponse
	if err := json.NewDecoder(resp.Body).Decode(&body); err != nil {
		return nil, fmt.Errorf("decode %s: %w", ticker, err)
	}
	return buildQuote(symbol, &body, time.Now().UTC())
}

func buildQuote(symbol string, body *chartResponse, now time.Time) (*model.Quote, error) {
	if len(body.Chart.Result) == 0 {
		return nil, fmt.Errorf("%w: %s has no result", ErrNoData, symbol)
	}
	res := body.Chart.Result[0]
	meta := res.Meta
	if meta == nil || len(res.Indicators.Quote) == 0 {
		return nil, fmt.Errorf("%w: %s has no meta", ErrNoData, symbol)
	}
	if meta.RegularMarketPrice == nil || meta.ChartPreviousClose == nil || meta.ChartPreviousClose.IsZero() {
		return nil, fmt.Errorf("%w: %s has no price or previous close", ErrNoData, symbol)
	}

	price := *meta.RegularMarketPrice
	prev := *meta.ChartPreviousClose
	change := price.Sub(prev)

	q := &model.Quote{
		Symbol:        symbol,
		Price:         price,
		Change:        change,
		PercentChange: change.Div(prev).Mul(decimal.NewFromInt(100)),
		PreviousClose: prev,
		FetchedAt:     now,
	}
	if meta.RegularMarketDayHigh != nil {
		q.High = *meta.RegularMarketDayHigh
	}
	if meta.RegularMarketDayLow != nil {
		q.Low = *meta.RegularMarketDayLow
	}
	if meta.RegularMarketVolume != nil {
		q.Volume = *meta.RegularMarketVolume
	}
	if opens := res.Indicators.Quote[0].Open; len(opens) > 0 && opens[len(opens)-1] != nil {
		q.Open = *opens[len(opens)-1]
	}
	return q, nil
}
