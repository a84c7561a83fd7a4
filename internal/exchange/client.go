package exchange

import (
	"context"
	"encoding/json"
	"fmt"
	"io"
	"net/http"
	"net/url"
	"sort"
	"strconv"
	"time"
)

// Client is a typed wrapper over the exchange's USDS-M futures REST API.
type Client struct {
	baseURL    string
	httpClient *http.Client
}

// NewClient creates an exchange REST client.
func NewClient(baseURL string, timeout time.Duration) *Client {
	if timeout <= 0 {
		timeout = 10 * time.Second
	}
	return &Client{
		baseURL:    baseURL,
		httpClient: &http.Client{Timeout: timeout},
	}
}

// Klines fetches candlestick data for a symbol.
func (c *Client) Klines(ctx context.Context, symbol, interval string, limit int) ([]Kline, error) {
	if !KlineIntervals[interval] {
		return nil, fmt.Errorf("unsupported kline interval: %s", interval)
	}

	params := url.Values{}
	params.Set("symbol", symbol)
	params.Set("interval", interval)
	params.Set("limit", strconv.Itoa(limit))

	body, err := c.get(ctx, "/fapi/v1/klines?"+params.Encode())
	if err != nil {
		return nil, fmt.Errorf("error fetching klines: %w", err)
	}

	var rawKlines [][]interface{}
	if err := json.Unmarshal(body, &rawKlines); err != nil {
		return nil, fmt.Errorf("error parsing klines: %w", err)
	}

	klines := make([]Kline, len(rawKlines))
	for i, raw := range rawKlines {
		if len(raw) < 9 {
			return nil, fmt.Errorf("malformed kline row (len %d)", len(raw))
		}
		klines[i] = Kline{
			OpenTime:         asInt64(raw[0]),
			Open:             parseFloat(raw[1]),
			High:             parseFloat(raw[2]),
			Low:              parseFloat(raw[3]),
			Close:            parseFloat(raw[4]),
			Volume:           parseFloat(raw[5]),
			CloseTime:        asInt64(raw[6]),
			QuoteAssetVolume: parseFloat(raw[7]),
			NumberOfTrades:   int(asInt64(raw[8])),
		}
	}

	return klines, nil
}

// AllTickers fetches 24hr rolling stats for every symbol.
func (c *Client) AllTickers(ctx context.Context) ([]Ticker24h, error) {
	body, err := c.get(ctx, "/fapi/v1/ticker/24hr")
	if err != nil {
		return nil, fmt.Errorf("error fetching tickers: %w", err)
	}

	var tickers []Ticker24h
	if err := json.Unmarshal(body, &tickers); err != nil {
		return nil, fmt.Errorf("error parsing tickers: %w", err)
	}
	return tickers, nil
}

// Ticker24h fetches 24hr rolling stats for the given symbols.
func (c *Client) Ticker24h(ctx context.Context, symbols []string) (map[string]Ticker24h, error) {
	all, err := c.AllTickers(ctx)
	if err != nil {
		return nil, err
	}

	want := make(map[string]bool, len(symbols))
	for _, s := range symbols {
		want[s] = true
	}

	out := make(map[string]Ticker24h, len(symbols))
	for _, t := range all {
		if want[t.Symbol] {
			out[t.Symbol] = t
		}
	}
	return out, nil
}

// TopGainers returns the symbols with the largest 24h percent change.
func (c *Client) TopGainers(ctx context.Context, limit int) ([]Ticker24h, error) {
	all, err := c.AllTickers(ctx)
	if err != nil {
		return nil, err
	}

	sort.Slice(all, func(i, j int) bool {
		return all[i].PriceChangePercent > all[j].PriceChangePercent
	})
	if limit > 0 && limit < len(all) {
		all = all[:limit]
	}
	return all, nil
}

// SymbolPrices fetches the current price of each given symbol.
func (c *Client) SymbolPrices(ctx context.Context, symbols []string) (map[string]float64, error) {
	body, err := c.get(ctx, "/fapi/v1/ticker/price")
	if err != nil {
		return nil, fmt.Errorf("error fetching prices: %w", err)
	}

	var prices []SymbolPrice
	if err := json.Unmarshal(body, &prices); err != nil {
		return nil, fmt.Errorf("error parsing prices: %w", err)
	}

	want := make(map[string]bool, len(symbols))
	for _, s := range symbols {
		want[s] = true
	}

	out := make(map[string]float64, len(symbols))
	for _, p := range prices {
		if want[p.Symbol] {
			out[p.Symbol] = p.Price
		}
	}
	return out, nil
}

func (c *Client) get(ctx context.Context, path string) ([]byte, error) {
	req, err := http.NewRequestWithContext(ctx, http.MethodGet, c.baseURL+path, nil)
	if err != nil {
		return nil, err
	}

	resp, err := c.httpClient.Do(req)
	if err != nil {
		return nil, err
	}
	defer resp.Body.Close()

	body, err := io.ReadAll(resp.Body)
	if err != nil {
		return nil, fmt.Errorf("error reading response: %w", err)
	}

	if resp.StatusCode != http.StatusOK {
		return nil, fmt.Errorf("API error: %s", string(body))
	}
	return body, nil
}

func parseFloat(val interface{}) float64 {
	switch v := val.(type) {
	case string:
		f, _ := strconv.ParseFloat(v, 64)
		return f
	case float64:
		return v
	default:
		return 0
	}
}

func asInt64(val interface{}) int64 {
	switch v := val.(type) {
	case float64:
		return int64(v)
	case string:
		n, _ := strconv.ParseInt(v, 10, 64)
		return n
	default:
		return 0
	}
}
