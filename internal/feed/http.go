package feed

import (
	"context"
	"encoding/json"
	"fmt"
	"io"
	"net"
	"net/http"
	"net/url"
	"time"

	"github.com/shopspring/decimal"

	"github.com/stockpick/trade-engine/internal/model"
)

// QuoteClient fetches the latest price of a symbol from an HTTP quote API
// of the form GET {base}/price?symbol=AAPL&apikey=KEY, answering
// {"price":"187.42","timestamp":1767225600}.
type QuoteClient struct {
	baseURL string
	apiKey  string
	client  *http.Client
	now     func() time.Time
}

// NewQuoteClient creates a client with a pooled keep-alive transport.
func NewQuoteClient(baseURL, apiKey string) *QuoteClient {
	dialer := &net.Dialer{Timeout: 2 * time.Second, KeepAlive: 30 * time.Second}
	transport := &http.Transport{
		DialContext:           dialer.DialContext,
		MaxIdleConns:          100,
		MaxIdleConnsPerHost:   10,
		IdleConnTimeout:       90 * time.Second,
		TLSHandshakeTimeout:   2 * time.Second,
		ResponseHeaderTimeout: 2 * time.Second,
		ForceAttemptHTTP2:     true,
	}
	return &QuoteClient{
		baseURL: baseURL,
		apiKey:  apiKey,
		client:  &http.Client{Transport: transport, Timeout: 5 * time.Second},
		now:     time.Now,
	}
}

type quoteResponse struct {
	Price     decimal.Decimal `json:"price"`
	Timestamp int64           `json:"timestamp"`
	Code      int             `json:"code"`
	Message   string          `json:"message"`
}

// Fetch implements pricecache.Fetcher.
func (c *QuoteClient) Fetch(ctx context.Context, symbol string) (model.Quote, error) {
	q := url.Values{}
	q.Set("symbol", symbol)
	if c.apiKey != "" {
		q.Set("apikey", c.apiKey)
	}
	req, err := http.NewRequestWithContext(ctx, http.MethodGet, c.baseURL+"/price?"+q.Encode(), nil)
	if err != nil {
		return model.Quote{}, err
	}

	resp, err := c.client.Do(req)
	if err != nil {
		return model.Quote{}, fmt.Errorf("quote %s: %w", symbol, err)
	}
	defer resp.Body.Close()

	body, err := io.ReadAll(io.LimitReader(resp.Body, 64<<10))
	if err != nil {
		return model.Quote{}, fmt.Errorf("quote %s: read body: %w", symbol, err)
	}
	if resp.StatusCode != http.StatusOK {
		return model.Quote{}, fmt.Errorf("quote %s: upstream status %d", symbol, resp.StatusCode)
	}

	var out quoteResponse
	if err := json.Unmarshal(body, &out); err != nil {
		return model.Quote{}, fmt.Errorf("quote %s: decode: %w", symbol, err)
	}
	// Some providers report errors with a 200 and a code field.
	if out.Code != 0 && out.Code != http.StatusOK {
		return model.Quote{}, fmt.Errorf("quote %s: upstream error %d: %s", symbol, out.Code, out.Message)
	}
	if !out.Price.IsPositive() {
		return model.Quote{}, fmt.Errorf("quote %s: non-positive price %s", symbol, out.Price)
	}

	asOf := c.now().UTC()
	if out.Timestamp > 0 {
		asOf = time.Unix(out.Timestamp, 0).UTC()
	}
	return model.Quote{Symbol: symbol, LastPrice: out.Price, AsOf: asOf, IsRealtime: true}, nil
}
