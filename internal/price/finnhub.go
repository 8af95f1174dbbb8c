package price

import (
	"context"
	"encoding/json"
	"fmt"
	"io"
	"log/slog"
	"net/http"
	"net/url"
	"time"

	"github.com/shopspring/decimal"
	"golang.org/x/time/rate"

	"github.com/atmx/portfolio-engine/internal/model"
)

const (
	DefaultFinnhubURL = "https://finnhub.io/api/v1"
	DefaultTimeout    = 10 * time.Second
	DefaultRateLimit  = 30 // requests per second, the free-tier ceiling
)

// FinnhubClient fetches quotes from the Finnhub REST API.
type FinnhubClient struct {
	baseURL    string
	apiKey     string
	httpClient *http.Client
	limiter    *rate.Limiter
}

// FinnhubOption configures the client.
type FinnhubOption func(*FinnhubClient)

// WithBaseURL overrides the API root.
func WithBaseURL(baseURL string) FinnhubOption {
	return func(c *FinnhubClient) {
		c.baseURL = baseURL
	}
}

// WithRateLimit sets the sustained request rate.
func WithRateLimit(requestsPerSecond int) FinnhubOption {
	return func(c *FinnhubClient) {
		c.limiter = rate.NewLimiter(rate.Limit(requestsPerSecond), requestsPerSecond)
	}
}

// WithTimeout sets the HTTP timeout.
func WithTimeout(timeout time.Duration) FinnhubOption {
	return func(c *FinnhubClient) {
		c.httpClient.Timeout = timeout
	}
}

// NewFinnhubClient creates a Finnhub client.
func NewFinnhubClient(apiKey string, opts ...FinnhubOption) *FinnhubClient {
	c := &FinnhubClient{
		baseURL:    DefaultFinnhubURL,
		apiKey:     apiKey,
		httpClient: &http.Client{Timeout: DefaultTimeout},
		limiter:    rate.NewLimiter(rate.Limit(DefaultRateLimit), DefaultRateLimit),
	}
	for _, opt := range opts {
		opt(c)
	}
	return c
}

// APIError is a non-success response from Finnhub.
type APIError struct {
	StatusCode int
	Message    string
}

func (e *APIError) Error() string {
	return fmt.Sprintf("finnhub: status %d: %s", e.StatusCode, e.Message)
}

// finnhubQuote mirrors the /quote payload.
type finnhubQuote struct {
	Current       decimal.Decimal `json:"c"`
	Change        decimal.Decimal `json:"d"`
	PercentChange decimal.Decimal `json:"dp"`
	High          decimal.Decimal `json:"h"`
	Low           decimal.Decimal `json:"l"`
	Open          decimal.Decimal `json:"o"`
	PreviousClose decimal.Decimal `json:"pc"`
	Timestamp     int64           `json:"t"`
}

// CurrentPrice implements Source.
func (c *FinnhubClient) CurrentPrice(ctx context.Context, ticker string) (*model.Quote, error) {
	if err := c.limiter.Wait(ctx); err != nil {
		return nil, fmt.Errorf("rate limit wait: %w", err)
	}

	params := url.Values{}
	params.Set("symbol", ticker)
	params.Set("token", c.apiKey)
	reqURL := fmt.Sprintf("%s/quote?%s", c.baseURL, params.Encode())

	req, err := http.NewRequestWithContext(ctx, http.MethodGet, reqURL, nil)
	if err != nil {
		return nil, fmt.Errorf("failed to create request: %w", err)
	}

	resp, err := c.httpClient.Do(req)
	if err != nil {
		return nil, fmt.Errorf("failed to execute request: %w", err)
	}
	defer resp.Body.Close()

	switch {
	case resp.StatusCode == http.StatusTooManyRequests:
		return nil, ErrRateLimited
	case resp.StatusCode != http.StatusOK:
		body, _ := io.ReadAll(io.LimitReader(resp.Body, 1024))
		return nil, &APIError{StatusCode: resp.StatusCode, Message: string(body)}
	}

	var raw finnhubQuote
	if err := json.NewDecoder(resp.Body).Decode(&raw); err != nil {
		return nil, fmt.Errorf("failed to decode response: %w", err)
	}

	// Finnhub answers unknown symbols with 200 and an all-zero quote.
	if raw.Current.IsZero() && raw.PreviousClose.IsZero() && raw.Timestamp == 0 {
		return nil, fmt.Errorf("%w: %s", ErrNotFound, ticker)
	}

	q := &model.Quote{
		Ticker:        ticker,
		Price:         raw.Current,
		Change:        raw.Change,
		PercentChange: raw.PercentChange,
		High:          raw.High,
		Low:           raw.Low,
		Open:          raw.Open,
		PreviousClose: raw.PreviousClose,
		Timestamp:     time.Unix(raw.Timestamp, 0).UTC(),
		Source:        "finnhub.io",
	}
	slog.Debug("finnhub quote", "ticker", ticker, "price", q.Price.String())
	return q, nil
}
