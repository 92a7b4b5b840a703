package marketdata

import (
	"context"
	"errors"
	"fmt"
	"sort"
	"time"

	"github.com/brendanmcoyne/cs411-final/internal/config"
	"github.com/go-resty/resty/v2"
	"github.com/shopspring/decimal"
	"go.uber.org/zap"
	"golang.org/x/time/rate"
)

const (
	defaultBaseURL = "https://www.alphavantage.co"
	queryPath      = "/query"
)

// ProviderInterface defines the interface for the remote market-data provider.
type ProviderInterface interface {
	Quote(ctx context.Context, ticker string) (decimal.Decimal, time.Time, error)
	History(ctx context.Context, ticker string, days int) ([]ClosePrice, error)
}

// ClosePrice is one daily closing price.
type ClosePrice struct {
	Date  string          `json:"date"`
	Close decimal.Decimal `json:"close"`
}

// Client is a client for the Alpha Vantage REST API.
// It implements the ProviderInterface.
type Client struct {
	client  *resty.Client
	apiKey  string
	timeout time.Duration
	logger  *zap.Logger
	limiter *rate.Limiter
}

// ensure Client implements the interface
var _ ProviderInterface = (*Client)(nil)

// NewClient creates a new market-data API client.
func NewClient(cfg *config.MarketData, logger *zap.Logger) *Client {
	baseURL := cfg.BaseURL
	if baseURL == "" {
		baseURL = defaultBaseURL
	}

	client := resty.New().SetBaseURL(baseURL)

	// rate.Limit is requests per second.
	limiter := rate.NewLimiter(rate.Limit(cfg.RateLimit), cfg.RateLimitBurst)

	timeout := time.Duration(cfg.RequestTimeout) * time.Second
	if timeout <= 0 {
		timeout = 5 * time.Second
	}

	return &Client{
		client:  client,
		apiKey:  cfg.ApiKey,
		timeout: timeout,
		logger:  logger,
		limiter: limiter,
	}
}

// doRequest executes one GET against the provider with rate limiting and a
// bounded deadline. A slow provider must never stall the caller past the
// deadline, so every failure surfaces as one of the two sentinel errors.
func (c *Client) doRequest(ctx context.Context, req *resty.Request) (*resty.Response, error) {
	ctx, cancel := context.WithTimeout(ctx, c.timeout)
	defer cancel()

	if err := c.limiter.Wait(ctx); err != nil {
		return nil, mapProviderError(fmt.Errorf("rate limiter wait failed: %w", err))
	}

	c.logger.Debug("Executing provider request", zap.String("url", c.client.BaseURL+queryPath))
	resp, err := req.SetContext(ctx).Execute("GET", queryPath)
	if err != nil {
		return nil, mapProviderError(err)
	}
	if resp.IsError() {
		return nil, fmt.Errorf("provider returned status %s: %w", resp.Status(), ErrQuoteUnavailable)
	}

	return resp, nil
}

// mapProviderError folds transport failures into the error taxonomy.
func mapProviderError(err error) error {
	if errors.Is(err, context.DeadlineExceeded) {
		return fmt.Errorf("provider call exceeded deadline: %w", ErrProviderTimeout)
	}
	return fmt.Errorf("provider call failed: %v: %w", err, ErrQuoteUnavailable)
}

// globalQuoteResponse mirrors the provider's GLOBAL_QUOTE payload. The odd
// numbered keys are how Alpha Vantage names its JSON fields.
type globalQuoteResponse struct {
	GlobalQuote struct {
		Symbol           string `json:"01. symbol"`
		Price            string `json:"05. price"`
		LatestTradingDay string `json:"07. latest trading day"`
	} `json:"Global Quote"`
}

// Quote fetches the current price for a ticker. An unrecognized ticker comes
// back from the provider as an empty quote object, not an HTTP error.
func (c *Client) Quote(ctx context.Context, ticker string) (decimal.Decimal, time.Time, error) {
	var result globalQuoteResponse

	req := c.client.R().
		SetQueryParams(map[string]string{
			"function": "GLOBAL_QUOTE",
			"symbol":   ticker,
			"apikey":   c.apiKey,
		}).
		SetResult(&result)

	if _, err := c.doRequest(ctx, req); err != nil {
		c.logger.Error("Failed to fetch quote", zap.String("ticker", ticker), zap.Error(err))
		return decimal.Zero, time.Time{}, err
	}

	if result.GlobalQuote.Price == "" {
		c.logger.Warn("Provider returned no quote for ticker", zap.String("ticker", ticker))
		return decimal.Zero, time.Time{}, fmt.Errorf("no quote for %q: %w", ticker, ErrQuoteUnavailable)
	}

	price, err := decimal.NewFromString(result.GlobalQuote.Price)
	if err != nil {
		return decimal.Zero, time.Time{}, fmt.Errorf("unparseable price %q for %q: %w",
			result.GlobalQuote.Price, ticker, ErrQuoteUnavailable)
	}

	return price, time.Now(), nil
}

// dailySeriesResponse mirrors the provider's TIME_SERIES_DAILY payload,
// keyed by ISO date.
type dailySeriesResponse struct {
	Series map[string]struct {
		Close string `json:"4. close"`
	} `json:"Time Series (Daily)"`
}

// History fetches up to days of daily closing prices, ordered oldest first.
func (c *Client) History(ctx context.Context, ticker string, days int) ([]ClosePrice, error) {
	var result dailySeriesResponse

	req := c.client.R().
		SetQueryParams(map[string]string{
			"function":   "TIME_SERIES_DAILY",
			"symbol":     ticker,
			"outputsize": "compact",
			"apikey":     c.apiKey,
		}).
		SetResult(&result)

	if _, err := c.doRequest(ctx, req); err != nil {
		c.logger.Error("Failed to fetch history", zap.String("ticker", ticker), zap.Error(err))
		return nil, err
	}

	if len(result.Series) == 0 {
		return nil, fmt.Errorf("no history for %q: %w", ticker, ErrQuoteUnavailable)
	}

	// ISO dates sort lexicographically, oldest first.
	dates := make([]string, 0, len(result.Series))
	for date := range result.Series {
		dates = append(dates, date)
	}
	sort.Strings(dates)

	if days > 0 && len(dates) > days {
		dates = dates[len(dates)-days:]
	}

	history := make([]ClosePrice, 0, len(dates))
	for _, date := range dates {
		closePrice, err := decimal.NewFromString(result.Series[date].Close)
		if err != nil {
			c.logger.Warn("Skipping unparseable close price",
				zap.String("ticker", ticker), zap.String("date", date))
			continue
		}
		history = append(history, ClosePrice{Date: date, Close: closePrice})
	}

	return history, nil
}
