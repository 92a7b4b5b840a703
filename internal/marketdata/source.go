package marketdata

import (
	"context"
	"sync"
	"time"

	"github.com/shopspring/decimal"
	"go.uber.org/zap"
)

// Quote is a price observation for a ticker as of a specific instant.
type Quote struct {
	Ticker string          `json:"ticker"`
	Price  decimal.Decimal `json:"price"`
	AsOf   time.Time       `json:"as_of"`
}

// SourceInterface is the price capability consumed by the ledger and the
// valuation service.
type SourceInterface interface {
	GetQuote(ctx context.Context, ticker string) (Quote, error)
	GetHistory(ctx context.Context, ticker string, days int) []ClosePrice
}

type cachedQuote struct {
	quote   Quote
	fetched time.Time
}

// Source serves quotes from a short-lived per-ticker cache in front of the
// remote provider, bounding call volume and latency variance.
type Source struct {
	provider ProviderInterface
	ttl      time.Duration
	logger   *zap.Logger

	mu    sync.Mutex
	cache map[string]cachedQuote
}

// ensure Source implements the interface
var _ SourceInterface = (*Source)(nil)

// NewSource creates a caching price source with the given freshness window.
func NewSource(provider ProviderInterface, ttl time.Duration, logger *zap.Logger) *Source {
	if ttl <= 0 {
		ttl = 60 * time.Second
	}
	return &Source{
		provider: provider,
		ttl:      ttl,
		logger:   logger,
		cache:    make(map[string]cachedQuote),
	}
}

// GetQuote returns the cached quote for a ticker while it is younger than
// the freshness window, otherwise refreshes it from the provider. Concurrent
// refreshes of the same ticker may race; each stores a self-consistent quote
// and the last writer wins.
func (s *Source) GetQuote(ctx context.Context, ticker string) (Quote, error) {
	s.mu.Lock()
	if c, ok := s.cache[ticker]; ok && time.Since(c.fetched) < s.ttl {
		s.mu.Unlock()
		return c.quote, nil
	}
	s.mu.Unlock()

	price, asOf, err := s.provider.Quote(ctx, ticker)
	if err != nil {
		return Quote{}, err
	}

	quote := Quote{Ticker: ticker, Price: price, AsOf: asOf}

	s.mu.Lock()
	s.cache[ticker] = cachedQuote{quote: quote, fetched: time.Now()}
	s.mu.Unlock()

	s.logger.Debug("Refreshed quote",
		zap.String("ticker", ticker),
		zap.String("price", price.String()),
	)
	return quote, nil
}

// GetHistory fetches daily closing prices, oldest first. History is
// supplementary data: provider failures degrade to an empty series instead
// of failing the caller.
func (s *Source) GetHistory(ctx context.Context, ticker string, days int) []ClosePrice {
	history, err := s.provider.History(ctx, ticker, days)
	if err != nil {
		s.logger.Warn("Failed to fetch price history",
			zap.String("ticker", ticker),
			zap.Error(err),
		)
		return nil
	}
	return history
}
