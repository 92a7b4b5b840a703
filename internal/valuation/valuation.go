package valuation

import (
	"context"
	"fmt"
	"sort"
	"strings"
	"sync"
	"time"

	"github.com/brendanmcoyne/cs411-final/internal/catalog"
	"github.com/brendanmcoyne/cs411-final/internal/marketdata"
	"github.com/brendanmcoyne/cs411-final/internal/models"
	"github.com/shopspring/decimal"
	"go.uber.org/zap"
)

// PartialValuationError reports the tickers whose quotes could not be
// resolved. A silently-partial total would be misleading for a financial
// figure, so TotalValue fails with this instead of skipping entries.
type PartialValuationError struct {
	Tickers []string
}

func (e *PartialValuationError) Error() string {
	return fmt.Sprintf("valuation incomplete, no quote for: %s", strings.Join(e.Tickers, ", "))
}

// HoldingsReader is the slice of the ledger the valuation service needs.
type HoldingsReader interface {
	Holdings(user string) ([]models.Holding, error)
}

// HoldingValue itemizes one position's current valuation.
type HoldingValue struct {
	Shares decimal.Decimal `json:"shares"`
	Price  decimal.Decimal `json:"price"`
	Value  decimal.Decimal `json:"value"`
	Error  string          `json:"error,omitempty"`
}

// Details combines catalog metadata with the current quote and a best-effort
// close history for one instrument.
type Details struct {
	Ticker      string                  `json:"ticker"`
	Description string                  `json:"description,omitempty"`
	Price       decimal.Decimal         `json:"price"`
	AsOf        time.Time               `json:"as_of"`
	History     []marketdata.ClosePrice `json:"history"`
}

// Service aggregates a user's holdings into point-in-time valuations using
// current quotes.
type Service struct {
	holdings HoldingsReader
	catalog  *catalog.Catalog
	source   marketdata.SourceInterface
	logger   *zap.Logger
}

// NewService creates a new valuation service.
func NewService(holdings HoldingsReader, cat *catalog.Catalog, source marketdata.SourceInterface, logger *zap.Logger) *Service {
	return &Service{
		holdings: holdings,
		catalog:  cat,
		source:   source,
		logger:   logger,
	}
}

type tickerValue struct {
	ticker string
	shares decimal.Decimal
	price  decimal.Decimal
	err    error
}

// fetch resolves a quote per holding concurrently; a slow ticker does not
// hold up the rest.
func (s *Service) fetch(ctx context.Context, holdings []models.Holding) []tickerValue {
	var wg sync.WaitGroup
	results := make(chan tickerValue, len(holdings))

	for _, h := range holdings {
		wg.Add(1)
		go func(h models.Holding) {
			defer wg.Done()
			quote, err := s.source.GetQuote(ctx, h.Ticker)
			results <- tickerValue{ticker: h.Ticker, shares: h.Shares, price: quote.Price, err: err}
		}(h)
	}

	go func() {
		wg.Wait()
		close(results)
	}()

	values := make([]tickerValue, 0, len(holdings))
	for r := range results {
		values = append(values, r)
	}
	return values
}

// TotalValue sums shares * price over the user's live positions. If any
// quote cannot be resolved the whole call fails with a
// PartialValuationError naming the offending tickers.
func (s *Service) TotalValue(ctx context.Context, user string) (decimal.Decimal, error) {
	holdings, err := s.holdings.Holdings(user)
	if err != nil {
		return decimal.Zero, err
	}

	total := decimal.Zero
	var failed []string
	for _, v := range s.fetch(ctx, holdings) {
		if v.err != nil {
			s.logger.Warn("Quote fetch failed during valuation",
				zap.String("user", user),
				zap.String("ticker", v.ticker),
				zap.Error(v.err),
			)
			failed = append(failed, v.ticker)
			continue
		}
		total = total.Add(v.shares.Mul(v.price))
	}

	if len(failed) > 0 {
		sort.Strings(failed)
		return decimal.Zero, &PartialValuationError{Tickers: failed}
	}
	return total, nil
}

// Breakdown itemizes the user's positions by ticker. Unlike TotalValue it
// tolerates partial data: an unresolvable ticker gets its error reported in
// its own entry rather than aborting the call.
func (s *Service) Breakdown(ctx context.Context, user string) (map[string]HoldingValue, error) {
	holdings, err := s.holdings.Holdings(user)
	if err != nil {
		return nil, err
	}

	breakdown := make(map[string]HoldingValue, len(holdings))
	for _, v := range s.fetch(ctx, holdings) {
		if v.err != nil {
			breakdown[v.ticker] = HoldingValue{Shares: v.shares, Error: v.err.Error()}
			continue
		}
		breakdown[v.ticker] = HoldingValue{
			Shares: v.shares,
			Price:  v.price,
			Value:  v.shares.Mul(v.price),
		}
	}
	return breakdown, nil
}

// StockDetails looks up one instrument's description, current quote and
// close history. Quote failure fails the call; history is best-effort and
// degrades to an empty series.
func (s *Service) StockDetails(ctx context.Context, ticker string, historyDays int) (*Details, error) {
	instrument, err := s.catalog.Find(ticker)
	if err != nil {
		return nil, err
	}

	quote, err := s.source.GetQuote(ctx, instrument.Ticker)
	if err != nil {
		return nil, err
	}

	return &Details{
		Ticker:      instrument.Ticker,
		Description: instrument.Description,
		Price:       quote.Price,
		AsOf:        quote.AsOf,
		History:     s.source.GetHistory(ctx, instrument.Ticker, historyDays),
	}, nil
}
