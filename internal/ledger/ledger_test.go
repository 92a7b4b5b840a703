package ledger

import (
	"context"
	"fmt"
	"strings"
	"sync"
	"testing"
	"time"

	"github.com/brendanmcoyne/cs411-final/internal/catalog"
	"github.com/brendanmcoyne/cs411-final/internal/marketdata"
	"github.com/brendanmcoyne/cs411-final/internal/models"
	"github.com/shopspring/decimal"
	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/mock"
	"go.uber.org/zap"
	"gorm.io/driver/sqlite"
	"gorm.io/gorm"
)

// MockSource is a mock implementation of marketdata.SourceInterface.
type MockSource struct {
	mock.Mock
}

func (m *MockSource) GetQuote(ctx context.Context, ticker string) (marketdata.Quote, error) {
	args := m.Called(ticker)
	return args.Get(0).(marketdata.Quote), args.Error(1)
}

func (m *MockSource) GetHistory(ctx context.Context, ticker string, days int) []marketdata.ClosePrice {
	args := m.Called(ticker, days)
	if args.Get(0) == nil {
		return nil
	}
	return args.Get(0).([]marketdata.ClosePrice)
}

// setupTest creates a ledger over a fresh in-memory database and a mock
// price source.
func setupTest(t *testing.T) (*Ledger, *MockSource, *gorm.DB) {
	// A named shared-cache DSN so every pooled connection sees the same
	// in-memory database, one database per test.
	dsn := fmt.Sprintf("file:%s?mode=memory&cache=shared", strings.ReplaceAll(t.Name(), "/", "_"))
	db, err := gorm.Open(sqlite.Open(dsn), &gorm.Config{})
	assert.NoError(t, err)

	err = db.AutoMigrate(&models.Instrument{}, &models.Holding{}, &models.Transaction{})
	assert.NoError(t, err)

	cat := catalog.NewCatalog(db, zap.NewNop())
	source := new(MockSource)

	return NewLedger(db, cat, source, zap.NewNop()), source, db
}

func quoteAt(ticker, price string) marketdata.Quote {
	return marketdata.Quote{
		Ticker: ticker,
		Price:  decimal.RequireFromString(price),
		AsOf:   time.Now(),
	}
}

func addInstrument(t *testing.T, db *gorm.DB, ticker string) {
	assert.NoError(t, db.Create(&models.Instrument{Ticker: ticker}).Error)
}

func TestBuy_InvalidQuantity(t *testing.T) {
	led, _, db := setupTest(t)
	addInstrument(t, db, "AAPL")

	_, err := led.Buy(context.Background(), "alice", "AAPL", decimal.Zero)
	assert.ErrorIs(t, err, ErrInvalidQuantity)

	_, err = led.Buy(context.Background(), "alice", "AAPL", decimal.NewFromInt(-3))
	assert.ErrorIs(t, err, ErrInvalidQuantity)

	var count int64
	assert.NoError(t, db.Model(&models.Transaction{}).Count(&count).Error)
	assert.Zero(t, count)
}

func TestBuy_UnknownInstrument(t *testing.T) {
	led, _, _ := setupTest(t)

	_, err := led.Buy(context.Background(), "alice", "NOSUCH", decimal.NewFromInt(1))

	assert.ErrorIs(t, err, ErrUnknownInstrument)
}

func TestBuy_QuoteUnavailable(t *testing.T) {
	led, source, db := setupTest(t)
	addInstrument(t, db, "AAPL")

	source.On("GetQuote", "AAPL").Return(marketdata.Quote{}, marketdata.ErrQuoteUnavailable)

	_, err := led.Buy(context.Background(), "alice", "AAPL", decimal.NewFromInt(1))

	// The provider error propagates unchanged and nothing is committed.
	assert.ErrorIs(t, err, marketdata.ErrQuoteUnavailable)

	var count int64
	assert.NoError(t, db.Model(&models.Holding{}).Count(&count).Error)
	assert.Zero(t, count)
}

func TestBuyThenSell_CostBasis(t *testing.T) {
	led, source, db := setupTest(t)
	addInstrument(t, db, "AAPL")

	source.On("GetQuote", "AAPL").Return(quoteAt("AAPL", "174.35"), nil)

	// Buy 5 @ 174.35
	buy, err := led.Buy(context.Background(), "alice", "aapl", decimal.NewFromInt(5))
	assert.NoError(t, err)
	assert.Equal(t, models.TradeTypeBuy, buy.Type)
	assert.Equal(t, "AAPL", buy.Ticker)
	assert.True(t, buy.Shares.Equal(decimal.NewFromInt(5)))
	assert.True(t, buy.PricePerShare.Equal(decimal.RequireFromString("174.35")))
	assert.True(t, buy.TotalAmount.Equal(decimal.RequireFromString("871.75")))
	assert.NotEmpty(t, buy.TradeID)

	var holding models.Holding
	assert.NoError(t, db.Where("user = ? AND ticker = ?", "alice", "AAPL").First(&holding).Error)
	assert.True(t, holding.Shares.Equal(decimal.NewFromInt(5)))
	assert.True(t, holding.TotalCost.Equal(decimal.RequireFromString("871.75")))

	// Sell 3 @ 174.35: basis leaves proportionally.
	sell, err := led.Sell(context.Background(), "alice", "AAPL", decimal.NewFromInt(3))
	assert.NoError(t, err)
	assert.Equal(t, models.TradeTypeSell, sell.Type)
	assert.True(t, sell.TotalAmount.Equal(decimal.RequireFromString("523.05")))

	assert.NoError(t, db.Where("user = ? AND ticker = ?", "alice", "AAPL").First(&holding).Error)
	assert.True(t, holding.Shares.Equal(decimal.NewFromInt(2)))
	assert.True(t, holding.TotalCost.Equal(decimal.RequireFromString("348.70")))

	// Exactly one transaction per completed trade.
	trades, err := led.Transactions("alice")
	assert.NoError(t, err)
	assert.Len(t, trades, 2)
	for _, trade := range trades {
		assert.True(t, trade.TotalAmount.Equal(trade.Shares.Mul(trade.PricePerShare)))
	}
}

func TestBuyThenSellAll_EmptiesPosition(t *testing.T) {
	led, source, db := setupTest(t)
	addInstrument(t, db, "AAPL")

	source.On("GetQuote", "AAPL").Return(quoteAt("AAPL", "174.35"), nil)

	_, err := led.Buy(context.Background(), "alice", "AAPL", decimal.NewFromInt(4))
	assert.NoError(t, err)

	_, err = led.Sell(context.Background(), "alice", "AAPL", decimal.NewFromInt(4))
	assert.NoError(t, err)

	// The emptied holding is pruned.
	holdings, err := led.Holdings("alice")
	assert.NoError(t, err)
	assert.Empty(t, holdings)

	// And can be re-opened by a later buy.
	_, err = led.Buy(context.Background(), "alice", "AAPL", decimal.NewFromInt(1))
	assert.NoError(t, err)

	var holding models.Holding
	assert.NoError(t, db.Where("user = ? AND ticker = ?", "alice", "AAPL").First(&holding).Error)
	assert.True(t, holding.Shares.Equal(decimal.NewFromInt(1)))
	assert.True(t, holding.TotalCost.Equal(decimal.RequireFromString("174.35")))
}

func TestSell_NoHolding(t *testing.T) {
	led, _, db := setupTest(t)
	addInstrument(t, db, "AAPL")

	_, err := led.Sell(context.Background(), "alice", "AAPL", decimal.NewFromInt(1))

	assert.ErrorIs(t, err, ErrNoHolding)
}

func TestSell_InsufficientShares(t *testing.T) {
	led, source, db := setupTest(t)
	addInstrument(t, db, "AAPL")

	source.On("GetQuote", "AAPL").Return(quoteAt("AAPL", "174.35"), nil)

	_, err := led.Buy(context.Background(), "alice", "AAPL", decimal.NewFromInt(2))
	assert.NoError(t, err)

	_, err = led.Sell(context.Background(), "alice", "AAPL", decimal.NewFromInt(5))
	assert.ErrorIs(t, err, ErrInsufficientShares)

	// The failed sell left the position untouched.
	var holding models.Holding
	assert.NoError(t, db.Where("user = ? AND ticker = ?", "alice", "AAPL").First(&holding).Error)
	assert.True(t, holding.Shares.Equal(decimal.NewFromInt(2)))

	trades, err := led.Transactions("alice")
	assert.NoError(t, err)
	assert.Len(t, trades, 1) // only the buy
}

func TestSell_Concurrent_NeverOversells(t *testing.T) {
	led, source, db := setupTest(t)
	addInstrument(t, db, "AAPL")

	source.On("GetQuote", "AAPL").Return(quoteAt("AAPL", "174.35"), nil)

	_, err := led.Buy(context.Background(), "alice", "AAPL", decimal.NewFromInt(5))
	assert.NoError(t, err)

	// 10 concurrent sells of 1 share against a position of 5.
	var wg sync.WaitGroup
	results := make(chan error, 10)
	for i := 0; i < 10; i++ {
		wg.Add(1)
		go func() {
			defer wg.Done()
			_, err := led.Sell(context.Background(), "alice", "AAPL", decimal.NewFromInt(1))
			results <- err
		}()
	}
	wg.Wait()
	close(results)

	succeeded := 0
	for err := range results {
		if err == nil {
			succeeded++
		} else {
			assert.ErrorIs(t, err, ErrInsufficientShares)
		}
	}

	// Exactly one success per unit of availability; shares never go negative.
	assert.Equal(t, 5, succeeded)

	holdings, err := led.Holdings("alice")
	assert.NoError(t, err)
	assert.Empty(t, holdings)

	var sells int64
	assert.NoError(t, db.Model(&models.Transaction{}).Where("type = ?", models.TradeTypeSell).Count(&sells).Error)
	assert.EqualValues(t, 5, sells)
}

func TestHoldings_ScopedToUser(t *testing.T) {
	led, source, db := setupTest(t)
	addInstrument(t, db, "AAPL")
	addInstrument(t, db, "GOOG")

	source.On("GetQuote", "AAPL").Return(quoteAt("AAPL", "174.35"), nil)
	source.On("GetQuote", "GOOG").Return(quoteAt("GOOG", "201.10"), nil)

	_, err := led.Buy(context.Background(), "alice", "AAPL", decimal.NewFromInt(1))
	assert.NoError(t, err)
	_, err = led.Buy(context.Background(), "bob", "GOOG", decimal.NewFromInt(2))
	assert.NoError(t, err)

	holdings, err := led.Holdings("alice")
	assert.NoError(t, err)
	assert.Len(t, holdings, 1)
	assert.Equal(t, "AAPL", holdings[0].Ticker)
}
