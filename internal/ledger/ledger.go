package ledger

import (
	"context"
	"errors"
	"fmt"
	"time"

	"github.com/brendanmcoyne/cs411-final/internal/catalog"
	"github.com/brendanmcoyne/cs411-final/internal/marketdata"
	"github.com/brendanmcoyne/cs411-final/internal/models"
	"github.com/google/uuid"
	"github.com/shopspring/decimal"
	"go.uber.org/zap"
	"gorm.io/gorm"
)

var (
	// ErrInvalidQuantity is returned when a trade quantity is zero or negative.
	ErrInvalidQuantity = errors.New("share quantity must be positive")

	// ErrUnknownInstrument is returned by Buy when the ticker is not in the catalog.
	ErrUnknownInstrument = errors.New("unknown instrument")

	// ErrNoHolding is returned by Sell when the user holds none of the instrument.
	ErrNoHolding = errors.New("no holding for instrument")

	// ErrInsufficientShares is returned by Sell when the quantity exceeds the
	// current position. Positions never go negative.
	ErrInsufficientShares = errors.New("insufficient shares")
)

// Ledger owns all holding mutations. Holdings and the transaction log are
// only ever written through Buy and Sell, each of which commits the holding
// change and the appended trade record as one database transaction.
//
// Trades execute at "quoted-now": the price fetched inside the same call is
// the price committed, never re-validated against a later quote.
type Ledger struct {
	db      *gorm.DB
	catalog *catalog.Catalog
	source  marketdata.SourceInterface
	logger  *zap.Logger
	locks   *keyedMutex
}

// NewLedger creates a new ledger.
func NewLedger(db *gorm.DB, cat *catalog.Catalog, source marketdata.SourceInterface, logger *zap.Logger) *Ledger {
	return &Ledger{
		db:      db,
		catalog: cat,
		source:  source,
		logger:  logger,
		locks:   newKeyedMutex(),
	}
}

// Buy purchases shares of an instrument at the current quote. There is no
// funds check: capital is virtual and unlimited.
func (l *Ledger) Buy(ctx context.Context, user, ticker string, shares decimal.Decimal) (*models.Transaction, error) {
	if !shares.IsPositive() {
		return nil, fmt.Errorf("buy %s shares of %q: %w", shares, ticker, ErrInvalidQuantity)
	}

	instrument, err := l.catalog.Find(ticker)
	if err != nil {
		if errors.Is(err, catalog.ErrNotFound) {
			return nil, fmt.Errorf("buy %q: %w", ticker, ErrUnknownInstrument)
		}
		return nil, err
	}
	ticker = instrument.Ticker

	lock := l.locks.get(holdingKey{user: user, ticker: ticker})
	lock.Lock()
	defer lock.Unlock()

	quote, err := l.source.GetQuote(ctx, ticker)
	if err != nil {
		return nil, err
	}

	cost := shares.Mul(quote.Price)

	trade := models.Transaction{
		TradeID:       uuid.NewString(),
		User:          user,
		Ticker:        ticker,
		Type:          models.TradeTypeBuy,
		Shares:        shares,
		PricePerShare: quote.Price,
		TotalAmount:   cost,
		Timestamp:     time.Now().Unix(),
	}

	err = l.db.Transaction(func(tx *gorm.DB) error {
		var holding models.Holding
		err := tx.Where("user = ? AND ticker = ?", user, ticker).First(&holding).Error
		switch {
		case errors.Is(err, gorm.ErrRecordNotFound):
			holding = models.Holding{User: user, Ticker: ticker, Shares: shares, TotalCost: cost}
			if err := tx.Create(&holding).Error; err != nil {
				return fmt.Errorf("failed to create holding: %w", err)
			}
		case err != nil:
			return fmt.Errorf("failed to load holding: %w", err)
		default:
			holding.Shares = holding.Shares.Add(shares)
			holding.TotalCost = holding.TotalCost.Add(cost)
			if err := tx.Save(&holding).Error; err != nil {
				return fmt.Errorf("failed to update holding: %w", err)
			}
		}

		if err := tx.Create(&trade).Error; err != nil {
			return fmt.Errorf("failed to append transaction: %w", err)
		}
		return nil
	})
	if err != nil {
		l.logger.Error("Buy failed to commit", zap.String("user", user), zap.String("ticker", ticker), zap.Error(err))
		return nil, err
	}

	l.logger.Info("Executed BUY",
		zap.String("user", user),
		zap.String("ticker", ticker),
		zap.String("shares", shares.String()),
		zap.String("price", quote.Price.String()),
		zap.String("cost", cost.String()),
	)
	return &trade, nil
}

// Sell disposes of shares of a held instrument at the current quote. The
// cost basis leaves the position in proportion to the shares sold
// (average-cost method). A position emptied to zero shares is pruned.
func (l *Ledger) Sell(ctx context.Context, user, ticker string, shares decimal.Decimal) (*models.Transaction, error) {
	if !shares.IsPositive() {
		return nil, fmt.Errorf("sell %s shares of %q: %w", shares, ticker, ErrInvalidQuantity)
	}
	ticker = catalog.NormalizeTicker(ticker)

	// The lock covers the holding read, the quote fetch and the commit, so a
	// concurrent sell can never observe a stale share count and oversell.
	// The quote call is deadline-bounded, which bounds the hold time too.
	lock := l.locks.get(holdingKey{user: user, ticker: ticker})
	lock.Lock()
	defer lock.Unlock()

	var holding models.Holding
	err := l.db.Where("user = ? AND ticker = ?", user, ticker).First(&holding).Error
	if errors.Is(err, gorm.ErrRecordNotFound) {
		return nil, fmt.Errorf("sell %q for user %q: %w", ticker, user, ErrNoHolding)
	}
	if err != nil {
		return nil, fmt.Errorf("failed to load holding: %w", err)
	}

	if shares.GreaterThan(holding.Shares) {
		return nil, fmt.Errorf("sell %s shares of %q but only %s held: %w",
			shares, ticker, holding.Shares, ErrInsufficientShares)
	}

	quote, err := l.source.GetQuote(ctx, ticker)
	if err != nil {
		return nil, err
	}

	proceeds := shares.Mul(quote.Price)
	costOut := holding.TotalCost.Mul(shares).Div(holding.Shares)
	remainingShares := holding.Shares.Sub(shares)
	remainingCost := holding.TotalCost.Sub(costOut)

	trade := models.Transaction{
		TradeID:       uuid.NewString(),
		User:          user,
		Ticker:        ticker,
		Type:          models.TradeTypeSell,
		Shares:        shares,
		PricePerShare: quote.Price,
		TotalAmount:   proceeds,
		Timestamp:     time.Now().Unix(),
	}

	err = l.db.Transaction(func(tx *gorm.DB) error {
		if remainingShares.IsZero() {
			// Hard delete so a later buy can recreate the row under the
			// unique (user, ticker) index.
			if err := tx.Unscoped().Delete(&holding).Error; err != nil {
				return fmt.Errorf("failed to prune emptied holding: %w", err)
			}
		} else {
			holding.Shares = remainingShares
			holding.TotalCost = remainingCost
			if err := tx.Save(&holding).Error; err != nil {
				return fmt.Errorf("failed to update holding: %w", err)
			}
		}

		if err := tx.Create(&trade).Error; err != nil {
			return fmt.Errorf("failed to append transaction: %w", err)
		}
		return nil
	})
	if err != nil {
		l.logger.Error("Sell failed to commit", zap.String("user", user), zap.String("ticker", ticker), zap.Error(err))
		return nil, err
	}

	l.logger.Info("Executed SELL",
		zap.String("user", user),
		zap.String("ticker", ticker),
		zap.String("shares", shares.String()),
		zap.String("price", quote.Price.String()),
		zap.String("proceeds", proceeds.String()),
	)
	return &trade, nil
}

// Holdings returns the user's live positions.
func (l *Ledger) Holdings(user string) ([]models.Holding, error) {
	var holdings []models.Holding
	if err := l.db.Where("user = ? AND shares > 0", user).Find(&holdings).Error; err != nil {
		return nil, fmt.Errorf("failed to load holdings for %q: %w", user, err)
	}
	return holdings, nil
}

// Transactions returns the user's trade history, most recent first.
func (l *Ledger) Transactions(user string) ([]models.Transaction, error) {
	var trades []models.Transaction
	if err := l.db.Where("user = ?", user).Order("timestamp desc, id desc").Find(&trades).Error; err != nil {
		return nil, fmt.Errorf("failed to load transactions for %q: %w", user, err)
	}
	return trades, nil
}
