package catalog

import (
	"errors"
	"fmt"
	"strings"

	"github.com/brendanmcoyne/cs411-final/internal/models"
	"go.uber.org/zap"
	"gorm.io/gorm"
)

var (
	// ErrDuplicateInstrument is returned by Add when the ticker already exists.
	ErrDuplicateInstrument = errors.New("instrument already exists")

	// ErrNotFound is returned when an instrument cannot be found.
	ErrNotFound = errors.New("instrument not found")

	// ErrInstrumentInUse is returned by Remove while any user still holds a
	// non-zero position in the instrument.
	ErrInstrumentInUse = errors.New("instrument has open holdings")
)

// Catalog maintains the set of tradable instruments. It enforces ticker
// uniqueness and nothing else; whether a ticker is a real tradable symbol is
// confirmed lazily the first time a price is requested for it.
type Catalog struct {
	db     *gorm.DB
	logger *zap.Logger
}

// NewCatalog creates a new instrument catalog.
func NewCatalog(db *gorm.DB, logger *zap.Logger) *Catalog {
	return &Catalog{db: db, logger: logger}
}

// NormalizeTicker uppercases and trims a ticker symbol.
func NormalizeTicker(ticker string) string {
	return strings.ToUpper(strings.TrimSpace(ticker))
}

// Add creates a new instrument with a normalized ticker.
func (c *Catalog) Add(ticker, description string) (*models.Instrument, error) {
	ticker = NormalizeTicker(ticker)
	if ticker == "" {
		return nil, fmt.Errorf("ticker must not be empty")
	}

	var existing models.Instrument
	err := c.db.Where("ticker = ?", ticker).First(&existing).Error
	if err == nil {
		return nil, fmt.Errorf("instrument %q: %w", ticker, ErrDuplicateInstrument)
	}
	if !errors.Is(err, gorm.ErrRecordNotFound) {
		return nil, fmt.Errorf("failed to look up instrument %q: %w", ticker, err)
	}

	instrument := models.Instrument{Ticker: ticker, Description: description}
	if err := c.db.Create(&instrument).Error; err != nil {
		return nil, fmt.Errorf("failed to create instrument %q: %w", ticker, err)
	}

	c.logger.Info("Instrument added", zap.String("ticker", ticker), zap.Uint("id", instrument.ID))
	return &instrument, nil
}

// Remove deletes an instrument by id. Removal is rejected while anyone holds
// a live position in it; deleting the instrument would orphan their
// holdings and valuation data.
func (c *Catalog) Remove(id uint) error {
	var instrument models.Instrument
	if err := c.db.First(&instrument, id).Error; err != nil {
		if errors.Is(err, gorm.ErrRecordNotFound) {
			return fmt.Errorf("instrument %d: %w", id, ErrNotFound)
		}
		return fmt.Errorf("failed to look up instrument %d: %w", id, err)
	}

	var open int64
	if err := c.db.Model(&models.Holding{}).
		Where("ticker = ? AND shares > 0", instrument.Ticker).
		Count(&open).Error; err != nil {
		return fmt.Errorf("failed to count holdings for %q: %w", instrument.Ticker, err)
	}
	if open > 0 {
		return fmt.Errorf("instrument %q is held by %d position(s): %w",
			instrument.Ticker, open, ErrInstrumentInUse)
	}

	// Hard delete so the ticker can be re-added later without tripping the
	// unique index on a soft-deleted row.
	if err := c.db.Unscoped().Delete(&instrument).Error; err != nil {
		return fmt.Errorf("failed to delete instrument %q: %w", instrument.Ticker, err)
	}

	c.logger.Info("Instrument removed", zap.String("ticker", instrument.Ticker), zap.Uint("id", id))
	return nil
}

// Find looks up an instrument by its (normalized) ticker.
func (c *Catalog) Find(ticker string) (*models.Instrument, error) {
	ticker = NormalizeTicker(ticker)

	var instrument models.Instrument
	if err := c.db.Where("ticker = ?", ticker).First(&instrument).Error; err != nil {
		if errors.Is(err, gorm.ErrRecordNotFound) {
			return nil, fmt.Errorf("instrument %q: %w", ticker, ErrNotFound)
		}
		return nil, fmt.Errorf("failed to look up instrument %q: %w", ticker, err)
	}

	return &instrument, nil
}

// List returns all instruments ordered by ticker.
func (c *Catalog) List() ([]models.Instrument, error) {
	var instruments []models.Instrument
	if err := c.db.Order("ticker asc").Find(&instruments).Error; err != nil {
		return nil, fmt.Errorf("failed to list instruments: %w", err)
	}
	return instruments, nil
}
