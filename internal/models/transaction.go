package models

import (
	"github.com/shopspring/decimal"
	"gorm.io/gorm"
)

const (
	TradeTypeBuy  = "BUY"
	TradeTypeSell = "SELL"
)

// Transaction is an immutable record of one completed trade. Rows are
// append-only; they are never updated or deleted, so the holdings table can
// always be reconstructed from them.
type Transaction struct {
	gorm.Model
	TradeID       string          `gorm:"uniqueIndex;not null" json:"trade_id"`
	User          string          `gorm:"index;not null" json:"user"`
	Ticker        string          `gorm:"not null" json:"ticker"`
	Type          string          `json:"type"` // "BUY" or "SELL"
	Shares        decimal.Decimal `gorm:"type:decimal(20,8)" json:"shares"`
	PricePerShare decimal.Decimal `gorm:"type:decimal(20,8)" json:"price_per_share"`
	TotalAmount   decimal.Decimal `gorm:"type:decimal(20,8)" json:"total_amount"` // cost for BUY, proceeds for SELL
	Timestamp     int64           `json:"timestamp"`
}
