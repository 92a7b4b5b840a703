package models

import (
	"github.com/shopspring/decimal"
	"gorm.io/gorm"
)

// Holding is one user's current position in one instrument.
// Shares never goes negative. Rows are mutated only by the ledger's
// Buy/Sell operations.
type Holding struct {
	gorm.Model
	User      string          `gorm:"uniqueIndex:idx_user_ticker;not null" json:"user"`
	Ticker    string          `gorm:"uniqueIndex:idx_user_ticker;not null" json:"ticker"`
	Shares    decimal.Decimal `gorm:"type:decimal(20,8);not null" json:"shares"`
	TotalCost decimal.Decimal `gorm:"type:decimal(20,8);not null" json:"total_cost"`
}
