package models

import "gorm.io/gorm"

// Instrument represents a tradable stock in the catalog.
type Instrument struct {
	gorm.Model
	Ticker      string `gorm:"uniqueIndex;not null" json:"ticker"`
	Description string `json:"description,omitempty"`
}
