package models

import "time"

// TradeSide is the direction of a trade from the trader's perspective.
type TradeSide string

const (
	TradeSideBuy  TradeSide = "buy"
	TradeSideSell TradeSide = "sell"
)

// TradeVenue distinguishes the bonding curve primary market from the AMM.
type TradeVenue string

const (
	TradeVenueBC  TradeVenue = "bc"
	TradeVenueAMM TradeVenue = "amm"
)

// Trade is a single executed swap, deduplicated by signature.
type Trade struct {
	ID               string          `gorm:"type:uuid;primaryKey;default:gen_random_uuid()"`
	MintID           string          `gorm:"type:uuid;index;not null"`
	Signature        string          `gorm:"type:varchar(128);uniqueIndex;not null"`
	Venue            TradeVenue      `gorm:"type:varchar(8);index;not null"`
	Side             TradeSide       `gorm:"type:varchar(8);not null"`
	Trader           string          `gorm:"type:varchar(64);index;not null"`
	BaseAmount       int64           `gorm:"not null"`
	QuoteAmount      int64           `gorm:"not null"`
	PriceUsd         float64
	MarketCapUsd     float64
	ParseConfidence  ParseConfidence `gorm:"type:varchar(8);not null"`
	PossibleSandwich bool            `gorm:"default:false;index"`
	Slot             uint64          `gorm:"index;not null"`
	BlockTime        time.Time       `gorm:"index"`
	CreatedAt        time.Time
}

func (Trade) TableName() string { return "trades" }
