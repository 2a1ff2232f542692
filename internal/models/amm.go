package models

import "time"

// AmmPool is a constant-product liquidity pool backing a migrated/graduated mint.
type AmmPool struct {
	ID              string `gorm:"type:uuid;primaryKey;default:gen_random_uuid()"`
	MintID          string `gorm:"type:uuid;index;not null"`
	PoolAddress     string `gorm:"type:varchar(64);uniqueIndex;not null"`
	BaseMint        string `gorm:"type:varchar(64);not null"`
	QuoteMint       string `gorm:"type:varchar(64);not null"`
	BaseReserve     int64  `gorm:"not null"`
	QuoteReserve    int64  `gorm:"not null"`
	LPSupply        int64  `gorm:"not null"`
	FeeBps          int32  `gorm:"default:30"`
	TVLUsd          float64
	UtilizationBps  int32
	LastSlot        uint64 `gorm:"index"`
	CreatedAt       time.Time
	UpdatedAt       time.Time
}

func (AmmPool) TableName() string { return "amm_pools" }

// LiquidityEvent records an add/remove liquidity action against a pool, used
// to compute LP share value and impermanent loss at withdrawal time.
type LiquidityEvent struct {
	ID             string `gorm:"type:uuid;primaryKey;default:gen_random_uuid()"`
	PoolID         string `gorm:"type:uuid;index;not null"`
	Signature      string `gorm:"type:varchar(128);uniqueIndex;not null"`
	Provider       string `gorm:"type:varchar(64);index;not null"`
	Kind           string `gorm:"type:varchar(8);not null"` // deposit | withdraw
	BaseAmount     int64  `gorm:"not null"`
	QuoteAmount    int64  `gorm:"not null"`
	LPTokenAmount  int64  `gorm:"not null"`
	Slot           uint64 `gorm:"not null"`
	CreatedAt      time.Time
}

func (LiquidityEvent) TableName() string { return "liquidity_events" }

// FeeEvent records a single fee accrual: either the LP share estimated off a
// swap, or the creator/protocol share actually swept by a collection
// instruction. Kind distinguishes which.
type FeeEvent struct {
	ID          string `gorm:"type:uuid;primaryKey;default:gen_random_uuid()"`
	PoolID      string `gorm:"type:uuid;index;not null"`
	TradeID     string `gorm:"type:uuid;index"`
	Signature   string `gorm:"type:varchar(128);uniqueIndex;not null"`
	Kind        string `gorm:"type:varchar(16);not null"` // lp | creator | protocol
	FeeAmount   int64  `gorm:"not null"`
	QuoteAmount int64  `gorm:"not null"`
	FeeMint     string `gorm:"type:varchar(64);not null"`
	Recipient   string `gorm:"type:varchar(64)"`
	Slot        uint64 `gorm:"not null"`
	BlockTime   time.Time
	CreatedAt   time.Time
}

func (FeeEvent) TableName() string { return "fee_events" }
