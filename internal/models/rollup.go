package models

import "time"

// PoolHourlyStat is an hourly roll-up of trading activity for one pool/curve,
// keyed by the UTC hour bucket it summarizes.
type PoolHourlyStat struct {
	ID            string    `gorm:"type:uuid;primaryKey;default:gen_random_uuid()"`
	MintID        string    `gorm:"type:uuid;index;uniqueIndex:idx_pool_hourly_mint_bucket;not null"`
	BucketStart   time.Time `gorm:"index;uniqueIndex:idx_pool_hourly_mint_bucket;not null"`
	TradeCount    int64     `gorm:"not null"`
	VolumeBaseUsd float64
	UniqueTraders int64     `gorm:"not null"`
	OpenPriceUsd  float64
	ClosePriceUsd float64
	HighPriceUsd  float64
	LowPriceUsd   float64
	CreatedAt     time.Time
}

func (PoolHourlyStat) TableName() string { return "pool_hourly_stats" }

// PoolDailyStat is the daily analogue of PoolHourlyStat, rolled up from the
// hourly buckets by the durability layer's cron job.
type PoolDailyStat struct {
	ID            string    `gorm:"type:uuid;primaryKey;default:gen_random_uuid()"`
	MintID        string    `gorm:"type:uuid;index;uniqueIndex:idx_pool_daily_mint_bucket;not null"`
	BucketStart   time.Time `gorm:"index;uniqueIndex:idx_pool_daily_mint_bucket;not null"`
	TradeCount    int64     `gorm:"not null"`
	VolumeBaseUsd float64
	UniqueTraders int64     `gorm:"not null"`
	OpenPriceUsd  float64
	ClosePriceUsd float64
	HighPriceUsd  float64
	LowPriceUsd   float64
	CreatedAt     time.Time
}

func (PoolDailyStat) TableName() string { return "pool_daily_stats" }
