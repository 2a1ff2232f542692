package models

import (
	"time"

	"github.com/shopspring/decimal"
)

// LifecycleState is the coarse phase of a token's market lifecycle.
type LifecycleState string

const (
	LifecycleBonding    LifecycleState = "bonding"
	LifecycleMigrating  LifecycleState = "migrating"
	LifecycleGraduated  LifecycleState = "graduated"
	LifecycleAbandoned  LifecycleState = "abandoned"
)

// ParseConfidence records how sure the decoder is about a parsed instruction.
type ParseConfidence string

const (
	ParseConfidenceHigh   ParseConfidence = "high"
	ParseConfidenceMedium ParseConfidence = "medium"
)

// Mint is the canonical row for a single SPL token mint tracked by the pipeline.
type Mint struct {
	ID              string         `gorm:"type:uuid;primaryKey;default:gen_random_uuid()"`
	Address         string         `gorm:"type:varchar(64);uniqueIndex;not null"`
	Symbol          string         `gorm:"type:varchar(32)"`
	Name            string         `gorm:"type:varchar(128)"`
	URI             string         `gorm:"type:text"`
	Decimals        int16          `gorm:"default:6"`
	TotalSupply     int64          `gorm:"not null"`
	Creator         string         `gorm:"type:varchar(64)"`
	LifecycleState  LifecycleState `gorm:"type:varchar(16);index;not null;default:'bonding'"`
	MetadataResolved bool          `gorm:"default:false"`
	MetadataSource  string         `gorm:"type:varchar(16)"` // "primary" or "fallback"
	MetadataUpdatedAt *time.Time
	FirstSeenSlot   uint64         `gorm:"not null"`
	LastActivitySlot uint64        `gorm:"index"`
	CreatedAt       time.Time
	UpdatedAt       time.Time
}

func (Mint) TableName() string { return "mints" }

// BondingCurveAccount mirrors the on-chain pump.fun-style bonding curve state
// for a mint, tracked independently of trade history for O(1) pricing reads.
type BondingCurveAccount struct {
	ID                   string `gorm:"type:uuid;primaryKey;default:gen_random_uuid()"`
	MintID               string `gorm:"type:uuid;index;not null"`
	CurveAddress         string `gorm:"type:varchar(64);uniqueIndex;not null"`
	VirtualTokenReserves int64  `gorm:"not null"`
	VirtualSolReserves   int64  `gorm:"not null"`
	RealTokenReserves    int64  `gorm:"not null"`
	RealSolReserves      int64  `gorm:"not null"`
	Complete             bool   `gorm:"default:false;index"`
	LastSlot             uint64 `gorm:"index"`
	UpdatedAt            time.Time
}

func (BondingCurveAccount) TableName() string { return "bonding_curve_accounts" }

// LifecycleTransition records every phase change a mint goes through, for audit
// and for resolving graduations that straddle the BC/AMM boundary.
type LifecycleTransition struct {
	ID        string         `gorm:"type:uuid;primaryKey;default:gen_random_uuid()"`
	MintID    string         `gorm:"type:uuid;index;not null"`
	FromState LifecycleState `gorm:"type:varchar(16)"`
	ToState   LifecycleState `gorm:"type:varchar(16);not null"`
	Reason    string         `gorm:"type:varchar(128)"`
	Slot      uint64         `gorm:"not null"`
	CreatedAt time.Time
}

func (LifecycleTransition) TableName() string { return "lifecycle_transitions" }

// USDValue converts a raw base-unit quantity to a decimal.Decimal given decimals.
func USDValue(raw int64, decimals int16) decimal.Decimal {
	return decimal.New(raw, -int32(decimals))
}
