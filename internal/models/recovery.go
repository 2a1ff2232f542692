package models

import "time"

// Checkpoint persists the last confirmed slot/signature position of the
// stream so the recovery subsystem can resume after a disconnect or crash.
type Checkpoint struct {
	ID        string `gorm:"type:uuid;primaryKey;default:gen_random_uuid()"`
	StreamKey string `gorm:"type:varchar(64);uniqueIndex;not null"`
	Slot      uint64 `gorm:"not null"`
	Signature string `gorm:"type:varchar(128)"`
	UpdatedAt time.Time
}

func (Checkpoint) TableName() string { return "checkpoints" }

// RecoveryRequest records a detected gap between two slots that must be
// replayed against the upstream backfill RPC before the checkpoint can advance.
type RecoveryRequest struct {
	ID          string `gorm:"type:uuid;primaryKey;default:gen_random_uuid()"`
	StreamKey   string `gorm:"type:varchar(64);index;not null"`
	FromSlot    uint64 `gorm:"not null"`
	ToSlot      uint64 `gorm:"not null"`
	Resolved    bool   `gorm:"default:false;index"`
	Attempts    int    `gorm:"default:0"`
	CreatedAt   time.Time
	ResolvedAt  *time.Time
}

func (RecoveryRequest) TableName() string { return "recovery_requests" }
