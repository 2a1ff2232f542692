package models

import "time"

// QuarantinedTrade is a trade row the durability layer could not write
// durably after retrying, parked for manual or automated reprocessing
// instead of being dropped.
type QuarantinedTrade struct {
	ID          string `gorm:"type:uuid;primaryKey;default:gen_random_uuid()"`
	Signature   string `gorm:"type:varchar(128);index;not null"`
	Reason      string `gorm:"type:text"`
	PayloadJSON string `gorm:"type:text"`
	CreatedAt   time.Time
}

func (QuarantinedTrade) TableName() string { return "quarantined_trades" }
