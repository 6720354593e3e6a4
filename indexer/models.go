package indexer

import (
	"time"

	"gorm.io/gorm"
)

// EventRecord is one published protocol event. Records form a hash chain in
// Seq order: Digest covers the record and the previous record's digest.
type EventRecord struct {
	Seq        uint64    `gorm:"primaryKey;autoIncrement:false" json:"seq"`
	Height     uint64    `gorm:"index" json:"height"`
	Op         string    `gorm:"size:64;index" json:"op"`
	Type       string    `gorm:"size:64;index" json:"type"`
	Attributes string    `gorm:"type:text" json:"attributes"`
	PrevDigest string    `gorm:"size:64" json:"prevDigest"`
	Digest     string    `gorm:"size:64;uniqueIndex" json:"digest"`
	CreatedAt  time.Time `json:"createdAt"`
}

// TableName pins the table name independent of the struct name.
func (EventRecord) TableName() string { return "protocol_events" }

// AutoMigrate performs the schema migrations for the index.
func AutoMigrate(db *gorm.DB) error {
	return db.AutoMigrate(&EventRecord{})
}
