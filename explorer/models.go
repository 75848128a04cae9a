package explorer

import (
	"time"

	"github.com/google/uuid"
	"gorm.io/gorm"
)

// EscrowRow is the queryable projection of an escrow record.
type EscrowRow struct {
	JobID     uint64 `gorm:"primaryKey;autoIncrement:false"`
	Business  string `gorm:"size:64;index"`
	Worker    string `gorm:"size:64;index"`
	Amount    string `gorm:"size:80;not null"`
	Latitude  int64
	Longitude int64
	Radius    uint64
	Status    string `gorm:"size:16;index"`
	CreatedAt int64  `gorm:"autoCreateTime:false"`
	UpdatedAt time.Time
}

// EventRow is one committed escrow event.
type EventRow struct {
	ID         uuid.UUID `gorm:"type:uuid;primaryKey"`
	JobID      uint64    `gorm:"index"`
	Type       string    `gorm:"size:32;index"`
	Label      string    `gorm:"size:64"`
	Attributes string    `gorm:"type:text"`
	RecordedAt time.Time `gorm:"index"`
}

// AutoMigrate creates or updates the indexer tables.
func AutoMigrate(db *gorm.DB) error {
	return db.AutoMigrate(&EscrowRow{}, &EventRow{})
}
