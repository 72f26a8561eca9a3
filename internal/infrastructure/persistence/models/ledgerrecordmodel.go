// Package models contains the database persistence models, the
// anti-corruption layer between domain entities and table rows.
package models

import (
	"time"

	"gorm.io/datatypes"
)

// LedgerRecordModel is the persistence model for the purchase ledger: one row
// per subject holding the most recent known purchase. Server-side webhook
// processors and the client's write-back path both upsert into this table.
type LedgerRecordModel struct {
	ID               uint       `gorm:"primarykey"`
	SubjectKey       string     `gorm:"not null;size:128;uniqueIndex:idx_ledger_subject"`
	ProductID        string     `gorm:"not null;size:128"`
	PurchasedAt      time.Time  `gorm:"not null"`
	ExpiresAt        *time.Time `gorm:"index:idx_ledger_expires"`
	Active           bool       `gorm:"not null;default:false;index:idx_ledger_active"`
	LastNotification string     `gorm:"size:32"`
	Metadata         datatypes.JSON
	CreatedAt        time.Time
	UpdatedAt        time.Time
}

// TableName specifies the table name for GORM
func (LedgerRecordModel) TableName() string {
	return "ledger_records"
}
