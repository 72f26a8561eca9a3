// Package mappers handles conversion between domain entities and persistence models.
package mappers

import (
	"encoding/json"
	"fmt"
	"time"

	"gorm.io/datatypes"

	"github.com/daybrief/daybrief/internal/domain/entitlement"
	"github.com/daybrief/daybrief/internal/infrastructure/persistence/models"
)

// LedgerRecordMapper handles the conversion between ledger records and their
// persistence model.
type LedgerRecordMapper interface {
	ToRecord(model *models.LedgerRecordModel) (*entitlement.LedgerRecord, error)
	ToModel(subjectKey string, record *entitlement.LedgerRecord) (*models.LedgerRecordModel, error)
}

type ledgerRecordMapper struct{}

// NewLedgerRecordMapper creates a new ledger record mapper
func NewLedgerRecordMapper() LedgerRecordMapper {
	return &ledgerRecordMapper{}
}

// ToRecord converts a persistence model to a domain ledger record
func (m *ledgerRecordMapper) ToRecord(model *models.LedgerRecordModel) (*entitlement.LedgerRecord, error) {
	if model == nil {
		return nil, nil
	}

	notification := entitlement.NotificationType(model.LastNotification)
	if !notification.IsValid() {
		return nil, fmt.Errorf("invalid notification type in row %d: %q", model.ID, model.LastNotification)
	}

	var metadata map[string]any
	if len(model.Metadata) > 0 {
		if err := json.Unmarshal(model.Metadata, &metadata); err != nil {
			return nil, fmt.Errorf("failed to unmarshal ledger record metadata: %w", err)
		}
	}

	return &entitlement.LedgerRecord{
		ProductID:        model.ProductID,
		PurchasedAt:      model.PurchasedAt.UTC(),
		ExpiresAt:        toUTC(model.ExpiresAt),
		Active:           model.Active,
		LastNotification: notification,
		Metadata:         metadata,
		UpdatedAt:        model.UpdatedAt.UTC(),
	}, nil
}

// ToModel converts a domain ledger record to a persistence model
func (m *ledgerRecordMapper) ToModel(subjectKey string, record *entitlement.LedgerRecord) (*models.LedgerRecordModel, error) {
	if record == nil {
		return nil, nil
	}
	if subjectKey == "" {
		return nil, fmt.Errorf("subject key is required")
	}

	var metadata datatypes.JSON
	if record.Metadata != nil {
		data, err := json.Marshal(record.Metadata)
		if err != nil {
			return nil, fmt.Errorf("failed to marshal ledger record metadata: %w", err)
		}
		metadata = data
	}

	return &models.LedgerRecordModel{
		SubjectKey:       subjectKey,
		ProductID:        record.ProductID,
		PurchasedAt:      record.PurchasedAt.UTC(),
		ExpiresAt:        toUTC(record.ExpiresAt),
		Active:           record.Active,
		LastNotification: string(record.LastNotification),
		Metadata:         metadata,
	}, nil
}

func toUTC(t *time.Time) *time.Time {
	if t == nil {
		return nil
	}
	utc := t.UTC()
	return &utc
}
