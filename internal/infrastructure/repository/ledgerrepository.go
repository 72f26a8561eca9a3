// Package repository provides database-backed implementations of the domain
// repository ports.
package repository

import (
	"context"
	"errors"
	"fmt"
	"time"

	"gorm.io/gorm"
	"gorm.io/gorm/clause"

	"github.com/daybrief/daybrief/internal/domain/entitlement"
	"github.com/daybrief/daybrief/internal/infrastructure/persistence/mappers"
	"github.com/daybrief/daybrief/internal/infrastructure/persistence/models"
	"github.com/daybrief/daybrief/internal/shared/logger"
)

const defaultLedgerTimeout = 5 * time.Second

// LedgerRepositoryImpl implements entitlement.LedgerRepository over the
// ledger_records table. Every call carries its own timeout; the reconciler
// treats any error as the ledger being unreachable and degrades instead of
// retrying.
type LedgerRepositoryImpl struct {
	db      *gorm.DB
	mapper  mappers.LedgerRecordMapper
	timeout time.Duration
	logger  logger.Interface
}

// NewLedgerRepository creates a ledger repository. A non-positive timeout
// falls back to the default single-attempt timeout.
func NewLedgerRepository(db *gorm.DB, timeout time.Duration, log logger.Interface) entitlement.LedgerRepository {
	if timeout <= 0 {
		timeout = defaultLedgerTimeout
	}
	return &LedgerRepositoryImpl{
		db:      db,
		mapper:  mappers.NewLedgerRecordMapper(),
		timeout: timeout,
		logger:  log,
	}
}

// GetBySubject returns the ledger record for a subject key, or (nil, nil)
// when the ledger confirmed no record exists.
func (r *LedgerRepositoryImpl) GetBySubject(ctx context.Context, subjectKey string) (*entitlement.LedgerRecord, error) {
	if subjectKey == "" {
		return nil, fmt.Errorf("subject key is required")
	}

	ctx, cancel := context.WithTimeout(ctx, r.timeout)
	defer cancel()

	var model models.LedgerRecordModel
	err := r.db.WithContext(ctx).
		Where("subject_key = ?", subjectKey).
		First(&model).Error
	if err != nil {
		if errors.Is(err, gorm.ErrRecordNotFound) {
			return nil, nil
		}
		r.logger.Errorw("failed to read ledger record",
			"subject_key", subjectKey,
			"error", err)
		return nil, fmt.Errorf("failed to read ledger record: %w", err)
	}

	record, err := r.mapper.ToRecord(&model)
	if err != nil {
		return nil, fmt.Errorf("failed to map ledger record: %w", err)
	}
	return record, nil
}

// Upsert creates or replaces the subject's ledger record as a whole. The
// record is one row per subject; writes are last-write-wins on the unique
// subject key, never field-by-field merges.
func (r *LedgerRepositoryImpl) Upsert(ctx context.Context, subjectKey string, record *entitlement.LedgerRecord) error {
	model, err := r.mapper.ToModel(subjectKey, record)
	if err != nil {
		return fmt.Errorf("failed to map ledger record: %w", err)
	}

	ctx, cancel := context.WithTimeout(ctx, r.timeout)
	defer cancel()

	err = r.db.WithContext(ctx).
		Clauses(clause.OnConflict{
			Columns: []clause.Column{{Name: "subject_key"}},
			DoUpdates: clause.AssignmentColumns([]string{
				"product_id", "purchased_at", "expires_at", "active",
				"last_notification", "metadata", "updated_at",
			}),
		}).
		Create(model).Error
	if err != nil {
		r.logger.Errorw("failed to upsert ledger record",
			"subject_key", subjectKey,
			"product_id", record.ProductID,
			"active", record.Active,
			"error", err)
		return fmt.Errorf("failed to upsert ledger record: %w", err)
	}

	r.logger.Infow("ledger record upserted",
		"subject_key", subjectKey,
		"product_id", record.ProductID,
		"active", record.Active,
		"notification", record.LastNotification)
	return nil
}
