// Package migration runs goose SQL migrations for the ledger schema.
package migration

import (
	"fmt"

	"github.com/pressly/goose/v3"
	"gorm.io/gorm"

	"github.com/daybrief/daybrief/internal/infrastructure/persistence/models"
	"github.com/daybrief/daybrief/internal/shared/logger"
)

// Runner applies goose migrations from a scripts directory.
type Runner struct {
	scriptsPath string
	dialect     string
	logger      logger.Interface
}

// NewRunner creates a migration runner for the given scripts path and SQL dialect
func NewRunner(scriptsPath, dialect string) (*Runner, error) {
	if dialect == "" {
		dialect = "mysql"
	}
	if err := goose.SetDialect(dialect); err != nil {
		return nil, fmt.Errorf("failed to set goose dialect: %w", err)
	}
	return &Runner{
		scriptsPath: scriptsPath,
		dialect:     dialect,
		logger:      logger.NewLogger().With("component", "migration"),
	}, nil
}

// Up applies all pending migrations
func (r *Runner) Up(db *gorm.DB) error {
	sqlDB, err := db.DB()
	if err != nil {
		return fmt.Errorf("failed to get underlying sql.DB: %w", err)
	}

	r.logger.Infow("applying migrations", "scripts_path", r.scriptsPath)
	if err := goose.Up(sqlDB, r.scriptsPath); err != nil {
		return fmt.Errorf("failed to apply migrations: %w", err)
	}
	r.logger.Infow("migrations applied")
	return nil
}

// Down rolls back the most recent migration
func (r *Runner) Down(db *gorm.DB) error {
	sqlDB, err := db.DB()
	if err != nil {
		return fmt.Errorf("failed to get underlying sql.DB: %w", err)
	}

	if err := goose.Down(sqlDB, r.scriptsPath); err != nil {
		return fmt.Errorf("failed to roll back migration: %w", err)
	}
	r.logger.Infow("rolled back one migration")
	return nil
}

// Status logs the status of every known migration
func (r *Runner) Status(db *gorm.DB) error {
	sqlDB, err := db.DB()
	if err != nil {
		return fmt.Errorf("failed to get underlying sql.DB: %w", err)
	}
	return goose.Status(sqlDB, r.scriptsPath)
}

// Version returns the currently applied migration version
func (r *Runner) Version(db *gorm.DB) (int64, error) {
	sqlDB, err := db.DB()
	if err != nil {
		return 0, fmt.Errorf("failed to get underlying sql.DB: %w", err)
	}
	return goose.GetDBVersion(sqlDB)
}

// AutoMigrateModels lists the models covered by gorm AutoMigrate in
// development mode. Production schemas go through goose scripts.
func AutoMigrateModels() []any {
	return []any{
		&models.LedgerRecordModel{},
	}
}
