package database

import (
	"fmt"

	"gorm.io/driver/sqlite"
	"gorm.io/gorm"

	"github.com/bidhaus/auction-api/internal/database/migrations"
	"github.com/bidhaus/auction-api/internal/escrow"
	"github.com/bidhaus/auction-api/internal/types"
)

// NewDatabase initializes and returns a new GORM DB connection
func NewDatabase(path string) (*gorm.DB, error) {
	db, err := gorm.Open(sqlite.Open(path), &gorm.Config{})
	if err != nil {
		return nil, err
	}

	// Run migrations
	if err := migrations.AddBidOrdering(db); err != nil {
		return nil, fmt.Errorf("failed to run migrations: %w", err)
	}

	if err := migrations.AddEscrowLedger(db); err != nil {
		return nil, fmt.Errorf("failed to run migrations: %w", err)
	}

	// Auto-migrate remaining schemas
	err = db.AutoMigrate(
		&types.Listing{},
		&escrow.Payment{},
	)
	if err != nil {
		return nil, err
	}

	return db, nil
}
