package migrations

import (
	"gorm.io/gorm"

	"github.com/bidhaus/auction-api/internal/escrow"
)

// AddEscrowLedger creates the escrow and transaction tables with the
// uniqueness and audit indexes the settlement engine relies on.
func AddEscrowLedger(db *gorm.DB) error {
	if err := db.AutoMigrate(&escrow.EscrowRecord{}); err != nil {
		return err
	}

	if err := db.AutoMigrate(&escrow.Transaction{}); err != nil {
		return err
	}

	indexes := []string{
		// Exactly one escrow record per (listing, winning bid)
		`CREATE UNIQUE INDEX IF NOT EXISTS idx_escrow_listing_bid
		 ON escrow_records(listing_id, winning_bid_id)`,

		// Settlement status lookups
		`CREATE INDEX IF NOT EXISTS idx_escrow_status
		 ON escrow_records(status)`,

		// Ledger audit reads by payment, time ordered
		`CREATE INDEX IF NOT EXISTS idx_transactions_payment_created
		 ON transactions(payment_id, created_at)`,
	}

	for _, idx := range indexes {
		if err := db.Exec(idx).Error; err != nil {
			return err
		}
	}

	return nil
}
