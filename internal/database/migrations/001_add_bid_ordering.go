package migrations

import (
	"gorm.io/gorm"

	"github.com/bidhaus/auction-api/internal/types"
)

// AddBidOrdering creates the bids table and the indexes backing leader
// determination and finalization scans.
func AddBidOrdering(db *gorm.DB) error {
	if err := db.AutoMigrate(&types.Bid{}); err != nil {
		return err
	}

	if err := db.AutoMigrate(&types.Listing{}); err != nil {
		return err
	}

	indexes := []string{
		// Leader query: highest amount first, earliest bid wins ties
		`CREATE INDEX IF NOT EXISTS idx_bids_listing_leader
		 ON bids(listing_id, amount DESC, created_at ASC)`,

		// Finalization scan over ended, unclaimed listings
		`CREATE INDEX IF NOT EXISTS idx_listings_end_finalized
		 ON listings(end_time, finalized)`,
	}

	for _, idx := range indexes {
		if err := db.Exec(idx).Error; err != nil {
			return err
		}
	}

	return nil
}
