package lifecycle

import (
	"errors"
	"fmt"
	"time"

	"gorm.io/gorm"

	"github.com/bidhaus/auction-api/internal/types"
)

type Database struct {
	db *gorm.DB
}

func NewDatabase(db *gorm.DB) *Database {
	return &Database{db: db}
}

// GetFinalizableListings returns listings whose bidding window closed
// within the lookback period and that no scheduler instance has claimed
// yet. The finalized predicate bounds reprocessing after restarts.
func (d *Database) GetFinalizableListings(now time.Time, lookback time.Duration) ([]types.Listing, error) {
	var listings []types.Listing
	if err := d.db.
		Where("end_time < ? AND end_time >= ? AND finalized = ?", now, now.Add(-lookback), false).
		Order("end_time ASC").
		Find(&listings).Error; err != nil {
		return nil, fmt.Errorf("failed to fetch finalizable listings: %w", err)
	}
	return listings, nil
}

// ClaimAndFinalize marks a listing finalized and reads its winning bid in
// one transaction. The conditional update acts as the claim: when another
// scheduler instance already finalized the listing, RowsAffected is zero
// and claimed is false with no event to emit.
func (d *Database) ClaimAndFinalize(listingID string) (claimed bool, winner *types.Bid, err error) {
	err = d.db.Transaction(func(tx *gorm.DB) error {
		result := tx.Model(&types.Listing{}).
			Where("listing_id = ? AND finalized = ?", listingID, false).
			Updates(map[string]interface{}{
				"finalized":  true,
				"updated_at": time.Now(),
			})
		if result.Error != nil {
			return fmt.Errorf("failed to claim listing: %w", result.Error)
		}
		if result.RowsAffected == 0 {
			return nil
		}
		claimed = true

		var leader types.Bid
		if err := tx.Where("listing_id = ?", listingID).
			Order("amount DESC, created_at ASC").
			First(&leader).Error; err != nil {
			if errors.Is(err, gorm.ErrRecordNotFound) {
				return nil
			}
			return fmt.Errorf("failed to fetch winning bid: %w", err)
		}
		winner = &leader
		return nil
	})
	if err != nil {
		return false, nil, err
	}
	return claimed, winner, nil
}

// GetStuckListings returns listings that ended before the lookback window
// opened yet were never finalized. These are operational anomalies, not
// work items.
func (d *Database) GetStuckListings(now time.Time, lookback time.Duration) ([]types.Listing, error) {
	var listings []types.Listing
	if err := d.db.
		Where("end_time < ? AND finalized = ?", now.Add(-lookback), false).
		Find(&listings).Error; err != nil {
		return nil, fmt.Errorf("failed to fetch stuck listings: %w", err)
	}
	return listings, nil
}
