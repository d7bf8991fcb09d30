package listing

import (
	"errors"

	"github.com/bidhaus/auction-api/internal/types"
	"gorm.io/gorm"
)

type Database struct {
	db *gorm.DB
}

func NewDatabase(db *gorm.DB) *Database {
	return &Database{db: db}
}

func (d *Database) CreateListing(listing *types.Listing) error {
	return d.db.Create(listing).Error
}

func (d *Database) GetListing(listingID string) (*types.Listing, error) {
	var listing types.Listing
	if err := d.db.Where("listing_id = ?", listingID).First(&listing).Error; err != nil {
		if errors.Is(err, gorm.ErrRecordNotFound) {
			return nil, nil
		}
		return nil, err
	}
	return &listing, nil
}

func (d *Database) GetSellerListings(sellerID string) ([]types.Listing, error) {
	var listings []types.Listing
	if err := d.db.Where("seller_id = ?", sellerID).Order("created_at DESC").Find(&listings).Error; err != nil {
		return nil, err
	}
	return listings, nil
}

// DeleteListing removes a listing only when no bids exist against it.
// The bid count check and the delete run in one transaction.
func (d *Database) DeleteListing(listingID string) error {
	return d.db.Transaction(func(tx *gorm.DB) error {
		var listing types.Listing
		if err := tx.Where("listing_id = ?", listingID).First(&listing).Error; err != nil {
			if errors.Is(err, gorm.ErrRecordNotFound) {
				return types.ErrListingNotFound
			}
			return err
		}

		var bidCount int64
		if err := tx.Model(&types.Bid{}).Where("listing_id = ?", listingID).Count(&bidCount).Error; err != nil {
			return err
		}
		if bidCount > 0 {
			return types.ErrListingHasBids
		}

		return tx.Delete(&listing).Error
	})
}
