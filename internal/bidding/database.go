package bidding

import (
	"errors"
	"fmt"
	"time"

	"gorm.io/gorm"
	"gorm.io/gorm/clause"

	"github.com/bidhaus/auction-api/internal/types"
)

type Database struct {
	db *gorm.DB
}

func NewDatabase(db *gorm.DB) *Database {
	return &Database{db: db}
}

// AdmitBid runs the full leader-check-and-insert as one atomic unit. The
// listing row is locked for the duration of the transaction so two
// concurrent attempts against the same listing serialize: only one can
// observe a given leader and commit an amount above it.
//
// Returns the committed bid and the previous leader (nil when the bid is
// the first). All precondition failures surface as domain errors and
// nothing is committed.
func (d *Database) AdmitBid(bid *types.Bid, now time.Time) (*types.Bid, error) {
	var previousLeader *types.Bid

	err := d.db.Transaction(func(tx *gorm.DB) error {
		var listing types.Listing
		if err := tx.Clauses(clause.Locking{Strength: "UPDATE"}).
			Where("listing_id = ?", bid.ListingID).
			First(&listing).Error; err != nil {
			if errors.Is(err, gorm.ErrRecordNotFound) {
				return types.ErrListingNotFound
			}
			return fmt.Errorf("failed to fetch listing: %w", err)
		}

		if !listing.Open(now) {
			return types.ErrAuctionNotActive
		}
		if bid.BidderID == listing.SellerID {
			return types.ErrSelfBidForbidden
		}

		leader, err := leaderForUpdate(tx, bid.ListingID)
		if err != nil {
			return err
		}

		minimumAdmissible := listing.MinBidPrice
		if leader != nil {
			minimumAdmissible = leader.Amount + 1
		}
		if bid.Amount < minimumAdmissible {
			return &types.BidTooLowError{MinimumBid: minimumAdmissible}
		}

		if err := tx.Create(bid).Error; err != nil {
			return fmt.Errorf("failed to insert bid: %w", err)
		}

		previousLeader = leader
		return nil
	})
	if err != nil {
		return nil, err
	}

	return previousLeader, nil
}

// GetLeader returns the current leader bid for a listing, or nil when no
// bids exist. Ties on amount break toward the earliest bid.
func (d *Database) GetLeader(listingID string) (*types.Bid, error) {
	return leaderForUpdate(d.db, listingID)
}

func leaderForUpdate(tx *gorm.DB, listingID string) (*types.Bid, error) {
	var leader types.Bid
	if err := tx.Where("listing_id = ?", listingID).
		Order("amount DESC, created_at ASC").
		First(&leader).Error; err != nil {
		if errors.Is(err, gorm.ErrRecordNotFound) {
			return nil, nil
		}
		return nil, fmt.Errorf("failed to fetch leader bid: %w", err)
	}
	return &leader, nil
}

// GetListingBids returns all bids for a listing, highest first.
func (d *Database) GetListingBids(listingID string) ([]types.Bid, error) {
	var bids []types.Bid
	if err := d.db.Where("listing_id = ?", listingID).
		Order("amount DESC, created_at ASC").
		Find(&bids).Error; err != nil {
		return nil, fmt.Errorf("failed to fetch listing bids: %w", err)
	}
	return bids, nil
}

// GetListing fetches a listing outside of any bid transaction.
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
