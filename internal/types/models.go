package types

import (
	"time"

	"gorm.io/gorm"
)

type Listing struct {
	gorm.Model      `json:"-"`
	ListingID       string    `gorm:"uniqueIndex" json:"listing_id"`
	SellerID        string    `json:"seller_id"`
	Title           string    `json:"title"`
	Description     string    `json:"description"`
	MinBidPrice     int64     `json:"min_bid_price"` // minor currency units
	StartTime       time.Time `json:"start_time"`
	EndTime         time.Time `json:"end_time"`
	Finalized       bool      `json:"finalized"`
	PaymentReceived bool      `json:"payment_received"`
	CreatedAt       time.Time `json:"created_at"`
	UpdatedAt       time.Time `json:"updated_at"`
}

// Open reports whether the listing currently accepts bids.
// Open is a derived state, never persisted.
func (l *Listing) Open(now time.Time) bool {
	return !now.Before(l.StartTime) && !now.After(l.EndTime)
}

// Ended reports whether the bidding window has closed.
func (l *Listing) Ended(now time.Time) bool {
	return now.After(l.EndTime)
}

// Bid rows are immutable once created. The current leader for a listing is
// the highest amount, earliest created_at winning ties.
type Bid struct {
	gorm.Model `json:"-"`
	BidID      string    `gorm:"uniqueIndex" json:"bid_id"`
	ListingID  string    `gorm:"index" json:"listing_id"`
	BidderID   string    `json:"bidder_id"`
	Amount     int64     `json:"amount"` // minor currency units
	CreatedAt  time.Time `json:"created_at"`
}
