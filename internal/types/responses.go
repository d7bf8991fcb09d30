package types

import "time"

// BidResponse represents the response after a bid is admitted
type BidResponse struct {
	BidID          string    `json:"bid_id"`
	ListingID      string    `json:"listing_id"`
	BidderID       string    `json:"bidder_id"`
	Amount         int64     `json:"amount"`
	PreviousLeader *Bid      `json:"previous_leader,omitempty"`
	Timestamp      time.Time `json:"timestamp"`
}

// FinalizationEvent represents a single listing-closed result from a
// scheduler tick
type FinalizationEvent struct {
	ListingID   string    `json:"listing_id"`
	SellerID    string    `json:"seller_id"`
	WinningBid  *Bid      `json:"winning_bid,omitempty"`
	FinalizedAt time.Time `json:"finalized_at"`
}
