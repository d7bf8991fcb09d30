package types

import (
	"errors"
	"fmt"
)

// Domain rule violations. These are surfaced to the caller synchronously,
// never retried automatically, and never partially applied.
var (
	ErrListingNotFound      = errors.New("listing not found")
	ErrAuctionNotActive     = errors.New("auction is not active")
	ErrSelfBidForbidden     = errors.New("sellers may not bid on their own listings")
	ErrAuctionNotEnded      = errors.New("auction has not ended")
	ErrNotWinningBidder     = errors.New("bid does not belong to the acting bidder")
	ErrEscrowAlreadySettled = errors.New("escrow record already settled")
	ErrEscrowNotPayable     = errors.New("escrow record is not in a payable state")
	ErrRefundNotAllowed     = errors.New("refund is not allowed for this escrow record")
	ErrListingHasBids       = errors.New("listing with bids may not be deleted")
)

// Gateway failures. Declined is terminal with no funds moved. Unavailable is
// ambiguous: the caller must re-check state before retrying.
var (
	ErrGatewayDeclined    = errors.New("payment gateway declined the charge")
	ErrGatewayUnavailable = errors.New("payment gateway unavailable")
)

// BidTooLowError carries the minimum admissible amount so the client can
// immediately retry with a valid value.
type BidTooLowError struct {
	MinimumBid int64
}

func (e *BidTooLowError) Error() string {
	return fmt.Sprintf("bid too low: minimum admissible amount is %d", e.MinimumBid)
}

// IsDomainError reports whether err is one of the domain rule violations,
// as opposed to a gateway or infrastructure failure.
func IsDomainError(err error) bool {
	var tooLow *BidTooLowError
	if errors.As(err, &tooLow) {
		return true
	}
	for _, domain := range []error{
		ErrListingNotFound,
		ErrAuctionNotActive,
		ErrSelfBidForbidden,
		ErrAuctionNotEnded,
		ErrNotWinningBidder,
		ErrEscrowAlreadySettled,
		ErrEscrowNotPayable,
		ErrRefundNotAllowed,
		ErrListingHasBids,
	} {
		if errors.Is(err, domain) {
			return true
		}
	}
	return false
}
