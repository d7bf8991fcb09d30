package escrow

import (
	"time"

	"gorm.io/gorm"
)

// Payment statuses, driven only by gateway responses.
const (
	PaymentPending   = "PENDING"
	PaymentCompleted = "COMPLETED"
	PaymentFailed    = "FAILED"
	PaymentRefunded  = "REFUNDED"
)

// EscrowRecord statuses. RELEASED_TO_SELLER and REFUNDED are terminal and
// mutually exclusive; a record never transitions out of either. REFUNDING
// claims the record while the gateway refund is in flight so a release
// cannot interleave; it reverts to PAID when the gateway does not approve.
const (
	EscrowPending   = "PENDING"
	EscrowPaid      = "PAID"
	EscrowRefunding = "REFUNDING"
	EscrowReleased  = "RELEASED_TO_SELLER"
	EscrowRefunded  = "REFUNDED"
)

// Transaction ledger entry types.
const (
	TxnCapture       = "CAPTURE"
	TxnEscrowRelease = "ESCROW_RELEASE"
	TxnRefund        = "REFUND"
)

type Payment struct {
	gorm.Model        `json:"-"`
	PaymentID         string    `gorm:"uniqueIndex" json:"payment_id"`
	Amount            int64     `json:"amount"`
	Currency          string    `json:"currency"`
	Status            string    `json:"status"` // PENDING, COMPLETED, FAILED, REFUNDED
	ExternalReference string    `json:"external_reference"`
	CreatedAt         time.Time `json:"created_at"`
	UpdatedAt         time.Time `json:"updated_at"`
}

// EscrowRecord is the single authority over fund custody for a settled
// auction. EscrowHeld is true exactly while funds are held (PAID or
// mid-refund); it is the idempotence guard for release and refund.
type EscrowRecord struct {
	gorm.Model   `json:"-"`
	EscrowID     string    `gorm:"uniqueIndex" json:"escrow_id"`
	PaymentID    string    `json:"payment_id"`
	ListingID    string    `gorm:"index" json:"listing_id"`
	BuyerID      string    `json:"buyer_id"`
	SellerID     string    `json:"seller_id"`
	WinningBidID string    `json:"winning_bid_id"`
	Status       string    `json:"status"` // PENDING, PAID, RELEASED_TO_SELLER, REFUNDED
	EscrowHeld   bool      `json:"escrow_held"`
	CreatedAt    time.Time `json:"created_at"`
	UpdatedAt    time.Time `json:"updated_at"`
}

// Transaction is an append-only ledger row referencing a Payment. It
// provides an audit trail independent of mutable Payment and EscrowRecord
// state; rows are never updated or deleted.
type Transaction struct {
	gorm.Model  `json:"-"`
	TxnID       string    `gorm:"uniqueIndex" json:"txn_id"`
	PaymentID   string    `gorm:"index" json:"payment_id"`
	Amount      int64     `json:"amount"`
	Type        string    `json:"type"` // CAPTURE, ESCROW_RELEASE, REFUND
	Description string    `json:"description"`
	CreatedAt   time.Time `json:"created_at"`
}

// SettlementResponse pairs the payment with its escrow record after a
// successful capture.
type SettlementResponse struct {
	Payment      *Payment      `json:"payment"`
	EscrowRecord *EscrowRecord `json:"escrow_record"`
}
