package escrow

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

func (d *Database) GetListing(listingID string) (*types.Listing, error) {
	var listing types.Listing
	if err := d.db.Where("listing_id = ?", listingID).First(&listing).Error; err != nil {
		if errors.Is(err, gorm.ErrRecordNotFound) {
			return nil, nil
		}
		return nil, fmt.Errorf("failed to fetch listing: %w", err)
	}
	return &listing, nil
}

func (d *Database) GetBid(bidID string) (*types.Bid, error) {
	var bid types.Bid
	if err := d.db.Where("bid_id = ?", bidID).First(&bid).Error; err != nil {
		if errors.Is(err, gorm.ErrRecordNotFound) {
			return nil, nil
		}
		return nil, fmt.Errorf("failed to fetch bid: %w", err)
	}
	return &bid, nil
}

// GetLeader returns the current leader bid for a listing.
func (d *Database) GetLeader(listingID string) (*types.Bid, error) {
	var leader types.Bid
	if err := d.db.Where("listing_id = ?", listingID).
		Order("amount DESC, created_at ASC").
		First(&leader).Error; err != nil {
		if errors.Is(err, gorm.ErrRecordNotFound) {
			return nil, nil
		}
		return nil, fmt.Errorf("failed to fetch leader bid: %w", err)
	}
	return &leader, nil
}

func (d *Database) GetEscrow(escrowID string) (*EscrowRecord, error) {
	var record EscrowRecord
	if err := d.db.Where("escrow_id = ?", escrowID).First(&record).Error; err != nil {
		if errors.Is(err, gorm.ErrRecordNotFound) {
			return nil, nil
		}
		return nil, fmt.Errorf("failed to fetch escrow record: %w", err)
	}
	return &record, nil
}

// GetEscrowByListingAndBid returns the unique escrow record for a
// (listing, winning bid) pair, or nil when none exists.
func (d *Database) GetEscrowByListingAndBid(listingID, bidID string) (*EscrowRecord, error) {
	var record EscrowRecord
	if err := d.db.Where("listing_id = ? AND winning_bid_id = ?", listingID, bidID).
		First(&record).Error; err != nil {
		if errors.Is(err, gorm.ErrRecordNotFound) {
			return nil, nil
		}
		return nil, fmt.Errorf("failed to fetch escrow record: %w", err)
	}
	return &record, nil
}

func (d *Database) GetPayment(paymentID string) (*Payment, error) {
	var payment Payment
	if err := d.db.Where("payment_id = ?", paymentID).First(&payment).Error; err != nil {
		if errors.Is(err, gorm.ErrRecordNotFound) {
			return nil, nil
		}
		return nil, fmt.Errorf("failed to fetch payment: %w", err)
	}
	return &payment, nil
}

// CreatePayment records a payment row on its own, used for failed and
// pending gateway outcomes where no escrow is created.
func (d *Database) CreatePayment(payment *Payment) error {
	return d.db.Create(payment).Error
}

// CreateSettlement persists the full outcome of a successful capture in
// one transaction: the completed payment, its CAPTURE ledger row, the
// escrow record holding the funds, and the listing's payment flag.
func (d *Database) CreateSettlement(payment *Payment, txn *Transaction, record *EscrowRecord) error {
	return d.db.Transaction(func(tx *gorm.DB) error {
		if err := tx.Create(payment).Error; err != nil {
			return fmt.Errorf("failed to save payment: %w", err)
		}
		if err := tx.Create(txn).Error; err != nil {
			return fmt.Errorf("failed to save capture transaction: %w", err)
		}
		if err := tx.Create(record).Error; err != nil {
			return fmt.Errorf("failed to save escrow record: %w", err)
		}

		result := tx.Model(&types.Listing{}).
			Where("listing_id = ?", record.ListingID).
			Updates(map[string]interface{}{
				"payment_received": true,
				"updated_at":       time.Now(),
			})
		if result.Error != nil {
			return fmt.Errorf("failed to mark listing paid: %w", result.Error)
		}
		return nil
	})
}

// ReleaseEscrow transitions a PAID escrow record to RELEASED_TO_SELLER
// and appends the ESCROW_RELEASE ledger row, atomically. The escrow_held
// guard makes a retried release deterministically fail instead of
// double-transacting funds.
func (d *Database) ReleaseEscrow(escrowID string, txnID string) (*EscrowRecord, error) {
	var record EscrowRecord
	err := d.db.Transaction(func(tx *gorm.DB) error {
		if err := tx.Clauses(clause.Locking{Strength: "UPDATE"}).
			Where("escrow_id = ?", escrowID).
			First(&record).Error; err != nil {
			if errors.Is(err, gorm.ErrRecordNotFound) {
				return types.ErrEscrowNotPayable
			}
			return fmt.Errorf("failed to fetch escrow record: %w", err)
		}

		if record.Status == EscrowReleased || record.Status == EscrowRefunded {
			return types.ErrEscrowAlreadySettled
		}
		if record.Status != EscrowPaid || !record.EscrowHeld {
			return types.ErrEscrowNotPayable
		}

		var payment Payment
		if err := tx.Where("payment_id = ?", record.PaymentID).First(&payment).Error; err != nil {
			return fmt.Errorf("failed to fetch payment for release: %w", err)
		}

		record.Status = EscrowReleased
		record.EscrowHeld = false
		record.UpdatedAt = time.Now()
		if err := tx.Save(&record).Error; err != nil {
			return fmt.Errorf("failed to update escrow record: %w", err)
		}

		release := &Transaction{
			TxnID:       txnID,
			PaymentID:   record.PaymentID,
			Amount:      payment.Amount,
			Type:        TxnEscrowRelease,
			Description: fmt.Sprintf("escrow released to seller %s for listing %s", record.SellerID, record.ListingID),
			CreatedAt:   time.Now(),
		}
		if err := tx.Create(release).Error; err != nil {
			return fmt.Errorf("failed to save release transaction: %w", err)
		}
		return nil
	})
	if err != nil {
		return nil, err
	}
	return &record, nil
}

// ClaimRefund transitions a PAID escrow record to REFUNDING under lock.
// From that point no release can observe the record as PAID, so the
// gateway refund runs with exclusive custody of the funds. Revert with
// ReopenRefund when the gateway does not approve.
func (d *Database) ClaimRefund(escrowID string) (*EscrowRecord, error) {
	var record EscrowRecord
	err := d.db.Transaction(func(tx *gorm.DB) error {
		if err := tx.Clauses(clause.Locking{Strength: "UPDATE"}).
			Where("escrow_id = ?", escrowID).
			First(&record).Error; err != nil {
			if errors.Is(err, gorm.ErrRecordNotFound) {
				return types.ErrRefundNotAllowed
			}
			return fmt.Errorf("failed to fetch escrow record: %w", err)
		}

		if record.Status != EscrowPaid || !record.EscrowHeld {
			return types.ErrRefundNotAllowed
		}

		record.Status = EscrowRefunding
		record.UpdatedAt = time.Now()
		if err := tx.Save(&record).Error; err != nil {
			return fmt.Errorf("failed to claim escrow record for refund: %w", err)
		}
		return nil
	})
	if err != nil {
		return nil, err
	}
	return &record, nil
}

// ReopenRefund restores a REFUNDING record to PAID after a failed or
// declined gateway refund. Funds are still held, so the record becomes
// releasable and refundable again.
func (d *Database) ReopenRefund(escrowID string) error {
	result := d.db.Model(&EscrowRecord{}).
		Where("escrow_id = ? AND status = ?", escrowID, EscrowRefunding).
		Updates(map[string]interface{}{
			"status":     EscrowPaid,
			"updated_at": time.Now(),
		})
	if result.Error != nil {
		return fmt.Errorf("failed to reopen escrow record: %w", result.Error)
	}
	return nil
}

// ApplyRefund transitions a REFUNDING escrow record to REFUNDED, marks the
// payment refunded, and appends the REFUND ledger row, atomically. Only a
// record claimed by ClaimRefund can commit.
func (d *Database) ApplyRefund(escrowID, txnID, reason string) (*EscrowRecord, error) {
	var record EscrowRecord
	err := d.db.Transaction(func(tx *gorm.DB) error {
		if err := tx.Clauses(clause.Locking{Strength: "UPDATE"}).
			Where("escrow_id = ?", escrowID).
			First(&record).Error; err != nil {
			if errors.Is(err, gorm.ErrRecordNotFound) {
				return types.ErrRefundNotAllowed
			}
			return fmt.Errorf("failed to fetch escrow record: %w", err)
		}

		if record.Status != EscrowRefunding || !record.EscrowHeld {
			return types.ErrRefundNotAllowed
		}

		var payment Payment
		if err := tx.Where("payment_id = ?", record.PaymentID).First(&payment).Error; err != nil {
			return fmt.Errorf("failed to fetch payment for refund: %w", err)
		}

		record.Status = EscrowRefunded
		record.EscrowHeld = false
		record.UpdatedAt = time.Now()
		if err := tx.Save(&record).Error; err != nil {
			return fmt.Errorf("failed to update escrow record: %w", err)
		}

		payment.Status = PaymentRefunded
		payment.UpdatedAt = time.Now()
		if err := tx.Save(&payment).Error; err != nil {
			return fmt.Errorf("failed to update payment status: %w", err)
		}

		refund := &Transaction{
			TxnID:       txnID,
			PaymentID:   record.PaymentID,
			Amount:      payment.Amount,
			Type:        TxnRefund,
			Description: reason,
			CreatedAt:   time.Now(),
		}
		if err := tx.Create(refund).Error; err != nil {
			return fmt.Errorf("failed to save refund transaction: %w", err)
		}
		return nil
	})
	if err != nil {
		return nil, err
	}
	return &record, nil
}

// GetTransactionsByPayment returns the ledger rows for a payment, oldest
// first.
func (d *Database) GetTransactionsByPayment(paymentID string) ([]Transaction, error) {
	var txns []Transaction
	if err := d.db.Where("payment_id = ?", paymentID).
		Order("created_at ASC").
		Find(&txns).Error; err != nil {
		return nil, fmt.Errorf("failed to fetch transactions: %w", err)
	}
	return txns, nil
}
