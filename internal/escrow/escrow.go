package escrow

import (
	"context"
	"fmt"
	"time"

	"github.com/gin-gonic/gin"
	"github.com/google/uuid"
	"github.com/rs/zerolog"
	"github.com/rs/zerolog/log"
	"gorm.io/gorm"

	"github.com/bidhaus/auction-api/internal/gateway"
	"github.com/bidhaus/auction-api/internal/notify"
	"github.com/bidhaus/auction-api/internal/types"
	"github.com/bidhaus/auction-api/pkg/response"
)

const defaultCurrency = "USD"

// Service is the escrow settlement engine: the only component that
// mutates Payment, EscrowRecord and Transaction rows. Every operation is
// one atomic store transaction; gateway calls happen outside the
// transaction and their outcome decides which transaction runs.
type Service struct {
	db             *Database
	gateway        gateway.Gateway
	notifier       notify.Notifier
	gatewayTimeout time.Duration
}

func NewService(gormDB *gorm.DB, gw gateway.Gateway, notifier notify.Notifier, gatewayTimeout time.Duration) *Service {
	return &Service{
		db:             NewDatabase(gormDB),
		gateway:        gw,
		notifier:       notifier,
		gatewayTimeout: gatewayTimeout,
	}
}

// CaptureWinningPayment charges the winning bidder and places the funds
// in escrow.
//
// Preconditions: the auction has ended, the bid belongs to the listing,
// the acting buyer placed it, and it is the winning bid. A repeated call
// after a successful capture returns the existing settlement: the gateway
// idempotency key is derived from (listingID, bidID, instrumentID) so
// retries after a timeout are safe.
func (s *Service) CaptureWinningPayment(listingID, bidID, buyerID, instrumentID string) (*SettlementResponse, error) {
	logger := log.With().
		Str("listing_id", listingID).
		Str("bid_id", bidID).
		Str("buyer_id", buyerID).
		Str("service", "escrow").
		Logger()

	logger.Info().Msg("starting payment capture for winning bid")

	listing, err := s.db.GetListing(listingID)
	if err != nil {
		return nil, err
	}
	if listing == nil {
		return nil, types.ErrListingNotFound
	}
	if !listing.Ended(time.Now()) {
		logger.Info().Time("end_time", listing.EndTime).Msg("capture rejected: auction still open")
		return nil, types.ErrAuctionNotEnded
	}

	bid, err := s.db.GetBid(bidID)
	if err != nil {
		return nil, err
	}
	if bid == nil || bid.ListingID != listingID || bid.BidderID != buyerID {
		logger.Info().Msg("capture rejected: bid does not belong to acting buyer")
		return nil, types.ErrNotWinningBidder
	}

	leader, err := s.db.GetLeader(listingID)
	if err != nil {
		return nil, err
	}
	if leader == nil || leader.BidID != bidID {
		logger.Info().Msg("capture rejected: bid is not the winning bid")
		return nil, types.ErrNotWinningBidder
	}

	// A settled capture for this (listing, bid) pair already exists:
	// return it rather than charging twice.
	if existing, err := s.db.GetEscrowByListingAndBid(listingID, bidID); err != nil {
		return nil, err
	} else if existing != nil {
		payment, err := s.db.GetPayment(existing.PaymentID)
		if err != nil {
			return nil, err
		}
		logger.Info().Str("escrow_id", existing.EscrowID).Msg("capture already settled, returning existing record")
		return &SettlementResponse{Payment: payment, EscrowRecord: existing}, nil
	}

	ctx, cancel := context.WithTimeout(context.Background(), s.gatewayTimeout)
	defer cancel()

	result, err := s.gateway.Capture(ctx, gateway.CaptureRequest{
		// The instrument is part of the key so a retry after a decline
		// with a different card is a new attempt, not a replay.
		IdempotencyKey: fmt.Sprintf("CAP_%s_%s_%s", listingID, bidID, instrumentID),
		InstrumentID:   instrumentID,
		Amount:         bid.Amount,
		Currency:       defaultCurrency,
	})
	if err != nil {
		// Ambiguous outcome: record a pending payment so the buyer's
		// retry can be reconciled, and report the gateway unavailable.
		logger.Error().Err(err).Msg("gateway capture failed")
		pending := s.newPayment(bid.Amount, PaymentPending, "")
		if saveErr := s.db.CreatePayment(pending); saveErr != nil {
			logger.Error().Err(saveErr).Msg("failed to record pending payment")
		}
		return nil, types.ErrGatewayUnavailable
	}

	if !result.Approved() {
		logger.Warn().Str("gateway_status", result.Status).Msg("gateway declined capture")
		failed := s.newPayment(bid.Amount, PaymentFailed, result.ExternalReference)
		if saveErr := s.db.CreatePayment(failed); saveErr != nil {
			logger.Error().Err(saveErr).Msg("failed to record declined payment")
		}
		return nil, types.ErrGatewayDeclined
	}

	payment := s.newPayment(bid.Amount, PaymentCompleted, result.ExternalReference)
	capture := &Transaction{
		TxnID:       "TXN_" + uuid.New().String(),
		PaymentID:   payment.PaymentID,
		Amount:      bid.Amount,
		Type:        TxnCapture,
		Description: fmt.Sprintf("capture for winning bid %s on listing %s", bidID, listingID),
		CreatedAt:   time.Now(),
	}
	record := &EscrowRecord{
		EscrowID:     "ESC_" + uuid.New().String(),
		PaymentID:    payment.PaymentID,
		ListingID:    listingID,
		BuyerID:      buyerID,
		SellerID:     listing.SellerID,
		WinningBidID: bidID,
		Status:       EscrowPaid,
		EscrowHeld:   true,
		CreatedAt:    time.Now(),
		UpdatedAt:    time.Now(),
	}

	if err := s.db.CreateSettlement(payment, capture, record); err != nil {
		logger.Error().Err(err).Msg("failed to persist settlement")
		return nil, err
	}

	logger.Info().
		Str("payment_id", payment.PaymentID).
		Str("escrow_id", record.EscrowID).
		Int64("amount", payment.Amount).
		Msg("payment captured and held in escrow")

	s.notifyAsync(notify.Notification{
		UserID:    listing.SellerID,
		Subject:   "Payment received",
		Body:      fmt.Sprintf("The winning bidder paid %d for listing %s. Funds are held in escrow.", payment.Amount, listingID),
		ListingID: listingID,
	})

	return &SettlementResponse{Payment: payment, EscrowRecord: record}, nil
}

// ReleaseEscrow releases held funds to the seller. Who may call it is an
// authorization concern enforced at the API layer; the engine only
// enforces the state precondition.
func (s *Service) ReleaseEscrow(escrowID string) (*EscrowRecord, error) {
	logger := log.With().
		Str("escrow_id", escrowID).
		Str("service", "escrow").
		Logger()

	record, err := s.db.ReleaseEscrow(escrowID, "TXN_"+uuid.New().String())
	if err != nil {
		if types.IsDomainError(err) {
			logger.Info().Err(err).Msg("release rejected")
		} else {
			logger.Error().Err(err).Msg("release failed")
		}
		return nil, err
	}

	logger.Info().
		Str("listing_id", record.ListingID).
		Str("seller_id", record.SellerID).
		Msg("escrow released to seller")

	s.notifyAsync(notify.Notification{
		UserID:    record.SellerID,
		Subject:   "Escrow released",
		Body:      fmt.Sprintf("Funds for listing %s have been released to you.", record.ListingID),
		ListingID: record.ListingID,
	})

	return record, nil
}

// RefundAuctionPayment refunds the captured payment to the buyer. Refund
// is impossible once the escrow has been released. The record is claimed
// (PAID -> REFUNDING) before the gateway call so a release committing
// while the refund is in flight cannot move the funds twice; the claim is
// reverted when the gateway does not approve.
func (s *Service) RefundAuctionPayment(escrowID, reason string) (*EscrowRecord, error) {
	logger := log.With().
		Str("escrow_id", escrowID).
		Str("service", "escrow").
		Logger()

	logger.Info().Str("reason", reason).Msg("starting refund")

	record, err := s.db.ClaimRefund(escrowID)
	if err != nil {
		if types.IsDomainError(err) {
			logger.Info().Err(err).Msg("refund rejected: escrow is not refundable")
		} else {
			logger.Error().Err(err).Msg("failed to claim escrow record for refund")
		}
		return nil, err
	}

	payment, err := s.db.GetPayment(record.PaymentID)
	if err != nil {
		s.reopenRefund(escrowID, logger)
		return nil, err
	}
	if payment == nil {
		s.reopenRefund(escrowID, logger)
		return nil, fmt.Errorf("payment %s not found for escrow %s", record.PaymentID, escrowID)
	}

	ctx, cancel := context.WithTimeout(context.Background(), s.gatewayTimeout)
	defer cancel()

	result, err := s.gateway.Refund(ctx, gateway.RefundRequest{
		IdempotencyKey:    fmt.Sprintf("RFD_%s_%s", record.ListingID, record.WinningBidID),
		ExternalReference: payment.ExternalReference,
		Amount:            payment.Amount,
		Currency:          payment.Currency,
	})
	if err != nil {
		logger.Error().Err(err).Msg("gateway refund failed")
		s.reopenRefund(escrowID, logger)
		return nil, types.ErrGatewayUnavailable
	}
	if !result.Approved() {
		logger.Warn().Str("gateway_status", result.Status).Msg("gateway declined refund")
		s.reopenRefund(escrowID, logger)
		return nil, types.ErrGatewayDeclined
	}

	if reason == "" {
		reason = "buyer refund"
	}
	updated, err := s.db.ApplyRefund(escrowID, "TXN_"+uuid.New().String(), reason)
	if err != nil {
		if types.IsDomainError(err) {
			logger.Info().Err(err).Msg("refund rejected during commit")
		} else {
			logger.Error().Err(err).Msg("failed to persist refund")
		}
		return nil, err
	}

	logger.Info().
		Str("listing_id", updated.ListingID).
		Str("buyer_id", updated.BuyerID).
		Int64("amount", payment.Amount).
		Msg("payment refunded to buyer")

	s.notifyAsync(notify.Notification{
		UserID:    updated.BuyerID,
		Subject:   "Payment refunded",
		Body:      fmt.Sprintf("Your payment of %d for listing %s has been refunded.", payment.Amount, updated.ListingID),
		ListingID: updated.ListingID,
	})

	return updated, nil
}

// GetEscrow retrieves an escrow record by ID.
func (s *Service) GetEscrow(escrowID string) (*EscrowRecord, error) {
	return s.db.GetEscrow(escrowID)
}

// GetPaymentLedger returns the append-only transaction rows for a payment.
func (s *Service) GetPaymentLedger(paymentID string) ([]Transaction, error) {
	return s.db.GetTransactionsByPayment(paymentID)
}

func (s *Service) newPayment(amount int64, status, externalRef string) *Payment {
	return &Payment{
		PaymentID:         "PAY_" + uuid.New().String(),
		Amount:            amount,
		Currency:          defaultCurrency,
		Status:            status,
		ExternalReference: externalRef,
		CreatedAt:         time.Now(),
		UpdatedAt:         time.Now(),
	}
}

// reopenRefund reverts a refund claim so the funds stay releasable and
// refundable. A failure here leaves the record in REFUNDING, which blocks
// further settlement and needs operator attention.
func (s *Service) reopenRefund(escrowID string, logger zerolog.Logger) {
	if err := s.db.ReopenRefund(escrowID); err != nil {
		logger.Error().Err(err).Msg("failed to restore escrow record after refund attempt")
	}
}

func (s *Service) notifyAsync(n notify.Notification) {
	go func() {
		ctx, cancel := context.WithTimeout(context.Background(), 5*time.Second)
		defer cancel()
		if err := s.notifier.NotifyUser(ctx, n); err != nil {
			log.Warn().Err(err).Str("user_id", n.UserID).Msg("failed to deliver settlement notification")
		}
	}()
}

// GinHandlers contains HTTP handlers for escrow endpoints
type GinHandlers struct {
	service *Service
}

func NewGinHandlers(service *Service) *GinHandlers {
	return &GinHandlers{
		service: service,
	}
}

// CaptureRequest is the request body for capturing a winning payment
type CaptureRequest struct {
	ListingID    string `json:"listing_id" binding:"required"`
	BidID        string `json:"bid_id" binding:"required"`
	InstrumentID string `json:"payment_instrument_id" binding:"required"`
}

// RefundRequest is the request body for refunding a settled payment
type RefundRequest struct {
	Reason string `json:"reason"`
}

// CaptureHandler handles POST requests to capture a winning payment
// Requires a valid JWT token; the buyer is the authenticated user
func (h *GinHandlers) CaptureHandler() gin.HandlerFunc {
	return func(c *gin.Context) {
		var req CaptureRequest
		if err := c.ShouldBindJSON(&req); err != nil {
			response.BadRequest(c, err.Error())
			return
		}

		buyerID := c.GetString("userID")
		if buyerID == "" {
			response.Unauthorized(c, "Missing authenticated buyer")
			return
		}

		settlement, err := h.service.CaptureWinningPayment(req.ListingID, req.BidID, buyerID, req.InstrumentID)
		response.Handle(c, settlement, err)
	}
}

// ReleaseHandler handles POST requests to release escrow to the seller
// Requires internal (administrator) authentication
// URL parameter: escrow_id
func (h *GinHandlers) ReleaseHandler() gin.HandlerFunc {
	return func(c *gin.Context) {
		escrowID := c.Param("escrow_id")

		record, err := h.service.ReleaseEscrow(escrowID)
		response.Handle(c, record, err)
	}
}

// RefundHandler handles POST requests to refund a payment to the buyer
// URL parameter: escrow_id
func (h *GinHandlers) RefundHandler() gin.HandlerFunc {
	return func(c *gin.Context) {
		escrowID := c.Param("escrow_id")

		var req RefundRequest
		if err := c.ShouldBindJSON(&req); err != nil && err.Error() != "EOF" {
			response.BadRequest(c, err.Error())
			return
		}

		record, err := h.service.RefundAuctionPayment(escrowID, req.Reason)
		response.Handle(c, record, err)
	}
}

// GetEscrowHandler handles GET requests for an escrow record
// URL parameter: escrow_id
func (h *GinHandlers) GetEscrowHandler() gin.HandlerFunc {
	return func(c *gin.Context) {
		escrowID := c.Param("escrow_id")

		record, err := h.service.GetEscrow(escrowID)
		if err != nil {
			response.Handle(c, nil, err)
			return
		}
		if record == nil {
			response.NotFound(c, "Escrow record not found")
			return
		}
		response.Success(c, record)
	}
}
