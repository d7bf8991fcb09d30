package escrow

import (
	"context"
	"errors"
	"testing"
	"time"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
	"gorm.io/driver/sqlite"
	"gorm.io/gorm"
	"gorm.io/gorm/logger"

	"github.com/bidhaus/auction-api/internal/gateway"
	"github.com/bidhaus/auction-api/internal/notify"
	"github.com/bidhaus/auction-api/internal/types"
)

// stubGateway scripts gateway outcomes and counts calls. onRefund, when
// set, runs while the refund is in flight at the gateway.
type stubGateway struct {
	captureStatus string
	captureErr    error
	refundStatus  string
	refundErr     error
	captureCalls  int
	refundCalls   int
	onRefund      func()
}

func (g *stubGateway) Capture(_ context.Context, _ gateway.CaptureRequest) (*gateway.Result, error) {
	g.captureCalls++
	if g.captureErr != nil {
		return nil, g.captureErr
	}
	return &gateway.Result{
		ExternalReference: "CHG-1",
		Status:            g.captureStatus,
		Timestamp:         time.Now(),
	}, nil
}

func (g *stubGateway) Refund(_ context.Context, _ gateway.RefundRequest) (*gateway.Result, error) {
	g.refundCalls++
	if g.onRefund != nil {
		g.onRefund()
	}
	if g.refundErr != nil {
		return nil, g.refundErr
	}
	return &gateway.Result{
		ExternalReference: "RFD-1",
		Status:            g.refundStatus,
		Timestamp:         time.Now(),
	}, nil
}

func newTestDB(t *testing.T) *gorm.DB {
	t.Helper()

	db, err := gorm.Open(sqlite.Open(":memory:"), &gorm.Config{
		Logger: logger.Default.LogMode(logger.Silent),
	})
	require.NoError(t, err)

	sqlDB, err := db.DB()
	require.NoError(t, err)
	sqlDB.SetMaxOpenConns(1)

	require.NoError(t, db.AutoMigrate(
		&types.Listing{}, &types.Bid{},
		&Payment{}, &EscrowRecord{}, &Transaction{},
	))
	return db
}

func newTestService(t *testing.T, gw gateway.Gateway) (*Service, *gorm.DB) {
	db := newTestDB(t)
	return NewService(db, gw, notify.LogNotifier{}, time.Second), db
}

func seedEndedAuction(t *testing.T, db *gorm.DB) {
	t.Helper()
	ended := time.Now().Add(-30 * time.Minute)
	require.NoError(t, db.Create(&types.Listing{
		ListingID:   "L1",
		SellerID:    "seller",
		MinBidPrice: 100,
		StartTime:   ended.Add(-24 * time.Hour),
		EndTime:     ended,
		Finalized:   true,
	}).Error)
	require.NoError(t, db.Create(&types.Bid{
		BidID: "B-low", ListingID: "L1", BidderID: "loser", Amount: 120,
		CreatedAt: ended.Add(-2 * time.Hour),
	}).Error)
	require.NoError(t, db.Create(&types.Bid{
		BidID: "B-win", ListingID: "L1", BidderID: "winner", Amount: 150,
		CreatedAt: ended.Add(-time.Hour),
	}).Error)
}

func captureSettled(t *testing.T, svc *Service) *SettlementResponse {
	t.Helper()
	settlement, err := svc.CaptureWinningPayment("L1", "B-win", "winner", "card-1")
	require.NoError(t, err)
	return settlement
}

func TestCapture_Succeeds(t *testing.T) {
	gw := &stubGateway{captureStatus: gateway.StatusApproved}
	svc, db := newTestService(t, gw)
	seedEndedAuction(t, db)

	settlement := captureSettled(t, svc)

	require.NotNil(t, settlement.Payment)
	assert.Equal(t, PaymentCompleted, settlement.Payment.Status)
	assert.Equal(t, int64(150), settlement.Payment.Amount)
	assert.Equal(t, "CHG-1", settlement.Payment.ExternalReference)

	require.NotNil(t, settlement.EscrowRecord)
	assert.Equal(t, EscrowPaid, settlement.EscrowRecord.Status)
	assert.True(t, settlement.EscrowRecord.EscrowHeld)
	assert.Equal(t, "winner", settlement.EscrowRecord.BuyerID)
	assert.Equal(t, "seller", settlement.EscrowRecord.SellerID)
	assert.Equal(t, "B-win", settlement.EscrowRecord.WinningBidID)

	var listing types.Listing
	require.NoError(t, db.Where("listing_id = ?", "L1").First(&listing).Error)
	assert.True(t, listing.PaymentReceived)

	ledger, err := svc.GetPaymentLedger(settlement.Payment.PaymentID)
	require.NoError(t, err)
	require.Len(t, ledger, 1)
	assert.Equal(t, TxnCapture, ledger[0].Type)
	assert.Equal(t, int64(150), ledger[0].Amount)
}

func TestCapture_RepeatedCallReturnsExistingSettlement(t *testing.T) {
	gw := &stubGateway{captureStatus: gateway.StatusApproved}
	svc, db := newTestService(t, gw)
	seedEndedAuction(t, db)

	first := captureSettled(t, svc)
	second := captureSettled(t, svc)

	assert.Equal(t, first.EscrowRecord.EscrowID, second.EscrowRecord.EscrowID)
	assert.Equal(t, first.Payment.PaymentID, second.Payment.PaymentID)
	assert.Equal(t, 1, gw.captureCalls, "a settled capture must not charge again")
}

func TestCapture_AuctionStillOpen(t *testing.T) {
	gw := &stubGateway{captureStatus: gateway.StatusApproved}
	svc, db := newTestService(t, gw)
	require.NoError(t, db.Create(&types.Listing{
		ListingID: "L1", SellerID: "seller",
		StartTime: time.Now().Add(-time.Hour), EndTime: time.Now().Add(time.Hour),
	}).Error)

	_, err := svc.CaptureWinningPayment("L1", "B-win", "winner", "card-1")
	assert.ErrorIs(t, err, types.ErrAuctionNotEnded)
	assert.Zero(t, gw.captureCalls)
}

func TestCapture_RejectsNonWinners(t *testing.T) {
	gw := &stubGateway{captureStatus: gateway.StatusApproved}
	svc, db := newTestService(t, gw)
	seedEndedAuction(t, db)

	// An outbid bidder cannot settle their losing bid
	_, err := svc.CaptureWinningPayment("L1", "B-low", "loser", "card-1")
	assert.ErrorIs(t, err, types.ErrNotWinningBidder)

	// The winning bid cannot be settled by someone else
	_, err = svc.CaptureWinningPayment("L1", "B-win", "impostor", "card-1")
	assert.ErrorIs(t, err, types.ErrNotWinningBidder)

	// A bid from another listing does not qualify
	_, err = svc.CaptureWinningPayment("L1", "B-elsewhere", "winner", "card-1")
	assert.ErrorIs(t, err, types.ErrNotWinningBidder)

	assert.Zero(t, gw.captureCalls)
}

func TestCapture_GatewayDeclined(t *testing.T) {
	gw := &stubGateway{captureStatus: gateway.StatusDeclined}
	svc, db := newTestService(t, gw)
	seedEndedAuction(t, db)

	_, err := svc.CaptureWinningPayment("L1", "B-win", "winner", "card-1")
	assert.ErrorIs(t, err, types.ErrGatewayDeclined)

	// The failed attempt is recorded, no escrow is created
	var payments []Payment
	require.NoError(t, db.Find(&payments).Error)
	require.Len(t, payments, 1)
	assert.Equal(t, PaymentFailed, payments[0].Status)

	var escrowCount int64
	require.NoError(t, db.Model(&EscrowRecord{}).Count(&escrowCount).Error)
	assert.Zero(t, escrowCount)

	// The buyer may retry after a decline
	gw.captureStatus = gateway.StatusApproved
	settlement := captureSettled(t, svc)
	assert.Equal(t, EscrowPaid, settlement.EscrowRecord.Status)
}

func TestCapture_GatewayUnavailable(t *testing.T) {
	gw := &stubGateway{captureErr: errors.New("connection reset")}
	svc, db := newTestService(t, gw)
	seedEndedAuction(t, db)

	_, err := svc.CaptureWinningPayment("L1", "B-win", "winner", "card-1")
	assert.ErrorIs(t, err, types.ErrGatewayUnavailable)

	var payments []Payment
	require.NoError(t, db.Find(&payments).Error)
	require.Len(t, payments, 1)
	assert.Equal(t, PaymentPending, payments[0].Status)

	var escrowCount int64
	require.NoError(t, db.Model(&EscrowRecord{}).Count(&escrowCount).Error)
	assert.Zero(t, escrowCount)
}

func TestRelease_SucceedsOnceThenFails(t *testing.T) {
	gw := &stubGateway{captureStatus: gateway.StatusApproved}
	svc, db := newTestService(t, gw)
	seedEndedAuction(t, db)
	settlement := captureSettled(t, svc)

	released, err := svc.ReleaseEscrow(settlement.EscrowRecord.EscrowID)
	require.NoError(t, err)
	assert.Equal(t, EscrowReleased, released.Status)
	assert.False(t, released.EscrowHeld)

	ledger, err := svc.GetPaymentLedger(settlement.Payment.PaymentID)
	require.NoError(t, err)
	require.Len(t, ledger, 2)
	assert.Equal(t, TxnEscrowRelease, ledger[1].Type)
	assert.Equal(t, int64(150), ledger[1].Amount)

	_, err = svc.ReleaseEscrow(settlement.EscrowRecord.EscrowID)
	assert.ErrorIs(t, err, types.ErrEscrowAlreadySettled)

	// Still exactly one release row
	ledger, err = svc.GetPaymentLedger(settlement.Payment.PaymentID)
	require.NoError(t, err)
	assert.Len(t, ledger, 2)
}

func TestRelease_UnknownRecord(t *testing.T) {
	gw := &stubGateway{}
	svc, _ := newTestService(t, gw)

	_, err := svc.ReleaseEscrow("missing")
	assert.ErrorIs(t, err, types.ErrEscrowNotPayable)
}

func TestRefund_SucceedsOnceThenFails(t *testing.T) {
	gw := &stubGateway{captureStatus: gateway.StatusApproved, refundStatus: gateway.StatusApproved}
	svc, db := newTestService(t, gw)
	seedEndedAuction(t, db)
	settlement := captureSettled(t, svc)

	refunded, err := svc.RefundAuctionPayment(settlement.EscrowRecord.EscrowID, "item damaged in transit")
	require.NoError(t, err)
	assert.Equal(t, EscrowRefunded, refunded.Status)
	assert.False(t, refunded.EscrowHeld)

	var payment Payment
	require.NoError(t, db.Where("payment_id = ?", settlement.Payment.PaymentID).First(&payment).Error)
	assert.Equal(t, PaymentRefunded, payment.Status)

	ledger, err := svc.GetPaymentLedger(settlement.Payment.PaymentID)
	require.NoError(t, err)
	require.Len(t, ledger, 2)
	assert.Equal(t, TxnRefund, ledger[1].Type)
	assert.Equal(t, "item damaged in transit", ledger[1].Description)

	_, err = svc.RefundAuctionPayment(settlement.EscrowRecord.EscrowID, "again")
	assert.ErrorIs(t, err, types.ErrRefundNotAllowed)
	assert.Equal(t, 1, gw.refundCalls)
}

func TestRefund_ImpossibleAfterRelease(t *testing.T) {
	gw := &stubGateway{captureStatus: gateway.StatusApproved, refundStatus: gateway.StatusApproved}
	svc, db := newTestService(t, gw)
	seedEndedAuction(t, db)
	settlement := captureSettled(t, svc)

	_, err := svc.ReleaseEscrow(settlement.EscrowRecord.EscrowID)
	require.NoError(t, err)

	_, err = svc.RefundAuctionPayment(settlement.EscrowRecord.EscrowID, "too late")
	assert.ErrorIs(t, err, types.ErrRefundNotAllowed)
	assert.Zero(t, gw.refundCalls)
}

func TestRelease_ImpossibleAfterRefund(t *testing.T) {
	gw := &stubGateway{captureStatus: gateway.StatusApproved, refundStatus: gateway.StatusApproved}
	svc, db := newTestService(t, gw)
	seedEndedAuction(t, db)
	settlement := captureSettled(t, svc)

	_, err := svc.RefundAuctionPayment(settlement.EscrowRecord.EscrowID, "buyer request")
	require.NoError(t, err)

	_, err = svc.ReleaseEscrow(settlement.EscrowRecord.EscrowID)
	assert.ErrorIs(t, err, types.ErrEscrowAlreadySettled)

	// Terminal states are mutually exclusive and final
	record, err := svc.GetEscrow(settlement.EscrowRecord.EscrowID)
	require.NoError(t, err)
	assert.Equal(t, EscrowRefunded, record.Status)
}

func TestRefund_ReleaseCannotInterleaveWithGatewayCall(t *testing.T) {
	gw := &stubGateway{captureStatus: gateway.StatusApproved, refundStatus: gateway.StatusApproved}
	svc, db := newTestService(t, gw)
	seedEndedAuction(t, db)
	settlement := captureSettled(t, svc)

	// A release arriving while the gateway refund is in flight must
	// lose: the refund claims the record before the gateway is called.
	var releaseErr error
	gw.onRefund = func() {
		_, releaseErr = svc.ReleaseEscrow(settlement.EscrowRecord.EscrowID)
	}

	refunded, err := svc.RefundAuctionPayment(settlement.EscrowRecord.EscrowID, "chargeback")
	require.NoError(t, err)
	assert.Equal(t, EscrowRefunded, refunded.Status)
	assert.ErrorIs(t, releaseErr, types.ErrEscrowNotPayable)

	// Exactly one terminal transition: capture + refund, no release row
	ledger, err := svc.GetPaymentLedger(settlement.Payment.PaymentID)
	require.NoError(t, err)
	require.Len(t, ledger, 2)
	assert.Equal(t, TxnRefund, ledger[1].Type)
}

func TestRefund_GatewayUnavailableRestoresPaidState(t *testing.T) {
	gw := &stubGateway{captureStatus: gateway.StatusApproved, refundErr: errors.New("connection reset")}
	svc, db := newTestService(t, gw)
	seedEndedAuction(t, db)
	settlement := captureSettled(t, svc)

	_, err := svc.RefundAuctionPayment(settlement.EscrowRecord.EscrowID, "buyer request")
	assert.ErrorIs(t, err, types.ErrGatewayUnavailable)

	record, err := svc.GetEscrow(settlement.EscrowRecord.EscrowID)
	require.NoError(t, err)
	assert.Equal(t, EscrowPaid, record.Status)
	assert.True(t, record.EscrowHeld)

	// The claim was reverted, so both outcomes are still possible
	gw.refundErr = nil
	gw.refundStatus = gateway.StatusApproved
	refunded, err := svc.RefundAuctionPayment(settlement.EscrowRecord.EscrowID, "buyer request")
	require.NoError(t, err)
	assert.Equal(t, EscrowRefunded, refunded.Status)
}

func TestRefund_GatewayDeclinedLeavesEscrowHeld(t *testing.T) {
	gw := &stubGateway{captureStatus: gateway.StatusApproved, refundStatus: gateway.StatusDeclined}
	svc, db := newTestService(t, gw)
	seedEndedAuction(t, db)
	settlement := captureSettled(t, svc)

	_, err := svc.RefundAuctionPayment(settlement.EscrowRecord.EscrowID, "buyer request")
	assert.ErrorIs(t, err, types.ErrGatewayDeclined)

	record, err := svc.GetEscrow(settlement.EscrowRecord.EscrowID)
	require.NoError(t, err)
	assert.Equal(t, EscrowPaid, record.Status)
	assert.True(t, record.EscrowHeld)
}
