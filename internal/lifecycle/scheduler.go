package lifecycle

import (
	"context"
	"fmt"
	"time"

	"github.com/gin-gonic/gin"
	"github.com/rs/zerolog/log"
	"gorm.io/gorm"

	"github.com/bidhaus/auction-api/internal/events"
	"github.com/bidhaus/auction-api/internal/notify"
	"github.com/bidhaus/auction-api/internal/types"
	"github.com/bidhaus/auction-api/pkg/response"
)

// Scheduler finalizes ended auctions. It is the only component that sets
// the finalized flag. Each listing finalizes exactly once even with
// multiple scheduler instances running: the conditional update in
// ClaimAndFinalize is the claim.
type Scheduler struct {
	db        *Database
	notifier  notify.Notifier
	publisher *events.Publisher
	interval  time.Duration
	lookback  time.Duration
}

func NewScheduler(gormDB *gorm.DB, notifier notify.Notifier, publisher *events.Publisher, interval, lookback time.Duration) *Scheduler {
	return &Scheduler{
		db:        NewDatabase(gormDB),
		notifier:  notifier,
		publisher: publisher,
		interval:  interval,
		lookback:  lookback,
	}
}

// Start begins the finalization loop. Blocks until ctx is cancelled.
func (s *Scheduler) Start(ctx context.Context) {
	logger := log.With().Str("component", "lifecycle_scheduler").Logger()
	logger.Info().
		Dur("interval", s.interval).
		Dur("lookback", s.lookback).
		Msg("starting auction lifecycle scheduler")

	ticker := time.NewTicker(s.interval)
	defer ticker.Stop()

	for {
		select {
		case <-ctx.Done():
			logger.Info().Msg("shutting down auction lifecycle scheduler")
			return
		case <-ticker.C:
			if _, err := s.Tick(ctx); err != nil {
				logger.Error().Err(err).Msg("scheduler tick failed")
			}
		}
	}
}

// Tick runs one finalization pass and returns the finalization events it
// produced. Running Tick twice over the same state never produces two
// events for the same listing.
func (s *Scheduler) Tick(ctx context.Context) ([]types.FinalizationEvent, error) {
	logger := log.With().Str("component", "lifecycle_scheduler").Logger()
	now := time.Now()

	listings, err := s.db.GetFinalizableListings(now, s.lookback)
	if err != nil {
		return nil, err
	}
	logger.Info().Int("candidate_count", len(listings)).Msg("processing ended listings")

	var finalized []types.FinalizationEvent
	for _, listing := range listings {
		claimed, winner, err := s.db.ClaimAndFinalize(listing.ListingID)
		if err != nil {
			logger.Error().
				Err(err).
				Str("listing_id", listing.ListingID).
				Msg("failed to finalize listing")
			continue
		}
		if !claimed {
			// Another scheduler instance won the claim between the
			// candidate query and the update.
			continue
		}

		event := types.FinalizationEvent{
			ListingID:   listing.ListingID,
			SellerID:    listing.SellerID,
			WinningBid:  winner,
			FinalizedAt: now,
		}
		finalized = append(finalized, event)

		if winner != nil {
			logger.Info().
				Str("listing_id", listing.ListingID).
				Str("winning_bid_id", winner.BidID).
				Int64("amount", winner.Amount).
				Msg("listing finalized with winner")
		} else {
			logger.Info().
				Str("listing_id", listing.ListingID).
				Msg("listing finalized with no bids")
		}

		s.emitClosedEvents(ctx, listing, winner)
	}

	s.reportStuckListings(now)

	return finalized, nil
}

// emitClosedEvents notifies the winner and seller and publishes the
// finalization event. Failures are logged, never retried inline, and do
// not revert the finalization.
func (s *Scheduler) emitClosedEvents(ctx context.Context, listing types.Listing, winner *types.Bid) {
	logger := log.With().
		Str("component", "lifecycle_scheduler").
		Str("listing_id", listing.ListingID).
		Logger()

	closed := events.ListingClosed{
		ListingID: listing.ListingID,
		Timestamp: time.Now(),
	}
	if winner != nil {
		closed.WinningBidID = winner.BidID
		closed.WinnerID = winner.BidderID
		closed.Amount = winner.Amount
	}
	s.publisher.PublishListingClosed(closed)

	if winner != nil {
		winnerNote := notify.Notification{
			UserID:    winner.BidderID,
			Subject:   "You won the auction",
			Body:      fmt.Sprintf("Your bid of %d won listing %s. Complete payment to claim the item.", winner.Amount, listing.ListingID),
			ListingID: listing.ListingID,
		}
		if err := s.notifier.NotifyUser(ctx, winnerNote); err != nil {
			logger.Warn().Err(err).Str("user_id", winner.BidderID).Msg("failed to notify winner")
		}
	}

	sellerBody := "Your auction closed with no bids."
	if winner != nil {
		sellerBody = fmt.Sprintf("Your auction closed with a winning bid of %d.", winner.Amount)
	}
	sellerNote := notify.Notification{
		UserID:    listing.SellerID,
		Subject:   "Your auction has closed",
		Body:      sellerBody,
		ListingID: listing.ListingID,
	}
	if err := s.notifier.NotifyUser(ctx, sellerNote); err != nil {
		logger.Warn().Err(err).Str("user_id", listing.SellerID).Msg("failed to notify seller")
	}
}

// reportStuckListings logs listings that were never finalized within the
// lookback window. They are not auto-finalized: skipping the window would
// change winner determination semantics, so they need operator attention.
func (s *Scheduler) reportStuckListings(now time.Time) {
	logger := log.With().Str("component", "lifecycle_scheduler").Logger()

	stuck, err := s.db.GetStuckListings(now, s.lookback)
	if err != nil {
		logger.Error().Err(err).Msg("failed to check for stuck listings")
		return
	}
	for _, listing := range stuck {
		logger.Warn().
			Str("listing_id", listing.ListingID).
			Time("end_time", listing.EndTime).
			Msg("stuck auction: ended before lookback window and never finalized")
	}
}

// GinHandlers contains HTTP handlers for lifecycle endpoints
type GinHandlers struct {
	scheduler *Scheduler
}

func NewGinHandlers(scheduler *Scheduler) *GinHandlers {
	return &GinHandlers{
		scheduler: scheduler,
	}
}

// TickHandler handles POST requests to run a finalization pass on demand
// Requires internal authentication
func (h *GinHandlers) TickHandler() gin.HandlerFunc {
	return func(c *gin.Context) {
		finalized, err := h.scheduler.Tick(c.Request.Context())
		if err != nil {
			response.Handle(c, nil, err)
			return
		}
		response.Success(c, gin.H{
			"finalized_count": len(finalized),
			"finalized":       finalized,
		})
	}
}
