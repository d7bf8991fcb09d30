package bidding

import (
	"context"
	"errors"
	"fmt"
	"time"

	"github.com/gin-gonic/gin"
	"github.com/google/uuid"
	"github.com/rs/zerolog/log"
	"gorm.io/gorm"

	"github.com/bidhaus/auction-api/internal/events"
	"github.com/bidhaus/auction-api/internal/notify"
	"github.com/bidhaus/auction-api/internal/types"
	"github.com/bidhaus/auction-api/pkg/response"
)

// Service is the bid arbitration engine. It is the only component that
// inserts bids. Admission is validated and committed atomically against
// the store; broadcast and outbid notification are decoupled best-effort
// side effects that never un-admit a committed bid.
type Service struct {
	db        *Database
	notifier  notify.Notifier
	publisher *events.Publisher
}

func NewService(gormDB *gorm.DB, notifier notify.Notifier, publisher *events.Publisher) *Service {
	return &Service{
		db:        NewDatabase(gormDB),
		notifier:  notifier,
		publisher: publisher,
	}
}

// PlaceBid validates and commits a bid attempt.
//
// Preconditions, all checked inside one atomic store transaction:
// the listing exists and is open, the bidder is not the seller, and the
// amount beats the current leader by at least one unit (or meets the
// minimum bid price when no leader exists).
func (s *Service) PlaceBid(listingID, bidderID string, amount int64) (*types.BidResponse, error) {
	logger := log.With().
		Str("listing_id", listingID).
		Str("bidder_id", bidderID).
		Int64("amount", amount).
		Str("service", "bidding").
		Logger()

	logger.Info().Msg("processing bid attempt")

	now := time.Now()
	bid := &types.Bid{
		BidID:     "BID_" + uuid.New().String(),
		ListingID: listingID,
		BidderID:  bidderID,
		Amount:    amount,
		CreatedAt: now,
	}

	previousLeader, err := s.db.AdmitBid(bid, now)
	if err != nil {
		var tooLow *types.BidTooLowError
		switch {
		case errors.As(err, &tooLow):
			logger.Info().Int64("minimum_bid", tooLow.MinimumBid).Msg("bid rejected: below minimum admissible amount")
		case types.IsDomainError(err):
			logger.Info().Err(err).Msg("bid rejected")
		default:
			logger.Error().Err(err).Msg("bid admission failed")
		}
		return nil, err
	}

	logger.Info().
		Str("bid_id", bid.BidID).
		Msg("bid admitted")

	// Post-commit side effects are best effort. Their failure must not
	// convert a committed bid into a reported failure.
	s.emitBidEvents(bid, previousLeader)

	return &types.BidResponse{
		BidID:          bid.BidID,
		ListingID:      bid.ListingID,
		BidderID:       bid.BidderID,
		Amount:         bid.Amount,
		PreviousLeader: previousLeader,
		Timestamp:      bid.CreatedAt,
	}, nil
}

// GetLeader returns the current leader bid for a listing, or nil when the
// listing has no bids.
func (s *Service) GetLeader(listingID string) (*types.Bid, error) {
	return s.db.GetLeader(listingID)
}

// GetListingBids returns every admitted bid for a listing, highest first.
func (s *Service) GetListingBids(listingID string) ([]types.Bid, error) {
	return s.db.GetListingBids(listingID)
}

func (s *Service) emitBidEvents(bid *types.Bid, previousLeader *types.Bid) {
	event := events.BidPlaced{
		BidID:     bid.BidID,
		ListingID: bid.ListingID,
		BidderID:  bid.BidderID,
		Amount:    bid.Amount,
		Timestamp: bid.CreatedAt,
	}
	if previousLeader != nil {
		event.PreviousAmount = previousLeader.Amount
	}

	go s.publisher.PublishBidPlaced(event)

	go func() {
		ctx, cancel := context.WithTimeout(context.Background(), 5*time.Second)
		defer cancel()

		if err := s.notifier.Broadcast(ctx, fmt.Sprintf("bids.%s", bid.ListingID), event); err != nil {
			log.Warn().Err(err).Str("listing_id", bid.ListingID).Msg("failed to broadcast bid event")
		}

		if previousLeader == nil || previousLeader.BidderID == bid.BidderID {
			return
		}
		outbid := notify.Notification{
			UserID:    previousLeader.BidderID,
			Subject:   "You have been outbid",
			Body:      fmt.Sprintf("A higher bid of %d was placed on listing %s", bid.Amount, bid.ListingID),
			ListingID: bid.ListingID,
		}
		if err := s.notifier.NotifyUser(ctx, outbid); err != nil {
			log.Warn().Err(err).Str("user_id", previousLeader.BidderID).Msg("failed to deliver outbid notification")
		}
	}()
}

// GinHandlers contains HTTP handlers for bidding endpoints
type GinHandlers struct {
	service *Service
}

func NewGinHandlers(service *Service) *GinHandlers {
	return &GinHandlers{
		service: service,
	}
}

// PlaceBidRequest is the request body for placing a bid
type PlaceBidRequest struct {
	Amount int64 `json:"amount" binding:"required,gt=0"`
}

// PlaceBidHandler handles POST requests to place bids
// Requires a valid JWT token; the bidder is the authenticated user
// URL parameter: listing_id
func (h *GinHandlers) PlaceBidHandler() gin.HandlerFunc {
	return func(c *gin.Context) {
		listingID := c.Param("listing_id")
		bidderID := c.GetString("userID")
		if bidderID == "" {
			response.Unauthorized(c, "Missing authenticated bidder")
			return
		}

		var req PlaceBidRequest
		if err := c.ShouldBindJSON(&req); err != nil {
			response.BadRequest(c, err.Error())
			return
		}

		bid, err := h.service.PlaceBid(listingID, bidderID, req.Amount)
		response.Handle(c, bid, err)
	}
}

// GetLeaderHandler handles GET requests for the current leader bid
// URL parameter: listing_id
// The leader field is null when the listing has no bids
func (h *GinHandlers) GetLeaderHandler() gin.HandlerFunc {
	return func(c *gin.Context) {
		listingID := c.Param("listing_id")

		leader, err := h.service.GetLeader(listingID)
		if err != nil {
			response.Handle(c, nil, err)
			return
		}
		response.Success(c, gin.H{"leader": leader})
	}
}

// GetListingBidsHandler handles GET requests for a listing's bid history
// URL parameter: listing_id
func (h *GinHandlers) GetListingBidsHandler() gin.HandlerFunc {
	return func(c *gin.Context) {
		listingID := c.Param("listing_id")

		bids, err := h.service.GetListingBids(listingID)
		response.Handle(c, bids, err)
	}
}
