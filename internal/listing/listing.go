package listing

import (
	"errors"
	"time"

	"github.com/gin-gonic/gin"
	"github.com/google/uuid"
	"github.com/rs/zerolog/log"
	"gorm.io/gorm"

	"github.com/bidhaus/auction-api/internal/types"
	"github.com/bidhaus/auction-api/pkg/response"
)

// Service handles listing creation and retrieval. Bidding, finalization
// and settlement never write listings through this package.
type Service struct {
	db *Database
}

func NewService(gormDB *gorm.DB) *Service {
	return &Service{
		db: NewDatabase(gormDB),
	}
}

var (
	ErrInvalidWindow  = errors.New("end time must be after start time")
	ErrNegativeMinBid = errors.New("minimum bid price may not be negative")
)

// CreateListing validates and persists a new auction listing for a seller.
func (s *Service) CreateListing(listing *types.Listing) error {
	logger := log.With().
		Str("seller_id", listing.SellerID).
		Str("service", "listing").
		Logger()

	if !listing.EndTime.After(listing.StartTime) {
		return ErrInvalidWindow
	}
	if listing.MinBidPrice < 0 {
		return ErrNegativeMinBid
	}

	listing.ListingID = "LST_" + uuid.New().String()
	listing.Finalized = false
	listing.PaymentReceived = false
	listing.CreatedAt = time.Now()
	listing.UpdatedAt = time.Now()

	if err := s.db.CreateListing(listing); err != nil {
		logger.Error().Err(err).Msg("failed to create listing")
		return err
	}

	logger.Info().
		Str("listing_id", listing.ListingID).
		Int64("min_bid_price", listing.MinBidPrice).
		Time("end_time", listing.EndTime).
		Msg("listing created")
	return nil
}

// GetListing retrieves a listing by its ID.
func (s *Service) GetListing(listingID string) (*types.Listing, error) {
	return s.db.GetListing(listingID)
}

// GetSellerListings retrieves all listings for a seller.
func (s *Service) GetSellerListings(sellerID string) ([]types.Listing, error) {
	return s.db.GetSellerListings(sellerID)
}

// DeleteListing removes a listing. A listing with bids may not be deleted.
func (s *Service) DeleteListing(listingID, sellerID string) error {
	existing, err := s.db.GetListing(listingID)
	if err != nil {
		return err
	}
	if existing == nil {
		return types.ErrListingNotFound
	}
	if existing.SellerID != sellerID {
		return types.ErrListingNotFound
	}
	return s.db.DeleteListing(listingID)
}

// GinHandlers contains HTTP handlers for listing endpoints
type GinHandlers struct {
	service *Service
}

func NewGinHandlers(service *Service) *GinHandlers {
	return &GinHandlers{
		service: service,
	}
}

// CreateListingRequest is the request body for creating a listing
type CreateListingRequest struct {
	Title       string    `json:"title" binding:"required"`
	Description string    `json:"description"`
	MinBidPrice int64     `json:"min_bid_price"`
	StartTime   time.Time `json:"start_time" binding:"required"`
	EndTime     time.Time `json:"end_time" binding:"required"`
}

// CreateListingHandler handles POST requests to create listings
// The acting seller is taken from the JWT claims
func (h *GinHandlers) CreateListingHandler() gin.HandlerFunc {
	return func(c *gin.Context) {
		var req CreateListingRequest
		if err := c.ShouldBindJSON(&req); err != nil {
			response.BadRequest(c, err.Error())
			return
		}

		listing := &types.Listing{
			SellerID:    c.GetString("userID"),
			Title:       req.Title,
			Description: req.Description,
			MinBidPrice: req.MinBidPrice,
			StartTime:   req.StartTime,
			EndTime:     req.EndTime,
		}

		if err := h.service.CreateListing(listing); err != nil {
			if errors.Is(err, ErrInvalidWindow) || errors.Is(err, ErrNegativeMinBid) {
				response.BadRequest(c, err.Error())
				return
			}
			response.Handle(c, nil, err)
			return
		}

		response.Success(c, listing)
	}
}

// GetListingHandler handles GET requests for a single listing
// URL parameter: listing_id
func (h *GinHandlers) GetListingHandler() gin.HandlerFunc {
	return func(c *gin.Context) {
		listingID := c.Param("listing_id")

		listing, err := h.service.GetListing(listingID)
		if err != nil {
			response.Handle(c, nil, err)
			return
		}
		if listing == nil {
			response.NotFound(c, "Listing not found")
			return
		}

		response.Success(c, listing)
	}
}

// DeleteListingHandler handles DELETE requests for a listing
// Deletion is rejected once any bid exists
func (h *GinHandlers) DeleteListingHandler() gin.HandlerFunc {
	return func(c *gin.Context) {
		listingID := c.Param("listing_id")

		err := h.service.DeleteListing(listingID, c.GetString("userID"))
		response.Handle(c, gin.H{"message": "listing deleted"}, err)
	}
}
