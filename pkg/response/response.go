package response

import (
	"errors"
	"net/http"

	"github.com/gin-gonic/gin"
	"gorm.io/gorm"

	"github.com/bidhaus/auction-api/internal/types"
)

// Response represents a standardized API response
type Response struct {
	Success bool        `json:"success"`
	Data    interface{} `json:"data,omitempty"`
	Error   *Error      `json:"error,omitempty"`
}

// Error represents an error response
type Error struct {
	Code    string      `json:"code"`
	Message string      `json:"message"`
	Details interface{} `json:"details,omitempty"`
}

// Common error codes
const (
	ErrCodeNotFound           = "NOT_FOUND"
	ErrCodeBadRequest         = "BAD_REQUEST"
	ErrCodeUnauthorized       = "UNAUTHORIZED"
	ErrCodeForbidden          = "FORBIDDEN"
	ErrCodeInternalError      = "INTERNAL_ERROR"
	ErrCodeDuplicateResource  = "DUPLICATE_RESOURCE"
	ErrCodeAuctionNotActive   = "AUCTION_NOT_ACTIVE"
	ErrCodeSelfBidForbidden   = "SELF_BID_FORBIDDEN"
	ErrCodeBidTooLow          = "BID_TOO_LOW"
	ErrCodeAuctionNotEnded    = "AUCTION_NOT_ENDED"
	ErrCodeNotWinningBidder   = "NOT_WINNING_BIDDER"
	ErrCodeEscrowSettled      = "ESCROW_ALREADY_SETTLED"
	ErrCodeEscrowNotPayable   = "ESCROW_NOT_PAYABLE"
	ErrCodeRefundNotAllowed   = "REFUND_NOT_ALLOWED"
	ErrCodeListingHasBids     = "LISTING_HAS_BIDS"
	ErrCodeGatewayDeclined    = "GATEWAY_DECLINED"
	ErrCodeGatewayUnavailable = "GATEWAY_UNAVAILABLE"
)

// Handle processes the error and returns the appropriate response
func Handle(c *gin.Context, data interface{}, err error) {
	if err == nil {
		Success(c, data)
		return
	}

	var tooLow *types.BidTooLowError
	switch {
	case errors.As(err, &tooLow):
		DomainViolation(c, http.StatusConflict, ErrCodeBidTooLow, tooLow.Error(),
			gin.H{"minimum_bid": tooLow.MinimumBid})
	case errors.Is(err, types.ErrListingNotFound):
		NotFound(c, err.Error())
	case errors.Is(err, types.ErrAuctionNotActive):
		DomainViolation(c, http.StatusConflict, ErrCodeAuctionNotActive, err.Error(), nil)
	case errors.Is(err, types.ErrSelfBidForbidden):
		DomainViolation(c, http.StatusForbidden, ErrCodeSelfBidForbidden, err.Error(), nil)
	case errors.Is(err, types.ErrAuctionNotEnded):
		DomainViolation(c, http.StatusConflict, ErrCodeAuctionNotEnded, err.Error(), nil)
	case errors.Is(err, types.ErrNotWinningBidder):
		DomainViolation(c, http.StatusForbidden, ErrCodeNotWinningBidder, err.Error(), nil)
	case errors.Is(err, types.ErrEscrowAlreadySettled):
		DomainViolation(c, http.StatusConflict, ErrCodeEscrowSettled, err.Error(), nil)
	case errors.Is(err, types.ErrEscrowNotPayable):
		DomainViolation(c, http.StatusConflict, ErrCodeEscrowNotPayable, err.Error(), nil)
	case errors.Is(err, types.ErrRefundNotAllowed):
		DomainViolation(c, http.StatusConflict, ErrCodeRefundNotAllowed, err.Error(), nil)
	case errors.Is(err, types.ErrListingHasBids):
		DomainViolation(c, http.StatusConflict, ErrCodeListingHasBids, err.Error(), nil)
	case errors.Is(err, types.ErrGatewayDeclined):
		DomainViolation(c, http.StatusPaymentRequired, ErrCodeGatewayDeclined, err.Error(), nil)
	case errors.Is(err, types.ErrGatewayUnavailable):
		DomainViolation(c, http.StatusServiceUnavailable, ErrCodeGatewayUnavailable, err.Error(), nil)
	case errors.Is(err, gorm.ErrRecordNotFound):
		NotFound(c, "Resource not found")
	case errors.Is(err, gorm.ErrDuplicatedKey):
		Conflict(c, "Resource already exists")
	default:
		InternalError(c, "An unexpected error occurred")
	}
}

// Success sends a successful response
func Success(c *gin.Context, data interface{}) {
	status := http.StatusOK
	if c.Request.Method == "POST" {
		status = http.StatusCreated
	}

	c.JSON(status, Response{
		Success: true,
		Data:    data,
	})
}

// DomainViolation sends a failed response for a domain rule violation
func DomainViolation(c *gin.Context, status int, code, message string, details interface{}) {
	c.JSON(status, Response{
		Success: false,
		Error: &Error{
			Code:    code,
			Message: message,
			Details: details,
		},
	})
}

// NotFound sends a 404 response
func NotFound(c *gin.Context, message string) {
	c.JSON(http.StatusNotFound, Response{
		Success: false,
		Error: &Error{
			Code:    ErrCodeNotFound,
			Message: message,
		},
	})
}

// BadRequest sends a 400 response
func BadRequest(c *gin.Context, message string) {
	c.JSON(http.StatusBadRequest, Response{
		Success: false,
		Error: &Error{
			Code:    ErrCodeBadRequest,
			Message: message,
		},
	})
}

// Unauthorized sends a 401 response
func Unauthorized(c *gin.Context, message string) {
	c.JSON(http.StatusUnauthorized, Response{
		Success: false,
		Error: &Error{
			Code:    ErrCodeUnauthorized,
			Message: message,
		},
	})
}

// Forbidden sends a 403 response
func Forbidden(c *gin.Context, message string) {
	c.JSON(http.StatusForbidden, Response{
		Success: false,
		Error: &Error{
			Code:    ErrCodeForbidden,
			Message: message,
		},
	})
}

// InternalError sends a 500 response
func InternalError(c *gin.Context, message string) {
	c.JSON(http.StatusInternalServerError, Response{
		Success: false,
		Error: &Error{
			Code:    ErrCodeInternalError,
			Message: message,
		},
	})
}

// Conflict sends a 409 response
func Conflict(c *gin.Context, message string) {
	c.JSON(http.StatusConflict, Response{
		Success: false,
		Error: &Error{
			Code:    ErrCodeDuplicateResource,
			Message: message,
		},
	})
}
