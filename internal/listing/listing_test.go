package listing

import (
	"testing"
	"time"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
	"gorm.io/driver/sqlite"
	"gorm.io/gorm"
	"gorm.io/gorm/logger"

	"github.com/bidhaus/auction-api/internal/types"
)

func newTestService(t *testing.T) (*Service, *gorm.DB) {
	t.Helper()

	db, err := gorm.Open(sqlite.Open(":memory:"), &gorm.Config{
		Logger: logger.Default.LogMode(logger.Silent),
	})
	require.NoError(t, err)

	sqlDB, err := db.DB()
	require.NoError(t, err)
	sqlDB.SetMaxOpenConns(1)

	require.NoError(t, db.AutoMigrate(&types.Listing{}, &types.Bid{}))
	return NewService(db), db
}

func TestCreateListing_AssignsIDAndDefaults(t *testing.T) {
	svc, _ := newTestService(t)

	listing := &types.Listing{
		SellerID:    "seller",
		Title:       "Vintage camera",
		MinBidPrice: 500,
		StartTime:   time.Now(),
		EndTime:     time.Now().Add(48 * time.Hour),
	}
	require.NoError(t, svc.CreateListing(listing))

	assert.Contains(t, listing.ListingID, "LST_")
	assert.False(t, listing.Finalized)
	assert.False(t, listing.PaymentReceived)

	stored, err := svc.GetListing(listing.ListingID)
	require.NoError(t, err)
	require.NotNil(t, stored)
	assert.Equal(t, "Vintage camera", stored.Title)
}

func TestCreateListing_RejectsInvalidWindow(t *testing.T) {
	svc, _ := newTestService(t)

	err := svc.CreateListing(&types.Listing{
		SellerID:  "seller",
		Title:     "Backwards window",
		StartTime: time.Now().Add(time.Hour),
		EndTime:   time.Now(),
	})
	assert.ErrorIs(t, err, ErrInvalidWindow)
}

func TestCreateListing_RejectsNegativeMinBid(t *testing.T) {
	svc, _ := newTestService(t)

	err := svc.CreateListing(&types.Listing{
		SellerID:    "seller",
		Title:       "Bad floor",
		MinBidPrice: -1,
		StartTime:   time.Now(),
		EndTime:     time.Now().Add(time.Hour),
	})
	assert.ErrorIs(t, err, ErrNegativeMinBid)
}

func TestDeleteListing_BlockedOnceBidsExist(t *testing.T) {
	svc, db := newTestService(t)

	listing := &types.Listing{
		SellerID:  "seller",
		Title:     "Popular item",
		StartTime: time.Now(),
		EndTime:   time.Now().Add(time.Hour),
	}
	require.NoError(t, svc.CreateListing(listing))

	require.NoError(t, db.Create(&types.Bid{
		BidID:     "B1",
		ListingID: listing.ListingID,
		BidderID:  "bidder",
		Amount:    10,
		CreatedAt: time.Now(),
	}).Error)

	err := svc.DeleteListing(listing.ListingID, "seller")
	assert.ErrorIs(t, err, types.ErrListingHasBids)

	// Listing survives the rejected delete
	stored, err := svc.GetListing(listing.ListingID)
	require.NoError(t, err)
	assert.NotNil(t, stored)
}

func TestDeleteListing_OnlyOwnerMayDelete(t *testing.T) {
	svc, _ := newTestService(t)

	listing := &types.Listing{
		SellerID:  "seller",
		Title:     "Private item",
		StartTime: time.Now(),
		EndTime:   time.Now().Add(time.Hour),
	}
	require.NoError(t, svc.CreateListing(listing))

	err := svc.DeleteListing(listing.ListingID, "someone-else")
	assert.ErrorIs(t, err, types.ErrListingNotFound)

	require.NoError(t, svc.DeleteListing(listing.ListingID, "seller"))

	stored, err := svc.GetListing(listing.ListingID)
	require.NoError(t, err)
	assert.Nil(t, stored)
}

func TestGetSellerListings(t *testing.T) {
	svc, _ := newTestService(t)

	for _, title := range []string{"First", "Second"} {
		require.NoError(t, svc.CreateListing(&types.Listing{
			SellerID:  "seller",
			Title:     title,
			StartTime: time.Now(),
			EndTime:   time.Now().Add(time.Hour),
		}))
	}
	require.NoError(t, svc.CreateListing(&types.Listing{
		SellerID:  "other",
		Title:     "Not mine",
		StartTime: time.Now(),
		EndTime:   time.Now().Add(time.Hour),
	}))

	listings, err := svc.GetSellerListings("seller")
	require.NoError(t, err)
	assert.Len(t, listings, 2)
}
