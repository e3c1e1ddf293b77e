package repository

import (
	"context"
	"fmt"
	"sync/atomic"
	"testing"
	"time"

	"auction-engine/internal/models"

	"github.com/shopspring/decimal"
	"github.com/stretchr/testify/require"
	"gorm.io/driver/sqlite"
	"gorm.io/gorm"
	"gorm.io/gorm/logger"
)

var seedSeq int64

func setupTestDB(t *testing.T) *gorm.DB {
	db, err := gorm.Open(sqlite.Open(":memory:"), &gorm.Config{
		Logger: logger.Discard,
	})
	require.NoError(t, err)

	require.NoError(t, db.AutoMigrate(
		&models.User{},
		&models.Category{},
		&models.Auction{},
		&models.Bid{},
		&models.ProxyBid{},
		&models.BiddingHistory{},
	))
	return db
}

func d(s string) decimal.Decimal {
	v, err := decimal.NewFromString(s)
	if err != nil {
		panic(err)
	}
	return v
}

func seedUser(t *testing.T, db *gorm.DB, username string) *models.User {
	u := &models.User{
		Username: username,
		Email:    username + "@test.local",
		Role:     models.RoleBidder,
		Active:   true,
	}
	require.NoError(t, db.Create(u).Error)
	return u
}

func seedAuction(t *testing.T, db *gorm.DB, seller *models.User, price string) *models.Auction {
	n := atomic.AddInt64(&seedSeq, 1)
	cat := &models.Category{Name: fmt.Sprintf("Watches %d", n), Slug: fmt.Sprintf("watches-%d", n)}
	require.NoError(t, db.Create(cat).Error)

	now := time.Now().UTC()
	a := &models.Auction{
		SellerID:      seller.ID,
		CategoryID:    cat.ID,
		Title:         "Vintage chronograph",
		StartingPrice: d(price),
		CurrentPrice:  d(price),
		StartTime:     now.Add(-time.Hour),
		EndTime:       now.Add(time.Hour),
		Status:        models.AuctionStatusLive,
	}
	require.NoError(t, db.Create(a).Error)
	return a
}

func TestCommitBidAdvancesAuction(t *testing.T) {
	db := setupTestDB(t)
	repo := NewRepository(db)
	ctx := context.Background()

	seller := seedUser(t, db, "seller1")
	b1 := seedUser(t, db, "bidder1")
	b2 := seedUser(t, db, "bidder2")
	auction := seedAuction(t, db, seller, "100.00")

	first := &models.Bid{AuctionID: auction.ID, BidderID: b1.ID, Amount: d("110.00"), Kind: models.BidKindManual}
	require.NoError(t, repo.CommitBid(ctx, first, nil))

	var reloaded models.Auction
	require.NoError(t, db.First(&reloaded, auction.ID).Error)
	require.True(t, reloaded.CurrentPrice.Equal(d("110.00")), "price %s", reloaded.CurrentPrice)
	require.Equal(t, 1, reloaded.BidCount)
	require.True(t, first.Winning)

	second := &models.Bid{AuctionID: auction.ID, BidderID: b2.ID, Amount: d("115.00"), Kind: models.BidKindManual}
	require.NoError(t, repo.CommitBid(ctx, second, nil))

	var winners int64
	require.NoError(t, db.Model(&models.Bid{}).
		Where("auction_id = ? AND winning = ?", auction.ID, true).
		Count(&winners).Error)
	require.EqualValues(t, 1, winners)

	var leader models.Bid
	require.NoError(t, db.Where("auction_id = ? AND winning = ?", auction.ID, true).First(&leader).Error)
	require.Equal(t, b2.ID, leader.BidderID)

	var audit int64
	require.NoError(t, db.Model(&models.BiddingHistory{}).
		Where("auction_id = ? AND event_type = ?", auction.ID, models.HistoryBidPlaced).
		Count(&audit).Error)
	require.EqualValues(t, 2, audit)
}

func TestCommitBidRollsBackNonIncreasingPrice(t *testing.T) {
	db := setupTestDB(t)
	repo := NewRepository(db)
	ctx := context.Background()

	seller := seedUser(t, db, "seller2")
	b1 := seedUser(t, db, "bidder3")
	b2 := seedUser(t, db, "bidder4")
	auction := seedAuction(t, db, seller, "100.00")

	require.NoError(t, repo.CommitBid(ctx, &models.Bid{
		AuctionID: auction.ID, BidderID: b1.ID, Amount: d("110.00"), Kind: models.BidKindManual,
	}, nil))

	stale := &models.Bid{AuctionID: auction.ID, BidderID: b2.ID, Amount: d("105.00"), Kind: models.BidKindManual}
	err := repo.CommitBid(ctx, stale, nil)
	require.ErrorIs(t, err, ErrPriceNotMonotonic)

	var bids int64
	require.NoError(t, db.Model(&models.Bid{}).Where("auction_id = ?", auction.ID).Count(&bids).Error)
	require.EqualValues(t, 1, bids, "rolled-back bid row must not persist")

	var reloaded models.Auction
	require.NoError(t, db.First(&reloaded, auction.ID).Error)
	require.True(t, reloaded.CurrentPrice.Equal(d("110.00")))
	require.Equal(t, 1, reloaded.BidCount)

	// the displaced leader keeps its flag after the rollback
	var leader models.Bid
	require.NoError(t, db.Where("auction_id = ? AND winning = ?", auction.ID, true).First(&leader).Error)
	require.Equal(t, b1.ID, leader.BidderID)
}

func TestCommitBidStampsIntent(t *testing.T) {
	db := setupTestDB(t)
	repo := NewRepository(db)
	ctx := context.Background()

	seller := seedUser(t, db, "seller3")
	bidder := seedUser(t, db, "bidder5")
	auction := seedAuction(t, db, seller, "100.00")

	proxy := &models.ProxyBid{
		AuctionID:     auction.ID,
		BidderID:      bidder.ID,
		MaxAmount:     d("200.00"),
		CurrentAmount: d("0.00"),
		Active:        true,
	}
	require.NoError(t, repo.SaveProxyBid(ctx, proxy))

	bid := &models.Bid{AuctionID: auction.ID, BidderID: bidder.ID, Amount: d("104.00"), Kind: models.BidKindAutomatic}
	require.NoError(t, repo.CommitBid(ctx, bid, &proxy.ID))

	var reloaded models.ProxyBid
	require.NoError(t, db.First(&reloaded, proxy.ID).Error)
	require.True(t, reloaded.CurrentAmount.Equal(d("104.00")), "current %s", reloaded.CurrentAmount)
}

func TestCloseAuctionStampsWinnerAndRetiresIntents(t *testing.T) {
	db := setupTestDB(t)
	repo := NewRepository(db)
	ctx := context.Background()

	seller := seedUser(t, db, "seller4")
	b1 := seedUser(t, db, "bidder6")
	b2 := seedUser(t, db, "bidder7")
	auction := seedAuction(t, db, seller, "100.00")

	require.NoError(t, repo.SaveProxyBid(ctx, &models.ProxyBid{
		AuctionID: auction.ID, BidderID: b1.ID,
		MaxAmount: d("300.00"), CurrentAmount: d("0.00"), Active: true,
	}))
	require.NoError(t, repo.CommitBid(ctx, &models.Bid{
		AuctionID: auction.ID, BidderID: b1.ID, Amount: d("110.00"), Kind: models.BidKindManual,
	}, nil))
	require.NoError(t, repo.CommitBid(ctx, &models.Bid{
		AuctionID: auction.ID, BidderID: b2.ID, Amount: d("500.00"), Kind: models.BidKindManual,
	}, nil))

	closed, winning, err := repo.CloseAuction(ctx, auction.ID)
	require.NoError(t, err)
	require.Equal(t, models.AuctionStatusClosed, closed.Status)
	require.NotNil(t, winning)
	require.Equal(t, b2.ID, winning.BidderID)
	require.NotNil(t, closed.WinnerID)
	require.Equal(t, b2.ID, *closed.WinnerID)

	active, err := repo.ActiveProxyBids(ctx, auction.ID)
	require.NoError(t, err)
	require.Empty(t, active)

	_, _, err = repo.CloseAuction(ctx, auction.ID)
	require.ErrorIs(t, err, models.ErrNotLive)
}

func TestCloseAuctionWithoutBids(t *testing.T) {
	db := setupTestDB(t)
	repo := NewRepository(db)
	ctx := context.Background()

	seller := seedUser(t, db, "seller5")
	auction := seedAuction(t, db, seller, "100.00")

	closed, winning, err := repo.CloseAuction(ctx, auction.ID)
	require.NoError(t, err)
	require.Nil(t, winning)
	require.Nil(t, closed.WinnerID)
	require.Equal(t, models.AuctionStatusClosed, closed.Status)
}

func TestMarkLivePromotesOnce(t *testing.T) {
	db := setupTestDB(t)
	repo := NewRepository(db)
	ctx := context.Background()

	seller := seedUser(t, db, "seller6")
	auction := seedAuction(t, db, seller, "100.00")
	require.NoError(t, db.Model(&models.Auction{}).
		Where("id = ?", auction.ID).
		Update("status", models.AuctionStatusUpcoming).Error)

	promoted, err := repo.MarkLive(ctx, auction.ID)
	require.NoError(t, err)
	require.True(t, promoted)

	promoted, err = repo.MarkLive(ctx, auction.ID)
	require.NoError(t, err)
	require.False(t, promoted, "second promotion must be a no-op")
}

func TestSaveProxyBidUpsertsCeiling(t *testing.T) {
	db := setupTestDB(t)
	repo := NewRepository(db)
	ctx := context.Background()

	seller := seedUser(t, db, "seller7")
	bidder := seedUser(t, db, "bidder8")
	auction := seedAuction(t, db, seller, "100.00")

	require.NoError(t, repo.SaveProxyBid(ctx, &models.ProxyBid{
		AuctionID: auction.ID, BidderID: bidder.ID,
		MaxAmount: d("200.00"), CurrentAmount: d("0.00"), Active: true,
	}))
	require.NoError(t, repo.SaveProxyBid(ctx, &models.ProxyBid{
		AuctionID: auction.ID, BidderID: bidder.ID,
		MaxAmount: d("300.00"), CurrentAmount: d("0.00"), Active: true,
	}))

	var rows int64
	require.NoError(t, db.Model(&models.ProxyBid{}).
		Where("auction_id = ? AND bidder_id = ?", auction.ID, bidder.ID).
		Count(&rows).Error)
	require.EqualValues(t, 1, rows, "re-setting an intent must not duplicate it")

	stored, err := repo.GetProxyBid(ctx, auction.ID, bidder.ID)
	require.NoError(t, err)
	require.NotNil(t, stored)
	require.True(t, stored.MaxAmount.Equal(d("300.00")), "ceiling %s", stored.MaxAmount)
	require.True(t, stored.Active)

	deactivated, err := repo.DeactivateProxyBid(ctx, auction.ID, bidder.ID)
	require.NoError(t, err)
	require.True(t, deactivated)

	deactivated, err = repo.DeactivateProxyBid(ctx, auction.ID, bidder.ID)
	require.NoError(t, err)
	require.False(t, deactivated)
}

func TestActiveProxyBidsOrderedByCreation(t *testing.T) {
	db := setupTestDB(t)
	repo := NewRepository(db)
	ctx := context.Background()

	seller := seedUser(t, db, "seller8")
	b1 := seedUser(t, db, "bidder9")
	b2 := seedUser(t, db, "bidder10")
	auction := seedAuction(t, db, seller, "100.00")

	require.NoError(t, repo.SaveProxyBid(ctx, &models.ProxyBid{
		AuctionID: auction.ID, BidderID: b1.ID,
		MaxAmount: d("150.00"), CurrentAmount: d("0.00"), Active: true,
	}))
	require.NoError(t, repo.SaveProxyBid(ctx, &models.ProxyBid{
		AuctionID: auction.ID, BidderID: b2.ID,
		MaxAmount: d("150.00"), CurrentAmount: d("0.00"), Active: true,
	}))

	proxies, err := repo.ActiveProxyBids(ctx, auction.ID)
	require.NoError(t, err)
	require.Len(t, proxies, 2)
	require.Equal(t, b1.ID, proxies[0].BidderID, "earlier intent first")
}

func TestRecentBidsOldestFirst(t *testing.T) {
	db := setupTestDB(t)
	repo := NewRepository(db)
	ctx := context.Background()

	seller := seedUser(t, db, "seller9")
	b1 := seedUser(t, db, "bidder11")
	b2 := seedUser(t, db, "bidder12")
	auction := seedAuction(t, db, seller, "100.00")

	for i, tc := range []struct {
		bidder uint
		amount string
	}{
		{b1.ID, "110.00"},
		{b2.ID, "115.00"},
		{b1.ID, "120.00"},
	} {
		bid := &models.Bid{AuctionID: auction.ID, BidderID: tc.bidder, Amount: d(tc.amount), Kind: models.BidKindManual}
		require.NoError(t, repo.CommitBid(ctx, bid, nil), "bid %d", i)
	}

	bids, err := repo.RecentBids(ctx, auction.ID, 2)
	require.NoError(t, err)
	require.Len(t, bids, 2)
	require.True(t, bids[0].Amount.Equal(d("115.00")))
	require.True(t, bids[1].Amount.Equal(d("120.00")))
}

func TestCancelAuctionRequiresExpectedStatus(t *testing.T) {
	db := setupTestDB(t)
	repo := NewRepository(db)
	ctx := context.Background()

	seller := seedUser(t, db, "seller11")
	auction := seedAuction(t, db, seller, "100.00")
	require.NoError(t, db.Model(&models.Auction{}).Where("id = ?", auction.ID).
		Update("status", models.AuctionStatusUpcoming).Error)

	// the scheduler wins the race before the cancel lands
	promoted, err := repo.MarkLive(ctx, auction.ID)
	require.NoError(t, err)
	require.True(t, promoted)

	_, err = repo.CancelAuction(ctx, auction.ID, seller.ID, models.AuctionStatusUpcoming)
	require.ErrorIs(t, err, ErrStatusMoved)

	var reloaded models.Auction
	require.NoError(t, db.First(&reloaded, auction.ID).Error)
	require.Equal(t, models.AuctionStatusLive, reloaded.Status, "stale cancel must not land")

	// the refused cancel leaves no audit row behind
	var audit int64
	require.NoError(t, db.Model(&models.BiddingHistory{}).
		Where("auction_id = ? AND event_type = ?", auction.ID, models.HistoryAuctionCancelled).
		Count(&audit).Error)
	require.EqualValues(t, 0, audit)

	// against the fresh status the cancel goes through
	cancelled, err := repo.CancelAuction(ctx, auction.ID, seller.ID, models.AuctionStatusLive)
	require.NoError(t, err)
	require.Equal(t, models.AuctionStatusCancelled, cancelled.Status)
}

func TestFindDueAndExpired(t *testing.T) {
	db := setupTestDB(t)
	repo := NewRepository(db)
	ctx := context.Background()

	seller := seedUser(t, db, "seller10")
	now := time.Now().UTC()

	due := seedAuction(t, db, seller, "100.00")
	require.NoError(t, db.Model(&models.Auction{}).Where("id = ?", due.ID).
		Updates(map[string]interface{}{"status": models.AuctionStatusUpcoming, "start_time": now.Add(-time.Minute)}).Error)

	expired := seedAuction(t, db, seller, "100.00")
	require.NoError(t, db.Model(&models.Auction{}).Where("id = ?", expired.ID).
		Update("end_time", now.Add(-time.Minute)).Error)

	upcoming, err := repo.FindDueUpcoming(ctx, now)
	require.NoError(t, err)
	require.Len(t, upcoming, 1)
	require.Equal(t, due.ID, upcoming[0].ID)

	ended, err := repo.FindExpiredLive(ctx, now)
	require.NoError(t, err)
	require.Len(t, ended, 1)
	require.Equal(t, expired.ID, ended[0].ID)
}
