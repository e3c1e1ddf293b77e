package jobs

import (
	"context"
	"fmt"
	"io"
	"sync"
	"sync/atomic"
	"testing"
	"time"

	"auction-engine/internal/engine"
	"auction-engine/internal/models"
	"auction-engine/internal/repository"

	"github.com/shopspring/decimal"
	"github.com/sirupsen/logrus"
	"github.com/stretchr/testify/require"
	"gorm.io/driver/sqlite"
	"gorm.io/gorm"
	"gorm.io/gorm/logger"
)

var seedSeq int64

type recordingHub struct {
	mu     sync.Mutex
	events map[uint][]interface{}
}

func (h *recordingHub) Broadcast(auctionID uint, event interface{}) {
	h.mu.Lock()
	defer h.mu.Unlock()
	h.events[auctionID] = append(h.events[auctionID], event)
}

func (h *recordingHub) SendToUser(uint, interface{}) {}

func (h *recordingHub) typesFor(auctionID uint) []string {
	h.mu.Lock()
	defer h.mu.Unlock()
	var out []string
	for _, ev := range h.events[auctionID] {
		switch v := ev.(type) {
		case *models.AuctionTransitionEvent:
			out = append(out, v.Type+":"+string(v.Status))
		case *models.AuctionEndedEvent:
			out = append(out, v.Type)
		case *models.NewBidEvent:
			out = append(out, v.Type)
		}
	}
	return out
}

func setupScheduler(t *testing.T) (*LifecycleScheduler, *engine.Engine, *recordingHub, *repository.Repository) {
	t.Helper()

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

	log := logrus.New()
	log.SetOutput(io.Discard)

	repo := repository.NewRepository(db)
	hub := &recordingHub{events: make(map[uint][]interface{})}
	eng := engine.New(repo, hub, engine.Config{StorageTimeout: 2 * time.Second}, log)
	t.Cleanup(eng.Stop)

	sched := NewLifecycleScheduler(repo, eng, 20*time.Millisecond, log)
	return sched, eng, hub, repo
}

func d(s string) decimal.Decimal {
	v, err := decimal.NewFromString(s)
	if err != nil {
		panic(err)
	}
	return v
}

func seedUser(t *testing.T, repo *repository.Repository, username string, role models.UserRole) *models.User {
	t.Helper()
	u := &models.User{
		Username: username,
		Email:    username + "@test.local",
		Role:     role,
		Active:   true,
	}
	require.NoError(t, repo.DB().Create(u).Error)
	return u
}

func seedAuction(t *testing.T, repo *repository.Repository, seller *models.User, status models.AuctionStatus, start, end time.Time) *models.Auction {
	t.Helper()
	n := atomic.AddInt64(&seedSeq, 1)
	cat := &models.Category{Name: fmt.Sprintf("Books %d", n), Slug: fmt.Sprintf("books-%d", n)}
	require.NoError(t, repo.DB().Create(cat).Error)

	a := &models.Auction{
		SellerID:      seller.ID,
		CategoryID:    cat.ID,
		Title:         fmt.Sprintf("Lot %d", n),
		StartingPrice: d("100.00"),
		CurrentPrice:  d("100.00"),
		StartTime:     start,
		EndTime:       end,
		Status:        status,
	}
	require.NoError(t, repo.DB().Create(a).Error)
	return a
}

func auctionStatus(t *testing.T, repo *repository.Repository, id uint) models.AuctionStatus {
	t.Helper()
	var a models.Auction
	require.NoError(t, repo.DB().First(&a, id).Error)
	return a.Status
}

func TestTickPromotesDueAuctions(t *testing.T) {
	sched, eng, hub, repo := setupScheduler(t)
	ctx := context.Background()

	seller := seedUser(t, repo, "seller", models.RoleSeller)
	bidder := seedUser(t, repo, "bidder", models.RoleBidder)
	now := time.Now().UTC()

	due := seedAuction(t, repo, seller, models.AuctionStatusUpcoming, now.Add(-time.Second), now.Add(time.Hour))
	notYet := seedAuction(t, repo, seller, models.AuctionStatusUpcoming, now.Add(time.Hour), now.Add(2*time.Hour))

	sched.tick()

	require.Equal(t, models.AuctionStatusLive, auctionStatus(t, repo, due.ID))
	require.Equal(t, models.AuctionStatusUpcoming, auctionStatus(t, repo, notYet.ID))
	require.Contains(t, hub.typesFor(due.ID), "auction_transition:live")

	// the promoted auction takes bids immediately
	require.Nil(t, eng.PlaceBid(ctx, due.ID, bidder.ID, bidder.Username, d("110.00")))

	// a second tick must not re-announce the transition
	sched.tick()
	count := 0
	for _, typ := range hub.typesFor(due.ID) {
		if typ == "auction_transition:live" {
			count++
		}
	}
	require.Equal(t, 1, count)
}

func TestTickClosesExpiredAuctions(t *testing.T) {
	sched, eng, hub, repo := setupScheduler(t)
	ctx := context.Background()

	seller := seedUser(t, repo, "seller", models.RoleSeller)
	bidder := seedUser(t, repo, "bidder", models.RoleBidder)
	now := time.Now().UTC()

	// lane is alive with a committed bid before the window runs out
	a := seedAuction(t, repo, seller, models.AuctionStatusLive, now.Add(-time.Hour), now.Add(300*time.Millisecond))
	require.Nil(t, eng.PlaceBid(ctx, a.ID, bidder.ID, bidder.Username, d("200.00")))

	time.Sleep(400 * time.Millisecond)
	sched.tick()

	require.Equal(t, models.AuctionStatusClosed, auctionStatus(t, repo, a.ID))
	require.Contains(t, hub.typesFor(a.ID), "auction_ended")

	var reloaded models.Auction
	require.NoError(t, repo.DB().First(&reloaded, a.ID).Error)
	require.NotNil(t, reloaded.WinnerID)
	require.Equal(t, bidder.ID, *reloaded.WinnerID)

	rej := eng.PlaceBid(ctx, a.ID, bidder.ID, bidder.Username, d("300.00"))
	require.NotNil(t, rej)
	require.Equal(t, models.CodeNotLive, rej.Reason)
}

func TestTickRecoversWholeMissedWindow(t *testing.T) {
	sched, _, hub, repo := setupScheduler(t)

	seller := seedUser(t, repo, "seller", models.RoleSeller)
	now := time.Now().UTC()

	// both edges passed while nothing was running
	a := seedAuction(t, repo, seller, models.AuctionStatusUpcoming, now.Add(-2*time.Hour), now.Add(-time.Hour))

	sched.tick()

	require.Equal(t, models.AuctionStatusClosed, auctionStatus(t, repo, a.ID))
	types := hub.typesFor(a.ID)
	require.Contains(t, types, "auction_transition:live")
	require.Contains(t, types, "auction_ended")
}

func TestSchedulerLoopRunsAndStops(t *testing.T) {
	sched, _, _, repo := setupScheduler(t)

	seller := seedUser(t, repo, "seller", models.RoleSeller)
	now := time.Now().UTC()
	a := seedAuction(t, repo, seller, models.AuctionStatusUpcoming, now.Add(-time.Second), now.Add(time.Hour))

	go sched.Start()
	require.Eventually(t, func() bool {
		return auctionStatus(t, repo, a.ID) == models.AuctionStatusLive
	}, 2*time.Second, 10*time.Millisecond)

	sched.Stop()
}
