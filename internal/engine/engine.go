// Package engine serializes all bidding activity. It owns one single
// writer lane per live auction, the proxy counter-bid chain, and the
// lifecycle transitions that close the stream.
package engine

import (
	"context"
	"errors"
	"fmt"
	"time"

	"auction-engine/internal/models"
	"auction-engine/internal/pricing"
	"auction-engine/internal/repository"

	lru "github.com/hashicorp/golang-lru"
	"github.com/shopspring/decimal"
	"github.com/sirupsen/logrus"
	"golang.org/x/sync/errgroup"
	"golang.org/x/sync/semaphore"
	"gorm.io/gorm"
)

// Broadcaster delivers engine events to an auction's subscribers and
// straight to a user's connections. Implemented by the gateway hub.
type Broadcaster interface {
	Broadcast(auctionID uint, event interface{})
	SendToUser(userID uint, event interface{})
}

type usernameFunc func(ctx context.Context, userID uint) string

// Config tunes lane behavior. Zero values fall back to defaults.
type Config struct {
	LaneBuffer     int
	StorageTimeout time.Duration
	SnapshotBids   int
	HydrateWorkers int64
}

func (c *Config) applyDefaults() {
	if c.LaneBuffer <= 0 {
		c.LaneBuffer = 64
	}
	if c.StorageTimeout <= 0 {
		c.StorageTimeout = 3 * time.Second
	}
	if c.SnapshotBids <= 0 {
		c.SnapshotBids = 20
	}
	if c.HydrateWorkers <= 0 {
		c.HydrateWorkers = 8
	}
}

type Engine struct {
	repo      *repository.Repository
	registry  *Registry
	broadcast Broadcaster
	cfg       Config
	log       *logrus.Logger
	names     *lru.Cache
}

func New(repo *repository.Repository, broadcast Broadcaster, cfg Config, log *logrus.Logger) *Engine {
	cfg.applyDefaults()
	names, _ := lru.New(4096)
	return &Engine{
		repo:      repo,
		registry:  NewRegistry(),
		broadcast: broadcast,
		cfg:       cfg,
		log:       log,
		names:     names,
	}
}

// Start rebuilds a lane for every live auction so bidding resumes where
// the previous process stopped. Hydration runs concurrently with a small
// worker cap to avoid hammering the store on boot.
func (e *Engine) Start(ctx context.Context) error {
	auctions, err := e.repo.LiveAuctions(ctx)
	if err != nil {
		return err
	}

	g, gctx := errgroup.WithContext(ctx)
	sem := semaphore.NewWeighted(e.cfg.HydrateWorkers)
	for _, auction := range auctions {
		auction := auction
		g.Go(func() error {
			if err := sem.Acquire(gctx, 1); err != nil {
				return err
			}
			defer sem.Release(1)
			_, err := e.startLane(gctx, auction)
			return err
		})
	}
	if err := g.Wait(); err != nil {
		return err
	}

	e.log.WithField("lanes", e.registry.Len()).Info("auction engine started")
	return nil
}

// Stop evicts and halts every lane after draining queued commands.
func (e *Engine) Stop() {
	for _, l := range e.registry.Drain() {
		l.halt()
	}
}

func (e *Engine) startLane(ctx context.Context, auction *models.Auction) (*lane, error) {
	if existing, ok := e.registry.Get(auction.ID); ok {
		return existing, nil
	}
	l := newLane(auction, e)
	if err := l.hydrate(ctx); err != nil {
		return nil, err
	}
	winner, installed := e.registry.PutIfAbsent(auction.ID, l)
	if installed {
		go winner.run()
	}
	return winner, nil
}

// laneFor resolves the lane for a live auction, hydrating it lazily on
// first reference.
func (e *Engine) laneFor(ctx context.Context, auctionID uint) (*lane, error) {
	if l, ok := e.registry.Get(auctionID); ok {
		return l, nil
	}

	auction, err := e.repo.GetAuctionByID(ctx, auctionID)
	if err != nil {
		if errors.Is(err, gorm.ErrRecordNotFound) {
			return nil, models.ErrNotFound
		}
		return nil, models.ErrStorageFailure
	}
	if auction.Status != models.AuctionStatusLive {
		return nil, models.ErrNotLive
	}
	return e.startLane(ctx, auction)
}

// PlaceBid routes a manual bid to the auction's lane. The returned event
// is the typed rejection for the originating connection, or nil when the
// bid committed; the committed bid itself reaches the bidder through the
// broadcast stream.
func (e *Engine) PlaceBid(ctx context.Context, auctionID, bidderID uint, username string, amount decimal.Decimal) *models.BidRejectedEvent {
	l, err := e.laneFor(ctx, auctionID)
	if err != nil {
		return &models.BidRejectedEvent{
			Type:      models.EventBidRejected,
			AuctionID: auctionID,
			Reason:    models.RejectionCode(err),
			Message:   err.Error(),
		}
	}

	reply := make(chan *models.BidRejectedEvent, 1)
	req := bidRequest{ctx: ctx, bidderID: bidderID, username: username, amount: amount, reply: reply}
	if !l.send(ctx, req) {
		if ctx.Err() != nil {
			return nil
		}
		return &models.BidRejectedEvent{
			Type:      models.EventBidRejected,
			AuctionID: auctionID,
			Reason:    models.CodeNotLive,
			Message:   models.ErrNotLive.Error(),
		}
	}

	select {
	case rejected := <-reply:
		return rejected
	case <-ctx.Done():
		return nil
	}
}

// SetProxy routes an intent upsert to the auction's lane. Exactly one of
// the returned events is non-nil unless the caller disconnected.
func (e *Engine) SetProxy(ctx context.Context, auctionID, bidderID uint, username string, maxAmount decimal.Decimal) (*models.ProxySetEvent, *models.ProxyRejectedEvent) {
	rejected := func(err error) *models.ProxyRejectedEvent {
		return &models.ProxyRejectedEvent{
			Type:      models.EventProxyRejected,
			AuctionID: auctionID,
			Reason:    models.RejectionCode(err),
			Message:   err.Error(),
		}
	}

	l, err := e.laneFor(ctx, auctionID)
	if err != nil {
		return nil, rejected(err)
	}

	reply := make(chan proxyOutcome, 1)
	req := setProxyRequest{ctx: ctx, bidderID: bidderID, username: username, maxAmount: maxAmount, reply: reply}
	if !l.send(ctx, req) {
		if ctx.Err() != nil {
			return nil, nil
		}
		return nil, rejected(models.ErrNotLive)
	}

	select {
	case out := <-reply:
		return out.set, out.rejected
	case <-ctx.Done():
		return nil, nil
	}
}

// CancelProxy deactivates a bidder's intent. Cancelling an intent that
// does not exist is a silent no-op.
func (e *Engine) CancelProxy(ctx context.Context, auctionID, bidderID uint) error {
	l, err := e.laneFor(ctx, auctionID)
	if err != nil {
		if errors.Is(err, models.ErrNotLive) {
			// auction already finished or not started; clear any stored
			// intent directly
			_, derr := e.repo.DeactivateProxyBid(ctx, auctionID, bidderID)
			if derr != nil {
				return models.ErrStorageFailure
			}
			return nil
		}
		return err
	}

	reply := make(chan error, 1)
	if !l.send(ctx, cancelProxyRequest{ctx: ctx, bidderID: bidderID, reply: reply}) {
		return nil
	}
	select {
	case err := <-reply:
		return err
	case <-ctx.Done():
		return nil
	}
}

// Snapshot returns the join payload for an auction: its current state
// plus the recent bid window. Live auctions answer through their lane so
// the snapshot's sequence number lines up with the event stream; finished
// and upcoming auctions are served from the store.
func (e *Engine) Snapshot(ctx context.Context, auctionID uint) (*models.AuctionStateEvent, *models.BidHistorySnapshotEvent, error) {
	l, err := e.laneFor(ctx, auctionID)
	switch {
	case err == nil:
		reply := make(chan snapshotOutcome, 1)
		if l.send(ctx, snapshotRequest{ctx: ctx, reply: reply}) {
			select {
			case out := <-reply:
				return out.state, out.history, nil
			case <-ctx.Done():
				return nil, nil, ctx.Err()
			}
		}
		// lane torn down mid-join; fall back to the store
	case errors.Is(err, models.ErrNotLive):
		// upcoming or finished, served statically below
	default:
		return nil, nil, err
	}
	return e.staticSnapshot(ctx, auctionID)
}

func (e *Engine) staticSnapshot(ctx context.Context, auctionID uint) (*models.AuctionStateEvent, *models.BidHistorySnapshotEvent, error) {
	auction, err := e.repo.GetAuctionByID(ctx, auctionID)
	if err != nil {
		if errors.Is(err, gorm.ErrRecordNotFound) {
			return nil, nil, models.ErrNotFound
		}
		return nil, nil, models.ErrStorageFailure
	}

	bids, err := e.repo.RecentBids(ctx, auctionID, e.cfg.SnapshotBids)
	if err != nil {
		return nil, nil, models.ErrStorageFailure
	}

	now := time.Now().UTC()
	tel := telemetryFromBids(auction, bids, now)
	lastSeq := uint64(auction.BidCount)

	state := &models.AuctionStateEvent{
		Type:                 models.EventAuctionState,
		AuctionID:            auction.ID,
		Title:                auction.Title,
		Status:               auction.Status,
		StartingPrice:        auction.StartingPrice,
		CurrentPrice:         auction.CurrentPrice,
		BidCount:             auction.BidCount,
		LastSeq:              lastSeq,
		StartTime:            auction.StartTime,
		EndTime:              auction.EndTime,
		TimeRemainingSeconds: int64(auction.TimeRemaining(now).Seconds()),
		NextIncrement:        pricing.BidIncrement(tel),
		SuggestedBid:         pricing.SuggestedNextBid(tel),
		PredictedFinalPrice:  pricing.PredictedFinalPrice(tel),
	}
	if n := len(bids); n > 0 {
		leader := bids[n-1]
		leaderID := leader.BidderID
		state.LeaderID = &leaderID
		if leader.Bidder != nil {
			state.LeaderUsername = leader.Bidder.Username
		} else {
			state.LeaderUsername = e.Username(ctx, leaderID)
		}
	}

	views := make([]models.BidView, 0, len(bids))
	base := lastSeq - uint64(len(bids))
	for i, b := range bids {
		name := ""
		if b.Bidder != nil {
			name = b.Bidder.Username
		}
		views = append(views, models.BidView{
			BidID:          b.ID,
			Seq:            base + uint64(i) + 1,
			Amount:         b.Amount,
			BidderID:       b.BidderID,
			BidderUsername: name,
			Kind:           b.Kind,
			CreatedAt:      b.CreatedAt,
		})
	}
	history := &models.BidHistorySnapshotEvent{
		Type:      models.EventBidHistorySnapshot,
		AuctionID: auctionID,
		LastSeq:   lastSeq,
		Bids:      views,
	}
	return state, history, nil
}

// Promote moves a due upcoming auction to live, spins up its lane, and
// announces the transition to anyone already watching.
func (e *Engine) Promote(ctx context.Context, auction *models.Auction) error {
	promoted, err := e.repo.MarkLive(ctx, auction.ID)
	if err != nil {
		return err
	}
	if !promoted {
		return nil
	}

	auction.Status = models.AuctionStatusLive
	if _, err := e.startLane(ctx, auction); err != nil {
		return err
	}

	e.broadcast.Broadcast(auction.ID, &models.AuctionTransitionEvent{
		Type:      models.EventAuctionTransition,
		AuctionID: auction.ID,
		Status:    models.AuctionStatusLive,
		Seq:       uint64(auction.BidCount),
	})
	e.log.WithField("auction_id", auction.ID).Info("auction promoted to live")
	return nil
}

// Close funnels the end-of-life transition through the auction's lane so
// it orders strictly after every committed bid, then evicts the lane.
// Closing an auction that already finished is a no-op.
func (e *Engine) Close(ctx context.Context, auctionID uint) error {
	l, err := e.laneFor(ctx, auctionID)
	if err != nil {
		if errors.Is(err, models.ErrNotLive) {
			return nil
		}
		return err
	}

	reply := make(chan closeOutcome, 1)
	if !l.send(ctx, closeRequest{reply: reply}) {
		return nil
	}

	select {
	case out := <-reply:
		if out.err != nil && !errors.Is(out.err, models.ErrNotLive) {
			return out.err
		}
	case <-ctx.Done():
		return ctx.Err()
	}

	e.registry.Remove(auctionID)
	l.halt()
	return nil
}

// CancelAuction lets the seller or an admin withdraw an auction nobody
// has bid on yet.
func (e *Engine) CancelAuction(ctx context.Context, auctionID, actorID uint, role models.UserRole) error {
	auction, err := e.repo.GetAuctionByID(ctx, auctionID)
	if err != nil {
		if errors.Is(err, gorm.ErrRecordNotFound) {
			return models.ErrNotFound
		}
		return models.ErrStorageFailure
	}
	if actorID != auction.SellerID && role != models.RoleAdmin {
		return models.ErrForbidden
	}

	switch auction.Status {
	case models.AuctionStatusLive:
		return e.cancelThroughLane(ctx, auctionID, actorID)

	case models.AuctionStatusUpcoming:
		_, err := e.repo.CancelAuction(ctx, auctionID, actorID, models.AuctionStatusUpcoming)
		if errors.Is(err, repository.ErrStatusMoved) {
			// the scheduler promoted it under us; the lane owns the call now
			fresh, rerr := e.repo.GetAuctionByID(ctx, auctionID)
			if rerr != nil {
				return models.ErrStorageFailure
			}
			if fresh.Status == models.AuctionStatusLive {
				return e.cancelThroughLane(ctx, auctionID, actorID)
			}
			return models.ErrForbidden
		}
		if err != nil {
			return models.ErrStorageFailure
		}
		e.broadcast.Broadcast(auctionID, &models.AuctionTransitionEvent{
			Type:      models.EventAuctionTransition,
			AuctionID: auctionID,
			Status:    models.AuctionStatusCancelled,
			Seq:       uint64(auction.BidCount),
		})
		return nil

	default:
		return models.ErrForbidden
	}
}

// cancelThroughLane routes a live auction's cancel through its serializer
// so it orders strictly against in-flight bids.
func (e *Engine) cancelThroughLane(ctx context.Context, auctionID, actorID uint) error {
	l, err := e.laneFor(ctx, auctionID)
	if err != nil {
		if errors.Is(err, models.ErrNotLive) {
			return models.ErrForbidden
		}
		return err
	}
	reply := make(chan error, 1)
	if !l.send(ctx, cancelAuctionRequest{ctx: ctx, actorID: actorID, reply: reply}) {
		return models.ErrForbidden
	}
	select {
	case err := <-reply:
		if err == nil {
			e.registry.Remove(auctionID)
			l.halt()
		}
		return err
	case <-ctx.Done():
		return ctx.Err()
	}
}

// CreateAuction persists a seller's new listing. Auctions whose window is
// already open go live immediately and get a lane on the spot.
func (e *Engine) CreateAuction(ctx context.Context, auction *models.Auction) error {
	now := time.Now().UTC()
	auction.CurrentPrice = auction.StartingPrice
	if auction.StartTime.After(now) {
		auction.Status = models.AuctionStatusUpcoming
	} else {
		auction.Status = models.AuctionStatusLive
	}

	if err := e.repo.CreateAuction(ctx, auction); err != nil {
		return models.ErrStorageFailure
	}
	if auction.Status == models.AuctionStatusLive {
		if _, err := e.startLane(ctx, auction); err != nil {
			return err
		}
	}
	return nil
}

// Stats summarizes bidding activity for an auction.
type Stats struct {
	AuctionID            uint                 `json:"auction_id"`
	Status               models.AuctionStatus `json:"status"`
	CurrentPrice         decimal.Decimal      `json:"current_price"`
	BidCount             int                  `json:"bid_count"`
	DistinctBidders      int64                `json:"distinct_bidders"`
	NextIncrement        decimal.Decimal      `json:"next_increment"`
	SuggestedBid         decimal.Decimal      `json:"suggested_bid"`
	PredictedFinalPrice  decimal.Decimal      `json:"predicted_final_price"`
	TimeRemainingSeconds int64                `json:"time_remaining_seconds"`
}

// AuctionStats assembles pricing hints and counters for the read-only
// stats endpoint. Values may trail the lane by a moment, which is fine
// for a dashboard read.
func (e *Engine) AuctionStats(ctx context.Context, auctionID uint) (*Stats, error) {
	auction, err := e.repo.GetAuctionByID(ctx, auctionID)
	if err != nil {
		if errors.Is(err, gorm.ErrRecordNotFound) {
			return nil, models.ErrNotFound
		}
		return nil, models.ErrStorageFailure
	}

	bids, err := e.repo.RecentBids(ctx, auctionID, recentCap)
	if err != nil {
		return nil, models.ErrStorageFailure
	}
	distinct, err := e.repo.CountDistinctBidders(ctx, auctionID)
	if err != nil {
		return nil, models.ErrStorageFailure
	}

	now := time.Now().UTC()
	tel := telemetryFromBids(auction, bids, now)
	return &Stats{
		AuctionID:            auction.ID,
		Status:               auction.Status,
		CurrentPrice:         auction.CurrentPrice,
		BidCount:             auction.BidCount,
		DistinctBidders:      distinct,
		NextIncrement:        pricing.BidIncrement(tel),
		SuggestedBid:         pricing.SuggestedNextBid(tel),
		PredictedFinalPrice:  pricing.PredictedFinalPrice(tel),
		TimeRemainingSeconds: int64(auction.TimeRemaining(now).Seconds()),
	}, nil
}

// Username resolves a user's display name through a small LRU so hot
// paths avoid a store read per event.
func (e *Engine) Username(ctx context.Context, userID uint) string {
	if cached, ok := e.names.Get(userID); ok {
		return cached.(string)
	}

	user, err := e.repo.GetUserByID(ctx, userID)
	if err != nil {
		return fmt.Sprintf("user-%d", userID)
	}
	name := user.Username
	if user.DisplayName != "" {
		name = user.DisplayName
	}
	e.names.Add(userID, name)
	return name
}

func telemetryFromBids(auction *models.Auction, bids []models.Bid, now time.Time) pricing.Telemetry {
	points := make([]pricing.BidPoint, len(bids))
	for i, b := range bids {
		points[i] = pricing.BidPoint{
			BidderID:  b.BidderID,
			Amount:    b.Amount,
			CreatedAt: b.CreatedAt,
		}
	}
	return pricing.Telemetry{
		StartingPrice: auction.StartingPrice,
		CurrentPrice:  auction.CurrentPrice,
		BidCount:      auction.BidCount,
		EndTime:       auction.EndTime,
		Now:           now,
		RecentBids:    points,
	}
}
