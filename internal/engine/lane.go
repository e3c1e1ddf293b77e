package engine

import (
	"context"
	"errors"
	"time"

	"auction-engine/internal/models"
	"auction-engine/internal/pricing"
	"auction-engine/internal/repository"

	"github.com/shopspring/decimal"
	"github.com/sirupsen/logrus"
)

// recentCap bounds the in-memory bid window. Fifty bids cover the
// ten-minute velocity window at any rate the factor tables distinguish,
// and the twenty-bid competition window.
const recentCap = 50

type bidRequest struct {
	ctx      context.Context
	bidderID uint
	username string
	amount   decimal.Decimal
	reply    chan *models.BidRejectedEvent
}

type setProxyRequest struct {
	ctx       context.Context
	bidderID  uint
	username  string
	maxAmount decimal.Decimal
	reply     chan proxyOutcome
}

type proxyOutcome struct {
	set      *models.ProxySetEvent
	rejected *models.ProxyRejectedEvent
}

type cancelProxyRequest struct {
	ctx      context.Context
	bidderID uint
	reply    chan error
}

type snapshotRequest struct {
	ctx   context.Context
	reply chan snapshotOutcome
}

type snapshotOutcome struct {
	state   *models.AuctionStateEvent
	history *models.BidHistorySnapshotEvent
}

type closeRequest struct {
	reply chan closeOutcome
}

type closeOutcome struct {
	ended    *models.AuctionEndedEvent
	winnerID uint
	err      error
}

type cancelAuctionRequest struct {
	ctx     context.Context
	actorID uint
	reply   chan error
}

type recentBid struct {
	bid      models.Bid
	username string
}

// lane is the single writer for one auction. Every mutation of the
// auction's price, bid set, winning flag, and proxy intents flows through
// its goroutine in arrival order, so the price can only move up and no
// two writers ever race on the same auction rows.
type lane struct {
	auctionID uint
	repo      *repository.Repository
	broadcast Broadcaster
	username  usernameFunc
	log       *logrus.Entry

	commands chan interface{}
	stop     chan struct{}
	done     chan struct{}

	storageTimeout time.Duration
	snapshotBids   int

	// owned by the run goroutine after start
	auction     *models.Auction
	seq         uint64
	lastBidder  uint
	recent      []recentBid
	intents     []*models.ProxyBid
	quarantined bool
}

func newLane(auction *models.Auction, e *Engine) *lane {
	return &lane{
		auctionID:      auction.ID,
		repo:           e.repo,
		broadcast:      e.broadcast,
		username:       e.Username,
		log:            e.log.WithField("auction_id", auction.ID),
		commands:       make(chan interface{}, e.cfg.LaneBuffer),
		stop:           make(chan struct{}),
		done:           make(chan struct{}),
		storageTimeout: e.cfg.StorageTimeout,
		snapshotBids:   e.cfg.SnapshotBids,
		auction:        auction,
		seq:            uint64(auction.BidCount),
	}
}

// hydrate rebuilds the lane's in-memory window from the store. Called
// before the run goroutine starts, so no locking is needed.
func (l *lane) hydrate(ctx context.Context) error {
	bids, err := l.repo.RecentBids(ctx, l.auctionID, recentCap)
	if err != nil {
		return err
	}
	for _, b := range bids {
		name := ""
		if b.Bidder != nil {
			name = b.Bidder.Username
		}
		bid := b
		bid.Bidder = nil
		l.recent = append(l.recent, recentBid{bid: bid, username: name})
	}
	if len(bids) > 0 {
		l.lastBidder = bids[len(bids)-1].BidderID
	}

	intents, err := l.repo.ActiveProxyBids(ctx, l.auctionID)
	if err != nil {
		return err
	}
	l.intents = intents
	return nil
}

func (l *lane) run() {
	defer close(l.done)
	for {
		select {
		case cmd := <-l.commands:
			l.dispatch(cmd)
		case <-l.stop:
			// answer whatever was queued before eviction, then exit
			for {
				select {
				case cmd := <-l.commands:
					l.dispatch(cmd)
				default:
					return
				}
			}
		}
	}
}

func (l *lane) halt() {
	close(l.stop)
	<-l.done
}

// send enqueues a command, blocking under back-pressure until the lane
// drains, the caller gives up, or the lane is being torn down.
func (l *lane) send(ctx context.Context, cmd interface{}) bool {
	select {
	case l.commands <- cmd:
		return true
	case <-ctx.Done():
		return false
	case <-l.stop:
		return false
	}
}

func (l *lane) dispatch(cmd interface{}) {
	switch req := cmd.(type) {
	case bidRequest:
		l.handleBid(req)
	case setProxyRequest:
		l.handleSetProxy(req)
	case cancelProxyRequest:
		l.handleCancelProxy(req)
	case snapshotRequest:
		l.handleSnapshot(req)
	case closeRequest:
		req.reply <- l.closeAuction()
	case cancelAuctionRequest:
		l.handleCancelAuction(req)
	default:
		l.log.Warnf("unknown lane command %T", cmd)
	}
}

func (l *lane) handleBid(req bidRequest) {
	if req.ctx.Err() != nil {
		return
	}
	if rejected := l.commitManual(req); rejected != nil {
		req.reply <- rejected
		return
	}
	// settle the counter-bid chain before acknowledging, so the bidder's
	// confirmation never races the intents their bid woke up
	l.reactIntents(models.BidKindProxy, req.bidderID)
	req.reply <- nil
}

// commitManual runs the full validation ladder for a human bid and, when
// it passes, persists and announces it. Returns the rejection to hand
// back to the originating connection, or nil on success.
func (l *lane) commitManual(req bidRequest) *models.BidRejectedEvent {
	now := time.Now().UTC()

	if l.quarantined {
		return l.rejection(models.ErrStorageFailure, nil)
	}
	if !l.auction.IsBiddable(now) {
		return l.rejection(models.ErrNotLive, nil)
	}
	if req.bidderID == l.auction.SellerID {
		return l.rejection(models.ErrSellerSelfBid, nil)
	}
	if l.lastBidder == req.bidderID {
		return l.rejection(models.ErrConsecutive, nil)
	}
	if req.amount.LessThanOrEqual(decimal.Zero) || !req.amount.Equal(req.amount.Round(2)) {
		return l.rejection(models.ErrInvalidAmount, nil)
	}

	minimum := l.auction.CurrentPrice.Add(pricing.BidIncrement(l.telemetry(now)))
	if req.amount.LessThan(minimum) {
		return l.rejection(models.ErrBelowMinimum, &minimum)
	}

	bid := &models.Bid{
		AuctionID: l.auctionID,
		BidderID:  req.bidderID,
		Amount:    req.amount,
		Kind:      models.BidKindManual,
	}
	if err := l.persist(bid, nil); err != nil {
		return l.rejection(models.ErrStorageFailure, nil)
	}

	l.advance(bid, req.username)
	return nil
}

// persist commits the bid inside the storage timeout. A monotonicity
// violation quarantines the lane: all further bids fail until an operator
// inspects the rows and restarts.
func (l *lane) persist(bid *models.Bid, intentID *uint) error {
	ctx, cancel := context.WithTimeout(context.Background(), l.storageTimeout)
	defer cancel()

	err := l.repo.CommitBid(ctx, bid, intentID)
	if err == nil {
		return nil
	}
	if errors.Is(err, repository.ErrPriceNotMonotonic) {
		l.quarantined = true
		l.log.WithError(err).WithFields(logrus.Fields{
			"bidder_id": bid.BidderID,
			"amount":    bid.Amount,
		}).Error("price regression detected, lane quarantined")
	} else {
		l.log.WithError(err).Warn("bid commit failed")
	}
	return err
}

// advance applies a committed bid to the lane state and broadcasts it.
func (l *lane) advance(bid *models.Bid, username string) {
	l.auction.CurrentPrice = bid.Amount
	l.auction.BidCount++
	l.seq++
	l.lastBidder = bid.BidderID

	l.recent = append(l.recent, recentBid{bid: *bid, username: username})
	if len(l.recent) > recentCap {
		l.recent = l.recent[1:]
	}

	tel := l.telemetry(time.Now().UTC())
	l.broadcast.Broadcast(l.auctionID, &models.NewBidEvent{
		Type:           models.EventNewBid,
		AuctionID:      l.auctionID,
		BidID:          bid.ID,
		Seq:            l.seq,
		Amount:         bid.Amount,
		BidderID:       bid.BidderID,
		BidderUsername: username,
		Kind:           bid.Kind,
		TotalBids:      l.auction.BidCount,
		CurrentPrice:   l.auction.CurrentPrice,
		MinimumNextBid: pricing.SuggestedNextBid(tel),
		Timestamp:      bid.CreatedAt,
	})
}

func (l *lane) handleSetProxy(req setProxyRequest) {
	if req.ctx.Err() != nil {
		return
	}
	outcome := l.setIntent(req)
	if outcome.set != nil {
		// a fresh intent competes immediately; nobody is excluded because
		// no bid triggered this evaluation
		l.reactIntents(models.BidKindAutomatic, 0)
	}
	req.reply <- outcome
}

func (l *lane) setIntent(req setProxyRequest) proxyOutcome {
	now := time.Now().UTC()

	if l.quarantined {
		return l.proxyRejection(models.ErrStorageFailure)
	}
	if !l.auction.IsBiddable(now) {
		return l.proxyRejection(models.ErrNotLive)
	}
	if req.bidderID == l.auction.SellerID {
		return l.proxyRejection(models.ErrSellerSelfBid)
	}
	if req.maxAmount.LessThanOrEqual(decimal.Zero) || !req.maxAmount.Equal(req.maxAmount.Round(2)) {
		return l.proxyRejection(models.ErrInvalidAmount)
	}
	if !req.maxAmount.GreaterThan(l.auction.CurrentPrice) {
		return l.proxyRejection(models.ErrBelowMinimum)
	}

	ctx, cancel := context.WithTimeout(context.Background(), l.storageTimeout)
	defer cancel()

	proxy := &models.ProxyBid{
		AuctionID:     l.auctionID,
		BidderID:      req.bidderID,
		MaxAmount:     req.maxAmount,
		CurrentAmount: decimal.Zero,
		Active:        true,
	}
	if err := l.repo.SaveProxyBid(ctx, proxy); err != nil {
		l.log.WithError(err).Warn("proxy intent save failed")
		return l.proxyRejection(models.ErrStorageFailure)
	}

	// re-read so the in-memory intent carries the stored row's identity
	// and original creation time, which decides ceiling ties
	stored, err := l.repo.GetProxyBid(ctx, l.auctionID, req.bidderID)
	if err != nil || stored == nil {
		l.log.WithError(err).Warn("proxy intent reload failed")
		return l.proxyRejection(models.ErrStorageFailure)
	}
	l.upsertIntent(stored)

	return proxyOutcome{set: &models.ProxySetEvent{
		Type:      models.EventProxySet,
		AuctionID: l.auctionID,
		MaxAmount: stored.MaxAmount,
	}}
}

func (l *lane) handleCancelProxy(req cancelProxyRequest) {
	if req.ctx.Err() != nil {
		return
	}

	ctx, cancel := context.WithTimeout(context.Background(), l.storageTimeout)
	defer cancel()

	_, err := l.repo.DeactivateProxyBid(ctx, l.auctionID, req.bidderID)
	if err != nil {
		l.log.WithError(err).Warn("proxy intent cancel failed")
		req.reply <- models.ErrStorageFailure
		return
	}
	l.removeIntent(req.bidderID)
	req.reply <- nil
}

func (l *lane) handleSnapshot(req snapshotRequest) {
	if req.ctx.Err() != nil {
		return
	}
	req.reply <- snapshotOutcome{state: l.stateEvent(), history: l.historyEvent()}
}

func (l *lane) stateEvent() *models.AuctionStateEvent {
	now := time.Now().UTC()
	tel := l.telemetry(now)

	ev := &models.AuctionStateEvent{
		Type:                 models.EventAuctionState,
		AuctionID:            l.auctionID,
		Title:                l.auction.Title,
		Status:               l.auction.Status,
		StartingPrice:        l.auction.StartingPrice,
		CurrentPrice:         l.auction.CurrentPrice,
		BidCount:             l.auction.BidCount,
		LastSeq:              l.seq,
		StartTime:            l.auction.StartTime,
		EndTime:              l.auction.EndTime,
		TimeRemainingSeconds: int64(l.auction.TimeRemaining(now).Seconds()),
		NextIncrement:        pricing.BidIncrement(tel),
		SuggestedBid:         pricing.SuggestedNextBid(tel),
		PredictedFinalPrice:  pricing.PredictedFinalPrice(tel),
	}
	if l.lastBidder != 0 {
		leaderID := l.lastBidder
		ev.LeaderID = &leaderID
		if len(l.recent) > 0 {
			ev.LeaderUsername = l.recent[len(l.recent)-1].username
		}
	}
	return ev
}

func (l *lane) historyEvent() *models.BidHistorySnapshotEvent {
	window := l.recent
	if len(window) > l.snapshotBids {
		window = window[len(window)-l.snapshotBids:]
	}

	views := make([]models.BidView, 0, len(window))
	base := l.seq - uint64(len(window))
	for i, rb := range window {
		views = append(views, models.BidView{
			BidID:          rb.bid.ID,
			Seq:            base + uint64(i) + 1,
			Amount:         rb.bid.Amount,
			BidderID:       rb.bid.BidderID,
			BidderUsername: rb.username,
			Kind:           rb.bid.Kind,
			CreatedAt:      rb.bid.CreatedAt,
		})
	}
	return &models.BidHistorySnapshotEvent{
		Type:      models.EventBidHistorySnapshot,
		AuctionID: l.auctionID,
		LastSeq:   l.seq,
		Bids:      views,
	}
}

// closeAuction finalizes the auction. Any bid queued behind the close
// command finds the status closed and is rejected, so nothing commits
// after the winner is decided.
func (l *lane) closeAuction() closeOutcome {
	if l.auction.Status != models.AuctionStatusLive {
		return closeOutcome{err: models.ErrNotLive}
	}

	ctx, cancel := context.WithTimeout(context.Background(), l.storageTimeout)
	defer cancel()

	auction, winning, err := l.repo.CloseAuction(ctx, l.auctionID)
	if err != nil {
		l.log.WithError(err).Error("auction close failed")
		return closeOutcome{err: err}
	}

	l.auction.Status = models.AuctionStatusClosed
	for _, intent := range l.intents {
		intent.Active = false
	}

	ended := &models.AuctionEndedEvent{
		Type:       models.EventAuctionEnded,
		AuctionID:  l.auctionID,
		Status:     models.AuctionStatusClosed,
		Seq:        l.seq,
		ReserveMet: auction.ReserveMet(),
	}
	var winnerID uint
	if winning != nil {
		winnerID = winning.BidderID
		amount := winning.Amount
		ended.WinnerID = &winnerID
		ended.WinnerUsername = l.username(ctx, winnerID)
		ended.FinalPrice = &amount
	}

	l.broadcast.Broadcast(l.auctionID, ended)
	if winning != nil {
		l.broadcast.SendToUser(winnerID, &models.YouWonEvent{
			Type:      models.EventYouWon,
			AuctionID: l.auctionID,
			Amount:    winning.Amount,
		})
	}

	l.log.WithFields(logrus.Fields{
		"winner_id": winnerID,
		"bid_count": l.auction.BidCount,
	}).Info("auction closed")
	return closeOutcome{ended: ended, winnerID: winnerID}
}

// handleCancelAuction aborts a live auction that nobody has bid on.
func (l *lane) handleCancelAuction(req cancelAuctionRequest) {
	if l.auction.Status != models.AuctionStatusLive {
		req.reply <- models.ErrForbidden
		return
	}
	if l.auction.BidCount > 0 {
		req.reply <- models.ErrForbidden
		return
	}

	ctx, cancel := context.WithTimeout(context.Background(), l.storageTimeout)
	defer cancel()

	if _, err := l.repo.CancelAuction(ctx, l.auctionID, req.actorID, models.AuctionStatusLive); err != nil {
		if errors.Is(err, repository.ErrStatusMoved) {
			// stored row no longer live though the lane thinks it is
			l.log.WithError(err).Warn("auction cancel refused, stored status moved")
			req.reply <- models.ErrForbidden
			return
		}
		l.log.WithError(err).Error("auction cancel failed")
		req.reply <- models.ErrStorageFailure
		return
	}

	l.auction.Status = models.AuctionStatusCancelled
	for _, intent := range l.intents {
		intent.Active = false
	}
	l.broadcast.Broadcast(l.auctionID, &models.AuctionTransitionEvent{
		Type:      models.EventAuctionTransition,
		AuctionID: l.auctionID,
		Status:    models.AuctionStatusCancelled,
		Seq:       l.seq,
	})
	req.reply <- nil
}

func (l *lane) telemetry(now time.Time) pricing.Telemetry {
	points := make([]pricing.BidPoint, len(l.recent))
	for i, rb := range l.recent {
		points[i] = pricing.BidPoint{
			BidderID:  rb.bid.BidderID,
			Amount:    rb.bid.Amount,
			CreatedAt: rb.bid.CreatedAt,
		}
	}
	return pricing.Telemetry{
		StartingPrice: l.auction.StartingPrice,
		CurrentPrice:  l.auction.CurrentPrice,
		BidCount:      l.auction.BidCount,
		EndTime:       l.auction.EndTime,
		Now:           now,
		RecentBids:    points,
	}
}

func (l *lane) rejection(err error, minimum *decimal.Decimal) *models.BidRejectedEvent {
	return &models.BidRejectedEvent{
		Type:       models.EventBidRejected,
		AuctionID:  l.auctionID,
		Reason:     models.RejectionCode(err),
		Message:    err.Error(),
		MinimumBid: minimum,
	}
}

func (l *lane) proxyRejection(err error) proxyOutcome {
	return proxyOutcome{rejected: &models.ProxyRejectedEvent{
		Type:      models.EventProxyRejected,
		AuctionID: l.auctionID,
		Reason:    models.RejectionCode(err),
		Message:   err.Error(),
	}}
}
