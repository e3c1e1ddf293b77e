package engine

import (
	"context"
	"sort"
	"time"

	"auction-engine/internal/models"
	"auction-engine/internal/pricing"

	"github.com/shopspring/decimal"
)

type counterBid struct {
	intent *models.ProxyBid
	amount decimal.Decimal
}

// reactIntents runs the counter-bid chain after a committed bid or a
// fresh intent. The first round excludes the triggering bidder (nobody
// for a fresh intent); each later round excludes whoever just countered.
// The chain ends when no intent can improve its position, and always
// terminates: every round raises the price by at least one proxy
// increment and ceilings are finite.
func (l *lane) reactIntents(kind models.BidKind, exclude uint) {
	for {
		if l.quarantined || !l.auction.IsBiddable(time.Now().UTC()) {
			return
		}
		counter := l.nextCounter(exclude)
		if counter == nil {
			return
		}

		bid := &models.Bid{
			AuctionID: l.auctionID,
			BidderID:  counter.intent.BidderID,
			Amount:    counter.amount,
			Kind:      kind,
		}
		if err := l.persist(bid, &counter.intent.ID); err != nil {
			return
		}
		counter.intent.CurrentAmount = counter.amount

		ctx, cancel := context.WithTimeout(context.Background(), l.storageTimeout)
		name := l.username(ctx, counter.intent.BidderID)
		cancel()
		l.advance(bid, name)

		exclude = counter.intent.BidderID
	}
}

// nextCounter ranks the active intents that can still beat the current
// price, skipping the excluded bidder, and computes the next automatic
// bid:
//
//   - the strongest ceiling wins, ties going to the earliest intent;
//   - the winner never counters while already holding the lead, so the
//     committed sequence stays free of same-bidder runs;
//   - with a rival ceiling in range the counter jumps straight to one
//     increment past it, capped at the winner's own ceiling, instead of
//     grinding through every step;
//   - the counter is never below price plus one proxy increment.
//
// Returns nil when no intent qualifies or the winner's ceiling is spent.
func (l *lane) nextCounter(exclude uint) *counterBid {
	price := l.auction.CurrentPrice

	var top, second *models.ProxyBid
	for _, intent := range l.intents {
		if !intent.Active || intent.BidderID == exclude {
			continue
		}
		if !intent.MaxAmount.GreaterThan(price) {
			continue
		}
		// strict comparisons keep the earliest intent ahead on equal
		// ceilings, the list being ordered by creation time
		if top == nil || intent.MaxAmount.GreaterThan(top.MaxAmount) {
			second = top
			top = intent
		} else if second == nil || intent.MaxAmount.GreaterThan(second.MaxAmount) {
			second = intent
		}
	}
	if top == nil {
		return nil
	}
	if top.BidderID == l.lastBidder {
		return nil
	}

	increment := pricing.ProxyIncrement(l.telemetry(time.Now().UTC()))
	floor := price.Add(increment)

	counter := floor
	if second != nil {
		counter = decimal.Min(second.MaxAmount.Add(increment), top.MaxAmount)
		if counter.LessThan(floor) {
			counter = floor
		}
	}
	if counter.GreaterThan(top.MaxAmount) {
		return nil
	}
	return &counterBid{intent: top, amount: counter}
}

// upsertIntent replaces or inserts a bidder's in-memory intent, keeping
// the list in creation order so ceiling ties resolve the same way before
// and after a restart.
func (l *lane) upsertIntent(intent *models.ProxyBid) {
	for i, existing := range l.intents {
		if existing.BidderID == intent.BidderID {
			l.intents[i] = intent
			return
		}
	}
	l.intents = append(l.intents, intent)
	sort.Slice(l.intents, func(i, j int) bool {
		if l.intents[i].CreatedAt.Equal(l.intents[j].CreatedAt) {
			return l.intents[i].ID < l.intents[j].ID
		}
		return l.intents[i].CreatedAt.Before(l.intents[j].CreatedAt)
	})
}

func (l *lane) removeIntent(bidderID uint) {
	for i, existing := range l.intents {
		if existing.BidderID == bidderID {
			l.intents = append(l.intents[:i], l.intents[i+1:]...)
			return
		}
	}
}
