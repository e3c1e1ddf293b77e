// Package pricing computes bid increments and price projections for live
// auctions. All functions are pure: given the same telemetry snapshot they
// return the same result, so the serializer can call them without locking.
package pricing

import (
	"time"

	"github.com/shopspring/decimal"
)

var (
	baseIncrement = decimal.NewFromInt(5)
	minIncrement  = decimal.NewFromInt(1)
	maxIncrement  = decimal.NewFromInt(500)
	proxyRatio    = decimal.NewFromFloat(0.7)
	predictDecay  = decimal.NewFromFloat(0.8)
	coldStart     = decimal.NewFromFloat(1.2)
)

// BidPoint is one committed bid as the policy functions see it.
type BidPoint struct {
	BidderID  uint
	Amount    decimal.Decimal
	CreatedAt time.Time
}

// Telemetry is a per-auction snapshot taken by the serializer at commit
// time. RecentBids is ordered oldest first; callers keep enough history to
// cover the ten-minute velocity window and the twenty-bid competition
// window.
type Telemetry struct {
	StartingPrice decimal.Decimal
	CurrentPrice  decimal.Decimal
	BidCount      int
	EndTime       time.Time
	Now           time.Time
	RecentBids    []BidPoint
}

// BidIncrement returns the minimum distance a manual bid must clear,
// clamped to [1.00, 500.00] and rounded to a step that reads naturally at
// the current price level.
func BidIncrement(t Telemetry) decimal.Decimal {
	inc := baseIncrement.
		Mul(priceJumpFactor(t.StartingPrice, t.CurrentPrice)).
		Mul(velocityFactor(t.RecentBids, t.Now)).
		Mul(timePressureFactor(t.EndTime.Sub(t.Now))).
		Mul(competitionFactor(t.RecentBids))

	if inc.LessThan(minIncrement) {
		inc = minIncrement
	}
	if inc.GreaterThan(maxIncrement) {
		inc = maxIncrement
	}
	return roundToStep(inc, t.CurrentPrice)
}

// ProxyIncrement is the smaller step used by automatic counter-bids, so a
// proxy defends its lead without burning its ceiling faster than a human
// would.
func ProxyIncrement(t Telemetry) decimal.Decimal {
	inc := proxyRatio.Mul(BidIncrement(t))
	if inc.LessThan(minIncrement) {
		inc = minIncrement
	}
	return roundToStep(inc, t.CurrentPrice)
}

// SuggestedNextBid is the lowest amount the next manual bid can carry.
func SuggestedNextBid(t Telemetry) decimal.Decimal {
	return t.CurrentPrice.Add(BidIncrement(t))
}

// PredictedFinalPrice projects the closing price from the recent bidding
// tempo. With fewer than three bids there is no tempo to read, so it
// falls back to a flat 20% uplift.
func PredictedFinalPrice(t Telemetry) decimal.Decimal {
	if len(t.RecentBids) < 3 {
		return t.CurrentPrice.Mul(coldStart).Round(2)
	}

	remaining := t.EndTime.Sub(t.Now)
	if remaining <= 0 {
		return t.CurrentPrice
	}

	last := tail(t.RecentBids, 10)
	var gapSum time.Duration
	stepSum := decimal.Zero
	for i := 1; i < len(last); i++ {
		gapSum += last[i].CreatedAt.Sub(last[i-1].CreatedAt)
		stepSum = stepSum.Add(last[i].Amount.Sub(last[i-1].Amount))
	}
	n := int64(len(last) - 1)
	avgGap := gapSum / time.Duration(n)
	if avgGap < time.Second {
		avgGap = time.Second
	}
	avgStep := stepSum.Div(decimal.NewFromInt(n))

	projected := decimal.NewFromInt(int64(remaining / avgGap))
	return t.CurrentPrice.Add(avgStep.Mul(projected).Mul(predictDecay)).Round(2)
}

// priceJumpFactor scales with how far the price has run from its start.
func priceJumpFactor(starting, current decimal.Decimal) decimal.Decimal {
	if starting.LessThanOrEqual(decimal.Zero) {
		return decimal.NewFromInt(1)
	}
	r := current.Div(starting)
	switch {
	case r.LessThanOrEqual(decimal.NewFromFloat(1.5)):
		return decimal.NewFromInt(1)
	case r.LessThanOrEqual(decimal.NewFromInt(2)):
		return decimal.NewFromFloat(1.5)
	case r.LessThanOrEqual(decimal.NewFromInt(3)):
		return decimal.NewFromInt(2)
	case r.LessThanOrEqual(decimal.NewFromInt(5)):
		return decimal.NewFromInt(3)
	default:
		return decimal.NewFromInt(4)
	}
}

// velocityFactor scales with bids per minute over the last ten minutes.
func velocityFactor(bids []BidPoint, now time.Time) decimal.Decimal {
	cutoff := now.Add(-10 * time.Minute)
	count := 0
	for _, b := range bids {
		if b.CreatedAt.After(cutoff) {
			count++
		}
	}
	perMinute := decimal.NewFromInt(int64(count)).Div(decimal.NewFromInt(10))
	switch {
	case perMinute.LessThan(decimal.NewFromFloat(0.5)):
		return decimal.NewFromInt(1)
	case perMinute.LessThan(decimal.NewFromInt(1)):
		return decimal.NewFromFloat(1.2)
	case perMinute.LessThan(decimal.NewFromInt(2)):
		return decimal.NewFromFloat(1.5)
	case perMinute.LessThan(decimal.NewFromInt(5)):
		return decimal.NewFromInt(2)
	default:
		return decimal.NewFromInt(3)
	}
}

// timePressureFactor scales as the closing time approaches.
func timePressureFactor(remaining time.Duration) decimal.Decimal {
	switch {
	case remaining > 60*time.Minute:
		return decimal.NewFromInt(1)
	case remaining > 30*time.Minute:
		return decimal.NewFromFloat(1.1)
	case remaining > 15*time.Minute:
		return decimal.NewFromFloat(1.3)
	case remaining > 5*time.Minute:
		return decimal.NewFromFloat(1.5)
	case remaining > time.Minute:
		return decimal.NewFromInt(2)
	default:
		return decimal.NewFromInt(3)
	}
}

// competitionFactor scales with distinct bidders among the last 20 bids.
func competitionFactor(bids []BidPoint) decimal.Decimal {
	seen := make(map[uint]struct{})
	for _, b := range tail(bids, 20) {
		seen[b.BidderID] = struct{}{}
	}
	switch n := len(seen); {
	case n <= 2:
		return decimal.NewFromInt(1)
	case n <= 4:
		return decimal.NewFromFloat(1.2)
	case n <= 6:
		return decimal.NewFromFloat(1.4)
	case n <= 10:
		return decimal.NewFromFloat(1.6)
	default:
		return decimal.NewFromInt(2)
	}
}

// stepFor picks the display-friendly rounding step for a price level.
// Band edges are inclusive: exactly 100.00 still rounds to whole units.
func stepFor(price decimal.Decimal) decimal.Decimal {
	switch {
	case price.LessThanOrEqual(decimal.NewFromInt(100)):
		return decimal.NewFromInt(1)
	case price.LessThanOrEqual(decimal.NewFromInt(500)):
		return decimal.NewFromInt(5)
	case price.LessThanOrEqual(decimal.NewFromInt(1000)):
		return decimal.NewFromInt(10)
	case price.LessThanOrEqual(decimal.NewFromInt(5000)):
		return decimal.NewFromInt(25)
	default:
		return decimal.NewFromInt(50)
	}
}

// roundToStep rounds half up to the nearest step, never below one step.
func roundToStep(v, price decimal.Decimal) decimal.Decimal {
	step := stepFor(price)
	rounded := v.Div(step).Round(0).Mul(step)
	if rounded.LessThan(step) {
		return step
	}
	return rounded
}

func tail(bids []BidPoint, n int) []BidPoint {
	if len(bids) <= n {
		return bids
	}
	return bids[len(bids)-n:]
}
