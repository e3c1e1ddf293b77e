package pricing

import (
	"testing"
	"time"

	"github.com/shopspring/decimal"
)

var testNow = time.Date(2025, 6, 1, 12, 0, 0, 0, time.UTC)

func d(s string) decimal.Decimal {
	v, err := decimal.NewFromString(s)
	if err != nil {
		panic(err)
	}
	return v
}

// quiet builds telemetry with no recent bids and a comfortable two hours
// remaining, so every factor except the one under test stays at 1.0.
func quiet(starting, current string) Telemetry {
	return Telemetry{
		StartingPrice: d(starting),
		CurrentPrice:  d(current),
		EndTime:       testNow.Add(2 * time.Hour),
		Now:           testNow,
	}
}

func burst(n int, bidderID uint, at time.Time) []BidPoint {
	bids := make([]BidPoint, 0, n)
	for i := 0; i < n; i++ {
		bids = append(bids, BidPoint{BidderID: bidderID, Amount: d("100.00"), CreatedAt: at})
	}
	return bids
}

func TestBidIncrementBaseline(t *testing.T) {
	got := BidIncrement(quiet("100.00", "100.00"))
	if !got.Equal(d("5.00")) {
		t.Errorf("expected baseline increment 5.00, got %s", got)
	}
}

func TestBidIncrementPriceJump(t *testing.T) {
	cases := []struct {
		current string
		want    string
	}{
		{"150.00", "5.00"},  // ratio 1.5, factor 1.0, step 5
		{"200.00", "10.00"}, // ratio 2.0, factor 1.5, 7.50 rounds up
		{"300.00", "10.00"}, // ratio 3.0, factor 2.0
		{"500.00", "15.00"}, // ratio 5.0, factor 3.0
		{"501.00", "20.00"}, // ratio above 5, factor 4.0, step 10
	}
	for _, c := range cases {
		got := BidIncrement(quiet("100.00", c.current))
		if !got.Equal(d(c.want)) {
			t.Errorf("current %s: expected %s, got %s", c.current, c.want, got)
		}
	}
}

func TestBidIncrementTimePressure(t *testing.T) {
	cases := []struct {
		remaining time.Duration
		want      string
	}{
		{90 * time.Minute, "5.00"},
		{45 * time.Minute, "6.00"}, // 5.50 rounds up at step 1
		{20 * time.Minute, "7.00"}, // 6.50
		{10 * time.Minute, "8.00"}, // 7.50
		{2 * time.Minute, "10.00"},
		{30 * time.Second, "15.00"},
	}
	for _, c := range cases {
		tel := quiet("100.00", "100.00")
		tel.EndTime = testNow.Add(c.remaining)
		got := BidIncrement(tel)
		if !got.Equal(d(c.want)) {
			t.Errorf("remaining %s: expected %s, got %s", c.remaining, c.want, got)
		}
	}
}

func TestBidIncrementVelocity(t *testing.T) {
	cases := []struct {
		bids int
		want string
	}{
		{4, "5.00"},  // 0.4/min
		{5, "6.00"},  // 0.5/min, factor 1.2
		{10, "8.00"}, // 1.0/min, factor 1.5
		{20, "10.00"},
		{50, "15.00"},
	}
	for _, c := range cases {
		tel := quiet("100.00", "100.00")
		tel.RecentBids = burst(c.bids, 1, testNow.Add(-time.Minute))
		got := BidIncrement(tel)
		if !got.Equal(d(c.want)) {
			t.Errorf("%d recent bids: expected %s, got %s", c.bids, c.want, got)
		}
	}
}

func TestBidIncrementCompetition(t *testing.T) {
	cases := []struct {
		bidders int
		want    string
	}{
		{2, "5.00"},
		{3, "6.00"},
		{5, "7.00"},
		{7, "8.00"},
		{11, "10.00"},
	}
	for _, c := range cases {
		tel := quiet("100.00", "100.00")
		// bids placed before the velocity window so only distinct
		// bidders move the result
		stale := testNow.Add(-11 * time.Minute)
		for i := 0; i < c.bidders; i++ {
			tel.RecentBids = append(tel.RecentBids, BidPoint{BidderID: uint(i + 1), Amount: d("100.00"), CreatedAt: stale})
		}
		got := BidIncrement(tel)
		if !got.Equal(d(c.want)) {
			t.Errorf("%d distinct bidders: expected %s, got %s", c.bidders, c.want, got)
		}
	}
}

func TestBidIncrementExtremesStayBounded(t *testing.T) {
	tel := Telemetry{
		StartingPrice: d("100.00"),
		CurrentPrice:  d("6000.00"),
		EndTime:       testNow.Add(30 * time.Second),
		Now:           testNow,
	}
	for i := 0; i < 50; i++ {
		tel.RecentBids = append(tel.RecentBids, BidPoint{BidderID: uint(i), Amount: d("6000.00"), CreatedAt: testNow.Add(-time.Minute)})
	}
	// 5 * 4 (jump) * 3 (velocity) * 3 (pressure) * 2 (competition) = 360,
	// rounded at step 50
	got := BidIncrement(tel)
	if !got.Equal(d("350.00")) {
		t.Errorf("expected 350.00, got %s", got)
	}
	if got.GreaterThan(d("500.00")) || got.LessThan(d("1.00")) {
		t.Errorf("increment %s escaped [1.00, 500.00]", got)
	}
}

func TestStepBandEdgesInclusive(t *testing.T) {
	cases := []struct {
		price string
		want  string
	}{
		{"100.00", "1"},
		{"100.01", "5"},
		{"500.00", "5"},
		{"500.01", "10"},
		{"1000.00", "10"},
		{"1000.01", "25"},
		{"5000.00", "25"},
		{"5000.01", "50"},
	}
	for _, c := range cases {
		got := stepFor(d(c.price))
		if !got.Equal(d(c.want)) {
			t.Errorf("price %s: expected step %s, got %s", c.price, c.want, got)
		}
	}
}

func TestProxyIncrementRoundsAtBandStep(t *testing.T) {
	// 0.7 * 5.00 = 3.50 rounds up to 4 at whole-unit step
	got := ProxyIncrement(quiet("100.00", "100.00"))
	if !got.Equal(d("4.00")) {
		t.Errorf("expected 4.00, got %s", got)
	}

	// 0.7 * 10.00 = 7.00 rounds down to 5 at the five-unit step
	got = ProxyIncrement(quiet("100.00", "200.00"))
	if !got.Equal(d("5.00")) {
		t.Errorf("expected 5.00, got %s", got)
	}
}

func TestSuggestedNextBid(t *testing.T) {
	got := SuggestedNextBid(quiet("100.00", "100.00"))
	if !got.Equal(d("105.00")) {
		t.Errorf("expected 105.00, got %s", got)
	}
}

func TestPredictedFinalPriceColdStart(t *testing.T) {
	tel := quiet("100.00", "100.00")
	got := PredictedFinalPrice(tel)
	if !got.Equal(d("120.00")) {
		t.Errorf("expected 120.00, got %s", got)
	}
}

func TestPredictedFinalPriceProjectsTempo(t *testing.T) {
	tel := quiet("100.00", "120.00")
	tel.EndTime = testNow.Add(10 * time.Minute)
	tel.RecentBids = []BidPoint{
		{BidderID: 1, Amount: d("100.00"), CreatedAt: testNow.Add(-3 * time.Minute)},
		{BidderID: 2, Amount: d("110.00"), CreatedAt: testNow.Add(-2 * time.Minute)},
		{BidderID: 1, Amount: d("120.00"), CreatedAt: testNow.Add(-time.Minute)},
	}
	// one bid per minute, ten-unit steps, ten minutes left: 120 + 10*10*0.8
	got := PredictedFinalPrice(tel)
	if !got.Equal(d("200.00")) {
		t.Errorf("expected 200.00, got %s", got)
	}
}

func TestPredictedFinalPriceAfterEnd(t *testing.T) {
	tel := quiet("100.00", "150.00")
	tel.EndTime = testNow.Add(-time.Second)
	tel.RecentBids = burst(5, 1, testNow.Add(-time.Minute))
	got := PredictedFinalPrice(tel)
	if !got.Equal(d("150.00")) {
		t.Errorf("expected 150.00, got %s", got)
	}
}
