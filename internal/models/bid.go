package models

import (
	"time"

	"github.com/shopspring/decimal"
)

type BidKind string

const (
	// BidKindManual marks a bid typed in by a human.
	BidKindManual BidKind = "manual"
	// BidKindProxy marks a counter-bid placed in reaction to another bid.
	BidKindProxy BidKind = "proxy"
	// BidKindAutomatic marks a step-up placed when an intent is set or raised.
	BidKindAutomatic BidKind = "automatic"
)

// Bid represents a committed bid. At most one bid per auction has
// Winning=true; the serializer lane flips the flag inside the commit tx.
type Bid struct {
	ID        uint            `gorm:"primaryKey" json:"id"`
	AuctionID uint            `gorm:"not null;index" json:"auction_id"`
	BidderID  uint            `gorm:"not null;index" json:"bidder_id"`
	Bidder    *User           `gorm:"foreignKey:BidderID" json:"bidder,omitempty"`
	Amount    decimal.Decimal `gorm:"type:decimal(12,2);not null" json:"amount"`
	Kind      BidKind         `gorm:"size:20;not null;default:manual" json:"kind"`
	Winning   bool            `gorm:"not null;default:false" json:"winning"`
	CreatedAt time.Time       `gorm:"index" json:"created_at"`
}

// TableName specifies the table name for Bid model
func (Bid) TableName() string {
	return "bids"
}

type HistoryEvent string

const (
	HistoryBidPlaced        HistoryEvent = "bid_placed"
	HistoryProxySet         HistoryEvent = "proxy_set"
	HistoryProxyCancelled   HistoryEvent = "proxy_cancelled"
	HistoryAuctionClosed    HistoryEvent = "auction_closed"
	HistoryAuctionCancelled HistoryEvent = "auction_cancelled"
)

// BiddingHistory is the append-only audit trail for an auction. Rows are
// written in the same transaction as the mutation they record.
type BiddingHistory struct {
	ID        uint             `gorm:"primaryKey" json:"id"`
	AuctionID uint             `gorm:"not null;index" json:"auction_id"`
	UserID    uint             `gorm:"not null" json:"user_id"`
	EventType HistoryEvent     `gorm:"size:30;not null" json:"event_type"`
	Amount    *decimal.Decimal `gorm:"type:decimal(12,2)" json:"amount,omitempty"`
	CreatedAt time.Time        `json:"created_at"`
}

// TableName specifies the table name for BiddingHistory model
func (BiddingHistory) TableName() string {
	return "bidding_history"
}
