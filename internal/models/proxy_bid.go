package models

import (
	"time"

	"github.com/shopspring/decimal"
)

// ProxyBid is a standing instruction to bid on a user's behalf up to
// MaxAmount. One active intent per bidder per auction; setting a new one
// replaces the old ceiling in place.
type ProxyBid struct {
	ID            uint            `gorm:"primaryKey" json:"id"`
	AuctionID     uint            `gorm:"not null;uniqueIndex:idx_proxy_auction_bidder" json:"auction_id"`
	BidderID      uint            `gorm:"not null;uniqueIndex:idx_proxy_auction_bidder" json:"bidder_id"`
	Bidder        *User           `gorm:"foreignKey:BidderID" json:"bidder,omitempty"`
	MaxAmount     decimal.Decimal `gorm:"type:decimal(12,2);not null" json:"max_amount"`
	CurrentAmount decimal.Decimal `gorm:"type:decimal(12,2);not null" json:"current_amount"`
	Active        bool            `gorm:"not null;default:true;index" json:"active"`
	CreatedAt     time.Time       `json:"created_at"`
	UpdatedAt     time.Time       `json:"updated_at"`
}

// TableName specifies the table name for ProxyBid model
func (ProxyBid) TableName() string {
	return "proxy_bids"
}

// Outbids reports whether the intent's ceiling can beat the given price.
func (p *ProxyBid) Outbids(price decimal.Decimal) bool {
	return p.Active && p.MaxAmount.GreaterThan(price)
}
