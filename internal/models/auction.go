package models

import (
	"time"

	"github.com/shopspring/decimal"
)

type AuctionStatus string

const (
	AuctionStatusUpcoming  AuctionStatus = "upcoming"
	AuctionStatusLive      AuctionStatus = "live"
	AuctionStatusClosed    AuctionStatus = "closed"
	AuctionStatusCancelled AuctionStatus = "cancelled"
)

// Auction represents a single English auction. All price/bid mutations after
// creation flow through the auction's serializer lane; other components read.
type Auction struct {
	ID            uint             `gorm:"primaryKey" json:"id"`
	SellerID      uint             `gorm:"not null;index" json:"seller_id"`
	Seller        *User            `gorm:"foreignKey:SellerID" json:"seller,omitempty"`
	CategoryID    uint             `gorm:"not null;index" json:"category_id"`
	Category      *Category        `gorm:"foreignKey:CategoryID" json:"category,omitempty"`
	Title         string           `gorm:"size:255;not null" json:"title"`
	Description   string           `gorm:"type:text" json:"description"`
	ImageURL      string           `gorm:"size:500" json:"image_url"`
	StartingPrice decimal.Decimal  `gorm:"type:decimal(12,2);not null" json:"starting_price"`
	CurrentPrice  decimal.Decimal  `gorm:"type:decimal(12,2);not null" json:"current_price"`
	ReservePrice  *decimal.Decimal `gorm:"type:decimal(12,2)" json:"reserve_price,omitempty"`
	StartTime     time.Time        `gorm:"not null;index" json:"start_time"`
	EndTime       time.Time        `gorm:"not null;index" json:"end_time"`
	Status        AuctionStatus    `gorm:"size:20;not null;default:upcoming;index" json:"status"`
	BidCount      int              `gorm:"not null;default:0" json:"bid_count"`
	WinnerID      *uint            `gorm:"index" json:"winner_id,omitempty"`
	Winner        *User            `gorm:"foreignKey:WinnerID" json:"winner,omitempty"`
	CreatedAt     time.Time        `json:"created_at"`
	UpdatedAt     time.Time        `json:"updated_at"`
}

// TableName specifies the table name for Auction model
func (Auction) TableName() string {
	return "auctions"
}

// IsBiddable reports whether the auction accepts bids at the given instant.
func (a *Auction) IsBiddable(now time.Time) bool {
	return a.Status == AuctionStatusLive && !now.Before(a.StartTime) && now.Before(a.EndTime)
}

// TimeRemaining returns the time left until close, floored at zero.
func (a *Auction) TimeRemaining(now time.Time) time.Duration {
	if remaining := a.EndTime.Sub(now); remaining > 0 {
		return remaining
	}
	return 0
}

// ReserveMet reports whether the current price clears the reserve, if any.
func (a *Auction) ReserveMet() bool {
	return a.ReservePrice == nil || a.CurrentPrice.GreaterThanOrEqual(*a.ReservePrice)
}
