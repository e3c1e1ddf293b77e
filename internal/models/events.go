package models

import (
	"time"

	"github.com/shopspring/decimal"
)

// Inbound command types accepted on the socket.
const (
	CmdJoinAuction  = "join_auction"
	CmdLeaveAuction = "leave_auction"
	CmdPlaceBid     = "place_bid"
	CmdSetProxy     = "set_proxy"
	CmdCancelProxy  = "cancel_proxy"
)

// Command is the envelope for inbound client messages. Amount and
// MaxAmount are only read for the command types that use them.
type Command struct {
	Type      string          `json:"type"`
	AuctionID uint            `json:"auction_id"`
	Amount    decimal.Decimal `json:"amount"`
	MaxAmount decimal.Decimal `json:"max_amount"`
}

// Outbound event types.
const (
	EventNewBid             = "new_bid"
	EventAuctionState       = "auction_state"
	EventBidHistorySnapshot = "bid_history_snapshot"
	EventAuctionTransition  = "auction_transition"
	EventAuctionEnded       = "auction_ended"
	EventYouWon             = "you_won"
	EventBidRejected        = "bid_rejected"
	EventProxySet           = "proxy_set"
	EventProxyRejected      = "proxy_rejected"
	EventPeerJoined         = "peer_joined"
	EventPeerLeft           = "peer_left"
	EventError              = "error"
)

// NewBidEvent announces a committed bid to every subscriber of the auction.
type NewBidEvent struct {
	Type           string          `json:"type"`
	AuctionID      uint            `json:"auction_id"`
	BidID          uint            `json:"bid_id"`
	Seq            uint64          `json:"seq"`
	Amount         decimal.Decimal `json:"amount"`
	BidderID       uint            `json:"bidder_id"`
	BidderUsername string          `json:"bidder_username"`
	Kind           BidKind         `json:"kind"`
	TotalBids      int             `json:"total_bids"`
	CurrentPrice   decimal.Decimal `json:"current_price"`
	MinimumNextBid decimal.Decimal `json:"minimum_next_bid"`
	Timestamp      time.Time       `json:"timestamp"`
}

// BidView is the subscriber-facing projection of a committed bid.
type BidView struct {
	BidID          uint            `json:"bid_id"`
	Seq            uint64          `json:"seq"`
	Amount         decimal.Decimal `json:"amount"`
	BidderID       uint            `json:"bidder_id"`
	BidderUsername string          `json:"bidder_username"`
	Kind           BidKind         `json:"kind"`
	CreatedAt      time.Time       `json:"created_at"`
}

// AuctionStateEvent is the join snapshot. LastSeq lets the client verify
// that following new_bid events arrive contiguously.
type AuctionStateEvent struct {
	Type                 string          `json:"type"`
	AuctionID            uint            `json:"auction_id"`
	Title                string          `json:"title"`
	Status               AuctionStatus   `json:"status"`
	StartingPrice        decimal.Decimal `json:"starting_price"`
	CurrentPrice         decimal.Decimal `json:"current_price"`
	BidCount             int             `json:"bid_count"`
	LastSeq              uint64          `json:"last_seq"`
	StartTime            time.Time       `json:"start_time"`
	EndTime              time.Time       `json:"end_time"`
	TimeRemainingSeconds int64           `json:"time_remaining_seconds"`
	NextIncrement        decimal.Decimal `json:"next_increment"`
	SuggestedBid         decimal.Decimal `json:"suggested_bid"`
	PredictedFinalPrice  decimal.Decimal `json:"predicted_final_price"`
	LeaderID             *uint           `json:"leader_id,omitempty"`
	LeaderUsername       string          `json:"leader_username,omitempty"`
	Viewers              int             `json:"viewers"`
}

// BidHistorySnapshotEvent carries the most recent bids for a joining
// subscriber, oldest first.
type BidHistorySnapshotEvent struct {
	Type      string    `json:"type"`
	AuctionID uint      `json:"auction_id"`
	LastSeq   uint64    `json:"last_seq"`
	Bids      []BidView `json:"bids"`
}

// AuctionTransitionEvent announces a lifecycle change.
type AuctionTransitionEvent struct {
	Type      string        `json:"type"`
	AuctionID uint          `json:"auction_id"`
	Status    AuctionStatus `json:"status"`
	Seq       uint64        `json:"seq"`
}

// AuctionEndedEvent closes the stream for an auction. Winner fields are
// omitted when the auction ended without bids.
type AuctionEndedEvent struct {
	Type           string           `json:"type"`
	AuctionID      uint             `json:"auction_id"`
	Status         AuctionStatus    `json:"status"`
	Seq            uint64           `json:"seq"`
	WinnerID       *uint            `json:"winner_id,omitempty"`
	WinnerUsername string           `json:"winner_username,omitempty"`
	FinalPrice     *decimal.Decimal `json:"final_price,omitempty"`
	ReserveMet     bool             `json:"reserve_met"`
}

// YouWonEvent is delivered only to the winning bidder's connections.
type YouWonEvent struct {
	Type      string          `json:"type"`
	AuctionID uint            `json:"auction_id"`
	Amount    decimal.Decimal `json:"amount"`
}

// BidRejectedEvent goes back to the originating connection only.
type BidRejectedEvent struct {
	Type       string           `json:"type"`
	AuctionID  uint             `json:"auction_id"`
	Reason     string           `json:"reason"`
	Message    string           `json:"message"`
	MinimumBid *decimal.Decimal `json:"minimum_bid,omitempty"`
}

// ProxySetEvent confirms an accepted intent to its owner.
type ProxySetEvent struct {
	Type      string          `json:"type"`
	AuctionID uint            `json:"auction_id"`
	MaxAmount decimal.Decimal `json:"max_amount"`
}

// ProxyRejectedEvent reports a refused intent to its owner.
type ProxyRejectedEvent struct {
	Type      string `json:"type"`
	AuctionID uint   `json:"auction_id"`
	Reason    string `json:"reason"`
	Message   string `json:"message"`
}

// PeerEvent announces a subscriber joining or leaving an auction room.
type PeerEvent struct {
	Type      string `json:"type"`
	AuctionID uint   `json:"auction_id"`
	UserID    uint   `json:"user_id"`
	Username  string `json:"username"`
	Viewers   int    `json:"viewers"`
}

// ErrorEvent reports a protocol error on the connection.
type ErrorEvent struct {
	Type    string `json:"type"`
	Message string `json:"message"`
}
