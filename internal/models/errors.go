package models

import "errors"

// Validation errors surfaced to bidders as structured rejections
var (
	ErrAuthFailed    = errors.New("authentication failed")
	ErrNotLive       = errors.New("auction is not accepting bids")
	ErrSellerSelfBid = errors.New("sellers cannot bid on their own auctions")
	ErrConsecutive   = errors.New("you already hold the leading bid")
	ErrBelowMinimum  = errors.New("bid is below the minimum acceptable amount")
	ErrInvalidAmount = errors.New("amount must be a positive value")
)

// Infrastructure and lookup errors
var (
	ErrStorageFailure = errors.New("storage failure")
	ErrNotFound       = errors.New("auction not found")
	ErrForbidden      = errors.New("operation not permitted")
)

// Stable rejection codes carried on the wire.
const (
	CodeAuthFailed     = "auth_failed"
	CodeNotLive        = "not_live"
	CodeSellerSelfBid  = "seller_self_bid"
	CodeConsecutive    = "consecutive"
	CodeBelowMinimum   = "below_minimum"
	CodeInvalidAmount  = "invalid_amount"
	CodeStorageFailure = "storage_failure"
	CodeNotFound       = "not_found"
	CodeForbidden      = "forbidden"
)

// RejectionCode maps a validation error to its wire code. Unknown errors
// are reported as storage failures so internals never leak to clients.
func RejectionCode(err error) string {
	switch {
	case errors.Is(err, ErrAuthFailed):
		return CodeAuthFailed
	case errors.Is(err, ErrNotLive):
		return CodeNotLive
	case errors.Is(err, ErrSellerSelfBid):
		return CodeSellerSelfBid
	case errors.Is(err, ErrConsecutive):
		return CodeConsecutive
	case errors.Is(err, ErrBelowMinimum):
		return CodeBelowMinimum
	case errors.Is(err, ErrInvalidAmount):
		return CodeInvalidAmount
	case errors.Is(err, ErrNotFound):
		return CodeNotFound
	case errors.Is(err, ErrForbidden):
		return CodeForbidden
	default:
		return CodeStorageFailure
	}
}
