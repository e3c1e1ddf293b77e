package repository

import (
	"context"
	"errors"

	"auction-engine/internal/models"

	"gorm.io/gorm"
)

// CommitBid persists an accepted bid in one transaction: the previous
// winning flag is cleared, the bid row is inserted as the new leader, the
// auction price and counter advance, and the audit row is appended. When
// intentID is set, the owning proxy intent's current amount is stamped in
// the same transaction.
//
// The price update carries a strict current_price < amount guard; if it
// matches no row the whole transaction rolls back with
// ErrPriceNotMonotonic.
func (r *Repository) CommitBid(ctx context.Context, bid *models.Bid, intentID *uint) error {
	return r.db.WithContext(ctx).Transaction(func(tx *gorm.DB) error {
		if err := tx.Model(&models.Bid{}).
			Where("auction_id = ? AND winning = ?", bid.AuctionID, true).
			Update("winning", false).Error; err != nil {
			return err
		}

		bid.Winning = true
		if err := tx.Create(bid).Error; err != nil {
			return err
		}

		res := tx.Model(&models.Auction{}).
			Where("id = ? AND current_price < ?", bid.AuctionID, bid.Amount).
			Updates(map[string]interface{}{
				"current_price": bid.Amount,
				"bid_count":     gorm.Expr("bid_count + 1"),
			})
		if res.Error != nil {
			return res.Error
		}
		if res.RowsAffected == 0 {
			return ErrPriceNotMonotonic
		}

		if intentID != nil {
			if err := tx.Model(&models.ProxyBid{}).
				Where("id = ?", *intentID).
				Update("current_amount", bid.Amount).Error; err != nil {
				return err
			}
		}

		history := models.BiddingHistory{
			AuctionID: bid.AuctionID,
			UserID:    bid.BidderID,
			EventType: models.HistoryBidPlaced,
			Amount:    &bid.Amount,
		}
		return tx.Create(&history).Error
	})
}

// RecentBids retrieves the newest bids for an auction, returned oldest
// first so callers can feed them straight into pricing telemetry.
func (r *Repository) RecentBids(ctx context.Context, auctionID uint, limit int) ([]models.Bid, error) {
	var bids []models.Bid
	err := r.db.WithContext(ctx).
		Preload("Bidder").
		Where("auction_id = ?", auctionID).
		Order("id DESC").
		Limit(limit).
		Find(&bids).Error
	if err != nil {
		return nil, err
	}

	for i, j := 0, len(bids)-1; i < j; i, j = i+1, j-1 {
		bids[i], bids[j] = bids[j], bids[i]
	}
	return bids, nil
}

// AuctionBids retrieves a page of an auction's bids, newest first, with
// the total count.
func (r *Repository) AuctionBids(ctx context.Context, auctionID uint, limit, offset int) ([]*models.Bid, int64, error) {
	var total int64
	err := r.db.WithContext(ctx).Model(&models.Bid{}).
		Where("auction_id = ?", auctionID).
		Count(&total).Error
	if err != nil {
		return nil, 0, err
	}

	var bids []*models.Bid
	err = r.db.WithContext(ctx).
		Preload("Bidder").
		Where("auction_id = ?", auctionID).
		Order("created_at DESC").
		Limit(limit).
		Offset(offset).
		Find(&bids).Error
	if err != nil {
		return nil, 0, err
	}

	return bids, total, nil
}

// WinningBid retrieves the current leading bid, or nil when the auction
// has no bids yet.
func (r *Repository) WinningBid(ctx context.Context, auctionID uint) (*models.Bid, error) {
	var bid models.Bid
	err := r.db.WithContext(ctx).
		Preload("Bidder").
		Where("auction_id = ? AND winning = ?", auctionID, true).
		First(&bid).Error
	if errors.Is(err, gorm.ErrRecordNotFound) {
		return nil, nil
	}
	if err != nil {
		return nil, err
	}
	return &bid, nil
}

// CountDistinctBidders counts how many different users have bid on an
// auction.
func (r *Repository) CountDistinctBidders(ctx context.Context, auctionID uint) (int64, error) {
	var count int64
	err := r.db.WithContext(ctx).Model(&models.Bid{}).
		Where("auction_id = ?", auctionID).
		Distinct("bidder_id").
		Count(&count).Error
	return count, err
}

// AuctionHistory retrieves the audit trail for an auction, newest first.
func (r *Repository) AuctionHistory(ctx context.Context, auctionID uint, limit int) ([]*models.BiddingHistory, error) {
	var rows []*models.BiddingHistory
	err := r.db.WithContext(ctx).
		Where("auction_id = ?", auctionID).
		Order("id DESC").
		Limit(limit).
		Find(&rows).Error
	if err != nil {
		return nil, err
	}
	return rows, nil
}
