package repository

import (
	"context"
	"errors"

	"auction-engine/internal/models"

	"gorm.io/gorm"
	"gorm.io/gorm/clause"
)

// SaveProxyBid upserts a bidder's intent for an auction and appends the
// audit row in the same transaction. Re-setting an intent replaces its
// ceiling and reactivates it; current_amount keeps whatever the intent
// already bid.
func (r *Repository) SaveProxyBid(ctx context.Context, proxy *models.ProxyBid) error {
	return r.db.WithContext(ctx).Transaction(func(tx *gorm.DB) error {
		err := tx.Clauses(clause.OnConflict{
			Columns: []clause.Column{{Name: "auction_id"}, {Name: "bidder_id"}},
			DoUpdates: clause.Assignments(map[string]interface{}{
				"max_amount": proxy.MaxAmount,
				"active":     true,
				"updated_at": gorm.Expr("CURRENT_TIMESTAMP"),
			}),
		}).Create(proxy).Error
		if err != nil {
			return err
		}

		history := models.BiddingHistory{
			AuctionID: proxy.AuctionID,
			UserID:    proxy.BidderID,
			EventType: models.HistoryProxySet,
			Amount:    &proxy.MaxAmount,
		}
		return tx.Create(&history).Error
	})
}

// DeactivateProxyBid cancels a bidder's intent for an auction. Returns
// false when no active intent existed.
func (r *Repository) DeactivateProxyBid(ctx context.Context, auctionID, bidderID uint) (bool, error) {
	var deactivated bool
	err := r.db.WithContext(ctx).Transaction(func(tx *gorm.DB) error {
		res := tx.Model(&models.ProxyBid{}).
			Where("auction_id = ? AND bidder_id = ? AND active = ?", auctionID, bidderID, true).
			Update("active", false)
		if res.Error != nil {
			return res.Error
		}
		if res.RowsAffected == 0 {
			return nil
		}
		deactivated = true

		history := models.BiddingHistory{
			AuctionID: auctionID,
			UserID:    bidderID,
			EventType: models.HistoryProxyCancelled,
		}
		return tx.Create(&history).Error
	})
	return deactivated, err
}

// ActiveProxyBids retrieves every active intent for an auction ordered by
// creation time, so ceiling ties resolve in favor of the earliest bidder.
func (r *Repository) ActiveProxyBids(ctx context.Context, auctionID uint) ([]*models.ProxyBid, error) {
	var proxies []*models.ProxyBid
	err := r.db.WithContext(ctx).
		Where("auction_id = ? AND active = ?", auctionID, true).
		Order("created_at ASC, id ASC").
		Find(&proxies).Error
	if err != nil {
		return nil, err
	}
	return proxies, nil
}

// GetProxyBid retrieves a bidder's intent for an auction, active or not,
// or nil when none was ever set.
func (r *Repository) GetProxyBid(ctx context.Context, auctionID, bidderID uint) (*models.ProxyBid, error) {
	var proxy models.ProxyBid
	err := r.db.WithContext(ctx).
		Where("auction_id = ? AND bidder_id = ?", auctionID, bidderID).
		First(&proxy).Error
	if errors.Is(err, gorm.ErrRecordNotFound) {
		return nil, nil
	}
	if err != nil {
		return nil, err
	}
	return &proxy, nil
}
