package repository

import (
	"context"
	"errors"
	"time"

	"auction-engine/internal/models"

	"gorm.io/gorm"
)

// ErrPriceNotMonotonic reports that a bid commit would have lowered or
// repeated the stored price. The serializer treats it as an invariant
// violation, not a client error.
var ErrPriceNotMonotonic = errors.New("committed price would not increase")

// ErrStatusMoved reports that a guarded status change found the auction
// already out of the state the caller observed.
var ErrStatusMoved = errors.New("auction left the expected status")

type Repository struct {
	db *gorm.DB
}

func NewRepository(db *gorm.DB) *Repository {
	return &Repository{db: db}
}

// DB exposes the underlying handle for migrations and tests.
func (r *Repository) DB() *gorm.DB {
	return r.db
}

// CreateAuction persists a new auction in upcoming or live state.
func (r *Repository) CreateAuction(ctx context.Context, auction *models.Auction) error {
	return r.db.WithContext(ctx).Create(auction).Error
}

// GetAuctionByID retrieves an auction with its seller and category.
func (r *Repository) GetAuctionByID(ctx context.Context, auctionID uint) (*models.Auction, error) {
	var auction models.Auction
	err := r.db.WithContext(ctx).
		Preload("Seller").
		Preload("Category").
		First(&auction, auctionID).Error
	if err != nil {
		return nil, err
	}
	return &auction, nil
}

// ListAuctions retrieves auctions filtered by status and category with a
// total count for pagination. Empty filters match everything.
func (r *Repository) ListAuctions(
	ctx context.Context,
	status models.AuctionStatus,
	categoryID uint,
	limit int,
	offset int,
) ([]*models.Auction, int64, error) {
	query := r.db.WithContext(ctx).Model(&models.Auction{})
	if status != "" {
		query = query.Where("status = ?", status)
	}
	if categoryID != 0 {
		query = query.Where("category_id = ?", categoryID)
	}

	var total int64
	if err := query.Count(&total).Error; err != nil {
		return nil, 0, err
	}

	var auctions []*models.Auction
	err := query.
		Preload("Seller").
		Preload("Category").
		Order("end_time ASC").
		Limit(limit).
		Offset(offset).
		Find(&auctions).Error
	if err != nil {
		return nil, 0, err
	}

	return auctions, total, nil
}

// LiveAuctions retrieves every live auction, used to rebuild lane state
// after a restart.
func (r *Repository) LiveAuctions(ctx context.Context) ([]*models.Auction, error) {
	var auctions []*models.Auction
	err := r.db.WithContext(ctx).
		Where("status = ?", models.AuctionStatusLive).
		Find(&auctions).Error
	if err != nil {
		return nil, err
	}
	return auctions, nil
}

// FindDueUpcoming retrieves upcoming auctions whose start time has passed.
func (r *Repository) FindDueUpcoming(ctx context.Context, now time.Time) ([]*models.Auction, error) {
	var auctions []*models.Auction
	err := r.db.WithContext(ctx).
		Where("status = ? AND start_time <= ?", models.AuctionStatusUpcoming, now).
		Order("start_time ASC").
		Find(&auctions).Error
	if err != nil {
		return nil, err
	}
	return auctions, nil
}

// FindExpiredLive retrieves live auctions whose end time has passed.
func (r *Repository) FindExpiredLive(ctx context.Context, now time.Time) ([]*models.Auction, error) {
	var auctions []*models.Auction
	err := r.db.WithContext(ctx).
		Where("status = ? AND end_time <= ?", models.AuctionStatusLive, now).
		Order("end_time ASC").
		Find(&auctions).Error
	if err != nil {
		return nil, err
	}
	return auctions, nil
}

// MarkLive promotes an upcoming auction to live. Returns false when the
// auction was already promoted by a previous tick.
func (r *Repository) MarkLive(ctx context.Context, auctionID uint) (bool, error) {
	res := r.db.WithContext(ctx).
		Model(&models.Auction{}).
		Where("id = ? AND status = ?", auctionID, models.AuctionStatusUpcoming).
		Update("status", models.AuctionStatusLive)
	if res.Error != nil {
		return false, res.Error
	}
	return res.RowsAffected > 0, nil
}

// CloseAuction finalizes a live auction inside one transaction: it stamps
// the winner, deactivates every proxy intent, and appends the audit row.
// The returned bid is nil when the auction closed without bids.
func (r *Repository) CloseAuction(ctx context.Context, auctionID uint) (*models.Auction, *models.Bid, error) {
	var auction models.Auction
	var winning *models.Bid

	err := r.db.WithContext(ctx).Transaction(func(tx *gorm.DB) error {
		if err := tx.First(&auction, auctionID).Error; err != nil {
			return err
		}
		if auction.Status != models.AuctionStatusLive {
			return models.ErrNotLive
		}

		var bid models.Bid
		err := tx.Where("auction_id = ? AND winning = ?", auctionID, true).First(&bid).Error
		if err == nil {
			winning = &bid
		} else if !errors.Is(err, gorm.ErrRecordNotFound) {
			return err
		}

		updates := map[string]interface{}{"status": models.AuctionStatusClosed}
		if winning != nil {
			updates["winner_id"] = winning.BidderID
		}
		if err := tx.Model(&models.Auction{}).Where("id = ?", auctionID).Updates(updates).Error; err != nil {
			return err
		}

		if err := tx.Model(&models.ProxyBid{}).
			Where("auction_id = ? AND active = ?", auctionID, true).
			Update("active", false).Error; err != nil {
			return err
		}

		history := models.BiddingHistory{
			AuctionID: auctionID,
			UserID:    auction.SellerID,
			EventType: models.HistoryAuctionClosed,
		}
		if winning != nil {
			history.UserID = winning.BidderID
			history.Amount = &winning.Amount
		}
		return tx.Create(&history).Error
	})
	if err != nil {
		return nil, nil, err
	}

	auction.Status = models.AuctionStatusClosed
	if winning != nil {
		auction.WinnerID = &winning.BidderID
		auction.CurrentPrice = winning.Amount
	}
	return &auction, winning, nil
}

// CancelAuction aborts an auction still in the given state. Committed bids
// stay on record; proxy intents are deactivated. The status check rides the
// update itself, so a cancel that races a lifecycle transition cannot land
// on top of it; callers see ErrStatusMoved and re-decide against the fresh
// status.
func (r *Repository) CancelAuction(ctx context.Context, auctionID uint, actorID uint, from models.AuctionStatus) (*models.Auction, error) {
	var auction models.Auction

	err := r.db.WithContext(ctx).Transaction(func(tx *gorm.DB) error {
		res := tx.Model(&models.Auction{}).
			Where("id = ? AND status = ?", auctionID, from).
			Update("status", models.AuctionStatusCancelled)
		if res.Error != nil {
			return res.Error
		}
		if res.RowsAffected == 0 {
			if err := tx.First(&auction, auctionID).Error; err != nil {
				return err
			}
			return ErrStatusMoved
		}
		if err := tx.First(&auction, auctionID).Error; err != nil {
			return err
		}

		if err := tx.Model(&models.ProxyBid{}).
			Where("auction_id = ? AND active = ?", auctionID, true).
			Update("active", false).Error; err != nil {
			return err
		}

		history := models.BiddingHistory{
			AuctionID: auctionID,
			UserID:    actorID,
			EventType: models.HistoryAuctionCancelled,
		}
		return tx.Create(&history).Error
	})
	if err != nil {
		return nil, err
	}

	return &auction, nil
}

// GetUserByID retrieves a user by ID.
func (r *Repository) GetUserByID(ctx context.Context, userID uint) (*models.User, error) {
	var user models.User
	err := r.db.WithContext(ctx).First(&user, userID).Error
	if err != nil {
		return nil, err
	}
	return &user, nil
}

// GetCategoryByID retrieves a category by ID.
func (r *Repository) GetCategoryByID(ctx context.Context, categoryID uint) (*models.Category, error) {
	var category models.Category
	err := r.db.WithContext(ctx).First(&category, categoryID).Error
	if err != nil {
		return nil, err
	}
	return &category, nil
}

// ListCategories retrieves all categories ordered by name.
func (r *Repository) ListCategories(ctx context.Context) ([]*models.Category, error) {
	var categories []*models.Category
	err := r.db.WithContext(ctx).Order("name ASC").Find(&categories).Error
	if err != nil {
		return nil, err
	}
	return categories, nil
}
