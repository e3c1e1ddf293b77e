package handlers

import (
	"errors"
	"net/http"
	"strconv"
	"time"

	"auction-engine/internal/auth"
	"auction-engine/internal/engine"
	"auction-engine/internal/models"
	"auction-engine/internal/repository"

	"github.com/gin-gonic/gin"
	"github.com/shopspring/decimal"
)

// codeInvalidRequest covers malformed REST input that is not a bid
// amount problem; bid rejections keep the stable wire codes.
const codeInvalidRequest = "invalid_request"

type AuctionHandler struct {
	engine *engine.Engine
	repo   *repository.Repository
}

func NewAuctionHandler(eng *engine.Engine, repo *repository.Repository) *AuctionHandler {
	return &AuctionHandler{engine: eng, repo: repo}
}

func respondError(c *gin.Context, status int, code, message string) {
	c.JSON(status, gin.H{"error": gin.H{"code": code, "message": message}})
}

func respondEngineError(c *gin.Context, err error) {
	switch {
	case errors.Is(err, models.ErrNotFound):
		respondError(c, http.StatusNotFound, models.CodeNotFound, err.Error())
	case errors.Is(err, models.ErrForbidden):
		respondError(c, http.StatusForbidden, models.CodeForbidden, err.Error())
	case errors.Is(err, models.ErrNotLive):
		respondError(c, http.StatusConflict, models.CodeNotLive, err.Error())
	default:
		respondError(c, http.StatusInternalServerError, models.CodeStorageFailure, "storage failure")
	}
}

// Health reports liveness.
func (h *AuctionHandler) Health(c *gin.Context) {
	c.JSON(http.StatusOK, gin.H{"status": "ok", "time": time.Now().UTC()})
}

// ListAuctions returns a filtered page of auctions ordered by end time.
func (h *AuctionHandler) ListAuctions(c *gin.Context) {
	status := c.Query("status")
	switch status {
	case "", string(models.AuctionStatusUpcoming), string(models.AuctionStatusLive),
		string(models.AuctionStatusClosed), string(models.AuctionStatusCancelled):
	default:
		respondError(c, http.StatusBadRequest, codeInvalidRequest, "unknown status filter")
		return
	}

	categoryID, _ := strconv.Atoi(c.Query("category"))
	limit, _ := strconv.Atoi(c.DefaultQuery("limit", "50"))
	offset, _ := strconv.Atoi(c.DefaultQuery("offset", "0"))
	if limit <= 0 || limit > 100 {
		limit = 50
	}
	if offset < 0 {
		offset = 0
	}

	auctions, total, err := h.repo.ListAuctions(c.Request.Context(), models.AuctionStatus(status), uint(categoryID), limit, offset)
	if err != nil {
		respondEngineError(c, err)
		return
	}

	c.JSON(http.StatusOK, gin.H{
		"success": true,
		"data":    auctions,
		"total":   total,
	})
}

// GetAuction returns the live state of one auction, the same shape a
// socket subscriber receives on join.
func (h *AuctionHandler) GetAuction(c *gin.Context) {
	id, err := strconv.ParseUint(c.Param("id"), 10, 32)
	if err != nil {
		respondError(c, http.StatusBadRequest, codeInvalidRequest, "invalid auction id")
		return
	}

	state, _, err := h.engine.Snapshot(c.Request.Context(), uint(id))
	if err != nil {
		respondEngineError(c, err)
		return
	}

	c.JSON(http.StatusOK, gin.H{
		"success": true,
		"data":    state,
	})
}

// GetAuctionBids returns a page of an auction's bids, newest first.
func (h *AuctionHandler) GetAuctionBids(c *gin.Context) {
	id, err := strconv.ParseUint(c.Param("id"), 10, 32)
	if err != nil {
		respondError(c, http.StatusBadRequest, codeInvalidRequest, "invalid auction id")
		return
	}
	limit, _ := strconv.Atoi(c.DefaultQuery("limit", "20"))
	offset, _ := strconv.Atoi(c.DefaultQuery("offset", "0"))
	if limit <= 0 || limit > 100 {
		limit = 20
	}
	if offset < 0 {
		offset = 0
	}

	if _, err := h.repo.GetAuctionByID(c.Request.Context(), uint(id)); err != nil {
		respondError(c, http.StatusNotFound, models.CodeNotFound, "auction not found")
		return
	}

	bids, total, err := h.repo.AuctionBids(c.Request.Context(), uint(id), limit, offset)
	if err != nil {
		respondEngineError(c, err)
		return
	}

	c.JSON(http.StatusOK, gin.H{
		"success": true,
		"data":    bids,
		"total":   total,
	})
}

// GetAuctionStats returns bidding activity counters and pricing hints.
func (h *AuctionHandler) GetAuctionStats(c *gin.Context) {
	id, err := strconv.ParseUint(c.Param("id"), 10, 32)
	if err != nil {
		respondError(c, http.StatusBadRequest, codeInvalidRequest, "invalid auction id")
		return
	}

	stats, err := h.engine.AuctionStats(c.Request.Context(), uint(id))
	if err != nil {
		respondEngineError(c, err)
		return
	}

	c.JSON(http.StatusOK, gin.H{
		"success": true,
		"data":    stats,
	})
}

type CreateAuctionRequest struct {
	Title         string           `json:"title" binding:"required"`
	Description   string           `json:"description"`
	ImageURL      string           `json:"image_url"`
	CategoryID    uint             `json:"category_id" binding:"required"`
	StartingPrice decimal.Decimal  `json:"starting_price" binding:"required"`
	ReservePrice  *decimal.Decimal `json:"reserve_price"`
	StartTime     time.Time        `json:"start_time" binding:"required"`
	EndTime       time.Time        `json:"end_time" binding:"required"`
}

// CreateAuction lists a new auction for the authenticated seller. An
// auction whose window is already open goes live on the spot.
func (h *AuctionHandler) CreateAuction(c *gin.Context) {
	userID, ok := auth.GetUserID(c)
	if !ok {
		respondError(c, http.StatusUnauthorized, models.CodeAuthFailed, "authentication required")
		return
	}
	role, _ := auth.GetRole(c)
	actor := models.User{Role: role}
	if !actor.CanSell() {
		respondError(c, http.StatusForbidden, models.CodeForbidden, "only sellers can create auctions")
		return
	}

	var req CreateAuctionRequest
	if err := c.ShouldBindJSON(&req); err != nil {
		respondError(c, http.StatusBadRequest, codeInvalidRequest, err.Error())
		return
	}
	if !req.EndTime.After(req.StartTime) {
		respondError(c, http.StatusBadRequest, codeInvalidRequest, "end_time must be after start_time")
		return
	}
	if !req.StartingPrice.IsPositive() {
		respondError(c, http.StatusBadRequest, models.CodeInvalidAmount, "starting_price must be positive")
		return
	}
	if req.ReservePrice != nil && req.ReservePrice.LessThan(req.StartingPrice) {
		respondError(c, http.StatusBadRequest, models.CodeInvalidAmount, "reserve_price must not be below starting_price")
		return
	}
	if _, err := h.repo.GetCategoryByID(c.Request.Context(), req.CategoryID); err != nil {
		respondError(c, http.StatusBadRequest, codeInvalidRequest, "unknown category")
		return
	}

	auction := &models.Auction{
		SellerID:      userID,
		CategoryID:    req.CategoryID,
		Title:         req.Title,
		Description:   req.Description,
		ImageURL:      req.ImageURL,
		StartingPrice: req.StartingPrice,
		ReservePrice:  req.ReservePrice,
		StartTime:     req.StartTime.UTC(),
		EndTime:       req.EndTime.UTC(),
	}
	if err := h.engine.CreateAuction(c.Request.Context(), auction); err != nil {
		respondEngineError(c, err)
		return
	}

	c.JSON(http.StatusCreated, gin.H{
		"success": true,
		"data":    auction,
	})
}

// CancelAuction withdraws an auction that has no bids yet. Owner or
// admin only.
func (h *AuctionHandler) CancelAuction(c *gin.Context) {
	userID, ok := auth.GetUserID(c)
	if !ok {
		respondError(c, http.StatusUnauthorized, models.CodeAuthFailed, "authentication required")
		return
	}
	role, _ := auth.GetRole(c)

	id, err := strconv.ParseUint(c.Param("id"), 10, 32)
	if err != nil {
		respondError(c, http.StatusBadRequest, codeInvalidRequest, "invalid auction id")
		return
	}

	if err := h.engine.CancelAuction(c.Request.Context(), uint(id), userID, role); err != nil {
		respondEngineError(c, err)
		return
	}

	c.JSON(http.StatusOK, gin.H{"success": true})
}
