package jobs

import (
	"context"
	"time"

	"auction-engine/internal/engine"
	"auction-engine/internal/repository"

	"github.com/sirupsen/logrus"
)

// LifecycleScheduler walks auctions through their wall-clock transitions:
// upcoming auctions go live when their window opens, live auctions close
// when it ends. Transitions route through the engine so they order
// strictly against in-flight bids. A missed tick heals on the next one,
// since both scans are driven by stored times rather than tick counting.
type LifecycleScheduler struct {
	repo     *repository.Repository
	engine   *engine.Engine
	interval time.Duration
	stopChan chan struct{}
	log      *logrus.Logger
}

func NewLifecycleScheduler(repo *repository.Repository, eng *engine.Engine, interval time.Duration, log *logrus.Logger) *LifecycleScheduler {
	return &LifecycleScheduler{
		repo:     repo,
		engine:   eng,
		interval: interval,
		stopChan: make(chan struct{}),
		log:      log,
	}
}

// Start runs the scheduling loop until Stop is called. Run it on its own
// goroutine.
func (ls *LifecycleScheduler) Start() {
	ls.log.WithField("interval", ls.interval).Info("lifecycle scheduler started")

	ticker := time.NewTicker(ls.interval)
	defer ticker.Stop()

	for {
		select {
		case <-ticker.C:
			ls.tick()
		case <-ls.stopChan:
			ls.log.Info("lifecycle scheduler stopped")
			return
		}
	}
}

// Stop ends the scheduling loop.
func (ls *LifecycleScheduler) Stop() {
	close(ls.stopChan)
}

// tick promotes before closing, so an auction whose whole window passed
// while the process was down still ends up closed in a single pass.
func (ls *LifecycleScheduler) tick() {
	ctx := context.Background()
	ls.promoteDue(ctx)
	ls.closeExpired(ctx)
}

func (ls *LifecycleScheduler) promoteDue(ctx context.Context) {
	due, err := ls.repo.FindDueUpcoming(ctx, time.Now().UTC())
	if err != nil {
		ls.log.WithError(err).Error("due auction scan failed")
		return
	}
	for _, auction := range due {
		if err := ls.engine.Promote(ctx, auction); err != nil {
			ls.log.WithError(err).WithField("auction_id", auction.ID).Error("promotion failed")
		}
	}
}

func (ls *LifecycleScheduler) closeExpired(ctx context.Context) {
	expired, err := ls.repo.FindExpiredLive(ctx, time.Now().UTC())
	if err != nil {
		ls.log.WithError(err).Error("expired auction scan failed")
		return
	}
	for _, auction := range expired {
		if err := ls.engine.Close(ctx, auction.ID); err != nil {
			ls.log.WithError(err).WithField("auction_id", auction.ID).Error("close failed")
		}
	}
}
