package main

import (
	"context"
	"net/http"
	"os"
	"os/signal"
	"syscall"
	"time"

	"github.com/gin-contrib/cors"
	"github.com/gin-gonic/gin"
	"github.com/sirupsen/logrus"

	"auction-engine/internal/auth"
	"auction-engine/internal/config"
	"auction-engine/internal/database"
	"auction-engine/internal/engine"
	"auction-engine/internal/gateway"
	"auction-engine/internal/handlers"
	"auction-engine/internal/jobs"
	"auction-engine/internal/repository"
)

func main() {
	logger := logrus.New()
	logger.SetFormatter(&logrus.TextFormatter{FullTimestamp: true})

	// Load configuration
	cfg, err := config.Load()
	if err != nil {
		logger.Fatalf("Failed to load configuration: %v", err)
	}

	// Initialize JWT
	auth.InitJWT(cfg.App.JWTSecret, cfg.App.TokenTTL)

	// Connect to database
	if err := database.Connect(cfg.GetDSN()); err != nil {
		logger.Fatalf("Failed to connect to database: %v", err)
	}

	// Run migrations
	if err := database.AutoMigrate(); err != nil {
		logger.Fatalf("Failed to run migrations: %v", err)
	}

	// Initialize repository
	repo := repository.NewRepository(database.GetDB())

	// Broadcast hub and bidding engine. The engine re-opens a lane for
	// every live auction before the server starts taking commands.
	hub := gateway.NewHub(logger)
	eng := engine.New(repo, hub, engine.Config{
		LaneBuffer:     cfg.Engine.LaneBuffer,
		StorageTimeout: cfg.Engine.StorageTimeout,
		SnapshotBids:   cfg.Engine.SnapshotBids,
	}, logger)
	if err := eng.Start(context.Background()); err != nil {
		logger.Fatalf("Failed to start bidding engine: %v", err)
	}

	throttle := auth.NewFailureThrottle(cfg.Engine.AuthFailureLimit, cfg.Engine.AuthFailureWindow)
	gw := gateway.New(eng, hub, repo, throttle, logger)

	// Start lifecycle scheduler
	scheduler := jobs.NewLifecycleScheduler(repo, eng, cfg.Engine.Tick, logger)
	go scheduler.Start()

	// Initialize handlers
	auctionHandler := handlers.NewAuctionHandler(eng, repo)

	// Set up Gin router
	router := gin.Default()

	// CORS middleware
	router.Use(cors.New(cors.Config{
		AllowOrigins:     cfg.Server.CORSOrigins,
		AllowMethods:     []string{"GET", "POST", "OPTIONS"},
		AllowHeaders:     []string{"Origin", "Content-Type", "Authorization", "Accept"},
		ExposeHeaders:    []string{"Content-Length"},
		AllowCredentials: true,
		MaxAge:           12 * time.Hour,
	}))

	// Health check endpoint
	router.GET("/health", auctionHandler.Health)

	// Public auction routes
	router.GET("/api/auctions", auctionHandler.ListAuctions)
	router.GET("/api/auctions/:id", auctionHandler.GetAuction)
	router.GET("/api/auctions/:id/bids", auctionHandler.GetAuctionBids)
	router.GET("/api/auctions/:id/stats", auctionHandler.GetAuctionStats)

	// API routes (protected)
	api := router.Group("/api")
	api.Use(auth.AuthMiddleware())
	{
		api.POST("/auctions", auctionHandler.CreateAuction)
		api.POST("/auctions/:id/cancel", auctionHandler.CancelAuction)
	}

	// Live bidding socket
	router.GET("/ws", gw.HandleWS)

	// Create HTTP server
	srv := &http.Server{
		Addr:    ":" + cfg.Server.Port,
		Handler: router,
	}

	// Start server in a goroutine
	go func() {
		logger.Infof("Server starting on port %s", cfg.Server.Port)
		logger.Infof("Health check: http://localhost:%s/health", cfg.Server.Port)
		logger.Infof("Live bidding: ws://localhost:%s/ws", cfg.Server.Port)

		if err := srv.ListenAndServe(); err != nil && err != http.ErrServerClosed {
			logger.Fatalf("Failed to start server: %v", err)
		}
	}()

	// Wait for interrupt signal to gracefully shutdown the server
	quit := make(chan os.Signal, 1)
	signal.Notify(quit, syscall.SIGINT, syscall.SIGTERM)
	<-quit

	logger.Info("Shutting down server...")

	// Graceful shutdown with 5 second timeout
	ctx, cancel := context.WithTimeout(context.Background(), 5*time.Second)
	defer cancel()

	if err := srv.Shutdown(ctx); err != nil {
		logger.Fatalf("Server forced to shutdown: %v", err)
	}

	// Stop taking lifecycle ticks, then drain the bidding lanes so every
	// accepted bid is committed before the process exits.
	scheduler.Stop()
	eng.Stop()
	throttle.Stop()

	logger.Info("Server exited")
}
