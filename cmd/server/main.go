package main

import (
	"context"
	"net/http"
	"os"
	"os/signal"
	"syscall"
	"time"

	"github.com/gin-gonic/gin"
	"github.com/rs/zerolog"
	zlog "github.com/rs/zerolog/log"

	"github.com/bidhaus/auction-api/internal/auth"
	"github.com/bidhaus/auction-api/internal/bidding"
	"github.com/bidhaus/auction-api/internal/config"
	"github.com/bidhaus/auction-api/internal/database"
	"github.com/bidhaus/auction-api/internal/escrow"
	"github.com/bidhaus/auction-api/internal/events"
	"github.com/bidhaus/auction-api/internal/gateway"
	"github.com/bidhaus/auction-api/internal/lifecycle"
	"github.com/bidhaus/auction-api/internal/listing"
	"github.com/bidhaus/auction-api/internal/notify"
	"github.com/bidhaus/auction-api/pkg/middleware"
)

// init configures the application logging based on environment settings
// In development mode, it enables pretty printing with timestamps
// Debug logging can be enabled via DEBUG environment variable
func init() {
	if os.Getenv("ENV") != "production" {
		output := zerolog.ConsoleWriter{
			Out:        os.Stdout,
			TimeFormat: time.RFC3339,
		}
		zlog.Logger = zerolog.New(output).With().Timestamp().Logger()
	}

	zerolog.SetGlobalLevel(zerolog.InfoLevel)
	if os.Getenv("DEBUG") == "true" {
		zerolog.SetGlobalLevel(zerolog.DebugLevel)
	}
}

// main initializes and runs the auction API server with graceful shutdown
// support. It wires the ledger store, the bid arbitration engine, the
// lifecycle scheduler, and the escrow settlement engine together with
// their external ports.
func main() {
	cfg := config.Load()

	db, err := database.NewDatabase(cfg.DatabasePath)
	if err != nil {
		zlog.Fatal().Err(err).Msg("Failed to initialize database")
	}

	// Notification port: Redis fan-out when configured, log sink otherwise
	var notifier notify.Notifier = notify.LogNotifier{}
	if cfg.RedisAddr != "" {
		redisNotifier, err := notify.NewRedisNotifier(cfg.RedisAddr, cfg.RedisPassword, cfg.RedisDB)
		if err != nil {
			zlog.Warn().Err(err).Msg("Redis unavailable, falling back to log notifier")
		} else {
			notifier = redisNotifier
			defer redisNotifier.Close()
		}
	}

	// Event stream: best effort, nil publisher is a no-op
	var publisher *events.Publisher
	if cfg.NATSURL != "" {
		publisher, err = events.NewPublisher(cfg.NATSURL)
		if err != nil {
			zlog.Warn().Err(err).Msg("NATS unavailable, bid events will not be published")
		} else {
			defer publisher.Close()
		}
	}

	router := gin.Default()

	authService := auth.NewService(cfg.JWTSecret)
	authHandlers := auth.NewGinHandlers(authService)
	// Register demo credentials
	authService.RegisterUser("test-api-key", "test-api-secret", "demo-user", auth.RoleUser)
	authService.RegisterUser("admin-api-key", "admin-api-secret", "demo-admin", auth.RoleAdmin)

	listingService := listing.NewService(db)
	listingHandlers := listing.NewGinHandlers(listingService)

	biddingService := bidding.NewService(db, notifier, publisher)
	biddingHandlers := bidding.NewGinHandlers(biddingService)

	paymentGateway := gateway.NewSimulator()
	escrowService := escrow.NewService(db, paymentGateway, notifier, cfg.GatewayTimeout)
	escrowHandlers := escrow.NewGinHandlers(escrowService)

	scheduler := lifecycle.NewScheduler(db, notifier, publisher, cfg.SchedulerInterval, cfg.LookbackWindow)
	lifecycleHandlers := lifecycle.NewGinHandlers(scheduler)

	schedulerCtx, schedulerCancel := context.WithCancel(context.Background())
	defer schedulerCancel()
	go scheduler.Start(schedulerCtx)

	router.Use(middleware.RateLimit())

	setupRoutes(router, cfg.JWTSecret, authHandlers, listingHandlers, biddingHandlers, escrowHandlers, lifecycleHandlers)

	srv := &http.Server{
		Addr:    ":" + cfg.HTTPPort,
		Handler: router,
	}

	go func() {
		if err := srv.ListenAndServe(); err != nil && err != http.ErrServerClosed {
			zlog.Fatal().Err(err).Msg("listen")
		}
	}()

	quit := make(chan os.Signal, 1)
	signal.Notify(quit, syscall.SIGINT, syscall.SIGTERM)
	<-quit
	zlog.Info().Msg("Shutting down server...")

	// Stop finalizing before closing HTTP so in-flight ticks settle
	schedulerCancel()

	shutdownCtx, shutdownCancel := context.WithTimeout(context.Background(), 5*time.Second)
	defer shutdownCancel()
	if err := srv.Shutdown(shutdownCtx); err != nil {
		zlog.Fatal().Err(err).Msg("Server forced to shutdown")
	}

	zlog.Info().Msg("Server exiting")
}

// setupRoutes configures all API endpoints and their handlers
// It groups routes by functionality and applies appropriate middleware:
// - Auth routes: Public endpoints for authentication
// - Listing and bidding routes: Protected by JWT authentication
// - Admin routes: Escrow release and manual finalization, admin role only
func setupRoutes(
	router *gin.Engine,
	jwtSecret string,
	authHandlers *auth.GinHandlers,
	listingHandlers *listing.GinHandlers,
	biddingHandlers *bidding.GinHandlers,
	escrowHandlers *escrow.GinHandlers,
	lifecycleHandlers *lifecycle.GinHandlers,
) {
	v1 := router.Group("/api/v1")
	{
		// Auth routes
		authGroup := v1.Group("/auth")
		{
			authGroup.POST("/token", authHandlers.GenerateTokenHandler())
		}

		// Listing and bidding routes
		listings := v1.Group("/listings")
		listings.Use(middleware.JWTAuth(jwtSecret))
		{
			listings.POST("", listingHandlers.CreateListingHandler())
			listings.GET("/:listing_id", listingHandlers.GetListingHandler())
			listings.DELETE("/:listing_id", listingHandlers.DeleteListingHandler())
			listings.POST("/:listing_id/bids", biddingHandlers.PlaceBidHandler())
			listings.GET("/:listing_id/bids", biddingHandlers.GetListingBidsHandler())
			listings.GET("/:listing_id/leader", biddingHandlers.GetLeaderHandler())
		}

		// Settlement routes
		payments := v1.Group("/payments")
		payments.Use(middleware.JWTAuth(jwtSecret))
		{
			payments.POST("/capture", escrowHandlers.CaptureHandler())
			payments.POST("/escrow/:escrow_id/refund", escrowHandlers.RefundHandler())
			payments.GET("/escrow/:escrow_id", escrowHandlers.GetEscrowHandler())
		}

		// Admin routes
		admin := v1.Group("/admin")
		admin.Use(middleware.AdminAuth(jwtSecret))
		{
			admin.POST("/escrow/:escrow_id/release", escrowHandlers.ReleaseHandler())
			admin.POST("/lifecycle/tick", lifecycleHandlers.TickHandler())
		}
	}
}
