package main

import (
	"context"
	"net/http"
	"os"
	"os/signal"
	"syscall"
	"time"

	"github.com/rs/zerolog"
	zlog "github.com/rs/zerolog/log"

	"github.com/abo/gymtoken-api/internal/auth"
	"github.com/abo/gymtoken-api/internal/database"
	"github.com/abo/gymtoken-api/internal/exchange"
	"github.com/abo/gymtoken-api/internal/ledger"
	"github.com/abo/gymtoken-api/internal/rewards"
	"github.com/abo/gymtoken-api/internal/settlement"
	"github.com/abo/gymtoken-api/internal/trading"
	"github.com/abo/gymtoken-api/pkg/middleware"

	"github.com/gin-gonic/gin"
)

const jwtSecret = "gymtoken-secret-key"

// init configures the application logging based on environment settings
// In development mode, it enables pretty printing with timestamps
// Debug logging can be enabled via DEBUG environment variable
func init() {
	// Configure pretty logging for development
	if os.Getenv("ENV") != "production" {
		output := zerolog.ConsoleWriter{
			Out:        os.Stdout,
			TimeFormat: time.RFC3339,
		}
		zlog.Logger = zerolog.New(output).With().Timestamp().Logger()
	}

	// Set global log level
	zerolog.SetGlobalLevel(zerolog.InfoLevel)
	if os.Getenv("DEBUG") == "true" {
		zerolog.SetGlobalLevel(zerolog.DebugLevel)
	}
}

// main initializes and runs the token exchange API server with graceful
// shutdown support
func main() {
	// Initialize database
	db, err := database.NewDatabase()
	if err != nil {
		zlog.Fatal().Err(err).Msg("Failed to initialize database")
	}

	// Initialize router
	router := gin.Default()

	// Initialize services and handlers
	authService := auth.NewService(jwtSecret)
	authHandlers := auth.NewGinHandlers(authService)
	// Register test credentials
	authService.RegisterAPICredentials(auth.TestAPIKey, auth.TestAPISecret)

	ledgerService := ledger.NewService(db)
	ledgerHandlers := ledger.NewGinHandlers(ledgerService)

	settlementService := settlement.NewService(db, ledgerService)
	engine := exchange.NewEngine(db, ledgerService, settlementService, exchange.DefaultConfig())

	tradingService := trading.NewService(db, engine)
	tradingHandlers := trading.NewGinHandlers(tradingService)

	rewardsService := rewards.NewService(db, ledgerService)
	rewardsHandlers := rewards.NewGinHandlers(rewardsService)

	// Create and start the ledger reconciliation processor
	reconciler := ledger.NewProcessor(ledgerService.GetDB())
	processorCtx, processorCancel := context.WithCancel(context.Background())
	defer processorCancel()

	go reconciler.Start(processorCtx)

	// Setup middleware
	router.Use(middleware.RateLimit())

	// Setup API routes
	setupRoutes(router, authHandlers, tradingHandlers, ledgerHandlers, rewardsHandlers)

	// Get port from env otherwise it's 8080
	port := os.Getenv("PORT")
	if port == "" {
		port = "8080"
	}

	// Create server
	srv := &http.Server{
		Addr:    ":" + port,
		Handler: router,
	}

	// Graceful shutdown setup
	go func() {
		if err := srv.ListenAndServe(); err != nil && err != http.ErrServerClosed {
			zlog.Fatal().Err(err).Msg("listen")
		}
	}()

	// Wait for interrupt signal
	quit := make(chan os.Signal, 1)
	signal.Notify(quit, syscall.SIGINT, syscall.SIGTERM)
	<-quit
	zlog.Info().Msg("Shutting down server...")

	// Give outstanding operations 5 seconds to complete
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
// - Token order and wallet routes: Protected by JWT authentication
// - Internal routes: Protected by internal network authentication
func setupRoutes(
	router *gin.Engine,
	authHandlers *auth.GinHandlers,
	tradingHandlers *trading.GinHandlers,
	ledgerHandlers *ledger.GinHandlers,
	rewardsHandlers *rewards.GinHandlers,
) {
	v1 := router.Group("/api/v1")
	{
		// Auth routes
		authGroup := v1.Group("/auth")
		{
			authGroup.POST("/token", authHandlers.GenerateTokenHandler())
		}

		// Token order routes
		orders := v1.Group("/token/orders")
		orders.Use(middleware.JWTAuth(jwtSecret))
		{
			orders.POST("", tradingHandlers.SubmitOrderHandler())
			orders.GET("/book", tradingHandlers.OrderBookHandler())
			orders.GET("/:order_id", tradingHandlers.GetOrderHandler())
			orders.DELETE("/:order_id", tradingHandlers.CancelOrderHandler())
		}

		// Trade history and rewards for the authenticated member
		token := v1.Group("/token")
		token.Use(middleware.JWTAuth(jwtSecret))
		{
			token.GET("/transactions", tradingHandlers.TradesHandler())
			token.GET("/rewards", rewardsHandlers.ListRewardsHandler())
			token.GET("/rewards/history", rewardsHandlers.RewardHistoryHandler())
		}

		// Wallet routes
		wallets := v1.Group("/wallets")
		wallets.Use(middleware.JWTAuth(jwtSecret))
		{
			wallets.GET("/:asset", ledgerHandlers.WalletHandler())
			wallets.GET("/:asset/transactions", ledgerHandlers.TransactionsHandler())
		}

		// Internal routes (should be protected by internal network)
		internal := v1.Group("/internal")
		internal.Use(middleware.InternalAuth(jwtSecret))
		{
			internal.POST("/deposits/:account_id", ledgerHandlers.DepositHandler())
			internal.POST("/rewards/:account_id", rewardsHandlers.GrantRewardHandler())
			internal.PUT("/rewards/config", rewardsHandlers.UpsertConfigHandler())
		}
	}
}
