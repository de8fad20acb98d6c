package main

import (
	"context"
	"fmt"
	"net/http"
	"os"
	"os/signal"
	"syscall"
	"time"

	"github.com/gin-gonic/gin"
	"github.com/parkrow/estates/internal/buff"
	"github.com/parkrow/estates/internal/config"
	"github.com/parkrow/estates/internal/currency"
	"github.com/parkrow/estates/internal/database"
	"github.com/parkrow/estates/internal/engine"
	"github.com/parkrow/estates/internal/handlers"
	"github.com/parkrow/estates/internal/logger"
	"github.com/parkrow/estates/internal/middleware"
	"github.com/parkrow/estates/internal/persistence"
	"github.com/parkrow/estates/internal/registry"
	"github.com/parkrow/estates/internal/services"
)

const (
	shutdownTimeout = 30 * time.Second
)

func main() {
	// Load configuration from environment variables
	cfg, err := config.Load()
	if err != nil {
		fmt.Fprintf(os.Stderr, "Failed to load configuration: %v\n", err)
		os.Exit(1)
	}

	// Initialize structured logger
	log := logger.New(cfg.Server.Env)
	log.Info("Starting Estates API", map[string]interface{}{
		"version":     "0.1.0",
		"environment": cfg.Server.Env,
		"port":        cfg.Server.Port,
	})

	ctx := context.Background()

	// Choose the persistence gateway. With DB_ENABLED=false everything lives
	// in memory and is lost on restart, which is fine for development.
	var (
		gateway persistence.Gateway
		db      *database.Database
	)
	if cfg.Database.Enabled {
		db, err = database.NewPostgresPool(ctx, cfg.Database)
		if err != nil {
			log.Fatal("Failed to connect to database", err, map[string]interface{}{
				"host": cfg.Database.Host,
				"port": cfg.Database.Port,
				"name": cfg.Database.Name,
			})
		}
		defer db.Close()

		pg := persistence.NewPostgresGateway(db)
		if err := pg.EnsureSchema(ctx); err != nil {
			log.Fatal("Failed to prepare database schema", err, nil)
		}
		gateway = pg

		log.Info("Database connection established", map[string]interface{}{
			"host":     cfg.Database.Host,
			"port":     cfg.Database.Port,
			"database": cfg.Database.Name,
			"pool_min": cfg.Database.PoolMin,
			"pool_max": cfg.Database.PoolMax,
		})
	} else {
		gateway = persistence.NewMemoryGateway()
		log.Warn("Running with in-memory persistence; state will not survive restarts", nil)
	}

	// External economy ports. The in-process ledger and static buff provider
	// stand in until the real account systems are attached.
	ledger := currency.NewMemoryLedger()
	buffs := buff.NewStaticProvider()
	notifier := engine.NewLogNotifier(log)

	// Core state and engines
	reg := registry.New(log)
	taxEngine := engine.NewTaxEngine(log, reg, ledger, buffs, notifier, nil, cfg.Economy.Tax)
	incomeEngine := engine.NewIncomeEngine(log, reg, buffs, cfg.Economy.Income, cfg.Economy.Levels, taxEngine.Timing(), nil)
	auctionEngine := engine.NewAuctionEngine(log, reg, ledger, buffs, notifier, cfg.Economy.Auction)
	estateService := services.NewEstateService(log, reg, ledger, buffs, auctionEngine, cfg.Economy, taxEngine.Timing())

	// Restore state from the gateway before any tick runs
	flusher := engine.NewFlusher(log, reg, auctionEngine, gateway)
	if err := flusher.Load(ctx); err != nil {
		log.Fatal("Failed to load persisted state", err, nil)
	}
	log.Info("State loaded", map[string]interface{}{
		"properties": reg.Len(),
		"auctions":   len(auctionEngine.Active()),
	})

	// Periodic tasks: tax cycle, income accrual, auction settlement, and the
	// persistence flush.
	scheduler := engine.NewScheduler(log)
	scheduler.Add(engine.Task{Name: "tax", Interval: cfg.Economy.Tax.TickInterval, Run: taxEngine.Tick})
	scheduler.Add(engine.Task{Name: "income", Interval: cfg.Economy.Income.TickInterval, Run: incomeEngine.Tick})
	scheduler.Add(engine.Task{Name: "auction-sweep", Interval: cfg.Economy.Auction.SweepInterval, Run: auctionEngine.Sweep})
	scheduler.Add(engine.Task{Name: "flush", Interval: cfg.Economy.FlushInterval, Run: flusher.Flush})
	scheduler.Start(ctx)

	// Setup Gin router
	if cfg.Server.Env == "production" {
		gin.SetMode(gin.ReleaseMode)
	}
	router := gin.New()

	// Add middleware in order: RequestID -> Logger -> Recovery -> CORS
	router.Use(middleware.RequestID())
	router.Use(middleware.Logger(log))
	router.Use(middleware.Recovery(log))
	router.Use(middleware.CORS(cfg.CORS.Origins))

	// Register health check routes
	healthHandler := handlers.NewHealthHandler(db, cfg.Server.Env)
	router.GET("/health", healthHandler.Health)
	router.GET("/health/ready", healthHandler.Ready)
	router.GET("/api/v1/info", healthHandler.Info)

	// Initialize handlers
	propertyHandler := handlers.NewPropertyHandler(estateService)
	auctionHandler := handlers.NewAuctionHandler(auctionEngine)

	// Register API v1 routes
	v1 := router.Group("/api/v1")
	{
		properties := v1.Group("/properties")
		{
			properties.GET("", propertyHandler.List)
			properties.POST("", propertyHandler.Create)
			properties.GET("/:id", propertyHandler.Get)
			properties.DELETE("/:id", propertyHandler.Delete)
			properties.GET("/:id/status", propertyHandler.Status)
			properties.POST("/:id/buy", propertyHandler.Buy)
			properties.POST("/:id/sell", propertyHandler.Sell)
			properties.POST("/:id/claim-income", propertyHandler.ClaimIncome)
			properties.POST("/:id/pay-tax", propertyHandler.PayTax)
			properties.POST("/:id/upgrade", propertyHandler.Upgrade)
			properties.POST("/:id/rating", propertyHandler.Rate)
			properties.POST("/:id/guestbook", propertyHandler.SignGuestbook)
			properties.POST("/:id/auction", auctionHandler.Create)
		}
		auctions := v1.Group("/auctions")
		{
			auctions.GET("", auctionHandler.List)
			auctions.GET("/:id", auctionHandler.Get)
			auctions.POST("/:id/bids", auctionHandler.Bid)
			auctions.POST("/:id/cancel", auctionHandler.Cancel)
		}
	}

	// Create HTTP server
	srv := &http.Server{
		Addr:    fmt.Sprintf(":%s", cfg.Server.Port),
		Handler: router,
	}

	// Start server in goroutine
	go func() {
		log.Info("Server listening", map[string]interface{}{
			"port": cfg.Server.Port,
			"addr": srv.Addr,
		})
		if err := srv.ListenAndServe(); err != nil && err != http.ErrServerClosed {
			log.Fatal("Server failed to start", err, nil)
		}
	}()

	// Wait for interrupt signal (SIGINT or SIGTERM)
	quit := make(chan os.Signal, 1)
	signal.Notify(quit, syscall.SIGINT, syscall.SIGTERM)
	<-quit

	// Graceful shutdown: stop accepting requests, stop the tick loops, then
	// write out whatever is still dirty.
	log.Info("Shutting down server...", nil)

	shutdownCtx, cancel := context.WithTimeout(context.Background(), shutdownTimeout)
	defer cancel()

	if err := srv.Shutdown(shutdownCtx); err != nil {
		log.Error("Server forced to shutdown", err, map[string]interface{}{
			"timeout": shutdownTimeout.String(),
		})
	}

	scheduler.Stop()
	flusher.Flush(shutdownCtx, time.Now().UTC())

	log.Info("Server exited", nil)
}
