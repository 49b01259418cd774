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

	"github.com/papertrade/automation-api/internal/config"
	"github.com/papertrade/automation-api/internal/database"
	"github.com/papertrade/automation-api/internal/engine"
	"github.com/papertrade/automation-api/internal/ledger"
	"github.com/papertrade/automation-api/internal/notify"
	"github.com/papertrade/automation-api/internal/quotes"
	"github.com/papertrade/automation-api/internal/rules"
	"github.com/papertrade/automation-api/pkg/middleware"
	"github.com/papertrade/automation-api/pkg/response"

	"github.com/gin-gonic/gin"
)

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

// main runs the automation engine host: database, scheduler loop,
// maintenance cron, and the internal introspection API, with graceful
// shutdown on SIGINT/SIGTERM.
func main() {
	cfg, err := config.Load(os.Getenv("CONFIG_PATH"))
	if err != nil {
		zlog.Fatal().Err(err).Msg("Failed to load configuration")
	}

	db, err := database.NewDatabase(cfg.Database.Path)
	if err != nil {
		zlog.Fatal().Err(err).Msg("Failed to initialize database")
	}

	ruleStore := rules.NewDatabase(db)
	ledgerStore := ledger.NewDatabase(db)
	executor := ledger.NewExecutor(ledgerStore)

	// The quote cache fronts whatever feed the deployment wires in. The
	// default build carries the simulated feed; a real provider satisfies
	// the same interface.
	feed := quotes.NewSimulated(map[string]float64{
		"AAPL": 185.0, "GOOGL": 140.0, "MSFT": 410.0, "AMZN": 175.0, "META": 480.0,
	})
	quoteCache := quotes.NewCache(feed, cfg.Engine.QuoteTTL.Std())

	eng := engine.New(engine.Config{
		OpenInterval:   cfg.Engine.OpenInterval.Std(),
		ClosedInterval: cfg.Engine.ClosedInterval.Std(),
		LeaseDuration:  cfg.Engine.LeaseDuration.Std(),
	}, ruleStore, executor, quoteCache, notify.NewLogNotifier(), engine.NewUSEquityCalendar())

	engineCtx, engineCancel := context.WithCancel(context.Background())
	defer engineCancel()
	go eng.Start(engineCtx)

	maintenance := engine.NewMaintenance(ruleStore, cfg.Engine.MaintenanceSchedule)
	maintenance.Run() // one pass at boot clears anything a crash left behind
	if err := maintenance.Start(); err != nil {
		zlog.Fatal().Err(err).Msg("Failed to start maintenance schedule")
	}

	// Internal introspection surface
	if os.Getenv("ENV") == "production" {
		gin.SetMode(gin.ReleaseMode)
	}
	router := gin.New()
	router.Use(gin.Recovery(), middleware.RequestLogger(), middleware.RateLimit())
	setupRoutes(router, cfg.Server.InternalToken, eng, ruleStore)

	srv := &http.Server{
		Addr:    ":" + cfg.Server.Port,
		Handler: router,
	}

	go func() {
		if err := srv.ListenAndServe(); err != nil && err != http.ErrServerClosed {
			zlog.Fatal().Err(err).Msg("listen")
		}
	}()

	// Wait for interrupt signal
	quit := make(chan os.Signal, 1)
	signal.Notify(quit, syscall.SIGINT, syscall.SIGTERM)
	<-quit
	zlog.Info().Msg("Shutting down...")

	// Stop taking new cycles, finish the one in flight, then the server.
	engineCancel()
	maintenance.Stop()

	shutdownCtx, shutdownCancel := context.WithTimeout(context.Background(), 5*time.Second)
	defer shutdownCancel()
	if err := srv.Shutdown(shutdownCtx); err != nil {
		zlog.Fatal().Err(err).Msg("Server forced to shutdown")
	}

	zlog.Info().Msg("Exiting")
}

// setupRoutes wires the internal introspection endpoints. The engine has no
// user-facing surface of its own; these exist for the CRUD layer's status
// page and for operators.
func setupRoutes(router *gin.Engine, internalToken string, eng *engine.Engine, ruleStore *rules.Database) {
	router.GET("/health", func(c *gin.Context) {
		response.Success(c, gin.H{"status": "ok"})
	})

	internal := router.Group("/api/v1/internal")
	internal.Use(middleware.InternalAuth(internalToken))
	{
		internal.GET("/engine/status", func(c *gin.Context) {
			response.Success(c, eng.Metrics())
		})

		internal.GET("/rules/:rule_id/executions", func(c *gin.Context) {
			records, err := ruleStore.ListExecutions(c.Param("rule_id"))
			response.Handle(c, records, err)
		})
	}
}
