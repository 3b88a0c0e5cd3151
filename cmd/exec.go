package cmd

import (
	"context"
	"log"
	"net/http"
	"os"
	"os/signal"
	"syscall"

	"checkin-system/config"
	"checkin-system/handlers"
	"checkin-system/monitoring"
	"checkin-system/security"
	"checkin-system/services"
	"checkin-system/utils"

	_ "checkin-system/migrations"

	"github.com/pocketbase/pocketbase"
	"github.com/pocketbase/pocketbase/core"
	"github.com/pocketbase/pocketbase/plugins/migratecmd"
	"github.com/prometheus/client_golang/prometheus/promhttp"
	pubnub "github.com/pubnub/go"
)

func Start() error {
	app := pocketbase.New()

	// Load configuration
	cfg := config.LoadConfig()

	// Initialize Redis
	redisClient := utils.NewRedisClient(cfg.RedisURL)
	defer redisClient.Close()

	// Initialize PubNub
	pnConfig := pubnub.NewConfig()
	pnConfig.PublishKey = cfg.PubNubPublishKey
	pnConfig.SubscribeKey = cfg.PubNubSubscribeKey
	pnConfig.SecretKey = cfg.PubNubSecretKey

	pn := pubnub.NewPubNub(pnConfig)

	ctx, cancel := context.WithCancel(context.Background())
	defer cancel()

	// Initialize services
	store := services.NewRecordStore(app, cfg.StoreBatchSize)
	scanService := services.NewScanService(store, redisClient, pn, cfg)
	statsService := services.NewStatsService(store, cfg)
	securityService := services.NewSecurityService(store, cfg)
	importService := services.NewImportService(store, redisClient, pn, cfg)

	// Initialize handlers
	scanHandler := handlers.NewScanHandler(app, scanService)
	statsHandler := handlers.NewStatsHandler(app, statsService)
	securityHandler := handlers.NewSecurityHandler(app, securityService)
	importHandler := handlers.NewImportHandler(app, importService)
	ticketHandler := handlers.NewTicketHandler(app, store)
	stateHandler := handlers.NewStateHandler(redisClient)

	rateLimiter := security.NewRateLimiter(redisClient, cfg.ScanRateLimit, cfg.ScanRateWindow)

	// Enable migrations
	migratecmd.MustRegister(app, app.RootCmd, migratecmd.Config{
		Automigrate: true,
	})

	// Start background tasks
	go importService.AutoImportLoop(ctx)

	if cfg.EnableMetrics {
		monitoring.NewMonitor(redisClient)
		go serveMetrics(cfg.MetricsPort)
	}

	// Setup graceful shutdown
	go handleShutdown(cancel)

	app.OnServe().BindFunc(func(e *core.ServeEvent) error {
		// Scan endpoints
		scans := e.Router.Group("/api/v1/scans")
		scans.BindFunc(rateLimiter.ScanRateLimit())
		scans.POST("", scanHandler.Scan)
		scans.GET("/{eventId}/recent", scanHandler.RecentScans)

		// Dashboard endpoints
		dashboard := e.Router.Group("/api/v1/events/{eventId}")
		dashboard.BindFunc(rateLimiter.AntiBotMiddleware())
		dashboard.GET("/dashboard", statsHandler.Dashboard)
		dashboard.GET("/sectors", statsHandler.Sectors)
		dashboard.GET("/security", securityHandler.Report)
		dashboard.GET("/state", stateHandler.Load)
		dashboard.PUT("/state", stateHandler.Save)

		// Ticket endpoints
		e.Router.POST("/api/v1/tickets", ticketHandler.Create)
		e.Router.GET("/api/v1/events/{eventId}/tickets", ticketHandler.List)

		// Import endpoints
		e.Router.GET("/api/v1/events/{eventId}/sources", importHandler.ListSources)
		e.Router.POST("/api/v1/sources", importHandler.CreateSource)
		e.Router.POST("/api/v1/sources/{sourceId}/run", importHandler.RunSource)
		e.Router.DELETE("/api/v1/sources/{sourceId}", importHandler.DeleteSource)
		e.Router.POST("/api/v1/events/{eventId}/imports/run-all", importHandler.RunAll)
		e.Router.POST("/api/v1/events/{eventId}/imports/csv", importHandler.UploadCSV)
		e.Router.POST("/api/v1/imports/webhook/{sourceId}", importHandler.Webhook)

		// Health check
		e.Router.GET("/health", func(e *core.RequestEvent) error {
			if err := utils.RedisHealthCheck(redisClient); err != nil {
				return e.JSON(503, map[string]string{
					"status": "unhealthy",
					"error":  err.Error(),
				})
			}
			return e.JSON(200, map[string]string{"status": "healthy"})
		})

		log.Println("Server routes registered")

		return e.Next()
	})

	// Start server
	if err := app.Start(); err != nil {
		log.Fatal(err)
	}
	return nil
}

func serveMetrics(port string) {
	mux := http.NewServeMux()
	mux.Handle("/metrics", promhttp.Handler())
	if err := http.ListenAndServe(":"+port, mux); err != nil {
		log.Printf("Metrics server stopped: %v", err)
	}
}

// handleShutdown handles graceful shutdown
func handleShutdown(cancel context.CancelFunc) {
	sigChan := make(chan os.Signal, 1)
	signal.Notify(sigChan, os.Interrupt, syscall.SIGTERM)

	<-sigChan
	log.Println("Shutdown signal received, cleaning up...")
	cancel()
}
