package main

import (
	"log"
	"net/http"
	"os"
	"os/signal"
	"syscall"

	"seat-booking/config"
	"seat-booking/handlers"
	"seat-booking/monitoring"
	"seat-booking/payments"
	"seat-booking/realtime"
	"seat-booking/security"
	"seat-booking/services"
	"seat-booking/store"
	"seat-booking/utils"

	"github.com/pocketbase/pocketbase"
	"github.com/pocketbase/pocketbase/core"
	"github.com/pocketbase/pocketbase/plugins/migratecmd"
	"github.com/prometheus/client_golang/prometheus/promhttp"
	pubnub "github.com/pubnub/go"
)

func main() {
	app := pocketbase.New()

	// Load configuration
	cfg := config.LoadConfig()

	// Initialize Redis
	redisClient := utils.NewRedisClient(cfg.RedisURL, cfg.RedisPassword, cfg.RedisDB)
	defer redisClient.Close()

	// Initialize PubNub (seat-state broadcast)
	pnConfig := pubnub.NewConfig()
	pnConfig.PublishKey = cfg.PubNubPublishKey
	pnConfig.SubscribeKey = cfg.PubNubSubscribeKey
	pnConfig.SecretKey = cfg.PubNubSecretKey

	pn := pubnub.NewPubNub(pnConfig)

	// Initialize realtime fan-out
	hub := realtime.NewHub()
	notifier := realtime.NewPubNubNotifier(hub, pn)
	defer notifier.Close()

	// Initialize services
	monitor := monitoring.NewMonitor()
	mirror := store.NewMirror(redisClient)
	inventory := services.NewInventory(notifier, mirror, monitor, cfg.LockWait)
	holdManager := services.NewHoldManager(inventory, monitor, cfg.HoldTTL)
	ledger := services.NewLedger(inventory, holdManager, mirror, monitor, cfg.CheckoutTTL)
	sweeper := services.NewSweeper(holdManager, ledger, cfg.SweepInterval)
	limiter := security.NewRateLimiter(redisClient, cfg.ClaimRateLimit, cfg.ClaimRateWindow)

	// Bank payment notifications
	paymentListener := payments.NewListener(&payments.Config{
		SubscribeKey: cfg.BankSubscribeKey,
		UUID:         "seat-booking-server",
		Channel:      cfg.BankChannel,
		HMACKey:      cfg.BankHMACKey,
	}, ledger)

	// Initialize handlers
	seatHandler := handlers.NewSeatHandler(app, inventory, notifier)
	holdHandler := handlers.NewHoldHandler(app, holdManager, limiter)
	bookingHandler := handlers.NewBookingHandler(app, ledger)
	adminHandler := handlers.NewAdminHandler(app, inventory, ledger, mirror)

	// Enable migrations
	migratecmd.MustRegister(app, app.RootCmd, migratecmd.Config{
		Automigrate: true,
	})

	// Start background tasks
	sweeper.Start()
	if cfg.BankSubscribeKey != "" {
		paymentListener.Start()
	}

	if cfg.EnableMetrics {
		go func() {
			log.Printf("Metrics listening on :%s", cfg.MetricsPort)
			if err := http.ListenAndServe(":"+cfg.MetricsPort, promhttp.Handler()); err != nil {
				log.Printf("Metrics server stopped: %v", err)
			}
		}()
	}

	// Setup graceful shutdown
	go handleShutdown(sweeper, paymentListener)

	// Register routes
	app.OnServe().BindFunc(func(e *core.ServeEvent) error {
		// Seat endpoints
		e.Router.GET("/api/events/{eventId}/seats", seatHandler.GetSeatGrid)
		e.Router.GET("/api/events/{eventId}/seats/{seat}", seatHandler.GetSeat)
		e.Router.GET("/api/events/{eventId}/stream", seatHandler.StreamSeatEvents)

		// Hold endpoints
		e.Router.POST("/api/holds", holdHandler.CreateHold)
		e.Router.POST("/api/holds/release", holdHandler.ReleaseHold)

		// Booking endpoints
		e.Router.POST("/api/bookings", bookingHandler.CreateBooking)
		e.Router.POST("/api/bookings/confirm", bookingHandler.ConfirmBooking)
		e.Router.POST("/api/bookings/cancel", bookingHandler.CancelBooking)
		e.Router.GET("/api/bookings/{id}", bookingHandler.GetBooking)

		// Admin endpoints
		e.Router.POST("/api/admin/events/{eventId}/open", adminHandler.OpenEvent)

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
}

// handleShutdown handles graceful shutdown
func handleShutdown(sweeper *services.Sweeper, listener *payments.Listener) {
	sigChan := make(chan os.Signal, 1)
	signal.Notify(sigChan, os.Interrupt, syscall.SIGTERM)

	<-sigChan
	log.Println("Shutdown signal received, cleaning up...")
	sweeper.Shutdown()
	listener.Shutdown()
}
