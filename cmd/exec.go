package cmd

import (
	"context"
	"log"
	"log/slog"
	"net/http"
	"os"
	"os/signal"
	"syscall"

	"safeswap/config"
	"safeswap/internal/handlers"
	"safeswap/internal/services"
	"safeswap/internal/services/mercadopago"
	_ "safeswap/migrations"
	"safeswap/monitoring"
	"safeswap/security"
	"safeswap/utils"

	"github.com/pocketbase/pocketbase"
	"github.com/pocketbase/pocketbase/core"
	"github.com/pocketbase/pocketbase/plugins/migratecmd"
	pubnub "github.com/pubnub/go"
)

func Start() error {
	app := pocketbase.New()

	// Load configuration
	cfg := config.LoadConfig()

	// Initialize Redis
	redisClient := utils.NewRedisClient(cfg.RedisURL)
	defer redisClient.Close()

	ctx, cancel := context.WithCancel(context.Background())
	defer cancel()

	// Initialize the payment provider gateway
	gateway, err := mercadopago.New(ctx, &mercadopago.Config{
		BaseURL:             cfg.MercadoPago.BaseURL,
		AccessToken:         cfg.MercadoPago.AccessToken,
		PublicKey:           cfg.MercadoPago.PublicKey,
		WebhookSecret:       cfg.MercadoPago.WebhookSecret,
		NotificationURL:     cfg.MercadoPago.NotificationURL,
		StatementDescriptor: cfg.MercadoPago.StatementDescriptor,
		Timeout:             cfg.ProviderTimeout,
	})
	if err != nil {
		return err
	}

	// Initialize PubNub. Without keys the checkout channel stays silent
	// and clients fall back to polling.
	var notifier services.Notifier = services.NopNotifier{}
	if cfg.PubNubPublishKey != "" {
		pnConfig := pubnub.NewConfig()
		pnConfig.PublishKey = cfg.PubNubPublishKey
		pnConfig.SubscribeKey = cfg.PubNubSubscribeKey
		pnConfig.SecretKey = cfg.PubNubSecretKey

		notifier = services.NewNotifier(pubnub.NewPubNub(pnConfig))
	}

	// Initialize stores and services
	intentStore := services.NewIntentStore(app)
	credentialStore := services.NewCredentialStore(app)
	eventStore := services.NewEventStore(app)

	ticketService := services.NewTicketService(credentialStore, eventStore, redisClient)
	paymentService := services.NewPaymentService(gateway, intentStore, ticketService, notifier)
	validationService := services.NewValidationService(credentialStore, redisClient)
	organizerService := services.NewOrganizerService(eventStore)

	// Initialize handlers
	paymentHandler := handlers.NewPaymentHandler(paymentService, gateway)
	validationHandler := handlers.NewValidationHandler(organizerService, validationService)
	ticketHandler := handlers.NewTicketHandler(app, ticketService, paymentService, cfg.TicketSenderName, cfg.TicketSenderAddress)

	rateLimiter := security.NewRateLimiter(redisClient)

	// Enable migrations
	migratecmd.MustRegister(app, app.RootCmd, migratecmd.Config{
		Automigrate: true,
	})

	// Metrics listener
	if cfg.EnableMetrics {
		monitor := monitoring.NewMonitor(redisClient)
		go func() {
			if err := monitor.ServeOps(cfg.MetricsPort); err != nil && err != http.ErrServerClosed {
				slog.Error("monitor.ServeOps()", "error", err)
			}
		}()
	}

	// Setup graceful shutdown
	go handleShutdown(cancel)

	app.OnServe().BindFunc(func(e *core.ServeEvent) error {
		// Checkout endpoints
		e.Router.POST("/api/create-pix-payment", paymentHandler.CreatePixPayment).
			BindFunc(rateLimiter.AntiBot()).
			BindFunc(rateLimiter.CheckoutRateLimit(10))
		e.Router.POST("/api/process-card-payment", paymentHandler.ProcessCardPayment).
			BindFunc(rateLimiter.AntiBot()).
			BindFunc(rateLimiter.CheckoutRateLimit(10))
		e.Router.GET("/api/payment-status/{paymentId}", paymentHandler.CheckPaymentStatus)

		// Provider notifications
		e.Router.POST("/api/webhooks/mercadopago", paymentHandler.Webhook)

		// Door validation endpoints
		e.Router.POST("/api/validate-ticket", validationHandler.ValidateTicket)
		e.Router.GET("/api/events/{eventCode}/validation-stats", validationHandler.ValidationStats)

		// Ticket delivery
		e.Router.POST("/api/send-ticket", ticketHandler.SendTicket)

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

	return app.Start()
}

// handleShutdown handles graceful shutdown
func handleShutdown(cancel context.CancelFunc) {
	sigChan := make(chan os.Signal, 1)
	signal.Notify(sigChan, os.Interrupt, syscall.SIGTERM)

	<-sigChan
	log.Println("Shutdown signal received, cleaning up...")
	cancel()
}
