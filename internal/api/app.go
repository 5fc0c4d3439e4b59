package api

import (
	"context"
	"errors"
	"fmt"
	"net/http"
	"time"

	"github.com/vaidashi/relay-freight-api/internal/clients"
	"github.com/vaidashi/relay-freight-api/internal/config"
	"github.com/vaidashi/relay-freight-api/internal/database"
	"github.com/vaidashi/relay-freight-api/internal/handlers"
	"github.com/vaidashi/relay-freight-api/internal/models"
	"github.com/vaidashi/relay-freight-api/internal/outbox"
	"github.com/vaidashi/relay-freight-api/internal/presence"
	"github.com/vaidashi/relay-freight-api/internal/repository"
	"github.com/vaidashi/relay-freight-api/internal/service"
	"github.com/vaidashi/relay-freight-api/pkg/circuitbreaker"
	"github.com/vaidashi/relay-freight-api/pkg/kafka"
	"github.com/vaidashi/relay-freight-api/pkg/logger"
)

// App owns every long-lived component of the service.
type App struct {
	config          *config.Config
	logger          logger.Logger
	db              *database.Database
	server          *Server
	outboxProcessor *outbox.Processor
	kafkaProducer   *kafka.Producer
	kafkaConsumer   *kafka.Consumer
	rabbit          *clients.RabbitMQNotifier
}

// NewApp connects to the backing services and builds the HTTP server.
func NewApp(cfg *config.Config, logger logger.Logger) (*App, error) {
	db, err := database.New(cfg, logger)
	if err != nil {
		return nil, fmt.Errorf("failed to connect to database: %w", err)
	}

	if err := db.RunMigrations(); err != nil {
		db.Close()
		return nil, fmt.Errorf("failed to run database migrations: %w", err)
	}

	app := &App{config: cfg, logger: logger, db: db}

	// Initialize repositories
	shipmentRepo := repository.NewShipmentRepository(db, logger)
	legRepo := repository.NewLegRepository(db, logger)
	relayRepo := repository.NewRelayRepository(db, logger)
	subscriptionRepo := repository.NewSubscriptionRepository(db, logger)
	settlementRepo := repository.NewSettlementRepository(db, logger)
	userRepo := repository.NewUserRepository(db, logger)
	outboxRepo := repository.NewOutboxRepository(db, logger)
	favoriteRepo := repository.NewFavoriteRepository(db, logger)
	reviewRepo := repository.NewReviewRepository(db, logger)

	paymentBreaker := circuitbreaker.NewCircuitBreaker(circuitbreaker.CircuitBreakerConfig{
		Name:             "payment-gateway",
		FailureThreshold: 5,
		ResetTimeout:     30 * time.Second,
		HalfOpenMaxCalls: 1,
	})
	geocoderBreaker := circuitbreaker.NewCircuitBreaker(circuitbreaker.CircuitBreakerConfig{
		Name:             "geocoder",
		FailureThreshold: 3,
		ResetTimeout:     time.Minute,
		HalfOpenMaxCalls: 1,
	})

	gateway := clients.NewStripeGateway(cfg.Stripe.SecretKey, paymentBreaker, logger)

	var geocoder service.Geocoder
	if cfg.Geocoder.APIKey != "" {
		geocoder = clients.NewORSGeocoder(
			cfg.Geocoder.BaseURL,
			cfg.Geocoder.APIKey,
			cfg.Geocoder.Country,
			time.Duration(cfg.Geocoder.TimeoutS)*time.Second,
			repository.NewGeocodeCacheRepository(db, logger),
			geocoderBreaker,
			logger,
		)
	} else {
		logger.Warn("ORS_API_KEY not set, addresses without coordinates will not be geocoded")
	}

	var objects service.ObjectStore
	minioStore, err := clients.NewMinioStore(
		cfg.ObjectStore.Endpoint,
		cfg.ObjectStore.AccessKey,
		cfg.ObjectStore.SecretKey,
		cfg.ObjectStore.UseSSL,
		time.Duration(cfg.ObjectStore.URLExpiryMin)*time.Minute,
		logger,
	)
	if err != nil {
		logger.Warn("Invoice storage disabled", "error", err)
	} else {
		ctx, cancel := context.WithTimeout(context.Background(), 10*time.Second)
		if err := minioStore.EnsureBucket(ctx, cfg.ObjectStore.InvoiceBucket); err != nil {
			logger.Warn("Failed to ensure invoice bucket", "bucket", cfg.ObjectStore.InvoiceBucket, "error", err)
		}
		cancel()
		objects = minioStore
	}

	registry := presence.NewRegistry(logger)
	senders := []clients.Sender{registry}

	rabbit, err := clients.NewRabbitMQNotifier(cfg.RabbitMQ.URL, cfg.RabbitMQ.EmailQueue, cfg.RabbitMQ.SMSQueue, logger)
	if err != nil {
		logger.Warn("Email and SMS notifications disabled", "error", err)
	} else {
		app.rabbit = rabbit
		senders = append(senders, rabbit)
	}
	notifier := clients.NewMultiNotifier(senders...)

	// Initialize services
	shipmentService := service.NewShipmentService(db, shipmentRepo, legRepo, relayRepo, outboxRepo, geocoder, logger)
	bookingService := service.NewBookingService(db, shipmentRepo, legRepo, relayRepo, userRepo, outboxRepo, geocoder, logger)
	settlementService := service.NewSettlementService(
		db,
		shipmentRepo,
		legRepo,
		subscriptionRepo,
		settlementRepo,
		userRepo,
		outboxRepo,
		gateway,
		clients.NewPDFInvoiceRenderer("Relay Freight"),
		objects,
		notifier,
		service.SettlementConfig{
			Currency:       cfg.Stripe.Currency,
			InvoiceBucket:  cfg.ObjectStore.InvoiceBucket,
			GatewayTimeout: cfg.GatewayTimeout(),
			UploadTimeout:  cfg.UploadTimeout(),
			ClaimTTL:       cfg.ClaimTTL(),
		},
		logger,
	)
	favoriteService := service.NewFavoriteService(favoriteRepo, userRepo, logger)
	reviewService := service.NewReviewService(reviewRepo, legRepo, shipmentRepo, logger)

	// Initialize outbox processor
	app.outboxProcessor = outbox.NewProcessor(outboxRepo, outbox.ProcessorConfig{
		PollingInterval: cfg.OutboxPollInterval(),
		BatchSize:       cfg.Outbox.BatchSize,
		MaxRetries:      cfg.Outbox.MaxRetries,
	}, logger)

	var eventHandler outbox.MessageHandler
	brokers := cfg.KafkaBrokers()

	if len(brokers) > 0 {
		app.kafkaProducer, err = kafka.NewProducer(brokers, cfg.Kafka.ClientID, logger)
		if err != nil {
			app.Close()
			return nil, fmt.Errorf("failed to create Kafka producer: %w", err)
		}
		eventHandler = outbox.NewKafkaHandler(app.kafkaProducer, cfg.Kafka.EventsTopic, logger)

		app.kafkaConsumer, err = kafka.NewConsumer(&kafka.ConsumerConfig{
			Brokers:       brokers,
			Topics:        []string{cfg.Kafka.EventsTopic},
			ConsumerGroup: cfg.Kafka.ConsumerGroup,
		}, logger)
		if err != nil {
			app.Close()
			return nil, fmt.Errorf("failed to create Kafka consumer: %w", err)
		}
		app.kafkaConsumer.RegisterHandler(cfg.Kafka.EventsTopic, handlers.NewShipmentEventsHandler(userRepo, notifier, logger))
	} else {
		logger.Warn("KAFKA_BROKERS not set, outbox events are only logged")
		eventHandler = outbox.NewLoggingHandler(logger)
	}

	for _, eventType := range models.AllEventTypes {
		app.outboxProcessor.RegisterHandler(eventType, eventHandler)
	}

	app.server = NewServer(cfg, logger, Deps{
		Actors:     userRepo,
		Shipments:  shipmentService,
		Booking:    bookingService,
		Settlement: settlementService,
		Favorites:  favoriteService,
		Reviews:    reviewService,
		Outbox:     outboxRepo,
		Push:       presence.NewHandler(registry, ActorUserID, logger),
		Breakers:   []*circuitbreaker.CircuitBreaker{paymentBreaker, geocoderBreaker},
	})

	return app, nil
}

// Start runs the background workers, then serves HTTP until Shutdown.
func (a *App) Start() error {
	a.outboxProcessor.Start()

	if a.kafkaConsumer != nil {
		if err := a.kafkaConsumer.Start(); err != nil {
			a.logger.Error("Failed to start Kafka consumer", "error", err)
		}
	}

	a.logger.Info(fmt.Sprintf("Server is starting on port %d", a.config.Port))

	return a.server.Start()
}

// Shutdown stops HTTP first so no new events are written, then drains the
// workers and releases connections.
func (a *App) Shutdown(ctx context.Context) error {
	err := a.server.Shutdown(ctx)
	if errors.Is(err, http.ErrServerClosed) {
		err = nil
	}

	a.outboxProcessor.Stop()

	return errors.Join(err, a.Close())
}

// Close releases the broker and database connections.
func (a *App) Close() error {
	var errs []error

	if a.kafkaConsumer != nil {
		if err := a.kafkaConsumer.Stop(); err != nil {
			errs = append(errs, fmt.Errorf("kafka consumer: %w", err))
		}
	}

	if a.kafkaProducer != nil {
		if err := a.kafkaProducer.Close(); err != nil {
			errs = append(errs, fmt.Errorf("kafka producer: %w", err))
		}
	}

	if a.rabbit != nil {
		if err := a.rabbit.Close(); err != nil {
			errs = append(errs, fmt.Errorf("rabbitmq: %w", err))
		}
	}

	if err := a.db.Close(); err != nil {
		errs = append(errs, fmt.Errorf("database: %w", err))
	}

	return errors.Join(errs...)
}
