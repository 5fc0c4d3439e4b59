package outbox

import (
	"context"
	"fmt"
	"sync"
	"time"

	"github.com/vaidashi/relay-freight-api/internal/metrics"
	"github.com/vaidashi/relay-freight-api/internal/models"
	"github.com/vaidashi/relay-freight-api/pkg/logger"
)

// MessageHandler defines the interface for handling outbox messages
type MessageHandler interface {
	HandleMessage(ctx context.Context, message *models.OutboxMessage) error
}

// Store is the outbox table as seen by the processor
type Store interface {
	GetPendingMessages(ctx context.Context, limit, maxAttempts int) ([]*models.OutboxMessage, error)
	MarkAsProcessing(ctx context.Context, id int64) error
	MarkAsCompleted(ctx context.Context, id int64) error
	MarkAsFailed(ctx context.Context, id int64, errorMessage string) error
	MarkAsDead(ctx context.Context, id int64, errorMessage string) error
}

// Processor polls the outbox and hands each message to the handler
// registered for its event type
type Processor struct {
	store           Store
	handlers        map[string]MessageHandler
	pollingInterval time.Duration
	batchSize       int
	maxRetries      int
	logger          logger.Logger
	ctx             context.Context
	cancel          context.CancelFunc
	wg              sync.WaitGroup
	running         bool
	mu              sync.Mutex
}

// ProcessorConfig holds the configuration for the Processor
type ProcessorConfig struct {
	PollingInterval time.Duration
	BatchSize       int
	// MaxRetries is the number of attempts after which a message is parked as dead.
	MaxRetries int
}

// NewProcessor creates a new Processor
func NewProcessor(store Store, config ProcessorConfig, logger logger.Logger) *Processor {
	ctx, cancel := context.WithCancel(context.Background())

	if config.MaxRetries <= 0 {
		config.MaxRetries = 5
	}

	return &Processor{
		store:           store,
		handlers:        make(map[string]MessageHandler),
		pollingInterval: config.PollingInterval,
		batchSize:       config.BatchSize,
		maxRetries:      config.MaxRetries,
		logger:          logger,
		ctx:             ctx,
		cancel:          cancel,
	}
}

// RegisterHandler registers a message handler for a specific event type
func (p *Processor) RegisterHandler(eventType string, handler MessageHandler) {
	p.handlers[eventType] = handler
}

// Start starts the outbox processor
func (p *Processor) Start() {
	p.mu.Lock()
	defer p.mu.Unlock()

	if p.running {
		return
	}

	p.running = true
	p.wg.Add(1)

	go func() {
		defer p.wg.Done()
		p.processOutbox()
	}()

	p.logger.Info("Outbox processor started",
		"pollingInterval", p.pollingInterval,
		"batchSize", p.batchSize,
		"maxRetries", p.maxRetries)
}

// Stop stops the outbox processor and waits for the current batch
func (p *Processor) Stop() {
	p.mu.Lock()
	defer p.mu.Unlock()

	if !p.running {
		return
	}

	p.cancel()
	p.wg.Wait()
	p.running = false

	p.logger.Info("Outbox processor stopped")
}

func (p *Processor) processOutbox() {
	ticker := time.NewTicker(p.pollingInterval)
	defer ticker.Stop()

	for {
		select {
		case <-p.ctx.Done():
			return
		case <-ticker.C:
			if err := p.processBatch(p.ctx); err != nil {
				p.logger.Error("Failed to process outbox batch", "error", err)
			}
		}
	}
}

// processBatch publishes one batch of due messages
func (p *Processor) processBatch(ctx context.Context) error {
	ctx, cancel := context.WithTimeout(ctx, p.pollingInterval)
	defer cancel()

	messages, err := p.store.GetPendingMessages(ctx, p.batchSize, p.maxRetries)

	if err != nil {
		return fmt.Errorf("failed to get pending messages: %w", err)
	}

	if len(messages) == 0 {
		return nil
	}

	p.logger.Debug("Processing batch of outbox messages", "count", len(messages))

	for _, msg := range messages {
		if err := p.processMessage(ctx, msg); err != nil {
			p.logger.Error("Failed to process message",
				"error", err,
				"messageID", msg.ID,
				"aggregateID", msg.AggregateID,
				"eventType", msg.EventType)
		}
	}

	return nil
}

func (p *Processor) processMessage(ctx context.Context, msg *models.OutboxMessage) error {
	if err := p.store.MarkAsProcessing(ctx, msg.ID); err != nil {
		return fmt.Errorf("failed to mark message as processing: %w", err)
	}
	attempts := msg.ProcessingAttempts + 1

	handler, exists := p.handlers[msg.EventType]

	if !exists {
		errorMsg := fmt.Sprintf("no handler registered for event type: %s", msg.EventType)

		if err := p.store.MarkAsDead(ctx, msg.ID, errorMsg); err != nil {
			p.logger.Error("Failed to mark message as dead", "error", err, "messageID", msg.ID)
		}
		metrics.OutboxPublished.WithLabelValues(msg.EventType, "dead").Inc()

		return fmt.Errorf("%s", errorMsg)
	}

	if err := handler.HandleMessage(ctx, msg); err != nil {
		if attempts >= p.maxRetries {
			errorMsg := fmt.Sprintf("max retries reached: %s", err.Error())

			if markErr := p.store.MarkAsDead(ctx, msg.ID, errorMsg); markErr != nil {
				p.logger.Error("Failed to mark message as dead", "error", markErr, "messageID", msg.ID)
			}
			metrics.OutboxPublished.WithLabelValues(msg.EventType, "dead").Inc()

			return fmt.Errorf("message failed after %d attempts: %w", attempts, err)
		}

		if markErr := p.store.MarkAsFailed(ctx, msg.ID, err.Error()); markErr != nil {
			p.logger.Error("Failed to mark message as failed", "error", markErr, "messageID", msg.ID)
		}
		metrics.OutboxPublished.WithLabelValues(msg.EventType, "failed").Inc()

		p.logger.Warn("Message processing failed, will retry",
			"error", err,
			"messageID", msg.ID,
			"attempt", attempts)
		return nil
	}

	if err := p.store.MarkAsCompleted(ctx, msg.ID); err != nil {
		return fmt.Errorf("failed to mark message as completed: %w", err)
	}
	metrics.OutboxPublished.WithLabelValues(msg.EventType, "published").Inc()

	p.logger.Debug("Successfully processed message",
		"messageID", msg.ID,
		"aggregateID", msg.AggregateID,
		"eventType", msg.EventType)

	return nil
}
