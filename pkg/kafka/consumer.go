package kafka

import (
	"context"
	"fmt"
	"sync"
	"time"

	"github.com/Shopify/sarama"
	"github.com/vaidashi/relay-freight-api/pkg/logger"
)

// MessageHandler processes one record. A returned error makes the consumer
// retry the record in place, up to MaxAttempts.
type MessageHandler interface {
	HandleMessage(ctx context.Context, msg *sarama.ConsumerMessage) error
}

// Consumer runs a sarama consumer group and dispatches records by topic.
type Consumer struct {
	consumerGroup sarama.ConsumerGroup
	topics        []string
	handlers      map[string]MessageHandler
	maxAttempts   int
	retryDelay    time.Duration
	logger        logger.Logger
	wg            sync.WaitGroup
	ctx           context.Context
	cancel        context.CancelFunc
}

// ConsumerConfig is the configuration for the Kafka consumer
type ConsumerConfig struct {
	Brokers       []string
	Topics        []string
	ConsumerGroup string
	MaxAttempts   int
	RetryDelay    time.Duration
}

// NewConsumer creates a new Kafka consumer
func NewConsumer(cfg *ConsumerConfig, logger logger.Logger) (*Consumer, error) {
	saramaCfg := sarama.NewConfig()
	saramaCfg.Consumer.Return.Errors = true
	saramaCfg.Consumer.Offsets.Initial = sarama.OffsetOldest
	saramaCfg.Version = sarama.V2_8_0_0

	consumerGroup, err := sarama.NewConsumerGroup(cfg.Brokers, cfg.ConsumerGroup, saramaCfg)

	if err != nil {
		return nil, fmt.Errorf("failed to create consumer group: %w", err)
	}

	maxAttempts := cfg.MaxAttempts
	if maxAttempts <= 0 {
		maxAttempts = 3
	}

	ctx, cancel := context.WithCancel(context.Background())

	return &Consumer{
		consumerGroup: consumerGroup,
		topics:        cfg.Topics,
		handlers:      make(map[string]MessageHandler),
		maxAttempts:   maxAttempts,
		retryDelay:    cfg.RetryDelay,
		logger:        logger,
		ctx:           ctx,
		cancel:        cancel,
	}, nil
}

// RegisterHandler registers a message handler for a specific topic
func (c *Consumer) RegisterHandler(topic string, handler MessageHandler) {
	c.handlers[topic] = handler
}

// Start joins the group in the background and rejoins after rebalances.
func (c *Consumer) Start() error {
	if len(c.topics) == 0 {
		return fmt.Errorf("no topics to consume")
	}

	c.wg.Add(2)

	go func() {
		defer c.wg.Done()

		for {
			if err := c.consumerGroup.Consume(c.ctx, c.topics, c); err != nil {
				c.logger.Error("Kafka consumer error", "error", err)
			}

			if c.ctx.Err() != nil {
				return
			}
		}
	}()

	go func() {
		defer c.wg.Done()

		for {
			select {
			case err, ok := <-c.consumerGroup.Errors():
				if !ok {
					return
				}
				c.logger.Warn("Kafka consumer group error", "error", err)
			case <-c.ctx.Done():
				return
			}
		}
	}()

	c.logger.Info("Kafka consumer started", "topics", c.topics)
	return nil
}

// Stop stops the Kafka consumer
func (c *Consumer) Stop() error {
	c.cancel()
	err := c.consumerGroup.Close()
	c.wg.Wait()
	return err
}

// Setup is part of sarama.ConsumerGroupHandler.
func (c *Consumer) Setup(sarama.ConsumerGroupSession) error {
	return nil
}

// Cleanup is part of sarama.ConsumerGroupHandler.
func (c *Consumer) Cleanup(sarama.ConsumerGroupSession) error {
	return nil
}

// ConsumeClaim is part of sarama.ConsumerGroupHandler.
func (c *Consumer) ConsumeClaim(session sarama.ConsumerGroupSession, claim sarama.ConsumerGroupClaim) error {
	for {
		select {
		case msg, ok := <-claim.Messages():
			if !ok {
				return nil
			}

			handler, exists := c.handlers[msg.Topic]

			if !exists {
				c.logger.Warn("No handler registered for topic", "topic", msg.Topic)
				session.MarkMessage(msg, "")
				continue
			}

			if c.dispatch(session.Context(), handler, msg) {
				session.MarkMessage(msg, "")
			}

		case <-session.Context().Done():
			return nil
		}
	}
}

// dispatch retries a failing record in place; after maxAttempts it is logged
// and skipped so one poison record cannot stall the partition.
// It returns false only when ctx ended first and the record must stay unmarked.
func (c *Consumer) dispatch(ctx context.Context, handler MessageHandler, msg *sarama.ConsumerMessage) bool {
	for attempt := 1; attempt <= c.maxAttempts; attempt++ {
		err := handler.HandleMessage(ctx, msg)

		if err == nil {
			return true
		}

		c.logger.Error("Error handling message",
			"error", err,
			"topic", msg.Topic,
			"partition", msg.Partition,
			"offset", msg.Offset,
			"attempt", attempt)

		if c.retryDelay > 0 && attempt < c.maxAttempts {
			select {
			case <-time.After(c.retryDelay):
			case <-ctx.Done():
				return false
			}
		}
	}

	c.logger.Warn("Skipping message after repeated failures",
		"topic", msg.Topic,
		"partition", msg.Partition,
		"offset", msg.Offset)
	return true
}

// EventType reads the event type header set by Producer.
func EventType(msg *sarama.ConsumerMessage) string {
	for _, h := range msg.Headers {
		if h != nil && string(h.Key) == HeaderEventType {
			return string(h.Value)
		}
	}
	return ""
}
