package clients

import (
	"context"
	"encoding/json"
	"errors"
	"fmt"
	"sync"

	amqp "github.com/rabbitmq/amqp091-go"

	"github.com/vaidashi/relay-freight-api/pkg/logger"
)

// Channel is how a notification reaches its recipient.
type Channel string

const (
	ChannelEmail Channel = "email"
	ChannelSMS   Channel = "sms"
	ChannelPush  Channel = "push"
)

// Notification is one message to one recipient. UserID is empty for
// recipients without an account, who are reached by To only.
type Notification struct {
	UserID  string            `json:"user_id,omitempty"`
	Channel Channel           `json:"channel"`
	To      string            `json:"to,omitempty"`
	Subject string            `json:"subject"`
	Body    string            `json:"body"`
	Data    map[string]string `json:"data,omitempty"`
}

// Sender delivers notifications over one or more channels.
type Sender interface {
	Send(ctx context.Context, n Notification) error
}

// RabbitMQNotifier enqueues email and SMS jobs for the delivery workers.
type RabbitMQNotifier struct {
	conn       *amqp.Connection
	mu         sync.Mutex
	ch         *amqp.Channel
	emailQueue string
	smsQueue   string
	logger     logger.Logger
}

// NewRabbitMQNotifier dials url and declares the durable job queues.
func NewRabbitMQNotifier(url, emailQueue, smsQueue string, logger logger.Logger) (*RabbitMQNotifier, error) {
	conn, err := amqp.Dial(url)

	if err != nil {
		return nil, fmt.Errorf("failed to connect to rabbitmq: %w", err)
	}

	ch, err := conn.Channel()

	if err != nil {
		conn.Close()
		return nil, fmt.Errorf("failed to open rabbitmq channel: %w", err)
	}

	for _, q := range []string{emailQueue, smsQueue} {
		if _, err := ch.QueueDeclare(q, true, false, false, false, nil); err != nil {
			ch.Close()
			conn.Close()
			return nil, fmt.Errorf("failed to declare queue %s: %w", q, err)
		}
	}

	logger.Info("Connected to rabbitmq", "emailQueue", emailQueue, "smsQueue", smsQueue)

	return &RabbitMQNotifier{
		conn:       conn,
		ch:         ch,
		emailQueue: emailQueue,
		smsQueue:   smsQueue,
		logger:     logger,
	}, nil
}

// Send publishes a persistent job. Push notifications are not handled here.
func (n *RabbitMQNotifier) Send(ctx context.Context, msg Notification) error {
	var queue string

	switch msg.Channel {
	case ChannelEmail:
		queue = n.emailQueue
	case ChannelSMS:
		queue = n.smsQueue
	default:
		return nil
	}

	if msg.To == "" {
		return fmt.Errorf("notification on %s has no address", msg.Channel)
	}

	body, err := json.Marshal(msg)

	if err != nil {
		return fmt.Errorf("failed to marshal notification: %w", err)
	}

	// amqp channels are not safe for concurrent publishing
	n.mu.Lock()
	defer n.mu.Unlock()

	err = n.ch.PublishWithContext(ctx, "", queue, false, false, amqp.Publishing{
		ContentType:  "application/json",
		DeliveryMode: amqp.Persistent,
		Body:         body,
	})

	if err != nil {
		return fmt.Errorf("failed to publish to %s: %w", queue, err)
	}

	return nil
}

// Close closes the channel and the connection.
func (n *RabbitMQNotifier) Close() error {
	if err := n.ch.Close(); err != nil {
		return err
	}
	return n.conn.Close()
}

// MultiNotifier fans a notification out to every sender and joins their errors.
type MultiNotifier struct {
	senders []Sender
}

func NewMultiNotifier(senders ...Sender) *MultiNotifier {
	return &MultiNotifier{senders: senders}
}

func (m *MultiNotifier) Send(ctx context.Context, n Notification) error {
	var errs []error

	for _, s := range m.senders {
		if err := s.Send(ctx, n); err != nil {
			errs = append(errs, err)
		}
	}

	return errors.Join(errs...)
}
