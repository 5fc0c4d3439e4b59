package repository

import (
	"context"
	"time"

	"github.com/vaidashi/relay-freight-api/internal/database"
	"github.com/vaidashi/relay-freight-api/internal/models"
	"github.com/vaidashi/relay-freight-api/pkg/logger"
)

const outboxColumns = `
	id, aggregate_type, aggregate_id, event_type, payload,
	created_at, processed_at, processing_attempts, last_error, status`

// OutboxRepository handles database operations for outbox messages
type OutboxRepository struct {
	db     *database.Database
	logger logger.Logger
}

// NewOutboxRepository creates a new OutboxRepository
func NewOutboxRepository(db *database.Database, logger logger.Logger) *OutboxRepository {
	return &OutboxRepository{
		db:     db,
		logger: logger,
	}
}

// Create inserts a new outbox message. Called with a transactional context
// the message commits or rolls back together with the state change it describes.
func (r *OutboxRepository) Create(ctx context.Context, message *models.OutboxMessage) error {
	query := `
		INSERT INTO outbox_messages (
			aggregate_type, aggregate_id, event_type, payload,
			created_at, status
		) VALUES (
			$1, $2, $3, $4, $5, $6
		) RETURNING id
	`

	var id int64

	err := r.db.Conn(ctx).QueryRowxContext(
		ctx,
		query,
		message.AggregateType,
		message.AggregateID,
		message.EventType,
		message.Payload,
		message.CreatedAt,
		message.Status,
	).Scan(&id)

	if err != nil {
		r.logger.Error("Failed to create outbox message", "error", err, "eventType", message.EventType)
		return wrapErr(err)
	}

	message.ID = id
	return nil
}

// GetPendingMessages retrieves messages due for publishing: new ones and
// failed ones that still have attempts left.
func (r *OutboxRepository) GetPendingMessages(ctx context.Context, limit, maxAttempts int) ([]*models.OutboxMessage, error) {
	query := `
		SELECT` + outboxColumns + `
		FROM outbox_messages
		WHERE status = $1 OR (status = $2 AND processing_attempts < $3)
		ORDER BY created_at ASC
		LIMIT $4
	`

	messages := []*models.OutboxMessage{}

	err := r.db.Conn(ctx).SelectContext(
		ctx,
		&messages,
		query,
		models.OutboxStatusPending,
		models.OutboxStatusFailed,
		maxAttempts,
		limit,
	)

	if err != nil {
		r.logger.Error("Failed to get pending outbox messages", "error", err)
		return nil, wrapErr(err)
	}

	return messages, nil
}

// MarkAsProcessing updates the status of an outbox message to processing
func (r *OutboxRepository) MarkAsProcessing(ctx context.Context, id int64) error {
	query := `
		UPDATE outbox_messages
		SET status = $1, processing_attempts = processing_attempts + 1
		WHERE id = $2
	`

	return r.exec(ctx, "mark outbox message as processing", id, query, models.OutboxStatusProcessing, id)
}

// MarkAsCompleted updates the status of an outbox message to completed
func (r *OutboxRepository) MarkAsCompleted(ctx context.Context, id int64) error {
	query := `
		UPDATE outbox_messages
		SET status = $1, processed_at = $2
		WHERE id = $3
	`

	return r.exec(ctx, "mark outbox message as completed", id, query, models.OutboxStatusCompleted, time.Now().UTC(), id)
}

// MarkAsFailed updates the status of an outbox message to failed
func (r *OutboxRepository) MarkAsFailed(ctx context.Context, id int64, errorMessage string) error {
	query := `
		UPDATE outbox_messages
		SET status = $1, last_error = $2
		WHERE id = $3
	`

	return r.exec(ctx, "mark outbox message as failed", id, query, models.OutboxStatusFailed, errorMessage, id)
}

// MarkAsDead parks a message that exhausted its attempts
func (r *OutboxRepository) MarkAsDead(ctx context.Context, id int64, errorMessage string) error {
	query := `
		UPDATE outbox_messages
		SET status = $1, last_error = $2
		WHERE id = $3
	`

	return r.exec(ctx, "mark outbox message as dead", id, query, models.OutboxStatusDead, errorMessage, id)
}

// ListDead returns parked messages, oldest first
func (r *OutboxRepository) ListDead(ctx context.Context, limit int) ([]*models.OutboxMessage, error) {
	query := `
		SELECT` + outboxColumns + `
		FROM outbox_messages
		WHERE status = $1
		ORDER BY created_at ASC
		LIMIT $2
	`

	messages := []*models.OutboxMessage{}

	if err := r.db.Conn(ctx).SelectContext(ctx, &messages, query, models.OutboxStatusDead, limit); err != nil {
		r.logger.Error("Failed to list dead outbox messages", "error", err)
		return nil, wrapErr(err)
	}

	return messages, nil
}

// Requeue resets a dead message so the processor picks it up again
func (r *OutboxRepository) Requeue(ctx context.Context, id int64) error {
	query := `
		UPDATE outbox_messages
		SET status = $1, processing_attempts = 0, last_error = NULL
		WHERE id = $2 AND status = $3
	`

	return r.exec(ctx, "requeue outbox message", id, query, models.OutboxStatusPending, id, models.OutboxStatusDead)
}

// GetMessage retrieves an outbox message by ID
func (r *OutboxRepository) GetMessage(ctx context.Context, id int64) (*models.OutboxMessage, error) {
	query := `SELECT` + outboxColumns + ` FROM outbox_messages WHERE id = $1`

	var message models.OutboxMessage

	if err := r.db.Conn(ctx).GetContext(ctx, &message, query, id); err != nil {
		err = wrapErr(err)
		if err != ErrNotFound {
			r.logger.Error("Failed to get outbox message", "error", err, "message_id", id)
		}
		return nil, err
	}

	return &message, nil
}

func (r *OutboxRepository) exec(ctx context.Context, op string, id int64, query string, args ...interface{}) error {
	res, err := r.db.Conn(ctx).ExecContext(ctx, query, args...)

	if err != nil {
		r.logger.Error("Failed to "+op, "error", err, "message_id", id)
		return wrapErr(err)
	}

	if n, err := res.RowsAffected(); err == nil && n == 0 {
		return ErrNotFound
	}

	return nil
}
