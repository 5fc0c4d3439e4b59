package api

import (
	"net/http"
	"strconv"

	"github.com/gorilla/mux"

	"github.com/vaidashi/relay-freight-api/internal/models"
	apperrors "github.com/vaidashi/relay-freight-api/pkg/errors"
)

// DeadMessagesResponse lists outbox messages parked after exhausting their retries
type DeadMessagesResponse struct {
	Items      []*models.OutboxMessage `json:"items"`
	TotalCount int                     `json:"total_count"`
	Limit      int                     `json:"limit"`
}

// getDeadMessagesHandler returns the dead outbox messages, oldest first
func (s *Server) getDeadMessagesHandler(w http.ResponseWriter, r *http.Request) {
	limit, err := strconv.Atoi(r.URL.Query().Get("limit"))

	if err != nil || limit < 1 || limit > 500 {
		limit = 50
	}

	messages, err := s.deps.Outbox.ListDead(r.Context(), limit)

	if err != nil {
		s.logger.Error("Failed to fetch dead outbox messages", "error", err)
		s.respondWithAppError(w, r, err)
		return
	}

	s.ok(w, http.StatusOK, DeadMessagesResponse{
		Items:      messages,
		TotalCount: len(messages),
		Limit:      limit,
	})
}

// requeueMessageHandler hands a dead message back to the outbox processor
func (s *Server) requeueMessageHandler(w http.ResponseWriter, r *http.Request) {
	id, err := strconv.ParseInt(mux.Vars(r)["id"], 10, 64)

	if err != nil {
		s.respondWithAppError(w, r, apperrors.NewInvalidInputError("Invalid message ID"))
		return
	}

	if err := s.deps.Outbox.Requeue(r.Context(), id); err != nil {
		s.respondWithAppError(w, r, err)
		return
	}

	s.logger.Info("Outbox message requeued", "messageID", id)

	s.ok(w, http.StatusOK, map[string]interface{}{
		"message":    "Message requeued for publishing",
		"message_id": id,
	})
}
