package api

import (
	"context"
	"errors"
	"net/http"

	"github.com/vaidashi/relay-freight-api/internal/models"
	apperrors "github.com/vaidashi/relay-freight-api/pkg/errors"
)

// HeaderUserID carries the caller's user id, set by the trusted gateway in
// front of the service.
const HeaderUserID = "X-User-ID"

type actorKey struct{}

// actorMiddleware resolves the caller once per request
func (s *Server) actorMiddleware(next http.Handler) http.Handler {
	return http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		id := r.Header.Get(HeaderUserID)
		if id == "" {
			s.respondWithError(w, http.StatusUnauthorized, "missing "+HeaderUserID+" header")
			return
		}

		actor, err := s.deps.Actors.ResolveActor(r.Context(), id)
		if err != nil {
			if errors.Is(err, apperrors.ErrNotFound) {
				s.respondWithError(w, http.StatusUnauthorized, "unknown user")
				return
			}
			s.respondWithAppError(w, r, err)
			return
		}

		next.ServeHTTP(w, r.WithContext(context.WithValue(r.Context(), actorKey{}, actor)))
	})
}

func actorFrom(ctx context.Context) models.Actor {
	actor, _ := ctx.Value(actorKey{}).(models.Actor)
	return actor
}

// ActorUserID returns the resolved caller of r for handlers mounted behind
// the actor middleware.
func ActorUserID(r *http.Request) (string, bool) {
	actor, ok := r.Context().Value(actorKey{}).(models.Actor)
	return actor.UserID, ok && actor.UserID != ""
}
