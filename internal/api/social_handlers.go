package api

import (
	"net/http"

	"github.com/gorilla/mux"

	"github.com/vaidashi/relay-freight-api/internal/service"
)

func (s *Server) listFavoritesHandler(w http.ResponseWriter, r *http.Request) {
	favorites, err := s.deps.Favorites.List(r.Context(), actorFrom(r.Context()))
	if err != nil {
		s.respondWithAppError(w, r, err)
		return
	}

	s.ok(w, http.StatusOK, favorites)
}

func (s *Server) addFavoriteHandler(w http.ResponseWriter, r *http.Request) {
	favorite, err := s.deps.Favorites.Add(r.Context(), actorFrom(r.Context()), mux.Vars(r)["courierId"])
	if err != nil {
		s.respondWithAppError(w, r, err)
		return
	}

	s.ok(w, http.StatusCreated, favorite)
}

func (s *Server) removeFavoriteHandler(w http.ResponseWriter, r *http.Request) {
	if err := s.deps.Favorites.Remove(r.Context(), actorFrom(r.Context()), mux.Vars(r)["courierId"]); err != nil {
		s.respondWithAppError(w, r, err)
		return
	}

	w.WriteHeader(http.StatusNoContent)
}

func (s *Server) createReviewHandler(w http.ResponseWriter, r *http.Request) {
	var in service.ReviewInput

	if err := decode(r, &in); err != nil {
		s.respondWithAppError(w, r, err)
		return
	}

	review, err := s.deps.Reviews.Create(r.Context(), actorFrom(r.Context()), mux.Vars(r)["id"], in)
	if err != nil {
		s.respondWithAppError(w, r, err)
		return
	}

	s.ok(w, http.StatusCreated, review)
}

func (s *Server) listCourierReviewsHandler(w http.ResponseWriter, r *http.Request) {
	reviews, err := s.deps.Reviews.ListForCourier(r.Context(), mux.Vars(r)["id"])
	if err != nil {
		s.respondWithAppError(w, r, err)
		return
	}

	s.ok(w, http.StatusOK, reviews)
}
