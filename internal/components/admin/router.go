package admin

import (
	"errors"
	"net/http"

	"github.com/go-chi/chi/v5"
	"github.com/rs/zerolog/hlog"

	"github.com/andrasnagy-data/gatekeep/internal/components/credential"
	"github.com/andrasnagy-data/gatekeep/internal/shared/middleware"
	"github.com/andrasnagy-data/gatekeep/internal/shared/respond"
)

type (
	Router struct {
		service servicer
	}
)

func NewRouter(service servicer) chi.Router {
	router := &Router{service: service}
	return router.Routes()
}

func (r *Router) Routes() chi.Router {
	router := chi.NewRouter()
	router.Use(middleware.NewTokenMiddleware())
	router.Get("/users", r.ListUsers)
	return router
}

func (r *Router) ListUsers(w http.ResponseWriter, req *http.Request) {
	ctx := req.Context()
	logger := hlog.FromRequest(req)

	users, err := r.service.ListUsers(ctx, middleware.GetToken(ctx))
	switch {
	case err == nil:
		respond.JSON(w, http.StatusOK, users)
	case errors.Is(err, ErrUnauthorized):
		respond.Error(w, http.StatusForbidden, "forbidden")
	case errors.Is(err, credential.ErrStoreUnavailable):
		logger.Error().Err(err).Msg("Listing users failed: store unavailable")
		respond.Error(w, http.StatusServiceUnavailable, "service unavailable")
	default:
		logger.Error().Err(err).Msg("Listing users failed")
		respond.Error(w, http.StatusServiceUnavailable, "service unavailable")
	}
}
