package auth

import (
	"encoding/json"
	"errors"
	"math"
	"mime"
	"net/http"
	"strconv"
	"strings"

	"github.com/go-chi/chi/v5"
	"github.com/rs/zerolog/hlog"

	"github.com/andrasnagy-data/gatekeep/internal/components/credential"
	"github.com/andrasnagy-data/gatekeep/internal/shared/config"
	"github.com/andrasnagy-data/gatekeep/internal/shared/cookie"
	"github.com/andrasnagy-data/gatekeep/internal/shared/middleware"
	"github.com/andrasnagy-data/gatekeep/internal/shared/respond"
)

const maxBodyBytes = 1 << 16

type (
	Router struct {
		service servicer
		config  *config.Config
	}
)

func NewRouter(service servicer, cfg *config.Config) chi.Router {
	router := &Router{service: service, config: cfg}
	return router.Routes()
}

func (r *Router) Routes() chi.Router {
	router := chi.NewRouter()
	router.Post("/login", r.HandleLogin)
	router.With(middleware.NewTokenMiddleware()).Post("/logout", r.HandleLogout)
	return router
}

func (r *Router) HandleLogin(w http.ResponseWriter, req *http.Request) {
	ctx := req.Context()
	logger := hlog.FromRequest(req)

	body, err := decodeLogin(w, req)
	if err != nil {
		logger.Warn().Err(err).Msg("Login rejected: unreadable body")
		respond.Error(w, http.StatusBadRequest, "invalid request body")
		return
	}

	outcome, token, err := r.service.Login(ctx, body.Username, body.Password, req.RemoteAddr)
	if err != nil {
		if errors.Is(err, credential.ErrStoreUnavailable) {
			logger.Error().Err(err).Msg("Login failed: credential store unavailable")
			respond.Error(w, http.StatusServiceUnavailable, "service unavailable")
			return
		}
		logger.Error().Err(err).Msg("Login failed")
		respond.Error(w, http.StatusInternalServerError, "internal server error")
		return
	}

	logger.Info().Str("outcome", outcome.Kind.String()).Msg("Login attempt")

	switch outcome.Kind {
	case OutcomeSuccess:
		cookie.SetCookie(w, token.ID, r.service.SessionLifetime(), r.config.CookieSecure)
		http.Redirect(w, req, r.config.LoginSuccessRedirect, http.StatusFound)
	case OutcomeRateLimited:
		w.Header().Set("Retry-After", strconv.Itoa(retryAfterSeconds(outcome)))
		respond.Error(w, http.StatusTooManyRequests, "too many login attempts")
	default:
		if r.config.LoginFailureRedirect != "" && acceptsHTML(req) {
			http.Redirect(w, req, r.config.LoginFailureRedirect, http.StatusFound)
			return
		}
		respond.Error(w, http.StatusUnauthorized, "authentication failed")
	}
}

func (r *Router) HandleLogout(w http.ResponseWriter, req *http.Request) {
	ctx := req.Context()
	logger := hlog.FromRequest(req)

	if token := middleware.GetToken(ctx); token != "" {
		if err := r.service.Logout(ctx, token); err != nil {
			logger.Error().Err(err).Msg("Logout failed")
			respond.Error(w, http.StatusServiceUnavailable, "service unavailable")
			return
		}
	}

	cookie.ClearCookie(w, r.config.CookieSecure)
	w.WriteHeader(http.StatusNoContent)
}

// decodeLogin accepts either a JSON body or an HTML form.
func decodeLogin(w http.ResponseWriter, req *http.Request) (LoginRequest, error) {
	req.Body = http.MaxBytesReader(w, req.Body, maxBodyBytes)

	mediaType, _, _ := mime.ParseMediaType(req.Header.Get("Content-Type"))
	if mediaType == "application/json" {
		var body LoginRequest
		if err := json.NewDecoder(req.Body).Decode(&body); err != nil {
			return LoginRequest{}, err
		}
		return body, nil
	}

	if err := req.ParseForm(); err != nil {
		return LoginRequest{}, err
	}
	return LoginRequest{
		Username: req.PostFormValue("username"),
		Password: req.PostFormValue("password"),
	}, nil
}

func acceptsHTML(req *http.Request) bool {
	return strings.Contains(req.Header.Get("Accept"), "text/html")
}

func retryAfterSeconds(o Outcome) int {
	secs := int(math.Ceil(o.RetryAfter.Seconds()))
	if secs < 1 {
		secs = 1
	}
	return secs
}
