package server

import (
	"context"
	"net/http"
	"time"

	"github.com/rs/zerolog/hlog"

	"github.com/andrasnagy-data/gatekeep/internal/components/credential"
	"github.com/andrasnagy-data/gatekeep/internal/shared/config"
	"github.com/andrasnagy-data/gatekeep/internal/shared/respond"
)

type (
	// HealthSrvc reports whether the credential store answers
	HealthSrvc struct {
		store  pinger
		driver string
	}

	pinger interface {
		Ping(ctx context.Context) error
	}

	// HealthResponse represents the response structure for health check endpoint
	HealthResponse struct {
		Status    string    `json:"status"`
		Timestamp time.Time `json:"timestamp"`
		Database  bool      `json:"database"`
		Driver    string    `json:"driver"`
	}
)

func NewHealthHandler(srvc *HealthSrvc) http.HandlerFunc {
	return func(w http.ResponseWriter, r *http.Request) {
		logger := hlog.FromRequest(r)

		response, err := srvc.check(r.Context())
		if err != nil {
			logger.Error().Err(err).Str("driver", response.Driver).Msg("Credential store healthcheck failed")
			respond.JSON(w, http.StatusServiceUnavailable, response)
			return
		}

		logger.Debug().Msg("Credential store healthcheck ok")
		respond.JSON(w, http.StatusOK, response)
	}
}

func NewHealthSrvc(store credential.Store, cfg *config.Config) *HealthSrvc {
	return &HealthSrvc{store: store, driver: cfg.StoreDriver}
}

func (s *HealthSrvc) check(ctx context.Context) (HealthResponse, error) {
	response := HealthResponse{
		Status:    "serving",
		Timestamp: time.Now().UTC(),
		Database:  true,
		Driver:    s.driver,
	}

	if err := s.store.Ping(ctx); err != nil {
		response.Status = "not serving"
		response.Database = false
		return response, err
	}
	return response, nil
}
