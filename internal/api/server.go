// Package api exposes the HTTP interface for the lead engine.
package api

import (
	"context"
	"encoding/json"
	"errors"
	"net/http"
	"time"

	"github.com/go-chi/chi/v5"
	"go.uber.org/zap"

	"github.com/DavidSuperwave/leadengine/internal/app"
	"github.com/DavidSuperwave/leadengine/internal/leads"
	"github.com/DavidSuperwave/leadengine/internal/metrics"
)

// BillingWebhook handles signed billing callbacks.
type BillingWebhook interface {
	Handle(ctx context.Context, body []byte, signature string) error
}

// Config controls server behavior.
type Config struct {
	APIKey         string
	AuthEnabled    bool
	RequestTimeout time.Duration
}

// Server wires HTTP handlers to the job service.
type Server struct {
	router     chi.Router
	service    *app.Service
	authorizer leads.Authorizer
	billing    BillingWebhook
	cfg        Config
	logger     *zap.Logger
}

// NewServer constructs a Server with middleware and routes.
func NewServer(
	service *app.Service,
	authorizer leads.Authorizer,
	billing BillingWebhook,
	cfg Config,
	logger *zap.Logger,
) *Server {
	if logger == nil {
		logger = zap.NewNop()
	}
	if cfg.RequestTimeout <= 0 {
		cfg.RequestTimeout = 60 * time.Second
	}
	s := &Server{
		service:    service,
		authorizer: authorizer,
		billing:    billing,
		cfg:        cfg,
		logger:     logger.Named("api"),
	}

	r := chi.NewRouter()
	r.Use(requestIDMiddleware)
	r.Use(loggingMiddleware(s.logger))
	r.Use(recoverMiddleware(s.logger))
	r.Use(timeoutMiddleware(cfg.RequestTimeout))

	r.Get("/healthz", s.healthz)
	r.Get("/readyz", s.readyz)
	r.Method(http.MethodGet, "/metrics", metrics.Handler())

	// The billing webhook authenticates by HMAC signature, not API key.
	r.Post("/v1/billing/whop", s.whopWebhook)

	r.Group(func(r chi.Router) {
		if cfg.AuthEnabled {
			r.Use(apiKeyMiddleware(cfg.APIKey))
		}
		r.Use(identityMiddleware(s.authorizer))

		r.Route("/v1", func(r chi.Router) {
			r.Post("/scrapes", s.submitScrape)
			r.Post("/verifications", s.submitVerification)
			r.Get("/credits", s.credits)
			r.Get("/queues/{queue}", s.queueSnapshot)
			r.Route("/jobs/{job_id}", func(r chi.Router) {
				r.Get("/", s.getJob)
				r.Get("/result", s.getJobResult)
				r.Get("/export", s.exportJob)
				r.Post("/cancel", s.cancelJob)
				r.Post("/reset", s.resetJob)
				r.Post("/push/{tool}", s.pushJob)
			})
		})
	})

	s.router = r
	return s
}

// Handler returns the router for use with http.Server.
func (s *Server) Handler() http.Handler {
	return s.router
}

func (s *Server) healthz(w http.ResponseWriter, _ *http.Request) {
	s.writeJSON(w, http.StatusOK, map[string]string{"status": "ok"})
}

func (s *Server) readyz(w http.ResponseWriter, _ *http.Request) {
	s.writeJSON(w, http.StatusOK, map[string]string{"status": "ready"})
}

func (s *Server) writeJSON(w http.ResponseWriter, status int, payload any) {
	w.Header().Set("Content-Type", "application/json")
	w.WriteHeader(status)
	if err := json.NewEncoder(w).Encode(payload); err != nil {
		s.logger.Error("write JSON failed", zap.Error(err))
	}
}

func (s *Server) writeError(w http.ResponseWriter, status int, msg string) {
	s.writeJSON(w, status, map[string]string{"error": msg})
}

// serviceError maps domain errors onto HTTP statuses.
func (s *Server) serviceError(w http.ResponseWriter, err error) {
	switch {
	case errors.Is(err, leads.ErrNotFound):
		s.writeError(w, http.StatusNotFound, "job not found")
	case errors.Is(err, leads.ErrInsufficientCredits):
		s.writeError(w, http.StatusPaymentRequired, "insufficient credits")
	case errors.Is(err, leads.ErrJobTerminal):
		s.writeError(w, http.StatusConflict, err.Error())
	case errors.Is(err, leads.ErrQueueClosed):
		s.writeError(w, http.StatusServiceUnavailable, "service is shutting down")
	case errors.Is(err, app.ErrInvalidInput):
		s.writeError(w, http.StatusBadRequest, err.Error())
	default:
		s.logger.Error("request failed", zap.Error(err))
		s.writeError(w, http.StatusInternalServerError, "internal server error")
	}
}
