// Package api exposes the verification engine over HTTP. The surface keeps
// wire compatibility with the hosted verifier it replaced: same paths, same
// omni response shape, same header-based auth.
package api

import (
	"context"
	"net/http"
	"time"

	"github.com/go-chi/chi/v5"
	"github.com/go-chi/chi/v5/middleware"
	"github.com/go-chi/cors"

	"github.com/kadenwood/kadenverify/internal/config"
	"github.com/kadenwood/kadenverify/internal/metrics"
	"github.com/kadenwood/kadenverify/internal/models"
	"github.com/kadenwood/kadenverify/internal/ratelimit"
	"github.com/kadenwood/kadenverify/internal/store"
)

const (
	ServiceName = "kadenverify"
	Version     = "0.1.0"

	// MaxBatchSize caps one /verify/batch request.
	MaxBatchSize = 1000
)

// Verifier settles one address through the tier ladder and reports the tier
// and reason label. Satisfied by *validator.TieredVerifier.
type Verifier interface {
	Verify(ctx context.Context, email string) (*models.VerificationResult, int, string)
}

// BatchVerifier runs the full pipeline over a list, preserving input order.
// Satisfied by *validator.Verifier.
type BatchVerifier interface {
	VerifyBatch(ctx context.Context, emails []string) []*models.VerificationResult
}

// Server holds the wired engine pieces behind the HTTP handlers. Store,
// Limiter, and Registry may be nil; the affected features degrade rather
// than panic.
type Server struct {
	Config   *config.Config
	Tiered   Verifier
	Batch    BatchVerifier
	Store    store.Store
	Limiter  ratelimit.Limiter
	Registry *metrics.Registry
}

func NewServer(cfg *config.Config, tiered Verifier, batch BatchVerifier, st store.Store, limiter ratelimit.Limiter, registry *metrics.Registry) *Server {
	return &Server{
		Config:   cfg,
		Tiered:   tiered,
		Batch:    batch,
		Store:    st,
		Limiter:  limiter,
		Registry: registry,
	}
}

// Router assembles the full route table. Verification endpoints sit behind
// auth and the rate limiter; operational reads behind auth only; liveness
// endpoints are open.
func (s *Server) Router() *chi.Mux {
	r := chi.NewRouter()

	r.Use(middleware.RequestID)
	r.Use(middleware.RealIP)
	r.Use(middleware.Recoverer)
	r.Use(cors.Handler(cors.Options{
		AllowedOrigins: []string{"*"},
		AllowedMethods: []string{"GET", "POST", "OPTIONS"},
		AllowedHeaders: []string{"Accept", "Authorization", "Content-Type", "X-API-Key"},
		MaxAge:         300,
	}))
	r.Use(s.observe)

	r.Get("/health", s.handleHealth)
	r.Get("/ready", s.handleReady)
	r.Get("/info", s.handleInfo)

	r.Group(func(r chi.Router) {
		r.Use(s.requireAuth)
		r.Get("/metrics", s.handleMetrics)
		r.Get("/stats", s.handleStats)
		r.Get("/v1/validate/credits", s.handleCredits)
	})

	r.Group(func(r chi.Router) {
		r.Use(s.requireAuth)
		r.Use(s.rateLimit)
		r.Get("/verify", s.handleVerifyGet)
		r.Post("/verify", s.handleVerifyPost)
		r.Post("/verify/batch", s.handleVerifyBatch)
		r.Get("/v1/validate/{email}", s.handleV1Validate)
		r.Post("/v1/verify", s.handleV1Verify)
	})

	return r
}

// HTTPServer wraps the router in an http.Server with sane timeouts. The
// write timeout leaves room for a full greylist-retry SMTP dialogue.
func (s *Server) HTTPServer() *http.Server {
	addr := ":8080"
	if s.Config != nil && s.Config.ListenAddr != "" {
		addr = s.Config.ListenAddr
	}
	return &http.Server{
		Addr:         addr,
		Handler:      s.Router(),
		ReadTimeout:  30 * time.Second,
		WriteTimeout: 120 * time.Second,
		IdleTimeout:  120 * time.Second,
	}
}
