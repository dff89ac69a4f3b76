package api

import (
	"context"
	"encoding/json"
	"net"
	"net/http"
	"net/url"
	"strconv"
	"strings"
	"time"

	"github.com/go-chi/chi/v5"
	"golang.org/x/sync/errgroup"

	"github.com/kadenwood/kadenverify/internal/pkg/logger"
	"github.com/kadenwood/kadenverify/internal/store"
)

type verifyRequest struct {
	Email string `json:"email"`
}

type batchRequest struct {
	Emails []string `json:"emails"`
}

// verifyOne runs a single address through the tier ladder and writes the
// omni-shaped response. tierFields controls whether the tier diagnostics
// ride along; the /v1 compat endpoints keep them off.
func (s *Server) verifyOne(w http.ResponseWriter, r *http.Request, email string, tierFields bool) {
	email = strings.TrimSpace(email)
	if email == "" {
		respondError(w, http.StatusBadRequest, "missing email")
		return
	}

	start := time.Now()
	res, tier, reason := s.Tiered.Verify(r.Context(), email)
	if s.Registry != nil {
		s.Registry.ObserveTier(tier, time.Since(start))
	}

	omni := res.ToOmni()
	if tierFields {
		omni.Tier = tier
		omni.TierReason = reason
	}
	respondJSON(w, http.StatusOK, omni)
}

func (s *Server) handleVerifyGet(w http.ResponseWriter, r *http.Request) {
	s.verifyOne(w, r, r.URL.Query().Get("email"), true)
}

func (s *Server) handleVerifyPost(w http.ResponseWriter, r *http.Request) {
	var req verifyRequest
	if err := json.NewDecoder(r.Body).Decode(&req); err != nil {
		respondError(w, http.StatusBadRequest, "invalid JSON body")
		return
	}
	s.verifyOne(w, r, req.Email, true)
}

// handleV1Validate is the path-parameter compat form. The address arrives
// URL-escaped ("user%40example.com") from clients that encode the @.
func (s *Server) handleV1Validate(w http.ResponseWriter, r *http.Request) {
	email := chi.URLParam(r, "email")
	if unescaped, err := url.PathUnescape(email); err == nil {
		email = unescaped
	}
	s.verifyOne(w, r, email, false)
}

func (s *Server) handleV1Verify(w http.ResponseWriter, r *http.Request) {
	var req verifyRequest
	if err := json.NewDecoder(r.Body).Decode(&req); err != nil {
		respondError(w, http.StatusBadRequest, "invalid JSON body")
		return
	}
	s.verifyOne(w, r, req.Email, false)
}

// handleVerifyBatch runs the full pipeline over a list and persists the
// outcome. Batch goes straight to full verification; per-address cache
// consultation belongs to the single-address tier ladder.
func (s *Server) handleVerifyBatch(w http.ResponseWriter, r *http.Request) {
	var req batchRequest
	if err := json.NewDecoder(r.Body).Decode(&req); err != nil {
		respondError(w, http.StatusBadRequest, "invalid JSON body")
		return
	}
	if len(req.Emails) > MaxBatchSize {
		respondError(w, http.StatusBadRequest, "batch size exceeds maximum of 1000")
		return
	}
	if len(req.Emails) == 0 {
		respondJSON(w, http.StatusOK, []any{})
		return
	}

	results := s.Batch.VerifyBatch(r.Context(), req.Emails)

	if s.Store != nil {
		if _, err := s.Store.UpsertBatch(r.Context(), results, store.DefaultUpsertChunk); err != nil {
			logger.Error("persisting batch results", "error", err)
		}
	}

	out := make([]any, 0, len(results))
	for _, res := range results {
		if s.Registry != nil {
			s.Registry.SMTPFailure(failureReason(res.Reachability, res.SmtpCode, res.Error, ""))
		}
		out = append(out, res.ToOmni())
	}
	respondJSON(w, http.StatusOK, out)
}

// handleCredits exists for clients that poll their remaining quota on the
// hosted service. Self-hosted verification is unmetered.
func (s *Server) handleCredits(w http.ResponseWriter, r *http.Request) {
	respondJSON(w, http.StatusOK, map[string]int{
		"credits":   999999,
		"remaining": 999999,
	})
}

func (s *Server) handleHealth(w http.ResponseWriter, r *http.Request) {
	respondJSON(w, http.StatusOK, map[string]string{
		"status":  "ok",
		"service": ServiceName,
		"version": Version,
	})
}

type readyCheck struct {
	OK     bool   `json:"ok"`
	Detail string `json:"detail"`
}

// handleReady probes the store, outbound DNS, and outbound SMTP reachability
// concurrently. It always answers 200; the status field distinguishes ready
// from degraded so orchestrators can alert without recycling the pod.
func (s *Server) handleReady(w http.ResponseWriter, r *http.Request) {
	timeout := 3 * time.Second
	dnsHost := "gmail-smtp-in.l.google.com"
	smtpHost := "gmail-smtp-in.l.google.com"
	smtpPort := "25"
	backend := "embedded"
	if s.Config != nil {
		timeout = s.Config.ReadinessTimeout()
		if s.Config.Readiness.DNSHost != "" {
			dnsHost = s.Config.Readiness.DNSHost
		}
		if s.Config.Readiness.SMTPHost != "" {
			smtpHost = s.Config.Readiness.SMTPHost
		}
		if s.Config.Readiness.SMTPPort > 0 {
			smtpPort = strconv.Itoa(s.Config.Readiness.SMTPPort)
		}
		if s.Config.Cache.Backend != "" {
			backend = s.Config.Cache.Backend
		}
	}

	checks := map[string]*readyCheck{
		"cache":         {},
		"dns":           {},
		"smtp_outbound": {},
	}

	g, ctx := errgroup.WithContext(r.Context())
	g.Go(func() error {
		cctx, cancel := context.WithTimeout(ctx, timeout)
		defer cancel()
		c := checks["cache"]
		if s.Store == nil {
			c.Detail = "no store configured"
			return nil
		}
		if err := s.Store.Ping(cctx); err != nil {
			c.Detail = "store error: " + err.Error()
			return nil
		}
		c.OK = true
		c.Detail = "store ping ok"
		return nil
	})
	g.Go(func() error {
		cctx, cancel := context.WithTimeout(ctx, timeout)
		defer cancel()
		c := checks["dns"]
		if _, err := net.DefaultResolver.LookupHost(cctx, dnsHost); err != nil {
			c.Detail = "dns resolution failed: " + err.Error()
			return nil
		}
		c.OK = true
		c.Detail = "resolved " + dnsHost
		return nil
	})
	g.Go(func() error {
		cctx, cancel := context.WithTimeout(ctx, timeout)
		defer cancel()
		c := checks["smtp_outbound"]
		addr := net.JoinHostPort(smtpHost, smtpPort)
		var d net.Dialer
		conn, err := d.DialContext(cctx, "tcp", addr)
		if err != nil {
			c.Detail = "smtp connectivity failed: " + err.Error()
			return nil
		}
		conn.Close()
		c.OK = true
		c.Detail = "connected to " + addr
		return nil
	})
	_ = g.Wait()

	status := "ready"
	for _, c := range checks {
		if !c.OK {
			status = "degraded"
			break
		}
	}

	respondJSON(w, http.StatusOK, map[string]any{
		"status":        status,
		"checks":        checks,
		"cache_backend": backend,
	})
}

func (s *Server) handleMetrics(w http.ResponseWriter, r *http.Request) {
	if s.Registry == nil {
		respondError(w, http.StatusServiceUnavailable, "metrics not enabled")
		return
	}
	respondJSON(w, http.StatusOK, s.Registry.Snapshot())
}

func (s *Server) handleStats(w http.ResponseWriter, r *http.Request) {
	if s.Store == nil {
		respondError(w, http.StatusServiceUnavailable, "no store configured")
		return
	}
	stats, err := s.Store.Stats(r.Context())
	if err != nil {
		logger.Error("computing store stats", "error", err)
		respondError(w, http.StatusInternalServerError, "failed to compute stats")
		return
	}
	respondJSON(w, http.StatusOK, stats)
}

func (s *Server) handleInfo(w http.ResponseWriter, r *http.Request) {
	respondJSON(w, http.StatusOK, map[string]any{
		"service": ServiceName,
		"version": Version,
		"capabilities": []string{
			"syntax_validation",
			"mx_resolution",
			"smtp_verification",
			"catch_all_detection",
			"tiered_verification",
			"batch_verification",
			"email_finder",
			"enrichment_waterfall",
		},
	})
}
