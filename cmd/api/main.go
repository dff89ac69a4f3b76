package main

import (
	"context"
	"errors"
	"flag"
	"net/http"
	"os"
	"os/signal"
	"syscall"
	"time"

	"github.com/redis/go-redis/v9"

	"github.com/kadenwood/kadenverify/internal/api"
	"github.com/kadenwood/kadenverify/internal/cache"
	"github.com/kadenwood/kadenverify/internal/config"
	"github.com/kadenwood/kadenverify/internal/enrich"
	"github.com/kadenwood/kadenverify/internal/lookup"
	"github.com/kadenwood/kadenverify/internal/metrics"
	"github.com/kadenwood/kadenverify/internal/models"
	"github.com/kadenwood/kadenverify/internal/pkg/logger"
	"github.com/kadenwood/kadenverify/internal/proxy"
	"github.com/kadenwood/kadenverify/internal/ratelimit"
	"github.com/kadenwood/kadenverify/internal/store"
	"github.com/kadenwood/kadenverify/internal/validator"
)

func main() {
	configPath := flag.String("config", os.Getenv("KADENVERIFY_CONFIG"), "path to YAML config file")
	flag.Parse()

	cfg, err := config.Load(*configPath)
	if err != nil {
		logger.Error("loading configuration", "error", err.Error())
		os.Exit(1)
	}
	logger.SetLevel(logger.ParseLevel(cfg.LogLevel))

	ctx, stop := signal.NotifyContext(context.Background(), syscall.SIGTERM, syscall.SIGINT)
	defer stop()

	st, err := store.Open(ctx, store.Options{
		Backend:      cfg.Cache.Backend,
		EmbeddedPath: cfg.Cache.EmbeddedPath,
		PostgresURL:  cfg.Cache.PostgresURL,
		RedisURL:     cfg.Cache.RedisURL,
		RestURL:      cfg.Cache.RestURL,
		RestKey:      cfg.Cache.RestKey,
		RestTable:    cfg.Cache.RestTable,
		RestTimeout:  cfg.RestTimeout(),
	})
	if err != nil {
		logger.Error("opening result store", "backend", cfg.Cache.Backend, "error", err.Error())
		os.Exit(1)
	}
	defer st.Close()

	smtpClient := lookup.NewSMTPClient(cfg.SMTP.Concurrency)
	if cfg.SMTP.HeloDomain != "" {
		smtpClient.HeloDomain = cfg.SMTP.HeloDomain
	}
	if cfg.SMTP.FromAddress != "" {
		smtpClient.FromAddress = cfg.SMTP.FromAddress
	}
	if cfg.Proxy.Enabled && len(cfg.Proxy.List) > 0 {
		mgr, err := proxy.New(cfg.Proxy.List, cfg.Proxy.Concurrency)
		if err != nil {
			logger.Error("configuring proxy rotation", "error", err.Error())
			os.Exit(1)
		}
		smtpClient.Dial = mgr.DialContext
		logger.Info("smtp dials routed through proxies", "proxies", len(cfg.Proxy.List))
	}

	resolver := lookup.NewResolver()
	intel := cache.NewDomainIntel()
	full := validator.New(resolver, smtpClient, intel)

	scorer := &validator.CatchAllScorer{}
	var adapters []enrich.Adapter
	if cfg.Enrichment.PersonDBPath != "" {
		persons, err := enrich.OpenPersonStore(cfg.Enrichment.PersonDBPath)
		if err != nil {
			logger.Error("opening person directory", "path", cfg.Enrichment.PersonDBPath, "error", err.Error())
			os.Exit(1)
		}
		defer persons.Close()
		scorer.PersonLookup = personLookup(persons)
		adapters = append(adapters, persons.Adapter())
	}
	if cfg.Enrichment.Enabled {
		if cfg.Enrichment.ExaAPIKey != "" {
			adapters = append(adapters, enrich.NewExa(cfg.Enrichment.ExaAPIKey))
		}
		if cfg.Enrichment.ProspeoAPIKey != "" {
			adapters = append(adapters, enrich.NewProspeo(cfg.Enrichment.ProspeoAPIKey))
		}
		if cfg.Enrichment.ApolloAPIKey != "" {
			adapters = append(adapters, enrich.NewApollo(cfg.Enrichment.ApolloAPIKey))
		}
	}
	var chain validator.Enricher
	if len(adapters) > 0 {
		chain = enrich.NewChain(adapters...)
	}

	registry := metrics.NewRegistry()

	opts := validator.TieredOptions{
		CacheTTL:           cfg.CacheTTL(),
		FastThreshold:      cfg.Verify.FastTierThreshold,
		FilterRoleAccounts: cfg.Verify.FilterRoleAccounts,
		CacheLookup:        cacheLookup(st),
		CacheUpdate:        st.Upsert,
		Events:             api.EventRecorder(registry),
		Enricher:           chain,
		Scorer:             scorer,
	}
	if !cfg.Verify.Tiered {
		// Skip the cache and fast tiers; every request runs the full pipeline.
		opts.ForceTier = 3
	}
	tiered := validator.NewTiered(full, opts)
	scheduler := tiered.NewBackfillScheduler(cfg.Verify.BackfillQueueSize, cfg.Verify.BackfillWorkers)
	scheduler.Start(ctx)

	var limiter ratelimit.Limiter
	switch cfg.RateLimit.Backend {
	case "redis":
		ropts, err := redis.ParseURL(cfg.Cache.RedisURL)
		if err != nil {
			logger.Error("parsing redis URL for rate limiting", "error", err.Error())
			os.Exit(1)
		}
		limiter = ratelimit.NewRedis(redis.NewClient(ropts), cfg.RateLimitWindow(), cfg.RateLimit.Max)
	default:
		limiter = ratelimit.NewMemory(cfg.RateLimitWindow(), cfg.RateLimit.Max)
	}

	server := api.NewServer(cfg, tiered, full, st, limiter, registry)
	httpServer := server.HTTPServer()

	go func() {
		logger.Info("kadenverify listening",
			"addr", httpServer.Addr,
			"cache_backend", cfg.Cache.Backend,
			"tiered", cfg.Verify.Tiered,
			"auth", cfg.APIKey != "")
		if err := httpServer.ListenAndServe(); err != nil && !errors.Is(err, http.ErrServerClosed) {
			logger.Error("server stopped", "error", err.Error())
			os.Exit(1)
		}
	}()

	<-ctx.Done()
	logger.Info("shutdown signal received, draining in-flight requests")
	stop()

	shutdownCtx, cancel := context.WithTimeout(context.Background(), 30*time.Second)
	defer cancel()
	if err := httpServer.Shutdown(shutdownCtx); err != nil {
		logger.Error("graceful shutdown failed", "error", err.Error())
		os.Exit(1)
	}
	logger.Info("server shut down cleanly")
}

// cacheLookup adapts the store to the tier-1 lookup hook: a clean miss is a
// nil result, not an error.
func cacheLookup(st store.Store) validator.CacheLookupFunc {
	return func(ctx context.Context, email string) (*models.VerificationResult, error) {
		res, err := st.Lookup(ctx, email)
		if errors.Is(err, store.ErrNotFound) {
			return nil, nil
		}
		return res, err
	}
}

// personLookup adapts the local people directory to the catch-all scorer.
func personLookup(persons *enrich.PersonStore) validator.PersonLookupFunc {
	return func(ctx context.Context, email string) (*validator.SocialMatch, error) {
		p, err := persons.LookupByEmail(ctx, email)
		if err != nil || p == nil {
			return nil, err
		}
		return &validator.SocialMatch{
			Found:      true,
			Confidence: 0.90,
			Email:      p.Email,
			Name:       p.Name,
			Title:      p.Title,
			Company:    p.Company,
			Source:     "person_store",
		}, nil
	}
}
