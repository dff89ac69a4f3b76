// Command kadenverify drives the verification engine from the terminal:
// single lookups, batch files, contact finding, store statistics, and
// backend-to-backend migration.
package main

import (
	"context"
	"fmt"
	"os"

	"github.com/urfave/cli/v2"

	"github.com/kadenwood/kadenverify/internal/cache"
	"github.com/kadenwood/kadenverify/internal/config"
	"github.com/kadenwood/kadenverify/internal/enrich"
	"github.com/kadenwood/kadenverify/internal/lookup"
	"github.com/kadenwood/kadenverify/internal/pkg/logger"
	"github.com/kadenwood/kadenverify/internal/proxy"
	"github.com/kadenwood/kadenverify/internal/store"
	"github.com/kadenwood/kadenverify/internal/validator"
)

func main() {
	app := &cli.App{
		Name:    "kadenverify",
		Usage:   "self-hosted email verification engine",
		Version: "0.1.0",
		Flags: []cli.Flag{
			&cli.StringFlag{
				Name:    "config",
				Aliases: []string{"c"},
				Usage:   "path to YAML config file",
				EnvVars: []string{"KADENVERIFY_CONFIG"},
			},
			&cli.BoolFlag{
				Name:    "verbose",
				Aliases: []string{"v"},
				Usage:   "enable debug logging",
			},
		},
		Commands: []*cli.Command{
			verifyCommand(),
			batchCommand(),
			findCommand(),
			statsCommand(),
			migrateCommand(),
		},
	}

	if err := app.Run(os.Args); err != nil {
		fmt.Fprintln(os.Stderr, err)
		os.Exit(1)
	}
}

// loadConfig reads the effective configuration and applies the CLI's
// logging flags.
func loadConfig(c *cli.Context) (*config.Config, error) {
	cfg, err := config.Load(c.String("config"))
	if err != nil {
		return nil, err
	}
	if c.Bool("verbose") {
		cfg.LogLevel = "debug"
	}
	logger.SetLevel(logger.ParseLevel(cfg.LogLevel))
	return cfg, nil
}

// smtpFlags are shared by every command that opens SMTP dialogues.
func smtpFlags() []cli.Flag {
	return []cli.Flag{
		&cli.StringFlag{Name: "helo", Usage: "EHLO domain presented to servers"},
		&cli.StringFlag{Name: "from-addr", Usage: "MAIL FROM address presented to servers"},
	}
}

// buildPipeline wires the full verification pipeline from config plus any
// per-command SMTP flag overrides.
func buildPipeline(c *cli.Context, cfg *config.Config) (*validator.Verifier, *lookup.Resolver, *lookup.SMTPClient, *cache.DomainIntel, error) {
	client := lookup.NewSMTPClient(cfg.SMTP.Concurrency)
	if cfg.SMTP.HeloDomain != "" {
		client.HeloDomain = cfg.SMTP.HeloDomain
	}
	if cfg.SMTP.FromAddress != "" {
		client.FromAddress = cfg.SMTP.FromAddress
	}
	if v := c.String("helo"); v != "" {
		client.HeloDomain = v
	}
	if v := c.String("from-addr"); v != "" {
		client.FromAddress = v
	}
	if cfg.Proxy.Enabled && len(cfg.Proxy.List) > 0 {
		mgr, err := proxy.New(cfg.Proxy.List, cfg.Proxy.Concurrency)
		if err != nil {
			return nil, nil, nil, nil, fmt.Errorf("configuring proxies: %w", err)
		}
		client.Dial = mgr.DialContext
	}

	resolver := lookup.NewResolver()
	intel := cache.NewDomainIntel()
	return validator.New(resolver, client, intel), resolver, client, intel, nil
}

// openStore opens the backend named by cfg, or an explicit override for the
// migrate command.
func openStore(ctx context.Context, cfg *config.Config, backend string) (store.Store, error) {
	if backend == "" {
		backend = cfg.Cache.Backend
	}
	return store.Open(ctx, store.Options{
		Backend:      backend,
		EmbeddedPath: cfg.Cache.EmbeddedPath,
		PostgresURL:  cfg.Cache.PostgresURL,
		RedisURL:     cfg.Cache.RedisURL,
		RestURL:      cfg.Cache.RestURL,
		RestKey:      cfg.Cache.RestKey,
		RestTable:    cfg.Cache.RestTable,
		RestTimeout:  cfg.RestTimeout(),
	})
}

// buildEnrichment assembles the paid-source chain and catch-all scorer from
// config. Returns nils when nothing is configured; callers treat both as
// optional. The returned closer releases the person directory, if open.
func buildEnrichment(cfg *config.Config) (*enrich.Chain, *validator.CatchAllScorer, func(), error) {
	scorer := &validator.CatchAllScorer{}
	closer := func() {}

	var adapters []enrich.Adapter
	if cfg.Enrichment.PersonDBPath != "" {
		persons, err := enrich.OpenPersonStore(cfg.Enrichment.PersonDBPath)
		if err != nil {
			return nil, nil, closer, fmt.Errorf("opening person directory: %w", err)
		}
		closer = func() { persons.Close() }
		scorer.PersonLookup = func(ctx context.Context, email string) (*validator.SocialMatch, error) {
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

	if len(adapters) == 0 {
		return nil, scorer, closer, nil
	}
	return enrich.NewChain(adapters...), scorer, closer, nil
}
