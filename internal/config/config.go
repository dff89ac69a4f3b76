// Package config loads runtime settings from an optional YAML file, then a
// .env file, then KADENVERIFY_* environment variables. Later sources win,
// so a container can override any file setting without editing it.
package config

import (
	"fmt"
	"os"
	"strconv"
	"strings"
	"time"

	"github.com/joho/godotenv"
	"gopkg.in/yaml.v3"
)

const envPrefix = "KADENVERIFY_"

// Config holds all settings for the server and CLI.
type Config struct {
	APIKey     string `yaml:"api_key"`
	ListenAddr string `yaml:"listen_addr"`
	LogLevel   string `yaml:"log_level"`

	SMTP       SMTPConfig       `yaml:"smtp"`
	Verify     VerifyConfig     `yaml:"verify"`
	Cache      CacheConfig      `yaml:"cache"`
	RateLimit  RateLimitConfig  `yaml:"rate_limit"`
	Readiness  ReadinessConfig  `yaml:"readiness"`
	Enrichment EnrichmentConfig `yaml:"enrichment"`
	Proxy      ProxyConfig      `yaml:"proxy"`
}

// SMTPConfig shapes the outbound probe dialogue.
type SMTPConfig struct {
	HeloDomain  string `yaml:"helo_domain"`
	FromAddress string `yaml:"from_address"`
	Concurrency int    `yaml:"concurrency"`
}

// VerifyConfig tunes the tier ladder and the finder.
type VerifyConfig struct {
	Tiered             bool    `yaml:"tiered"`
	FastTierThreshold  float64 `yaml:"fast_tier_threshold"`
	FilterRoleAccounts bool    `yaml:"filter_role_accounts"`
	FinderConcurrency  int     `yaml:"finder_concurrency"`
	BackfillQueueSize  int     `yaml:"backfill_queue_size"`
	BackfillWorkers    int     `yaml:"backfill_workers"`
}

// CacheConfig selects and parameterizes the result store backend.
type CacheConfig struct {
	Backend            string `yaml:"backend"`
	EmbeddedPath       string `yaml:"embedded_path"`
	PostgresURL        string `yaml:"postgres_url"`
	RedisURL           string `yaml:"redis_url"`
	RestURL            string `yaml:"rest_url"`
	RestKey            string `yaml:"rest_key"`
	RestTable          string `yaml:"rest_table"`
	RestTimeoutSeconds int    `yaml:"rest_timeout_seconds"`
	TTLSeconds         int    `yaml:"ttl_seconds"`
}

// RateLimitConfig throttles the verification endpoints. The redis backend
// shares Cache.RedisURL.
type RateLimitConfig struct {
	Backend       string `yaml:"backend"`
	WindowSeconds int    `yaml:"window_seconds"`
	Max           int    `yaml:"max"`
}

// ReadinessConfig names the upstreams the /ready endpoint probes.
type ReadinessConfig struct {
	DNSHost        string  `yaml:"dns_host"`
	SMTPHost       string  `yaml:"smtp_host"`
	SMTPPort       int     `yaml:"smtp_port"`
	TimeoutSeconds float64 `yaml:"timeout_seconds"`
}

// EnrichmentConfig holds paid-source credentials. An empty key disables
// that adapter; Enabled false disables the whole chain.
type EnrichmentConfig struct {
	Enabled       bool   `yaml:"enabled"`
	ExaAPIKey     string `yaml:"exa_api_key"`
	ProspeoAPIKey string `yaml:"prospeo_api_key"`
	ApolloAPIKey  string `yaml:"apollo_api_key"`
	PersonDBPath  string `yaml:"person_db_path"`
}

// ProxyConfig routes SMTP dials through rotating SOCKS proxies.
type ProxyConfig struct {
	Enabled     bool     `yaml:"enabled"`
	List        []string `yaml:"list"`
	Concurrency int      `yaml:"concurrency"`
}

// Default returns the configuration used when no file and no environment
// are present.
func Default() *Config {
	return &Config{
		ListenAddr: ":8080",
		LogLevel:   "info",
		SMTP: SMTPConfig{
			HeloDomain:  "verify.kadenwood.com",
			FromAddress: "verify@kadenwood.com",
			Concurrency: 5,
		},
		Verify: VerifyConfig{
			Tiered:             true,
			FastTierThreshold:  0.85,
			FilterRoleAccounts: true,
			FinderConcurrency:  10,
			BackfillQueueSize:  500,
			BackfillWorkers:    8,
		},
		Cache: CacheConfig{
			Backend:            "embedded",
			EmbeddedPath:       "./kadenverify.db",
			RestTable:          "verified_emails",
			RestTimeoutSeconds: 5,
			TTLSeconds:         30 * 24 * 60 * 60,
		},
		RateLimit: RateLimitConfig{
			Backend:       "memory",
			WindowSeconds: 60,
			Max:           100,
		},
		Readiness: ReadinessConfig{
			DNSHost:        "gmail-smtp-in.l.google.com",
			SMTPHost:       "gmail-smtp-in.l.google.com",
			SMTPPort:       25,
			TimeoutSeconds: 3,
		},
	}
}

// Load builds the effective configuration. path may be "" to skip the YAML
// layer; a missing .env file is not an error.
func Load(path string) (*Config, error) {
	cfg := Default()

	if path != "" {
		data, err := os.ReadFile(path)
		if err != nil {
			return nil, fmt.Errorf("config: read %s: %w", path, err)
		}
		if err := yaml.Unmarshal(data, cfg); err != nil {
			return nil, fmt.Errorf("config: parse %s: %w", path, err)
		}
	}

	_ = godotenv.Load()
	applyEnv(cfg)

	if err := cfg.validate(); err != nil {
		return nil, err
	}
	return cfg, nil
}

func applyEnv(cfg *Config) {
	str := func(key string, dst *string) {
		if v := os.Getenv(envPrefix + key); v != "" {
			*dst = v
		}
	}
	num := func(key string, dst *int) {
		if v := os.Getenv(envPrefix + key); v != "" {
			if n, err := strconv.Atoi(v); err == nil {
				*dst = n
			}
		}
	}
	flt := func(key string, dst *float64) {
		if v := os.Getenv(envPrefix + key); v != "" {
			if f, err := strconv.ParseFloat(v, 64); err == nil {
				*dst = f
			}
		}
	}
	flag := func(key string, dst *bool) {
		if v := os.Getenv(envPrefix + key); v != "" {
			if b, err := strconv.ParseBool(v); err == nil {
				*dst = b
			}
		}
	}

	str("API_KEY", &cfg.APIKey)
	str("LISTEN_ADDR", &cfg.ListenAddr)
	str("LOG_LEVEL", &cfg.LogLevel)

	str("HELO_DOMAIN", &cfg.SMTP.HeloDomain)
	str("FROM_ADDRESS", &cfg.SMTP.FromAddress)
	num("CONCURRENCY", &cfg.SMTP.Concurrency)

	flag("TIERED", &cfg.Verify.Tiered)
	flt("FAST_TIER_THRESHOLD", &cfg.Verify.FastTierThreshold)
	flag("FILTER_ROLE_ACCOUNTS", &cfg.Verify.FilterRoleAccounts)
	num("FINDER_CONCURRENCY", &cfg.Verify.FinderConcurrency)
	num("BACKFILL_QUEUE_SIZE", &cfg.Verify.BackfillQueueSize)
	num("BACKFILL_WORKERS", &cfg.Verify.BackfillWorkers)

	str("CACHE_BACKEND", &cfg.Cache.Backend)
	str("EMBEDDED_PATH", &cfg.Cache.EmbeddedPath)
	str("POSTGRES_URL", &cfg.Cache.PostgresURL)
	str("REDIS_URL", &cfg.Cache.RedisURL)
	str("REST_URL", &cfg.Cache.RestURL)
	str("REST_KEY", &cfg.Cache.RestKey)
	str("REST_TABLE", &cfg.Cache.RestTable)
	num("REST_TIMEOUT_SECONDS", &cfg.Cache.RestTimeoutSeconds)
	num("CACHE_TTL_SECONDS", &cfg.Cache.TTLSeconds)

	str("RATE_LIMIT_BACKEND", &cfg.RateLimit.Backend)
	num("RATE_LIMIT_WINDOW", &cfg.RateLimit.WindowSeconds)
	num("RATE_LIMIT_MAX", &cfg.RateLimit.Max)

	str("READINESS_DNS_HOST", &cfg.Readiness.DNSHost)
	str("READINESS_SMTP_HOST", &cfg.Readiness.SMTPHost)
	num("READINESS_SMTP_PORT", &cfg.Readiness.SMTPPort)
	flt("READINESS_TIMEOUT_SECONDS", &cfg.Readiness.TimeoutSeconds)

	flag("ENRICHMENT_ENABLED", &cfg.Enrichment.Enabled)
	str("EXA_API_KEY", &cfg.Enrichment.ExaAPIKey)
	str("PROSPEO_API_KEY", &cfg.Enrichment.ProspeoAPIKey)
	str("APOLLO_API_KEY", &cfg.Enrichment.ApolloAPIKey)
	str("PERSON_DB_PATH", &cfg.Enrichment.PersonDBPath)

	if v := os.Getenv(envPrefix + "SMTP_PROXY_LIST"); v != "" {
		cfg.Proxy.List = splitList(v)
	}
	flag("SMTP_PROXY_ENABLED", &cfg.Proxy.Enabled)
	num("PROXY_CONCURRENCY", &cfg.Proxy.Concurrency)
}

func splitList(v string) []string {
	parts := strings.Split(v, ",")
	out := make([]string, 0, len(parts))
	for _, p := range parts {
		if p = strings.TrimSpace(p); p != "" {
			out = append(out, p)
		}
	}
	return out
}

func (c *Config) validate() error {
	switch c.Cache.Backend {
	case "embedded", "postgres", "redis", "rest":
	default:
		return fmt.Errorf("config: unknown cache backend %q", c.Cache.Backend)
	}
	switch c.Cache.Backend {
	case "postgres":
		if c.Cache.PostgresURL == "" {
			return fmt.Errorf("config: postgres backend needs a postgres URL")
		}
	case "redis":
		if c.Cache.RedisURL == "" {
			return fmt.Errorf("config: redis backend needs a redis URL")
		}
	case "rest":
		if c.Cache.RestURL == "" {
			return fmt.Errorf("config: rest backend needs a rest URL")
		}
	}

	switch c.RateLimit.Backend {
	case "memory":
	case "redis":
		if c.Cache.RedisURL == "" {
			return fmt.Errorf("config: redis rate limit needs a redis URL")
		}
	default:
		return fmt.Errorf("config: unknown rate limit backend %q", c.RateLimit.Backend)
	}

	if c.Verify.FastTierThreshold <= 0 || c.Verify.FastTierThreshold > 1 {
		return fmt.Errorf("config: fast tier threshold %.2f out of (0,1]", c.Verify.FastTierThreshold)
	}
	return nil
}

// CacheTTL returns the result freshness window.
func (c *Config) CacheTTL() time.Duration {
	return time.Duration(c.Cache.TTLSeconds) * time.Second
}

// RateLimitWindow returns the throttling window.
func (c *Config) RateLimitWindow() time.Duration {
	return time.Duration(c.RateLimit.WindowSeconds) * time.Second
}

// RestTimeout returns the per-request deadline for the rest store backend.
func (c *Config) RestTimeout() time.Duration {
	return time.Duration(c.Cache.RestTimeoutSeconds) * time.Second
}

// ReadinessTimeout returns the per-probe deadline for /ready checks.
func (c *Config) ReadinessTimeout() time.Duration {
	return time.Duration(c.Readiness.TimeoutSeconds * float64(time.Second))
}
