package store

import (
	"context"
	"errors"
	"fmt"
	"strconv"
	"strings"
	"time"

	"github.com/kadenwood/kadenverify/internal/models"
)

// ErrNotFound is returned by Lookup when no row exists for the email.
var ErrNotFound = errors.New("store: email not found")

// DefaultUpsertChunk is the transaction size for batch writes.
const DefaultUpsertChunk = 500

// Columns is the verified_emails schema in declaration order. Every backend
// persists exactly this shape.
var Columns = []string{
	"email", "normalized", "reachability",
	"is_deliverable", "is_catch_all", "is_disposable", "is_role", "is_free",
	"mx_host", "smtp_code", "smtp_message",
	"provider", "domain", "verified_at", "error",
}

// requiredColumns must exist after any migration; when absent from an old
// table they are synthesized (reachability "unknown", provider "generic",
// domain from the email, verified_at now-UTC).
var requiredColumns = []string{"email", "normalized", "reachability", "provider", "domain", "verified_at"}

// Filter narrows Count and Query operations.
type Filter struct {
	Reachability string
	Domain       string
	IsCatchAll   *bool
	IsDisposable *bool
}

// QuerySpec is a generic row query: projected columns, filter, order and
// paging. An empty Select means all columns.
type QuerySpec struct {
	Select  []string
	Filter  Filter
	OrderBy string
	Desc    bool
	Limit   int
	Offset  int
}

// DomainCount is one row of the top-domains tally.
type DomainCount struct {
	Domain string `json:"domain"`
	Count  int64  `json:"count"`
}

// Stats summarizes the verified store for /stats and the CLI.
type Stats struct {
	Total           int64            `json:"total"`
	ByReachability  map[string]int64 `json:"by_reachability"`
	CatchAllCount   int64            `json:"catch_all_count"`
	DisposableCount int64            `json:"disposable_count"`
	TopDomains      []DomainCount    `json:"top_domains"`
}

// Row is one generic query result keyed by column name.
type Row map[string]interface{}

// Store persists verification results. The tiered engine is written against
// this interface and must not care which backend is active.
type Store interface {
	Lookup(ctx context.Context, email string) (*models.VerificationResult, error)
	Upsert(ctx context.Context, result *models.VerificationResult) error
	UpsertBatch(ctx context.Context, results []*models.VerificationResult, chunk int) (int, error)
	Count(ctx context.Context, f Filter) (int64, error)
	Query(ctx context.Context, spec QuerySpec) ([]Row, error)
	Stats(ctx context.Context) (*Stats, error)
	Ping(ctx context.Context) error
	Close() error
}

// Options selects and configures a backend.
type Options struct {
	Backend string // embedded | postgres | redis | rest

	EmbeddedPath string

	PostgresURL string

	RedisURL string

	RestURL     string
	RestKey     string
	RestTable   string
	RestTimeout time.Duration
}

// Open builds the configured backend. Unknown backends are an error rather
// than a silent fallback.
func Open(ctx context.Context, opts Options) (Store, error) {
	switch strings.ToLower(strings.TrimSpace(opts.Backend)) {
	case "", "embedded":
		return OpenEmbedded(opts.EmbeddedPath)
	case "postgres":
		return OpenPostgres(ctx, opts.PostgresURL)
	case "redis":
		return OpenRedis(ctx, opts.RedisURL)
	case "rest":
		return OpenRest(ctx, opts.RestURL, opts.RestKey, opts.RestTable, opts.RestTimeout)
	default:
		return nil, fmt.Errorf("store: unknown backend %q", opts.Backend)
	}
}

// validSelect keeps projections inside the schema. Returns the full column
// list for an empty request.
func validSelect(sel []string) ([]string, error) {
	if len(sel) == 0 {
		return Columns, nil
	}
	known := make(map[string]bool, len(Columns))
	for _, c := range Columns {
		known[c] = true
	}
	out := make([]string, 0, len(sel))
	for _, c := range sel {
		c = strings.ToLower(strings.TrimSpace(c))
		if !known[c] {
			return nil, fmt.Errorf("store: unknown column %q", c)
		}
		out = append(out, c)
	}
	return out, nil
}

func validOrder(col string) (string, error) {
	if col == "" {
		return "verified_at", nil
	}
	cols, err := validSelect([]string{col})
	if err != nil {
		return "", err
	}
	return cols[0], nil
}

// ParseTime reads a persisted verified_at. Backends may hand back naive
// instants (no zone); those are pinned to UTC before any TTL comparison.
func ParseTime(s string) time.Time {
	s = strings.TrimSpace(s)
	if s == "" {
		return time.Time{}
	}
	for _, layout := range []string{time.RFC3339Nano, time.RFC3339} {
		if t, err := time.Parse(layout, s); err == nil {
			return t.UTC()
		}
	}
	for _, layout := range []string{
		"2006-01-02T15:04:05.999999999",
		"2006-01-02T15:04:05",
		"2006-01-02 15:04:05.999999999",
		"2006-01-02 15:04:05",
	} {
		if t, err := time.ParseInLocation(layout, s, time.UTC); err == nil {
			return t
		}
	}
	return time.Time{}
}

// FormatTime writes verified_at the way every backend stores it.
func FormatTime(t time.Time) string {
	return t.UTC().Format(time.RFC3339)
}

// ResultFromRow rebuilds a VerificationResult from a generic query row,
// synthesizing the usual defaults for columns an old table never had. Rows
// without an email yield nil. Value types vary by backend (sqlite hands back
// int64, PostgREST hands back JSON floats and bools), so coercion is loose.
func ResultFromRow(row Row) *models.VerificationResult {
	email := strings.TrimSpace(rowString(row["email"]))
	if email == "" {
		return nil
	}

	r := &models.VerificationResult{
		Email:         email,
		Normalized:    rowString(row["normalized"]),
		Reachability:  models.Reachability(rowString(row["reachability"])),
		IsDeliverable: rowBoolPtr(row["is_deliverable"]),
		IsCatchAll:    rowBoolPtr(row["is_catch_all"]),
		IsDisposable:  rowBool(row["is_disposable"]),
		IsRole:        rowBool(row["is_role"]),
		IsFree:        rowBool(row["is_free"]),
		MxHost:        rowString(row["mx_host"]),
		SmtpCode:      rowInt(row["smtp_code"]),
		SmtpMessage:   rowString(row["smtp_message"]),
		Provider:      models.Provider(rowString(row["provider"])),
		Domain:        rowString(row["domain"]),
		Error:         rowString(row["error"]),
	}
	if r.Normalized == "" {
		r.Normalized = normalizeEmailKey(email)
	}
	if r.Reachability == "" {
		r.Reachability = models.ReachabilityUnknown
	}
	if r.Provider == "" {
		r.Provider = models.ProviderGeneric
	}
	if r.Domain == "" {
		r.Domain = domainOf(r.Normalized)
	}
	if t, ok := row["verified_at"].(time.Time); ok {
		r.VerifiedAt = t.UTC()
	} else {
		r.VerifiedAt = ParseTime(rowString(row["verified_at"]))
	}
	if r.VerifiedAt.IsZero() {
		r.VerifiedAt = time.Now().UTC()
	}
	return r
}

func rowString(v interface{}) string {
	switch x := v.(type) {
	case nil:
		return ""
	case string:
		return x
	case []byte:
		return string(x)
	case time.Time:
		return FormatTime(x)
	default:
		return fmt.Sprintf("%v", x)
	}
}

func rowInt(v interface{}) int {
	switch x := v.(type) {
	case int64:
		return int(x)
	case int:
		return x
	case float64:
		return int(x)
	case string:
		n, _ := strconv.Atoi(x)
		return n
	default:
		return 0
	}
}

func rowBool(v interface{}) bool {
	b := rowBoolPtr(v)
	return b != nil && *b
}

func rowBoolPtr(v interface{}) *bool {
	switch x := v.(type) {
	case bool:
		return models.Bool(x)
	case int64:
		return models.Bool(x != 0)
	case int:
		return models.Bool(x != 0)
	case float64:
		return models.Bool(x != 0)
	case string:
		if b, err := strconv.ParseBool(x); err == nil {
			return models.Bool(b)
		}
		return nil
	default:
		return nil
	}
}

// normalizeEmailKey is the canonical row key.
func normalizeEmailKey(email string) string {
	return strings.ToLower(strings.TrimSpace(email))
}

// domainOf extracts the domain half for synthesized columns.
func domainOf(email string) string {
	if i := strings.LastIndex(email, "@"); i >= 0 {
		return email[i+1:]
	}
	return ""
}
