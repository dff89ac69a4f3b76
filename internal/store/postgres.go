package store

import (
	"context"
	"errors"
	"fmt"
	"strings"
	"time"

	"github.com/jackc/pgx/v5"
	"github.com/jackc/pgx/v5/pgxpool"

	"github.com/kadenwood/kadenverify/internal/models"
	"github.com/kadenwood/kadenverify/internal/pkg/logger"
)

// Postgres is the direct-connection sibling of the REST backend. Both share
// the verified_emails logical schema.
type Postgres struct {
	pool *pgxpool.Pool
}

const pgCreateTable = `
CREATE TABLE IF NOT EXISTS verified_emails (
	email TEXT PRIMARY KEY,
	normalized TEXT NOT NULL DEFAULT '',
	reachability TEXT NOT NULL DEFAULT 'unknown',
	is_deliverable BOOLEAN,
	is_catch_all BOOLEAN,
	is_disposable BOOLEAN NOT NULL DEFAULT FALSE,
	is_role BOOLEAN NOT NULL DEFAULT FALSE,
	is_free BOOLEAN NOT NULL DEFAULT FALSE,
	mx_host TEXT NOT NULL DEFAULT '',
	smtp_code INTEGER NOT NULL DEFAULT 0,
	smtp_message TEXT NOT NULL DEFAULT '',
	provider TEXT NOT NULL DEFAULT 'generic',
	domain TEXT NOT NULL DEFAULT '',
	verified_at TIMESTAMPTZ NOT NULL,
	error TEXT NOT NULL DEFAULT ''
);`

var pgCreateIndexes = []string{
	"CREATE INDEX IF NOT EXISTS idx_ve_reachability ON verified_emails(reachability);",
	"CREATE INDEX IF NOT EXISTS idx_ve_domain ON verified_emails(domain);",
	"CREATE INDEX IF NOT EXISTS idx_ve_verified_at ON verified_emails(verified_at);",
}

const pgUpsert = `
INSERT INTO verified_emails (
	email, normalized, reachability, is_deliverable, is_catch_all,
	is_disposable, is_role, is_free, mx_host, smtp_code,
	smtp_message, provider, domain, verified_at, error
) VALUES ($1, $2, $3, $4, $5, $6, $7, $8, $9, $10, $11, $12, $13, $14, $15)
ON CONFLICT (email) DO UPDATE SET
	normalized = EXCLUDED.normalized,
	reachability = EXCLUDED.reachability,
	is_deliverable = EXCLUDED.is_deliverable,
	is_catch_all = EXCLUDED.is_catch_all,
	is_disposable = EXCLUDED.is_disposable,
	is_role = EXCLUDED.is_role,
	is_free = EXCLUDED.is_free,
	mx_host = EXCLUDED.mx_host,
	smtp_code = EXCLUDED.smtp_code,
	smtp_message = EXCLUDED.smtp_message,
	provider = EXCLUDED.provider,
	domain = EXCLUDED.domain,
	verified_at = EXCLUDED.verified_at,
	error = EXCLUDED.error;`

// OpenPostgres connects, pings and runs inline migrations.
func OpenPostgres(ctx context.Context, connString string) (*Postgres, error) {
	if connString == "" {
		return nil, errors.New("store: postgres backend needs a connection string")
	}

	ctx, cancel := context.WithTimeout(ctx, 10*time.Second)
	defer cancel()

	pool, err := pgxpool.New(ctx, connString)
	if err != nil {
		return nil, fmt.Errorf("store: unable to connect to postgres: %w", err)
	}
	if err := pool.Ping(ctx); err != nil {
		pool.Close()
		return nil, fmt.Errorf("store: postgres ping failed: %w", err)
	}

	if _, err := pool.Exec(ctx, pgCreateTable); err != nil {
		pool.Close()
		return nil, fmt.Errorf("store: migration failed (verified_emails): %w", err)
	}
	for _, stmt := range pgCreateIndexes {
		if _, err := pool.Exec(ctx, stmt); err != nil {
			pool.Close()
			return nil, fmt.Errorf("store: migration failed (index): %w", err)
		}
	}

	logger.Info("postgres store ready")
	return &Postgres{pool: pool}, nil
}

func pgArgs(r *models.VerificationResult) []interface{} {
	return []interface{}{
		normalizeEmailKey(r.Email),
		r.Normalized,
		string(r.Reachability),
		r.IsDeliverable,
		r.IsCatchAll,
		r.IsDisposable,
		r.IsRole,
		r.IsFree,
		r.MxHost,
		r.SmtpCode,
		r.SmtpMessage,
		string(r.Provider),
		r.Domain,
		r.VerifiedAt.UTC(),
		r.Error,
	}
}

func (s *Postgres) Lookup(ctx context.Context, email string) (*models.VerificationResult, error) {
	var (
		r          models.VerificationResult
		verifiedAt time.Time
	)
	err := s.pool.QueryRow(ctx,
		"SELECT "+strings.Join(Columns, ", ")+" FROM verified_emails WHERE email = $1;",
		normalizeEmailKey(email),
	).Scan(&r.Email, &r.Normalized, (*string)(&r.Reachability),
		&r.IsDeliverable, &r.IsCatchAll, &r.IsDisposable, &r.IsRole, &r.IsFree,
		&r.MxHost, &r.SmtpCode, &r.SmtpMessage,
		(*string)(&r.Provider), &r.Domain, &verifiedAt, &r.Error)
	if errors.Is(err, pgx.ErrNoRows) {
		return nil, ErrNotFound
	}
	if err != nil {
		return nil, fmt.Errorf("store: lookup: %w", err)
	}
	r.VerifiedAt = verifiedAt.UTC()
	return &r, nil
}

func (s *Postgres) Upsert(ctx context.Context, result *models.VerificationResult) error {
	if _, err := s.pool.Exec(ctx, pgUpsert, pgArgs(result)...); err != nil {
		return fmt.Errorf("store: upsert: %w", err)
	}
	return nil
}

func (s *Postgres) UpsertBatch(ctx context.Context, results []*models.VerificationResult, chunk int) (int, error) {
	if len(results) == 0 {
		return 0, nil
	}
	if chunk <= 0 {
		chunk = DefaultUpsertChunk
	}

	written := 0
	for start := 0; start < len(results); start += chunk {
		end := start + chunk
		if end > len(results) {
			end = len(results)
		}

		b := &pgx.Batch{}
		for _, r := range results[start:end] {
			b.Queue(pgUpsert, pgArgs(r)...)
		}
		br := s.pool.SendBatch(ctx, b)
		for range results[start:end] {
			if _, err := br.Exec(); err != nil {
				br.Close()
				return written, fmt.Errorf("store: batch upsert: %w", err)
			}
		}
		if err := br.Close(); err != nil {
			return written, fmt.Errorf("store: batch close: %w", err)
		}
		written += end - start
	}
	return written, nil
}

func (s *Postgres) Count(ctx context.Context, f Filter) (int64, error) {
	where, args := pgWhere(f)
	var n int64
	if err := s.pool.QueryRow(ctx, "SELECT COUNT(*) FROM verified_emails"+where+";", args...).Scan(&n); err != nil {
		return 0, fmt.Errorf("store: count: %w", err)
	}
	return n, nil
}

func (s *Postgres) Query(ctx context.Context, spec QuerySpec) ([]Row, error) {
	cols, err := validSelect(spec.Select)
	if err != nil {
		return nil, err
	}
	orderCol, err := validOrder(spec.OrderBy)
	if err != nil {
		return nil, err
	}

	q := "SELECT " + strings.Join(cols, ", ") + " FROM verified_emails"
	where, args := pgWhere(spec.Filter)
	q += where
	q += " ORDER BY " + orderCol
	if spec.Desc {
		q += " DESC"
	}
	if spec.Limit > 0 {
		q += fmt.Sprintf(" LIMIT %d", spec.Limit)
	}
	if spec.Offset > 0 {
		q += fmt.Sprintf(" OFFSET %d", spec.Offset)
	}

	rows, err := s.pool.Query(ctx, q+";", args...)
	if err != nil {
		return nil, fmt.Errorf("store: query: %w", err)
	}
	defer rows.Close()

	var out []Row
	for rows.Next() {
		vals, err := rows.Values()
		if err != nil {
			return nil, err
		}
		row := make(Row, len(cols))
		for i, c := range cols {
			row[c] = vals[i]
		}
		out = append(out, row)
	}
	return out, rows.Err()
}

func (s *Postgres) Stats(ctx context.Context) (*Stats, error) {
	stats := &Stats{ByReachability: map[string]int64{}}

	if err := s.pool.QueryRow(ctx, "SELECT COUNT(*) FROM verified_emails;").Scan(&stats.Total); err != nil {
		return nil, fmt.Errorf("store: stats total: %w", err)
	}

	rows, err := s.pool.Query(ctx,
		"SELECT reachability, COUNT(*) FROM verified_emails GROUP BY reachability;")
	if err != nil {
		return nil, fmt.Errorf("store: stats by reachability: %w", err)
	}
	for rows.Next() {
		var reach string
		var n int64
		if err := rows.Scan(&reach, &n); err != nil {
			rows.Close()
			return nil, err
		}
		stats.ByReachability[reach] = n
	}
	rows.Close()
	if err := rows.Err(); err != nil {
		return nil, err
	}

	if err := s.pool.QueryRow(ctx,
		"SELECT COUNT(*) FROM verified_emails WHERE is_catch_all = TRUE;").Scan(&stats.CatchAllCount); err != nil {
		return nil, fmt.Errorf("store: stats catch_all: %w", err)
	}
	if err := s.pool.QueryRow(ctx,
		"SELECT COUNT(*) FROM verified_emails WHERE is_disposable = TRUE;").Scan(&stats.DisposableCount); err != nil {
		return nil, fmt.Errorf("store: stats disposable: %w", err)
	}

	rows, err = s.pool.Query(ctx,
		"SELECT domain, COUNT(*) AS cnt FROM verified_emails GROUP BY domain ORDER BY cnt DESC LIMIT 20;")
	if err != nil {
		return nil, fmt.Errorf("store: stats top domains: %w", err)
	}
	defer rows.Close()
	for rows.Next() {
		var dc DomainCount
		if err := rows.Scan(&dc.Domain, &dc.Count); err != nil {
			return nil, err
		}
		stats.TopDomains = append(stats.TopDomains, dc)
	}
	return stats, rows.Err()
}

func (s *Postgres) Ping(ctx context.Context) error {
	return s.pool.Ping(ctx)
}

func (s *Postgres) Close() error {
	s.pool.Close()
	return nil
}

func pgWhere(f Filter) (string, []interface{}) {
	var clauses []string
	var args []interface{}
	add := func(clause string, val interface{}) {
		args = append(args, val)
		clauses = append(clauses, fmt.Sprintf(clause, len(args)))
	}

	if f.Reachability != "" {
		add("reachability = $%d", f.Reachability)
	}
	if f.Domain != "" {
		add("domain = $%d", strings.ToLower(f.Domain))
	}
	if f.IsCatchAll != nil {
		add("is_catch_all = $%d", *f.IsCatchAll)
	}
	if f.IsDisposable != nil {
		add("is_disposable = $%d", *f.IsDisposable)
	}
	if len(clauses) == 0 {
		return "", nil
	}
	return " WHERE " + strings.Join(clauses, " AND "), args
}
