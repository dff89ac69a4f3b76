package store

import (
	"context"
	"database/sql"
	"fmt"
	"os"
	"path/filepath"
	"strings"
	"sync"
	"time"

	_ "modernc.org/sqlite"

	"github.com/kadenwood/kadenverify/internal/models"
	"github.com/kadenwood/kadenverify/internal/pkg/logger"
)

// checkpointEvery is how many row writes pass between WAL checkpoints.
const checkpointEvery = 100

const createTableSQL = `
CREATE TABLE IF NOT EXISTS verified_emails (
	email TEXT PRIMARY KEY,
	normalized TEXT,
	reachability TEXT,
	is_deliverable INTEGER,
	is_catch_all INTEGER,
	is_disposable INTEGER,
	is_role INTEGER,
	is_free INTEGER,
	mx_host TEXT,
	smtp_code INTEGER,
	smtp_message TEXT,
	provider TEXT,
	domain TEXT,
	verified_at TEXT,
	error TEXT
);`

var createIndexSQL = []string{
	"CREATE INDEX IF NOT EXISTS idx_ve_reachability ON verified_emails(reachability);",
	"CREATE INDEX IF NOT EXISTS idx_ve_domain ON verified_emails(domain);",
	"CREATE INDEX IF NOT EXISTS idx_ve_verified_at ON verified_emails(verified_at);",
}

const upsertSQL = `
INSERT OR REPLACE INTO verified_emails (
	email, normalized, reachability, is_deliverable, is_catch_all,
	is_disposable, is_role, is_free, mx_host, smtp_code,
	smtp_message, provider, domain, verified_at, error
) VALUES (?, ?, ?, ?, ?, ?, ?, ?, ?, ?, ?, ?, ?, ?, ?);`

// Embedded is the default single-file backend. SQLite tolerates exactly one
// writer, so all mutations serialize through mu; reads go straight to the
// pool.
type Embedded struct {
	db   *sql.DB
	path string

	mu          sync.Mutex
	writesSince int
}

// OpenEmbedded opens (or creates) the database file, switches it to WAL and
// reconciles any schema drift left behind by older builds.
func OpenEmbedded(path string) (*Embedded, error) {
	if path == "" {
		path = "verified.db"
	}
	if dir := filepath.Dir(path); dir != "." && dir != "" {
		if err := os.MkdirAll(dir, 0o755); err != nil {
			return nil, fmt.Errorf("store: creating %s: %w", dir, err)
		}
	}

	db, err := sql.Open("sqlite", path)
	if err != nil {
		return nil, fmt.Errorf("store: opening %s: %w", path, err)
	}
	// One connection keeps the single-writer discipline honest.
	db.SetMaxOpenConns(1)

	for _, pragma := range []string{
		"PRAGMA journal_mode=WAL;",
		"PRAGMA busy_timeout=5000;",
		"PRAGMA synchronous=NORMAL;",
	} {
		if _, err := db.Exec(pragma); err != nil {
			db.Close()
			return nil, fmt.Errorf("store: %s: %w", strings.TrimSuffix(pragma, ";"), err)
		}
	}

	s := &Embedded{db: db, path: path}
	if err := s.migrate(); err != nil {
		db.Close()
		return nil, err
	}
	logger.Info("embedded store ready", "path", path)
	return s, nil
}

// migrate creates the table when absent, and when an older table is present
// with a different shape, rebuilds it: keep the intersection of declared and
// present columns, synthesize the required rest.
func (s *Embedded) migrate() error {
	present, err := s.tableColumns("verified_emails")
	if err != nil {
		return err
	}

	if len(present) == 0 {
		if _, err := s.db.Exec(createTableSQL); err != nil {
			return fmt.Errorf("store: create table: %w", err)
		}
		return s.createIndexes()
	}

	if columnsMatch(present, Columns) {
		return s.createIndexes()
	}

	presentSet := make(map[string]bool, len(present))
	for _, c := range present {
		presentSet[c] = true
	}

	// A table without an email column cannot be carried over; park it and
	// start clean.
	if !presentSet["email"] {
		logger.Warn("verified_emails has no email column, preserving as backup", "path", s.path)
		if _, err := s.db.Exec("ALTER TABLE verified_emails RENAME TO verified_emails_backup;"); err != nil {
			return fmt.Errorf("store: backing up unmigratable table: %w", err)
		}
		if _, err := s.db.Exec(createTableSQL); err != nil {
			return fmt.Errorf("store: create table: %w", err)
		}
		return s.createIndexes()
	}

	logger.Warn("verified_emails schema drift detected, rebuilding",
		"present", strings.Join(present, ","))

	exprs := make([]string, 0, len(Columns))
	for _, col := range Columns {
		if presentSet[col] {
			exprs = append(exprs, col)
			continue
		}
		exprs = append(exprs, syntheticExpr(col))
	}

	tx, err := s.db.Begin()
	if err != nil {
		return fmt.Errorf("store: migration begin: %w", err)
	}
	defer tx.Rollback()

	stmts := []string{
		strings.Replace(createTableSQL, "verified_emails", "verified_emails_new", 1),
		fmt.Sprintf("INSERT INTO verified_emails_new (%s) SELECT %s FROM verified_emails;",
			strings.Join(Columns, ", "), strings.Join(exprs, ", ")),
		"DROP TABLE verified_emails;",
		"ALTER TABLE verified_emails_new RENAME TO verified_emails;",
	}
	for _, stmt := range stmts {
		if _, err := tx.Exec(stmt); err != nil {
			return fmt.Errorf("store: migration: %w", err)
		}
	}
	if err := tx.Commit(); err != nil {
		return fmt.Errorf("store: migration commit: %w", err)
	}
	return s.createIndexes()
}

// syntheticExpr produces the SQL default for a column missing in an old
// table.
func syntheticExpr(col string) string {
	switch col {
	case "normalized":
		return "lower(email) AS normalized"
	case "reachability":
		return "'unknown' AS reachability"
	case "provider":
		return "'generic' AS provider"
	case "domain":
		return "substr(email, instr(email, '@') + 1) AS domain"
	case "verified_at":
		return fmt.Sprintf("'%s' AS verified_at", FormatTime(time.Now()))
	case "smtp_code":
		return "0 AS smtp_code"
	case "is_disposable", "is_role", "is_free":
		return "0 AS " + col
	case "is_deliverable", "is_catch_all":
		return "NULL AS " + col
	default:
		return "'' AS " + col
	}
}

func (s *Embedded) tableColumns(table string) ([]string, error) {
	rows, err := s.db.Query(fmt.Sprintf("PRAGMA table_info(%s);", table))
	if err != nil {
		return nil, fmt.Errorf("store: table_info: %w", err)
	}
	defer rows.Close()

	var cols []string
	for rows.Next() {
		var (
			cid        int
			name, typ  string
			notNull    int
			dfltValue  sql.NullString
			primaryKey int
		)
		if err := rows.Scan(&cid, &name, &typ, &notNull, &dfltValue, &primaryKey); err != nil {
			return nil, err
		}
		cols = append(cols, strings.ToLower(name))
	}
	return cols, rows.Err()
}

func columnsMatch(present, declared []string) bool {
	if len(present) != len(declared) {
		return false
	}
	set := make(map[string]bool, len(present))
	for _, c := range present {
		set[c] = true
	}
	for _, c := range declared {
		if !set[c] {
			return false
		}
	}
	return true
}

func (s *Embedded) createIndexes() error {
	for _, stmt := range createIndexSQL {
		if _, err := s.db.Exec(stmt); err != nil {
			return fmt.Errorf("store: create index: %w", err)
		}
	}
	return nil
}

func (s *Embedded) Lookup(ctx context.Context, email string) (*models.VerificationResult, error) {
	row := s.db.QueryRowContext(ctx,
		"SELECT "+strings.Join(Columns, ", ")+" FROM verified_emails WHERE email = ?;",
		normalizeEmailKey(email))
	return scanResult(row)
}

func (s *Embedded) Upsert(ctx context.Context, result *models.VerificationResult) error {
	s.mu.Lock()
	defer s.mu.Unlock()

	if _, err := s.db.ExecContext(ctx, upsertSQL, resultArgs(result)...); err != nil {
		return fmt.Errorf("store: upsert: %w", err)
	}
	s.noteWrites(1)
	return nil
}

func (s *Embedded) UpsertBatch(ctx context.Context, results []*models.VerificationResult, chunk int) (int, error) {
	if len(results) == 0 {
		return 0, nil
	}
	if chunk <= 0 {
		chunk = DefaultUpsertChunk
	}

	s.mu.Lock()
	defer s.mu.Unlock()

	written := 0
	for start := 0; start < len(results); start += chunk {
		end := start + chunk
		if end > len(results) {
			end = len(results)
		}

		tx, err := s.db.BeginTx(ctx, nil)
		if err != nil {
			return written, fmt.Errorf("store: batch begin: %w", err)
		}
		for _, r := range results[start:end] {
			if _, err := tx.ExecContext(ctx, upsertSQL, resultArgs(r)...); err != nil {
				tx.Rollback()
				return written, fmt.Errorf("store: batch upsert: %w", err)
			}
		}
		if err := tx.Commit(); err != nil {
			return written, fmt.Errorf("store: batch commit: %w", err)
		}
		written += end - start
		s.noteWrites(end - start)
	}
	return written, nil
}

// noteWrites advances the checkpoint counter. Callers hold mu.
func (s *Embedded) noteWrites(n int) {
	s.writesSince += n
	if s.writesSince < checkpointEvery {
		return
	}
	s.writesSince = 0
	if _, err := s.db.Exec("PRAGMA wal_checkpoint(PASSIVE);"); err != nil {
		logger.Warn("wal checkpoint failed", "error", err.Error())
	}
}

func (s *Embedded) Count(ctx context.Context, f Filter) (int64, error) {
	where, args := sqliteWhere(f)
	var n int64
	err := s.db.QueryRowContext(ctx, "SELECT COUNT(*) FROM verified_emails"+where+";", args...).Scan(&n)
	if err != nil {
		return 0, fmt.Errorf("store: count: %w", err)
	}
	return n, nil
}

func (s *Embedded) Query(ctx context.Context, spec QuerySpec) ([]Row, error) {
	cols, err := validSelect(spec.Select)
	if err != nil {
		return nil, err
	}
	orderCol, err := validOrder(spec.OrderBy)
	if err != nil {
		return nil, err
	}

	q := "SELECT " + strings.Join(cols, ", ") + " FROM verified_emails"
	where, args := sqliteWhere(spec.Filter)
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

	rows, err := s.db.QueryContext(ctx, q+";", args...)
	if err != nil {
		return nil, fmt.Errorf("store: query: %w", err)
	}
	defer rows.Close()

	var out []Row
	for rows.Next() {
		vals := make([]interface{}, len(cols))
		ptrs := make([]interface{}, len(cols))
		for i := range vals {
			ptrs[i] = &vals[i]
		}
		if err := rows.Scan(ptrs...); err != nil {
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

func (s *Embedded) Stats(ctx context.Context) (*Stats, error) {
	stats := &Stats{ByReachability: map[string]int64{}}

	if err := s.db.QueryRowContext(ctx, "SELECT COUNT(*) FROM verified_emails;").Scan(&stats.Total); err != nil {
		return nil, fmt.Errorf("store: stats total: %w", err)
	}

	rows, err := s.db.QueryContext(ctx,
		"SELECT reachability, COUNT(*) FROM verified_emails GROUP BY reachability;")
	if err != nil {
		return nil, fmt.Errorf("store: stats by reachability: %w", err)
	}
	for rows.Next() {
		var reach sql.NullString
		var n int64
		if err := rows.Scan(&reach, &n); err != nil {
			rows.Close()
			return nil, err
		}
		stats.ByReachability[reach.String] = n
	}
	rows.Close()
	if err := rows.Err(); err != nil {
		return nil, err
	}

	if err := s.db.QueryRowContext(ctx,
		"SELECT COUNT(*) FROM verified_emails WHERE is_catch_all = 1;").Scan(&stats.CatchAllCount); err != nil {
		return nil, fmt.Errorf("store: stats catch_all: %w", err)
	}
	if err := s.db.QueryRowContext(ctx,
		"SELECT COUNT(*) FROM verified_emails WHERE is_disposable = 1;").Scan(&stats.DisposableCount); err != nil {
		return nil, fmt.Errorf("store: stats disposable: %w", err)
	}

	rows, err = s.db.QueryContext(ctx,
		"SELECT domain, COUNT(*) AS cnt FROM verified_emails GROUP BY domain ORDER BY cnt DESC LIMIT 20;")
	if err != nil {
		return nil, fmt.Errorf("store: stats top domains: %w", err)
	}
	defer rows.Close()
	for rows.Next() {
		var dc DomainCount
		var domain sql.NullString
		if err := rows.Scan(&domain, &dc.Count); err != nil {
			return nil, err
		}
		dc.Domain = domain.String
		stats.TopDomains = append(stats.TopDomains, dc)
	}
	return stats, rows.Err()
}

func (s *Embedded) Ping(ctx context.Context) error {
	return s.db.PingContext(ctx)
}

func (s *Embedded) Close() error {
	return s.db.Close()
}

func sqliteWhere(f Filter) (string, []interface{}) {
	var clauses []string
	var args []interface{}
	if f.Reachability != "" {
		clauses = append(clauses, "reachability = ?")
		args = append(args, f.Reachability)
	}
	if f.Domain != "" {
		clauses = append(clauses, "domain = ?")
		args = append(args, strings.ToLower(f.Domain))
	}
	if f.IsCatchAll != nil {
		clauses = append(clauses, "is_catch_all = ?")
		args = append(args, boolToInt(*f.IsCatchAll))
	}
	if f.IsDisposable != nil {
		clauses = append(clauses, "is_disposable = ?")
		args = append(args, boolToInt(*f.IsDisposable))
	}
	if len(clauses) == 0 {
		return "", nil
	}
	return " WHERE " + strings.Join(clauses, " AND "), args
}

func boolToInt(v bool) int {
	if v {
		return 1
	}
	return 0
}

// resultArgs flattens a result into the upsert parameter order.
func resultArgs(r *models.VerificationResult) []interface{} {
	return []interface{}{
		normalizeEmailKey(r.Email),
		r.Normalized,
		string(r.Reachability),
		nullableBool(r.IsDeliverable),
		nullableBool(r.IsCatchAll),
		boolToInt(r.IsDisposable),
		boolToInt(r.IsRole),
		boolToInt(r.IsFree),
		r.MxHost,
		r.SmtpCode,
		r.SmtpMessage,
		string(r.Provider),
		r.Domain,
		FormatTime(r.VerifiedAt),
		r.Error,
	}
}

func nullableBool(v *bool) interface{} {
	if v == nil {
		return nil
	}
	return boolToInt(*v)
}

// rowScanner lets scanResult work for both QueryRow and Rows.
type rowScanner interface {
	Scan(dest ...interface{}) error
}

// scanResult reads one row in Columns order into a VerificationResult.
func scanResult(row rowScanner) (*models.VerificationResult, error) {
	var (
		r             models.VerificationResult
		reachability  sql.NullString
		normalized    sql.NullString
		isDeliverable sql.NullBool
		isCatchAll    sql.NullBool
		isDisposable  sql.NullBool
		isRole        sql.NullBool
		isFree        sql.NullBool
		mxHost        sql.NullString
		smtpCode      sql.NullInt64
		smtpMessage   sql.NullString
		provider      sql.NullString
		domain        sql.NullString
		verifiedAt    sql.NullString
		errStr        sql.NullString
	)

	err := row.Scan(&r.Email, &normalized, &reachability,
		&isDeliverable, &isCatchAll, &isDisposable, &isRole, &isFree,
		&mxHost, &smtpCode, &smtpMessage,
		&provider, &domain, &verifiedAt, &errStr)
	if err == sql.ErrNoRows {
		return nil, ErrNotFound
	}
	if err != nil {
		return nil, fmt.Errorf("store: scan: %w", err)
	}

	r.Normalized = normalized.String
	r.Reachability = models.Reachability(reachability.String)
	if isDeliverable.Valid {
		r.IsDeliverable = models.Bool(isDeliverable.Bool)
	}
	if isCatchAll.Valid {
		r.IsCatchAll = models.Bool(isCatchAll.Bool)
	}
	r.IsDisposable = isDisposable.Valid && isDisposable.Bool
	r.IsRole = isRole.Valid && isRole.Bool
	r.IsFree = isFree.Valid && isFree.Bool
	r.MxHost = mxHost.String
	r.SmtpCode = int(smtpCode.Int64)
	r.SmtpMessage = smtpMessage.String
	r.Provider = models.Provider(provider.String)
	r.Domain = domain.String
	r.VerifiedAt = ParseTime(verifiedAt.String)
	r.Error = errStr.String
	return &r, nil
}
