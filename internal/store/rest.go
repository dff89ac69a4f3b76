package store

import (
	"bytes"
	"context"
	"encoding/json"
	"errors"
	"fmt"
	"io"
	"net/http"
	"net/url"
	"strconv"
	"strings"
	"time"

	"github.com/kadenwood/kadenverify/internal/models"
	"github.com/kadenwood/kadenverify/internal/pkg/httpretry"
	"github.com/kadenwood/kadenverify/internal/pkg/logger"
)

const (
	restDefaultTable = "verified_emails"

	// Top-domain tallies are computed client-side from a bounded sample.
	restStatsSample = 10000
)

// Rest talks to a PostgREST-compatible endpoint (Supabase and friends). The
// service key is sent as both the apikey header and a bearer token; it must
// never leak into logs or error text.
type Rest struct {
	base  string
	key   string
	table string
	http  httpretry.HTTPDoer
}

func OpenRest(ctx context.Context, baseURL, key, table string, timeout time.Duration) (*Rest, error) {
	if baseURL == "" || key == "" {
		return nil, errors.New("store: rest backend needs a base URL and a key")
	}
	if table == "" {
		table = restDefaultTable
	}
	if timeout <= 0 {
		timeout = 30 * time.Second
	}

	s := &Rest{
		base:  strings.TrimRight(baseURL, "/") + "/rest/v1",
		key:   key,
		table: table,
		http:  httpretry.New(&http.Client{Timeout: timeout}, 3),
	}

	// A zero-width count doubles as the connectivity check.
	if _, err := s.Count(ctx, Filter{}); err != nil {
		return nil, err
	}

	logger.Info("rest store ready", "table", table)
	return s, nil
}

func (s *Rest) request(ctx context.Context, method string, query url.Values, extra map[string]string, body []byte) (*http.Response, error) {
	u := s.base + "/" + s.table
	if len(query) > 0 {
		u += "?" + query.Encode()
	}

	var rdr io.Reader
	if body != nil {
		rdr = bytes.NewReader(body)
	}
	req, err := http.NewRequestWithContext(ctx, method, u, rdr)
	if err != nil {
		return nil, fmt.Errorf("store: rest request: %w", err)
	}

	req.Header.Set("apikey", s.key)
	req.Header.Set("Authorization", "Bearer "+s.key)
	req.Header.Set("Content-Type", "application/json")
	for k, v := range extra {
		req.Header.Set(k, v)
	}
	return s.http.Do(req)
}

// restError summarizes a failed response without echoing the request, whose
// headers and query carry credentials and addresses.
func restError(op string, resp *http.Response) error {
	snippet, _ := io.ReadAll(io.LimitReader(resp.Body, 512))
	return fmt.Errorf("store: rest %s: status %d: %s", op, resp.StatusCode, strings.TrimSpace(string(snippet)))
}

// restRow mirrors one verified_emails row as PostgREST serializes it.
// verified_at stays a string so naive timestamps survive until ParseTime.
type restRow struct {
	Email         string `json:"email"`
	Normalized    string `json:"normalized"`
	Reachability  string `json:"reachability"`
	IsDeliverable *bool  `json:"is_deliverable"`
	IsCatchAll    *bool  `json:"is_catch_all"`
	IsDisposable  bool   `json:"is_disposable"`
	IsRole        bool   `json:"is_role"`
	IsFree        bool   `json:"is_free"`
	MxHost        string `json:"mx_host"`
	SmtpCode      int    `json:"smtp_code"`
	SmtpMessage   string `json:"smtp_message"`
	Provider      string `json:"provider"`
	Domain        string `json:"domain"`
	VerifiedAt    string `json:"verified_at"`
	Error         string `json:"error"`
}

func (row restRow) toResult() *models.VerificationResult {
	return &models.VerificationResult{
		Email:         row.Email,
		Normalized:    row.Normalized,
		Reachability:  models.Reachability(row.Reachability),
		IsDeliverable: row.IsDeliverable,
		IsCatchAll:    row.IsCatchAll,
		IsDisposable:  row.IsDisposable,
		IsRole:        row.IsRole,
		IsFree:        row.IsFree,
		MxHost:        row.MxHost,
		SmtpCode:      row.SmtpCode,
		SmtpMessage:   row.SmtpMessage,
		Provider:      models.Provider(row.Provider),
		Domain:        row.Domain,
		VerifiedAt:    ParseTime(row.VerifiedAt),
		Error:         row.Error,
	}
}

func restPayload(r *models.VerificationResult) map[string]interface{} {
	return map[string]interface{}{
		"email":          normalizeEmailKey(r.Email),
		"normalized":     r.Normalized,
		"reachability":   string(r.Reachability),
		"is_deliverable": r.IsDeliverable,
		"is_catch_all":   r.IsCatchAll,
		"is_disposable":  r.IsDisposable,
		"is_role":        r.IsRole,
		"is_free":        r.IsFree,
		"mx_host":        r.MxHost,
		"smtp_code":      r.SmtpCode,
		"smtp_message":   r.SmtpMessage,
		"provider":       string(r.Provider),
		"domain":         r.Domain,
		"verified_at":    FormatTime(r.VerifiedAt),
		"error":          r.Error,
	}
}

func (s *Rest) Lookup(ctx context.Context, email string) (*models.VerificationResult, error) {
	q := url.Values{}
	q.Set("select", "*")
	q.Set("email", "eq."+normalizeEmailKey(email))
	q.Set("limit", "1")

	resp, err := s.request(ctx, http.MethodGet, q, nil, nil)
	if err != nil {
		return nil, fmt.Errorf("store: rest lookup: %w", err)
	}
	defer resp.Body.Close()
	if resp.StatusCode < 200 || resp.StatusCode >= 300 {
		return nil, restError("lookup", resp)
	}

	var rows []restRow
	if err := json.NewDecoder(resp.Body).Decode(&rows); err != nil {
		return nil, fmt.Errorf("store: rest lookup decode: %w", err)
	}
	if len(rows) == 0 {
		return nil, ErrNotFound
	}
	return rows[0].toResult(), nil
}

func (s *Rest) upsertRows(ctx context.Context, rows []map[string]interface{}) error {
	body, err := json.Marshal(rows)
	if err != nil {
		return fmt.Errorf("store: rest upsert marshal: %w", err)
	}

	q := url.Values{}
	q.Set("on_conflict", "email")
	resp, err := s.request(ctx, http.MethodPost, q, map[string]string{
		"Prefer": "resolution=merge-duplicates,return=minimal",
	}, body)
	if err != nil {
		return fmt.Errorf("store: rest upsert: %w", err)
	}
	defer resp.Body.Close()
	if resp.StatusCode < 200 || resp.StatusCode >= 300 {
		return restError("upsert", resp)
	}
	io.Copy(io.Discard, resp.Body)
	return nil
}

func (s *Rest) Upsert(ctx context.Context, result *models.VerificationResult) error {
	return s.upsertRows(ctx, []map[string]interface{}{restPayload(result)})
}

func (s *Rest) UpsertBatch(ctx context.Context, results []*models.VerificationResult, chunk int) (int, error) {
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
		rows := make([]map[string]interface{}, 0, end-start)
		for _, r := range results[start:end] {
			rows = append(rows, restPayload(r))
		}
		if err := s.upsertRows(ctx, rows); err != nil {
			return written, err
		}
		written += end - start
	}
	return written, nil
}

func restFilterParams(f Filter, q url.Values) {
	if f.Reachability != "" {
		q.Set("reachability", "eq."+f.Reachability)
	}
	if f.Domain != "" {
		q.Set("domain", "eq."+strings.ToLower(f.Domain))
	}
	if f.IsCatchAll != nil {
		q.Set("is_catch_all", "is."+strconv.FormatBool(*f.IsCatchAll))
	}
	if f.IsDisposable != nil {
		q.Set("is_disposable", "is."+strconv.FormatBool(*f.IsDisposable))
	}
}

// Count asks for an exact count over a zero-width range; the total rides in
// the Content-Range header ("0-0/1234").
func (s *Rest) Count(ctx context.Context, f Filter) (int64, error) {
	q := url.Values{}
	q.Set("select", "email")
	restFilterParams(f, q)

	resp, err := s.request(ctx, http.MethodGet, q, map[string]string{
		"Prefer": "count=exact",
		"Range":  "0-0",
	}, nil)
	if err != nil {
		return 0, fmt.Errorf("store: rest count: %w", err)
	}
	defer resp.Body.Close()
	if resp.StatusCode < 200 || resp.StatusCode >= 300 {
		return 0, restError("count", resp)
	}
	io.Copy(io.Discard, resp.Body)

	return parseContentRange(resp.Header.Get("Content-Range"))
}

func parseContentRange(header string) (int64, error) {
	idx := strings.LastIndex(header, "/")
	if idx < 0 || idx == len(header)-1 {
		return 0, fmt.Errorf("store: rest count: malformed Content-Range %q", header)
	}
	total := header[idx+1:]
	if total == "*" {
		return 0, errors.New("store: rest count: server did not return an exact count")
	}
	n, err := strconv.ParseInt(total, 10, 64)
	if err != nil {
		return 0, fmt.Errorf("store: rest count: malformed Content-Range %q", header)
	}
	return n, nil
}

func (s *Rest) Query(ctx context.Context, spec QuerySpec) ([]Row, error) {
	cols, err := validSelect(spec.Select)
	if err != nil {
		return nil, err
	}
	orderCol, err := validOrder(spec.OrderBy)
	if err != nil {
		return nil, err
	}

	q := url.Values{}
	q.Set("select", strings.Join(cols, ","))
	restFilterParams(spec.Filter, q)
	dir := "asc"
	if spec.Desc {
		dir = "desc"
	}
	q.Set("order", orderCol+"."+dir)
	if spec.Limit > 0 {
		q.Set("limit", strconv.Itoa(spec.Limit))
	}
	if spec.Offset > 0 {
		q.Set("offset", strconv.Itoa(spec.Offset))
	}

	resp, err := s.request(ctx, http.MethodGet, q, nil, nil)
	if err != nil {
		return nil, fmt.Errorf("store: rest query: %w", err)
	}
	defer resp.Body.Close()
	if resp.StatusCode < 200 || resp.StatusCode >= 300 {
		return nil, restError("query", resp)
	}

	var raw []map[string]interface{}
	if err := json.NewDecoder(resp.Body).Decode(&raw); err != nil {
		return nil, fmt.Errorf("store: rest query decode: %w", err)
	}

	out := make([]Row, 0, len(raw))
	for _, m := range raw {
		row := make(Row, len(cols))
		for _, c := range cols {
			v := m[c]
			if c == "verified_at" {
				if str, ok := v.(string); ok {
					if t := ParseTime(str); !t.IsZero() {
						v = t
					}
				}
			}
			row[c] = v
		}
		out = append(out, row)
	}
	return out, nil
}

func (s *Rest) Stats(ctx context.Context) (*Stats, error) {
	stats := &Stats{ByReachability: map[string]int64{}}

	total, err := s.Count(ctx, Filter{})
	if err != nil {
		return nil, err
	}
	stats.Total = total

	for _, reach := range []string{"safe", "risky", "invalid", "unknown"} {
		n, err := s.Count(ctx, Filter{Reachability: reach})
		if err != nil {
			return nil, err
		}
		if n > 0 {
			stats.ByReachability[reach] = n
		}
	}

	t := true
	if stats.CatchAllCount, err = s.Count(ctx, Filter{IsCatchAll: &t}); err != nil {
		return nil, err
	}
	if stats.DisposableCount, err = s.Count(ctx, Filter{IsDisposable: &t}); err != nil {
		return nil, err
	}

	// PostgREST has no GROUP BY; sample the domain column and tally here.
	q := url.Values{}
	q.Set("select", "domain")
	q.Set("limit", strconv.Itoa(restStatsSample))
	resp, err := s.request(ctx, http.MethodGet, q, nil, nil)
	if err != nil {
		return nil, fmt.Errorf("store: rest stats: %w", err)
	}
	defer resp.Body.Close()
	if resp.StatusCode < 200 || resp.StatusCode >= 300 {
		return nil, restError("stats", resp)
	}

	var rows []struct {
		Domain string `json:"domain"`
	}
	if err := json.NewDecoder(resp.Body).Decode(&rows); err != nil {
		return nil, fmt.Errorf("store: rest stats decode: %w", err)
	}
	domains := map[string]int64{}
	for _, row := range rows {
		if row.Domain != "" {
			domains[row.Domain]++
		}
	}
	stats.TopDomains = topDomains(domains, 20)
	return stats, nil
}

func (s *Rest) Ping(ctx context.Context) error {
	_, err := s.Count(ctx, Filter{})
	return err
}

func (s *Rest) Close() error {
	return nil
}
