package store

import (
	"context"
	"encoding/json"
	"fmt"
	"io"
	"net/http"
	"net/http/httptest"
	"net/url"
	"sync"
	"testing"
	"time"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"github.com/kadenwood/kadenverify/internal/models"
)

type restCall struct {
	method string
	path   string
	query  url.Values
	header http.Header
	body   []byte
}

// restHarness records every request and lets each test script the responses
// that come after the connectivity check issued by OpenRest.
type restHarness struct {
	mu    sync.Mutex
	calls []restCall
	serve func(w http.ResponseWriter, call restCall)
}

func (h *restHarness) handler(w http.ResponseWriter, r *http.Request) {
	body, _ := io.ReadAll(r.Body)
	call := restCall{
		method: r.Method,
		path:   r.URL.Path,
		query:  r.URL.Query(),
		header: r.Header.Clone(),
		body:   body,
	}
	h.mu.Lock()
	h.calls = append(h.calls, call)
	h.mu.Unlock()

	// The probe count from OpenRest.
	if r.Method == http.MethodGet && r.Header.Get("Range") == "0-0" && len(h.callsSoFar()) == 1 {
		w.Header().Set("Content-Range", "0-0/0")
		w.Write([]byte("[]"))
		return
	}
	h.serve(w, call)
}

func (h *restHarness) callsSoFar() []restCall {
	h.mu.Lock()
	defer h.mu.Unlock()
	out := make([]restCall, len(h.calls))
	copy(out, h.calls)
	return out
}

func newTestRest(t *testing.T, serve func(w http.ResponseWriter, call restCall)) (*Rest, *restHarness) {
	t.Helper()
	h := &restHarness{serve: serve}
	srv := httptest.NewServer(http.HandlerFunc(h.handler))
	t.Cleanup(srv.Close)

	s, err := OpenRest(context.Background(), srv.URL, "secret-key", "", 0)
	require.NoError(t, err)
	return s, h
}

func TestOpenRestProbesWithAuthHeaders(t *testing.T) {
	_, h := newTestRest(t, func(w http.ResponseWriter, call restCall) {
		w.Write([]byte("[]"))
	})

	calls := h.callsSoFar()
	require.Len(t, calls, 1)
	probe := calls[0]

	assert.Equal(t, "/rest/v1/verified_emails", probe.path)
	assert.Equal(t, "secret-key", probe.header.Get("apikey"))
	assert.Equal(t, "Bearer secret-key", probe.header.Get("Authorization"))
	assert.Equal(t, "application/json", probe.header.Get("Content-Type"))
	assert.Equal(t, "count=exact", probe.header.Get("Prefer"))
	assert.Equal(t, "0-0", probe.header.Get("Range"))
	assert.Equal(t, "email", probe.query.Get("select"))
}

func TestRestLookup(t *testing.T) {
	s, h := newTestRest(t, func(w http.ResponseWriter, call restCall) {
		w.Write([]byte(`[{
			"email": "alice@example.com",
			"normalized": "alice@example.com",
			"reachability": "safe",
			"is_deliverable": true,
			"is_catch_all": null,
			"is_disposable": false,
			"is_role": false,
			"is_free": true,
			"mx_host": "mx1.example.com",
			"smtp_code": 250,
			"smtp_message": "250 ok",
			"provider": "generic",
			"domain": "example.com",
			"verified_at": "2026-08-25T10:30:00",
			"error": ""
		}]`))
	})

	out, err := s.Lookup(context.Background(), "Alice@Example.com")
	require.NoError(t, err)

	calls := h.callsSoFar()
	lookup := calls[len(calls)-1]
	assert.Equal(t, "*", lookup.query.Get("select"))
	assert.Equal(t, "eq.alice@example.com", lookup.query.Get("email"))
	assert.Equal(t, "1", lookup.query.Get("limit"))

	assert.Equal(t, models.ReachabilitySafe, out.Reachability)
	require.NotNil(t, out.IsDeliverable)
	assert.True(t, *out.IsDeliverable)
	assert.Nil(t, out.IsCatchAll)
	// Naive timestamp from the service is pinned to UTC.
	assert.Equal(t, time.Date(2026, 8, 25, 10, 30, 0, 0, time.UTC), out.VerifiedAt)
}

func TestRestLookupMissing(t *testing.T) {
	s, _ := newTestRest(t, func(w http.ResponseWriter, call restCall) {
		w.Write([]byte("[]"))
	})

	_, err := s.Lookup(context.Background(), "ghost@example.com")
	assert.ErrorIs(t, err, ErrNotFound)
}

func TestRestUpsert(t *testing.T) {
	s, h := newTestRest(t, func(w http.ResponseWriter, call restCall) {
		w.WriteHeader(http.StatusCreated)
	})

	in := sampleResult("Bob@Example.com", models.ReachabilityRisky)
	require.NoError(t, s.Upsert(context.Background(), in))

	calls := h.callsSoFar()
	post := calls[len(calls)-1]
	assert.Equal(t, http.MethodPost, post.method)
	assert.Equal(t, "email", post.query.Get("on_conflict"))
	assert.Equal(t, "resolution=merge-duplicates,return=minimal", post.header.Get("Prefer"))

	var rows []map[string]interface{}
	require.NoError(t, json.Unmarshal(post.body, &rows))
	require.Len(t, rows, 1)
	row := rows[0]

	assert.Equal(t, "bob@example.com", row["email"])
	assert.Equal(t, "risky", row["reachability"])
	assert.Equal(t, "2026-08-25T10:30:00Z", row["verified_at"])
	for _, col := range Columns {
		_, ok := row[col]
		assert.True(t, ok, "payload missing column %s", col)
	}
}

func TestRestUpsertBatchChunks(t *testing.T) {
	s, h := newTestRest(t, func(w http.ResponseWriter, call restCall) {
		w.WriteHeader(http.StatusCreated)
	})

	var results []*models.VerificationResult
	for i := 0; i < 5; i++ {
		results = append(results, sampleResult(fmt.Sprintf("user%d@example.com", i), models.ReachabilitySafe))
	}

	written, err := s.UpsertBatch(context.Background(), results, 2)
	require.NoError(t, err)
	assert.Equal(t, 5, written)

	var sizes []int
	for _, call := range h.callsSoFar() {
		if call.method != http.MethodPost {
			continue
		}
		var rows []json.RawMessage
		require.NoError(t, json.Unmarshal(call.body, &rows))
		sizes = append(sizes, len(rows))
	}
	assert.Equal(t, []int{2, 2, 1}, sizes)
}

func TestRestCountParsesContentRange(t *testing.T) {
	s, h := newTestRest(t, func(w http.ResponseWriter, call restCall) {
		w.Header().Set("Content-Range", "0-0/1234")
		w.Write([]byte("[]"))
	})

	n, err := s.Count(context.Background(), Filter{Reachability: "safe", IsCatchAll: models.Bool(true)})
	require.NoError(t, err)
	assert.Equal(t, int64(1234), n)

	calls := h.callsSoFar()
	count := calls[len(calls)-1]
	assert.Equal(t, "eq.safe", count.query.Get("reachability"))
	assert.Equal(t, "is.true", count.query.Get("is_catch_all"))
	assert.Equal(t, "count=exact", count.header.Get("Prefer"))
	assert.Equal(t, "0-0", count.header.Get("Range"))
}

func TestParseContentRange(t *testing.T) {
	tests := []struct {
		header  string
		want    int64
		wantErr bool
	}{
		{"0-0/1234", 1234, false},
		{"0-24/25", 25, false},
		{"*/0", 0, false},
		{"0-0/*", 0, true},
		{"garbage", 0, true},
		{"", 0, true},
	}
	for _, tt := range tests {
		n, err := parseContentRange(tt.header)
		if tt.wantErr {
			assert.Error(t, err, "header %q", tt.header)
			continue
		}
		require.NoError(t, err, "header %q", tt.header)
		assert.Equal(t, tt.want, n)
	}
}

func TestRestQuery(t *testing.T) {
	s, h := newTestRest(t, func(w http.ResponseWriter, call restCall) {
		w.Write([]byte(`[
			{"email": "a@one.com", "verified_at": "2026-08-20T00:00:00"},
			{"email": "b@one.com", "verified_at": "2026-08-21T00:00:00"}
		]`))
	})

	rows, err := s.Query(context.Background(), QuerySpec{
		Select:  []string{"email", "verified_at"},
		Filter:  Filter{Domain: "one.com"},
		OrderBy: "verified_at",
		Desc:    true,
		Limit:   10,
		Offset:  5,
	})
	require.NoError(t, err)
	require.Len(t, rows, 2)

	calls := h.callsSoFar()
	q := calls[len(calls)-1].query
	assert.Equal(t, "email,verified_at", q.Get("select"))
	assert.Equal(t, "eq.one.com", q.Get("domain"))
	assert.Equal(t, "verified_at.desc", q.Get("order"))
	assert.Equal(t, "10", q.Get("limit"))
	assert.Equal(t, "5", q.Get("offset"))

	assert.Equal(t, "a@one.com", rows[0]["email"])
	assert.Equal(t, time.Date(2026, 8, 20, 0, 0, 0, 0, time.UTC), rows[0]["verified_at"])
}

func TestRestErrorOmitsCredentials(t *testing.T) {
	s, _ := newTestRest(t, func(w http.ResponseWriter, call restCall) {
		w.WriteHeader(http.StatusUnauthorized)
		w.Write([]byte(`{"message":"JWT expired"}`))
	})

	_, err := s.Lookup(context.Background(), "alice@example.com")
	require.Error(t, err)
	assert.Contains(t, err.Error(), "401")
	assert.Contains(t, err.Error(), "JWT expired")
	assert.NotContains(t, err.Error(), "secret-key")
}

func TestOpenRestRequiresConfig(t *testing.T) {
	_, err := OpenRest(context.Background(), "", "key", "", 0)
	assert.Error(t, err)
	_, err = OpenRest(context.Background(), "http://localhost:9", "", "", 0)
	assert.Error(t, err)
}
