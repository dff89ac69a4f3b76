package store

import (
	"context"
	"path/filepath"
	"testing"
	"time"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"github.com/kadenwood/kadenverify/internal/models"
)

func TestPgWhere(t *testing.T) {
	tests := []struct {
		name       string
		filter     Filter
		wantClause string
		wantArgs   []interface{}
	}{
		{"empty", Filter{}, "", nil},
		{
			"reachability",
			Filter{Reachability: "safe"},
			" WHERE reachability = $1",
			[]interface{}{"safe"},
		},
		{
			"domain lowered",
			Filter{Domain: "Example.COM"},
			" WHERE domain = $1",
			[]interface{}{"example.com"},
		},
		{
			"all four placeholders numbered in order",
			Filter{Reachability: "risky", Domain: "x.io", IsCatchAll: models.Bool(true), IsDisposable: models.Bool(false)},
			" WHERE reachability = $1 AND domain = $2 AND is_catch_all = $3 AND is_disposable = $4",
			[]interface{}{"risky", "x.io", true, false},
		},
	}
	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			clause, args := pgWhere(tt.filter)
			assert.Equal(t, tt.wantClause, clause)
			assert.Equal(t, tt.wantArgs, args)
		})
	}
}

func TestPgArgsMatchColumnOrder(t *testing.T) {
	r := sampleResult("Alice@Example.com", models.ReachabilitySafe)
	r.VerifiedAt = time.Date(2026, 8, 25, 12, 0, 0, 0, time.FixedZone("CEST", 2*3600))

	args := pgArgs(r)
	require.Len(t, args, len(Columns))

	assert.Equal(t, "alice@example.com", args[0], "email key is normalized")
	assert.Equal(t, "safe", args[2])
	verifiedAt, ok := args[13].(time.Time)
	require.True(t, ok)
	assert.Equal(t, time.UTC, verifiedAt.Location())
	assert.Equal(t, 10, verifiedAt.Hour())
}

func TestOpenDispatch(t *testing.T) {
	ctx := context.Background()

	s, err := Open(ctx, Options{Backend: "embedded", EmbeddedPath: filepath.Join(t.TempDir(), "v.db")})
	require.NoError(t, err)
	s.Close()

	// Blank backend means embedded.
	s, err = Open(ctx, Options{EmbeddedPath: filepath.Join(t.TempDir(), "v.db")})
	require.NoError(t, err)
	s.Close()

	_, err = Open(ctx, Options{Backend: "duckdb"})
	assert.Error(t, err)

	_, err = Open(ctx, Options{Backend: "postgres"})
	assert.Error(t, err, "postgres without a connection string must fail")
}

func TestValidSelectAndOrder(t *testing.T) {
	cols, err := validSelect(nil)
	require.NoError(t, err)
	assert.Equal(t, Columns, cols, "empty select means all columns")

	cols, err = validSelect([]string{" Email ", "REACHABILITY"})
	require.NoError(t, err)
	assert.Equal(t, []string{"email", "reachability"}, cols)

	_, err = validSelect([]string{"email", "secret"})
	assert.Error(t, err)

	col, err := validOrder("")
	require.NoError(t, err)
	assert.Equal(t, "verified_at", col)

	_, err = validOrder("email; DROP TABLE verified_emails")
	assert.Error(t, err)
}
