package store

import (
	"context"
	"errors"
	"regexp"
	"testing"

	"github.com/DATA-DOG/go-sqlmock"
	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"github.com/kadenwood/kadenverify/internal/models"
)

// Driver-level faults are hard to provoke on a real sqlite file; sqlmock
// stands in for the database here.

func mockEmbedded(t *testing.T) (*Embedded, sqlmock.Sqlmock) {
	t.Helper()
	db, mock, err := sqlmock.New()
	require.NoError(t, err)
	t.Cleanup(func() { db.Close() })
	return &Embedded{db: db, path: "mock"}, mock
}

func TestLookupScansNullColumns(t *testing.T) {
	s, mock := mockEmbedded(t)

	rows := sqlmock.NewRows(Columns).AddRow(
		"alice@example.com", "alice@example.com", "risky",
		nil, int64(1), int64(0), int64(0), int64(1),
		"mx1.example.com", int64(451), "451 greylisted",
		"generic", "example.com", "2026-08-25T10:30:00", "",
	)
	mock.ExpectQuery(regexp.QuoteMeta("FROM verified_emails WHERE email =")).
		WithArgs("alice@example.com").
		WillReturnRows(rows)

	out, err := s.Lookup(context.Background(), "alice@example.com")
	require.NoError(t, err)

	assert.Nil(t, out.IsDeliverable)
	require.NotNil(t, out.IsCatchAll)
	assert.True(t, *out.IsCatchAll)
	assert.True(t, out.IsFree)
	assert.Equal(t, 451, out.SmtpCode)
	assert.False(t, out.VerifiedAt.IsZero())
	assert.NoError(t, mock.ExpectationsWereMet())
}

func TestLookupPropagatesDriverError(t *testing.T) {
	s, mock := mockEmbedded(t)

	mock.ExpectQuery(regexp.QuoteMeta("FROM verified_emails WHERE email =")).
		WillReturnError(errors.New("disk I/O error"))

	_, err := s.Lookup(context.Background(), "alice@example.com")
	require.Error(t, err)
	assert.NotErrorIs(t, err, ErrNotFound)
	assert.Contains(t, err.Error(), "disk I/O error")
}

func TestUpsertBatchRollsBackOnFailure(t *testing.T) {
	s, mock := mockEmbedded(t)

	upsertRe := regexp.QuoteMeta("INSERT OR REPLACE INTO verified_emails")
	mock.ExpectBegin()
	mock.ExpectExec(upsertRe).WillReturnResult(sqlmock.NewResult(0, 1))
	mock.ExpectExec(upsertRe).WillReturnError(errors.New("database is locked"))
	mock.ExpectRollback()

	results := []*models.VerificationResult{
		sampleResult("a@example.com", models.ReachabilitySafe),
		sampleResult("b@example.com", models.ReachabilitySafe),
	}
	written, err := s.UpsertBatch(context.Background(), results, 10)

	require.Error(t, err)
	assert.Zero(t, written, "a failed chunk must not count as written")
	assert.NoError(t, mock.ExpectationsWereMet())
}

func TestStatsStopsOnFirstError(t *testing.T) {
	s, mock := mockEmbedded(t)

	mock.ExpectQuery(regexp.QuoteMeta("SELECT COUNT(*) FROM verified_emails;")).
		WillReturnError(errors.New("malformed database schema"))

	_, err := s.Stats(context.Background())
	require.Error(t, err)
	assert.Contains(t, err.Error(), "stats total")
}
