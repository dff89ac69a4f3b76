package enrich

import (
	"context"
	"database/sql"
	"errors"
	"fmt"
	"strings"

	_ "modernc.org/sqlite"

	"github.com/kadenwood/kadenverify/internal/models"
)

const personSchemaSQL = `
CREATE TABLE IF NOT EXISTS persons (
	email TEXT PRIMARY KEY,
	name TEXT,
	first_name TEXT,
	last_name TEXT,
	title TEXT,
	organization_name TEXT,
	organization_domain TEXT,
	linkedin_url TEXT
);
CREATE INDEX IF NOT EXISTS idx_persons_domain ON persons(organization_domain);
`

// Person is one row in the local people directory.
type Person struct {
	Email       string
	Name        string
	FirstName   string
	LastName    string
	Title       string
	Company     string
	Domain      string
	LinkedinURL string
}

// PersonStore is a local SQLite people directory, typically loaded from an
// exported contact dump. It is the zero-cost head of the enrichment chain
// and the directory behind catch-all scoring.
type PersonStore struct {
	db *sql.DB
}

// OpenPersonStore opens (or creates) the directory file.
func OpenPersonStore(path string) (*PersonStore, error) {
	if path == "" {
		return nil, errors.New("enrich: person store path is empty")
	}
	db, err := sql.Open("sqlite", path)
	if err != nil {
		return nil, fmt.Errorf("enrich: opening %s: %w", path, err)
	}
	db.SetMaxOpenConns(1)
	if _, err := db.Exec(personSchemaSQL); err != nil {
		db.Close()
		return nil, fmt.Errorf("enrich: creating persons schema: %w", err)
	}
	return &PersonStore{db: db}, nil
}

// Close releases the underlying database handle.
func (s *PersonStore) Close() error { return s.db.Close() }

// Add inserts or replaces one directory row.
func (s *PersonStore) Add(ctx context.Context, p Person) error {
	_, err := s.db.ExecContext(ctx, `
		INSERT OR REPLACE INTO persons (
			email, name, first_name, last_name, title,
			organization_name, organization_domain, linkedin_url
		) VALUES (?, ?, ?, ?, ?, ?, ?, ?)`,
		strings.ToLower(strings.TrimSpace(p.Email)), p.Name, p.FirstName, p.LastName,
		p.Title, p.Company, strings.ToLower(strings.TrimSpace(p.Domain)), p.LinkedinURL,
	)
	if err != nil {
		return fmt.Errorf("enrich: inserting person: %w", err)
	}
	return nil
}

// Count reports how many people the directory holds.
func (s *PersonStore) Count(ctx context.Context) (int, error) {
	var n int
	if err := s.db.QueryRowContext(ctx, "SELECT COUNT(*) FROM persons").Scan(&n); err != nil {
		return 0, fmt.Errorf("enrich: counting persons: %w", err)
	}
	return n, nil
}

// FindByName looks for a person at a domain by name. A nil person with a
// nil error is a miss.
func (s *PersonStore) FindByName(ctx context.Context, first, last, domain string) (*Person, error) {
	first = strings.ToLower(strings.TrimSpace(first))
	last = strings.ToLower(strings.TrimSpace(last))
	domain = strings.ToLower(strings.TrimSpace(domain))

	row := s.db.QueryRowContext(ctx, `
		SELECT email, name, first_name, last_name, title,
		       organization_name, organization_domain, linkedin_url
		FROM persons
		WHERE organization_domain = ?
		  AND (LOWER(name) LIKE ? OR (LOWER(first_name) = ? AND LOWER(last_name) = ?))
		LIMIT 1`,
		domain, "%"+first+"%"+last+"%", first, last,
	)
	return scanPerson(row)
}

// LookupByEmail fetches the directory row for an exact address. A nil
// person with a nil error is a miss.
func (s *PersonStore) LookupByEmail(ctx context.Context, email string) (*Person, error) {
	row := s.db.QueryRowContext(ctx, `
		SELECT email, name, first_name, last_name, title,
		       organization_name, organization_domain, linkedin_url
		FROM persons
		WHERE email = ?
		LIMIT 1`,
		strings.ToLower(strings.TrimSpace(email)),
	)
	return scanPerson(row)
}

func scanPerson(row *sql.Row) (*Person, error) {
	var p Person
	err := row.Scan(&p.Email, &p.Name, &p.FirstName, &p.LastName,
		&p.Title, &p.Company, &p.Domain, &p.LinkedinURL)
	if errors.Is(err, sql.ErrNoRows) {
		return nil, nil
	}
	if err != nil {
		return nil, fmt.Errorf("enrich: scanning person: %w", err)
	}
	return &p, nil
}

// Adapter exposes the directory as the free head of the enrichment chain.
func (s *PersonStore) Adapter() Adapter {
	return &personAdapter{store: s}
}

type personAdapter struct {
	store *PersonStore
}

func (a *personAdapter) Name() string  { return "apollo_local_db" }
func (a *personAdapter) Cost() float64 { return 0 }

func (a *personAdapter) Find(ctx context.Context, first, last, domain string) (*models.CandidateResult, error) {
	p, err := a.store.FindByName(ctx, first, last, domain)
	if err != nil || p == nil {
		return nil, err
	}
	return &models.CandidateResult{
		Email:      p.Email,
		Pattern:    "apollo_local",
		Confidence: 0.90,
		Source:     "apollo_local",
	}, nil
}
