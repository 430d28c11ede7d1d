package profile

import (
	"context"
	"database/sql"
	"errors"
	"fmt"
	"sync"

	_ "github.com/lib/pq"

	id "idledger/pkg/domain"
	"idledger/pkg/platform/sentinel"
)

const profileSchema = `
CREATE TABLE IF NOT EXISTS subject_profiles (
	principal     TEXT PRIMARY KEY,
	display_name  TEXT NOT NULL DEFAULT '',
	organization  TEXT NOT NULL DEFAULT '',
	updated_at    TIMESTAMPTZ NOT NULL
)`

// PostgresStore keeps profiles in their own table through database/sql.
// It may share a database with the postgres ledger but never its tables.
// The table is created on first use if Migrate has not succeeded yet.
type PostgresStore struct {
	db *sql.DB

	schemaMu    sync.Mutex
	schemaReady bool
}

// OpenPostgres connects with lib/pq and creates the profile table.
func OpenPostgres(ctx context.Context, dsn string) (*PostgresStore, error) {
	store, err := NewPostgres(dsn)
	if err != nil {
		return nil, err
	}
	if err := store.Migrate(ctx); err != nil {
		_ = store.Close()
		return nil, err
	}
	return store, nil
}

// NewPostgres prepares a store without contacting the database.
func NewPostgres(dsn string) (*PostgresStore, error) {
	db, err := sql.Open("postgres", dsn)
	if err != nil {
		return nil, fmt.Errorf("open profile database: %w", err)
	}
	return NewPostgresStore(db), nil
}

func NewPostgresStore(db *sql.DB) *PostgresStore {
	return &PostgresStore{db: db}
}

func (s *PostgresStore) Migrate(ctx context.Context) error {
	s.schemaMu.Lock()
	defer s.schemaMu.Unlock()
	if s.schemaReady {
		return nil
	}
	if _, err := s.db.ExecContext(ctx, profileSchema); err != nil {
		return fmt.Errorf("migrate profile schema: %w", errors.Join(sentinel.ErrUnavailable, err))
	}
	s.schemaReady = true
	return nil
}

func (s *PostgresStore) Put(ctx context.Context, p Profile) error {
	if err := s.Migrate(ctx); err != nil {
		return err
	}
	_, err := s.db.ExecContext(ctx, `
		INSERT INTO subject_profiles (principal, display_name, organization, updated_at)
		VALUES ($1, $2, $3, $4)
		ON CONFLICT (principal) DO UPDATE
		SET display_name = EXCLUDED.display_name,
			organization = EXCLUDED.organization,
			updated_at = EXCLUDED.updated_at`,
		p.Principal.String(), p.DisplayName, p.Organization, p.UpdatedAt,
	)
	if err != nil {
		return fmt.Errorf("put profile: %w", errors.Join(sentinel.ErrUnavailable, err))
	}
	return nil
}

func (s *PostgresStore) Get(ctx context.Context, principal id.Principal) (Profile, error) {
	if err := s.Migrate(ctx); err != nil {
		return Profile{}, err
	}
	var p Profile
	var raw string
	err := s.db.QueryRowContext(ctx, `
		SELECT principal, display_name, organization, updated_at
		FROM subject_profiles WHERE principal = $1`, principal.String(),
	).Scan(&raw, &p.DisplayName, &p.Organization, &p.UpdatedAt)
	if errors.Is(err, sql.ErrNoRows) {
		return Profile{}, sentinel.ErrNotFound
	}
	if err != nil {
		return Profile{}, fmt.Errorf("get profile: %w", errors.Join(sentinel.ErrUnavailable, err))
	}
	p.Principal = id.Principal(raw)
	p.UpdatedAt = p.UpdatedAt.UTC()
	return p, nil
}

func (s *PostgresStore) Ping(ctx context.Context) error {
	return s.db.PingContext(ctx)
}

func (s *PostgresStore) Close() error {
	return s.db.Close()
}
